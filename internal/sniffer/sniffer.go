// Package sniffer records frames seen by the stack into a pcap stream.
package sniffer

import (
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"
)

// SnapLen is the capture length written into the file header.
const SnapLen = 2048

// Direction tells whether a frame was received or sent.
type Direction uint8

const (
	Inbound Direction = iota
	Outbound
)

// Writer serialises frames into a pcap stream. It is safe for concurrent
// use.
type Writer struct {
	mu     sync.Mutex
	w      *pcapgo.Writer
	closer io.Closer
	now    func() time.Time
	filter *Filter
	counts [2]uint64
	skip   uint64
}

// NewWriter writes a pcap file header to w and returns a Writer.
func NewWriter(w io.Writer) (*Writer, error) {
	pw := pcapgo.NewWriter(w)
	if err := pw.WriteFileHeader(SnapLen, layers.LinkTypeEthernet); err != nil {
		return nil, fmt.Errorf("write pcap header: %w", err)
	}
	wr := &Writer{w: pw, now: time.Now}
	if c, ok := w.(io.Closer); ok {
		wr.closer = c
	}
	return wr, nil
}

// Create opens path for writing and returns a Writer on it.
func Create(path string) (*Writer, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("create capture file: %w", err)
	}
	w, err := NewWriter(f)
	if err != nil {
		f.Close()
		return nil, err
	}
	return w, nil
}

// SetFilter restricts recording to frames matching f. A nil filter
// records everything.
func (w *Writer) SetFilter(f *Filter) {
	w.mu.Lock()
	w.filter = f
	w.mu.Unlock()
}

// Record appends one frame. Frames rejected by the filter are counted and
// skipped. Errors are returned but leave the stream usable.
func (w *Writer) Record(dir Direction, frame []byte) error {
	n := len(frame)
	ci := gopacket.CaptureInfo{
		Timestamp:     w.now(),
		CaptureLength: min(n, SnapLen),
		Length:        n,
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.filter != nil && !w.filter.Match(frame) {
		w.skip++
		return nil
	}
	if err := w.w.WritePacket(ci, frame[:ci.CaptureLength]); err != nil {
		return err
	}
	w.counts[dir]++
	return nil
}

// Count returns the number of frames written.
func (w *Writer) Count() uint64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.counts[Inbound] + w.counts[Outbound]
}

// Counts returns the frames written per direction.
func (w *Writer) Counts() (in, out uint64) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.counts[Inbound], w.counts[Outbound]
}

// Skipped returns the number of frames the filter rejected.
func (w *Writer) Skipped() uint64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.skip
}

// Close closes the underlying writer when it is closable.
func (w *Writer) Close() error {
	if w.closer == nil {
		return nil
	}
	return w.closer.Close()
}
