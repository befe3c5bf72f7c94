package stack

import (
	"context"
	"log/slog"

	"gvisor.dev/gvisor/pkg/tcpip"
	"gvisor.dev/gvisor/pkg/tcpip/header"

	"firestige.xyz/netcore/internal/core"
	"firestige.xyz/netcore/internal/pktbuf"
)

// ProcessOne handles the oldest received frame. It returns false when the
// inbound queue was empty.
func (s *Stack) ProcessOne() bool {
	b, ok := s.pool.DequeueInbound()
	if !ok {
		return false
	}
	s.dispatchMu.Lock()
	defer s.dispatchMu.Unlock()
	if !s.dispatch(b) {
		s.release(b)
	}
	return true
}

// dispatch hands a frame to its protocol handler. It reports whether the
// handler kept the buffer.
func (s *Stack) dispatch(b *pktbuf.Buffer) bool {
	dev, ok := s.devices.Get(b.Device)
	if !ok {
		drop("link", "unknown_device")
		return false
	}
	if b.HeaderLen != header.EthernetMinimumSize {
		drop("link", "short")
		return false
	}

	if slog.Default().Enabled(context.Background(), slog.LevelDebug) {
		slog.Debug("frame", "device", dev.Name, "len", len(b.Bytes()), "summary", describe(b.Bytes()))
	}

	switch header.Ethernet(b.Link()).Type() {
	case tcpip.NetworkProtocolNumber(core.EtherTypeIPv4):
		return s.handleIP(dev, b)
	case tcpip.NetworkProtocolNumber(core.EtherTypeARP):
		return s.handleARP(dev, b)
	default:
		drop("link", "ethertype")
		return false
	}
}

// Run processes received frames until ctx is done.
func (s *Stack) Run(ctx context.Context) error {
	for {
		for s.ProcessOne() {
			if ctx.Err() != nil {
				return ctx.Err()
			}
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-s.notify:
		}
	}
}

// Poll processes frames until the inbound queue is empty and returns how
// many were handled.
func (s *Stack) Poll() int {
	n := 0
	for s.ProcessOne() {
		n++
	}
	return n
}
