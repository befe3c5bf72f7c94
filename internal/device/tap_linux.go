//go:build linux

package device

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"

	"golang.org/x/sys/unix"
	"gvisor.dev/gvisor/pkg/tcpip/header"

	"firestige.xyz/netcore/internal/pktbuf"
)

// TAP attaches a device to a Linux TAP interface. Frames are exchanged
// without packet information headers.
type TAP struct {
	name string
	file *os.File

	dev *Device
	nic NIC

	wmu  sync.Mutex
	done chan struct{}
}

// OpenTAP creates or attaches to the TAP interface called name.
func OpenTAP(name string) (*TAP, error) {
	fd, err := unix.Open("/dev/net/tun", unix.O_RDWR|unix.O_CLOEXEC, 0)
	if err != nil {
		return nil, fmt.Errorf("open /dev/net/tun: %w", err)
	}

	ifr, err := unix.NewIfreq(name)
	if err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("tap %s: %w", name, err)
	}
	ifr.SetUint16(unix.IFF_TAP | unix.IFF_NO_PI)
	if err := unix.IoctlIfreq(fd, unix.TUNSETIFF, ifr); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("TUNSETIFF %s: %w", name, err)
	}

	// Non-blocking so the runtime poller serves reads and Close can
	// interrupt a pending one.
	if err := unix.SetNonblock(fd, true); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("tap %s nonblock: %w", name, err)
	}

	return &TAP{
		name: ifr.Name(),
		file: os.NewFile(uintptr(fd), "/dev/net/tun"),
		done: make(chan struct{}),
	}, nil
}

// Name returns the kernel interface name.
func (t *TAP) Name() string { return t.name }

func (t *TAP) Start(dev *Device, nic NIC) error {
	t.dev, t.nic = dev, nic
	go t.readLoop()
	return nil
}

func (t *TAP) readLoop() {
	defer close(t.done)

	frame := make([]byte, pktbuf.FrameSize)
	for {
		n, err := t.file.Read(frame)
		if err != nil {
			if errors.Is(err, os.ErrClosed) {
				return
			}
			slog.Error("tap read failed", "device", t.dev.Name, "error", err)
			return
		}
		if n < header.EthernetMinimumSize {
			t.dev.Stats.Drops.Add(1)
			continue
		}

		b, err := t.nic.Allocate(t.dev.ID)
		if err != nil {
			t.dev.Stats.Drops.Add(1)
			continue
		}
		if err := b.SetFrame(frame[:n]); err != nil {
			_ = t.nic.Release(b)
			t.dev.Stats.Drops.Add(1)
			continue
		}
		t.dev.Stats.CountRx(n)
		if err := t.nic.Deliver(b); err != nil {
			slog.Debug("tap deliver failed", "device", t.dev.Name, "error", err)
		}
	}
}

func (t *TAP) Transmit() {
	t.wmu.Lock()
	defer t.wmu.Unlock()

	for {
		b, ok := t.nic.DequeueOutbound(t.dev.ID)
		if !ok {
			return
		}
		frame := b.Bytes()
		if _, err := t.file.Write(frame); err != nil {
			t.dev.Stats.Drops.Add(1)
			slog.Debug("tap write failed", "device", t.dev.Name, "error", err)
		} else {
			t.dev.Stats.CountTx(len(frame))
		}
		_ = t.nic.Release(b)
	}
}

func (t *TAP) Close() error {
	err := t.file.Close()
	if t.nic != nil {
		<-t.done
	}
	return err
}
