package device

import (
	"fmt"

	"firestige.xyz/netcore/internal/core"
	"firestige.xyz/netcore/internal/pktbuf"
)

// NIC is what the stack offers to a driver: buffers from the shared pool,
// the device's transmit queue and the inbound queue.
type NIC interface {
	Allocate(dev core.DeviceID) (*pktbuf.Buffer, error)
	Release(b *pktbuf.Buffer) error
	DequeueOutbound(dev core.DeviceID) (*pktbuf.Buffer, bool)
	// Deliver hands a received frame to the stack. Ownership passes to
	// the stack whether or not an error is returned.
	Deliver(b *pktbuf.Buffer) error
}

// Driver moves frames between one device and the outside world.
type Driver interface {
	// Start binds the driver to its device. Receive goroutines, if any,
	// run until Close.
	Start(dev *Device, nic NIC) error
	// Transmit is called after one or more frames were queued for the
	// device. The driver drains the queue and releases each buffer.
	Transmit()
	Close() error
}

// Driver kinds understood by Open.
const (
	KindLoopback = "loopback"
	KindTAP      = "tap"
)

// Open creates a driver of the given kind for the device called name. TAP
// drivers attach to the host interface of the same name.
func Open(kind, name string) (Driver, error) {
	switch kind {
	case KindLoopback:
		return NewLoopback(), nil
	case KindTAP:
		t, err := OpenTAP(name)
		if err != nil {
			return nil, err
		}
		return t, nil
	default:
		return nil, fmt.Errorf("device %s: unsupported driver %q: %w", name, kind, core.ErrConfigInvalid)
	}
}
