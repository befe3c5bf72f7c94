package device

import (
	"context"
	"fmt"
)

// Channel is a driver whose wire is a Go channel. Transmitted frames are
// copied out to C; Inject feeds received frames in. It backs tests and
// in-process tooling.
type Channel struct {
	C chan []byte

	dev *Device
	nic NIC
}

// NewChannel creates a channel driver buffering up to size outbound frames.
// Frames beyond that are dropped and counted.
func NewChannel(size int) *Channel {
	return &Channel{C: make(chan []byte, size)}
}

func (c *Channel) Start(dev *Device, nic NIC) error {
	c.dev, c.nic = dev, nic
	return nil
}

func (c *Channel) Transmit() {
	for {
		b, ok := c.nic.DequeueOutbound(c.dev.ID)
		if !ok {
			return
		}
		frame := append([]byte(nil), b.Bytes()...)
		_ = c.nic.Release(b)

		select {
		case c.C <- frame:
			c.dev.Stats.CountTx(len(frame))
		default:
			c.dev.Stats.Drops.Add(1)
		}
	}
}

// Inject delivers a wire frame as if it had been received by the device.
func (c *Channel) Inject(frame []byte) error {
	if c.nic == nil {
		return fmt.Errorf("channel driver not started")
	}
	b, err := c.nic.Allocate(c.dev.ID)
	if err != nil {
		c.dev.Stats.Drops.Add(1)
		return err
	}
	if err := b.SetFrame(frame); err != nil {
		_ = c.nic.Release(b)
		return err
	}
	c.dev.Stats.CountRx(len(frame))
	return c.nic.Deliver(b)
}

// ReadContext waits for the next transmitted frame.
func (c *Channel) ReadContext(ctx context.Context) ([]byte, bool) {
	select {
	case f := <-c.C:
		return f, true
	case <-ctx.Done():
		return nil, false
	}
}

// Drain returns every frame transmitted so far without waiting.
func (c *Channel) Drain() [][]byte {
	var out [][]byte
	for {
		select {
		case f := <-c.C:
			out = append(out, f)
		default:
			return out
		}
	}
}

func (c *Channel) Close() error { return nil }
