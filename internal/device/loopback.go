package device

import "log/slog"

// Loopback hands every transmitted frame straight back to the inbound
// queue of the same stack.
type Loopback struct {
	dev *Device
	nic NIC
}

// NewLoopback creates a loopback driver.
func NewLoopback() *Loopback { return &Loopback{} }

func (l *Loopback) Start(dev *Device, nic NIC) error {
	l.dev, l.nic = dev, nic
	return nil
}

func (l *Loopback) Transmit() {
	for {
		b, ok := l.nic.DequeueOutbound(l.dev.ID)
		if !ok {
			return
		}
		n := len(b.Bytes())
		l.dev.Stats.CountTx(n)
		l.dev.Stats.CountRx(n)
		if err := l.nic.Deliver(b); err != nil {
			slog.Debug("loopback deliver failed", "device", l.dev.Name, "error", err)
		}
	}
}

func (l *Loopback) Close() error { return nil }
