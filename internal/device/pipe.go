package device

import (
	"log/slog"
	"sync"
)

// PipeEnd is one side of a point-to-point link between two devices, which
// may belong to different stacks. A frame transmitted on one end is copied
// into a buffer of the peer's pool and delivered there.
type PipeEnd struct {
	mu   sync.Mutex
	dev  *Device
	nic  NIC
	peer *PipeEnd
}

// NewPipe creates two connected ends.
func NewPipe() (*PipeEnd, *PipeEnd) {
	a, b := &PipeEnd{}, &PipeEnd{}
	a.peer, b.peer = b, a
	return a, b
}

func (p *PipeEnd) Start(dev *Device, nic NIC) error {
	p.mu.Lock()
	p.dev, p.nic = dev, nic
	p.mu.Unlock()
	return nil
}

func (p *PipeEnd) attached() (*Device, NIC) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.dev, p.nic
}

func (p *PipeEnd) Transmit() {
	dev, nic := p.attached()
	peerDev, peerNIC := p.peer.attached()
	for {
		b, ok := nic.DequeueOutbound(dev.ID)
		if !ok {
			return
		}
		frame := b.Bytes()
		dev.Stats.CountTx(len(frame))

		if peerNIC == nil {
			dev.Stats.Drops.Add(1)
			_ = nic.Release(b)
			continue
		}
		nb, err := peerNIC.Allocate(peerDev.ID)
		if err != nil {
			peerDev.Stats.Drops.Add(1)
			_ = nic.Release(b)
			continue
		}
		err = nb.SetFrame(frame)
		_ = nic.Release(b)
		if err != nil {
			peerDev.Stats.Drops.Add(1)
			_ = peerNIC.Release(nb)
			slog.Debug("pipe frame rejected", "device", peerDev.Name, "error", err)
			continue
		}

		peerDev.Stats.CountRx(len(nb.Bytes()))
		if err := peerNIC.Deliver(nb); err != nil {
			slog.Debug("pipe deliver failed", "device", peerDev.Name, "error", err)
		}
	}
}

func (p *PipeEnd) Close() error {
	p.mu.Lock()
	p.nic = nil
	p.mu.Unlock()
	return nil
}
