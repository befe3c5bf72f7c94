// Package device defines the boundary between the protocol core and the
// link drivers: the Device record, its bound IPv4 addresses, per-device
// statistics and the registry that hands out weak device IDs.
package device

import (
	"fmt"
	"net"
	"net/netip"
	"sync"
	"sync/atomic"

	"firestige.xyz/netcore/internal/core"
	"firestige.xyz/netcore/internal/inet"
)

// MaxAddresses is the number of IPv4 addresses a device can carry.
const MaxAddresses = 16

// Resources describes the hardware resources a driver claimed.
type Resources struct {
	Port  uint16 `json:"port"`
	IRQ   uint8  `json:"irq"`
	DRQ   uint8  `json:"drq"`
	Flags uint32 `json:"flags"`
}

// Address is an IPv4 address bound to a device.
type Address struct {
	Addr    netip.Addr `json:"addr"`
	Netmask netip.Addr `json:"netmask"`
}

// Network returns Addr & Netmask.
func (a Address) Network() netip.Addr { return inet.MaskAddr(a.Addr, a.Netmask) }

// Matches reports whether dest is on the same network as a.
func (a Address) Matches(dest netip.Addr) bool {
	return inet.MaskAddr(dest, a.Netmask) == a.Network()
}

// Stats holds per-device traffic counters.
type Stats struct {
	RxFrames atomic.Uint64
	RxBytes  atomic.Uint64
	TxFrames atomic.Uint64
	TxBytes  atomic.Uint64
	Drops    atomic.Uint64
}

// StatsSnapshot is a copy of Stats suitable for reporting.
type StatsSnapshot struct {
	RxFrames uint64 `json:"rx_frames"`
	RxBytes  uint64 `json:"rx_bytes"`
	TxFrames uint64 `json:"tx_frames"`
	TxBytes  uint64 `json:"tx_bytes"`
	Drops    uint64 `json:"drops"`
}

// CountRx records a received frame.
func (s *Stats) CountRx(n int) {
	s.RxFrames.Add(1)
	s.RxBytes.Add(uint64(n))
}

// CountTx records a transmitted frame.
func (s *Stats) CountTx(n int) {
	s.TxFrames.Add(1)
	s.TxBytes.Add(uint64(n))
}

// Snapshot copies the counters.
func (s *Stats) Snapshot() StatsSnapshot {
	return StatsSnapshot{
		RxFrames: s.RxFrames.Load(),
		RxBytes:  s.RxBytes.Load(),
		TxFrames: s.TxFrames.Load(),
		TxBytes:  s.TxBytes.Load(),
		Drops:    s.Drops.Load(),
	}
}

// Device is a network interface known to the stack.
type Device struct {
	ID        core.DeviceID
	Name      string
	HWAddr    net.HardwareAddr
	Resources Resources
	Stats     Stats

	driver Driver

	mu    sync.Mutex
	addrs [MaxAddresses]Address
}

// Driver returns the link driver serving the device.
func (d *Device) Driver() Driver { return d.driver }

func (d *Device) String() string { return d.Name }

// Bind stores addr/mask in the first free slot.
func (d *Device) Bind(addr, mask netip.Addr) error {
	if !addr.Is4() || !mask.Is4() {
		return fmt.Errorf("bind %s/%s on %s: %w", addr, mask, d.Name, core.ErrUnsupportedProto)
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	free := -1
	for i := range d.addrs {
		if d.addrs[i].Addr == addr {
			return fmt.Errorf("bind %s on %s: %w", addr, d.Name, core.ErrAddressExists)
		}
		if free < 0 && !d.addrs[i].Addr.IsValid() {
			free = i
		}
	}
	if free < 0 {
		return fmt.Errorf("bind %s on %s: %w", addr, d.Name, core.ErrAddressTableFull)
	}
	d.addrs[free] = Address{Addr: addr, Netmask: mask}
	return nil
}

// Unbind clears the slot holding addr and returns what was stored there.
func (d *Device) Unbind(addr netip.Addr) (Address, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	for i := range d.addrs {
		if d.addrs[i].Addr.IsValid() && d.addrs[i].Addr == addr {
			a := d.addrs[i]
			d.addrs[i] = Address{}
			return a, true
		}
	}
	return Address{}, false
}

// Lookup returns the binding for addr, if addr is bound to d.
func (d *Device) Lookup(addr netip.Addr) (Address, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	for _, a := range d.addrs {
		if a.Addr.IsValid() && a.Addr == addr {
			return a, true
		}
	}
	return Address{}, false
}

// IsBound reports whether addr is bound to d.
func (d *Device) IsBound(addr netip.Addr) bool {
	_, ok := d.Lookup(addr)
	return ok
}

// Addresses returns the bound addresses in slot order.
func (d *Device) Addresses() []Address {
	d.mu.Lock()
	defer d.mu.Unlock()

	out := make([]Address, 0, MaxAddresses)
	for _, a := range d.addrs {
		if a.Addr.IsValid() {
			out = append(out, a)
		}
	}
	return out
}

// Purge clears every bound address and returns them.
func (d *Device) Purge() []Address {
	d.mu.Lock()
	defer d.mu.Unlock()

	var out []Address
	for i := range d.addrs {
		if d.addrs[i].Addr.IsValid() {
			out = append(out, d.addrs[i])
		}
		d.addrs[i] = Address{}
	}
	return out
}
