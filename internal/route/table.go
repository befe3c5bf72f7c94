// Package route implements the fixed-size IPv4 routing table. Lookups are
// first-match in slot order, not longest-prefix: the entry added first wins
// when several networks cover a destination.
package route

import (
	"fmt"
	"net/netip"
	"sync"

	"firestige.xyz/netcore/internal/core"
	"firestige.xyz/netcore/internal/device"
	"firestige.xyz/netcore/internal/inet"
)

// DefaultSize is the number of entries in a table.
const DefaultSize = 1024

// Flags qualify an entry.
type Flags uint8

const (
	FlagInUse     Flags = 1 << 0
	FlagPermanent Flags = 1 << 1
	FlagGateway   Flags = 1 << 2
)

// Entry is one route. Network is stored pre-masked.
type Entry struct {
	Device  core.DeviceID `json:"device"`
	Network netip.Addr    `json:"network"`
	Mask    netip.Addr    `json:"mask"`
	Gateway netip.Addr    `json:"gateway"`
	Flags   Flags         `json:"flags"`
}

// InUse reports whether the slot holds a route.
func (e Entry) InUse() bool { return e.Flags&FlagInUse != 0 }

// Matches reports whether dest falls within the entry's network.
func (e Entry) Matches(dest netip.Addr) bool {
	return e.InUse() && inet.MaskAddr(dest, e.Mask) == e.Network
}

// NextHop returns the address whose link address a datagram to dest must
// be sent to: the gateway for gateway routes, dest otherwise.
func (e Entry) NextHop(dest netip.Addr) netip.Addr {
	if e.Flags&FlagGateway != 0 && e.Gateway.IsValid() && !e.Gateway.IsUnspecified() {
		return e.Gateway
	}
	return dest
}

// Table is a fixed array of route entries.
type Table struct {
	mu      sync.Mutex
	entries []Entry
}

// New creates a table with size slots.
func New(size int) *Table {
	if size <= 0 {
		size = DefaultSize
	}
	return &Table{entries: make([]Entry, size)}
}

// Add stores a route in the first unused slot. Overlapping routes are
// accepted; FlagInUse is implied.
func (t *Table) Add(dev core.DeviceID, network, mask, gateway netip.Addr, flags Flags) error {
	network = inet.MaskAddr(network, mask)
	if !gateway.IsValid() {
		gateway = inet.IPv4Any
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	for i := range t.entries {
		if !t.entries[i].InUse() {
			t.entries[i] = Entry{
				Device:  dev,
				Network: network,
				Mask:    mask,
				Gateway: gateway,
				Flags:   flags | FlagInUse,
			}
			return nil
		}
	}
	return fmt.Errorf("add %s/%d: %w", network, inet.PrefixLen(mask), core.ErrRouteTableFull)
}

// Lookup returns the first in-use entry covering dest.
func (t *Table) Lookup(dest netip.Addr) (Entry, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	for _, e := range t.entries {
		if e.Matches(dest) {
			return e, true
		}
	}
	return Entry{}, false
}

// FindDevice returns the device of the first entry covering dest.
func (t *Table) FindDevice(dest netip.Addr) (core.DeviceID, bool) {
	e, ok := t.Lookup(dest)
	return e.Device, ok
}

// Remove deletes the first entry for network/mask. The network is masked
// before comparison.
func (t *Table) Remove(network, mask netip.Addr) bool {
	network = inet.MaskAddr(network, mask)
	return t.remove(func(e Entry) bool {
		return e.Network == network && e.Mask == mask
	})
}

// RemoveOnDevice deletes the entry for network/mask that points at dev,
// leaving routes to the same network through other devices in place.
func (t *Table) RemoveOnDevice(dev core.DeviceID, network, mask netip.Addr) bool {
	network = inet.MaskAddr(network, mask)
	return t.remove(func(e Entry) bool {
		return e.Device == dev && e.Network == network && e.Mask == mask
	})
}

func (t *Table) remove(match func(Entry) bool) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	for i := range t.entries {
		e := &t.entries[i]
		if e.InUse() && match(*e) {
			*e = Entry{}
			return true
		}
	}
	return false
}

// Flush deletes every non-permanent entry.
func (t *Table) Flush() int {
	t.mu.Lock()
	defer t.mu.Unlock()

	n := 0
	for i := range t.entries {
		e := &t.entries[i]
		if e.InUse() && e.Flags&FlagPermanent == 0 {
			*e = Entry{}
			n++
		}
	}
	return n
}

// FlushDevice deletes every entry referencing dev, permanent or not.
func (t *Table) FlushDevice(dev core.DeviceID) int {
	t.mu.Lock()
	defer t.mu.Unlock()

	n := 0
	for i := range t.entries {
		e := &t.entries[i]
		if e.InUse() && e.Device == dev {
			*e = Entry{}
			n++
		}
	}
	return n
}

// Entries returns the in-use entries in slot order.
func (t *Table) Entries() []Entry {
	t.mu.Lock()
	defer t.mu.Unlock()

	var out []Entry
	for _, e := range t.entries {
		if e.InUse() {
			out = append(out, e)
		}
	}
	return out
}

// FindLocalAddress returns the address bound on dev that shares a network
// with dest. It is used to pick the source of outgoing datagrams and ARP
// queries.
func FindLocalAddress(dev *device.Device, dest netip.Addr) (device.Address, bool) {
	for _, a := range dev.Addresses() {
		if a.Matches(dest) {
			return a, true
		}
	}
	return device.Address{}, false
}
