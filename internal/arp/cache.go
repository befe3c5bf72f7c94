// Package arp implements the fixed-size address resolution cache. The
// request/reply protocol that fills it lives in the stack package.
package arp

import (
	"fmt"
	"net"
	"net/netip"
	"sync"
	"time"

	"firestige.xyz/netcore/internal/core"
)

// DefaultSize is the number of records in a cache.
const DefaultSize = 128

// Flags qualify a record.
type Flags uint8

// FlagPermanent marks records that survive Flush.
const FlagPermanent Flags = 1 << 0

// Record maps an IPv4 address to a link address on one device.
type Record struct {
	Addr      netip.Addr       `json:"addr"`
	HWAddr    net.HardwareAddr `json:"hwaddr"`
	Device    core.DeviceID    `json:"device"`
	Flags     Flags            `json:"flags"`
	Timestamp time.Time        `json:"timestamp"`
}

// Permanent reports whether the record survives Flush.
func (r Record) Permanent() bool { return r.Flags&FlagPermanent != 0 }

func (r *Record) free() bool { return !r.Addr.IsValid() }

// Cache is a fixed array of records. A slot with an invalid Addr is free.
// There is no eviction: a full cache rejects new records.
type Cache struct {
	mu      sync.Mutex
	records []Record
	now     func() time.Time
}

// New creates a cache with size slots.
func New(size int) *Cache {
	if size <= 0 {
		size = DefaultSize
	}
	return &Cache{records: make([]Record, size), now: time.Now}
}

// Size returns the capacity.
func (c *Cache) Size() int { return len(c.records) }

func (c *Cache) find(addr netip.Addr) int {
	for i := range c.records {
		if !c.records[i].free() && c.records[i].Addr == addr {
			return i
		}
	}
	return -1
}

func (c *Cache) add(addr netip.Addr, hw net.HardwareAddr, dev core.DeviceID, flags Flags) error {
	for i := range c.records {
		if c.records[i].free() {
			c.records[i] = Record{
				Addr:      addr,
				HWAddr:    append(net.HardwareAddr(nil), hw...),
				Device:    dev,
				Flags:     flags,
				Timestamp: c.now(),
			}
			return nil
		}
	}
	return fmt.Errorf("add %s: %w", addr, core.ErrCacheFull)
}

// Add stores a new record in the first free slot. It does not look for an
// existing record with the same address; Update does.
func (c *Cache) Add(addr netip.Addr, hw net.HardwareAddr, dev core.DeviceID, flags Flags) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.add(addr, hw, dev, flags)
}

// Update refreshes the record for addr, or adds a non-permanent one.
func (c *Cache) Update(addr netip.Addr, hw net.HardwareAddr, dev core.DeviceID) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if i := c.find(addr); i >= 0 {
		r := &c.records[i]
		r.HWAddr = append(r.HWAddr[:0], hw...)
		r.Device = dev
		r.Timestamp = c.now()
		return nil
	}
	return c.add(addr, hw, dev, 0)
}

// Find returns a copy of the record for addr.
func (c *Cache) Find(addr netip.Addr) (Record, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	i := c.find(addr)
	if i < 0 {
		return Record{}, false
	}
	r := c.records[i]
	r.HWAddr = append(net.HardwareAddr(nil), r.HWAddr...)
	return r, true
}

// Remove deletes the record for addr on dev.
func (c *Cache) Remove(addr netip.Addr, dev core.DeviceID) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	for i := range c.records {
		if !c.records[i].free() && c.records[i].Addr == addr && c.records[i].Device == dev {
			c.records[i] = Record{}
			return true
		}
	}
	return false
}

// Flush deletes every non-permanent record and returns how many went.
func (c *Cache) Flush() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	n := 0
	for i := range c.records {
		if !c.records[i].free() && !c.records[i].Permanent() {
			c.records[i] = Record{}
			n++
		}
	}
	return n
}

// FlushDevice deletes every record referencing dev, permanent or not.
func (c *Cache) FlushDevice(dev core.DeviceID) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	n := 0
	for i := range c.records {
		if !c.records[i].free() && c.records[i].Device == dev {
			c.records[i] = Record{}
			n++
		}
	}
	return n
}

// Records returns copies of the live records in slot order.
func (c *Cache) Records() []Record {
	c.mu.Lock()
	defer c.mu.Unlock()

	var out []Record
	for _, r := range c.records {
		if !r.free() {
			r.HWAddr = append(net.HardwareAddr(nil), r.HWAddr...)
			out = append(out, r)
		}
	}
	return out
}

// Len returns the number of live records.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	n := 0
	for i := range c.records {
		if !c.records[i].free() {
			n++
		}
	}
	return n
}
