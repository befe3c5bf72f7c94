package device

import (
	"fmt"
	"net"
	"sort"
	"sync"

	"firestige.xyz/netcore/internal/core"
)

// Registry owns the set of devices and allocates their IDs.
type Registry struct {
	mu      sync.RWMutex
	devices map[core.DeviceID]*Device
	names   map[string]core.DeviceID
	nextID  core.DeviceID
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		devices: make(map[core.DeviceID]*Device),
		names:   make(map[string]core.DeviceID),
	}
}

// Register records a new device. The driver is not started here.
func (r *Registry) Register(name string, hw net.HardwareAddr, res Resources, drv Driver) (*Device, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.names[name]; ok {
		return nil, fmt.Errorf("register %s: %w", name, core.ErrDuplicateDevice)
	}
	r.nextID++
	d := &Device{
		ID:        r.nextID,
		Name:      name,
		HWAddr:    append(net.HardwareAddr(nil), hw...),
		Resources: res,
		driver:    drv,
	}
	r.devices[d.ID] = d
	r.names[name] = d.ID
	return d, nil
}

// Unregister removes the device. Its ID is never handed out again.
func (r *Registry) Unregister(id core.DeviceID) (*Device, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	d, ok := r.devices[id]
	if !ok {
		return nil, fmt.Errorf("unregister %d: %w", id, core.ErrDeviceNotFound)
	}
	delete(r.devices, id)
	delete(r.names, d.Name)
	return d, nil
}

// Get resolves an ID.
func (r *Registry) Get(id core.DeviceID) (*Device, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.devices[id]
	return d, ok
}

// Find resolves a device name.
func (r *Registry) Find(name string) (*Device, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.names[name]
	if !ok {
		return nil, false
	}
	return r.devices[id], true
}

// All returns the registered devices ordered by ID.
func (r *Registry) All() []*Device {
	r.mu.RLock()
	out := make([]*Device, 0, len(r.devices))
	for _, d := range r.devices {
		out = append(out, d)
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
