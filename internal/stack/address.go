package stack

import (
	"fmt"
	"log/slog"
	"net"
	"net/netip"

	"gvisor.dev/gvisor/pkg/tcpip/header"

	"firestige.xyz/netcore/internal/arp"
	"firestige.xyz/netcore/internal/core"
	"firestige.xyz/netcore/internal/device"
	"firestige.xyz/netcore/internal/inet"
	"firestige.xyz/netcore/internal/route"
)

// AddDevice registers a device and starts its driver.
func (s *Stack) AddDevice(name string, hw net.HardwareAddr, res device.Resources, drv device.Driver) (*device.Device, error) {
	if len(hw) != header.EthernetAddressSize {
		return nil, fmt.Errorf("add device %s: invalid hardware address %q: %w", name, hw, core.ErrConfigInvalid)
	}
	dev, err := s.devices.Register(name, hw, res, drv)
	if err != nil {
		return nil, err
	}
	if drv != nil {
		if err := drv.Start(dev, s); err != nil {
			_, _ = s.devices.Unregister(dev.ID)
			return nil, fmt.Errorf("start driver of %s: %w", name, err)
		}
	}
	slog.Info("device added", "device", name, "id", dev.ID, "hwaddr", hw.String())
	return dev, nil
}

// RemoveDevice unbinds every address of the device, forgets the ARP
// records and routes that point at it, discards its queued frames and
// closes its driver. It waits for the frame being dispatched, if any, so
// the run loop never learns about the device after it is gone.
func (s *Stack) RemoveDevice(id core.DeviceID) error {
	s.dispatchMu.Lock()
	defer s.dispatchMu.Unlock()

	dev, ok := s.devices.Get(id)
	if !ok {
		return fmt.Errorf("remove device %d: %w", id, core.ErrDeviceNotFound)
	}

	s.PurgeDevice(dev)
	routes := s.routes.FlushDevice(id)
	dropped := s.pool.DrainOutbound(id)

	if _, err := s.devices.Unregister(id); err != nil {
		return err
	}
	var err error
	if drv := dev.Driver(); drv != nil {
		err = drv.Close()
	}
	slog.Info("device removed", "device", dev.Name, "routes", routes, "dropped", dropped)
	return err
}

// PurgeDevice clears the bound addresses of dev and every ARP record
// learned through it.
func (s *Stack) PurgeDevice(dev *device.Device) {
	addrs := dev.Purge()
	n := s.arp.FlushDevice(dev.ID)
	slog.Debug("device purged", "device", dev.Name, "addresses", len(addrs), "arp", n)
}

// BindAddress assigns addr/mask to the device. The device announces the
// address with an ARP request, records its own link address permanently
// and gains a permanent route to the network. A zero mask is replaced by
// the classful guess.
func (s *Stack) BindAddress(id core.DeviceID, addr, mask netip.Addr) error {
	dev, ok := s.devices.Get(id)
	if !ok {
		return fmt.Errorf("bind %s: %w", addr, core.ErrDeviceNotFound)
	}
	if !mask.IsValid() || mask.IsUnspecified() {
		mask = inet.GuessNetmask(addr)
	}
	if err := dev.Bind(addr, mask); err != nil {
		return err
	}

	if err := s.sendARPRequest(dev, inet.IPv4Any, addr); err != nil {
		slog.Debug("address announcement failed", "device", dev.Name, "addr", addr, "error", err)
	}
	if err := s.arp.Add(addr, dev.HWAddr, dev.ID, arp.FlagPermanent); err != nil {
		slog.Warn("own arp record not stored", "device", dev.Name, "addr", addr, "error", err)
	}
	if err := s.routes.Add(dev.ID, addr, mask, inet.IPv4Any, route.FlagPermanent); err != nil {
		dev.Unbind(addr)
		s.arp.Remove(addr, dev.ID)
		return fmt.Errorf("bind %s on %s: %w", addr, dev.Name, err)
	}

	slog.Info("address bound", "device", dev.Name, "addr", addr, "prefix", inet.PrefixLen(mask))
	return nil
}

// UnbindAddress removes addr from the device together with its route and
// own ARP record.
func (s *Stack) UnbindAddress(id core.DeviceID, addr netip.Addr) error {
	dev, ok := s.devices.Get(id)
	if !ok {
		return fmt.Errorf("unbind %s: %w", addr, core.ErrDeviceNotFound)
	}
	a, ok := dev.Unbind(addr)
	if !ok {
		return fmt.Errorf("unbind %s from %s: %w", addr, dev.Name, core.ErrAddressNotBound)
	}
	s.routes.RemoveOnDevice(dev.ID, a.Addr, a.Netmask)
	s.arp.Remove(addr, dev.ID)

	slog.Info("address unbound", "device", dev.Name, "addr", addr)
	return nil
}

// AddGatewayRoute installs a static route to network/mask via gateway. The
// gateway must be reachable through an existing route, and the network
// must not be one the chosen device is directly attached to.
func (s *Stack) AddGatewayRoute(network, mask, gateway netip.Addr) error {
	e, ok := s.routes.Lookup(gateway)
	if !ok {
		return fmt.Errorf("route %s via %s: %w", network, gateway, core.ErrGatewayUnreached)
	}
	dev, ok := s.devices.Get(e.Device)
	if !ok {
		return fmt.Errorf("route %s via %s: %w", network, gateway, core.ErrDeviceNotFound)
	}
	if _, ok := route.FindLocalAddress(dev, network); ok {
		return fmt.Errorf("route %s on %s: %w", network, dev.Name, core.ErrRouteConflict)
	}
	return s.routes.Add(dev.ID, network, mask, gateway, route.FlagGateway)
}

// DeleteRoute removes the route for network/mask.
func (s *Stack) DeleteRoute(network, mask netip.Addr) error {
	if !s.routes.Remove(network, mask) {
		return fmt.Errorf("route %s/%d: %w", network, inet.PrefixLen(mask), core.ErrRouteNotFound)
	}
	return nil
}

// boundDevice returns the device that has addr bound, if any.
func (s *Stack) boundDevice(addr netip.Addr) (*device.Device, bool) {
	for _, dev := range s.devices.All() {
		if dev.IsBound(addr) {
			return dev, true
		}
	}
	return nil, false
}
