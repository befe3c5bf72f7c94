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
	"firestige.xyz/netcore/internal/metrics"
	"firestige.xyz/netcore/internal/pktbuf"
	"firestige.xyz/netcore/internal/route"
)

// Resolve returns the ARP record for addr. On a miss a broadcast request
// is sent from the device and local address the routing table selects for
// addr, and core.ErrARPMiss is returned; the caller is expected to retry
// later.
func (s *Stack) Resolve(addr netip.Addr) (arp.Record, error) {
	if rec, ok := s.arp.Find(addr); ok {
		return rec, nil
	}

	e, ok := s.routes.Lookup(addr)
	if !ok {
		return arp.Record{}, fmt.Errorf("resolve %s: %w", addr, core.ErrNoRoute)
	}
	dev, ok := s.devices.Get(e.Device)
	if !ok {
		return arp.Record{}, fmt.Errorf("resolve %s: %w", addr, core.ErrDeviceNotFound)
	}
	local, ok := route.FindLocalAddress(dev, addr)
	if !ok {
		return arp.Record{}, fmt.Errorf("resolve %s on %s: %w", addr, dev.Name, core.ErrNoLocalAddress)
	}
	if err := s.sendARPRequest(dev, local.Addr, addr); err != nil {
		return arp.Record{}, fmt.Errorf("resolve %s: %w", addr, err)
	}
	return arp.Record{}, fmt.Errorf("resolve %s: %w", addr, core.ErrARPMiss)
}

var broadcastMAC = net.HardwareAddr(header.EthernetBroadcastAddress)

// sendARPRequest broadcasts a who-has for target on dev.
func (s *Stack) sendARPRequest(dev *device.Device, sender, target netip.Addr) error {
	b, err := s.pool.Allocate(dev.ID)
	if err != nil {
		return err
	}
	b.HeaderLen = pktbuf.LinkHeaderLen
	b.Len = header.ARPSize

	a := header.ARP(b.Data())
	a.SetIPv4OverEthernet()
	a.SetOp(header.ARPRequest)
	copy(a.HardwareAddressSender(), dev.HWAddr)
	copy(a.HardwareAddressTarget(), broadcastMAC)
	inet.PutAddr(a.ProtocolAddressSender(), sender)
	inet.PutAddr(a.ProtocolAddressTarget(), target)

	metrics.ARPMessagesTotal.WithLabelValues("request", metrics.DirectionTx).Inc()
	return s.transmitFrame(dev, b, broadcastMAC, core.EtherTypeARP)
}

// handleARP processes a received ARP packet. It reports whether the buffer
// was reused for a reply.
func (s *Stack) handleARP(dev *device.Device, b *pktbuf.Buffer) bool {
	a := header.ARP(b.Data())
	if !a.IsValid() {
		drop("arp", "malformed")
		return false
	}

	switch a.Op() {
	case header.ARPRequest:
		metrics.ARPMessagesTotal.WithLabelValues("request", metrics.DirectionRx).Inc()
		return s.handleARPRequest(dev, b, a)
	case header.ARPReply:
		metrics.ARPMessagesTotal.WithLabelValues("reply", metrics.DirectionRx).Inc()
		s.handleARPReply(dev, a)
		return false
	default:
		drop("arp", "unknown_op")
		return false
	}
}

// handleARPRequest answers requests for addresses bound on this stack,
// turning the request buffer into the reply.
func (s *Stack) handleARPRequest(dev *device.Device, b *pktbuf.Buffer, a header.ARP) bool {
	target := inet.AddrFrom4(a.ProtocolAddressTarget())
	if _, ok := s.boundDevice(target); !ok {
		return false
	}
	binding, ok := route.FindLocalAddress(dev, target)
	if !ok || !inet.IsHostAddress(target, binding.Addr, binding.Netmask) {
		drop("arp", "not_host")
		return false
	}

	requester := append(net.HardwareAddr(nil), a.HardwareAddressSender()...)
	sender := inet.AddrFrom4(a.ProtocolAddressSender())

	a.SetOp(header.ARPReply)
	copy(a.HardwareAddressTarget(), requester)
	copy(a.HardwareAddressSender(), dev.HWAddr)
	inet.PutAddr(a.ProtocolAddressSender(), target)
	inet.PutAddr(a.ProtocolAddressTarget(), sender)

	slog.Debug("arp reply", "device", dev.Name, "addr", target, "to", sender)
	metrics.ARPMessagesTotal.WithLabelValues("reply", metrics.DirectionTx).Inc()
	if err := s.transmitFrame(dev, b, requester, core.EtherTypeARP); err != nil {
		slog.Debug("arp reply not sent", "device", dev.Name, "error", err)
	}
	return true
}

// handleARPReply learns the sender mapping when it is a host address of
// the network the reply was addressed to.
func (s *Stack) handleARPReply(dev *device.Device, a header.ARP) {
	binding, ok := route.FindLocalAddress(dev, inet.AddrFrom4(a.ProtocolAddressTarget()))
	if !ok {
		drop("arp", "no_binding")
		return
	}
	sender := inet.AddrFrom4(a.ProtocolAddressSender())
	if !inet.IsHostAddress(sender, binding.Addr, binding.Netmask) {
		drop("arp", "not_host")
		return
	}
	hw := append(net.HardwareAddr(nil), a.HardwareAddressSender()...)
	if err := s.arp.Update(sender, hw, dev.ID); err != nil {
		slog.Warn("arp record not stored", "addr", sender, "error", err)
		return
	}
	slog.Debug("arp learned", "device", dev.Name, "addr", sender, "hwaddr", hw.String())
}
