package stack

import (
	"fmt"
	"log/slog"
	"net"
	"net/netip"

	"gvisor.dev/gvisor/pkg/tcpip"
	"gvisor.dev/gvisor/pkg/tcpip/header"

	"firestige.xyz/netcore/internal/core"
	"firestige.xyz/netcore/internal/device"
	"firestige.xyz/netcore/internal/inet"
	"firestige.xyz/netcore/internal/metrics"
	"firestige.xyz/netcore/internal/pktbuf"
	"firestige.xyz/netcore/internal/route"
	"firestige.xyz/netcore/internal/sniffer"
)

// MaxPayload is the largest datagram, IP header included, that fits an
// untagged Ethernet frame.
const MaxPayload = inet.EthernetMaxFrameSize - header.EthernetMinimumSize

// handleIP validates a received datagram and dispatches it. It reports
// whether the buffer was reused for transmission.
func (s *Stack) handleIP(dev *device.Device, b *pktbuf.Buffer) bool {
	data := b.Data()
	ip := header.IPv4(data)
	if header.IPVersion(data) != header.IPv4Version || !ip.IsValid(len(data)) {
		drop("ip", "malformed")
		return false
	}
	if !ip.IsChecksumValid() {
		drop("ip", "checksum")
		return false
	}

	if ip.Protocol() == core.ProtoICMP {
		return s.handleICMP(dev, b)
	}
	if dev.IsBound(inet.FromTCPIP(ip.DestinationAddress())) {
		switch ip.Protocol() {
		case core.ProtoUDP:
			s.handleUDP(dev, ip)
		case core.ProtoTCP:
			s.handleTCP(dev, ip)
		default:
			drop("ip", "protocol")
		}
		return false
	}
	if !s.routing.Load() {
		drop("ip", "not_local")
		return false
	}
	return s.forward(b)
}

// forward relays a datagram that is not addressed to this host. The
// buffer is retransmitted as is, with the TTL decremented.
func (s *Stack) forward(b *pktbuf.Buffer) bool {
	ip := header.IPv4(b.Data())
	if ip.TTL() <= 1 {
		drop("ip", "ttl_exceeded")
		return false
	}

	dest := inet.FromTCPIP(ip.DestinationAddress())
	dev, e, err := s.route(dest)
	if err != nil {
		drop("ip", "no_route")
		return false
	}
	rec, err := s.Resolve(e.NextHop(dest))
	if err != nil {
		drop("ip", "arp_miss")
		slog.Debug("forward deferred", "dest", dest, "error", err)
		return false
	}

	ip.SetTTL(ip.TTL() - 1)
	ip.SetChecksum(0)
	ip.SetChecksum(^ip.CalculateChecksum())
	if err := s.transmitFrame(dev, b, rec.HWAddr, core.EtherTypeIPv4); err != nil {
		slog.Debug("forward failed", "dest", dest, "error", err)
		return true
	}
	metrics.ForwardedTotal.Inc()
	return true
}

// route picks the first route covering dest and the device it names.
func (s *Stack) route(dest netip.Addr) (*device.Device, route.Entry, error) {
	e, ok := s.routes.Lookup(dest)
	if !ok {
		return nil, e, fmt.Errorf("route to %s: %w", dest, core.ErrNoRoute)
	}
	dev, ok := s.devices.Get(e.Device)
	if !ok {
		return nil, e, fmt.Errorf("route to %s: %w", dest, core.ErrDeviceNotFound)
	}
	return dev, e, nil
}

// sourceFor picks the local address a datagram to dest leaves from: the
// binding sharing a network with dest, or failing that the one sharing a
// network with the next hop.
func sourceFor(dev *device.Device, e route.Entry, dest netip.Addr) (netip.Addr, error) {
	if a, ok := route.FindLocalAddress(dev, dest); ok {
		return a.Addr, nil
	}
	if hop := e.NextHop(dest); hop != dest {
		if a, ok := route.FindLocalAddress(dev, hop); ok {
			return a.Addr, nil
		}
	}
	return netip.Addr{}, fmt.Errorf("source for %s on %s: %w", dest, dev.Name, core.ErrNoLocalAddress)
}

// BuildDatagram allocates a buffer holding an IPv4 datagram to dest with
// payload as body. The source is the local address the routing table
// selects. The buffer is owned by the caller.
func (s *Stack) BuildDatagram(proto uint8, dest netip.Addr, payload []byte) (*pktbuf.Buffer, error) {
	dev, e, err := s.route(dest)
	if err != nil {
		return nil, err
	}
	src, err := sourceFor(dev, e, dest)
	if err != nil {
		return nil, err
	}
	return s.buildDatagram(dev, proto, src, dest, payload)
}

func (s *Stack) buildDatagram(dev *device.Device, proto uint8, src, dest netip.Addr, payload []byte) (*pktbuf.Buffer, error) {
	total := header.IPv4MinimumSize + len(payload)
	if total > MaxPayload {
		return nil, fmt.Errorf("datagram of %d bytes: %w", total, core.ErrPayloadTooLarge)
	}
	b, err := s.pool.Allocate(dev.ID)
	if err != nil {
		return nil, err
	}
	b.HeaderLen = pktbuf.LinkHeaderLen
	b.Len = total

	ip := header.IPv4(b.Data())
	ip.Encode(&header.IPv4Fields{
		TOS:         inet.IPv4DefaultTOS,
		TotalLength: uint16(total),
		ID:          s.tick(),
		TTL:         inet.IPv4DefaultTTL,
		Protocol:    proto,
		SrcAddr:     inet.ToTCPIP(src),
		DstAddr:     inet.ToTCPIP(dest),
	})
	ip.SetChecksum(^ip.CalculateChecksum())
	copy(ip[header.IPv4MinimumSize:], payload)
	return b, nil
}

// Transmit sends a built datagram to dest, resolving the next hop link
// address. The buffer is consumed whether or not an error is returned.
func (s *Stack) Transmit(dest netip.Addr, b *pktbuf.Buffer) error {
	dev, e, err := s.route(dest)
	if err != nil {
		s.release(b)
		return err
	}
	rec, err := s.Resolve(e.NextHop(dest))
	if err != nil {
		s.release(b)
		return err
	}
	return s.transmitFrame(dev, b, rec.HWAddr, core.EtherTypeIPv4)
}

// SendIP builds and transmits a datagram.
func (s *Stack) SendIP(proto uint8, dest netip.Addr, payload []byte) error {
	b, err := s.BuildDatagram(proto, dest, payload)
	if err != nil {
		return err
	}
	return s.Transmit(dest, b)
}

// transmitFrame writes the Ethernet header and queues b on dev. The
// buffer is consumed whether or not an error is returned.
func (s *Stack) transmitFrame(dev *device.Device, b *pktbuf.Buffer, dst net.HardwareAddr, etherType uint16) error {
	b.HeaderLen = pktbuf.LinkHeaderLen
	header.Ethernet(b.Link()).Encode(&header.EthernetFields{
		SrcAddr: tcpip.LinkAddress(dev.HWAddr),
		DstAddr: tcpip.LinkAddress(dst),
		Type:    tcpip.NetworkProtocolNumber(etherType),
	})

	s.record(sniffer.Outbound, b)
	if err := s.pool.EnqueueOutbound(dev.ID, b); err != nil {
		s.release(b)
		return err
	}
	metrics.FramesTotal.WithLabelValues(dev.Name, metrics.DirectionTx).Inc()
	if drv := dev.Driver(); drv != nil {
		drv.Transmit()
	}
	return nil
}
