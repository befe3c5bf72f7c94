package stack

import (
	"fmt"
	"net"
	"net/netip"

	"gvisor.dev/gvisor/pkg/tcpip/header"

	"firestige.xyz/netcore/internal/core"
	"firestige.xyz/netcore/internal/device"
	"firestige.xyz/netcore/internal/inet"
	"firestige.xyz/netcore/internal/metrics"
	"firestige.xyz/netcore/internal/socket"
)

// handleUDP delivers a datagram to the socket listening on its
// destination port, or answers with port unreachable.
func (s *Stack) handleUDP(dev *device.Device, ip header.IPv4) {
	seg := ip.Payload()
	if len(seg) < header.UDPMinimumSize {
		drop("udp", "short")
		return
	}
	u := header.UDP(seg)

	sock, ok := s.sockets.Find(socket.TypeUDP4, u.DestinationPort())
	if !ok {
		drop("udp", "no_socket")
		s.portUnreachable(ip)
		return
	}
	metrics.SocketDeliveriesTotal.WithLabelValues("udp").Inc()
	if cb := sock.Callback(); cb != nil {
		cb(sock, dev, inet.FromTCPIP(ip.SourceAddress()), u.SourcePort(), u.Payload())
	}
}

// TransmitUDP sends a datagram on dev to the link address hw with explicit
// source and destination addresses, bypassing routing. It serves clients
// that talk before an address is bound, sending from 0.0.0.0 to the
// broadcast address.
func (s *Stack) TransmitUDP(dev *device.Device, hw net.HardwareAddr, src, dst netip.Addr, srcPort, dstPort uint16, data []byte) error {
	n := header.UDPMinimumSize + len(data)
	if n > MaxPayload-header.IPv4MinimumSize {
		return fmt.Errorf("udp datagram of %d bytes: %w", n, core.ErrPayloadTooLarge)
	}
	seg := make([]byte, n)
	header.UDP(seg).Encode(&header.UDPFields{
		SrcPort: srcPort,
		DstPort: dstPort,
		Length:  uint16(n),
	})
	copy(seg[header.UDPMinimumSize:], data)

	b, err := s.buildDatagram(dev, core.ProtoUDP, src, dst, seg)
	if err != nil {
		return err
	}
	return s.transmitFrame(dev, b, hw, core.EtherTypeIPv4)
}

// SendUDP sends data from the port of sock to dest:port, choosing device
// and source through the routing table.
func (s *Stack) SendUDP(sock *socket.Socket, dest netip.Addr, port uint16, data []byte) error {
	if sock.Type() != socket.TypeUDP4 || sock.State() != socket.StateListen {
		return fmt.Errorf("send to %s:%d: %w", dest, port, core.ErrSocketClosed)
	}
	dev, e, err := s.route(dest)
	if err != nil {
		return err
	}
	src, err := sourceFor(dev, e, dest)
	if err != nil {
		return err
	}
	rec, err := s.Resolve(e.NextHop(dest))
	if err != nil {
		return err
	}
	return s.TransmitUDP(dev, rec.HWAddr, src, dest, sock.Port(), port, data)
}
