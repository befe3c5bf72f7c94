package stack

import (
	"log/slog"
	"net"
	"net/netip"

	"gvisor.dev/gvisor/pkg/tcpip/checksum"
	"gvisor.dev/gvisor/pkg/tcpip/header"

	"firestige.xyz/netcore/internal/core"
	"firestige.xyz/netcore/internal/device"
	"firestige.xyz/netcore/internal/inet"
	"firestige.xyz/netcore/internal/metrics"
	"firestige.xyz/netcore/internal/pktbuf"
)

// handleICMP answers echo requests in place; every other message is
// dropped.
func (s *Stack) handleICMP(dev *device.Device, b *pktbuf.Buffer) bool {
	ip := header.IPv4(b.Data())
	msg := header.ICMPv4(ip.Payload())
	if len(msg) < header.ICMPv4MinimumSize {
		drop("icmp", "short")
		return false
	}
	if msg.Type() != header.ICMPv4Echo {
		drop("icmp", "type")
		return false
	}

	// the header checksum survives the swap unchanged
	src, dst := ip.SourceAddress(), ip.DestinationAddress()
	ip.SetSourceAddress(dst)
	ip.SetDestinationAddress(src)
	msg.SetType(header.ICMPv4EchoReply)
	msg.SetCode(0)
	setICMPChecksum(msg)

	to := net.HardwareAddr(header.Ethernet(b.Link()).SourceAddress())
	metrics.ICMPSentTotal.WithLabelValues("echo_reply").Inc()
	if err := s.transmitFrame(dev, b, to, core.EtherTypeIPv4); err != nil {
		slog.Debug("echo reply not sent", "device", dev.Name, "error", err)
	}
	return true
}

// SendUnreachable sends a destination unreachable message to dest quoting
// hdr and prefix, normally the offending IP header and the first 8 bytes
// of its payload.
func (s *Stack) SendUnreachable(dest netip.Addr, code header.ICMPv4Code, hdr, prefix []byte) error {
	msg := header.ICMPv4(make([]byte, header.ICMPv4MinimumSize+len(hdr)+len(prefix)))
	msg.SetType(header.ICMPv4DstUnreachable)
	msg.SetCode(code)
	n := copy(msg.Payload(), hdr)
	copy(msg.Payload()[n:], prefix)
	setICMPChecksum(msg)

	if err := s.SendIP(core.ProtoICMP, dest, msg); err != nil {
		return err
	}
	metrics.ICMPSentTotal.WithLabelValues("dst_unreachable").Inc()
	return nil
}

// portUnreachable reports a datagram for which no socket listens.
func (s *Stack) portUnreachable(ip header.IPv4) {
	body := ip.Payload()
	if len(body) > 8 {
		body = body[:8]
	}
	src := inet.FromTCPIP(ip.SourceAddress())
	if err := s.SendUnreachable(src, header.ICMPv4PortUnreachable, ip[:header.IPv4MinimumSize], body); err != nil {
		slog.Debug("port unreachable not sent", "to", src, "error", err)
	}
}

func setICMPChecksum(msg header.ICMPv4) {
	msg.SetChecksum(0)
	msg.SetChecksum(^checksum.Checksum(msg, 0))
}
