package stack

import (
	"log/slog"

	"gvisor.dev/gvisor/pkg/tcpip/checksum"
	"gvisor.dev/gvisor/pkg/tcpip/header"

	"firestige.xyz/netcore/internal/core"
	"firestige.xyz/netcore/internal/device"
	"firestige.xyz/netcore/internal/inet"
	"firestige.xyz/netcore/internal/metrics"
	"firestige.xyz/netcore/internal/socket"
)

// InitialSequence is the sequence number of every SYN+ACK.
const InitialSequence uint32 = 100

const synAckSize = header.TCPMinimumSize + inet.TCPSynOptionsSize

// handleTCP answers SYNs on listening sockets. Segments for unbound ports
// get port unreachable; anything else is ignored.
func (s *Stack) handleTCP(dev *device.Device, ip header.IPv4) {
	seg := ip.Payload()
	if len(seg) < header.TCPMinimumSize {
		drop("tcp", "short")
		return
	}
	t := header.TCP(seg)

	sock, ok := s.sockets.Find(socket.TypeTCP4, t.DestinationPort())
	if !ok {
		drop("tcp", "no_socket")
		s.portUnreachable(ip)
		return
	}
	if t.Flags()&header.TCPFlagSyn == 0 {
		return
	}

	st := s.sockets.TCP(sock)
	if st.State != socket.TCPListen && st.State != socket.TCPSynRecv {
		return
	}

	peerAddr, localAddr := ip.SourceAddress(), ip.DestinationAddress()
	peer, local := inet.FromTCPIP(peerAddr), inet.FromTCPIP(localAddr)
	st.LocalSeq = InitialSequence
	st.PeerSeq = t.SequenceNumber()
	st.Peer = peer
	st.PeerPort = t.SourcePort()
	s.sockets.SetTCP(sock, st)

	reply := header.TCP(make([]byte, synAckSize))
	reply.Encode(&header.TCPFields{
		SrcPort:    t.DestinationPort(),
		DstPort:    t.SourcePort(),
		SeqNum:     InitialSequence,
		AckNum:     t.SequenceNumber() + 1,
		DataOffset: synAckSize,
		Flags:      header.TCPFlagSyn | header.TCPFlagAck,
		WindowSize: t.WindowSize(),
	})
	inet.EncodeSynOptions(reply[header.TCPMinimumSize:], inet.TCPDefaultMSS)
	sum := header.PseudoHeaderChecksum(header.TCPProtocolNumber, localAddr, peerAddr, synAckSize)
	reply.SetChecksum(^checksum.Checksum(reply, sum))

	out, _, err := s.route(peer)
	if err != nil {
		slog.Debug("syn+ack not sent", "device", dev.Name, "to", peer, "error", err)
		return
	}
	b, err := s.buildDatagram(out, core.ProtoTCP, local, peer, reply)
	if err != nil {
		slog.Debug("syn+ack not sent", "device", dev.Name, "to", peer, "error", err)
		return
	}
	if err := s.Transmit(peer, b); err != nil {
		slog.Debug("syn+ack not sent", "device", dev.Name, "to", peer, "error", err)
		return
	}

	st.State = socket.TCPSynRecv
	s.sockets.SetTCP(sock, st)
	metrics.TCPHandshakesTotal.Inc()
}
