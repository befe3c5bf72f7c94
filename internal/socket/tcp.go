package socket

import (
	"fmt"
	"net/netip"
)

// TCPConnState enumerates RFC 793 connection states. Only LISTEN and
// SYN_RECV are ever entered; the rest name states a full implementation
// would use.
type TCPConnState uint8

const (
	TCPClosed TCPConnState = iota
	TCPListen
	TCPSynSent
	TCPSynRecv
	TCPEstablished
	TCPFinWait1
	TCPFinWait2
	TCPCloseWait
	TCPClosing
	TCPLastAck
	TCPTimeWait
)

var tcpStateNames = [...]string{
	"CLOSED", "LISTEN", "SYN_SENT", "SYN_RECV", "ESTABLISHED",
	"FIN_WAIT_1", "FIN_WAIT_2", "CLOSE_WAIT", "CLOSING", "LAST_ACK", "TIME_WAIT",
}

func (s TCPConnState) String() string {
	if int(s) < len(tcpStateNames) {
		return tcpStateNames[s]
	}
	return fmt.Sprintf("TCP(%d)", uint8(s))
}

// TCPState is the per-socket connection record.
type TCPState struct {
	State    TCPConnState
	LocalSeq uint32
	PeerSeq  uint32
	Peer     netip.Addr
	PeerPort uint16
}

// TCP returns a copy of the connection record of s.
func (r *Registry) TCP(s *Socket) TCPState {
	r.mu.Lock()
	defer r.mu.Unlock()
	return s.tcp
}

// SetTCP replaces the connection record of s.
func (r *Registry) SetTCP(s *Socket, st TCPState) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s.tcp = st
}
