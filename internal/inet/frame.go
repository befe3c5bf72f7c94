package inet

import "gvisor.dev/gvisor/pkg/tcpip/header"

const (
	// EthernetMaxFrameSize is the largest untagged frame, without FCS.
	EthernetMaxFrameSize = header.EthernetMinimumSize + 1500

	// IPv4DefaultTTL is the TTL stamped on locally built datagrams.
	IPv4DefaultTTL = 64

	// IPv4DefaultTOS is the type of service stamped on locally built
	// datagrams (low delay).
	IPv4DefaultTOS = 0x10
)

const (
	// TCPDefaultMSS is advertised on every SYN+ACK.
	TCPDefaultMSS = 1460

	// TCPSynOptionsSize is the options block carried by handshake
	// segments: MSS followed by zero padding.
	TCPSynOptionsSize = 8
)

// EncodeSynOptions writes the handshake option block into b, which must
// hold TCPSynOptionsSize bytes, and returns its length.
func EncodeSynOptions(b []byte, mss uint32) int {
	n := header.EncodeMSSOption(mss, b[:TCPSynOptionsSize])
	clear(b[n:TCPSynOptionsSize])
	return TCPSynOptionsSize
}
