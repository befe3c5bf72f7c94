// Package inet holds the IPv4 address arithmetic the stack needs on top of
// gvisor's header views: mask helpers, host address checks and the
// conversions between netip and tcpip addresses.
package inet

import (
	"encoding/binary"
	"net/netip"

	"gvisor.dev/gvisor/pkg/tcpip"
)

// IPv4AddressSize is the size of an IPv4 address in bytes.
const IPv4AddressSize = 4

// IPv4Any is 0.0.0.0.
var IPv4Any = netip.IPv4Unspecified()

// AddrFrom4 reads an IPv4 address from the first four bytes of b.
func AddrFrom4(b []byte) netip.Addr {
	return netip.AddrFrom4([4]byte(b[:IPv4AddressSize]))
}

// PutAddr writes addr into the first four bytes of b. An invalid address is
// written as 0.0.0.0.
func PutAddr(b []byte, addr netip.Addr) {
	if !addr.Is4() {
		clear(b[:IPv4AddressSize])
		return
	}
	a := addr.As4()
	copy(b, a[:])
}

// ToTCPIP converts addr for use with gvisor header views. Anything but an
// IPv4 address becomes 0.0.0.0.
func ToTCPIP(addr netip.Addr) tcpip.Address {
	var a [4]byte
	if addr.Is4() {
		a = addr.As4()
	}
	return tcpip.AddrFrom4Slice(a[:])
}

// FromTCPIP is the inverse of ToTCPIP.
func FromTCPIP(addr tcpip.Address) netip.Addr {
	if addr.Len() != IPv4AddressSize {
		return netip.Addr{}
	}
	return netip.AddrFrom4(addr.As4())
}

// AddrToUint32 converts addr to its host-order integer form.
func AddrToUint32(addr netip.Addr) uint32 {
	if !addr.Is4() {
		return 0
	}
	a := addr.As4()
	return binary.BigEndian.Uint32(a[:])
}

// Uint32ToAddr is the inverse of AddrToUint32.
func Uint32ToAddr(v uint32) netip.Addr {
	var a [4]byte
	binary.BigEndian.PutUint32(a[:], v)
	return netip.AddrFrom4(a)
}

// MaskAddr returns addr & mask.
func MaskAddr(addr, mask netip.Addr) netip.Addr {
	return Uint32ToAddr(AddrToUint32(addr) & AddrToUint32(mask))
}

// MaskFromPrefixLen returns the dotted netmask for a prefix length.
func MaskFromPrefixLen(bits int) netip.Addr {
	if bits <= 0 {
		return IPv4Any
	}
	if bits >= 32 {
		return Uint32ToAddr(0xFFFFFFFF)
	}
	return Uint32ToAddr(^uint32(0) << (32 - bits))
}

// PrefixLen returns the number of leading one bits in mask.
func PrefixLen(mask netip.Addr) int {
	m := AddrToUint32(mask)
	n := 0
	for m&0x80000000 != 0 {
		n++
		m <<= 1
	}
	return n
}

// GuessNetmask returns the classful mask of addr: /8 for class A, /16 for
// class B and /24 for everything else.
func GuessNetmask(addr netip.Addr) netip.Addr {
	a := AddrToUint32(addr)
	switch {
	case a&0x80000000 == 0:
		return MaskFromPrefixLen(8)
	case a&0xc0000000 == 0x80000000:
		return MaskFromPrefixLen(16)
	default:
		return MaskFromPrefixLen(24)
	}
}

// IsHostAddress reports whether addr is usable as a host address on the
// network described by local/mask, that is it is neither the network
// address nor the directed broadcast address.
func IsHostAddress(addr, local, mask netip.Addr) bool {
	a, m := AddrToUint32(addr), AddrToUint32(mask)
	if a == AddrToUint32(local)&m {
		return false
	}
	return a != a|^m
}
