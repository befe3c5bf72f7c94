// Package core defines core types with zero external dependencies.
package core

// DeviceID is a weak reference to a registered device. Tables store the ID
// and resolve it through the device registry; IDs are never reused, so a
// stale ID fails the lookup instead of aliasing a newer device.
type DeviceID uint32

// NoDevice is the zero DeviceID, used for unowned buffers.
const NoDevice DeviceID = 0

// EtherType values understood by the frame dispatcher.
const (
	EtherTypeIPv4 uint16 = 0x0800
	EtherTypeARP  uint16 = 0x0806
)

// IP protocol numbers dispatched by the IP layer.
const (
	ProtoICMP uint8 = 1
	ProtoTCP  uint8 = 6
	ProtoUDP  uint8 = 17
)
