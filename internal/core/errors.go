// Package core defines sentinel errors.
package core

import "errors"

// Sentinel errors shared across the stack. Callers wrap them with
// fmt.Errorf("...: %w", err) and test with errors.Is.
var (
	// Resource exhaustion
	ErrPoolTooSmall     = errors.New("netcore: buffer pool too small")
	ErrPoolExhausted    = errors.New("netcore: buffer pool exhausted")
	ErrCacheFull        = errors.New("netcore: arp cache full")
	ErrRouteTableFull   = errors.New("netcore: routing table full")
	ErrSocketTableFull  = errors.New("netcore: socket table full")
	ErrAddressTableFull = errors.New("netcore: device address table full")

	// Ownership
	ErrNotOwned = errors.New("netcore: buffer not owned by caller")

	// Unreachable
	ErrNoRoute        = errors.New("netcore: no route to host")
	ErrNoLocalAddress = errors.New("netcore: no local address for destination")
	ErrARPMiss        = errors.New("netcore: link address not cached, request sent")

	// Malformed input
	ErrPacketTooShort   = errors.New("netcore: packet too short")
	ErrPayloadTooLarge  = errors.New("netcore: payload too large")
	ErrUnsupportedProto = errors.New("netcore: unsupported protocol")

	// Tables
	ErrPortInUse        = errors.New("netcore: port already bound")
	ErrSocketClosed     = errors.New("netcore: socket not bound")
	ErrDeviceNotFound   = errors.New("netcore: device not found")
	ErrDuplicateDevice  = errors.New("netcore: device already registered")
	ErrAddressNotBound  = errors.New("netcore: address not bound")
	ErrAddressExists    = errors.New("netcore: address already bound")
	ErrRouteNotFound    = errors.New("netcore: route not found")
	ErrRouteConflict    = errors.New("netcore: route conflicts with existing entry")
	ErrGatewayUnreached = errors.New("netcore: gateway not reachable")

	// Configuration errors
	ErrConfigInvalid = errors.New("netcore: invalid configuration")

	// Daemon errors
	ErrDaemonNotRunning = errors.New("netcore: daemon not running")

	// Control requests
	ErrRequestMalformed = errors.New("netcore: control request is not valid json")
	ErrRequestInvalid   = errors.New("netcore: control request is not json-rpc 2.0")
)
