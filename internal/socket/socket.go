// Package socket implements the fixed-size socket registry through which
// upper-level clients receive UDP datagrams and accept TCP handshakes.
package socket

import (
	"fmt"
	"net/netip"
	"sync"

	"firestige.xyz/netcore/internal/core"
	"firestige.xyz/netcore/internal/device"
)

// DefaultSize is the number of sockets in a registry.
const DefaultSize = 1024

// Type tags the protocol of a socket.
type Type uint8

const (
	TypeUnused Type = iota
	TypeUDP4
	TypeTCP4
)

func (t Type) String() string {
	switch t {
	case TypeUnused:
		return "unused"
	case TypeUDP4:
		return "udp4"
	case TypeTCP4:
		return "tcp4"
	default:
		return fmt.Sprintf("type(%d)", uint8(t))
	}
}

// State is the lifecycle state of a socket slot.
type State uint8

const (
	StateUnused State = iota
	StateListen
)

func (s State) String() string {
	if s == StateListen {
		return "listen"
	}
	return "unused"
}

// Callback receives a datagram addressed to a socket. payload aliases the
// packet buffer and is only valid for the duration of the call.
type Callback func(s *Socket, dev *device.Device, src netip.Addr, srcPort uint16, payload []byte)

// Socket is one slot of the registry.
type Socket struct {
	reg   *Registry
	index int

	typ      Type
	state    State
	port     uint16
	callback Callback
	tcp      TCPState
}

// Index returns the slot number.
func (s *Socket) Index() int { return s.index }

// Type returns the socket type.
func (s *Socket) Type() Type {
	s.reg.mu.Lock()
	defer s.reg.mu.Unlock()
	return s.typ
}

// State returns the lifecycle state.
func (s *Socket) State() State {
	s.reg.mu.Lock()
	defer s.reg.mu.Unlock()
	return s.state
}

// Port returns the bound port, zero when unbound.
func (s *Socket) Port() uint16 {
	s.reg.mu.Lock()
	defer s.reg.mu.Unlock()
	return s.port
}

// Callback returns the registered callback.
func (s *Socket) Callback() Callback {
	s.reg.mu.Lock()
	defer s.reg.mu.Unlock()
	return s.callback
}

// Info is a snapshot of a socket for reporting.
type Info struct {
	Index    int    `json:"index"`
	Type     string `json:"type"`
	State    string `json:"state"`
	Port     uint16 `json:"port"`
	TCPState string `json:"tcp_state,omitempty"`
}

// Registry is a fixed table of sockets.
type Registry struct {
	mu      sync.Mutex
	sockets []Socket
}

// NewRegistry creates a registry of size slots.
func NewRegistry(size int) *Registry {
	if size <= 0 {
		size = DefaultSize
	}
	r := &Registry{sockets: make([]Socket, size)}
	for i := range r.sockets {
		r.sockets[i].reg = r
		r.sockets[i].index = i
	}
	return r
}

// Alloc claims the first slot with no type. A closed socket keeps its type
// and slot until it is allocated again by a fresh scan, so it is not
// reclaimed here.
func (r *Registry) Alloc(typ Type) (*Socket, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for i := range r.sockets {
		s := &r.sockets[i]
		if s.typ == TypeUnused {
			s.typ = typ
			s.state = StateUnused
			s.port = 0
			s.callback = nil
			s.tcp = TCPState{}
			return s, nil
		}
	}
	return nil, fmt.Errorf("alloc %s: %w", typ, core.ErrSocketTableFull)
}

// Free returns the slot to the allocator.
func (r *Registry) Free(s *Socket) {
	r.mu.Lock()
	defer r.mu.Unlock()
	*s = Socket{reg: r, index: s.index}
}

// Bind attaches s to port and puts it in LISTEN. It fails when another
// socket of the same type owns the port. TCP sockets get a fresh
// connection state.
func (r *Registry) Bind(s *Socket, port uint16) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for i := range r.sockets {
		o := &r.sockets[i]
		if o != s && o.typ == s.typ && o.state != StateUnused && o.port == port {
			return fmt.Errorf("bind %s port %d: %w", s.typ, port, core.ErrPortInUse)
		}
	}
	s.port = port
	s.state = StateListen
	if s.typ == TypeTCP4 {
		s.tcp = TCPState{State: TCPListen}
	}
	return nil
}

// Find returns the listening socket of typ bound to port.
func (r *Registry) Find(typ Type, port uint16) (*Socket, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for i := range r.sockets {
		s := &r.sockets[i]
		if s.typ == typ && s.state == StateListen && s.port == port {
			return s, true
		}
	}
	return nil, false
}

// Close resets state and port. The callback stays until the next bind or
// SetCallback.
func (r *Registry) Close(s *Socket) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s.state = StateUnused
	s.port = 0
	s.tcp = TCPState{}
}

// SetCallback installs fn as the receive handler of s.
func (r *Registry) SetCallback(s *Socket, fn Callback) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s.callback = fn
}

// Sockets lists every allocated slot.
func (r *Registry) Sockets() []Info {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []Info
	for i := range r.sockets {
		s := &r.sockets[i]
		if s.typ == TypeUnused {
			continue
		}
		info := Info{Index: s.index, Type: s.typ.String(), State: s.state.String(), Port: s.port}
		if s.typ == TypeTCP4 && s.state == StateListen {
			info.TCPState = s.tcp.State.String()
		}
		out = append(out, info)
	}
	return out
}
