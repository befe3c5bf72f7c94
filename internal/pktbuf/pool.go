// Package pktbuf implements the fixed-capacity packet buffer pool.
//
// Buffers live in an arena allocated once by New and are addressed by
// slot index. Every slot carries an explicit membership tag and sits in
// exactly one place at a time: the free list, the inbound queue, one
// device's outbound queue, or in the hands of a caller. Moving a buffer
// between places relinks indices; frame memory is never copied or freed.
package pktbuf

import (
	"fmt"
	"sync"

	"gvisor.dev/gvisor/pkg/tcpip/header"

	"firestige.xyz/netcore/internal/core"
)

const (
	// FrameSize is the capacity of every buffer, larger than any
	// untagged Ethernet frame.
	FrameSize = 2048

	// LinkHeaderLen is the Ethernet header length assumed for fresh
	// buffers; the payload starts right after it.
	LinkHeaderLen = header.EthernetMinimumSize

	// MinBuffers is the smallest pool New accepts.
	MinBuffers = 16

	none int32 = -1
)

// List identifies where a buffer currently lives.
type List uint8

const (
	ListFree List = iota
	ListHeld
	ListInbound
	ListOutbound
)

func (l List) String() string {
	switch l {
	case ListFree:
		return "free"
	case ListHeld:
		return "held"
	case ListInbound:
		return "inbound"
	case ListOutbound:
		return "outbound"
	default:
		return fmt.Sprintf("list(%d)", uint8(l))
	}
}

// Buffer is one frame slot of the pool.
type Buffer struct {
	frame [FrameSize]byte

	// Len is the number of payload bytes following the link header.
	Len int
	// HeaderLen is the link header length; the payload starts here.
	HeaderLen int
	// Device is the owning device, NoDevice while free.
	Device core.DeviceID

	index int32
}

// Index returns the arena slot of b.
func (b *Buffer) Index() int { return int(b.index) }

// Frame returns the whole backing frame.
func (b *Buffer) Frame() []byte { return b.frame[:] }

// Link returns the link header bytes.
func (b *Buffer) Link() []byte { return b.frame[:b.HeaderLen] }

// Data returns the payload bytes, Len long.
func (b *Buffer) Data() []byte { return b.frame[b.HeaderLen : b.HeaderLen+b.Len] }

// Room returns the writable payload area up to the end of the frame.
func (b *Buffer) Room() []byte { return b.frame[b.HeaderLen:] }

// Bytes returns the wire frame: link header plus payload.
func (b *Buffer) Bytes() []byte { return b.frame[:b.HeaderLen+b.Len] }

// SetFrame copies a received wire frame into b, splitting off the link
// header. Frames that do not fit, or are shorter than a link header, are
// rejected.
func (b *Buffer) SetFrame(p []byte) error {
	if len(p) < LinkHeaderLen {
		return core.ErrPacketTooShort
	}
	if len(p) > FrameSize {
		return core.ErrPayloadTooLarge
	}
	copy(b.frame[:], p)
	b.HeaderLen = LinkHeaderLen
	b.Len = len(p) - LinkHeaderLen
	return nil
}

type slot struct {
	list List
	dev  core.DeviceID
	next int32
}

// queue is an index-linked FIFO.
type queue struct {
	head, tail int32
	n          int
}

func newQueue() queue { return queue{head: none, tail: none} }

// Stats is a point-in-time census of the pool.
type Stats struct {
	Total    int `json:"total"`
	Free     int `json:"free"`
	Held     int `json:"held"`
	Inbound  int `json:"inbound"`
	Outbound int `json:"outbound"`
}

// Pool is a fixed set of reusable buffers.
type Pool struct {
	mu       sync.Mutex
	bufs     []Buffer
	slots    []slot
	free     queue
	inbound  queue
	outbound map[core.DeviceID]*queue
	held     int
}

// New allocates a pool of n buffers, all on the free list in index order.
func New(n int) (*Pool, error) {
	if n < MinBuffers {
		return nil, fmt.Errorf("%d buffers requested, need at least %d: %w", n, MinBuffers, core.ErrPoolTooSmall)
	}
	p := &Pool{
		bufs:     make([]Buffer, n),
		slots:    make([]slot, n),
		free:     newQueue(),
		inbound:  newQueue(),
		outbound: make(map[core.DeviceID]*queue),
	}
	for i := range p.bufs {
		p.bufs[i].index = int32(i)
		p.slots[i] = slot{list: ListFree, next: none}
		p.push(&p.free, int32(i))
	}
	return p, nil
}

// Size returns the number of buffers in the pool.
func (p *Pool) Size() int { return len(p.bufs) }

func (p *Pool) push(q *queue, i int32) {
	p.slots[i].next = none
	if q.tail == none {
		q.head = i
	} else {
		p.slots[q.tail].next = i
	}
	q.tail = i
	q.n++
}

func (p *Pool) pop(q *queue) int32 {
	i := q.head
	if i == none {
		return none
	}
	q.head = p.slots[i].next
	if q.head == none {
		q.tail = none
	}
	p.slots[i].next = none
	q.n--
	return i
}

// heldIndex validates that b belongs to p and is currently held.
// Callers hold p.mu.
func (p *Pool) heldIndex(b *Buffer) (int32, error) {
	if b == nil || b.index < 0 || int(b.index) >= len(p.bufs) || &p.bufs[b.index] != b {
		return none, core.ErrNotOwned
	}
	if p.slots[b.index].list != ListHeld {
		return none, fmt.Errorf("buffer %d is %s: %w", b.index, p.slots[b.index].list, core.ErrNotOwned)
	}
	return b.index, nil
}

// Allocate takes the buffer at the head of the free list and hands it to
// the caller, owned by dev. It never blocks; an empty free list returns
// core.ErrPoolExhausted.
func (p *Pool) Allocate(dev core.DeviceID) (*Buffer, error) {
	p.mu.Lock()
	i := p.pop(&p.free)
	if i == none {
		p.mu.Unlock()
		return nil, core.ErrPoolExhausted
	}
	p.slots[i].list = ListHeld
	p.slots[i].dev = dev
	p.held++
	p.mu.Unlock()

	b := &p.bufs[i]
	b.Len = 0
	b.HeaderLen = LinkHeaderLen
	b.Device = dev
	return b, nil
}

// Release returns a held buffer to the tail of the free list.
func (p *Pool) Release(b *Buffer) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	i, err := p.heldIndex(b)
	if err != nil {
		return err
	}
	p.held--
	p.slots[i].list = ListFree
	p.slots[i].dev = core.NoDevice
	b.Device = core.NoDevice
	p.push(&p.free, i)
	return nil
}

// EnqueueInbound appends a held buffer to the inbound queue.
func (p *Pool) EnqueueInbound(b *Buffer) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	i, err := p.heldIndex(b)
	if err != nil {
		return err
	}
	p.held--
	p.slots[i].list = ListInbound
	p.push(&p.inbound, i)
	return nil
}

// DequeueInbound removes the oldest inbound buffer and hands it to the
// caller.
func (p *Pool) DequeueInbound() (*Buffer, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	i := p.pop(&p.inbound)
	if i == none {
		return nil, false
	}
	p.slots[i].list = ListHeld
	p.held++
	return &p.bufs[i], true
}

// EnqueueOutbound appends a held buffer to dev's transmit queue and makes
// dev its owner.
func (p *Pool) EnqueueOutbound(dev core.DeviceID, b *Buffer) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	i, err := p.heldIndex(b)
	if err != nil {
		return err
	}
	q, ok := p.outbound[dev]
	if !ok {
		nq := newQueue()
		q = &nq
		p.outbound[dev] = q
	}
	p.held--
	p.slots[i].list = ListOutbound
	p.slots[i].dev = dev
	b.Device = dev
	p.push(q, i)
	return nil
}

// DequeueOutbound removes the oldest buffer queued for dev.
func (p *Pool) DequeueOutbound(dev core.DeviceID) (*Buffer, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	q, ok := p.outbound[dev]
	if !ok {
		return nil, false
	}
	i := p.pop(q)
	if i == none {
		return nil, false
	}
	p.slots[i].list = ListHeld
	p.held++
	return &p.bufs[i], true
}

// DrainOutbound moves every buffer queued for dev back to the free list
// and forgets the queue. It returns the number of buffers reclaimed.
func (p *Pool) DrainOutbound(dev core.DeviceID) int {
	p.mu.Lock()
	defer p.mu.Unlock()

	q, ok := p.outbound[dev]
	if !ok {
		return 0
	}
	n := 0
	for i := p.pop(q); i != none; i = p.pop(q) {
		p.slots[i].list = ListFree
		p.slots[i].dev = core.NoDevice
		p.bufs[i].Device = core.NoDevice
		p.push(&p.free, i)
		n++
	}
	delete(p.outbound, dev)
	return n
}

// OutboundLen returns the number of buffers queued for dev.
func (p *Pool) OutboundLen(dev core.DeviceID) int {
	p.mu.Lock()
	defer p.mu.Unlock()

	if q, ok := p.outbound[dev]; ok {
		return q.n
	}
	return 0
}

// Where reports the list a buffer is currently on.
func (p *Pool) Where(b *Buffer) List {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.slots[b.index].list
}

// Stats counts buffers per list under a single lock acquisition.
func (p *Pool) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()

	s := Stats{
		Total:   len(p.bufs),
		Free:    p.free.n,
		Held:    p.held,
		Inbound: p.inbound.n,
	}
	for _, q := range p.outbound {
		s.Outbound += q.n
	}
	return s
}
