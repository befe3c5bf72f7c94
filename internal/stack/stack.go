// Package stack implements the protocol engine: it owns the buffer pool
// and the fixed tables, dispatches received frames and builds outgoing
// ones for ARP, IPv4, ICMP, UDP and the TCP handshake.
package stack

import (
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"firestige.xyz/netcore/internal/arp"
	"firestige.xyz/netcore/internal/core"
	"firestige.xyz/netcore/internal/device"
	"firestige.xyz/netcore/internal/metrics"
	"firestige.xyz/netcore/internal/pktbuf"
	"firestige.xyz/netcore/internal/route"
	"firestige.xyz/netcore/internal/sniffer"
	"firestige.xyz/netcore/internal/socket"
)

// DefaultBuffers is the pool size used when Options.Buffers is zero.
const DefaultBuffers = 256

// Options configures a Stack. Zero values select the defaults.
type Options struct {
	Buffers      int
	ARPCacheSize int
	RouteEntries int
	Sockets      int
	Routing      bool

	// Capture, when set, receives every frame delivered or transmitted.
	Capture *sniffer.Writer

	// Tick supplies IP identification values.
	Tick func() uint16
}

// Stack is one independent network stack instance.
type Stack struct {
	pool    *pktbuf.Pool
	devices *device.Registry
	arp     *arp.Cache
	routes  *route.Table
	sockets *socket.Registry

	routing atomic.Bool
	ticks   atomic.Uint32
	tick    func() uint16
	capture *sniffer.Writer
	notify  chan struct{}

	// held while a frame is dispatched and while a device is removed
	dispatchMu sync.Mutex
}

// New creates a stack with its own pool and tables.
func New(opts Options) (*Stack, error) {
	if opts.Buffers == 0 {
		opts.Buffers = DefaultBuffers
	}
	if opts.ARPCacheSize == 0 {
		opts.ARPCacheSize = arp.DefaultSize
	}
	if opts.RouteEntries == 0 {
		opts.RouteEntries = route.DefaultSize
	}
	if opts.Sockets == 0 {
		opts.Sockets = socket.DefaultSize
	}

	pool, err := pktbuf.New(opts.Buffers)
	if err != nil {
		return nil, fmt.Errorf("create buffer pool: %w", err)
	}

	s := &Stack{
		pool:    pool,
		devices: device.NewRegistry(),
		arp:     arp.New(opts.ARPCacheSize),
		routes:  route.New(opts.RouteEntries),
		sockets: socket.NewRegistry(opts.Sockets),
		capture: opts.Capture,
		notify:  make(chan struct{}, 1),
		tick:    opts.Tick,
	}
	if s.tick == nil {
		s.tick = func() uint16 { return uint16(s.ticks.Add(1)) }
	}
	s.routing.Store(opts.Routing)
	return s, nil
}

func (s *Stack) Pool() *pktbuf.Pool        { return s.pool }
func (s *Stack) Devices() *device.Registry { return s.devices }
func (s *Stack) ARP() *arp.Cache           { return s.arp }
func (s *Stack) Routes() *route.Table      { return s.routes }
func (s *Stack) Sockets() *socket.Registry { return s.sockets }
func (s *Stack) Capture() *sniffer.Writer  { return s.capture }
func (s *Stack) SetRouting(enabled bool)   { s.routing.Store(enabled) }
func (s *Stack) Routing() bool             { return s.routing.Load() }

// Allocate takes a buffer from the pool on behalf of dev.
func (s *Stack) Allocate(dev core.DeviceID) (*pktbuf.Buffer, error) {
	return s.pool.Allocate(dev)
}

// Release returns a held buffer to the pool.
func (s *Stack) Release(b *pktbuf.Buffer) error {
	return s.pool.Release(b)
}

// DequeueOutbound hands the next queued frame of dev to its driver.
func (s *Stack) DequeueOutbound(dev core.DeviceID) (*pktbuf.Buffer, bool) {
	return s.pool.DequeueOutbound(dev)
}

// Deliver queues a received frame for the run loop. The buffer belongs to
// the stack afterwards, even on error.
func (s *Stack) Deliver(b *pktbuf.Buffer) error {
	s.record(sniffer.Inbound, b)
	if dev, ok := s.devices.Get(b.Device); ok {
		metrics.FramesTotal.WithLabelValues(dev.Name, metrics.DirectionRx).Inc()
	}
	if err := s.pool.EnqueueInbound(b); err != nil {
		s.release(b)
		return err
	}
	select {
	case s.notify <- struct{}{}:
	default:
	}
	return nil
}

func (s *Stack) record(dir sniffer.Direction, b *pktbuf.Buffer) {
	if s.capture == nil {
		return
	}
	if err := s.capture.Record(dir, b.Bytes()); err != nil {
		slog.Debug("capture failed", "error", err)
	}
}

func (s *Stack) release(b *pktbuf.Buffer) {
	if err := s.pool.Release(b); err != nil {
		slog.Warn("release buffer failed", "buffer", b.Index(), "error", err)
	}
}

func drop(layer, reason string) {
	metrics.DropsTotal.WithLabelValues(layer, reason).Inc()
}

// SampleMetrics refreshes the pool and table gauges.
func (s *Stack) SampleMetrics() {
	st := s.pool.Stats()
	metrics.PoolBuffers.WithLabelValues(pktbuf.ListFree.String()).Set(float64(st.Free))
	metrics.PoolBuffers.WithLabelValues(pktbuf.ListHeld.String()).Set(float64(st.Held))
	metrics.PoolBuffers.WithLabelValues(pktbuf.ListInbound.String()).Set(float64(st.Inbound))
	metrics.PoolBuffers.WithLabelValues(pktbuf.ListOutbound.String()).Set(float64(st.Outbound))

	metrics.TableEntries.WithLabelValues("arp").Set(float64(s.arp.Len()))
	metrics.TableEntries.WithLabelValues("route").Set(float64(len(s.routes.Entries())))
	metrics.TableEntries.WithLabelValues("socket").Set(float64(len(s.sockets.Sockets())))
}
