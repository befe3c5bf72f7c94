package stack

import (
	"net"
	"net/netip"
	"testing"

	"github.com/google/gopacket/layers"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"firestige.xyz/netcore/internal/arp"
	"firestige.xyz/netcore/internal/core"
	"firestige.xyz/netcore/internal/device"
	"firestige.xyz/netcore/internal/route"
)

func TestBindAddress(t *testing.T) {
	s, err := New(Options{Buffers: 16})
	require.NoError(t, err)
	ch := device.NewChannel(8)
	dev, err := s.AddDevice("eth0", hostMAC, device.Resources{Port: 0x300, IRQ: 10}, ch)
	require.NoError(t, err)

	addr := netip.MustParseAddr("172.16.5.5")
	require.NoError(t, s.BindAddress(dev.ID, addr, netip.Addr{}))

	got, ok := dev.Lookup(addr)
	require.True(t, ok)
	assert.Equal(t, netip.MustParseAddr("255.255.0.0"), got.Netmask)

	// announcement: who-has addr, sender 0.0.0.0
	out := ch.Drain()
	require.Len(t, out, 1)
	a := layerOf[*layers.ARP](t, decode(t, out[0]), layers.LayerTypeARP)
	assert.Equal(t, uint16(layers.ARPRequest), a.Operation)
	assert.Equal(t, []byte{0, 0, 0, 0}, a.SourceProtAddress)
	assert.Equal(t, addr.AsSlice(), a.DstProtAddress)

	rec, ok := s.ARP().Find(addr)
	require.True(t, ok)
	assert.True(t, rec.Permanent())
	assert.Equal(t, hostMAC, rec.HWAddr)

	entries := s.Routes().Entries()
	require.Len(t, entries, 1)
	assert.Equal(t, netip.MustParseAddr("172.16.0.0"), entries[0].Network)
	assert.Equal(t, dev.ID, entries[0].Device)
	assert.NotZero(t, entries[0].Flags&route.FlagPermanent)

	assert.ErrorIs(t, s.BindAddress(dev.ID, addr, mask24), core.ErrAddressExists)
	assert.ErrorIs(t, s.BindAddress(99, addr, mask24), core.ErrDeviceNotFound)

	// a flush keeps what binding installed
	s.ARP().Flush()
	s.Routes().Flush()
	_, ok = s.ARP().Find(addr)
	assert.True(t, ok)
	assert.Len(t, s.Routes().Entries(), 1)
	assertNoLeak(t, s)
}

func TestUnbindAddress(t *testing.T) {
	f := newFixture(t)

	require.NoError(t, f.s.UnbindAddress(f.dev.ID, hostIP))
	assert.False(t, f.dev.IsBound(hostIP))
	_, ok := f.s.ARP().Find(hostIP)
	assert.False(t, ok)
	assert.Empty(t, f.s.Routes().Entries())

	assert.ErrorIs(t, f.s.UnbindAddress(f.dev.ID, hostIP), core.ErrAddressNotBound)
	assert.ErrorIs(t, f.s.UnbindAddress(42, hostIP), core.ErrDeviceNotFound)
}

func TestUnbindAddressKeepsOtherDeviceRoute(t *testing.T) {
	f := newFixture(t)
	addr := netip.MustParseAddr("10.0.0.5")
	eth1, _ := f.addChannel(t, "eth1", peerMAC, addr)
	require.Len(t, f.s.Routes().Entries(), 2)

	require.NoError(t, f.s.UnbindAddress(eth1.ID, addr))

	entries := f.s.Routes().Entries()
	require.Len(t, entries, 1)
	assert.Equal(t, f.dev.ID, entries[0].Device)
	assert.Equal(t, netip.MustParseAddr("10.0.0.0"), entries[0].Network)

	dev, ok := f.s.Routes().FindDevice(netip.MustParseAddr("10.0.0.9"))
	require.True(t, ok)
	assert.Equal(t, f.dev.ID, dev)
	assertNoLeak(t, f.s)
}

func TestAddDeviceValidation(t *testing.T) {
	s, err := New(Options{Buffers: 16})
	require.NoError(t, err)

	_, err = s.AddDevice("eth0", net.HardwareAddr{1, 2, 3}, device.Resources{}, device.NewChannel(1))
	assert.ErrorIs(t, err, core.ErrConfigInvalid)

	_, err = s.AddDevice("eth0", hostMAC, device.Resources{}, device.NewChannel(1))
	require.NoError(t, err)
	_, err = s.AddDevice("eth0", peerMAC, device.Resources{}, device.NewChannel(1))
	assert.ErrorIs(t, err, core.ErrDuplicateDevice)
}

func TestRemoveDevice(t *testing.T) {
	f, eth1, ch1 := routerFixture(t)
	require.NoError(t, f.s.AddGatewayRoute(netip.MustParseAddr("192.168.0.0"), netip.MustParseAddr("255.255.0.0"), netip.MustParseAddr("10.1.0.254")))
	f.learnPeer(t)

	require.NoError(t, f.s.RemoveDevice(eth1.ID))

	_, ok := f.s.Devices().Get(eth1.ID)
	assert.False(t, ok)
	assert.Empty(t, eth1.Addresses())
	for _, rec := range f.s.ARP().Records() {
		assert.NotEqual(t, eth1.ID, rec.Device, "arp record %s still points at removed device", rec.Addr)
	}
	for _, e := range f.s.Routes().Entries() {
		assert.NotEqual(t, eth1.ID, e.Device, "route %s still points at removed device", e.Network)
	}

	// eth0 is untouched
	_, ok = f.s.ARP().Find(peerIP)
	assert.True(t, ok)
	_, ok = f.s.Routes().Lookup(peerIP)
	assert.True(t, ok)

	// datagrams for the removed network have nowhere to go
	f.inject(t, udpFrame(t, peerIP, netip.MustParseAddr("10.1.0.2"), 1, 2, 64, []byte("x")))
	assert.Empty(t, ch1.Drain())

	assert.ErrorIs(t, f.s.RemoveDevice(eth1.ID), core.ErrDeviceNotFound)
	assertNoLeak(t, f.s)
}

func TestAddGatewayRoute(t *testing.T) {
	f := newFixture(t)
	network := netip.MustParseAddr("192.168.0.0")
	mask := netip.MustParseAddr("255.255.0.0")

	err := f.s.AddGatewayRoute(network, mask, netip.MustParseAddr("172.16.0.1"))
	assert.ErrorIs(t, err, core.ErrGatewayUnreached)

	err = f.s.AddGatewayRoute(netip.MustParseAddr("10.0.0.0"), mask24, netip.MustParseAddr("10.0.0.254"))
	assert.ErrorIs(t, err, core.ErrRouteConflict)

	require.NoError(t, f.s.AddGatewayRoute(network, mask, netip.MustParseAddr("10.0.0.254")))
	e, ok := f.s.Routes().Lookup(netip.MustParseAddr("192.168.7.7"))
	require.True(t, ok)
	assert.Equal(t, f.dev.ID, e.Device)
	assert.Equal(t, netip.MustParseAddr("10.0.0.254"), e.NextHop(netip.MustParseAddr("192.168.7.7")))

	// datagrams to the remote network take the source of the gateway's network
	b, err := f.s.BuildDatagram(core.ProtoUDP, netip.MustParseAddr("192.168.7.7"), nil)
	require.NoError(t, err)
	require.NoError(t, f.s.Release(b))

	require.NoError(t, f.s.DeleteRoute(network, mask))
	assert.ErrorIs(t, f.s.DeleteRoute(network, mask), core.ErrRouteNotFound)
}

func TestPurgeDevice(t *testing.T) {
	f := newFixture(t)
	f.learnPeer(t)
	require.NoError(t, f.s.ARP().Add(netip.MustParseAddr("10.0.0.50"), peerMAC, f.dev.ID, arp.FlagPermanent))

	f.s.PurgeDevice(f.dev)
	assert.Empty(t, f.dev.Addresses())
	assert.Zero(t, f.s.ARP().Len())
}
