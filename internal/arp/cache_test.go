package arp

import (
	"net"
	"net/netip"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"firestige.xyz/netcore/internal/core"
)

var (
	hwA = net.HardwareAddr{0x02, 0, 0, 0, 0, 0xa}
	hwB = net.HardwareAddr{0x02, 0, 0, 0, 0, 0xb}
)

func addr(i int) netip.Addr {
	return netip.AddrFrom4([4]byte{10, 0, byte(i >> 8), byte(i)})
}

func TestCacheBound(t *testing.T) {
	c := New(DefaultSize)
	for i := 1; i <= DefaultSize; i++ {
		require.NoError(t, c.Add(addr(i), hwA, 1, 0))
	}
	err := c.Add(addr(DefaultSize+1), hwA, 1, 0)
	assert.ErrorIs(t, err, core.ErrCacheFull)
	assert.Equal(t, DefaultSize, c.Len())
}

func TestFlushKeepsPermanent(t *testing.T) {
	c := New(8)
	require.NoError(t, c.Add(addr(1), hwA, 1, FlagPermanent))
	require.NoError(t, c.Add(addr(2), hwA, 1, 0))
	require.NoError(t, c.Add(addr(3), hwB, 2, 0))

	assert.Equal(t, 2, c.Flush())

	recs := c.Records()
	require.Len(t, recs, 1)
	assert.Equal(t, addr(1), recs[0].Addr)
	assert.True(t, recs[0].Permanent())
}

func TestUpdateOrAdd(t *testing.T) {
	c := New(4)
	require.NoError(t, c.Update(addr(1), hwA, 1))
	require.NoError(t, c.Update(addr(1), hwB, 2))
	assert.Equal(t, 1, c.Len(), "update must not duplicate")

	r, ok := c.Find(addr(1))
	require.True(t, ok)
	assert.Equal(t, hwB, r.HWAddr)
	assert.Equal(t, core.DeviceID(2), r.Device)
	assert.False(t, r.Permanent())
}

func TestUpdateFullCache(t *testing.T) {
	c := New(1)
	require.NoError(t, c.Update(addr(1), hwA, 1))
	assert.NoError(t, c.Update(addr(1), hwB, 1), "existing record is still updatable")
	assert.ErrorIs(t, c.Update(addr(2), hwA, 1), core.ErrCacheFull)
}

func TestRemoveMatchesDevice(t *testing.T) {
	c := New(4)
	require.NoError(t, c.Add(addr(1), hwA, 1, FlagPermanent))

	assert.False(t, c.Remove(addr(1), 2))
	assert.True(t, c.Remove(addr(1), 1))
	_, ok := c.Find(addr(1))
	assert.False(t, ok)
}

func TestFlushDevice(t *testing.T) {
	c := New(4)
	require.NoError(t, c.Add(addr(1), hwA, 1, FlagPermanent))
	require.NoError(t, c.Add(addr(2), hwA, 1, 0))
	require.NoError(t, c.Add(addr(3), hwB, 2, 0))

	assert.Equal(t, 2, c.FlushDevice(1))
	assert.Equal(t, 1, c.Len())
	_, ok := c.Find(addr(3))
	assert.True(t, ok)
}

func TestFindReturnsCopy(t *testing.T) {
	c := New(4)
	require.NoError(t, c.Add(addr(1), hwA, 1, 0))

	r, _ := c.Find(addr(1))
	r.HWAddr[5] = 0xff

	again, _ := c.Find(addr(1))
	assert.Equal(t, hwA, again.HWAddr)
}
