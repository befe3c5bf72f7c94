package stack

import (
	"net"
	"net/netip"
	"testing"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gvisor.dev/gvisor/pkg/tcpip"
	"gvisor.dev/gvisor/pkg/tcpip/checksum"
	"gvisor.dev/gvisor/pkg/tcpip/header"

	"firestige.xyz/netcore/internal/device"
)

var (
	hostMAC = net.HardwareAddr{0x02, 0x00, 0x00, 0x00, 0x00, 0x01}
	peerMAC = net.HardwareAddr{0x02, 0x00, 0x00, 0x00, 0x00, 0x02}
	hostIP  = netip.MustParseAddr("10.0.0.1")
	peerIP  = netip.MustParseAddr("10.0.0.2")
	mask24  = netip.MustParseAddr("255.255.255.0")
)

type fixture struct {
	s   *Stack
	dev *device.Device
	ch  *device.Channel
}

// newFixture returns a stack with one channel device eth0 bound to
// 10.0.0.1/24. The address announcement is discarded.
func newFixture(t *testing.T) *fixture {
	t.Helper()
	s, err := New(Options{Buffers: 32})
	require.NoError(t, err)

	ch := device.NewChannel(64)
	dev, err := s.AddDevice("eth0", hostMAC, device.Resources{}, ch)
	require.NoError(t, err)
	require.NoError(t, s.BindAddress(dev.ID, hostIP, mask24))
	ch.Drain()

	return &fixture{s: s, dev: dev, ch: ch}
}

// addChannel attaches another channel device with addr/24 bound.
func (f *fixture) addChannel(t *testing.T, name string, hw net.HardwareAddr, addr netip.Addr) (*device.Device, *device.Channel) {
	t.Helper()
	ch := device.NewChannel(64)
	dev, err := f.s.AddDevice(name, hw, device.Resources{}, ch)
	require.NoError(t, err)
	require.NoError(t, f.s.BindAddress(dev.ID, addr, mask24))
	ch.Drain()
	return dev, ch
}

func (f *fixture) learnPeer(t *testing.T) {
	t.Helper()
	require.NoError(t, f.s.ARP().Add(peerIP, peerMAC, f.dev.ID, 0))
}

func (f *fixture) inject(t *testing.T, frame []byte) {
	t.Helper()
	require.NoError(t, f.ch.Inject(frame))
	f.s.Poll()
}

func assertNoLeak(t *testing.T, s *Stack) {
	t.Helper()
	st := s.Pool().Stats()
	assert.Equal(t, st.Total, st.Free, "buffers not returned: %+v", st)
}

func serialize(t *testing.T, ls ...gopacket.SerializableLayer) []byte {
	t.Helper()
	buf := gopacket.NewSerializeBuffer()
	opts := gopacket.SerializeOptions{FixLengths: true, ComputeChecksums: true}
	require.NoError(t, gopacket.SerializeLayers(buf, opts, ls...))
	return buf.Bytes()
}

func ip4(a netip.Addr) net.IP { return net.IP(a.AsSlice()) }

func ipv4Layer(src, dst netip.Addr, ttl uint8, proto layers.IPProtocol) *layers.IPv4 {
	return &layers.IPv4{
		Version:  4,
		TTL:      ttl,
		Id:       0x1234,
		Protocol: proto,
		SrcIP:    ip4(src),
		DstIP:    ip4(dst),
	}
}

func ethLayer(src, dst net.HardwareAddr, typ layers.EthernetType) *layers.Ethernet {
	return &layers.Ethernet{SrcMAC: src, DstMAC: dst, EthernetType: typ}
}

func udpFrame(t *testing.T, src, dst netip.Addr, sport, dport uint16, ttl uint8, payload []byte) []byte {
	t.Helper()
	ip := ipv4Layer(src, dst, ttl, layers.IPProtocolUDP)
	udp := &layers.UDP{SrcPort: layers.UDPPort(sport), DstPort: layers.UDPPort(dport)}
	require.NoError(t, udp.SetNetworkLayerForChecksum(ip))
	return serialize(t, ethLayer(peerMAC, hostMAC, layers.EthernetTypeIPv4), ip, udp, gopacket.Payload(payload))
}

func tcpFrame(t *testing.T, tcp *layers.TCP) []byte {
	t.Helper()
	ip := ipv4Layer(peerIP, hostIP, 64, layers.IPProtocolTCP)
	require.NoError(t, tcp.SetNetworkLayerForChecksum(ip))
	return serialize(t, ethLayer(peerMAC, hostMAC, layers.EthernetTypeIPv4), ip, tcp)
}

func arpFrame(t *testing.T, op uint16, senderHW net.HardwareAddr, sender netip.Addr, targetHW net.HardwareAddr, target netip.Addr) []byte {
	t.Helper()
	dst := net.HardwareAddr(header.EthernetBroadcastAddress)
	if op == layers.ARPReply {
		dst = targetHW
	}
	if targetHW == nil {
		targetHW = make(net.HardwareAddr, 6)
	}
	a := &layers.ARP{
		AddrType:          layers.LinkTypeEthernet,
		Protocol:          layers.EthernetTypeIPv4,
		HwAddressSize:     6,
		ProtAddressSize:   4,
		Operation:         op,
		SourceHwAddress:   senderHW,
		SourceProtAddress: sender.AsSlice(),
		DstHwAddress:      targetHW,
		DstProtAddress:    target.AsSlice(),
	}
	return serialize(t, ethLayer(senderHW, dst, layers.EthernetTypeARP), a)
}

func decode(t *testing.T, frame []byte) gopacket.Packet {
	t.Helper()
	pkt := gopacket.NewPacket(frame, layers.LayerTypeEthernet, gopacket.Default)
	require.Nil(t, pkt.ErrorLayer(), "decode: %v", pkt.ErrorLayer())
	return pkt
}

func layerOf[T gopacket.Layer](t *testing.T, pkt gopacket.Packet, lt gopacket.LayerType) T {
	t.Helper()
	l := pkt.Layer(lt)
	require.NotNil(t, l, "missing %s layer", lt)
	return l.(T)
}

// transportValid verifies a UDP or TCP checksum including the pseudo-header.
func transportValid(ip *layers.IPv4, seg []byte) bool {
	src := tcpip.AddrFromSlice(ip.SrcIP.To4())
	dst := tcpip.AddrFromSlice(ip.DstIP.To4())
	proto := tcpip.TransportProtocolNumber(ip.Protocol)
	sum := header.PseudoHeaderChecksum(proto, src, dst, uint16(len(seg)))
	return checksum.Checksum(seg, sum) == 0xffff
}
