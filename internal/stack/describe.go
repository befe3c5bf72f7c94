package stack

import (
	"fmt"
	"strings"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
)

// describe renders a one-line summary of an Ethernet frame for debug logs.
func describe(frame []byte) string {
	pkt := gopacket.NewPacket(frame, layers.LayerTypeEthernet, gopacket.NoCopy)

	var parts []string
	for _, l := range pkt.Layers() {
		switch l := l.(type) {
		case *layers.Ethernet:
			parts = append(parts, fmt.Sprintf("%s > %s", l.SrcMAC, l.DstMAC))
		case *layers.ARP:
			parts = append(parts, fmt.Sprintf("arp op %d %s > %s",
				l.Operation, ipString(l.SourceProtAddress), ipString(l.DstProtAddress)))
		case *layers.IPv4:
			parts = append(parts, fmt.Sprintf("%s > %s ttl %d", l.SrcIP, l.DstIP, l.TTL))
		case *layers.ICMPv4:
			parts = append(parts, "icmp "+l.TypeCode.String())
		case *layers.UDP:
			parts = append(parts, fmt.Sprintf("udp %d > %d len %d", l.SrcPort, l.DstPort, len(l.Payload)))
		case *layers.TCP:
			parts = append(parts, fmt.Sprintf("tcp %d > %d seq %d ack %d", l.SrcPort, l.DstPort, l.Seq, l.Ack))
		}
	}
	if el := pkt.ErrorLayer(); el != nil {
		parts = append(parts, "error: "+el.Error().Error())
	}
	return strings.Join(parts, ", ")
}

func ipString(b []byte) string {
	if len(b) != 4 {
		return "?"
	}
	return fmt.Sprintf("%d.%d.%d.%d", b[0], b[1], b[2], b[3])
}
