// Package metrics implements Prometheus metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// FramesTotal counts frames by device and direction
	FramesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "netcore_frames_total",
			Help: "Total number of frames received or queued for transmit",
		},
		[]string{"device", "direction"},
	)

	// DropsTotal counts discarded packets by layer and reason
	DropsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "netcore_drops_total",
			Help: "Total number of packets dropped by the stack",
		},
		[]string{"layer", "reason"},
	)

	// PoolBuffers tracks packet buffers per list
	PoolBuffers = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "netcore_pool_buffers",
			Help: "Packet buffers by list (free, held, inbound, outbound)",
		},
		[]string{"list"},
	)

	// TableEntries tracks live entries in the fixed tables
	TableEntries = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "netcore_table_entries",
			Help: "Live entries in the arp, route and socket tables",
		},
		[]string{"table"},
	)

	// ARPMessagesTotal counts ARP requests and replies
	ARPMessagesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "netcore_arp_messages_total",
			Help: "Total number of ARP messages handled",
		},
		[]string{"op", "direction"},
	)

	// ICMPSentTotal counts generated ICMP messages by type
	ICMPSentTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "netcore_icmp_sent_total",
			Help: "Total number of ICMP messages sent",
		},
		[]string{"type"},
	)

	// ForwardedTotal counts datagrams relayed to another hop
	ForwardedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "netcore_ip_forwarded_total",
			Help: "Total number of IPv4 datagrams forwarded",
		},
	)

	// SocketDeliveriesTotal counts datagrams handed to socket callbacks
	SocketDeliveriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "netcore_socket_deliveries_total",
			Help: "Total number of datagrams delivered to sockets",
		},
		[]string{"proto"},
	)

	// TCPHandshakesTotal counts SYN+ACK segments sent
	TCPHandshakesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "netcore_tcp_synack_total",
			Help: "Total number of SYN+ACK segments sent",
		},
	)
)

// Direction label values.
const (
	DirectionRx = "rx"
	DirectionTx = "tx"
)
