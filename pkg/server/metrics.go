package server

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the server
type Metrics struct {
	// Connection metrics
	activeConnections       prometheus.Gauge
	connectionsAccepted     *prometheus.CounterVec // by principal kind
	connectionsDisconnected *prometheus.CounterVec // by reason

	// Packet metrics
	packetsReceived *prometheus.CounterVec // by header
	packetsSent     *prometheus.CounterVec // by header
	packetsDropped  *prometheus.CounterVec // by reason
	commandErrors   *prometheus.CounterVec // by error code

	// Broadcast metrics
	broadcastFanout  prometheus.Histogram
	groupMemberships prometheus.Gauge
	activeGroups     prometheus.Gauge
}

// NewMetrics creates a new metrics instance
func NewMetrics() *Metrics {
	return &Metrics{
		activeConnections: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "portal_active_connections",
				Help: "Number of currently connected clients",
			},
		),
		connectionsAccepted: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "portal_connections_accepted_total",
				Help: "Total number of accepted connections",
			},
			[]string{"kind"}, // "user" or "device"
		),
		connectionsDisconnected: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "portal_connections_disconnected_total",
				Help: "Total number of closed connections",
			},
			[]string{"reason"}, // "closed", "heartbeat", "error"
		),
		packetsReceived: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "portal_packets_received_total",
				Help: "Total number of packets received, by header",
			},
			[]string{"header"},
		),
		packetsSent: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "portal_packets_sent_total",
				Help: "Total number of packets sent, by header",
			},
			[]string{"header"},
		),
		packetsDropped: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "portal_packets_dropped_total",
				Help: "Total number of inbound packets dropped without a reply",
			},
			[]string{"reason"}, // "decode", "unknown_header", "unknown_argument"
		),
		commandErrors: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "portal_command_errors_total",
				Help: "Total number of commands answered with an error packet",
			},
			[]string{"code"},
		),
		broadcastFanout: promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "portal_broadcast_fanout",
				Help:    "Number of clients that received each group broadcast",
				Buckets: []float64{1, 2, 5, 10, 25, 50, 100, 250, 500, 1000},
			},
		),
		groupMemberships: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "portal_group_memberships",
				Help: "Total number of live group memberships",
			},
		),
		activeGroups: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "portal_active_groups",
				Help: "Number of groups with at least one member",
			},
		),
	}
}

// The recording helpers tolerate a nil receiver so tests can run a server
// without touching the global Prometheus registry.

func (m *Metrics) ConnectionOpened(kind string) {
	if m == nil {
		return
	}
	m.activeConnections.Inc()
	m.connectionsAccepted.WithLabelValues(kind).Inc()
}

func (m *Metrics) ConnectionClosed(reason string) {
	if m == nil {
		return
	}
	m.activeConnections.Dec()
	m.connectionsDisconnected.WithLabelValues(reason).Inc()
}

func (m *Metrics) PacketReceived(header string) {
	if m == nil {
		return
	}
	m.packetsReceived.WithLabelValues(header).Inc()
}

func (m *Metrics) PacketSent(header string) {
	if m == nil {
		return
	}
	m.packetsSent.WithLabelValues(header).Inc()
}

func (m *Metrics) PacketDropped(reason string) {
	if m == nil {
		return
	}
	m.packetsDropped.WithLabelValues(reason).Inc()
}

func (m *Metrics) CommandError(code string) {
	if m == nil {
		return
	}
	m.commandErrors.WithLabelValues(code).Inc()
}

func (m *Metrics) BroadcastDelivered(fanout int) {
	if m == nil {
		return
	}
	m.broadcastFanout.Observe(float64(fanout))
}

func (m *Metrics) SetRegistrySize(groups, memberships int) {
	if m == nil {
		return
	}
	m.activeGroups.Set(float64(groups))
	m.groupMemberships.Set(float64(memberships))
}
