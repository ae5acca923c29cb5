// Package metrics provides Prometheus instrumentation for the Converge chat
// server. It exposes gauges for connection, room, and presence counts,
// counters for message and event throughput, and histograms for fanout size.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// ConnectionsTotal tracks the current number of active WebSocket connections.
	ConnectionsTotal = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "converge_connections_total",
		Help: "Current number of active WebSocket connections",
	})

	// OnlineUsers tracks the number of users currently online (grace included).
	OnlineUsers = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "converge_online_users",
		Help: "Current number of users in the Online or GraceDisconnect state",
	})

	// ActiveRooms tracks the number of conversation rooms with live members.
	ActiveRooms = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "converge_active_rooms",
		Help: "Current number of conversation rooms with at least one member",
	})

	// MessagesTotal counts processed messages, labeled by type:
	// "sent", "deleted", or "blocked".
	MessagesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "converge_messages_total",
		Help: "Total number of messages processed",
	}, []string{"type"})

	// ReactionsTotal counts reaction mutations, labeled by action.
	ReactionsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "converge_reactions_total",
		Help: "Total number of reaction add/remove operations",
	}, []string{"action"})

	// PresenceTransitions counts presence broadcasts, labeled by status.
	PresenceTransitions = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "converge_presence_transitions_total",
		Help: "Total number of presence status broadcasts",
	}, []string{"status"})

	// BroadcastFanout records the recipient count of each room broadcast.
	BroadcastFanout = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "converge_broadcast_fanout_size",
		Help:    "Number of recipients per room broadcast",
		Buckets: []float64{1, 2, 5, 10, 25, 50, 100, 250},
	})

	// DroppedConsumers counts connections evicted because their outbound
	// queue overflowed during a broadcast.
	DroppedConsumers = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "converge_dropped_consumers_total",
		Help: "Connections dropped due to outbound queue overflow",
	})
)

func init() {
	prometheus.MustRegister(
		ConnectionsTotal,
		OnlineUsers,
		ActiveRooms,
		MessagesTotal,
		ReactionsTotal,
		PresenceTransitions,
		BroadcastFanout,
		DroppedConsumers,
	)
}

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
