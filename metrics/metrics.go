// Package metrics exposes the server's Prometheus instrumentation.
package metrics

import "github.com/prometheus/client_golang/prometheus"

// Metrics holds the collectors updated by the server and dispatcher.
type Metrics struct {
	// OpenSessions is the number of currently connected sessions.
	OpenSessions prometheus.Gauge
	// AcceptedConnections counts accepted TCP connections.
	AcceptedConnections prometheus.Counter
	// FramesDispatched counts frames handed to the protocol dispatcher.
	FramesDispatched prometheus.Counter
	// AuthFailures counts failed Register/Authorize attempts.
	AuthFailures prometheus.Counter
	// MessagesRelayed counts IncomingMessage frames delivered to recipients.
	MessagesRelayed prometheus.Counter
	// MessagesDropped counts SendTo requests that found no live recipient.
	MessagesDropped prometheus.Counter
}

// New creates the server's collectors and registers them with reg.
//
// Parameters:
//   - reg: The registry to register collectors with (e.g.
//     prometheus.NewRegistry())
//
// Returns:
//   - The registered Metrics
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		OpenSessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "chat_open_sessions",
			Help: "Number of currently connected sessions.",
		}),
		AcceptedConnections: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "chat_accepted_connections_total",
			Help: "Total accepted TCP connections.",
		}),
		FramesDispatched: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "chat_frames_dispatched_total",
			Help: "Total frames handed to the protocol dispatcher.",
		}),
		AuthFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "chat_auth_failures_total",
			Help: "Total failed Register/Authorize attempts.",
		}),
		MessagesRelayed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "chat_messages_relayed_total",
			Help: "Total IncomingMessage frames delivered to recipient sessions.",
		}),
		MessagesDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "chat_messages_dropped_total",
			Help: "Total SendTo requests that found no live recipient session.",
		}),
	}

	reg.MustRegister(
		m.OpenSessions,
		m.AcceptedConnections,
		m.FramesDispatched,
		m.AuthFailures,
		m.MessagesRelayed,
		m.MessagesDropped,
	)

	return m
}
