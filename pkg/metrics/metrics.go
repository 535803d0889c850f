// Package metrics provides Prometheus metrics instrumentation.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RequestDuration tracks HTTP request duration.
	RequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "api_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"method", "path", "status"},
	)

	// RequestsTotal tracks total HTTP requests.
	RequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "api_requests_total",
			Help: "Total HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	// MessagesTotal tracks messages sent, by conversation type.
	MessagesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chat_messages_total",
			Help: "Total messages sent",
		},
		[]string{"conversation_type"},
	)

	// FanoutDecisionsTotal tracks per-recipient notification decisions.
	FanoutDecisionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chat_fanout_decisions_total",
			Help: "Per-recipient notification fan-out decisions",
		},
		[]string{"decision"},
	)

	// FanoutFailuresTotal tracks isolated per-recipient fan-out failures.
	FanoutFailuresTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "chat_fanout_failures_total",
			Help: "Per-recipient fan-out failures (isolated, never fatal)",
		},
	)

	// ReadBumpsTotal tracks successful read-cursor advances.
	ReadBumpsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "chat_read_bumps_total",
			Help: "Successful read-cursor advances",
		},
	)

	// WSConnectionsActive tracks live websocket connections.
	WSConnectionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "ws_connections_active",
			Help: "Number of active websocket connections",
		},
	)

	// PresenceOnlineUsers tracks users with at least one live socket.
	PresenceOnlineUsers = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "presence_online_users",
			Help: "Users currently online",
		},
	)

	// CallsRingingActive tracks calls between invite and a terminal event.
	CallsRingingActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "calls_ringing_active",
			Help: "Calls currently ringing",
		},
	)

	// BridgeEventsTotal tracks events crossing the NATS bridge.
	BridgeEventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bridge_events_total",
			Help: "Events published to or received from the fan-out bridge",
		},
		[]string{"direction"},
	)
)

// RecordRequest records metrics for an HTTP request.
func RecordRequest(method, path, status string, duration float64) {
	RequestDuration.WithLabelValues(method, path, status).Observe(duration)
	RequestsTotal.WithLabelValues(method, path, status).Inc()
}

// RecordFanout records one per-recipient fan-out decision:
// "live", "persist", or "persist_alert".
func RecordFanout(decision string) {
	FanoutDecisionsTotal.WithLabelValues(decision).Inc()
}
