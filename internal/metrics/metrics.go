// Package metrics registers the Prometheus collectors of the chat service.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// WebSocket Metrics
	WSConnections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "chat_ws_connections",
			Help: "Current number of open WebSocket connections",
		},
	)

	WSAuthenticated = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "chat_ws_authenticated_connections",
			Help: "Current number of connections bound to an identity",
		},
	)

	WSRejected = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "chat_ws_rejected_total",
			Help: "Connections rejected because the hub is at its limit",
		},
	)

	WSSlowClientsClosed = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "chat_ws_slow_clients_closed_total",
			Help: "Connections closed because their send buffer was full",
		},
	)

	Signals = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chat_ws_signals_total",
			Help: "Inbound socket signals by type and outcome",
		},
		[]string{"type", "outcome"}, // outcome: ok, rejected, error
	)

	SignalDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "chat_ws_signal_duration_seconds",
			Help:    "Time spent handling inbound socket signals",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"type"},
	)

	// Pipeline Metrics
	MessagesPersisted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "chat_messages_persisted_total",
			Help: "Messages stored by the send pipeline",
		},
	)

	ReadBackFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "chat_message_readback_failures_total",
			Help: "Messages stored but not broadcast because the re-read failed",
		},
	)

	FanoutFrames = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chat_fanout_frames_total",
			Help: "Frames enqueued to subscriber connections",
		},
		[]string{"kind"}, // room, join, direct
	)

	RelayErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chat_relay_errors_total",
			Help: "Relay publish and decode failures",
		},
		[]string{"operation"},
	)

	// Push Metrics
	PushNotifications = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chat_push_notifications_total",
			Help: "Web Push deliveries by outcome",
		},
		[]string{"outcome"}, // sent, expired, error
	)
)

// ObserveSignal records one handled signal.
func ObserveSignal(signalType, outcome string, start time.Time) {
	Signals.WithLabelValues(signalType, outcome).Inc()
	SignalDuration.WithLabelValues(signalType).Observe(time.Since(start).Seconds())
}
