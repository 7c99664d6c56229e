package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// AuthAttempts records authentication attempts by result (success|failure).
	AuthAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "foodbridge_auth_attempts_total",
			Help: "Total number of authentication attempts",
		},
		[]string{"result"},
	)

	// APILatency measures HTTP request latencies.
	APILatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "foodbridge_api_latency_seconds",
			Help:    "API endpoint latency",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)

	// RealtimeConnections tracks open websocket connections on this instance.
	RealtimeConnections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "foodbridge_realtime_connections",
			Help: "Number of open realtime connections",
		},
	)

	// RealtimeDroppedConnections counts connections closed because their send buffer filled up.
	RealtimeDroppedConnections = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "foodbridge_realtime_dropped_connections_total",
			Help: "Total number of realtime connections closed due to backpressure",
		},
	)

	// FanoutEvents counts events handed to the broker by event name.
	FanoutEvents = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "foodbridge_fanout_events_total",
			Help: "Total number of realtime events published",
		},
		[]string{"event"},
	)

	// FanoutPublishFailures counts broker publish errors by event name.
	FanoutPublishFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "foodbridge_fanout_publish_failures_total",
			Help: "Total number of realtime publish failures",
		},
		[]string{"event"},
	)

	// SocketCommands counts inbound socket commands by action and result (ok|error).
	SocketCommands = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "foodbridge_socket_commands_total",
			Help: "Total number of socket commands handled",
		},
		[]string{"action", "result"},
	)
)
