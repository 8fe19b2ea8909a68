package metrics

import (
	"runtime"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Custom histogram buckets covering request latencies from fast local
	// calls up to long-poll waits against the relay service
	CustomAPIBuckets = []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2, 3, 5, 8, 13, 21, 34, 55}

	// REST facade metrics
	APIRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "api_client_request_duration_seconds",
			Help:    "REST API request duration in seconds",
			Buckets: CustomAPIBuckets,
		},
		[]string{"method", "path", "status"},
	)

	APIRequestTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "api_client_request_total",
			Help: "Total number of REST API requests",
		},
		[]string{"method", "path", "status"},
	)

	UnauthorizedSweeps = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "api_client_unauthorized_sweeps_total",
			Help: "Number of 401 responses that forced a session teardown",
		},
	)

	// Realtime channel metrics
	ChannelConnects = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "realtime_channel_connects_total",
			Help: "Channel handshakes by transport and outcome",
		},
		[]string{"transport", "outcome"},
	)

	ChannelEventsReceived = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "realtime_channel_events_received_total",
			Help: "Inbound channel events by event name",
		},
		[]string{"event"},
	)

	ChannelEventsEmitted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "realtime_channel_events_emitted_total",
			Help: "Outbound channel events by event name",
		},
		[]string{"event"},
	)

	ChannelConnected = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "realtime_channel_connected",
			Help: "1 when the channel connection is live, 0 otherwise",
		},
	)

	OnlineUsers = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "realtime_online_users",
			Help: "Size of the last-known online-user roster",
		},
	)

	// Notification poller metrics
	CounterPolls = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "notification_counter_polls_total",
			Help: "Notification counter fetches by outcome",
		},
		[]string{"outcome"},
	)

	// Dev relay server metrics
	RelayRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "devrelay_request_duration_seconds",
			Help:    "Relay HTTP request duration in seconds",
			Buckets: CustomAPIBuckets,
		},
		[]string{"method", "path", "status"},
	)

	RelayRequestTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "devrelay_request_total",
			Help: "Total number of relay HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	RelayActiveRequests = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "devrelay_active_requests",
			Help: "Number of relay requests currently in flight",
		},
		[]string{"method"},
	)

	RelaySessions = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "devrelay_sessions",
			Help: "Live relay sessions by transport",
		},
		[]string{"transport"},
	)
)

// MeasureDuration returns elapsed seconds since start
func MeasureDuration(start time.Time) float64 {
	return time.Since(start).Seconds()
}

// RecordAPIRequest records duration and count for a REST facade request
func RecordAPIRequest(method, path, status string, duration time.Duration) {
	APIRequestDuration.WithLabelValues(method, path, status).Observe(duration.Seconds())
	APIRequestTotal.WithLabelValues(method, path, status).Inc()
}

// RecordChannelConnect records a handshake attempt outcome
func RecordChannelConnect(transport, outcome string) {
	ChannelConnects.WithLabelValues(transport, outcome).Inc()
}

// SystemMetrics captures basic runtime stats for diagnostics endpoints
type SystemMetrics struct {
	Goroutines int
	HeapAlloc  uint64
}

// CollectSystem returns a snapshot of runtime metrics
func CollectSystem() SystemMetrics {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	return SystemMetrics{
		Goroutines: runtime.NumGoroutine(),
		HeapAlloc:  m.HeapAlloc,
	}
}
