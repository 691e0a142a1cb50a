// Package metrics holds the Prometheus collectors of the messaging service.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HTTP metrics
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dm_http_requests_total",
			Help: "Total HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "dm_http_request_duration_seconds",
			Help:    "HTTP request duration",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
		},
		[]string{"method", "path"},
	)

	RateLimitHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dm_rate_limit_hits_total",
			Help: "Total rate limit hits",
		},
		[]string{"transport"}, // "http" or "ws"
	)

	// Business metrics
	MessagesSent = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dm_messages_sent_total",
			Help: "Send attempts by outcome",
		},
		[]string{"result"}, // "ok", "invalid_input", "blocked", "quota_exceeded", "store_unavailable"
	)

	MessagesRedacted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "dm_messages_redacted_total",
			Help: "Messages altered by the contact filter",
		},
	)

	MessagesMarkedRead = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "dm_messages_marked_read_total",
			Help: "Messages transitioned to read",
		},
	)

	// Push transport metrics
	WSConnections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "dm_ws_connections",
			Help: "Authenticated push connections on this instance",
		},
	)

	WSEvictions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dm_ws_evictions_total",
			Help: "Push connections closed by the hub",
		},
		[]string{"reason"}, // "replaced" or "slow_consumer"
	)

	WSEventsDelivered = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dm_ws_events_delivered_total",
			Help: "Events queued to a live connection",
		},
		[]string{"type"},
	)

	WSEventsDropped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dm_ws_events_dropped_total",
			Help: "Events for users with no live connection on this instance",
		},
		[]string{"type"},
	)

	// Infrastructure metrics
	StoreLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "dm_store_latency_seconds",
			Help:    "Message store and quota ledger latency",
			Buckets: []float64{.0005, .001, .005, .01, .025, .05, .1, .5},
		},
		[]string{"operation"},
	)
)
