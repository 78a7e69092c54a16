package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "delivery_tracking"

var (
	LocationSamples = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "location_samples_total", Help: "Device position samples by outcome"},
		[]string{"outcome"},
	)
	LocationReportErrors = promauto.NewCounter(prometheus.CounterOpts{Namespace: namespace, Name: "location_report_errors_total", Help: "Samples the backend failed to accept"})

	RouteLookups = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "route_lookups_total", Help: "ETA computations by source"},
		[]string{"source"},
	)
	RouteLatency = promauto.NewHistogram(prometheus.HistogramOpts{Namespace: namespace, Name: "route_latency_seconds", Help: "Directions lookup latency"})

	EventsReceived = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "events_received_total", Help: "Push events received by source and kind"},
		[]string{"source", "kind"},
	)
	EventsInvalid = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "events_invalid_total", Help: "Push events that could not be decoded or carried invalid data"},
		[]string{"source"},
	)

	ActiveSubscriptions = promauto.NewGauge(prometheus.GaugeOpts{Namespace: namespace, Name: "position_subscriptions", Help: "Open driver position subscriptions"})
	LiveViewers         = promauto.NewGauge(prometheus.GaugeOpts{Namespace: namespace, Name: "live_viewers", Help: "Connected websocket tracking viewers"})

	ActionFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "action_failures_total", Help: "Status-changing actions rejected or failed"},
		[]string{"action"},
	)

	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "http_requests_total", Help: "Total HTTP requests handled"},
		[]string{"method", "path", "status"},
	)
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency distribution",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
)
