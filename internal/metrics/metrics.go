package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

var (
	// Registry is the dedicated Prometheus registry for the API
	Registry = prometheus.NewRegistry()
	// HTTPRequests counts requests by method, route pattern, and status
	HTTPRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "http_requests_total", Help: "Total HTTP requests."},
		[]string{"method", "path", "status"},
	)
	// HTTPDuration records request durations in seconds
	HTTPDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{Name: "http_request_duration_seconds", Help: "HTTP request duration in seconds.", Buckets: prometheus.DefBuckets},
		[]string{"method", "path", "status"},
	)
	// HTTPRateLimited counts requests rejected by the per-client limiter
	HTTPRateLimited = prometheus.NewCounter(
		prometheus.CounterOpts{Name: "http_rate_limited_total", Help: "Requests rejected by the rate limiter."},
	)

	// MatchingDuration times engine operations (stats, similarity, nearest, within, recompute)
	MatchingDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{Name: "matching_operation_duration_seconds", Help: "Matching engine operation duration in seconds.", Buckets: prometheus.DefBuckets},
		[]string{"op"},
	)
	// MatchingOps counts engine operations by outcome
	MatchingOps = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "matching_operations_total", Help: "Matching engine operations by op and result."},
		[]string{"op", "result"},
	)
	// SimilarityRows counts similarity rows written by index rebuilds
	SimilarityRows = prometheus.NewCounter(
		prometheus.CounterOpts{Name: "similarity_rows_written", Help: "Similarity rows written by index rebuilds."},
	)

	// Notifications counts admin notifications by transport and result
	Notifications = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "admin_notifications_total", Help: "Admin notifications by transport and result."},
		[]string{"transport", "result"},
	)
	// WebhookDeliveries counts webhook delivery outcomes by event type and status
	WebhookDeliveries = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "webhook_deliveries_total", Help: "Webhook deliveries by event type and status."},
		[]string{"event_type", "status"},
	)
	// WebhookLatency tracks webhook delivery latencies in milliseconds
	WebhookLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{Name: "webhook_delivery_latency_ms", Help: "Webhook delivery latency in ms.", Buckets: []float64{10, 50, 100, 200, 500, 1000, 2000, 5000}},
		[]string{"event_type", "status"},
	)
	// EventSubscribers is the number of live SSE/WebSocket trip subscriptions
	EventSubscribers = prometheus.NewGauge(
		prometheus.GaugeOpts{Name: "trip_event_subscribers", Help: "Live trip event subscriptions."},
	)
)

// RegisterDefault registers collectors to the dedicated registry.
func RegisterDefault() {
	regOnce.Do(func() {
		Registry.MustRegister(HTTPRequests)
		Registry.MustRegister(HTTPDuration)
		Registry.MustRegister(HTTPRateLimited)
		Registry.MustRegister(MatchingDuration)
		Registry.MustRegister(MatchingOps)
		Registry.MustRegister(SimilarityRows)
		Registry.MustRegister(Notifications)
		Registry.MustRegister(WebhookDeliveries)
		Registry.MustRegister(WebhookLatency)
		Registry.MustRegister(EventSubscribers)
		// Go/process collectors on our registry
		Registry.MustRegister(collectors.NewGoCollector())
		Registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	})
}

var regOnce sync.Once
