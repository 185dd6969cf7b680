// Package metrics defines the Prometheus collectors used by the API and
// exposes an HTTP handler for scraping.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus collectors for the API.
type Metrics struct {
	HTTPRequestsTotal     *prometheus.CounterVec
	HTTPRequestDuration   *prometheus.HistogramVec
	HTTPRequestsInFlight  prometheus.Gauge
	DocumentWritesTotal   *prometheus.CounterVec
	ValidationFailures    *prometheus.CounterVec
	DuplicateRejections   *prometheus.CounterVec
	CacheHitsTotal        prometheus.Counter
	CacheMissesTotal      prometheus.Counter
	BatchSize             prometheus.Histogram
	ChangePublishFailures prometheus.Counter
	CircuitBreakerState   *prometheus.GaugeVec
}

// New creates the collectors and registers them with the default registry.
func New() *Metrics {
	return NewWithRegistry(prometheus.DefaultRegisterer)
}

// NewWithRegistry creates the collectors and registers them with reg.
func NewWithRegistry(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests by method, route, and status.",
			},
			[]string{"method", "path", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "HTTP request latency in seconds.",
				Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
			},
			[]string{"method", "path"},
		),
		HTTPRequestsInFlight: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "http_requests_in_flight",
				Help: "Number of HTTP requests currently being processed.",
			},
		),
		DocumentWritesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "document_writes_total",
				Help: "Document writes by resource, operation (create, update, delete), and final state.",
			},
			[]string{"resource", "operation", "state"},
		),
		ValidationFailures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "document_validation_failures_total",
				Help: "Documents rejected by field validation.",
			},
			[]string{"resource"},
		),
		DuplicateRejections: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "document_duplicate_rejections_total",
				Help: "Documents rejected as duplicates of an active document.",
			},
			[]string{"resource"},
		),
		CacheHitsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "document_cache_hits_total",
				Help: "Total number of document cache hits.",
			},
		),
		CacheMissesTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "document_cache_misses_total",
				Help: "Total number of document cache misses.",
			},
		),
		BatchSize: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "batch_update_size",
				Help:    "Number of entries per batch update request.",
				Buckets: []float64{1, 5, 10, 25, 50, 100, 250},
			},
		),
		ChangePublishFailures: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "change_publish_failures_total",
				Help: "Change events that could not be published.",
			},
		),
		CircuitBreakerState: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "circuit_breaker_state",
				Help: "Circuit breaker state (0=closed, 1=open, 2=half-open).",
			},
			[]string{"name"},
		),
	}

	reg.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.HTTPRequestsInFlight,
		m.DocumentWritesTotal,
		m.ValidationFailures,
		m.DuplicateRejections,
		m.CacheHitsTotal,
		m.CacheMissesTotal,
		m.BatchSize,
		m.ChangePublishFailures,
		m.CircuitBreakerState,
	)

	return m
}

// Handler returns the Prometheus scrape HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
