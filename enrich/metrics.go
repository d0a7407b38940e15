package enrich

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics bundles Prometheus collectors for ISBN enrichment.
type Metrics struct {
	Registry        *prometheus.Registry
	RequestsTotal   *prometheus.CounterVec
	RequestDuration prometheus.Histogram
	CacheLookups    *prometheus.CounterVec
	ISBNsFound      prometheus.Counter
	RetriesTotal    prometheus.Counter
	ErrorsTotal     *prometheus.CounterVec
}

// NewMetrics constructs and registers all metrics on a dedicated registry.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()

	requests := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kobostats_isbn_requests_total",
			Help: "Total Open Library requests issued, by endpoint.",
		},
		[]string{"endpoint"},
	)
	requestDuration := prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "kobostats_isbn_request_duration_seconds",
			Help:    "Open Library request latency.",
			Buckets: prometheus.DefBuckets,
		},
	)
	cacheLookups := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kobostats_isbn_cache_lookups_total",
			Help: "ISBN cache lookups by result (hit, negative_hit, miss).",
		},
		[]string{"result"},
	)
	found := prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "kobostats_isbn_found_total",
			Help: "ISBNs newly discovered during this run.",
		},
	)
	retries := prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "kobostats_isbn_retries_total",
			Help: "Total number of retry attempts.",
		},
	)
	errorsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kobostats_isbn_errors_total",
			Help: "Total number of lookup errors by type.",
		},
		[]string{"error_type"},
	)

	registry.MustRegister(requests, requestDuration, cacheLookups, found, retries, errorsTotal)

	return &Metrics{
		Registry:        registry,
		RequestsTotal:   requests,
		RequestDuration: requestDuration,
		CacheLookups:    cacheLookups,
		ISBNsFound:      found,
		RetriesTotal:    retries,
		ErrorsTotal:     errorsTotal,
	}
}

// IncRequest increments the requests total counter.
func (m *Metrics) IncRequest(endpoint string) {
	if m == nil {
		return
	}
	m.RequestsTotal.WithLabelValues(endpoint).Inc()
}

// ObserveDuration records an HTTP request duration.
func (m *Metrics) ObserveDuration(d time.Duration) {
	if m == nil {
		return
	}
	m.RequestDuration.Observe(d.Seconds())
}

// IncCacheLookup counts a cache lookup outcome.
func (m *Metrics) IncCacheLookup(result string) {
	if m == nil {
		return
	}
	m.CacheLookups.WithLabelValues(result).Inc()
}

// IncFound increments the discovered ISBN counter.
func (m *Metrics) IncFound() {
	if m == nil {
		return
	}
	m.ISBNsFound.Inc()
}

// IncRetries increments the retries counter.
func (m *Metrics) IncRetries() {
	if m == nil {
		return
	}
	m.RetriesTotal.Inc()
}

// IncError increments the errors counter for a type label.
func (m *Metrics) IncError(errorType string) {
	if m == nil {
		return
	}
	m.ErrorsTotal.WithLabelValues(errorType).Inc()
}
