// Package metrics provides Prometheus metrics for the psyche profile engine.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Manager owns every Prometheus collector exported by the service.
type Manager struct {
	namespace        string
	subsystem        string
	histogramBuckets []float64
	registry         prometheus.Registerer

	// Ingestion
	eventsIngested   *prometheus.CounterVec
	validationErrors *prometheus.CounterVec
	traitUpdates     *prometheus.CounterVec
	ingestLatency    prometheus.Histogram
	profilesTotal    prometheus.Gauge

	// Storage
	storeLatency    *prometheus.HistogramVec
	storeErrors     *prometheus.CounterVec
	corruptProfiles *prometheus.CounterVec
	lockWait        *prometheus.HistogramVec

	// HTTP
	httpRequests        *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec
}

var globalManager *Manager //nolint:gochecknoglobals // singleton metrics manager

var customRegistry = prometheus.NewRegistry() //nolint:gochecknoglobals // custom registry avoids default Go collectors

func init() { //nolint:gochecknoinits // global metrics setup
	globalManager = NewManager(WithPrometheusRegistry(customRegistry))
}

// NewManager creates a metrics manager and registers its collectors.
func NewManager(opts ...Option) *Manager {
	m := &Manager{
		namespace:        "psyche",
		subsystem:        "engine",
		histogramBuckets: []float64{0.1, 0.5, 1, 2.5, 5, 10, 25, 50, 100, 250, 1000},
		registry:         prometheus.DefaultRegisterer,
	}
	for _, opt := range opts {
		opt(m)
	}
	m.initializeMetrics()
	return m
}

func (m *Manager) initializeMetrics() { //nolint:funlen // flat list of collectors
	auto := promauto.With(m.registry)

	m.eventsIngested = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "events_ingested_total",
		Help:      "Contribution events by outcome (accepted, rejected, duplicate, error)",
	}, []string{"outcome"})

	m.validationErrors = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "validation_errors_total",
		Help:      "Validation errors by category (shape, id, module)",
	}, []string{"category"})

	m.traitUpdates = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "trait_updates_total",
		Help:      "Trait state updates by producer (marker, observation, anchor)",
	}, []string{"producer"})

	m.ingestLatency = auto.NewHistogram(prometheus.HistogramOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "ingest_latency_milliseconds",
		Help:      "End-to-end ingestion latency including storage",
		Buckets:   m.histogramBuckets,
	})

	m.profilesTotal = auto.NewGauge(prometheus.GaugeOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "profiles_touched",
		Help:      "Distinct profiles touched by this process",
	})

	m.storeLatency = auto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: m.namespace,
		Subsystem: "store",
		Name:      "operation_latency_milliseconds",
		Help:      "Storage operation latency by backend and operation",
		Buckets:   m.histogramBuckets,
	}, []string{"backend", "op"})

	m.storeErrors = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: "store",
		Name:      "errors_total",
		Help:      "Storage failures by backend and operation",
	}, []string{"backend", "op"})

	m.corruptProfiles = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: "store",
		Name:      "corrupt_profiles_total",
		Help:      "Profiles that failed to decode and were treated as absent",
	}, []string{"backend"})

	m.lockWait = auto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: m.namespace,
		Subsystem: "lock",
		Name:      "wait_milliseconds",
		Help:      "Time spent waiting for a per-key lock",
		Buckets:   m.histogramBuckets,
	}, []string{"locker"})

	m.httpRequests = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: "http",
		Name:      "requests_total",
		Help:      "HTTP requests by endpoint, method and status",
	}, []string{"endpoint", "method", "status_code"})

	m.httpRequestDuration = auto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: m.namespace,
		Subsystem: "http",
		Name:      "request_duration_milliseconds",
		Help:      "HTTP request duration in milliseconds",
		Buckets:   m.histogramBuckets,
	}, []string{"endpoint", "method", "status_code"})
}

// RecordEventOutcome counts an ingestion outcome.
func RecordEventOutcome(outcome string) {
	globalManager.eventsIngested.WithLabelValues(outcome).Inc()
}

// RecordValidationErrors adds n errors of a category.
func RecordValidationErrors(category string, n int) {
	if n <= 0 {
		return
	}
	globalManager.validationErrors.WithLabelValues(category).Add(float64(n))
}

// RecordTraitUpdates adds n trait updates for a producer.
func RecordTraitUpdates(producer string, n int) {
	if n <= 0 {
		return
	}
	globalManager.traitUpdates.WithLabelValues(producer).Add(float64(n))
}

// RecordIngestLatency records ingestion latency in milliseconds.
func RecordIngestLatency(ms float64) {
	globalManager.ingestLatency.Observe(ms)
}

// UpdateProfilesTouched sets the touched-profiles gauge.
func UpdateProfilesTouched(n int) {
	globalManager.profilesTotal.Set(float64(n))
}

// RecordStoreLatency records a storage operation latency.
func RecordStoreLatency(backend, op string, ms float64) {
	globalManager.storeLatency.WithLabelValues(backend, op).Observe(ms)
}

// RecordStoreError counts a storage failure.
func RecordStoreError(backend, op string) {
	globalManager.storeErrors.WithLabelValues(backend, op).Inc()
}

// RecordCorruptProfile counts a profile that could not be decoded.
func RecordCorruptProfile(backend string) {
	globalManager.corruptProfiles.WithLabelValues(backend).Inc()
}

// RecordLockWait records how long a caller waited for a key lock.
func RecordLockWait(locker string, ms float64) {
	globalManager.lockWait.WithLabelValues(locker).Observe(ms)
}

// RecordHTTPRequest records an HTTP request.
func RecordHTTPRequest(endpoint, method, statusCode string) {
	globalManager.httpRequests.WithLabelValues(endpoint, method, statusCode).Inc()
}

// RecordHTTPRequestDuration records HTTP request duration.
func RecordHTTPRequestDuration(endpoint, method, statusCode string, ms float64) {
	globalManager.httpRequestDuration.WithLabelValues(endpoint, method, statusCode).Observe(ms)
}

// GetRegistry returns the custom Prometheus registry used by our metrics.
func GetRegistry() *prometheus.Registry {
	return customRegistry
}
