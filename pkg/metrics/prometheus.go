// Package metrics provides Prometheus metrics for the telewatch service.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Poll outcomes used as label values.
const (
	PollProcessed      = "processed"
	PollStale          = "stale"
	PollTransportError = "transport_error"
	PollDiscarded      = "discarded"
	PollTrackerError   = "tracker_error"
)

// Dispatch outcomes used as label values.
const (
	DispatchDelivered = "delivered"
	DispatchFailed    = "failed"
	DispatchDropped   = "dropped"
)

// Manager manages all Prometheus metrics for the watcher.
type Manager struct {
	namespace        string
	subsystem        string
	histogramBuckets []float64
	constLabels      prometheus.Labels
	registry         prometheus.Registerer

	// Polling
	polls          *prometheus.CounterVec
	fetchLatency   *prometheus.HistogramVec
	ticksDropped   *prometheus.CounterVec
	samples        *prometheus.CounterVec
	samplesInvalid *prometheus.CounterVec

	// Watermarks
	watermarkUnix *prometheus.GaugeVec
	watermarkLag  *prometheus.GaugeVec

	// Classification
	eventsEmitted    *prometheus.CounterVec
	eventsSuppressed *prometheus.CounterVec

	// Dispatch
	dispatch        *prometheus.CounterVec
	dispatchLatency prometheus.Histogram
	queueSize       prometheus.Gauge
	queueCapacity   prometheus.Gauge
	workerActive    prometheus.Gauge

	// HTTP
	httpRequests        *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec

	// Errors
	errorsByComponent *prometheus.CounterVec

	// System
	systemMemoryUsage    prometheus.Gauge
	systemGoroutineCount prometheus.Gauge
	systemGCPauseTime    prometheus.Histogram
}

// Global metrics manager instance.
var globalManager *Manager //nolint:gochecknoglobals // intentional global for singleton metrics manager

// Custom registry to avoid default Go metrics.
var customRegistry = prometheus.NewRegistry() //nolint:gochecknoglobals // intentional global for metrics registry

func init() { //nolint:gochecknoinits // intentional init for global metrics setup
	globalManager = NewManager(WithPrometheusRegistry(customRegistry))
}

// NewManager creates a new metrics manager with default configuration.
func NewManager(opts ...Option) *Manager {
	m := &Manager{
		namespace:        "telewatch",
		subsystem:        "watcher",
		histogramBuckets: []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000, 10000},
		registry:         prometheus.DefaultRegisterer,
	}

	for _, opt := range opts {
		opt(m)
	}

	m.initializeMetrics()

	return m
}

// initializeMetrics creates all the Prometheus metrics.
func (m *Manager) initializeMetrics() { //nolint:funlen // one place for every metric definition
	auto := promauto.With(m.registry)

	counterVec := func(name, help string, labels ...string) *prometheus.CounterVec {
		return auto.NewCounterVec(prometheus.CounterOpts{
			Namespace:   m.namespace,
			Subsystem:   m.subsystem,
			Name:        name,
			Help:        help,
			ConstLabels: m.constLabels,
		}, labels)
	}
	gaugeVec := func(name, help string, labels ...string) *prometheus.GaugeVec {
		return auto.NewGaugeVec(prometheus.GaugeOpts{
			Namespace:   m.namespace,
			Subsystem:   m.subsystem,
			Name:        name,
			Help:        help,
			ConstLabels: m.constLabels,
		}, labels)
	}
	gauge := func(name, help string) prometheus.Gauge {
		return auto.NewGauge(prometheus.GaugeOpts{
			Namespace:   m.namespace,
			Subsystem:   m.subsystem,
			Name:        name,
			Help:        help,
			ConstLabels: m.constLabels,
		})
	}

	m.polls = counterVec("polls_total", "Poll cycles by stream and outcome", "stream", "outcome")
	m.fetchLatency = auto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        "fetch_latency_milliseconds",
		Help:        "Latency of remote stream fetches in milliseconds",
		Buckets:     m.histogramBuckets,
		ConstLabels: m.constLabels,
	}, []string{"stream"})
	m.ticksDropped = counterVec("ticks_dropped_total", "Ticks dropped because a cycle was still running", "stream")
	m.samples = counterVec("samples_processed_total", "Samples handed to the classifier", "stream")
	m.samplesInvalid = counterVec("samples_malformed_total", "Samples skipped as malformed", "stream")

	m.watermarkUnix = gaugeVec("watermark_unix_seconds", "Last processed window end per stream", "stream")
	m.watermarkLag = gaugeVec("watermark_lag_seconds", "Wall clock minus last processed window end", "stream")

	m.eventsEmitted = counterVec("events_emitted_total", "Classified events emitted", "stream", "kind")
	m.eventsSuppressed = counterVec("events_suppressed_total", "Triggers suppressed by cooldown", "stream", "kind")

	m.dispatch = counterVec("dispatch_total", "Event deliveries by sink and outcome", "sink", "outcome")
	m.dispatchLatency = auto.NewHistogram(prometheus.HistogramOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        "dispatch_latency_milliseconds",
		Help:        "Time spent delivering an event to the sink in milliseconds",
		Buckets:     m.histogramBuckets,
		ConstLabels: m.constLabels,
	})
	m.queueSize = gauge("queue_size", "Events waiting for dispatch")
	m.queueCapacity = gauge("queue_capacity", "Capacity of the dispatch queue")
	m.workerActive = gauge("worker_active_count", "Dispatch workers running")

	m.httpRequests = counterVec("http_requests_total", "HTTP requests by endpoint and method", "endpoint", "method", "status_code")
	m.httpRequestDuration = auto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        "http_request_duration_milliseconds",
		Help:        "HTTP request duration in milliseconds",
		Buckets:     m.histogramBuckets,
		ConstLabels: m.constLabels,
	}, []string{"endpoint", "method", "status_code"})

	m.errorsByComponent = counterVec("errors_total", "Errors by component and type", "component", "error_type")

	m.systemMemoryUsage = gauge("system_memory_usage_bytes", "System memory usage in bytes")
	m.systemGoroutineCount = gauge("system_goroutine_count", "Number of goroutines")
	m.systemGCPauseTime = auto.NewHistogram(prometheus.HistogramOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        "system_gc_pause_time_milliseconds",
		Help:        "GC pause time in milliseconds",
		Buckets:     []float64{0.1, 0.5, 1, 2, 5, 10, 25, 50, 100, 250, 500, 1000},
		ConstLabels: m.constLabels,
	})
}

// Polling.

// RecordPoll counts one poll cycle with its outcome.
func RecordPoll(stream, outcome string) {
	globalManager.polls.WithLabelValues(stream, outcome).Inc()
}

// RecordFetchLatency records a fetch round trip in milliseconds.
func RecordFetchLatency(stream string, latencyMs float64) {
	globalManager.fetchLatency.WithLabelValues(stream).Observe(latencyMs)
}

// RecordTickDropped counts a tick skipped because the previous cycle was in flight.
func RecordTickDropped(stream string) {
	globalManager.ticksDropped.WithLabelValues(stream).Inc()
}

// RecordSamples adds n classified samples.
func RecordSamples(stream string, n int) {
	globalManager.samples.WithLabelValues(stream).Add(float64(n))
}

// RecordMalformedSamples adds n skipped samples.
func RecordMalformedSamples(stream string, n int) {
	if n <= 0 {
		return
	}
	globalManager.samplesInvalid.WithLabelValues(stream).Add(float64(n))
}

// UpdateWatermark publishes the watermark and its lag against now.
func UpdateWatermark(stream string, endUnix, lagSeconds float64) {
	globalManager.watermarkUnix.WithLabelValues(stream).Set(endUnix)
	globalManager.watermarkLag.WithLabelValues(stream).Set(lagSeconds)
}

// Classification.

// RecordEventEmitted counts an emitted event.
func RecordEventEmitted(stream, kind string) {
	globalManager.eventsEmitted.WithLabelValues(stream, kind).Inc()
}

// RecordEventSuppressed counts a trigger swallowed by the cooldown.
func RecordEventSuppressed(stream, kind string) {
	globalManager.eventsSuppressed.WithLabelValues(stream, kind).Inc()
}

// Dispatch.

// RecordDispatch counts a delivery attempt.
func RecordDispatch(sink, outcome string) {
	globalManager.dispatch.WithLabelValues(sink, outcome).Inc()
}

// RecordDispatchLatency records sink delivery time in milliseconds.
func RecordDispatchLatency(latencyMs float64) {
	globalManager.dispatchLatency.Observe(latencyMs)
}

// UpdateQueueSize sets the current queue size.
func UpdateQueueSize(size int) {
	globalManager.queueSize.Set(float64(size))
}

// UpdateQueueCapacity sets the maximum queue capacity.
func UpdateQueueCapacity(capacity int) {
	globalManager.queueCapacity.Set(float64(capacity))
}

// UpdateWorkerActiveCount sets the number of running dispatch workers.
func UpdateWorkerActiveCount(count int) {
	globalManager.workerActive.Set(float64(count))
}

// HTTP.

// RecordHTTPRequest records an HTTP request.
func RecordHTTPRequest(endpoint, method, statusCode string) {
	globalManager.httpRequests.WithLabelValues(endpoint, method, statusCode).Inc()
}

// RecordHTTPRequestDuration records HTTP request duration.
func RecordHTTPRequestDuration(endpoint, method, statusCode string, duration float64) {
	globalManager.httpRequestDuration.WithLabelValues(endpoint, method, statusCode).Observe(duration)
}

// RecordErrorByComponent records an error with component and type labels.
func RecordErrorByComponent(component, errorType string) {
	globalManager.errorsByComponent.WithLabelValues(component, errorType).Inc()
}

// System.

// UpdateSystemMemoryUsage sets the system memory usage in bytes.
func UpdateSystemMemoryUsage(bytes uint64) {
	globalManager.systemMemoryUsage.Set(float64(bytes))
}

// UpdateSystemGoroutineCount sets the number of goroutines.
func UpdateSystemGoroutineCount(count int) {
	globalManager.systemGoroutineCount.Set(float64(count))
}

// RecordSystemGCPauseTime records GC pause time in milliseconds.
func RecordSystemGCPauseTime(pauseMs float64) {
	globalManager.systemGCPauseTime.Observe(pauseMs)
}

// GetRegistry returns the custom Prometheus registry used by our metrics.
func GetRegistry() *prometheus.Registry {
	return customRegistry
}
