// Package metrics provides Prometheus metrics for the dispatch engine.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Manager owns every Prometheus collector used by the dispatch engine.
type Manager struct {
	namespace        string
	subsystem        string
	histogramBuckets []float64
	customLabels     map[string]string
	metricPrefix     string
	registry         prometheus.Registerer

	// Dispatch lifecycle
	requestsSubmitted *prometheus.CounterVec
	requestsAccepted  prometheus.Counter
	acceptConflicts   prometheus.Counter
	requestsCompleted *prometheus.CounterVec
	ratingsRecorded   *prometheus.CounterVec
	pendingRequests   prometheus.Gauge
	heatmapKeys       prometheus.Gauge
	heatmapTotal      prometheus.Gauge
	operationLatency  *prometheus.HistogramVec

	// Population
	requesters prometheus.Gauge
	fulfillers prometheus.Gauge
	venues     prometheus.Gauge

	// Command bus
	queueSize          prometheus.Gauge
	queueCapacity      prometheus.Gauge
	queueUtilization   prometheus.Gauge
	queueEnqueued      prometheus.Counter
	queueDequeued      prometheus.Counter
	queueEnqueueErrors prometheus.Counter
	commandsDuplicate  prometheus.Counter
	workerCount        prometheus.Gauge
	workerLatency      prometheus.Histogram
	workerErrors       prometheus.Counter

	// Ops HTTP
	httpRequests        *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec

	errorsByComponent *prometheus.CounterVec

	// System
	systemMemoryUsage    prometheus.Gauge
	systemGoroutineCount prometheus.Gauge
}

var globalManager *Manager //nolint:gochecknoglobals // singleton metrics manager

// Custom registry to avoid default Go metrics.
var customRegistry = prometheus.NewRegistry() //nolint:gochecknoglobals // metrics registry

func init() { //nolint:gochecknoinits // global metrics setup
	globalManager = NewManager(WithPrometheusRegistry(customRegistry))
}

// NewManager creates a metrics manager and registers its collectors.
func NewManager(opts ...Option) *Manager {
	m := &Manager{
		namespace:        "dispatch",
		subsystem:        "engine",
		histogramBuckets: prometheus.DefBuckets,
		customLabels:     make(map[string]string),
		registry:         prometheus.DefaultRegisterer,
	}

	for _, opt := range opts {
		opt(m)
	}

	m.initializeMetrics()

	return m
}

func (m *Manager) name(n string) string {
	if m.metricPrefix == "" {
		return n
	}
	return m.metricPrefix + "_" + n
}

func (m *Manager) counterOpts(name, help string) prometheus.CounterOpts {
	return prometheus.CounterOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        m.name(name),
		Help:        help,
		ConstLabels: m.customLabels,
	}
}

func (m *Manager) gaugeOpts(name, help string) prometheus.GaugeOpts {
	return prometheus.GaugeOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        m.name(name),
		Help:        help,
		ConstLabels: m.customLabels,
	}
}

func (m *Manager) histogramOpts(name, help string) prometheus.HistogramOpts {
	return prometheus.HistogramOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        m.name(name),
		Help:        help,
		Buckets:     m.histogramBuckets,
		ConstLabels: m.customLabels,
	}
}

func (m *Manager) initializeMetrics() { //nolint:funlen // one place for every collector
	auto := promauto.With(m.registry)

	m.requestsSubmitted = auto.NewCounterVec(m.counterOpts("requests_submitted_total",
		"Fulfillment requests submitted, by kind"), []string{"kind"})
	m.requestsAccepted = auto.NewCounter(m.counterOpts("requests_accepted_total",
		"Fulfillment requests accepted by a fulfiller"))
	m.acceptConflicts = auto.NewCounter(m.counterOpts("accept_conflicts_total",
		"Accept attempts that lost the race or hit a non-pending request"))
	m.requestsCompleted = auto.NewCounterVec(m.counterOpts("requests_completed_total",
		"Fulfillment requests completed, by kind"), []string{"kind"})
	m.ratingsRecorded = auto.NewCounterVec(m.counterOpts("ratings_recorded_total",
		"Ratings fed into aggregators, by rated entity"), []string{"target"})
	m.pendingRequests = auto.NewGauge(m.gaugeOpts("pending_requests",
		"Requests currently waiting for a fulfiller"))
	m.heatmapKeys = auto.NewGauge(m.gaugeOpts("heatmap_keys",
		"Distinct heatmap keys"))
	m.heatmapTotal = auto.NewGauge(m.gaugeOpts("heatmap_occurrences",
		"Sum of all heatmap counts"))
	m.operationLatency = auto.NewHistogramVec(m.histogramOpts("operation_latency_milliseconds",
		"Registry operation latency in milliseconds"), []string{"operation"})

	m.requesters = auto.NewGauge(m.gaugeOpts("requesters", "Registered requesters"))
	m.fulfillers = auto.NewGauge(m.gaugeOpts("fulfillers", "Registered fulfillers"))
	m.venues = auto.NewGauge(m.gaugeOpts("venues", "Registered venues"))

	m.queueSize = auto.NewGauge(m.gaugeOpts("queue_size", "Commands waiting in the bus"))
	m.queueCapacity = auto.NewGauge(m.gaugeOpts("queue_capacity", "Command bus capacity"))
	m.queueUtilization = auto.NewGauge(m.gaugeOpts("queue_utilization_ratio", "Command bus utilization (0-1)"))
	m.queueEnqueued = auto.NewCounter(m.counterOpts("queue_enqueued_total", "Commands enqueued"))
	m.queueDequeued = auto.NewCounter(m.counterOpts("queue_dequeued_total", "Commands dequeued"))
	m.queueEnqueueErrors = auto.NewCounter(m.counterOpts("queue_enqueue_errors_total", "Commands rejected by the bus"))
	m.commandsDuplicate = auto.NewCounter(m.counterOpts("commands_duplicate_total", "Commands dropped as duplicates"))
	m.workerCount = auto.NewGauge(m.gaugeOpts("worker_count", "Command workers running"))
	m.workerLatency = auto.NewHistogram(m.histogramOpts("worker_processing_latency_milliseconds",
		"Command execution latency in milliseconds"))
	m.workerErrors = auto.NewCounter(m.counterOpts("worker_errors_total", "Commands that returned an error"))

	m.httpRequests = auto.NewCounterVec(m.counterOpts("http_requests_total",
		"Ops HTTP requests by endpoint, method and status"), []string{"endpoint", "method", "status_code"})
	m.httpRequestDuration = auto.NewHistogramVec(m.histogramOpts("http_request_duration_milliseconds",
		"Ops HTTP request duration in milliseconds"), []string{"endpoint", "method", "status_code"})

	m.errorsByComponent = auto.NewCounterVec(m.counterOpts("errors_total",
		"Errors by component and type"), []string{"component", "error_type"})

	m.systemMemoryUsage = auto.NewGauge(m.gaugeOpts("system_memory_usage_bytes", "Heap bytes allocated"))
	m.systemGoroutineCount = auto.NewGauge(m.gaugeOpts("system_goroutine_count", "Number of goroutines"))
}

// RecordRequestSubmitted counts a new request of the given kind.
func RecordRequestSubmitted(kind string) {
	globalManager.requestsSubmitted.WithLabelValues(kind).Inc()
}

// RecordRequestAccepted counts a successful accept.
func RecordRequestAccepted() {
	globalManager.requestsAccepted.Inc()
}

// RecordAcceptConflict counts an accept that found the request no longer pending.
func RecordAcceptConflict() {
	globalManager.acceptConflicts.Inc()
}

// RecordRequestCompleted counts a completion of the given kind.
func RecordRequestCompleted(kind string) {
	globalManager.requestsCompleted.WithLabelValues(kind).Inc()
}

// RecordRating counts a rating applied to target ("fulfiller" or "venue").
func RecordRating(target string) {
	globalManager.ratingsRecorded.WithLabelValues(target).Inc()
}

// UpdatePendingRequests sets the pending requests gauge.
func UpdatePendingRequests(n int) {
	globalManager.pendingRequests.Set(float64(n))
}

// UpdateHeatmap sets heatmap size gauges.
func UpdateHeatmap(keys int, total int64) {
	globalManager.heatmapKeys.Set(float64(keys))
	globalManager.heatmapTotal.Set(float64(total))
}

// RecordOperationLatency observes a registry operation latency.
func RecordOperationLatency(operation string, latencyMs float64) {
	globalManager.operationLatency.WithLabelValues(operation).Observe(latencyMs)
}

// UpdatePopulation sets the registered entity gauges.
func UpdatePopulation(requesters, fulfillers, venues int) {
	globalManager.requesters.Set(float64(requesters))
	globalManager.fulfillers.Set(float64(fulfillers))
	globalManager.venues.Set(float64(venues))
}

// UpdateQueueSize sets the current queue size.
func UpdateQueueSize(size int) {
	globalManager.queueSize.Set(float64(size))
}

// UpdateQueueCapacity sets the maximum queue capacity.
func UpdateQueueCapacity(capacity int) {
	globalManager.queueCapacity.Set(float64(capacity))
}

// UpdateQueueUtilization sets the queue utilization ratio.
func UpdateQueueUtilization(utilization float64) {
	globalManager.queueUtilization.Set(utilization)
}

// RecordQueueEnqueue increments the enqueue counter.
func RecordQueueEnqueue() {
	globalManager.queueEnqueued.Inc()
}

// RecordQueueDequeue increments the dequeue counter.
func RecordQueueDequeue() {
	globalManager.queueDequeued.Inc()
}

// RecordQueueEnqueueError increments the enqueue error counter.
func RecordQueueEnqueueError() {
	globalManager.queueEnqueueErrors.Inc()
}

// RecordCommandDuplicate counts a command dropped by the deduper.
func RecordCommandDuplicate() {
	globalManager.commandsDuplicate.Inc()
}

// UpdateWorkerCount sets the current worker count.
func UpdateWorkerCount(count int) {
	globalManager.workerCount.Set(float64(count))
}

// RecordWorkerProcessingLatency records command execution latency.
func RecordWorkerProcessingLatency(latencyMs float64) {
	globalManager.workerLatency.Observe(latencyMs)
}

// RecordWorkerError increments the worker error counter.
func RecordWorkerError() {
	globalManager.workerErrors.Inc()
}

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

// UpdateSystemMemoryUsage sets the heap usage in bytes.
func UpdateSystemMemoryUsage(bytes uint64) {
	globalManager.systemMemoryUsage.Set(float64(bytes))
}

// UpdateSystemGoroutineCount sets the number of goroutines.
func UpdateSystemGoroutineCount(count int) {
	globalManager.systemGoroutineCount.Set(float64(count))
}

// GetRegistry returns the custom Prometheus registry used by our metrics.
func GetRegistry() *prometheus.Registry {
	return customRegistry
}
