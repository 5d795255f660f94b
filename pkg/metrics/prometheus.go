// Package metrics provides Prometheus metrics for the geocluster map screen.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	defaultRefreshInterval = 10 * time.Second
)

// Manager owns every Prometheus collector exported by geocluster.
type Manager struct {
	namespace        string
	subsystem        string
	histogramBuckets []float64
	enabled          bool
	refreshInterval  time.Duration
	customLabels     map[string]string
	metricPrefix     string
	registry         prometheus.Registerer

	// Clustering
	clusterComputations prometheus.Counter
	clusterLatency      prometheus.Histogram
	clusterInputItems   prometheus.Gauge
	clusterOutputCount  prometheus.Gauge
	invalidCoordinates  prometheus.Counter

	// Icon cache
	cacheHits     prometheus.Counter
	cacheMisses   prometheus.Counter
	cacheEvicted  prometheus.Counter
	cacheRejected prometheus.Counter
	cacheEntries  prometheus.Gauge
	cacheBytes    prometheus.Gauge

	// Rendering and thumbnail fetches
	renderLatency      *prometheus.HistogramVec
	renderErrors       *prometheus.CounterVec
	renderRetries      prometheus.Counter
	renderInflight     prometheus.Gauge
	renderCoalesced    prometheus.Counter
	fetchLatency       prometheus.Histogram
	fetchErrors        *prometheus.CounterVec
	markerQueryLatency prometheus.Histogram
	markerQueryErrors  prometheus.Counter

	// Render queue and workers
	queueSize          prometheus.Gauge
	queueCapacity      prometheus.Gauge
	queueEnqueued      prometheus.Counter
	queueDequeued      prometheus.Counter
	queueEnqueueErrors *prometheus.CounterVec
	workerActiveCount  prometheus.Gauge

	// Reconciliation and completions
	markersAdded       prometheus.Counter
	markersRemoved     prometheus.Counter
	markersRendered    prometheus.Gauge
	completionsApplied prometheus.Counter
	completionsStale   prometheus.Counter
	tapDecisions       *prometheus.CounterVec
	errorsByComponent  *prometheus.CounterVec

	// Debug HTTP endpoints
	httpRequests        *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec

	// Process
	systemMemoryUsage    prometheus.Gauge
	systemGoroutineCount prometheus.Gauge
	systemGCPauseTime    prometheus.Histogram
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
		namespace:        "geocluster",
		subsystem:        "map",
		histogramBuckets: prometheus.DefBuckets,
		enabled:          true,
		refreshInterval:  defaultRefreshInterval,
		customLabels:     make(map[string]string),
		registry:         prometheus.DefaultRegisterer,
	}

	for _, opt := range opts {
		opt(m)
	}
	if !m.enabled {
		m.registry = prometheus.NewRegistry()
	}

	m.initializeMetrics()
	return m
}

// Init replaces the process-wide manager with one built from opts on a fresh
// registry, which GetRegistry then returns. Call it at startup before
// anything records or serves metrics.
func Init(opts ...Option) {
	reg := prometheus.NewRegistry()
	m := NewManager(append([]Option{WithPrometheusRegistry(reg)}, opts...)...)
	customRegistry, globalManager = reg, m
}

// Enabled reports whether the manager's collectors are exposed.
func (m *Manager) Enabled() bool { return m.enabled }

// RefreshInterval is how often sampled gauges should be refreshed.
func (m *Manager) RefreshInterval() time.Duration { return m.refreshInterval }

// Enabled reports whether the process-wide metrics are exposed.
func Enabled() bool { return globalManager.Enabled() }

// RefreshInterval is the process-wide gauge refresh interval.
func RefreshInterval() time.Duration { return globalManager.RefreshInterval() }

func (m *Manager) name(n string) string {
	if m.metricPrefix == "" {
		return n
	}
	return m.metricPrefix + "_" + n
}

func (m *Manager) counter(name, help string) prometheus.Counter {
	return promauto.With(m.registry).NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace, Subsystem: m.subsystem, Name: m.name(name), Help: help, ConstLabels: m.customLabels,
	})
}

func (m *Manager) gauge(name, help string) prometheus.Gauge {
	return promauto.With(m.registry).NewGauge(prometheus.GaugeOpts{
		Namespace: m.namespace, Subsystem: m.subsystem, Name: m.name(name), Help: help, ConstLabels: m.customLabels,
	})
}

func (m *Manager) histogram(name, help string) prometheus.Histogram {
	return promauto.With(m.registry).NewHistogram(prometheus.HistogramOpts{
		Namespace: m.namespace, Subsystem: m.subsystem, Name: m.name(name), Help: help, ConstLabels: m.customLabels,
		Buckets: m.histogramBuckets,
	})
}

func (m *Manager) counterVec(name, help string, labels ...string) *prometheus.CounterVec {
	return promauto.With(m.registry).NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace, Subsystem: m.subsystem, Name: m.name(name), Help: help, ConstLabels: m.customLabels,
	}, labels)
}

func (m *Manager) histogramVec(name, help string, labels ...string) *prometheus.HistogramVec {
	return promauto.With(m.registry).NewHistogramVec(prometheus.HistogramOpts{
		Namespace: m.namespace, Subsystem: m.subsystem, Name: m.name(name), Help: help, ConstLabels: m.customLabels,
		Buckets: m.histogramBuckets,
	}, labels)
}

func (m *Manager) initializeMetrics() { //nolint:funlen // one place for every collector
	m.clusterComputations = m.counter("cluster_computations_total", "Number of clustering passes")
	m.clusterLatency = m.histogram("cluster_latency_milliseconds", "Clustering pass latency in milliseconds")
	m.clusterInputItems = m.gauge("cluster_input_items", "Items fed to the last clustering pass")
	m.clusterOutputCount = m.gauge("cluster_output_clusters", "Clusters produced by the last clustering pass")
	m.invalidCoordinates = m.counter("invalid_coordinates_total", "Markers dropped for NaN or out-of-range coordinates")

	m.cacheHits = m.counter("icon_cache_hits_total", "Icon cache hits")
	m.cacheMisses = m.counter("icon_cache_misses_total", "Icon cache misses")
	m.cacheEvicted = m.counter("icon_cache_evictions_total", "Icon cache entries evicted to stay within budget")
	m.cacheRejected = m.counter("icon_cache_rejected_total", "Icon cache inserts refused because the entry exceeds the byte budget")
	m.cacheEntries = m.gauge("icon_cache_entries", "Entries currently held by the icon cache")
	m.cacheBytes = m.gauge("icon_cache_bytes", "Bytes currently held by the icon cache")

	m.renderLatency = m.histogramVec("render_latency_milliseconds", "Icon render latency by kind", "kind")
	m.renderErrors = m.counterVec("render_errors_total", "Icon renders that ended on the placeholder", "kind")
	m.renderRetries = m.counter("render_retries_total", "Icon render retries after a failed attempt")
	m.renderInflight = m.gauge("render_inflight", "Distinct icon keys currently being rendered")
	m.renderCoalesced = m.counter("render_coalesced_total", "Icon requests joined to an in-flight render")
	m.fetchLatency = m.histogram("thumbnail_fetch_latency_milliseconds", "Thumbnail GET latency in milliseconds")
	m.fetchErrors = m.counterVec("thumbnail_fetch_errors_total", "Thumbnail fetch failures by reason", "reason")
	m.markerQueryLatency = m.histogram("marker_query_latency_milliseconds", "Bounding-box marker query latency")
	m.markerQueryErrors = m.counter("marker_query_errors_total", "Failed bounding-box marker queries")

	m.queueSize = m.gauge("render_queue_size", "Render jobs waiting in the queue")
	m.queueCapacity = m.gauge("render_queue_capacity", "Render queue capacity")
	m.queueEnqueued = m.counter("render_queue_enqueued_total", "Render jobs enqueued")
	m.queueDequeued = m.counter("render_queue_dequeued_total", "Render jobs dequeued")
	m.queueEnqueueErrors = m.counterVec("render_queue_enqueue_errors_total", "Render jobs refused by the queue", "reason")
	m.workerActiveCount = m.gauge("render_workers", "Render workers running")

	m.markersAdded = m.counter("markers_added_total", "Markers added to the surface by reconciliation")
	m.markersRemoved = m.counter("markers_removed_total", "Markers removed from the surface by reconciliation")
	m.markersRendered = m.gauge("markers_rendered", "Markers currently on the surface")
	m.completionsApplied = m.counter("icon_completions_applied_total", "Icon completions swapped onto a displayed marker")
	m.completionsStale = m.counter("icon_completions_stale_total", "Icon completions discarded because their epoch was stale")
	m.tapDecisions = m.counterVec("tap_decisions_total", "Cluster tap resolutions by action", "action")
	m.errorsByComponent = m.counterVec("errors_by_component_total", "Errors by component", "component", "error_type")

	m.httpRequests = m.counterVec("http_requests_total", "Debug HTTP requests", "endpoint", "method", "status_code")
	m.httpRequestDuration = m.histogramVec("http_request_duration_milliseconds", "Debug HTTP request duration", "endpoint", "method", "status_code")

	m.systemMemoryUsage = m.gauge("system_memory_bytes", "Heap bytes allocated")
	m.systemGoroutineCount = m.gauge("system_goroutines", "Goroutines running")
	m.systemGCPauseTime = m.histogram("system_gc_pause_milliseconds", "Average GC pause in milliseconds")
}

func ms(d time.Duration) float64 { return float64(d) / float64(time.Millisecond) }

// RecordClustering records one clustering pass.
func RecordClustering(took time.Duration, items, clusters int) {
	globalManager.clusterComputations.Inc()
	globalManager.clusterLatency.Observe(ms(took))
	globalManager.clusterInputItems.Set(float64(items))
	globalManager.clusterOutputCount.Set(float64(clusters))
}

// RecordInvalidCoordinates counts markers filtered before projection.
func RecordInvalidCoordinates(n int) {
	globalManager.invalidCoordinates.Add(float64(n))
}

// RecordCacheHit increments the cache hit counter.
func RecordCacheHit() { globalManager.cacheHits.Inc() }

// RecordCacheMiss increments the cache miss counter.
func RecordCacheMiss() { globalManager.cacheMisses.Inc() }

// RecordCacheEvictions adds n evictions.
func RecordCacheEvictions(n int) { globalManager.cacheEvicted.Add(float64(n)) }

// RecordCacheRejected counts an insert refused for exceeding the byte budget.
func RecordCacheRejected() { globalManager.cacheRejected.Inc() }

// UpdateCacheUsage publishes current cache occupancy.
func UpdateCacheUsage(entries, bytes int) {
	globalManager.cacheEntries.Set(float64(entries))
	globalManager.cacheBytes.Set(float64(bytes))
}

// RecordRender records a finished render attempt sequence for kind.
func RecordRender(kind string, took time.Duration, failed bool) {
	globalManager.renderLatency.WithLabelValues(kind).Observe(ms(took))
	if failed {
		globalManager.renderErrors.WithLabelValues(kind).Inc()
	}
}

// RecordRenderRetry increments the retry counter.
func RecordRenderRetry() { globalManager.renderRetries.Inc() }

// UpdateRenderInflight publishes the number of keys being rendered.
func UpdateRenderInflight(n int) { globalManager.renderInflight.Set(float64(n)) }

// RecordRenderCoalesced counts a request that joined an in-flight render.
func RecordRenderCoalesced() { globalManager.renderCoalesced.Inc() }

// RecordFetch records a thumbnail GET; reason is empty on success.
func RecordFetch(took time.Duration, reason string) {
	globalManager.fetchLatency.Observe(ms(took))
	if reason != "" {
		globalManager.fetchErrors.WithLabelValues(reason).Inc()
	}
}

// RecordMarkerQuery records a bounding-box query.
func RecordMarkerQuery(took time.Duration, failed bool) {
	globalManager.markerQueryLatency.Observe(ms(took))
	if failed {
		globalManager.markerQueryErrors.Inc()
	}
}

// UpdateQueueCapacity sets the render queue capacity gauge.
func UpdateQueueCapacity(capacity int) { globalManager.queueCapacity.Set(float64(capacity)) }

// UpdateQueueSize sets the render queue size gauge.
func UpdateQueueSize(size int) { globalManager.queueSize.Set(float64(size)) }

// RecordQueueEnqueue increments the enqueue counter.
func RecordQueueEnqueue() { globalManager.queueEnqueued.Inc() }

// RecordQueueDequeue increments the dequeue counter.
func RecordQueueDequeue() { globalManager.queueDequeued.Inc() }

// RecordQueueEnqueueError counts a refused enqueue by reason.
func RecordQueueEnqueueError(reason string) {
	globalManager.queueEnqueueErrors.WithLabelValues(reason).Inc()
}

// UpdateWorkerActiveCount sets the number of running render workers.
func UpdateWorkerActiveCount(count int) { globalManager.workerActiveCount.Set(float64(count)) }

// RecordReconcile records one reconciliation and the resulting marker count.
func RecordReconcile(added, removed, rendered int) {
	globalManager.markersAdded.Add(float64(added))
	globalManager.markersRemoved.Add(float64(removed))
	globalManager.markersRendered.Set(float64(rendered))
}

// RecordCompletionApplied counts a bitmap swapped onto a displayed marker.
func RecordCompletionApplied() { globalManager.completionsApplied.Inc() }

// RecordCompletionStale counts a completion discarded for a stale epoch.
func RecordCompletionStale() { globalManager.completionsStale.Inc() }

// RecordTapDecision counts a cluster tap resolution.
func RecordTapDecision(action string) { globalManager.tapDecisions.WithLabelValues(action).Inc() }

// RecordErrorByComponent counts an error by component and type.
func RecordErrorByComponent(component, errorType string) {
	globalManager.errorsByComponent.WithLabelValues(component, errorType).Inc()
}

// RecordHTTPRequest records a debug endpoint request.
func RecordHTTPRequest(endpoint, method, statusCode string, durationMs float64) {
	globalManager.httpRequests.WithLabelValues(endpoint, method, statusCode).Inc()
	globalManager.httpRequestDuration.WithLabelValues(endpoint, method, statusCode).Observe(durationMs)
}

// UpdateSystemMemoryUsage sets the allocated heap size.
func UpdateSystemMemoryUsage(bytes uint64) { globalManager.systemMemoryUsage.Set(float64(bytes)) }

// UpdateSystemGoroutineCount sets the goroutine count.
func UpdateSystemGoroutineCount(count int) { globalManager.systemGoroutineCount.Set(float64(count)) }

// RecordSystemGCPauseTime observes an average GC pause.
func RecordSystemGCPauseTime(pauseMs float64) { globalManager.systemGCPauseTime.Observe(pauseMs) }

// GetRegistry returns the registry the global manager reports to.
func GetRegistry() *prometheus.Registry {
	return customRegistry
}
