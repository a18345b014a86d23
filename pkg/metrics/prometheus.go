// Package metrics provides Prometheus metrics for the cadence input and frame pipeline.
package metrics

import (
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Subsystems used for metric names.
const (
	subsystemInput  = "input"
	subsystemFrame  = "frame"
	subsystemSystem = "system"
)

// defaultMillisecondBuckets covers sub-frame work up to several dropped frames.
var defaultMillisecondBuckets = []float64{0.25, 0.5, 1, 2, 4, 8, 12, 16.7, 25, 33.4, 50, 100, 250} //nolint:gochecknoglobals // immutable defaults

// Manager owns every Prometheus collector of the pipeline.
type Manager struct {
	namespace        string
	histogramBuckets []float64
	enabled          bool
	customLabels     map[string]string
	registry         prometheus.Registerer

	// Input (Event Latency Reducer)
	inputEvents      *prometheus.CounterVec
	inputCoalesced   prometheus.Counter
	inputPredicted   prometheus.Counter
	inputLatency     prometheus.Histogram
	inputQueueSize   prometheus.Gauge
	inputQueueCap    prometheus.Gauge
	inputQueueDrops  *prometheus.CounterVec
	inputActiveTouch prometheus.Gauge

	// Frame (Frame Task Scheduler)
	framesProcessed prometheus.Counter
	framesDropped   prometheus.Counter
	frameWork       prometheus.Histogram
	frameTargetFPS  prometheus.Gauge
	frameBudget     prometheus.Gauge
	frameUtil       prometheus.Gauge
	taskRuns        *prometheus.CounterVec
	taskSkips       *prometheus.CounterVec
	taskErrors      *prometheus.CounterVec
	taskDuration    *prometheus.HistogramVec
	scheduledTasks  prometheus.Gauge

	// System
	systemMemoryUsage    prometheus.Gauge
	systemGoroutineCount prometheus.Gauge
}

// Global metrics manager instance.
var globalManager atomic.Pointer[Manager] //nolint:gochecknoglobals // intentional global for singleton metrics manager

// Custom registry to avoid default Go metrics.
var customRegistry = prometheus.NewRegistry() //nolint:gochecknoglobals // intentional global for metrics registry

func init() { //nolint:gochecknoinits // intentional init for global metrics setup
	globalManager.Store(NewManager(WithPrometheusRegistry(customRegistry)))
}

// NewManager creates a new metrics manager with default configuration.
func NewManager(opts ...Option) *Manager {
	m := &Manager{
		namespace:        "cadence",
		histogramBuckets: defaultMillisecondBuckets,
		enabled:          true,
		customLabels:     make(map[string]string),
		registry:         prometheus.DefaultRegisterer,
	}

	for _, opt := range opts {
		opt(m)
	}

	m.initializeMetrics()

	return m
}

// SetGlobal replaces the manager used by the package-level helpers.
func SetGlobal(m *Manager) error {
	if m == nil {
		return ErrManagerNil
	}
	globalManager.Store(m)
	return nil
}

func (m *Manager) counter(subsystem, name, help string) prometheus.CounterOpts {
	return prometheus.CounterOpts{
		Namespace:   m.namespace,
		Subsystem:   subsystem,
		Name:        name,
		Help:        help,
		ConstLabels: m.customLabels,
	}
}

func (m *Manager) gauge(subsystem, name, help string) prometheus.GaugeOpts {
	return prometheus.GaugeOpts{
		Namespace:   m.namespace,
		Subsystem:   subsystem,
		Name:        name,
		Help:        help,
		ConstLabels: m.customLabels,
	}
}

func (m *Manager) histogram(subsystem, name, help string) prometheus.HistogramOpts {
	return prometheus.HistogramOpts{
		Namespace:   m.namespace,
		Subsystem:   subsystem,
		Name:        name,
		Help:        help,
		ConstLabels: m.customLabels,
		Buckets:     m.histogramBuckets,
	}
}

func (m *Manager) initializeMetrics() { //nolint:funlen // one place for every collector
	auto := promauto.With(m.registry)

	m.inputEvents = auto.NewCounterVec(m.counter(subsystemInput, "events_processed_total",
		"Input samples applied to tracked touches, by kind, including replayed coalesced sub-samples"), []string{"kind"})
	m.inputCoalesced = auto.NewCounter(m.counter(subsystemInput, "coalesced_events_total",
		"Coalesced sub-samples replayed"))
	m.inputPredicted = auto.NewCounter(m.counter(subsystemInput, "predicted_events_total",
		"Platform-predicted sub-samples used to extend the prediction horizon"))
	m.inputLatency = auto.NewHistogram(m.histogram(subsystemInput, "latency_milliseconds",
		"Delay between platform event timestamp and handler delivery"))
	m.inputQueueSize = auto.NewGauge(m.gauge(subsystemInput, "queue_size",
		"Current number of deferred input samples"))
	m.inputQueueCap = auto.NewGauge(m.gauge(subsystemInput, "queue_capacity",
		"Maximum number of deferred input samples"))
	m.inputQueueDrops = auto.NewCounterVec(m.counter(subsystemInput, "queue_drops_total",
		"Deferred samples dropped, by reason"), []string{"reason"})
	m.inputActiveTouch = auto.NewGauge(m.gauge(subsystemInput, "active_touches",
		"Currently tracked contacts"))

	m.framesProcessed = auto.NewCounter(m.counter(subsystemFrame, "processed_total",
		"Frames whose task list was processed"))
	m.framesDropped = auto.NewCounter(m.counter(subsystemFrame, "dropped_total",
		"Display refreshes inferred as missed from long frame deltas"))
	m.frameWork = auto.NewHistogram(m.histogram(subsystemFrame, "work_milliseconds",
		"Time spent running tasks within one frame"))
	m.frameTargetFPS = auto.NewGauge(m.gauge(subsystemFrame, "target_fps",
		"Current target frame rate"))
	m.frameBudget = auto.NewGauge(m.gauge(subsystemFrame, "budget_milliseconds",
		"Current per-frame work budget"))
	m.frameUtil = auto.NewGauge(m.gauge(subsystemFrame, "budget_utilization_ratio",
		"Work time divided by budget for the last processed frame"))
	m.taskRuns = auto.NewCounterVec(m.counter(subsystemFrame, "task_runs_total",
		"Task executions by priority"), []string{"priority"})
	m.taskSkips = auto.NewCounterVec(m.counter(subsystemFrame, "task_skips_total",
		"Task deferrals by priority"), []string{"priority"})
	m.taskErrors = auto.NewCounterVec(m.counter(subsystemFrame, "task_errors_total",
		"Task callbacks that returned an error or panicked"), []string{"task"})
	m.taskDuration = auto.NewHistogramVec(m.histogram(subsystemFrame, "task_duration_milliseconds",
		"Task callback duration by priority"), []string{"priority"})
	m.scheduledTasks = auto.NewGauge(m.gauge(subsystemFrame, "scheduled_tasks",
		"Registered per-frame tasks"))

	m.systemMemoryUsage = auto.NewGauge(m.gauge(subsystemSystem, "memory_usage_bytes",
		"Heap bytes allocated"))
	m.systemGoroutineCount = auto.NewGauge(m.gauge(subsystemSystem, "goroutine_count",
		"Number of goroutines"))
}

func active() *Manager {
	m := globalManager.Load()
	if m == nil || !m.enabled {
		return nil
	}
	return m
}

// RecordInputEvent counts one applied input sample of the given kind.
func RecordInputEvent(kind string) {
	if m := active(); m != nil {
		m.inputEvents.WithLabelValues(kind).Inc()
	}
}

// RecordCoalescedEvents counts replayed coalesced sub-samples.
func RecordCoalescedEvents(n int) {
	if m := active(); m != nil && n > 0 {
		m.inputCoalesced.Add(float64(n))
	}
}

// RecordPredictedEvents counts platform-predicted sub-samples.
func RecordPredictedEvents(n int) {
	if m := active(); m != nil && n > 0 {
		m.inputPredicted.Add(float64(n))
	}
}

// RecordInputLatency records input latency in milliseconds.
func RecordInputLatency(latencyMs float64) {
	if m := active(); m != nil {
		m.inputLatency.Observe(latencyMs)
	}
}

// UpdateInputQueue sets the deferred queue size and capacity.
func UpdateInputQueue(size, capacity int) {
	if m := active(); m != nil {
		m.inputQueueSize.Set(float64(size))
		m.inputQueueCap.Set(float64(capacity))
	}
}

// RecordInputQueueDrop counts a deferred sample dropped for reason ("evicted", "expired", "rejected").
func RecordInputQueueDrop(reason string) {
	if m := active(); m != nil {
		m.inputQueueDrops.WithLabelValues(reason).Inc()
	}
}

// UpdateActiveTouches sets the number of tracked contacts.
func UpdateActiveTouches(n int) {
	if m := active(); m != nil {
		m.inputActiveTouch.Set(float64(n))
	}
}

// RecordFrame records one processed frame with its task work time and budget.
func RecordFrame(workMs, budgetMs float64) {
	m := active()
	if m == nil {
		return
	}
	m.framesProcessed.Inc()
	m.frameWork.Observe(workMs)
	if budgetMs > 0 {
		m.frameUtil.Set(workMs / budgetMs)
	}
}

// RecordDroppedFrames adds inferred missed refreshes.
func RecordDroppedFrames(n int) {
	if m := active(); m != nil && n > 0 {
		m.framesDropped.Add(float64(n))
	}
}

// UpdateFrameRate sets the target FPS and budget gauges.
func UpdateFrameRate(targetFPS int, budgetMs float64) {
	if m := active(); m != nil {
		m.frameTargetFPS.Set(float64(targetFPS))
		m.frameBudget.Set(budgetMs)
	}
}

// RecordTaskRun records one task execution.
func RecordTaskRun(priority string, durationMs float64) {
	if m := active(); m != nil {
		m.taskRuns.WithLabelValues(priority).Inc()
		m.taskDuration.WithLabelValues(priority).Observe(durationMs)
	}
}

// RecordTaskSkipped records one task deferral.
func RecordTaskSkipped(priority string) {
	if m := active(); m != nil {
		m.taskSkips.WithLabelValues(priority).Inc()
	}
}

// RecordTaskError records a failed task callback.
func RecordTaskError(task string) {
	if m := active(); m != nil {
		m.taskErrors.WithLabelValues(task).Inc()
	}
}

// UpdateScheduledTasks sets the registered task count.
func UpdateScheduledTasks(n int) {
	if m := active(); m != nil {
		m.scheduledTasks.Set(float64(n))
	}
}

// UpdateSystemMemoryUsage sets the system memory usage in bytes.
func UpdateSystemMemoryUsage(bytes uint64) {
	if m := active(); m != nil {
		m.systemMemoryUsage.Set(float64(bytes))
	}
}

// UpdateSystemGoroutineCount sets the number of goroutines.
func UpdateSystemGoroutineCount(count int) {
	if m := active(); m != nil {
		m.systemGoroutineCount.Set(float64(count))
	}
}

// GetRegistry returns the custom Prometheus registry used by our metrics.
func GetRegistry() *prometheus.Registry {
	return customRegistry
}
