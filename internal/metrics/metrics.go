// Package metrics holds the prometheus collectors shared by the executor,
// the registry cache and the history store. A nil *Metrics is valid and
// records nothing.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "atomic_image_manager"

// Metrics groups the collectors registered on one registry.
type Metrics struct {
	registry *prometheus.Registry

	executions        *prometheus.CounterVec
	executionDuration prometheus.Histogram
	busyRejections    prometheus.Counter
	cacheLookups      *prometheus.CounterVec
	historyWrites     *prometheus.CounterVec
	droppedEvents     prometheus.Counter
}

// New creates collectors on a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)
	return &Metrics{
		registry: reg,
		executions: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "executions_total",
			Help:      "Completed command executions by outcome kind",
		}, []string{"kind"}),
		executionDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "execution_duration_seconds",
			Help:      "Wall-clock duration of command executions",
			Buckets:   []float64{0.1, 1, 5, 15, 60, 300, 900, 3600},
		}),
		busyRejections: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "busy_rejections_total",
			Help:      "Executions rejected because another command was running",
		}),
		cacheLookups: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "registry_cache_lookups_total",
			Help:      "Registry tag cache lookups by result (hit, miss, stale)",
		}, []string{"result"}),
		historyWrites: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "history_writes_total",
			Help:      "History store writes by result",
		}, []string{"result"}),
		droppedEvents: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "progress_events_dropped_total",
			Help:      "Progress events dropped because the consumer queue was full",
		}),
	}
}

// Registry exposes the underlying registry for gathering.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// ObserveExecution records one finished execution.
func (m *Metrics) ObserveExecution(kind string, d time.Duration) {
	if m == nil {
		return
	}
	if kind == "" {
		kind = "success"
	}
	m.executions.WithLabelValues(kind).Inc()
	m.executionDuration.Observe(d.Seconds())
}

// BusyRejected counts an execution refused by the entry guard.
func (m *Metrics) BusyRejected() {
	if m == nil {
		return
	}
	m.busyRejections.Inc()
}

// Cache lookup results.
const (
	CacheHit   = "hit"
	CacheMiss  = "miss"
	CacheStale = "stale"
)

// CacheLookup counts one registry cache lookup.
func (m *Metrics) CacheLookup(result string) {
	if m == nil {
		return
	}
	m.cacheLookups.WithLabelValues(result).Inc()
}

// HistoryWrite counts one history store write.
func (m *Metrics) HistoryWrite(err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.historyWrites.WithLabelValues(result).Inc()
}

// EventDropped counts a progress event that could not be queued.
func (m *Metrics) EventDropped() {
	if m == nil {
		return
	}
	m.droppedEvents.Inc()
}

// WriteTextfile writes the current values in the node-exporter textfile
// format.
func (m *Metrics) WriteTextfile(path string) error {
	if m == nil || path == "" {
		return nil
	}
	return prometheus.WriteToTextfile(path, m.registry)
}
