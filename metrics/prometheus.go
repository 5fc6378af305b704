// Package metrics exports core performance snapshots to Prometheus.
package metrics

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/GoCodeAlone/opscore"
)

const namespace = "opscore"

// PrometheusSink records snapshots and component timings as Prometheus
// metrics. It implements opscore.Sink.
type PrometheusSink struct {
	registry *prometheus.Registry

	ModuleMemoryBytes   prometheus.Gauge
	ActiveModules       prometheus.Gauge
	ModuleErrorRate     prometheus.Gauge
	ModuleLoadSeconds   prometheus.Gauge
	EventThroughput     prometheus.Gauge
	EventsQueued        prometheus.Gauge
	EventListeners      prometheus.Gauge
	EventMemoryBytes    prometheus.Gauge
	EventsProcessed     prometheus.Counter
	EventsDropped       prometheus.Counter
	HandlerErrors       prometheus.Counter
	Healthy             prometheus.Gauge
	ComponentDurations  *prometheus.HistogramVec
	SnapshotsRecorded   prometheus.Counter
	LastSnapshotSeconds prometheus.Gauge

	mu   sync.Mutex
	last struct {
		processed, dropped, handlerErrors uint64
	}
}

// NewPrometheusSink creates the collectors and registers them on reg. A nil
// reg uses a fresh registry.
func NewPrometheusSink(reg *prometheus.Registry) (*PrometheusSink, error) {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}

	s := &PrometheusSink{
		registry: reg,
		ModuleMemoryBytes: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "module_memory_bytes",
			Help: "Estimated memory attributed to loaded modules",
		}),
		ActiveModules: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "modules_active",
			Help: "Number of loaded modules",
		}),
		ModuleErrorRate: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "module_error_rate",
			Help: "Share of registered modules in the error state",
		}),
		ModuleLoadSeconds: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "module_average_load_seconds",
			Help: "Mean module factory duration",
		}),
		EventThroughput: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "event_throughput",
			Help: "Events dispatched per second since the bus started",
		}),
		EventsQueued: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "events_queued",
			Help: "Events waiting for dispatch",
		}),
		EventListeners: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "event_listeners",
			Help: "Registered event listeners",
		}),
		EventMemoryBytes: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "event_memory_bytes",
			Help: "Estimated event bus memory",
		}),
		EventsProcessed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "events_processed_total",
			Help: "Events dispatched to listeners",
		}),
		EventsDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "events_dropped_total",
			Help: "Events dropped by back-pressure or memory sweeps",
		}),
		HandlerErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "event_handler_errors_total",
			Help: "Failed listener invocations",
		}),
		Healthy: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "healthy",
			Help: "Whether the core is within its thresholds (1 = healthy)",
		}),
		ComponentDurations: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace, Name: "component_duration_seconds",
			Help:    "Durations recorded by the performance monitor",
			Buckets: prometheus.DefBuckets,
		}, []string{"component"}),
		SnapshotsRecorded: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "snapshots_total",
			Help: "Performance snapshots recorded",
		}),
		LastSnapshotSeconds: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "last_snapshot_timestamp_seconds",
			Help: "Unix time of the latest snapshot",
		}),
	}

	for _, c := range []prometheus.Collector{
		s.ModuleMemoryBytes, s.ActiveModules, s.ModuleErrorRate, s.ModuleLoadSeconds,
		s.EventThroughput, s.EventsQueued, s.EventListeners, s.EventMemoryBytes,
		s.EventsProcessed, s.EventsDropped, s.HandlerErrors, s.Healthy,
		s.ComponentDurations, s.SnapshotsRecorded, s.LastSnapshotSeconds,
	} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// Registry returns the Prometheus registry holding the sink's collectors.
func (s *PrometheusSink) Registry() *prometheus.Registry {
	return s.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (s *PrometheusSink) Handler() http.Handler {
	return promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{})
}

// RecordSnapshot implements opscore.Sink.
func (s *PrometheusSink) RecordSnapshot(snap opscore.Snapshot) {
	s.ModuleMemoryBytes.Set(float64(snap.Metrics.MemoryUsage))
	s.ActiveModules.Set(float64(snap.Metrics.ActiveModules))
	s.ModuleErrorRate.Set(snap.Metrics.ErrorRate)
	s.ModuleLoadSeconds.Set(snap.Metrics.AverageResponseTime.Seconds())
	s.EventThroughput.Set(snap.Metrics.EventThroughput)
	s.EventsQueued.Set(float64(snap.Bus.Queued))
	s.EventListeners.Set(float64(snap.Bus.Listeners))
	s.EventMemoryBytes.Set(float64(snap.Bus.EstimatedMemory))
	if snap.Healthy {
		s.Healthy.Set(1)
	} else {
		s.Healthy.Set(0)
	}

	s.mu.Lock()
	addDelta(s.EventsProcessed, &s.last.processed, snap.Bus.Processed)
	addDelta(s.EventsDropped, &s.last.dropped, snap.Bus.Dropped)
	addDelta(s.HandlerErrors, &s.last.handlerErrors, snap.Bus.HandlerErrors)
	s.mu.Unlock()

	s.SnapshotsRecorded.Inc()
	s.LastSnapshotSeconds.Set(float64(snap.At.Unix()))
}

// addDelta converts a cumulative bus counter into counter increments. A
// counter that went backwards was reset and is taken as the new baseline.
func addDelta(c prometheus.Counter, last *uint64, current uint64) {
	if current > *last {
		c.Add(float64(current - *last))
	}
	*last = current
}

// RecordTiming implements opscore.Sink.
func (s *PrometheusSink) RecordTiming(component string, d time.Duration) {
	s.ComponentDurations.WithLabelValues(component).Observe(d.Seconds())
}
