package opscore

import (
	"sort"
	"sync"
	"time"

	"github.com/GoCodeAlone/opscore/eventbus"
	"github.com/GoCodeAlone/opscore/registry"
)

// memoryPressureRatio is the share of the memory threshold above which the
// core reports memory pressure and stops being healthy.
const memoryPressureRatio = 0.8

// ComponentTiming aggregates the durations recorded by Monitor.
type ComponentTiming struct {
	Component string        `json:"component"`
	Count     int64         `json:"count"`
	Total     time.Duration `json:"total"`
	Max       time.Duration `json:"max"`
	Last      time.Duration `json:"last"`
}

// Average returns the mean recorded duration.
func (t ComponentTiming) Average() time.Duration {
	if t.Count == 0 {
		return 0
	}
	return t.Total / time.Duration(t.Count)
}

// Performance combines registry and bus metrics and checks them against
// the configured thresholds.
type Performance struct {
	registry *registry.Registry
	bus      *eventbus.Bus
	sink     Sink
	config   func() PerformanceConfig

	mu      sync.Mutex
	timings map[string]*ComponentTiming
}

func newPerformance(reg *registry.Registry, bus *eventbus.Bus, sink Sink, config func() PerformanceConfig) *Performance {
	return &Performance{
		registry: reg,
		bus:      bus,
		sink:     sink,
		config:   config,
		timings:  make(map[string]*ComponentTiming),
	}
}

// GetMetrics returns the registry metrics with the bus throughput filled in.
func (p *Performance) GetMetrics() registry.Metrics {
	m := p.registry.GetMetrics()
	m.EventThroughput = p.bus.Throughput()
	return m
}

// Monitor starts a stopwatch for component. Calling the returned function
// records the elapsed time; later calls are ignored.
func (p *Performance) Monitor(component string) func() {
	start := time.Now()
	var once sync.Once
	return func() {
		once.Do(func() {
			p.record(component, time.Since(start))
		})
	}
}

func (p *Performance) record(component string, d time.Duration) {
	p.mu.Lock()
	t, ok := p.timings[component]
	if !ok {
		t = &ComponentTiming{Component: component}
		p.timings[component] = t
	}
	t.Count++
	t.Total += d
	t.Last = d
	if d > t.Max {
		t.Max = d
	}
	p.mu.Unlock()

	p.sink.RecordTiming(component, d)
}

// Timings returns the aggregated Monitor results sorted by component.
func (p *Performance) Timings() []ComponentTiming {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]ComponentTiming, 0, len(p.timings))
	for _, t := range p.timings {
		out = append(out, *t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Component < out[j].Component })
	return out
}

// IsHealthy reports whether the error rate is below the threshold and
// module memory is below 80% of the memory threshold.
func (p *Performance) IsHealthy() bool {
	return p.healthy(p.GetMetrics())
}

func (p *Performance) healthy(m registry.Metrics) bool {
	cfg := p.config()
	return m.ErrorRate < cfg.ErrorRateThreshold && !p.memoryHigh(m)
}

func (p *Performance) memoryHigh(m registry.Metrics) bool {
	threshold := float64(p.config().MemoryThresholdMB) * 1024 * 1024
	return float64(m.MemoryUsage) >= threshold*memoryPressureRatio
}

// Snapshot reads the current metrics.
func (p *Performance) Snapshot() Snapshot {
	m := p.GetMetrics()
	return Snapshot{
		At:      time.Now(),
		Metrics: m,
		Bus:     p.bus.Stats(),
		Healthy: p.healthy(m),
	}
}
