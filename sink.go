package opscore

import (
	"sync"
	"time"

	"github.com/GoCodeAlone/opscore/eventbus"
	"github.com/GoCodeAlone/opscore/registry"
)

// DefaultSnapshotHistory is how many snapshots a MemorySink retains.
const DefaultSnapshotHistory = 120

// Snapshot is one periodic reading of registry and bus metrics.
type Snapshot struct {
	At      time.Time        `json:"at"`
	Metrics registry.Metrics `json:"metrics"`
	Bus     eventbus.Stats   `json:"bus"`
	Healthy bool             `json:"healthy"`
}

// Sink receives performance data recorded by the core.
type Sink interface {
	RecordSnapshot(s Snapshot)
	RecordTiming(component string, d time.Duration)
}

type noopSink struct{}

func (noopSink) RecordSnapshot(Snapshot)            {}
func (noopSink) RecordTiming(string, time.Duration) {}

// MemorySink keeps a bounded history of snapshots in memory.
type MemorySink struct {
	mu        sync.RWMutex
	limit     int
	snapshots []Snapshot
	timings   map[string][]time.Duration
}

// NewMemorySink creates a sink retaining the last limit snapshots and
// timings per component. A non-positive limit uses DefaultSnapshotHistory.
func NewMemorySink(limit int) *MemorySink {
	if limit <= 0 {
		limit = DefaultSnapshotHistory
	}
	return &MemorySink{limit: limit, timings: make(map[string][]time.Duration)}
}

// RecordSnapshot implements Sink.
func (s *MemorySink) RecordSnapshot(snap Snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snapshots = append(s.snapshots, snap)
	if over := len(s.snapshots) - s.limit; over > 0 {
		s.snapshots = append(s.snapshots[:0], s.snapshots[over:]...)
	}
}

// RecordTiming implements Sink.
func (s *MemorySink) RecordTiming(component string, d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t := append(s.timings[component], d)
	if over := len(t) - s.limit; over > 0 {
		t = append(t[:0], t[over:]...)
	}
	s.timings[component] = t
}

// Snapshots returns the retained snapshots, oldest first.
func (s *MemorySink) Snapshots() []Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Snapshot, len(s.snapshots))
	copy(out, s.snapshots)
	return out
}

// Latest returns the most recent snapshot.
func (s *MemorySink) Latest() (Snapshot, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if len(s.snapshots) == 0 {
		return Snapshot{}, false
	}
	return s.snapshots[len(s.snapshots)-1], true
}

// Timings returns the retained durations of component.
func (s *MemorySink) Timings(component string) []time.Duration {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]time.Duration, len(s.timings[component]))
	copy(out, s.timings[component])
	return out
}

// multiSink fans out to several sinks.
type multiSink []Sink

func (m multiSink) RecordSnapshot(s Snapshot) {
	for _, sink := range m {
		sink.RecordSnapshot(s)
	}
}

func (m multiSink) RecordTiming(component string, d time.Duration) {
	for _, sink := range m {
		sink.RecordTiming(component, d)
	}
}
