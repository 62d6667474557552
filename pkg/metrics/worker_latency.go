// Package metrics tracks sync run durations with percentile summaries.
package metrics

import (
	"sort"
	"sync"
	"time"
)

// =============================================================================
// Latency Tracker
// =============================================================================

// Tracker keeps a sliding window of durations.
type Tracker struct {
	mu      sync.Mutex
	samples []time.Duration
	window  int
	total   int64
	failed  int64
}

func NewTracker(window int) *Tracker {
	if window <= 0 {
		window = 500
	}
	return &Tracker{samples: make([]time.Duration, 0, window), window: window}
}

// Record adds one observation. failed counts toward the error total only.
func (t *Tracker) Record(d time.Duration, failed bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.total++
	if failed {
		t.failed++
	}
	if len(t.samples) >= t.window {
		// Drop the oldest tenth at once instead of shifting on every insert.
		drop := t.window / 10
		if drop < 1 {
			drop = 1
		}
		t.samples = append(t.samples[:0], t.samples[drop:]...)
	}
	t.samples = append(t.samples, d)
}

// Summary is a point-in-time view of a tracker.
type Summary struct {
	Count   int64   `json:"count"`
	Failed  int64   `json:"failed"`
	Samples int     `json:"samples"`
	AvgMs   float64 `json:"avg_ms"`
	P50Ms   float64 `json:"p50_ms"`
	P95Ms   float64 `json:"p95_ms"`
	MaxMs   float64 `json:"max_ms"`
}

func (t *Tracker) Summary() Summary {
	t.mu.Lock()
	sorted := append([]time.Duration(nil), t.samples...)
	s := Summary{Count: t.total, Failed: t.failed, Samples: len(sorted)}
	t.mu.Unlock()

	if len(sorted) == 0 {
		return s
	}
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	var sum time.Duration
	for _, d := range sorted {
		sum += d
	}
	s.AvgMs = ms(sum / time.Duration(len(sorted)))
	s.P50Ms = ms(percentile(sorted, 0.50))
	s.P95Ms = ms(percentile(sorted, 0.95))
	s.MaxMs = ms(sorted[len(sorted)-1])
	return s
}

func percentile(sorted []time.Duration, p float64) time.Duration {
	return sorted[int(float64(len(sorted)-1)*p)]
}

func ms(d time.Duration) float64 {
	return float64(d.Microseconds()) / 1000
}

// =============================================================================
// Registry
// =============================================================================

// Registry holds one tracker per key, e.g. per run trigger.
type Registry struct {
	mu       sync.RWMutex
	trackers map[string]*Tracker
	window   int
}

func NewRegistry(window int) *Registry {
	return &Registry{trackers: make(map[string]*Tracker), window: window}
}

func (r *Registry) Record(key string, d time.Duration, failed bool) {
	r.mu.RLock()
	t, ok := r.trackers[key]
	r.mu.RUnlock()

	if !ok {
		r.mu.Lock()
		if t, ok = r.trackers[key]; !ok {
			t = NewTracker(r.window)
			r.trackers[key] = t
		}
		r.mu.Unlock()
	}
	t.Record(d, failed)
}

// Snapshot summarizes every tracker.
func (r *Registry) Snapshot() map[string]Summary {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make(map[string]Summary, len(r.trackers))
	for key, t := range r.trackers {
		out[key] = t.Summary()
	}
	return out
}
