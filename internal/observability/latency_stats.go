// Package observability provides latency statistics for measured device
// operations.
package observability

import (
	"math"
	"sort"
	"sync"
	"time"
)

// LatencyStats accumulates per-key latency samples, such as one series per
// operation kind or per placement class.
type LatencyStats struct {
	mu     sync.RWMutex
	series map[string]*series
}

type series struct {
	samples []time.Duration
	total   time.Duration
	min     time.Duration
	max     time.Duration
}

// Summary describes one latency series.
type Summary struct {
	Key   string        `json:"key"`
	Count int64         `json:"count"`
	Total time.Duration `json:"total"`
	Min   time.Duration `json:"min"`
	Max   time.Duration `json:"max"`
	Mean  time.Duration `json:"mean"`
	P50   time.Duration `json:"p50"`
	P95   time.Duration `json:"p95"`
	P99   time.Duration `json:"p99"`
}

// NewLatencyStats creates an empty tracker.
func NewLatencyStats() *LatencyStats {
	return &LatencyStats{
		series: make(map[string]*series),
	}
}

// Record adds one sample to the series for key.
func (l *LatencyStats) Record(key string, d time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()

	s, exists := l.series[key]
	if !exists {
		s = &series{min: d, max: d}
		l.series[key] = s
	}

	s.samples = append(s.samples, d)
	s.total += d
	if d < s.min {
		s.min = d
	}
	if d > s.max {
		s.max = d
	}
}

// Count returns the number of samples recorded for key.
func (l *LatencyStats) Count(key string) int64 {
	l.mu.RLock()
	defer l.mu.RUnlock()

	if s, ok := l.series[key]; ok {
		return int64(len(s.samples))
	}
	return 0
}

// Summary returns the summary for key. ok is false when nothing was recorded.
func (l *LatencyStats) Summary(key string) (Summary, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	s, ok := l.series[key]
	if !ok {
		return Summary{Key: key}, false
	}
	return s.summarize(key), true
}

// Summaries returns every series sorted by sample count (descending), then
// by key.
func (l *LatencyStats) Summaries() []Summary {
	l.mu.RLock()
	defer l.mu.RUnlock()

	out := make([]Summary, 0, len(l.series))
	for key, s := range l.series {
		out = append(out, s.summarize(key))
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Key < out[j].Key
	})
	return out
}

// Reset drops all samples.
func (l *LatencyStats) Reset() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.series = make(map[string]*series)
}

func (s *series) summarize(key string) Summary {
	n := len(s.samples)
	sorted := make([]time.Duration, n)
	copy(sorted, s.samples)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	return Summary{
		Key:   key,
		Count: int64(n),
		Total: s.total,
		Min:   s.min,
		Max:   s.max,
		Mean:  s.total / time.Duration(n),
		P50:   percentile(sorted, 0.50),
		P95:   percentile(sorted, 0.95),
		P99:   percentile(sorted, 0.99),
	}
}

// percentile returns the nearest-rank percentile of sorted samples.
func percentile(sorted []time.Duration, p float64) time.Duration {
	if len(sorted) == 0 {
		return 0
	}
	rank := int(math.Ceil(p*float64(len(sorted)))) - 1
	if rank < 0 {
		rank = 0
	}
	if rank >= len(sorted) {
		rank = len(sorted) - 1
	}
	return sorted[rank]
}
