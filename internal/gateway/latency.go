package gateway

import (
	"encoding/json"
	"math"
	"slices"
	"sync"
	"time"
)

// LagTracker keeps the most recent publish-to-relay lag samples and
// reports percentiles over them.
type LagTracker struct {
	mu      sync.Mutex
	samples []time.Duration
	pos     int
	count   int
}

// NewLagTracker creates a tracker holding the last capacity samples.
func NewLagTracker(capacity int) *LagTracker {
	if capacity <= 0 {
		capacity = 4096
	}
	return &LagTracker{samples: make([]time.Duration, capacity)}
}

// Observe records one sample.
func (t *LagTracker) Observe(d time.Duration) {
	t.mu.Lock()
	t.samples[t.pos] = d
	t.pos = (t.pos + 1) % len(t.samples)
	if t.count < len(t.samples) {
		t.count++
	}
	t.mu.Unlock()
}

// LagStats summarizes the recorded samples in milliseconds.
type LagStats struct {
	Count int     `json:"count"`
	P50   float64 `json:"p50_ms"`
	P95   float64 `json:"p95_ms"`
	P99   float64 `json:"p99_ms"`
}

// Stats returns percentiles over the retained samples.
func (t *LagTracker) Stats() LagStats {
	t.mu.Lock()
	sorted := slices.Clone(t.samples[:t.count])
	t.mu.Unlock()
	if len(sorted) == 0 {
		return LagStats{}
	}
	slices.Sort(sorted)
	return LagStats{
		Count: len(sorted),
		P50:   percentileMs(sorted, 0.50),
		P95:   percentileMs(sorted, 0.95),
		P99:   percentileMs(sorted, 0.99),
	}
}

// percentileMs interpolates the p-th percentile of sorted.
func percentileMs(sorted []time.Duration, p float64) float64 {
	ms := func(d time.Duration) float64 { return float64(d.Microseconds()) / 1000 }
	n := len(sorted)
	if n == 1 {
		return ms(sorted[0])
	}
	rank := p * float64(n-1)
	lower := int(math.Floor(rank))
	if lower+1 >= n {
		return ms(sorted[n-1])
	}
	frac := rank - float64(lower)
	return ms(sorted[lower])*(1-frac) + ms(sorted[lower+1])*frac
}

// extractAt reads the "at" timestamp of an analysis result.
func extractAt(data []byte) time.Time {
	var partial struct {
		At time.Time `json:"at"`
	}
	if err := json.Unmarshal(data, &partial); err != nil {
		return time.Time{}
	}
	return partial.At
}
