package service

import (
	"sort"
	"sync"
	"time"
)

const (
	maxMetricSamples  = 1000
	slowComputeCutoff = 5 * time.Second
)

// SnapshotMetrics tracks how snapshot reads were served: from the stored
// snapshot or by recomputing from the ledger.
type SnapshotMetrics struct {
	mu           sync.RWMutex
	storedTimes  []time.Duration
	computeTimes []time.Duration
	storedHits   int64
	recomputes   int64
	slowComputes int64
	failures     int64
}

// NewSnapshotMetrics creates an empty metrics recorder
func NewSnapshotMetrics() *SnapshotMetrics {
	return &SnapshotMetrics{
		storedTimes:  make([]time.Duration, 0, maxMetricSamples),
		computeTimes: make([]time.Duration, 0, maxMetricSamples),
	}
}

func keepLast(samples []time.Duration) []time.Duration {
	if len(samples) > maxMetricSamples {
		return samples[len(samples)-maxMetricSamples:]
	}
	return samples
}

// RecordServe records one snapshot read
func (m *SnapshotMetrics) RecordServe(duration time.Duration, recomputed bool) {
	if m == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if !recomputed {
		m.storedHits++
		m.storedTimes = keepLast(append(m.storedTimes, duration))
		return
	}
	m.recomputes++
	m.computeTimes = keepLast(append(m.computeTimes, duration))
	if duration > slowComputeCutoff {
		m.slowComputes++
	}
}

// RecordFailure counts a snapshot computation that returned an error
func (m *SnapshotMetrics) RecordFailure() {
	if m == nil {
		return
	}
	m.mu.Lock()
	m.failures++
	m.mu.Unlock()
}

// SnapshotStats is a point-in-time view of SnapshotMetrics
type SnapshotStats struct {
	Served        int64   `json:"served"`
	StoredHits    int64   `json:"storedHits"`
	Recomputes    int64   `json:"recomputes"`
	SlowComputes  int64   `json:"slowComputes"`
	Failures      int64   `json:"failures"`
	StoredHitRate float64 `json:"storedHitRate"` // percent
	AvgStoredMs   float64 `json:"avgStoredMs"`
	AvgComputeMs  float64 `json:"avgComputeMs"`
	P95ComputeMs  float64 `json:"p95ComputeMs"`
}

func averageMs(samples []time.Duration) float64 {
	if len(samples) == 0 {
		return 0
	}
	var total time.Duration
	for _, d := range samples {
		total += d
	}
	return float64(total.Milliseconds()) / float64(len(samples))
}

// Stats returns the current statistics
func (m *SnapshotMetrics) Stats() SnapshotStats {
	if m == nil {
		return SnapshotStats{}
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	stats := SnapshotStats{
		Served:       m.storedHits + m.recomputes,
		StoredHits:   m.storedHits,
		Recomputes:   m.recomputes,
		SlowComputes: m.slowComputes,
		Failures:     m.failures,
		AvgStoredMs:  averageMs(m.storedTimes),
		AvgComputeMs: averageMs(m.computeTimes),
	}
	if stats.Served > 0 {
		stats.StoredHitRate = float64(m.storedHits) / float64(stats.Served) * 100
	}

	if len(m.computeTimes) > 0 {
		sorted := make([]time.Duration, len(m.computeTimes))
		copy(sorted, m.computeTimes)
		sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
		idx := int(float64(len(sorted)) * 0.95)
		if idx >= len(sorted) {
			idx = len(sorted) - 1
		}
		stats.P95ComputeMs = float64(sorted[idx].Milliseconds())
	}
	return stats
}
