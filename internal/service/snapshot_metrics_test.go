package service

import (
	"testing"
	"time"
)

func TestSnapshotMetricsRecordServe(t *testing.T) {
	m := NewSnapshotMetrics()

	m.RecordServe(10*time.Millisecond, false)
	m.RecordServe(20*time.Millisecond, false)
	m.RecordServe(30*time.Millisecond, false)
	m.RecordServe(2*time.Second, true)
	m.RecordServe(6*time.Second, true)
	m.RecordFailure()

	stats := m.Stats()
	if stats.Served != 5 {
		t.Errorf("Expected 5 served, got %d", stats.Served)
	}
	if stats.StoredHits != 3 || stats.Recomputes != 2 {
		t.Errorf("Expected 3 stored hits and 2 recomputes, got %d and %d", stats.StoredHits, stats.Recomputes)
	}
	if stats.StoredHitRate != 60 {
		t.Errorf("Expected stored hit rate 60%%, got %.2f%%", stats.StoredHitRate)
	}
	if stats.AvgStoredMs != 20 {
		t.Errorf("Expected average stored time 20ms, got %.2fms", stats.AvgStoredMs)
	}
	if stats.AvgComputeMs != 4000 {
		t.Errorf("Expected average compute time 4000ms, got %.2fms", stats.AvgComputeMs)
	}
	if stats.SlowComputes != 1 {
		t.Errorf("Expected 1 slow compute, got %d", stats.SlowComputes)
	}
	if stats.P95ComputeMs != 6000 {
		t.Errorf("Expected p95 6000ms, got %.2fms", stats.P95ComputeMs)
	}
	if stats.Failures != 1 {
		t.Errorf("Expected 1 failure, got %d", stats.Failures)
	}
}

func TestSnapshotMetricsKeepsLastSamples(t *testing.T) {
	m := NewSnapshotMetrics()
	for i := 0; i < maxMetricSamples+10; i++ {
		m.RecordServe(time.Millisecond, false)
	}
	if len(m.storedTimes) != maxMetricSamples {
		t.Errorf("Expected %d samples, got %d", maxMetricSamples, len(m.storedTimes))
	}
}

func TestNilSnapshotMetrics(t *testing.T) {
	var m *SnapshotMetrics
	m.RecordServe(time.Second, true)
	m.RecordFailure()
	if stats := m.Stats(); stats.Served != 0 {
		t.Errorf("Expected empty stats, got %+v", stats)
	}
}
