package goAbuse

import (
	"context"
	"testing"
)

func TestMetricsDisabled(t *testing.T) {
	engine, err := New().WithMemoryStores().WithMetricsEnabled(false).Build()
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	defer engine.Close()

	if _, err := engine.CheckNamed(context.Background(), "k", "login"); err != nil {
		t.Fatalf("CheckNamed failed: %v", err)
	}
	if n := engine.MetricsSnapshot().Counters[MetricCheckAllowed]; n != 0 {
		t.Fatalf("disabled metrics should stay zero, got %d", n)
	}
}

func TestLatencyHistogram(t *testing.T) {
	engine, err := New().WithMemoryStores().WithLatencyHistograms(true).Build()
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	defer engine.Close()

	for i := 0; i < 3; i++ {
		if _, err := engine.CheckNamed(context.Background(), "k", "login"); err != nil {
			t.Fatalf("CheckNamed failed: %v", err)
		}
	}

	snap := engine.MetricsSnapshot()
	hist := snap.Histograms[MetricCheckLatency]
	if len(hist) != HistogramBucketCount {
		t.Fatalf("expected %d buckets, got %d", HistogramBucketCount, len(hist))
	}
	var total uint64
	for _, n := range hist {
		total += n
	}
	if total != 3 {
		t.Fatalf("expected 3 observations, got %d", total)
	}
}

func TestHistogramBounds(t *testing.T) {
	bounds := HistogramBounds()
	if len(bounds) != HistogramBucketCount-1 {
		t.Fatalf("expected %d bounds, got %d", HistogramBucketCount-1, len(bounds))
	}
	if bounds[0] != 0.001 || bounds[len(bounds)-1] != 0.1 {
		t.Fatalf("unexpected bounds %v", bounds)
	}
}
