package goAbuse

import (
	internalmetrics "github.com/MrEthical07/goAbuse/internal/metrics"
)

// MetricID identifies an engine counter.
type MetricID = internalmetrics.MetricID

const (
	// MetricCheckAllowed counts checks that returned Allowed.
	MetricCheckAllowed = internalmetrics.MetricCheckAllowed
	// MetricCheckDenied counts every denied check.
	MetricCheckDenied = internalmetrics.MetricCheckDenied
	// MetricDeniedWhileBlocked counts denials caused by an existing block.
	MetricDeniedWhileBlocked = internalmetrics.MetricDeniedWhileBlocked
	// MetricTemporaryBlock counts temporary blocks written.
	MetricTemporaryBlock = internalmetrics.MetricTemporaryBlock
	// MetricExtendedBlock counts extended blocks written.
	MetricExtendedBlock = internalmetrics.MetricExtendedBlock
	// MetricLazyEviction counts stale block records removed during a check.
	MetricLazyEviction = internalmetrics.MetricLazyEviction
	// MetricStoreUnavailable counts operations that failed on the store.
	MetricStoreUnavailable = internalmetrics.MetricStoreUnavailable
	// MetricCheckLatency is the check latency histogram.
	MetricCheckLatency = internalmetrics.MetricCheckLatency

	metricIDCount = internalmetrics.MetricIDCount
)

// Metrics is the engine's lock-free counter set.
type Metrics = internalmetrics.Metrics

// MetricsSnapshot is a point-in-time copy of all counters.
type MetricsSnapshot = internalmetrics.Snapshot

// HistogramBucketCount is the number of check latency buckets.
const HistogramBucketCount = internalmetrics.HistogramBucketCount

// HistogramBounds returns the upper bounds of every latency bucket but the
// last, which is +Inf.
func HistogramBounds() []float64 {
	out := make([]float64, len(internalmetrics.HistogramBounds))
	for i, b := range internalmetrics.HistogramBounds {
		out[i] = b.Seconds()
	}
	return out
}

func NewMetrics(cfg MetricsConfig) *Metrics {
	return internalmetrics.New(internalmetrics.Config{
		Enabled:                 cfg.Enabled,
		EnableLatencyHistograms: cfg.EnableLatencyHistograms,
	})
}
