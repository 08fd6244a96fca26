// Package metrics holds the limiter's decision counters and the check latency
// histogram.
//
// Each [MetricID] owns a cache-line-padded slot updated with atomic adds, so
// concurrent Check calls never contend on a lock. Latency goes into eight
// fixed buckets bounded by [HistogramBounds] plus an overflow bucket.
//
// # Architecture boundaries
//
// Storage and [Snapshot] only. Exporters under metrics/export/ translate
// snapshots into Prometheus or OpenTelemetry instruments.
//
// # What this package must NOT do
//
//   - Perform I/O.
//   - Import goAbuse or another internal package.
//   - Register anything globally.
package metrics
