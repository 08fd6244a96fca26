// Package otel exports goAbuse engine metrics as OpenTelemetry observable
// instruments.
//
// The latency histogram is published as one cumulative gauge per bucket,
// goabuse_check_latency_seconds_bucket_le_<bound>, plus a _count gauge, since
// the engine keeps pre-bucketed counts rather than raw samples.
//
// # What this package must NOT do
//
//   - Create or own a MeterProvider.
//   - Mutate engine state.
package otel
