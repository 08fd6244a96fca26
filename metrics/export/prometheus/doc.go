// Package prometheus exports goAbuse engine metrics through
// github.com/prometheus/client_golang.
//
// [PrometheusExporter] is a prometheus.Collector. Counter names are
// goabuse_*_total and the latency histogram is goabuse_check_latency_seconds.
//
// # What this package must NOT do
//
//   - Register metrics in the global Prometheus registry. Callers mount
//     Handler or register the collector themselves.
//   - Mutate engine state.
package prometheus
