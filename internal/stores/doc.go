// Package stores provides the two shared-store capabilities the tiered abuse
// limiter is built on: a per-key attempt log and a per-key block registry.
//
// # Design
//
// The attempt log is a sorted set per key scored by Unix seconds. Members carry
// a nanosecond timestamp and a random UUID so concurrent attempts landing in the
// same second are all counted. Every write trims entries older than the
// retention window and refreshes the key TTL to that window.
//
// The block registry stores one short versioned string per blocked key with a
// TTL equal to the remaining block time. Get hands back whatever is stored;
// the limiter treats a record whose BlockedUntil has passed as absent and
// deletes it lazily.
//
// Redis implementations are the production backend. Memory implementations
// exist for tests and single-process deployments. [Breaker] wraps either pair
// with a circuit breaker so a dead backend fails fast.
//
// # Architecture boundaries
//
// This package owns persistence and key layout. It does NOT decide thresholds,
// tiers or escalation; those belong to internal/limiter.
//
// # What this package must NOT do
//
//   - Import goAbuse or any sibling internal package.
//   - Retry failed commands. A retried write changes count semantics.
//   - Treat a backend failure as "not found".
package stores
