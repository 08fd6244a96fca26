// Package goAbuse provides a tiered abuse limiter for sensitive, low-volume
// operations such as login, verification-code checks and password-reset
// requests.
//
// Each call to [Engine.Check] records one attempt for a caller-chosen key and
// counts it over two trailing windows. Crossing the short-window threshold
// blocks the key for a short time; crossing the long-window threshold blocks it
// for longer. A blocked key is refused without being recorded.
//
// The package is designed for concurrent server workloads: Engine methods are
// safe to call from multiple goroutines after initialization through
// [Builder.Build], and all state lives in the shared store.
//
// # Architecture boundaries
//
// goAbuse is the public surface. It exposes [Engine], [Builder], [Config],
// [Policy] and value types ([Decision], [BlockRecord], [MetricsSnapshot]).
// Store plumbing, the check protocol and audit dispatch live under internal/.
//
// # What this package must NOT do
//
//   - Treat a store failure as allow or deny. Check returns ErrStoreUnavailable
//     and the caller chooses; the middleware package defaults to fail-closed.
//   - Retry store calls. A retried record changes the count.
//   - Perform I/O outside of Engine methods (construction via Builder is
//     allocation-only until Build).
//
// # Performance contract
//
// A split-step check costs four Redis round trips when allowed and five when
// it writes a block. With Config.Atomic it costs one.
package goAbuse
