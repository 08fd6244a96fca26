// Package limiter implements the two-tier check-record-escalate protocol on
// top of the internal/stores contracts.
//
// # Evaluators
//
//   - [Tiered] runs the protocol as separate store round trips: read block,
//     record attempt, count the short window, count the long window, maybe
//     write a block. Concurrent callers may both pass the block check before
//     either block lands; block writes are last-writer-wins and converge.
//   - [Script] runs the same protocol as one Redis Lua script, so the check,
//     record, counts and escalation cannot interleave with other callers.
//
// Both evaluators take the decision instant as an argument and never read a
// clock themselves.
//
// # Counting
//
// The attempt is recorded before either window is counted, and both windows
// are closed intervals ending at now, so the current attempt is counted in
// both. A tier trips when its count strictly exceeds its threshold. When both
// tiers trip in one call only the extended block is written.
//
// # What this package must NOT do
//
//   - Retry store calls. A retried record changes the count.
//   - Translate store failures into allow or deny.
//   - Import goAbuse.
package limiter
