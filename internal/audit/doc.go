// Package audit implements async event dispatching for limiter decisions and
// administrative actions.
//
// # Components
//
//   - [Sink] receives events. Channel, JSON writer, zap, fan-out and no-op
//     implementations are provided.
//   - [Dispatcher] relays events to a sink from a buffered goroutine, dropping
//     or waiting when the buffer is full.
//   - [Event] is the structured record.
//
// # Architecture boundaries
//
// This package owns event buffering and sink delivery. The Engine decides which
// events to emit.
//
// # What this package must NOT do
//
//   - Filter or suppress events based on business logic.
//   - Import goAbuse or any sibling internal package.
//   - Perform network I/O beyond what a caller-supplied Sink does.
package audit
