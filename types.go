package goAbuse

import (
	"fmt"
	"io"
	"time"

	internalaudit "github.com/MrEthical07/goAbuse/internal/audit"
	"github.com/MrEthical07/goAbuse/internal/stores"
	"go.uber.org/zap"
)

// Tier is the severity of a block.
type Tier = stores.Tier

const (
	TierNone      = stores.TierNone
	TierTemporary = stores.TierTemporary
	TierExtended  = stores.TierExtended
)

// BlockRecord is a block as stored in the registry.
type BlockRecord = stores.BlockRecord

// AttemptLog and BlockRegistry are the store contracts an [Engine] runs on.
// Any error a custom backend returns is surfaced as ErrStoreUnavailable.
type (
	AttemptLog    = stores.AttemptLog
	BlockRegistry = stores.BlockRegistry
)

// Decision is the outcome of [Engine.Check].
type Decision struct {
	Allowed bool
	// Tier is the tier of the block that denied the call, TierNone when allowed.
	Tier    Tier
	Message string
	// RetryAfter is BlockedUntil - now at decision time.
	RetryAfter   time.Duration
	BlockedUntil time.Time

	// Window counts including this attempt. Both are zero when the call was
	// refused by an existing block, since nothing was recorded.
	ShortCount int64
	LongCount  int64
}

// RetryAfterSeconds returns RetryAfter rounded up to whole seconds.
func (d Decision) RetryAfterSeconds() int64 {
	if d.RetryAfter <= 0 {
		return 0
	}
	return int64((d.RetryAfter + time.Second - 1) / time.Second)
}

// Err returns nil for an allowed decision and a *DeniedError otherwise, for
// callers that prefer error flow.
func (d Decision) Err() error {
	if d.Allowed {
		return nil
	}
	return &DeniedError{Decision: d}
}

// DeniedError carries a denied Decision. It matches ErrDenied with errors.Is.
type DeniedError struct {
	Decision Decision
}

func (e *DeniedError) Error() string {
	return fmt.Sprintf("%s: %s block, retry after %ds", ErrDenied, e.Decision.Tier, e.Decision.RetryAfterSeconds())
}

func (e *DeniedError) Unwrap() error {
	return ErrDenied
}

// AuditEvent is the audit record emitted by the engine.
type AuditEvent = internalaudit.Event

// AuditSink receives audit events from the dispatcher goroutine.
type AuditSink = internalaudit.Sink

type NoOpSink = internalaudit.NoOpSink

// ChannelSink buffers events in a channel; see [NewChannelSink].
type ChannelSink = internalaudit.ChannelSink

// JSONWriterSink writes one JSON object per line.
type JSONWriterSink = internalaudit.JSONWriterSink

// ZapAuditSink logs audit events with zap, at warn level for denials and
// failures.
type ZapAuditSink = internalaudit.ZapSink

// MultiSink fans events out to several sinks.
type MultiSink = internalaudit.MultiSink

func NewChannelSink(buffer int) *ChannelSink {
	return internalaudit.NewChannelSink(buffer)
}

func NewJSONWriterSink(w io.Writer) *JSONWriterSink {
	return internalaudit.NewJSONWriterSink(w)
}

func NewZapAuditSink(logger *zap.Logger) *ZapAuditSink {
	return internalaudit.NewZapSink(logger)
}
