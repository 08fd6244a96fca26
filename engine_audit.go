package goAbuse

import (
	"context"
	"errors"
	"time"

	"github.com/MrEthical07/goAbuse/internal/stores"
	"github.com/google/uuid"
)

const (
	auditEventBlocked          = "abuse_blocked"
	auditEventDenied           = "abuse_denied"
	auditEventUnblocked        = "abuse_unblocked"
	auditEventReset            = "abuse_reset"
	auditEventBlockEvictFailed = "abuse_block_evict_failed"
	auditEventStoreUnavailable = "abuse_store_unavailable"
)

// AuditErrorCode is the stable error label written to AuditEvent.Error.
type AuditErrorCode string

const (
	auditErrStoreUnavailable AuditErrorCode = "store_unavailable"
	auditErrCorruptRecord    AuditErrorCode = "corrupt_record"
	auditErrInternal         AuditErrorCode = "internal_error"
)

func (e *Engine) emitAudit(
	ctx context.Context,
	eventType string,
	success bool,
	key string,
	policy Policy,
	tier Tier,
	retryAfter time.Duration,
	err error,
	metadataBuilder func() map[string]string,
) {
	if e == nil || e.audit == nil {
		return
	}

	var metadata map[string]string
	if metadataBuilder != nil {
		metadata = metadataBuilder()
	}

	event := AuditEvent{
		ID:         uuid.NewString(),
		Timestamp:  e.now().UTC(),
		EventType:  eventType,
		Key:        key,
		Policy:     policy.Name(),
		IP:         clientIPFromContext(ctx),
		Success:    success,
		RetryAfter: retryAfter,
		Metadata:   metadata,
	}
	if tier != TierNone {
		event.Tier = tier.String()
	}
	if code := auditErrorCode(err); code != "" {
		event.Error = string(code)
	}

	e.audit.Emit(ctx, event)
}

func auditErrorCode(err error) AuditErrorCode {
	if err == nil {
		return ""
	}

	switch {
	case errors.Is(err, ErrCorruptRecord):
		return auditErrCorruptRecord
	case errors.Is(err, ErrStoreUnavailable), errors.Is(err, stores.ErrUnavailable):
		return auditErrStoreUnavailable
	default:
		return auditErrInternal
	}
}
