package goAbuse

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	internalaudit "github.com/MrEthical07/goAbuse/internal/audit"
	"github.com/MrEthical07/goAbuse/internal/limiter"
	"github.com/MrEthical07/goAbuse/internal/stores"
)

// Engine is the abuse limiter. It keeps no per-key state: every decision is
// made against the shared store, so any number of engines over one store are
// interchangeable. Methods are safe for concurrent use.
type Engine struct {
	config   Config
	policies map[string]Policy

	eval     limiter.Evaluator
	attempts stores.AttemptLog
	blocks   stores.BlockRegistry
	breaker  *stores.Breaker

	audit   *internalaudit.Dispatcher
	metrics *Metrics
	now     func() time.Time
}

// Close flushes pending audit events.
func (e *Engine) Close() {
	if e == nil {
		return
	}
	e.audit.Close()
}

// AuditDropped returns the number of audit events dropped so far.
func (e *Engine) AuditDropped() uint64 {
	if e == nil {
		return 0
	}
	return e.audit.Dropped()
}

func (e *Engine) MetricsSnapshot() MetricsSnapshot {
	if e == nil || e.metrics == nil {
		return MetricsSnapshot{
			Counters:   map[MetricID]uint64{},
			Histograms: map[MetricID][]uint64{},
		}
	}
	return e.metrics.Snapshot()
}

// BreakerState reports the store circuit breaker state, or "disabled".
func (e *Engine) BreakerState() string {
	if e == nil || e.breaker == nil {
		return "disabled"
	}
	return e.breaker.State()
}

func (e *Engine) metricInc(id MetricID) {
	if e == nil || e.metrics == nil {
		return
	}
	e.metrics.Inc(id)
}

// Policy returns the named policy registered in Config.Policies.
func (e *Engine) Policy(name string) (Policy, error) {
	if e == nil || e.eval == nil {
		return Policy{}, ErrEngineNotReady
	}
	p, ok := e.policies[name]
	if !ok {
		return Policy{}, fmt.Errorf("%w: %q", ErrUnknownPolicy, name)
	}
	return p, nil
}

// PolicyNames lists registered policy names in sorted order.
func (e *Engine) PolicyNames() []string {
	if e == nil {
		return nil
	}
	names := make([]string, 0, len(e.policies))
	for name := range e.policies {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Check records one attempt for key under policy and decides whether it may
// proceed.
//
// A key that is currently blocked is denied without recording. Otherwise the
// attempt is recorded and both trailing windows are counted, including this
// attempt. A short-window count above TempBlockAttempts blocks for
// TempBlockDuration; a long-window count above BlockRetryLimit blocks for
// BlockDuration and wins when both trip.
//
// Denial is returned as a Decision, not an error. An error means no decision
// was made: ErrStoreUnavailable for any store failure (the attempt may or may
// not have been recorded), ErrInvalidKey, ErrInvalidConfig for a zero Policy.
func (e *Engine) Check(ctx context.Context, key string, policy Policy) (Decision, error) {
	if err := e.ready(key, policy); err != nil {
		return Decision{}, err
	}

	start := time.Now()
	now := e.now()
	res, err := e.eval.Evaluate(ctx, policy.storageKey(key), policy.compiled, now)
	if e.metrics.LatencyEnabled() {
		e.metrics.Observe(MetricCheckLatency, time.Since(start))
	}
	if err != nil {
		return Decision{}, e.storeFailure(ctx, "check", key, policy, err)
	}

	if res.Evicted {
		e.metricInc(MetricLazyEviction)
		if res.EvictErr != nil {
			e.emitAudit(ctx, auditEventBlockEvictFailed, false, key, policy, TierNone, 0, res.EvictErr, nil)
		}
	}

	decision := Decision{
		Allowed:      !res.Denied(),
		Tier:         res.Tier,
		BlockedUntil: res.BlockedUntil,
		ShortCount:   res.ShortCount,
		LongCount:    res.LongCount,
	}
	if decision.Allowed {
		decision.Tier = TierNone
		decision.BlockedUntil = time.Time{}
		e.metricInc(MetricCheckAllowed)
		return decision, nil
	}

	decision.RetryAfter = res.BlockedUntil.Sub(now)
	if decision.RetryAfter < 0 {
		decision.RetryAfter = 0
	}
	e.metricInc(MetricCheckDenied)

	switch res.Outcome {
	case limiter.OutcomeBlocked:
		decision.Message = e.tierMessage(res.Tier)
		if e.config.Messages.Blocked != "" {
			decision.Message = e.config.Messages.Blocked
		}
		e.metricInc(MetricDeniedWhileBlocked)
		e.emitAudit(ctx, auditEventDenied, false, key, policy, res.Tier, decision.RetryAfter, nil, nil)
	case limiter.OutcomeEscalated:
		decision.Message = e.tierMessage(res.Tier)
		if res.Tier == TierExtended {
			e.metricInc(MetricExtendedBlock)
		} else {
			e.metricInc(MetricTemporaryBlock)
		}
		e.emitAudit(ctx, auditEventBlocked, false, key, policy, res.Tier, decision.RetryAfter, nil, func() map[string]string {
			return map[string]string{
				"short_count":   fmt.Sprint(res.ShortCount),
				"long_count":    fmt.Sprint(res.LongCount),
				"blocked_until": res.BlockedUntil.UTC().Format(time.RFC3339),
			}
		})
	}

	return decision, nil
}

// CheckNamed is Check with a policy registered under name.
func (e *Engine) CheckNamed(ctx context.Context, key, name string) (Decision, error) {
	policy, err := e.Policy(name)
	if err != nil {
		return Decision{}, err
	}
	return e.Check(ctx, key, policy)
}

// Block returns the active block for key, if any. A stale record the store has
// not expired yet is reported as absent and left for the next Check to evict.
func (e *Engine) Block(ctx context.Context, key string, policy Policy) (BlockRecord, bool, error) {
	if err := e.ready(key, policy); err != nil {
		return BlockRecord{}, false, err
	}

	record, ok, err := e.blocks.Get(ctx, policy.storageKey(key))
	if err != nil {
		return BlockRecord{}, false, e.storeFailure(ctx, "block", key, policy, err)
	}
	if !ok || !record.Active(e.now()) {
		return BlockRecord{}, false, nil
	}
	return record, true, nil
}

// Unblock removes any block on key. Recorded attempts are kept, so the next
// check may block again.
func (e *Engine) Unblock(ctx context.Context, key string, policy Policy) error {
	if err := e.ready(key, policy); err != nil {
		return err
	}

	if err := e.blocks.Delete(ctx, policy.storageKey(key)); err != nil {
		return e.storeFailure(ctx, "unblock", key, policy, err)
	}
	e.emitAudit(ctx, auditEventUnblocked, true, key, policy, TierNone, 0, nil, nil)
	return nil
}

// Reset removes any block on key and forgets its attempts, for example after
// a successful verification.
func (e *Engine) Reset(ctx context.Context, key string, policy Policy) error {
	if err := e.ready(key, policy); err != nil {
		return err
	}

	storageKey := policy.storageKey(key)
	if err := e.blocks.Delete(ctx, storageKey); err != nil {
		return e.storeFailure(ctx, "reset", key, policy, err)
	}
	if err := e.attempts.Clear(ctx, storageKey); err != nil {
		return e.storeFailure(ctx, "reset", key, policy, err)
	}
	e.emitAudit(ctx, auditEventReset, true, key, policy, TierNone, 0, nil, nil)
	return nil
}

// Attempts counts attempts for key in [now-window, now]. A non-positive
// window means the policy's retention.
func (e *Engine) Attempts(ctx context.Context, key string, policy Policy, window time.Duration) (int64, error) {
	if err := e.ready(key, policy); err != nil {
		return 0, err
	}
	if window <= 0 {
		window = policy.Retention()
	}

	now := e.now()
	count, err := e.attempts.CountInRange(ctx, policy.storageKey(key), now.Add(-window), now)
	if err != nil {
		return 0, e.storeFailure(ctx, "attempts", key, policy, err)
	}
	return count, nil
}

func (e *Engine) ready(key string, policy Policy) error {
	if e == nil || e.eval == nil {
		return ErrEngineNotReady
	}
	if !policy.valid {
		return fmt.Errorf("%w: policy was not built with NewPolicy", ErrInvalidConfig)
	}
	if key == "" {
		return ErrInvalidKey
	}
	return nil
}

func (e *Engine) storeFailure(ctx context.Context, op, key string, policy Policy, err error) error {
	var wrapped error
	if errors.Is(err, stores.ErrCorruptRecord) {
		wrapped = errors.Join(ErrStoreUnavailable, err)
	} else {
		wrapped = fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	e.metricInc(MetricStoreUnavailable)
	e.emitAudit(ctx, auditEventStoreUnavailable, false, key, policy, TierNone, 0, wrapped, func() map[string]string {
		return map[string]string{"op": op}
	})
	return wrapped
}

// breakerEvaluator routes atomic checks through the store breaker.
type breakerEvaluator struct {
	breaker *stores.Breaker
	next    limiter.Evaluator
}

func (b breakerEvaluator) Evaluate(ctx context.Context, key string, p limiter.Policy, now time.Time) (limiter.Result, error) {
	var res limiter.Result
	err := b.breaker.Do(func() error {
		var err error
		res, err = b.next.Evaluate(ctx, key, p, now)
		return err
	})
	return res, err
}

func (e *Engine) tierMessage(tier Tier) string {
	if tier == TierExtended {
		return e.config.Messages.Extended
	}
	return e.config.Messages.Temporary
}
