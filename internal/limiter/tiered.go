package limiter

import (
	"context"
	"time"

	"github.com/MrEthical07/goAbuse/internal/stores"
)

// Evaluator decides one attempt against a policy.
type Evaluator interface {
	Evaluate(ctx context.Context, key string, p Policy, now time.Time) (Result, error)
}

// Tiered evaluates policies with one store call per protocol step.
type Tiered struct {
	attempts stores.AttemptLog
	blocks   stores.BlockRegistry
}

// NewTiered creates a split-step evaluator over the given stores.
func NewTiered(attempts stores.AttemptLog, blocks stores.BlockRegistry) *Tiered {
	return &Tiered{attempts: attempts, blocks: blocks}
}

// Evaluate runs the protocol for key at now. Store errors are returned as-is
// and no decision is made.
func (t *Tiered) Evaluate(ctx context.Context, key string, p Policy, now time.Time) (Result, error) {
	var res Result

	record, ok, err := t.blocks.Get(ctx, key)
	if err != nil {
		return Result{}, err
	}
	if ok {
		if record.Active(now) {
			return Result{
				Outcome:      OutcomeBlocked,
				Tier:         record.Tier,
				BlockedUntil: record.BlockedUntil,
			}, nil
		}
		// The backend TTL will reclaim it anyway.
		res.Evicted = true
		res.EvictErr = t.blocks.Delete(ctx, key)
	}

	if err := t.attempts.Record(ctx, key, now, p.Retention()); err != nil {
		return Result{}, err
	}

	short, err := t.attempts.CountInRange(ctx, key, now.Add(-p.TempRange), now)
	if err != nil {
		return Result{}, err
	}
	long, err := t.attempts.CountInRange(ctx, key, now.Add(-p.LongRange), now)
	if err != nil {
		return Result{}, err
	}
	res.ShortCount, res.LongCount = short, long

	switch {
	case long > p.LongAttempts:
		res.Tier = stores.TierExtended
		res.BlockedUntil = now.Add(p.LongDuration)
	case short > p.TempAttempts:
		res.Tier = stores.TierTemporary
		res.BlockedUntil = now.Add(p.TempDuration)
	default:
		res.Outcome = OutcomeAllowed
		return res, nil
	}

	err = t.blocks.Set(ctx, stores.BlockRecord{
		Key:          key,
		BlockedUntil: res.BlockedUntil,
		Tier:         res.Tier,
	}, now)
	if err != nil {
		return Result{}, err
	}
	res.Outcome = OutcomeEscalated
	return res, nil
}
