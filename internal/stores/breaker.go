package stores

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sony/gobreaker"
)

// BreakerConfig tunes the store circuit breaker.
type BreakerConfig struct {
	MaxFailures uint32
	OpenTimeout time.Duration
}

// Breaker short-circuits store calls after consecutive backend failures so a
// dead store costs callers nothing but an immediate ErrUnavailable.
type Breaker struct {
	cb *gobreaker.CircuitBreaker
}

func NewBreaker(name string, cfg BreakerConfig) *Breaker {
	maxFailures := cfg.MaxFailures
	if maxFailures == 0 {
		maxFailures = 5
	}
	openTimeout := cfg.OpenTimeout
	if openTimeout <= 0 {
		openTimeout = 10 * time.Second
	}

	return &Breaker{
		cb: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:        name,
			MaxRequests: 1,
			Timeout:     openTimeout,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= maxFailures
			},
			// A corrupt record or a caller's cancellation says nothing about
			// backend health. Any other error, wrapped or raw, is a failure.
			IsSuccessful: func(err error) bool {
				return err == nil || errors.Is(err, ErrCorruptRecord) || errors.Is(err, context.Canceled)
			},
		}),
	}
}

// State reports "closed", "half-open" or "open".
func (b *Breaker) State() string {
	return b.cb.State().String()
}

// Do runs fn through the breaker. Every error except ErrCorruptRecord and
// context.Canceled counts as a failure.
func (b *Breaker) Do(fn func() error) error {
	_, err := b.cb.Execute(func() (interface{}, error) {
		return nil, fn()
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return err
}

// WrapAttemptLog guards log with the breaker.
func (b *Breaker) WrapAttemptLog(log AttemptLog) AttemptLog {
	return &breakerAttemptLog{breaker: b, inner: log}
}

// WrapBlockRegistry guards reg with the breaker.
func (b *Breaker) WrapBlockRegistry(reg BlockRegistry) BlockRegistry {
	return &breakerBlockRegistry{breaker: b, inner: reg}
}

type breakerAttemptLog struct {
	breaker *Breaker
	inner   AttemptLog
}

func (l *breakerAttemptLog) Record(ctx context.Context, key string, at time.Time, retention time.Duration) error {
	return l.breaker.Do(func() error {
		return l.inner.Record(ctx, key, at, retention)
	})
}

func (l *breakerAttemptLog) CountInRange(ctx context.Context, key string, from, to time.Time) (int64, error) {
	var count int64
	err := l.breaker.Do(func() error {
		var err error
		count, err = l.inner.CountInRange(ctx, key, from, to)
		return err
	})
	return count, err
}

func (l *breakerAttemptLog) Clear(ctx context.Context, key string) error {
	return l.breaker.Do(func() error {
		return l.inner.Clear(ctx, key)
	})
}

type breakerBlockRegistry struct {
	breaker *Breaker
	inner   BlockRegistry
}

func (r *breakerBlockRegistry) Get(ctx context.Context, key string) (BlockRecord, bool, error) {
	var (
		record BlockRecord
		ok     bool
	)
	err := r.breaker.Do(func() error {
		var err error
		record, ok, err = r.inner.Get(ctx, key)
		return err
	})
	return record, ok, err
}

func (r *breakerBlockRegistry) Set(ctx context.Context, record BlockRecord, now time.Time) error {
	return r.breaker.Do(func() error {
		return r.inner.Set(ctx, record, now)
	})
}

func (r *breakerBlockRegistry) Delete(ctx context.Context, key string) error {
	return r.breaker.Do(func() error {
		return r.inner.Delete(ctx, key)
	})
}
