package stores

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrUnavailable wraps every backend failure.
	ErrUnavailable = errors.New("abuse store unavailable")
	// ErrCorruptRecord is returned when a stored block record cannot be decoded.
	ErrCorruptRecord = errors.New("abuse block record corrupt")
)

// Tier is the severity of a block.
type Tier uint8

const (
	TierNone Tier = iota
	TierTemporary
	TierExtended
)

func (t Tier) String() string {
	switch t {
	case TierTemporary:
		return "temporary"
	case TierExtended:
		return "extended"
	default:
		return "none"
	}
}

// BlockRecord marks a key as blocked until BlockedUntil.
type BlockRecord struct {
	Key          string
	BlockedUntil time.Time
	Tier         Tier
}

// Active reports whether the block still applies at now.
func (r BlockRecord) Active(now time.Time) bool {
	return r.Tier != TierNone && now.Unix() < r.BlockedUntil.Unix()
}

// AttemptLog is a per-key record of attempt timestamps.
type AttemptLog interface {
	// Record appends an attempt at the given instant and refreshes the key
	// retention to retention.
	Record(ctx context.Context, key string, at time.Time, retention time.Duration) error
	// CountInRange counts attempts with from <= t <= to, at second resolution.
	CountInRange(ctx context.Context, key string, from, to time.Time) (int64, error)
	// Clear drops every attempt for key.
	Clear(ctx context.Context, key string) error
}

// BlockRegistry holds at most one block record per key.
type BlockRegistry interface {
	// Get returns the stored record for key. A record returned here may already
	// be stale; callers compare it against their clock with [BlockRecord.Active].
	Get(ctx context.Context, key string) (record BlockRecord, ok bool, err error)
	// Set creates or replaces the record with a backend expiry of
	// record.BlockedUntil - now.
	Set(ctx context.Context, record BlockRecord, now time.Time) error
	// Delete removes any record for key.
	Delete(ctx context.Context, key string) error
}

func blockTTL(until, now time.Time) time.Duration {
	ttl := time.Duration(until.Unix()-now.Unix()) * time.Second
	if ttl < time.Second {
		return time.Second
	}
	return ttl
}
