package limiter

import (
	"time"

	"github.com/MrEthical07/goAbuse/internal/stores"
)

// Outcome classifies a single evaluation.
type Outcome uint8

const (
	// OutcomeAllowed means no tier tripped.
	OutcomeAllowed Outcome = iota
	// OutcomeBlocked means an active block was found; nothing was recorded.
	OutcomeBlocked
	// OutcomeEscalated means this call tripped a tier and wrote a block.
	OutcomeEscalated
)

func (o Outcome) String() string {
	switch o {
	case OutcomeAllowed:
		return "allowed"
	case OutcomeBlocked:
		return "blocked"
	case OutcomeEscalated:
		return "escalated"
	default:
		return "unknown"
	}
}

// Result is the outcome of one evaluation.
type Result struct {
	Outcome      Outcome
	Tier         stores.Tier
	BlockedUntil time.Time

	// Window counts after recording. Zero when Outcome is OutcomeBlocked.
	ShortCount int64
	LongCount  int64

	// Evicted is set when a stale block record was found and removed.
	Evicted bool
	// EvictErr is the error of the best-effort stale record delete, if any.
	EvictErr error
}

// Denied reports whether the caller must refuse the action.
func (r Result) Denied() bool {
	return r.Outcome != OutcomeAllowed
}
