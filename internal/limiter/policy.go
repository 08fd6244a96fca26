package limiter

import "time"

// Policy holds the thresholds of one protected action. Values are assumed
// valid; validation happens where policies are built.
type Policy struct {
	TempAttempts int64
	TempRange    time.Duration
	TempDuration time.Duration

	LongAttempts int64
	LongRange    time.Duration
	LongDuration time.Duration
}

// Retention is how long the attempt log keeps a key alive after its most
// recent write.
func (p Policy) Retention() time.Duration {
	if p.LongRange > p.TempRange {
		return p.LongRange
	}
	return p.TempRange
}

func seconds(d time.Duration) int64 {
	return int64(d / time.Second)
}
