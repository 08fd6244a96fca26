package internaldefs

import (
	"strconv"
	"strings"

	goAbuse "github.com/MrEthical07/goAbuse"
)

// CounterDef maps an engine counter to its exported name.
type CounterDef struct {
	ID   goAbuse.MetricID
	Name string
	Help string
}

// HistogramDef maps an engine histogram to its exported name.
type HistogramDef struct {
	ID   goAbuse.MetricID
	Name string
	Help string
}

var CounterDefs = []CounterDef{
	{ID: goAbuse.MetricCheckAllowed, Name: "goabuse_check_allowed_total", Help: "Checks that allowed the attempt."},
	{ID: goAbuse.MetricCheckDenied, Name: "goabuse_check_denied_total", Help: "Checks that denied the attempt."},
	{ID: goAbuse.MetricDeniedWhileBlocked, Name: "goabuse_denied_while_blocked_total", Help: "Denials caused by an existing block."},
	{ID: goAbuse.MetricTemporaryBlock, Name: "goabuse_temporary_block_total", Help: "Temporary blocks written."},
	{ID: goAbuse.MetricExtendedBlock, Name: "goabuse_extended_block_total", Help: "Extended blocks written."},
	{ID: goAbuse.MetricLazyEviction, Name: "goabuse_lazy_eviction_total", Help: "Stale block records removed during a check."},
	{ID: goAbuse.MetricStoreUnavailable, Name: "goabuse_store_unavailable_total", Help: "Operations that failed on the store."},
}

var HistogramDefs = []HistogramDef{
	{ID: goAbuse.MetricCheckLatency, Name: "goabuse_check_latency_seconds", Help: "Check latency histogram."},
}

const (
	AuditDroppedName = "goabuse_audit_dropped_total"
	AuditDroppedHelp = "Dropped audit events due to dispatcher backpressure."

	BreakerOpenName = "goabuse_breaker_open"
	BreakerOpenHelp = "1 when the store circuit breaker is open, 0.5 when half-open, 0 otherwise."
)

// HistogramBounds returns the finite bucket upper bounds in seconds.
func HistogramBounds() []float64 {
	return goAbuse.HistogramBounds()
}

// HistogramBoundSuffix returns a name-safe label for each bucket, "inf" last.
func HistogramBoundSuffix() []string {
	bounds := HistogramBounds()
	out := make([]string, 0, len(bounds)+1)
	for _, b := range bounds {
		out = append(out, strings.ReplaceAll(strconv.FormatFloat(b, 'f', -1, 64), ".", "_"))
	}
	return append(out, "inf")
}

// NormalizeBuckets pads or truncates raw to the engine bucket count.
func NormalizeBuckets(raw []uint64) [goAbuse.HistogramBucketCount]uint64 {
	var out [goAbuse.HistogramBucketCount]uint64
	for i := 0; i < len(out) && i < len(raw); i++ {
		out[i] = raw[i]
	}
	return out
}

func CumulativeBuckets(raw [goAbuse.HistogramBucketCount]uint64) [goAbuse.HistogramBucketCount]uint64 {
	var out [goAbuse.HistogramBucketCount]uint64
	var running uint64
	for i := 0; i < len(raw); i++ {
		running += raw[i]
		out[i] = running
	}
	return out
}

// BreakerValue maps a breaker state name to the exported gauge value.
func BreakerValue(state string) float64 {
	switch state {
	case "open":
		return 1
	case "half-open":
		return 0.5
	default:
		return 0
	}
}
