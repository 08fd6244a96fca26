package goAbuse

import (
	"errors"

	"github.com/MrEthical07/goAbuse/internal/stores"
)

var (
	// ErrStoreUnavailable wraps every failure of the shared store. A check that
	// returns it made no decision; the caller chooses fail-open or fail-closed.
	ErrStoreUnavailable = errors.New("abuse store unavailable")
	// ErrInvalidConfig is returned when a policy or engine config breaks a
	// threshold or window invariant.
	ErrInvalidConfig = errors.New("invalid abuse limiter config")
	// ErrInvalidKey is returned for an empty abuse key.
	ErrInvalidKey = errors.New("invalid abuse key")
	// ErrEngineNotReady is returned by methods on a nil or unbuilt Engine.
	ErrEngineNotReady = errors.New("engine not initialized")
	// ErrUnknownPolicy is returned when a named policy is not configured.
	ErrUnknownPolicy = errors.New("unknown abuse policy")
	// ErrDenied is the sentinel behind [Decision.Err]. Denial is a normal
	// outcome, never returned from Check as an error.
	ErrDenied = errors.New("abuse throttled")
	// ErrCorruptRecord is joined with ErrStoreUnavailable when a stored block
	// record cannot be decoded.
	ErrCorruptRecord = stores.ErrCorruptRecord
)
