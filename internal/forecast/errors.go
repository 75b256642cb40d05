package forecast

import "errors"

// Per-bin conditions. None of them aborts a refresh pass.
var (
	// ErrInsufficientHistory marks a bin with fewer than two usable collection
	// events. The bin is skipped.
	ErrInsufficientHistory = errors.New("insufficient collection history")
	// ErrTimestampMissing marks a bin whose latest events lack a collection
	// timestamp. The bin is skipped.
	ErrTimestampMissing = errors.New("collection event missing timestamp")
	// ErrPredictionUnavailable wraps transport failures, timeouts and non-2xx
	// answers from the growth model.
	ErrPredictionUnavailable = errors.New("prediction model unavailable")
	// ErrPredictionMalformed wraps responses that cannot be decoded.
	ErrPredictionMalformed = errors.New("prediction response malformed")
	// ErrPersistenceFailure wraps a failed append for a single bin.
	ErrPersistenceFailure = errors.New("prediction persistence failed")
)

// Pass-level conditions returned to the caller of Refresh.
var (
	// ErrPersistenceUnavailable is returned when the store cannot be read or
	// every write of the pass failed and the store does not answer a ping.
	ErrPersistenceUnavailable = errors.New("prediction store unavailable")
	// ErrRefreshInProgress is returned when a pass is already running.
	ErrRefreshInProgress = errors.New("refresh pass already in progress")
)
