package engine

import "errors"

// Error kinds for engine failures. Callers match with errors.Is.
var (
	// ErrEngineUnavailable means the engine could not be reached even
	// after the bounded redial attempts. Recoverable; callers should
	// retry on their next cycle.
	ErrEngineUnavailable = errors.New("engine unavailable")

	// ErrMalformedResponse means the engine returned data violating its
	// own schema. The engine is a trusted peer, so this is a contract
	// breach reported to the caller instead of being coerced.
	ErrMalformedResponse = errors.New("malformed engine response")

	// ErrEngineNotStarted means the aria2 binary could not be spawned
	// or never became responsive within the startup window.
	ErrEngineNotStarted = errors.New("engine did not respond")
)
