package matching

import "errors"

var (
	// ErrIndexNotReady is returned by lookups before the first successful rule load.
	ErrIndexNotReady = errors.New("rule index not loaded")

	// ErrInvalidIncident marks events that can never be processed and must not be retried.
	ErrInvalidIncident = errors.New("invalid incident event")
)
