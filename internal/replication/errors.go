package replication

import "errors"

var (
	// ErrSourceUnavailable marks a failed source query. The affected class
	// degrades to an empty result for the cycle.
	ErrSourceUnavailable = errors.New("source unavailable")

	// ErrTransportUnavailable marks a transport that cannot be used. A direct
	// failure falls back to HTTP for the rest of the cycle.
	ErrTransportUnavailable = errors.New("transport unavailable")

	// ErrBatchWrite marks a batch the mirror did not accept.
	ErrBatchWrite = errors.New("batch write failed")

	// ErrCycleFatal marks a cycle that wrote nothing or panicked.
	ErrCycleFatal = errors.New("cycle fatal")
)
