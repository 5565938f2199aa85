package stream

import "errors"

var (
	// ErrCapacity is returned by Registry.Create when the configured maximum
	// number of concurrent sessions has been reached. Callers may retry once
	// an existing session has been stopped.
	ErrCapacity = errors.New("maximum number of streams reached")

	// ErrNotFound is returned when a session id is not in the registry.
	ErrNotFound = errors.New("stream not found")

	// ErrInvalidRequest is returned for create requests that fail validation
	// before any session state is touched.
	ErrInvalidRequest = errors.New("invalid stream request")
)
