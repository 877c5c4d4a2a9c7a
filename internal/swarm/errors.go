package swarm

import "errors"

var (
	// ErrInvalidTask rejects submissions without a description.
	ErrInvalidTask = errors.New("invalid task")
	// ErrNotFound is returned for unknown or trimmed task ids and unknown agents.
	ErrNotFound = errors.New("not found")
	// ErrInternal marks bookkeeping that should be impossible under the lock.
	ErrInternal = errors.New("internal scheduler error")
	// ErrClosed is returned when adding agents after Shutdown.
	ErrClosed = errors.New("swarm is shut down")
)
