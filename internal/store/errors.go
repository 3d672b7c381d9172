package store

import "errors"

var (
	// ErrNotFound is returned when a requested record is not found
	ErrNotFound = errors.New("not found")

	// ErrVersionConflict is returned when an optimistic-concurrency write
	// observes a version other than the one the caller supplied. The caller
	// re-reads and retries or abandons; the row is never silently overwritten.
	ErrVersionConflict = errors.New("version conflict")

	// ErrInvalidTransition is returned when a lifecycle transition is not
	// permitted from the instance's current state. Surfaced, not retried.
	ErrInvalidTransition = errors.New("invalid transition")

	// ErrModeConflict is returned when enabling a replica mode while the
	// mutually exclusive mode is already active for the agent
	ErrModeConflict = errors.New("replica mode conflict")

	// ErrReplicaExists is returned when a non-terminal replica already
	// exists for the agent
	ErrReplicaExists = errors.New("active replica exists")
)
