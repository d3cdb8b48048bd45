package shared

import "errors"

var (
	// ErrNotFound indicates resource not found.
	ErrNotFound = errors.New("not found")
	// ErrConflict indicates a concurrent-modification or uniqueness conflict;
	// callers may retry after re-fetching.
	ErrConflict = errors.New("persistence conflict")
	// ErrUpstream indicates an external data source failure; retryable.
	ErrUpstream = errors.New("upstream unavailable")
)
