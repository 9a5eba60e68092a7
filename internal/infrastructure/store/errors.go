package store

import (
	"errors"
	"fmt"
)

var (
	// ErrConcurrencyConflict is returned when an append's expectedVersion does
	// not match the aggregate's current version. The caller's view is stale:
	// re-read state and retry with the refreshed version.
	ErrConcurrencyConflict = errors.New("concurrency conflict: expected version does not match current version")

	// ErrUnknownAggregateType is returned when no projector is registered for
	// an aggregate type. This is a programming error, not a retryable one.
	ErrUnknownAggregateType = errors.New("unknown aggregate type")
)

// PersistenceError wraps an infrastructure-level failure of the durable store.
// Retryable with backoff, unlike ErrConcurrencyConflict which should be
// retried immediately after re-reading state.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persistence failure during %s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

// IsRetryable reports whether the caller may retry the failed operation.
func IsRetryable(err error) bool {
	var pe *PersistenceError
	return errors.Is(err, ErrConcurrencyConflict) || errors.As(err, &pe)
}
