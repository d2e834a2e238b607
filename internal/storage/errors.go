package storage

import (
	"errors"
	"fmt"
)

// ConnectionError indicates a physical database connection could not be
// established or re-established. It is fatal to the calling operation and is
// never retried internally.
type ConnectionError struct {
	Cause error
}

// Error implements the error interface.
func (e *ConnectionError) Error() string {
	if e.Cause == nil {
		return "could not connect to database"
	}
	return fmt.Sprintf("could not connect to database: %v", e.Cause)
}

// Unwrap exposes the underlying cause for errors.Is/errors.As.
func (e *ConnectionError) Unwrap() error {
	return e.Cause
}

// IsConnectionError reports whether err is (or wraps) a ConnectionError.
func IsConnectionError(err error) bool {
	var ce *ConnectionError
	return errors.As(err, &ce)
}

// LockError marks a commit failure the dialect classified as backend lock
// contention. The caller decides whether to retry the whole batch.
type LockError struct {
	Cause error
}

// Error implements the error interface.
func (e *LockError) Error() string {
	return fmt.Sprintf("database is locked: %v", e.Cause)
}

// Unwrap exposes the underlying cause for errors.Is/errors.As.
func (e *LockError) Unwrap() error {
	return e.Cause
}

// IsLockError reports whether err is (or wraps) a LockError.
func IsLockError(err error) bool {
	var le *LockError
	return errors.As(err, &le)
}
