// ABOUTME: Error taxonomy for project state operations
// ABOUTME: Callers branch with errors.As; transports map each type to a status code

package projectstate

import (
	"errors"
	"fmt"
)

// ErrClosed is returned by every Actor method after Close.
var ErrClosed = errors.New("project state actor closed")

// PersistenceError means the durable medium failed or holds a corrupt document.
type PersistenceError struct {
	Op  string // load, save, decode, encode
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persistence %s failed: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

// ValidationError rejects a request before any state is touched.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "invalid request: " + e.Reason
	}
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// ConflictError is returned when a write names a revision that is no longer current.
type ConflictError struct {
	Expected uint64 // revision supplied by the caller
	Actual   uint64 // committed revision
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("revision conflict: expected %d, current is %d", e.Expected, e.Actual)
}

// Invalid is shorthand for building a ValidationError.
func Invalid(field, format string, args ...any) error {
	return &ValidationError{Field: field, Reason: fmt.Sprintf(format, args...)}
}

// IsValidation reports whether err is or wraps a ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// IsConflict reports whether err is or wraps a ConflictError.
func IsConflict(err error) bool {
	var ce *ConflictError
	return errors.As(err, &ce)
}

// IsPersistence reports whether err is or wraps a PersistenceError.
func IsPersistence(err error) bool {
	var pe *PersistenceError
	return errors.As(err, &pe)
}
