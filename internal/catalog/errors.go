package catalog

import (
	"errors"
	"fmt"
)

var (
	// ErrNoBasisAvailable is returned when a differential is requested for a
	// database that has no open chain with a completed, basis-eligible record.
	ErrNoBasisAvailable = errors.New("no basis available for differential backup")

	// ErrChainFull is returned when the open chain already holds the configured
	// maximum number of differentials; a new full backup is required.
	ErrChainFull = errors.New("chain has reached its differential limit")

	// ErrStaleWrite is returned by the store when a write was derived from a
	// revision that no longer matches the persisted document.
	ErrStaleWrite = errors.New("stale write: record was modified concurrently")

	// ErrNotFound is returned when a record or chain id cannot be resolved.
	ErrNotFound = errors.New("record not found")
)

// CorruptionError reports a stored document that failed to parse. The raw
// bytes are preserved for manual recovery; the store never drops or repairs
// the document on its own.
type CorruptionError struct {
	ID   string
	Path string
	Raw  []byte
	Err  error
}

func (e *CorruptionError) Error() string {
	return fmt.Sprintf("corrupt catalog document %q at %s: %v", e.ID, e.Path, e.Err)
}

func (e *CorruptionError) Unwrap() error { return e.Err }

// ValidationError reports a malformed request or record, rejected before any
// state mutation.
type ValidationError struct {
	Field  string
	Reason string
	Value  any
}

func NewValidationError(field, reason string, value any) *ValidationError {
	return &ValidationError{Field: field, Reason: reason, Value: value}
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed on %s: %s (got %v)", e.Field, e.Reason, e.Value)
}
