package core

import (
	"errors"
	"fmt"
)

// Standard sentinel errors for comparison using errors.Is().
// These are generic errors that can be wrapped with additional context.
var (
	// Observation validation errors
	ErrMissingSource    = errors.New("source_name must not be empty")
	ErrMissingTimestamp = errors.New("timestamps must be set")
	ErrMissingPayload   = errors.New("payload must not be nil")
	ErrPayloadMismatch  = errors.New("payload variant does not match obs_type")
	ErrMissingSchemaID  = errors.New("world_data schema_id is required")

	// Bus errors
	ErrBusClosed = errors.New("input bus closed")
	ErrBusFull   = errors.New("input bus full")

	// Lifecycle errors
	ErrAlreadyStarted = errors.New("already started")
	ErrNotStarted     = errors.New("not started")

	// Collaborator errors
	ErrNoOutputAdapter = errors.New("no output adapter registered")
	ErrMemoryDisabled  = errors.New("memory service disabled")
)

// CoreError provides structured error information with context.
// It implements the error interface and supports error wrapping.
type CoreError struct {
	Op   string // Operation that failed (e.g., "bus.Publish")
	Kind string // Error kind (e.g., "bus", "router", "observation")
	Err  error  // Underlying error for wrapping
}

// Error returns the string representation of the error.
func (e *CoreError) Error() string {
	if e.Op != "" && e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	}
	if e.Err != nil {
		return e.Err.Error()
	}
	return fmt.Sprintf("%s error", e.Kind)
}

// Unwrap returns the underlying error for use with errors.Is/As.
func (e *CoreError) Unwrap() error {
	return e.Err
}

// NewCoreError creates a new CoreError.
func NewCoreError(op, kind string, err error) *CoreError {
	return &CoreError{Op: op, Kind: kind, Err: err}
}
