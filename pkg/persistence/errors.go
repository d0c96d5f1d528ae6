// Package persistence provides standardized error types for persistence
// operations.
package persistence

import (
	"errors"
	"fmt"
)

// Standard persistence error types that all implementations should use.
var (
	// ErrDefinitionNotFound indicates no workflow definition matched the
	// given identifier or name.
	ErrDefinitionNotFound = errors.New("workflow definition not found")

	// ErrDefinitionExists indicates a definition with the same name and
	// version already exists.
	ErrDefinitionExists = errors.New("workflow definition already exists")

	// ErrExecutionNotFound indicates an execution was not found by the given
	// identifier.
	ErrExecutionNotFound = errors.New("workflow execution not found")
)

// Error wraps persistence failures with the operation and target that
// produced them.
type Error struct {
	Op     string // Operation being performed (e.g. "SaveExecution")
	Target string // Identifier of the affected record
	Err    error  // Underlying error
}

func (e *Error) Error() string {
	if e.Target != "" {
		return fmt.Sprintf("%s failed for %s: %v", e.Op, e.Target, e.Err)
	}

	return fmt.Sprintf("%s failed: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// NewError creates a persistence error with context.
func NewError(op, target string, err error) *Error {
	return &Error{Op: op, Target: target, Err: err}
}

// IsDefinitionNotFound checks if an error indicates a missing definition.
func IsDefinitionNotFound(err error) bool {
	return errors.Is(err, ErrDefinitionNotFound)
}

// IsDefinitionExists checks if an error indicates a duplicate definition.
func IsDefinitionExists(err error) bool {
	return errors.Is(err, ErrDefinitionExists)
}

// IsExecutionNotFound checks if an error indicates a missing execution.
func IsExecutionNotFound(err error) bool {
	return errors.Is(err, ErrExecutionNotFound)
}
