// Package orchestrator implements the workflow orchestration engine: it
// validates definitions, starts executions, walks the execution plan stage by
// stage and manages execution-context lifetime.
package orchestrator

import (
	"errors"
	"fmt"

	"github.com/adlytics/adflow/pkg/parser"
)

var (
	// ErrWorkflowNotFound indicates no enabled definition matched the
	// requested workflow name.
	ErrWorkflowNotFound = errors.New("no enabled workflow definition found")

	// ErrAlreadyRunning indicates an execution is already in flight for the
	// customer and workflow pair.
	ErrAlreadyRunning = errors.New("workflow already running for customer")

	// ErrStepTimeout indicates a step attempt exceeded its configured
	// timeout. It counts as an execution error for retry purposes.
	ErrStepTimeout = errors.New("step execution timed out")
)

// ExecutionError wraps a step executor failure. It is retried up to the
// step's retry limit before escalating to execution-level failure.
type ExecutionError struct {
	StepName string
	Attempt  int
	Err      error
}

func (e *ExecutionError) Error() string {
	return fmt.Sprintf("step %q failed on attempt %d: %v", e.StepName, e.Attempt, e.Err)
}

func (e *ExecutionError) Unwrap() error {
	return e.Err
}

// ConfigurationError indicates a step references an unknown service or
// carries a configuration its executor rejects. It is fatal immediately and
// never retried.
type ConfigurationError struct {
	StepName string
	Service  string
	Err      error
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("step %q has invalid configuration for service %q: %v", e.StepName, e.Service, e.Err)
}

func (e *ConfigurationError) Unwrap() error {
	return e.Err
}

// IsValidationError checks whether an error is a definition validation
// failure.
func IsValidationError(err error) bool {
	return parser.IsSchemaError(err)
}

// IsNotFound checks whether an error indicates a missing or disabled
// workflow definition.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrWorkflowNotFound)
}

// IsAlreadyRunning checks whether an error is a single-flight violation.
func IsAlreadyRunning(err error) bool {
	return errors.Is(err, ErrAlreadyRunning)
}

// IsConfigurationError checks whether an error is a fatal step
// configuration problem.
func IsConfigurationError(err error) bool {
	var confErr *ConfigurationError

	return errors.As(err, &confErr)
}

// IsStepTimeout checks whether an error was caused by a step timeout.
func IsStepTimeout(err error) bool {
	return errors.Is(err, ErrStepTimeout)
}
