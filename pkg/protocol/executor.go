// Package protocol defines the interfaces and contracts for pluggable step
// executors.
package protocol

import (
	"context"
	"log/slog"
	"time"

	"github.com/adlytics/adflow/pkg/models"
)

// StepExecutor performs the actual work of one workflow step. The returned
// fragment is merged into the execution context under the step's name; it must
// be JSON-serializable. A result is final on return: executors that spawn
// fire-and-forget work own that work themselves, the engine does not track it.
type StepExecutor interface {
	Execute(ctx context.Context, executionCtx models.ExecutionContext, logger *slog.Logger) (map[string]any, error)
}

// TimeoutProvider lets an executor derive a per-step timeout from its
// configuration. Executors without it use the step definition's timeout.
type TimeoutProvider interface {
	Timeout(config map[string]any) time.Duration
}

// ConfigValidator is an optional capability for executors that can check
// their configuration ahead of execution.
type ConfigValidator interface {
	ValidateConfig(config map[string]any) error
}

// StepExecutorFactory creates executor instances for a service name and
// provides the JSON schema of the expected step configuration.
type StepExecutorFactory interface {
	// ID returns the service name this factory registers under.
	ID() string

	// Create builds an executor instance for one step dispatch.
	Create(config map[string]any) (StepExecutor, error)

	// Schema returns the JSON schema for the step configuration, or nil when
	// the executor accepts arbitrary configuration.
	Schema() map[string]any
}
