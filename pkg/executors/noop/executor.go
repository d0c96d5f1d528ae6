// Package noop provides the built-in default step executor. It performs no
// work and is useful for placeholder steps and dry runs.
package noop

import (
	"context"
	"log/slog"

	"github.com/adlytics/adflow/pkg/models"
	"github.com/adlytics/adflow/pkg/protocol"
)

// Factory creates no-op executors under the "default" service name.
type Factory struct{}

// NewFactory creates the no-op executor factory.
func NewFactory() *Factory {
	return &Factory{}
}

// ID returns the service name of the no-op executor.
func (*Factory) ID() string {
	return models.DefaultServiceName
}

// Create builds a no-op executor. Any configuration is accepted and echoed
// back in the result fragment.
func (*Factory) Create(config map[string]any) (protocol.StepExecutor, error) {
	return &Executor{config: config}, nil
}

// Schema returns nil: the no-op executor accepts arbitrary configuration.
func (*Factory) Schema() map[string]any {
	return nil
}

// Executor is the no-op step executor.
type Executor struct {
	config map[string]any
}

// Execute does nothing and reports success.
func (e *Executor) Execute(_ context.Context, executionCtx models.ExecutionContext, logger *slog.Logger) (map[string]any, error) {
	logger.Debug("Executing noop step", "step", executionCtx.StepName)

	return map[string]any{"skipped": true}, nil
}
