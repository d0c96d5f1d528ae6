// Package log provides a step executor that writes a structured log line.
package log

import (
	"context"
	"errors"
	"log/slog"

	"github.com/adlytics/adflow/pkg/models"
	"github.com/adlytics/adflow/pkg/protocol"
)

var errMessageRequired = errors.New("log executor requires a 'message' configuration value")

// Factory creates log executors under the "log" service name.
type Factory struct{}

// NewFactory creates the log executor factory.
func NewFactory() *Factory {
	return &Factory{}
}

// ID returns the service name of the log executor.
func (*Factory) ID() string {
	return "log"
}

// Create builds a log executor from the step configuration.
func (*Factory) Create(config map[string]any) (protocol.StepExecutor, error) {
	if config == nil {
		config = map[string]any{}
	}

	message, _ := config["message"].(string)
	level, _ := config["level"].(string)

	return &Executor{message: message, level: level}, nil
}

// Schema returns the JSON schema for the log executor configuration.
func (*Factory) Schema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"message": map[string]any{
				"type":        "string",
				"description": "The message to log",
			},
			"level": map[string]any{
				"type":        "string",
				"description": "Log level for the message",
				"default":     "info",
				"enum":        []string{"debug", "info", "warn", "error"},
			},
		},
		"required": []string{"message"},
	}
}

// Executor logs a configured message with execution metadata attached.
type Executor struct {
	message string
	level   string
}

// ValidateConfig checks the executor configuration ahead of execution.
func (e *Executor) ValidateConfig(_ map[string]any) error {
	if e.message == "" {
		return errMessageRequired
	}

	return nil
}

// Execute writes the configured message and returns it as the result
// fragment.
func (e *Executor) Execute(_ context.Context, executionCtx models.ExecutionContext, logger *slog.Logger) (map[string]any, error) {
	logger = logger.With(
		"executor", "log",
		"customer_id", executionCtx.CustomerID,
		"step", executionCtx.StepName,
	)

	switch e.level {
	case "debug":
		logger.Debug(e.message)
	case "warn":
		logger.Warn(e.message)
	case "error":
		logger.Error(e.message)
	default:
		logger.Info(e.message)
	}

	return map[string]any{"message": e.message, "level": e.level}, nil
}
