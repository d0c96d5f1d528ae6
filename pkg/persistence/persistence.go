// Package persistence provides the data storage abstraction for workflow
// definitions, executions and step executions.
package persistence

import (
	"context"

	"github.com/adlytics/adflow/pkg/models"
)

// DefinitionRepository stores workflow definitions. Definitions are immutable
// once saved; a new version is a new record.
type DefinitionRepository interface {
	// Save persists a definition. Saving a name+version pair that already
	// exists returns ErrDefinitionExists.
	Save(ctx context.Context, def *models.WorkflowDefinition) error

	// ByID returns a definition by its ID, or ErrDefinitionNotFound.
	ByID(ctx context.Context, id string) (*models.WorkflowDefinition, error)

	// EnabledByName returns the latest enabled version of a named workflow,
	// or ErrDefinitionNotFound when no enabled version exists.
	EnabledByName(ctx context.Context, name string) (*models.WorkflowDefinition, error)

	// List returns all stored definitions.
	List(ctx context.Context) ([]*models.WorkflowDefinition, error)
}

// ExecutionRepository stores workflow executions and their step attempts.
type ExecutionRepository interface {
	// SaveExecution inserts or updates an execution row.
	SaveExecution(ctx context.Context, execution *models.WorkflowExecution) error

	// ExecutionByID returns an execution by its ID, or ErrExecutionNotFound.
	ExecutionByID(ctx context.Context, id string) (*models.WorkflowExecution, error)

	// ExecutionsByCustomerAndWorkflow returns executions for a customer and
	// workflow name, optionally filtered by status (empty status matches
	// all).
	ExecutionsByCustomerAndWorkflow(ctx context.Context, customerID, workflowName string, status models.ExecutionStatus) ([]*models.WorkflowExecution, error)

	// SaveStepExecution inserts or updates a step attempt row.
	SaveStepExecution(ctx context.Context, step *models.StepExecution) error

	// StepExecutionsByExecution returns all step attempts of an execution in
	// insertion order.
	StepExecutionsByExecution(ctx context.Context, executionID string) ([]*models.StepExecution, error)
}

// Persistence is the storage collaborator required by the orchestration
// engine.
type Persistence interface {
	Definitions() DefinitionRepository
	Executions() ExecutionRepository

	HealthCheck(ctx context.Context) error
	Close(ctx context.Context) error
}
