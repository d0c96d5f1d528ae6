package postgresql

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/adlytics/adflow/pkg/models"
	"github.com/adlytics/adflow/pkg/persistence"
)

// ExecutionRepository stores workflow executions and step attempts in
// PostgreSQL. Execution context is serialized as JSONB so a step's status
// transition and its context contribution commit in a single statement.
type ExecutionRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewExecutionRepository creates a PostgreSQL execution repository.
func NewExecutionRepository(db *sql.DB, logger *slog.Logger) *ExecutionRepository {
	return &ExecutionRepository{db: db, logger: logger}
}

// SaveExecution inserts or updates an execution row.
func (r *ExecutionRepository) SaveExecution(ctx context.Context, execution *models.WorkflowExecution) error {
	contextJSON, err := json.Marshal(execution.Context)
	if err != nil {
		return persistence.NewError("SaveExecution", execution.ID, fmt.Errorf("failed to marshal context: %w", err))
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO workflow_executions
			(id, workflow_definition_id, workflow_name, customer_id, status, context, current_stage, current_step, error, started_at, completed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (id) DO UPDATE SET
			status = EXCLUDED.status,
			context = EXCLUDED.context,
			current_stage = EXCLUDED.current_stage,
			current_step = EXCLUDED.current_step,
			error = EXCLUDED.error,
			completed_at = EXCLUDED.completed_at
	`, execution.ID, execution.WorkflowDefinitionID, execution.WorkflowName, execution.CustomerID,
		execution.Status, contextJSON, execution.CurrentStage, execution.CurrentStep, execution.Error,
		execution.StartedAt, execution.CompletedAt)
	if err != nil {
		return persistence.NewError("SaveExecution", execution.ID, err)
	}

	return nil
}

// ExecutionByID returns an execution by its ID.
func (r *ExecutionRepository) ExecutionByID(ctx context.Context, id string) (*models.WorkflowExecution, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, workflow_definition_id, workflow_name, customer_id, status, context, current_stage, current_step, error, started_at, completed_at
		FROM workflow_executions
		WHERE id = $1
	`, id)

	execution, err := scanExecution(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, persistence.NewError("ExecutionByID", id, persistence.ErrExecutionNotFound)
	}

	if err != nil {
		return nil, persistence.NewError("ExecutionByID", id, err)
	}

	return execution, nil
}

// ExecutionsByCustomerAndWorkflow returns a customer's executions of a named
// workflow, optionally filtered by status.
func (r *ExecutionRepository) ExecutionsByCustomerAndWorkflow(
	ctx context.Context,
	customerID, workflowName string,
	status models.ExecutionStatus,
) ([]*models.WorkflowExecution, error) {
	query := `
		SELECT id, workflow_definition_id, workflow_name, customer_id, status, context, current_stage, current_step, error, started_at, completed_at
		FROM workflow_executions
		WHERE customer_id = $1 AND workflow_name = $2
	`
	args := []any{customerID, workflowName}

	if status != "" {
		query += " AND status = $3"
		args = append(args, status)
	}

	query += " ORDER BY started_at"

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, persistence.NewError("ExecutionsByCustomerAndWorkflow", customerID, err)
	}

	defer func() {
		_ = rows.Close()
	}()

	executions := make([]*models.WorkflowExecution, 0)

	for rows.Next() {
		execution, err := scanExecution(rows)
		if err != nil {
			return nil, persistence.NewError("ExecutionsByCustomerAndWorkflow", customerID, err)
		}

		executions = append(executions, execution)
	}

	err = rows.Err()
	if err != nil {
		return nil, persistence.NewError("ExecutionsByCustomerAndWorkflow", customerID, err)
	}

	return executions, nil
}

// SaveStepExecution inserts or updates a step attempt row.
func (r *ExecutionRepository) SaveStepExecution(ctx context.Context, step *models.StepExecution) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO workflow_step_executions
			(id, execution_id, step_name, status, retry_count, error, started_at, completed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (id) DO UPDATE SET
			status = EXCLUDED.status,
			retry_count = EXCLUDED.retry_count,
			error = EXCLUDED.error,
			completed_at = EXCLUDED.completed_at
	`, step.ID, step.ExecutionID, step.StepName, step.Status, step.RetryCount,
		step.Error, step.StartedAt, step.CompletedAt)
	if err != nil {
		return persistence.NewError("SaveStepExecution", step.ID, err)
	}

	return nil
}

// StepExecutionsByExecution returns all step attempts of an execution in
// start order.
func (r *ExecutionRepository) StepExecutionsByExecution(ctx context.Context, executionID string) ([]*models.StepExecution, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, execution_id, step_name, status, retry_count, error, started_at, completed_at
		FROM workflow_step_executions
		WHERE execution_id = $1
		ORDER BY started_at, id
	`, executionID)
	if err != nil {
		return nil, persistence.NewError("StepExecutionsByExecution", executionID, err)
	}

	defer func() {
		_ = rows.Close()
	}()

	steps := make([]*models.StepExecution, 0)

	for rows.Next() {
		var step models.StepExecution

		err = rows.Scan(&step.ID, &step.ExecutionID, &step.StepName, &step.Status,
			&step.RetryCount, &step.Error, &step.StartedAt, &step.CompletedAt)
		if err != nil {
			return nil, persistence.NewError("StepExecutionsByExecution", executionID, err)
		}

		steps = append(steps, &step)
	}

	err = rows.Err()
	if err != nil {
		return nil, persistence.NewError("StepExecutionsByExecution", executionID, err)
	}

	return steps, nil
}

func scanExecution(row rowScanner) (*models.WorkflowExecution, error) {
	var (
		execution   models.WorkflowExecution
		contextJSON []byte
	)

	err := row.Scan(&execution.ID, &execution.WorkflowDefinitionID, &execution.WorkflowName,
		&execution.CustomerID, &execution.Status, &contextJSON, &execution.CurrentStage,
		&execution.CurrentStep, &execution.Error, &execution.StartedAt, &execution.CompletedAt)
	if err != nil {
		return nil, err
	}

	if len(contextJSON) > 0 {
		err = json.Unmarshal(contextJSON, &execution.Context)
		if err != nil {
			return nil, fmt.Errorf("failed to unmarshal context: %w", err)
		}
	}

	return &execution, nil
}
