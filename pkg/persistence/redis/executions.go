package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	"github.com/redis/go-redis/v9"

	"github.com/adlytics/adflow/pkg/models"
	"github.com/adlytics/adflow/pkg/persistence"
)

// ExecutionRepository stores executions as JSON values under
// adflow:executions:<id> with a customer+workflow index set, and step
// attempts in a per-execution hash.
type ExecutionRepository struct {
	client *redis.Client
}

// NewExecutionRepository creates a Redis execution repository.
func NewExecutionRepository(client *redis.Client) *ExecutionRepository {
	return &ExecutionRepository{client: client}
}

// SaveExecution inserts or updates an execution record.
func (r *ExecutionRepository) SaveExecution(ctx context.Context, execution *models.WorkflowExecution) error {
	data, err := json.Marshal(execution)
	if err != nil {
		return persistence.NewError("SaveExecution", execution.ID, fmt.Errorf("failed to marshal execution: %w", err))
	}

	pipe := r.client.TxPipeline()
	pipe.Set(ctx, key("executions", execution.ID), data, 0)
	pipe.SAdd(ctx, key("executions", "index", execution.CustomerID, execution.WorkflowName), execution.ID)

	_, err = pipe.Exec(ctx)
	if err != nil {
		return persistence.NewError("SaveExecution", execution.ID, err)
	}

	return nil
}

// ExecutionByID returns an execution by its ID.
func (r *ExecutionRepository) ExecutionByID(ctx context.Context, id string) (*models.WorkflowExecution, error) {
	data, err := r.client.Get(ctx, key("executions", id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, persistence.NewError("ExecutionByID", id, persistence.ErrExecutionNotFound)
	}

	if err != nil {
		return nil, persistence.NewError("ExecutionByID", id, err)
	}

	var execution models.WorkflowExecution

	err = json.Unmarshal(data, &execution)
	if err != nil {
		return nil, persistence.NewError("ExecutionByID", id, fmt.Errorf("failed to unmarshal execution: %w", err))
	}

	return &execution, nil
}

// ExecutionsByCustomerAndWorkflow returns a customer's executions of a named
// workflow, optionally filtered by status.
func (r *ExecutionRepository) ExecutionsByCustomerAndWorkflow(
	ctx context.Context,
	customerID, workflowName string,
	status models.ExecutionStatus,
) ([]*models.WorkflowExecution, error) {
	ids, err := r.client.SMembers(ctx, key("executions", "index", customerID, workflowName)).Result()
	if err != nil {
		return nil, persistence.NewError("ExecutionsByCustomerAndWorkflow", customerID, err)
	}

	executions := make([]*models.WorkflowExecution, 0, len(ids))

	for _, id := range ids {
		execution, err := r.ExecutionByID(ctx, id)
		if err != nil {
			if persistence.IsExecutionNotFound(err) {
				continue
			}

			return nil, err
		}

		if status != "" && execution.Status != status {
			continue
		}

		executions = append(executions, execution)
	}

	sort.Slice(executions, func(i, j int) bool {
		return executions[i].StartedAt.Before(executions[j].StartedAt)
	})

	return executions, nil
}

// SaveStepExecution inserts or updates a step attempt record.
func (r *ExecutionRepository) SaveStepExecution(ctx context.Context, step *models.StepExecution) error {
	data, err := json.Marshal(step)
	if err != nil {
		return persistence.NewError("SaveStepExecution", step.ID, fmt.Errorf("failed to marshal step execution: %w", err))
	}

	err = r.client.HSet(ctx, key("steps", step.ExecutionID), step.ID, data).Err()
	if err != nil {
		return persistence.NewError("SaveStepExecution", step.ID, err)
	}

	return nil
}

// StepExecutionsByExecution returns all step attempts of an execution in
// start order.
func (r *ExecutionRepository) StepExecutionsByExecution(ctx context.Context, executionID string) ([]*models.StepExecution, error) {
	records, err := r.client.HGetAll(ctx, key("steps", executionID)).Result()
	if err != nil {
		return nil, persistence.NewError("StepExecutionsByExecution", executionID, err)
	}

	steps := make([]*models.StepExecution, 0, len(records))

	for id, data := range records {
		var step models.StepExecution

		err = json.Unmarshal([]byte(data), &step)
		if err != nil {
			return nil, persistence.NewError("StepExecutionsByExecution", id, fmt.Errorf("failed to unmarshal step execution: %w", err))
		}

		steps = append(steps, &step)
	}

	sort.Slice(steps, func(i, j int) bool {
		if steps[i].StartedAt.Equal(steps[j].StartedAt) {
			return steps[i].ID < steps[j].ID
		}

		return steps[i].StartedAt.Before(steps[j].StartedAt)
	})

	return steps, nil
}
