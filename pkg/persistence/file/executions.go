package file

import (
	"context"
	"fmt"
	"path/filepath"
	"sort"
	"sync"

	"github.com/adlytics/adflow/pkg/models"
	"github.com/adlytics/adflow/pkg/persistence"
)

// ExecutionRepository stores workflow executions and step attempts as JSON
// files under <root>/executions and <root>/steps.
type ExecutionRepository struct {
	root string
	mu   *sync.RWMutex
}

// NewExecutionRepository creates a file-backed execution repository.
func NewExecutionRepository(root string, mu *sync.RWMutex) *ExecutionRepository {
	return &ExecutionRepository{root: root, mu: mu}
}

// SaveExecution inserts or updates an execution record.
func (r *ExecutionRepository) SaveExecution(_ context.Context, execution *models.WorkflowExecution) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	err := writeJSON(r.executionsDir(), execution.ID, execution)
	if err != nil {
		return persistence.NewError("SaveExecution", execution.ID, err)
	}

	return nil
}

// ExecutionByID returns an execution by its ID.
func (r *ExecutionRepository) ExecutionByID(_ context.Context, id string) (*models.WorkflowExecution, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var execution models.WorkflowExecution

	found, err := readJSON(r.executionsDir(), id, &execution)
	if err != nil {
		return nil, persistence.NewError("ExecutionByID", id, err)
	}

	if !found {
		return nil, persistence.NewError("ExecutionByID", id, persistence.ErrExecutionNotFound)
	}

	return &execution, nil
}

// ExecutionsByCustomerAndWorkflow returns a customer's executions of a named
// workflow, optionally filtered by status.
func (r *ExecutionRepository) ExecutionsByCustomerAndWorkflow(
	_ context.Context,
	customerID, workflowName string,
	status models.ExecutionStatus,
) ([]*models.WorkflowExecution, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids, err := globJSON(r.executionsDir())
	if err != nil {
		return nil, persistence.NewError("ExecutionsByCustomerAndWorkflow", customerID, err)
	}

	executions := make([]*models.WorkflowExecution, 0)

	for _, id := range ids {
		var execution models.WorkflowExecution

		found, err := readJSON(r.executionsDir(), id, &execution)
		if err != nil {
			return nil, persistence.NewError("ExecutionsByCustomerAndWorkflow", id, err)
		}

		if !found {
			continue
		}

		if execution.CustomerID != customerID || execution.WorkflowName != workflowName {
			continue
		}

		if status != "" && execution.Status != status {
			continue
		}

		executions = append(executions, &execution)
	}

	sort.Slice(executions, func(i, j int) bool {
		return executions[i].StartedAt.Before(executions[j].StartedAt)
	})

	return executions, nil
}

// SaveStepExecution inserts or updates a step attempt record.
func (r *ExecutionRepository) SaveStepExecution(_ context.Context, step *models.StepExecution) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	err := writeJSON(r.stepsDir(step.ExecutionID), step.ID, step)
	if err != nil {
		return persistence.NewError("SaveStepExecution", step.ID, err)
	}

	return nil
}

// StepExecutionsByExecution returns all step attempts of an execution,
// ordered by start time.
func (r *ExecutionRepository) StepExecutionsByExecution(_ context.Context, executionID string) ([]*models.StepExecution, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids, err := globJSON(r.stepsDir(executionID))
	if err != nil {
		return nil, persistence.NewError("StepExecutionsByExecution", executionID, err)
	}

	steps := make([]*models.StepExecution, 0, len(ids))

	for _, id := range ids {
		var step models.StepExecution

		found, err := readJSON(r.stepsDir(executionID), id, &step)
		if err != nil {
			return nil, fmt.Errorf("failed to load step execution %s: %w", id, err)
		}

		if found {
			steps = append(steps, &step)
		}
	}

	sort.Slice(steps, func(i, j int) bool {
		if steps[i].StartedAt.Equal(steps[j].StartedAt) {
			return steps[i].ID < steps[j].ID
		}

		return steps[i].StartedAt.Before(steps[j].StartedAt)
	})

	return steps, nil
}

func (r *ExecutionRepository) executionsDir() string {
	return filepath.Join(r.root, "executions")
}

func (r *ExecutionRepository) stepsDir(executionID string) string {
	return filepath.Join(r.root, "steps", executionID)
}
