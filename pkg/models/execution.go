package models

import "time"

// ExecutionStatus represents the lifecycle state of a workflow execution or
// of a single step attempt. Completed and failed are terminal.
type ExecutionStatus string

const (
	ExecutionStatusPending   ExecutionStatus = "pending"
	ExecutionStatusRunning   ExecutionStatus = "running"
	ExecutionStatusCompleted ExecutionStatus = "completed"
	ExecutionStatusFailed    ExecutionStatus = "failed"
)

// IsTerminal reports whether the status admits no further transitions.
func (s ExecutionStatus) IsTerminal() bool {
	return s == ExecutionStatusCompleted || s == ExecutionStatusFailed
}

// WorkflowExecution is one orchestration run of a workflow definition for a
// customer. Context accumulates step result fragments keyed by step name.
// CurrentStage is the index of the stage being dispatched; CurrentStep holds
// the name of the step that caused a failed execution and is empty otherwise.
type WorkflowExecution struct {
	ID                   string          `json:"id"`
	WorkflowDefinitionID string          `json:"workflow_definition_id"`
	WorkflowName         string          `json:"workflow_name"`
	CustomerID           string          `json:"customer_id"`
	Status               ExecutionStatus `json:"status"`
	Context              map[string]any  `json:"context,omitempty"`
	CurrentStage         int             `json:"current_stage"`
	CurrentStep          string          `json:"current_step,omitempty"`
	Error                string          `json:"error,omitempty"`
	StartedAt            time.Time       `json:"started_at"`
	CompletedAt          *time.Time      `json:"completed_at,omitempty"`
}

// StepExecution records a single attempt of a step within an execution.
// Retries produce new records; terminal records are never mutated.
type StepExecution struct {
	ID          string          `json:"id"`
	ExecutionID string          `json:"execution_id"`
	StepName    string          `json:"step_name"`
	Status      ExecutionStatus `json:"status"`
	RetryCount  int             `json:"retry_count"`
	Error       string          `json:"error,omitempty"`
	StartedAt   time.Time       `json:"started_at"`
	CompletedAt *time.Time      `json:"completed_at,omitempty"`
}

// ExecutionSnapshot is the read-only projection returned by status queries:
// the execution row plus its step attempts in declaration order.
type ExecutionSnapshot struct {
	Execution WorkflowExecution `json:"execution"`
	Steps     []StepExecution   `json:"steps"`
}
