// Package events defines event types and structures for workflow lifecycle
// notifications consumed by downstream reporting and CRM sync services.
package events

import (
	"time"

	"github.com/google/uuid"
)

// EventType identifies the kind of lifecycle event on the bus.
type EventType string

// Topic is the bus topic all workflow lifecycle events are published to.
const Topic = "adflow.events"

const EventMetadataKey = "key"
const EventTypeMetadataKey = "event_type"

const (
	ExecutionStartedEvent   EventType = "workflow.execution.started"
	ExecutionCompletedEvent EventType = "workflow.execution.completed"
	ExecutionFailedEvent    EventType = "workflow.execution.failed"
	StepFinishedEvent       EventType = "workflow.step.finished"
	StepFailedEvent         EventType = "workflow.step.failed"
)

// BaseEvent carries the fields shared by all lifecycle events.
type BaseEvent struct {
	ID           string         `json:"id"`
	Type         EventType      `json:"type"`
	Timestamp    time.Time      `json:"timestamp"`
	ExecutionID  string         `json:"execution_id"`
	WorkflowName string         `json:"workflow_name"`
	CustomerID   string         `json:"customer_id"`
	Metadata     map[string]any `json:"metadata,omitempty"`
}

func newBaseEvent(eventType EventType, executionID, workflowName, customerID string) BaseEvent {
	return BaseEvent{
		ID:           uuid.New().String(),
		Type:         eventType,
		Timestamp:    time.Now().UTC(),
		ExecutionID:  executionID,
		WorkflowName: workflowName,
		CustomerID:   customerID,
	}
}

// ExecutionStarted is published when an execution begins its first stage.
type ExecutionStarted struct {
	BaseEvent

	TotalSteps int `json:"total_steps"`
}

func (e ExecutionStarted) GetType() EventType { return ExecutionStartedEvent }

// NewExecutionStarted creates an ExecutionStarted event.
func NewExecutionStarted(executionID, workflowName, customerID string, totalSteps int) ExecutionStarted {
	return ExecutionStarted{
		BaseEvent:  newBaseEvent(ExecutionStartedEvent, executionID, workflowName, customerID),
		TotalSteps: totalSteps,
	}
}

// ExecutionCompleted is published when every stage succeeded.
type ExecutionCompleted struct {
	BaseEvent

	DurationMS int64 `json:"duration_ms"`
}

func (e ExecutionCompleted) GetType() EventType { return ExecutionCompletedEvent }

// NewExecutionCompleted creates an ExecutionCompleted event.
func NewExecutionCompleted(executionID, workflowName, customerID string, duration time.Duration) ExecutionCompleted {
	return ExecutionCompleted{
		BaseEvent:  newBaseEvent(ExecutionCompletedEvent, executionID, workflowName, customerID),
		DurationMS: duration.Milliseconds(),
	}
}

// ExecutionFailed is published when a step exhausts its retries and the
// execution aborts.
type ExecutionFailed struct {
	BaseEvent

	FailedStep string `json:"failed_step"`
	Error      string `json:"error"`
}

func (e ExecutionFailed) GetType() EventType { return ExecutionFailedEvent }

// NewExecutionFailed creates an ExecutionFailed event.
func NewExecutionFailed(executionID, workflowName, customerID, failedStep, errMessage string) ExecutionFailed {
	return ExecutionFailed{
		BaseEvent:  newBaseEvent(ExecutionFailedEvent, executionID, workflowName, customerID),
		FailedStep: failedStep,
		Error:      errMessage,
	}
}

// StepFinished is published after a step attempt succeeds.
type StepFinished struct {
	BaseEvent

	StepName   string `json:"step_name"`
	RetryCount int    `json:"retry_count"`
}

func (e StepFinished) GetType() EventType { return StepFinishedEvent }

// NewStepFinished creates a StepFinished event.
func NewStepFinished(executionID, workflowName, customerID, stepName string, retryCount int) StepFinished {
	return StepFinished{
		BaseEvent:  newBaseEvent(StepFinishedEvent, executionID, workflowName, customerID),
		StepName:   stepName,
		RetryCount: retryCount,
	}
}

// StepFailed is published after a step attempt fails, including attempts
// that will be retried.
type StepFailed struct {
	BaseEvent

	StepName   string `json:"step_name"`
	RetryCount int    `json:"retry_count"`
	Error      string `json:"error"`
}

func (e StepFailed) GetType() EventType { return StepFailedEvent }

// NewStepFailed creates a StepFailed event.
func NewStepFailed(executionID, workflowName, customerID, stepName string, retryCount int, errMessage string) StepFailed {
	return StepFailed{
		BaseEvent:  newBaseEvent(StepFailedEvent, executionID, workflowName, customerID),
		StepName:   stepName,
		RetryCount: retryCount,
		Error:      errMessage,
	}
}
