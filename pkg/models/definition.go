// Package models defines the core domain models for the adflow workflow engine.
package models

import "time"

const (
	// DefaultStepTimeout is applied when a step definition does not set one.
	DefaultStepTimeout = 300 * time.Second

	// DefaultServiceName is the registry key of the built-in no-op executor.
	DefaultServiceName = "default"
)

// WorkflowDefinition is a versioned template describing a dependency-linked
// set of steps. Definitions are immutable once created; changes are published
// as new versions.
type WorkflowDefinition struct {
	ID          string           `json:"id"          yaml:"-"`
	Name        string           `json:"name"        yaml:"name"        validate:"required,min=1"`
	Version     string           `json:"version"     yaml:"version"     validate:"required"`
	Description string           `json:"description" yaml:"description"`
	Steps       []StepDefinition `json:"steps"       yaml:"steps"       validate:"required,min=1,dive"`
	Enabled     bool             `json:"enabled"     yaml:"-"`
	CreatedAt   time.Time        `json:"created_at"  yaml:"-"`
	UpdatedAt   time.Time        `json:"updated_at"  yaml:"-"`
}

// StepDefinition describes one unit of work inside a workflow definition.
// Service is the executor registry key; DependsOn may only reference steps
// declared earlier in the same definition.
type StepDefinition struct {
	Name           string         `json:"name"            yaml:"name"       validate:"required,min=1"`
	Service        string         `json:"service"         yaml:"service"    validate:"required"`
	DependsOn      []string       `json:"depends_on"      yaml:"depends_on"`
	TimeoutSeconds int            `json:"timeout_seconds" yaml:"timeout"    validate:"min=0"`
	RetryLimit     int            `json:"retry_limit"     yaml:"retry"      validate:"min=0"`
	Config         map[string]any `json:"config"          yaml:"config"`
}

// Timeout returns the configured step timeout, falling back to the default.
func (s StepDefinition) Timeout() time.Duration {
	if s.TimeoutSeconds <= 0 {
		return DefaultStepTimeout
	}

	return time.Duration(s.TimeoutSeconds) * time.Second
}

// ExecutionPlan is the staged execution order for a definition: each stage is
// a batch of step names whose dependencies are satisfied by earlier stages.
// Steps within a stage run concurrently.
type ExecutionPlan [][]string

// Stages returns the number of stages in the plan.
func (p ExecutionPlan) Stages() int {
	return len(p)
}

// TotalSteps returns the number of steps across all stages.
func (p ExecutionPlan) TotalSteps() int {
	total := 0
	for _, stage := range p {
		total += len(stage)
	}

	return total
}
