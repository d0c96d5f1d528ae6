package models

// ExecutionContext is the view of a running execution handed to a step
// executor. Values holds the accumulated context of the execution, including
// result fragments of previously completed steps keyed by step name.
type ExecutionContext struct {
	ExecutionID  string         `json:"execution_id"`
	WorkflowName string         `json:"workflow_name"`
	CustomerID   string         `json:"customer_id"`
	StepName     string         `json:"step_name"`
	StepConfig   map[string]any `json:"step_config,omitempty"`
	Values       map[string]any `json:"values,omitempty"`
}

// StepResult looks up the result fragment of a previously completed step.
func (c ExecutionContext) StepResult(stepName string) (any, bool) {
	result, ok := c.Values[stepName]

	return result, ok
}
