// Package web provides HTTP request and response types for the workflow API.
package web

import "github.com/adlytics/adflow/pkg/models"

// CreateDefinitionRequest represents the JSON request body for creating a
// workflow definition. YAML bodies are parsed directly into the definition
// model instead.
type CreateDefinitionRequest struct {
	Name        string                  `json:"name"        validate:"required,min=3"`
	Version     string                  `json:"version"     validate:"required"`
	Description string                  `json:"description"`
	Steps       []models.StepDefinition `json:"steps"       validate:"required,min=1,dive"`
}

// StartWorkflowRequest represents the request body for starting a workflow
// execution.
type StartWorkflowRequest struct {
	CustomerID string         `json:"customer_id" validate:"required"`
	Context    map[string]any `json:"context,omitempty"`
}

// StartWorkflowResponse is returned when an execution has been accepted.
type StartWorkflowResponse struct {
	ExecutionID  string `json:"execution_id"`
	WorkflowName string `json:"workflow_name"`
	CustomerID   string `json:"customer_id"`
	Status       string `json:"status"`
}
