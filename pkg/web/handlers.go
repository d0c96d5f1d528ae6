// Package web provides HTTP handlers and REST API endpoints for workflow
// orchestration.
package web

import (
	"net/http"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"

	"github.com/adlytics/adflow/pkg/models"
	"github.com/adlytics/adflow/pkg/monitor"
	"github.com/adlytics/adflow/pkg/orchestrator"
	"github.com/adlytics/adflow/pkg/parser"
	"github.com/adlytics/adflow/pkg/persistence"
	"github.com/adlytics/adflow/pkg/registry"
)

type APIHandlers struct {
	orchestrator *orchestrator.Orchestrator
	persistence  persistence.Persistence
	registry     *registry.Registry
	monitor      *monitor.Monitor
	parser       *parser.Parser
	validator    *validator.Validate
}

func NewAPIHandlers(
	orch *orchestrator.Orchestrator,
	persist persistence.Persistence,
	reg *registry.Registry,
	mon *monitor.Monitor,
) *APIHandlers {
	return &APIHandlers{
		orchestrator: orch,
		persistence:  persist,
		registry:     reg,
		monitor:      mon,
		parser:       parser.NewParser(),
		validator:    validator.New(validator.WithRequiredStructEnabled()),
	}
}

// CreateDefinition accepts a workflow definition as JSON or, when the
// Content-Type says so, as raw YAML.
func (h *APIHandlers) CreateDefinition(c fiber.Ctx) error {
	def, err := h.bindDefinition(c)
	if err != nil {
		return badRequest(c, err.Error())
	}

	created, err := h.orchestrator.CreateWorkflowDefinition(c.Context(), def)
	if err != nil {
		return handleOrchestratorError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(created)
}

func (h *APIHandlers) bindDefinition(c fiber.Ctx) (*models.WorkflowDefinition, error) {
	contentType := string(c.Request().Header.ContentType())

	if strings.Contains(contentType, "yaml") {
		return h.parser.Parse(c.Body())
	}

	var req CreateDefinitionRequest
	if err := c.Bind().JSON(&req); err != nil {
		return nil, err
	}

	if err := h.validator.Struct(req); err != nil {
		return nil, err
	}

	return &models.WorkflowDefinition{
		Name:        req.Name,
		Version:     req.Version,
		Description: req.Description,
		Steps:       req.Steps,
	}, nil
}

func (h *APIHandlers) GetDefinition(c fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return badRequest(c, "Definition ID is required")
	}

	def, err := h.persistence.Definitions().ByID(c.Context(), id)
	if err != nil {
		if persistence.IsDefinitionNotFound(err) {
			return notFound(c, "Workflow definition not found")
		}

		return internalError(c, err)
	}

	return c.JSON(def)
}

func (h *APIHandlers) ListDefinitions(c fiber.Ctx) error {
	defs, err := h.persistence.Definitions().List(c.Context())
	if err != nil {
		return internalError(c, err)
	}

	return c.JSON(fiber.Map{
		"definitions": defs,
		"total_count": len(defs),
	})
}

// StartWorkflow begins an execution of the named workflow for a customer.
// A second start for the same customer and workflow while one is in flight
// returns 409.
func (h *APIHandlers) StartWorkflow(c fiber.Ctx) error {
	workflowName := c.Params("name")
	if workflowName == "" {
		return badRequest(c, "Workflow name is required")
	}

	var req StartWorkflowRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	execution, err := h.orchestrator.StartWorkflow(c.Context(), workflowName, req.CustomerID, req.Context)
	if err != nil {
		return handleOrchestratorError(c, err)
	}

	return c.Status(fiber.StatusAccepted).JSON(StartWorkflowResponse{
		ExecutionID:  execution.ID,
		WorkflowName: execution.WorkflowName,
		CustomerID:   execution.CustomerID,
		Status:       string(execution.Status),
	})
}

func (h *APIHandlers) GetExecution(c fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return badRequest(c, "Execution ID is required")
	}

	snapshot, err := h.orchestrator.Status(c.Context(), id)
	if err != nil {
		if persistence.IsExecutionNotFound(err) {
			return notFound(c, "Workflow execution not found")
		}

		return internalError(c, err)
	}

	return c.JSON(snapshot)
}

// DeleteExecutionContext evicts an execution's cached context. Unknown IDs
// still return 204, eviction is idempotent.
func (h *APIHandlers) DeleteExecutionContext(c fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return badRequest(c, "Execution ID is required")
	}

	h.orchestrator.CleanupExecutionContext(id)

	return c.SendStatus(fiber.StatusNoContent)
}

func (h *APIHandlers) GetStats(c fiber.Ctx) error {
	cacheStats := h.orchestrator.ContextStats()
	metrics := h.monitor.Metrics()

	return c.JSON(fiber.Map{
		"context_cache": fiber.Map{
			"total_contexts":   cacheStats.Total,
			"active_contexts":  cacheStats.Active,
			"expired_contexts": cacheStats.Expired,
			"ttl":              cacheStats.TTL.String(),
		},
		"executions": fiber.Map{
			"running":    h.orchestrator.RunningExecutions(),
			"total":      metrics.TotalExecutions,
			"successful": metrics.SuccessfulExecutions,
			"failed":     metrics.FailedExecutions,
		},
		"steps":  metrics.StepExecutionCounts,
		"active": h.monitor.ActiveExecutions(),
	})
}

func (h *APIHandlers) HealthCheck(c fiber.Ctx) error {
	registryCheck, regOk := h.registry.HealthCheck()
	persistenceErr := h.persistence.HealthCheck(c.Context())

	status := "healthy"
	httpStatus := http.StatusOK

	if !regOk || persistenceErr != nil {
		status = "unhealthy"
		httpStatus = http.StatusInternalServerError
	}

	persistenceCheck := "ok"
	if persistenceErr != nil {
		persistenceCheck = persistenceErr.Error()
	}

	return c.Status(httpStatus).JSON(fiber.Map{
		"status": status,
		"checkers": fiber.Map{
			"registry":    registryCheck,
			"persistence": persistenceCheck,
		},
		"timestamp": time.Now().UTC(),
	})
}
