package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"maps"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/adlytics/adflow/pkg/contextcache"
	"github.com/adlytics/adflow/pkg/eventbus"
	"github.com/adlytics/adflow/pkg/events"
	"github.com/adlytics/adflow/pkg/models"
	"github.com/adlytics/adflow/pkg/monitor"
	"github.com/adlytics/adflow/pkg/otelhelper"
	"github.com/adlytics/adflow/pkg/parser"
	"github.com/adlytics/adflow/pkg/persistence"
	"github.com/adlytics/adflow/pkg/protocol"
	"github.com/adlytics/adflow/pkg/registry"
)

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithSynchronousExecution makes StartWorkflow run the execution to a
// terminal state before returning. Used by the CLI runner and by tests.
func WithSynchronousExecution() Option {
	return func(o *Orchestrator) {
		o.synchronous = true
	}
}

// WithTracer enables OpenTelemetry spans around executions and step
// dispatches.
func WithTracer(tracer trace.Tracer) Option {
	return func(o *Orchestrator) {
		o.tracer = tracer
	}
}

// Orchestrator drives workflow executions: it owns the single-flight
// registry of running executions and the execution-context cache, walks
// execution plans stage by stage and dispatches steps through the executor
// registry.
type Orchestrator struct {
	logger      *slog.Logger
	persistence persistence.Persistence
	registry    *registry.Registry
	monitor     *monitor.Monitor
	cache       *contextcache.Cache
	eventBus    eventbus.EventPublisher
	parser      *parser.Parser
	running     *runningSet
	tracer      trace.Tracer
	synchronous bool

	planMu sync.RWMutex
	plans  map[string]models.ExecutionPlan
}

// NewOrchestrator creates a workflow orchestrator. The event bus may be nil
// when lifecycle events are not consumed (CLI runs).
func NewOrchestrator(
	logger *slog.Logger,
	persist persistence.Persistence,
	reg *registry.Registry,
	mon *monitor.Monitor,
	cache *contextcache.Cache,
	eventBus eventbus.EventPublisher,
	opts ...Option,
) *Orchestrator {
	o := &Orchestrator{
		logger:      logger.With("module", "orchestrator"),
		persistence: persist,
		registry:    reg,
		monitor:     mon,
		cache:       cache,
		eventBus:    eventBus,
		parser:      parser.NewParser(),
		running:     newRunningSet(),
		plans:       make(map[string]models.ExecutionPlan),
	}

	for _, opt := range opts {
		opt(o)
	}

	return o
}

// CreateWorkflowDefinition validates and persists a new workflow definition.
// Validation failures surface synchronously and nothing is persisted.
func (o *Orchestrator) CreateWorkflowDefinition(ctx context.Context, def *models.WorkflowDefinition) (*models.WorkflowDefinition, error) {
	err := o.parser.Validate(def)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	def.ID = uuid.New().String()
	def.Enabled = true
	def.CreatedAt = now
	def.UpdatedAt = now

	err = o.persistence.Definitions().Save(ctx, def)
	if err != nil {
		return nil, fmt.Errorf("failed to persist workflow definition: %w", err)
	}

	o.logger.InfoContext(ctx, "Created workflow definition",
		"definition_id", def.ID, "name", def.Name, "version", def.Version)

	return def, nil
}

// StartWorkflow begins an execution of the named workflow for a customer.
// The check for an already-running execution and the registration of the new
// one are atomic, so concurrent calls for the same pair cannot both pass.
// The returned execution is pending; stages run asynchronously unless the
// orchestrator is configured for synchronous execution.
func (o *Orchestrator) StartWorkflow(ctx context.Context, workflowName, customerID string, initial map[string]any) (*models.WorkflowExecution, error) {
	def, err := o.persistence.Definitions().EnabledByName(ctx, workflowName)
	if err != nil {
		if persistence.IsDefinitionNotFound(err) {
			return nil, fmt.Errorf("workflow %q: %w", workflowName, ErrWorkflowNotFound)
		}

		return nil, fmt.Errorf("failed to load workflow %q: %w", workflowName, err)
	}

	plan, err := o.planFor(def)
	if err != nil {
		return nil, err
	}

	executionID := uuid.New().String()
	key := runningKey(customerID, workflowName)

	if !o.running.Acquire(key, executionID) {
		return nil, fmt.Errorf("workflow %q for customer %q: %w", workflowName, customerID, ErrAlreadyRunning)
	}

	execContext := make(map[string]any, len(initial))
	maps.Copy(execContext, initial)

	execution := &models.WorkflowExecution{
		ID:                   executionID,
		WorkflowDefinitionID: def.ID,
		WorkflowName:         def.Name,
		CustomerID:           customerID,
		Status:               models.ExecutionStatusPending,
		Context:              execContext,
		StartedAt:            time.Now().UTC(),
	}

	err = o.persistence.Executions().SaveExecution(ctx, execution)
	if err != nil {
		o.running.Release(key)

		return nil, fmt.Errorf("failed to persist execution: %w", err)
	}

	o.cache.Put(executionID, execContext)
	o.monitor.StartExecution(executionID, def.Name, customerID)

	o.logger.InfoContext(ctx, "Starting workflow execution",
		"execution_id", executionID, "workflow", def.Name, "customer_id", customerID,
		"stages", plan.Stages(), "steps", plan.TotalSteps())

	if o.synchronous {
		o.runExecution(ctx, def, execution, plan)
	} else {
		// The execution must outlive the caller's request context.
		go o.runExecution(context.WithoutCancel(ctx), def, execution, plan)
	}

	return execution, nil
}

// Status returns the execution row and its step attempts.
func (o *Orchestrator) Status(ctx context.Context, executionID string) (*models.ExecutionSnapshot, error) {
	execution, err := o.persistence.Executions().ExecutionByID(ctx, executionID)
	if err != nil {
		return nil, err
	}

	steps, err := o.persistence.Executions().StepExecutionsByExecution(ctx, executionID)
	if err != nil {
		return nil, err
	}

	snapshot := &models.ExecutionSnapshot{Execution: *execution, Steps: make([]models.StepExecution, 0, len(steps))}
	for _, step := range steps {
		snapshot.Steps = append(snapshot.Steps, *step)
	}

	return snapshot, nil
}

// CleanupExecutionContext removes an execution's entry from the context
// cache. It is idempotent.
func (o *Orchestrator) CleanupExecutionContext(executionID string) {
	o.cache.Remove(executionID)
}

// ContextStats returns the context cache diagnostic snapshot.
func (o *Orchestrator) ContextStats() contextcache.Stats {
	return o.cache.Stats()
}

// RunningExecutions returns the number of in-flight executions tracked by
// the single-flight registry.
func (o *Orchestrator) RunningExecutions() int {
	return o.running.Len()
}

func (o *Orchestrator) planFor(def *models.WorkflowDefinition) (models.ExecutionPlan, error) {
	o.planMu.RLock()
	plan, ok := o.plans[def.ID]
	o.planMu.RUnlock()

	if ok {
		return plan, nil
	}

	plan, err := o.parser.ExecutionOrder(def.Steps)
	if err != nil {
		return nil, &ConfigurationError{Service: "", StepName: "", Err: err}
	}

	o.planMu.Lock()
	o.plans[def.ID] = plan
	o.planMu.Unlock()

	return plan, nil
}

// runExecution walks the plan stage by stage. Steps within a stage run
// concurrently; a later stage never starts while an earlier one has
// outstanding steps.
func (o *Orchestrator) runExecution(ctx context.Context, def *models.WorkflowDefinition, execution *models.WorkflowExecution, plan models.ExecutionPlan) {
	logger := o.logger.With(
		"execution_id", execution.ID,
		"workflow", def.Name,
		"customer_id", execution.CustomerID,
	)

	key := runningKey(execution.CustomerID, execution.WorkflowName)

	defer o.running.Release(key)
	defer o.cache.Remove(execution.ID)

	if o.tracer != nil {
		var span trace.Span
		ctx, span = otelhelper.StartSpan(ctx, o.tracer, "workflow.execute",
			attribute.String(otelhelper.ExecutionIDKey, execution.ID),
			attribute.String(otelhelper.WorkflowNameKey, def.Name),
			attribute.String(otelhelper.CustomerIDKey, execution.CustomerID),
		)
		defer span.End()
	}

	stepsByName := make(map[string]models.StepDefinition, len(def.Steps))
	for _, step := range def.Steps {
		stepsByName[step.Name] = step
	}

	execution.Status = models.ExecutionStatusRunning
	if err := o.persistence.Executions().SaveExecution(ctx, execution); err != nil {
		logger.Error("Failed to persist running status", "error", err)
		o.finishExecution(ctx, execution, "", fmt.Errorf("failed to persist running status: %w", err))

		return
	}

	o.publish(ctx, execution, events.NewExecutionStarted(execution.ID, def.Name, execution.CustomerID, plan.TotalSteps()))

	completed := 0
	total := plan.TotalSteps()

	for stageIndex, stage := range plan {
		logger.Info("Dispatching stage", "stage", stageIndex, "steps", stage)

		// Fail fast on unknown services before any step of the stage runs.
		for _, stepName := range stage {
			step := stepsByName[stepName]
			if _, ok := o.registry.Get(step.Service); !ok {
				err := &ConfigurationError{
					StepName: step.Name,
					Service:  step.Service,
					Err:      fmt.Errorf("service not registered (available: %s)", strings.Join(o.registry.Services(), ", ")),
				}
				o.finishExecution(ctx, execution, step.Name, err)

				return
			}
		}

		execution.CurrentStage = stageIndex

		type stepOutcome struct {
			name     string
			fragment map[string]any
			err      error
		}

		outcomes := make([]stepOutcome, len(stage))

		var wg sync.WaitGroup

		for i, stepName := range stage {
			wg.Add(1)

			go func(i int, step models.StepDefinition) {
				defer wg.Done()

				fragment, err := o.runStep(ctx, execution, step)
				outcomes[i] = stepOutcome{name: step.Name, fragment: fragment, err: err}
			}(i, stepsByName[stepName])
		}

		wg.Wait()

		// Merge fragments after the barrier: each merge is a single atomic
		// update under the step-name key, so sibling writes cannot be lost.
		var stageErr *stepOutcome

		for i := range outcomes {
			outcome := &outcomes[i]
			if outcome.err != nil {
				if stageErr == nil {
					stageErr = outcome
				}

				continue
			}

			execution.Context[outcome.name] = outcome.fragment
			completed++
		}

		o.monitor.UpdateProgress(execution.ID, completed, total)

		if err := o.persistence.Executions().SaveExecution(ctx, execution); err != nil {
			logger.Error("Failed to persist stage progress", "error", err)
			o.finishExecution(ctx, execution, "", fmt.Errorf("failed to persist stage progress: %w", err))

			return
		}

		if stageErr != nil {
			o.finishExecution(ctx, execution, stageErr.name, stageErr.err)

			return
		}
	}

	o.finishExecution(ctx, execution, "", nil)
}

// runStep performs all attempts of one step: up to 1 + RetryLimit tries,
// each with its own persisted StepExecution row and its own timeout.
func (o *Orchestrator) runStep(ctx context.Context, execution *models.WorkflowExecution, step models.StepDefinition) (map[string]any, error) {
	logger := o.logger.With(
		"execution_id", execution.ID,
		"step", step.Name,
		"service", step.Service,
	)

	var lastErr error

	for attempt := 0; attempt <= step.RetryLimit; attempt++ {
		fragment, err := o.attemptStep(ctx, execution, step, attempt, logger)
		if err == nil {
			return fragment, nil
		}

		if IsConfigurationError(err) {
			// Bad configuration will not get better with retries.
			return nil, err
		}

		lastErr = err

		logger.Warn("Step attempt failed", "attempt", attempt, "retry_limit", step.RetryLimit, "error", err)
	}

	return nil, lastErr
}

func (o *Orchestrator) attemptStep(
	ctx context.Context,
	execution *models.WorkflowExecution,
	step models.StepDefinition,
	attempt int,
	logger *slog.Logger,
) (map[string]any, error) {
	stepExec := &models.StepExecution{
		ID:          uuid.New().String(),
		ExecutionID: execution.ID,
		StepName:    step.Name,
		Status:      models.ExecutionStatusRunning,
		RetryCount:  attempt,
		StartedAt:   time.Now().UTC(),
	}

	if err := o.persistence.Executions().SaveStepExecution(ctx, stepExec); err != nil {
		// Fail closed: without a persisted attempt row the step must not
		// proceed.
		return nil, &ExecutionError{StepName: step.Name, Attempt: attempt, Err: err}
	}

	if o.tracer != nil {
		var span trace.Span
		ctx, span = otelhelper.StartSpan(ctx, o.tracer, "workflow.step",
			attribute.String(otelhelper.ExecutionIDKey, execution.ID),
			attribute.String(otelhelper.StepNameKey, step.Name),
			attribute.String(otelhelper.ServiceNameKey, step.Service),
		)
		defer span.End()
	}

	executor, err := o.registry.Create(step.Service, step.Config)
	if err != nil {
		confErr := &ConfigurationError{StepName: step.Name, Service: step.Service, Err: err}
		o.recordStepOutcome(ctx, execution, stepExec, confErr)

		return nil, confErr
	}

	values, ok := o.cache.Get(execution.ID)
	if !ok {
		values = execution.Context
	}

	execCtx := models.ExecutionContext{
		ExecutionID:  execution.ID,
		WorkflowName: execution.WorkflowName,
		CustomerID:   execution.CustomerID,
		StepName:     step.Name,
		StepConfig:   step.Config,
		Values:       values,
	}

	timeout := step.Timeout()
	if provider, ok := executor.(protocol.TimeoutProvider); ok {
		timeout = provider.Timeout(step.Config)
	}

	fragment, err := o.executeWithTimeout(ctx, executor, execCtx, timeout, logger)
	if err != nil {
		execErr := &ExecutionError{StepName: step.Name, Attempt: attempt, Err: err}
		o.recordStepOutcome(ctx, execution, stepExec, execErr)

		return nil, execErr
	}

	o.recordStepOutcome(ctx, execution, stepExec, nil)
	o.cache.Merge(execution.ID, step.Name, fragment)

	return fragment, nil
}

// executeWithTimeout bounds an executor call. The engine does not cancel the
// executor's own external work; executors are expected to honor the context
// for operations they own.
func (o *Orchestrator) executeWithTimeout(
	ctx context.Context,
	executor protocol.StepExecutor,
	execCtx models.ExecutionContext,
	timeout time.Duration,
	logger *slog.Logger,
) (map[string]any, error) {
	stepCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type result struct {
		fragment map[string]any
		err      error
	}

	done := make(chan result, 1)

	go func() {
		fragment, err := executor.Execute(stepCtx, execCtx, logger)
		done <- result{fragment: fragment, err: err}
	}()

	select {
	case res := <-done:
		return res.fragment, res.err
	case <-stepCtx.Done():
		return nil, fmt.Errorf("%w after %s", ErrStepTimeout, timeout)
	}
}

func (o *Orchestrator) recordStepOutcome(ctx context.Context, execution *models.WorkflowExecution, stepExec *models.StepExecution, stepErr error) {
	now := time.Now().UTC()
	stepExec.CompletedAt = &now

	if stepErr != nil {
		stepExec.Status = models.ExecutionStatusFailed
		stepExec.Error = stepErr.Error()
	} else {
		stepExec.Status = models.ExecutionStatusCompleted
	}

	if err := o.persistence.Executions().SaveStepExecution(ctx, stepExec); err != nil {
		o.logger.Error("Failed to persist step outcome",
			"execution_id", execution.ID, "step", stepExec.StepName, "error", err)
	}

	success := stepErr == nil
	o.monitor.RecordStep(execution.ID, stepExec.StepName, success)

	if success {
		o.publish(ctx, execution, events.NewStepFinished(
			execution.ID, execution.WorkflowName, execution.CustomerID, stepExec.StepName, stepExec.RetryCount))
	} else {
		o.publish(ctx, execution, events.NewStepFailed(
			execution.ID, execution.WorkflowName, execution.CustomerID, stepExec.StepName, stepExec.RetryCount, stepExec.Error))
	}
}

func (o *Orchestrator) finishExecution(ctx context.Context, execution *models.WorkflowExecution, failedStep string, execErr error) {
	now := time.Now().UTC()
	execution.CompletedAt = &now
	execution.CurrentStep = ""

	if execErr != nil {
		execution.Status = models.ExecutionStatusFailed
		execution.Error = execErr.Error()
		execution.CurrentStep = failedStep
	} else {
		execution.Status = models.ExecutionStatusCompleted
	}

	if err := o.persistence.Executions().SaveExecution(ctx, execution); err != nil {
		o.logger.Error("Failed to persist terminal status",
			"execution_id", execution.ID, "status", execution.Status, "error", err)
	}

	o.monitor.EndExecution(execution.ID, execution.Status)

	if execErr != nil {
		o.logger.Error("Workflow execution failed",
			"execution_id", execution.ID, "failed_step", failedStep, "error", execErr)
		o.publish(ctx, execution, events.NewExecutionFailed(
			execution.ID, execution.WorkflowName, execution.CustomerID, failedStep, execErr.Error()))
	} else {
		o.logger.Info("Workflow execution completed",
			"execution_id", execution.ID, "duration", now.Sub(execution.StartedAt))
		o.publish(ctx, execution, events.NewExecutionCompleted(
			execution.ID, execution.WorkflowName, execution.CustomerID, now.Sub(execution.StartedAt)))
	}
}

// publish sends a lifecycle event. Event delivery is best effort and must
// never abort a workflow.
func (o *Orchestrator) publish(ctx context.Context, execution *models.WorkflowExecution, event eventbus.Event) {
	if o.eventBus == nil {
		return
	}

	err := o.eventBus.Publish(ctx, execution.ID, event)
	if err != nil {
		o.logger.Warn("Failed to publish lifecycle event",
			"execution_id", execution.ID, "event_type", event.GetType(), "error", err)
	}
}
