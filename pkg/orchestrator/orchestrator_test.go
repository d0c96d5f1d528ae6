package orchestrator

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/adlytics/adflow/pkg/contextcache"
	"github.com/adlytics/adflow/pkg/executors/noop"
	"github.com/adlytics/adflow/pkg/models"
	"github.com/adlytics/adflow/pkg/monitor"
	"github.com/adlytics/adflow/pkg/persistence/file"
	"github.com/adlytics/adflow/pkg/protocol"
	"github.com/adlytics/adflow/pkg/registry"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, nil))
}

// recordingExecutor appends every executed step name to a shared log.
type recordingExecutor struct {
	mu    *sync.Mutex
	order *[]string
}

func (e recordingExecutor) Execute(_ context.Context, execCtx models.ExecutionContext, _ *slog.Logger) (map[string]any, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	*e.order = append(*e.order, execCtx.StepName)

	return map[string]any{"step": execCtx.StepName}, nil
}

// flakyExecutor fails the first n attempts, then succeeds.
type flakyExecutor struct {
	mu       *sync.Mutex
	attempts *int
	failures int
}

func (e flakyExecutor) Execute(_ context.Context, _ models.ExecutionContext, _ *slog.Logger) (map[string]any, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	*e.attempts++
	if *e.attempts <= e.failures {
		return nil, errors.New("transient upstream error")
	}

	return map[string]any{"recovered": true}, nil
}

// delayedExecutor records like recordingExecutor but only after a fixed
// delay, so sibling steps finish at different times.
type delayedExecutor struct {
	mu    *sync.Mutex
	order *[]string
	delay time.Duration
}

func (e delayedExecutor) Execute(_ context.Context, execCtx models.ExecutionContext, _ *slog.Logger) (map[string]any, error) {
	time.Sleep(e.delay)

	e.mu.Lock()
	defer e.mu.Unlock()

	*e.order = append(*e.order, execCtx.StepName)

	return map[string]any{"step": execCtx.StepName}, nil
}

// gateExecutor blocks until its gate closes.
type gateExecutor struct {
	gate <-chan struct{}
}

func (e gateExecutor) Execute(_ context.Context, _ models.ExecutionContext, _ *slog.Logger) (map[string]any, error) {
	<-e.gate

	return map[string]any{}, nil
}

// slowExecutor sleeps longer than any reasonable step timeout.
type slowExecutor struct {
	sleep time.Duration
}

func (e slowExecutor) Execute(ctx context.Context, _ models.ExecutionContext, _ *slog.Logger) (map[string]any, error) {
	select {
	case <-time.After(e.sleep):
		return map[string]any{}, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (e slowExecutor) Timeout(_ map[string]any) time.Duration {
	return 20 * time.Millisecond
}

type staticFactory struct {
	id       string
	executor protocol.StepExecutor
}

func (f *staticFactory) ID() string { return f.id }

func (f *staticFactory) Create(_ map[string]any) (protocol.StepExecutor, error) {
	return f.executor, nil
}

func (f *staticFactory) Schema() map[string]any { return nil }

type testEnv struct {
	orchestrator *Orchestrator
	registry     *registry.Registry
	monitor      *monitor.Monitor
	cache        *contextcache.Cache
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	logger := testLogger()
	persist := file.NewPersistence(t.TempDir())
	reg := registry.NewRegistry(logger)
	reg.Register(noop.NewFactory())

	mon := monitor.NewMonitor(logger, prometheus.NewRegistry())
	cache := contextcache.NewCache(logger, time.Minute, time.Minute)
	t.Cleanup(cache.Close)

	orch := NewOrchestrator(logger, persist, reg, mon, cache, nil, WithSynchronousExecution())

	return &testEnv{orchestrator: orch, registry: reg, monitor: mon, cache: cache}
}

func definitionWithSteps(name string, steps ...models.StepDefinition) *models.WorkflowDefinition {
	return &models.WorkflowDefinition{
		Name:    name,
		Version: "1.0",
		Steps:   steps,
	}
}

func TestCreateWorkflowDefinition_RejectsInvalid(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	_, err := env.orchestrator.CreateWorkflowDefinition(ctx, &models.WorkflowDefinition{Name: "bad"})
	require.Error(t, err)
	assert.True(t, IsValidationError(err))

	// Nothing was persisted.
	_, err = env.orchestrator.StartWorkflow(ctx, "bad", "cust-1", nil)
	assert.True(t, IsNotFound(err))
}

func TestStartWorkflow_RoundTrip(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	def := definitionWithSteps("t", models.StepDefinition{Name: "s1", Service: "default"})

	created, err := env.orchestrator.CreateWorkflowDefinition(ctx, def)
	require.NoError(t, err)
	assert.Equal(t, "t", created.Name)
	assert.True(t, created.Enabled)
	assert.NotEmpty(t, created.ID)

	execution, err := env.orchestrator.StartWorkflow(ctx, "t", "cust-1", map[string]any{"k": "v"})
	require.NoError(t, err)

	snapshot, err := env.orchestrator.Status(ctx, execution.ID)
	require.NoError(t, err)

	assert.Equal(t, models.ExecutionStatusCompleted, snapshot.Execution.Status)
	assert.Equal(t, "v", snapshot.Execution.Context["k"])
	require.Len(t, snapshot.Steps, 1)
	assert.Equal(t, "s1", snapshot.Steps[0].StepName)
	assert.Equal(t, models.ExecutionStatusCompleted, snapshot.Steps[0].Status)
}

func TestStartWorkflow_UnknownWorkflow(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.orchestrator.StartWorkflow(context.Background(), "ghost", "cust-1", nil)
	require.Error(t, err)
	assert.True(t, IsNotFound(err))
}

func TestStartWorkflow_SingleFlight(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	gate := make(chan struct{})
	env.registry.Register(&staticFactory{id: "gated", executor: gateExecutor{gate: gate}})

	def := definitionWithSteps("gated-flow", models.StepDefinition{Name: "wait", Service: "gated"})
	_, err := env.orchestrator.CreateWorkflowDefinition(ctx, def)
	require.NoError(t, err)

	done := make(chan error, 1)

	go func() {
		_, err := env.orchestrator.StartWorkflow(ctx, "gated-flow", "cust-1", nil)
		done <- err
	}()

	// Wait until the first execution holds the single-flight slot.
	require.Eventually(t, func() bool {
		return env.orchestrator.RunningExecutions() == 1
	}, time.Second, 5*time.Millisecond)

	_, err = env.orchestrator.StartWorkflow(ctx, "gated-flow", "cust-1", nil)
	require.Error(t, err)
	assert.True(t, IsAlreadyRunning(err))

	// A different customer is not blocked.
	go func() {
		_, _ = env.orchestrator.StartWorkflow(ctx, "gated-flow", "cust-2", nil)
	}()

	require.Eventually(t, func() bool {
		return env.orchestrator.RunningExecutions() == 2
	}, time.Second, 5*time.Millisecond)

	close(gate)
	require.NoError(t, <-done)

	// The slot frees once the execution reaches a terminal state.
	require.Eventually(t, func() bool {
		return env.orchestrator.RunningExecutions() == 0
	}, time.Second, 5*time.Millisecond)

	_, err = env.orchestrator.StartWorkflow(ctx, "gated-flow", "cust-1", nil)
	assert.NoError(t, err)
}

func TestStartWorkflow_StageBarrier(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	var mu sync.Mutex

	order := make([]string, 0, 4)
	env.registry.Register(&staticFactory{id: "record", executor: recordingExecutor{mu: &mu, order: &order}})

	def := definitionWithSteps("diamond",
		models.StepDefinition{Name: "a", Service: "record"},
		models.StepDefinition{Name: "b", Service: "record", DependsOn: []string{"a"}},
		models.StepDefinition{Name: "c", Service: "record", DependsOn: []string{"a"}},
		models.StepDefinition{Name: "d", Service: "record", DependsOn: []string{"b", "c"}},
	)

	_, err := env.orchestrator.CreateWorkflowDefinition(ctx, def)
	require.NoError(t, err)

	execution, err := env.orchestrator.StartWorkflow(ctx, "diamond", "cust-1", nil)
	require.NoError(t, err)

	require.Len(t, order, 4)
	assert.Equal(t, "a", order[0])
	assert.Equal(t, "d", order[3])
	assert.ElementsMatch(t, []string{"b", "c"}, order[1:3])

	snapshot, err := env.orchestrator.Status(ctx, execution.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ExecutionStatusCompleted, snapshot.Execution.Status)

	// Every step's fragment lands under its own key.
	for _, name := range []string{"a", "b", "c", "d"} {
		fragment, ok := snapshot.Execution.Context[name].(map[string]any)
		require.True(t, ok, "missing fragment for %s", name)
		assert.Equal(t, name, fragment["step"])
	}
}

func TestStartWorkflow_RetryEscalation(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	var mu sync.Mutex

	attempts := 0
	env.registry.Register(&staticFactory{id: "flaky", executor: flakyExecutor{mu: &mu, attempts: &attempts, failures: 100}})

	def := definitionWithSteps("doomed",
		models.StepDefinition{Name: "s1", Service: "flaky", RetryLimit: 2},
	)

	_, err := env.orchestrator.CreateWorkflowDefinition(ctx, def)
	require.NoError(t, err)

	execution, err := env.orchestrator.StartWorkflow(ctx, "doomed", "cust-1", nil)
	require.NoError(t, err)

	// retryLimit 2 means 1 initial attempt plus 2 retries.
	assert.Equal(t, 3, attempts)

	snapshot, err := env.orchestrator.Status(ctx, execution.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ExecutionStatusFailed, snapshot.Execution.Status)
	assert.Contains(t, snapshot.Execution.Error, "transient upstream error")
	assert.Equal(t, "s1", snapshot.Execution.CurrentStep)

	require.Len(t, snapshot.Steps, 3)
	for i, step := range snapshot.Steps {
		assert.Equal(t, i, step.RetryCount)
		assert.Equal(t, models.ExecutionStatusFailed, step.Status)
	}
}

func TestStartWorkflow_FailedStageSkipsLaterStages(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	var mu sync.Mutex

	attempts := 0
	order := make([]string, 0, 1)
	env.registry.Register(&staticFactory{id: "flaky", executor: flakyExecutor{mu: &mu, attempts: &attempts, failures: 100}})
	env.registry.Register(&staticFactory{id: "record", executor: recordingExecutor{mu: &mu, order: &order}})

	def := definitionWithSteps("two-stage-doomed",
		models.StepDefinition{Name: "s1", Service: "flaky", RetryLimit: 2},
		models.StepDefinition{Name: "s2", Service: "record", DependsOn: []string{"s1"}},
	)

	_, err := env.orchestrator.CreateWorkflowDefinition(ctx, def)
	require.NoError(t, err)

	execution, err := env.orchestrator.StartWorkflow(ctx, "two-stage-doomed", "cust-1", nil)
	require.NoError(t, err)

	assert.Equal(t, 3, attempts)

	// The second stage never dispatched.
	assert.Empty(t, order)

	snapshot, err := env.orchestrator.Status(ctx, execution.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ExecutionStatusFailed, snapshot.Execution.Status)
	assert.Equal(t, "s1", snapshot.Execution.CurrentStep)
	assert.Equal(t, 0, snapshot.Execution.CurrentStage)

	require.Len(t, snapshot.Steps, 3)
	for _, step := range snapshot.Steps {
		assert.Equal(t, "s1", step.StepName)
		assert.Equal(t, models.ExecutionStatusFailed, step.Status)
	}
}

func TestStartWorkflow_StageBarrierWithFailingSibling(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	var mu sync.Mutex

	attempts := 0
	order := make([]string, 0, 2)
	env.registry.Register(&staticFactory{id: "record", executor: recordingExecutor{mu: &mu, order: &order}})
	env.registry.Register(&staticFactory{id: "flaky", executor: flakyExecutor{mu: &mu, attempts: &attempts, failures: 100}})
	env.registry.Register(&staticFactory{id: "slow-ok", executor: delayedExecutor{mu: &mu, order: &order, delay: 100 * time.Millisecond}})

	// b fails immediately while c is still running; the barrier must wait
	// for c, and d must never start.
	def := definitionWithSteps("cracked-diamond",
		models.StepDefinition{Name: "a", Service: "record"},
		models.StepDefinition{Name: "b", Service: "flaky", DependsOn: []string{"a"}},
		models.StepDefinition{Name: "c", Service: "slow-ok", DependsOn: []string{"a"}},
		models.StepDefinition{Name: "d", Service: "record", DependsOn: []string{"b", "c"}},
	)

	_, err := env.orchestrator.CreateWorkflowDefinition(ctx, def)
	require.NoError(t, err)

	execution, err := env.orchestrator.StartWorkflow(ctx, "cracked-diamond", "cust-1", nil)
	require.NoError(t, err)

	assert.Equal(t, 1, attempts)
	assert.Equal(t, []string{"a", "c"}, order)

	snapshot, err := env.orchestrator.Status(ctx, execution.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ExecutionStatusFailed, snapshot.Execution.Status)
	assert.Equal(t, "b", snapshot.Execution.CurrentStep)
	assert.Equal(t, 1, snapshot.Execution.CurrentStage)

	// c's fragment survives the stage failure; d never contributed one.
	fragment, ok := snapshot.Execution.Context["c"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "c", fragment["step"])
	assert.NotContains(t, snapshot.Execution.Context, "d")

	statuses := make(map[string]models.ExecutionStatus, len(snapshot.Steps))
	for _, step := range snapshot.Steps {
		statuses[step.StepName] = step.Status
	}

	assert.Equal(t, models.ExecutionStatusCompleted, statuses["a"])
	assert.Equal(t, models.ExecutionStatusFailed, statuses["b"])
	assert.Equal(t, models.ExecutionStatusCompleted, statuses["c"])
	assert.NotContains(t, statuses, "d")
}

func TestStartWorkflow_RetryRecovers(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	var mu sync.Mutex

	attempts := 0
	env.registry.Register(&staticFactory{id: "flaky", executor: flakyExecutor{mu: &mu, attempts: &attempts, failures: 2}})

	def := definitionWithSteps("bumpy",
		models.StepDefinition{Name: "s1", Service: "flaky", RetryLimit: 3},
	)

	_, err := env.orchestrator.CreateWorkflowDefinition(ctx, def)
	require.NoError(t, err)

	execution, err := env.orchestrator.StartWorkflow(ctx, "bumpy", "cust-1", nil)
	require.NoError(t, err)

	assert.Equal(t, 3, attempts)

	snapshot, err := env.orchestrator.Status(ctx, execution.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ExecutionStatusCompleted, snapshot.Execution.Status)

	fragment, ok := snapshot.Execution.Context["s1"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, true, fragment["recovered"])
}

func TestStartWorkflow_UnknownServiceFailsFast(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	var mu sync.Mutex

	order := make([]string, 0, 2)
	env.registry.Register(&staticFactory{id: "record", executor: recordingExecutor{mu: &mu, order: &order}})

	def := definitionWithSteps("misconfigured",
		models.StepDefinition{Name: "good", Service: "record"},
		models.StepDefinition{Name: "bad", Service: "not-a-service"},
	)

	_, err := env.orchestrator.CreateWorkflowDefinition(ctx, def)
	require.NoError(t, err)

	execution, err := env.orchestrator.StartWorkflow(ctx, "misconfigured", "cust-1", nil)
	require.NoError(t, err)

	snapshot, err := env.orchestrator.Status(ctx, execution.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ExecutionStatusFailed, snapshot.Execution.Status)
	assert.Contains(t, snapshot.Execution.Error, "not registered")

	// Both steps share the first stage, so neither ran.
	assert.Empty(t, order)
	assert.Empty(t, snapshot.Steps)
}

func TestStartWorkflow_StepTimeout(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	env.registry.Register(&staticFactory{id: "slow", executor: slowExecutor{sleep: 10 * time.Second}})

	def := definitionWithSteps("sluggish",
		models.StepDefinition{Name: "s1", Service: "slow"},
	)

	_, err := env.orchestrator.CreateWorkflowDefinition(ctx, def)
	require.NoError(t, err)

	start := time.Now()

	execution, err := env.orchestrator.StartWorkflow(ctx, "sluggish", "cust-1", nil)
	require.NoError(t, err)
	assert.Less(t, time.Since(start), 5*time.Second)

	snapshot, err := env.orchestrator.Status(ctx, execution.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ExecutionStatusFailed, snapshot.Execution.Status)
	assert.Contains(t, snapshot.Execution.Error, "timed out")
}

func TestCleanupExecutionContext_Idempotent(t *testing.T) {
	env := newTestEnv(t)

	env.orchestrator.CleanupExecutionContext("never-existed")
	env.orchestrator.CleanupExecutionContext("never-existed")

	stats := env.orchestrator.ContextStats()
	assert.Equal(t, 0, stats.Total)
}

func TestContextStats(t *testing.T) {
	env := newTestEnv(t)

	env.cache.Put("exec-1", map[string]any{})

	stats := env.orchestrator.ContextStats()
	assert.Equal(t, 1, stats.Total)
	assert.Equal(t, 1, stats.Active)
	assert.Equal(t, time.Minute, stats.TTL)
}

func TestStartWorkflow_MonitorIntegration(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	def := definitionWithSteps("observed",
		models.StepDefinition{Name: "s1", Service: "default"},
		models.StepDefinition{Name: "s2", Service: "default", DependsOn: []string{"s1"}},
	)

	_, err := env.orchestrator.CreateWorkflowDefinition(ctx, def)
	require.NoError(t, err)

	_, err = env.orchestrator.StartWorkflow(ctx, "observed", "cust-1", nil)
	require.NoError(t, err)

	metrics := env.monitor.Metrics()
	assert.Equal(t, int64(1), metrics.TotalExecutions)
	assert.Equal(t, int64(1), metrics.SuccessfulExecutions)
	assert.Equal(t, int64(1), metrics.StepExecutionCounts["s1"])
	assert.Equal(t, int64(1), metrics.StepExecutionCounts["s2"])

	recent := env.monitor.RecentExecutions(1)
	require.Len(t, recent, 1)
	assert.Equal(t, 2, recent[0].CompletedSteps)
}
