package scheduler

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/adlytics/adflow/pkg/contextcache"
	"github.com/adlytics/adflow/pkg/executors/noop"
	"github.com/adlytics/adflow/pkg/models"
	"github.com/adlytics/adflow/pkg/monitor"
	"github.com/adlytics/adflow/pkg/orchestrator"
	"github.com/adlytics/adflow/pkg/persistence/file"
	"github.com/adlytics/adflow/pkg/registry"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, nil))
}

func newTestOrchestrator(t *testing.T) (*orchestrator.Orchestrator, *monitor.Monitor) {
	t.Helper()

	logger := testLogger()
	persist := file.NewPersistence(t.TempDir())
	reg := registry.NewRegistry(logger)
	reg.Register(noop.NewFactory())

	mon := monitor.NewMonitor(logger, prometheus.NewRegistry())
	cache := contextcache.NewCache(logger, time.Minute, time.Minute)
	t.Cleanup(cache.Close)

	orch := orchestrator.NewOrchestrator(
		logger, persist, reg, mon, cache, nil,
		orchestrator.WithSynchronousExecution(),
	)

	return orch, mon
}

func TestLoadConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "schedules.yaml")

	data := `
schedules:
  - workflow: campaign-sync
    customer_id: cust-1
    cron: "0 0 * * * *"
    context:
      source: scheduler
`
	require.NoError(t, os.WriteFile(path, []byte(data), 0o600))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	require.Len(t, cfg.Entries, 1)
	assert.Equal(t, "campaign-sync", cfg.Entries[0].Workflow)
	assert.Equal(t, "cust-1", cfg.Entries[0].CustomerID)
	assert.Equal(t, "scheduler", cfg.Entries[0].Context["source"])
}

func TestLoadConfig_MissingFile(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestRegister_InvalidCron(t *testing.T) {
	orch, _ := newTestOrchestrator(t)
	sched := NewScheduler(testLogger(), orch)

	err := sched.Register(Entry{
		Workflow:   "campaign-sync",
		CustomerID: "cust-1",
		Cron:       "not a cron",
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid cron expression")
}

func TestTrigger_StartsWorkflow(t *testing.T) {
	orch, mon := newTestOrchestrator(t)

	_, err := orch.CreateWorkflowDefinition(context.Background(), &models.WorkflowDefinition{
		Name:    "campaign-sync",
		Version: "1.0",
		Steps: []models.StepDefinition{
			{Name: "s1", Service: "default"},
		},
	})
	require.NoError(t, err)

	sched := NewScheduler(testLogger(), orch)
	sched.trigger(Entry{Workflow: "campaign-sync", CustomerID: "cust-1"})

	metrics := mon.Metrics()
	assert.Equal(t, int64(1), metrics.TotalExecutions)
	assert.Equal(t, int64(1), metrics.SuccessfulExecutions)
}

func TestTrigger_UnknownWorkflowLogged(t *testing.T) {
	orch, mon := newTestOrchestrator(t)

	sched := NewScheduler(testLogger(), orch)
	sched.trigger(Entry{Workflow: "ghost", CustomerID: "cust-1"})

	assert.Equal(t, int64(0), mon.Metrics().TotalExecutions)
}

func TestStartStop(t *testing.T) {
	orch, _ := newTestOrchestrator(t)
	sched := NewScheduler(testLogger(), orch)

	require.NoError(t, sched.Register(Entry{
		Workflow:   "campaign-sync",
		CustomerID: "cust-1",
		Cron:       "0 0 0 1 1 *",
	}))

	sched.Start()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	sched.Stop(ctx)
}
