package redis

import (
	"context"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/adlytics/adflow/pkg/models"
	"github.com/adlytics/adflow/pkg/persistence"
)

// These tests need a running Redis instance; set ADFLOW_REDIS_URL to enable
// them.
func setupPersistence(t *testing.T) *Persistence {
	t.Helper()

	url := os.Getenv("ADFLOW_REDIS_URL")
	if url == "" {
		t.Skip("ADFLOW_REDIS_URL not set")
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))

	persist, err := NewPersistence(context.Background(), logger, url)
	require.NoError(t, err)

	t.Cleanup(func() {
		_ = persist.Close(context.Background())
	})

	return persist
}

func TestRedis_DefinitionRoundTrip(t *testing.T) {
	persist := setupPersistence(t)
	ctx := context.Background()

	def := &models.WorkflowDefinition{
		ID:      uuid.New().String(),
		Name:    "redis-" + uuid.New().String(),
		Version: "1.0",
		Enabled: true,
		Steps: []models.StepDefinition{
			{Name: "s1", Service: "default"},
		},
		CreatedAt: time.Now().UTC(),
	}

	require.NoError(t, persist.Definitions().Save(ctx, def))

	loaded, err := persist.Definitions().ByID(ctx, def.ID)
	require.NoError(t, err)
	assert.Equal(t, def.Name, loaded.Name)

	dup := *def
	dup.ID = uuid.New().String()
	err = persist.Definitions().Save(ctx, &dup)
	require.Error(t, err)
	assert.True(t, persistence.IsDefinitionExists(err))

	byName, err := persist.Definitions().EnabledByName(ctx, def.Name)
	require.NoError(t, err)
	assert.Equal(t, def.ID, byName.ID)
}

func TestRedis_ExecutionRoundTrip(t *testing.T) {
	persist := setupPersistence(t)
	ctx := context.Background()

	execution := &models.WorkflowExecution{
		ID:           uuid.New().String(),
		WorkflowName: "redis-exec-" + uuid.New().String(),
		CustomerID:   "cust-1",
		Status:       models.ExecutionStatusRunning,
		StartedAt:    time.Now().UTC(),
	}

	require.NoError(t, persist.Executions().SaveExecution(ctx, execution))

	loaded, err := persist.Executions().ExecutionByID(ctx, execution.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ExecutionStatusRunning, loaded.Status)

	step := &models.StepExecution{
		ID:          uuid.New().String(),
		ExecutionID: execution.ID,
		StepName:    "s1",
		Status:      models.ExecutionStatusCompleted,
		StartedAt:   time.Now().UTC(),
	}
	require.NoError(t, persist.Executions().SaveStepExecution(ctx, step))

	steps, err := persist.Executions().StepExecutionsByExecution(ctx, execution.ID)
	require.NoError(t, err)
	require.Len(t, steps, 1)

	byCustomer, err := persist.Executions().ExecutionsByCustomerAndWorkflow(
		ctx, "cust-1", execution.WorkflowName, "")
	require.NoError(t, err)
	assert.Len(t, byCustomer, 1)
}

func TestRedis_HealthCheck(t *testing.T) {
	persist := setupPersistence(t)

	assert.NoError(t, persist.HealthCheck(context.Background()))
}
