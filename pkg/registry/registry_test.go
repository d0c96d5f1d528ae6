package registry

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/adlytics/adflow/pkg/models"
	"github.com/adlytics/adflow/pkg/protocol"
)

type stubExecutor struct{}

func (stubExecutor) Execute(_ context.Context, _ models.ExecutionContext, _ *slog.Logger) (map[string]any, error) {
	return map[string]any{"ok": true}, nil
}

type stubFactory struct {
	id        string
	schema    map[string]any
	createErr error
}

func (f *stubFactory) ID() string { return f.id }

func (f *stubFactory) Create(_ map[string]any) (protocol.StepExecutor, error) {
	if f.createErr != nil {
		return nil, f.createErr
	}

	return stubExecutor{}, nil
}

func (f *stubFactory) Schema() map[string]any { return f.schema }

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, nil))
}

func TestRegistry_RegisterAndGet(t *testing.T) {
	reg := NewRegistry(testLogger())

	reg.Register(&stubFactory{id: "ads_fetch"})

	factory, ok := reg.Get("ads_fetch")
	require.True(t, ok)
	assert.Equal(t, "ads_fetch", factory.ID())

	_, ok = reg.Get("missing")
	assert.False(t, ok)
}

func TestRegistry_Unregister(t *testing.T) {
	reg := NewRegistry(testLogger())

	reg.Register(&stubFactory{id: "ads_fetch"})
	reg.Unregister("ads_fetch")

	_, ok := reg.Get("ads_fetch")
	assert.False(t, ok)

	// Unknown names are a no-op.
	reg.Unregister("never-registered")
}

func TestRegistry_ServicesSorted(t *testing.T) {
	reg := NewRegistry(testLogger())

	reg.Register(&stubFactory{id: "zeta"})
	reg.Register(&stubFactory{id: "alpha"})
	reg.Register(&stubFactory{id: "mid"})

	assert.Equal(t, []string{"alpha", "mid", "zeta"}, reg.Services())
}

func TestRegistry_Create_UnknownService(t *testing.T) {
	reg := NewRegistry(testLogger())

	_, err := reg.Create("ghost", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not registered")
}

func TestRegistry_Create_SchemaValidation(t *testing.T) {
	reg := NewRegistry(testLogger())

	reg.Register(&stubFactory{
		id: "report",
		schema: map[string]any{
			"type":     "object",
			"required": []string{"report_type"},
			"properties": map[string]any{
				"report_type": map[string]any{"type": "string"},
			},
		},
	})

	_, err := reg.Create("report", map[string]any{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid configuration")

	executor, err := reg.Create("report", map[string]any{"report_type": "campaign"})
	require.NoError(t, err)
	assert.NotNil(t, executor)
}

func TestRegistry_Create_FactoryError(t *testing.T) {
	reg := NewRegistry(testLogger())

	reg.Register(&stubFactory{id: "broken", createErr: errors.New("boom")})

	_, err := reg.Create("broken", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "boom")
}

func TestRegistry_HealthCheck(t *testing.T) {
	reg := NewRegistry(testLogger())

	_, ok := reg.HealthCheck()
	assert.False(t, ok)

	reg.Register(&stubFactory{id: "ads_fetch"})

	msg, ok := reg.HealthCheck()
	assert.True(t, ok)
	assert.Contains(t, msg, "1 step executors registered")
}
