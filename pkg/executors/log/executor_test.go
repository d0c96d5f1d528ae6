package log

import (
	"context"
	"log/slog"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/adlytics/adflow/pkg/models"
	"github.com/adlytics/adflow/pkg/protocol"
)

func TestFactory_ID(t *testing.T) {
	assert.Equal(t, "log", NewFactory().ID())
}

func TestExecutor_ValidateConfig(t *testing.T) {
	executor, err := NewFactory().Create(map[string]any{})
	require.NoError(t, err)

	validator, ok := executor.(protocol.ConfigValidator)
	require.True(t, ok)

	err = validator.ValidateConfig(nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "message")
}

func TestExecutor_Execute(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))

	executor, err := NewFactory().Create(map[string]any{
		"message": "sync finished",
		"level":   "warn",
	})
	require.NoError(t, err)

	fragment, err := executor.Execute(context.Background(), models.ExecutionContext{
		StepName:   "notify",
		CustomerID: "cust-1",
	}, logger)
	require.NoError(t, err)

	assert.Equal(t, "sync finished", fragment["message"])
	assert.Equal(t, "warn", fragment["level"])
}
