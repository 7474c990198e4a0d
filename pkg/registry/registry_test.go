package registry

import (
	"context"
	"log/slog"
	"testing"

	"github.com/cadenzahq/cadenza/pkg/models"
	"github.com/cadenzahq/cadenza/pkg/runtimes/echo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRuntimeForUnregisteredTypeFails(t *testing.T) {
	reg := NewRegistry(slog.Default())

	_, err := reg.RuntimeFor(context.Background(), models.AgentCoder)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no runtime registered")
}

func TestRegisterAndResolve(t *testing.T) {
	reg := NewRegistry(slog.Default())
	reg.Register(echo.NewFactory(models.AgentCoder))

	runtime, err := reg.RuntimeFor(context.Background(), models.AgentCoder)
	require.NoError(t, err)
	assert.NotNil(t, runtime)
}

func TestAvailableSorted(t *testing.T) {
	reg := NewRegistry(slog.Default())
	reg.Register(echo.NewFactory(models.AgentTester))
	reg.Register(echo.NewFactory(models.AgentAnalyst))
	reg.Register(echo.NewFactory(models.AgentCoder))

	assert.Equal(t, []models.AgentType{
		models.AgentAnalyst,
		models.AgentCoder,
		models.AgentTester,
	}, reg.Available())
}

func TestRegisterReplacesBinding(t *testing.T) {
	reg := NewRegistry(slog.Default())
	reg.Register(echo.NewFactory(models.AgentCoder))
	reg.Register(echo.NewFactory(models.AgentCoder))

	assert.Len(t, reg.Available(), 1)
}
