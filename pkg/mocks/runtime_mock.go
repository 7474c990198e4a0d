package mocks

import (
	"context"

	"github.com/cadenzahq/cadenza/pkg/models"
	"github.com/cadenzahq/cadenza/pkg/protocol"
	"github.com/stretchr/testify/mock"
)

// MockAgentRuntime is a mock implementation of protocol.AgentRuntime
// interface.
type MockAgentRuntime struct {
	mock.Mock
}

func (m *MockAgentRuntime) Execute(ctx context.Context, task *models.Task, artifacts []*models.ContextArtifact) (*protocol.ExecutionResult, error) {
	args := m.Called(ctx, task, artifacts)

	result, _ := args.Get(0).(*protocol.ExecutionResult)

	return result, args.Error(1)
}

// MockRuntimeFactory is a mock implementation of protocol.RuntimeFactory
// interface.
type MockRuntimeFactory struct {
	mock.Mock
}

func (m *MockRuntimeFactory) AgentType() models.AgentType {
	args := m.Called()

	agentType, _ := args.Get(0).(models.AgentType)

	return agentType
}

func (m *MockRuntimeFactory) Create(ctx context.Context) (protocol.AgentRuntime, error) {
	args := m.Called(ctx)

	runtime, _ := args.Get(0).(protocol.AgentRuntime)

	return runtime, args.Error(1)
}
