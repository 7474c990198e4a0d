// Package protocol defines the contract between the orchestrator and the
// agent runtimes that perform the actual work.
package protocol

import (
	"context"
	"encoding/json"

	"github.com/cadenzahq/cadenza/pkg/models"
)

// ExecutionResult is what a runtime reports back for one task attempt.
type ExecutionResult struct {
	// Success distinguishes an agent-level failure (retryable) from success.
	Success bool `json:"success"`
	// Output is the structured payload the agent produced. On success it
	// becomes the content of a context artifact.
	Output json.RawMessage `json:"output,omitempty"`
	// Summary is a short human-readable description of what was done.
	Summary string `json:"summary,omitempty"`
	// TokensUsed is the resource consumption reported by the runtime.
	TokensUsed int64 `json:"tokens_used,omitempty"`
	// Error carries the failure detail when Success is false.
	Error string `json:"error,omitempty"`
}

// AgentRuntime executes a task with the artifacts it depends on. The context
// bounds the call; a canceled context must abort the attempt.
type AgentRuntime interface {
	Execute(ctx context.Context, task *models.Task, artifacts []*models.ContextArtifact) (*ExecutionResult, error)
}

// RuntimeFactory builds a runtime for one agent type. Factories are
// registered per agent type and invoked lazily at dispatch time.
type RuntimeFactory interface {
	AgentType() models.AgentType
	Create(ctx context.Context) (AgentRuntime, error)
}
