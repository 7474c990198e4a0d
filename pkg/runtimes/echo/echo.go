// Package echo provides a built-in runtime that acknowledges every task with
// a structured record of what it was asked to do. It is the default runtime
// for local runs and smoke tests; real deployments register their own
// runtimes against the registry.
package echo

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/cadenzahq/cadenza/pkg/models"
	"github.com/cadenzahq/cadenza/pkg/protocol"
)

type output struct {
	AgentType    models.AgentType `json:"agent_type"`
	Instructions string           `json:"instructions"`
	InputIDs     []string         `json:"input_ids,omitempty"`
}

// Runtime echoes the task back as its result. For the built-in handoff types
// the output is a minimal conforming payload, so smoke runs of the standard
// delivery workflow pass schema validation.
type Runtime struct{}

func (r *Runtime) Execute(ctx context.Context, task *models.Task, artifacts []*models.ContextArtifact) (*protocol.ExecutionResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	ids := make([]string, 0, len(artifacts))
	for _, artifact := range artifacts {
		ids = append(ids, artifact.ID)
	}

	raw, err := json.Marshal(content(task, ids))
	if err != nil {
		return nil, err
	}

	return &protocol.ExecutionResult{
		Success: true,
		Output:  raw,
		Summary: fmt.Sprintf("%s acknowledged task %s", task.AgentType, task.ID),
	}, nil
}

func content(task *models.Task, inputIDs []string) any {
	switch task.ArtifactType {
	case "requirements":
		return map[string]any{
			"summary":      task.Instructions,
			"requirements": []string{task.Instructions},
		}
	case "architecture":
		return map[string]any{
			"overview": task.Instructions,
			"components": []map[string]string{
				{"name": string(task.AgentType), "responsibility": task.Instructions},
			},
		}
	case "implementation":
		return map[string]any{"changes": []string{task.Instructions}}
	case "test_report":
		return map[string]any{"total": 1, "passed": 1}
	case "deployment_record":
		return map[string]any{"environment": "local", "version": "0.0.0"}
	default:
		return output{
			AgentType:    task.AgentType,
			Instructions: task.Instructions,
			InputIDs:     inputIDs,
		}
	}
}

// Factory builds echo runtimes for one agent type.
type Factory struct {
	agentType models.AgentType
}

func NewFactory(agentType models.AgentType) *Factory {
	return &Factory{agentType: agentType}
}

func (f *Factory) AgentType() models.AgentType {
	return f.agentType
}

func (f *Factory) Create(ctx context.Context) (protocol.AgentRuntime, error) {
	return &Runtime{}, nil
}
