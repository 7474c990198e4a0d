// Package registry tracks the runtime factories available to the dispatcher,
// keyed by agent type.
package registry

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/cadenzahq/cadenza/pkg/models"
	"github.com/cadenzahq/cadenza/pkg/protocol"
)

// Registry is safe for concurrent registration and lookup.
type Registry struct {
	mu        sync.RWMutex
	factories map[models.AgentType]protocol.RuntimeFactory
	logger    *slog.Logger
}

func NewRegistry(logger *slog.Logger) *Registry {
	return &Registry{
		factories: make(map[models.AgentType]protocol.RuntimeFactory),
		logger:    logger.With("module", "registry"),
	}
}

// Register binds a factory to its agent type, replacing any previous binding.
func (r *Registry) Register(factory protocol.RuntimeFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.factories[factory.AgentType()] = factory
	r.logger.Debug("Registered runtime factory", "agent_type", factory.AgentType())
}

// RuntimeFor builds a runtime for the agent type, or fails when none is
// registered.
func (r *Registry) RuntimeFor(ctx context.Context, agentType models.AgentType) (protocol.AgentRuntime, error) {
	r.mu.RLock()
	factory, ok := r.factories[agentType]
	r.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("no runtime registered for agent type %q", agentType)
	}

	return factory.Create(ctx)
}

// Available returns the registered agent types, sorted.
func (r *Registry) Available() []models.AgentType {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]models.AgentType, 0, len(r.factories))
	for agentType := range r.factories {
		out = append(out, agentType)
	}

	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })

	return out
}
