// Package redis keeps the hot gate state (budgets and auto-approve counters)
// in Redis so multiple orchestrator replicas observe the same quotas. All
// other aggregates stay in the primary persistence backend.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/cadenzahq/cadenza/pkg/models"
	"github.com/cadenzahq/cadenza/pkg/persistence"
	"github.com/redis/go-redis/v9"
)

const keyPrefix = "cadenza:gate:"

// GateStore implements persistence.GateStateRepository on Redis.
type GateStore struct {
	client *redis.Client
}

// NewGateStore connects to the Redis instance described by the URL, e.g.
// redis://localhost:6379/0.
func NewGateStore(ctx context.Context, url string) (*GateStore, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}

	client := redis.NewClient(opts)

	err = client.Ping(ctx).Err()
	if err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return &GateStore{client: client}, nil
}

func budgetKey(projectID string, agentType models.AgentType) string {
	return keyPrefix + "budget:" + projectID + ":" + string(agentType)
}

func counterKey(projectID string, agentType models.AgentType) string {
	return keyPrefix + "counter:" + projectID + ":" + string(agentType)
}

func (s *GateStore) get(ctx context.Context, op, key string, notFound error, out any) error {
	raw, err := s.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return persistence.NewStoreError(op, key, notFound)
	}

	if err != nil {
		return persistence.NewStoreError(op, key, err)
	}

	err = json.Unmarshal(raw, out)
	if err != nil {
		return persistence.NewStoreError(op, key, err)
	}

	return nil
}

func (s *GateStore) set(ctx context.Context, op, key string, value any) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return persistence.NewStoreError(op, key, err)
	}

	err = s.client.Set(ctx, key, raw, 0).Err()
	if err != nil {
		return persistence.NewStoreError(op, key, err)
	}

	return nil
}

func (s *GateStore) Budget(ctx context.Context, projectID string, agentType models.AgentType) (*models.BudgetControl, error) {
	var budget models.BudgetControl

	err := s.get(ctx, "Budget", budgetKey(projectID, agentType), persistence.ErrBudgetNotFound, &budget)
	if err != nil {
		return nil, err
	}

	return &budget, nil
}

func (s *GateStore) SaveBudget(ctx context.Context, budget *models.BudgetControl) error {
	return s.set(ctx, "SaveBudget", budgetKey(budget.ProjectID, budget.AgentType), budget)
}

func (s *GateStore) Counter(ctx context.Context, projectID string, agentType models.AgentType) (*models.AutoApproveCounter, error) {
	var counter models.AutoApproveCounter

	err := s.get(ctx, "Counter", counterKey(projectID, agentType), persistence.ErrCounterNotFound, &counter)
	if err != nil {
		return nil, err
	}

	return &counter, nil
}

func (s *GateStore) SaveCounter(ctx context.Context, counter *models.AutoApproveCounter) error {
	return s.set(ctx, "SaveCounter", counterKey(counter.ProjectID, counter.AgentType), counter)
}

func (s *GateStore) Close() error {
	return s.client.Close()
}
