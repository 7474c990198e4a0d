// Package workflow loads and validates workflow definitions. A definition is
// validated on save, cached on first load and treated as immutable afterwards.
package workflow

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/cadenzahq/cadenza/pkg/models"
	"github.com/cadenzahq/cadenza/pkg/persistence"
	"github.com/go-playground/validator/v10"
)

// Repository fronts the definition store with validation and a load-once
// cache. Engine runs resolve steps against the cached copy, so a definition
// edited mid-run cannot change a running execution.
type Repository struct {
	store    persistence.WorkflowRepository
	validate *validator.Validate

	mu    sync.RWMutex
	cache map[string]*models.WorkflowDefinition
}

func NewRepository(store persistence.WorkflowRepository) *Repository {
	return &Repository{
		store:    store,
		validate: validator.New(),
		cache:    make(map[string]*models.WorkflowDefinition),
	}
}

// Validate checks the structural rules: required fields per step, at least
// one step, known agent types, unique step ids, and produces-keys not
// shadowing earlier steps.
func (r *Repository) Validate(def *models.WorkflowDefinition) error {
	err := r.validate.Struct(def)
	if err != nil {
		return fmt.Errorf("workflow %s failed validation: %w", def.ID, err)
	}

	seenIDs := make(map[string]bool, len(def.Steps))
	seenKeys := make(map[string]bool, len(def.Steps))

	for _, step := range def.Steps {
		if !step.AgentType.Valid() {
			return fmt.Errorf("workflow %s: step %q has unknown agent type %q", def.ID, step.ID, step.AgentType)
		}

		if seenIDs[step.ID] {
			return fmt.Errorf("workflow %s: duplicate step id %q", def.ID, step.ID)
		}

		if seenKeys[step.Produces] {
			return fmt.Errorf("workflow %s: step %q shadows artifact key %q", def.ID, step.ID, step.Produces)
		}

		seenIDs[step.ID] = true
		seenKeys[step.Produces] = true
	}

	return nil
}

// Save validates and persists a definition. Saving does not refresh an
// already-cached copy.
func (r *Repository) Save(ctx context.Context, def *models.WorkflowDefinition) error {
	err := r.Validate(def)
	if err != nil {
		return err
	}

	if def.CreatedAt.IsZero() {
		def.CreatedAt = time.Now().UTC()
	}

	return r.store.SaveWorkflowDefinition(ctx, def)
}

// ByID returns the definition, loading and caching it on first use.
func (r *Repository) ByID(ctx context.Context, id string) (*models.WorkflowDefinition, error) {
	r.mu.RLock()
	def, ok := r.cache[id]
	r.mu.RUnlock()

	if ok {
		return def, nil
	}

	def, err := r.store.WorkflowDefinitionByID(ctx, id)
	if err != nil {
		return nil, err
	}

	err = r.Validate(def)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if cached, ok := r.cache[id]; ok {
		return cached, nil
	}

	r.cache[id] = def

	return def, nil
}

// All lists every stored definition without touching the cache.
func (r *Repository) All(ctx context.Context) ([]*models.WorkflowDefinition, error) {
	return r.store.WorkflowDefinitions(ctx)
}

// DefaultDelivery returns the built-in five-phase delivery workflow, one step
// per lifecycle phase.
func DefaultDelivery() *models.WorkflowDefinition {
	return &models.WorkflowDefinition{
		ID:          "delivery",
		Name:        "Standard delivery",
		Description: "Discovery through launch with one agent per phase",
		Steps: []models.WorkflowStep{
			{
				ID:            "discover",
				Name:          "Gather requirements",
				AgentType:     models.AgentAnalyst,
				Instructions:  "Analyze the project goals and produce the requirements.",
				Produces:      "requirements",
				EstimatedCost: 5,
			},
			{
				ID:            "design",
				Name:          "Design the system",
				AgentType:     models.AgentArchitect,
				Instructions:  "Produce the architecture from the requirements.",
				Produces:      "architecture",
				Requires:      []string{"requirements"},
				EstimatedCost: 8,
			},
			{
				ID:            "build",
				Name:          "Implement",
				AgentType:     models.AgentCoder,
				Instructions:  "Implement the system described by the architecture.",
				Produces:      "implementation",
				Requires:      []string{"requirements", "architecture"},
				EstimatedCost: 20,
			},
			{
				ID:            "validate",
				Name:          "Test",
				AgentType:     models.AgentTester,
				Instructions:  "Verify the implementation against the requirements.",
				Produces:      "test_report",
				Requires:      []string{"implementation"},
				EstimatedCost: 10,
			},
			{
				ID:            "launch",
				Name:          "Deploy",
				AgentType:     models.AgentDeployer,
				Instructions:  "Deploy the validated implementation.",
				Produces:      "deployment_record",
				Requires:      []string{"implementation", "test_report"},
				EstimatedCost: 5,
				HITLRequired:  true,
			},
		},
	}
}
