// Package memory provides an in-memory persistence implementation for tests
// and single-process deployments without durability requirements.
package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"github.com/cadenzahq/cadenza/pkg/models"
	"github.com/cadenzahq/cadenza/pkg/persistence"
)

// Persistence keeps every aggregate in maps guarded by a single RWMutex.
// Values are deep-copied on the way in and out so callers never share state
// with the store.
type Persistence struct {
	mu sync.RWMutex

	projects   map[string]*models.Project
	tasks      map[string]*models.Task
	artifacts  map[string]*models.ContextArtifact
	approvals  map[string]*models.ApprovalRequest
	budgets    map[string]*models.BudgetControl
	counters   map[string]*models.AutoApproveCounter
	stops      map[string]*models.EmergencyStop
	executions map[string]*models.WorkflowExecutionState
	workflows  map[string]*models.WorkflowDefinition
}

// NewPersistence creates an empty in-memory persistence layer.
func NewPersistence() *Persistence {
	return &Persistence{
		projects:   make(map[string]*models.Project),
		tasks:      make(map[string]*models.Task),
		artifacts:  make(map[string]*models.ContextArtifact),
		approvals:  make(map[string]*models.ApprovalRequest),
		budgets:    make(map[string]*models.BudgetControl),
		counters:   make(map[string]*models.AutoApproveCounter),
		stops:      make(map[string]*models.EmergencyStop),
		executions: make(map[string]*models.WorkflowExecutionState),
		workflows:  make(map[string]*models.WorkflowDefinition),
	}
}

func (p *Persistence) HealthCheck(_ context.Context) error {
	return nil
}

func (p *Persistence) Close(_ context.Context) error {
	return nil
}

func clone[T any](v *T) *T {
	if v == nil {
		return nil
	}

	data, err := json.Marshal(v)
	if err != nil {
		panic(fmt.Sprintf("memory persistence: marshal: %v", err))
	}

	out := new(T)

	err = json.Unmarshal(data, out)
	if err != nil {
		panic(fmt.Sprintf("memory persistence: unmarshal: %v", err))
	}

	return out
}

func gateKey(projectID string, agentType models.AgentType) string {
	return projectID + "/" + string(agentType)
}

func (p *Persistence) SaveProject(_ context.Context, project *models.Project) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.projects[project.ID] = clone(project)

	return nil
}

func (p *Persistence) ProjectByID(_ context.Context, id string) (*models.Project, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	project, ok := p.projects[id]
	if !ok {
		return nil, persistence.NewStoreError("ProjectByID", id, persistence.ErrProjectNotFound)
	}

	return clone(project), nil
}

func (p *Persistence) Projects(_ context.Context) ([]*models.Project, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	out := make([]*models.Project, 0, len(p.projects))
	for _, project := range p.projects {
		out = append(out, clone(project))
	}

	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })

	return out, nil
}

func (p *Persistence) SaveTask(_ context.Context, task *models.Task) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.tasks[task.ID] = clone(task)

	return nil
}

func (p *Persistence) TaskByID(_ context.Context, id string) (*models.Task, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	task, ok := p.tasks[id]
	if !ok {
		return nil, persistence.NewStoreError("TaskByID", id, persistence.ErrTaskNotFound)
	}

	return clone(task), nil
}

func (p *Persistence) TasksByProject(_ context.Context, projectID string) ([]*models.Task, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	out := make([]*models.Task, 0)

	for _, task := range p.tasks {
		if task.ProjectID == projectID {
			out = append(out, clone(task))
		}
	}

	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })

	return out, nil
}

func (p *Persistence) SaveArtifact(_ context.Context, artifact *models.ContextArtifact) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if _, exists := p.artifacts[artifact.ID]; exists {
		return persistence.NewStoreError("SaveArtifact", artifact.ID, persistence.ErrArtifactImmutable)
	}

	p.artifacts[artifact.ID] = clone(artifact)

	return nil
}

func (p *Persistence) ArtifactByID(_ context.Context, id string) (*models.ContextArtifact, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	artifact, ok := p.artifacts[id]
	if !ok {
		return nil, persistence.NewStoreError("ArtifactByID", id, persistence.ErrArtifactNotFound)
	}

	return clone(artifact), nil
}

func (p *Persistence) ArtifactsByIDs(ctx context.Context, ids []string) ([]*models.ContextArtifact, error) {
	out := make([]*models.ContextArtifact, 0, len(ids))

	for _, id := range ids {
		artifact, err := p.ArtifactByID(ctx, id)
		if err != nil {
			return nil, err
		}

		out = append(out, artifact)
	}

	return out, nil
}

func (p *Persistence) ArtifactsByProject(_ context.Context, projectID string) ([]*models.ContextArtifact, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	out := make([]*models.ContextArtifact, 0)

	for _, artifact := range p.artifacts {
		if artifact.ProjectID == projectID {
			out = append(out, clone(artifact))
		}
	}

	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })

	return out, nil
}

func (p *Persistence) SaveApproval(_ context.Context, request *models.ApprovalRequest) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.approvals[request.ID] = clone(request)

	return nil
}

func (p *Persistence) ApprovalByID(_ context.Context, id string) (*models.ApprovalRequest, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	request, ok := p.approvals[id]
	if !ok {
		return nil, persistence.NewStoreError("ApprovalByID", id, persistence.ErrApprovalNotFound)
	}

	return clone(request), nil
}

func (p *Persistence) PendingApprovals(_ context.Context) ([]*models.ApprovalRequest, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	out := make([]*models.ApprovalRequest, 0)

	for _, request := range p.approvals {
		if request.Status == models.ApprovalStatusPending {
			out = append(out, clone(request))
		}
	}

	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })

	return out, nil
}

func (p *Persistence) PendingApprovalsByProject(ctx context.Context, projectID string) ([]*models.ApprovalRequest, error) {
	pending, err := p.PendingApprovals(ctx)
	if err != nil {
		return nil, err
	}

	out := make([]*models.ApprovalRequest, 0, len(pending))

	for _, request := range pending {
		if request.ProjectID == projectID {
			out = append(out, request)
		}
	}

	return out, nil
}

func (p *Persistence) Budget(_ context.Context, projectID string, agentType models.AgentType) (*models.BudgetControl, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	budget, ok := p.budgets[gateKey(projectID, agentType)]
	if !ok {
		return nil, persistence.NewStoreError("Budget", gateKey(projectID, agentType), persistence.ErrBudgetNotFound)
	}

	return clone(budget), nil
}

func (p *Persistence) SaveBudget(_ context.Context, budget *models.BudgetControl) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.budgets[gateKey(budget.ProjectID, budget.AgentType)] = clone(budget)

	return nil
}

func (p *Persistence) Counter(_ context.Context, projectID string, agentType models.AgentType) (*models.AutoApproveCounter, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	counter, ok := p.counters[gateKey(projectID, agentType)]
	if !ok {
		return nil, persistence.NewStoreError("Counter", gateKey(projectID, agentType), persistence.ErrCounterNotFound)
	}

	return clone(counter), nil
}

func (p *Persistence) SaveCounter(_ context.Context, counter *models.AutoApproveCounter) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.counters[gateKey(counter.ProjectID, counter.AgentType)] = clone(counter)

	return nil
}

func (p *Persistence) SaveStop(_ context.Context, stop *models.EmergencyStop) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.stops[stop.ID] = clone(stop)

	return nil
}

func (p *Persistence) StopByID(_ context.Context, id string) (*models.EmergencyStop, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	stop, ok := p.stops[id]
	if !ok {
		return nil, persistence.NewStoreError("StopByID", id, persistence.ErrStopNotFound)
	}

	return clone(stop), nil
}

func (p *Persistence) ActiveStops(_ context.Context) ([]*models.EmergencyStop, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	out := make([]*models.EmergencyStop, 0)

	for _, stop := range p.stops {
		if stop.Active {
			out = append(out, clone(stop))
		}
	}

	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })

	return out, nil
}

func (p *Persistence) SaveExecution(_ context.Context, state *models.WorkflowExecutionState) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.executions[state.ID] = clone(state)

	return nil
}

func (p *Persistence) ExecutionByID(_ context.Context, id string) (*models.WorkflowExecutionState, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	state, ok := p.executions[id]
	if !ok {
		return nil, persistence.NewStoreError("ExecutionByID", id, persistence.ErrExecutionNotFound)
	}

	return clone(state), nil
}

func (p *Persistence) ExecutionsByProject(_ context.Context, projectID string) ([]*models.WorkflowExecutionState, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	out := make([]*models.WorkflowExecutionState, 0)

	for _, state := range p.executions {
		if state.ProjectID == projectID {
			out = append(out, clone(state))
		}
	}

	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.Before(out[j].StartedAt) })

	return out, nil
}

func (p *Persistence) SaveWorkflowDefinition(_ context.Context, def *models.WorkflowDefinition) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.workflows[def.ID] = clone(def)

	return nil
}

func (p *Persistence) WorkflowDefinitionByID(_ context.Context, id string) (*models.WorkflowDefinition, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	def, ok := p.workflows[id]
	if !ok {
		return nil, persistence.NewStoreError("WorkflowDefinitionByID", id, persistence.ErrWorkflowNotFound)
	}

	return clone(def), nil
}

func (p *Persistence) WorkflowDefinitions(_ context.Context) ([]*models.WorkflowDefinition, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	out := make([]*models.WorkflowDefinition, 0, len(p.workflows))
	for _, def := range p.workflows {
		out = append(out, clone(def))
	}

	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })

	return out, nil
}
