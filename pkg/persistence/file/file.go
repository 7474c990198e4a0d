// Package file provides file-based persistence for orchestration state. Each
// aggregate lives in its own directory as one JSON document per entity.
package file

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/cadenzahq/cadenza/pkg/models"
	"github.com/cadenzahq/cadenza/pkg/persistence"
)

const (
	dirProjects   = "projects"
	dirTasks      = "tasks"
	dirArtifacts  = "artifacts"
	dirApprovals  = "approvals"
	dirBudgets    = "budgets"
	dirCounters   = "counters"
	dirStops      = "stops"
	dirExecutions = "executions"
	dirWorkflows  = "workflows"
)

// Persistence implements persistence.Persistence on the local file system.
type Persistence struct {
	root string
}

// NewPersistence creates a file persistence layer rooted at the given path. A
// "file://" prefix on the path is stripped.
func NewPersistence(root string) *Persistence {
	return &Persistence{root: strings.Replace(root, "file://", "", 1)}
}

// HealthCheck verifies the root directory exists or can be created.
func (p *Persistence) HealthCheck(_ context.Context) error {
	return os.MkdirAll(p.root, 0o755)
}

// Close performs any necessary cleanup; nothing to do for files.
func (p *Persistence) Close(_ context.Context) error {
	return nil
}

func (p *Persistence) path(dir, id string) string {
	return filepath.Join(p.root, dir, id+".json")
}

func write[T any](p *Persistence, dir, id string, v *T) error {
	err := os.MkdirAll(filepath.Join(p.root, dir), 0o755)
	if err != nil {
		return fmt.Errorf("failed to create %s directory: %w", dir, err)
	}

	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal %s %s: %w", dir, id, err)
	}

	// Write-then-rename keeps readers from observing partial documents.
	tmp := p.path(dir, id) + ".tmp"

	err = os.WriteFile(tmp, data, 0o600)
	if err != nil {
		return fmt.Errorf("failed to write %s %s: %w", dir, id, err)
	}

	return os.Rename(tmp, p.path(dir, id))
}

func read[T any](p *Persistence, dir, id string, notFound error) (*T, error) {
	data, err := os.ReadFile(p.path(dir, id))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, notFound
		}

		return nil, fmt.Errorf("failed to read %s %s: %w", dir, id, err)
	}

	out := new(T)

	err = json.Unmarshal(data, out)
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal %s %s: %w", dir, id, err)
	}

	return out, nil
}

func list[T any](p *Persistence, dir string) ([]*T, error) {
	entries, err := fs.Glob(os.DirFS(filepath.Join(p.root, dir)), "*.json")
	if err != nil || len(entries) == 0 {
		return []*T{}, nil
	}

	out := make([]*T, 0, len(entries))

	for _, entry := range entries {
		id := strings.TrimSuffix(entry, ".json")

		v, err := read[T](p, dir, id, fs.ErrNotExist)
		if err != nil {
			return nil, err
		}

		out = append(out, v)
	}

	return out, nil
}

func gateKey(projectID string, agentType models.AgentType) string {
	return projectID + "__" + string(agentType)
}

func (p *Persistence) SaveProject(_ context.Context, project *models.Project) error {
	return write(p, dirProjects, project.ID, project)
}

func (p *Persistence) ProjectByID(_ context.Context, id string) (*models.Project, error) {
	return read[models.Project](p, dirProjects, id,
		persistence.NewStoreError("ProjectByID", id, persistence.ErrProjectNotFound))
}

func (p *Persistence) Projects(_ context.Context) ([]*models.Project, error) {
	return list[models.Project](p, dirProjects)
}

func (p *Persistence) SaveTask(_ context.Context, task *models.Task) error {
	return write(p, dirTasks, task.ID, task)
}

func (p *Persistence) TaskByID(_ context.Context, id string) (*models.Task, error) {
	return read[models.Task](p, dirTasks, id,
		persistence.NewStoreError("TaskByID", id, persistence.ErrTaskNotFound))
}

func (p *Persistence) TasksByProject(ctx context.Context, projectID string) ([]*models.Task, error) {
	all, err := list[models.Task](p, dirTasks)
	if err != nil {
		return nil, err
	}

	out := make([]*models.Task, 0, len(all))

	for _, task := range all {
		if task.ProjectID == projectID {
			out = append(out, task)
		}
	}

	return out, nil
}

func (p *Persistence) SaveArtifact(_ context.Context, artifact *models.ContextArtifact) error {
	if _, err := os.Stat(p.path(dirArtifacts, artifact.ID)); err == nil {
		return persistence.NewStoreError("SaveArtifact", artifact.ID, persistence.ErrArtifactImmutable)
	}

	return write(p, dirArtifacts, artifact.ID, artifact)
}

func (p *Persistence) ArtifactByID(_ context.Context, id string) (*models.ContextArtifact, error) {
	return read[models.ContextArtifact](p, dirArtifacts, id,
		persistence.NewStoreError("ArtifactByID", id, persistence.ErrArtifactNotFound))
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
	all, err := list[models.ContextArtifact](p, dirArtifacts)
	if err != nil {
		return nil, err
	}

	out := make([]*models.ContextArtifact, 0, len(all))

	for _, artifact := range all {
		if artifact.ProjectID == projectID {
			out = append(out, artifact)
		}
	}

	return out, nil
}

func (p *Persistence) SaveApproval(_ context.Context, request *models.ApprovalRequest) error {
	return write(p, dirApprovals, request.ID, request)
}

func (p *Persistence) ApprovalByID(_ context.Context, id string) (*models.ApprovalRequest, error) {
	return read[models.ApprovalRequest](p, dirApprovals, id,
		persistence.NewStoreError("ApprovalByID", id, persistence.ErrApprovalNotFound))
}

func (p *Persistence) PendingApprovals(_ context.Context) ([]*models.ApprovalRequest, error) {
	all, err := list[models.ApprovalRequest](p, dirApprovals)
	if err != nil {
		return nil, err
	}

	out := make([]*models.ApprovalRequest, 0, len(all))

	for _, request := range all {
		if request.Status == models.ApprovalStatusPending {
			out = append(out, request)
		}
	}

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
	key := gateKey(projectID, agentType)

	return read[models.BudgetControl](p, dirBudgets, key,
		persistence.NewStoreError("Budget", key, persistence.ErrBudgetNotFound))
}

func (p *Persistence) SaveBudget(_ context.Context, budget *models.BudgetControl) error {
	return write(p, dirBudgets, gateKey(budget.ProjectID, budget.AgentType), budget)
}

func (p *Persistence) Counter(_ context.Context, projectID string, agentType models.AgentType) (*models.AutoApproveCounter, error) {
	key := gateKey(projectID, agentType)

	return read[models.AutoApproveCounter](p, dirCounters, key,
		persistence.NewStoreError("Counter", key, persistence.ErrCounterNotFound))
}

func (p *Persistence) SaveCounter(_ context.Context, counter *models.AutoApproveCounter) error {
	return write(p, dirCounters, gateKey(counter.ProjectID, counter.AgentType), counter)
}

func (p *Persistence) SaveStop(_ context.Context, stop *models.EmergencyStop) error {
	return write(p, dirStops, stop.ID, stop)
}

func (p *Persistence) StopByID(_ context.Context, id string) (*models.EmergencyStop, error) {
	return read[models.EmergencyStop](p, dirStops, id,
		persistence.NewStoreError("StopByID", id, persistence.ErrStopNotFound))
}

func (p *Persistence) ActiveStops(_ context.Context) ([]*models.EmergencyStop, error) {
	all, err := list[models.EmergencyStop](p, dirStops)
	if err != nil {
		return nil, err
	}

	out := make([]*models.EmergencyStop, 0, len(all))

	for _, stop := range all {
		if stop.Active {
			out = append(out, stop)
		}
	}

	return out, nil
}

func (p *Persistence) SaveExecution(_ context.Context, state *models.WorkflowExecutionState) error {
	return write(p, dirExecutions, state.ID, state)
}

func (p *Persistence) ExecutionByID(_ context.Context, id string) (*models.WorkflowExecutionState, error) {
	return read[models.WorkflowExecutionState](p, dirExecutions, id,
		persistence.NewStoreError("ExecutionByID", id, persistence.ErrExecutionNotFound))
}

func (p *Persistence) ExecutionsByProject(_ context.Context, projectID string) ([]*models.WorkflowExecutionState, error) {
	all, err := list[models.WorkflowExecutionState](p, dirExecutions)
	if err != nil {
		return nil, err
	}

	out := make([]*models.WorkflowExecutionState, 0, len(all))

	for _, state := range all {
		if state.ProjectID == projectID {
			out = append(out, state)
		}
	}

	return out, nil
}

func (p *Persistence) SaveWorkflowDefinition(_ context.Context, def *models.WorkflowDefinition) error {
	return write(p, dirWorkflows, def.ID, def)
}

func (p *Persistence) WorkflowDefinitionByID(_ context.Context, id string) (*models.WorkflowDefinition, error) {
	return read[models.WorkflowDefinition](p, dirWorkflows, id,
		persistence.NewStoreError("WorkflowDefinitionByID", id, persistence.ErrWorkflowNotFound))
}

func (p *Persistence) WorkflowDefinitions(_ context.Context) ([]*models.WorkflowDefinition, error) {
	return list[models.WorkflowDefinition](p, dirWorkflows)
}
