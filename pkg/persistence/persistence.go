// Package persistence provides the data storage abstraction for orchestration state.
package persistence

import (
	"context"

	"github.com/cadenzahq/cadenza/pkg/models"
)

// ProjectRepository stores projects.
type ProjectRepository interface {
	SaveProject(ctx context.Context, project *models.Project) error
	ProjectByID(ctx context.Context, id string) (*models.Project, error)
	Projects(ctx context.Context) ([]*models.Project, error)
}

// TaskRepository stores tasks.
type TaskRepository interface {
	SaveTask(ctx context.Context, task *models.Task) error
	TaskByID(ctx context.Context, id string) (*models.Task, error)
	TasksByProject(ctx context.Context, projectID string) ([]*models.Task, error)
}

// ArtifactRepository stores immutable context artifacts. SaveArtifact must
// refuse to overwrite an existing id.
type ArtifactRepository interface {
	SaveArtifact(ctx context.Context, artifact *models.ContextArtifact) error
	ArtifactByID(ctx context.Context, id string) (*models.ContextArtifact, error)
	ArtifactsByIDs(ctx context.Context, ids []string) ([]*models.ContextArtifact, error)
	ArtifactsByProject(ctx context.Context, projectID string) ([]*models.ContextArtifact, error)
}

// ApprovalRepository stores approval requests.
type ApprovalRepository interface {
	SaveApproval(ctx context.Context, request *models.ApprovalRequest) error
	ApprovalByID(ctx context.Context, id string) (*models.ApprovalRequest, error)
	PendingApprovals(ctx context.Context) ([]*models.ApprovalRequest, error)
	PendingApprovalsByProject(ctx context.Context, projectID string) ([]*models.ApprovalRequest, error)
}

// GateStateRepository stores the hot gate state: budget controls and
// auto-approve counters. Missing rows return ErrBudgetNotFound /
// ErrCounterNotFound; callers decide the default.
type GateStateRepository interface {
	Budget(ctx context.Context, projectID string, agentType models.AgentType) (*models.BudgetControl, error)
	SaveBudget(ctx context.Context, budget *models.BudgetControl) error
	Counter(ctx context.Context, projectID string, agentType models.AgentType) (*models.AutoApproveCounter, error)
	SaveCounter(ctx context.Context, counter *models.AutoApproveCounter) error
}

// StopRepository stores emergency stops.
type StopRepository interface {
	SaveStop(ctx context.Context, stop *models.EmergencyStop) error
	StopByID(ctx context.Context, id string) (*models.EmergencyStop, error)
	ActiveStops(ctx context.Context) ([]*models.EmergencyStop, error)
}

// ExecutionRepository stores workflow execution states.
type ExecutionRepository interface {
	SaveExecution(ctx context.Context, state *models.WorkflowExecutionState) error
	ExecutionByID(ctx context.Context, id string) (*models.WorkflowExecutionState, error)
	ExecutionsByProject(ctx context.Context, projectID string) ([]*models.WorkflowExecutionState, error)
}

// WorkflowRepository stores workflow definitions.
type WorkflowRepository interface {
	SaveWorkflowDefinition(ctx context.Context, def *models.WorkflowDefinition) error
	WorkflowDefinitionByID(ctx context.Context, id string) (*models.WorkflowDefinition, error)
	WorkflowDefinitions(ctx context.Context) ([]*models.WorkflowDefinition, error)
}

// Persistence aggregates every repository behind one connection-scoped
// implementation.
type Persistence interface {
	ProjectRepository
	TaskRepository
	ArtifactRepository
	ApprovalRepository
	GateStateRepository
	StopRepository
	ExecutionRepository
	WorkflowRepository

	HealthCheck(ctx context.Context) error
	Close(ctx context.Context) error
}
