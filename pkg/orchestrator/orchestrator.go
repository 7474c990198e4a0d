// Package orchestrator is the top-level coordination surface: project
// lifecycle, workflow runs across concurrent projects, and an event-sourced
// status view.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cadenzahq/cadenza/pkg/engine"
	"github.com/cadenzahq/cadenza/pkg/models"
	"github.com/cadenzahq/cadenza/pkg/persistence"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
)

// ErrProjectTerminal is returned when a run is requested on a completed or
// failed project.
var ErrProjectTerminal = errors.New("project is in a terminal state")

// Core owns project lifecycle and delegates runs to the engine. Runs for
// different projects proceed independently; a stall in one never blocks
// another.
type Core struct {
	store    persistence.Persistence
	engine   *engine.Engine
	validate *validator.Validate
	logger   *slog.Logger
}

func NewCore(store persistence.Persistence, eng *engine.Engine, logger *slog.Logger) *Core {
	return &Core{
		store:    store,
		engine:   eng,
		validate: validator.New(),
		logger:   logger.With("module", "orchestrator"),
	}
}

// CreateProject registers a new project in the discovery phase.
func (c *Core) CreateProject(ctx context.Context, name string, metadata map[string]any) (*models.Project, error) {
	now := time.Now().UTC()

	project := &models.Project{
		ID:           "project-" + uuid.New().String(),
		Name:         name,
		Status:       models.ProjectStatusActive,
		CurrentPhase: models.PhaseDiscovery,
		Metadata:     metadata,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	err := c.validate.Struct(project)
	if err != nil {
		return nil, fmt.Errorf("invalid project: %w", err)
	}

	err = c.store.SaveProject(ctx, project)
	if err != nil {
		return nil, fmt.Errorf("failed to persist project: %w", err)
	}

	c.logger.InfoContext(ctx, "Project created", "project_id", project.ID, "name", name)

	return project, nil
}

// Project returns a project by id.
func (c *Core) Project(ctx context.Context, projectID string) (*models.Project, error) {
	return c.store.ProjectByID(ctx, projectID)
}

// Projects lists all projects.
func (c *Core) Projects(ctx context.Context) ([]*models.Project, error) {
	return c.store.Projects(ctx)
}

// RunWorkflow starts a workflow run for the project and drives it until it
// completes, halts or fails.
func (c *Core) RunWorkflow(ctx context.Context, projectID, workflowID string) (*models.WorkflowExecutionState, error) {
	project, err := c.store.ProjectByID(ctx, projectID)
	if err != nil {
		return nil, err
	}

	if project.Terminal() {
		return nil, fmt.Errorf("project %s: %w", projectID, ErrProjectTerminal)
	}

	return c.engine.Start(ctx, projectID, workflowID)
}

// RunWorkflowAsync registers the run and drives it on a background goroutine,
// returning the execution as soon as it is persisted. Run outcomes surface
// through events and the persisted execution state.
func (c *Core) RunWorkflowAsync(ctx context.Context, projectID, workflowID string) (*models.WorkflowExecutionState, error) {
	project, err := c.store.ProjectByID(ctx, projectID)
	if err != nil {
		return nil, err
	}

	if project.Terminal() {
		return nil, fmt.Errorf("project %s: %w", projectID, ErrProjectTerminal)
	}

	state, err := c.engine.Prepare(ctx, projectID, workflowID)
	if err != nil {
		return nil, err
	}

	go c.runDetached(state)

	return state, nil
}

// ResumeWorkflow continues an interrupted run from its persisted position.
func (c *Core) ResumeWorkflow(ctx context.Context, executionID string) (*models.WorkflowExecutionState, error) {
	return c.engine.Resume(ctx, executionID)
}

// ResumeWorkflowAsync reopens the run and drives it on a background
// goroutine.
func (c *Core) ResumeWorkflowAsync(ctx context.Context, executionID string) (*models.WorkflowExecutionState, error) {
	state, err := c.engine.PrepareResume(ctx, executionID)
	if err != nil {
		return nil, err
	}

	go c.runDetached(state)

	return state, nil
}

func (c *Core) runDetached(state *models.WorkflowExecutionState) {
	err := c.engine.Run(context.Background(), state)
	if err != nil {
		c.logger.Error("Detached run ended with failure",
			"execution_id", state.ID,
			"project_id", state.ProjectID,
			"error", err)
	}
}

// Execution returns a run's persisted state.
func (c *Core) Execution(ctx context.Context, executionID string) (*models.WorkflowExecutionState, error) {
	return c.store.ExecutionByID(ctx, executionID)
}

// StatusReport is the aggregate view of one project.
type StatusReport struct {
	Project          *models.Project                  `json:"project"`
	Tasks            []*models.Task                   `json:"tasks"`
	Executions       []*models.WorkflowExecutionState `json:"executions"`
	PendingApprovals []*models.ApprovalRequest        `json:"pending_approvals"`
	Artifacts        []*models.ContextArtifact        `json:"artifacts"`
}

// Status assembles the current state of a project from the persisted
// aggregates.
func (c *Core) Status(ctx context.Context, projectID string) (*StatusReport, error) {
	project, err := c.store.ProjectByID(ctx, projectID)
	if err != nil {
		return nil, err
	}

	tasks, err := c.store.TasksByProject(ctx, projectID)
	if err != nil {
		return nil, err
	}

	executions, err := c.store.ExecutionsByProject(ctx, projectID)
	if err != nil {
		return nil, err
	}

	approvals, err := c.store.PendingApprovalsByProject(ctx, projectID)
	if err != nil {
		return nil, err
	}

	artifacts, err := c.store.ArtifactsByProject(ctx, projectID)
	if err != nil {
		return nil, err
	}

	return &StatusReport{
		Project:          project,
		Tasks:            tasks,
		Executions:       executions,
		PendingApprovals: approvals,
		Artifacts:        artifacts,
	}, nil
}
