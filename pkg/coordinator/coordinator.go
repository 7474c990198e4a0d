// Package coordinator creates and dispatches tasks: policy check at creation,
// gate check before execution, runtime invocation, output schema screening,
// artifact capture.
package coordinator

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/cadenzahq/cadenza/pkg/contextstore"
	"github.com/cadenzahq/cadenza/pkg/eventbus"
	"github.com/cadenzahq/cadenza/pkg/events"
	"github.com/cadenzahq/cadenza/pkg/governor"
	"github.com/cadenzahq/cadenza/pkg/models"
	"github.com/cadenzahq/cadenza/pkg/persistence"
	"github.com/cadenzahq/cadenza/pkg/policy"
	"github.com/cadenzahq/cadenza/pkg/registry"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
)

// Config carries the coordinator's tunables.
type Config struct {
	// ExecutionTimeout bounds a single runtime attempt. A task showing no
	// result within the window fails that attempt.
	ExecutionTimeout time.Duration
}

func DefaultConfig() Config {
	return Config{ExecutionTimeout: 5 * time.Minute}
}

// OutputValidator screens agent output against the handoff schema registered
// for its artifact type before the output becomes an artifact.
type OutputValidator interface {
	ValidateOutput(payload *models.HandoffPayload) error
}

// Coordinator is safe for concurrent use across projects; the governor
// serializes gate state per (project, agent type) scope.
type Coordinator struct {
	cfg      Config
	policy   *policy.Service
	governor *governor.Governor
	tasks    persistence.TaskRepository
	store    *contextstore.Store
	registry *registry.Registry
	bus      eventbus.EventPublisher
	outputs  OutputValidator
	validate *validator.Validate
	logger   *slog.Logger
}

// Option configures optional coordinator collaborators.
type Option func(*Coordinator)

// WithOutputValidator rejects agent output that fails its artifact type's
// registered schema. A rejection fails the task without retry.
func WithOutputValidator(v OutputValidator) Option {
	return func(c *Coordinator) {
		c.outputs = v
	}
}

func NewCoordinator(
	cfg Config,
	policySvc *policy.Service,
	gov *governor.Governor,
	tasks persistence.TaskRepository,
	store *contextstore.Store,
	reg *registry.Registry,
	bus eventbus.EventPublisher,
	logger *slog.Logger,
	opts ...Option,
) *Coordinator {
	if cfg.ExecutionTimeout <= 0 {
		cfg.ExecutionTimeout = DefaultConfig().ExecutionTimeout
	}

	c := &Coordinator{
		cfg:      cfg,
		policy:   policySvc,
		governor: gov,
		tasks:    tasks,
		store:    store,
		registry: reg,
		bus:      bus,
		validate: validator.New(),
		logger:   logger.With("module", "coordinator"),
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// CreateTask evaluates the phase policy and, when allowed, persists a pending
// task. A denial persists nothing and returns a PolicyViolationError carrying
// the decision.
func (c *Coordinator) CreateTask(ctx context.Context, projectID string, agentType models.AgentType, instructions string, estimatedCost int64) (*models.Task, error) {
	decision := c.policy.Evaluate(ctx, projectID, agentType)

	if decision.Status != models.PolicyStatusAllowed {
		event := events.PolicyViolation{
			BaseEvent:         events.NewBaseEvent(events.PolicyViolationEvent, projectID),
			AgentType:         agentType,
			CurrentPhase:      decision.CurrentPhase,
			AllowedAgentTypes: decision.AllowedAgentTypes,
			ReasonCode:        decision.ReasonCode,
		}

		c.publish(ctx, projectID, event)

		c.logger.WarnContext(ctx, "Task creation denied by policy",
			"project_id", projectID,
			"agent_type", agentType,
			"reason_code", decision.ReasonCode)

		return nil, &PolicyViolationError{ProjectID: projectID, AgentType: agentType, Decision: decision}
	}

	now := time.Now().UTC()

	task := &models.Task{
		ID:            "task-" + uuid.New().String(),
		ProjectID:     projectID,
		AgentType:     agentType,
		Instructions:  instructions,
		Status:        models.TaskStatusPending,
		EstimatedCost: estimatedCost,
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	err := c.validate.Struct(task)
	if err != nil {
		return nil, fmt.Errorf("invalid task: %w", err)
	}

	err = c.tasks.SaveTask(ctx, task)
	if err != nil {
		return nil, fmt.Errorf("failed to persist task: %w", err)
	}

	c.publishStatus(ctx, task, "")

	return task, nil
}

// Dispatch runs one task through the gate and, when cleared, executes it and
// stores its output as a context artifact. The call blocks while the task
// waits for human approval, until the approval resolves, expires or ctx ends.
// forceApproval marks the task as requiring human sign-off even when the
// auto-approve counter has quota left.
func (c *Coordinator) Dispatch(ctx context.Context, task *models.Task, inputArtifactIDs []string, artifactType string, forceApproval bool) (*models.ContextArtifact, error) {
	gate, err := c.governor.CheckGate(ctx, task, forceApproval)
	if err != nil {
		return nil, fmt.Errorf("gate check failed for task %s: %w", task.ID, err)
	}

	switch gate.Decision {
	case models.GateBlockedByEmergencyStop:
		err = c.failTask(ctx, task, models.FailureReasonEmergencyStop)
		if err != nil {
			return nil, err
		}

		return nil, &EmergencyStopError{StopID: gate.Stop.ID, Reason: gate.Stop.Reason}

	case models.GateBlockedByBudget:
		// The task stays pending: the operator can raise the budget and
		// dispatch again.
		return nil, &BudgetExceededError{Budget: gate.Budget, Requested: task.EstimatedCost}

	case models.GateRequireApproval:
		err = c.awaitApproval(ctx, task, gate.Approval)
		if err != nil {
			return nil, err
		}
	}

	return c.execute(ctx, task, inputArtifactIDs, artifactType)
}

// awaitApproval parks the task in waiting_for_hitl until the request reaches
// a terminal status.
func (c *Coordinator) awaitApproval(ctx context.Context, task *models.Task, request *models.ApprovalRequest) error {
	watch := c.governor.Watch(request.ID)

	err := c.setStatus(ctx, task, models.TaskStatusWaitingForHITL, "")
	if err != nil {
		return err
	}

	c.logger.InfoContext(ctx, "Task awaiting approval",
		"task_id", task.ID,
		"request_id", request.ID,
		"expires_at", request.ExpiresAt)

	var status models.ApprovalStatus

	// The request may have been resolved between the gate check and the
	// watch registration; the persisted status is authoritative.
	current, err := c.governor.Approval(ctx, request.ID)
	if err != nil {
		return err
	}

	if current.Resolved() {
		status = current.Status
	} else {
		select {
		case status = <-watch:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	switch status {
	case models.ApprovalStatusApproved:
		return nil

	case models.ApprovalStatusRejected:
		err = c.failTask(ctx, task, models.FailureReasonApprovalDenied)
		if err != nil {
			return err
		}

		return &ApprovalDeniedError{RequestID: request.ID}

	default:
		err = c.failTask(ctx, task, models.FailureReasonApprovalExpired)
		if err != nil {
			return err
		}

		return &ApprovalExpiredError{RequestID: request.ID}
	}
}

func (c *Coordinator) execute(ctx context.Context, task *models.Task, inputArtifactIDs []string, artifactType string) (*models.ContextArtifact, error) {
	task.ArtifactType = artifactType

	err := c.setStatus(ctx, task, models.TaskStatusWorking, "")
	if err != nil {
		return nil, err
	}

	artifacts, err := c.store.GetAll(ctx, inputArtifactIDs)
	if err != nil {
		failErr := c.failTask(ctx, task, models.FailureReasonExecution)
		if failErr != nil {
			return nil, failErr
		}

		return nil, &AgentExecutionError{TaskID: task.ID, Err: err}
	}

	runtime, err := c.registry.RuntimeFor(ctx, task.AgentType)
	if err != nil {
		failErr := c.failTask(ctx, task, models.FailureReasonExecution)
		if failErr != nil {
			return nil, failErr
		}

		return nil, &AgentExecutionError{TaskID: task.ID, Err: err}
	}

	execCtx, cancel := context.WithTimeout(ctx, c.cfg.ExecutionTimeout)
	defer cancel()

	result, err := runtime.Execute(execCtx, task, artifacts)
	if err == nil && !result.Success {
		err = fmt.Errorf("agent reported failure: %s", result.Error)
	}

	if err != nil {
		failErr := c.failTask(ctx, task, models.FailureReasonExecution)
		if failErr != nil {
			return nil, failErr
		}

		return nil, &AgentExecutionError{TaskID: task.ID, Err: err}
	}

	if c.outputs != nil {
		err = c.outputs.ValidateOutput(&models.HandoffPayload{
			ProjectID:       task.ProjectID,
			SourceAgentType: task.AgentType,
			HandoffType:     artifactType,
			Content:         result.Output,
		})
		if err != nil {
			failErr := c.failTask(ctx, task, models.FailureReasonValidation)
			if failErr != nil {
				return nil, failErr
			}

			return nil, fmt.Errorf("task %s output rejected: %w", task.ID, err)
		}
	}

	artifact := &models.ContextArtifact{
		ProjectID:       task.ProjectID,
		SourceAgentType: task.AgentType,
		ArtifactType:    artifactType,
		Content:         result.Output,
	}

	_, err = c.store.Put(ctx, artifact)
	if err != nil {
		failErr := c.failTask(ctx, task, models.FailureReasonExecution)
		if failErr != nil {
			return nil, failErr
		}

		return nil, &AgentExecutionError{TaskID: task.ID, Err: err}
	}

	err = c.setStatus(ctx, task, models.TaskStatusCompleted, "")
	if err != nil {
		return nil, err
	}

	return artifact, nil
}

func (c *Coordinator) setStatus(ctx context.Context, task *models.Task, status models.TaskStatus, reason string) error {
	task.Status = status
	task.FailureReason = reason
	task.UpdatedAt = time.Now().UTC()

	err := c.tasks.SaveTask(ctx, task)
	if err != nil {
		return fmt.Errorf("failed to persist task %s status %s: %w", task.ID, status, err)
	}

	c.publishStatus(ctx, task, reason)

	return nil
}

func (c *Coordinator) failTask(ctx context.Context, task *models.Task, reason string) error {
	return c.setStatus(ctx, task, models.TaskStatusFailed, reason)
}

func (c *Coordinator) publishStatus(ctx context.Context, task *models.Task, reason string) {
	event := events.TaskStatusChanged{
		BaseEvent: events.NewBaseEvent(events.TaskStatusChangedEvent, task.ProjectID),
		TaskID:    task.ID,
		AgentType: task.AgentType,
		Status:    task.Status,
		Reason:    reason,
	}

	c.publish(ctx, task.ProjectID, event)
}

func (c *Coordinator) publish(ctx context.Context, key string, event eventbus.Event) {
	if c.bus == nil {
		return
	}

	err := c.bus.Publish(ctx, key, event)
	if err != nil {
		c.logger.ErrorContext(ctx, "Failed to publish event", "event_type", event.GetType(), "error", err)
	}
}
