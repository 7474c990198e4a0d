// Package engine runs workflow executions step by step: requirement
// resolution, conditional skips, retries with backoff, escalation after
// exhausted retries, and state persistence after every transition so an
// interrupted run resumes instead of restarting.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cadenzahq/cadenza/pkg/coordinator"
	"github.com/cadenzahq/cadenza/pkg/eventbus"
	"github.com/cadenzahq/cadenza/pkg/events"
	"github.com/cadenzahq/cadenza/pkg/models"
	"github.com/cadenzahq/cadenza/pkg/otelhelper"
	"github.com/cadenzahq/cadenza/pkg/persistence"
	"github.com/cadenzahq/cadenza/pkg/workflow"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

// Config carries the engine's retry policy.
type Config struct {
	// MaxAttempts is the total tries per step, including the first.
	MaxAttempts int
	// Backoff holds the delay after each failed attempt. Shorter than
	// MaxAttempts-1, the last entry repeats.
	Backoff []time.Duration
}

func DefaultConfig() Config {
	return Config{
		MaxAttempts: 3,
		Backoff:     []time.Duration{time.Second, 2 * time.Second, 4 * time.Second},
	}
}

// ErrExecutionTerminal is returned by Resume for a run that already
// completed. Failed runs stay resumable so an operator can fix the agent or
// clear the block and pick the run back up from the failed step.
var ErrExecutionTerminal = errors.New("execution already reached a terminal state")

// Engine drives runs. Multiple runs for different projects may execute
// concurrently; per-scope gate state is serialized by the governor.
type Engine struct {
	cfg         Config
	coordinator *coordinator.Coordinator
	workflows   *workflow.Repository
	executions  persistence.ExecutionRepository
	projects    persistence.ProjectRepository
	bus         eventbus.EventPublisher
	tracer      trace.Tracer
	logger      *slog.Logger
}

// WithTracer enables span emission per step.
func WithTracer(tracer trace.Tracer) func(*Engine) {
	return func(e *Engine) {
		e.tracer = tracer
	}
}

func NewEngine(
	cfg Config,
	coord *coordinator.Coordinator,
	workflows *workflow.Repository,
	executions persistence.ExecutionRepository,
	projects persistence.ProjectRepository,
	bus eventbus.EventPublisher,
	logger *slog.Logger,
	opts ...func(*Engine),
) *Engine {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = DefaultConfig().MaxAttempts
	}

	if len(cfg.Backoff) == 0 {
		cfg.Backoff = DefaultConfig().Backoff
	}

	e := &Engine{
		cfg:         cfg,
		coordinator: coord,
		workflows:   workflows,
		executions:  executions,
		projects:    projects,
		bus:         bus,
		tracer:      noop.NewTracerProvider().Tracer("engine"),
		logger:      logger.With("module", "engine"),
	}

	for _, opt := range opts {
		opt(e)
	}

	return e
}

// phaseForAgent maps each worker agent type to the lifecycle phase it acts
// in. The engine transitions the project to the step's phase before creating
// the step's task.
func phaseForAgent(agentType models.AgentType) (models.Phase, bool) {
	switch agentType {
	case models.AgentAnalyst:
		return models.PhaseDiscovery, true
	case models.AgentArchitect:
		return models.PhaseDesign, true
	case models.AgentCoder:
		return models.PhaseBuild, true
	case models.AgentTester:
		return models.PhaseValidate, true
	case models.AgentDeployer:
		return models.PhaseLaunch, true
	default:
		return "", false
	}
}

// Start creates a new execution for the workflow and runs it to completion,
// halt or failure.
func (e *Engine) Start(ctx context.Context, projectID, workflowID string) (*models.WorkflowExecutionState, error) {
	state, err := e.Prepare(ctx, projectID, workflowID)
	if err != nil {
		return nil, err
	}

	return state, e.Run(ctx, state)
}

// Prepare registers a new execution and announces the run without driving
// any steps. Callers hand the state to Run, possibly on another goroutine.
func (e *Engine) Prepare(ctx context.Context, projectID, workflowID string) (*models.WorkflowExecutionState, error) {
	def, err := e.workflows.ByID(ctx, workflowID)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()

	state := &models.WorkflowExecutionState{
		ID:         "exec-" + uuid.New().String(),
		WorkflowID: def.ID,
		ProjectID:  projectID,
		Status:     models.ExecutionStatusRunning,
		Steps:      make([]models.StepState, len(def.Steps)),
		Context:    make(map[string]string),
		StartedAt:  now,
		UpdatedAt:  now,
	}

	for i, step := range def.Steps {
		state.Steps[i] = models.StepState{StepID: step.ID, Status: models.StepStatusPending, UpdatedAt: now}
	}

	err = e.executions.SaveExecution(ctx, state)
	if err != nil {
		return nil, fmt.Errorf("failed to persist execution: %w", err)
	}

	e.publish(ctx, projectID, events.RunStarted{
		BaseEvent:   events.NewBaseEvent(events.RunStartedEvent, projectID),
		ExecutionID: state.ID,
		WorkflowID:  def.ID,
	})

	return state, nil
}

// Run drives a prepared or resumed execution through its remaining steps.
func (e *Engine) Run(ctx context.Context, state *models.WorkflowExecutionState) error {
	def, err := e.workflows.ByID(ctx, state.WorkflowID)
	if err != nil {
		return err
	}

	return e.run(ctx, def, state)
}

// Resume picks an interrupted execution back up from its last persisted
// position. Completed steps are not re-run and their artifacts are reused.
func (e *Engine) Resume(ctx context.Context, executionID string) (*models.WorkflowExecutionState, error) {
	state, err := e.PrepareResume(ctx, executionID)
	if err != nil {
		return nil, err
	}

	return state, e.Run(ctx, state)
}

// PrepareResume reloads an interrupted execution, marks it running again and
// announces the resumed run without driving any steps.
func (e *Engine) PrepareResume(ctx context.Context, executionID string) (*models.WorkflowExecutionState, error) {
	state, err := e.executions.ExecutionByID(ctx, executionID)
	if err != nil {
		return nil, err
	}

	if state.Status == models.ExecutionStatusCompleted {
		return state, ErrExecutionTerminal
	}

	state.Status = models.ExecutionStatusRunning

	err = e.persist(ctx, state)
	if err != nil {
		return nil, err
	}

	e.publish(ctx, state.ProjectID, events.RunStarted{
		BaseEvent:   events.NewBaseEvent(events.RunStartedEvent, state.ProjectID),
		ExecutionID: state.ID,
		WorkflowID:  state.WorkflowID,
		Resumed:     true,
	})

	return state, nil
}

func (e *Engine) run(ctx context.Context, def *models.WorkflowDefinition, state *models.WorkflowExecutionState) error {
	for idx := state.CurrentStepIndex; idx < len(def.Steps); idx++ {
		state.CurrentStepIndex = idx

		step := def.Steps[idx]
		stepState := &state.Steps[idx]

		if stepState.Status == models.StepStatusCompleted {
			continue
		}

		halted, err := e.runStep(ctx, def, state, step, stepState, idx)
		if err != nil {
			return e.failRun(ctx, def, state, err)
		}

		if halted {
			return nil
		}
	}

	return e.completeRun(ctx, def, state)
}

// runStep drives one step through its attempts. A returned error fails the
// whole run; halted means the run stopped awaiting human intervention after
// escalation.
func (e *Engine) runStep(ctx context.Context, def *models.WorkflowDefinition, state *models.WorkflowExecutionState, step models.WorkflowStep, stepState *models.StepState, idx int) (halted bool, err error) {
	ctx, span := otelhelper.StartSpan(ctx, e.tracer, "engine.step",
		attribute.String(otelhelper.ProjectIDKey, state.ProjectID),
		attribute.String(otelhelper.ExecutionIDKey, state.ID),
		attribute.String(otelhelper.WorkflowIDKey, def.ID),
		attribute.String(otelhelper.StepIDKey, step.ID),
		attribute.String(otelhelper.AgentTypeKey, string(step.AgentType)))

	defer func() {
		if err != nil {
			otelhelper.SetError(span, err)
		}

		span.End()
	}()

	proceed, err := evalCondition(step.Condition, state.Context)
	if err != nil {
		return false, fmt.Errorf("step %s: %w", step.ID, err)
	}

	if !proceed {
		stepState.Status = models.StepStatusCompleted
		stepState.Skipped = true
		stepState.UpdatedAt = time.Now().UTC()

		err = e.persist(ctx, state)
		if err != nil {
			return false, err
		}

		e.publish(ctx, state.ProjectID, events.StepFinished{
			BaseEvent:   events.NewBaseEvent(events.StepFinishedEvent, state.ProjectID),
			ExecutionID: state.ID,
			StepID:      step.ID,
			StepIndex:   idx,
			Skipped:     true,
		})

		return false, nil
	}

	inputs, err := resolveRequires(step.Requires, state.Context)
	if err != nil {
		return false, fmt.Errorf("step %s: %w", step.ID, err)
	}

	err = e.ensurePhase(ctx, state.ProjectID, step.AgentType)
	if err != nil {
		return false, err
	}

	e.publish(ctx, state.ProjectID, events.StepStarted{
		BaseEvent:   events.NewBaseEvent(events.StepStartedEvent, state.ProjectID),
		ExecutionID: state.ID,
		StepID:      step.ID,
		StepIndex:   idx,
		AgentType:   step.AgentType,
	})

	for {
		stepState.Status = models.StepStatusRunning
		stepState.Attempts++
		stepState.UpdatedAt = time.Now().UTC()

		err = e.persist(ctx, state)
		if err != nil {
			return false, err
		}

		artifact, attemptErr := e.attempt(ctx, state, step, stepState, inputs)
		if attemptErr == nil {
			stepState.Status = models.StepStatusCompleted
			stepState.ArtifactID = artifact.ID
			stepState.Error = ""
			stepState.UpdatedAt = time.Now().UTC()
			state.Context[step.Produces] = artifact.ID

			err = e.persist(ctx, state)
			if err != nil {
				return false, err
			}

			e.publish(ctx, state.ProjectID, events.StepFinished{
				BaseEvent:   events.NewBaseEvent(events.StepFinishedEvent, state.ProjectID),
				ExecutionID: state.ID,
				StepID:      step.ID,
				StepIndex:   idx,
				ArtifactID:  artifact.ID,
			})

			return false, nil
		}

		stepState.Status = models.StepStatusFailed
		stepState.Error = attemptErr.Error()
		stepState.UpdatedAt = time.Now().UTC()

		err = e.persist(ctx, state)
		if err != nil {
			return false, err
		}

		e.publish(ctx, state.ProjectID, events.StepFailed{
			BaseEvent:   events.NewBaseEvent(events.StepFailedEvent, state.ProjectID),
			ExecutionID: state.ID,
			StepID:      step.ID,
			StepIndex:   idx,
			Attempts:    stepState.Attempts,
			Error:       attemptErr.Error(),
		})

		if !coordinator.IsRetryable(attemptErr) {
			return false, attemptErr
		}

		if stepState.Attempts >= e.cfg.MaxAttempts {
			return true, e.escalate(ctx, def, state, step, stepState, attemptErr)
		}

		err = e.backoff(ctx, stepState.Attempts)
		if err != nil {
			return false, err
		}
	}
}

func (e *Engine) attempt(ctx context.Context, state *models.WorkflowExecutionState, step models.WorkflowStep, stepState *models.StepState, inputs []string) (*models.ContextArtifact, error) {
	task, err := e.coordinator.CreateTask(ctx, state.ProjectID, step.AgentType, step.Instructions, step.EstimatedCost)
	if err != nil {
		return nil, err
	}

	stepState.TaskID = task.ID

	return e.coordinator.Dispatch(ctx, task, inputs, step.Produces, step.HITLRequired)
}

// backoff waits out the delay for the given completed attempt count, honoring
// cancellation.
func (e *Engine) backoff(ctx context.Context, attempts int) error {
	i := attempts - 1
	if i >= len(e.cfg.Backoff) {
		i = len(e.cfg.Backoff) - 1
	}

	timer := time.NewTimer(e.cfg.Backoff[i])
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// escalate fails the run and emits exactly one RunEscalated for the step.
// The failed run is still resumable: Resume re-runs the failed step after the
// operator intervenes.
func (e *Engine) escalate(ctx context.Context, def *models.WorkflowDefinition, state *models.WorkflowExecutionState, step models.WorkflowStep, stepState *models.StepState, cause error) error {
	state.Status = models.ExecutionStatusFailed
	state.Error = fmt.Sprintf("step %s escalated after %d attempts: %v", step.ID, stepState.Attempts, cause)
	state.UpdatedAt = time.Now().UTC()

	err := e.persist(ctx, state)
	if err != nil {
		return err
	}

	e.publish(ctx, state.ProjectID, events.RunEscalated{
		BaseEvent:   events.NewBaseEvent(events.RunEscalatedEvent, state.ProjectID),
		ExecutionID: state.ID,
		WorkflowID:  def.ID,
		StepID:      step.ID,
		Attempts:    stepState.Attempts,
		Error:       cause.Error(),
	})

	e.logger.WarnContext(ctx, "Run escalated",
		"execution_id", state.ID,
		"step_id", step.ID,
		"attempts", stepState.Attempts,
		"error", cause)

	return nil
}

func (e *Engine) failRun(ctx context.Context, def *models.WorkflowDefinition, state *models.WorkflowExecutionState, cause error) error {
	state.Status = models.ExecutionStatusFailed
	state.Error = cause.Error()
	state.UpdatedAt = time.Now().UTC()

	err := e.persist(ctx, state)
	if err != nil {
		return err
	}

	e.publish(ctx, state.ProjectID, events.RunFailed{
		BaseEvent:   events.NewBaseEvent(events.RunFailedEvent, state.ProjectID),
		ExecutionID: state.ID,
		WorkflowID:  def.ID,
		Error:       cause.Error(),
	})

	e.logger.ErrorContext(ctx, "Run failed",
		"execution_id", state.ID,
		"workflow_id", def.ID,
		"error", cause)

	return cause
}

func (e *Engine) completeRun(ctx context.Context, def *models.WorkflowDefinition, state *models.WorkflowExecutionState) error {
	state.Status = models.ExecutionStatusCompleted
	state.CurrentStepIndex = len(def.Steps)
	state.UpdatedAt = time.Now().UTC()

	err := e.persist(ctx, state)
	if err != nil {
		return err
	}

	e.publish(ctx, state.ProjectID, events.RunCompleted{
		BaseEvent:   events.NewBaseEvent(events.RunCompletedEvent, state.ProjectID),
		ExecutionID: state.ID,
		WorkflowID:  def.ID,
		Duration:    time.Since(state.StartedAt),
	})

	project, err := e.projects.ProjectByID(ctx, state.ProjectID)
	if err != nil {
		return err
	}

	project.Status = models.ProjectStatusCompleted
	project.UpdatedAt = time.Now().UTC()

	err = e.projects.SaveProject(ctx, project)
	if err != nil {
		return fmt.Errorf("failed to mark project completed: %w", err)
	}

	e.logger.InfoContext(ctx, "Run completed",
		"execution_id", state.ID,
		"workflow_id", def.ID,
		"project_id", state.ProjectID)

	return nil
}

// ensurePhase moves the project to the phase the agent type acts in, so the
// phase policy admits the step's task. Orchestrator steps leave the phase
// untouched.
func (e *Engine) ensurePhase(ctx context.Context, projectID string, agentType models.AgentType) error {
	phase, ok := phaseForAgent(agentType)
	if !ok {
		return nil
	}

	project, err := e.projects.ProjectByID(ctx, projectID)
	if err != nil {
		return err
	}

	if project.CurrentPhase == phase {
		return nil
	}

	previous := project.CurrentPhase
	project.CurrentPhase = phase
	project.UpdatedAt = time.Now().UTC()

	err = e.projects.SaveProject(ctx, project)
	if err != nil {
		return fmt.Errorf("failed to persist phase transition: %w", err)
	}

	e.publish(ctx, projectID, events.ProjectPhaseChanged{
		BaseEvent:     events.NewBaseEvent(events.ProjectPhaseChangedEvent, projectID),
		PreviousPhase: previous,
		CurrentPhase:  phase,
	})

	e.logger.InfoContext(ctx, "Project phase changed",
		"project_id", projectID,
		"previous_phase", previous,
		"current_phase", phase)

	return nil
}

func (e *Engine) persist(ctx context.Context, state *models.WorkflowExecutionState) error {
	state.UpdatedAt = time.Now().UTC()

	err := e.executions.SaveExecution(ctx, state)
	if err != nil {
		return fmt.Errorf("failed to persist execution %s: %w", state.ID, err)
	}

	return nil
}

func (e *Engine) publish(ctx context.Context, key string, event eventbus.Event) {
	if e.bus == nil {
		return
	}

	err := e.bus.Publish(ctx, key, event)
	if err != nil {
		e.logger.ErrorContext(ctx, "Failed to publish event", "event_type", event.GetType(), "error", err)
	}
}
