// Package events defines event types and structures for orchestration lifecycle notifications.
package events

import (
	"time"

	"github.com/cadenzahq/cadenza/pkg/models"
	"github.com/google/uuid"
)

type EventType string

// Topic carries every orchestration event, in order, for the notification
// collaborator.
const Topic = "cadenza.events"

const EventMetadataKey = "key"
const EventTypeMetadataKey = "event_type"

const (
	// Task lifecycle.
	TaskStatusChangedEvent EventType = "task.status_changed"

	// Human-in-the-loop gate.
	HITLRequestCreatedEvent  EventType = "hitl.request_created"
	HITLRequestResolvedEvent EventType = "hitl.request_resolved"
	CounterExhaustedEvent    EventType = "hitl.counter_exhausted"

	// Policy and budget denials.
	PolicyViolationEvent EventType = "policy.violation"
	BudgetExhaustedEvent EventType = "budget.exhausted"

	// Emergency stop.
	EmergencyStopTriggeredEvent EventType = "emergency_stop.triggered"
	EmergencyStopClearedEvent   EventType = "emergency_stop.cleared"

	// Project lifecycle.
	ProjectPhaseChangedEvent EventType = "project.phase_changed"

	// Workflow run lifecycle.
	RunStartedEvent   EventType = "run.started"
	RunCompletedEvent EventType = "run.completed"
	RunFailedEvent    EventType = "run.failed"
	RunEscalatedEvent EventType = "run.escalated"
	StepStartedEvent  EventType = "step.started"
	StepFinishedEvent EventType = "step.finished"
	StepFailedEvent   EventType = "step.failed"
)

type BaseEvent struct {
	ID        string         `json:"id"`
	Type      EventType      `json:"type"`
	Timestamp time.Time      `json:"timestamp"`
	ProjectID string         `json:"project_id"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// GetProjectID exposes the envelope's project scope through any embedding
// event.
func (b BaseEvent) GetProjectID() string {
	return b.ProjectID
}

// GetID exposes the envelope id through any embedding event.
func (b BaseEvent) GetID() string {
	return b.ID
}

// NewBaseEvent builds the shared envelope for an event.
func NewBaseEvent(eventType EventType, projectID string) BaseEvent {
	return BaseEvent{
		ID:        uuid.New().String(),
		Type:      eventType,
		Timestamp: time.Now().UTC(),
		ProjectID: projectID,
	}
}

type TaskStatusChanged struct {
	BaseEvent

	TaskID    string            `json:"task_id"`
	AgentType models.AgentType  `json:"agent_type"`
	Status    models.TaskStatus `json:"status"`
	Reason    string            `json:"reason,omitempty"`
}

func (e TaskStatusChanged) GetType() EventType {
	return TaskStatusChangedEvent
}

type HITLRequestCreated struct {
	BaseEvent

	RequestID string              `json:"request_id"`
	TaskID    string              `json:"task_id"`
	AgentType models.AgentType    `json:"agent_type"`
	Kind      models.ApprovalKind `json:"kind"`
	ExpiresAt time.Time           `json:"expires_at"`
}

func (e HITLRequestCreated) GetType() EventType {
	return HITLRequestCreatedEvent
}

type HITLRequestResolved struct {
	BaseEvent

	RequestID  string                `json:"request_id"`
	TaskID     string                `json:"task_id"`
	Status     models.ApprovalStatus `json:"status"`
	ResolvedBy string                `json:"resolved_by,omitempty"`
}

func (e HITLRequestResolved) GetType() EventType {
	return HITLRequestResolvedEvent
}

// CounterExhausted signals that the auto-approve quota for the scope ran out
// and mandatory approval resumed.
type CounterExhausted struct {
	BaseEvent

	AgentType models.AgentType `json:"agent_type"`
	Limit     int64            `json:"limit"`
}

func (e CounterExhausted) GetType() EventType {
	return CounterExhaustedEvent
}

type PolicyViolation struct {
	BaseEvent

	AgentType         models.AgentType   `json:"agent_type"`
	CurrentPhase      models.Phase       `json:"current_phase"`
	AllowedAgentTypes []models.AgentType `json:"allowed_agent_types"`
	ReasonCode        string             `json:"reason_code"`
}

func (e PolicyViolation) GetType() EventType {
	return PolicyViolationEvent
}

type BudgetExhausted struct {
	BaseEvent

	AgentType models.AgentType `json:"agent_type"`
	Limit     int64            `json:"limit"`
	Used      int64            `json:"used"`
	Requested int64            `json:"requested"`
}

func (e BudgetExhausted) GetType() EventType {
	return BudgetExhaustedEvent
}

type EmergencyStopTriggered struct {
	BaseEvent

	StopID        string           `json:"stop_id"`
	AgentType     models.AgentType `json:"agent_type,omitempty"`
	Reason        string           `json:"reason"`
	TriggeredBy   string           `json:"triggered_by"`
	TasksCanceled int              `json:"tasks_canceled"`
}

func (e EmergencyStopTriggered) GetType() EventType {
	return EmergencyStopTriggeredEvent
}

type EmergencyStopCleared struct {
	BaseEvent

	StopID    string `json:"stop_id"`
	ClearedBy string `json:"cleared_by"`
}

func (e EmergencyStopCleared) GetType() EventType {
	return EmergencyStopClearedEvent
}

type ProjectPhaseChanged struct {
	BaseEvent

	PreviousPhase models.Phase `json:"previous_phase"`
	CurrentPhase  models.Phase `json:"current_phase"`
}

func (e ProjectPhaseChanged) GetType() EventType {
	return ProjectPhaseChangedEvent
}

type RunStarted struct {
	BaseEvent

	ExecutionID string `json:"execution_id"`
	WorkflowID  string `json:"workflow_id"`
	Resumed     bool   `json:"resumed,omitempty"`
}

func (e RunStarted) GetType() EventType {
	return RunStartedEvent
}

type RunCompleted struct {
	BaseEvent

	ExecutionID string        `json:"execution_id"`
	WorkflowID  string        `json:"workflow_id"`
	Duration    time.Duration `json:"duration"`
}

func (e RunCompleted) GetType() EventType {
	return RunCompletedEvent
}

type RunFailed struct {
	BaseEvent

	ExecutionID string `json:"execution_id"`
	WorkflowID  string `json:"workflow_id"`
	Error       string `json:"error"`
}

func (e RunFailed) GetType() EventType {
	return RunFailedEvent
}

// RunEscalated is emitted exactly once when a step exhausts its retries. The
// run halts awaiting human reassignment; nothing is silently skipped.
type RunEscalated struct {
	BaseEvent

	ExecutionID string `json:"execution_id"`
	WorkflowID  string `json:"workflow_id"`
	StepID      string `json:"step_id"`
	Attempts    int    `json:"attempts"`
	Error       string `json:"error"`
}

func (e RunEscalated) GetType() EventType {
	return RunEscalatedEvent
}

type StepStarted struct {
	BaseEvent

	ExecutionID string           `json:"execution_id"`
	StepID      string           `json:"step_id"`
	StepIndex   int              `json:"step_index"`
	AgentType   models.AgentType `json:"agent_type"`
}

func (e StepStarted) GetType() EventType {
	return StepStartedEvent
}

type StepFinished struct {
	BaseEvent

	ExecutionID string `json:"execution_id"`
	StepID      string `json:"step_id"`
	StepIndex   int    `json:"step_index"`
	ArtifactID  string `json:"artifact_id,omitempty"`
	Skipped     bool   `json:"skipped,omitempty"`
}

func (e StepFinished) GetType() EventType {
	return StepFinishedEvent
}

type StepFailed struct {
	BaseEvent

	ExecutionID string `json:"execution_id"`
	StepID      string `json:"step_id"`
	StepIndex   int    `json:"step_index"`
	Attempts    int    `json:"attempts"`
	Error       string `json:"error"`
}

func (e StepFailed) GetType() EventType {
	return StepFailedEvent
}
