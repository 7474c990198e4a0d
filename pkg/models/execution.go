package models

import "time"

// ExecutionStatus represents the lifecycle state of a workflow run.
type ExecutionStatus string

const (
	ExecutionStatusPending   ExecutionStatus = "pending"
	ExecutionStatusRunning   ExecutionStatus = "running"
	ExecutionStatusCompleted ExecutionStatus = "completed" // Terminal
	ExecutionStatusFailed    ExecutionStatus = "failed"    // Terminal
)

// StepStatus represents the lifecycle state of a single step within a run.
type StepStatus string

const (
	StepStatusPending        StepStatus = "pending"
	StepStatusRunning        StepStatus = "running"
	StepStatusWaitingForHITL StepStatus = "waiting_for_hitl"
	StepStatusCompleted      StepStatus = "completed"
	StepStatusFailed         StepStatus = "failed"
)

// StepState tracks one step of a run.
type StepState struct {
	StepID     string     `json:"step_id"`
	Status     StepStatus `json:"status"`
	Skipped    bool       `json:"skipped,omitempty"`
	Attempts   int        `json:"attempts"`
	TaskID     string     `json:"task_id,omitempty"`
	ArtifactID string     `json:"artifact_id,omitempty"`
	Error      string     `json:"error,omitempty"`
	UpdatedAt  time.Time  `json:"updated_at"`
}

// WorkflowExecutionState is the live state of one workflow run. It is
// persisted after every step transition so an interrupted run can resume from
// the last completed step rather than restarting.
type WorkflowExecutionState struct {
	ID               string          `json:"id"`
	WorkflowID       string          `json:"workflow_id"`
	ProjectID        string          `json:"project_id"`
	Status           ExecutionStatus `json:"status"`
	CurrentStepIndex int             `json:"current_step_index"`
	Steps            []StepState     `json:"steps"`
	// Context maps artifact keys (WorkflowStep.Produces) to persisted
	// artifact ids accumulated across completed steps.
	Context   map[string]string `json:"context"`
	Error     string            `json:"error,omitempty"`
	StartedAt time.Time         `json:"started_at"`
	UpdatedAt time.Time         `json:"updated_at"`
}

// Terminal reports whether the run has reached a final state.
func (s *WorkflowExecutionState) Terminal() bool {
	return s.Status == ExecutionStatusCompleted || s.Status == ExecutionStatusFailed
}
