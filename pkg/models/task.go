package models

import "time"

// TaskStatus represents the lifecycle state of a task.
type TaskStatus string

const (
	TaskStatusPending        TaskStatus = "pending"
	TaskStatusWorking        TaskStatus = "working"
	TaskStatusWaitingForHITL TaskStatus = "waiting_for_hitl"
	TaskStatusCompleted      TaskStatus = "completed" // Terminal
	TaskStatusFailed         TaskStatus = "failed"    // Terminal
)

// Task failure reasons carried on the failed status.
const (
	FailureReasonApprovalDenied  = "approval_denied"
	FailureReasonApprovalExpired = "approval_expired"
	FailureReasonEmergencyStop   = "emergency_stop"
	FailureReasonExecution       = "execution_failure"
	FailureReasonValidation      = "handoff_validation"
)

// Task is a single unit of agent work. Tasks are created by the coordinator
// after a policy check passes and move through the gate before execution.
type Task struct {
	ID            string     `json:"id"`
	ProjectID     string     `json:"project_id"     validate:"required"`
	AgentType     AgentType  `json:"agent_type"     validate:"required"`
	Instructions  string     `json:"instructions"   validate:"required"`
	Status        TaskStatus `json:"status"`
	// ArtifactType is the type the task's output will be stored under. Set at
	// dispatch; output is validated against the schema registered for it.
	ArtifactType  string    `json:"artifact_type,omitempty"`
	EstimatedCost int64     `json:"estimated_cost" validate:"gte=0"`
	FailureReason string    `json:"failure_reason,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// Terminal reports whether the task has reached a final state.
func (t *Task) Terminal() bool {
	return t.Status == TaskStatusCompleted || t.Status == TaskStatusFailed
}
