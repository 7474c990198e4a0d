package models

import "time"

// GateDecision is the outcome of a human-in-the-loop gate check.
type GateDecision string

const (
	GateProceed                GateDecision = "proceed"
	GateRequireApproval        GateDecision = "require_approval"
	GateBlockedByBudget        GateDecision = "blocked_by_budget"
	GateBlockedByEmergencyStop GateDecision = "blocked_by_emergency_stop"
)

// BudgetControl is a per-project, per-agent-type resource quota enforced
// before execution. Invariant: 0 <= Used <= Limit; a denied decrement never
// mutates Used.
type BudgetControl struct {
	ProjectID string    `json:"project_id"`
	AgentType AgentType `json:"agent_type"`
	Limit     int64     `json:"limit"`
	Used      int64     `json:"used"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Remaining returns the unconsumed budget.
func (b *BudgetControl) Remaining() int64 {
	return b.Limit - b.Used
}

// ApprovalKind distinguishes when in a task's life the approval applies.
type ApprovalKind string

const (
	ApprovalKindPreExecution ApprovalKind = "pre_execution"
	ApprovalKindResponse     ApprovalKind = "response"
)

// ApprovalStatus represents the lifecycle state of an approval request.
type ApprovalStatus string

const (
	ApprovalStatusPending  ApprovalStatus = "pending"
	ApprovalStatusApproved ApprovalStatus = "approved" // Terminal
	ApprovalStatusRejected ApprovalStatus = "rejected" // Terminal
	ApprovalStatusExpired  ApprovalStatus = "expired"  // Terminal
)

// ApprovalRequest asks a human operator to allow or deny one task execution.
// Exactly one terminal transition is permitted per request; an unresolved
// request past ExpiresAt transitions to expired, which gates like a rejection.
type ApprovalRequest struct {
	ID         string         `json:"id"`
	TaskID     string         `json:"task_id"`
	ProjectID  string         `json:"project_id"`
	AgentType  AgentType      `json:"agent_type"`
	Kind       ApprovalKind   `json:"kind"`
	Status     ApprovalStatus `json:"status"`
	Comment    string         `json:"comment,omitempty"`
	CreatedAt  time.Time      `json:"created_at"`
	ExpiresAt  time.Time      `json:"expires_at"`
	ResolvedBy string         `json:"resolved_by,omitempty"`
	ResolvedAt *time.Time     `json:"resolved_at,omitempty"`
}

// Resolved reports whether the request has reached a terminal state.
func (r *ApprovalRequest) Resolved() bool {
	return r.Status != ApprovalStatusPending
}

// AutoApproveCounter is a quota of automatic gate passes before mandatory
// human approval resumes. Remaining stays in [0, Limit], is decremented only
// on a successful gate pass and resets only via explicit operator action.
type AutoApproveCounter struct {
	ProjectID string    `json:"project_id"`
	AgentType AgentType `json:"agent_type,omitempty"` // Empty means project scope
	Limit     int64     `json:"limit"`
	Remaining int64     `json:"remaining"`
	UpdatedAt time.Time `json:"updated_at"`
}

// EmergencyStop is an operator-triggered override. While active the gate
// denies all execution in scope unconditionally, regardless of budget or
// approval state.
type EmergencyStop struct {
	ID          string     `json:"id"`
	ProjectID   string     `json:"project_id,omitempty"`
	AgentType   AgentType  `json:"agent_type,omitempty"`
	Reason      string     `json:"reason"`
	TriggeredBy string     `json:"triggered_by"`
	Active      bool       `json:"active"`
	CreatedAt   time.Time  `json:"created_at"`
	ClearedAt   *time.Time `json:"cleared_at,omitempty"`
}

// Covers reports whether the stop applies to the given project and agent
// type. An empty ProjectID or AgentType on the stop matches everything in
// that dimension.
func (s *EmergencyStop) Covers(projectID string, agentType AgentType) bool {
	if !s.Active {
		return false
	}

	if s.ProjectID != "" && s.ProjectID != projectID {
		return false
	}

	if s.AgentType != "" && s.AgentType != agentType {
		return false
	}

	return true
}
