// Package web provides the HTTP surface of the orchestrator: projects,
// tasks, workflow runs, approvals, budgets and emergency stops.
package web

import (
	"encoding/json"

	"github.com/cadenzahq/cadenza/pkg/models"
)

// CreateProjectRequest is the body for registering a new project.
type CreateProjectRequest struct {
	Name     string         `json:"name"     validate:"required,min=3"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// CreateTaskRequest is the body for requesting agent work on a project.
type CreateTaskRequest struct {
	AgentType     models.AgentType `json:"agent_type"     validate:"required"`
	Instructions  string           `json:"instructions"   validate:"required"`
	EstimatedCost int64            `json:"estimated_cost" validate:"gte=0"`
}

// RunWorkflowRequest is the body for starting a workflow run on a project.
type RunWorkflowRequest struct {
	WorkflowID string `json:"workflow_id" validate:"required"`
}

// ResolveApprovalRequest is the body for approving or rejecting a pending
// approval request.
type ResolveApprovalRequest struct {
	ResolvedBy string `json:"resolved_by" validate:"required"`
	Comment    string `json:"comment,omitempty"`
}

// SetBudgetRequest is the body for configuring a scope's budget limit.
type SetBudgetRequest struct {
	Limit int64 `json:"limit" validate:"gte=0"`
}

// SetCounterRequest is the body for resetting a scope's auto-approve counter.
type SetCounterRequest struct {
	Limit int64 `json:"limit" validate:"gte=0"`
}

// SetApprovalModeRequest is the body for toggling mandatory approval on a
// scope.
type SetApprovalModeRequest struct {
	Enabled bool `json:"enabled"`
}

// TriggerStopRequest is the body for raising an emergency stop. Empty
// ProjectID or AgentType widens the scope in that dimension.
type TriggerStopRequest struct {
	ProjectID   string           `json:"project_id,omitempty"`
	AgentType   models.AgentType `json:"agent_type,omitempty"`
	Reason      string           `json:"reason"       validate:"required"`
	TriggeredBy string           `json:"triggered_by" validate:"required"`
}

// ClearStopRequest is the body for clearing an emergency stop.
type ClearStopRequest struct {
	ClearedBy string `json:"cleared_by" validate:"required"`
}

// HandoffRequest is the body for submitting a phase handoff payload.
type HandoffRequest struct {
	ProjectID       string           `json:"project_id"        validate:"required"`
	SourceAgentType models.AgentType `json:"source_agent_type" validate:"required"`
	TargetAgentType models.AgentType `json:"target_agent_type" validate:"required"`
	HandoffType     string           `json:"handoff_type"      validate:"required"`
	Content         json.RawMessage  `json:"content"           validate:"required"`
}

// ResolveApprovalResponse reports whether this call performed the resolution.
type ResolveApprovalResponse struct {
	Request  *models.ApprovalRequest `json:"request"`
	Resolved bool                    `json:"resolved"`
}

// TriggerStopResponse reports the recorded stop and its blast radius.
type TriggerStopResponse struct {
	Stop          *models.EmergencyStop `json:"stop"`
	TasksCanceled int                   `json:"tasks_canceled"`
}
