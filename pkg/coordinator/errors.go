package coordinator

import (
	"errors"
	"fmt"

	"github.com/cadenzahq/cadenza/pkg/models"
)

// PolicyViolationError reports a task request denied by the phase policy. It
// carries the full decision so callers can show what would be allowed.
type PolicyViolationError struct {
	ProjectID string
	AgentType models.AgentType
	Decision  models.PolicyDecision
}

func (e *PolicyViolationError) Error() string {
	return fmt.Sprintf("policy denied %s on project %s: %s", e.AgentType, e.ProjectID, e.Decision.Message)
}

// BudgetExceededError reports a gate denial because the scope's budget cannot
// cover the estimated cost. The budget is untouched.
type BudgetExceededError struct {
	Budget    *models.BudgetControl
	Requested int64
}

func (e *BudgetExceededError) Error() string {
	return fmt.Sprintf("budget exceeded for %s/%s: used %d of %d, requested %d",
		e.Budget.ProjectID, e.Budget.AgentType, e.Budget.Used, e.Budget.Limit, e.Requested)
}

// ApprovalDeniedError reports a human rejection of the task's approval
// request.
type ApprovalDeniedError struct {
	RequestID  string
	ResolvedBy string
	Comment    string
}

func (e *ApprovalDeniedError) Error() string {
	return fmt.Sprintf("approval request %s was rejected", e.RequestID)
}

// ApprovalExpiredError reports an approval request that timed out unresolved.
type ApprovalExpiredError struct {
	RequestID string
}

func (e *ApprovalExpiredError) Error() string {
	return fmt.Sprintf("approval request %s expired unresolved", e.RequestID)
}

// EmergencyStopError reports a gate denial or cancellation caused by an
// active emergency stop.
type EmergencyStopError struct {
	StopID string
	Reason string
}

func (e *EmergencyStopError) Error() string {
	return fmt.Sprintf("blocked by emergency stop %s: %s", e.StopID, e.Reason)
}

// AgentExecutionError reports a failed runtime attempt. This is the only
// retryable failure class.
type AgentExecutionError struct {
	TaskID string
	Err    error
}

func (e *AgentExecutionError) Error() string {
	return fmt.Sprintf("agent execution failed for task %s: %v", e.TaskID, e.Err)
}

func (e *AgentExecutionError) Unwrap() error {
	return e.Err
}

// IsRetryable reports whether a dispatch failure may be retried. Governance
// denials are never retryable; only execution failures are.
func IsRetryable(err error) bool {
	var execErr *AgentExecutionError
	return errors.As(err, &execErr)
}
