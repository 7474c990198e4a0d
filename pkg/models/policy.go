package models

// PolicyStatus is the outcome of a phase-policy evaluation.
type PolicyStatus string

const (
	PolicyStatusAllowed PolicyStatus = "allowed"
	PolicyStatusDenied  PolicyStatus = "denied"
)

// Policy reason codes.
const (
	PolicyReasonAllowed         = "allowed"
	PolicyReasonAgentNotAllowed = "agent_not_allowed_in_phase"
	PolicyReasonUnknownPhase    = "unknown_phase"
	PolicyReasonUnknownProject  = "unknown_project"
	PolicyReasonUnknownAgent    = "unknown_agent_type"
)

// PolicyDecision is the allow/deny outcome of evaluating an agent type against
// the project's current phase. Decisions are computed fresh per evaluation and
// are never persisted as authoritative state.
type PolicyDecision struct {
	Status            PolicyStatus `json:"status"`
	CurrentPhase      Phase        `json:"current_phase"`
	AllowedAgentTypes []AgentType  `json:"allowed_agent_types"`
	ReasonCode        string       `json:"reason_code"`
	Message           string       `json:"message"`
}

// Allowed reports whether the decision permits execution.
func (d PolicyDecision) Allowed() bool {
	return d.Status == PolicyStatusAllowed
}
