// Package models defines the core domain models for phase-gated agent orchestration.
package models

// AgentType identifies one of the known specialized agent roles. The set is
// closed: policy evaluation and dispatch tables enumerate every member.
type AgentType string

const (
	AgentAnalyst      AgentType = "analyst"
	AgentArchitect    AgentType = "architect"
	AgentCoder        AgentType = "coder"
	AgentTester       AgentType = "tester"
	AgentDeployer     AgentType = "deployer"
	AgentOrchestrator AgentType = "orchestrator"
)

// AllAgentTypes returns every known agent type in a stable order.
func AllAgentTypes() []AgentType {
	return []AgentType{
		AgentAnalyst,
		AgentArchitect,
		AgentCoder,
		AgentTester,
		AgentDeployer,
		AgentOrchestrator,
	}
}

// Valid reports whether the agent type is a member of the closed set.
func (a AgentType) Valid() bool {
	switch a {
	case AgentAnalyst, AgentArchitect, AgentCoder, AgentTester, AgentDeployer, AgentOrchestrator:
		return true
	default:
		return false
	}
}
