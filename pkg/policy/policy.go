// Package policy implements the phase policy service: a pure mapping from a
// project's current phase and a requested agent type to an allow/deny
// decision.
package policy

import (
	"context"
	"fmt"

	"github.com/cadenzahq/cadenza/pkg/models"
)

// ProjectSource resolves the current phase of a project.
type ProjectSource interface {
	ProjectByID(ctx context.Context, id string) (*models.Project, error)
}

// Service evaluates phase allow-lists. It has no side effects and is safe to
// call repeatedly and concurrently; the allow-lists are fixed at construction.
type Service struct {
	projects   ProjectSource
	allowLists map[models.Phase][]models.AgentType
}

// DefaultAllowLists maps each lifecycle phase to the agent types permitted to
// act in it. The orchestrator agent type is implicitly always allowed and is
// not listed.
func DefaultAllowLists() map[models.Phase][]models.AgentType {
	return map[models.Phase][]models.AgentType{
		models.PhaseDiscovery: {models.AgentAnalyst},
		models.PhaseDesign:    {models.AgentArchitect},
		models.PhaseBuild:     {models.AgentCoder, models.AgentArchitect},
		models.PhaseValidate:  {models.AgentTester, models.AgentCoder},
		models.PhaseLaunch:    {models.AgentDeployer},
	}
}

// NewService creates a policy service with the default allow-lists.
func NewService(projects ProjectSource) *Service {
	return NewServiceWithAllowLists(projects, DefaultAllowLists())
}

// NewServiceWithAllowLists creates a policy service with custom allow-lists.
func NewServiceWithAllowLists(projects ProjectSource, allowLists map[models.Phase][]models.AgentType) *Service {
	return &Service{
		projects:   projects,
		allowLists: allowLists,
	}
}

// Evaluate computes the policy decision for the given project and agent type.
// It never returns an error: lookup failures and unknown phases collapse to
// the most restrictive deny.
func (s *Service) Evaluate(ctx context.Context, projectID string, agentType models.AgentType) models.PolicyDecision {
	if !agentType.Valid() {
		return models.PolicyDecision{
			Status:            models.PolicyStatusDenied,
			AllowedAgentTypes: []models.AgentType{models.AgentOrchestrator},
			ReasonCode:        models.PolicyReasonUnknownAgent,
			Message:           fmt.Sprintf("agent type %q is not recognized", agentType),
		}
	}

	project, err := s.projects.ProjectByID(ctx, projectID)
	if err != nil {
		return models.PolicyDecision{
			Status:            models.PolicyStatusDenied,
			AllowedAgentTypes: []models.AgentType{models.AgentOrchestrator},
			ReasonCode:        models.PolicyReasonUnknownProject,
			Message:           fmt.Sprintf("project %s could not be resolved", projectID),
		}
	}

	allowed, known := s.allowLists[project.CurrentPhase]
	if !known {
		if agentType == models.AgentOrchestrator {
			return models.PolicyDecision{
				Status:            models.PolicyStatusAllowed,
				CurrentPhase:      project.CurrentPhase,
				AllowedAgentTypes: []models.AgentType{models.AgentOrchestrator},
				ReasonCode:        models.PolicyReasonAllowed,
				Message:           "orchestrator is always allowed",
			}
		}

		// Unknown phase gates like the most restrictive one: orchestrator only.
		return models.PolicyDecision{
			Status:            models.PolicyStatusDenied,
			CurrentPhase:      project.CurrentPhase,
			AllowedAgentTypes: []models.AgentType{models.AgentOrchestrator},
			ReasonCode:        models.PolicyReasonUnknownPhase,
			Message:           fmt.Sprintf("phase %q has no allow-list; denying all but orchestrator", project.CurrentPhase),
		}
	}

	allowedWithOrchestrator := append(append([]models.AgentType{}, allowed...), models.AgentOrchestrator)

	if agentType == models.AgentOrchestrator {
		return models.PolicyDecision{
			Status:            models.PolicyStatusAllowed,
			CurrentPhase:      project.CurrentPhase,
			AllowedAgentTypes: allowedWithOrchestrator,
			ReasonCode:        models.PolicyReasonAllowed,
			Message:           "orchestrator is always allowed",
		}
	}

	for _, candidate := range allowed {
		if candidate == agentType {
			return models.PolicyDecision{
				Status:            models.PolicyStatusAllowed,
				CurrentPhase:      project.CurrentPhase,
				AllowedAgentTypes: allowedWithOrchestrator,
				ReasonCode:        models.PolicyReasonAllowed,
				Message:           fmt.Sprintf("%s may act in phase %s", agentType, project.CurrentPhase),
			}
		}
	}

	return models.PolicyDecision{
		Status:            models.PolicyStatusDenied,
		CurrentPhase:      project.CurrentPhase,
		AllowedAgentTypes: allowedWithOrchestrator,
		ReasonCode:        models.PolicyReasonAgentNotAllowed,
		Message:           fmt.Sprintf("%s may not act in phase %s", agentType, project.CurrentPhase),
	}
}
