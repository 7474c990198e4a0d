package policy

import (
	"context"
	"testing"
	"time"

	"github.com/cadenzahq/cadenza/pkg/models"
	"github.com/cadenzahq/cadenza/pkg/persistence/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seedProject(t *testing.T, store *memory.Persistence, id string, phase models.Phase) {
	t.Helper()

	now := time.Now().UTC()

	require.NoError(t, store.SaveProject(context.Background(), &models.Project{
		ID:           id,
		Name:         "payments revamp",
		Status:       models.ProjectStatusActive,
		CurrentPhase: phase,
		CreatedAt:    now,
		UpdatedAt:    now,
	}))
}

func TestEvaluatePhaseAllowLists(t *testing.T) {
	tests := []struct {
		name      string
		phase     models.Phase
		agentType models.AgentType
		want      models.PolicyStatus
	}{
		{"analyst in discovery", models.PhaseDiscovery, models.AgentAnalyst, models.PolicyStatusAllowed},
		{"coder in discovery", models.PhaseDiscovery, models.AgentCoder, models.PolicyStatusDenied},
		{"architect in design", models.PhaseDesign, models.AgentArchitect, models.PolicyStatusAllowed},
		{"coder in build", models.PhaseBuild, models.AgentCoder, models.PolicyStatusAllowed},
		{"architect in build", models.PhaseBuild, models.AgentArchitect, models.PolicyStatusAllowed},
		{"tester in build", models.PhaseBuild, models.AgentTester, models.PolicyStatusDenied},
		{"tester in validate", models.PhaseValidate, models.AgentTester, models.PolicyStatusAllowed},
		{"coder in validate", models.PhaseValidate, models.AgentCoder, models.PolicyStatusAllowed},
		{"deployer in launch", models.PhaseLaunch, models.AgentDeployer, models.PolicyStatusAllowed},
		{"analyst in launch", models.PhaseLaunch, models.AgentAnalyst, models.PolicyStatusDenied},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := memory.NewPersistence()
			seedProject(t, store, "p1", tt.phase)

			svc := NewService(store)

			decision := svc.Evaluate(context.Background(), "p1", tt.agentType)
			assert.Equal(t, tt.want, decision.Status)
			assert.Equal(t, tt.phase, decision.CurrentPhase)
		})
	}
}

func TestEvaluateOrchestratorAlwaysAllowed(t *testing.T) {
	store := memory.NewPersistence()
	svc := NewService(store)

	for _, phase := range []models.Phase{
		models.PhaseDiscovery, models.PhaseDesign, models.PhaseBuild, models.PhaseValidate, models.PhaseLaunch,
	} {
		seedProject(t, store, "p-"+string(phase), phase)

		decision := svc.Evaluate(context.Background(), "p-"+string(phase), models.AgentOrchestrator)
		assert.Equal(t, models.PolicyStatusAllowed, decision.Status, "phase %s", phase)
		assert.Contains(t, decision.AllowedAgentTypes, models.AgentOrchestrator)
	}
}

func TestEvaluateDeniesUnknownProject(t *testing.T) {
	svc := NewService(memory.NewPersistence())

	decision := svc.Evaluate(context.Background(), "missing", models.AgentCoder)
	assert.Equal(t, models.PolicyStatusDenied, decision.Status)
	assert.Equal(t, models.PolicyReasonUnknownProject, decision.ReasonCode)
}

func TestEvaluateDeniesUnknownAgentType(t *testing.T) {
	store := memory.NewPersistence()
	seedProject(t, store, "p1", models.PhaseBuild)

	svc := NewService(store)

	decision := svc.Evaluate(context.Background(), "p1", models.AgentType("wizard"))
	assert.Equal(t, models.PolicyStatusDenied, decision.Status)
	assert.Equal(t, models.PolicyReasonUnknownAgent, decision.ReasonCode)
}

func TestEvaluateUnknownPhaseDeniesAllButOrchestrator(t *testing.T) {
	store := memory.NewPersistence()
	seedProject(t, store, "p1", models.Phase("maintenance"))

	svc := NewService(store)

	decision := svc.Evaluate(context.Background(), "p1", models.AgentCoder)
	assert.Equal(t, models.PolicyStatusDenied, decision.Status)
	assert.Equal(t, models.PolicyReasonUnknownPhase, decision.ReasonCode)
	assert.Equal(t, []models.AgentType{models.AgentOrchestrator}, decision.AllowedAgentTypes)
}
