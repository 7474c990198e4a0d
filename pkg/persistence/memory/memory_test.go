package memory

import (
	"context"
	"testing"
	"time"

	"github.com/cadenzahq/cadenza/pkg/models"
	"github.com/cadenzahq/cadenza/pkg/persistence"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProjectRoundTripIsolatesCaller(t *testing.T) {
	store := NewPersistence()
	ctx := context.Background()

	project := &models.Project{
		ID:           "p1",
		Name:         "checkout rewrite",
		Status:       models.ProjectStatusActive,
		CurrentPhase: models.PhaseDiscovery,
		CreatedAt:    time.Now().UTC(),
	}

	require.NoError(t, store.SaveProject(ctx, project))

	// Mutating the saved value must not leak into the store.
	project.Name = "mutated"

	got, err := store.ProjectByID(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, "checkout rewrite", got.Name)

	// Nor must mutating a read value.
	got.Status = models.ProjectStatusCompleted

	again, err := store.ProjectByID(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, models.ProjectStatusActive, again.Status)
}

func TestProjectsSortedByCreation(t *testing.T) {
	store := NewPersistence()
	ctx := context.Background()

	base := time.Now().UTC()

	for i, id := range []string{"p3", "p1", "p2"} {
		require.NoError(t, store.SaveProject(ctx, &models.Project{
			ID:           id,
			Name:         "project " + id,
			Status:       models.ProjectStatusActive,
			CurrentPhase: models.PhaseDiscovery,
			CreatedAt:    base.Add(time.Duration(3-i) * time.Minute),
		}))
	}

	projects, err := store.Projects(ctx)
	require.NoError(t, err)
	require.Len(t, projects, 3)
	assert.Equal(t, "p2", projects[0].ID)
	assert.Equal(t, "p1", projects[1].ID)
	assert.Equal(t, "p3", projects[2].ID)
}

func TestMissingEntitiesReportNotFound(t *testing.T) {
	store := NewPersistence()
	ctx := context.Background()

	_, err := store.ProjectByID(ctx, "nope")
	assert.True(t, persistence.IsNotFound(err))
	assert.ErrorIs(t, err, persistence.ErrProjectNotFound)

	_, err = store.TaskByID(ctx, "nope")
	assert.ErrorIs(t, err, persistence.ErrTaskNotFound)

	_, err = store.ArtifactByID(ctx, "nope")
	assert.ErrorIs(t, err, persistence.ErrArtifactNotFound)

	_, err = store.ApprovalByID(ctx, "nope")
	assert.ErrorIs(t, err, persistence.ErrApprovalNotFound)

	_, err = store.Budget(ctx, "p1", models.AgentCoder)
	assert.ErrorIs(t, err, persistence.ErrBudgetNotFound)

	_, err = store.Counter(ctx, "p1", models.AgentCoder)
	assert.ErrorIs(t, err, persistence.ErrCounterNotFound)

	_, err = store.ExecutionByID(ctx, "nope")
	assert.ErrorIs(t, err, persistence.ErrExecutionNotFound)

	_, err = store.WorkflowDefinitionByID(ctx, "nope")
	assert.ErrorIs(t, err, persistence.ErrWorkflowNotFound)
}

func TestSaveArtifactRefusesOverwrite(t *testing.T) {
	store := NewPersistence()
	ctx := context.Background()

	artifact := &models.ContextArtifact{
		ID:              "artifact-1",
		ProjectID:       "p1",
		SourceAgentType: models.AgentAnalyst,
		ArtifactType:    "requirements",
		CreatedAt:       time.Now().UTC(),
	}

	require.NoError(t, store.SaveArtifact(ctx, artifact))
	assert.ErrorIs(t, store.SaveArtifact(ctx, artifact), persistence.ErrArtifactImmutable)
}

func TestPendingApprovalsFiltersResolved(t *testing.T) {
	store := NewPersistence()
	ctx := context.Background()

	base := time.Now().UTC()

	require.NoError(t, store.SaveApproval(ctx, &models.ApprovalRequest{
		ID:        "approval-1",
		ProjectID: "p1",
		Status:    models.ApprovalStatusPending,
		CreatedAt: base,
	}))
	require.NoError(t, store.SaveApproval(ctx, &models.ApprovalRequest{
		ID:        "approval-2",
		ProjectID: "p1",
		Status:    models.ApprovalStatusApproved,
		CreatedAt: base.Add(time.Second),
	}))
	require.NoError(t, store.SaveApproval(ctx, &models.ApprovalRequest{
		ID:        "approval-3",
		ProjectID: "p2",
		Status:    models.ApprovalStatusPending,
		CreatedAt: base.Add(2 * time.Second),
	}))

	pending, err := store.PendingApprovals(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 2)
	assert.Equal(t, "approval-1", pending[0].ID)
	assert.Equal(t, "approval-3", pending[1].ID)

	scoped, err := store.PendingApprovalsByProject(ctx, "p1")
	require.NoError(t, err)
	require.Len(t, scoped, 1)
	assert.Equal(t, "approval-1", scoped[0].ID)
}

func TestBudgetAndCounterScopedByProjectAndAgent(t *testing.T) {
	store := NewPersistence()
	ctx := context.Background()

	require.NoError(t, store.SaveBudget(ctx, &models.BudgetControl{
		ProjectID: "p1",
		AgentType: models.AgentCoder,
		Limit:     10,
		Used:      3,
	}))

	got, err := store.Budget(ctx, "p1", models.AgentCoder)
	require.NoError(t, err)
	assert.Equal(t, int64(3), got.Used)

	_, err = store.Budget(ctx, "p1", models.AgentTester)
	assert.ErrorIs(t, err, persistence.ErrBudgetNotFound)

	_, err = store.Budget(ctx, "p2", models.AgentCoder)
	assert.ErrorIs(t, err, persistence.ErrBudgetNotFound)

	require.NoError(t, store.SaveCounter(ctx, &models.AutoApproveCounter{
		ProjectID: "p1",
		AgentType: models.AgentCoder,
		Limit:     5,
		Remaining: 2,
	}))

	counter, err := store.Counter(ctx, "p1", models.AgentCoder)
	require.NoError(t, err)
	assert.Equal(t, int64(2), counter.Remaining)
}

func TestActiveStopsExcludesCleared(t *testing.T) {
	store := NewPersistence()
	ctx := context.Background()

	require.NoError(t, store.SaveStop(ctx, &models.EmergencyStop{
		ID:        "stop-1",
		Active:    true,
		Reason:    "incident",
		CreatedAt: time.Now().UTC(),
	}))
	require.NoError(t, store.SaveStop(ctx, &models.EmergencyStop{
		ID:        "stop-2",
		Active:    false,
		Reason:    "resolved",
		CreatedAt: time.Now().UTC(),
	}))

	active, err := store.ActiveStops(ctx)
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, "stop-1", active[0].ID)
}

func TestExecutionsByProject(t *testing.T) {
	store := NewPersistence()
	ctx := context.Background()

	base := time.Now().UTC()

	require.NoError(t, store.SaveExecution(ctx, &models.WorkflowExecutionState{
		ID:        "exec-2",
		ProjectID: "p1",
		Status:    models.ExecutionStatusRunning,
		StartedAt: base.Add(time.Second),
	}))
	require.NoError(t, store.SaveExecution(ctx, &models.WorkflowExecutionState{
		ID:        "exec-1",
		ProjectID: "p1",
		Status:    models.ExecutionStatusCompleted,
		StartedAt: base,
	}))
	require.NoError(t, store.SaveExecution(ctx, &models.WorkflowExecutionState{
		ID:        "exec-3",
		ProjectID: "p2",
		Status:    models.ExecutionStatusRunning,
		StartedAt: base,
	}))

	executions, err := store.ExecutionsByProject(ctx, "p1")
	require.NoError(t, err)
	require.Len(t, executions, 2)
	assert.Equal(t, "exec-1", executions[0].ID)
	assert.Equal(t, "exec-2", executions[1].ID)
}
