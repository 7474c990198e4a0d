package file

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/cadenzahq/cadenza/pkg/models"
	"github.com/cadenzahq/cadenza/pkg/persistence"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestPersistence(t *testing.T) *Persistence {
	t.Helper()

	p := NewPersistence(t.TempDir())
	require.NoError(t, p.HealthCheck(context.Background()))

	return p
}

func TestNewPersistenceStripsScheme(t *testing.T) {
	dir := t.TempDir()

	p := NewPersistence("file://" + dir)
	require.NoError(t, p.HealthCheck(context.Background()))

	require.NoError(t, p.SaveProject(context.Background(), &models.Project{
		ID:           "p1",
		Name:         "checkout rewrite",
		Status:       models.ProjectStatusActive,
		CurrentPhase: models.PhaseDiscovery,
	}))

	_, err := os.Stat(filepath.Join(dir, "projects", "p1.json"))
	require.NoError(t, err)
}

func TestProjectRoundTrip(t *testing.T) {
	p := newTestPersistence(t)
	ctx := context.Background()

	project := &models.Project{
		ID:           "p1",
		Name:         "checkout rewrite",
		Status:       models.ProjectStatusActive,
		CurrentPhase: models.PhaseDesign,
		CreatedAt:    time.Now().UTC().Truncate(time.Second),
	}

	require.NoError(t, p.SaveProject(ctx, project))

	got, err := p.ProjectByID(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, project.Name, got.Name)
	assert.Equal(t, project.CurrentPhase, got.CurrentPhase)

	_, err = p.ProjectByID(ctx, "missing")
	assert.True(t, persistence.IsNotFound(err))
}

func TestSaveWritesNoPartialDocument(t *testing.T) {
	p := newTestPersistence(t)
	ctx := context.Background()

	require.NoError(t, p.SaveTask(ctx, &models.Task{
		ID:           "task-1",
		ProjectID:    "p1",
		AgentType:    models.AgentAnalyst,
		Instructions: "analyze",
		Status:       models.TaskStatusPending,
	}))

	// The temp file from the write-then-rename pair must be gone.
	entries, err := os.ReadDir(filepath.Join(p.root, "tasks"))
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "task-1.json", entries[0].Name())
}

func TestArtifactImmutableOnDisk(t *testing.T) {
	p := newTestPersistence(t)
	ctx := context.Background()

	artifact := &models.ContextArtifact{
		ID:              "artifact-1",
		ProjectID:       "p1",
		SourceAgentType: models.AgentAnalyst,
		ArtifactType:    "requirements",
	}

	require.NoError(t, p.SaveArtifact(ctx, artifact))
	assert.ErrorIs(t, p.SaveArtifact(ctx, artifact), persistence.ErrArtifactImmutable)
}

func TestListingsSurviveRestart(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	first := NewPersistence(dir)
	require.NoError(t, first.HealthCheck(ctx))

	require.NoError(t, first.SaveExecution(ctx, &models.WorkflowExecutionState{
		ID:         "exec-1",
		WorkflowID: "delivery",
		ProjectID:  "p1",
		Status:     models.ExecutionStatusPending,
		Context:    map[string]string{"requirements": "artifact-1"},
	}))

	// A fresh instance over the same root sees the state, as after a crash.
	second := NewPersistence(dir)

	state, err := second.ExecutionByID(ctx, "exec-1")
	require.NoError(t, err)
	assert.Equal(t, models.ExecutionStatusPending, state.Status)
	assert.Equal(t, "artifact-1", state.Context["requirements"])

	executions, err := second.ExecutionsByProject(ctx, "p1")
	require.NoError(t, err)
	assert.Len(t, executions, 1)
}

func TestListOnEmptyRootReturnsNoError(t *testing.T) {
	p := newTestPersistence(t)
	ctx := context.Background()

	projects, err := p.Projects(ctx)
	require.NoError(t, err)
	assert.Empty(t, projects)

	pending, err := p.PendingApprovals(ctx)
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestGateStateScopedPerAgent(t *testing.T) {
	p := newTestPersistence(t)
	ctx := context.Background()

	require.NoError(t, p.SaveBudget(ctx, &models.BudgetControl{
		ProjectID: "p1",
		AgentType: models.AgentCoder,
		Limit:     10,
		Used:      4,
	}))

	got, err := p.Budget(ctx, "p1", models.AgentCoder)
	require.NoError(t, err)
	assert.Equal(t, int64(4), got.Used)

	_, err = p.Budget(ctx, "p1", models.AgentTester)
	assert.ErrorIs(t, err, persistence.ErrBudgetNotFound)

	require.NoError(t, p.SaveCounter(ctx, &models.AutoApproveCounter{
		ProjectID: "p1",
		AgentType: models.AgentCoder,
		Limit:     5,
		Remaining: 5,
	}))

	counter, err := p.Counter(ctx, "p1", models.AgentCoder)
	require.NoError(t, err)
	assert.Equal(t, int64(5), counter.Remaining)
}
