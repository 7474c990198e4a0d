package contextstore

import (
	"context"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/cadenzahq/cadenza/pkg/models"
	"github.com/cadenzahq/cadenza/pkg/persistence"
	"github.com/cadenzahq/cadenza/pkg/persistence/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()

	return NewStore(memory.NewPersistence(), slog.Default())
}

func newArtifact(projectID, artifactType string) *models.ContextArtifact {
	return &models.ContextArtifact{
		ProjectID:       projectID,
		SourceAgentType: models.AgentAnalyst,
		ArtifactType:    artifactType,
		Content:         json.RawMessage(`{"summary":"x"}`),
	}
}

func TestPutAssignsIDAndTimestamp(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	artifact := newArtifact("p1", "requirements")

	id, err := store.Put(ctx, artifact)
	require.NoError(t, err)
	assert.NotEmpty(t, id)
	assert.Equal(t, id, artifact.ID)
	assert.False(t, artifact.CreatedAt.IsZero())

	got, err := store.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, []byte(artifact.Content), []byte(got.Content))
}

func TestPutRefusesOverwrite(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	artifact := newArtifact("p1", "requirements")

	id, err := store.Put(ctx, artifact)
	require.NoError(t, err)

	replacement := newArtifact("p1", "requirements")
	replacement.ID = id
	replacement.Content = json.RawMessage(`{"summary":"rewritten"}`)

	_, err = store.Put(ctx, replacement)
	require.ErrorIs(t, err, persistence.ErrArtifactImmutable)

	got, err := store.Get(ctx, id)
	require.NoError(t, err)
	assert.JSONEq(t, `{"summary":"x"}`, string(got.Content))
}

func TestGetAllPreservesOrder(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	first, err := store.Put(ctx, newArtifact("p1", "requirements"))
	require.NoError(t, err)

	second, err := store.Put(ctx, newArtifact("p1", "architecture"))
	require.NoError(t, err)

	got, err := store.GetAll(ctx, []string{second, first})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, second, got[0].ID)
	assert.Equal(t, first, got[1].ID)
}

func TestGetAllFailsOnAnyMissingID(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	id, err := store.Put(ctx, newArtifact("p1", "requirements"))
	require.NoError(t, err)

	_, err = store.GetAll(ctx, []string{id, "artifact-missing"})
	require.Error(t, err)
	assert.True(t, persistence.IsNotFound(err))
}

func TestByProjectScopesResults(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	_, err := store.Put(ctx, newArtifact("p1", "requirements"))
	require.NoError(t, err)

	_, err = store.Put(ctx, newArtifact("p2", "requirements"))
	require.NoError(t, err)

	got, err := store.ByProject(ctx, "p1")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "p1", got[0].ProjectID)
}
