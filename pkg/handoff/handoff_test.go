package handoff

import (
	"context"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/cadenzahq/cadenza/pkg/contextstore"
	"github.com/cadenzahq/cadenza/pkg/models"
	"github.com/cadenzahq/cadenza/pkg/persistence/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestManager(t *testing.T) (*Manager, *contextstore.Store) {
	t.Helper()

	store := contextstore.NewStore(memory.NewPersistence(), slog.Default())

	return NewManager(NewDefaultRegistry(), store, slog.Default()), store
}

func TestValidateAcceptsWellFormedPayload(t *testing.T) {
	manager, _ := newTestManager(t)

	err := manager.Validate(&models.HandoffPayload{
		ProjectID:       "p1",
		SourceAgentType: models.AgentAnalyst,
		TargetAgentType: models.AgentArchitect,
		HandoffType:     "requirements",
		Content:         json.RawMessage(`{"summary":"checkout flow","requirements":["support refunds"]}`),
	})
	require.NoError(t, err)
}

func TestValidateReportsEveryViolation(t *testing.T) {
	manager, _ := newTestManager(t)

	err := manager.Validate(&models.HandoffPayload{
		ProjectID:       "p1",
		SourceAgentType: models.AgentAnalyst,
		TargetAgentType: models.AgentArchitect,
		HandoffType:     "requirements",
		Content:         json.RawMessage(`{"requirements":[]}`),
	})

	var validationErr *ValidationError

	require.ErrorAs(t, err, &validationErr)
	assert.Equal(t, "requirements", validationErr.HandoffType)
	// Missing summary and an empty requirements list are both reported.
	assert.Len(t, validationErr.Violations, 2)
}

func TestValidateRejectsUnknownType(t *testing.T) {
	manager, _ := newTestManager(t)

	err := manager.Validate(&models.HandoffPayload{
		ProjectID:   "p1",
		HandoffType: "vibes",
		Content:     json.RawMessage(`{}`),
	})

	var unknownErr *UnknownTypeError

	require.ErrorAs(t, err, &unknownErr)
}

func TestValidateOutputChecksRegisteredTypesOnly(t *testing.T) {
	manager, _ := newTestManager(t)

	err := manager.ValidateOutput(&models.HandoffPayload{
		ProjectID:       "p1",
		SourceAgentType: models.AgentAnalyst,
		HandoffType:     "requirements",
		Content:         json.RawMessage(`{"nonsense":true}`),
	})

	var validationErr *ValidationError

	require.ErrorAs(t, err, &validationErr)

	// Artifact types outside the registry are not schema-bound.
	err = manager.ValidateOutput(&models.HandoffPayload{
		ProjectID:       "p1",
		SourceAgentType: models.AgentAnalyst,
		HandoffType:     "scratch_notes",
		Content:         json.RawMessage(`{"nonsense":true}`),
	})
	require.NoError(t, err)
}

func TestApplyStoresContentByteForByte(t *testing.T) {
	manager, store := newTestManager(t)
	ctx := context.Background()

	content := json.RawMessage(`{"summary":"checkout flow","requirements":["refunds","3ds"],"constraints":["pci"]}`)

	artifact, err := manager.Apply(ctx, &models.HandoffPayload{
		ProjectID:       "p1",
		SourceAgentType: models.AgentAnalyst,
		TargetAgentType: models.AgentArchitect,
		HandoffType:     "requirements",
		Content:         content,
	})
	require.NoError(t, err)

	stored, err := store.Get(ctx, artifact.ID)
	require.NoError(t, err)
	assert.Equal(t, []byte(content), []byte(stored.Content))
	assert.Equal(t, "requirements", stored.ArtifactType)
	assert.Equal(t, models.AgentAnalyst, stored.SourceAgentType)
}

func TestApplyRejectedPayloadStoresNothing(t *testing.T) {
	manager, store := newTestManager(t)
	ctx := context.Background()

	_, err := manager.Apply(ctx, &models.HandoffPayload{
		ProjectID:       "p1",
		SourceAgentType: models.AgentTester,
		TargetAgentType: models.AgentDeployer,
		HandoffType:     "test_report",
		Content:         json.RawMessage(`{"total":"many"}`),
	})
	require.Error(t, err)

	artifacts, err := store.ByProject(ctx, "p1")
	require.NoError(t, err)
	assert.Empty(t, artifacts)
}

func TestRegisterRejectsInvalidSchema(t *testing.T) {
	registry := NewSchemaRegistry()

	err := registry.Register("broken", `{"type": 42}`)
	require.Error(t, err)
}
