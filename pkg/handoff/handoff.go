// Package handoff validates structured data transfers between phases and
// records accepted payloads as context artifacts.
package handoff

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/cadenzahq/cadenza/pkg/contextstore"
	"github.com/cadenzahq/cadenza/pkg/models"
	"github.com/xeipuuv/gojsonschema"
)

// ValidationError reports a payload rejected by its schema, with one entry
// per violation.
type ValidationError struct {
	HandoffType string
	Violations  []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("handoff payload for %q failed validation: %s",
		e.HandoffType, strings.Join(e.Violations, "; "))
}

// UnknownTypeError reports a handoff type with no registered schema. Unknown
// types are rejected, never passed through unvalidated.
type UnknownTypeError struct {
	HandoffType string
}

func (e *UnknownTypeError) Error() string {
	return fmt.Sprintf("no schema registered for handoff type %q", e.HandoffType)
}

// Manager validates and applies handoffs.
type Manager struct {
	registry *SchemaRegistry
	store    *contextstore.Store
	logger   *slog.Logger
}

func NewManager(registry *SchemaRegistry, store *contextstore.Store, logger *slog.Logger) *Manager {
	return &Manager{
		registry: registry,
		store:    store,
		logger:   logger.With("module", "handoff"),
	}
}

// Validate checks the payload content against the schema registered for its
// handoff type.
func (m *Manager) Validate(payload *models.HandoffPayload) error {
	schema, ok := m.registry.Schema(payload.HandoffType)
	if !ok {
		return &UnknownTypeError{HandoffType: payload.HandoffType}
	}

	result, err := schema.Validate(gojsonschema.NewBytesLoader(payload.Content))
	if err != nil {
		return &ValidationError{
			HandoffType: payload.HandoffType,
			Violations:  []string{err.Error()},
		}
	}

	if result.Valid() {
		return nil
	}

	violations := make([]string, 0, len(result.Errors()))
	for _, violation := range result.Errors() {
		violations = append(violations, violation.String())
	}

	return &ValidationError{HandoffType: payload.HandoffType, Violations: violations}
}

// ValidateOutput screens step output against the schema registered for its
// artifact type. Types without a registered schema pass: the registry binds
// the declared phase handoffs, not every artifact key a workflow may produce.
func (m *Manager) ValidateOutput(payload *models.HandoffPayload) error {
	if _, ok := m.registry.Schema(payload.HandoffType); !ok {
		return nil
	}

	return m.Validate(payload)
}

// Apply validates the payload and stores it as an immutable artifact. The
// stored content is the payload bytes unchanged.
func (m *Manager) Apply(ctx context.Context, payload *models.HandoffPayload) (*models.ContextArtifact, error) {
	err := m.Validate(payload)
	if err != nil {
		m.logger.WarnContext(ctx, "Handoff rejected",
			"project_id", payload.ProjectID,
			"handoff_type", payload.HandoffType,
			"error", err)

		return nil, err
	}

	artifact := &models.ContextArtifact{
		ProjectID:       payload.ProjectID,
		SourceAgentType: payload.SourceAgentType,
		ArtifactType:    payload.HandoffType,
		Content:         payload.Content,
	}

	_, err = m.store.Put(ctx, artifact)
	if err != nil {
		return nil, err
	}

	m.logger.InfoContext(ctx, "Handoff accepted",
		"project_id", payload.ProjectID,
		"handoff_type", payload.HandoffType,
		"artifact_id", artifact.ID,
		"source", payload.SourceAgentType,
		"target", payload.TargetAgentType)

	return artifact, nil
}
