// Package contextstore persists the immutable artifacts produced by each
// stage and serves them back by id-set or by project.
package contextstore

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/cadenzahq/cadenza/pkg/models"
	"github.com/cadenzahq/cadenza/pkg/persistence"
	"github.com/google/uuid"
)

// Store wraps the artifact repository. Artifacts are write-once: newer output
// supersedes an older artifact under a fresh id.
type Store struct {
	artifacts persistence.ArtifactRepository
	logger    *slog.Logger
}

// NewStore creates a context store backed by the given repository.
func NewStore(artifacts persistence.ArtifactRepository, logger *slog.Logger) *Store {
	return &Store{
		artifacts: artifacts,
		logger:    logger.With("module", "contextstore"),
	}
}

// Put persists a new artifact and returns its id. A missing id is assigned;
// timestamps are set on write.
func (s *Store) Put(ctx context.Context, artifact *models.ContextArtifact) (string, error) {
	if artifact.ID == "" {
		artifact.ID = "artifact-" + uuid.New().String()
	}

	if artifact.CreatedAt.IsZero() {
		artifact.CreatedAt = time.Now().UTC()
	}

	err := s.artifacts.SaveArtifact(ctx, artifact)
	if err != nil {
		return "", fmt.Errorf("failed to persist artifact %s: %w", artifact.ID, err)
	}

	s.logger.DebugContext(ctx, "Stored artifact",
		"artifact_id", artifact.ID,
		"project_id", artifact.ProjectID,
		"artifact_type", artifact.ArtifactType)

	return artifact.ID, nil
}

// Get returns a single artifact by id.
func (s *Store) Get(ctx context.Context, id string) (*models.ContextArtifact, error) {
	return s.artifacts.ArtifactByID(ctx, id)
}

// GetAll returns the artifacts for the given id-set, in order. A single
// missing id fails the whole lookup.
func (s *Store) GetAll(ctx context.Context, ids []string) ([]*models.ContextArtifact, error) {
	return s.artifacts.ArtifactsByIDs(ctx, ids)
}

// ByProject returns every artifact recorded for a project.
func (s *Store) ByProject(ctx context.Context, projectID string) ([]*models.ContextArtifact, error) {
	return s.artifacts.ArtifactsByProject(ctx, projectID)
}
