// Package postgresql provides PostgreSQL persistence for orchestration state.
package postgresql

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cadenzahq/cadenza/pkg/models"
	"github.com/cadenzahq/cadenza/pkg/persistence"
	"github.com/cadenzahq/cadenza/pkg/persistence/sqlbase"
	_ "github.com/lib/pq" // PostgreSQL driver
)

// Persistence implements the persistence layer for PostgreSQL.
type Persistence struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewPersistence connects, runs migrations and returns the persistence layer.
func NewPersistence(ctx context.Context, logger *slog.Logger, databaseURL string) (*Persistence, error) {
	database, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to PostgreSQL database: %w", err)
	}

	err = database.PingContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	migrationManager := sqlbase.NewMigrationManager(logger, database, migrations())

	err = migrationManager.RunMigrations(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return &Persistence{db: database, logger: logger}, nil
}

// Close closes the database connection.
func (p *Persistence) Close(_ context.Context) error {
	if p.db != nil {
		err := p.db.Close()
		if err != nil {
			return fmt.Errorf("failed to close database connection: %w", err)
		}
	}

	return nil
}

// HealthCheck verifies the database connection is healthy.
func (p *Persistence) HealthCheck(ctx context.Context) error {
	err := p.db.PingContext(ctx)
	if err != nil {
		return fmt.Errorf("failed to ping database: %w", err)
	}

	return nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}

	return sql.NullTime{Time: *t, Valid: true}
}

func (p *Persistence) SaveProject(ctx context.Context, project *models.Project) error {
	metadata, err := json.Marshal(project.Metadata)
	if err != nil {
		return persistence.NewStoreError("SaveProject", project.ID, err)
	}

	_, err = p.db.ExecContext(ctx, `
		INSERT INTO projects (id, name, status, current_phase, metadata, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			status = EXCLUDED.status,
			current_phase = EXCLUDED.current_phase,
			metadata = EXCLUDED.metadata,
			updated_at = EXCLUDED.updated_at`,
		project.ID, project.Name, project.Status, project.CurrentPhase,
		metadata, project.CreatedAt, project.UpdatedAt)
	if err != nil {
		return persistence.NewStoreError("SaveProject", project.ID, err)
	}

	return nil
}

func (p *Persistence) ProjectByID(ctx context.Context, id string) (*models.Project, error) {
	var (
		project  models.Project
		metadata []byte
	)

	err := p.db.QueryRowContext(ctx, `
		SELECT id, name, status, current_phase, metadata, created_at, updated_at
		FROM projects WHERE id = $1`, id).
		Scan(&project.ID, &project.Name, &project.Status, &project.CurrentPhase,
			&metadata, &project.CreatedAt, &project.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, persistence.NewStoreError("ProjectByID", id, persistence.ErrProjectNotFound)
	}

	if err != nil {
		return nil, persistence.NewStoreError("ProjectByID", id, err)
	}

	if len(metadata) > 0 {
		err = json.Unmarshal(metadata, &project.Metadata)
		if err != nil {
			return nil, persistence.NewStoreError("ProjectByID", id, err)
		}
	}

	return &project, nil
}

func (p *Persistence) Projects(ctx context.Context) ([]*models.Project, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT id, name, status, current_phase, metadata, created_at, updated_at
		FROM projects ORDER BY created_at`)
	if err != nil {
		return nil, persistence.NewStoreError("Projects", "", err)
	}
	defer rows.Close()

	out := make([]*models.Project, 0)

	for rows.Next() {
		var (
			project  models.Project
			metadata []byte
		)

		err = rows.Scan(&project.ID, &project.Name, &project.Status, &project.CurrentPhase,
			&metadata, &project.CreatedAt, &project.UpdatedAt)
		if err != nil {
			return nil, persistence.NewStoreError("Projects", "", err)
		}

		if len(metadata) > 0 {
			err = json.Unmarshal(metadata, &project.Metadata)
			if err != nil {
				return nil, persistence.NewStoreError("Projects", project.ID, err)
			}
		}

		out = append(out, &project)
	}

	return out, rows.Err()
}

func (p *Persistence) SaveTask(ctx context.Context, task *models.Task) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO tasks (id, project_id, agent_type, instructions, status, artifact_type, estimated_cost, failure_reason, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (id) DO UPDATE SET
			status = EXCLUDED.status,
			artifact_type = EXCLUDED.artifact_type,
			failure_reason = EXCLUDED.failure_reason,
			updated_at = EXCLUDED.updated_at`,
		task.ID, task.ProjectID, task.AgentType, task.Instructions, task.Status,
		nullString(task.ArtifactType), task.EstimatedCost, nullString(task.FailureReason), task.CreatedAt, task.UpdatedAt)
	if err != nil {
		return persistence.NewStoreError("SaveTask", task.ID, err)
	}

	return nil
}

func scanTask(scanner interface{ Scan(...any) error }) (*models.Task, error) {
	var (
		task          models.Task
		artifactType  sql.NullString
		failureReason sql.NullString
	)

	err := scanner.Scan(&task.ID, &task.ProjectID, &task.AgentType, &task.Instructions,
		&task.Status, &artifactType, &task.EstimatedCost, &failureReason, &task.CreatedAt, &task.UpdatedAt)
	if err != nil {
		return nil, err
	}

	task.ArtifactType = artifactType.String
	task.FailureReason = failureReason.String

	return &task, nil
}

func (p *Persistence) TaskByID(ctx context.Context, id string) (*models.Task, error) {
	task, err := scanTask(p.db.QueryRowContext(ctx, `
		SELECT id, project_id, agent_type, instructions, status, artifact_type, estimated_cost, failure_reason, created_at, updated_at
		FROM tasks WHERE id = $1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, persistence.NewStoreError("TaskByID", id, persistence.ErrTaskNotFound)
	}

	if err != nil {
		return nil, persistence.NewStoreError("TaskByID", id, err)
	}

	return task, nil
}

func (p *Persistence) TasksByProject(ctx context.Context, projectID string) ([]*models.Task, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT id, project_id, agent_type, instructions, status, artifact_type, estimated_cost, failure_reason, created_at, updated_at
		FROM tasks WHERE project_id = $1 ORDER BY created_at`, projectID)
	if err != nil {
		return nil, persistence.NewStoreError("TasksByProject", projectID, err)
	}
	defer rows.Close()

	out := make([]*models.Task, 0)

	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, persistence.NewStoreError("TasksByProject", projectID, err)
		}

		out = append(out, task)
	}

	return out, rows.Err()
}

func (p *Persistence) SaveArtifact(ctx context.Context, artifact *models.ContextArtifact) error {
	result, err := p.db.ExecContext(ctx, `
		INSERT INTO artifacts (id, project_id, source_agent_type, artifact_type, content, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO NOTHING`,
		artifact.ID, artifact.ProjectID, artifact.SourceAgentType, artifact.ArtifactType,
		[]byte(artifact.Content), artifact.CreatedAt)
	if err != nil {
		return persistence.NewStoreError("SaveArtifact", artifact.ID, err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return persistence.NewStoreError("SaveArtifact", artifact.ID, err)
	}

	if affected == 0 {
		return persistence.NewStoreError("SaveArtifact", artifact.ID, persistence.ErrArtifactImmutable)
	}

	return nil
}

func scanArtifact(scanner interface{ Scan(...any) error }) (*models.ContextArtifact, error) {
	var (
		artifact models.ContextArtifact
		content  []byte
	)

	err := scanner.Scan(&artifact.ID, &artifact.ProjectID, &artifact.SourceAgentType,
		&artifact.ArtifactType, &content, &artifact.CreatedAt)
	if err != nil {
		return nil, err
	}

	artifact.Content = json.RawMessage(content)

	return &artifact, nil
}

func (p *Persistence) ArtifactByID(ctx context.Context, id string) (*models.ContextArtifact, error) {
	artifact, err := scanArtifact(p.db.QueryRowContext(ctx, `
		SELECT id, project_id, source_agent_type, artifact_type, content, created_at
		FROM artifacts WHERE id = $1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, persistence.NewStoreError("ArtifactByID", id, persistence.ErrArtifactNotFound)
	}

	if err != nil {
		return nil, persistence.NewStoreError("ArtifactByID", id, err)
	}

	return artifact, nil
}

func (p *Persistence) ArtifactsByIDs(ctx context.Context, ids []string) ([]*models.ContextArtifact, error) {
	out := make([]*models.ContextArtifact, 0, len(ids))

	for _, id := range ids {
		artifact, err := p.ArtifactByID(ctx, id)
		if err != nil {
			return nil, err
		}

		out = append(out, artifact)
	}

	return out, nil
}

func (p *Persistence) ArtifactsByProject(ctx context.Context, projectID string) ([]*models.ContextArtifact, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT id, project_id, source_agent_type, artifact_type, content, created_at
		FROM artifacts WHERE project_id = $1 ORDER BY created_at`, projectID)
	if err != nil {
		return nil, persistence.NewStoreError("ArtifactsByProject", projectID, err)
	}
	defer rows.Close()

	out := make([]*models.ContextArtifact, 0)

	for rows.Next() {
		artifact, err := scanArtifact(rows)
		if err != nil {
			return nil, persistence.NewStoreError("ArtifactsByProject", projectID, err)
		}

		out = append(out, artifact)
	}

	return out, rows.Err()
}
