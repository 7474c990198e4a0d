package postgresql

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"

	"github.com/cadenzahq/cadenza/pkg/models"
	"github.com/cadenzahq/cadenza/pkg/persistence"
)

func (p *Persistence) SaveExecution(ctx context.Context, state *models.WorkflowExecutionState) error {
	steps, err := json.Marshal(state.Steps)
	if err != nil {
		return persistence.NewStoreError("SaveExecution", state.ID, err)
	}

	contextMap, err := json.Marshal(state.Context)
	if err != nil {
		return persistence.NewStoreError("SaveExecution", state.ID, err)
	}

	_, err = p.db.ExecContext(ctx, `
		INSERT INTO workflow_executions (id, workflow_id, project_id, status, current_step_index, steps, context, error, started_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (id) DO UPDATE SET
			status = EXCLUDED.status,
			current_step_index = EXCLUDED.current_step_index,
			steps = EXCLUDED.steps,
			context = EXCLUDED.context,
			error = EXCLUDED.error,
			updated_at = EXCLUDED.updated_at`,
		state.ID, state.WorkflowID, state.ProjectID, state.Status, state.CurrentStepIndex,
		steps, contextMap, nullString(state.Error), state.StartedAt, state.UpdatedAt)
	if err != nil {
		return persistence.NewStoreError("SaveExecution", state.ID, err)
	}

	return nil
}

func scanExecution(scanner interface{ Scan(...any) error }) (*models.WorkflowExecutionState, error) {
	var (
		state      models.WorkflowExecutionState
		steps      []byte
		contextMap []byte
		errText    sql.NullString
	)

	err := scanner.Scan(&state.ID, &state.WorkflowID, &state.ProjectID, &state.Status,
		&state.CurrentStepIndex, &steps, &contextMap, &errText, &state.StartedAt, &state.UpdatedAt)
	if err != nil {
		return nil, err
	}

	err = json.Unmarshal(steps, &state.Steps)
	if err != nil {
		return nil, err
	}

	err = json.Unmarshal(contextMap, &state.Context)
	if err != nil {
		return nil, err
	}

	state.Error = errText.String

	return &state, nil
}

func (p *Persistence) ExecutionByID(ctx context.Context, id string) (*models.WorkflowExecutionState, error) {
	state, err := scanExecution(p.db.QueryRowContext(ctx, `
		SELECT id, workflow_id, project_id, status, current_step_index, steps, context, error, started_at, updated_at
		FROM workflow_executions WHERE id = $1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, persistence.NewStoreError("ExecutionByID", id, persistence.ErrExecutionNotFound)
	}

	if err != nil {
		return nil, persistence.NewStoreError("ExecutionByID", id, err)
	}

	return state, nil
}

func (p *Persistence) ExecutionsByProject(ctx context.Context, projectID string) ([]*models.WorkflowExecutionState, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT id, workflow_id, project_id, status, current_step_index, steps, context, error, started_at, updated_at
		FROM workflow_executions WHERE project_id = $1 ORDER BY started_at`, projectID)
	if err != nil {
		return nil, persistence.NewStoreError("ExecutionsByProject", projectID, err)
	}
	defer rows.Close()

	out := make([]*models.WorkflowExecutionState, 0)

	for rows.Next() {
		state, err := scanExecution(rows)
		if err != nil {
			return nil, persistence.NewStoreError("ExecutionsByProject", projectID, err)
		}

		out = append(out, state)
	}

	return out, rows.Err()
}

func (p *Persistence) SaveWorkflowDefinition(ctx context.Context, def *models.WorkflowDefinition) error {
	steps, err := json.Marshal(def.Steps)
	if err != nil {
		return persistence.NewStoreError("SaveWorkflowDefinition", def.ID, err)
	}

	_, err = p.db.ExecContext(ctx, `
		INSERT INTO workflow_definitions (id, name, description, steps, created_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			description = EXCLUDED.description,
			steps = EXCLUDED.steps`,
		def.ID, def.Name, nullString(def.Description), steps, def.CreatedAt)
	if err != nil {
		return persistence.NewStoreError("SaveWorkflowDefinition", def.ID, err)
	}

	return nil
}

func scanDefinition(scanner interface{ Scan(...any) error }) (*models.WorkflowDefinition, error) {
	var (
		def         models.WorkflowDefinition
		description sql.NullString
		steps       []byte
	)

	err := scanner.Scan(&def.ID, &def.Name, &description, &steps, &def.CreatedAt)
	if err != nil {
		return nil, err
	}

	def.Description = description.String

	err = json.Unmarshal(steps, &def.Steps)
	if err != nil {
		return nil, err
	}

	return &def, nil
}

func (p *Persistence) WorkflowDefinitionByID(ctx context.Context, id string) (*models.WorkflowDefinition, error) {
	def, err := scanDefinition(p.db.QueryRowContext(ctx, `
		SELECT id, name, description, steps, created_at
		FROM workflow_definitions WHERE id = $1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, persistence.NewStoreError("WorkflowDefinitionByID", id, persistence.ErrWorkflowNotFound)
	}

	if err != nil {
		return nil, persistence.NewStoreError("WorkflowDefinitionByID", id, err)
	}

	return def, nil
}

func (p *Persistence) WorkflowDefinitions(ctx context.Context) ([]*models.WorkflowDefinition, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT id, name, description, steps, created_at
		FROM workflow_definitions ORDER BY id`)
	if err != nil {
		return nil, persistence.NewStoreError("WorkflowDefinitions", "", err)
	}
	defer rows.Close()

	out := make([]*models.WorkflowDefinition, 0)

	for rows.Next() {
		def, err := scanDefinition(rows)
		if err != nil {
			return nil, persistence.NewStoreError("WorkflowDefinitions", "", err)
		}

		out = append(out, def)
	}

	return out, rows.Err()
}
