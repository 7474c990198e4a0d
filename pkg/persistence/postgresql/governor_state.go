package postgresql

import (
	"context"
	"database/sql"
	"errors"

	"github.com/cadenzahq/cadenza/pkg/models"
	"github.com/cadenzahq/cadenza/pkg/persistence"
)

func (p *Persistence) SaveApproval(ctx context.Context, request *models.ApprovalRequest) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO approval_requests (id, task_id, project_id, agent_type, kind, status, comment, created_at, expires_at, resolved_by, resolved_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (id) DO UPDATE SET
			status = EXCLUDED.status,
			comment = EXCLUDED.comment,
			resolved_by = EXCLUDED.resolved_by,
			resolved_at = EXCLUDED.resolved_at`,
		request.ID, request.TaskID, request.ProjectID, request.AgentType, request.Kind,
		request.Status, nullString(request.Comment), request.CreatedAt, request.ExpiresAt,
		nullString(request.ResolvedBy), nullTime(request.ResolvedAt))
	if err != nil {
		return persistence.NewStoreError("SaveApproval", request.ID, err)
	}

	return nil
}

func scanApproval(scanner interface{ Scan(...any) error }) (*models.ApprovalRequest, error) {
	var (
		request    models.ApprovalRequest
		comment    sql.NullString
		resolvedBy sql.NullString
		resolvedAt sql.NullTime
	)

	err := scanner.Scan(&request.ID, &request.TaskID, &request.ProjectID, &request.AgentType,
		&request.Kind, &request.Status, &comment, &request.CreatedAt, &request.ExpiresAt,
		&resolvedBy, &resolvedAt)
	if err != nil {
		return nil, err
	}

	request.Comment = comment.String
	request.ResolvedBy = resolvedBy.String

	if resolvedAt.Valid {
		request.ResolvedAt = &resolvedAt.Time
	}

	return &request, nil
}

func (p *Persistence) ApprovalByID(ctx context.Context, id string) (*models.ApprovalRequest, error) {
	request, err := scanApproval(p.db.QueryRowContext(ctx, `
		SELECT id, task_id, project_id, agent_type, kind, status, comment, created_at, expires_at, resolved_by, resolved_at
		FROM approval_requests WHERE id = $1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, persistence.NewStoreError("ApprovalByID", id, persistence.ErrApprovalNotFound)
	}

	if err != nil {
		return nil, persistence.NewStoreError("ApprovalByID", id, err)
	}

	return request, nil
}

func (p *Persistence) pendingApprovals(ctx context.Context, query string, args ...any) ([]*models.ApprovalRequest, error) {
	rows, err := p.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, persistence.NewStoreError("PendingApprovals", "", err)
	}
	defer rows.Close()

	out := make([]*models.ApprovalRequest, 0)

	for rows.Next() {
		request, err := scanApproval(rows)
		if err != nil {
			return nil, persistence.NewStoreError("PendingApprovals", "", err)
		}

		out = append(out, request)
	}

	return out, rows.Err()
}

func (p *Persistence) PendingApprovals(ctx context.Context) ([]*models.ApprovalRequest, error) {
	return p.pendingApprovals(ctx, `
		SELECT id, task_id, project_id, agent_type, kind, status, comment, created_at, expires_at, resolved_by, resolved_at
		FROM approval_requests WHERE status = 'pending' ORDER BY created_at`)
}

func (p *Persistence) PendingApprovalsByProject(ctx context.Context, projectID string) ([]*models.ApprovalRequest, error) {
	return p.pendingApprovals(ctx, `
		SELECT id, task_id, project_id, agent_type, kind, status, comment, created_at, expires_at, resolved_by, resolved_at
		FROM approval_requests WHERE status = 'pending' AND project_id = $1 ORDER BY created_at`, projectID)
}

func (p *Persistence) Budget(ctx context.Context, projectID string, agentType models.AgentType) (*models.BudgetControl, error) {
	var budget models.BudgetControl

	err := p.db.QueryRowContext(ctx, `
		SELECT project_id, agent_type, limit_amount, used_amount, updated_at
		FROM budget_controls WHERE project_id = $1 AND agent_type = $2`, projectID, agentType).
		Scan(&budget.ProjectID, &budget.AgentType, &budget.Limit, &budget.Used, &budget.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, persistence.NewStoreError("Budget", projectID, persistence.ErrBudgetNotFound)
	}

	if err != nil {
		return nil, persistence.NewStoreError("Budget", projectID, err)
	}

	return &budget, nil
}

func (p *Persistence) SaveBudget(ctx context.Context, budget *models.BudgetControl) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO budget_controls (project_id, agent_type, limit_amount, used_amount, updated_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (project_id, agent_type) DO UPDATE SET
			limit_amount = EXCLUDED.limit_amount,
			used_amount = EXCLUDED.used_amount,
			updated_at = EXCLUDED.updated_at`,
		budget.ProjectID, budget.AgentType, budget.Limit, budget.Used, budget.UpdatedAt)
	if err != nil {
		return persistence.NewStoreError("SaveBudget", budget.ProjectID, err)
	}

	return nil
}

func (p *Persistence) Counter(ctx context.Context, projectID string, agentType models.AgentType) (*models.AutoApproveCounter, error) {
	var counter models.AutoApproveCounter

	err := p.db.QueryRowContext(ctx, `
		SELECT project_id, agent_type, limit_count, remaining, updated_at
		FROM auto_approve_counters WHERE project_id = $1 AND agent_type = $2`, projectID, agentType).
		Scan(&counter.ProjectID, &counter.AgentType, &counter.Limit, &counter.Remaining, &counter.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, persistence.NewStoreError("Counter", projectID, persistence.ErrCounterNotFound)
	}

	if err != nil {
		return nil, persistence.NewStoreError("Counter", projectID, err)
	}

	return &counter, nil
}

func (p *Persistence) SaveCounter(ctx context.Context, counter *models.AutoApproveCounter) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO auto_approve_counters (project_id, agent_type, limit_count, remaining, updated_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (project_id, agent_type) DO UPDATE SET
			limit_count = EXCLUDED.limit_count,
			remaining = EXCLUDED.remaining,
			updated_at = EXCLUDED.updated_at`,
		counter.ProjectID, counter.AgentType, counter.Limit, counter.Remaining, counter.UpdatedAt)
	if err != nil {
		return persistence.NewStoreError("SaveCounter", counter.ProjectID, err)
	}

	return nil
}

func (p *Persistence) SaveStop(ctx context.Context, stop *models.EmergencyStop) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO emergency_stops (id, project_id, agent_type, reason, triggered_by, active, created_at, cleared_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (id) DO UPDATE SET
			active = EXCLUDED.active,
			cleared_at = EXCLUDED.cleared_at`,
		stop.ID, nullString(stop.ProjectID), nullString(string(stop.AgentType)), stop.Reason,
		stop.TriggeredBy, stop.Active, stop.CreatedAt, nullTime(stop.ClearedAt))
	if err != nil {
		return persistence.NewStoreError("SaveStop", stop.ID, err)
	}

	return nil
}

func scanStop(scanner interface{ Scan(...any) error }) (*models.EmergencyStop, error) {
	var (
		stop      models.EmergencyStop
		projectID sql.NullString
		agentType sql.NullString
		clearedAt sql.NullTime
	)

	err := scanner.Scan(&stop.ID, &projectID, &agentType, &stop.Reason, &stop.TriggeredBy,
		&stop.Active, &stop.CreatedAt, &clearedAt)
	if err != nil {
		return nil, err
	}

	stop.ProjectID = projectID.String
	stop.AgentType = models.AgentType(agentType.String)

	if clearedAt.Valid {
		stop.ClearedAt = &clearedAt.Time
	}

	return &stop, nil
}

func (p *Persistence) StopByID(ctx context.Context, id string) (*models.EmergencyStop, error) {
	stop, err := scanStop(p.db.QueryRowContext(ctx, `
		SELECT id, project_id, agent_type, reason, triggered_by, active, created_at, cleared_at
		FROM emergency_stops WHERE id = $1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, persistence.NewStoreError("StopByID", id, persistence.ErrStopNotFound)
	}

	if err != nil {
		return nil, persistence.NewStoreError("StopByID", id, err)
	}

	return stop, nil
}

func (p *Persistence) ActiveStops(ctx context.Context) ([]*models.EmergencyStop, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT id, project_id, agent_type, reason, triggered_by, active, created_at, cleared_at
		FROM emergency_stops WHERE active = true ORDER BY created_at`)
	if err != nil {
		return nil, persistence.NewStoreError("ActiveStops", "", err)
	}
	defer rows.Close()

	out := make([]*models.EmergencyStop, 0)

	for rows.Next() {
		stop, err := scanStop(rows)
		if err != nil {
			return nil, persistence.NewStoreError("ActiveStops", "", err)
		}

		out = append(out, stop)
	}

	return out, rows.Err()
}
