package governor

import (
	"context"
	"fmt"
	"time"

	"github.com/cadenzahq/cadenza/pkg/events"
	"github.com/cadenzahq/cadenza/pkg/models"
	"github.com/google/uuid"
)

// TriggerEmergencyStop records a stop, cancels every non-terminal task in
// scope and expires the scope's pending approvals. The stop is persisted
// first, so a gate check racing the trigger either sees the stop or completes
// before the cancellation sweep picks its task up.
func (g *Governor) TriggerEmergencyStop(ctx context.Context, projectID string, agentType models.AgentType, reason, triggeredBy string) (*models.EmergencyStop, int, error) {
	stop := &models.EmergencyStop{
		ID:          "stop-" + uuid.New().String(),
		ProjectID:   projectID,
		AgentType:   agentType,
		Reason:      reason,
		TriggeredBy: triggeredBy,
		Active:      true,
		CreatedAt:   time.Now().UTC(),
	}

	err := g.stops.SaveStop(ctx, stop)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to persist emergency stop: %w", err)
	}

	canceled, err := g.cancelTasksInScope(ctx, stop)
	if err != nil {
		return stop, canceled, err
	}

	err = g.expireApprovalsInScope(ctx, stop)
	if err != nil {
		return stop, canceled, err
	}

	event := events.EmergencyStopTriggered{
		BaseEvent:     events.NewBaseEvent(events.EmergencyStopTriggeredEvent, projectID),
		StopID:        stop.ID,
		AgentType:     agentType,
		Reason:        reason,
		TriggeredBy:   triggeredBy,
		TasksCanceled: canceled,
	}

	g.publish(ctx, projectID, event)

	g.logger.InfoContext(ctx, "Emergency stop triggered",
		"stop_id", stop.ID,
		"project_id", projectID,
		"agent_type", agentType,
		"tasks_canceled", canceled)

	return stop, canceled, nil
}

func (g *Governor) cancelTasksInScope(ctx context.Context, stop *models.EmergencyStop) (int, error) {
	projectIDs := []string{stop.ProjectID}

	// A stop with no project is global: sweep every known project.
	if stop.ProjectID == "" {
		projects, err := g.projects.Projects(ctx)
		if err != nil {
			return 0, fmt.Errorf("failed to enumerate projects for stop %s: %w", stop.ID, err)
		}

		projectIDs = projectIDs[:0]
		for _, project := range projects {
			projectIDs = append(projectIDs, project.ID)
		}
	}

	canceled := 0

	for _, projectID := range projectIDs {
		tasks, err := g.tasks.TasksByProject(ctx, projectID)
		if err != nil {
			return canceled, fmt.Errorf("failed to list tasks for project %s: %w", projectID, err)
		}

		for _, task := range tasks {
			if task.Terminal() || !stop.Covers(task.ProjectID, task.AgentType) {
				continue
			}

			task.Status = models.TaskStatusFailed
			task.FailureReason = models.FailureReasonEmergencyStop
			task.UpdatedAt = time.Now().UTC()

			err = g.tasks.SaveTask(ctx, task)
			if err != nil {
				return canceled, fmt.Errorf("failed to cancel task %s: %w", task.ID, err)
			}

			event := events.TaskStatusChanged{
				BaseEvent: events.NewBaseEvent(events.TaskStatusChangedEvent, task.ProjectID),
				TaskID:    task.ID,
				AgentType: task.AgentType,
				Status:    task.Status,
				Reason:    models.FailureReasonEmergencyStop,
			}

			g.publish(ctx, task.ProjectID, event)
			canceled++
		}
	}

	return canceled, nil
}

func (g *Governor) expireApprovalsInScope(ctx context.Context, stop *models.EmergencyStop) error {
	g.resolveMu.Lock()
	defer g.resolveMu.Unlock()

	var (
		pending []*models.ApprovalRequest
		err     error
	)

	if stop.ProjectID != "" {
		pending, err = g.approvals.PendingApprovalsByProject(ctx, stop.ProjectID)
	} else {
		pending, err = g.approvals.PendingApprovals(ctx)
	}

	if err != nil {
		return fmt.Errorf("failed to list pending approvals for stop %s: %w", stop.ID, err)
	}

	now := time.Now().UTC()

	for _, request := range pending {
		if !stop.Covers(request.ProjectID, request.AgentType) {
			continue
		}

		err = g.expireRequest(ctx, request, now)
		if err != nil {
			return err
		}
	}

	return nil
}

// ClearEmergencyStop deactivates a stop. Already-canceled tasks stay failed;
// clearing only reopens the gate for new work.
func (g *Governor) ClearEmergencyStop(ctx context.Context, stopID, clearedBy string) (*models.EmergencyStop, error) {
	stop, err := g.stops.StopByID(ctx, stopID)
	if err != nil {
		return nil, err
	}

	if !stop.Active {
		return stop, nil
	}

	now := time.Now().UTC()
	stop.Active = false
	stop.ClearedAt = &now

	err = g.stops.SaveStop(ctx, stop)
	if err != nil {
		return nil, fmt.Errorf("failed to persist stop clearance: %w", err)
	}

	event := events.EmergencyStopCleared{
		BaseEvent: events.NewBaseEvent(events.EmergencyStopClearedEvent, stop.ProjectID),
		StopID:    stop.ID,
		ClearedBy: clearedBy,
	}

	g.publish(ctx, stop.ProjectID, event)

	g.logger.InfoContext(ctx, "Emergency stop cleared", "stop_id", stop.ID, "cleared_by", clearedBy)

	return stop, nil
}
