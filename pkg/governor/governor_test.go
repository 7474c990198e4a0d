package governor

import (
	"context"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/cadenzahq/cadenza/pkg/eventbus"
	"github.com/cadenzahq/cadenza/pkg/events"
	"github.com/cadenzahq/cadenza/pkg/models"
	"github.com/cadenzahq/cadenza/pkg/persistence/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recorder struct {
	mu     sync.Mutex
	events []eventbus.Event
}

func (r *recorder) Publish(_ context.Context, _ string, event eventbus.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.events = append(r.events, event)

	return nil
}

func (r *recorder) ofType(eventType events.EventType) []eventbus.Event {
	r.mu.Lock()
	defer r.mu.Unlock()

	var matched []eventbus.Event

	for _, event := range r.events {
		if event.GetType() == eventType {
			matched = append(matched, event)
		}
	}

	return matched
}

func newTestGovernor(t *testing.T) (*Governor, *memory.Persistence) {
	t.Helper()

	store := memory.NewPersistence()
	gov := NewGovernor(Config{
		ApprovalTimeout:         time.Minute,
		DefaultAutoApproveLimit: 5,
	}, store, nil, slog.Default())

	return gov, store
}

func newGateTask(t *testing.T, store *memory.Persistence, projectID string, agentType models.AgentType, cost int64) *models.Task {
	t.Helper()

	now := time.Now().UTC()
	task := &models.Task{
		ID:            "task-" + projectID + "-" + string(agentType) + "-" + now.Format("150405.000000000"),
		ProjectID:     projectID,
		AgentType:     agentType,
		Instructions:  "do the work",
		Status:        models.TaskStatusPending,
		EstimatedCost: cost,
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	require.NoError(t, store.SaveTask(context.Background(), task))

	return task
}

func TestCheckGateProceedsAndDecrementsCounter(t *testing.T) {
	gov, store := newTestGovernor(t)
	ctx := context.Background()

	rec := &recorder{}
	gov.bus = rec

	_, err := gov.ResetCounter(ctx, "p1", models.AgentCoder, 3)
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		task := newGateTask(t, store, "p1", models.AgentCoder, 0)

		result, err := gov.CheckGate(ctx, task, false)
		require.NoError(t, err)
		assert.Equal(t, models.GateProceed, result.Decision)
	}

	counter, err := gov.Counter(ctx, "p1", models.AgentCoder)
	require.NoError(t, err)
	assert.Equal(t, int64(0), counter.Remaining)

	// Quota exhausted: the next check demands a human.
	task := newGateTask(t, store, "p1", models.AgentCoder, 0)

	result, err := gov.CheckGate(ctx, task, false)
	require.NoError(t, err)
	assert.Equal(t, models.GateRequireApproval, result.Decision)
	require.NotNil(t, result.Approval)
	assert.Equal(t, models.ApprovalStatusPending, result.Approval.Status)
	assert.Equal(t, task.ID, result.Approval.TaskID)

	exhausted := rec.ofType(events.CounterExhaustedEvent)
	require.Len(t, exhausted, 1)
	assert.Equal(t, models.AgentCoder, exhausted[0].(events.CounterExhausted).AgentType)
	assert.Equal(t, int64(3), exhausted[0].(events.CounterExhausted).Limit)
}

func TestCheckGateBudgetBlockLeavesBudgetUntouched(t *testing.T) {
	gov, store := newTestGovernor(t)
	ctx := context.Background()

	_, err := gov.SetBudgetLimit(ctx, "p1", models.AgentCoder, 10)
	require.NoError(t, err)

	task := newGateTask(t, store, "p1", models.AgentCoder, 11)

	result, err := gov.CheckGate(ctx, task, false)
	require.NoError(t, err)
	assert.Equal(t, models.GateBlockedByBudget, result.Decision)

	budget, err := gov.Budget(ctx, "p1", models.AgentCoder)
	require.NoError(t, err)
	assert.Equal(t, int64(0), budget.Used)
}

func TestCheckGateConsumesBudgetOnProceed(t *testing.T) {
	gov, store := newTestGovernor(t)
	ctx := context.Background()

	_, err := gov.SetBudgetLimit(ctx, "p1", models.AgentCoder, 10)
	require.NoError(t, err)

	task := newGateTask(t, store, "p1", models.AgentCoder, 4)

	result, err := gov.CheckGate(ctx, task, false)
	require.NoError(t, err)
	assert.Equal(t, models.GateProceed, result.Decision)

	budget, err := gov.Budget(ctx, "p1", models.AgentCoder)
	require.NoError(t, err)
	assert.Equal(t, int64(4), budget.Used)
	assert.Equal(t, int64(6), budget.Remaining())
}

func TestCheckGateForceApproval(t *testing.T) {
	gov, store := newTestGovernor(t)
	ctx := context.Background()

	task := newGateTask(t, store, "p1", models.AgentDeployer, 0)

	result, err := gov.CheckGate(ctx, task, true)
	require.NoError(t, err)
	assert.Equal(t, models.GateRequireApproval, result.Decision)

	// The counter is untouched by a forced approval.
	_, err = gov.Counter(ctx, "p1", models.AgentDeployer)
	require.Error(t, err)
}

func TestCheckGateApprovalModeToggle(t *testing.T) {
	gov, store := newTestGovernor(t)
	ctx := context.Background()

	gov.SetApprovalMode("p1", models.AgentCoder, true)

	task := newGateTask(t, store, "p1", models.AgentCoder, 0)

	result, err := gov.CheckGate(ctx, task, false)
	require.NoError(t, err)
	assert.Equal(t, models.GateRequireApproval, result.Decision)

	gov.SetApprovalMode("p1", models.AgentCoder, false)

	task = newGateTask(t, store, "p1", models.AgentCoder, 0)

	result, err = gov.CheckGate(ctx, task, false)
	require.NoError(t, err)
	assert.Equal(t, models.GateProceed, result.Decision)
}

func TestResolveApprovalExactlyOnce(t *testing.T) {
	gov, store := newTestGovernor(t)
	ctx := context.Background()

	_, err := gov.ResetCounter(ctx, "p1", models.AgentCoder, 0)
	require.NoError(t, err)

	task := newGateTask(t, store, "p1", models.AgentCoder, 0)

	result, err := gov.CheckGate(ctx, task, false)
	require.NoError(t, err)
	require.Equal(t, models.GateRequireApproval, result.Decision)

	watch := gov.Watch(result.Approval.ID)

	resolved, err := gov.ResolveApproval(ctx, result.Approval.ID, true, "alice", "looks good")
	require.NoError(t, err)
	assert.True(t, resolved)

	status := <-watch
	assert.Equal(t, models.ApprovalStatusApproved, status)

	// Second resolution is a no-op, not an overwrite.
	resolved, err = gov.ResolveApproval(ctx, result.Approval.ID, false, "bob", "too late")
	require.NoError(t, err)
	assert.False(t, resolved)

	request, err := gov.Approval(ctx, result.Approval.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ApprovalStatusApproved, request.Status)
	assert.Equal(t, "alice", request.ResolvedBy)
}

func TestCounterResetRestoresQuota(t *testing.T) {
	gov, store := newTestGovernor(t)
	ctx := context.Background()

	_, err := gov.ResetCounter(ctx, "p1", models.AgentCoder, 0)
	require.NoError(t, err)

	task := newGateTask(t, store, "p1", models.AgentCoder, 0)

	result, err := gov.CheckGate(ctx, task, false)
	require.NoError(t, err)
	require.Equal(t, models.GateRequireApproval, result.Decision)

	watch := gov.Watch(result.Approval.ID)

	resolved, err := gov.ResolveApproval(ctx, result.Approval.ID, true, "alice", "")
	require.NoError(t, err)
	require.True(t, resolved)
	assert.Equal(t, models.ApprovalStatusApproved, <-watch)

	_, err = gov.ResetCounter(ctx, "p1", models.AgentCoder, 5)
	require.NoError(t, err)

	task = newGateTask(t, store, "p1", models.AgentCoder, 0)

	result, err = gov.CheckGate(ctx, task, false)
	require.NoError(t, err)
	assert.Equal(t, models.GateProceed, result.Decision)

	counter, err := gov.Counter(ctx, "p1", models.AgentCoder)
	require.NoError(t, err)
	assert.Equal(t, int64(4), counter.Remaining)
}

func TestConcurrentGateChecksOnLastBudgetUnit(t *testing.T) {
	gov, store := newTestGovernor(t)
	ctx := context.Background()

	_, err := gov.SetBudgetLimit(ctx, "p1", models.AgentCoder, 1)
	require.NoError(t, err)

	taskA := newGateTask(t, store, "p1", models.AgentCoder, 1)
	taskB := newGateTask(t, store, "p1", models.AgentCoder, 1)

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		results []models.GateDecision
	)

	for _, task := range []*models.Task{taskA, taskB} {
		wg.Add(1)

		go func(task *models.Task) {
			defer wg.Done()

			result, err := gov.CheckGate(ctx, task, false)
			if !assert.NoError(t, err) {
				return
			}

			mu.Lock()
			results = append(results, result.Decision)
			mu.Unlock()
		}(task)
	}

	wg.Wait()

	require.Len(t, results, 2)
	assert.ElementsMatch(t, []models.GateDecision{models.GateProceed, models.GateBlockedByBudget}, results)

	budget, err := gov.Budget(ctx, "p1", models.AgentCoder)
	require.NoError(t, err)
	assert.Equal(t, int64(1), budget.Used)
}

func TestExpireOverdueApprovals(t *testing.T) {
	gov, store := newTestGovernor(t)
	ctx := context.Background()

	gov.cfg.ApprovalTimeout = -time.Minute // every new request is already overdue

	task := newGateTask(t, store, "p1", models.AgentCoder, 0)

	result, err := gov.CheckGate(ctx, task, true)
	require.NoError(t, err)
	require.Equal(t, models.GateRequireApproval, result.Decision)

	watch := gov.Watch(result.Approval.ID)

	expired, err := gov.ExpireOverdue(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, expired)
	assert.Equal(t, models.ApprovalStatusExpired, <-watch)

	request, err := gov.Approval(ctx, result.Approval.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ApprovalStatusExpired, request.Status)
}

func TestEmergencyStopCancelsScopeAndBlocksGate(t *testing.T) {
	gov, store := newTestGovernor(t)
	ctx := context.Background()

	working := newGateTask(t, store, "p1", models.AgentCoder, 0)
	working.Status = models.TaskStatusWorking
	require.NoError(t, store.SaveTask(ctx, working))

	otherProject := newGateTask(t, store, "p2", models.AgentCoder, 0)

	// A pending approval in scope expires with the stop.
	gateTask := newGateTask(t, store, "p1", models.AgentTester, 0)

	result, err := gov.CheckGate(ctx, gateTask, true)
	require.NoError(t, err)
	require.Equal(t, models.GateRequireApproval, result.Decision)

	watch := gov.Watch(result.Approval.ID)

	stop, canceled, err := gov.TriggerEmergencyStop(ctx, "p1", "", "runaway deploy", "alice")
	require.NoError(t, err)
	assert.True(t, stop.Active)
	assert.Equal(t, 2, canceled)

	assert.Equal(t, models.ApprovalStatusExpired, <-watch)

	got, err := store.TaskByID(ctx, working.ID)
	require.NoError(t, err)
	assert.Equal(t, models.TaskStatusFailed, got.Status)
	assert.Equal(t, models.FailureReasonEmergencyStop, got.FailureReason)

	// Out-of-scope work is untouched.
	got, err = store.TaskByID(ctx, otherProject.ID)
	require.NoError(t, err)
	assert.Equal(t, models.TaskStatusPending, got.Status)

	task := newGateTask(t, store, "p1", models.AgentCoder, 0)

	blocked, err := gov.CheckGate(ctx, task, false)
	require.NoError(t, err)
	assert.Equal(t, models.GateBlockedByEmergencyStop, blocked.Decision)
	require.NotNil(t, blocked.Stop)

	cleared, err := gov.ClearEmergencyStop(ctx, stop.ID, "alice")
	require.NoError(t, err)
	assert.False(t, cleared.Active)
	require.NotNil(t, cleared.ClearedAt)

	task = newGateTask(t, store, "p1", models.AgentCoder, 0)

	after, err := gov.CheckGate(ctx, task, false)
	require.NoError(t, err)
	assert.Equal(t, models.GateProceed, after.Decision)

	// Clearing does not resurrect canceled tasks.
	got, err = store.TaskByID(ctx, working.ID)
	require.NoError(t, err)
	assert.Equal(t, models.TaskStatusFailed, got.Status)
}

func TestEmergencyStopAgentScope(t *testing.T) {
	gov, store := newTestGovernor(t)
	ctx := context.Background()

	coderTask := newGateTask(t, store, "p1", models.AgentCoder, 0)
	testerTask := newGateTask(t, store, "p1", models.AgentTester, 0)

	_, canceled, err := gov.TriggerEmergencyStop(ctx, "p1", models.AgentCoder, "bad actor", "ops")
	require.NoError(t, err)
	assert.Equal(t, 1, canceled)

	got, err := store.TaskByID(ctx, coderTask.ID)
	require.NoError(t, err)
	assert.Equal(t, models.TaskStatusFailed, got.Status)

	got, err = store.TaskByID(ctx, testerTask.ID)
	require.NoError(t, err)
	assert.Equal(t, models.TaskStatusPending, got.Status)

	// Tester passes, coder does not.
	result, err := gov.CheckGate(ctx, newGateTask(t, store, "p1", models.AgentTester, 0), false)
	require.NoError(t, err)
	assert.Equal(t, models.GateProceed, result.Decision)

	result, err = gov.CheckGate(ctx, newGateTask(t, store, "p1", models.AgentCoder, 0), false)
	require.NoError(t, err)
	assert.Equal(t, models.GateBlockedByEmergencyStop, result.Decision)
}
