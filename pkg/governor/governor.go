// Package governor implements the human-in-the-loop gate: budget controls,
// approval requests, auto-approve counters and emergency stops. Every task
// execution passes through CheckGate before any agent runtime is invoked.
package governor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/cadenzahq/cadenza/pkg/eventbus"
	"github.com/cadenzahq/cadenza/pkg/events"
	"github.com/cadenzahq/cadenza/pkg/models"
	"github.com/cadenzahq/cadenza/pkg/persistence"
	"github.com/google/uuid"
)

// Config carries the governor's tunables. The approval timeout is explicit
// configuration, not a constant: operators deploy anything from minutes to
// hours depending on their review cadence.
type Config struct {
	// ApprovalTimeout is the window an ApprovalRequest stays pending before
	// it expires. Expiry gates like a rejection.
	ApprovalTimeout time.Duration
	// DefaultAutoApproveLimit seeds a counter the first time a scope passes
	// the gate without an explicit counter configured.
	DefaultAutoApproveLimit int64
}

// DefaultConfig returns the governor defaults.
func DefaultConfig() Config {
	return Config{
		ApprovalTimeout:         10 * time.Minute,
		DefaultAutoApproveLimit: 5,
	}
}

// GateResult is the outcome of one gate check, carrying whatever the caller
// needs to remediate a denial.
type GateResult struct {
	Decision models.GateDecision
	// Approval is set when Decision is require_approval.
	Approval *models.ApprovalRequest
	// Budget is a snapshot of the budget control when one exists for the scope.
	Budget *models.BudgetControl
	// Stop is set when Decision is blocked_by_emergency_stop.
	Stop *models.EmergencyStop
}

// session holds the per-(project, agent_type) gate state that must not be
// mutated by two concurrent checks.
type session struct {
	mu            sync.Mutex
	toggleEnabled bool
}

// Governor owns the gate state machine. Budget and counter mutations happen
// inside a per-scope critical section so concurrent checks against the last
// unit of budget or counter cannot both pass.
type Governor struct {
	cfg       Config
	state     persistence.GateStateRepository
	approvals persistence.ApprovalRepository
	tasks     persistence.TaskRepository
	projects  persistence.ProjectRepository
	stops     persistence.StopRepository
	bus       eventbus.EventPublisher
	logger    *slog.Logger

	mu       sync.Mutex
	sessions map[string]*session
	watchers map[string][]chan models.ApprovalStatus

	// resolveMu serializes approval resolutions so the read-check-write in
	// ResolveApproval stays exactly-once under concurrent callers.
	resolveMu sync.Mutex
}

// Option customizes a governor at construction.
type Option func(*Governor)

// WithGateState swaps the budget and counter storage, e.g. for a Redis-backed
// store shared between replicas.
func WithGateState(state persistence.GateStateRepository) Option {
	return func(g *Governor) {
		g.state = state
	}
}

// NewGovernor creates a governor over the given repositories and event
// publisher.
func NewGovernor(
	cfg Config,
	store persistence.Persistence,
	bus eventbus.EventPublisher,
	logger *slog.Logger,
	opts ...Option,
) *Governor {
	if cfg.ApprovalTimeout <= 0 {
		cfg.ApprovalTimeout = DefaultConfig().ApprovalTimeout
	}

	if cfg.DefaultAutoApproveLimit <= 0 {
		cfg.DefaultAutoApproveLimit = DefaultConfig().DefaultAutoApproveLimit
	}

	g := &Governor{
		cfg:       cfg,
		state:     store,
		approvals: store,
		tasks:     store,
		projects:  store,
		stops:     store,
		bus:       bus,
		logger:    logger.With("module", "governor"),
		sessions:  make(map[string]*session),
		watchers:  make(map[string][]chan models.ApprovalStatus),
	}

	for _, opt := range opts {
		opt(g)
	}

	return g
}

func scopeKey(projectID string, agentType models.AgentType) string {
	return projectID + "/" + string(agentType)
}

func (g *Governor) session(projectID string, agentType models.AgentType) *session {
	g.mu.Lock()
	defer g.mu.Unlock()

	key := scopeKey(projectID, agentType)

	s, ok := g.sessions[key]
	if !ok {
		s = &session{}
		g.sessions[key] = s
	}

	return s
}

// SetApprovalMode toggles mandatory approval for the scope. While enabled,
// every gate check returns require_approval regardless of the counter.
func (g *Governor) SetApprovalMode(projectID string, agentType models.AgentType, enabled bool) {
	s := g.session(projectID, agentType)

	s.mu.Lock()
	defer s.mu.Unlock()

	s.toggleEnabled = enabled
}

// CheckGate runs the gate decision for one task. Order is fixed: emergency
// stop, budget, mandatory approval, auto-approve counter, proceed. Budget and
// counter are mutated only on proceed, atomically with the checks.
// forceApproval requests mandatory approval for this one check regardless of
// the scope toggle or counter.
func (g *Governor) CheckGate(ctx context.Context, task *models.Task, forceApproval bool) (*GateResult, error) {
	s := g.session(task.ProjectID, task.AgentType)

	s.mu.Lock()
	defer s.mu.Unlock()

	// Emergency stop wins over everything. The read happens inside the
	// critical section so a stop recorded before this check is always seen.
	stops, err := g.stops.ActiveStops(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read emergency stops: %w", err)
	}

	for _, stop := range stops {
		if stop.Covers(task.ProjectID, task.AgentType) {
			return &GateResult{Decision: models.GateBlockedByEmergencyStop, Stop: stop}, nil
		}
	}

	budget, err := g.state.Budget(ctx, task.ProjectID, task.AgentType)
	if err != nil && !errors.Is(err, persistence.ErrBudgetNotFound) {
		return nil, fmt.Errorf("failed to read budget: %w", err)
	}

	// No budget row means no quota is configured for the scope.
	if budget != nil && budget.Used+task.EstimatedCost > budget.Limit {
		event := events.BudgetExhausted{
			BaseEvent: events.NewBaseEvent(events.BudgetExhaustedEvent, task.ProjectID),
			AgentType: task.AgentType,
			Limit:     budget.Limit,
			Used:      budget.Used,
			Requested: task.EstimatedCost,
		}

		g.publish(ctx, task.ProjectID, event)

		return &GateResult{Decision: models.GateBlockedByBudget, Budget: budget}, nil
	}

	if forceApproval || s.toggleEnabled {
		request, err := g.createApproval(ctx, task)
		if err != nil {
			return nil, err
		}

		return &GateResult{Decision: models.GateRequireApproval, Approval: request, Budget: budget}, nil
	}

	counter, err := g.state.Counter(ctx, task.ProjectID, task.AgentType)
	if errors.Is(err, persistence.ErrCounterNotFound) {
		counter = &models.AutoApproveCounter{
			ProjectID: task.ProjectID,
			AgentType: task.AgentType,
			Limit:     g.cfg.DefaultAutoApproveLimit,
			Remaining: g.cfg.DefaultAutoApproveLimit,
		}
	} else if err != nil {
		return nil, fmt.Errorf("failed to read auto-approve counter: %w", err)
	}

	if counter.Remaining == 0 {
		request, err := g.createApproval(ctx, task)
		if err != nil {
			return nil, err
		}

		exhausted := events.CounterExhausted{
			BaseEvent: events.NewBaseEvent(events.CounterExhaustedEvent, task.ProjectID),
			AgentType: task.AgentType,
			Limit:     counter.Limit,
		}

		g.publish(ctx, task.ProjectID, exhausted)

		return &GateResult{Decision: models.GateRequireApproval, Approval: request, Budget: budget}, nil
	}

	counter.Remaining--
	counter.UpdatedAt = time.Now().UTC()

	err = g.state.SaveCounter(ctx, counter)
	if err != nil {
		return nil, fmt.Errorf("failed to persist counter decrement: %w", err)
	}

	if budget != nil {
		budget.Used += task.EstimatedCost
		budget.UpdatedAt = time.Now().UTC()

		err = g.state.SaveBudget(ctx, budget)
		if err != nil {
			return nil, fmt.Errorf("failed to persist budget consumption: %w", err)
		}
	}

	return &GateResult{Decision: models.GateProceed, Budget: budget}, nil
}

func (g *Governor) createApproval(ctx context.Context, task *models.Task) (*models.ApprovalRequest, error) {
	now := time.Now().UTC()

	request := &models.ApprovalRequest{
		ID:        "approval-" + uuid.New().String(),
		TaskID:    task.ID,
		ProjectID: task.ProjectID,
		AgentType: task.AgentType,
		Kind:      models.ApprovalKindPreExecution,
		Status:    models.ApprovalStatusPending,
		CreatedAt: now,
		ExpiresAt: now.Add(g.cfg.ApprovalTimeout),
	}

	err := g.approvals.SaveApproval(ctx, request)
	if err != nil {
		return nil, fmt.Errorf("failed to persist approval request: %w", err)
	}

	event := events.HITLRequestCreated{
		BaseEvent: events.NewBaseEvent(events.HITLRequestCreatedEvent, task.ProjectID),
		RequestID: request.ID,
		TaskID:    task.ID,
		AgentType: task.AgentType,
		Kind:      request.Kind,
		ExpiresAt: request.ExpiresAt,
	}

	g.publish(ctx, task.ProjectID, event)

	return request, nil
}

// Watch returns a channel that receives the terminal status of the approval
// request, then closes. The channel is buffered so resolution never blocks on
// a slow watcher.
func (g *Governor) Watch(requestID string) <-chan models.ApprovalStatus {
	ch := make(chan models.ApprovalStatus, 1)

	g.mu.Lock()
	defer g.mu.Unlock()

	g.watchers[requestID] = append(g.watchers[requestID], ch)

	return ch
}

func (g *Governor) notifyWatchers(requestID string, status models.ApprovalStatus) {
	g.mu.Lock()
	chans := g.watchers[requestID]
	delete(g.watchers, requestID)
	g.mu.Unlock()

	for _, ch := range chans {
		ch <- status
		close(ch)
	}
}

// ResolveApproval applies exactly one terminal transition to a pending
// request. The second and later calls are no-ops returning false.
func (g *Governor) ResolveApproval(ctx context.Context, requestID string, approved bool, resolvedBy, comment string) (bool, error) {
	g.resolveMu.Lock()
	defer g.resolveMu.Unlock()

	request, err := g.approvals.ApprovalByID(ctx, requestID)
	if err != nil {
		return false, err
	}

	if request.Resolved() {
		return false, nil
	}

	now := time.Now().UTC()
	request.Status = models.ApprovalStatusRejected

	if approved {
		request.Status = models.ApprovalStatusApproved
	}

	request.ResolvedBy = resolvedBy
	request.ResolvedAt = &now

	if comment != "" {
		request.Comment = comment
	}

	err = g.approvals.SaveApproval(ctx, request)
	if err != nil {
		return false, fmt.Errorf("failed to persist approval resolution: %w", err)
	}

	event := events.HITLRequestResolved{
		BaseEvent:  events.NewBaseEvent(events.HITLRequestResolvedEvent, request.ProjectID),
		RequestID:  request.ID,
		TaskID:     request.TaskID,
		Status:     request.Status,
		ResolvedBy: resolvedBy,
	}

	g.publish(ctx, request.ProjectID, event)
	g.notifyWatchers(request.ID, request.Status)

	return true, nil
}

// ExpireOverdue transitions every pending request past its deadline to
// expired and wakes its watchers. Returns the number expired.
func (g *Governor) ExpireOverdue(ctx context.Context) (int, error) {
	g.resolveMu.Lock()
	defer g.resolveMu.Unlock()

	pending, err := g.approvals.PendingApprovals(ctx)
	if err != nil {
		return 0, err
	}

	now := time.Now().UTC()
	expired := 0

	for _, request := range pending {
		if request.ExpiresAt.After(now) {
			continue
		}

		err = g.expireRequest(ctx, request, now)
		if err != nil {
			return expired, err
		}

		expired++
	}

	return expired, nil
}

func (g *Governor) expireRequest(ctx context.Context, request *models.ApprovalRequest, now time.Time) error {
	request.Status = models.ApprovalStatusExpired
	request.ResolvedAt = &now

	err := g.approvals.SaveApproval(ctx, request)
	if err != nil {
		return fmt.Errorf("failed to expire approval %s: %w", request.ID, err)
	}

	event := events.HITLRequestResolved{
		BaseEvent: events.NewBaseEvent(events.HITLRequestResolvedEvent, request.ProjectID),
		RequestID: request.ID,
		TaskID:    request.TaskID,
		Status:    models.ApprovalStatusExpired,
	}

	g.publish(ctx, request.ProjectID, event)
	g.notifyWatchers(request.ID, models.ApprovalStatusExpired)

	return nil
}

// Approval returns an approval request by id.
func (g *Governor) Approval(ctx context.Context, requestID string) (*models.ApprovalRequest, error) {
	return g.approvals.ApprovalByID(ctx, requestID)
}

// PendingByProject lists a project's unresolved approval requests.
func (g *Governor) PendingByProject(ctx context.Context, projectID string) ([]*models.ApprovalRequest, error) {
	return g.approvals.PendingApprovalsByProject(ctx, projectID)
}

// SetBudgetLimit reconfigures the budget for a scope. Reconfiguration resets
// consumption.
func (g *Governor) SetBudgetLimit(ctx context.Context, projectID string, agentType models.AgentType, limit int64) (*models.BudgetControl, error) {
	s := g.session(projectID, agentType)

	s.mu.Lock()
	defer s.mu.Unlock()

	budget := &models.BudgetControl{
		ProjectID: projectID,
		AgentType: agentType,
		Limit:     limit,
		Used:      0,
		UpdatedAt: time.Now().UTC(),
	}

	err := g.state.SaveBudget(ctx, budget)
	if err != nil {
		return nil, fmt.Errorf("failed to persist budget: %w", err)
	}

	return budget, nil
}

// Budget returns the budget control for a scope, if configured.
func (g *Governor) Budget(ctx context.Context, projectID string, agentType models.AgentType) (*models.BudgetControl, error) {
	return g.state.Budget(ctx, projectID, agentType)
}

// ResetCounter reconfigures the auto-approve counter for a scope, restoring
// the full quota. This is the only path that increases Remaining.
func (g *Governor) ResetCounter(ctx context.Context, projectID string, agentType models.AgentType, limit int64) (*models.AutoApproveCounter, error) {
	s := g.session(projectID, agentType)

	s.mu.Lock()
	defer s.mu.Unlock()

	counter := &models.AutoApproveCounter{
		ProjectID: projectID,
		AgentType: agentType,
		Limit:     limit,
		Remaining: limit,
		UpdatedAt: time.Now().UTC(),
	}

	err := g.state.SaveCounter(ctx, counter)
	if err != nil {
		return nil, fmt.Errorf("failed to persist counter: %w", err)
	}

	return counter, nil
}

// Counter returns the auto-approve counter for a scope, if configured.
func (g *Governor) Counter(ctx context.Context, projectID string, agentType models.AgentType) (*models.AutoApproveCounter, error) {
	return g.state.Counter(ctx, projectID, agentType)
}

func (g *Governor) publish(ctx context.Context, key string, event eventbus.Event) {
	if g.bus == nil {
		return
	}

	err := g.bus.Publish(ctx, key, event)
	if err != nil {
		g.logger.ErrorContext(ctx, "Failed to publish event", "event_type", event.GetType(), "error", err)
	}
}
