package orchestrator

import (
	"context"
	"log/slog"
	"sync"

	"github.com/cadenzahq/cadenza/pkg/eventbus"
	"github.com/cadenzahq/cadenza/pkg/events"
)

// Entry is one observed event in a project's history.
type Entry struct {
	EventID string           `json:"event_id"`
	Type    events.EventType `json:"type"`
	Event   any              `json:"event"`
}

// scoped is satisfied by every event through its embedded envelope.
type scoped interface {
	GetProjectID() string
	GetID() string
	GetType() events.EventType
}

// StatusTracker builds an append-only, arrival-ordered event log per project
// from the bus. The log is observational: it never feeds back into
// orchestration decisions.
type StatusTracker struct {
	logger *slog.Logger

	mu   sync.RWMutex
	logs map[string][]Entry
}

func NewStatusTracker(logger *slog.Logger) *StatusTracker {
	return &StatusTracker{
		logger: logger.With("module", "status_tracker"),
		logs:   make(map[string][]Entry),
	}
}

// Attach registers the tracker for every event type on the subscriber.
func (t *StatusTracker) Attach(bus eventbus.EventSubscriber) error {
	for _, eventType := range []events.EventType{
		events.TaskStatusChangedEvent,
		events.HITLRequestCreatedEvent,
		events.HITLRequestResolvedEvent,
		events.CounterExhaustedEvent,
		events.PolicyViolationEvent,
		events.BudgetExhaustedEvent,
		events.EmergencyStopTriggeredEvent,
		events.EmergencyStopClearedEvent,
		events.ProjectPhaseChangedEvent,
		events.RunStartedEvent,
		events.RunCompletedEvent,
		events.RunFailedEvent,
		events.RunEscalatedEvent,
		events.StepStartedEvent,
		events.StepFinishedEvent,
		events.StepFailedEvent,
	} {
		err := bus.Handle(eventType, t.record)
		if err != nil {
			return err
		}
	}

	return nil
}

func (t *StatusTracker) record(ctx context.Context, event any) error {
	e, ok := event.(scoped)
	if !ok {
		t.logger.WarnContext(ctx, "Dropping event without envelope", "event", event)
		return nil
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	t.logs[e.GetProjectID()] = append(t.logs[e.GetProjectID()], Entry{
		EventID: e.GetID(),
		Type:    e.GetType(),
		Event:   event,
	})

	return nil
}

// History returns a snapshot of the project's event log in arrival order.
func (t *StatusTracker) History(projectID string) []Entry {
	t.mu.RLock()
	defer t.mu.RUnlock()

	log := t.logs[projectID]
	out := make([]Entry, len(log))
	copy(out, log)

	return out
}
