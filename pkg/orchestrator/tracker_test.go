package orchestrator

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/cadenzahq/cadenza/pkg/eventbus"
	"github.com/cadenzahq/cadenza/pkg/events"
	"github.com/cadenzahq/cadenza/pkg/mocks"
	"github.com/cadenzahq/cadenza/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func TestTrackerRecordsDirectEvents(t *testing.T) {
	tracker := NewStatusTracker(slog.Default())
	ctx := context.Background()

	first := events.RunStarted{
		BaseEvent:   events.NewBaseEvent(events.RunStartedEvent, "p1"),
		ExecutionID: "exec-1",
		WorkflowID:  "delivery",
	}
	second := events.ProjectPhaseChanged{
		BaseEvent:     events.NewBaseEvent(events.ProjectPhaseChangedEvent, "p1"),
		PreviousPhase: models.PhaseDiscovery,
		CurrentPhase:  models.PhaseDesign,
	}
	other := events.RunStarted{
		BaseEvent:   events.NewBaseEvent(events.RunStartedEvent, "p2"),
		ExecutionID: "exec-2",
		WorkflowID:  "delivery",
	}

	require.NoError(t, tracker.record(ctx, first))
	require.NoError(t, tracker.record(ctx, second))
	require.NoError(t, tracker.record(ctx, other))

	history := tracker.History("p1")
	require.Len(t, history, 2)
	assert.Equal(t, events.RunStartedEvent, history[0].Type)
	assert.Equal(t, events.ProjectPhaseChangedEvent, history[1].Type)

	assert.Len(t, tracker.History("p2"), 1)
	assert.Empty(t, tracker.History("p3"))
}

func TestTrackerHistoryIsSnapshot(t *testing.T) {
	tracker := NewStatusTracker(slog.Default())
	ctx := context.Background()

	require.NoError(t, tracker.record(ctx, events.RunStarted{
		BaseEvent: events.NewBaseEvent(events.RunStartedEvent, "p1"),
	}))

	history := tracker.History("p1")
	history[0].Type = "tampered"

	assert.Equal(t, events.RunStartedEvent, tracker.History("p1")[0].Type)
}

func TestTrackerAttachRegistersEveryLifecycleEvent(t *testing.T) {
	tracker := NewStatusTracker(slog.Default())

	bus := &mocks.MockEventBus{}
	bus.On("Handle", mock.AnythingOfType("events.EventType"), mock.Anything).Return(nil)

	require.NoError(t, tracker.Attach(bus))

	bus.AssertNumberOfCalls(t, "Handle", 16)

	for _, eventType := range []events.EventType{
		events.TaskStatusChangedEvent,
		events.RunEscalatedEvent,
		events.EmergencyStopTriggeredEvent,
	} {
		bus.AssertCalled(t, "Handle", eventType, mock.Anything)
	}
}

func TestTrackerAttachObservesBusTraffic(t *testing.T) {
	tracker := NewStatusTracker(slog.Default())

	pubsub := gochannel.NewGoChannel(gochannel.Config{}, watermill.NopLogger{})
	bus := eventbus.NewWatermillEventBus(pubsub, pubsub)

	require.NoError(t, tracker.Attach(bus))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	require.NoError(t, bus.Subscribe(ctx))

	require.NoError(t, bus.Publish(ctx, "p1", events.TaskStatusChanged{
		BaseEvent: events.NewBaseEvent(events.TaskStatusChangedEvent, "p1"),
		TaskID:    "task-1",
		AgentType: models.AgentAnalyst,
		Status:    models.TaskStatusWorking,
	}))

	deadline := time.After(2 * time.Second)

	for len(tracker.History("p1")) == 0 {
		select {
		case <-deadline:
			t.Fatal("bus event never reached the tracker")
		case <-time.After(10 * time.Millisecond):
		}
	}

	history := tracker.History("p1")
	require.Len(t, history, 1)
	assert.Equal(t, events.TaskStatusChangedEvent, history[0].Type)
	assert.NotEmpty(t, history[0].EventID)
}
