package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/cadenzahq/cadenza/pkg/contextstore"
	"github.com/cadenzahq/cadenza/pkg/coordinator"
	"github.com/cadenzahq/cadenza/pkg/engine"
	"github.com/cadenzahq/cadenza/pkg/eventbus"
	"github.com/cadenzahq/cadenza/pkg/governor"
	"github.com/cadenzahq/cadenza/pkg/handoff"
	"github.com/cadenzahq/cadenza/pkg/models"
	"github.com/cadenzahq/cadenza/pkg/orchestrator"
	"github.com/cadenzahq/cadenza/pkg/persistence"
	redisgate "github.com/cadenzahq/cadenza/pkg/persistence/redis"
	"github.com/cadenzahq/cadenza/pkg/policy"
	"github.com/cadenzahq/cadenza/pkg/registry"
	"github.com/cadenzahq/cadenza/pkg/runtimes/echo"
	"github.com/cadenzahq/cadenza/pkg/workflow"
)

// Options selects the infrastructure for one service process.
type Options struct {
	ServiceName      string
	DatabaseURL      string
	EventBusProvider string
	// RedisURL, when set, moves budgets and counters to Redis so replicas
	// share gate state.
	RedisURL        string
	ApprovalTimeout time.Duration
	SweepSchedule   string
}

// App holds the wired component graph shared by the binaries.
type App struct {
	Persistence persistence.Persistence
	EventBus    eventbus.EventBus
	Governor    *governor.Governor
	Sweeper     *governor.Sweeper
	Policy      *policy.Service
	Store       *contextstore.Store
	Registry    *registry.Registry
	Coordinator *coordinator.Coordinator
	Workflows   *workflow.Repository
	Engine      *engine.Engine
	Core        *orchestrator.Core
	Tracker     *orchestrator.StatusTracker
	Handoffs    *handoff.Manager

	logger *slog.Logger
}

// NewApp wires the full orchestration stack. The default delivery workflow is
// seeded if absent, and every worker agent type gets the built-in echo
// runtime until the deployment registers real ones.
func NewApp(ctx context.Context, logger *slog.Logger, opts Options) (*App, error) {
	store, err := NewPersistence(ctx, logger, opts.DatabaseURL)
	if err != nil {
		return nil, err
	}

	bus, err := NewEventBus(opts.EventBusProvider, opts.ServiceName, logger)
	if err != nil {
		return nil, err
	}

	govCfg := governor.DefaultConfig()
	if opts.ApprovalTimeout > 0 {
		govCfg.ApprovalTimeout = opts.ApprovalTimeout
	}

	var govOpts []governor.Option

	if opts.RedisURL != "" {
		gateStore, err := redisgate.NewGateStore(ctx, opts.RedisURL)
		if err != nil {
			return nil, err
		}

		govOpts = append(govOpts, governor.WithGateState(gateStore))
	}

	gov := governor.NewGovernor(govCfg, store, bus, logger, govOpts...)

	schedule := opts.SweepSchedule
	if schedule == "" {
		schedule = "@every 30s"
	}

	sweeper, err := governor.NewSweeper(gov, schedule)
	if err != nil {
		return nil, err
	}

	policySvc := policy.NewService(store)
	artifacts := contextstore.NewStore(store, logger)

	reg := registry.NewRegistry(logger)
	for _, agentType := range models.AllAgentTypes() {
		if agentType == models.AgentOrchestrator {
			continue
		}

		reg.Register(echo.NewFactory(agentType))
	}

	handoffs := handoff.NewManager(handoff.NewDefaultRegistry(), artifacts, logger)

	coord := coordinator.NewCoordinator(coordinator.DefaultConfig(), policySvc, gov, store, artifacts, reg, bus, logger,
		coordinator.WithOutputValidator(handoffs))

	workflows := workflow.NewRepository(store)

	err = seedDefaultWorkflow(ctx, workflows)
	if err != nil {
		return nil, err
	}

	eng := engine.NewEngine(engine.DefaultConfig(), coord, workflows, store, store, bus, logger)
	core := orchestrator.NewCore(store, eng, logger)

	tracker := orchestrator.NewStatusTracker(logger)

	err = tracker.Attach(bus)
	if err != nil {
		return nil, err
	}

	return &App{
		Persistence: store,
		EventBus:    bus,
		Governor:    gov,
		Sweeper:     sweeper,
		Policy:      policySvc,
		Store:       artifacts,
		Registry:    reg,
		Coordinator: coord,
		Workflows:   workflows,
		Engine:      eng,
		Core:        core,
		Tracker:     tracker,
		Handoffs:    handoffs,
		logger:      logger,
	}, nil
}

func seedDefaultWorkflow(ctx context.Context, workflows *workflow.Repository) error {
	def := workflow.DefaultDelivery()

	_, err := workflows.ByID(ctx, def.ID)
	if err == nil {
		return nil
	}

	if !persistence.IsNotFound(err) {
		return err
	}

	err = workflows.Save(ctx, def)
	if err != nil {
		return fmt.Errorf("failed to seed default workflow: %w", err)
	}

	return nil
}

// Start begins the background collaborators: the event subscription loop and
// the approval expiry sweeper.
func (a *App) Start(ctx context.Context) error {
	err := a.EventBus.Subscribe(ctx)
	if err != nil {
		return fmt.Errorf("failed to subscribe to events: %w", err)
	}

	a.Sweeper.Start()

	return nil
}

// Close shuts the background collaborators down in reverse order.
func (a *App) Close(ctx context.Context) {
	a.Sweeper.Stop()

	err := a.EventBus.Close()
	if err != nil {
		a.logger.ErrorContext(ctx, "Failed to close event bus", "error", err)
	}

	err = a.Persistence.Close(ctx)
	if err != nil {
		a.logger.ErrorContext(ctx, "Failed to close persistence", "error", err)
	}
}
