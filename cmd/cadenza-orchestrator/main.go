// Package main provides the Cadenza orchestrator daemon. It hosts the
// approval sweeper and the event subscription loop, and can drive a single
// workflow run from the command line for local use.
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/cadenzahq/cadenza/pkg/cmd"
	"github.com/cadenzahq/cadenza/pkg/engine"
	"github.com/cadenzahq/cadenza/pkg/log"
	"github.com/cadenzahq/cadenza/pkg/otelhelper"
	cli "github.com/urfave/cli/v3"
)

func main() {
	command := &cli.Command{
		Name:                  "cadenza-orchestrator",
		Usage:                 "Run the orchestration engine",
		EnableShellCompletion: true,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "database-url",
				Usage:   "Database connection URL (memory://, file://<dir> or postgres://)",
				Value:   "memory://",
				Sources: cli.EnvVars("DATABASE_URL"),
			},
			&cli.StringFlag{
				Name:    "event-bus",
				Usage:   "Event bus provider (gochannel, kafka)",
				Value:   "gochannel",
				Sources: cli.EnvVars("EVENT_BUS_TYPE"),
			},
			&cli.StringFlag{
				Name:    "redis-url",
				Usage:   "Optional Redis URL for shared gate state",
				Sources: cli.EnvVars("REDIS_URL"),
			},
			&cli.StringFlag{
				Name:  "project-name",
				Usage: "Create a project with this name and run a workflow for it, then exit",
			},
			&cli.StringFlag{
				Name:  "workflow-id",
				Usage: "Workflow to run when --project-name is set",
				Value: "delivery",
			},
			&cli.BoolFlag{
				Name:    "tracing",
				Usage:   "Enable OTLP trace export",
				Sources: cli.EnvVars("OTEL_ENABLED"),
			},
			&cli.StringFlag{
				Name:    "log-level",
				Usage:   "Log level (debug, info, warn, error)",
				Value:   "info",
				Sources: cli.EnvVars("LOG_LEVEL"),
			},
		},
		Action: run,
	}

	err := command.Run(context.Background(), os.Args)
	if err != nil {
		panic(err)
	}
}

func run(ctx context.Context, command *cli.Command) error {
	log.Setup(command.String("log-level"))

	logger := log.WithModule("orchestrator")
	logger.InfoContext(ctx, "Initializing Cadenza orchestrator")

	opts := cmd.Options{
		ServiceName:      "cadenza-orchestrator",
		DatabaseURL:      command.String("database-url"),
		EventBusProvider: command.String("event-bus"),
		RedisURL:         command.String("redis-url"),
	}

	app, err := cmd.NewApp(ctx, logger, opts)
	if err != nil {
		return err
	}
	defer app.Close(ctx)

	if command.Bool("tracing") {
		tracer, err := otelhelper.NewTracer(ctx, opts.ServiceName)
		if err != nil {
			return err
		}

		engine.WithTracer(tracer)(app.Engine)
	}

	err = app.Start(ctx)
	if err != nil {
		return err
	}

	if name := command.String("project-name"); name != "" {
		return runOnce(ctx, app, logger, name, command.String("workflow-id"))
	}

	signalCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.InfoContext(ctx, "Orchestrator running; waiting for shutdown signal")
	<-signalCtx.Done()
	logger.Info("Shutting down")

	return nil
}

func runOnce(ctx context.Context, app *cmd.App, logger *slog.Logger, name, workflowID string) error {
	project, err := app.Core.CreateProject(ctx, name, nil)
	if err != nil {
		return err
	}

	state, err := app.Core.RunWorkflow(ctx, project.ID, workflowID)
	if err != nil {
		return err
	}

	logger.InfoContext(ctx, "Run finished",
		"project_id", project.ID,
		"execution_id", state.ID,
		"status", state.Status)

	return nil
}
