// Package main provides the Cadenza HTTP API server.
package main

import (
	"log/slog"
	"strconv"

	"github.com/cadenzahq/cadenza/pkg/cmd"
	"github.com/cadenzahq/cadenza/pkg/web"
	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/cors"
	"github.com/gofiber/fiber/v3/middleware/healthcheck"
	"github.com/gofiber/fiber/v3/middleware/logger"
)

type API struct {
	app    *cmd.App
	logger *slog.Logger
}

func NewAPI(app *cmd.App, logger *slog.Logger) *API {
	return &API{app: app, logger: logger}
}

func (a *API) App() *fiber.App {
	handlers := web.NewAPIHandlers(
		a.app.Core,
		a.app.Coordinator,
		a.app.Governor,
		a.app.Handoffs,
		a.app.Workflows,
		a.app.Tracker,
		a.logger,
	)

	app := fiber.New()
	app.Use(cors.New())
	app.Use(logger.New(logger.Config{
		DisableColors: true,
	}))

	app.Get(healthcheck.DefaultLivenessEndpoint, healthcheck.NewHealthChecker())
	app.Get(healthcheck.DefaultReadinessEndpoint, healthcheck.NewHealthChecker())

	app.Get("/", func(c fiber.Ctx) error {
		return c.SendString("Cadenza API")
	})

	handlers.Register(app)

	return app
}

func (a *API) Start(port int) error {
	return a.App().Listen(":" + strconv.Itoa(port))
}
