// Package main provides the adflow API server implementation.
package main

import (
	"log/slog"
	"strconv"

	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/adaptor"
	"github.com/gofiber/fiber/v3/middleware/cors"
	"github.com/gofiber/fiber/v3/middleware/healthcheck"
	"github.com/gofiber/fiber/v3/middleware/logger"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/adlytics/adflow/pkg/monitor"
	"github.com/adlytics/adflow/pkg/orchestrator"
	"github.com/adlytics/adflow/pkg/persistence"
	"github.com/adlytics/adflow/pkg/registry"
	"github.com/adlytics/adflow/pkg/web"
)

type API struct {
	logger       *slog.Logger
	persistence  persistence.Persistence
	registry     *registry.Registry
	monitor      *monitor.Monitor
	orchestrator *orchestrator.Orchestrator
}

func NewAPI(
	logger *slog.Logger,
	persist persistence.Persistence,
	reg *registry.Registry,
	mon *monitor.Monitor,
	orch *orchestrator.Orchestrator,
) *API {
	return &API{
		logger:       logger,
		persistence:  persist,
		registry:     reg,
		monitor:      mon,
		orchestrator: orch,
	}
}

func (a *API) App() *fiber.App {
	handlers := web.NewAPIHandlers(a.orchestrator, a.persistence, a.registry, a.monitor)

	app := fiber.New()
	app.Use(cors.New())
	app.Use(logger.New(logger.Config{
		DisableColors: true,
	}))

	app.Get(healthcheck.DefaultLivenessEndpoint, healthcheck.NewHealthChecker())
	app.Get(healthcheck.DefaultReadinessEndpoint, healthcheck.NewHealthChecker())

	app.Get("/", func(c fiber.Ctx) error {
		return c.SendString("adflow API")
	})

	d := app.Group("/definitions")
	d.Get("/", handlers.ListDefinitions)
	d.Post("/", handlers.CreateDefinition)
	d.Get("/:id", handlers.GetDefinition)

	w := app.Group("/workflows")
	w.Post("/:name/start", handlers.StartWorkflow)

	e := app.Group("/executions")
	e.Get("/:id", handlers.GetExecution)
	e.Delete("/:id/context", handlers.DeleteExecutionContext)

	app.Get("/stats", handlers.GetStats)
	app.Get("/health", handlers.HealthCheck)
	app.Get("/metrics", adaptor.HTTPHandler(promhttp.Handler()))

	return app
}

func (a *API) Start(port int) error {
	app := a.App()

	err := app.Listen(":" + strconv.Itoa(port))

	return err
}
