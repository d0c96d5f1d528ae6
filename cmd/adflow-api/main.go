package main

import (
	"context"
	"os"

	"github.com/prometheus/client_golang/prometheus"
	cli "github.com/urfave/cli/v3"

	"github.com/adlytics/adflow/pkg/cmd"
	"github.com/adlytics/adflow/pkg/contextcache"
	"github.com/adlytics/adflow/pkg/log"
	"github.com/adlytics/adflow/pkg/monitor"
	"github.com/adlytics/adflow/pkg/orchestrator"
	"github.com/adlytics/adflow/pkg/otelhelper"
)

const defaultPort = 9091

func main() {
	command := &cli.Command{
		Name:                  "adflow-api",
		Usage:                 "Manage workflow definitions and executions",
		EnableShellCompletion: true,
		Flags: []cli.Flag{
			&cli.IntFlag{
				Name:    "port",
				Aliases: []string{"p"},
				Usage:   "Port to run the API server on",
				Value:   defaultPort,
				Sources: cli.EnvVars("PORT"),
			},
			&cli.StringFlag{
				Name:     "database-url",
				Usage:    "Database connection URL for persistence",
				Required: true,
				Sources:  cli.EnvVars("DATABASE_URL"),
			},
			&cli.StringFlag{
				Name:    "event-bus",
				Usage:   "Event bus type (kafka, gochannel)",
				Value:   "gochannel",
				Sources: cli.EnvVars("EVENT_BUS_TYPE"),
			},
			&cli.DurationFlag{
				Name:    "context-ttl",
				Usage:   "Idle TTL for cached execution contexts",
				Value:   contextcache.DefaultTTL,
				Sources: cli.EnvVars("CONTEXT_TTL"),
			},
			&cli.BoolFlag{
				Name:    "tracing",
				Usage:   "Enable OpenTelemetry tracing",
				Sources: cli.EnvVars("TRACING_ENABLED"),
			},
			&cli.StringFlag{
				Name:    "log-level",
				Usage:   "Log level (debug, info, warn, error)",
				Value:   "info",
				Sources: cli.EnvVars("LOG_LEVEL"),
			},
		},
		Action: func(ctx context.Context, command *cli.Command) error {
			log.Setup(command.String("log-level"))

			logger := log.WithModule("api")
			logger.InfoContext(ctx, "Initializing adflow API")

			registry := cmd.NewRegistry(logger)

			persistence := cmd.MustPersistence(ctx, logger, command.String("database-url"))
			defer func() {
				if err := persistence.Close(ctx); err != nil {
					logger.ErrorContext(ctx, "Failed to close persistence", "error", err)
				}
			}()

			eventBus := cmd.NewEventBus(command.String("event-bus"), "adflow-api", logger)
			defer func() {
				if err := eventBus.Close(); err != nil {
					logger.ErrorContext(ctx, "Failed to close event bus", "error", err)
				}
			}()

			cache := contextcache.NewCache(logger, command.Duration("context-ttl"), contextcache.DefaultSweepInterval)
			defer cache.Close()

			mon := monitor.NewMonitor(logger, prometheus.DefaultRegisterer)

			opts := []orchestrator.Option{}

			if command.Bool("tracing") {
				tracer, err := otelhelper.NewTracer(ctx, "adflow-api")
				if err != nil {
					return err
				}

				opts = append(opts, orchestrator.WithTracer(tracer))
			}

			orch := orchestrator.NewOrchestrator(logger, persistence, registry, mon, cache, eventBus, opts...)

			api := NewAPI(logger, persistence, registry, mon, orch)

			err := api.Start(command.Int("port"))
			if err != nil {
				logger.ErrorContext(ctx, "Failed to start API server", "error", err)
			}

			return nil
		},
	}

	err := command.Run(context.Background(), os.Args)
	if err != nil {
		panic(err)
	}
}
