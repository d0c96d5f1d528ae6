// Package main provides the scheduler daemon that starts workflows on
// recurring cron schedules.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	cli "github.com/urfave/cli/v3"

	"github.com/adlytics/adflow/pkg/cmd"
	"github.com/adlytics/adflow/pkg/contextcache"
	"github.com/adlytics/adflow/pkg/log"
	"github.com/adlytics/adflow/pkg/monitor"
	"github.com/adlytics/adflow/pkg/orchestrator"
	"github.com/adlytics/adflow/pkg/scheduler"
)

const shutdownTimeout = 30 * time.Second

func main() {
	command := &cli.Command{
		Name:                  "adflow-scheduler",
		Usage:                 "Start workflows on recurring cron schedules",
		EnableShellCompletion: true,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "schedule-file",
				Aliases:  []string{"s"},
				Usage:    "Path to the YAML schedule file",
				Required: true,
				Sources:  cli.EnvVars("SCHEDULE_FILE"),
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
			&cli.StringFlag{
				Name:    "log-level",
				Usage:   "Log level (debug, info, warn, error)",
				Value:   "info",
				Sources: cli.EnvVars("LOG_LEVEL"),
			},
		},
		Action: func(ctx context.Context, command *cli.Command) error {
			log.Setup(command.String("log-level"))

			logger := log.WithModule("scheduler")
			logger.InfoContext(ctx, "Initializing adflow scheduler")

			cfg, err := scheduler.LoadConfig(command.String("schedule-file"))
			if err != nil {
				return err
			}

			persist := cmd.MustPersistence(ctx, logger, command.String("database-url"))
			defer func() {
				if err := persist.Close(ctx); err != nil {
					logger.ErrorContext(ctx, "Failed to close persistence", "error", err)
				}
			}()

			eventBus := cmd.NewEventBus(command.String("event-bus"), "adflow-scheduler", logger)
			defer func() {
				if err := eventBus.Close(); err != nil {
					logger.ErrorContext(ctx, "Failed to close event bus", "error", err)
				}
			}()

			cache := contextcache.NewCache(logger, contextcache.DefaultTTL, contextcache.DefaultSweepInterval)
			defer cache.Close()

			registry := cmd.NewRegistry(logger)
			mon := monitor.NewMonitor(logger, prometheus.DefaultRegisterer)

			orch := orchestrator.NewOrchestrator(logger, persist, registry, mon, cache, eventBus)

			sched := scheduler.NewScheduler(logger, orch)

			err = sched.RegisterAll(cfg)
			if err != nil {
				return err
			}

			sched.Start()

			stop := make(chan os.Signal, 1)
			signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
			<-stop

			logger.InfoContext(ctx, "Shutting down scheduler")

			stopCtx, cancel := context.WithTimeout(ctx, shutdownTimeout)
			defer cancel()

			sched.Stop(stopCtx)

			return nil
		},
	}

	err := command.Run(context.Background(), os.Args)
	if err != nil {
		panic(err)
	}
}
