// Package main provides a CLI for running a workflow definition file to
// completion in a single process.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/prometheus/client_golang/prometheus"
	cli "github.com/urfave/cli/v3"

	"github.com/adlytics/adflow/pkg/cmd"
	"github.com/adlytics/adflow/pkg/contextcache"
	"github.com/adlytics/adflow/pkg/log"
	"github.com/adlytics/adflow/pkg/models"
	"github.com/adlytics/adflow/pkg/monitor"
	"github.com/adlytics/adflow/pkg/orchestrator"
	"github.com/adlytics/adflow/pkg/parser"
	"github.com/adlytics/adflow/pkg/persistence"
)

func main() {
	command := &cli.Command{
		Name:                  "adflow-runner",
		Usage:                 "Run a workflow definition file to completion",
		EnableShellCompletion: true,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "file",
				Aliases:  []string{"f"},
				Usage:    "Path to the workflow definition YAML file",
				Required: true,
			},
			&cli.StringFlag{
				Name:    "customer-id",
				Aliases: []string{"c"},
				Usage:   "Customer to run the workflow for",
				Value:   "local",
				Sources: cli.EnvVars("CUSTOMER_ID"),
			},
			&cli.StringFlag{
				Name:    "database-url",
				Usage:   "Database connection URL for persistence",
				Value:   "./data",
				Sources: cli.EnvVars("DATABASE_URL"),
			},
			&cli.StringFlag{
				Name:    "context",
				Usage:   "Initial execution context as a JSON object",
				Value:   "{}",
				Sources: cli.EnvVars("WORKFLOW_CONTEXT"),
			},
			&cli.StringFlag{
				Name:    "log-level",
				Usage:   "Log level (debug, info, warn, error)",
				Value:   "info",
				Sources: cli.EnvVars("LOG_LEVEL"),
			},
		},
		Action: runWorkflow,
	}

	err := command.Run(context.Background(), os.Args)
	if err != nil {
		log.WithModule("runner").Error("Workflow run failed", "error", err)
		os.Exit(1)
	}
}

func runWorkflow(ctx context.Context, command *cli.Command) error {
	log.Setup(command.String("log-level"))
	logger := log.WithModule("runner")

	data, err := os.ReadFile(command.String("file"))
	if err != nil {
		return fmt.Errorf("failed to read workflow file: %w", err)
	}

	def, err := parser.NewParser().Parse(data)
	if err != nil {
		return err
	}

	var initial map[string]any

	err = json.Unmarshal([]byte(command.String("context")), &initial)
	if err != nil {
		return fmt.Errorf("invalid --context JSON: %w", err)
	}

	persist := cmd.MustPersistence(ctx, logger, command.String("database-url"))
	defer func() {
		if err := persist.Close(ctx); err != nil {
			logger.ErrorContext(ctx, "Failed to close persistence", "error", err)
		}
	}()

	eventBus := cmd.NewEventBus("gochannel", "adflow-runner", logger)
	defer func() {
		if err := eventBus.Close(); err != nil {
			logger.ErrorContext(ctx, "Failed to close event bus", "error", err)
		}
	}()

	cache := contextcache.NewCache(logger, contextcache.DefaultTTL, contextcache.DefaultSweepInterval)
	defer cache.Close()

	registry := cmd.NewRegistry(logger)
	mon := monitor.NewMonitor(logger, prometheus.NewRegistry())

	orch := orchestrator.NewOrchestrator(
		logger, persist, registry, mon, cache, eventBus,
		orchestrator.WithSynchronousExecution(),
	)

	_, err = orch.CreateWorkflowDefinition(ctx, def)
	if err != nil && !persistence.IsDefinitionExists(err) {
		return err
	}

	execution, err := orch.StartWorkflow(ctx, def.Name, command.String("customer-id"), initial)
	if err != nil {
		return err
	}

	snapshot, err := orch.Status(ctx, execution.ID)
	if err != nil {
		return err
	}

	output, err := json.MarshalIndent(snapshot, "", "  ")
	if err != nil {
		return err
	}

	fmt.Fprintln(os.Stdout, string(output))

	if snapshot.Execution.Status != models.ExecutionStatusCompleted {
		return fmt.Errorf("workflow finished with status %q: %s", snapshot.Execution.Status, snapshot.Execution.Error)
	}

	return nil
}
