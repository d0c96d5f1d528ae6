// Package scheduler starts workflows on recurring cron schedules, one entry
// per customer and workflow pair.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"

	"github.com/adlytics/adflow/pkg/orchestrator"
)

// Entry binds a cron expression to a workflow start.
type Entry struct {
	Workflow   string         `yaml:"workflow"   validate:"required"`
	CustomerID string         `yaml:"customer_id" validate:"required"`
	Cron       string         `yaml:"cron"       validate:"required"`
	Context    map[string]any `yaml:"context"`
}

// Config is the YAML schedule file format.
type Config struct {
	Entries []Entry `yaml:"schedules"`
}

// LoadConfig reads a schedule file.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read schedule file: %w", err)
	}

	var cfg Config

	err = yaml.Unmarshal(data, &cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to parse schedule file: %w", err)
	}

	return &cfg, nil
}

// Scheduler triggers workflow starts on cron ticks. A tick that lands while
// the previous run is still in flight is skipped, not queued.
type Scheduler struct {
	logger       *slog.Logger
	orchestrator *orchestrator.Orchestrator
	cron         *cron.Cron
}

// NewScheduler creates a scheduler driving the given orchestrator.
func NewScheduler(logger *slog.Logger, orch *orchestrator.Orchestrator) *Scheduler {
	return &Scheduler{
		logger:       logger.With("module", "scheduler"),
		orchestrator: orch,
		cron:         cron.New(cron.WithSeconds()),
	}
}

// Register adds a schedule entry. The returned error reports an invalid cron
// expression.
func (s *Scheduler) Register(entry Entry) error {
	_, err := s.cron.AddFunc(entry.Cron, func() {
		s.trigger(entry)
	})
	if err != nil {
		return fmt.Errorf("invalid cron expression %q for workflow %q: %w", entry.Cron, entry.Workflow, err)
	}

	s.logger.Info("Registered schedule",
		"workflow", entry.Workflow, "customer_id", entry.CustomerID, "cron", entry.Cron)

	return nil
}

// RegisterAll adds every entry of a schedule config.
func (s *Scheduler) RegisterAll(cfg *Config) error {
	for _, entry := range cfg.Entries {
		err := s.Register(entry)
		if err != nil {
			return err
		}
	}

	return nil
}

// Start begins dispatching cron ticks.
func (s *Scheduler) Start() {
	s.cron.Start()
	s.logger.Info("Scheduler started", "entries", len(s.cron.Entries()))
}

// Stop halts the cron runner and waits for in-flight triggers.
func (s *Scheduler) Stop(ctx context.Context) {
	stopCtx := s.cron.Stop()

	select {
	case <-stopCtx.Done():
	case <-ctx.Done():
		s.logger.Warn("Timed out waiting for in-flight schedule triggers")
	}
}

func (s *Scheduler) trigger(entry Entry) {
	ctx := context.Background()

	execution, err := s.orchestrator.StartWorkflow(ctx, entry.Workflow, entry.CustomerID, entry.Context)
	if err != nil {
		if orchestrator.IsAlreadyRunning(err) {
			s.logger.Info("Skipping schedule tick, previous run still in flight",
				"workflow", entry.Workflow, "customer_id", entry.CustomerID)

			return
		}

		s.logger.Error("Failed to start scheduled workflow",
			"workflow", entry.Workflow, "customer_id", entry.CustomerID, "error", err)

		return
	}

	s.logger.Info("Started scheduled workflow",
		"workflow", entry.Workflow, "customer_id", entry.CustomerID, "execution_id", execution.ID)
}
