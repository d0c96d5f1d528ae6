// Package monitor tracks in-flight and recent workflow executions plus
// aggregate counters. It is purely observational: malformed input is logged
// and ignored so that monitoring can never abort a workflow.
package monitor

import (
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/adlytics/adflow/pkg/models"
)

const defaultHistorySize = 200

// ExecutionInfo is the monitor's view of one execution.
type ExecutionInfo struct {
	ExecutionID    string                 `json:"execution_id"`
	WorkflowName   string                 `json:"workflow_name"`
	CustomerID     string                 `json:"customer_id"`
	Status         models.ExecutionStatus `json:"status"`
	CompletedSteps int                    `json:"completed_steps"`
	TotalSteps     int                    `json:"total_steps"`
	StartedAt      time.Time              `json:"started_at"`
	EndedAt        *time.Time             `json:"ended_at,omitempty"`
}

// Metrics is an aggregate snapshot of everything the monitor has seen.
type Metrics struct {
	TotalExecutions      int64            `json:"total_executions"`
	SuccessfulExecutions int64            `json:"successful_executions"`
	FailedExecutions     int64            `json:"failed_executions"`
	StepExecutionCounts  map[string]int64 `json:"step_execution_counts"`
}

// Monitor records execution lifecycle events in process memory and exports
// Prometheus collectors for the same signals.
type Monitor struct {
	logger  *slog.Logger
	metrics *metrics

	mu          sync.Mutex
	active      map[string]*ExecutionInfo
	recent      []*ExecutionInfo
	historySize int

	totalExecutions      int64
	successfulExecutions int64
	failedExecutions     int64
	stepCounts           map[string]int64
}

// NewMonitor creates a workflow monitor. Collectors are registered on reg;
// pass nil to skip Prometheus registration (tests).
func NewMonitor(logger *slog.Logger, reg prometheus.Registerer) *Monitor {
	return &Monitor{
		logger:      logger.With("module", "monitor"),
		metrics:     newMetrics(reg),
		active:      make(map[string]*ExecutionInfo),
		recent:      make([]*ExecutionInfo, 0, defaultHistorySize),
		historySize: defaultHistorySize,
		stepCounts:  make(map[string]int64),
	}
}

// StartExecution registers a new in-flight execution.
func (m *Monitor) StartExecution(executionID, workflowName, customerID string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.active[executionID] = &ExecutionInfo{
		ExecutionID:  executionID,
		WorkflowName: workflowName,
		CustomerID:   customerID,
		Status:       models.ExecutionStatusRunning,
		StartedAt:    time.Now(),
	}
	m.totalExecutions++

	m.metrics.executionsStarted.Inc()
	m.metrics.executionsRunning.Inc()
}

// UpdateProgress records stage progress for an execution. Unknown execution
// IDs are tolerated.
func (m *Monitor) UpdateProgress(executionID string, completedSteps, totalSteps int) {
	m.mu.Lock()
	defer m.mu.Unlock()

	info, ok := m.active[executionID]
	if !ok {
		m.logger.Debug("Progress update for unknown execution", "execution_id", executionID)

		return
	}

	info.CompletedSteps = completedSteps
	info.TotalSteps = totalSteps
}

// RecordStep counts one step attempt outcome.
func (m *Monitor) RecordStep(executionID, stepName string, success bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.active[executionID]; !ok {
		m.logger.Debug("Step record for unknown execution", "execution_id", executionID, "step", stepName)
	}

	m.stepCounts[stepName]++

	outcome := "success"
	if !success {
		outcome = "failure"
	}

	m.metrics.stepExecutions.WithLabelValues(stepName, outcome).Inc()
}

// EndExecution moves an execution from the active set into recent history.
// Unknown execution IDs are tolerated.
func (m *Monitor) EndExecution(executionID string, finalStatus models.ExecutionStatus) {
	m.mu.Lock()
	defer m.mu.Unlock()

	info, ok := m.active[executionID]
	if !ok {
		m.logger.Debug("End of unknown execution", "execution_id", executionID)

		return
	}

	delete(m.active, executionID)

	now := time.Now()
	info.Status = finalStatus
	info.EndedAt = &now

	m.recent = append(m.recent, info)
	if len(m.recent) > m.historySize {
		m.recent = m.recent[len(m.recent)-m.historySize:]
	}

	switch finalStatus {
	case models.ExecutionStatusCompleted:
		m.successfulExecutions++
	case models.ExecutionStatusFailed:
		m.failedExecutions++
	case models.ExecutionStatusPending, models.ExecutionStatusRunning:
		// Non-terminal end status still removes the execution from the
		// active set so monitoring cannot leak entries.
	}

	m.metrics.executionsRunning.Dec()
	m.metrics.executionsFinished.WithLabelValues(string(finalStatus)).Inc()
	m.metrics.executionDuration.Observe(now.Sub(info.StartedAt).Seconds())
}

// ActiveExecutions returns a snapshot of in-flight executions, newest first.
func (m *Monitor) ActiveExecutions() []ExecutionInfo {
	m.mu.Lock()
	defer m.mu.Unlock()

	infos := make([]ExecutionInfo, 0, len(m.active))
	for _, info := range m.active {
		infos = append(infos, *info)
	}

	sort.Slice(infos, func(i, j int) bool {
		return infos[i].StartedAt.After(infos[j].StartedAt)
	})

	return infos
}

// RecentExecutions returns up to limit finished executions, newest first.
func (m *Monitor) RecentExecutions(limit int) []ExecutionInfo {
	m.mu.Lock()
	defer m.mu.Unlock()

	if limit <= 0 || limit > len(m.recent) {
		limit = len(m.recent)
	}

	infos := make([]ExecutionInfo, 0, limit)
	for i := len(m.recent) - 1; i >= len(m.recent)-limit; i-- {
		infos = append(infos, *m.recent[i])
	}

	return infos
}

// Metrics returns aggregate counters since the monitor was created.
func (m *Monitor) Metrics() Metrics {
	m.mu.Lock()
	defer m.mu.Unlock()

	counts := make(map[string]int64, len(m.stepCounts))
	for step, count := range m.stepCounts {
		counts[step] = count
	}

	return Metrics{
		TotalExecutions:      m.totalExecutions,
		SuccessfulExecutions: m.successfulExecutions,
		FailedExecutions:     m.failedExecutions,
		StepExecutionCounts:  counts,
	}
}
