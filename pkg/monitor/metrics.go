package monitor

import "github.com/prometheus/client_golang/prometheus"

// metrics holds the Prometheus collectors exposed by the monitor.
type metrics struct {
	executionsStarted  prometheus.Counter
	executionsFinished *prometheus.CounterVec
	executionsRunning  prometheus.Gauge
	stepExecutions     *prometheus.CounterVec
	executionDuration  prometheus.Histogram
}

func newMetrics(reg prometheus.Registerer) *metrics {
	m := &metrics{
		executionsStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "adflow",
			Name:      "executions_started_total",
			Help:      "Number of workflow executions started.",
		}),
		executionsFinished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "adflow",
			Name:      "executions_finished_total",
			Help:      "Number of workflow executions finished, by final status.",
		}, []string{"status"}),
		executionsRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "adflow",
			Name:      "executions_running",
			Help:      "Number of workflow executions currently in flight.",
		}),
		stepExecutions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "adflow",
			Name:      "step_executions_total",
			Help:      "Number of step executions, by step name and outcome.",
		}, []string{"step", "outcome"}),
		executionDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "adflow",
			Name:      "execution_duration_seconds",
			Help:      "Wall-clock duration of finished workflow executions.",
			Buckets:   prometheus.ExponentialBuckets(0.1, 2, 14),
		}),
	}

	if reg != nil {
		reg.MustRegister(
			m.executionsStarted,
			m.executionsFinished,
			m.executionsRunning,
			m.stepExecutions,
			m.executionDuration,
		)
	}

	return m
}
