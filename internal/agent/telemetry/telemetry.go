package telemetry

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	RunsStarted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "deepresearch_runs_started_total",
			Help: "Total number of research runs started",
		},
		[]string{"mode"},
	)

	RunsFinished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "deepresearch_runs_finished_total",
			Help: "Total number of research runs finished by stop reason",
		},
		[]string{"mode", "stop_reason"},
	)

	RunDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "deepresearch_run_duration_seconds",
			Help:    "Research run duration in seconds",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600},
		},
		[]string{"mode"},
	)

	Iterations = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "deepresearch_run_iterations",
			Help:    "Orchestrator iterations per run",
			Buckets: []float64{1, 2, 3, 4, 6, 8, 12, 16},
		},
		[]string{"mode"},
	)

	ToolExecutions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "deepresearch_tool_executions_total",
			Help: "Sub-agent branch executions by tool path and outcome",
		},
		[]string{"path", "outcome"},
	)

	BranchDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "deepresearch_branch_duration_seconds",
			Help:    "Duration of one sub-agent branch",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"path"},
	)

	RouterDecisions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "deepresearch_router_decisions_total",
			Help: "Decision router outcomes by next component",
		},
		[]string{"next"},
	)

	PacketsEmitted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "deepresearch_packets_emitted_total",
			Help: "Stream packets emitted by kind",
		},
		[]string{"kind"},
	)

	BudgetRemaining = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "deepresearch_budget_remaining",
			Help:    "Remaining research budget when a run reaches the closer",
			Buckets: []float64{-3, -1, 0, 1, 2, 4, 8, 12},
		},
		[]string{"mode"},
	)
)

// Outcome labels for ToolExecutions.
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
)

// ObserveBranch records one branch execution.
func ObserveBranch(path string, started time.Time, err error) {
	outcome := OutcomeSuccess
	if err != nil {
		outcome = OutcomeFailure
	}
	ToolExecutions.WithLabelValues(path, outcome).Inc()
	BranchDuration.WithLabelValues(path).Observe(time.Since(started).Seconds())
}

// ObservePacket records one emitted packet kind.
func ObservePacket(kind string) {
	PacketsEmitted.WithLabelValues(kind).Inc()
}

// ObserveRun records the end of a run.
func ObserveRun(mode, stopReason string, started time.Time, iterations int, remaining float64) {
	RunsFinished.WithLabelValues(mode, stopReason).Inc()
	RunDuration.WithLabelValues(mode).Observe(time.Since(started).Seconds())
	Iterations.WithLabelValues(mode).Observe(float64(iterations))
	BudgetRemaining.WithLabelValues(mode).Observe(remaining)
}
