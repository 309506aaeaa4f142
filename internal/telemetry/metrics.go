// Package telemetry exposes Prometheus instrumentation for engine runs.
package telemetry

import (
	"time"

	"github.com/atlas-desktop/backtest-engine/pkg/types"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Task outcomes
const (
	OutcomeOK        = "ok"
	OutcomeFailed    = "failed"
	OutcomeCancelled = "cancelled"
)

// Collector groups the engine's Prometheus metrics.
// A nil *Collector is valid and records nothing.
type Collector struct {
	TasksTotal       *prometheus.CounterVec
	TaskDuration     prometheus.Histogram
	EngineSelections *prometheus.CounterVec
	FoldFailures     prometheus.Counter
	ProbeFallbacks   prometheus.Counter
}

// NewCollector registers the engine metrics on reg.
func NewCollector(reg prometheus.Registerer) *Collector {
	factory := promauto.With(reg)
	return &Collector{
		TasksTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "backtest",
				Name:      "tasks_total",
				Help:      "Backtest tasks by outcome",
			},
			[]string{"outcome"},
		),
		TaskDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: "backtest",
				Name:      "task_duration_seconds",
				Help:      "Wall-clock duration of a single backtest task",
				Buckets:   prometheus.ExponentialBuckets(0.0001, 4, 10),
			},
		),
		EngineSelections: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "backtest",
				Name:      "engine_selections_total",
				Help:      "Engine chosen per orchestrated run",
			},
			[]string{"engine"},
		),
		FoldFailures: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: "backtest",
				Name:      "fold_failures_total",
				Help:      "Cross-validation folds that failed",
			},
		),
		ProbeFallbacks: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: "backtest",
				Name:      "probe_fallbacks_total",
				Help:      "Engine selections made without a resource reading",
			},
		),
	}
}

// ObserveTask records one task outcome.
func (c *Collector) ObserveTask(outcome string, d time.Duration) {
	if c == nil {
		return
	}
	c.TasksTotal.WithLabelValues(outcome).Inc()
	if outcome != OutcomeCancelled {
		c.TaskDuration.Observe(d.Seconds())
	}
}

// ObserveEngine records an engine selection.
func (c *Collector) ObserveEngine(kind types.EngineKind) {
	if c == nil {
		return
	}
	c.EngineSelections.WithLabelValues(string(kind)).Inc()
}

// ObserveFoldFailure records a failed fold.
func (c *Collector) ObserveFoldFailure() {
	if c == nil {
		return
	}
	c.FoldFailures.Inc()
}

// ObserveProbeFallback records a selection made without a memory reading.
func (c *Collector) ObserveProbeFallback() {
	if c == nil {
		return
	}
	c.ProbeFallbacks.Inc()
}
