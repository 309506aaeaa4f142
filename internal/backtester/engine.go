// Package backtester provides the single-pass and chunked backtest engines.
package backtester

import (
	"fmt"
	"math"

	"github.com/atlas-desktop/backtest-engine/internal/simulation"
	"github.com/atlas-desktop/backtest-engine/pkg/types"
	"go.uber.org/zap"
)

// Runner executes one backtest task
type Runner interface {
	Run(task *types.BacktestTask) (*types.Result, error)
	Kind() types.EngineKind
}

// Engine runs a task through the simulation core in a single pass
type Engine struct {
	logger *zap.Logger
}

// NewEngine creates a new single-pass engine
func NewEngine(logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{logger: logger}
}

// Kind returns EngineSinglePass
func (e *Engine) Kind() types.EngineKind {
	return types.EngineSinglePass
}

// Run validates the task, simulates it once and assembles the result table.
func (e *Engine) Run(task *types.BacktestTask) (*types.Result, error) {
	if err := ValidateTask(task); err != nil {
		return nil, err
	}

	traj, err := simulation.Simulate(task.Prices, task.Signals, task.Params)
	if err != nil {
		return nil, fmt.Errorf("simulate %s: %w", task.InstrumentID, err)
	}

	e.logger.Debug("single-pass run complete",
		zap.String("instrument", task.InstrumentID),
		zap.Int("rows", traj.Len()),
	)

	return &types.Result{
		Trajectory:        *traj,
		CumulativeReturns: types.CumulativeReturns(traj.Returns),
	}, nil
}

// ValidateTask checks the shape and value invariants of a task before simulation.
func ValidateTask(task *types.BacktestTask) error {
	if task == nil {
		return types.Malformed("nil task")
	}
	if len(task.Prices) != len(task.Signals) {
		return types.Malformed("%s: price/signal length mismatch: %d != %d",
			task.InstrumentID, len(task.Prices), len(task.Signals))
	}
	for i, p := range task.Prices {
		if !(p > 0) || math.IsInf(p, 0) {
			return types.Malformed("%s: price at %d must be positive and finite, got %v", task.InstrumentID, i, p)
		}
	}
	for i, s := range task.Signals {
		if s < types.SignalSell || s > types.SignalBuy {
			return types.Malformed("%s: signal at %d outside {-1, 0, 1}: %d", task.InstrumentID, i, s)
		}
	}
	return task.Params.Validate()
}
