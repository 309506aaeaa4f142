// Package optimization performs grid-search parameter optimization with
// time-windowed cross-validation.
package optimization

import (
	"context"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/atlas-desktop/backtest-engine/internal/backtester"
	"github.com/atlas-desktop/backtest-engine/internal/strategy"
	"github.com/atlas-desktop/backtest-engine/internal/telemetry"
	"github.com/atlas-desktop/backtest-engine/pkg/types"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Grid names that override simulation parameters instead of reaching the strategy.
const (
	ParamPositionSize  = "position_size"
	ParamCommissionPct = "commission_pct"
	ParamSlippagePct   = "slippage_pct"
)

// ParamRange lists the candidate values of one parameter
type ParamRange struct {
	Name   string    `json:"name" yaml:"name"`
	Values []float64 `json:"values" yaml:"values"`
}

// ParamGrid is an ordered set of parameter ranges. Order fixes the
// combination order and therefore tie-breaking in the ranking.
type ParamGrid []ParamRange

// Combinations returns the Cartesian product of the grid, first range outermost.
func (g ParamGrid) Combinations() []types.ParamSet {
	return cartesianProduct(g, 0, make(types.ParamSet))
}

// cartesianProduct generates all combinations recursively
func cartesianProduct(grid ParamGrid, idx int, current types.ParamSet) []types.ParamSet {
	if idx == len(grid) {
		return []types.ParamSet{current.Clone()}
	}

	var combinations []types.ParamSet
	for _, val := range grid[idx].Values {
		current[grid[idx].Name] = val
		combinations = append(combinations, cartesianProduct(grid, idx+1, current)...)
	}
	delete(current, grid[idx].Name)

	return combinations
}

// Folds splits n rows into foldCount overlapping two-window folds: fold k
// spans [k*size, k*size + 2*size) with size = n / (foldCount+1), so the last
// fold ends at or before n. Folds that would run past n are dropped.
func Folds(n, foldCount int) []types.Fold {
	if foldCount <= 0 || n <= 0 {
		return nil
	}
	size := n / (foldCount + 1)
	if size == 0 {
		return nil
	}

	folds := make([]types.Fold, 0, foldCount)
	for k := 0; k < foldCount; k++ {
		start := k * size
		end := start + 2*size
		if end > n {
			continue
		}
		folds = append(folds, types.Fold{Index: k, Start: start, End: end})
	}
	return folds
}

// SplitParams separates simulation overrides from strategy parameters.
func SplitParams(combo types.ParamSet, base types.SimulationParams) (types.ParamSet, types.SimulationParams) {
	strat := make(types.ParamSet, len(combo))
	sim := base
	for k, v := range combo {
		switch k {
		case ParamPositionSize:
			sim.PositionSize = v
		case ParamCommissionPct:
			sim.Costs.CommissionPct = v
		case ParamSlippagePct:
			sim.Costs.SlippagePct = v
		default:
			strat[k] = v
		}
	}
	return strat, sim
}

// Config configures the optimizer
type Config struct {
	Workers    int
	Simulation types.SimulationParams
}

// Optimizer ranks parameter combinations by cross-validated score
type Optimizer struct {
	logger    *zap.Logger
	config    Config
	strategy  strategy.Strategy
	runner    backtester.Runner
	collector *telemetry.Collector
}

// NewOptimizer creates a new optimizer. Folds run through runner.
func NewOptimizer(logger *zap.Logger, config Config, strat strategy.Strategy, runner backtester.Runner, collector *telemetry.Collector) *Optimizer {
	if logger == nil {
		logger = zap.NewNop()
	}
	if config.Workers <= 0 {
		config.Workers = 1
	}
	return &Optimizer{
		logger:    logger,
		config:    config,
		strategy:  strat,
		runner:    runner,
		collector: collector,
	}
}

// Exclusion records a combination dropped because every fold failed
type Exclusion struct {
	Params types.ParamSet `json:"params"`
	Errors []error        `json:"-" yaml:"-"`
}

// Report contains optimization results
type Report struct {
	InstrumentID string                     `json:"instrumentId"`
	Metric       types.MetricName           `json:"metric"`
	Folds        []types.Fold               `json:"folds"`
	Results      []types.OptimizationResult `json:"results"`
	Best         *types.OptimizationResult  `json:"best,omitempty"`
	Excluded     []Exclusion                `json:"excluded,omitempty"`
	Combinations int                        `json:"combinations"`
	Duration     time.Duration              `json:"duration"`
}

// evaluation is the outcome of one combination
type evaluation struct {
	result types.OptimizationResult
	errs   []error
}

// Optimize scores every grid combination on each fold of the instrument's
// series and returns the combinations sorted by mean score, best first.
// Ties keep grid order.
func (o *Optimizer) Optimize(ctx context.Context, inst types.Instrument, grid ParamGrid, metric types.MetricName, foldCount int) (*Report, error) {
	startTime := time.Now()

	if _, err := backtester.ParseMetric(string(metric)); err != nil {
		return nil, err
	}
	if foldCount < 1 {
		return nil, types.Malformed("fold count must be at least 1, got %d", foldCount)
	}
	folds := Folds(len(inst.Prices), foldCount)
	if len(folds) == 0 {
		return nil, fmt.Errorf("%w: %d rows too short for %d folds", types.ErrMalformedInput, len(inst.Prices), foldCount)
	}

	combinations := grid.Combinations()
	o.logger.Info("starting cross-validated grid search",
		zap.String("instrument", inst.ID),
		zap.String("metric", string(metric)),
		zap.Int("combinations", len(combinations)),
		zap.Int("folds", len(folds)),
		zap.Int("workers", o.config.Workers),
	)

	evals := make([]evaluation, len(combinations))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(o.config.Workers)
	for i, combo := range combinations {
		if gctx.Err() != nil {
			break
		}
		i, combo := i, combo
		g.Go(func() error {
			evals[i] = o.evaluate(gctx, inst, combo, folds, metric)
			return nil
		})
	}
	_ = g.Wait()

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	report := &Report{
		InstrumentID: inst.ID,
		Metric:       metric,
		Folds:        folds,
		Results:      make([]types.OptimizationResult, 0, len(combinations)),
		Combinations: len(combinations),
	}

	for i, ev := range evals {
		if len(ev.result.FoldScores) == 0 {
			report.Excluded = append(report.Excluded, Exclusion{Params: combinations[i], Errors: ev.errs})
			continue
		}
		report.Results = append(report.Results, ev.result)
	}

	sort.SliceStable(report.Results, func(i, j int) bool {
		return report.Results[i].MeanScore > report.Results[j].MeanScore
	})

	if len(report.Results) > 0 {
		report.Best = &report.Results[0]
	}
	report.Duration = time.Since(startTime)

	if report.Best == nil {
		o.logger.Warn("no combination produced a score",
			zap.String("instrument", inst.ID),
			zap.Int("excluded", len(report.Excluded)),
		)
	} else {
		o.logger.Info("grid search complete",
			zap.String("instrument", inst.ID),
			zap.Any("bestParams", report.Best.Params),
			zap.Float64("bestScore", report.Best.MeanScore),
			zap.Int("ranked", len(report.Results)),
			zap.Int("excluded", len(report.Excluded)),
			zap.Duration("duration", report.Duration),
		)
	}

	return report, nil
}

// evaluate scores one combination across all folds
func (o *Optimizer) evaluate(ctx context.Context, inst types.Instrument, combo types.ParamSet, folds []types.Fold, metric types.MetricName) evaluation {
	stratParams, sim := SplitParams(combo, o.config.Simulation)

	ev := evaluation{result: types.OptimizationResult{Params: combo}}
	for _, fold := range folds {
		score, err := o.runFold(ctx, inst, fold, stratParams, sim, metric)
		if err != nil {
			foldErr := &types.FoldError{Fold: fold, Err: err}
			ev.errs = append(ev.errs, foldErr)
			ev.result.FailedFolds++
			o.collector.ObserveFoldFailure()
			o.logger.Debug("fold failed",
				zap.String("instrument", inst.ID),
				zap.Any("params", combo),
				zap.Error(foldErr),
			)
			continue
		}
		ev.result.FoldScores = append(ev.result.FoldScores, score)
	}

	ev.result.MeanScore, ev.result.ScoreStd = meanStd(ev.result.FoldScores)
	return ev
}

// runFold applies the strategy to the fold window, simulates it and scores it.
func (o *Optimizer) runFold(ctx context.Context, inst types.Instrument, fold types.Fold, stratParams types.ParamSet, sim types.SimulationParams, metric types.MetricName) (float64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	window := inst.Prices[fold.Start:fold.End]
	signals, err := strategy.Generate(o.strategy, window, stratParams)
	if err != nil {
		return 0, err
	}

	res, err := o.runner.Run(&types.BacktestTask{
		InstrumentID:   inst.ID,
		Prices:         window,
		Signals:        signals,
		Params:         sim,
		StrategyParams: stratParams,
	})
	if err != nil {
		return 0, err
	}

	return backtester.Score(metric, res)
}

// meanStd returns the mean and population standard deviation.
func meanStd(values []float64) (float64, float64) {
	if len(values) == 0 {
		return 0, 0
	}
	var sum float64
	for _, v := range values {
		sum += v
	}
	m := sum / float64(len(values))

	var sq float64
	for _, v := range values {
		sq += (v - m) * (v - m)
	}
	return m, math.Sqrt(sq / float64(len(values)))
}
