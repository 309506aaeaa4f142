// Package orchestrator selects an execution engine per run, monitors its
// resource usage, and drives batch optimization across many instruments.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/atlas-desktop/backtest-engine/internal/backtester"
	"github.com/atlas-desktop/backtest-engine/internal/batch"
	"github.com/atlas-desktop/backtest-engine/internal/optimization"
	"github.com/atlas-desktop/backtest-engine/internal/resource"
	"github.com/atlas-desktop/backtest-engine/internal/strategy"
	"github.com/atlas-desktop/backtest-engine/internal/telemetry"
	"github.com/atlas-desktop/backtest-engine/pkg/types"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Orchestrator coordinates the single-pass, chunked and batch engines.
type Orchestrator struct {
	logger *zap.Logger
	config types.EngineConfig

	strategy  strategy.Strategy
	probe     resource.Probe
	monitor   *resource.Monitor
	collector *telemetry.Collector

	single  *backtester.Engine
	chunked *backtester.ChunkedEngine
	batch   *batch.Engine
}

// New creates an orchestrator. probe may be nil, in which case engine
// selection uses the size threshold alone; when probe also implements
// resource.CPUTimer it feeds CPU utilization. collector may be nil.
func New(
	logger *zap.Logger,
	config types.EngineConfig,
	strat strategy.Strategy,
	probe resource.Probe,
	collector *telemetry.Collector,
) *Orchestrator {
	if logger == nil {
		logger = zap.NewNop()
	}

	var cpu resource.CPUTimer
	if timer, ok := probe.(resource.CPUTimer); ok {
		cpu = timer
	}

	return &Orchestrator{
		logger:    logger,
		config:    config,
		strategy:  strat,
		probe:     probe,
		monitor:   resource.NewMonitor(config.MonitorInterval, cpu),
		collector: collector,
		single:    backtester.NewEngine(logger),
		chunked:   backtester.NewChunkedEngine(logger, config.ChunkSize, config.ReleaseEvery),
		batch:     batch.NewEngine(logger, config, collector),
	}
}

// SelectEngine chooses the chunked engine when the series exceeds the size
// threshold or system memory use exceeds the memory threshold.
func (o *Orchestrator) SelectEngine(ctx context.Context, task *types.BacktestTask) backtester.Runner {
	if len(task.Prices) > o.config.SizeThreshold {
		return o.chunked
	}

	pct, err := o.memoryPercent(ctx)
	if err != nil {
		o.collector.ObserveProbeFallback()
		o.logger.Warn("engine selection falling back to size threshold",
			zap.String("instrument", task.InstrumentID),
			zap.Error(err),
		)
		return o.single
	}
	if pct > o.config.MemoryThresholdPct {
		o.logger.Info("memory pressure, using chunked engine",
			zap.String("instrument", task.InstrumentID),
			zap.Float64("memoryPct", pct),
			zap.Float64("thresholdPct", o.config.MemoryThresholdPct),
		)
		return o.chunked
	}
	return o.single
}

func (o *Orchestrator) memoryPercent(ctx context.Context) (float64, error) {
	if o.probe == nil {
		return 0, fmt.Errorf("%w: no probe configured", types.ErrProbeUnavailable)
	}
	pct, err := o.probe.MemoryPercent(ctx)
	if err != nil {
		if !errors.Is(err, types.ErrProbeUnavailable) {
			err = fmt.Errorf("%w: %v", types.ErrProbeUnavailable, err)
		}
		return 0, err
	}
	return pct, nil
}

// OptimizeExecution runs one task on the selected engine under the resource
// monitor. Without autoSelect the single-pass engine is used.
func (o *Orchestrator) OptimizeExecution(ctx context.Context, task *types.BacktestTask, autoSelect bool) (*types.Result, *types.PerformanceMetrics, error) {
	if task == nil {
		return nil, nil, types.Malformed("nil task")
	}

	var runner backtester.Runner = o.single
	if autoSelect {
		runner = o.SelectEngine(ctx, task)
	}
	o.collector.ObserveEngine(runner.Kind())

	var result *types.Result
	usage, err := o.monitor.Track(ctx, func() error {
		var runErr error
		result, runErr = runner.Run(task)
		return runErr
	})
	if err != nil {
		o.logger.Warn("execution failed",
			zap.String("instrument", task.InstrumentID),
			zap.String("engine", string(runner.Kind())),
			zap.Error(err),
		)
		return nil, nil, err
	}

	metrics := &types.PerformanceMetrics{
		ExecutionTime:      usage.Wall,
		PeakMemory:         usage.PeakMemory,
		CPUUtilization:     usage.CPUUtilization,
		VectorizationRatio: VectorizationRatio(result, len(task.Prices)),
		ParallelEfficiency: 1.0,
		Timestamp:          time.Now(),
	}

	o.logger.Info("execution complete",
		zap.String("instrument", task.InstrumentID),
		zap.String("engine", string(runner.Kind())),
		zap.Int("rows", len(task.Prices)),
		zap.Duration("duration", metrics.ExecutionTime),
		zap.Uint64("peakMemory", metrics.PeakMemory),
	)

	return result, metrics, nil
}

// Replay regenerates signals for one grid combination and runs it through
// OptimizeExecution, choosing the engine as configured by AutoSelect.
func (o *Orchestrator) Replay(ctx context.Context, inst types.Instrument, combo types.ParamSet) (*types.Result, *types.PerformanceMetrics, error) {
	stratParams, sim := optimization.SplitParams(combo, o.config.Simulation)
	signals, err := strategy.Generate(o.strategy, inst.Prices, stratParams)
	if err != nil {
		return nil, nil, fmt.Errorf("replay %s: %w", inst.ID, err)
	}

	return o.OptimizeExecution(ctx, &types.BacktestTask{
		InstrumentID:   inst.ID,
		Prices:         inst.Prices,
		Signals:        signals,
		Params:         sim,
		StrategyParams: stratParams,
	}, o.config.AutoSelect)
}

// OptimizeInstrument runs cross-validated grid search on one instrument with
// the configured metric and fold count.
func (o *Orchestrator) OptimizeInstrument(ctx context.Context, inst types.Instrument, grid optimization.ParamGrid) (*optimization.Report, error) {
	return o.batch.Optimize(ctx, o.strategy, inst, grid, o.config.Metric, o.config.FoldCount)
}

// VectorizationRatio is the fraction of the position, capital and returns
// columns that hold n finite values.
func VectorizationRatio(res *types.Result, n int) float64 {
	if res == nil {
		return 0
	}
	complete := 0
	for _, col := range [][]float64{res.Position, res.Capital, res.Returns} {
		if populated(col, n) {
			complete++
		}
	}
	return float64(complete) / 3
}

func populated(col []float64, n int) bool {
	if len(col) != n {
		return false
	}
	for _, v := range col {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}

// sortedKeys orders result keys so that analysis ties resolve deterministically.
func sortedKeys(results map[types.TaskKey]types.TaskResult) []types.TaskKey {
	keys := make([]types.TaskKey, 0, len(results))
	for k := range results {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].InstrumentID != keys[j].InstrumentID {
			return keys[i].InstrumentID < keys[j].InstrumentID
		}
		return keys[i].ParamHash < keys[j].ParamHash
	})
	return keys
}

func newRunID() string {
	return uuid.New().String()
}
