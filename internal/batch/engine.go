// Package batch fans independent backtest tasks out across a worker pool and
// aggregates their results by task key.
package batch

import (
	"context"
	"errors"
	"time"

	"github.com/atlas-desktop/backtest-engine/internal/backtester"
	"github.com/atlas-desktop/backtest-engine/internal/optimization"
	"github.com/atlas-desktop/backtest-engine/internal/strategy"
	"github.com/atlas-desktop/backtest-engine/internal/telemetry"
	"github.com/atlas-desktop/backtest-engine/internal/workers"
	"github.com/atlas-desktop/backtest-engine/pkg/types"
	"go.uber.org/zap"
)

// Engine runs batches of backtest tasks in parallel
type Engine struct {
	logger    *zap.Logger
	config    types.EngineConfig
	single    *backtester.Engine
	chunked   *backtester.ChunkedEngine
	override  backtester.Runner
	collector *telemetry.Collector
}

// Option customizes an Engine
type Option func(*Engine)

// WithRunner routes every batch task through r instead of the built-in
// single-pass and chunked engines.
func WithRunner(r backtester.Runner) Option {
	return func(e *Engine) {
		e.override = r
	}
}

// NewEngine creates a batch engine. collector may be nil.
func NewEngine(logger *zap.Logger, config types.EngineConfig, collector *telemetry.Collector, opts ...Option) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	e := &Engine{
		logger:    logger,
		config:    config,
		single:    backtester.NewEngine(logger),
		chunked:   backtester.NewChunkedEngine(logger, config.ChunkSize, config.ReleaseEvery),
		collector: collector,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// RunnerFor picks the chunked engine for series longer than the chunk threshold.
func (e *Engine) RunnerFor(task *types.BacktestTask) backtester.Runner {
	if e.override != nil {
		return e.override
	}
	if e.config.ChunkThreshold > 0 && e.config.ChunkSize > 0 && len(task.Prices) > e.config.ChunkThreshold {
		return e.chunked
	}
	return e.single
}

// RunTask executes one task in isolation and captures its outcome.
func (e *Engine) RunTask(task *types.BacktestTask) types.TaskResult {
	key := task.Key()
	runner := e.RunnerFor(task)

	start := time.Now()
	res, err := runner.Run(task)

	out := types.TaskResult{
		Key:            key,
		StrategyParams: task.StrategyParams,
		Engine:         runner.Kind(),
		Duration:       time.Since(start),
	}
	if err != nil {
		out.Err = &types.TaskError{Key: key, Err: err}
		return out
	}
	out.Result = res
	return out
}

// pending tracks a dispatched task until its outcome arrives
type pending struct {
	task   *types.BacktestTask
	key    types.TaskKey
	done   <-chan error
	result <-chan types.TaskResult
}

// RunBatch runs every task on a pool of workerCount goroutines and returns the
// results keyed by (instrument, parameter hash). A failing task yields an Err
// entry and never affects its siblings. Once ctx is cancelled no further tasks
// are submitted; tasks already running complete normally.
func (e *Engine) RunBatch(ctx context.Context, tasks []*types.BacktestTask, workerCount int) map[types.TaskKey]types.TaskResult {
	startTime := time.Now()
	if workerCount <= 0 {
		workerCount = e.config.Workers
	}

	pool := workers.NewPool(e.logger, &workers.PoolConfig{
		Name:            "batch",
		NumWorkers:      workerCount,
		QueueSize:       e.config.QueueSize,
		TaskTimeout:     e.config.TaskTimeout,
		ShutdownTimeout: 30 * time.Second,
		PanicRecovery:   true,
	})
	pool.Start()
	defer func() {
		if err := pool.Stop(); err != nil {
			e.logger.Warn("batch pool shutdown", zap.Error(err))
		}
	}()

	results := make(map[types.TaskKey]types.TaskResult, len(tasks))
	inflight := make([]pending, 0, len(tasks))
	seen := make(map[types.TaskKey]struct{}, len(tasks))

	e.logger.Info("starting batch",
		zap.Int("tasks", len(tasks)),
		zap.Int("workers", workerCount),
	)

	for i, task := range tasks {
		if task == nil {
			e.logger.Warn("skipping nil task", zap.Int("index", i))
			continue
		}
		key := task.Key()
		if _, dup := seen[key]; dup {
			e.logger.Warn("skipping duplicate task", zap.String("key", key.String()))
			continue
		}
		seen[key] = struct{}{}

		if ctx.Err() != nil {
			results[key] = e.cancelled(task, key)
			continue
		}

		resultCh := make(chan types.TaskResult, 1)
		t := task
		done, err := pool.Submit(ctx, workers.TaskFunc(func(context.Context) error {
			res := e.RunTask(t)
			resultCh <- res
			return res.Err
		}))
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				results[key] = e.cancelled(task, key)
			} else {
				results[key] = types.TaskResult{Key: key, StrategyParams: task.StrategyParams, Err: &types.TaskError{Key: key, Err: err}}
			}
			continue
		}
		inflight = append(inflight, pending{task: task, key: key, done: done, result: resultCh})
	}

	e.logger.Debug("batch dispatched",
		zap.Int("inflight", len(inflight)),
		zap.Int("queued", pool.QueueLength()),
	)

	var succeeded, failed int
	for _, p := range inflight {
		res := e.collect(p)
		results[p.key] = res

		if res.Err != nil {
			failed++
			e.collector.ObserveTask(telemetry.OutcomeFailed, res.Duration)
			e.logger.Debug("task failed", zap.String("key", p.key.String()), zap.Error(res.Err))
		} else {
			succeeded++
			e.collector.ObserveTask(telemetry.OutcomeOK, res.Duration)
		}
	}

	stats := pool.Stats()
	e.logger.Info("batch complete",
		zap.Int("succeeded", succeeded),
		zap.Int("failed", failed),
		zap.Int("cancelled", len(results)-succeeded-failed),
		zap.Int64("timeouts", stats.TasksTimeout),
		zap.Int64("panics", stats.PanicRecovered),
		zap.Duration("duration", time.Since(startTime)),
		zap.Duration("p99", stats.P99Latency),
		zap.Float64("throughput", stats.Throughput),
	)

	return results
}

// collect waits for a dispatched task and converts pool-level failures
// (timeouts, recovered panics) into Err results.
func (e *Engine) collect(p pending) types.TaskResult {
	err := <-p.done

	var panicErr *workers.PanicError
	switch {
	case errors.Is(err, workers.ErrTaskTimeout):
		return types.TaskResult{Key: p.key, StrategyParams: p.task.StrategyParams, Err: &types.TaskError{Key: p.key, Err: types.ErrTaskTimeout}, Duration: e.config.TaskTimeout}
	case errors.As(err, &panicErr):
		return types.TaskResult{Key: p.key, StrategyParams: p.task.StrategyParams, Err: &types.TaskError{Key: p.key, Err: panicErr}}
	}
	return <-p.result
}

func (e *Engine) cancelled(task *types.BacktestTask, key types.TaskKey) types.TaskResult {
	e.collector.ObserveTask(telemetry.OutcomeCancelled, 0)
	return types.TaskResult{
		Key:            key,
		StrategyParams: task.StrategyParams,
		Err:            &types.TaskError{Key: key, Err: types.ErrCancelled},
	}
}

// Optimize runs cross-validated grid search for one instrument using the
// engine's worker count. Folds always run single-pass.
func (e *Engine) Optimize(ctx context.Context, strat strategy.Strategy, inst types.Instrument, grid optimization.ParamGrid, metric types.MetricName, foldCount int) (*optimization.Report, error) {
	opt := optimization.NewOptimizer(e.logger, optimization.Config{
		Workers:    e.config.Workers,
		Simulation: e.config.Simulation,
	}, strat, e.single, e.collector)
	return opt.Optimize(ctx, inst, grid, metric, foldCount)
}
