package orchestrator

import (
	"context"
	"time"

	"github.com/atlas-desktop/backtest-engine/internal/backtester"
	"github.com/atlas-desktop/backtest-engine/internal/optimization"
	"github.com/atlas-desktop/backtest-engine/internal/strategy"
	"github.com/atlas-desktop/backtest-engine/pkg/types"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Performer identifies one scored task in a batch analysis. Params is the
// full grid combination, simulation overrides included.
type Performer struct {
	Key         types.TaskKey   `json:"key" yaml:"key"`
	Params      types.ParamSet  `json:"params" yaml:"params"`
	Score       float64         `json:"score" yaml:"score"`
	FinalEquity decimal.Decimal `json:"finalEquity" yaml:"finalEquity"`
}

// Analysis summarizes the scored results of a batch
type Analysis struct {
	Best         *Performer            `json:"best,omitempty" yaml:"best,omitempty"`
	Worst        *Performer            `json:"worst,omitempty" yaml:"worst,omitempty"`
	BestBy       map[string]*Performer `json:"bestByInstrument,omitempty" yaml:"bestByInstrument,omitempty"`
	AvgScore     float64               `json:"avgScore" yaml:"avgScore"`
	SuccessCount int                   `json:"successCount" yaml:"successCount"`
	FailureCount int                   `json:"failureCount" yaml:"failureCount"`
}

// BatchReport is the outcome of RunBatchOptimization
type BatchReport struct {
	ID       string                             `json:"id" yaml:"id"`
	Metric   types.MetricName                   `json:"metric" yaml:"metric"`
	Results  map[types.TaskKey]types.TaskResult `json:"-" yaml:"-"`
	Scores   map[types.TaskKey]float64          `json:"scores" yaml:"scores"`
	Failures map[types.TaskKey]string           `json:"failures,omitempty" yaml:"failures,omitempty"`
	Analysis Analysis                           `json:"analysis" yaml:"analysis"`
	Metrics  types.PerformanceMetrics           `json:"metrics" yaml:"metrics"`
}

// RunBatchOptimization generates signals for every instrument and parameter
// combination, runs them through the batch engine and scores the successes
// with the configured metric. A strategy failure on one instrument becomes an
// Err result for that task only.
func (o *Orchestrator) RunBatchOptimization(ctx context.Context, instruments []types.Instrument, grid optimization.ParamGrid) (*BatchReport, error) {
	if o.strategy == nil {
		return nil, types.Malformed("no strategy configured")
	}
	if len(instruments) == 0 {
		return nil, types.Malformed("no instruments")
	}

	runID := newRunID()
	startTime := time.Now()
	combos := grid.Combinations()

	o.logger.Info("starting batch optimization",
		zap.String("runId", runID),
		zap.Int("instruments", len(instruments)),
		zap.Int("combinations", len(combos)),
		zap.String("metric", string(o.config.Metric)),
	)

	tasks := make([]*types.BacktestTask, 0, len(instruments)*len(combos))
	precomputed := make(map[types.TaskKey]types.TaskResult)
	params := make(map[types.TaskKey]types.ParamSet, cap(tasks))

	for _, inst := range instruments {
		for _, combo := range combos {
			stratParams, sim := optimization.SplitParams(combo, o.config.Simulation)
			task := &types.BacktestTask{
				InstrumentID:   inst.ID,
				Prices:         inst.Prices,
				Params:         sim,
				StrategyParams: stratParams,
			}

			key := task.Key()
			if _, seen := params[key]; !seen {
				params[key] = combo
			}

			signals, err := strategy.Generate(o.strategy, inst.Prices, stratParams)
			if err != nil {
				if _, dup := precomputed[key]; !dup {
					precomputed[key] = types.TaskResult{
						Key:            key,
						StrategyParams: stratParams,
						Err:            &types.TaskError{Key: key, Err: err},
					}
				}
				o.logger.Debug("signal generation failed",
					zap.String("instrument", inst.ID),
					zap.Error(err),
				)
				continue
			}
			task.Signals = signals
			tasks = append(tasks, task)
		}
	}

	var results map[types.TaskKey]types.TaskResult
	usage, _ := o.monitor.Track(ctx, func() error {
		results = o.batch.RunBatch(ctx, tasks, o.config.Workers)
		return nil
	})
	for key, res := range precomputed {
		if _, ok := results[key]; !ok {
			results[key] = res
		}
	}

	wall := time.Since(startTime)
	report := o.analyze(runID, results, params, wall)
	report.Metrics.PeakMemory = usage.PeakMemory
	report.Metrics.CPUUtilization = usage.CPUUtilization

	o.logger.Info("batch optimization complete",
		zap.String("runId", runID),
		zap.Int("succeeded", report.Analysis.SuccessCount),
		zap.Int("failed", report.Analysis.FailureCount),
		zap.Float64("avgScore", report.Analysis.AvgScore),
		zap.Duration("duration", wall),
	)

	return report, nil
}

// analyze scores results. params maps each key to its full grid combination,
// simulation overrides included.
func (o *Orchestrator) analyze(runID string, results map[types.TaskKey]types.TaskResult, params map[types.TaskKey]types.ParamSet, wall time.Duration) *BatchReport {
	report := &BatchReport{
		ID:       runID,
		Metric:   o.config.Metric,
		Results:  results,
		Scores:   make(map[types.TaskKey]float64, len(results)),
		Failures: make(map[types.TaskKey]string),
	}
	report.Analysis.BestBy = make(map[string]*Performer)

	var (
		busy     time.Duration
		sum      float64
		vecTotal float64
	)
	for _, key := range sortedKeys(results) {
		res := results[key]
		busy += res.Duration

		if !res.OK() {
			report.Failures[key] = res.Err.Error()
			report.Analysis.FailureCount++
			continue
		}

		score, err := backtester.Score(o.config.Metric, res.Result)
		if err != nil {
			report.Failures[key] = err.Error()
			report.Analysis.FailureCount++
			continue
		}

		report.Scores[key] = score
		report.Analysis.SuccessCount++
		sum += score
		vecTotal += VectorizationRatio(res.Result, res.Result.Len())

		performer := &Performer{
			Key:         key,
			Params:      params[key],
			Score:       score,
			FinalEquity: decimal.NewFromFloat(res.Result.FinalEquity()).Round(2),
		}
		if report.Analysis.Best == nil || score > report.Analysis.Best.Score {
			report.Analysis.Best = performer
		}
		if report.Analysis.Worst == nil || score < report.Analysis.Worst.Score {
			report.Analysis.Worst = performer
		}
		if best, ok := report.Analysis.BestBy[key.InstrumentID]; !ok || score > best.Score {
			report.Analysis.BestBy[key.InstrumentID] = performer
		}
	}

	if n := report.Analysis.SuccessCount; n > 0 {
		report.Analysis.AvgScore = sum / float64(n)
		report.Metrics.VectorizationRatio = vecTotal / float64(n)
	}

	report.Metrics.ExecutionTime = wall
	report.Metrics.Timestamp = time.Now()
	if wall > 0 {
		report.Metrics.ParallelEfficiency = float64(busy) / float64(wall)
	}

	return report
}
