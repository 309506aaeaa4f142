package backtester

import (
	"fmt"
	"math"
	"runtime/debug"

	"github.com/atlas-desktop/backtest-engine/pkg/types"
	"go.uber.org/zap"
)

// ChunkedEngine bounds peak memory by simulating a long series in fixed-size
// chunks. Every chunk restarts flat from the initial capital, so a position
// open across a chunk boundary is not carried over.
type ChunkedEngine struct {
	logger       *zap.Logger
	single       *Engine
	chunkSize    int
	releaseEvery int
}

// NewChunkedEngine creates a chunked engine. releaseEvery <= 0 disables forced
// memory release between chunks.
func NewChunkedEngine(logger *zap.Logger, chunkSize, releaseEvery int) *ChunkedEngine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ChunkedEngine{
		logger:       logger,
		single:       NewEngine(logger),
		chunkSize:    chunkSize,
		releaseEvery: releaseEvery,
	}
}

// Kind returns EngineChunked
func (c *ChunkedEngine) Kind() types.EngineKind {
	return types.EngineChunked
}

// ChunkSize returns the configured rows per chunk
func (c *ChunkedEngine) ChunkSize() int {
	return c.chunkSize
}

// Run simulates the task chunk by chunk and stitches the results.
func (c *ChunkedEngine) Run(task *types.BacktestTask) (*types.Result, error) {
	if c.chunkSize <= 0 {
		return nil, types.Malformed("chunk size must be positive, got %d", c.chunkSize)
	}
	if err := ValidateTask(task); err != nil {
		return nil, err
	}

	n := len(task.Prices)
	out := &types.Result{
		Trajectory: types.Trajectory{
			Position: make([]float64, 0, n),
			Capital:  make([]float64, 0, n),
			Returns:  make([]float64, 0, n),
		},
	}

	chunks := 0
	for start := 0; start < n; start += c.chunkSize {
		end := start + c.chunkSize
		if end > n {
			end = n
		}

		chunk := &types.BacktestTask{
			InstrumentID:   task.InstrumentID,
			Prices:         task.Prices[start:end],
			Signals:        task.Signals[start:end],
			Params:         task.Params,
			StrategyParams: task.StrategyParams,
		}

		res, err := c.single.Run(chunk)
		if err != nil {
			return nil, fmt.Errorf("chunk [%d:%d]: %w", start, end, err)
		}

		if prev := len(out.Capital); prev > 0 {
			first := res.Capital[0]
			if math.IsNaN(first) || first == 0 {
				res.Capital[0] = out.Capital[prev-1]
			}
		}

		out.Position = append(out.Position, res.Position...)
		out.Capital = append(out.Capital, res.Capital...)
		out.Returns = append(out.Returns, res.Returns...)

		chunks++
		if c.releaseEvery > 0 && chunks%c.releaseEvery == 0 && end < n {
			debug.FreeOSMemory()
		}
	}

	out.CumulativeReturns = types.CumulativeReturns(out.Returns)

	c.logger.Debug("chunked run complete",
		zap.String("instrument", task.InstrumentID),
		zap.Int("rows", n),
		zap.Int("chunks", chunks),
		zap.Int("chunkSize", c.chunkSize),
	)

	return out, nil
}
