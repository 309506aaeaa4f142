package backtester_test

import (
	"testing"

	"github.com/atlas-desktop/backtest-engine/internal/backtester"
	"github.com/atlas-desktop/backtest-engine/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func resultFromEquity(equity []float64) *types.Result {
	returns := make([]float64, len(equity))
	for i := 1; i < len(equity); i++ {
		returns[i] = (equity[i] - equity[i-1]) / equity[i-1]
	}
	return &types.Result{
		Trajectory: types.Trajectory{
			Position: make([]float64, len(equity)),
			Capital:  equity,
			Returns:  returns,
		},
		CumulativeReturns: types.CumulativeReturns(returns),
	}
}

func TestMaxDrawdown(t *testing.T) {
	assert.InDelta(t, 0.25, backtester.MaxDrawdown([]float64{100, 120, 90, 130}), 1e-12)
	assert.Equal(t, 0.0, backtester.MaxDrawdown([]float64{100, 101, 102}))
	assert.Equal(t, 0.0, backtester.MaxDrawdown(nil))
}

func TestScoreMetrics(t *testing.T) {
	res := resultFromEquity([]float64{100, 120, 90, 130})

	total, err := backtester.Score(types.MetricTotalReturn, res)
	require.NoError(t, err)
	assert.InDelta(t, 0.3, total, 1e-12)

	dd, err := backtester.Score(types.MetricMaxDrawdown, res)
	require.NoError(t, err)
	assert.InDelta(t, -0.25, dd, 1e-12)

	calmar, err := backtester.Score(types.MetricCalmar, res)
	require.NoError(t, err)
	assert.InDelta(t, 1.2, calmar, 1e-12)

	sharpe, err := backtester.Score(types.MetricSharpe, res)
	require.NoError(t, err)
	assert.Greater(t, sharpe, 0.0)
}

func TestScoreFlatEquity(t *testing.T) {
	res := resultFromEquity([]float64{100, 100, 100})

	for _, m := range []types.MetricName{types.MetricSharpe, types.MetricTotalReturn, types.MetricMaxDrawdown, types.MetricCalmar} {
		score, err := backtester.Score(m, res)
		require.NoError(t, err)
		assert.Equal(t, 0.0, score, "metric %s", m)
	}
}

func TestScoreErrors(t *testing.T) {
	_, err := backtester.Score(types.MetricSharpe, &types.Result{})
	assert.Error(t, err)

	_, err = backtester.Score("sortino", resultFromEquity([]float64{1, 2}))
	assert.Error(t, err)

	_, err = backtester.ParseMetric("sortino")
	assert.ErrorIs(t, err, types.ErrMalformedInput)

	m, err := backtester.ParseMetric("calmar_ratio")
	require.NoError(t, err)
	assert.Equal(t, types.MetricCalmar, m)
}
