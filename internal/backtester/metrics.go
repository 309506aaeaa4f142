package backtester

import (
	"fmt"
	"math"

	"github.com/atlas-desktop/backtest-engine/pkg/types"
)

// TradingDaysPerYear annualises per-bar Sharpe ratios.
const TradingDaysPerYear = 252

// ParseMetric resolves a metric name.
func ParseMetric(name string) (types.MetricName, error) {
	switch m := types.MetricName(name); m {
	case types.MetricSharpe, types.MetricTotalReturn, types.MetricMaxDrawdown, types.MetricCalmar:
		return m, nil
	}
	return "", types.Malformed("unknown metric %q", name)
}

// Score evaluates a result with the named metric. Higher is always better:
// max drawdown is reported as its negative.
func Score(metric types.MetricName, res *types.Result) (float64, error) {
	if res == nil || len(res.Capital) == 0 {
		return 0, types.Malformed("empty result")
	}

	var score float64
	switch metric {
	case types.MetricSharpe:
		score = SharpeRatio(res.Returns)
	case types.MetricTotalReturn:
		score = TotalReturn(res)
	case types.MetricMaxDrawdown:
		score = -MaxDrawdown(res.Capital)
	case types.MetricCalmar:
		score = CalmarRatio(res)
	default:
		return 0, fmt.Errorf("unknown metric %q", metric)
	}

	if math.IsNaN(score) || math.IsInf(score, 0) {
		return 0, types.Malformed("%s is not finite", metric)
	}
	return score, nil
}

// SharpeRatio is the annualised mean return over its sample standard deviation
// (0% risk-free rate). Zero volatility yields 0.
func SharpeRatio(returns []float64) float64 {
	if len(returns) < 2 {
		return 0
	}
	sd := stdDev(returns)
	if sd == 0 {
		return 0
	}
	return mean(returns) / sd * math.Sqrt(TradingDaysPerYear)
}

// TotalReturn is the final cumulative return.
func TotalReturn(res *types.Result) float64 {
	cum := res.CumulativeReturns
	if len(cum) == 0 {
		cum = types.CumulativeReturns(res.Returns)
	}
	if len(cum) == 0 {
		return 0
	}
	return cum[len(cum)-1]
}

// MaxDrawdown is the largest peak-to-trough decline of equity as a positive fraction.
func MaxDrawdown(equity []float64) float64 {
	if len(equity) == 0 {
		return 0
	}

	var maxDD float64
	peak := equity[0]
	for _, v := range equity {
		if v > peak {
			peak = v
		}
		if peak > 0 {
			if dd := (peak - v) / peak; dd > maxDD {
				maxDD = dd
			}
		}
	}
	return maxDD
}

// CalmarRatio is total return over max drawdown magnitude; 0 without drawdown.
func CalmarRatio(res *types.Result) float64 {
	dd := MaxDrawdown(res.Capital)
	if dd == 0 {
		return 0
	}
	return TotalReturn(res) / dd
}

func mean(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	var sum float64
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}

func stdDev(values []float64) float64 {
	if len(values) < 2 {
		return 0
	}
	m := mean(values)
	var sumSquares float64
	for _, v := range values {
		diff := v - m
		sumSquares += diff * diff
	}
	return math.Sqrt(sumSquares / float64(len(values)-1))
}
