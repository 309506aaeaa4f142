// Package types provides shared type definitions for the backtest engine.
package types

import (
	"math"
	"sort"
	"strconv"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/shopspring/decimal"
)

// Signal values carried by a SignalSeries.
const (
	SignalSell = -1
	SignalHold = 0
	SignalBuy  = 1
)

// PriceSeries is an ordered sequence of positive prices.
type PriceSeries []float64

// SignalSeries is an ordered sequence of signals in {-1, 0, 1}, index-aligned with a PriceSeries.
type SignalSeries []int

// OHLCV represents a candlestick bar
type OHLCV struct {
	Timestamp time.Time       `json:"timestamp"`
	Open      decimal.Decimal `json:"open"`
	High      decimal.Decimal `json:"high"`
	Low       decimal.Decimal `json:"low"`
	Close     decimal.Decimal `json:"close"`
	Volume    decimal.Decimal `json:"volume"`
}

// ClosePrices extracts the close column of bars as a PriceSeries.
func ClosePrices(bars []*OHLCV) PriceSeries {
	prices := make(PriceSeries, len(bars))
	for i, bar := range bars {
		prices[i] = bar.Close.InexactFloat64()
	}
	return prices
}

// CostModel holds transaction costs as fractions of trade price
type CostModel struct {
	CommissionPct float64 `json:"commissionPct" yaml:"commissionPct" mapstructure:"commission_pct"`
	SlippagePct   float64 `json:"slippagePct" yaml:"slippagePct" mapstructure:"slippage_pct"`
}

// PerUnit returns the cost charged per unit traded at price.
func (c CostModel) PerUnit(price float64) float64 {
	return price * (c.CommissionPct + c.SlippagePct)
}

// SimulationParams configures a single simulation run
type SimulationParams struct {
	InitialCapital float64   `json:"initialCapital" yaml:"initialCapital" mapstructure:"initial_capital"`
	PositionSize   float64   `json:"positionSize" yaml:"positionSize" mapstructure:"position_size"`
	Costs          CostModel `json:"costs" yaml:"costs" mapstructure:"costs"`
}

// DefaultSimulationParams returns 100k capital, full sizing, 10bps commission and slippage.
func DefaultSimulationParams() SimulationParams {
	return SimulationParams{
		InitialCapital: 100000,
		PositionSize:   1.0,
		Costs: CostModel{
			CommissionPct: 0.001,
			SlippagePct:   0.001,
		},
	}
}

// Validate reports whether the params satisfy the engine invariants.
func (p SimulationParams) Validate() error {
	switch {
	case !(p.InitialCapital > 0) || math.IsInf(p.InitialCapital, 0):
		return Malformed("initial capital must be positive and finite, got %v", p.InitialCapital)
	case !(p.PositionSize > 0 && p.PositionSize <= 1):
		return Malformed("position size must be in (0, 1], got %v", p.PositionSize)
	case !(p.Costs.CommissionPct >= 0) || math.IsInf(p.Costs.CommissionPct, 0):
		return Malformed("commission must be non-negative, got %v", p.Costs.CommissionPct)
	case !(p.Costs.SlippagePct >= 0) || math.IsInf(p.Costs.SlippagePct, 0):
		return Malformed("slippage must be non-negative, got %v", p.Costs.SlippagePct)
	}
	return nil
}

// ParamSet represents a set of strategy parameter values
type ParamSet map[string]float64

// Keys returns the parameter names in sorted order.
func (p ParamSet) Keys() []string {
	keys := make([]string, 0, len(p))
	for k := range p {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Clone returns a copy of the set.
func (p ParamSet) Clone() ParamSet {
	out := make(ParamSet, len(p))
	for k, v := range p {
		out[k] = v
	}
	return out
}

// ParamHash returns a stable hex digest of the strategy and simulation parameters.
func ParamHash(strategy ParamSet, sim SimulationParams) string {
	buf := make([]byte, 0, 128)
	for _, k := range strategy.Keys() {
		buf = append(buf, k...)
		buf = append(buf, '=')
		buf = strconv.AppendFloat(buf, strategy[k], 'g', -1, 64)
		buf = append(buf, ';')
	}
	buf = append(buf, '|')
	for _, v := range []float64{sim.InitialCapital, sim.PositionSize, sim.Costs.CommissionPct, sim.Costs.SlippagePct} {
		buf = strconv.AppendFloat(buf, v, 'g', -1, 64)
		buf = append(buf, ';')
	}
	return strconv.FormatUint(xxhash.Sum64(buf), 16)
}

// Trajectory holds the per-step output of one simulation. Capital is
// mark-to-market equity.
type Trajectory struct {
	Position []float64 `json:"position"`
	Capital  []float64 `json:"capital"`
	Returns  []float64 `json:"returns"`
}

// Len returns the number of steps.
func (t *Trajectory) Len() int {
	return len(t.Capital)
}

// Result is the tabular output of an engine run, aligned to the price index.
type Result struct {
	Trajectory
	CumulativeReturns []float64 `json:"cumulativeReturns"`
}

// FinalEquity returns the last equity value, or 0 for an empty result.
func (r *Result) FinalEquity() float64 {
	if len(r.Capital) == 0 {
		return 0
	}
	return r.Capital[len(r.Capital)-1]
}

// CumulativeReturns computes Π(1+r[0..i]) − 1 for each i.
func CumulativeReturns(returns []float64) []float64 {
	out := make([]float64, len(returns))
	growth := 1.0
	for i, r := range returns {
		growth *= 1 + r
		out[i] = growth - 1
	}
	return out
}

// BacktestTask is one independent unit of simulation work
type BacktestTask struct {
	InstrumentID   string           `json:"instrumentId"`
	Prices         PriceSeries      `json:"prices"`
	Signals        SignalSeries     `json:"signals"`
	Params         SimulationParams `json:"params"`
	StrategyParams ParamSet         `json:"strategyParams,omitempty"`
}

// Key returns the aggregation key for the task.
func (t *BacktestTask) Key() TaskKey {
	return TaskKey{
		InstrumentID: t.InstrumentID,
		ParamHash:    ParamHash(t.StrategyParams, t.Params),
	}
}

// TaskKey identifies a task result within a batch
type TaskKey struct {
	InstrumentID string `json:"instrumentId"`
	ParamHash    string `json:"paramHash"`
}

func (k TaskKey) String() string {
	return k.InstrumentID + "/" + k.ParamHash
}

// EngineKind names the engine that produced a result
type EngineKind string

const (
	EngineSinglePass EngineKind = "single_pass"
	EngineChunked    EngineKind = "chunked"
)

// TaskResult is either a successful Result or an error for one task.
type TaskResult struct {
	Key            TaskKey       `json:"key"`
	StrategyParams ParamSet      `json:"strategyParams,omitempty"`
	Result         *Result       `json:"result,omitempty"`
	Err            error         `json:"-" yaml:"-"`
	Engine         EngineKind    `json:"engine,omitempty"`
	Duration       time.Duration `json:"duration"`
}

// OK reports whether the task succeeded.
func (r TaskResult) OK() bool {
	return r.Err == nil && r.Result != nil
}

// Fold is a contiguous window [Start, End) of a parent series.
type Fold struct {
	Index int `json:"index"`
	Start int `json:"start"`
	End   int `json:"end"`
}

// Len returns the window length.
func (f Fold) Len() int {
	return f.End - f.Start
}

// OptimizationResult holds the cross-validated score of one parameter combination
type OptimizationResult struct {
	Params      ParamSet  `json:"params"`
	MeanScore   float64   `json:"meanScore"`
	ScoreStd    float64   `json:"scoreStd"`
	FoldScores  []float64 `json:"foldScores"`
	FailedFolds int       `json:"failedFolds"`
}

// PerformanceMetrics describes resource usage of one orchestrated run
type PerformanceMetrics struct {
	ExecutionTime      time.Duration `json:"executionTime"`
	PeakMemory         uint64        `json:"peakMemory"`
	CPUUtilization     float64       `json:"cpuUtilization"`
	VectorizationRatio float64       `json:"vectorizationRatio"`
	ParallelEfficiency float64       `json:"parallelEfficiency"`
	Timestamp          time.Time     `json:"timestamp"`
}

// Instrument is a named price series supplied to batch optimization
type Instrument struct {
	ID     string      `json:"id"`
	Prices PriceSeries `json:"prices"`
}

// MarshalText renders the key as "instrument/hash" so keyed maps encode as objects.
func (k TaskKey) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}
