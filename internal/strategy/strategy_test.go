package strategy_test

import (
	"errors"
	"math"
	"testing"

	"github.com/atlas-desktop/backtest-engine/internal/strategy"
	"github.com/atlas-desktop/backtest-engine/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func wave(n int) types.PriceSeries {
	prices := make(types.PriceSeries, n)
	for i := range prices {
		prices[i] = 100 + 15*math.Sin(float64(i)/9)
	}
	return prices
}

func TestRegistryBuiltins(t *testing.T) {
	r := strategy.NewRegistry(zap.NewNop())
	assert.Equal(t, []string{strategy.BollingerName, strategy.SMACrossName}, r.List())

	s, err := r.Create(strategy.SMACrossName)
	require.NoError(t, err)
	assert.Equal(t, strategy.SMACrossName, s.Name())

	_, err = r.Create("missing")
	assert.Error(t, err)
}

func TestSMACrossProducesBothDirections(t *testing.T) {
	prices := wave(300)
	signals, err := strategy.Generate(strategy.NewSMACross(), prices, types.ParamSet{"fast": 5, "slow": 20})
	require.NoError(t, err)
	require.Len(t, signals, len(prices))

	var buys, sells int
	for _, s := range signals {
		switch s {
		case types.SignalBuy:
			buys++
		case types.SignalSell:
			sells++
		}
	}
	assert.Greater(t, buys, 0)
	assert.Greater(t, sells, 0)
}

func TestSMACrossShortSeriesHolds(t *testing.T) {
	signals, err := strategy.NewSMACross().Apply(wave(10), types.ParamSet{"fast": 3, "slow": 20})
	require.NoError(t, err)
	assert.Equal(t, make(types.SignalSeries, 10), signals)
}

func TestSMACrossRejectsBadParams(t *testing.T) {
	_, err := strategy.NewSMACross().Apply(wave(100), types.ParamSet{"fast": 30, "slow": 10})
	assert.Error(t, err)
}

func TestBollingerSignalsAligned(t *testing.T) {
	prices := wave(200)
	signals, err := strategy.Generate(strategy.NewBollinger(), prices, types.ParamSet{"period": 10, "k": 1})
	require.NoError(t, err)
	assert.Len(t, signals, len(prices))
}

func TestGenerateValidatesShape(t *testing.T) {
	short := strategy.Func{ID: "short", Fn: func(p types.PriceSeries, _ types.ParamSet) (types.SignalSeries, error) {
		return make(types.SignalSeries, len(p)-1), nil
	}}
	_, err := strategy.Generate(short, wave(5), nil)
	assert.True(t, errors.Is(err, types.ErrStrategyOutput))

	wide := strategy.Func{ID: "wide", Fn: func(p types.PriceSeries, _ types.ParamSet) (types.SignalSeries, error) {
		out := make(types.SignalSeries, len(p))
		out[2] = 5
		return out, nil
	}}
	_, err = strategy.Generate(wide, wave(5), nil)
	assert.True(t, errors.Is(err, types.ErrStrategyOutput))

	_, err = strategy.Generate(nil, wave(5), nil)
	assert.True(t, errors.Is(err, types.ErrStrategyOutput))
}
