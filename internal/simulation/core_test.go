package simulation_test

import (
	"errors"
	"math"
	"strings"
	"testing"

	"github.com/atlas-desktop/backtest-engine/internal/simulation"
	"github.com/atlas-desktop/backtest-engine/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testParams() types.SimulationParams {
	return types.SimulationParams{
		InitialCapital: 100000,
		PositionSize:   1.0,
		Costs:          types.CostModel{CommissionPct: 0.001, SlippagePct: 0.001},
	}
}

func TestSimulateFlatSignals(t *testing.T) {
	prices := types.PriceSeries{100, 101, 99, 105, 110}
	signals := make(types.SignalSeries, len(prices))

	traj, err := simulation.Simulate(prices, signals, testParams())
	require.NoError(t, err)

	for i := range prices {
		assert.Equal(t, 0.0, traj.Position[i], "position at %d", i)
		assert.Equal(t, 100000.0, traj.Capital[i], "capital at %d", i)
		assert.Equal(t, 0.0, traj.Returns[i], "returns at %d", i)
	}
}

func TestSimulateEntryCostDrag(t *testing.T) {
	traj, err := simulation.Simulate(types.PriceSeries{100, 100}, types.SignalSeries{0, 1}, testParams())
	require.NoError(t, err)

	shares := 100000 / (100 * 1.002)
	assert.InDelta(t, shares, traj.Position[1], 1e-9)
	assert.InDelta(t, 99800.4, traj.Capital[1], 0.01)
	assert.InDelta(t, -0.002, traj.Returns[1], 1e-5)
	assert.Equal(t, 0.0, traj.Returns[0])
}

func noCosts() types.SimulationParams {
	p := testParams()
	p.Costs = types.CostModel{}
	return p
}

func TestSimulateShortEntryMarksShares(t *testing.T) {
	traj, err := simulation.Simulate(types.PriceSeries{100, 100}, types.SignalSeries{0, -1}, noCosts())
	require.NoError(t, err)

	// proceeds of 1000 shares credited to cash, then cash - position*price
	assert.InDelta(t, -1000.0, traj.Position[1], 1e-9)
	assert.InDelta(t, 300000.0, traj.Capital[1], 1e-6)
	assert.InDelta(t, 2.0, traj.Returns[1], 1e-12)
}

func TestSimulateShortEntryWithCosts(t *testing.T) {
	traj, err := simulation.Simulate(types.PriceSeries{100, 100}, types.SignalSeries{0, -1}, testParams())
	require.NoError(t, err)

	shares := 100000 / 100.2
	cash := 100000 + shares*99.8
	assert.InDelta(t, -shares, traj.Position[1], 1e-9)
	assert.InDelta(t, cash+shares*100, traj.Capital[1], 1e-6)
}

func TestSimulateHeldSignalDoesNotReenter(t *testing.T) {
	prices := types.PriceSeries{100, 102, 104, 103, 101}
	signals := types.SignalSeries{0, 1, 1, 1, 0}

	traj, err := simulation.Simulate(prices, signals, testParams())
	require.NoError(t, err)

	assert.Equal(t, traj.Position[1], traj.Position[2])
	assert.Equal(t, traj.Position[2], traj.Position[3])
	// equity moves only with price once the position is held
	assert.InDelta(t, traj.Position[1]*(104-102), traj.Capital[2]-traj.Capital[1], 1e-6)
}

func TestSimulateLongRoundTrip(t *testing.T) {
	prices := types.PriceSeries{100, 100, 110, 110}
	signals := types.SignalSeries{0, 1, -1, 0}

	traj, err := simulation.Simulate(prices, signals, testParams())
	require.NoError(t, err)

	assert.Equal(t, 0.0, traj.Position[2])
	assert.Equal(t, traj.Capital[2], traj.Capital[3])
	assert.Greater(t, traj.Capital[3], 100000.0)
}

func TestSimulateFlipShortToLong(t *testing.T) {
	prices := types.PriceSeries{100, 100, 90}
	signals := types.SignalSeries{0, -1, 1}

	traj, err := simulation.Simulate(prices, signals, noCosts())
	require.NoError(t, err)

	// the long is sized from the cash after the short, which is not bought back
	assert.InDelta(t, 200000.0/90, traj.Position[2], 1e-9)
	assert.InDelta(t, 200000.0, traj.Capital[2], 1e-6)
	assert.InDelta(t, -1.0/3, traj.Returns[2], 1e-12)
}

func TestSimulateDeterministic(t *testing.T) {
	prices := types.PriceSeries{100, 97.5, 101.25, 99, 104, 103.3, 98.7}
	signals := types.SignalSeries{0, 1, 0, -1, -1, 1, 0}

	first, err := simulation.Simulate(prices, signals, testParams())
	require.NoError(t, err)
	second, err := simulation.Simulate(prices, signals, testParams())
	require.NoError(t, err)

	for i := range prices {
		assert.Equal(t, math.Float64bits(first.Capital[i]), math.Float64bits(second.Capital[i]))
		assert.Equal(t, math.Float64bits(first.Position[i]), math.Float64bits(second.Position[i]))
		assert.Equal(t, math.Float64bits(first.Returns[i]), math.Float64bits(second.Returns[i]))
	}
}

func TestSimulateMalformedInput(t *testing.T) {
	tests := []struct {
		name    string
		prices  types.PriceSeries
		signals types.SignalSeries
		params  types.SimulationParams
	}{
		{"length mismatch", types.PriceSeries{100, 101}, types.SignalSeries{0}, testParams()},
		{"zero price trade", types.PriceSeries{100, 0}, types.SignalSeries{0, 1}, testParams()},
		{"signal out of range", types.PriceSeries{100, 101}, types.SignalSeries{0, 2}, testParams()},
		{"position size", types.PriceSeries{100}, types.SignalSeries{0}, types.SimulationParams{InitialCapital: 1, PositionSize: 1.5}},
		{"negative commission", types.PriceSeries{100}, types.SignalSeries{0}, types.SimulationParams{
			InitialCapital: 1, PositionSize: 1, Costs: types.CostModel{CommissionPct: -0.1},
		}},
		{"non-finite equity", types.PriceSeries{100, 100, math.Inf(1)}, types.SignalSeries{0, 1, 0}, testParams()},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := simulation.Simulate(tt.prices, tt.signals, tt.params)
			require.Error(t, err)
			assert.True(t, errors.Is(err, types.ErrMalformedInput), "got %v", err)
		})
	}
}

func TestSimulateStepErrorWrappedOnce(t *testing.T) {
	_, err := simulation.Simulate(types.PriceSeries{100, 0}, types.SignalSeries{0, 1}, testParams())
	require.ErrorIs(t, err, types.ErrMalformedInput)
	assert.Equal(t, 1, strings.Count(err.Error(), types.ErrMalformedInput.Error()), err.Error())
	assert.Contains(t, err.Error(), "step 1")
}

func TestSimulateEmptySeries(t *testing.T) {
	traj, err := simulation.Simulate(types.PriceSeries{}, types.SignalSeries{}, testParams())
	require.NoError(t, err)
	assert.Equal(t, 0, traj.Len())
}
