// Package simulation converts a price series and a signal series into a
// position/equity/return trajectory.
//
// Simulate is a pure function: it performs no I/O, holds no state between
// calls, and produces bit-identical output for identical input.
package simulation

import (
	"fmt"
	"math"

	"github.com/atlas-desktop/backtest-engine/pkg/types"
)

// state is the account at one step. cash excludes the marked value of the position.
type state struct {
	position float64
	cash     float64
}

// direction returns -1, 0 or 1 for the held position.
func (s *state) direction() int {
	switch {
	case s.position > 0:
		return types.SignalBuy
	case s.position < 0:
		return types.SignalSell
	}
	return types.SignalHold
}

// equity marks the position to market: cash + position*price when long,
// cash - position*price when short. Shorts are stored with a negative
// position, so both branches add the marked value of the shares held.
func (s *state) equity(price float64) float64 {
	switch {
	case s.position > 0:
		return s.cash + s.position*price
	case s.position < 0:
		return s.cash - s.position*price
	}
	return s.cash
}

// Simulate runs the position state machine over prices and signals.
// The signal at index 0 is ignored; the account starts flat with
// params.InitialCapital.
func Simulate(prices types.PriceSeries, signals types.SignalSeries, params types.SimulationParams) (*types.Trajectory, error) {
	if len(prices) != len(signals) {
		return nil, types.Malformed("price/signal length mismatch: %d != %d", len(prices), len(signals))
	}
	if err := params.Validate(); err != nil {
		return nil, err
	}

	n := len(prices)
	traj := &types.Trajectory{
		Position: make([]float64, n),
		Capital:  make([]float64, n),
		Returns:  make([]float64, n),
	}
	if n == 0 {
		return traj, nil
	}

	st := state{cash: params.InitialCapital}
	traj.Capital[0] = params.InitialCapital

	for i := 1; i < n; i++ {
		if err := st.apply(signals[i], prices[i], params); err != nil {
			return nil, fmt.Errorf("step %d: %w", i, err)
		}

		equity := st.equity(prices[i])
		if math.IsNaN(equity) || math.IsInf(equity, 0) {
			return nil, types.Malformed("non-finite equity at step %d", i)
		}

		traj.Position[i] = st.position
		traj.Capital[i] = equity
		if prev := traj.Capital[i-1]; prev != 0 {
			traj.Returns[i] = (equity - prev) / prev
		}
	}

	return traj, nil
}

// apply performs the transition requested by signal at price.
func (s *state) apply(signal int, price float64, params types.SimulationParams) error {
	if signal == types.SignalHold || signal == s.direction() {
		return nil
	}
	if signal != types.SignalBuy && signal != types.SignalSell {
		return types.Malformed("signal %d outside {-1, 0, 1}", signal)
	}
	if !(price > 0) {
		return types.Malformed("cannot trade at price %v", price)
	}

	cost := params.Costs.PerUnit(price)

	switch signal {
	case types.SignalBuy:
		// an open short is replaced, not bought back
		shares := (s.cash * params.PositionSize) / (price + cost)
		if !(shares > 0) {
			return nil // nothing left to fund an entry
		}
		s.position = shares
		s.cash -= shares * (price + cost)

	case types.SignalSell:
		if s.position > 0 {
			s.cash += s.position * (price - cost)
			s.position = 0
			return nil
		}
		shares := (s.cash * params.PositionSize) / (price + cost)
		if !(shares > 0) {
			return nil
		}
		s.position = -shares
		s.cash += shares * (price - cost)
	}

	return nil
}
