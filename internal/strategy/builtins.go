package strategy

import (
	"fmt"
	"math"

	"github.com/atlas-desktop/backtest-engine/pkg/types"
	"github.com/markcheno/go-talib"
)

// Built-in strategy names
const (
	SMACrossName  = "sma_cross"
	BollingerName = "bollinger"
)

// SMACross goes long when the fast SMA crosses above the slow SMA and exits or
// shorts on the opposite cross. Parameters: fast, slow (bars).
type SMACross struct {
	DefaultFast int
	DefaultSlow int
}

// NewSMACross creates an SMA crossover with 10/30 defaults.
func NewSMACross() *SMACross {
	return &SMACross{DefaultFast: 10, DefaultSlow: 30}
}

func (s *SMACross) Name() string { return SMACrossName }

func (s *SMACross) Apply(prices types.PriceSeries, params types.ParamSet) (types.SignalSeries, error) {
	fast := intParam(params, "fast", s.DefaultFast)
	slow := intParam(params, "slow", s.DefaultSlow)
	if fast < 1 || slow <= fast {
		return nil, fmt.Errorf("sma_cross: need 1 <= fast < slow, got fast=%d slow=%d", fast, slow)
	}

	signals := make(types.SignalSeries, len(prices))
	if len(prices) <= slow {
		return signals, nil
	}

	fastMA := talib.Sma(prices, fast)
	slowMA := talib.Sma(prices, slow)

	for i := slow; i < len(prices); i++ {
		switch {
		case fastMA[i-1] <= slowMA[i-1] && fastMA[i] > slowMA[i]:
			signals[i] = types.SignalBuy
		case fastMA[i-1] >= slowMA[i-1] && fastMA[i] < slowMA[i]:
			signals[i] = types.SignalSell
		}
	}
	return signals, nil
}

// Bollinger buys when price recovers above the lower band and sells when it
// falls back below the upper band. Parameters: period (bars), k (deviations).
type Bollinger struct {
	DefaultPeriod int
	DefaultK      float64
}

// NewBollinger creates a 20-bar, 2-deviation band strategy.
func NewBollinger() *Bollinger {
	return &Bollinger{DefaultPeriod: 20, DefaultK: 2}
}

func (b *Bollinger) Name() string { return BollingerName }

func (b *Bollinger) Apply(prices types.PriceSeries, params types.ParamSet) (types.SignalSeries, error) {
	period := intParam(params, "period", b.DefaultPeriod)
	k := b.DefaultK
	if v, ok := params["k"]; ok {
		k = v
	}
	if period < 2 || !(k > 0) {
		return nil, fmt.Errorf("bollinger: need period >= 2 and k > 0, got period=%d k=%v", period, k)
	}

	signals := make(types.SignalSeries, len(prices))
	if len(prices) <= period {
		return signals, nil
	}

	upper, _, lower := talib.BBands(prices, period, k, k, talib.SMA)

	for i := period; i < len(prices); i++ {
		switch {
		case prices[i-1] < lower[i-1] && prices[i] >= lower[i]:
			signals[i] = types.SignalBuy
		case prices[i-1] > upper[i-1] && prices[i] <= upper[i]:
			signals[i] = types.SignalSell
		}
	}
	return signals, nil
}

func intParam(params types.ParamSet, name string, def int) int {
	if v, ok := params[name]; ok {
		return int(math.Round(v))
	}
	return def
}
