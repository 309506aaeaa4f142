// Package data produces and validates the price series fed to the engines.
package data

import (
	"fmt"
	"math"
	"math/rand"
	"time"

	"github.com/atlas-desktop/backtest-engine/pkg/types"
	"github.com/cespare/xxhash/v2"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// GeneratorConfig configures the synthetic bar generator
type GeneratorConfig struct {
	Bars       int           `json:"bars"`
	Interval   time.Duration `json:"interval"`
	Start      time.Time     `json:"start"`
	StartPrice float64       `json:"startPrice"`
	Drift      float64       `json:"drift"`      // mean log return per bar
	Volatility float64       `json:"volatility"` // std of log return per bar
	Seed       int64         `json:"seed"`
}

// DefaultGeneratorConfig returns one year of daily bars around 100.
func DefaultGeneratorConfig() GeneratorConfig {
	return GeneratorConfig{
		Bars:       252,
		Interval:   24 * time.Hour,
		Start:      time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC),
		StartPrice: 100,
		Drift:      0.0002,
		Volatility: 0.01,
		Seed:       1,
	}
}

// Generator produces reproducible geometric random walk bars.
type Generator struct {
	logger *zap.Logger
	config GeneratorConfig
}

// NewGenerator creates a generator.
func NewGenerator(logger *zap.Logger, config GeneratorConfig) *Generator {
	if logger == nil {
		logger = zap.NewNop()
	}
	if config.Interval <= 0 {
		config.Interval = 24 * time.Hour
	}
	return &Generator{logger: logger, config: config}
}

// Bars generates the series for symbol. The same seed and symbol always
// produce the same bars.
func (g *Generator) Bars(symbol string) []*types.OHLCV {
	rng := rand.New(rand.NewSource(g.config.Seed ^ int64(xxhash.Sum64String(symbol))))

	bars := make([]*types.OHLCV, 0, g.config.Bars)
	price := g.config.StartPrice
	current := g.config.Start

	for i := 0; i < g.config.Bars; i++ {
		open := decimal.NewFromFloat(price).Round(4)
		price *= math.Exp(g.config.Drift + g.config.Volatility*rng.NormFloat64())
		closePrice := decimal.NewFromFloat(price).Round(4)

		wick := g.config.Volatility / 2
		high := decimal.Max(open, closePrice).Mul(decimal.NewFromFloat(1 + rng.Float64()*wick)).Round(4)
		low := decimal.Min(open, closePrice).Mul(decimal.NewFromFloat(1 - rng.Float64()*wick)).Round(4)
		volume := decimal.NewFromFloat(1000 + rng.Float64()*1_000_000).Round(0)

		bars = append(bars, &types.OHLCV{
			Timestamp: current,
			Open:      open,
			High:      high,
			Low:       low,
			Close:     closePrice,
			Volume:    volume,
		})
		current = current.Add(g.config.Interval)
	}

	return bars
}

// Instruments generates count validated instruments named prefix-0, prefix-1, ...
func (g *Generator) Instruments(prefix string, count int) ([]types.Instrument, error) {
	validator := NewValidator(g.logger)
	instruments := make([]types.Instrument, 0, count)

	for i := 0; i < count; i++ {
		symbol := fmt.Sprintf("%s-%d", prefix, i)
		inst, err := validator.Instrument(symbol, g.Bars(symbol))
		if err != nil {
			return nil, err
		}
		instruments = append(instruments, inst)
	}

	g.logger.Debug("generated instruments",
		zap.Int("count", count),
		zap.Int("bars", g.config.Bars),
		zap.Int64("seed", g.config.Seed),
	)
	return instruments, nil
}
