// Package strategy defines the signal-generation capability consumed by the
// engines and a registry of built-in strategies.
package strategy

import (
	"fmt"
	"sort"
	"sync"

	"github.com/atlas-desktop/backtest-engine/pkg/types"
	"go.uber.org/zap"
)

// Strategy turns a price series into an aligned signal series.
type Strategy interface {
	Name() string
	Apply(prices types.PriceSeries, params types.ParamSet) (types.SignalSeries, error)
}

// Func adapts a plain function to the Strategy interface.
type Func struct {
	ID string
	Fn func(prices types.PriceSeries, params types.ParamSet) (types.SignalSeries, error)
}

func (f Func) Name() string { return f.ID }

func (f Func) Apply(prices types.PriceSeries, params types.ParamSet) (types.SignalSeries, error) {
	return f.Fn(prices, params)
}

// Generate applies s and validates the shape of its output before it reaches
// the simulation: the signal series must be index-aligned with prices and hold
// only -1, 0 or 1.
func Generate(s Strategy, prices types.PriceSeries, params types.ParamSet) (types.SignalSeries, error) {
	if s == nil {
		return nil, fmt.Errorf("%w: no strategy", types.ErrStrategyOutput)
	}

	signals, err := s.Apply(prices, params)
	if err != nil {
		return nil, fmt.Errorf("strategy %s: %w", s.Name(), err)
	}
	if len(signals) != len(prices) {
		return nil, fmt.Errorf("%w: %s returned %d signals for %d prices",
			types.ErrStrategyOutput, s.Name(), len(signals), len(prices))
	}
	for i, v := range signals {
		if v < types.SignalSell || v > types.SignalBuy {
			return nil, fmt.Errorf("%w: %s signal at %d is %d",
				types.ErrStrategyOutput, s.Name(), i, v)
		}
	}
	return signals, nil
}

// Registry manages available strategies.
type Registry struct {
	logger     *zap.Logger
	strategies map[string]func() Strategy
	mu         sync.RWMutex
}

// NewRegistry creates a registry holding the built-in strategies.
func NewRegistry(logger *zap.Logger) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	r := &Registry{
		logger:     logger,
		strategies: make(map[string]func() Strategy),
	}

	r.Register(SMACrossName, func() Strategy { return NewSMACross() })
	r.Register(BollingerName, func() Strategy { return NewBollinger() })

	return r
}

// Register registers a new strategy factory.
func (r *Registry) Register(name string, factory func() Strategy) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.strategies[name]; exists {
		r.logger.Warn("replacing registered strategy", zap.String("strategy", name))
	}
	r.strategies[name] = factory
}

// Create creates a new strategy instance by name.
func (r *Registry) Create(name string) (Strategy, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	factory, ok := r.strategies[name]
	if !ok {
		return nil, fmt.Errorf("unknown strategy %q", name)
	}
	return factory(), nil
}

// List returns all available strategy names, sorted.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.strategies))
	for name := range r.strategies {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
