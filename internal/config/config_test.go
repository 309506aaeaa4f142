package config_test

import (
	"testing"
	"time"

	"github.com/atlas-desktop/backtest-engine/internal/config"
	"github.com/atlas-desktop/backtest-engine/pkg/types"
	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := config.Load(nil)
	require.NoError(t, err)
	assert.Equal(t, types.DefaultEngineConfig(), *cfg)
}

func TestLoadOverrides(t *testing.T) {
	cfg, err := config.Load(map[string]any{
		"workers":      3,
		"metric":       "calmar_ratio",
		"task_timeout": "250ms",
		"simulation": map[string]any{
			"position_size": 0.5,
			"costs": map[string]any{
				"commission_pct": 0.0,
			},
		},
	})
	require.NoError(t, err)

	assert.Equal(t, 3, cfg.Workers)
	assert.Equal(t, types.MetricCalmar, cfg.Metric)
	assert.Equal(t, 250*time.Millisecond, cfg.TaskTimeout)
	assert.Equal(t, 0.5, cfg.Simulation.PositionSize)
	assert.Equal(t, 0.0, cfg.Simulation.Costs.CommissionPct)
	assert.Equal(t, 0.001, cfg.Simulation.Costs.SlippagePct)
	assert.Equal(t, 100000.0, cfg.Simulation.InitialCapital)
}

func TestLoadRejectsInvalid(t *testing.T) {
	cases := map[string]map[string]any{
		"chunk size":     {"chunk_size": 0},
		"fold count":     {"fold_count": -1},
		"memory pct":     {"memory_threshold_pct": 150.0},
		"metric":         {"metric": "sortino"},
		"position size":  {"simulation": map[string]any{"position_size": 1.5}},
		"negative costs": {"simulation": map[string]any{"costs": map[string]any{"slippage_pct": -0.1}}},
	}
	for name, overrides := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := config.Load(overrides)
			assert.ErrorIs(t, err, types.ErrMalformedInput)
		})
	}
}

func TestBindFlags(t *testing.T) {
	v := config.New()
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	require.NoError(t, config.BindFlags(v, fs))
	require.NoError(t, fs.Parse([]string{"--workers=5", "--metric=total_return", "--position-size=0.25"}))

	cfg, err := config.FromViper(v)
	require.NoError(t, err)
	assert.Equal(t, 5, cfg.Workers)
	assert.Equal(t, types.MetricTotalReturn, cfg.Metric)
	assert.Equal(t, 0.25, cfg.Simulation.PositionSize)
	assert.Equal(t, types.DefaultEngineConfig().ChunkSize, cfg.ChunkSize)
}

func TestLoadSingleFold(t *testing.T) {
	cfg, err := config.Load(map[string]any{"fold_count": 1})
	require.NoError(t, err)
	assert.Equal(t, 1, cfg.FoldCount)
}
