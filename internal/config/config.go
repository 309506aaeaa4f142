// Package config builds an EngineConfig from defaults, in-memory overrides
// and command-line flags.
package config

import (
	"fmt"
	"runtime"

	"github.com/atlas-desktop/backtest-engine/internal/backtester"
	"github.com/atlas-desktop/backtest-engine/pkg/types"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Config keys, matching the mapstructure tags on types.EngineConfig.
const (
	KeyChunkSize          = "chunk_size"
	KeyReleaseEvery       = "release_every"
	KeyAutoSelect         = "auto_select"
	KeySizeThreshold      = "size_threshold"
	KeyMemoryThresholdPct = "memory_threshold_pct"
	KeyMonitorInterval    = "monitor_interval"
	KeyWorkers            = "workers"
	KeyQueueSize          = "queue_size"
	KeyTaskTimeout        = "task_timeout"
	KeyChunkThreshold     = "chunk_threshold"
	KeyFoldCount          = "fold_count"
	KeyMetric             = "metric"
	KeyInitialCapital     = "simulation.initial_capital"
	KeyPositionSize       = "simulation.position_size"
	KeyCommissionPct      = "simulation.costs.commission_pct"
	KeySlippagePct        = "simulation.costs.slippage_pct"
)

// New returns a viper instance seeded with the engine defaults.
func New() *viper.Viper {
	v := viper.New()
	SetDefaults(v)
	return v
}

// SetDefaults registers DefaultEngineConfig on v.
func SetDefaults(v *viper.Viper) {
	d := types.DefaultEngineConfig()

	v.SetDefault(KeyChunkSize, d.ChunkSize)
	v.SetDefault(KeyReleaseEvery, d.ReleaseEvery)
	v.SetDefault(KeyAutoSelect, d.AutoSelect)
	v.SetDefault(KeySizeThreshold, d.SizeThreshold)
	v.SetDefault(KeyMemoryThresholdPct, d.MemoryThresholdPct)
	v.SetDefault(KeyMonitorInterval, d.MonitorInterval)
	v.SetDefault(KeyWorkers, d.Workers)
	v.SetDefault(KeyQueueSize, d.QueueSize)
	v.SetDefault(KeyTaskTimeout, d.TaskTimeout)
	v.SetDefault(KeyChunkThreshold, d.ChunkThreshold)
	v.SetDefault(KeyFoldCount, d.FoldCount)
	v.SetDefault(KeyMetric, string(d.Metric))
	v.SetDefault(KeyInitialCapital, d.Simulation.InitialCapital)
	v.SetDefault(KeyPositionSize, d.Simulation.PositionSize)
	v.SetDefault(KeyCommissionPct, d.Simulation.Costs.CommissionPct)
	v.SetDefault(KeySlippagePct, d.Simulation.Costs.SlippagePct)
}

// Load applies overrides on top of the defaults and returns a validated config.
// Nested sections such as "simulation" are given as nested maps.
func Load(overrides map[string]any) (*types.EngineConfig, error) {
	v := New()
	if len(overrides) > 0 {
		if err := v.MergeConfigMap(overrides); err != nil {
			return nil, fmt.Errorf("merge overrides: %w", err)
		}
	}
	return FromViper(v)
}

// FromViper decodes and validates the engine config held by v.
func FromViper(v *viper.Viper) (*types.EngineConfig, error) {
	var cfg types.EngineConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if cfg.Workers <= 0 {
		cfg.Workers = runtime.NumCPU()
	}
	if err := Validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks ranges that the engines rely on.
func Validate(cfg *types.EngineConfig) error {
	switch {
	case cfg.ChunkSize <= 0:
		return types.Malformed("chunk_size must be positive, got %d", cfg.ChunkSize)
	case cfg.ReleaseEvery <= 0:
		return types.Malformed("release_every must be positive, got %d", cfg.ReleaseEvery)
	case cfg.SizeThreshold < 0:
		return types.Malformed("size_threshold must not be negative, got %d", cfg.SizeThreshold)
	case !(cfg.MemoryThresholdPct > 0 && cfg.MemoryThresholdPct <= 100):
		return types.Malformed("memory_threshold_pct must be in (0, 100], got %v", cfg.MemoryThresholdPct)
	case cfg.QueueSize < 0:
		return types.Malformed("queue_size must not be negative, got %d", cfg.QueueSize)
	case cfg.TaskTimeout < 0:
		return types.Malformed("task_timeout must not be negative, got %s", cfg.TaskTimeout)
	case cfg.ChunkThreshold < 0:
		return types.Malformed("chunk_threshold must not be negative, got %d", cfg.ChunkThreshold)
	case cfg.FoldCount <= 0:
		return types.Malformed("fold_count must be positive, got %d", cfg.FoldCount)
	}
	if _, err := backtester.ParseMetric(string(cfg.Metric)); err != nil {
		return err
	}
	return cfg.Simulation.Validate()
}

// BindFlags registers engine flags on fs and binds them to v, so a flag
// overrides the default only when set.
func BindFlags(v *viper.Viper, fs *pflag.FlagSet) error {
	d := types.DefaultEngineConfig()

	fs.Int("chunk-size", d.ChunkSize, "Rows per chunk for the chunked engine")
	fs.Bool("auto-select", d.AutoSelect, "Choose the engine from series size and memory pressure")
	fs.Int("size-threshold", d.SizeThreshold, "Rows above which the chunked engine is selected")
	fs.Float64("memory-threshold", d.MemoryThresholdPct, "System memory percent above which the chunked engine is selected")
	fs.Int("workers", d.Workers, "Batch worker goroutines")
	fs.Duration("task-timeout", d.TaskTimeout, "Per-task timeout, 0 disables")
	fs.Int("chunk-threshold", d.ChunkThreshold, "Rows above which batch tasks run chunked")
	fs.Int("folds", d.FoldCount, "Cross-validation fold count")
	fs.String("metric", string(d.Metric), "Score metric: sharpe_ratio, total_return, max_drawdown, calmar_ratio")
	fs.Float64("capital", d.Simulation.InitialCapital, "Initial capital")
	fs.Float64("position-size", d.Simulation.PositionSize, "Fraction of capital per entry")
	fs.Float64("commission", d.Simulation.Costs.CommissionPct, "Commission as a fraction of price")
	fs.Float64("slippage", d.Simulation.Costs.SlippagePct, "Slippage as a fraction of price")

	bindings := map[string]string{
		KeyChunkSize:          "chunk-size",
		KeyAutoSelect:         "auto-select",
		KeySizeThreshold:      "size-threshold",
		KeyMemoryThresholdPct: "memory-threshold",
		KeyWorkers:            "workers",
		KeyTaskTimeout:        "task-timeout",
		KeyChunkThreshold:     "chunk-threshold",
		KeyFoldCount:          "folds",
		KeyMetric:             "metric",
		KeyInitialCapital:     "capital",
		KeyPositionSize:       "position-size",
		KeyCommissionPct:      "commission",
		KeySlippagePct:        "slippage",
	}
	for key, name := range bindings {
		if err := v.BindPFlag(key, fs.Lookup(name)); err != nil {
			return fmt.Errorf("bind flag %s: %w", name, err)
		}
	}
	return nil
}
