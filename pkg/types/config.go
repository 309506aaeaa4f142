// Package types provides configuration types for the backtest engine.
package types

import (
	"runtime"
	"time"
)

// MetricName selects the score used to rank optimization runs
type MetricName string

const (
	MetricSharpe      MetricName = "sharpe_ratio"
	MetricTotalReturn MetricName = "total_return"
	MetricMaxDrawdown MetricName = "max_drawdown"
	MetricCalmar      MetricName = "calmar_ratio"
)

// EngineConfig holds the in-memory configuration of every engine component
type EngineConfig struct {
	// Chunked execution
	ChunkSize    int `json:"chunkSize" yaml:"chunkSize" mapstructure:"chunk_size"`
	ReleaseEvery int `json:"releaseEvery" yaml:"releaseEvery" mapstructure:"release_every"` // chunks between forced memory release

	// Engine selection
	AutoSelect         bool          `json:"autoSelect" yaml:"autoSelect" mapstructure:"auto_select"`
	SizeThreshold      int           `json:"sizeThreshold" yaml:"sizeThreshold" mapstructure:"size_threshold"`
	MemoryThresholdPct float64       `json:"memoryThresholdPct" yaml:"memoryThresholdPct" mapstructure:"memory_threshold_pct"`
	MonitorInterval    time.Duration `json:"monitorInterval" yaml:"monitorInterval" mapstructure:"monitor_interval"`

	// Batch execution
	Workers        int           `json:"workers" yaml:"workers" mapstructure:"workers"`
	QueueSize      int           `json:"queueSize" yaml:"queueSize" mapstructure:"queue_size"`
	TaskTimeout    time.Duration `json:"taskTimeout" yaml:"taskTimeout" mapstructure:"task_timeout"` // 0 disables
	ChunkThreshold int           `json:"chunkThreshold" yaml:"chunkThreshold" mapstructure:"chunk_threshold"`

	// Optimization
	FoldCount int        `json:"foldCount" yaml:"foldCount" mapstructure:"fold_count"`
	Metric    MetricName `json:"metric" yaml:"metric" mapstructure:"metric"`

	Simulation SimulationParams `json:"simulation" yaml:"simulation" mapstructure:"simulation"`
}

// DefaultEngineConfig returns sensible defaults
func DefaultEngineConfig() EngineConfig {
	return EngineConfig{
		ChunkSize:          10000,
		ReleaseEvery:       1,
		AutoSelect:         true,
		SizeThreshold:      100000,
		MemoryThresholdPct: 80,
		MonitorInterval:    10 * time.Millisecond,
		Workers:            runtime.NumCPU(),
		QueueSize:          1024,
		TaskTimeout:        0,
		ChunkThreshold:     100000,
		FoldCount:          5,
		Metric:             MetricSharpe,
		Simulation:         DefaultSimulationParams(),
	}
}
