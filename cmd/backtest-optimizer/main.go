// Package main runs a batch parameter optimization over synthetic
// instruments and prints the report.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/atlas-desktop/backtest-engine/internal/config"
	"github.com/atlas-desktop/backtest-engine/internal/data"
	"github.com/atlas-desktop/backtest-engine/internal/optimization"
	"github.com/atlas-desktop/backtest-engine/internal/orchestrator"
	"github.com/atlas-desktop/backtest-engine/internal/resource"
	"github.com/atlas-desktop/backtest-engine/internal/strategy"
	"github.com/atlas-desktop/backtest-engine/internal/telemetry"
	"github.com/atlas-desktop/backtest-engine/pkg/types"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"
	"github.com/spf13/pflag"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/yaml.v3"
)

var defaultGrids = map[string]string{
	strategy.SMACrossName:  "fast=5,10,20;slow=30,50",
	strategy.BollingerName: "period=10,20;k=1.5,2",
}

// output is the document printed on completion
type output struct {
	Strategy        string                          `json:"strategy" yaml:"strategy"`
	Grid            string                          `json:"grid" yaml:"grid"`
	Config          *types.EngineConfig             `json:"config" yaml:"config"`
	Batch           *orchestrator.BatchReport       `json:"batch" yaml:"batch"`
	Replays         map[string]*replay              `json:"replays,omitempty" yaml:"replays,omitempty"`
	CrossValidation map[string]*optimization.Report `json:"crossValidation,omitempty" yaml:"crossValidation,omitempty"`
}

// replay is the best batch combination of one instrument run again on its own
type replay struct {
	Params      types.ParamSet            `json:"params" yaml:"params"`
	FinalEquity decimal.Decimal           `json:"finalEquity" yaml:"finalEquity"`
	Metrics     *types.PerformanceMetrics `json:"metrics" yaml:"metrics"`
}

func main() {
	fs := pflag.NewFlagSet("backtest-optimizer", pflag.ExitOnError)
	strategyName := fs.String("strategy", strategy.SMACrossName, "Strategy to optimize")
	gridText := fs.String("grid", "", "Parameter grid, e.g. \"fast=5,10;slow=30,50\" (strategy default when empty)")
	instrumentCount := fs.Int("instruments", 4, "Number of synthetic instruments")
	bars := fs.Int("bars", 1000, "Bars per instrument")
	seed := fs.Int64("seed", 1, "Random seed for synthetic data")
	crossValidate := fs.Bool("cv", true, "Also run cross-validated optimization per instrument")
	format := fs.String("format", "json", "Output format (json, yaml)")
	logLevel := fs.String("log-level", "info", "Log level (debug, info, warn, error)")

	v := config.New()
	if err := config.BindFlags(v, fs); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	_ = fs.Parse(os.Args[1:])

	logger := setupLogger(*logLevel)
	defer logger.Sync()

	cfg, err := config.FromViper(v)
	if err != nil {
		logger.Fatal("Invalid configuration", zap.Error(err))
	}

	strat, err := strategy.NewRegistry(logger).Create(*strategyName)
	if err != nil {
		logger.Fatal("Unknown strategy", zap.Error(err), zap.Strings("available", strategy.NewRegistry(nil).List()))
	}

	if *gridText == "" {
		*gridText = defaultGrids[*strategyName]
	}
	grid, err := optimization.ParseGrid(*gridText)
	if err != nil {
		logger.Fatal("Invalid grid", zap.Error(err))
	}

	genConfig := data.DefaultGeneratorConfig()
	genConfig.Bars = *bars
	genConfig.Seed = *seed
	instruments, err := data.NewGenerator(logger, genConfig).Instruments("SYN", *instrumentCount)
	if err != nil {
		logger.Fatal("Failed to generate instruments", zap.Error(err))
	}

	var probe resource.Probe
	if p, err := resource.NewSystemProbe(); err != nil {
		logger.Warn("System probe unavailable, engine selection uses series size only", zap.Error(err))
	} else {
		probe = p
	}

	collector := telemetry.NewCollector(prometheus.NewRegistry())
	orch := orchestrator.New(logger, *cfg, strat, probe, collector)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.Info("Starting backtest optimizer",
		zap.String("strategy", *strategyName),
		zap.String("grid", grid.String()),
		zap.Int("instruments", len(instruments)),
		zap.Int("bars", *bars),
		zap.Int("workers", cfg.Workers),
	)

	report, err := orch.RunBatchOptimization(ctx, instruments, grid)
	if err != nil {
		logger.Fatal("Batch optimization failed", zap.Error(err))
	}

	out := output{
		Strategy: *strategyName,
		Grid:     grid.String(),
		Config:   cfg,
		Batch:    report,
	}

	out.Replays = make(map[string]*replay, len(report.Analysis.BestBy))
	for _, inst := range instruments {
		best, ok := report.Analysis.BestBy[inst.ID]
		if !ok {
			continue
		}
		res, metrics, err := orch.Replay(ctx, inst, best.Params)
		if err != nil {
			logger.Error("Replay failed", zap.String("instrument", inst.ID), zap.Error(err))
			continue
		}
		out.Replays[inst.ID] = &replay{
			Params:      best.Params,
			FinalEquity: decimal.NewFromFloat(res.FinalEquity()).Round(2),
			Metrics:     metrics,
		}
	}

	if *crossValidate {
		out.CrossValidation = make(map[string]*optimization.Report, len(instruments))
		for _, inst := range instruments {
			cv, err := orch.OptimizeInstrument(ctx, inst, grid)
			if err != nil {
				logger.Error("Cross-validation failed", zap.String("instrument", inst.ID), zap.Error(err))
				continue
			}
			out.CrossValidation[inst.ID] = cv
		}
	}

	if err := write(os.Stdout, *format, out); err != nil {
		logger.Fatal("Failed to write report", zap.Error(err))
	}
}

func write(w io.Writer, format string, out output) error {
	switch format {
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(out)
	case "yaml":
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		defer enc.Close()
		return enc.Encode(out)
	default:
		return fmt.Errorf("unknown format %q", format)
	}
}

func setupLogger(level string) *zap.Logger {
	var zapLevel zapcore.Level
	switch level {
	case "debug":
		zapLevel = zapcore.DebugLevel
	case "info":
		zapLevel = zapcore.InfoLevel
	case "warn":
		zapLevel = zapcore.WarnLevel
	case "error":
		zapLevel = zapcore.ErrorLevel
	default:
		zapLevel = zapcore.InfoLevel
	}

	zapConfig := zap.Config{
		Level:       zap.NewAtomicLevelAt(zapLevel),
		Development: false,
		Encoding:    "console",
		EncoderConfig: zapcore.EncoderConfig{
			TimeKey:        "time",
			LevelKey:       "level",
			NameKey:        "logger",
			CallerKey:      "caller",
			MessageKey:     "msg",
			StacktraceKey:  "stacktrace",
			LineEnding:     zapcore.DefaultLineEnding,
			EncodeLevel:    zapcore.CapitalColorLevelEncoder,
			EncodeTime:     zapcore.ISO8601TimeEncoder,
			EncodeDuration: zapcore.SecondsDurationEncoder,
			EncodeCaller:   zapcore.ShortCallerEncoder,
		},
		OutputPaths:      []string{"stderr"},
		ErrorOutputPaths: []string{"stderr"},
	}

	logger, err := zapConfig.Build()
	if err != nil {
		panic(err)
	}
	return logger
}
