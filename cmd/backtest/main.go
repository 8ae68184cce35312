// Command backtest wires the core packages (config, plugin manager, event
// bus, portfolio, risk, backtest driver) into a runnable CLI, plus the
// optional Monte Carlo resampling and reporting-API surfaces.
//
// Concrete strategies (double_low, macd) are external collaborators: this
// binary builds its own empty strategy.Registry in main and registers none
// itself. A strategy becomes available only by adding a Register call on
// that registry to this command.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/quantcore/backtest/internal/api"
	"github.com/quantcore/backtest/internal/backtest"
	"github.com/quantcore/backtest/internal/config"
	"github.com/quantcore/backtest/internal/configloader"
	"github.com/quantcore/backtest/internal/montecarlo"
	"github.com/quantcore/backtest/internal/obsmetrics"
	"github.com/quantcore/backtest/internal/plugin"
	"github.com/quantcore/backtest/internal/portfolio"
	"github.com/quantcore/backtest/internal/risk"
	"github.com/quantcore/backtest/internal/rtctx"
	"github.com/quantcore/backtest/internal/strategy"
	"github.com/quantcore/backtest/pkg/utils"
)

func main() {
	configPath := flag.String("config", "", "Config file path (json/yaml/toml, via viper)")
	barsPath := flag.String("bars", "", "Path to a JSON file of historical bars")
	strategyName := flag.String("strategy", "", "Strategy name override (double_low or macd)")
	startFlag := flag.String("start", "", "Backtest start date (2006-01-02), overrides config")
	endFlag := flag.String("end", "", "Backtest end date (2006-01-02), overrides config")
	logLevel := flag.String("log-level", "info", "Log level (debug, info, warn, error)")
	serve := flag.Bool("serve", false, "Start the read-only reporting API after the run completes")
	host := flag.String("host", "127.0.0.1", "Reporting API host")
	port := flag.Int("port", 8090, "Reporting API port")
	runMonteCarlo := flag.Bool("montecarlo", false, "Run Monte Carlo robustness resampling after the backtest")
	mcTrials := flag.Int("montecarlo-trials", 1000, "Number of Monte Carlo trials")
	flag.Parse()

	logger := setupLogger(*logLevel)
	defer logger.Sync()

	loader := configloader.New(logger, defaultFramework())
	cfg, err := loader.Load(*configPath)
	if err != nil {
		logger.Fatal("failed to load configuration", zap.Error(err))
	}

	if *strategyName != "" {
		cfg.Strategy.Name = *strategyName
	}
	if *startFlag != "" {
		cfg.Backtest.StartDate = *startFlag
	}
	if *endFlag != "" {
		cfg.Backtest.EndDate = *endFlag
	}

	logger.Info("configuration loaded",
		zap.String("environment", string(cfg.Environment)),
		zap.String("strategy", cfg.Strategy.Name),
		zap.String("start", cfg.Backtest.StartDate),
		zap.String("end", cfg.Backtest.EndDate),
	)

	// Plugin setup/teardown runs against a bootstrap Context seeded with the
	// loaded config only: plugins that register strategies, data sources, or
	// cache backends need the config at setup time, well before any single
	// backtest run builds its own per-run Context (portfolio, risk manager,
	// event bus).
	bootstrapCtx := rtctx.New(cfg, nil, nil, nil, logger)

	pluginMgr := plugin.NewManager(logger)
	if err := pluginMgr.Initialize(bootstrapCtx); err != nil {
		logger.Fatal("plugin initialization failed", zap.Error(err))
	}
	defer func() {
		if err := pluginMgr.Shutdown(bootstrapCtx); err != nil {
			logger.Error("plugin shutdown failed", zap.Error(err))
		}
	}()

	registry := strategy.NewRegistry(logger)
	strat, err := registry.Build(cfg.Strategy.Name, cfg.Strategy.Params)
	if err != nil {
		logger.Fatal("no strategy registered for configured name; a deployment must register one before running",
			zap.String("name", cfg.Strategy.Name), zap.Error(err))
	}

	bars, err := loadBars(*barsPath)
	if err != nil {
		logger.Fatal("failed to load bars", zap.Error(err))
	}

	startDate, endDate, err := parseWindow(cfg.Backtest.StartDate, cfg.Backtest.EndDate)
	if err != nil {
		logger.Fatal("invalid backtest window", zap.Error(err))
	}

	driverCfg := backtest.Config{
		InitialCash:      cfg.Backtest.InitialCapital,
		Mode:             settlementMode(cfg),
		CommissionRate:   cfg.Backtest.FeeRate,
		Slippage:         decimal.NewFromFloat(0.001),
		EnableRiskChecks: true,
		RiskRules:        buildRiskRules(logger, cfg.Risk),
	}
	driver := backtest.NewDriver(logger, driverCfg)

	runID := utils.GenerateID("run")

	var reportServer *api.Server
	if *serve {
		reportServer = api.NewServer(logger, api.Config{
			Host:          *host,
			Port:          *port,
			ReadTimeout:   10 * time.Second,
			WriteTimeout:  10 * time.Second,
			WebSocketPath: "/api/v1/stream",
		})
		reportServer.RegisterRun(runID)

		go func() {
			if err := reportServer.Start(); err != nil {
				logger.Error("reporting API server error", zap.Error(err))
			}
		}()
	}

	ctx, cancel := context.WithCancel(context.Background())
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		logger.Info("shutdown signal received")
		cancel()
	}()

	result, err := driver.Run(ctx, strat, bars, startDate, endDate)
	if err != nil {
		if reportServer != nil {
			reportServer.RecordFailure(runID, err)
		}
		logger.Fatal("backtest run failed", zap.Error(err))
	}

	logger.Info("backtest complete",
		zap.Float64("finalValue", result.FinalValue),
		zap.Float64("totalReturn", result.TotalReturn),
		zap.Float64("sharpeRatio", result.SharpeRatio),
		zap.Float64("maxDrawdown", result.MaxDrawdown),
		zap.Int("tradeCount", result.TradeCount),
	)

	collector := obsmetrics.New()
	collector.ObserveResult(result)

	if reportServer != nil {
		reportServer.RecordResult(runID, result)
	}

	if *runMonteCarlo {
		sim := montecarlo.New(logger, montecarlo.Config{Trials: *mcTrials})
		mcResult := sim.Run(result)
		logger.Info("monte carlo resampling complete",
			zap.Int("trials", mcResult.Trials),
			zap.Float64("p5TerminalEquity", mcResult.P5TerminalEquity),
			zap.Float64("p50TerminalEquity", mcResult.P50TerminalEquity),
			zap.Float64("p95TerminalEquity", mcResult.P95TerminalEquity),
			zap.Float64("probabilityRuin", mcResult.ProbabilityRuin),
		)
	}

	if reportServer != nil {
		<-ctx.Done()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		if err := reportServer.Stop(shutdownCtx); err != nil {
			logger.Error("error during reporting server shutdown", zap.Error(err))
		}
	}
}

// defaultFramework seeds the configloader with the values a fresh run needs
// when no config file or env overrides are supplied.
func defaultFramework() config.Framework {
	return config.Framework{
		Environment: config.EnvDev,
		Engine:      config.EngineConfig{WorkerCount: 4, QueueSize: 1000},
		Logging:     config.LoggingConfig{Level: "info", Format: "console"},
		Plugins:     config.PluginsConfig{Autoload: true},
		AssetTypes: map[string]config.AssetTypeSpec{
			"stock": {Settlement: config.SettlementT1, LotSize: 100, FeeRate: decimal.NewFromFloat(0.0003)},
			"cb":    {Settlement: config.SettlementT0, LotSize: 10, FeeRate: decimal.NewFromFloat(0.0001)},
		},
		Asset:      config.AssetConfig{Type: "cb"},
		Strategy:   config.StrategyConfig{Name: "double_low"},
		DataSource: config.DataSourceConfig{Primary: "akshare", Backup: "tushare", CacheDir: ".cache"},
		Backtest: config.BacktestConfig{
			InitialCapital: decimal.NewFromInt(100000),
			StartDate:      "2024-01-01",
			EndDate:        "2024-12-31",
			FeeRate:        decimal.NewFromFloat(0.0003),
		},
		Risk: config.RiskConfig{
			MaxPositionRatio: decimal.NewFromFloat(0.4),
			StopLossRatio:    decimal.NewFromFloat(0.1),
		},
	}
}

func settlementMode(cfg config.Framework) portfolio.SettlementMode {
	spec, ok := cfg.AssetTypes[cfg.Asset.Type]
	if ok && spec.Settlement == config.SettlementT0 {
		return portfolio.ModeT0
	}
	return portfolio.ModeT1
}

func buildRiskRules(logger *zap.Logger, cfg config.RiskConfig) []risk.Rule {
	var rules []risk.Rule

	if r, err := risk.NewMaxPositionRatio(cfg.MaxPositionRatio); err != nil {
		logger.Warn("skipping max position ratio rule", zap.Error(err))
	} else {
		rules = append(rules, r)
	}

	if r, err := risk.NewStopLoss(cfg.StopLossRatio); err != nil {
		logger.Warn("skipping stop loss rule", zap.Error(err))
	} else {
		rules = append(rules, r)
	}

	return rules
}

// barRecord is the on-disk JSON shape of one historical bar; loadBars
// copies each decoded record into a backtest.RawBar.
type barRecord struct {
	Symbol string          `json:"symbol"`
	Date   string          `json:"date"`
	Open   decimal.Decimal `json:"open"`
	High   decimal.Decimal `json:"high"`
	Low    decimal.Decimal `json:"low"`
	Close  decimal.Decimal `json:"close"`
	Volume decimal.Decimal `json:"volume"`
	Amount decimal.Decimal `json:"amount"`
}

func loadBars(path string) ([]backtest.RawBar, error) {
	if path == "" {
		return nil, nil
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var records []barRecord
	if err := json.Unmarshal(raw, &records); err != nil {
		return nil, err
	}

	bars := make([]backtest.RawBar, 0, len(records))
	for _, r := range records {
		bars = append(bars, backtest.RawBar{
			Symbol: r.Symbol,
			Date:   r.Date,
			Open:   r.Open,
			High:   r.High,
			Low:    r.Low,
			Close:  r.Close,
			Volume: r.Volume,
			Amount: r.Amount,
		})
	}
	return bars, nil
}

func parseWindow(start, end string) (time.Time, time.Time, error) {
	startDate, err := time.Parse("2006-01-02", start)
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	endDate, err := time.Parse("2006-01-02", end)
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	return startDate, endDate, nil
}

func setupLogger(level string) *zap.Logger {
	var zapLevel zapcore.Level
	switch level {
	case "debug":
		zapLevel = zapcore.DebugLevel
	case "warn":
		zapLevel = zapcore.WarnLevel
	case "error":
		zapLevel = zapcore.ErrorLevel
	default:
		zapLevel = zapcore.InfoLevel
	}

	cfg := zap.Config{
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
		OutputPaths:      []string{"stdout"},
		ErrorOutputPaths: []string{"stderr"},
	}

	logger, err := cfg.Build()
	if err != nil {
		panic(err)
	}
	return logger
}
