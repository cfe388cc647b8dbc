// Package main provides the entry point for the trading engine: it loads
// configuration, wires the event bus, venue adapter, market-data feed,
// order manager, orchestrator, and operational API together, and runs
// until an interrupt signal triggers a graceful shutdown.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/atlas-desktop/trading-backend/internal/api"
	"github.com/atlas-desktop/trading-backend/internal/config"
	"github.com/atlas-desktop/trading-backend/internal/events"
	"github.com/atlas-desktop/trading-backend/internal/feed"
	"github.com/atlas-desktop/trading-backend/internal/metrics"
	"github.com/atlas-desktop/trading-backend/internal/notify"
	"github.com/atlas-desktop/trading-backend/internal/orchestrator"
	"github.com/atlas-desktop/trading-backend/internal/orders"
	"github.com/atlas-desktop/trading-backend/internal/regime"
	"github.com/atlas-desktop/trading-backend/internal/sizing"
	"github.com/atlas-desktop/trading-backend/internal/store"
	"github.com/atlas-desktop/trading-backend/internal/venue"
	"github.com/atlas-desktop/trading-backend/internal/veto"
	"github.com/atlas-desktop/trading-backend/internal/workers"
)

func main() {
	logLevel := flag.String("log-level", "info", "Log level (debug, info, warn, error)")
	flag.Parse()

	logger := setupLogger(*logLevel)
	defer logger.Sync()

	// Best effort: a local .env is a dev convenience, its absence is normal.
	if err := godotenv.Load(); err == nil {
		logger.Debug("loaded environment from .env file")
	}

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("failed to load configuration", zap.Error(err))
	}

	logger.Info("starting trading engine",
		zap.String("environment", string(cfg.Environment)),
		zap.Strings("instruments", cfg.Instruments),
	)

	metrics.Init()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	kv, err := store.NewFileKV(cfg.StoreDataDir)
	if err != nil {
		logger.Fatal("failed to initialize state store", zap.Error(err))
	}
	stateStore := store.New(kv, logger)

	bus := events.NewBus(logger, events.DefaultBusConfig())
	bus.Start(ctx)
	defer bus.Stop()

	venueAdapter := venue.New(cfg.VenueBaseURL, cfg.VenueAPIKey, cfg.VenueAPISecret)
	dryRun := cfg.Environment == config.EnvironmentDryRun

	filters, err := venueAdapter.ExchangeInfo(ctx)
	if err != nil {
		if !dryRun {
			logger.Fatal("failed to fetch exchange info", zap.Error(err))
		}
		logger.Warn("failed to fetch exchange info, using open filters for dry run", zap.Error(err))
		for _, inst := range cfg.Instruments {
			filters = append(filters, venue.InstrumentFilters{Instrument: inst})
		}
	}

	if !dryRun {
		for _, inst := range cfg.Instruments {
			if err := venueAdapter.SetLeverage(ctx, inst, cfg.Leverage); err != nil {
				logger.Warn("failed to set leverage", zap.String("instrument", inst), zap.Error(err))
			}
		}
	}

	orderCfg := orders.DefaultConfig()
	orderCfg.DryRun = dryRun
	orderCfg.MaxSlippagePct = cfg.MaxSlippagePct
	orderMgr := orders.New(logger, venueAdapter, orderCfg)
	orderMgr.SetFilters(filters)

	feedMgr := feed.New(logger, "1m")
	feedMgr.OnKline(func(ev *events.BarEvent) { bus.Publish(ev) })
	feedMgr.OnBookTicker(func(ev *events.TickEvent) { bus.Publish(ev) })
	feedMgr.OnError(func(instrument string, err error) {
		logger.Warn("feed error", zap.String("instrument", instrument), zap.Error(err))
	})

	if err := feedMgr.SubscribeKlines(cfg.Instruments); err != nil {
		logger.Fatal("failed to subscribe to klines", zap.Error(err))
	}
	if err := feedMgr.SubscribeBookTicker(cfg.Instruments); err != nil {
		logger.Fatal("failed to subscribe to book tickers", zap.Error(err))
	}

	notifySink := notify.New(logger)

	workerPool := workers.NewPool(logger, workers.DefaultConfig("orchestrator"))
	workerPool.Start()

	sizingCfg := sizing.DefaultConfig()
	sizingCfg.RiskPerTradePct = cfg.RiskPerTradePct
	sizingCfg.StopATRMultiplier = cfg.StopATRMultiplier
	sizingCfg.MinPositionNotional = cfg.MinPositionNotional
	sizingCfg.MaxPositionNotional = cfg.MaxPositionNotional

	orchCfg := orchestrator.Config{
		Instruments:         cfg.Instruments,
		LatencyBaseline:     2 * time.Second,
		ActivationThreshold: cfg.ActivationThreshold,
		SizingConfig:        sizingCfg,
		RegimeConfig:        regime.DefaultConfig(),
		RiskLimits: veto.Limits{
			MaxPositionSize:        cfg.MaxPositionSize,
			MaxPositions:           cfg.MaxPositions,
			MaxCorrelationExposure: cfg.MaxCorrelationExposure,
			MaxDrawdownPct:         cfg.MaxDrawdownPct,
			DailyLossLimitPct:      cfg.DailyLossLimitPct,
		},
	}

	orch := orchestrator.New(logger, orchCfg, bus, orderMgr, feedMgr, notifySink, stateStore, workerPool, cfg.StartingEquity)

	if err := orch.Start(ctx); err != nil {
		logger.Fatal("failed to start orchestrator", zap.Error(err))
	}

	apiServer := api.NewServer(logger, api.Config{
		Host:         cfg.HTTPHost,
		Port:         cfg.HTTPPort,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}, orch, bus)

	go func() {
		if err := apiServer.Start(); err != nil {
			logger.Error("api server stopped", zap.Error(err))
		}
	}()

	logger.Info("engine started",
		zap.String("http", fmt.Sprintf("http://%s:%d", cfg.HTTPHost, cfg.HTTPPort)),
		zap.String("ws", fmt.Sprintf("ws://%s:%d/ws", cfg.HTTPHost, cfg.HTTPPort)),
	)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan
	logger.Info("shutdown signal received")

	cancel()

	if err := orch.Stop(); err != nil {
		logger.Error("error stopping orchestrator", zap.Error(err))
	}

	if err := workerPool.Stop(); err != nil {
		logger.Error("error stopping worker pool", zap.Error(err))
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := apiServer.Stop(shutdownCtx); err != nil {
		logger.Error("error during api shutdown", zap.Error(err))
	}

	logger.Info("engine stopped")
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
