package main

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/apellar/marketpulse/internal/alert"
	"github.com/apellar/marketpulse/internal/backtest"
	"github.com/apellar/marketpulse/internal/cache"
	"github.com/apellar/marketpulse/internal/config"
	"github.com/apellar/marketpulse/internal/domain/market"
	"github.com/apellar/marketpulse/internal/indicator"
	httpapi "github.com/apellar/marketpulse/internal/interfaces/http"
	"github.com/apellar/marketpulse/internal/metrics"
	"github.com/apellar/marketpulse/internal/signal"
	"github.com/apellar/marketpulse/internal/store"
	"github.com/apellar/marketpulse/internal/store/memory"
	"github.com/apellar/marketpulse/internal/store/postgres"
)

// app bundles the wired components behind the CLI commands.
type app struct {
	cfg       config.Config
	log       zerolog.Logger
	market    store.MarketStore
	signals   store.SignalStore
	engine    *indicator.Engine
	evaluator *signal.Evaluator
	backtests *backtest.Engine
	snapshots *metrics.Aggregator
	hub       *alert.Hub
	feed      *httpapi.SignalFeed
	closers   []func()
}

// buildApp loads configuration and wires the component graph. With an
// empty Postgres DSN the stores run in memory; with an empty Redis addr
// the indicator cache is local-only.
func buildApp(configPath, universePath, logLevel string) (*app, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	if logLevel == "" {
		logLevel = cfg.Logging.Level
	}
	logger := newLogger(logLevel)

	if universePath != "" {
		universe, err := config.LoadUniverse(universePath)
		if err != nil {
			return nil, err
		}
		cfg.Symbols = universe.Enabled()
		if len(cfg.Symbols) > 0 {
			cfg.Indicator.TickSize = universe.TickSizeFor(cfg.Symbols[0], cfg.Indicator.TickSize)
		}
	}

	a := &app{cfg: cfg, log: logger}

	if cfg.Postgres.DSN != "" {
		db, err := postgres.Open(cfg.Postgres.DSN)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, func() { db.Close() })
		a.market = postgres.NewMarketRepo(db, cfg.Postgres.Timeout)
		a.signals = postgres.NewSignalRepo(db, cfg.Postgres.Timeout)
	} else {
		logger.Info().Msg("no postgres DSN, running with in-memory stores")
		a.market = memory.NewMarketStore()
		a.signals = memory.NewSignalStore()
	}

	var shared *cache.RedisCache
	if cfg.Redis.Addr != "" {
		shared, err = cache.NewRedisCache(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, cfg.Redis.Prefix)
		if err != nil {
			return nil, fmt.Errorf("redis cache: %w", err)
		}
		a.closers = append(a.closers, func() { shared.Close() })
	}

	indicatorCfg := indicator.DefaultConfig()
	indicatorCfg.Profile.TickSize = cfg.Indicator.TickSize
	indicatorCfg.Profile.ValueAreaFraction = cfg.Indicator.ValueAreaFraction
	indicatorCfg.Profile.LVNThreshold = cfg.Indicator.LVNThreshold
	indicatorCfg.EMAPeriod = cfg.Indicator.EMAPeriod
	indicatorCfg.ADXPeriod = cfg.Indicator.ADXPeriod
	indicatorCfg.CacheTTL = cfg.Indicator.CacheTTL
	a.engine = indicator.NewEngine(a.market, shared, indicatorCfg, logger)

	a.feed = httpapi.NewSignalFeed()
	a.hub = alert.NewHub(cfg.Alerts.QueueSize, cfg.Alerts.DeliverTimeout, logger)
	a.hub.Register(feedSink{a.feed})
	if cfg.Alerts.WebhookURL != "" {
		a.hub.Register(alert.NewWebhookSink(alert.DefaultWebhookConfig(cfg.Alerts.WebhookURL), nil))
	}
	if len(cfg.Alerts.KafkaBrokers) > 0 {
		sink, err := alert.NewKafkaSink(alert.KafkaConfig{Brokers: cfg.Alerts.KafkaBrokers, Topic: cfg.Alerts.KafkaTopic})
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, func() { sink.Close() })
		a.hub.Register(sink)
	}
	a.closers = append(a.closers, a.hub.Close, a.feed.Close)

	signalCfg := signal.DefaultEvaluatorConfig()
	signalCfg.Timeframe = cfg.Timeframe
	signalCfg.Lookback = cfg.Signal.Lookback
	signalCfg.Cooldown = cfg.Signal.Cooldown
	a.evaluator = signal.NewEvaluator(a.engine, a.signals, a.hub, signalCfg, logger)

	backtestCfg := backtest.DefaultConfig()
	backtestCfg.ProfitTargetPct = cfg.Backtest.ProfitTargetPct
	backtestCfg.StopLossPct = cfg.Backtest.StopLossPct
	backtestCfg.HorizonBuckets = cfg.Backtest.HorizonBuckets
	backtestCfg.Timeframe = cfg.Timeframe
	a.backtests = backtest.NewEngine(a.market, a.signals, backtestCfg, logger)

	snapshotCfg := metrics.DefaultConfig()
	snapshotCfg.Warning = cfg.Snapshot.FreshnessWarning
	snapshotCfg.Critical = cfg.Snapshot.FreshnessCritical
	snapshotCfg.BacktestDays = cfg.Backtest.WindowDays
	a.snapshots = metrics.NewAggregator(a.market, a.signals, a.backtests, snapshotCfg, logger)

	return a, nil
}

// close tears components down in reverse wiring order.
func (a *app) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
}

// feedSink adapts the HTTP signal feed to the alert sink contract so live
// API clients receive the same fan-out as external destinations.
type feedSink struct {
	feed *httpapi.SignalFeed
}

func (feedSink) Name() string { return "feed" }

func (s feedSink) Deliver(_ context.Context, sig market.Signal) error {
	s.feed.Publish(sig)
	return nil
}
