// Package metrics assembles point-in-time operational snapshots: feed
// freshness, signal cadence and backtest performance for a symbol. Every
// section carries an explicit availability marker; a degraded input
// downgrades its section instead of failing the snapshot.
package metrics

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/apellar/marketpulse/internal/domain/market"
	"github.com/apellar/marketpulse/internal/store"
	"github.com/apellar/marketpulse/internal/telemetry"
)

// FreshnessStatus grades how stale a feed is.
type FreshnessStatus string

const (
	FreshnessOK          FreshnessStatus = "ok"
	FreshnessWarning     FreshnessStatus = "warning"
	FreshnessCritical    FreshnessStatus = "critical"
	FreshnessUnavailable FreshnessStatus = "unavailable"
)

// Feed kinds tracked by the freshness section.
const (
	FeedCandles      = "candles"
	FeedTrades       = "trades"
	FeedOpenInterest = "open_interest"
	FeedFunding      = "funding"
)

// FeedFreshness reports the age of the newest record in one feed.
// LastSeen and AgeSeconds are nil when the feed has no records in the
// lookback window.
type FeedFreshness struct {
	Kind       string          `json:"kind"`
	LastSeen   *time.Time      `json:"last_seen"`
	AgeSeconds *float64        `json:"age_seconds"`
	Status     FreshnessStatus `json:"status"`
}

// SignalActivity summarises recent signal cadence. MeanCadenceSeconds is
// nil with fewer than two signals in the last day.
type SignalActivity struct {
	LastHour           int      `json:"last_hour"`
	LastDay            int      `json:"last_day"`
	MeanCadenceSeconds *float64 `json:"mean_cadence_seconds"`
	Available          bool     `json:"available"`
}

// Performance carries the current backtest statistics. Result is nil when
// Available is false; Reason explains why.
type Performance struct {
	WindowDays int                    `json:"window_days"`
	Result     *market.BacktestResult `json:"result"`
	Available  bool                   `json:"available"`
	Reason     string                 `json:"reason,omitempty"`
}

// Snapshot is the per-symbol operational picture at GeneratedAt.
type Snapshot struct {
	Symbol      string          `json:"symbol"`
	GeneratedAt time.Time       `json:"generated_at"`
	Feeds       []FeedFreshness `json:"feeds"`
	Activity    SignalActivity  `json:"activity"`
	Performance Performance     `json:"performance"`
}

// Backtester is the slice of the backtest engine the aggregator needs.
type Backtester interface {
	RunBacktestAt(ctx context.Context, symbol string, windowDays int, now time.Time) (*market.BacktestResult, error)
}

// Config tunes snapshot assembly.
type Config struct {
	// Warning and Critical are feed age thresholds.
	Warning  time.Duration `yaml:"warning"`
	Critical time.Duration `yaml:"critical"`
	// FreshnessLookback bounds how far back the feed scan reaches.
	FreshnessLookback time.Duration `yaml:"freshness_lookback"`
	BacktestDays      int           `yaml:"backtest_days"`
	StoreTimeout      time.Duration `yaml:"store_timeout"`
}

// DefaultConfig returns the standard snapshot thresholds.
func DefaultConfig() Config {
	return Config{
		Warning:           2 * time.Minute,
		Critical:          10 * time.Minute,
		FreshnessLookback: 24 * time.Hour,
		BacktestDays:      7,
		StoreTimeout:      10 * time.Second,
	}
}

// Aggregator builds snapshots from the stores and the backtest engine.
type Aggregator struct {
	market    store.MarketStore
	signals   store.SignalStore
	backtests Backtester
	cfg       Config
	metrics   *telemetry.Registry
	log       zerolog.Logger
}

// NewAggregator wires a snapshot aggregator.
func NewAggregator(marketStore store.MarketStore, signals store.SignalStore, backtests Backtester, cfg Config, logger zerolog.Logger) *Aggregator {
	if cfg.Warning <= 0 {
		cfg.Warning = 2 * time.Minute
	}
	if cfg.Critical <= cfg.Warning {
		cfg.Critical = 5 * cfg.Warning
	}
	if cfg.FreshnessLookback <= 0 {
		cfg.FreshnessLookback = 24 * time.Hour
	}
	if cfg.BacktestDays <= 0 {
		cfg.BacktestDays = 7
	}
	return &Aggregator{
		market:    marketStore,
		signals:   signals,
		backtests: backtests,
		cfg:       cfg,
		metrics:   telemetry.Default(),
		log:       logger.With().Str("component", "metrics").Logger(),
	}
}

// BuildSnapshot assembles the snapshot for symbol as of now. Only context
// cancellation fails the call; every other input problem degrades its own
// section with an unavailable marker.
func (a *Aggregator) BuildSnapshot(ctx context.Context, symbol string) (*Snapshot, error) {
	return a.buildAt(ctx, symbol, time.Now().UTC())
}

// BuildSnapshotAt is BuildSnapshot with an explicit clock, for tests.
func (a *Aggregator) BuildSnapshotAt(ctx context.Context, symbol string, now time.Time) (*Snapshot, error) {
	return a.buildAt(ctx, symbol, now)
}

func (a *Aggregator) buildAt(ctx context.Context, symbol string, now time.Time) (*Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	snap := &Snapshot{
		Symbol:      symbol,
		GeneratedAt: now,
		Feeds:       a.feeds(ctx, symbol, now),
		Activity:    a.activity(ctx, symbol, now),
		Performance: a.performance(ctx, symbol, now),
	}
	a.metrics.SnapshotBuilds.Inc()
	return snap, nil
}

func (a *Aggregator) feeds(ctx context.Context, symbol string, now time.Time) []FeedFreshness {
	window := market.Window{From: now.Add(-a.cfg.FreshnessLookback), To: now}
	fetchCtx, cancel := store.WithTimeout(ctx, a.cfg.StoreTimeout)
	defer cancel()

	var candleSeen, tradeSeen, oiSeen, fundingSeen *time.Time
	if candles, err := a.market.FetchCandles(fetchCtx, symbol, window); err == nil && len(candles) > 0 {
		t := candles[len(candles)-1].BucketStart
		candleSeen = &t
	}
	if trades, err := a.market.FetchTrades(fetchCtx, symbol, window); err == nil && len(trades) > 0 {
		t := trades[len(trades)-1].Time
		tradeSeen = &t
	}
	if snaps, err := a.market.FetchOpenInterest(fetchCtx, symbol, window); err == nil && len(snaps) > 0 {
		t := snaps[len(snaps)-1].Time
		oiSeen = &t
	}
	if records, err := a.market.FetchFunding(fetchCtx, symbol, window); err == nil && len(records) > 0 {
		t := records[len(records)-1].Time
		fundingSeen = &t
	}

	return []FeedFreshness{
		a.grade(FeedCandles, now, candleSeen),
		a.grade(FeedTrades, now, tradeSeen),
		a.grade(FeedOpenInterest, now, oiSeen),
		a.grade(FeedFunding, now, fundingSeen),
	}
}

func (a *Aggregator) grade(kind string, now time.Time, lastSeen *time.Time) FeedFreshness {
	f := FeedFreshness{Kind: kind, Status: FreshnessUnavailable}
	if lastSeen == nil {
		a.metrics.IngestFreshness.WithLabelValues(kind).Set(-1)
		return f
	}
	age := now.Sub(*lastSeen)
	ageSec := age.Seconds()
	f.LastSeen = lastSeen
	f.AgeSeconds = &ageSec
	switch {
	case age <= a.cfg.Warning:
		f.Status = FreshnessOK
	case age <= a.cfg.Critical:
		f.Status = FreshnessWarning
	default:
		f.Status = FreshnessCritical
	}
	a.metrics.IngestFreshness.WithLabelValues(kind).Set(ageSec)
	return f
}

func (a *Aggregator) activity(ctx context.Context, symbol string, now time.Time) SignalActivity {
	day := market.Window{From: now.Add(-24 * time.Hour), To: now}
	fetchCtx, cancel := store.WithTimeout(ctx, a.cfg.StoreTimeout)
	defer cancel()

	signals, err := a.signals.List(fetchCtx, symbol, day)
	if err != nil {
		a.log.Warn().Err(err).Str("symbol", symbol).Msg("signal activity unavailable")
		return SignalActivity{}
	}

	act := SignalActivity{Available: true, LastDay: len(signals)}
	hourAgo := now.Add(-time.Hour)
	for _, sig := range signals {
		if !sig.GeneratedAt.Before(hourAgo) {
			act.LastHour++
		}
	}
	if len(signals) >= 2 {
		span := signals[len(signals)-1].GeneratedAt.Sub(signals[0].GeneratedAt)
		cadence := span.Seconds() / float64(len(signals)-1)
		act.MeanCadenceSeconds = &cadence
	}
	return act
}

func (a *Aggregator) performance(ctx context.Context, symbol string, now time.Time) Performance {
	perf := Performance{WindowDays: a.cfg.BacktestDays}
	res, err := a.backtests.RunBacktestAt(ctx, symbol, a.cfg.BacktestDays, now)
	switch {
	case err == nil:
		perf.Result = res
		perf.Available = true
	case errors.Is(err, market.ErrNoSignalsInWindow):
		// An empty window is a valid zero-sample answer, not a failure.
		perf.Result = market.EmptyBacktestResult(market.Window{From: now.AddDate(0, 0, -a.cfg.BacktestDays), To: now})
		perf.Available = true
		perf.Reason = "no signals in window"
	default:
		a.log.Warn().Err(err).Str("symbol", symbol).Msg("backtest unavailable")
		perf.Reason = fmt.Sprintf("backtest failed: %v", err)
	}
	return perf
}
