// Package backtest replays historical signals against forward price paths
// under strict temporal causality: a signal's resolution may only read
// candles inside [generated_at, generated_at + horizon].
package backtest

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/apellar/marketpulse/internal/cache"
	"github.com/apellar/marketpulse/internal/domain/market"
	"github.com/apellar/marketpulse/internal/store"
	"github.com/apellar/marketpulse/internal/telemetry"
)

// Config tunes backtest resolution.
type Config struct {
	// ProfitTargetPct and StopLossPct are fractional distances from entry.
	ProfitTargetPct float64 `yaml:"profit_target_pct"`
	StopLossPct     float64 `yaml:"stop_loss_pct"`
	// HorizonBuckets is the holding horizon in timeframe buckets.
	HorizonBuckets int           `yaml:"horizon_buckets"`
	Timeframe      time.Duration `yaml:"timeframe"`
	// IncludeExpired keeps zero-return expired signals in the expectancy
	// denominator (the documented default policy).
	IncludeExpired bool          `yaml:"include_expired"`
	StoreTimeout   time.Duration `yaml:"store_timeout"`
	CacheTTL       time.Duration `yaml:"cache_ttl"`
}

// DefaultConfig returns the standard backtest parameters.
func DefaultConfig() Config {
	return Config{
		ProfitTargetPct: 0.01,
		StopLossPct:     0.01,
		HorizonBuckets:  24,
		Timeframe:       5 * time.Minute,
		IncludeExpired:  true,
		StoreTimeout:    10 * time.Second,
		CacheTTL:        5 * time.Minute,
	}
}

// Horizon is the wall-clock holding horizon past a signal's entry.
func (c Config) Horizon() time.Duration {
	return time.Duration(c.HorizonBuckets) * c.Timeframe
}

// Engine resolves signal outcomes and aggregates performance statistics.
// Runs are idempotent: no randomness, no hidden mutable state; results are
// cached per (symbol, window) and invalidated by signal-set fingerprint.
type Engine struct {
	market  store.MarketStore
	signals store.SignalStore
	cfg     Config
	results *cache.TTLCache
	metrics *telemetry.Registry
	log     zerolog.Logger
}

type cachedResult struct {
	fingerprint string
	result      *market.BacktestResult
}

// NewEngine creates a backtest engine.
func NewEngine(marketStore store.MarketStore, signals store.SignalStore, cfg Config, logger zerolog.Logger) *Engine {
	if cfg.Timeframe <= 0 {
		cfg.Timeframe = 5 * time.Minute
	}
	if cfg.HorizonBuckets <= 0 {
		cfg.HorizonBuckets = 24
	}
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = 5 * time.Minute
	}
	return &Engine{
		market:  marketStore,
		signals: signals,
		cfg:     cfg,
		results: cache.NewTTLCache(256),
		metrics: telemetry.Default(),
		log:     logger.With().Str("component", "backtest").Logger(),
	}
}

// RunBacktest resolves every signal for symbol inside the trailing
// windowDays window and aggregates hit rate, expectancy and max drawdown.
// An empty window returns ErrNoSignalsInWindow; the aggregator maps that
// to a zero-sample result rather than a failure.
func (e *Engine) RunBacktest(ctx context.Context, symbol string, windowDays int) (*market.BacktestResult, error) {
	return e.run(ctx, symbol, windowDays, time.Now().UTC())
}

// RunBacktestAt is RunBacktest with an explicit window end, used by tests
// and replays.
func (e *Engine) RunBacktestAt(ctx context.Context, symbol string, windowDays int, now time.Time) (*market.BacktestResult, error) {
	return e.run(ctx, symbol, windowDays, now)
}

func (e *Engine) run(ctx context.Context, symbol string, windowDays int, now time.Time) (*market.BacktestResult, error) {
	start := time.Now()
	defer func() {
		e.metrics.BacktestDuration.Observe(time.Since(start).Seconds())
	}()

	if windowDays <= 0 {
		return nil, fmt.Errorf("window days must be positive, got %d", windowDays)
	}
	window := market.Window{From: now.AddDate(0, 0, -windowDays), To: now}

	key := fmt.Sprintf("bt:%s:%d", symbol, windowDays)
	fingerprint, err := e.signals.Fingerprint(ctx, symbol)
	if err != nil {
		return nil, fmt.Errorf("signal fingerprint for %s: %w", symbol, err)
	}
	if entry, ok := e.results.Get(key); ok {
		cached := entry.(cachedResult)
		if cached.fingerprint == fingerprint {
			return cached.result, nil
		}
	}

	signals, err := e.signals.List(ctx, symbol, window)
	if err != nil {
		return nil, fmt.Errorf("list signals for %s: %w", symbol, err)
	}
	if len(signals) == 0 {
		return nil, fmt.Errorf("%s over %dd: %w", symbol, windowDays, market.ErrNoSignalsInWindow)
	}

	result, err := e.aggregate(ctx, window, signals)
	if err != nil {
		return nil, err
	}

	// Resolution transitions move the fingerprint, so record it after.
	fingerprint, err = e.signals.Fingerprint(ctx, symbol)
	if err != nil {
		return nil, fmt.Errorf("signal fingerprint for %s: %w", symbol, err)
	}
	e.results.Set(key, cachedResult{fingerprint: fingerprint, result: result}, e.cfg.CacheTTL)

	e.log.Info().
		Str("symbol", symbol).
		Int("window_days", windowDays).
		Int("sample", result.SampleSize).
		Int("wins", result.Wins).
		Int("losses", result.Losses).
		Int("expired", result.Expired).
		Msg("backtest complete")

	return result, nil
}

// aggregate resolves each signal in chronological order and folds the
// per-signal returns into the window statistics.
func (e *Engine) aggregate(ctx context.Context, window market.Window, signals []market.Signal) (*market.BacktestResult, error) {
	result := &market.BacktestResult{Window: window}

	var returns []float64
	for _, sig := range signals {
		outcome, ret, err := e.resolve(ctx, sig)
		if err != nil {
			return nil, err
		}
		switch outcome {
		case market.StatusWon:
			result.Wins++
		case market.StatusLost:
			result.Losses++
		case market.StatusExpired:
			result.Expired++
		}
		if outcome != market.StatusExpired || e.cfg.IncludeExpired {
			returns = append(returns, ret)
		}
	}

	result.SampleSize = result.Wins + result.Losses + result.Expired
	if result.SampleSize == 0 {
		return result, nil
	}

	hitRate := float64(result.Wins) / float64(result.SampleSize)
	result.HitRate = &hitRate

	if len(returns) > 0 {
		sum := 0.0
		for _, r := range returns {
			sum += r
		}
		expectancy := sum / float64(len(returns))
		result.Expectancy = &expectancy
	}

	drawdown := maxDrawdown(returns)
	result.MaxDrawdown = &drawdown
	return result, nil
}

// resolve determines a single signal's outcome. Already-terminal signals
// keep their stored status so reruns are idempotent; pending signals are
// replayed over [entry, entry+horizon] candles and resolved in the store.
func (e *Engine) resolve(ctx context.Context, sig market.Signal) (market.SignalStatus, float64, error) {
	if sig.Status.Terminal() {
		return sig.Status, e.returnFor(sig.Status), nil
	}

	horizon := market.Window{From: sig.GeneratedAt, To: sig.GeneratedAt.Add(e.cfg.Horizon())}
	fetchCtx, cancel := store.WithTimeout(ctx, e.cfg.StoreTimeout)
	candles, err := e.market.FetchCandles(fetchCtx, sig.Symbol, horizon)
	cancel()
	if err != nil {
		return "", 0, fmt.Errorf("fetch forward candles for signal %d: %w", sig.ID, err)
	}

	status, err := e.replay(sig, horizon, candles)
	if err != nil {
		return "", 0, err
	}
	if err := e.signals.Resolve(ctx, sig.ID, status); err != nil {
		return "", 0, fmt.Errorf("resolve signal %d: %w", sig.ID, err)
	}
	return status, e.returnFor(status), nil
}

// replay walks forward candles until target or stop triggers. When both
// fall inside one bucket the stop wins (conservative). Any candle outside
// the horizon window is a causality violation and aborts the computation.
func (e *Engine) replay(sig market.Signal, horizon market.Window, candles []market.Candle) (market.SignalStatus, error) {
	// A missing flow reading defaults to the long playbook.
	long := sig.Trigger.CVD == nil || *sig.Trigger.CVD >= 0
	var target, stop float64
	if long {
		target = sig.EntryPrice * (1 + e.cfg.ProfitTargetPct)
		stop = sig.EntryPrice * (1 - e.cfg.StopLossPct)
	} else {
		target = sig.EntryPrice * (1 - e.cfg.ProfitTargetPct)
		stop = sig.EntryPrice * (1 + e.cfg.StopLossPct)
	}

	for _, c := range candles {
		if c.BucketStart.Before(horizon.From) || c.BucketStart.After(horizon.To) {
			return "", fmt.Errorf("signal %d: candle at %s outside [%s, %s]: %w",
				sig.ID, c.BucketStart.Format(time.RFC3339),
				horizon.From.Format(time.RFC3339), horizon.To.Format(time.RFC3339),
				market.ErrCausalityViolation)
		}
		if long {
			if c.Low <= stop {
				return market.StatusLost, nil
			}
			if c.High >= target {
				return market.StatusWon, nil
			}
		} else {
			if c.High >= stop {
				return market.StatusLost, nil
			}
			if c.Low <= target {
				return market.StatusWon, nil
			}
		}
	}
	return market.StatusExpired, nil
}

// returnFor maps an outcome to its deterministic fractional return.
func (e *Engine) returnFor(status market.SignalStatus) float64 {
	switch status {
	case market.StatusWon:
		return e.cfg.ProfitTargetPct
	case market.StatusLost:
		return -e.cfg.StopLossPct
	default:
		return 0
	}
}

// maxDrawdown compounds per-signal returns into an equity curve and
// reports the worst (peak - trough) / peak decline.
func maxDrawdown(returns []float64) float64 {
	equity := 1.0
	peak := equity
	worst := 0.0
	for _, r := range returns {
		equity *= 1 + r
		if equity > peak {
			peak = equity
		}
		if peak > 0 {
			if dd := (peak - equity) / peak; dd > worst {
				worst = dd
			}
		}
	}
	return worst
}
