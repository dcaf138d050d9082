package indicator

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

// Config tunes the indicator engine.
type Config struct {
	Profile      ProfileConfig `yaml:"profile"`
	EMAPeriod    int           `yaml:"ema_period"`
	ADXPeriod    int           `yaml:"adx_period"`
	CacheTTL     time.Duration `yaml:"cache_ttl"`
	StoreTimeout time.Duration `yaml:"store_timeout"`
}

// DefaultConfig returns the standard engine parameters.
func DefaultConfig() Config {
	return Config{
		Profile:      DefaultProfileConfig(),
		EMAPeriod:    50,
		ADXPeriod:    14,
		CacheTTL:     30 * time.Second,
		StoreTimeout: 5 * time.Second,
	}
}

// Set bundles the derived indicator views for one symbol+window. Sets are
// disposable: recomputed on demand, cached only behind a TTL.
type Set struct {
	Symbol      string                 `json:"symbol"`
	Timeframe   time.Duration          `json:"timeframe"`
	Window      market.Window          `json:"window"`
	Session     market.Session         `json:"session,omitempty"`
	CVD         []market.IndicatorPoint `json:"cvd"`
	DeltaOIPct  []market.IndicatorPoint `json:"delta_oi_pct"`
	Profile     *market.VolumeProfile  `json:"volume_profile,omitempty"`
	EMA         market.IndicatorPoint  `json:"ema"`
	ADX         market.IndicatorPoint  `json:"adx"`
	VWAP        market.IndicatorPoint  `json:"vwap"`
	CVDSlope    market.IndicatorPoint  `json:"cvd_slope"`
	LastPrice   float64                `json:"last_price"`
	Candles     []market.Candle        `json:"-"`
	GeneratedAt time.Time              `json:"generated_at"`
}

// LatestCVD returns the final CVD point, or a gap when the curve is empty.
func (s *Set) LatestCVD() market.IndicatorPoint {
	if len(s.CVD) == 0 {
		return market.IndicatorPoint{}
	}
	return s.CVD[len(s.CVD)-1]
}

// LatestDeltaOIPct returns the most recent valid ΔOI% point.
func (s *Set) LatestDeltaOIPct() market.IndicatorPoint {
	return LatestDeltaOI(s.DeltaOIPct)
}

// Engine computes derived indicators from raw market records. Computations
// are pure transformations over immutable input slices; the only state is
// the read-through cache tiers.
type Engine struct {
	store   store.MarketStore
	local   *cache.TTLCache
	shared  *cache.RedisCache
	cfg     Config
	metrics *telemetry.Registry
	log     zerolog.Logger
}

// NewEngine creates an indicator engine. shared may be nil to run without
// the Redis tier.
func NewEngine(marketStore store.MarketStore, shared *cache.RedisCache, cfg Config, logger zerolog.Logger) *Engine {
	if cfg.EMAPeriod <= 0 {
		cfg.EMAPeriod = 50
	}
	if cfg.ADXPeriod <= 0 {
		cfg.ADXPeriod = 14
	}
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = 30 * time.Second
	}
	return &Engine{
		store:   marketStore,
		local:   cache.NewTTLCache(4096),
		shared:  shared,
		cfg:     cfg,
		metrics: telemetry.Default(),
		log:     logger.With().Str("component", "indicator").Logger(),
	}
}

func cacheKey(symbol string, timeframe time.Duration, window market.Window, session market.Session) string {
	return fmt.Sprintf("ind:%s:%s:%d:%d:%s",
		symbol, timeframe, window.From.UnixNano(), window.To.UnixNano(), session)
}

// setEnvelope is the shared-tier wire form. Set.Candles is json:"-" to
// keep API responses candle-free, so the cache round trip must carry the
// candles separately for the setup detectors.
type setEnvelope struct {
	Set     *Set            `json:"set"`
	Candles []market.Candle `json:"candles"`
}

// ComputeIndicators produces CVD, ΔOI% and volume profile curves plus the
// technical overlays the scorer consumes, for symbol over window bucketed
// to timeframe. A non-empty session restricts inputs to that wall-clock
// range before any aggregation.
func (e *Engine) ComputeIndicators(ctx context.Context, symbol string, timeframe time.Duration, window market.Window, session market.Session) (*Set, error) {
	start := time.Now()
	key := cacheKey(symbol, timeframe, window, session)

	if cached, ok := e.local.Get(key); ok {
		e.metrics.CacheHits.WithLabelValues("local").Inc()
		return cached.(*Set), nil
	}
	e.metrics.CacheMisses.WithLabelValues("local").Inc()

	if e.shared != nil {
		var env setEnvelope
		if ok, err := e.shared.Get(ctx, key, &env); err == nil && ok && env.Set != nil {
			env.Set.Candles = env.Candles
			e.metrics.CacheHits.WithLabelValues("redis").Inc()
			e.local.Set(key, env.Set, e.cfg.CacheTTL)
			return env.Set, nil
		}
		e.metrics.CacheMisses.WithLabelValues("redis").Inc()
	}

	set, err := e.compute(ctx, symbol, timeframe, window, session)
	if err != nil {
		e.metrics.ObserveIndicator(symbol, "error", time.Since(start))
		return nil, err
	}

	e.local.Set(key, set, e.cfg.CacheTTL)
	if e.shared != nil {
		if err := e.shared.Set(ctx, key, setEnvelope{Set: set, Candles: set.Candles}, e.cfg.CacheTTL); err != nil {
			// Shared tier is best-effort; duplicate computation is fine.
			e.log.Debug().Err(err).Str("key", key).Msg("shared cache store failed")
		}
	}

	e.metrics.ObserveIndicator(symbol, "ok", time.Since(start))
	return set, nil
}

func (e *Engine) compute(ctx context.Context, symbol string, timeframe time.Duration, window market.Window, session market.Session) (*Set, error) {
	fetchCtx, cancel := store.WithTimeout(ctx, e.cfg.StoreTimeout)
	defer cancel()

	trades, err := e.store.FetchTrades(fetchCtx, symbol, window)
	if err != nil {
		return nil, fmt.Errorf("fetch trades for %s: %w", symbol, market.ErrIndicatorUnavailable)
	}
	candles, err := e.store.FetchCandles(fetchCtx, symbol, window)
	if err != nil {
		return nil, fmt.Errorf("fetch candles for %s: %w", symbol, market.ErrIndicatorUnavailable)
	}
	openInterest, err := e.store.FetchOpenInterest(fetchCtx, symbol, window)
	if err != nil {
		return nil, fmt.Errorf("fetch open interest for %s: %w", symbol, market.ErrIndicatorUnavailable)
	}

	total := len(trades) + len(candles) + len(openInterest)
	if total == 0 {
		if known, ok := e.store.(interface{ Known(string) bool }); !ok || !known.Known(symbol) {
			return nil, fmt.Errorf("%s: %w", symbol, market.ErrUnknownSymbol)
		}
	}
	if total < 2 {
		return nil, fmt.Errorf("%s: %d points in window: %w", symbol, total, market.ErrInsufficientData)
	}

	sessionCandles := filterCandles(candles, session)
	closes := make([]float64, 0, len(sessionCandles))
	for _, c := range sessionCandles {
		closes = append(closes, c.Close)
	}

	set := &Set{
		Symbol:      symbol,
		Timeframe:   timeframe,
		Window:      window,
		Session:     session,
		CVD:         ComputeCVD(trades, timeframe, window, session),
		DeltaOIPct:  ComputeDeltaOI(openInterest, window, session),
		Profile:     BuildProfile(trades, e.cfg.Profile, window, session),
		Candles:     sessionCandles,
		GeneratedAt: time.Now().UTC(),
	}
	set.CVDSlope = CVDSlope(set.CVD)

	if len(closes) > 0 {
		set.LastPrice = closes[len(closes)-1]
		lastAt := sessionCandles[len(sessionCandles)-1].BucketStart
		if ema, ok := EMA(closes, e.cfg.EMAPeriod); ok {
			set.EMA = market.Point(lastAt, ema)
		}
		if adx, ok := ADX(closes, e.cfg.ADXPeriod); ok {
			set.ADX = market.Point(lastAt, adx)
		}
		if vwap, ok := SessionVWAP(sessionCandles); ok {
			set.VWAP = market.Point(lastAt, vwap)
		}
	}

	e.log.Debug().
		Str("symbol", symbol).
		Int("trades", len(trades)).
		Int("candles", len(candles)).
		Int("oi", len(openInterest)).
		Msg("indicators computed")

	return set, nil
}

func filterCandles(candles []market.Candle, session market.Session) []market.Candle {
	if session == "" {
		return candles
	}
	var out []market.Candle
	for _, c := range candles {
		if market.DetermineSession(c.BucketStart) == session {
			out = append(out, c)
		}
	}
	return out
}
