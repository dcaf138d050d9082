package signal

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/apellar/marketpulse/internal/domain/market"
	"github.com/apellar/marketpulse/internal/indicator"
	"github.com/apellar/marketpulse/internal/store"
	"github.com/apellar/marketpulse/internal/telemetry"
)

// Publisher receives each persisted signal, in creation order. Delivery is
// fire-and-forget: implementations must never block the evaluator.
type Publisher interface {
	Publish(sig market.Signal)
}

// Config tunes signal evaluation.
type Config struct {
	Timeframe time.Duration `yaml:"timeframe"`
	Lookback  time.Duration `yaml:"lookback"`
	// Cooldown suppresses repeat symbol+setup signals. Zero derives it
	// from the timeframe (12 buckets).
	Cooldown time.Duration `yaml:"cooldown"`
	Detect   DetectConfig  `yaml:"detect"`
	Score    ScoreConfig   `yaml:"score"`
}

// DefaultEvaluatorConfig returns the standard evaluation parameters for a
// 5-minute timeframe.
func DefaultEvaluatorConfig() Config {
	return Config{
		Timeframe: 5 * time.Minute,
		Lookback:  4 * time.Hour,
		Detect:    DefaultDetectConfig(),
		Score:     DefaultScoreConfig(),
	}
}

// EffectiveCooldown resolves the cooldown window, deriving it from the
// timeframe when unset.
func (c Config) EffectiveCooldown() time.Duration {
	if c.Cooldown > 0 {
		return c.Cooldown
	}
	return 12 * c.Timeframe
}

// Evaluator turns indicator state into persisted, scored signals.
type Evaluator struct {
	engine  *indicator.Engine
	signals store.SignalStore
	pub     Publisher
	cfg     Config
	metrics *telemetry.Registry
	log     zerolog.Logger
}

// NewEvaluator creates a signal evaluator. pub may be nil when no outbound
// delivery is wired.
func NewEvaluator(engine *indicator.Engine, signals store.SignalStore, pub Publisher, cfg Config, logger zerolog.Logger) *Evaluator {
	if cfg.Timeframe <= 0 {
		cfg.Timeframe = 5 * time.Minute
	}
	if cfg.Lookback <= 0 {
		cfg.Lookback = 4 * time.Hour
	}
	return &Evaluator{
		engine:  engine,
		signals: signals,
		pub:     pub,
		cfg:     cfg,
		metrics: telemetry.Default(),
		log:     logger.With().Str("component", "signal").Logger(),
	}
}

// EvaluateSignals decides whether a new setup fired for symbol at asOf.
// A nil signal with nil error is the normal "no setup found" outcome;
// cooldown-suppressed candidates are likewise dropped without error.
func (ev *Evaluator) EvaluateSignals(ctx context.Context, symbol string, asOf time.Time) (*market.Signal, error) {
	window := market.Window{From: asOf.Add(-ev.cfg.Lookback), To: asOf}

	set, err := ev.engine.ComputeIndicators(ctx, symbol, ev.cfg.Timeframe, window, "")
	if err != nil {
		return nil, fmt.Errorf("evaluate %s: %w", symbol, err)
	}

	setup, ok := Classify(set, ev.cfg.Detect)
	if !ok {
		return nil, nil
	}

	session := market.DetermineSession(asOf)
	breakdown := Score(set, session, ev.cfg.Score)

	var trigger market.TriggerSnapshot
	if p := set.LatestDeltaOIPct(); p.Valid {
		v := p.Value
		trigger.DeltaOIPct = &v
	}
	if p := set.LatestCVD(); p.Valid {
		v := p.Value
		trigger.CVD = &v
	}

	notes, _ := json.Marshal(breakdown)
	sig := &market.Signal{
		Symbol:      symbol,
		GeneratedAt: asOf,
		Setup:       setup,
		Score:       breakdown.Total,
		Tier:        market.TierForScore(breakdown.Total),
		Session:     session,
		EntryPrice:  set.LastPrice,
		Trigger:     trigger,
		Status:      market.StatusPending,
		Notes:       string(notes),
	}

	if err := ev.signals.Append(ctx, sig, ev.cfg.EffectiveCooldown()); err != nil {
		if errors.Is(err, store.ErrCooldown) {
			ev.metrics.SignalsSuppressed.WithLabelValues(string(setup)).Inc()
			ev.log.Debug().Str("symbol", symbol).Str("setup", string(setup)).
				Msg("candidate suppressed by cooldown")
			return nil, nil
		}
		return nil, fmt.Errorf("persist signal for %s: %w", symbol, err)
	}

	ev.metrics.SignalsEmitted.WithLabelValues(string(setup), string(sig.Tier)).Inc()
	ev.log.Info().
		Int64("id", sig.ID).
		Str("symbol", symbol).
		Str("setup", string(setup)).
		Int("score", sig.Score).
		Str("tier", string(sig.Tier)).
		Float64("entry", sig.EntryPrice).
		Msg("signal emitted")

	if ev.pub != nil {
		ev.pub.Publish(*sig)
	}
	return sig, nil
}
