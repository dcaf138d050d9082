package market

import (
	"time"
)

// SetupType classifies the market structure that triggered a signal.
type SetupType string

const (
	SetupSqueeze    SetupType = "squeeze"
	SetupReversal   SetupType = "reversal"
	SetupAbsorption SetupType = "absorption"
)

// ConfidenceTier buckets the 0-7 composite score into coarse bands.
type ConfidenceTier string

const (
	TierLow    ConfidenceTier = "low"    // score 0-2
	TierMedium ConfidenceTier = "medium" // score 3-5
	TierHigh   ConfidenceTier = "high"   // score 6-7
)

// TierForScore maps a composite score to its confidence tier.
func TierForScore(score int) ConfidenceTier {
	switch {
	case score >= 6:
		return TierHigh
	case score >= 3:
		return TierMedium
	default:
		return TierLow
	}
}

// SignalStatus is the backtest resolution state of a signal. Pending is the
// only non-terminal state; once resolved a signal is immutable.
type SignalStatus string

const (
	StatusPending SignalStatus = "pending"
	StatusWon     SignalStatus = "won"
	StatusLost    SignalStatus = "lost"
	StatusExpired SignalStatus = "expired"
)

// Terminal reports whether the status can no longer change.
func (s SignalStatus) Terminal() bool {
	return s == StatusWon || s == StatusLost || s == StatusExpired
}

// TriggerSnapshot embeds the indicator values that fired the signal, kept
// for audit alongside the signal itself. Fields are nil when the
// underlying series had no valid reading at trigger time; a gap is never
// recorded as zero.
type TriggerSnapshot struct {
	DeltaOIPct *float64 `json:"delta_oi_pct"`
	CVD        *float64 `json:"cvd"`
}

// Signal is a scored trade setup. IDs are assigned sequentially by the
// signal store; listing order is generation order with cross-symbol ties
// broken by symbol lexical order.
type Signal struct {
	ID          int64           `json:"id" db:"id"`
	Symbol      string          `json:"symbol" db:"symbol"`
	GeneratedAt time.Time       `json:"generated_at" db:"generated_at"`
	Setup       SetupType       `json:"setup" db:"setup"`
	Score       int             `json:"score" db:"score"`
	Tier        ConfidenceTier  `json:"tier" db:"tier"`
	Session     Session         `json:"session" db:"session"`
	EntryPrice  float64         `json:"entry_price" db:"entry_price"`
	Trigger     TriggerSnapshot `json:"trigger"`
	Status      SignalStatus    `json:"status" db:"status"`
	Notes       string          `json:"notes,omitempty" db:"notes"`
}

// BacktestResult summarises forward-replay performance over a window.
// The statistic pointers are nil when SampleSize is zero.
type BacktestResult struct {
	Window      Window   `json:"window"`
	HitRate     *float64 `json:"hit_rate"`
	Expectancy  *float64 `json:"expectancy"`
	MaxDrawdown *float64 `json:"max_drawdown"`
	SampleSize  int      `json:"sample_size"`
	Wins        int      `json:"wins"`
	Losses      int      `json:"losses"`
	Expired     int      `json:"expired"`
}

// EmptyBacktestResult is the zero-sample result shape consumers receive
// when no signals fall inside the window.
func EmptyBacktestResult(w Window) *BacktestResult {
	return &BacktestResult{Window: w}
}
