package signal

import (
	"math"

	"github.com/apellar/marketpulse/internal/domain/market"
	"github.com/apellar/marketpulse/internal/indicator"
)

// ScoreConfig tunes the composite scorer weights. Each sub-score spans
// 0-3; the composite is floor(trend*TrendWeight + flow*FlowWeight +
// session*SessionWeight), clamped to 0-7.
type ScoreConfig struct {
	TrendWeight   float64 `yaml:"trend_weight"`
	FlowWeight    float64 `yaml:"flow_weight"`
	SessionWeight float64 `yaml:"session_weight"`
	// ADXTrendMin is the trend-strength floor granting the ADX point.
	ADXTrendMin float64 `yaml:"adx_trend_min"`
}

// DefaultScoreConfig returns weights that bound the composite at 7:
// 3*1.0 + 3*1.0 + 3*(1/3) = 7.
func DefaultScoreConfig() ScoreConfig {
	return ScoreConfig{
		TrendWeight:   1.0,
		FlowWeight:    1.0,
		SessionWeight: 1.0 / 3.0,
		ADXTrendMin:   25,
	}
}

// Breakdown records the sub-scores behind a composite score, embedded in
// signal notes for audit.
type Breakdown struct {
	Trend   int `json:"trend"`
	Flow    int `json:"flow"`
	Session int `json:"session"`
	Total   int `json:"total"`
}

// sessionScores is the fixed session weighting table. New York carries the
// most flow, so it scores highest.
var sessionScores = map[market.Session]int{
	market.SessionNewYork: 3,
	market.SessionLondon:  2,
	market.SessionAsia:    1,
}

// Score computes the 0-7 composite confidence score for the current
// indicator set.
func Score(set *indicator.Set, session market.Session, cfg ScoreConfig) Breakdown {
	trend := trendScore(set, cfg)
	flow := flowScore(set)
	sess := sessionScores[session]

	weighted := float64(trend)*cfg.TrendWeight +
		float64(flow)*cfg.FlowWeight +
		float64(sess)*cfg.SessionWeight
	total := int(math.Floor(weighted))
	if total < 0 {
		total = 0
	}
	if total > 7 {
		total = 7
	}
	return Breakdown{Trend: trend, Flow: flow, Session: sess, Total: total}
}

// trendScore measures price/moving-average alignment: 0-2 from the EMA
// relationship, plus 1 when ADX confirms a real trend.
func trendScore(set *indicator.Set, cfg ScoreConfig) int {
	score := 0
	if set.EMA.Valid && set.LastPrice > 0 {
		diff := set.LastPrice - set.EMA.Value
		aligned := diff >= 0 == (direction(set) >= 0)
		ratio := math.Abs(diff) / set.LastPrice
		switch {
		case aligned && ratio >= 0.005:
			score = 2
		case aligned:
			score = 1
		case ratio <= 0.0035:
			score = 1
		}
	}
	if set.ADX.Valid && set.ADX.Value >= cfg.ADXTrendMin {
		score++
	}
	if score > 3 {
		score = 3
	}
	return score
}

// flowScore measures CVD/ΔOI% magnitude against volatility-normalised
// recent history: the z-score of the latest move over the window's own
// distribution, banded into 0-3.
func flowScore(set *indicator.Set) int {
	z := 0.0
	if zc, ok := cvdZ(set); ok {
		z = zc
	}
	if zo, ok := deltaOIZ(set); ok && zo > z {
		z = zo
	}
	switch {
	case z >= 2.0:
		return 3
	case z >= 1.0:
		return 2
	case z >= 0.5:
		return 1
	default:
		return 0
	}
}

func cvdZ(set *indicator.Set) (float64, bool) {
	if len(set.CVD) < 3 || !set.CVDSlope.Valid {
		return 0, false
	}
	diffs := make([]float64, 0, len(set.CVD)-1)
	for i := 1; i < len(set.CVD); i++ {
		diffs = append(diffs, set.CVD[i].Value-set.CVD[i-1].Value)
	}
	_, std := indicator.MeanStd(diffs)
	if std == 0 {
		return 0, false
	}
	return math.Abs(set.CVDSlope.Value) / std, true
}

func deltaOIZ(set *indicator.Set) (float64, bool) {
	latest := set.LatestDeltaOIPct()
	if !latest.Valid {
		return 0, false
	}
	var values []float64
	for _, p := range set.DeltaOIPct {
		if p.Valid {
			values = append(values, p.Value)
		}
	}
	if len(values) < 3 {
		return 0, false
	}
	_, std := indicator.MeanStd(values)
	if std == 0 {
		return 0, false
	}
	return math.Abs(latest.Value) / std, true
}

// direction infers trade direction from aggressor flow: non-negative CVD
// reads long, negative reads short.
func direction(set *indicator.Set) float64 {
	if cvd := set.LatestCVD(); cvd.Valid && cvd.Value < 0 {
		return -1
	}
	return 1
}
