package signal

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/apellar/marketpulse/internal/domain/market"
	"github.com/apellar/marketpulse/internal/indicator"
)

// strongSet builds an indicator set that maxes both trend and flow.
func strongSet() *indicator.Set {
	base := time.Date(2026, 8, 30, 14, 0, 0, 0, time.UTC)

	// Steady small CVD steps then one huge step: high z-score.
	cvd := []market.IndicatorPoint{market.Point(base, 0)}
	value := 0.0
	for i := 1; i < 10; i++ {
		value += 10
		cvd = append(cvd, market.Point(base.Add(time.Duration(i)*5*time.Minute), value))
	}
	value += 500
	cvd = append(cvd, market.Point(base.Add(50*time.Minute), value))

	set := &indicator.Set{
		Symbol:    "BTCUSDT",
		LastPrice: 102,
		CVD:       cvd,
		EMA:       market.Point(base, 100), // price 2% above EMA, aligned long
		ADX:       market.Point(base, 40),  // strong trend
	}
	set.CVDSlope = indicator.CVDSlope(cvd)
	return set
}

func TestScoreMaxIsSeven(t *testing.T) {
	b := Score(strongSet(), market.SessionNewYork, DefaultScoreConfig())
	assert.Equal(t, 3, b.Trend)
	assert.Equal(t, 3, b.Flow)
	assert.Equal(t, 3, b.Session)
	assert.Equal(t, 7, b.Total)
}

func TestScoreSessionTable(t *testing.T) {
	cfg := DefaultScoreConfig()
	set := strongSet()

	// trend 3 + flow 3 = 6; session adds floor(score/3).
	assert.Equal(t, 7, Score(set, market.SessionNewYork, cfg).Total)
	assert.Equal(t, 6, Score(set, market.SessionLondon, cfg).Total)
	assert.Equal(t, 6, Score(set, market.SessionAsia, cfg).Total)
}

func TestScoreEmptySetIsZeroFloor(t *testing.T) {
	set := &indicator.Set{Symbol: "BTCUSDT"}
	b := Score(set, market.SessionAsia, DefaultScoreConfig())
	assert.Equal(t, 0, b.Trend)
	assert.Equal(t, 0, b.Flow)
	// Session alone contributes 1*(1/3), floored away.
	assert.Equal(t, 0, b.Total)
}

func TestScoreTierBands(t *testing.T) {
	assert.Equal(t, market.TierLow, market.TierForScore(0))
	assert.Equal(t, market.TierLow, market.TierForScore(2))
	assert.Equal(t, market.TierMedium, market.TierForScore(3))
	assert.Equal(t, market.TierMedium, market.TierForScore(5))
	assert.Equal(t, market.TierHigh, market.TierForScore(6))
	assert.Equal(t, market.TierHigh, market.TierForScore(7))
}

func TestTrendScoreMisalignedFarPrice(t *testing.T) {
	set := strongSet()
	// Price far below EMA while flow reads long: misaligned and outside
	// the tolerance band, no EMA points. ADX still grants one.
	set.LastPrice = 90
	set.EMA = market.Point(set.EMA.Time, 100)

	b := Score(set, market.SessionAsia, DefaultScoreConfig())
	assert.Equal(t, 1, b.Trend)
}

func TestFlowScoreBands(t *testing.T) {
	base := time.Date(2026, 8, 30, 14, 0, 0, 0, time.UTC)

	// Uniform steps: last step is ~average, z below 0.5 -> flow 0.
	cvd := []market.IndicatorPoint{}
	for i := 0; i < 10; i++ {
		cvd = append(cvd, market.Point(base.Add(time.Duration(i)*5*time.Minute), float64(10*((i%2)*2-1))))
	}
	set := &indicator.Set{Symbol: "BTCUSDT", CVD: cvd}
	set.CVDSlope = indicator.CVDSlope(cvd)
	b := Score(set, market.SessionAsia, DefaultScoreConfig())
	assert.LessOrEqual(t, b.Flow, 2)

	// Constant CVD: zero variance means no flow evidence.
	flat := []market.IndicatorPoint{
		market.Point(base, 5),
		market.Point(base.Add(5*time.Minute), 5),
		market.Point(base.Add(10*time.Minute), 5),
	}
	set = &indicator.Set{Symbol: "BTCUSDT", CVD: flat}
	set.CVDSlope = indicator.CVDSlope(flat)
	b = Score(set, market.SessionAsia, DefaultScoreConfig())
	assert.Equal(t, 0, b.Flow)
}

func TestDeltaOIZFeedsFlow(t *testing.T) {
	base := time.Date(2026, 8, 30, 14, 0, 0, 0, time.UTC)

	// Small ΔOI% noise then a large final move.
	points := []market.IndicatorPoint{
		market.Gap(base),
		market.Point(base.Add(5*time.Minute), 0.1),
		market.Point(base.Add(10*time.Minute), -0.1),
		market.Point(base.Add(15*time.Minute), 0.1),
		market.Point(base.Add(20*time.Minute), 3.0),
	}
	set := &indicator.Set{Symbol: "BTCUSDT", DeltaOIPct: points}

	b := Score(set, market.SessionAsia, DefaultScoreConfig())
	assert.Equal(t, 3, b.Flow)
}
