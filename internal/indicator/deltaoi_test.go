package indicator

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/apellar/marketpulse/internal/domain/market"
)

func oiSnap(ts time.Time, oi float64) market.OpenInterestSnapshot {
	return market.OpenInterestSnapshot{Symbol: "BTCUSDT", Time: ts, OpenInterest: oi}
}

func TestComputeDeltaOIPercentChange(t *testing.T) {
	base := time.Date(2026, 8, 30, 10, 0, 0, 0, time.UTC)
	window := market.Window{From: base, To: base.Add(time.Hour)}

	snaps := []market.OpenInterestSnapshot{
		oiSnap(base, 1000),
		oiSnap(base.Add(5*time.Minute), 1020),
		oiSnap(base.Add(10*time.Minute), 1010),
	}

	points := ComputeDeltaOI(snaps, window, "")
	require.Len(t, points, 3)

	// First point has no predecessor: explicit gap, not zero.
	assert.False(t, points[0].Valid)

	require.True(t, points[1].Valid)
	assert.Equal(t, 2.0, points[1].Value)

	require.True(t, points[2].Valid)
	assert.Equal(t, -0.98, points[2].Value)
}

func TestComputeDeltaOIZeroPredecessorIsGap(t *testing.T) {
	base := time.Date(2026, 8, 30, 10, 0, 0, 0, time.UTC)
	window := market.Window{From: base, To: base.Add(time.Hour)}

	snaps := []market.OpenInterestSnapshot{
		oiSnap(base, 0),
		oiSnap(base.Add(5*time.Minute), 500),
		oiSnap(base.Add(10*time.Minute), 1000),
	}

	points := ComputeDeltaOI(snaps, window, "")
	require.Len(t, points, 3)
	assert.False(t, points[0].Valid)
	assert.False(t, points[1].Valid) // previous OI was zero
	require.True(t, points[2].Valid)
	assert.Equal(t, 100.0, points[2].Value)
}

func TestComputeDeltaOIEmptyWindow(t *testing.T) {
	base := time.Date(2026, 8, 30, 10, 0, 0, 0, time.UTC)
	window := market.Window{From: base, To: base.Add(time.Hour)}

	assert.Nil(t, ComputeDeltaOI(nil, window, ""))
	assert.Nil(t, ComputeDeltaOI([]market.OpenInterestSnapshot{oiSnap(base.Add(-time.Hour), 100)}, window, ""))
}

func TestLatestDeltaOISkipsGaps(t *testing.T) {
	base := time.Date(2026, 8, 30, 10, 0, 0, 0, time.UTC)

	points := []market.IndicatorPoint{
		market.Gap(base),
		market.Point(base.Add(5*time.Minute), 1.5),
		market.Gap(base.Add(10 * time.Minute)),
	}

	latest := LatestDeltaOI(points)
	require.True(t, latest.Valid)
	assert.Equal(t, 1.5, latest.Value)

	allGaps := []market.IndicatorPoint{market.Gap(base)}
	assert.False(t, LatestDeltaOI(allGaps).Valid)
	assert.False(t, LatestDeltaOI(nil).Valid)
}
