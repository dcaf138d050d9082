package indicator

import (
	"math"

	"github.com/apellar/marketpulse/internal/domain/market"
)

// ComputeDeltaOI computes the percentage change of open interest between
// consecutive snapshots: (oi[t] - oi[t-1]) / oi[t-1] * 100, rounded to two
// decimals. The first point in the window, and any point whose predecessor
// is zero, is an explicit gap, never a zero and never a division error.
func ComputeDeltaOI(snapshots []market.OpenInterestSnapshot, window market.Window, session market.Session) []market.IndicatorPoint {
	var filtered []market.OpenInterestSnapshot
	for _, oi := range snapshots {
		if !window.Contains(oi.Time) {
			continue
		}
		if session != "" && market.DetermineSession(oi.Time) != session {
			continue
		}
		filtered = append(filtered, oi)
	}
	if len(filtered) == 0 {
		return nil
	}

	points := make([]market.IndicatorPoint, 0, len(filtered))
	points = append(points, market.Gap(filtered[0].Time))
	for i := 1; i < len(filtered); i++ {
		prev := filtered[i-1].OpenInterest
		if prev == 0 {
			points = append(points, market.Gap(filtered[i].Time))
			continue
		}
		pct := (filtered[i].OpenInterest - prev) / prev * 100.0
		points = append(points, market.Point(filtered[i].Time, round2(pct)))
	}
	return points
}

// LatestDeltaOI returns the most recent valid ΔOI% point, or a gap when
// none exists.
func LatestDeltaOI(points []market.IndicatorPoint) market.IndicatorPoint {
	for i := len(points) - 1; i >= 0; i-- {
		if points[i].Valid {
			return points[i]
		}
	}
	if len(points) > 0 {
		return market.Gap(points[len(points)-1].Time)
	}
	return market.IndicatorPoint{}
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
