package indicator

import (
	"sort"
	"time"

	"github.com/apellar/marketpulse/internal/domain/market"
)

// ComputeCVD aggregates trades into a cumulative volume delta curve,
// bucketed to the timeframe. The running sum resets at the start of the
// requested window (it is not globally cumulative) so windowed queries
// stay comparable across sessions.
//
// Sign convention: +quantity for taker buys, -quantity for taker sells,
// derived from IsBuyerMaker. Trades outside the window, or outside the
// session when a filter is set, are excluded before aggregation.
func ComputeCVD(trades []market.Trade, timeframe time.Duration, window market.Window, session market.Session) []market.IndicatorPoint {
	if timeframe <= 0 {
		timeframe = time.Minute
	}

	buckets := make(map[time.Time]float64)
	for _, t := range trades {
		if !window.Contains(t.Time) {
			continue
		}
		if session != "" && market.DetermineSession(t.Time) != session {
			continue
		}
		signed := t.SignedQuantity()
		if signed == 0 {
			continue
		}
		buckets[t.Time.Truncate(timeframe)] += signed
	}
	if len(buckets) == 0 {
		return nil
	}

	times := make([]time.Time, 0, len(buckets))
	for ts := range buckets {
		times = append(times, ts)
	}
	sort.Slice(times, func(i, j int) bool { return times[i].Before(times[j]) })

	points := make([]market.IndicatorPoint, 0, len(times))
	cumulative := 0.0
	for _, ts := range times {
		cumulative += buckets[ts]
		points = append(points, market.Point(ts, cumulative))
	}
	return points
}

// CVDSlope returns the last inter-bucket change of a CVD curve, skipping
// gap points. It returns a gap when fewer than two valid points exist.
func CVDSlope(points []market.IndicatorPoint) market.IndicatorPoint {
	var valid []market.IndicatorPoint
	for _, p := range points {
		if p.Valid {
			valid = append(valid, p)
		}
	}
	if len(valid) < 2 {
		var ts time.Time
		if len(valid) == 1 {
			ts = valid[0].Time
		}
		return market.Gap(ts)
	}
	last := valid[len(valid)-1]
	prev := valid[len(valid)-2]
	return market.Point(last.Time, last.Value-prev.Value)
}
