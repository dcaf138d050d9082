package indicator

import (
	"math"
	"sort"

	"github.com/apellar/marketpulse/internal/domain/market"
)

// ProfileConfig tunes volume profile construction.
type ProfileConfig struct {
	// TickSize is the price bin width. Levels are floor(price/tick)*tick.
	TickSize float64 `yaml:"tick_size"`
	// ValueAreaFraction is the share of total volume the VAH/VAL band must
	// cover, default 0.70.
	ValueAreaFraction float64 `yaml:"value_area_fraction"`
	// LVNThreshold marks levels as low-volume nodes when their volume is
	// below this fraction of the POC volume, default 0.35.
	LVNThreshold float64 `yaml:"lvn_threshold"`
}

// DefaultProfileConfig returns the standard profile parameters.
func DefaultProfileConfig() ProfileConfig {
	return ProfileConfig{TickSize: 1.0, ValueAreaFraction: 0.70, LVNThreshold: 0.35}
}

func (c ProfileConfig) normalized() ProfileConfig {
	if c.TickSize <= 0 {
		c.TickSize = 1.0
	}
	if c.ValueAreaFraction <= 0 || c.ValueAreaFraction > 1 {
		c.ValueAreaFraction = 0.70
	}
	if c.LVNThreshold <= 0 || c.LVNThreshold >= 1 {
		c.LVNThreshold = 0.35
	}
	return c
}

// BuildProfile partitions window trade volume by price level and derives
// POC, the VAH/VAL value area, and low-volume nodes.
//
// POC is the maximum-volume level (ties broken toward the lower price).
// The value area is the smallest band around POC whose cumulative volume
// reaches ValueAreaFraction of the total, grown outward one level at a
// time; when both neighbours are candidates the side adding more volume
// wins, with equal volume going to the higher price. LVNs are local minima
// of level volume below LVNThreshold of the POC volume, ascending price.
func BuildProfile(trades []market.Trade, cfg ProfileConfig, window market.Window, session market.Session) *market.VolumeProfile {
	cfg = cfg.normalized()

	volumes := make(map[float64]float64)
	for _, t := range trades {
		if !window.Contains(t.Time) {
			continue
		}
		if session != "" && market.DetermineSession(t.Time) != session {
			continue
		}
		level := math.Floor(t.Price/cfg.TickSize) * cfg.TickSize
		volumes[level] += t.Quantity
	}
	if len(volumes) == 0 {
		return nil
	}

	levels := make([]float64, 0, len(volumes))
	for level := range volumes {
		levels = append(levels, level)
	}
	sort.Float64s(levels)

	total := 0.0
	pocIdx := 0
	for i, level := range levels {
		total += volumes[level]
		if volumes[level] > volumes[levels[pocIdx]] {
			pocIdx = i
		}
	}
	poc := levels[pocIdx]
	pocVolume := volumes[poc]

	lo, hi := pocIdx, pocIdx
	covered := pocVolume
	target := total * cfg.ValueAreaFraction
	for covered < target && (lo > 0 || hi < len(levels)-1) {
		var leftVol, rightVol float64
		hasLeft := lo > 0
		hasRight := hi < len(levels)-1
		if hasLeft {
			leftVol = volumes[levels[lo-1]]
		}
		if hasRight {
			rightVol = volumes[levels[hi+1]]
		}
		switch {
		case hasLeft && (!hasRight || leftVol > rightVol):
			lo--
			covered += leftVol
		default:
			// Right side wins on greater volume and on ties (higher price).
			hi++
			covered += rightVol
		}
	}

	var lvns []float64
	for i, level := range levels {
		vol := volumes[level]
		if vol > pocVolume*cfg.LVNThreshold {
			continue
		}
		leftHigher := i == 0 || volumes[levels[i-1]] > vol
		rightHigher := i == len(levels)-1 || volumes[levels[i+1]] > vol
		if leftHigher && rightHigher {
			lvns = append(lvns, level)
		}
	}

	bins := make([]market.VolumeProfileBin, 0, len(levels))
	for _, level := range levels {
		bins = append(bins, market.VolumeProfileBin{Price: level, Volume: volumes[level]})
	}

	return &market.VolumeProfile{
		VAH:  levels[hi],
		VAL:  levels[lo],
		POC:  poc,
		LVNs: lvns,
		Bins: bins,
	}
}
