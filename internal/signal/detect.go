package signal

import (
	"math"

	"github.com/apellar/marketpulse/internal/domain/market"
	"github.com/apellar/marketpulse/internal/indicator"
)

// DetectConfig tunes the rule-based setup classifiers.
type DetectConfig struct {
	// Squeeze: ΔOI% and CVD must diverge in sign beyond these magnitudes
	// while the high-low range narrows over CompressionBuckets candles.
	SqueezeDeltaOIMin  float64 `yaml:"squeeze_delta_oi_min"`
	SqueezeCVDMin      float64 `yaml:"squeeze_cvd_min"`
	CompressionBuckets int     `yaml:"compression_buckets"`

	// Reversal: CVD slope inversion while price sits within BoundaryBandPct
	// of VAH or VAL.
	BoundaryBandPct float64 `yaml:"boundary_band_pct"`

	// Absorption: POC volume at least POCMultiple times the average level
	// volume without a proportional price move (last candle body within
	// MaxMovePct of its close).
	POCMultiple float64 `yaml:"poc_multiple"`
	MaxMovePct  float64 `yaml:"max_move_pct"`
}

// DefaultDetectConfig returns the standard detection thresholds.
func DefaultDetectConfig() DetectConfig {
	return DetectConfig{
		SqueezeDeltaOIMin:  0.35,
		SqueezeCVDMin:      100,
		CompressionBuckets: 3,
		BoundaryBandPct:    0.004,
		POCMultiple:        2.5,
		MaxMovePct:         0.002,
	}
}

// Classify runs the setup rules against the current indicator set and
// returns the matching setup. Rules are checked in squeeze, reversal,
// absorption order; the first match wins. A false result is the normal
// "no setup found" outcome, not an error.
func Classify(set *indicator.Set, cfg DetectConfig) (market.SetupType, bool) {
	if detectSqueeze(set, cfg) {
		return market.SetupSqueeze, true
	}
	if detectReversal(set, cfg) {
		return market.SetupReversal, true
	}
	if detectAbsorption(set, cfg) {
		return market.SetupAbsorption, true
	}
	return "", false
}

func detectSqueeze(set *indicator.Set, cfg DetectConfig) bool {
	deltaOI := set.LatestDeltaOIPct()
	cvd := set.LatestCVD()
	if !deltaOI.Valid || !cvd.Valid {
		return false
	}
	if math.Abs(deltaOI.Value) < cfg.SqueezeDeltaOIMin || math.Abs(cvd.Value) < cfg.SqueezeCVDMin {
		return false
	}
	// Divergence means open interest building against the aggressor flow.
	if deltaOI.Value*cvd.Value >= 0 {
		return false
	}
	return indicator.RangeCompression(set.Candles, cfg.CompressionBuckets)
}

func detectReversal(set *indicator.Set, cfg DetectConfig) bool {
	if set.Profile == nil || set.LastPrice <= 0 || len(set.CVD) < 3 {
		return false
	}
	n := len(set.CVD)
	prevSlope := set.CVD[n-2].Value - set.CVD[n-3].Value
	lastSlope := set.CVD[n-1].Value - set.CVD[n-2].Value
	if prevSlope*lastSlope >= 0 {
		return false
	}
	toVAH := math.Abs(set.LastPrice-set.Profile.VAH) / set.LastPrice
	toVAL := math.Abs(set.LastPrice-set.Profile.VAL) / set.LastPrice
	return toVAH <= cfg.BoundaryBandPct || toVAL <= cfg.BoundaryBandPct
}

func detectAbsorption(set *indicator.Set, cfg DetectConfig) bool {
	if set.Profile == nil || len(set.Profile.Bins) < 2 || len(set.Candles) == 0 {
		return false
	}
	var total, pocVolume float64
	for _, bin := range set.Profile.Bins {
		total += bin.Volume
		if bin.Price == set.Profile.POC {
			pocVolume = bin.Volume
		}
	}
	avg := total / float64(len(set.Profile.Bins))
	if avg <= 0 || pocVolume < avg*cfg.POCMultiple {
		return false
	}
	last := set.Candles[len(set.Candles)-1]
	if last.Close <= 0 {
		return false
	}
	move := math.Abs(last.Close-last.Open) / last.Close
	return move <= cfg.MaxMovePct
}
