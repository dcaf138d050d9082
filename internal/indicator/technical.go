package indicator

import (
	"math"

	"github.com/apellar/marketpulse/internal/domain/market"
)

// EMA calculates an exponential moving average over closing values,
// seeding with the simple average of the first min(len, period) values.
// Returns false when values is empty.
func EMA(values []float64, period int) (float64, bool) {
	if len(values) == 0 {
		return 0, false
	}
	if period < 1 {
		period = 1
	}
	seed := period
	if len(values) < seed {
		seed = len(values)
	}
	sum := 0.0
	for _, v := range values[:seed] {
		sum += v
	}
	ema := sum / float64(seed)
	multiplier := 2.0 / float64(period+1)
	for _, v := range values[seed:] {
		ema = (v-ema)*multiplier + ema
	}
	return ema, true
}

// ADX approximates trend strength on a 0-100 scale from close-to-close
// moves. Directional moves and true range are EMA-smoothed with the same
// period; the result is |+DI - -DI| / (+DI + -DI) scaled to 100.
func ADX(closes []float64, period int) (float64, bool) {
	if len(closes) < 2 {
		return 0, false
	}
	n := len(closes) - 1
	upMoves := make([]float64, n)
	downMoves := make([]float64, n)
	trueRange := make([]float64, n)
	for i := 1; i < len(closes); i++ {
		change := closes[i] - closes[i-1]
		upMoves[i-1] = math.Max(change, 0)
		downMoves[i-1] = math.Max(-change, 0)
		trueRange[i-1] = math.Abs(change)
	}

	avgUp, _ := EMA(upMoves, period)
	avgDown, _ := EMA(downMoves, period)
	avgTR, _ := EMA(trueRange, period)
	if avgTR <= 0 {
		return 0, true
	}
	plusDI := avgUp / avgTR * 100
	minusDI := avgDown / avgTR * 100
	denom := plusDI + minusDI
	if denom < 1e-6 {
		denom = 1e-6
	}
	adx := math.Abs(plusDI-minusDI) / denom * 100
	return math.Max(0, math.Min(adx, 100)), true
}

// SessionVWAP is the volume-weighted average price over window candles.
// Returns false when no volume traded.
func SessionVWAP(candles []market.Candle) (float64, bool) {
	var priceVolume, volume float64
	for _, c := range candles {
		typical := (c.High + c.Low + c.Close) / 3
		priceVolume += typical * c.Volume
		volume += c.Volume
	}
	if volume <= 0 {
		return 0, false
	}
	return priceVolume / volume, true
}

// RangeCompression reports whether the high-low range narrowed over each
// of the last n consecutive candles. Needs n+1 candles.
func RangeCompression(candles []market.Candle, n int) bool {
	if n < 1 || len(candles) < n+1 {
		return false
	}
	tail := candles[len(candles)-n-1:]
	for i := 1; i < len(tail); i++ {
		if tail[i].High-tail[i].Low >= tail[i-1].High-tail[i-1].Low {
			return false
		}
	}
	return true
}

// MeanStd returns the population mean and standard deviation.
func MeanStd(values []float64) (mean, std float64) {
	if len(values) == 0 {
		return 0, 0
	}
	for _, v := range values {
		mean += v
	}
	mean /= float64(len(values))
	for _, v := range values {
		std += (v - mean) * (v - mean)
	}
	std = math.Sqrt(std / float64(len(values)))
	return mean, std
}
