package market

import (
	"time"
)

// Candle is a single OHLCV bucket. BucketStart is aligned to the timeframe
// grid; within a symbol+timeframe, BucketStart values are strictly
// increasing and unique.
type Candle struct {
	Symbol      string    `json:"symbol" db:"symbol"`
	BucketStart time.Time `json:"bucket_start" db:"bucket_start"`
	Open        float64   `json:"open" db:"open"`
	High        float64   `json:"high" db:"high"`
	Low         float64   `json:"low" db:"low"`
	Close       float64   `json:"close" db:"close"`
	Volume      float64   `json:"volume" db:"volume"`
}

// Trade is an individual trade print. Trades are ordered by (Time, ID);
// duplicate IDs are ignored on ingestion.
type Trade struct {
	Symbol       string    `json:"symbol" db:"symbol"`
	Time         time.Time `json:"time" db:"ts"`
	ID           int64     `json:"id" db:"trade_id"`
	Price        float64   `json:"price" db:"price"`
	Quantity     float64   `json:"quantity" db:"qty"`
	IsBuyerMaker bool      `json:"is_buyer_maker" db:"is_buyer_maker"`
}

// SignedQuantity returns the taker-signed volume contribution of the trade:
// positive for taker buys, negative for taker sells.
func (t Trade) SignedQuantity() float64 {
	if t.IsBuyerMaker {
		// Buyer was the maker, so the aggressor sold.
		return -t.Quantity
	}
	return t.Quantity
}

// OpenInterestSnapshot is a point-in-time open interest observation.
// Snapshots are monotonic in time per symbol.
type OpenInterestSnapshot struct {
	Symbol       string    `json:"symbol" db:"symbol"`
	Time         time.Time `json:"time" db:"ts"`
	OpenInterest float64   `json:"open_interest" db:"open_interest"`
}

// FundingRecord is a funding-rate observation for a perpetual contract.
type FundingRecord struct {
	Symbol string    `json:"symbol" db:"symbol"`
	Time   time.Time `json:"time" db:"ts"`
	Rate   float64   `json:"rate" db:"rate"`
}

// IndicatorPoint is the common shape for scalar overlay series (CVD,
// ΔOI%, ...). Valid=false marks an explicit "no data" gap, which
// aggregations must keep distinct from a literal zero.
type IndicatorPoint struct {
	Time  time.Time `json:"time"`
	Value float64   `json:"value"`
	Valid bool      `json:"valid"`
}

// Point builds a valid indicator point.
func Point(ts time.Time, value float64) IndicatorPoint {
	return IndicatorPoint{Time: ts, Value: value, Valid: true}
}

// Gap builds an explicit-gap indicator point.
func Gap(ts time.Time) IndicatorPoint {
	return IndicatorPoint{Time: ts, Valid: false}
}

// VolumeProfileBin is one price level of a volume profile.
type VolumeProfileBin struct {
	Price  float64 `json:"price"`
	Volume float64 `json:"volume"`
}

// VolumeProfile aggregates traded volume by price level over a session
// window. VAH/VAL bound the value area around the POC; LVNs are low-volume
// levels in ascending price order.
type VolumeProfile struct {
	VAH  float64            `json:"vah"`
	VAL  float64            `json:"val"`
	POC  float64            `json:"poc"`
	LVNs []float64          `json:"lvns"`
	Bins []VolumeProfileBin `json:"bins"`
}

// Window is a half-open-free time range [From, To] used for all windowed
// queries and computations.
type Window struct {
	From time.Time `json:"from"`
	To   time.Time `json:"to"`
}

// Contains reports whether ts falls inside the window (inclusive bounds).
func (w Window) Contains(ts time.Time) bool {
	return !ts.Before(w.From) && !ts.After(w.To)
}

// Duration returns the window length.
func (w Window) Duration() time.Duration {
	return w.To.Sub(w.From)
}
