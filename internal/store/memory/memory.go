// Package memory provides in-memory store implementations used by tests
// and file-seeded local runs. Writes are idempotent where the data model
// requires it (duplicate trade ids are ignored).
package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/apellar/marketpulse/internal/domain/market"
)

// MarketStore is an in-memory, read-optimized market data store.
type MarketStore struct {
	mu           sync.RWMutex
	candles      map[string][]market.Candle
	trades       map[string][]market.Trade
	tradeIDs     map[string]map[int64]struct{}
	openInterest map[string][]market.OpenInterestSnapshot
	funding      map[string][]market.FundingRecord
}

// NewMarketStore creates an empty in-memory market store.
func NewMarketStore() *MarketStore {
	return &MarketStore{
		candles:      make(map[string][]market.Candle),
		trades:       make(map[string][]market.Trade),
		tradeIDs:     make(map[string]map[int64]struct{}),
		openInterest: make(map[string][]market.OpenInterestSnapshot),
		funding:      make(map[string][]market.FundingRecord),
	}
}

// AddCandles appends candles, keeping bucket order per symbol.
func (s *MarketStore) AddCandles(candles ...market.Candle) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range candles {
		s.candles[c.Symbol] = append(s.candles[c.Symbol], c)
	}
	for sym := range s.candles {
		rows := s.candles[sym]
		sort.Slice(rows, func(i, j int) bool { return rows[i].BucketStart.Before(rows[j].BucketStart) })
	}
}

// AddTrades appends trades, ignoring duplicates by trade id per symbol.
func (s *MarketStore) AddTrades(trades ...market.Trade) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, t := range trades {
		seen, ok := s.tradeIDs[t.Symbol]
		if !ok {
			seen = make(map[int64]struct{})
			s.tradeIDs[t.Symbol] = seen
		}
		if _, dup := seen[t.ID]; dup {
			continue
		}
		seen[t.ID] = struct{}{}
		s.trades[t.Symbol] = append(s.trades[t.Symbol], t)
	}
	for sym := range s.trades {
		rows := s.trades[sym]
		sort.Slice(rows, func(i, j int) bool {
			if rows[i].Time.Equal(rows[j].Time) {
				return rows[i].ID < rows[j].ID
			}
			return rows[i].Time.Before(rows[j].Time)
		})
	}
}

// AddOpenInterest appends open interest snapshots in time order.
func (s *MarketStore) AddOpenInterest(snaps ...market.OpenInterestSnapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, oi := range snaps {
		s.openInterest[oi.Symbol] = append(s.openInterest[oi.Symbol], oi)
	}
	for sym := range s.openInterest {
		rows := s.openInterest[sym]
		sort.Slice(rows, func(i, j int) bool { return rows[i].Time.Before(rows[j].Time) })
	}
}

// AddFunding appends funding records in time order.
func (s *MarketStore) AddFunding(records ...market.FundingRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, f := range records {
		s.funding[f.Symbol] = append(s.funding[f.Symbol], f)
	}
	for sym := range s.funding {
		rows := s.funding[sym]
		sort.Slice(rows, func(i, j int) bool { return rows[i].Time.Before(rows[j].Time) })
	}
}

// Known reports whether any record kind exists for the symbol.
func (s *MarketStore) Known(symbol string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.candles[symbol]) > 0 || len(s.trades[symbol]) > 0 ||
		len(s.openInterest[symbol]) > 0 || len(s.funding[symbol]) > 0
}

func (s *MarketStore) FetchCandles(ctx context.Context, symbol string, window market.Window) ([]market.Candle, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []market.Candle
	for _, c := range s.candles[symbol] {
		if window.Contains(c.BucketStart) {
			out = append(out, c)
		}
	}
	return out, nil
}

func (s *MarketStore) FetchTrades(ctx context.Context, symbol string, window market.Window) ([]market.Trade, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []market.Trade
	for _, t := range s.trades[symbol] {
		if window.Contains(t.Time) {
			out = append(out, t)
		}
	}
	return out, nil
}

func (s *MarketStore) FetchOpenInterest(ctx context.Context, symbol string, window market.Window) ([]market.OpenInterestSnapshot, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []market.OpenInterestSnapshot
	for _, oi := range s.openInterest[symbol] {
		if window.Contains(oi.Time) {
			out = append(out, oi)
		}
	}
	return out, nil
}

func (s *MarketStore) FetchFunding(ctx context.Context, symbol string, window market.Window) ([]market.FundingRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []market.FundingRecord
	for _, f := range s.funding[symbol] {
		if window.Contains(f.Time) {
			out = append(out, f)
		}
	}
	return out, nil
}
