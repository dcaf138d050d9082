// Package postgres backs the store interfaces with PostgreSQL via sqlx.
package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/apellar/marketpulse/internal/domain/market"
	"github.com/apellar/marketpulse/internal/store"
)

const uniqueViolation = "23505"

// MarketRepo implements store.MarketStore on PostgreSQL.
type MarketRepo struct {
	db      *sqlx.DB
	timeout time.Duration
}

// NewMarketRepo creates a PostgreSQL market data repository.
func NewMarketRepo(db *sqlx.DB, timeout time.Duration) *MarketRepo {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &MarketRepo{db: db, timeout: timeout}
}

// Open connects to PostgreSQL and verifies the connection.
func Open(dsn string) (*sqlx.DB, error) {
	db, err := sqlx.Connect("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	db.SetMaxOpenConns(16)
	db.SetMaxIdleConns(4)
	db.SetConnMaxLifetime(30 * time.Minute)
	return db, nil
}

// InsertCandles upserts candle buckets. Re-ingesting a bucket overwrites
// it, keeping (symbol, bucket_start) unique.
func (r *MarketRepo) InsertCandles(ctx context.Context, candles []market.Candle) error {
	if len(candles) == 0 {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin candle insert: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO candles (symbol, bucket_start, open, high, low, close, volume)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (symbol, bucket_start) DO UPDATE
		SET open = EXCLUDED.open, high = EXCLUDED.high, low = EXCLUDED.low,
		    close = EXCLUDED.close, volume = EXCLUDED.volume`)
	if err != nil {
		return fmt.Errorf("prepare candle insert: %w", err)
	}
	defer stmt.Close()

	for _, c := range candles {
		if _, err := stmt.ExecContext(ctx, c.Symbol, c.BucketStart, c.Open, c.High, c.Low, c.Close, c.Volume); err != nil {
			return fmt.Errorf("insert candle %s@%s: %w", c.Symbol, c.BucketStart.Format(time.RFC3339), err)
		}
	}
	return tx.Commit()
}

// InsertTrades appends trade prints. Duplicate (symbol, trade_id) rows are
// skipped so replayed feeds stay idempotent.
func (r *MarketRepo) InsertTrades(ctx context.Context, trades []market.Trade) error {
	if len(trades) == 0 {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin trade insert: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO trades (symbol, ts, trade_id, price, qty, is_buyer_maker)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (symbol, trade_id) DO NOTHING`)
	if err != nil {
		return fmt.Errorf("prepare trade insert: %w", err)
	}
	defer stmt.Close()

	for _, t := range trades {
		if _, err := stmt.ExecContext(ctx, t.Symbol, t.Time, t.ID, t.Price, t.Quantity, t.IsBuyerMaker); err != nil {
			return fmt.Errorf("insert trade %s/%d: %w", t.Symbol, t.ID, err)
		}
	}
	return tx.Commit()
}

// InsertOpenInterest appends open interest snapshots.
func (r *MarketRepo) InsertOpenInterest(ctx context.Context, snaps []market.OpenInterestSnapshot) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	for _, s := range snaps {
		_, err := r.db.ExecContext(ctx, `
			INSERT INTO open_interest (symbol, ts, open_interest)
			VALUES ($1, $2, $3)
			ON CONFLICT (symbol, ts) DO NOTHING`, s.Symbol, s.Time, s.OpenInterest)
		if err != nil {
			if pqErr, ok := err.(*pq.Error); ok && pqErr.Code == uniqueViolation {
				continue
			}
			return fmt.Errorf("insert open interest %s@%s: %w", s.Symbol, s.Time.Format(time.RFC3339), err)
		}
	}
	return nil
}

// InsertFunding appends funding rate records.
func (r *MarketRepo) InsertFunding(ctx context.Context, records []market.FundingRecord) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	for _, f := range records {
		_, err := r.db.ExecContext(ctx, `
			INSERT INTO funding (symbol, ts, rate)
			VALUES ($1, $2, $3)
			ON CONFLICT (symbol, ts) DO NOTHING`, f.Symbol, f.Time, f.Rate)
		if err != nil {
			return fmt.Errorf("insert funding %s@%s: %w", f.Symbol, f.Time.Format(time.RFC3339), err)
		}
	}
	return nil
}

// FetchCandles returns candles inside the window, ascending by bucket.
func (r *MarketRepo) FetchCandles(ctx context.Context, symbol string, window market.Window) ([]market.Candle, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	var out []market.Candle
	err := r.db.SelectContext(ctx, &out, `
		SELECT symbol, bucket_start, open, high, low, close, volume
		FROM candles
		WHERE symbol = $1 AND bucket_start >= $2 AND bucket_start <= $3
		ORDER BY bucket_start ASC`, symbol, window.From, window.To)
	if err != nil {
		return nil, fmt.Errorf("query candles for %s: %w", symbol, err)
	}
	return out, nil
}

// FetchTrades returns trades inside the window, ascending by (ts, trade_id).
func (r *MarketRepo) FetchTrades(ctx context.Context, symbol string, window market.Window) ([]market.Trade, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	var out []market.Trade
	err := r.db.SelectContext(ctx, &out, `
		SELECT symbol, ts, trade_id, price, qty, is_buyer_maker
		FROM trades
		WHERE symbol = $1 AND ts >= $2 AND ts <= $3
		ORDER BY ts ASC, trade_id ASC`, symbol, window.From, window.To)
	if err != nil {
		return nil, fmt.Errorf("query trades for %s: %w", symbol, err)
	}
	return out, nil
}

// FetchOpenInterest returns open interest snapshots inside the window.
func (r *MarketRepo) FetchOpenInterest(ctx context.Context, symbol string, window market.Window) ([]market.OpenInterestSnapshot, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	var out []market.OpenInterestSnapshot
	err := r.db.SelectContext(ctx, &out, `
		SELECT symbol, ts, open_interest
		FROM open_interest
		WHERE symbol = $1 AND ts >= $2 AND ts <= $3
		ORDER BY ts ASC`, symbol, window.From, window.To)
	if err != nil {
		return nil, fmt.Errorf("query open interest for %s: %w", symbol, err)
	}
	return out, nil
}

// FetchFunding returns funding records inside the window.
func (r *MarketRepo) FetchFunding(ctx context.Context, symbol string, window market.Window) ([]market.FundingRecord, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	var out []market.FundingRecord
	err := r.db.SelectContext(ctx, &out, `
		SELECT symbol, ts, rate
		FROM funding
		WHERE symbol = $1 AND ts >= $2 AND ts <= $3
		ORDER BY ts ASC`, symbol, window.From, window.To)
	if err != nil {
		return nil, fmt.Errorf("query funding for %s: %w", symbol, err)
	}
	return out, nil
}

// Known reports whether the symbol has any recorded candles or trades.
func (r *MarketRepo) Known(symbol string) bool {
	ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
	defer cancel()

	var exists bool
	err := r.db.GetContext(ctx, &exists, `
		SELECT EXISTS (SELECT 1 FROM candles WHERE symbol = $1)
		    OR EXISTS (SELECT 1 FROM trades WHERE symbol = $1)`, symbol)
	return err == nil && exists
}

var _ store.MarketStore = (*MarketRepo)(nil)
