package postgres

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
)

// schema is the full DDL, idempotent so startup can apply it every run.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS candles (
		symbol       TEXT             NOT NULL,
		bucket_start TIMESTAMPTZ      NOT NULL,
		open         DOUBLE PRECISION NOT NULL,
		high         DOUBLE PRECISION NOT NULL,
		low          DOUBLE PRECISION NOT NULL,
		close        DOUBLE PRECISION NOT NULL,
		volume       DOUBLE PRECISION NOT NULL,
		PRIMARY KEY (symbol, bucket_start)
	)`,
	`CREATE TABLE IF NOT EXISTS trades (
		symbol         TEXT             NOT NULL,
		ts             TIMESTAMPTZ      NOT NULL,
		trade_id       BIGINT           NOT NULL,
		price          DOUBLE PRECISION NOT NULL,
		qty            DOUBLE PRECISION NOT NULL,
		is_buyer_maker BOOLEAN          NOT NULL,
		PRIMARY KEY (symbol, trade_id)
	)`,
	`CREATE INDEX IF NOT EXISTS trades_symbol_ts_idx ON trades (symbol, ts)`,
	`CREATE TABLE IF NOT EXISTS open_interest (
		symbol        TEXT             NOT NULL,
		ts            TIMESTAMPTZ      NOT NULL,
		open_interest DOUBLE PRECISION NOT NULL,
		PRIMARY KEY (symbol, ts)
	)`,
	`CREATE TABLE IF NOT EXISTS funding (
		symbol TEXT             NOT NULL,
		ts     TIMESTAMPTZ      NOT NULL,
		rate   DOUBLE PRECISION NOT NULL,
		PRIMARY KEY (symbol, ts)
	)`,
	`CREATE TABLE IF NOT EXISTS signals (
		id           BIGSERIAL        PRIMARY KEY,
		symbol       TEXT             NOT NULL,
		generated_at TIMESTAMPTZ      NOT NULL,
		setup        TEXT             NOT NULL,
		score        INT              NOT NULL,
		tier         TEXT             NOT NULL,
		session      TEXT             NOT NULL,
		entry_price  DOUBLE PRECISION NOT NULL,
		trigger      JSONB            NOT NULL DEFAULT '{}',
		status       TEXT             NOT NULL DEFAULT 'pending',
		notes        TEXT             NOT NULL DEFAULT ''
	)`,
	`CREATE INDEX IF NOT EXISTS signals_symbol_generated_idx ON signals (symbol, generated_at)`,
}

// EnsureSchema applies the schema statements in order.
func EnsureSchema(ctx context.Context, db *sqlx.DB) error {
	for _, stmt := range schema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("apply schema: %w", err)
		}
	}
	return nil
}
