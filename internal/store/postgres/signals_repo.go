package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"hash/fnv"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/apellar/marketpulse/internal/domain/market"
	"github.com/apellar/marketpulse/internal/store"
)

// SignalRepo implements store.SignalStore on PostgreSQL. Per-symbol
// serialization uses a transaction-scoped advisory lock so concurrent
// evaluators cannot slip past the cooldown check.
type SignalRepo struct {
	db      *sqlx.DB
	timeout time.Duration
}

// NewSignalRepo creates a PostgreSQL signal repository.
func NewSignalRepo(db *sqlx.DB, timeout time.Duration) *SignalRepo {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &SignalRepo{db: db, timeout: timeout}
}

// signalRow is the wire shape between the signals table and the domain.
type signalRow struct {
	ID          int64     `db:"id"`
	Symbol      string    `db:"symbol"`
	GeneratedAt time.Time `db:"generated_at"`
	Setup       string    `db:"setup"`
	Score       int       `db:"score"`
	Tier        string    `db:"tier"`
	Session     string    `db:"session"`
	EntryPrice  float64   `db:"entry_price"`
	Trigger     []byte    `db:"trigger"`
	Status      string    `db:"status"`
	Notes       string    `db:"notes"`
}

func (r signalRow) toDomain() (market.Signal, error) {
	sig := market.Signal{
		ID:          r.ID,
		Symbol:      r.Symbol,
		GeneratedAt: r.GeneratedAt,
		Setup:       market.SetupType(r.Setup),
		Score:       r.Score,
		Tier:        market.ConfidenceTier(r.Tier),
		Session:     market.Session(r.Session),
		EntryPrice:  r.EntryPrice,
		Status:      market.SignalStatus(r.Status),
		Notes:       r.Notes,
	}
	if len(r.Trigger) > 0 {
		if err := json.Unmarshal(r.Trigger, &sig.Trigger); err != nil {
			return market.Signal{}, fmt.Errorf("decode trigger for signal %d: %w", r.ID, err)
		}
	}
	return sig, nil
}

// symbolLockKey derives a stable advisory lock key for a symbol.
func symbolLockKey(symbol string) int64 {
	h := fnv.New64a()
	h.Write([]byte(symbol))
	return int64(h.Sum64())
}

// Append persists a new signal under a per-symbol advisory lock, failing
// with store.ErrCooldown when a same symbol+setup signal exists inside the
// cooldown window.
func (r *SignalRepo) Append(ctx context.Context, sig *market.Signal, cooldown time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	triggerJSON, err := json.Marshal(sig.Trigger)
	if err != nil {
		return fmt.Errorf("encode trigger: %w", err)
	}

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin signal append: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock($1)`, symbolLockKey(sig.Symbol)); err != nil {
		return fmt.Errorf("acquire symbol lock for %s: %w", sig.Symbol, err)
	}

	if cooldown > 0 {
		var conflict bool
		err := tx.GetContext(ctx, &conflict, `
			SELECT EXISTS (
				SELECT 1 FROM signals
				WHERE symbol = $1 AND setup = $2
				  AND generated_at > $3 AND generated_at <= $4
			)`, sig.Symbol, string(sig.Setup), sig.GeneratedAt.Add(-cooldown), sig.GeneratedAt)
		if err != nil {
			return fmt.Errorf("cooldown check for %s: %w", sig.Symbol, err)
		}
		if conflict {
			return fmt.Errorf("%s %s within %s: %w", sig.Symbol, sig.Setup, cooldown, store.ErrCooldown)
		}
	}

	err = tx.QueryRowxContext(ctx, `
		INSERT INTO signals (symbol, generated_at, setup, score, tier, session, entry_price, trigger, status, notes)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING id`,
		sig.Symbol, sig.GeneratedAt, string(sig.Setup), sig.Score, string(sig.Tier),
		string(sig.Session), sig.EntryPrice, triggerJSON, string(sig.Status), sig.Notes).
		Scan(&sig.ID)
	if err != nil {
		return fmt.Errorf("insert signal for %s: %w", sig.Symbol, err)
	}

	return tx.Commit()
}

// List returns signals generated inside the window, in generation order
// with cross-symbol ties broken lexically. An empty symbol matches all.
func (r *SignalRepo) List(ctx context.Context, symbol string, window market.Window) ([]market.Signal, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	query := `
		SELECT id, symbol, generated_at, setup, score, tier, session, entry_price, trigger, status, notes
		FROM signals
		WHERE generated_at >= $1 AND generated_at <= $2`
	args := []interface{}{window.From, window.To}
	if symbol != "" {
		query += ` AND symbol = $3`
		args = append(args, symbol)
	}
	query += ` ORDER BY generated_at ASC, symbol ASC, id ASC`

	var rows []signalRow
	if err := r.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("query signals: %w", err)
	}

	out := make([]market.Signal, 0, len(rows))
	for _, row := range rows {
		sig, err := row.toDomain()
		if err != nil {
			return nil, err
		}
		out = append(out, sig)
	}
	return out, nil
}

// Resolve transitions a pending signal to a terminal status. Re-resolving
// to the same terminal status is a no-op; to a different one an error.
func (r *SignalRepo) Resolve(ctx context.Context, id int64, status market.SignalStatus) error {
	if !status.Terminal() {
		return fmt.Errorf("status %q is not terminal", status)
	}
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	var current string
	err := r.db.GetContext(ctx, &current, `SELECT status FROM signals WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("signal %d not found", id)
	}
	if err != nil {
		return fmt.Errorf("load signal %d: %w", id, err)
	}

	if market.SignalStatus(current).Terminal() {
		if market.SignalStatus(current) == status {
			return nil
		}
		return fmt.Errorf("signal %d is %s: %w", id, current, store.ErrTerminal)
	}

	res, err := r.db.ExecContext(ctx, `
		UPDATE signals SET status = $1 WHERE id = $2 AND status = $3`,
		string(status), id, string(market.StatusPending))
	if err != nil {
		return fmt.Errorf("resolve signal %d: %w", id, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		// Lost the race to another resolver; the stored status wins.
		return nil
	}
	return nil
}

// Fingerprint identifies the current signal set for a symbol.
func (r *SignalRepo) Fingerprint(ctx context.Context, symbol string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	var fp struct {
		LastID   int64 `db:"last_id"`
		Total    int64 `db:"total"`
		Resolved int64 `db:"resolved"`
	}
	err := r.db.GetContext(ctx, &fp, `
		SELECT COALESCE(MAX(id), 0) AS last_id,
		       COUNT(*) AS total,
		       COUNT(*) FILTER (WHERE status <> 'pending') AS resolved
		FROM signals WHERE symbol = $1`, symbol)
	if err != nil {
		return "", fmt.Errorf("fingerprint signals for %s: %w", symbol, err)
	}
	return fmt.Sprintf("%s:%d:%d:%d", symbol, fp.LastID, fp.Total, fp.Resolved), nil
}

var _ store.SignalStore = (*SignalRepo)(nil)
