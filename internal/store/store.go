package store

import (
	"context"
	"errors"
	"time"

	"github.com/apellar/marketpulse/internal/domain/market"
)

// MarketStore supplies ordered time series for a symbol and window. All
// slices are returned sorted ascending by timestamp; ordering and
// uniqueness per (symbol, timestamp) are guaranteed by the storage layer.
// Implementations must honour context cancellation; the core bounds every
// call with a timeout and surfaces expiry as a retryable failure.
type MarketStore interface {
	FetchCandles(ctx context.Context, symbol string, window market.Window) ([]market.Candle, error)
	FetchTrades(ctx context.Context, symbol string, window market.Window) ([]market.Trade, error)
	FetchOpenInterest(ctx context.Context, symbol string, window market.Window) ([]market.OpenInterestSnapshot, error)
	FetchFunding(ctx context.Context, symbol string, window market.Window) ([]market.FundingRecord, error)
}

// SignalStore owns the append-only historical signal sequence and its
// id generator. Creation is serialized per symbol by implementations so
// the ordering and cooldown invariants hold under concurrent triggers.
type SignalStore interface {
	// Append persists a new signal, assigning its sequential id.
	// It fails when a signal for the same symbol+setup exists within the
	// cooldown window ending at sig.GeneratedAt.
	Append(ctx context.Context, sig *market.Signal, cooldown time.Duration) error

	// List returns signals generated inside the window, in generation
	// order, ties broken by symbol lexical order. An empty symbol matches
	// all symbols.
	List(ctx context.Context, symbol string, window market.Window) ([]market.Signal, error)

	// Resolve transitions a pending signal to a terminal status. Resolving
	// an already-terminal signal to a different status is an error.
	Resolve(ctx context.Context, id int64, status market.SignalStatus) error

	// Fingerprint identifies the current signal set for a symbol so
	// backtest caches can detect underlying changes.
	Fingerprint(ctx context.Context, symbol string) (string, error)
}

// ErrCooldown is returned by Append when a same symbol+setup signal is
// still inside the cooldown window. Suppressed candidates are dropped by
// callers, not persisted.
var ErrCooldown = errors.New("signal suppressed by cooldown")

// ErrTerminal is returned by Resolve when the signal already reached a
// terminal state.
var ErrTerminal = errors.New("signal already terminal")

// WithTimeout wraps a store call with a bounded deadline. A zero timeout
// leaves the context untouched.
func WithTimeout(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if timeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, timeout)
}
