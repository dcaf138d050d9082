package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/apellar/marketpulse/internal/domain/market"
	"github.com/apellar/marketpulse/internal/store"
)

// SignalStore is the append-only in-memory signal store. It owns the
// sequential id generator; per-symbol creation is serialized by symbol
// locks so cooldown de-duplication holds under concurrent triggers.
type SignalStore struct {
	mu      sync.RWMutex
	signals []market.Signal
	nextID  int64

	symbolMu sync.Mutex
	symbols  map[string]*sync.Mutex
}

// NewSignalStore creates an empty signal store with ids starting at 1.
func NewSignalStore() *SignalStore {
	return &SignalStore{nextID: 1, symbols: make(map[string]*sync.Mutex)}
}

func (s *SignalStore) symbolLock(symbol string) *sync.Mutex {
	s.symbolMu.Lock()
	defer s.symbolMu.Unlock()
	mu, ok := s.symbols[symbol]
	if !ok {
		mu = &sync.Mutex{}
		s.symbols[symbol] = mu
	}
	return mu
}

// Append persists sig with the next sequential id unless a signal for the
// same symbol+setup already exists inside the cooldown window.
func (s *SignalStore) Append(ctx context.Context, sig *market.Signal, cooldown time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	lock := s.symbolLock(sig.Symbol)
	lock.Lock()
	defer lock.Unlock()

	s.mu.Lock()
	defer s.mu.Unlock()

	if cooldown > 0 {
		floor := sig.GeneratedAt.Add(-cooldown)
		for i := len(s.signals) - 1; i >= 0; i-- {
			prev := s.signals[i]
			if prev.Symbol != sig.Symbol || prev.Setup != sig.Setup {
				continue
			}
			if prev.GeneratedAt.After(floor) {
				return fmt.Errorf("%s/%s within %s of signal %d: %w",
					sig.Symbol, sig.Setup, cooldown, prev.ID, store.ErrCooldown)
			}
			break
		}
	}

	sig.ID = s.nextID
	s.nextID++
	if sig.Status == "" {
		sig.Status = market.StatusPending
	}
	s.signals = append(s.signals, *sig)
	return nil
}

// List returns window-filtered signals in generation order (ascending id),
// ties by symbol lexical order. Empty symbol matches all symbols.
func (s *SignalStore) List(ctx context.Context, symbol string, window market.Window) ([]market.Signal, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []market.Signal
	for _, sig := range s.signals {
		if symbol != "" && sig.Symbol != symbol {
			continue
		}
		if !window.Contains(sig.GeneratedAt) {
			continue
		}
		out = append(out, sig)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].GeneratedAt.Equal(out[j].GeneratedAt) {
			if out[i].Symbol != out[j].Symbol {
				return out[i].Symbol < out[j].Symbol
			}
			return out[i].ID < out[j].ID
		}
		return out[i].GeneratedAt.Before(out[j].GeneratedAt)
	})
	return out, nil
}

// Resolve moves a pending signal to a terminal status. Re-resolving to the
// same status is a no-op so backtests stay idempotent.
func (s *SignalStore) Resolve(ctx context.Context, id int64, status market.SignalStatus) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if !status.Terminal() {
		return fmt.Errorf("cannot resolve signal %d to non-terminal status %q", id, status)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.signals {
		if s.signals[i].ID != id {
			continue
		}
		if s.signals[i].Status.Terminal() {
			if s.signals[i].Status == status {
				return nil
			}
			return fmt.Errorf("signal %d is %s: %w", id, s.signals[i].Status, store.ErrTerminal)
		}
		s.signals[i].Status = status
		return nil
	}
	return fmt.Errorf("signal %d not found", id)
}

// Fingerprint identifies the symbol's signal set: last id plus resolved
// count is enough to detect appends and status transitions.
func (s *SignalStore) Fingerprint(ctx context.Context, symbol string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	var lastID int64
	var total, resolved int
	for _, sig := range s.signals {
		if symbol != "" && sig.Symbol != symbol {
			continue
		}
		total++
		if sig.ID > lastID {
			lastID = sig.ID
		}
		if sig.Status.Terminal() {
			resolved++
		}
	}
	return fmt.Sprintf("%s:%d:%d:%d", symbol, lastID, total, resolved), nil
}
