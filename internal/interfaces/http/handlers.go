package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog"

	"github.com/apellar/marketpulse/internal/domain/market"
	"github.com/apellar/marketpulse/internal/indicator"
	"github.com/apellar/marketpulse/internal/metrics"
	"github.com/apellar/marketpulse/internal/store"
)

// IndicatorProvider is the slice of the indicator engine handlers need.
type IndicatorProvider interface {
	ComputeIndicators(ctx context.Context, symbol string, timeframe time.Duration, window market.Window, session market.Session) (*indicator.Set, error)
}

// Backtester runs windowed backtests.
type Backtester interface {
	RunBacktest(ctx context.Context, symbol string, windowDays int) (*market.BacktestResult, error)
}

// SnapshotBuilder assembles operational snapshots.
type SnapshotBuilder interface {
	BuildSnapshot(ctx context.Context, symbol string) (*metrics.Snapshot, error)
}

// Handlers holds the API handler set.
type Handlers struct {
	indicators IndicatorProvider
	signals    store.SignalStore
	backtests  Backtester
	snapshots  SnapshotBuilder
	feed       *SignalFeed
	timeframe  time.Duration
	log        zerolog.Logger
}

// NewHandlers wires the handler set.
func NewHandlers(indicators IndicatorProvider, signals store.SignalStore, backtests Backtester, snapshots SnapshotBuilder, feed *SignalFeed, timeframe time.Duration, logger zerolog.Logger) *Handlers {
	if timeframe <= 0 {
		timeframe = 5 * time.Minute
	}
	return &Handlers{
		indicators: indicators,
		signals:    signals,
		backtests:  backtests,
		snapshots:  snapshots,
		feed:       feed,
		timeframe:  timeframe,
		log:        logger.With().Str("component", "http.handlers").Logger(),
	}
}

type errorResponse struct {
	Error string `json:"error"`
}

func (h *Handlers) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.log.Warn().Err(err).Msg("encode response")
	}
}

func (h *Handlers) writeError(w http.ResponseWriter, status int, msg string) {
	h.writeJSON(w, status, errorResponse{Error: msg})
}

// statusFor maps domain errors to HTTP statuses.
func statusFor(err error) int {
	switch {
	case errors.Is(err, market.ErrUnknownSymbol):
		return http.StatusNotFound
	case errors.Is(err, market.ErrInsufficientData), errors.Is(err, market.ErrNoSignalsInWindow):
		return http.StatusUnprocessableEntity
	case errors.Is(err, market.ErrIndicatorUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// Health reports liveness.
func (h *Handlers) Health(w http.ResponseWriter, _ *http.Request) {
	h.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// NotFound is the fallback route.
func (h *Handlers) NotFound(w http.ResponseWriter, _ *http.Request) {
	h.writeError(w, http.StatusNotFound, "not found")
}

// Indicators serves the computed indicator set for a symbol. Query params:
// hours (lookback, default 4), session (optional filter).
func (h *Handlers) Indicators(w http.ResponseWriter, r *http.Request) {
	symbol := mux.Vars(r)["symbol"]

	hours := 4
	if raw := r.URL.Query().Get("hours"); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil || v <= 0 {
			h.writeError(w, http.StatusBadRequest, "hours must be a positive integer")
			return
		}
		hours = v
	}

	var session market.Session
	if raw := r.URL.Query().Get("session"); raw != "" {
		s, ok := market.ParseSession(raw)
		if !ok {
			h.writeError(w, http.StatusBadRequest, "session must be one of asia, london, new_york")
			return
		}
		session = s
	}

	now := time.Now().UTC()
	window := market.Window{From: now.Add(-time.Duration(hours) * time.Hour), To: now}

	set, err := h.indicators.ComputeIndicators(r.Context(), symbol, h.timeframe, window, session)
	if err != nil {
		h.writeError(w, statusFor(err), err.Error())
		return
	}
	h.writeJSON(w, http.StatusOK, set)
}

// Signals lists historical signals. Query params: symbol (optional),
// hours (lookback, default 24).
func (h *Handlers) Signals(w http.ResponseWriter, r *http.Request) {
	symbol := r.URL.Query().Get("symbol")

	hours := 24
	if raw := r.URL.Query().Get("hours"); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil || v <= 0 {
			h.writeError(w, http.StatusBadRequest, "hours must be a positive integer")
			return
		}
		hours = v
	}

	now := time.Now().UTC()
	window := market.Window{From: now.Add(-time.Duration(hours) * time.Hour), To: now}

	signals, err := h.signals.List(r.Context(), symbol, window)
	if err != nil {
		h.writeError(w, statusFor(err), err.Error())
		return
	}
	if signals == nil {
		signals = []market.Signal{}
	}
	h.writeJSON(w, http.StatusOK, signals)
}

// Backtest runs (or serves the cached) backtest for a symbol. Query param:
// days (window, default 7).
func (h *Handlers) Backtest(w http.ResponseWriter, r *http.Request) {
	symbol := mux.Vars(r)["symbol"]

	days := 7
	if raw := r.URL.Query().Get("days"); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil || v <= 0 {
			h.writeError(w, http.StatusBadRequest, "days must be a positive integer")
			return
		}
		days = v
	}

	result, err := h.backtests.RunBacktest(r.Context(), symbol, days)
	if errors.Is(err, market.ErrNoSignalsInWindow) {
		now := time.Now().UTC()
		h.writeJSON(w, http.StatusOK, market.EmptyBacktestResult(market.Window{From: now.AddDate(0, 0, -days), To: now}))
		return
	}
	if err != nil {
		h.writeError(w, statusFor(err), err.Error())
		return
	}
	h.writeJSON(w, http.StatusOK, result)
}

// Snapshot serves the operational metrics snapshot for a symbol.
func (h *Handlers) Snapshot(w http.ResponseWriter, r *http.Request) {
	symbol := mux.Vars(r)["symbol"]

	snap, err := h.snapshots.BuildSnapshot(r.Context(), symbol)
	if err != nil {
		h.writeError(w, statusFor(err), err.Error())
		return
	}
	h.writeJSON(w, http.StatusOK, snap)
}
