package market

import (
	"errors"
)

// Core error taxonomy. Callers match with errors.Is; producers wrap with
// fmt.Errorf("...: %w", Err...) to attach context.
var (
	// ErrInsufficientData means too few points exist in the window to
	// compute a statistic. Recoverable: retry later or widen the window.
	ErrInsufficientData = errors.New("insufficient data in window")

	// ErrUnknownSymbol means the store holds no records at all for the
	// requested symbol. Non-retryable configuration error.
	ErrUnknownSymbol = errors.New("unknown symbol")

	// ErrIndicatorUnavailable means a transient failure prevented reading
	// the store or computing current indicator values. Retryable with
	// backoff.
	ErrIndicatorUnavailable = errors.New("indicator unavailable")

	// ErrNoSignalsInWindow is a valid empty result for direct backtest
	// callers; the aggregator treats it as "insufficient data".
	ErrNoSignalsInWindow = errors.New("no signals in window")

	// ErrCausalityViolation is an internal invariant failure: a backtest
	// was handed data from outside a signal's [entry, entry+horizon]
	// range. Fatal for that computation; never produce a biased result.
	ErrCausalityViolation = errors.New("causality violation")
)

// Retryable reports whether the error class is worth retrying.
func Retryable(err error) bool {
	return errors.Is(err, ErrInsufficientData) || errors.Is(err, ErrIndicatorUnavailable)
}
