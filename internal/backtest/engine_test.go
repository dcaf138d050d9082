package backtest

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/apellar/marketpulse/internal/domain/market"
	"github.com/apellar/marketpulse/internal/store/memory"
)

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.ProfitTargetPct = 0.01
	cfg.StopLossPct = 0.01
	cfg.HorizonBuckets = 2
	cfg.Timeframe = 5 * time.Minute
	return cfg
}

func fptr(v float64) *float64 { return &v }

func seedSignal(t *testing.T, signals *memory.SignalStore, symbol string, at time.Time, entry, cvd float64) market.Signal {
	t.Helper()
	sig := market.Signal{
		Symbol:      symbol,
		GeneratedAt: at,
		Setup:       market.SetupSqueeze,
		Score:       5,
		Tier:        market.TierMedium,
		Session:     market.SessionLondon,
		EntryPrice:  entry,
		Trigger:     market.TriggerSnapshot{DeltaOIPct: fptr(-1.2), CVD: fptr(cvd)},
		Status:      market.StatusPending,
	}
	require.NoError(t, signals.Append(context.Background(), &sig, 0))
	return sig
}

func candle(at time.Time, open, high, low, close float64) market.Candle {
	return market.Candle{
		Symbol:      "BTCUSDT",
		BucketStart: at,
		Open:        open,
		High:        high,
		Low:         low,
		Close:       close,
		Volume:      100,
	}
}

func TestRunBacktestWin(t *testing.T) {
	now := time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)
	entryAt := now.Add(-time.Hour)

	marketStore := memory.NewMarketStore()
	signals := memory.NewSignalStore()
	seedSignal(t, signals, "BTCUSDT", entryAt, 100, 500)

	// Long signal: second bucket trades through 101 without touching 99.
	marketStore.AddCandles(
		candle(entryAt, 100, 100.4, 99.8, 100.2),
		candle(entryAt.Add(5*time.Minute), 100.2, 101.3, 100.0, 101.1),
	)

	eng := NewEngine(marketStore, signals, testConfig(), zerolog.Nop())
	res, err := eng.RunBacktestAt(context.Background(), "BTCUSDT", 7, now)
	require.NoError(t, err)

	assert.Equal(t, 1, res.SampleSize)
	assert.Equal(t, 1, res.Wins)
	require.NotNil(t, res.HitRate)
	assert.Equal(t, 1.0, *res.HitRate)
	require.NotNil(t, res.Expectancy)
	assert.InDelta(t, 0.01, *res.Expectancy, 1e-12)
	require.NotNil(t, res.MaxDrawdown)
	assert.Equal(t, 0.0, *res.MaxDrawdown)

	// Resolution is persisted.
	listed, err := signals.List(context.Background(), "BTCUSDT", res.Window)
	require.NoError(t, err)
	require.Len(t, listed, 1)
	assert.Equal(t, market.StatusWon, listed[0].Status)
}

func TestRunBacktestStopFirstInSameBucket(t *testing.T) {
	now := time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)
	entryAt := now.Add(-time.Hour)

	marketStore := memory.NewMarketStore()
	signals := memory.NewSignalStore()
	seedSignal(t, signals, "BTCUSDT", entryAt, 100, 500)

	// One bucket spans both the 101 target and the 99 stop.
	marketStore.AddCandles(candle(entryAt, 100, 101.5, 98.5, 100.0))

	eng := NewEngine(marketStore, signals, testConfig(), zerolog.Nop())
	res, err := eng.RunBacktestAt(context.Background(), "BTCUSDT", 7, now)
	require.NoError(t, err)

	assert.Equal(t, 1, res.Losses)
	assert.Equal(t, 0, res.Wins)
	require.NotNil(t, res.Expectancy)
	assert.InDelta(t, -0.01, *res.Expectancy, 1e-12)
	require.NotNil(t, res.MaxDrawdown)
	assert.InDelta(t, 0.01, *res.MaxDrawdown, 1e-12)
}

func TestRunBacktestExpiredCountsAsZeroReturnLoss(t *testing.T) {
	now := time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)
	entryAt := now.Add(-time.Hour)

	marketStore := memory.NewMarketStore()
	signals := memory.NewSignalStore()
	seedSignal(t, signals, "BTCUSDT", entryAt, 100, 500)

	// Price never reaches either level inside the horizon.
	marketStore.AddCandles(
		candle(entryAt, 100, 100.3, 99.7, 100.1),
		candle(entryAt.Add(5*time.Minute), 100.1, 100.4, 99.8, 100.0),
	)

	eng := NewEngine(marketStore, signals, testConfig(), zerolog.Nop())
	res, err := eng.RunBacktestAt(context.Background(), "BTCUSDT", 7, now)
	require.NoError(t, err)

	assert.Equal(t, 1, res.Expired)
	assert.Equal(t, 1, res.SampleSize)
	require.NotNil(t, res.HitRate)
	assert.Equal(t, 0.0, *res.HitRate)
	// Expired contributes a zero return to the expectancy denominator.
	require.NotNil(t, res.Expectancy)
	assert.Equal(t, 0.0, *res.Expectancy)
}

func TestRunBacktestShortDirection(t *testing.T) {
	now := time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)
	entryAt := now.Add(-time.Hour)

	marketStore := memory.NewMarketStore()
	signals := memory.NewSignalStore()
	seedSignal(t, signals, "BTCUSDT", entryAt, 100, -500)

	// Sell-flow signal wins when price falls through 99.
	marketStore.AddCandles(
		candle(entryAt, 100, 100.2, 99.5, 99.7),
		candle(entryAt.Add(5*time.Minute), 99.7, 99.9, 98.8, 99.0),
	)

	eng := NewEngine(marketStore, signals, testConfig(), zerolog.Nop())
	res, err := eng.RunBacktestAt(context.Background(), "BTCUSDT", 7, now)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Wins)
}

func TestRunBacktestIdempotent(t *testing.T) {
	now := time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)
	entryAt := now.Add(-time.Hour)

	marketStore := memory.NewMarketStore()
	signals := memory.NewSignalStore()
	seedSignal(t, signals, "BTCUSDT", entryAt, 100, 500)
	seedSignal(t, signals, "BTCUSDT", entryAt.Add(10*time.Minute), 101, -200)

	marketStore.AddCandles(
		candle(entryAt, 100, 101.2, 99.9, 101.0),
		candle(entryAt.Add(10*time.Minute), 101, 101.3, 99.9, 100.1),
		candle(entryAt.Add(15*time.Minute), 100.1, 100.5, 99.8, 100.0),
	)

	eng := NewEngine(marketStore, signals, testConfig(), zerolog.Nop())
	first, err := eng.RunBacktestAt(context.Background(), "BTCUSDT", 7, now)
	require.NoError(t, err)
	second, err := eng.RunBacktestAt(context.Background(), "BTCUSDT", 7, now)
	require.NoError(t, err)

	assert.Equal(t, first, second)
}

func TestRunBacktestCacheInvalidatedByNewSignal(t *testing.T) {
	now := time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)
	entryAt := now.Add(-2 * time.Hour)

	marketStore := memory.NewMarketStore()
	signals := memory.NewSignalStore()
	seedSignal(t, signals, "BTCUSDT", entryAt, 100, 500)
	marketStore.AddCandles(candle(entryAt, 100, 101.2, 99.9, 101.0))

	eng := NewEngine(marketStore, signals, testConfig(), zerolog.Nop())
	first, err := eng.RunBacktestAt(context.Background(), "BTCUSDT", 7, now)
	require.NoError(t, err)
	assert.Equal(t, 1, first.SampleSize)

	later := entryAt.Add(time.Hour)
	seedSignal(t, signals, "BTCUSDT", later, 100, 500)
	marketStore.AddCandles(candle(later, 100, 101.2, 99.9, 101.0))

	second, err := eng.RunBacktestAt(context.Background(), "BTCUSDT", 7, now)
	require.NoError(t, err)
	assert.Equal(t, 2, second.SampleSize)
}

// leakyStore ignores the requested window and returns whatever candles
// it holds, simulating a storage layer that breaks its window contract.
type leakyStore struct {
	candles []market.Candle
}

func (s *leakyStore) FetchCandles(context.Context, string, market.Window) ([]market.Candle, error) {
	return s.candles, nil
}

func (s *leakyStore) FetchTrades(context.Context, string, market.Window) ([]market.Trade, error) {
	return nil, nil
}

func (s *leakyStore) FetchOpenInterest(context.Context, string, market.Window) ([]market.OpenInterestSnapshot, error) {
	return nil, nil
}

func (s *leakyStore) FetchFunding(context.Context, string, market.Window) ([]market.FundingRecord, error) {
	return nil, nil
}

func TestRunBacktestAbortsOnCandleOutsideHorizon(t *testing.T) {
	now := time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)
	entryAt := now.Add(-time.Hour)

	signals := memory.NewSignalStore()
	seedSignal(t, signals, "BTCUSDT", entryAt, 100, 500)

	// Horizon is 2 buckets of 5m; a candle an hour past entry is outside it.
	leak := &leakyStore{candles: []market.Candle{
		candle(entryAt.Add(time.Hour), 100, 100.2, 99.8, 100.1),
	}}
	eng := NewEngine(leak, signals, testConfig(), zerolog.Nop())
	_, err := eng.RunBacktestAt(context.Background(), "BTCUSDT", 7, now)
	require.Error(t, err)
	assert.True(t, errors.Is(err, market.ErrCausalityViolation))

	// A candle before the signal's entry aborts the same way.
	leak.candles = []market.Candle{
		candle(entryAt.Add(-5*time.Minute), 100, 100.2, 99.8, 100.1),
	}
	_, err = eng.RunBacktestAt(context.Background(), "BTCUSDT", 7, now)
	require.Error(t, err)
	assert.True(t, errors.Is(err, market.ErrCausalityViolation))
}

func TestRunBacktestNoSignals(t *testing.T) {
	eng := NewEngine(memory.NewMarketStore(), memory.NewSignalStore(), testConfig(), zerolog.Nop())
	_, err := eng.RunBacktest(context.Background(), "BTCUSDT", 7)
	require.Error(t, err)
	assert.True(t, errors.Is(err, market.ErrNoSignalsInWindow))
}

func TestRunBacktestRejectsNonPositiveWindow(t *testing.T) {
	eng := NewEngine(memory.NewMarketStore(), memory.NewSignalStore(), testConfig(), zerolog.Nop())
	_, err := eng.RunBacktest(context.Background(), "BTCUSDT", 0)
	require.Error(t, err)
}

func TestMaxDrawdownCompounds(t *testing.T) {
	// +1%, -1%, -1%: peak 1.01, trough 1.01 * 0.99 * 0.99.
	dd := maxDrawdown([]float64{0.01, -0.01, -0.01})
	assert.InDelta(t, 1-0.99*0.99, dd, 1e-12)

	assert.Equal(t, 0.0, maxDrawdown(nil))
	assert.Equal(t, 0.0, maxDrawdown([]float64{0.01, 0.01}))
}
