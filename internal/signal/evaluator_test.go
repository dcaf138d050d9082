package signal

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/apellar/marketpulse/internal/domain/market"
	"github.com/apellar/marketpulse/internal/indicator"
	"github.com/apellar/marketpulse/internal/store/memory"
)

type capturePublisher struct {
	mu  sync.Mutex
	got []market.Signal
}

func (p *capturePublisher) Publish(sig market.Signal) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.got = append(p.got, sig)
}

func (p *capturePublisher) signals() []market.Signal {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]market.Signal, len(p.got))
	copy(out, p.got)
	return out
}

// squeezeStore seeds market data that classifies as a squeeze at asOf:
// strong buy flow, open interest unwinding against it, narrowing ranges.
func squeezeStore(asOf time.Time) *memory.MarketStore {
	s := memory.NewMarketStore()
	start := asOf.Add(-50 * time.Minute)

	for i := 0; i < 10; i++ {
		at := start.Add(time.Duration(i) * 5 * time.Minute)
		spread := float64(10 - i)
		s.AddCandles(market.Candle{
			Symbol: "BTCUSDT", BucketStart: at,
			Open: 100, High: 100 + spread, Low: 100 - spread, Close: 100.2, Volume: 20,
		})
		s.AddTrades(market.Trade{
			Symbol: "BTCUSDT", Time: at.Add(time.Minute), ID: int64(i + 1),
			Price: 100, Quantity: 30, IsBuyerMaker: false,
		})
		s.AddOpenInterest(market.OpenInterestSnapshot{
			Symbol: "BTCUSDT", Time: at, OpenInterest: 2000 - float64(20*i),
		})
	}
	return s
}

func newTestEvaluator(store *memory.MarketStore, pub Publisher) (*Evaluator, *memory.SignalStore) {
	signals := memory.NewSignalStore()
	engine := indicator.NewEngine(store, nil, indicator.DefaultConfig(), zerolog.Nop())
	ev := NewEvaluator(engine, signals, pub, DefaultEvaluatorConfig(), zerolog.Nop())
	return ev, signals
}

func TestEvaluateSignalsEmitsSqueeze(t *testing.T) {
	asOf := time.Date(2026, 8, 30, 14, 0, 0, 0, time.UTC) // new_york
	pub := &capturePublisher{}
	ev, signals := newTestEvaluator(squeezeStore(asOf), pub)

	sig, err := ev.EvaluateSignals(context.Background(), "BTCUSDT", asOf)
	require.NoError(t, err)
	require.NotNil(t, sig)

	assert.Equal(t, int64(1), sig.ID)
	assert.Equal(t, market.SetupSqueeze, sig.Setup)
	assert.Equal(t, market.StatusPending, sig.Status)
	assert.Equal(t, market.SessionNewYork, sig.Session)
	assert.Equal(t, market.TierForScore(sig.Score), sig.Tier)
	assert.Equal(t, 100.2, sig.EntryPrice)
	require.NotNil(t, sig.Trigger.DeltaOIPct)
	require.NotNil(t, sig.Trigger.CVD)
	assert.Negative(t, *sig.Trigger.DeltaOIPct)
	assert.Positive(t, *sig.Trigger.CVD)

	// Notes carry the score breakdown.
	var b Breakdown
	require.NoError(t, json.Unmarshal([]byte(sig.Notes), &b))
	assert.Equal(t, sig.Score, b.Total)

	// Persisted and published.
	listed, err := signals.List(context.Background(), "BTCUSDT", market.Window{From: asOf.Add(-time.Hour), To: asOf})
	require.NoError(t, err)
	assert.Len(t, listed, 1)
	require.Len(t, pub.signals(), 1)
	assert.Equal(t, sig.ID, pub.signals()[0].ID)
}

func TestEvaluateSignalsCooldownSuppresses(t *testing.T) {
	asOf := time.Date(2026, 8, 30, 14, 0, 0, 0, time.UTC)
	pub := &capturePublisher{}
	ev, signals := newTestEvaluator(squeezeStore(asOf), pub)

	first, err := ev.EvaluateSignals(context.Background(), "BTCUSDT", asOf)
	require.NoError(t, err)
	require.NotNil(t, first)

	// Same setup five minutes later, inside the 12-bucket cooldown.
	later := asOf.Add(5 * time.Minute)
	second, err := ev.EvaluateSignals(context.Background(), "BTCUSDT", later)
	require.NoError(t, err)
	assert.Nil(t, second)

	listed, err := signals.List(context.Background(), "BTCUSDT", market.Window{From: asOf.Add(-time.Hour), To: later})
	require.NoError(t, err)
	assert.Len(t, listed, 1)
	assert.Len(t, pub.signals(), 1)
}

func TestEvaluateSignalsConcurrentSinglePersist(t *testing.T) {
	asOf := time.Date(2026, 8, 30, 14, 0, 0, 0, time.UTC)
	ev, signals := newTestEvaluator(squeezeStore(asOf), nil)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := ev.EvaluateSignals(context.Background(), "BTCUSDT", asOf)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	listed, err := signals.List(context.Background(), "BTCUSDT", market.Window{From: asOf.Add(-time.Hour), To: asOf})
	require.NoError(t, err)
	assert.Len(t, listed, 1, "cooldown admits exactly one signal under concurrency")
}

func TestEvaluateSignalsPreservesIndicatorGaps(t *testing.T) {
	asOf := time.Date(2026, 8, 30, 14, 0, 0, 0, time.UTC)

	// Heavy single-level volume with no open interest history: absorption
	// fires while the ΔOI% series has no valid reading.
	s := memory.NewMarketStore()
	start := asOf.Add(-50 * time.Minute)
	for i := 0; i < 10; i++ {
		at := start.Add(time.Duration(i) * 5 * time.Minute)
		s.AddCandles(market.Candle{
			Symbol: "BTCUSDT", BucketStart: at,
			Open: 100, High: 100.6, Low: 99.6, Close: 100.1, Volume: 6,
		})
		s.AddTrades(market.Trade{
			Symbol: "BTCUSDT", Time: at.Add(time.Minute), ID: int64(i + 1),
			Price: 100.3, Quantity: 5, IsBuyerMaker: false,
		})
	}
	s.AddTrades(
		market.Trade{Symbol: "BTCUSDT", Time: start.Add(2 * time.Minute), ID: 11, Price: 99.4, Quantity: 2, IsBuyerMaker: false},
		market.Trade{Symbol: "BTCUSDT", Time: start.Add(3 * time.Minute), ID: 12, Price: 101.2, Quantity: 2, IsBuyerMaker: false},
	)

	ev, _ := newTestEvaluator(s, nil)
	sig, err := ev.EvaluateSignals(context.Background(), "BTCUSDT", asOf)
	require.NoError(t, err)
	require.NotNil(t, sig)

	assert.Equal(t, market.SetupAbsorption, sig.Setup)
	assert.Nil(t, sig.Trigger.DeltaOIPct, "missing open interest must not read as zero")
	require.NotNil(t, sig.Trigger.CVD)
	assert.Positive(t, *sig.Trigger.CVD)
}

func TestEvaluateSignalsNoSetup(t *testing.T) {
	asOf := time.Date(2026, 8, 30, 14, 0, 0, 0, time.UTC)

	// Quiet market: flat candles, negligible one-sided flow.
	s := memory.NewMarketStore()
	start := asOf.Add(-50 * time.Minute)
	for i := 0; i < 10; i++ {
		at := start.Add(time.Duration(i) * 5 * time.Minute)
		s.AddCandles(market.Candle{Symbol: "BTCUSDT", BucketStart: at, Open: 100, High: 100.5, Low: 99.5, Close: 100, Volume: 5})
		s.AddTrades(market.Trade{Symbol: "BTCUSDT", Time: at.Add(time.Minute), ID: int64(i + 1), Price: 100, Quantity: 0.5, IsBuyerMaker: false})
	}

	ev, _ := newTestEvaluator(s, nil)
	sig, err := ev.EvaluateSignals(context.Background(), "BTCUSDT", asOf)
	require.NoError(t, err)
	assert.Nil(t, sig)
}

func TestEvaluateSignalsUnknownSymbol(t *testing.T) {
	asOf := time.Date(2026, 8, 30, 14, 0, 0, 0, time.UTC)
	ev, _ := newTestEvaluator(memory.NewMarketStore(), nil)

	_, err := ev.EvaluateSignals(context.Background(), "NOPE", asOf)
	require.Error(t, err)
}
