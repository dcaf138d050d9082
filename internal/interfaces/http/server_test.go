package http

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/apellar/marketpulse/internal/domain/market"
	"github.com/apellar/marketpulse/internal/indicator"
	"github.com/apellar/marketpulse/internal/metrics"
	"github.com/apellar/marketpulse/internal/store/memory"
)

type stubIndicators struct {
	set *indicator.Set
	err error
}

func (s stubIndicators) ComputeIndicators(context.Context, string, time.Duration, market.Window, market.Session) (*indicator.Set, error) {
	return s.set, s.err
}

type stubBacktester struct {
	result *market.BacktestResult
	err    error
}

func (s stubBacktester) RunBacktest(context.Context, string, int) (*market.BacktestResult, error) {
	return s.result, s.err
}

type stubSnapshots struct {
	snap *metrics.Snapshot
	err  error
}

func (s stubSnapshots) BuildSnapshot(context.Context, string) (*metrics.Snapshot, error) {
	return s.snap, s.err
}

func newTestServer(t *testing.T, ind stubIndicators, bt stubBacktester, snaps stubSnapshots) (*Server, *SignalFeed) {
	t.Helper()
	feed := NewSignalFeed()
	t.Cleanup(feed.Close)

	signals := memory.NewSignalStore()
	handlers := NewHandlers(ind, signals, bt, snaps, feed, 5*time.Minute, zerolog.Nop())
	return NewServer(DefaultServerConfig(), handlers, zerolog.Nop()), feed
}

func TestHealthz(t *testing.T) {
	srv, _ := newTestServer(t, stubIndicators{}, stubBacktester{}, stubSnapshots{})

	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, httptest.NewRequest("GET", "/healthz", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))
}

func TestIndicatorsEndpoint(t *testing.T) {
	set := &indicator.Set{Symbol: "BTCUSDT", LastPrice: 100.5}
	srv, _ := newTestServer(t, stubIndicators{set: set}, stubBacktester{}, stubSnapshots{})

	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, httptest.NewRequest("GET", "/api/v1/indicators/BTCUSDT?hours=2", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var got indicator.Set
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, "BTCUSDT", got.Symbol)
}

func TestIndicatorsUnknownSymbol(t *testing.T) {
	srv, _ := newTestServer(t, stubIndicators{err: market.ErrUnknownSymbol}, stubBacktester{}, stubSnapshots{})

	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, httptest.NewRequest("GET", "/api/v1/indicators/NOPE", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestIndicatorsBadParams(t *testing.T) {
	srv, _ := newTestServer(t, stubIndicators{}, stubBacktester{}, stubSnapshots{})

	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, httptest.NewRequest("GET", "/api/v1/indicators/BTCUSDT?hours=-1", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, httptest.NewRequest("GET", "/api/v1/indicators/BTCUSDT?session=mars", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSignalsEndpointEmpty(t *testing.T) {
	srv, _ := newTestServer(t, stubIndicators{}, stubBacktester{}, stubSnapshots{})

	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, httptest.NewRequest("GET", "/api/v1/signals", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "[]", strings.TrimSpace(rec.Body.String()))
}

func TestBacktestEmptyWindowIsZeroSample(t *testing.T) {
	srv, _ := newTestServer(t, stubIndicators{}, stubBacktester{err: market.ErrNoSignalsInWindow}, stubSnapshots{})

	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, httptest.NewRequest("GET", "/api/v1/backtest/BTCUSDT", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var got market.BacktestResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, 0, got.SampleSize)
	assert.Nil(t, got.HitRate)
}

func TestSnapshotEndpoint(t *testing.T) {
	snap := &metrics.Snapshot{Symbol: "BTCUSDT", GeneratedAt: time.Now().UTC()}
	srv, _ := newTestServer(t, stubIndicators{}, stubBacktester{}, stubSnapshots{snap: snap})

	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, httptest.NewRequest("GET", "/api/v1/metrics/BTCUSDT", nil))
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestNotFound(t *testing.T) {
	srv, _ := newTestServer(t, stubIndicators{}, stubBacktester{}, stubSnapshots{})

	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, httptest.NewRequest("GET", "/nope", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestSignalFeedFanOutAndDrop(t *testing.T) {
	feed := NewSignalFeed()
	defer feed.Close()

	ch := feed.subscribe()
	feed.Publish(market.Signal{ID: 1})
	feed.Publish(market.Signal{ID: 2})

	assert.Equal(t, int64(1), (<-ch).ID)
	assert.Equal(t, int64(2), (<-ch).ID)

	// A saturated subscriber drops instead of blocking Publish.
	for i := 0; i < 100; i++ {
		feed.Publish(market.Signal{ID: int64(i)})
	}

	feed.unsubscribe(ch)
	feed.Publish(market.Signal{ID: 3})
}

func TestSignalStreamDeliversSSE(t *testing.T) {
	srv, feed := newTestServer(t, stubIndicators{}, stubBacktester{}, stubSnapshots{})

	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/api/v1/signals/stream")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	// Give the handler time to subscribe before publishing.
	time.Sleep(50 * time.Millisecond)
	feed.Publish(market.Signal{ID: 7, Symbol: "BTCUSDT"})

	reader := bufio.NewReader(resp.Body)
	deadline := time.After(2 * time.Second)
	lines := make(chan string, 8)
	go func() {
		for {
			line, err := reader.ReadString('\n')
			if err != nil {
				return
			}
			lines <- line
		}
	}()

	for {
		select {
		case line := <-lines:
			if strings.HasPrefix(line, "data: ") {
				var sig market.Signal
				require.NoError(t, json.Unmarshal([]byte(strings.TrimPrefix(strings.TrimSpace(line), "data: ")), &sig))
				assert.Equal(t, int64(7), sig.ID)
				return
			}
		case <-deadline:
			t.Fatal("no SSE event received")
		}
	}
}

func TestSignalStreamOutlivesWriteTimeout(t *testing.T) {
	srv, feed := newTestServer(t, stubIndicators{}, stubBacktester{}, stubSnapshots{})

	// A short server write timeout must not cut an established stream.
	ts := httptest.NewUnstartedServer(srv.Router())
	ts.Config.WriteTimeout = 200 * time.Millisecond
	ts.Start()
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/api/v1/signals/stream")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	// Publish only after the write timeout has elapsed.
	time.Sleep(400 * time.Millisecond)
	feed.Publish(market.Signal{ID: 9, Symbol: "BTCUSDT"})

	reader := bufio.NewReader(resp.Body)
	deadline := time.After(2 * time.Second)
	lines := make(chan string, 8)
	go func() {
		for {
			line, err := reader.ReadString('\n')
			if err != nil {
				return
			}
			lines <- line
		}
	}()

	for {
		select {
		case line := <-lines:
			if strings.HasPrefix(line, "data: ") {
				var sig market.Signal
				require.NoError(t, json.Unmarshal([]byte(strings.TrimPrefix(strings.TrimSpace(line), "data: ")), &sig))
				assert.Equal(t, int64(9), sig.ID)
				return
			}
		case <-deadline:
			t.Fatal("stream died before the event arrived")
		}
	}
}
