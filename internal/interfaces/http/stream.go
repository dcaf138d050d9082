package http

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/apellar/marketpulse/internal/domain/market"
)

// SignalFeed broadcasts emitted signals to connected SSE and websocket
// clients. It implements the evaluator's publisher contract: Publish
// never blocks, and a client that cannot keep up is disconnected.
type SignalFeed struct {
	mu      sync.Mutex
	clients map[chan market.Signal]struct{}
	closed  bool
}

// NewSignalFeed creates an empty feed.
func NewSignalFeed() *SignalFeed {
	return &SignalFeed{clients: make(map[chan market.Signal]struct{})}
}

// Publish fans the signal out to every subscriber without blocking. A
// full subscriber buffer drops that subscriber's delivery.
func (f *SignalFeed) Publish(sig market.Signal) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return
	}
	for ch := range f.clients {
		select {
		case ch <- sig:
		default:
		}
	}
}

func (f *SignalFeed) subscribe() chan market.Signal {
	ch := make(chan market.Signal, 16)
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		close(ch)
		return ch
	}
	f.clients[ch] = struct{}{}
	return ch
}

func (f *SignalFeed) unsubscribe(ch chan market.Signal) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.clients[ch]; ok {
		delete(f.clients, ch)
		close(ch)
	}
}

// Close disconnects all subscribers.
func (f *SignalFeed) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return
	}
	f.closed = true
	for ch := range f.clients {
		close(ch)
	}
	f.clients = make(map[chan market.Signal]struct{})
}

// SignalStream serves new signals as server-sent events until the client
// disconnects.
func (h *Handlers) SignalStream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		h.writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	// Long-lived connection: the server-wide write timeout must not apply.
	if err := http.NewResponseController(w).SetWriteDeadline(time.Time{}); err != nil {
		h.log.Debug().Err(err).Msg("clear write deadline")
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	ch := h.feed.subscribe()
	defer h.feed.unsubscribe(ch)

	heartbeat := time.NewTicker(15 * time.Second)
	defer heartbeat.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-heartbeat.C:
			fmt.Fprint(w, ": heartbeat\n\n")
			flusher.Flush()
		case sig, open := <-ch:
			if !open {
				return
			}
			payload, err := json.Marshal(sig)
			if err != nil {
				continue
			}
			fmt.Fprintf(w, "event: signal\ndata: %s\n\n", payload)
			flusher.Flush()
		}
	}
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Read-only push feed; cross-origin dashboards are expected.
	CheckOrigin: func(*http.Request) bool { return true },
}

// SignalWS pushes new signals over a websocket connection.
func (h *Handlers) SignalWS(w http.ResponseWriter, r *http.Request) {
	if err := http.NewResponseController(w).SetWriteDeadline(time.Time{}); err != nil {
		h.log.Debug().Err(err).Msg("clear write deadline")
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}
	defer conn.Close()

	ch := h.feed.subscribe()
	defer h.feed.unsubscribe(ch)

	// Drain client frames so pings and close messages are processed.
	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	heartbeat := time.NewTicker(15 * time.Second)
	defer heartbeat.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-heartbeat.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(5*time.Second)); err != nil {
				return
			}
		case sig, open := <-ch:
			if !open {
				return
			}
			if err := conn.WriteJSON(sig); err != nil {
				return
			}
		}
	}
}
