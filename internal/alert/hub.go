// Package alert fans out emitted signals to delivery sinks. Delivery is
// fire and forget: a slow or failing sink never blocks signal evaluation,
// and a full sink queue drops the alert rather than applying backpressure.
package alert

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/apellar/marketpulse/internal/domain/market"
	"github.com/apellar/marketpulse/internal/telemetry"
)

// Sink delivers one signal to an external destination.
type Sink interface {
	Name() string
	Deliver(ctx context.Context, sig market.Signal) error
}

// Hub multiplexes signals onto registered sinks. Each sink gets its own
// buffered queue and worker so one destination's latency cannot stall
// another's. Sinks receive signals in registration order per publish.
type Hub struct {
	sinks     []*sinkWorker
	queueSize int
	timeout   time.Duration
	metrics   *telemetry.Registry
	log       zerolog.Logger

	mu     sync.Mutex
	closed bool
	wg     sync.WaitGroup
}

type sinkWorker struct {
	sink  Sink
	queue chan market.Signal
}

// NewHub creates an alert hub. queueSize bounds each sink's backlog;
// deliverTimeout bounds a single delivery attempt.
func NewHub(queueSize int, deliverTimeout time.Duration, logger zerolog.Logger) *Hub {
	if queueSize <= 0 {
		queueSize = 64
	}
	if deliverTimeout <= 0 {
		deliverTimeout = 10 * time.Second
	}
	return &Hub{
		queueSize: queueSize,
		timeout:   deliverTimeout,
		metrics:   telemetry.Default(),
		log:       logger.With().Str("component", "alert").Logger(),
	}
}

// Register attaches a sink and starts its worker. Not safe to call after
// Close.
func (h *Hub) Register(sink Sink) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}

	w := &sinkWorker{sink: sink, queue: make(chan market.Signal, h.queueSize)}
	h.sinks = append(h.sinks, w)

	h.wg.Add(1)
	go h.run(w)
}

// Publish enqueues the signal for every sink without blocking. A full
// queue drops the alert for that sink only.
func (h *Hub) Publish(sig market.Signal) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	for _, w := range h.sinks {
		select {
		case w.queue <- sig:
		default:
			h.metrics.AlertDeliveries.WithLabelValues(w.sink.Name(), "dropped").Inc()
			h.log.Warn().
				Str("sink", w.sink.Name()).
				Int64("signal_id", sig.ID).
				Msg("alert queue full, dropping")
		}
	}
}

// Close stops accepting signals, drains the queues and waits for workers.
func (h *Hub) Close() {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return
	}
	h.closed = true
	for _, w := range h.sinks {
		close(w.queue)
	}
	h.mu.Unlock()
	h.wg.Wait()
}

func (h *Hub) run(w *sinkWorker) {
	defer h.wg.Done()
	for sig := range w.queue {
		ctx, cancel := context.WithTimeout(context.Background(), h.timeout)
		err := w.sink.Deliver(ctx, sig)
		cancel()
		if err != nil {
			h.metrics.AlertDeliveries.WithLabelValues(w.sink.Name(), "error").Inc()
			h.log.Warn().Err(err).
				Str("sink", w.sink.Name()).
				Int64("signal_id", sig.ID).
				Msg("alert delivery failed")
			continue
		}
		h.metrics.AlertDeliveries.WithLabelValues(w.sink.Name(), "ok").Inc()
	}
}
