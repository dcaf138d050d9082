// Package telemetry holds the Prometheus registry for MarketPulse.
package telemetry

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Registry holds all Prometheus metrics exposed on /metrics.
type Registry struct {
	IndicatorDuration *prometheus.HistogramVec
	CacheHits         *prometheus.CounterVec
	CacheMisses       *prometheus.CounterVec
	SignalsEmitted    *prometheus.CounterVec
	SignalsSuppressed *prometheus.CounterVec
	BacktestDuration  prometheus.Histogram
	SnapshotBuilds    prometheus.Counter
	IngestFreshness   *prometheus.GaugeVec
	AlertDeliveries   *prometheus.CounterVec
}

var (
	defaultRegistry *Registry
	once            sync.Once
)

// NewRegistry builds and registers the MarketPulse metric set against reg.
func NewRegistry(reg prometheus.Registerer) *Registry {
	r := &Registry{
		IndicatorDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "marketpulse_indicator_duration_seconds",
				Help:    "Duration of indicator computations in seconds",
				Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0},
			},
			[]string{"symbol", "result"},
		),
		CacheHits: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "marketpulse_cache_hits_total",
				Help: "Cache hits by tier",
			},
			[]string{"tier"},
		),
		CacheMisses: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "marketpulse_cache_misses_total",
				Help: "Cache misses by tier",
			},
			[]string{"tier"},
		),
		SignalsEmitted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "marketpulse_signals_emitted_total",
				Help: "Signals persisted, by setup and tier",
			},
			[]string{"setup", "tier"},
		),
		SignalsSuppressed: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "marketpulse_signals_suppressed_total",
				Help: "Signal candidates dropped by cooldown de-duplication",
			},
			[]string{"setup"},
		),
		BacktestDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "marketpulse_backtest_duration_seconds",
				Help:    "Duration of backtest runs in seconds",
				Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1.0, 5.0, 10.0},
			},
		),
		SnapshotBuilds: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "marketpulse_snapshot_builds_total",
				Help: "Metrics snapshot aggregations performed",
			},
		),
		IngestFreshness: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "marketpulse_ingest_freshness_seconds",
				Help: "Age of the newest stored record by kind",
			},
			[]string{"kind"},
		),
		AlertDeliveries: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "marketpulse_alert_deliveries_total",
				Help: "Outbound alert deliveries by sink and result",
			},
			[]string{"sink", "result"},
		),
	}

	reg.MustRegister(
		r.IndicatorDuration,
		r.CacheHits,
		r.CacheMisses,
		r.SignalsEmitted,
		r.SignalsSuppressed,
		r.BacktestDuration,
		r.SnapshotBuilds,
		r.IngestFreshness,
		r.AlertDeliveries,
	)
	return r
}

// Default returns the process-wide registry, registering it against the
// default Prometheus registerer on first use.
func Default() *Registry {
	once.Do(func() {
		defaultRegistry = NewRegistry(prometheus.DefaultRegisterer)
	})
	return defaultRegistry
}

// ObserveIndicator records one indicator computation.
func (r *Registry) ObserveIndicator(symbol, result string, elapsed time.Duration) {
	r.IndicatorDuration.WithLabelValues(symbol, result).Observe(elapsed.Seconds())
}
