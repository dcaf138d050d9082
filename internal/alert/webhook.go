package alert

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"

	"github.com/apellar/marketpulse/internal/domain/market"
)

// WebhookConfig tunes a webhook sink.
type WebhookConfig struct {
	URL string `yaml:"url"`
	// RatePerSecond throttles outbound posts; Burst allows short spikes.
	RatePerSecond float64 `yaml:"rate_per_second"`
	Burst         int     `yaml:"burst"`
	// BreakerFailures consecutive failures open the circuit for
	// BreakerCooldown before a probe is allowed through.
	BreakerFailures uint32        `yaml:"breaker_failures"`
	BreakerCooldown time.Duration `yaml:"breaker_cooldown"`
}

// DefaultWebhookConfig returns the standard webhook settings.
func DefaultWebhookConfig(url string) WebhookConfig {
	return WebhookConfig{
		URL:             url,
		RatePerSecond:   2,
		Burst:           5,
		BreakerFailures: 5,
		BreakerCooldown: 30 * time.Second,
	}
}

// WebhookSink posts signals as JSON to an HTTP endpoint, rate limited and
// wrapped in a circuit breaker so a dead endpoint fails fast instead of
// burning the delivery timeout on every attempt.
type WebhookSink struct {
	cfg     WebhookConfig
	client  *http.Client
	limiter *rate.Limiter
	breaker *gobreaker.CircuitBreaker
}

// NewWebhookSink creates a webhook alert sink.
func NewWebhookSink(cfg WebhookConfig, client *http.Client) *WebhookSink {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	if cfg.RatePerSecond <= 0 {
		cfg.RatePerSecond = 2
	}
	if cfg.Burst <= 0 {
		cfg.Burst = 5
	}
	if cfg.BreakerFailures == 0 {
		cfg.BreakerFailures = 5
	}
	if cfg.BreakerCooldown <= 0 {
		cfg.BreakerCooldown = 30 * time.Second
	}

	settings := gobreaker.Settings{
		Name:    "webhook",
		Timeout: cfg.BreakerCooldown,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.BreakerFailures
		},
	}

	return &WebhookSink{
		cfg:     cfg,
		client:  client,
		limiter: rate.NewLimiter(rate.Limit(cfg.RatePerSecond), cfg.Burst),
		breaker: gobreaker.NewCircuitBreaker(settings),
	}
}

func (s *WebhookSink) Name() string { return "webhook" }

// Deliver posts the signal. Each attempt carries a unique delivery id so
// the receiver can deduplicate retries.
func (s *WebhookSink) Deliver(ctx context.Context, sig market.Signal) error {
	if err := s.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("webhook rate limit: %w", err)
	}

	body, err := json.Marshal(sig)
	if err != nil {
		return fmt.Errorf("encode signal %d: %w", sig.ID, err)
	}

	_, err = s.breaker.Execute(func() (interface{}, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.cfg.URL, bytes.NewReader(body))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("X-Delivery-ID", uuid.NewString())

		resp, err := s.client.Do(req)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()

		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			return nil, fmt.Errorf("webhook returned %d", resp.StatusCode)
		}
		return nil, nil
	})
	if err != nil {
		return fmt.Errorf("post signal %d: %w", sig.ID, err)
	}
	return nil
}
