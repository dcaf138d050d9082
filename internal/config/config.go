// Package config loads the service configuration from YAML.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level service configuration.
type Config struct {
	Symbols   []string        `yaml:"symbols"`
	Timeframe time.Duration   `yaml:"timeframe"`
	Logging   LoggingConfig   `yaml:"logging"`
	HTTP      HTTPConfig      `yaml:"http"`
	Postgres  PostgresConfig  `yaml:"postgres"`
	Redis     RedisConfig     `yaml:"redis"`
	Alerts    AlertsConfig    `yaml:"alerts"`
	Indicator IndicatorConfig `yaml:"indicator"`
	Signal    SignalConfig    `yaml:"signal"`
	Backtest  BacktestConfig  `yaml:"backtest"`
	Snapshot  SnapshotConfig  `yaml:"snapshot"`
}

// LoggingConfig controls log output.
type LoggingConfig struct {
	Level string `yaml:"level"`
}

// HTTPConfig controls the API listener.
type HTTPConfig struct {
	Host         string        `yaml:"host"`
	Port         int           `yaml:"port"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
	IdleTimeout  time.Duration `yaml:"idle_timeout"`
}

// PostgresConfig controls the persistent store. Disabled (empty DSN) runs
// fully in memory.
type PostgresConfig struct {
	DSN     string        `yaml:"dsn"`
	Timeout time.Duration `yaml:"timeout"`
}

// RedisConfig controls the shared cache tier. Disabled (empty Addr) runs
// with the local TTL cache only.
type RedisConfig struct {
	Addr     string        `yaml:"addr"`
	Password string        `yaml:"password"`
	DB       int           `yaml:"db"`
	Prefix   string        `yaml:"prefix"`
	TTL      time.Duration `yaml:"ttl"`
}

// AlertsConfig controls the delivery sinks.
type AlertsConfig struct {
	QueueSize      int           `yaml:"queue_size"`
	DeliverTimeout time.Duration `yaml:"deliver_timeout"`
	WebhookURL     string        `yaml:"webhook_url"`
	KafkaBrokers   []string      `yaml:"kafka_brokers"`
	KafkaTopic     string        `yaml:"kafka_topic"`
}

// IndicatorConfig tunes indicator computation.
type IndicatorConfig struct {
	TickSize          float64       `yaml:"tick_size"`
	ValueAreaFraction float64       `yaml:"value_area_fraction"`
	LVNThreshold      float64       `yaml:"lvn_threshold"`
	EMAPeriod         int           `yaml:"ema_period"`
	ADXPeriod         int           `yaml:"adx_period"`
	CacheTTL          time.Duration `yaml:"cache_ttl"`
}

// SignalConfig tunes signal evaluation.
type SignalConfig struct {
	Lookback time.Duration `yaml:"lookback"`
	Cooldown time.Duration `yaml:"cooldown"`
}

// BacktestConfig tunes signal resolution.
type BacktestConfig struct {
	ProfitTargetPct float64 `yaml:"profit_target_pct"`
	StopLossPct     float64 `yaml:"stop_loss_pct"`
	HorizonBuckets  int     `yaml:"horizon_buckets"`
	WindowDays      int     `yaml:"window_days"`
}

// SnapshotConfig tunes the metrics snapshot thresholds.
type SnapshotConfig struct {
	FreshnessWarning  time.Duration `yaml:"freshness_warning"`
	FreshnessCritical time.Duration `yaml:"freshness_critical"`
}

// Default returns the baseline configuration.
func Default() Config {
	return Config{
		Symbols:   []string{"BTCUSDT"},
		Timeframe: 5 * time.Minute,
		Logging:   LoggingConfig{Level: "info"},
		HTTP: HTTPConfig{
			Host:         "127.0.0.1",
			Port:         8080,
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 30 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
		Postgres: PostgresConfig{Timeout: 10 * time.Second},
		Redis:    RedisConfig{Prefix: "marketpulse", TTL: 30 * time.Second},
		Alerts:   AlertsConfig{QueueSize: 64, DeliverTimeout: 10 * time.Second},
		Indicator: IndicatorConfig{
			TickSize:          1.0,
			ValueAreaFraction: 0.70,
			LVNThreshold:      0.35,
			EMAPeriod:         50,
			ADXPeriod:         14,
			CacheTTL:          30 * time.Second,
		},
		Signal: SignalConfig{Lookback: 4 * time.Hour},
		Backtest: BacktestConfig{
			ProfitTargetPct: 0.01,
			StopLossPct:     0.01,
			HorizonBuckets:  24,
			WindowDays:      7,
		},
		Snapshot: SnapshotConfig{
			FreshnessWarning:  2 * time.Minute,
			FreshnessCritical: 10 * time.Minute,
		},
	}
}

// Load reads the config file at path over the defaults. An empty path
// returns the defaults unchanged.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse config YAML: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate rejects configurations the engines cannot run with.
func (c Config) Validate() error {
	if len(c.Symbols) == 0 {
		return fmt.Errorf("at least one symbol is required")
	}
	if c.Timeframe <= 0 {
		return fmt.Errorf("timeframe must be positive")
	}
	if c.Indicator.ValueAreaFraction <= 0 || c.Indicator.ValueAreaFraction > 1 {
		return fmt.Errorf("value_area_fraction must be in (0, 1]")
	}
	if c.Backtest.ProfitTargetPct <= 0 || c.Backtest.StopLossPct <= 0 {
		return fmt.Errorf("backtest target and stop must be positive")
	}
	if c.Backtest.HorizonBuckets <= 0 {
		return fmt.Errorf("backtest horizon_buckets must be positive")
	}
	return nil
}
