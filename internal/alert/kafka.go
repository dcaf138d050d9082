package alert

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/apellar/marketpulse/internal/domain/market"
)

// KafkaConfig tunes the Kafka sink.
type KafkaConfig struct {
	Brokers []string `yaml:"brokers"`
	Topic   string   `yaml:"topic"`
}

// KafkaSink publishes signals to a Kafka topic, keyed by symbol so a
// symbol's alerts land on one partition in order.
type KafkaSink struct {
	writer *kafka.Writer
}

// NewKafkaSink creates a Kafka alert sink.
func NewKafkaSink(cfg KafkaConfig) (*KafkaSink, error) {
	if len(cfg.Brokers) == 0 {
		return nil, fmt.Errorf("kafka brokers are required")
	}
	if cfg.Topic == "" {
		return nil, fmt.Errorf("kafka topic is required")
	}
	writer := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.Topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireAll,
		MaxAttempts:  3,
		WriteTimeout: 10 * time.Second,
		BatchTimeout: 100 * time.Millisecond,
	}
	return &KafkaSink{writer: writer}, nil
}

func (s *KafkaSink) Name() string { return "kafka" }

// Deliver publishes the signal as a JSON message.
func (s *KafkaSink) Deliver(ctx context.Context, sig market.Signal) error {
	value, err := json.Marshal(sig)
	if err != nil {
		return fmt.Errorf("encode signal %d: %w", sig.ID, err)
	}
	msg := kafka.Message{
		Key:   []byte(sig.Symbol),
		Value: value,
		Time:  sig.GeneratedAt,
	}
	if err := s.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("publish signal %d: %w", sig.ID, err)
	}
	return nil
}

// Close flushes and closes the underlying writer.
func (s *KafkaSink) Close() error {
	return s.writer.Close()
}
