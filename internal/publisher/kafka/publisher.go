// Package kafka publishes notifications to Kafka topics with segmentio/kafka-go.
package kafka

import (
	"context"
	"fmt"
	"strings"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/segmentio/kafka-go"
)

var payloadJSON = jsoniter.ConfigCompatibleWithStandardLibrary

// Config controls the underlying kafka.Writer.
type Config struct {
	// Brokers is a comma separated list of host:port pairs.
	Brokers      string
	MaxAttempts  int
	RequiredAcks int
	WriteTimeout time.Duration
}

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Keyed payloads choose their own message key.
type Keyed interface {
	PartitionKey() string
}

// Publisher writes one JSON message per Publish call.
type Publisher struct {
	writer messageWriter
}

// New builds a synchronous writer. The topic is chosen per message.
func New(cfg Config) (*Publisher, error) {
	if strings.TrimSpace(cfg.Brokers) == "" {
		return nil, fmt.Errorf("kafka brokers are required")
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 10 * time.Second
	}
	w := &kafka.Writer{
		Addr:         kafka.TCP(strings.Split(cfg.Brokers, ",")...),
		Balancer:     &kafka.Hash{},
		MaxAttempts:  cfg.MaxAttempts,
		BatchSize:    1,
		BatchTimeout: time.Millisecond,
		WriteTimeout: cfg.WriteTimeout,
		RequiredAcks: kafka.RequiredAcks(cfg.RequiredAcks),
		Compression:  kafka.Lz4,
	}
	return &Publisher{writer: w}, nil
}

// Publish marshals payload to JSON and writes it to topic. Kafka assigns no
// message ID to synchronous writes, so the returned ID is topic/key.
func (p *Publisher) Publish(ctx context.Context, topic string, payload any) (string, error) {
	if p.writer == nil {
		return "", fmt.Errorf("kafka publisher is not configured")
	}
	if topic == "" {
		return "", fmt.Errorf("topic is required")
	}
	body, err := payloadJSON.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal payload: %w", err)
	}
	msg := kafka.Message{Topic: topic, Value: body}
	var key string
	if k, ok := payload.(Keyed); ok {
		key = k.PartitionKey()
		msg.Key = []byte(key)
	}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		return "", fmt.Errorf("write message: %w", err)
	}
	return topic + "/" + key, nil
}

// Close flushes and closes the writer.
func (p *Publisher) Close() error {
	if p.writer == nil {
		return nil
	}
	return p.writer.Close()
}
