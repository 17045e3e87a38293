package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"

	"babybottle-monitor/internal/telemetry"
)

const publishTimeout = 5 * time.Second

// messageWriter is the subset of *kafka.Writer used here.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type Publisher struct {
	w      messageWriter
	topic  string
	logger *slog.Logger
}

func NewPublisher(brokers []string, topic string, logger *slog.Logger) *Publisher {
	w := &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Topic:                  topic,
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireOne,
		AllowAutoTopicCreation: true,
		WriteTimeout:           5 * time.Second,
		// Sync writes block for up to BatchTimeout.
		BatchTimeout: 10 * time.Millisecond,
	}
	return newPublisher(w, topic, logger)
}

func newPublisher(w messageWriter, topic string, logger *slog.Logger) *Publisher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Publisher{w: w, topic: topic, logger: logger}
}

// PublishTelemetry writes one message keyed by device id, so every message of
// a device lands on the same partition in order.
func (p *Publisher) PublishTelemetry(ctx context.Context, t telemetry.Telemetry) error {
	if t.Timestamp.IsZero() {
		t.Timestamp = time.Now()
	}
	value, err := json.Marshal(t)
	if err != nil {
		return fmt.Errorf("marshal telemetry: %w", err)
	}

	msg := kafka.Message{
		Key:   []byte(t.DeviceID),
		Value: value,
		Time:  t.Timestamp,
	}
	ctx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()
	if err := p.w.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("kafka write %s: %w", p.topic, err)
	}
	p.logger.Debug("published telemetry", "topic", p.topic, "sequence", t.Sequence)
	return nil
}

func (p *Publisher) Close() error {
	return p.w.Close()
}
