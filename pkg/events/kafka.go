package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/sherwinwater/speech-to-text-service/pkg/errorsx"
	"github.com/sherwinwater/speech-to-text-service/pkg/logging"
)

// KafkaConfig wires the transcript topic.
type KafkaConfig struct {
	Brokers []string
	Topic   string
	Logger  *slog.Logger
}

const defaultTopic = "stt.transcripts"

// Kafka publishes transcript events to a single topic, keyed by
// session so one session's deltas land on one partition in order.
type Kafka struct {
	writer *kafka.Writer
	logger *slog.Logger
}

var _ Publisher = (*Kafka)(nil)

func NewKafka(cfg KafkaConfig) (*Kafka, error) {
	if len(cfg.Brokers) == 0 {
		return nil, errorsx.Wrap(fmt.Errorf("kafka publisher requires at least one broker"), errorsx.ReasonEventPublish)
	}
	if cfg.Topic == "" {
		cfg.Topic = defaultTopic
	}
	writer := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.Topic,
		Balancer:     &kafka.LeastBytes{},
		BatchTimeout: 10 * time.Millisecond,
		WriteTimeout: 10 * time.Second,
		RequiredAcks: kafka.RequireOne,
	}
	return &Kafka{
		writer: writer,
		logger: logging.NewComponentLogger(cfg.Logger, "kafka_events"),
	}, nil
}

func (k *Kafka) Publish(ctx context.Context, event TranscriptEvent) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return errorsx.Wrap(fmt.Errorf("marshal transcript event: %w", err), errorsx.ReasonEventPublish)
	}
	msg := kafka.Message{
		Key:   []byte(event.SessionID),
		Value: payload,
		Headers: []kafka.Header{
			{Key: "event_type", Value: []byte(event.Type)},
			{Key: "transport", Value: []byte(event.Transport)},
		},
	}
	if err := k.writer.WriteMessages(ctx, msg); err != nil {
		return errorsx.Wrap(err, errorsx.ReasonEventPublish)
	}
	k.logger.Debug("event_published",
		slog.String("topic", k.writer.Topic),
		slog.String("type", event.Type),
		slog.String("session_id", event.SessionID))
	return nil
}

func (k *Kafka) Close() error {
	return k.writer.Close()
}
