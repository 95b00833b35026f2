package sink

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/databuddy-analytics/databuddy/basket/internal/models"
)

// messageWriter is the part of *kafka.Writer the sink uses.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaConfig configures the Kafka sink.
type KafkaConfig struct {
	Brokers      []string
	Topic        string
	WriteTimeout time.Duration
}

// Kafka writes events keyed by client id so a website's events stay in one
// partition.
type Kafka struct {
	writer messageWriter
}

// NewKafka creates a synchronous writer that waits for all in-sync replicas.
func NewKafka(cfg KafkaConfig) *Kafka {
	return newKafka(&kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.Topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireAll,
		WriteTimeout: cfg.WriteTimeout,
		BatchTimeout: 10 * time.Millisecond,
	})
}

func newKafka(w messageWriter) *Kafka {
	return &Kafka{writer: w}
}

func (s *Kafka) Process(ctx context.Context, ev *models.CanonicalEvent) (*models.Result, error) {
	data, err := json.Marshal(ev)
	if err != nil {
		return nil, fmt.Errorf("encode event: %w", err)
	}

	msg := kafka.Message{
		Key:   []byte(ev.ClientID),
		Value: data,
		Time:  ev.IngestedAt,
		Headers: []kafka.Header{
			{Key: "event_id", Value: []byte(ev.ID)},
			{Key: "event_type", Value: []byte(ev.EventType)},
		},
	}
	if err := s.writer.WriteMessages(ctx, msg); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSinkUnavailable, err)
	}
	return Accepted(ev), nil
}

func (s *Kafka) Close() error {
	return s.writer.Close()
}
