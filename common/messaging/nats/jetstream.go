package nats

import (
	"context"
	"fmt"
	"time"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/databuddy-analytics/databuddy/common/messaging"
)

// StreamConfig defines a JetStream stream configuration.
type StreamConfig struct {
	// Name is the stream name.
	Name string

	// Subjects are the subjects this stream captures.
	Subjects []string

	// MaxAge is the maximum age of messages in the stream.
	MaxAge time.Duration

	// MaxBytes is the maximum total size of the stream.
	MaxBytes int64

	// Duplicates is the window in which repeated Nats-Msg-Id values are dropped.
	Duplicates time.Duration

	// Retention policy (LimitsPolicy, InterestPolicy, WorkQueuePolicy).
	Retention jetstream.RetentionPolicy

	// Storage type (FileStorage, MemoryStorage).
	Storage jetstream.StorageType
}

// CreateOrUpdateStream creates or updates a stream.
func (c *JetStreamClient) CreateOrUpdateStream(ctx context.Context, cfg StreamConfig) error {
	_, err := c.js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:       cfg.Name,
		Subjects:   cfg.Subjects,
		MaxAge:     cfg.MaxAge,
		MaxBytes:   cfg.MaxBytes,
		Duplicates: cfg.Duplicates,
		Retention:  cfg.Retention,
		Storage:    cfg.Storage,
	})
	if err != nil {
		return fmt.Errorf("failed to create/update stream %s: %w", cfg.Name, err)
	}
	return nil
}

// Predefined stream configurations for the basket service.
var (
	// EventsStream captures accepted canonical events for downstream consumers.
	EventsStream = StreamConfig{
		Name:       messaging.StreamEvents,
		Subjects:   []string{messaging.SubjectEventsPrefix + ".>"},
		MaxAge:     72 * time.Hour,
		MaxBytes:   10 * 1024 * 1024 * 1024, // 10GB
		Duplicates: 2 * time.Minute,
		Retention:  jetstream.LimitsPolicy,
		Storage:    jetstream.FileStorage,
	}

	// DLQStream captures events the sink could not accept.
	DLQStream = StreamConfig{
		Name:      messaging.StreamDLQ,
		Subjects:  []string{messaging.SubjectDLQPrefix + ".>"},
		MaxAge:    7 * 24 * time.Hour,
		MaxBytes:  1024 * 1024 * 1024, // 1GB
		Retention: jetstream.LimitsPolicy,
		Storage:   jetstream.FileStorage,
	}
)
