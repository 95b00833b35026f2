// Package messaging provides abstractions for message broker communication.
// Producers publish through the Publisher interface without being coupled to
// a specific broker implementation.
package messaging

import (
	"context"
	"time"
)

// Message represents a message sent to a message broker.
type Message struct {
	// Subject is the topic/channel the message is published to.
	Subject string

	// Data is the raw message payload.
	Data []byte

	// Metadata contains optional key-value pairs for message headers.
	Metadata map[string]string

	// Timestamp is when the message was produced.
	Timestamp time.Time
}

// Publisher publishes messages to subjects.
type Publisher interface {
	// Publish sends data to the specified subject and waits for the broker
	// to acknowledge it.
	Publish(ctx context.Context, subject string, data []byte) error

	// PublishMsg sends a Message with full control over headers.
	PublishMsg(ctx context.Context, msg *Message) error

	// Close releases any resources held by the publisher.
	Close() error
}

// Header names understood by the broker implementations.
const (
	// HeaderMsgID lets the broker drop duplicate publishes of the same event.
	HeaderMsgID = "Nats-Msg-Id"

	// HeaderClientID carries the website client ID of the event.
	HeaderClientID = "Databuddy-Client-Id"
)
