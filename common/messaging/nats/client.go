// Package nats provides a NATS JetStream implementation of messaging.Publisher.
package nats

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/databuddy-analytics/databuddy/common/messaging"
)

// Config holds NATS client configuration.
type Config struct {
	// URL is the NATS server URL (e.g., "nats://localhost:4222").
	URL string

	// Name is the client name for connection identification.
	Name string

	// MaxReconnects is the maximum number of reconnection attempts.
	// Use -1 for infinite reconnects.
	MaxReconnects int

	// ReconnectWait is the time to wait between reconnection attempts.
	ReconnectWait time.Duration

	// Timeout is the connection timeout.
	Timeout time.Duration

	// Token for token-based authentication (optional).
	Token string

	// Logger receives connection state changes. Defaults to slog.Default().
	Logger *slog.Logger
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		URL:           nats.DefaultURL,
		Name:          "basket",
		MaxReconnects: -1,
		ReconnectWait: 2 * time.Second,
		Timeout:       5 * time.Second,
	}
}

// JetStreamClient publishes to JetStream and waits for stream acknowledgements.
// It implements messaging.Publisher.
type JetStreamClient struct {
	conn *nats.Conn
	js   jetstream.JetStream
}

var _ messaging.Publisher = (*JetStreamClient)(nil)

// NewJetStreamClient connects to NATS and creates a JetStream context.
func NewJetStreamClient(cfg Config) (*JetStreamClient, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	opts := []nats.Option{
		nats.Name(cfg.Name),
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.Timeout(cfg.Timeout),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("NATS disconnected", slog.String("error", err.Error()))
			}
		}),
		nats.ReconnectHandler(func(_ *nats.Conn) {
			logger.Info("NATS reconnected")
		}),
	}
	if cfg.Token != "" {
		opts = append(opts, nats.Token(cfg.Token))
	}

	conn, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	js, err := jetstream.New(conn)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to create JetStream context: %w", err)
	}

	return &JetStreamClient{conn: conn, js: js}, nil
}

// Publish sends data and waits for the stream acknowledgement.
func (c *JetStreamClient) Publish(ctx context.Context, subject string, data []byte) error {
	if _, err := c.js.Publish(ctx, subject, data); err != nil {
		return fmt.Errorf("publish %s: %w", subject, err)
	}
	return nil
}

// PublishMsg sends msg with its metadata as NATS headers. A HeaderMsgID
// entry enables JetStream duplicate detection.
func (c *JetStreamClient) PublishMsg(ctx context.Context, msg *messaging.Message) error {
	natsMsg := nats.NewMsg(msg.Subject)
	natsMsg.Data = msg.Data
	for k, v := range msg.Metadata {
		natsMsg.Header.Set(k, v)
	}
	if _, err := c.js.PublishMsg(ctx, natsMsg); err != nil {
		return fmt.Errorf("publish %s: %w", msg.Subject, err)
	}
	return nil
}

// IsConnected returns true if connected to NATS.
func (c *JetStreamClient) IsConnected() bool {
	return c.conn.IsConnected()
}

// Close drains the connection so pending acknowledgements complete.
func (c *JetStreamClient) Close() error {
	if err := c.conn.Drain(); err != nil {
		c.conn.Close()
		return err
	}
	return nil
}
