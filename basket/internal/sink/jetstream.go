package sink

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/databuddy-analytics/databuddy/basket/internal/models"
	"github.com/databuddy-analytics/databuddy/common/messaging"
)

// JetStream publishes events on basket.events.<client_id>. The event id is
// the message id, so the stream drops retried publishes within its
// duplicate window.
type JetStream struct {
	publisher messaging.Publisher
}

// NewJetStream creates a JetStream sink on an existing publisher.
func NewJetStream(publisher messaging.Publisher) *JetStream {
	return &JetStream{publisher: publisher}
}

func (s *JetStream) Process(ctx context.Context, ev *models.CanonicalEvent) (*models.Result, error) {
	data, err := json.Marshal(ev)
	if err != nil {
		return nil, fmt.Errorf("encode event: %w", err)
	}

	msg := &messaging.Message{
		Subject: messaging.EventsSubject(ev.ClientID),
		Data:    data,
		Metadata: map[string]string{
			messaging.HeaderMsgID:    ev.ID,
			messaging.HeaderClientID: ev.ClientID,
		},
		Timestamp: ev.IngestedAt,
	}
	if err := s.publisher.PublishMsg(ctx, msg); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSinkUnavailable, err)
	}
	return Accepted(ev), nil
}

func (s *JetStream) Close() error {
	return s.publisher.Close()
}
