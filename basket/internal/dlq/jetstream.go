package dlq

import (
	"context"
	"encoding/json"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/databuddy-analytics/databuddy/basket/internal/metrics"
	"github.com/databuddy-analytics/databuddy/basket/internal/models"
	"github.com/databuddy-analytics/databuddy/common/messaging"
)

// JetStreamQueue publishes dead letters on basket.dlq.<reason>. The
// BASKET_DLQ stream must exist; it is shared by every basket instance.
type JetStreamQueue struct {
	publisher messaging.Publisher
	written   atomic.Uint64
	now       func() time.Time
}

// NewJetStreamQueue creates a queue on an existing publisher.
func NewJetStreamQueue(publisher messaging.Publisher) (*JetStreamQueue, error) {
	if publisher == nil {
		return nil, fmt.Errorf("jetstream publisher is nil")
	}
	return &JetStreamQueue{publisher: publisher, now: time.Now}, nil
}

func (q *JetStreamQueue) Write(ctx context.Context, ev *models.CanonicalEvent, err error, reason string) error {
	if q == nil {
		return nil
	}

	failed := newFailedEvent(ev, err, reason, q.now())
	data, marshalErr := json.Marshal(failed)
	if marshalErr != nil {
		metrics.DLQWrites.WithLabelValues("error").Inc()
		return fmt.Errorf("encode dead letter: %w", marshalErr)
	}

	msg := &messaging.Message{
		Subject:   messaging.DLQSubject(reason),
		Data:      data,
		Timestamp: failed.FailedAt,
	}
	if ev != nil {
		msg.Metadata = map[string]string{
			messaging.HeaderMsgID:    "dlq-" + ev.ID,
			messaging.HeaderClientID: ev.ClientID,
		}
	}
	if pubErr := q.publisher.PublishMsg(ctx, msg); pubErr != nil {
		metrics.DLQWrites.WithLabelValues("error").Inc()
		return fmt.Errorf("publish dead letter: %w", pubErr)
	}

	q.written.Add(1)
	metrics.DLQWrites.WithLabelValues("ok").Inc()
	return nil
}

func (q *JetStreamQueue) Stats() map[string]any {
	if q == nil {
		return map[string]any{"enabled": false, "backend": "jetstream"}
	}
	return map[string]any{
		"enabled":       true,
		"backend":       "jetstream",
		"written_local": q.written.Load(),
	}
}
