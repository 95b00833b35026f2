// Package dlq records events the sink refused so they can be replayed.
package dlq

import (
	"context"
	"time"

	"github.com/databuddy-analytics/databuddy/basket/internal/models"
)

// Reasons recorded with a failed event.
const (
	ReasonSinkError = "sink_error"
)

// FailedEvent is one dead letter.
type FailedEvent struct {
	FailedAt time.Time              `json:"failed_at"`
	Event    *models.CanonicalEvent `json:"event"`
	Error    string                 `json:"error"`
	Reason   string                 `json:"reason"`
	Attempts int                    `json:"attempts"`
}

// Queue accepts dead letters. Implementations are safe for concurrent use
// and treat a nil receiver as disabled.
type Queue interface {
	Write(ctx context.Context, ev *models.CanonicalEvent, err error, reason string) error
	Stats() map[string]any
}

func newFailedEvent(ev *models.CanonicalEvent, err error, reason string, now time.Time) FailedEvent {
	msg := ""
	if err != nil {
		msg = err.Error()
	}
	return FailedEvent{
		FailedAt: now.UTC(),
		Event:    ev,
		Error:    msg,
		Reason:   reason,
		Attempts: 1,
	}
}
