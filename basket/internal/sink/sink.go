// Package sink hands canonical events to downstream storage.
package sink

import (
	"context"
	"errors"
	"time"

	"github.com/databuddy-analytics/databuddy/basket/internal/metrics"
	"github.com/databuddy-analytics/databuddy/basket/internal/models"
)

// ErrSinkUnavailable wraps every delivery failure.
var ErrSinkUnavailable = errors.New("event sink unavailable")

// Sink stores one event and reports the outcome. A non-nil error means the
// event was not accepted.
type Sink interface {
	Process(ctx context.Context, ev *models.CanonicalEvent) (*models.Result, error)
	Close() error
}

// Accepted is the result every backend returns on success.
func Accepted(ev *models.CanonicalEvent) *models.Result {
	return &models.Result{
		Status:  models.StatusSuccess,
		Type:    ev.EventType,
		EventID: ev.ID,
	}
}

// Instrumented records latency and failures for a backend.
type Instrumented struct {
	Sink
	backend string
}

// Instrument wraps s with metrics labelled by backend.
func Instrument(backend string, s Sink) *Instrumented {
	return &Instrumented{Sink: s, backend: backend}
}

func (i *Instrumented) Process(ctx context.Context, ev *models.CanonicalEvent) (*models.Result, error) {
	start := time.Now()
	res, err := i.Sink.Process(ctx, ev)
	metrics.SinkDuration.WithLabelValues(i.backend).Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.SinkErrors.WithLabelValues(i.backend).Inc()
	}
	return res, err
}

// Backend returns the label the sink was instrumented with.
func (i *Instrumented) Backend() string { return i.backend }
