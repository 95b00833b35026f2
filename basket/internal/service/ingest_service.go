// Package service runs canonical events through dedupe, the sink and the
// dead letter queue, for single requests and batches.
package service

import (
	"context"
	"errors"
	"fmt"
	"unicode/utf8"

	"github.com/databuddy-analytics/databuddy/basket/internal/dedupe"
	"github.com/databuddy-analytics/databuddy/basket/internal/dlq"
	"github.com/databuddy-analytics/databuddy/basket/internal/mapper"
	"github.com/databuddy-analytics/databuddy/basket/internal/metrics"
	"github.com/databuddy-analytics/databuddy/basket/internal/models"
	"github.com/databuddy-analytics/databuddy/basket/internal/sink"
	"github.com/databuddy-analytics/databuddy/basket/internal/stats"
	"github.com/databuddy-analytics/databuddy/common/logging"
)

// AnonymousIDPrefixLen is how much of an anonymous id a batch
// acknowledgement echoes.
const AnonymousIDPrefixLen = 8

// Endpoint labels for metrics.
const (
	EndpointSingle = "single"
	EndpointBatch  = "batch"
)

// ReasonDuplicate marks an event whose eventId was already accepted.
const ReasonDuplicate = "duplicate"

// Options are the optional collaborators. Nil fields disable the feature.
type Options struct {
	Dedupe dedupe.Store
	DLQ    dlq.Queue
	Stats  *stats.Collector
}

// IngestService is safe for concurrent use; it holds no per-request state.
type IngestService struct {
	sink   sink.Sink
	dedupe dedupe.Store
	dlq    dlq.Queue
	stats  *stats.Collector
	logger *logging.Logger
}

func NewIngestService(s sink.Sink, opts Options, logger *logging.Logger) *IngestService {
	return &IngestService{
		sink:   s,
		dedupe: opts.Dedupe,
		dlq:    opts.DLQ,
		stats:  opts.Stats,
		logger: logging.OrDefault(logger).With(logging.Component("ingest")),
	}
}

// ProcessSingle maps env and hands it to the sink. The sink's result is
// returned unchanged; a sink failure is returned as the error.
func (s *IngestService) ProcessSingle(ctx context.Context, clientID string, env *models.RawEventEnvelope, ec models.EnrichmentContext) (*models.Result, error) {
	res, err := s.process(ctx, clientID, env, ec)
	if err != nil {
		metrics.EventsTotal.WithLabelValues(EndpointSingle, models.StatusError).Inc()
		return nil, err
	}
	metrics.EventsTotal.WithLabelValues(EndpointSingle, res.Status).Inc()
	return res, nil
}

// ProcessBatch processes envs sequentially and returns exactly one result
// per input, in input order. A failing item never stops the loop.
func (s *IngestService) ProcessBatch(ctx context.Context, clientID string, envs []*models.RawEventEnvelope, ec models.EnrichmentContext) []models.BatchItemResult {
	metrics.BatchSize.Observe(float64(len(envs)))

	results := make([]models.BatchItemResult, len(envs))
	for i, env := range envs {
		item := models.BatchItemResult{
			EventName:   eventName(env),
			AnonymousID: anonymousPrefix(env),
		}

		res, err := s.processIsolated(ctx, clientID, env, ec)
		if err != nil {
			item.Status = models.StatusError
			item.Error = err.Error()
			s.logger.WarnContext(ctx, "batch item failed",
				logging.ClientID(clientID), "index", i, logging.Error(err))
		} else {
			item.Status = res.Status
			item.EventID = res.EventID
			item.Reason = res.Reason
		}

		metrics.EventsTotal.WithLabelValues(EndpointBatch, item.Status).Inc()
		results[i] = item
	}
	return results
}

func (s *IngestService) processIsolated(ctx context.Context, clientID string, env *models.RawEventEnvelope, ec models.EnrichmentContext) (res *models.Result, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic while processing event: %v", r)
		}
	}()
	return s.process(ctx, clientID, env, ec)
}

func (s *IngestService) process(ctx context.Context, clientID string, env *models.RawEventEnvelope, ec models.EnrichmentContext) (*models.Result, error) {
	ev := mapper.Map(clientID, env, ec)

	// Only client-supplied ids can repeat.
	if s.dedupe != nil && env.Payload.EventID != nil && *env.Payload.EventID != "" {
		claimed, err := s.dedupe.Claim(ctx, clientID, ev.ID)
		if err != nil {
			s.logger.WarnContext(ctx, "dedupe store unavailable, processing event",
				logging.ClientID(clientID), logging.EventID(ev.ID), logging.Error(err))
		} else if !claimed {
			metrics.DuplicatesSkipped.Inc()
			return &models.Result{
				Status:  models.StatusSkipped,
				Type:    ev.EventType,
				EventID: ev.ID,
				Reason:  ReasonDuplicate,
			}, nil
		}
	}

	res, err := s.sink.Process(ctx, ev)
	if err != nil {
		s.deadLetter(ctx, ev, err)
		return nil, err
	}
	if res == nil {
		res = sink.Accepted(ev)
	}

	if res.Status == models.StatusSuccess {
		s.stats.Record(clientID, 1, ev.IP)
	}
	return res, nil
}

func (s *IngestService) deadLetter(ctx context.Context, ev *models.CanonicalEvent, cause error) {
	if s.dlq == nil {
		return
	}
	if err := s.dlq.Write(ctx, ev, cause, dlq.ReasonSinkError); err != nil {
		s.logger.ErrorContext(ctx, "failed to write dead letter",
			logging.ClientID(ev.ClientID), logging.EventID(ev.ID),
			logging.Error(errors.Join(cause, err)))
	}
}

func eventName(env *models.RawEventEnvelope) string {
	if env.Payload.Name != nil && *env.Payload.Name != "" {
		return *env.Payload.Name
	}
	return string(env.Type)
}

func anonymousPrefix(env *models.RawEventEnvelope) string {
	id := ""
	switch {
	case env.Payload.AnonymousID != nil && *env.Payload.AnonymousID != "":
		id = *env.Payload.AnonymousID
	case env.Payload.SessionID != nil && *env.Payload.SessionID != "":
		id = *env.Payload.SessionID
	}
	if utf8.RuneCountInString(id) <= AnonymousIDPrefixLen {
		return id
	}
	return string([]rune(id)[:AnonymousIDPrefixLen])
}
