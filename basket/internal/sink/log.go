package sink

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sync"

	"github.com/databuddy-analytics/databuddy/basket/internal/models"
)

// LogSink writes one JSON line per event. It is the default for local
// development.
type LogSink struct {
	mu sync.Mutex
	w  io.Writer
}

// NewLogSink creates a LogSink writing to w.
func NewLogSink(w io.Writer) *LogSink {
	return &LogSink{w: w}
}

func (s *LogSink) Process(_ context.Context, ev *models.CanonicalEvent) (*models.Result, error) {
	data, err := json.Marshal(ev)
	if err != nil {
		return nil, fmt.Errorf("encode event: %w", err)
	}
	data = append(data, '\n')

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.w.Write(data); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSinkUnavailable, err)
	}
	return Accepted(ev), nil
}

func (s *LogSink) Close() error { return nil }
