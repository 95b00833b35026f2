package dlq

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/databuddy-analytics/databuddy/basket/internal/metrics"
	"github.com/databuddy-analytics/databuddy/basket/internal/models"
)

// DefaultPath is used when NewFileQueue is given an empty path.
const DefaultPath = "/var/lib/databuddy/dlq"

const fileSuffix = ".jsonl"

// FileQueue appends dead letters to one JSON-lines file per UTC day.
type FileQueue struct {
	dir     string
	mu      sync.Mutex
	written atomic.Uint64
	now     func() time.Time
}

// NewFileQueue creates dir if needed.
func NewFileQueue(dir string) (*FileQueue, error) {
	if dir == "" {
		dir = DefaultPath
	}
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("create dlq directory: %w", err)
	}
	return &FileQueue{dir: dir, now: time.Now}, nil
}

func (q *FileQueue) fileFor(t time.Time) string {
	return filepath.Join(q.dir, "dlq-"+t.UTC().Format("2006-01-02")+fileSuffix)
}

// Write appends ev to today's file.
func (q *FileQueue) Write(_ context.Context, ev *models.CanonicalEvent, err error, reason string) error {
	if q == nil {
		return nil
	}

	failed := newFailedEvent(ev, err, reason, q.now())
	data, marshalErr := json.Marshal(failed)
	if marshalErr != nil {
		metrics.DLQWrites.WithLabelValues("error").Inc()
		return fmt.Errorf("encode dead letter: %w", marshalErr)
	}
	data = append(data, '\n')

	q.mu.Lock()
	defer q.mu.Unlock()

	f, openErr := os.OpenFile(q.fileFor(failed.FailedAt), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o640)
	if openErr != nil {
		metrics.DLQWrites.WithLabelValues("error").Inc()
		return fmt.Errorf("open dlq file: %w", openErr)
	}
	_, writeErr := f.Write(data)
	closeErr := f.Close()
	if err := errors.Join(writeErr, closeErr); err != nil {
		metrics.DLQWrites.WithLabelValues("error").Inc()
		return fmt.Errorf("write dlq file: %w", err)
	}

	q.written.Add(1)
	metrics.DLQWrites.WithLabelValues("ok").Inc()
	return nil
}

func (q *FileQueue) files() ([]string, error) {
	entries, err := os.ReadDir(q.dir)
	if err != nil {
		return nil, err
	}
	var names []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasPrefix(e.Name(), "dlq-") && strings.HasSuffix(e.Name(), fileSuffix) {
			names = append(names, filepath.Join(q.dir, e.Name()))
		}
	}
	sort.Strings(names)
	return names, nil
}

// List returns up to limit dead letters, oldest first. Unparseable lines
// are skipped.
func (q *FileQueue) List(_ context.Context, limit int) ([]FailedEvent, error) {
	if q == nil {
		return nil, errors.New("dlq not enabled")
	}
	if limit <= 0 {
		limit = 100
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	files, err := q.files()
	if err != nil {
		return nil, fmt.Errorf("list dlq files: %w", err)
	}

	var events []FailedEvent
	for _, name := range files {
		f, err := os.Open(name)
		if err != nil {
			return nil, fmt.Errorf("open dlq file: %w", err)
		}
		scanner := bufio.NewScanner(f)
		scanner.Buffer(make([]byte, 64*1024), 4*1024*1024)
		for scanner.Scan() && len(events) < limit {
			var ev FailedEvent
			if json.Unmarshal(scanner.Bytes(), &ev) == nil {
				events = append(events, ev)
			}
		}
		f.Close()
		if len(events) >= limit {
			break
		}
	}
	return events, nil
}

// Purge deletes every dead letter file.
func (q *FileQueue) Purge(_ context.Context) error {
	if q == nil {
		return errors.New("dlq not enabled")
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	files, err := q.files()
	if err != nil {
		return fmt.Errorf("list dlq files: %w", err)
	}
	for _, name := range files {
		if err := os.Remove(name); err != nil {
			return fmt.Errorf("remove %s: %w", filepath.Base(name), err)
		}
	}
	return nil
}

// Stats reports the queue's backend and local write count.
func (q *FileQueue) Stats() map[string]any {
	if q == nil {
		return map[string]any{"enabled": false, "backend": "file"}
	}

	stats := map[string]any{
		"enabled":       true,
		"backend":       "file",
		"path":          q.dir,
		"written_local": q.written.Load(),
	}
	q.mu.Lock()
	files, err := q.files()
	q.mu.Unlock()
	if err != nil {
		stats["error"] = err.Error()
	} else {
		stats["files"] = len(files)
	}
	return stats
}
