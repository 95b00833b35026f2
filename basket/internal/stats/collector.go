package stats

import (
	"context"
	"sync"
	"time"

	"github.com/databuddy-analytics/databuddy/common/logging"
)

// Collector batches usage in memory and flushes it on an interval.
// Safe for concurrent use.
type Collector struct {
	client        *Client
	flushInterval time.Duration
	logger        *logging.Logger

	mu      sync.Mutex
	batches map[string]*Batch

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewCollector starts the flush loop.
func NewCollector(client *Client, flushInterval time.Duration, logger *logging.Logger) *Collector {
	ctx, cancel := context.WithCancel(context.Background())

	c := &Collector{
		client:        client,
		flushInterval: flushInterval,
		logger:        logging.OrDefault(logger).With(logging.Component("stats")),
		batches:       make(map[string]*Batch),
		ctx:           ctx,
		cancel:        cancel,
	}

	c.wg.Add(1)
	go c.flushLoop()

	return c
}

// Record adds accepted events for clientID. A nil Collector ignores the call.
func (c *Collector) Record(clientID string, count int64, visitor string) {
	if c == nil || count <= 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	b, ok := c.batches[clientID]
	if !ok {
		b = NewBatch(clientID)
		c.batches[clientID] = b
	}
	b.Add(count, visitor)
}

func (c *Collector) flushLoop() {
	defer c.wg.Done()

	ticker := time.NewTicker(c.flushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.ctx.Done():
			c.flush()
			return
		case <-ticker.C:
			c.flush()
		}
	}
}

func (c *Collector) flush() {
	c.mu.Lock()
	batches := c.batches
	c.batches = make(map[string]*Batch)
	c.mu.Unlock()

	if len(batches) == 0 {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	flushed := 0
	var total int64
	for _, b := range batches {
		if err := c.client.Flush(ctx, b); err != nil {
			c.logger.ErrorContext(ctx, "failed to flush usage stats",
				logging.ClientID(b.ClientID), "event_count", b.EventCount, logging.Error(err))
			// Merge back so the next tick retries.
			c.mu.Lock()
			if existing, ok := c.batches[b.ClientID]; ok {
				existing.merge(b)
			} else {
				c.batches[b.ClientID] = b
			}
			c.mu.Unlock()
			continue
		}
		flushed++
		total += b.EventCount
	}

	if flushed > 0 {
		c.logger.DebugContext(ctx, "flushed usage stats", "websites", flushed, "total_events", total)
	}
}

// FlushNow flushes synchronously.
func (c *Collector) FlushNow() {
	if c == nil {
		return
	}
	c.flush()
}

// Stop ends the flush loop after a final flush.
func (c *Collector) Stop() {
	if c == nil {
		return
	}
	c.cancel()
	c.wg.Wait()
}

// Pending returns unflushed event counts per website.
func (c *Collector) Pending() map[string]int64 {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make(map[string]int64, len(c.batches))
	for id, b := range c.batches {
		out[id] = b.EventCount
	}
	return out
}
