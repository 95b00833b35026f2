package tenant

import (
	"context"
	"sync"
	"time"

	"github.com/coder/quartz"
)

type memoryItem struct {
	entry     Entry
	expiresAt time.Time
}

// MemoryCache is a process-local Cache. Expired items are dropped on read
// and swept on writes once the map grows past sweepThreshold.
type MemoryCache struct {
	mu    sync.RWMutex
	items map[string]memoryItem
	clock quartz.Clock
}

const sweepThreshold = 10000

// NewMemoryCache creates a MemoryCache. A nil clock uses real time.
func NewMemoryCache(clock quartz.Clock) *MemoryCache {
	if clock == nil {
		clock = quartz.NewReal()
	}
	return &MemoryCache{
		items: make(map[string]memoryItem),
		clock: clock,
	}
}

func (c *MemoryCache) Get(ctx context.Context, id string) (Entry, bool, error) {
	c.mu.RLock()
	item, ok := c.items[id]
	c.mu.RUnlock()

	if !ok || !c.clock.Now().Before(item.expiresAt) {
		return Entry{}, false, nil
	}
	return item.entry, true, nil
}

func (c *MemoryCache) Set(ctx context.Context, id string, entry Entry, ttl time.Duration) error {
	now := c.clock.Now()

	c.mu.Lock()
	defer c.mu.Unlock()

	c.items[id] = memoryItem{entry: entry, expiresAt: now.Add(ttl)}
	if len(c.items) > sweepThreshold {
		for k, v := range c.items {
			if !now.Before(v.expiresAt) {
				delete(c.items, k)
			}
		}
	}
	return nil
}

func (c *MemoryCache) Delete(ctx context.Context, id string) error {
	c.mu.Lock()
	delete(c.items, id)
	c.mu.Unlock()
	return nil
}

// Len returns the number of stored items, including expired ones not yet swept.
func (c *MemoryCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.items)
}
