// Package dedupe remembers (client id, event id) pairs so retried events are
// stored once.
package dedupe

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/coder/quartz"
	"github.com/redis/go-redis/v9"
)

// Store claims event ids. Claim returns true the first time a pair is seen
// within the ttl and false for duplicates.
type Store interface {
	Claim(ctx context.Context, clientID, eventID string) (bool, error)
}

// KeyPrefix namespaces dedupe keys in Redis.
const KeyPrefix = "basket:dedupe:"

// RedisStore uses SET NX with an expiry, so the first writer wins across
// instances.
type RedisStore struct {
	client redis.UniversalClient
	ttl    time.Duration
}

// NewRedisStore creates a RedisStore.
func NewRedisStore(client redis.UniversalClient, ttl time.Duration) *RedisStore {
	return &RedisStore{client: client, ttl: ttl}
}

func (s *RedisStore) Claim(ctx context.Context, clientID, eventID string) (bool, error) {
	ok, err := s.client.SetNX(ctx, KeyPrefix+clientID+":"+eventID, 1, s.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("redis setnx: %w", err)
	}
	return ok, nil
}

// MemoryStore is a single-instance fallback.
type MemoryStore struct {
	mu    sync.Mutex
	seen  map[string]time.Time
	ttl   time.Duration
	clock quartz.Clock
}

// NewMemoryStore creates a MemoryStore. A nil clock uses real time.
func NewMemoryStore(ttl time.Duration, clock quartz.Clock) *MemoryStore {
	if clock == nil {
		clock = quartz.NewReal()
	}
	return &MemoryStore{seen: make(map[string]time.Time), ttl: ttl, clock: clock}
}

const memorySweepThreshold = 100000

func (s *MemoryStore) Claim(_ context.Context, clientID, eventID string) (bool, error) {
	key := clientID + ":" + eventID
	now := s.clock.Now()

	s.mu.Lock()
	defer s.mu.Unlock()

	if exp, ok := s.seen[key]; ok && now.Before(exp) {
		return false, nil
	}
	s.seen[key] = now.Add(s.ttl)

	if len(s.seen) > memorySweepThreshold {
		for k, exp := range s.seen {
			if !now.Before(exp) {
				delete(s.seen, k)
			}
		}
	}
	return true, nil
}

// Len returns the number of remembered pairs.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.seen)
}
