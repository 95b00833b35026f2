// Package stats keeps Redis-backed per-website usage counters.
//
// Several basket instances write concurrently; any service can read.
//
// Redis key structure:
//
//	basket:stats:{client_id}                 - hash with totals and last seen
//	basket:hourly:{client_id}:{YYYYMMDDHH}   - events in one hour (expires 48h)
//	basket:daily:{client_id}:{YYYYMMDD}      - events in one day (expires 7d)
//	basket:visitors:{client_id}:{YYYYMMDD}   - set of anonymized IPs (expires 7d)
//	basket:instances:{client_id}             - instance id -> last flush
package stats

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/coder/quartz"
	"github.com/redis/go-redis/v9"
)

const (
	hourlyTTL    = 48 * time.Hour
	dailyTTL     = 7 * 24 * time.Hour
	instancesTTL = 24 * time.Hour
)

// Stats is the current usage of one website.
type Stats struct {
	ClientID         string            `json:"client_id"`
	LastEventAt      *time.Time        `json:"last_event_at,omitempty"`
	TotalEvents      int64             `json:"total_events"`
	EventsThisHour   int64             `json:"events_this_hour"`
	EventsLast24h    int64             `json:"events_last_24h"`
	VisitorsToday    int64             `json:"visitors_today"`
	Instances        map[string]string `json:"instances,omitempty"`
	StatsRetrievedAt time.Time         `json:"stats_retrieved_at"`
}

// Client reads and writes usage counters.
type Client struct {
	redis      redis.UniversalClient
	instanceID string
	clock      quartz.Clock
}

// NewClient wraps an existing Redis connection. instanceID should be unique
// per basket process (hostname or pod name).
func NewClient(rdb redis.UniversalClient, instanceID string, clock quartz.Clock) *Client {
	if clock == nil {
		clock = quartz.NewReal()
	}
	return &Client{redis: rdb, instanceID: instanceID, clock: clock}
}

func statsKey(clientID string) string { return "basket:stats:" + clientID }

func hourlyKey(clientID string, t time.Time) string {
	return fmt.Sprintf("basket:hourly:%s:%s", clientID, t.UTC().Format("2006010215"))
}

func dailyKey(clientID string, t time.Time) string {
	return fmt.Sprintf("basket:daily:%s:%s", clientID, t.UTC().Format("20060102"))
}

func visitorsKey(clientID string, t time.Time) string {
	return fmt.Sprintf("basket:visitors:%s:%s", clientID, t.UTC().Format("20060102"))
}

func instancesKey(clientID string) string { return "basket:instances:" + clientID }

// Batch holds counts accumulated between flushes.
type Batch struct {
	ClientID   string
	EventCount int64
	Visitors   map[string]struct{}
}

// NewBatch creates an empty batch for clientID.
func NewBatch(clientID string) *Batch {
	return &Batch{ClientID: clientID, Visitors: make(map[string]struct{})}
}

// Add records count events from visitor. An empty visitor only counts.
func (b *Batch) Add(count int64, visitor string) {
	b.EventCount += count
	if visitor != "" {
		b.Visitors[visitor] = struct{}{}
	}
}

func (b *Batch) merge(other *Batch) {
	b.EventCount += other.EventCount
	for v := range other.Visitors {
		b.Visitors[v] = struct{}{}
	}
}

// Flush writes b in one pipeline.
func (c *Client) Flush(ctx context.Context, b *Batch) error {
	if b == nil || b.EventCount == 0 {
		return nil
	}

	now := c.clock.Now()
	nowUnix := strconv.FormatInt(now.Unix(), 10)

	pipe := c.redis.Pipeline()

	pipe.HSet(ctx, statsKey(b.ClientID), "last_event_at", nowUnix)
	pipe.HIncrBy(ctx, statsKey(b.ClientID), "total_events", b.EventCount)

	hk := hourlyKey(b.ClientID, now)
	pipe.IncrBy(ctx, hk, b.EventCount)
	pipe.Expire(ctx, hk, hourlyTTL)

	dk := dailyKey(b.ClientID, now)
	pipe.IncrBy(ctx, dk, b.EventCount)
	pipe.Expire(ctx, dk, dailyTTL)

	if len(b.Visitors) > 0 {
		members := make([]any, 0, len(b.Visitors))
		for v := range b.Visitors {
			members = append(members, v)
		}
		vk := visitorsKey(b.ClientID, now)
		pipe.SAdd(ctx, vk, members...)
		pipe.Expire(ctx, vk, dailyTTL)
	}

	ik := instancesKey(b.ClientID)
	pipe.HSet(ctx, ik, c.instanceID, nowUnix)
	pipe.Expire(ctx, ik, instancesTTL)

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("flush stats: %w", err)
	}
	return nil
}

// Get returns the current counters for clientID. Missing keys read as zero.
func (c *Client) Get(ctx context.Context, clientID string) (*Stats, error) {
	now := c.clock.Now()

	pipe := c.redis.Pipeline()
	totalsCmd := pipe.HGetAll(ctx, statsKey(clientID))
	hourlyCmds := make([]*redis.StringCmd, 24)
	for i := range hourlyCmds {
		hourlyCmds[i] = pipe.Get(ctx, hourlyKey(clientID, now.Add(-time.Duration(i)*time.Hour)))
	}
	visitorsCmd := pipe.SCard(ctx, visitorsKey(clientID, now))
	instancesCmd := pipe.HGetAll(ctx, instancesKey(clientID))

	if _, err := pipe.Exec(ctx); err != nil && err != redis.Nil {
		return nil, fmt.Errorf("get stats: %w", err)
	}

	s := &Stats{
		ClientID:         clientID,
		Instances:        make(map[string]string),
		StatsRetrievedAt: now,
	}

	if totals, err := totalsCmd.Result(); err == nil {
		if v, ok := totals["last_event_at"]; ok {
			if unix, err := strconv.ParseInt(v, 10, 64); err == nil {
				t := time.Unix(unix, 0).UTC()
				s.LastEventAt = &t
			}
		}
		s.TotalEvents, _ = strconv.ParseInt(totals["total_events"], 10, 64)
	}

	for i, cmd := range hourlyCmds {
		if v, err := cmd.Int64(); err == nil {
			if i == 0 {
				s.EventsThisHour = v
			}
			s.EventsLast24h += v
		}
	}

	if v, err := visitorsCmd.Result(); err == nil {
		s.VisitorsToday = v
	}

	if instances, err := instancesCmd.Result(); err == nil {
		for id, seen := range instances {
			if unix, err := strconv.ParseInt(seen, 10, 64); err == nil {
				s.Instances[id] = time.Unix(unix, 0).UTC().Format(time.RFC3339)
			}
		}
	}

	return s, nil
}
