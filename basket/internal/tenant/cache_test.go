package tenant

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/coder/quartz"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryCache(t *testing.T) {
	ctx := context.Background()
	clk := quartz.NewMock(t)
	c := NewMemoryCache(clk)

	_, ok, err := c.Get(ctx, "site_123")
	require.NoError(t, err)
	assert.False(t, ok)

	entry := Entry{Website: activeSite(), FetchedAt: clk.Now()}
	require.NoError(t, c.Set(ctx, "site_123", entry, time.Minute))

	got, ok, err := c.Get(ctx, "site_123")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "example.com", got.Website.Domain)
	assert.True(t, got.FetchedAt.Equal(entry.FetchedAt))

	clk.Advance(time.Minute).MustWait(ctx)
	_, ok, _ = c.Get(ctx, "site_123")
	assert.False(t, ok, "entry expires at its ttl")

	require.NoError(t, c.Set(ctx, "site_123", entry, time.Minute))
	require.NoError(t, c.Delete(ctx, "site_123"))
	_, ok, _ = c.Get(ctx, "site_123")
	assert.False(t, ok)
}

func TestMemoryCache_SweepsExpired(t *testing.T) {
	ctx := context.Background()
	clk := quartz.NewMock(t)
	c := NewMemoryCache(clk)

	for i := 0; i < sweepThreshold; i++ {
		require.NoError(t, c.Set(ctx, fmt.Sprintf("site_%d", i), Entry{Website: activeSite()}, time.Second))
	}
	clk.Advance(2 * time.Second).MustWait(ctx)

	require.NoError(t, c.Set(ctx, "fresh", Entry{Website: activeSite()}, time.Minute))
	assert.Equal(t, 1, c.Len())
}

func newTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return mr, client
}

func TestRedisCache(t *testing.T) {
	ctx := context.Background()
	mr, client := newTestRedis(t)
	c := NewRedisCache(client)

	_, ok, err := c.Get(ctx, "site_123")
	require.NoError(t, err)
	assert.False(t, ok)

	fetched := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, c.Set(ctx, "site_123", Entry{Website: activeSite(), FetchedAt: fetched}, 15*time.Minute))
	assert.True(t, mr.Exists(RedisKeyPrefix+"site_123"))
	assert.Equal(t, 15*time.Minute, mr.TTL(RedisKeyPrefix+"site_123"))

	got, ok, err := c.Get(ctx, "site_123")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "site_123", got.Website.ID)
	assert.True(t, got.FetchedAt.Equal(fetched))

	mr.FastForward(16 * time.Minute)
	_, ok, err = c.Get(ctx, "site_123")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, c.Set(ctx, "site_123", Entry{Website: activeSite()}, time.Minute))
	require.NoError(t, c.Delete(ctx, "site_123"))
	assert.False(t, mr.Exists(RedisKeyPrefix+"site_123"))
}

func TestRedisCache_CorruptEntry(t *testing.T) {
	ctx := context.Background()
	mr, client := newTestRedis(t)
	c := NewRedisCache(client)

	require.NoError(t, mr.Set(RedisKeyPrefix+"site_123", "{not json"))
	_, ok, err := c.Get(ctx, "site_123")
	assert.Error(t, err)
	assert.False(t, ok)
}

func TestRedisCache_Unavailable(t *testing.T) {
	ctx := context.Background()
	mr, client := newTestRedis(t)
	c := NewRedisCache(client)
	mr.Close()

	_, _, err := c.Get(ctx, "site_123")
	assert.Error(t, err)
	assert.Error(t, c.Set(ctx, "site_123", Entry{Website: activeSite()}, time.Minute))
}
