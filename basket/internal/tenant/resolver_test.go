package tenant

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/coder/quartz"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/databuddy-analytics/databuddy/basket/internal/models"
	"github.com/databuddy-analytics/databuddy/common/logging"
)

// countingDirectory wraps a MemoryDirectory, counts calls and optionally
// blocks until release is closed.
type countingDirectory struct {
	*MemoryDirectory
	calls atomic.Int32

	mu      sync.Mutex
	release chan struct{}
	err     error
}

func newCountingDirectory(websites ...*models.Website) *countingDirectory {
	return &countingDirectory{MemoryDirectory: NewMemoryDirectory(websites...)}
}

func (d *countingDirectory) block() chan struct{} {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.release = make(chan struct{})
	return d.release
}

func (d *countingDirectory) fail(err error) {
	d.mu.Lock()
	d.err = err
	d.mu.Unlock()
}

func (d *countingDirectory) FindByID(ctx context.Context, id string) (*models.Website, error) {
	d.calls.Add(1)

	d.mu.Lock()
	release, err := d.release, d.err
	d.mu.Unlock()

	if release != nil {
		select {
		case <-release:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if err != nil {
		return nil, err
	}
	return d.MemoryDirectory.FindByID(ctx, id)
}

type failingCache struct{}

func (failingCache) Get(context.Context, string) (Entry, bool, error) {
	return Entry{}, false, errors.New("connection refused")
}
func (failingCache) Set(context.Context, string, Entry, time.Duration) error {
	return errors.New("connection refused")
}
func (failingCache) Delete(context.Context, string) error { return nil }

var testResolverConfig = ResolverConfig{
	FreshTTL:       5 * time.Minute,
	StaleWindow:    10 * time.Minute,
	RefreshTimeout: 5 * time.Second,
}

func activeSite() *models.Website {
	return &models.Website{ID: "site_123", Name: "Example", Domain: "example.com", Status: models.WebsiteStatusActive}
}

func newTestResolver(t *testing.T, dir Directory) (*Resolver, *MemoryCache, *quartz.Mock) {
	t.Helper()
	clk := quartz.NewMock(t)
	cache := NewMemoryCache(clk)
	r := NewResolver(dir, cache, testResolverConfig, WithClock(clk), WithLogger(logging.Nop()))
	t.Cleanup(r.Close)
	return r, cache, clk
}

func TestResolver_MissThenFreshHit(t *testing.T) {
	dir := newCountingDirectory(activeSite())
	r, cache, _ := newTestResolver(t, dir)
	ctx := context.Background()

	w, err := r.Resolve(ctx, "site_123")
	require.NoError(t, err)
	assert.Equal(t, "example.com", w.Domain)
	assert.Equal(t, int32(1), dir.calls.Load())

	_, ok, err := cache.Get(ctx, "site_123")
	require.NoError(t, err)
	assert.True(t, ok, "miss should populate the cache")

	for i := 0; i < 5; i++ {
		_, err := r.Resolve(ctx, "site_123")
		require.NoError(t, err)
	}
	assert.Equal(t, int32(1), dir.calls.Load(), "fresh hits must not reach the directory")
}

func TestResolver_NotFound(t *testing.T) {
	dir := newCountingDirectory()
	r, cache, _ := newTestResolver(t, dir)

	_, err := r.Resolve(context.Background(), "missing")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.NotErrorIs(t, err, ErrLookupFailed)
	assert.Equal(t, 0, cache.Len(), "unknown ids are not cached")
}

func TestResolver_LookupFailed(t *testing.T) {
	dir := newCountingDirectory(activeSite())
	dir.fail(errors.New("connection reset"))
	r, _, _ := newTestResolver(t, dir)

	_, err := r.Resolve(context.Background(), "site_123")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrLookupFailed)
	assert.NotErrorIs(t, err, ErrNotFound)
	assert.Contains(t, err.Error(), "connection reset")
}

func TestResolver_StaleServesAndRefreshesOnce(t *testing.T) {
	dir := newCountingDirectory(activeSite())
	r, _, clk := newTestResolver(t, dir)
	ctx := context.Background()

	_, err := r.Resolve(ctx, "site_123")
	require.NoError(t, err)

	clk.Advance(testResolverConfig.FreshTTL + time.Second).MustWait(ctx)

	release := dir.block()
	for i := 0; i < 3; i++ {
		w, err := r.Resolve(ctx, "site_123")
		require.NoError(t, err, "stale entries are served without waiting")
		assert.Equal(t, "site_123", w.ID)
	}

	require.Eventually(t, func() bool { return dir.calls.Load() == 2 }, time.Second, 5*time.Millisecond)
	assert.True(t, r.Refreshing("site_123"))

	close(release)
	require.Eventually(t, func() bool { return !r.Refreshing("site_123") }, time.Second, 5*time.Millisecond)
	assert.Equal(t, int32(2), dir.calls.Load(), "at most one refresh per id")

	_, err = r.Resolve(ctx, "site_123")
	require.NoError(t, err)
	assert.Equal(t, int32(2), dir.calls.Load(), "refreshed entry is fresh again")
}

func TestResolver_RefreshPicksUpChanges(t *testing.T) {
	dir := newCountingDirectory(activeSite())
	r, _, clk := newTestResolver(t, dir)
	ctx := context.Background()

	_, err := r.Resolve(ctx, "site_123")
	require.NoError(t, err)

	updated := activeSite()
	updated.Status = models.WebsiteStatusInactive
	dir.Put(updated)

	clk.Advance(testResolverConfig.FreshTTL + time.Minute).MustWait(ctx)

	w, err := r.Resolve(ctx, "site_123")
	require.NoError(t, err)
	assert.True(t, w.IsActive(), "stale value is served first")

	require.Eventually(t, func() bool {
		w, err := r.Resolve(ctx, "site_123")
		return err == nil && !w.IsActive()
	}, time.Second, 5*time.Millisecond)
}

func TestResolver_RefreshNotFoundEvicts(t *testing.T) {
	dir := newCountingDirectory(activeSite())
	r, cache, clk := newTestResolver(t, dir)
	ctx := context.Background()

	_, err := r.Resolve(ctx, "site_123")
	require.NoError(t, err)

	dir.Remove("site_123")
	clk.Advance(testResolverConfig.FreshTTL + time.Second).MustWait(ctx)

	_, err = r.Resolve(ctx, "site_123")
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		_, ok, _ := cache.Get(ctx, "site_123")
		return !ok
	}, time.Second, 5*time.Millisecond)

	_, err = r.Resolve(ctx, "site_123")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestResolver_RefreshErrorKeepsStaleEntry(t *testing.T) {
	dir := newCountingDirectory(activeSite())
	r, cache, clk := newTestResolver(t, dir)
	ctx := context.Background()

	_, err := r.Resolve(ctx, "site_123")
	require.NoError(t, err)

	dir.fail(errors.New("timeout"))
	clk.Advance(testResolverConfig.FreshTTL + time.Second).MustWait(ctx)

	_, err = r.Resolve(ctx, "site_123")
	require.NoError(t, err)
	require.Eventually(t, func() bool { return dir.calls.Load() == 2 && !r.Refreshing("site_123") }, time.Second, 5*time.Millisecond)

	_, ok, err := cache.Get(ctx, "site_123")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestResolver_ExpiredIsSynchronousMiss(t *testing.T) {
	dir := newCountingDirectory(activeSite())
	r, _, clk := newTestResolver(t, dir)
	ctx := context.Background()

	_, err := r.Resolve(ctx, "site_123")
	require.NoError(t, err)

	clk.Advance(testResolverConfig.FreshTTL + testResolverConfig.StaleWindow + time.Second).MustWait(ctx)

	dir.fail(errors.New("down"))
	_, err = r.Resolve(ctx, "site_123")
	assert.ErrorIs(t, err, ErrLookupFailed, "expired entries are not served")
	assert.Equal(t, int32(2), dir.calls.Load())
}

func TestResolver_CacheErrorDegradesToMiss(t *testing.T) {
	dir := newCountingDirectory(activeSite())
	r := NewResolver(dir, failingCache{}, testResolverConfig, WithClock(quartz.NewMock(t)), WithLogger(logging.Nop()))
	defer r.Close()

	w, err := r.Resolve(context.Background(), "site_123")
	require.NoError(t, err)
	assert.Equal(t, "site_123", w.ID)
	assert.Equal(t, int32(1), dir.calls.Load())
}

func TestResolver_CloseWaitsForRefresh(t *testing.T) {
	dir := newCountingDirectory(activeSite())
	clk := quartz.NewMock(t)
	r := NewResolver(dir, NewMemoryCache(clk), testResolverConfig, WithClock(clk), WithLogger(logging.Nop()))
	ctx := context.Background()

	_, err := r.Resolve(ctx, "site_123")
	require.NoError(t, err)
	clk.Advance(testResolverConfig.FreshTTL + time.Second).MustWait(ctx)

	dir.block()
	_, err = r.Resolve(ctx, "site_123")
	require.NoError(t, err)
	require.Eventually(t, func() bool { return dir.calls.Load() == 2 }, time.Second, 5*time.Millisecond)

	done := make(chan struct{})
	go func() {
		r.Close()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Close did not cancel the running refresh")
	}
	assert.False(t, r.Refreshing("site_123"))

	// No refreshes start after Close.
	r.refreshAsync("site_123")
	assert.False(t, r.Refreshing("site_123"))
}

func TestResolver_ConcurrentMissesShareOneLookup(t *testing.T) {
	dir := newCountingDirectory(activeSite())
	r, _, _ := newTestResolver(t, dir)
	release := dir.block()

	const callers = 8
	var wg sync.WaitGroup
	errs := make([]error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = r.Resolve(context.Background(), "site_123")
		}(i)
	}

	require.Eventually(t, func() bool { return dir.calls.Load() == 1 }, time.Second, 5*time.Millisecond)
	close(release)
	wg.Wait()

	for i, err := range errs {
		assert.NoError(t, err, "caller %d", i)
	}
	assert.Equal(t, int32(1), dir.calls.Load(), "concurrent misses collapse into one directory call")
}

func TestResolver_CanceledCallerDoesNotFailOthers(t *testing.T) {
	dir := newCountingDirectory(activeSite())
	r, cache, _ := newTestResolver(t, dir)
	release := dir.block()

	firstCtx, cancelFirst := context.WithCancel(context.Background())
	firstErr := make(chan error, 1)
	go func() {
		_, err := r.Resolve(firstCtx, "site_123")
		firstErr <- err
	}()
	require.Eventually(t, func() bool { return dir.calls.Load() == 1 }, time.Second, 5*time.Millisecond)

	secondErr := make(chan error, 1)
	go func() {
		_, err := r.Resolve(context.Background(), "site_123")
		secondErr <- err
	}()

	cancelFirst()
	select {
	case err := <-firstErr:
		assert.ErrorIs(t, err, ErrLookupFailed)
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("canceled caller did not return")
	}

	close(release)
	select {
	case err := <-secondErr:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("second caller did not return")
	}
	assert.Equal(t, int32(1), dir.calls.Load())
	assert.Equal(t, 1, cache.Len(), "shared lookup still populates the cache")
}
