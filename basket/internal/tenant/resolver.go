package tenant

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/coder/quartz"
	"golang.org/x/sync/singleflight"

	"github.com/databuddy-analytics/databuddy/basket/internal/metrics"
	"github.com/databuddy-analytics/databuddy/basket/internal/models"
	"github.com/databuddy-analytics/databuddy/common/logging"
)

// ResolverConfig holds the cache timings.
type ResolverConfig struct {
	// FreshTTL is how long an entry is served without contacting the directory.
	FreshTTL time.Duration
	// StaleWindow follows FreshTTL; stale entries are served while a
	// background refresh runs. After FreshTTL+StaleWindow an entry is gone.
	StaleWindow time.Duration
	// RefreshTimeout bounds a background refresh.
	RefreshTimeout time.Duration
}

// Resolver resolves client IDs to websites, cache-aside.
//
//   - fresh hit: returned immediately
//   - stale hit: returned immediately, one background refresh per ID
//   - miss: directory queried synchronously, concurrent misses collapsed
type Resolver struct {
	dir    Directory
	cache  Cache
	cfg    ResolverConfig
	clock  quartz.Clock
	logger *logging.Logger

	group singleflight.Group

	mu       sync.Mutex
	inflight map[string]struct{}
	wg       sync.WaitGroup

	ctx    context.Context
	cancel context.CancelFunc
}

// ResolverOption configures a Resolver.
type ResolverOption func(*Resolver)

// WithClock overrides the clock used for freshness decisions.
func WithClock(c quartz.Clock) ResolverOption {
	return func(r *Resolver) { r.clock = c }
}

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) ResolverOption {
	return func(r *Resolver) { r.logger = l }
}

// NewResolver creates a Resolver. Call Close on shutdown to wait for
// background refreshes.
func NewResolver(dir Directory, cache Cache, cfg ResolverConfig, opts ...ResolverOption) *Resolver {
	if cfg.RefreshTimeout <= 0 {
		cfg.RefreshTimeout = 5 * time.Second
	}
	ctx, cancel := context.WithCancel(context.Background())
	r := &Resolver{
		dir:      dir,
		cache:    cache,
		cfg:      cfg,
		clock:    quartz.NewReal(),
		inflight: make(map[string]struct{}),
		ctx:      ctx,
		cancel:   cancel,
	}
	for _, opt := range opts {
		opt(r)
	}
	r.logger = logging.OrDefault(r.logger).With(logging.Component("tenant_resolver"))
	return r
}

// Resolve returns the website for id. Errors wrap ErrNotFound or
// ErrLookupFailed.
func (r *Resolver) Resolve(ctx context.Context, id string) (*models.Website, error) {
	entry, ok, err := r.cache.Get(ctx, id)
	if err != nil {
		r.logger.WarnContext(ctx, "tenant cache read failed, treating as miss",
			logging.ClientID(id), logging.Error(err))
		ok = false
	}

	if ok {
		age := r.clock.Since(entry.FetchedAt)
		switch {
		case age < r.cfg.FreshTTL:
			metrics.TenantLookups.WithLabelValues("hit").Inc()
			return entry.Website, nil
		case age < r.cfg.FreshTTL+r.cfg.StaleWindow:
			metrics.TenantLookups.WithLabelValues("stale").Inc()
			r.refreshAsync(id)
			return entry.Website, nil
		}
	}

	metrics.TenantLookups.WithLabelValues("miss").Inc()
	w, err := r.load(ctx, id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			metrics.TenantLookups.WithLabelValues("not_found").Inc()
		} else {
			metrics.TenantLookups.WithLabelValues("error").Inc()
		}
		return nil, err
	}
	return w, nil
}

// load fetches id from the directory and stores it. Concurrent loads for the
// same id share one directory call. The shared call ignores the caller's
// cancellation; it is bounded by RefreshTimeout and stopped by Close.
func (r *Resolver) load(ctx context.Context, id string) (*models.Website, error) {
	ch := r.group.DoChan(id, func() (any, error) {
		lctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.cfg.RefreshTimeout)
		defer cancel()
		stop := context.AfterFunc(r.ctx, cancel)
		defer stop()

		start := time.Now()
		w, err := r.dir.FindByID(lctx, id)
		metrics.TenantDirectoryDuration.Observe(time.Since(start).Seconds())
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				return nil, ErrNotFound
			}
			return nil, fmt.Errorf("%w: %v", ErrLookupFailed, err)
		}

		entry := Entry{Website: w, FetchedAt: r.clock.Now()}
		if err := r.cache.Set(lctx, id, entry, r.cfg.FreshTTL+r.cfg.StaleWindow); err != nil {
			r.logger.WarnContext(lctx, "tenant cache write failed",
				logging.ClientID(id), logging.Error(err))
		}
		return w, nil
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*models.Website), nil
	case <-ctx.Done():
		return nil, fmt.Errorf("%w: %w", ErrLookupFailed, ctx.Err())
	}
}

// refreshAsync starts a background refresh for id unless one is running.
func (r *Resolver) refreshAsync(id string) {
	r.mu.Lock()
	if _, running := r.inflight[id]; running || r.ctx.Err() != nil {
		r.mu.Unlock()
		return
	}
	r.inflight[id] = struct{}{}
	r.wg.Add(1)
	r.mu.Unlock()

	go func() {
		defer func() {
			r.mu.Lock()
			delete(r.inflight, id)
			r.mu.Unlock()
			r.wg.Done()
		}()

		ctx, cancel := context.WithTimeout(r.ctx, r.cfg.RefreshTimeout)
		defer cancel()

		_, err := r.load(ctx, id)
		switch {
		case err == nil:
			metrics.TenantRefreshes.WithLabelValues("ok").Inc()
		case errors.Is(err, ErrNotFound):
			metrics.TenantRefreshes.WithLabelValues("evicted").Inc()
			if delErr := r.cache.Delete(ctx, id); delErr != nil {
				r.logger.WarnContext(ctx, "failed to evict removed website",
					logging.ClientID(id), logging.Error(delErr))
			}
		default:
			metrics.TenantRefreshes.WithLabelValues("error").Inc()
			r.logger.WarnContext(ctx, "background tenant refresh failed",
				logging.ClientID(id), logging.Error(err))
		}
	}()
}

// Refreshing reports whether a background refresh for id is in flight.
func (r *Resolver) Refreshing(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.inflight[id]
	return ok
}

// Close stops new refreshes and waits for running ones.
func (r *Resolver) Close() {
	r.mu.Lock()
	r.cancel()
	r.mu.Unlock()
	r.wg.Wait()
}
