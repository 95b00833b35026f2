package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/coder/quartz"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/databuddy-analytics/databuddy/basket/internal/apierr"
	"github.com/databuddy-analytics/databuddy/basket/internal/bots"
	"github.com/databuddy-analytics/databuddy/basket/internal/config"
	"github.com/databuddy-analytics/databuddy/basket/internal/cors"
	"github.com/databuddy-analytics/databuddy/basket/internal/dedupe"
	"github.com/databuddy-analytics/databuddy/basket/internal/dlq"
	"github.com/databuddy-analytics/databuddy/basket/internal/enrich"
	"github.com/databuddy-analytics/databuddy/basket/internal/geo"
	"github.com/databuddy-analytics/databuddy/basket/internal/handlers"
	"github.com/databuddy-analytics/databuddy/basket/internal/ratelimit"
	"github.com/databuddy-analytics/databuddy/basket/internal/server"
	"github.com/databuddy-analytics/databuddy/basket/internal/service"
	"github.com/databuddy-analytics/databuddy/basket/internal/sink"
	"github.com/databuddy-analytics/databuddy/basket/internal/stats"
	"github.com/databuddy-analytics/databuddy/basket/internal/tenant"
	"github.com/databuddy-analytics/databuddy/basket/internal/validator"
	"github.com/databuddy-analytics/databuddy/common/logging"
	"github.com/databuddy-analytics/databuddy/common/middleware"

	natsclient "github.com/databuddy-analytics/databuddy/common/messaging/nats"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the ingestion HTTP server",
	RunE:  runServe,
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return err
	}
	if cfg.Server.Version == "" || cfg.Server.Version == "dev" {
		cfg.Server.Version = version
	}

	logger := logging.New(
		logging.ParseLevel(cfg.Logging.Level),
		cfg.Logging.Format,
	).With(logging.Service("basket"))
	logging.SetDefault(logger)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := buildApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.close()

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      a.handler,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("basket listening",
			"addr", srv.Addr,
			"version", cfg.Server.Version,
			"sink", cfg.Sink.Backend,
			"directory", cfg.Directory.Backend,
			"cache", cfg.Cache.Backend)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}
	logger.Info("server stopped")
	return nil
}

// app is the wired service. closers run in reverse order on shutdown.
type app struct {
	handler http.Handler
	closers []func()
	logger  *logging.Logger
}

func (a *app) onClose(fn func()) { a.closers = append(a.closers, fn) }

func (a *app) onCloseErr(name string, fn func() error) {
	a.onClose(func() {
		if err := fn(); err != nil {
			a.logger.Warn("close failed", "component", name, logging.Error(err))
		}
	})
}

func (a *app) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}

func buildApp(ctx context.Context, cfg *config.Config, logger *logging.Logger) (_ *app, err error) {
	a := &app{logger: logger}
	defer func() {
		if err != nil {
			a.close()
		}
	}()

	var rdb *redis.Client
	if cfg.NeedsRedis() {
		if rdb, err = connectRedis(ctx, cfg.Redis.URL); err != nil {
			return nil, err
		}
		a.onCloseErr("redis", rdb.Close)
	}

	var nc *natsclient.JetStreamClient
	natsConn := func() (*natsclient.JetStreamClient, error) {
		if nc != nil {
			return nc, nil
		}
		ncfg := natsclient.DefaultConfig()
		ncfg.URL = cfg.Sink.NATS.URL
		ncfg.Token = cfg.Sink.NATS.Token
		ncfg.Logger = logger.Logger
		c, err := natsclient.NewJetStreamClient(ncfg)
		if err != nil {
			return nil, err
		}
		nc = c
		a.onCloseErr("nats", c.Close)
		return c, nil
	}

	dir, err := buildDirectory(ctx, cfg, a)
	if err != nil {
		return nil, err
	}

	var cache tenant.Cache
	switch cfg.Cache.Backend {
	case "redis":
		cache = tenant.NewRedisCache(rdb)
	default:
		cache = tenant.NewMemoryCache(quartz.NewReal())
	}

	resolver := tenant.NewResolver(dir, cache, tenant.ResolverConfig{
		FreshTTL:       cfg.Cache.FreshTTL,
		StaleWindow:    cfg.Cache.StaleWindow,
		RefreshTimeout: cfg.Cache.RefreshTimeout,
	}, tenant.WithLogger(logger))
	a.onClose(resolver.Close)

	lookup, closeGeo, err := geo.Open(cfg.Geo.DatabasePath)
	if err != nil {
		return nil, fmt.Errorf("open geo database: %w", err)
	}
	a.onCloseErr("geo", closeGeo)

	matcher := bots.Default()
	if cfg.Bots.SignaturesFile != "" {
		if matcher, err = bots.LoadFile(cfg.Bots.SignaturesFile); err != nil {
			return nil, err
		}
	}
	logger.Info("bot signatures loaded", logging.Count(matcher.Len()))

	enricher := enrich.New(matcher, lookup, enrich.NewAnonymizer(cfg.Enrich.IPMode, cfg.Enrich.IPSalt), logger)

	backend, err := buildSink(ctx, cfg, logger, natsConn)
	if err != nil {
		return nil, err
	}
	logger.Info("event sink ready", "backend", backend.Backend())
	// The JetStream sink's publisher is the shared NATS client, closed above.
	if cfg.Sink.Backend != "jetstream" {
		a.onCloseErr("sink", backend.Close)
	}

	opts := service.Options{}

	if cfg.DLQ.Enabled {
		switch cfg.DLQ.Backend {
		case "jetstream":
			c, err := natsConn()
			if err != nil {
				return nil, fmt.Errorf("connect to NATS for dlq: %w", err)
			}
			if err := c.CreateOrUpdateStream(ctx, natsclient.DLQStream); err != nil {
				return nil, err
			}
			if opts.DLQ, err = dlq.NewJetStreamQueue(c); err != nil {
				return nil, err
			}
		default:
			q, err := dlq.NewFileQueue(cfg.DLQ.Path)
			if err != nil {
				return nil, err
			}
			opts.DLQ = q
			logger.Warn("file dead letter queue is local to this instance", "path", cfg.DLQ.Path)
		}
		q := opts.DLQ
		a.onClose(func() { logger.Info("dead letter queue", "stats", q.Stats()) })
	}

	if cfg.Dedupe.Enabled {
		switch cfg.Dedupe.Backend {
		case "redis":
			opts.Dedupe = dedupe.NewRedisStore(rdb, cfg.Dedupe.TTL)
		default:
			opts.Dedupe = dedupe.NewMemoryStore(cfg.Dedupe.TTL, quartz.NewReal())
		}
	}

	if cfg.Stats.Enabled {
		instanceID := cfg.Stats.InstanceID
		if instanceID == "" {
			hostname, _ := os.Hostname()
			instanceID = fmt.Sprintf("%s-%d", hostname, os.Getpid())
		}
		collector := stats.NewCollector(stats.NewClient(rdb, instanceID, nil), cfg.Stats.FlushInterval, logger)
		opts.Stats = collector
		a.onClose(func() {
			collector.Stop()
			if pending := collector.Pending(); len(pending) > 0 {
				logger.Warn("usage stats lost on shutdown", "websites", len(pending))
			}
		})
	}

	var limiter ratelimit.RateLimiter = ratelimit.NoOpRateLimiter{}
	if cfg.Ingestion.RateLimitEnabled {
		limiter = ratelimit.NewRedisRateLimiter(rdb, cfg.Ingestion.RateLimitRequests, cfg.Ingestion.RateLimitWindow)
	}

	policy, err := cors.ParsePolicy(cfg.CORS.Policy)
	if err != nil {
		return nil, err
	}
	gatekeeper := cors.New(middleware.CORSHeaders{
		AllowedMethods: cfg.CORS.AllowedMethods,
		AllowedHeaders: cfg.CORS.AllowedHeaders,
		MaxAge:         cfg.CORS.MaxAge,
	}, policy, logger)
	logger.Info("cors policy", "policy", gatekeeper.Policy())

	errs := apierr.NewWriter(cfg.Errors.ExposeInternal, logger)

	h := handlers.NewBasketHandler(handlers.Deps{
		Tenants:      resolver,
		CORS:         gatekeeper,
		Enricher:     enricher,
		Validator:    validator.New(cfg.Ingestion.MaxBatchSize),
		Ingester:     service.NewIngestService(backend, opts, logger),
		Limiter:      limiter,
		Errors:       errs,
		MaxBodyBytes: cfg.Ingestion.MaxBodyBytes,
		Logger:       logger,
	})
	a.handler = server.NewRouter(h, errs, cfg.Server.Version, logger)

	return a, nil
}

func connectRedis(ctx context.Context, url string) (*redis.Client, error) {
	opt, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("invalid redis URL: %w", err)
	}
	rdb := redis.NewClient(opt)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis connection failed: %w", err)
	}
	return rdb, nil
}

func buildDirectory(ctx context.Context, cfg *config.Config, a *app) (tenant.Directory, error) {
	switch cfg.Directory.Backend {
	case "postgres":
		d, err := tenant.NewPostgresDirectory(ctx, cfg.Directory.DatabaseURL, cfg.Directory.QueryTimeout)
		if err != nil {
			return nil, err
		}
		a.onClose(d.Close)
		return d, nil
	case "http":
		return tenant.NewHTTPDirectory(cfg.Directory.HTTP.URL, cfg.Directory.HTTP.ServiceSecret, cfg.Directory.HTTP.Timeout), nil
	default:
		if cfg.Directory.SeedFile == "" {
			a.logger.Warn("memory directory has no seed file, every client id will be rejected")
			return tenant.NewMemoryDirectory(), nil
		}
		return tenant.LoadMemoryDirectory(cfg.Directory.SeedFile)
	}
}

func buildSink(ctx context.Context, cfg *config.Config, logger *logging.Logger, natsConn func() (*natsclient.JetStreamClient, error)) (*sink.Instrumented, error) {
	var s sink.Sink

	switch cfg.Sink.Backend {
	case "opensearch":
		osCfg := sink.DefaultOpenSearchConfig()
		osCfg.URL = cfg.Sink.OpenSearch.URL
		osCfg.Username = cfg.Sink.OpenSearch.Username
		osCfg.Password = cfg.Sink.OpenSearch.Password
		osCfg.TLSSkipVerify = cfg.Sink.OpenSearch.TLSSkipVerify
		osCfg.IndexPrefix = cfg.Sink.OpenSearch.IndexPrefix
		osCfg.RefreshInterval = cfg.Sink.OpenSearch.RefreshInterval
		osCfg.RetentionDays = cfg.Sink.OpenSearch.RetentionDays

		search, err := sink.NewOpenSearch(osCfg, logger)
		if err != nil {
			return nil, err
		}
		initCtx, cancel := context.WithTimeout(ctx, 60*time.Second)
		if err := search.Initialize(initCtx); err != nil {
			logger.Warn("failed to initialize OpenSearch, events may fail to index until it is configured",
				logging.Error(err))
		}
		cancel()
		s = search

	case "jetstream":
		c, err := natsConn()
		if err != nil {
			return nil, fmt.Errorf("connect to NATS for sink: %w", err)
		}
		if err := c.CreateOrUpdateStream(ctx, natsclient.EventsStream); err != nil {
			return nil, err
		}
		s = sink.NewJetStream(c)

	case "kafka":
		s = sink.NewKafka(sink.KafkaConfig{
			Brokers:      cfg.Sink.Kafka.Brokers,
			Topic:        cfg.Sink.Kafka.Topic,
			WriteTimeout: cfg.Sink.Kafka.WriteTimeout,
		})

	case "sqs":
		q, err := sink.NewSQS(ctx, sink.SQSConfig{
			QueueURL: cfg.Sink.SQS.QueueURL,
			Region:   cfg.Sink.SQS.Region,
			Endpoint: cfg.Sink.SQS.Endpoint,
		})
		if err != nil {
			return nil, err
		}
		s = q

	default:
		s = sink.NewLogSink(os.Stdout)
	}

	return sink.Instrument(cfg.Sink.Backend, s), nil
}
