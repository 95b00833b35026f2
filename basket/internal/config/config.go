package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Cache     CacheConfig     `mapstructure:"cache"`
	Directory DirectoryConfig `mapstructure:"directory"`
	CORS      CORSConfig      `mapstructure:"cors"`
	Geo       GeoConfig       `mapstructure:"geo"`
	Enrich    EnrichConfig    `mapstructure:"enrich"`
	Bots      BotsConfig      `mapstructure:"bots"`
	Ingestion IngestionConfig `mapstructure:"ingestion"`
	Dedupe    DedupeConfig    `mapstructure:"dedupe"`
	Sink      SinkConfig      `mapstructure:"sink"`
	DLQ       DLQConfig       `mapstructure:"dlq"`
	Stats     StatsConfig     `mapstructure:"stats"`
	Errors    ErrorsConfig    `mapstructure:"errors"`
}

type ServerConfig struct {
	Port            int           `mapstructure:"port"`
	Version         string        `mapstructure:"version"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	IdleTimeout     time.Duration `mapstructure:"idle_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

type RedisConfig struct {
	URL string `mapstructure:"url"`
}

// CacheConfig controls the tenant cache. Entries are fresh for FreshTTL and
// may be served for a further StaleWindow while a refresh runs.
type CacheConfig struct {
	Backend        string        `mapstructure:"backend"`
	FreshTTL       time.Duration `mapstructure:"fresh_ttl"`
	StaleWindow    time.Duration `mapstructure:"stale_window"`
	RefreshTimeout time.Duration `mapstructure:"refresh_timeout"`
}

type DirectoryConfig struct {
	Backend      string              `mapstructure:"backend"`
	DatabaseURL  string              `mapstructure:"database_url"`
	QueryTimeout time.Duration       `mapstructure:"query_timeout"`
	SeedFile     string              `mapstructure:"seed_file"`
	HTTP         HTTPDirectoryConfig `mapstructure:"http"`
}

type HTTPDirectoryConfig struct {
	URL           string        `mapstructure:"url"`
	ServiceSecret string        `mapstructure:"service_secret"`
	Timeout       time.Duration `mapstructure:"timeout"`
}

type CORSConfig struct {
	Policy         string   `mapstructure:"policy"`
	AllowedMethods []string `mapstructure:"allowed_methods"`
	AllowedHeaders []string `mapstructure:"allowed_headers"`
	MaxAge         int      `mapstructure:"max_age"`
}

type GeoConfig struct {
	DatabasePath string `mapstructure:"database_path"`
}

type EnrichConfig struct {
	IPMode string `mapstructure:"ip_mode"`
	IPSalt string `mapstructure:"ip_salt"`
}

type BotsConfig struct {
	SignaturesFile string `mapstructure:"signatures_file"`
}

type IngestionConfig struct {
	MaxBodyBytes      int64         `mapstructure:"max_body_bytes"`
	MaxBatchSize      int           `mapstructure:"max_batch_size"`
	RateLimitEnabled  bool          `mapstructure:"rate_limit_enabled"`
	RateLimitRequests int           `mapstructure:"rate_limit_requests"`
	RateLimitWindow   time.Duration `mapstructure:"rate_limit_window"`
}

type DedupeConfig struct {
	Enabled bool          `mapstructure:"enabled"`
	Backend string        `mapstructure:"backend"`
	TTL     time.Duration `mapstructure:"ttl"`
}

type SinkConfig struct {
	Backend    string           `mapstructure:"backend"`
	OpenSearch OpenSearchConfig `mapstructure:"opensearch"`
	NATS       NATSConfig       `mapstructure:"nats"`
	Kafka      KafkaConfig      `mapstructure:"kafka"`
	SQS        SQSConfig        `mapstructure:"sqs"`
}

type OpenSearchConfig struct {
	URL             string `mapstructure:"url"`
	Username        string `mapstructure:"username"`
	Password        string `mapstructure:"password"`
	TLSSkipVerify   bool   `mapstructure:"tls_skip_verify"`
	IndexPrefix     string `mapstructure:"index_prefix"`
	RefreshInterval string `mapstructure:"refresh_interval"`
	RetentionDays   int    `mapstructure:"retention_days"`
}

type NATSConfig struct {
	URL   string `mapstructure:"url"`
	Token string `mapstructure:"token"`
}

type KafkaConfig struct {
	Brokers      []string      `mapstructure:"brokers"`
	Topic        string        `mapstructure:"topic"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

type SQSConfig struct {
	QueueURL string `mapstructure:"queue_url"`
	Region   string `mapstructure:"region"`
	Endpoint string `mapstructure:"endpoint"`
}

type DLQConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Backend string `mapstructure:"backend"`
	Path    string `mapstructure:"path"`
}

type StatsConfig struct {
	Enabled       bool          `mapstructure:"enabled"`
	FlushInterval time.Duration `mapstructure:"flush_interval"`
	InstanceID    string        `mapstructure:"instance_id"`
}

// ErrorsConfig controls the error-formatting seam. ExposeInternal echoes raw
// internal error messages in 500 responses.
type ErrorsConfig struct {
	ExposeInternal bool `mapstructure:"expose_internal"`
}

func Load(configPath string) (*Config, error) {
	v := viper.New()

	// Set defaults
	v.SetDefault("server.port", 4000)
	v.SetDefault("server.version", "dev")
	v.SetDefault("server.read_timeout", "10s")
	v.SetDefault("server.write_timeout", "10s")
	v.SetDefault("server.idle_timeout", "120s")
	v.SetDefault("server.shutdown_timeout", "30s")
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("redis.url", "redis://localhost:6379/0")
	v.SetDefault("cache.backend", "memory")
	v.SetDefault("cache.fresh_ttl", "5m")
	v.SetDefault("cache.stale_window", "10m")
	v.SetDefault("cache.refresh_timeout", "5s")
	v.SetDefault("directory.backend", "memory")
	v.SetDefault("directory.query_timeout", "5s")
	v.SetDefault("directory.http.timeout", "5s")
	v.SetDefault("cors.policy", "lenient")
	v.SetDefault("cors.allowed_methods", []string{"POST", "OPTIONS", "GET"})
	v.SetDefault("cors.allowed_headers", []string{"Content-Type", "databuddy-client-id", "databuddy-sdk-name", "databuddy-sdk-version"})
	v.SetDefault("cors.max_age", 86400)
	v.SetDefault("enrich.ip_mode", "hash")
	v.SetDefault("ingestion.max_body_bytes", 1048576)
	v.SetDefault("ingestion.max_batch_size", 100)
	v.SetDefault("ingestion.rate_limit_enabled", false)
	v.SetDefault("ingestion.rate_limit_requests", 1000)
	v.SetDefault("ingestion.rate_limit_window", "1m")
	v.SetDefault("dedupe.enabled", false)
	v.SetDefault("dedupe.backend", "memory")
	v.SetDefault("dedupe.ttl", "24h")
	v.SetDefault("sink.backend", "log")
	v.SetDefault("sink.opensearch.url", "https://localhost:9200")
	v.SetDefault("sink.opensearch.username", "admin")
	v.SetDefault("sink.opensearch.tls_skip_verify", false)
	v.SetDefault("sink.opensearch.index_prefix", "databuddy-events")
	v.SetDefault("sink.opensearch.refresh_interval", "5s")
	v.SetDefault("sink.opensearch.retention_days", 90)
	v.SetDefault("sink.nats.url", "nats://localhost:4222")
	v.SetDefault("sink.kafka.brokers", []string{"localhost:9092"})
	v.SetDefault("sink.kafka.topic", "basket-events")
	v.SetDefault("sink.kafka.write_timeout", "10s")
	v.SetDefault("sink.sqs.region", "us-east-1")
	v.SetDefault("dlq.enabled", false)
	v.SetDefault("dlq.backend", "file")
	v.SetDefault("dlq.path", "/var/lib/databuddy/dlq")
	v.SetDefault("stats.enabled", false)
	v.SetDefault("stats.flush_interval", "30s")
	v.SetDefault("errors.expose_internal", true)

	// Read config file
	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/databuddy/basket")
	}

	// Environment variables override (BASKET_CACHE_FRESH_TTL -> cache.fresh_ttl)
	v.SetEnvPrefix("BASKET")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
		// Config file not found; use defaults
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate rejects configurations the service cannot run with.
func (c *Config) Validate() error {
	var errs []error

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port %d out of range", c.Server.Port))
	}
	if c.Cache.FreshTTL <= 0 {
		errs = append(errs, errors.New("cache.fresh_ttl must be positive"))
	}
	if c.Cache.StaleWindow < 0 {
		errs = append(errs, errors.New("cache.stale_window must not be negative"))
	}
	if !oneOf(c.Cache.Backend, "memory", "redis") {
		errs = append(errs, fmt.Errorf("unknown cache.backend %q", c.Cache.Backend))
	}

	switch c.Directory.Backend {
	case "memory":
	case "postgres":
		if c.Directory.DatabaseURL == "" {
			errs = append(errs, errors.New("directory.database_url is required for the postgres directory"))
		}
	case "http":
		if c.Directory.HTTP.URL == "" {
			errs = append(errs, errors.New("directory.http.url is required for the http directory"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown directory.backend %q", c.Directory.Backend))
	}

	if !oneOf(c.CORS.Policy, "lenient", "strict") {
		errs = append(errs, fmt.Errorf("unknown cors.policy %q", c.CORS.Policy))
	}
	if !oneOf(c.Enrich.IPMode, "hash", "truncate") {
		errs = append(errs, fmt.Errorf("unknown enrich.ip_mode %q", c.Enrich.IPMode))
	}
	if c.Ingestion.MaxBodyBytes <= 0 {
		errs = append(errs, errors.New("ingestion.max_body_bytes must be positive"))
	}
	if c.Ingestion.MaxBatchSize <= 0 {
		errs = append(errs, errors.New("ingestion.max_batch_size must be positive"))
	}
	if c.Ingestion.RateLimitEnabled && (c.Ingestion.RateLimitRequests <= 0 || c.Ingestion.RateLimitWindow <= 0) {
		errs = append(errs, errors.New("ingestion.rate_limit_requests and rate_limit_window must be positive"))
	}
	if c.Dedupe.Enabled {
		if !oneOf(c.Dedupe.Backend, "memory", "redis") {
			errs = append(errs, fmt.Errorf("unknown dedupe.backend %q", c.Dedupe.Backend))
		}
		if c.Dedupe.TTL <= 0 {
			errs = append(errs, errors.New("dedupe.ttl must be positive"))
		}
	}

	switch c.Sink.Backend {
	case "log", "opensearch", "jetstream":
	case "kafka":
		if len(c.Sink.Kafka.Brokers) == 0 || c.Sink.Kafka.Topic == "" {
			errs = append(errs, errors.New("sink.kafka.brokers and sink.kafka.topic are required"))
		}
	case "sqs":
		if c.Sink.SQS.QueueURL == "" {
			errs = append(errs, errors.New("sink.sqs.queue_url is required"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown sink.backend %q", c.Sink.Backend))
	}

	if c.DLQ.Enabled && !oneOf(c.DLQ.Backend, "file", "jetstream") {
		errs = append(errs, fmt.Errorf("unknown dlq.backend %q", c.DLQ.Backend))
	}
	if c.Stats.Enabled && c.Stats.FlushInterval <= 0 {
		errs = append(errs, errors.New("stats.flush_interval must be positive"))
	}

	if len(errs) > 0 {
		return fmt.Errorf("invalid config: %w", errors.Join(errs...))
	}
	return nil
}

// NeedsRedis reports whether any enabled component talks to Redis.
func (c *Config) NeedsRedis() bool {
	return c.Cache.Backend == "redis" ||
		(c.Dedupe.Enabled && c.Dedupe.Backend == "redis") ||
		c.Ingestion.RateLimitEnabled ||
		c.Stats.Enabled
}

func oneOf(v string, options ...string) bool {
	for _, o := range options {
		if v == o {
			return true
		}
	}
	return false
}
