package sink

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/opensearch-project/opensearch-go/v2"
	"github.com/opensearch-project/opensearch-go/v2/opensearchapi"

	"github.com/databuddy-analytics/databuddy/basket/internal/models"
	"github.com/databuddy-analytics/databuddy/common/logging"
)

// OpenSearchConfig holds connection and index management settings.
type OpenSearchConfig struct {
	URL             string
	Username        string
	Password        string
	TLSSkipVerify   bool
	IndexPrefix     string
	ShardCount      int
	ReplicaCount    int
	RefreshInterval string
	RetentionDays   int
	RolloverSizeGB  int
	RolloverAge     time.Duration
}

// DefaultOpenSearchConfig returns defaults for a single-node cluster.
func DefaultOpenSearchConfig() OpenSearchConfig {
	return OpenSearchConfig{
		URL:             "https://localhost:9200",
		IndexPrefix:     "databuddy-events",
		ShardCount:      1,
		ReplicaCount:    0,
		RefreshInterval: "5s",
		RetentionDays:   90,
		RolloverSizeGB:  50,
		RolloverAge:     24 * time.Hour,
	}
}

// OpenSearch indexes each event as a document keyed by its event id.
type OpenSearch struct {
	client      *opensearch.Client
	config      OpenSearchConfig
	logger      *logging.Logger
	initialized bool
}

// NewOpenSearch creates the client. Call Initialize before the first event.
func NewOpenSearch(cfg OpenSearchConfig, logger *logging.Logger) (*OpenSearch, error) {
	transport := &http.Transport{
		TLSClientConfig: &tls.Config{
			InsecureSkipVerify: cfg.TLSSkipVerify,
		},
	}

	client, err := opensearch.NewClient(opensearch.Config{
		Addresses: []string{cfg.URL},
		Username:  cfg.Username,
		Password:  cfg.Password,
		Transport: transport,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create opensearch client: %w", err)
	}

	return &OpenSearch{
		client: client,
		config: cfg,
		logger: logging.OrDefault(logger).With(logging.Component("sink_opensearch")),
	}, nil
}

// Initialize sets up the index template, the ISM policy and the first
// write index.
func (s *OpenSearch) Initialize(ctx context.Context) error {
	if s.initialized {
		return nil
	}

	info, err := s.client.Info(s.client.Info.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("failed to connect to opensearch: %w", err)
	}
	defer info.Body.Close()
	if info.IsError() {
		return fmt.Errorf("opensearch returned error: %s", info.Status())
	}

	if err := s.createIndexTemplate(ctx); err != nil {
		return fmt.Errorf("failed to create index template: %w", err)
	}
	if err := s.createISMPolicy(ctx); err != nil {
		return fmt.Errorf("failed to create ISM policy: %w", err)
	}
	if err := s.createInitialIndex(ctx); err != nil {
		return fmt.Errorf("failed to create initial index: %w", err)
	}

	s.initialized = true
	s.logger.Info("opensearch initialized", "index_prefix", s.config.IndexPrefix)
	return nil
}

// WriteAlias is the alias events are indexed through.
func (s *OpenSearch) WriteAlias() string {
	return s.config.IndexPrefix + "-write"
}

func (s *OpenSearch) currentWriteIndex() string {
	return fmt.Sprintf("%s-%s-000001", s.config.IndexPrefix, time.Now().UTC().Format("2006.01.02"))
}

func (s *OpenSearch) Process(ctx context.Context, ev *models.CanonicalEvent) (*models.Result, error) {
	body, err := json.Marshal(ev)
	if err != nil {
		return nil, fmt.Errorf("encode event: %w", err)
	}

	req := opensearchapi.IndexRequest{
		Index:      s.WriteAlias(),
		DocumentID: ev.ID,
		Body:       bytes.NewReader(body),
		OpType:     "create",
	}
	res, err := req.Do(ctx, s.client)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSinkUnavailable, err)
	}
	defer res.Body.Close()

	// A conflict means this event id is already stored.
	if res.IsError() && res.StatusCode != http.StatusConflict {
		msg, _ := io.ReadAll(io.LimitReader(res.Body, 1024))
		return nil, fmt.Errorf("%w: index returned %s: %s", ErrSinkUnavailable, res.Status(), bytes.TrimSpace(msg))
	}
	return Accepted(ev), nil
}

func (s *OpenSearch) Close() error { return nil }

func (s *OpenSearch) createIndexTemplate(ctx context.Context) error {
	template := map[string]any{
		"index_patterns": []string{s.config.IndexPrefix + "-*"},
		"template": map[string]any{
			"settings": map[string]any{
				"number_of_shards":   s.config.ShardCount,
				"number_of_replicas": s.config.ReplicaCount,
				"refresh_interval":   s.config.RefreshInterval,
				"codec":              "best_compression",
			},
			"mappings": eventMappings(),
		},
		"priority": 100,
	}

	body, err := json.Marshal(template)
	if err != nil {
		return err
	}

	res, err := s.client.Indices.PutIndexTemplate(
		s.config.IndexPrefix+"-template",
		bytes.NewReader(body),
		s.client.Indices.PutIndexTemplate.WithContext(ctx),
	)
	if err != nil {
		return err
	}
	defer res.Body.Close()

	if res.IsError() {
		bodyBytes, _ := io.ReadAll(res.Body)
		return fmt.Errorf("%s - %s", res.Status(), string(bodyBytes))
	}
	return nil
}

func keyword() map[string]any { return map[string]any{"type": "keyword"} }

func eventMappings() map[string]any {
	props := map[string]any{
		"time":           map[string]any{"type": "date"},
		"ingested_at":    map[string]any{"type": "date"},
		"schema_version": map[string]any{"type": "integer"},
		"session_start":  map[string]any{"type": "date", "format": "epoch_millis"},
		"ip":             keyword(),
		"url":            map[string]any{"type": "keyword", "ignore_above": 2048},
		"referrer":       map[string]any{"type": "keyword", "ignore_above": 2048},
		"title":          map[string]any{"type": "text"},
		"user_agent":     map[string]any{"type": "text"},
		"__raw_properties": map[string]any{
			"type":    "object",
			"enabled": false,
		},
		"__enriched": map[string]any{
			"type":    "object",
			"enabled": false,
		},
	}
	for _, f := range []string{
		"id", "client_id", "event_type", "event_name", "anonymous_id", "session_id", "previous_id",
		"path", "referrer_domain", "referrer_type", "referrer_name",
		"browser", "browser_version", "os", "os_version", "device_type",
		"screen_resolution", "viewport_size", "language", "timezone",
		"country", "region", "city", "connection_type",
		"utm_source", "utm_medium", "utm_campaign", "utm_term", "utm_content",
		"sdk_name", "sdk_version",
	} {
		props[f] = keyword()
	}
	for _, f := range []string{
		"load_time", "dom_ready_time", "dom_interactive", "ttfb", "connection_time",
		"request_time", "render_time", "redirect_time", "domain_lookup_time",
		"fcp", "lcp", "cls", "fid", "inp", "rtt", "downlink",
		"time_on_page", "scroll_depth", "value",
	} {
		props[f] = map[string]any{"type": "double"}
	}
	for _, f := range []string{"interaction_count", "page_count"} {
		props[f] = map[string]any{"type": "long"}
	}
	for _, f := range []string{"exit_intent", "is_bounce"} {
		props[f] = map[string]any{"type": "boolean"}
	}

	return map[string]any{
		"dynamic":    false,
		"properties": props,
	}
}

func (s *OpenSearch) createISMPolicy(ctx context.Context) error {
	policy := map[string]any{
		"policy": map[string]any{
			"description":   "Databuddy events index lifecycle policy",
			"default_state": "hot",
			"states": []map[string]any{
				{
					"name": "hot",
					"actions": []map[string]any{
						{
							"rollover": map[string]any{
								"min_size":      fmt.Sprintf("%dGB", s.config.RolloverSizeGB),
								"min_index_age": formatDurationForOpenSearch(s.config.RolloverAge),
							},
						},
					},
					"transitions": []map[string]any{
						{
							"state_name": "delete",
							"conditions": map[string]any{
								"min_index_age": fmt.Sprintf("%dd", s.config.RetentionDays),
							},
						},
					},
				},
				{
					"name": "delete",
					"actions": []map[string]any{
						{"delete": map[string]any{}},
					},
				},
			},
		},
	}

	body, err := json.Marshal(policy)
	if err != nil {
		return err
	}

	path := "/_plugins/_ism/policies/" + s.config.IndexPrefix + "-policy"
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, path, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	res, err := s.client.Transport.Perform(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()

	// 409 means the policy already exists.
	if res.StatusCode >= 400 && res.StatusCode != http.StatusConflict {
		bodyBytes, _ := io.ReadAll(res.Body)
		return fmt.Errorf("%d - %s", res.StatusCode, string(bodyBytes))
	}
	return nil
}

func (s *OpenSearch) createInitialIndex(ctx context.Context) error {
	aliasRes, err := s.client.Indices.ExistsAlias([]string{s.WriteAlias()},
		s.client.Indices.ExistsAlias.WithContext(ctx))
	if err != nil {
		return err
	}
	aliasRes.Body.Close()
	if aliasRes.StatusCode == http.StatusOK {
		return nil
	}

	indexName := s.currentWriteIndex()
	aliases := map[string]any{
		"aliases": map[string]any{
			s.WriteAlias(): map[string]any{"is_write_index": true},
		},
	}
	body, err := json.Marshal(aliases)
	if err != nil {
		return err
	}

	res, err := s.client.Indices.Create(indexName,
		s.client.Indices.Create.WithBody(bytes.NewReader(body)),
		s.client.Indices.Create.WithContext(ctx))
	if err != nil {
		return err
	}
	defer res.Body.Close()

	if res.IsError() {
		bodyBytes, _ := io.ReadAll(res.Body)
		return fmt.Errorf("%s - %s", res.Status(), string(bodyBytes))
	}
	s.logger.Info("created write index", "index", indexName, "alias", s.WriteAlias())
	return nil
}

// formatDurationForOpenSearch renders d as "7d" or "36h".
func formatDurationForOpenSearch(d time.Duration) string {
	hours := int(d.Hours())
	if hours%24 == 0 {
		return fmt.Sprintf("%dd", hours/24)
	}
	return fmt.Sprintf("%dh", hours)
}
