package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Event ingestion metrics
	EventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "databuddy_basket_events_total",
			Help: "Total number of events by endpoint and outcome",
		},
		[]string{"endpoint", "status"},
	)

	RequestBytesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "databuddy_basket_request_bytes_total",
			Help: "Total bytes of request bodies received",
		},
	)

	BatchSize = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "databuddy_basket_batch_size",
			Help:    "Number of events per batch request",
			Buckets: []float64{1, 2, 5, 10, 25, 50, 100},
		},
	)

	RejectedRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "databuddy_basket_rejected_requests_total",
			Help: "Requests rejected before processing, by reason",
		},
		[]string{"reason"},
	)

	// Bot filtering
	BotsSkipped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "databuddy_basket_bots_skipped_total",
			Help: "Requests skipped because the user agent matched a bot signature",
		},
		[]string{"category"},
	)

	// Validation
	ValidationFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "databuddy_basket_validation_failures_total",
			Help: "Envelopes rejected by the schema validator",
		},
		[]string{"endpoint"},
	)

	// Tenant resolution
	TenantLookups = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "databuddy_basket_tenant_lookups_total",
			Help: "Tenant cache lookups by result (hit, stale, miss, not_found, error)",
		},
		[]string{"result"},
	)

	TenantRefreshes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "databuddy_basket_tenant_refreshes_total",
			Help: "Background tenant refreshes by outcome",
		},
		[]string{"outcome"},
	)

	TenantDirectoryDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "databuddy_basket_tenant_directory_duration_seconds",
			Help:    "Duration of tenant directory calls in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	// CORS
	CORSDecisions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "databuddy_basket_cors_decisions_total",
			Help: "CORS gatekeeper decisions by outcome",
		},
		[]string{"outcome"},
	)

	// Sink metrics
	SinkDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "databuddy_basket_sink_duration_seconds",
			Help:    "Duration of event sink calls in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"backend"},
	)

	SinkErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "databuddy_basket_sink_errors_total",
			Help: "Total number of event sink errors",
		},
		[]string{"backend"},
	)

	// Dedupe, rate limiting and DLQ
	DuplicatesSkipped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "databuddy_basket_duplicates_skipped_total",
			Help: "Events skipped because their eventId was already accepted",
		},
	)

	RateLimitHits = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "databuddy_basket_rate_limit_hits_total",
			Help: "Requests rejected by the rate limiter",
		},
	)

	DLQWrites = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "databuddy_basket_dlq_writes_total",
			Help: "Dead letter writes by outcome",
		},
		[]string{"outcome"},
	)
)
