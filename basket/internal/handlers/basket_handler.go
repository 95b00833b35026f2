package handlers

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/databuddy-analytics/databuddy/basket/internal/apierr"
	"github.com/databuddy-analytics/databuddy/basket/internal/cors"
	"github.com/databuddy-analytics/databuddy/basket/internal/enrich"
	"github.com/databuddy-analytics/databuddy/basket/internal/metrics"
	"github.com/databuddy-analytics/databuddy/basket/internal/models"
	"github.com/databuddy-analytics/databuddy/basket/internal/ratelimit"
	"github.com/databuddy-analytics/databuddy/basket/internal/service"
	"github.com/databuddy-analytics/databuddy/basket/internal/tenant"
	"github.com/databuddy-analytics/databuddy/basket/internal/validator"
	"github.com/databuddy-analytics/databuddy/common/httputil"
	"github.com/databuddy-analytics/databuddy/common/logging"
)

// Client id transports. Beacons cannot set headers, so the query parameter
// is accepted too.
const (
	ClientIDHeader = "databuddy-client-id"
	ClientIDParam  = "client_id"
)

// DefaultMaxBodyBytes caps request bodies when no limit is configured.
const DefaultMaxBodyBytes = 1 << 20

const reasonBot = "bot"

// TenantResolver looks up the website for a client id.
type TenantResolver interface {
	Resolve(ctx context.Context, clientID string) (*models.Website, error)
}

// Ingester processes validated envelopes.
type Ingester interface {
	ProcessSingle(ctx context.Context, clientID string, env *models.RawEventEnvelope, ec models.EnrichmentContext) (*models.Result, error)
	ProcessBatch(ctx context.Context, clientID string, envs []*models.RawEventEnvelope, ec models.EnrichmentContext) []models.BatchItemResult
}

// Deps are the collaborators of a BasketHandler. Limiter may be nil.
type Deps struct {
	Tenants      TenantResolver
	CORS         *cors.Gatekeeper
	Enricher     *enrich.Enricher
	Validator    *validator.Validator
	Ingester     Ingester
	Limiter      ratelimit.RateLimiter
	Errors       *apierr.Writer
	MaxBodyBytes int64
	Logger       *logging.Logger
}

// BasketHandler serves the ingestion endpoints.
type BasketHandler struct {
	tenants   TenantResolver
	cors      *cors.Gatekeeper
	enricher  *enrich.Enricher
	validator *validator.Validator
	ingester  Ingester
	limiter   ratelimit.RateLimiter
	errs      *apierr.Writer
	maxBody   int64
	logger    *logging.Logger
}

func NewBasketHandler(d Deps) *BasketHandler {
	logger := logging.OrDefault(d.Logger).With(logging.Component("basket_handler"))
	if d.Limiter == nil {
		d.Limiter = ratelimit.NoOpRateLimiter{}
	}
	if d.MaxBodyBytes <= 0 {
		d.MaxBodyBytes = DefaultMaxBodyBytes
	}
	if d.Errors == nil {
		d.Errors = apierr.NewWriter(true, logger)
	}
	if d.Validator == nil {
		d.Validator = validator.New(validator.DefaultMaxBatchSize)
	}
	return &BasketHandler{
		tenants:   d.Tenants,
		cors:      d.CORS,
		enricher:  d.Enricher,
		validator: d.Validator,
		ingester:  d.Ingester,
		limiter:   d.Limiter,
		errs:      d.Errors,
		maxBody:   d.MaxBodyBytes,
		logger:    logger,
	}
}

// admitted is a request that passed every check before validation.
type admitted struct {
	clientID string
	body     []byte
	enriched enrich.Result
}

// HandleEvent ingests a single event.
func (h *BasketHandler) HandleEvent(w http.ResponseWriter, r *http.Request) {
	req, ok := h.admit(w, r)
	if !ok {
		return
	}
	if h.skipBot(w, r, req) {
		return
	}

	env, err := h.validator.Validate(req.body)
	if err != nil {
		h.invalid(w, r, service.EndpointSingle, err)
		return
	}

	res, err := h.ingester.ProcessSingle(r.Context(), req.clientID, env, req.enriched.Context)
	if err != nil {
		h.errs.Write(w, r, apierr.Processing(err))
		return
	}
	httputil.WriteJSON(w, http.StatusOK, res)
}

// HandleBatch ingests a JSON array of events. The whole batch is validated
// before anything is processed; processing failures are reported per item.
func (h *BasketHandler) HandleBatch(w http.ResponseWriter, r *http.Request) {
	req, ok := h.admit(w, r)
	if !ok {
		return
	}
	if h.skipBot(w, r, req) {
		return
	}

	envs, err := h.validator.ValidateBatch(req.body)
	if err != nil {
		h.invalid(w, r, service.EndpointBatch, err)
		return
	}

	processed := h.ingester.ProcessBatch(r.Context(), req.clientID, envs, req.enriched.Context)
	httputil.WriteJSON(w, http.StatusOK, models.BatchResponse{
		Status:    models.StatusSuccess,
		Message:   fmt.Sprintf("Processed %d events", len(processed)),
		Processed: processed,
	})
}

// HandlePreflight answers OPTIONS on every basket route with 204. A
// preflight without a client id is answered without a tenant.
func (h *BasketHandler) HandlePreflight(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	creq := cors.Request{Origin: r.Header.Get("Origin"), Method: http.MethodOptions}

	if clientID := httputil.QueryOrHeader(r, ClientIDHeader, ClientIDParam); clientID == "" {
		creq.Unscoped = true
	} else {
		site, err := h.tenants.Resolve(ctx, clientID)
		switch {
		case err == nil:
			creq.Domain = site.Domain
		case errors.Is(err, tenant.ErrNotFound):
		default:
			creq.LookupErr = err
		}
	}

	h.cors.Apply(w.Header(), h.cors.Decide(ctx, creq))
	w.WriteHeader(http.StatusNoContent)
}

// admit authenticates the client, applies CORS, enforces limits and reads
// the body. On failure the response has been written.
func (h *BasketHandler) admit(w http.ResponseWriter, r *http.Request) (*admitted, bool) {
	ctx := r.Context()

	clientID := httputil.QueryOrHeader(r, ClientIDHeader, ClientIDParam)
	if clientID == "" {
		h.errs.Write(w, r, apierr.Auth(http.StatusUnauthorized, apierr.MsgMissingClientID))
		return nil, false
	}

	site, err := h.tenants.Resolve(ctx, clientID)
	if err != nil {
		if errors.Is(err, tenant.ErrNotFound) {
			h.errs.Write(w, r, apierr.Auth(http.StatusUnauthorized, apierr.MsgInvalidClientID))
		} else {
			h.errs.Write(w, r, apierr.LookupFailed(err))
		}
		return nil, false
	}
	if !site.IsActive() {
		h.errs.Write(w, r, apierr.Auth(http.StatusForbidden, apierr.MsgInactive))
		return nil, false
	}

	decision := h.cors.Decide(ctx, cors.Request{
		Origin: r.Header.Get("Origin"),
		Method: r.Method,
		Domain: site.Domain,
	})
	h.cors.Apply(w.Header(), decision)
	if !decision.Allow {
		h.errs.Write(w, r, apierr.Origin())
		return nil, false
	}

	if key := h.enricher.ClientKey(r); key != "" {
		allowed, err := h.limiter.Allow(ctx, key)
		if err != nil {
			h.logger.WarnContext(ctx, "rate limiter unavailable, allowing request", logging.Error(err))
		} else if !allowed {
			h.errs.Write(w, r, apierr.Limit(http.StatusTooManyRequests, apierr.MsgRateLimited))
			return nil, false
		}
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, h.maxBody))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			h.errs.Write(w, r, apierr.Limit(http.StatusRequestEntityTooLarge, apierr.MsgTooLarge))
		} else {
			h.errs.Write(w, r, apierr.Validation([]validator.FieldError{{Message: "could not read request body"}}))
		}
		return nil, false
	}
	metrics.RequestBytesTotal.Add(float64(len(body)))

	return &admitted{
		clientID: clientID,
		body:     body,
		enriched: h.enricher.Enrich(ctx, r),
	}, true
}

// skipBot acknowledges bot traffic without processing it.
func (h *BasketHandler) skipBot(w http.ResponseWriter, r *http.Request, req *admitted) bool {
	bot := req.enriched.Bot
	if !bot.IsBot {
		return false
	}
	metrics.BotsSkipped.WithLabelValues(bot.Category).Inc()
	h.logger.DebugContext(r.Context(), "skipping bot request",
		logging.ClientID(req.clientID), logging.Bot(bot.Name))
	httputil.WriteJSON(w, http.StatusOK, models.Result{Status: models.StatusSkipped, Reason: reasonBot})
	return true
}

func (h *BasketHandler) invalid(w http.ResponseWriter, r *http.Request, endpoint string, err error) {
	metrics.ValidationFailures.WithLabelValues(endpoint).Inc()
	fields, ok := validator.IsSchemaError(err)
	if !ok {
		h.errs.Write(w, r, apierr.Internal(err))
		return
	}
	h.errs.Write(w, r, apierr.Validation(fields))
}
