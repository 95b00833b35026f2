package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/databuddy-analytics/databuddy/basket/internal/apierr"
	"github.com/databuddy-analytics/databuddy/basket/internal/cors"
	"github.com/databuddy-analytics/databuddy/basket/internal/enrich"
	"github.com/databuddy-analytics/databuddy/basket/internal/handlers"
	"github.com/databuddy-analytics/databuddy/basket/internal/models"
	"github.com/databuddy-analytics/databuddy/basket/internal/tenant"
	"github.com/databuddy-analytics/databuddy/common/logging"
	"github.com/databuddy-analytics/databuddy/common/middleware"
)

type staticTenants map[string]*models.Website

func (s staticTenants) Resolve(_ context.Context, id string) (*models.Website, error) {
	if site, ok := s[id]; ok {
		return site, nil
	}
	return nil, tenant.ErrNotFound
}

type acceptAll struct{}

func (acceptAll) ProcessSingle(_ context.Context, _ string, env *models.RawEventEnvelope, _ models.EnrichmentContext) (*models.Result, error) {
	return &models.Result{Status: models.StatusSuccess, Type: env.Type, EventID: "evt_1"}, nil
}

func (acceptAll) ProcessBatch(_ context.Context, _ string, envs []*models.RawEventEnvelope, _ models.EnrichmentContext) []models.BatchItemResult {
	out := make([]models.BatchItemResult, len(envs))
	for i := range envs {
		out[i] = models.BatchItemResult{Status: models.StatusSuccess}
	}
	return out
}

func newTestRouter(t *testing.T) http.Handler {
	t.Helper()
	logger := logging.Nop()
	errs := apierr.NewWriter(true, logger)
	h := handlers.NewBasketHandler(handlers.Deps{
		Tenants: staticTenants{"site_123": {ID: "site_123", Domain: "example.com", Status: models.WebsiteStatusActive}},
		CORS: cors.New(middleware.CORSHeaders{
			AllowedMethods: []string{"POST", "OPTIONS", "GET"},
			AllowedHeaders: []string{"Content-Type", handlers.ClientIDHeader},
		}, cors.PolicyLenient, logger),
		Enricher: enrich.New(nil, nil, nil, logger),
		Ingester: acceptAll{},
		Errors:   errs,
		Logger:   logger,
	})
	return NewRouter(h, errs, "1.2.3", logger)
}

func TestNewRouter(t *testing.T) {
	if newTestRouter(t) == nil {
		t.Fatal("NewRouter() returned nil")
	}
}

func TestRouter_Health(t *testing.T) {
	router := newTestRouter(t)

	for _, path := range []string{"/", "/health"} {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		rr := httptest.NewRecorder()
		router.ServeHTTP(rr, req)

		if rr.Code != http.StatusOK {
			t.Errorf("GET %s status = %d, want %d", path, rr.Code, http.StatusOK)
		}
		var body healthResponse
		if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
			t.Fatalf("GET %s body: %v", path, err)
		}
		if body.Status != "ok" || body.Version != "1.2.3" {
			t.Errorf("GET %s body = %+v", path, body)
		}
		if rr.Header().Get("X-Request-ID") == "" {
			t.Errorf("GET %s missing X-Request-ID", path)
		}
	}
}

func TestRouter_Metrics(t *testing.T) {
	router := newTestRouter(t)

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Errorf("/metrics status = %d", rr.Code)
	}
	if !strings.Contains(rr.Body.String(), "go_goroutines") {
		t.Error("/metrics should expose the default registry")
	}
}

func TestRouter_BasketEndpoints(t *testing.T) {
	router := newTestRouter(t)

	tests := []struct {
		method string
		path   string
		body   string
		want   int
	}{
		{http.MethodPost, "/basket", `{"type":"track","payload":{"name":"x"}}`, http.StatusOK},
		{http.MethodPost, "/basket/batch", `[{"type":"track","payload":{"name":"x"}}]`, http.StatusOK},
		{http.MethodOptions, "/basket", "", http.StatusNoContent},
		{http.MethodOptions, "/basket/batch", "", http.StatusNoContent},
	}

	for _, tt := range tests {
		t.Run(tt.method+" "+tt.path, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, tt.path, strings.NewReader(tt.body))
			req.Header.Set(handlers.ClientIDHeader, "site_123")
			rr := httptest.NewRecorder()
			router.ServeHTTP(rr, req)

			if rr.Code != tt.want {
				t.Errorf("status = %d, want %d (body %s)", rr.Code, tt.want, rr.Body.String())
			}
		})
	}
}

func TestRouter_NotFoundAndMethodNotAllowed(t *testing.T) {
	router := newTestRouter(t)

	req := httptest.NewRequest(http.MethodGet, "/nope", nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	if rr.Code != http.StatusNotFound {
		t.Errorf("GET /nope status = %d", rr.Code)
	}
	if got := strings.TrimSpace(rr.Body.String()); got != `{"error":"Not found"}` {
		t.Errorf("GET /nope body = %s", got)
	}

	req = httptest.NewRequest(http.MethodGet, "/basket", nil)
	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	if rr.Code != http.StatusMethodNotAllowed {
		t.Errorf("GET /basket status = %d, want 405", rr.Code)
	}
}
