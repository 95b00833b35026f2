package server

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/databuddy-analytics/databuddy/basket/internal/apierr"
	"github.com/databuddy-analytics/databuddy/basket/internal/handlers"
	"github.com/databuddy-analytics/databuddy/common/httputil"
	"github.com/databuddy-analytics/databuddy/common/logging"
	"github.com/databuddy-analytics/databuddy/common/middleware"
)

type healthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version"`
}

// NewRouter registers the basket routes on a chi router. Unknown paths and
// methods get JSON bodies.
func NewRouter(h *handlers.BasketHandler, errs *apierr.Writer, version string, logger *logging.Logger) http.Handler {
	logger = logging.OrDefault(logger)

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.AccessLog(logger.Logger))
	r.Use(middleware.Recover(logger.Logger, errs.Panic))

	health := func(w http.ResponseWriter, _ *http.Request) {
		httputil.WriteJSON(w, http.StatusOK, healthResponse{Status: "ok", Version: version})
	}
	r.Get("/", health)
	r.Get("/health", health)
	r.Handle("/metrics", promhttp.Handler())

	r.Post("/basket", h.HandleEvent)
	r.Options("/basket", h.HandlePreflight)
	r.Post("/basket/batch", h.HandleBatch)
	r.Options("/basket/batch", h.HandlePreflight)

	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		httputil.WriteError(w, http.StatusNotFound, "Not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		httputil.WriteError(w, http.StatusMethodNotAllowed, "Method not allowed")
	})

	return r
}
