package routes

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/upb/grc-control-plane/handlers"
	"github.com/upb/grc-control-plane/middleware"
	"github.com/upb/grc-control-plane/utils"
	"go.uber.org/zap"
)

// Handlers groups the handlers mounted on the ops router. Metrics is nil when
// metrics are disabled.
type Handlers struct {
	Health  *handlers.HealthHandler
	Rules   *handlers.RulesHandler
	Metrics http.Handler
}

// SetupRoutes configures the ops routes and middleware
func SetupRoutes(h Handlers, logger *zap.Logger) http.Handler {
	r := chi.NewRouter()

	// Core middleware
	r.Use(chimw.RequestID)
	r.Use(middleware.RequestContext)
	r.Use(chimw.RealIP)
	r.Use(middleware.RequestLogger(logger))
	r.Use(chimw.Recoverer)
	r.Use(chimw.Timeout(30 * time.Second))

	// Health check endpoints
	r.Get("/healthz", h.Health.HandleHealth)
	r.Get("/readyz", h.Health.HandleReadiness)

	// Policy rule set introspection
	r.Route("/rules", func(r chi.Router) {
		r.Get("/", h.Rules.HandleList)
		r.Post("/evaluate", h.Rules.HandleEvaluate)
	})

	if h.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", h.Metrics)
	}

	// 404 handler
	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		_ = utils.WriteError(w, http.StatusNotFound, "endpoint not found", nil)
	})

	return r
}
