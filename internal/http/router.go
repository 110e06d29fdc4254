package httpapi

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"beacon/internal/platform/middleware"
	"beacon/pkg/platform/httputil"
	"beacon/pkg/platform/middleware/metadata"
	"beacon/pkg/platform/middleware/requesttime"
)

// Registrar mounts a feature's routes.
type Registrar interface {
	Register(r chi.Router)
}

// HealthCheck reports whether a dependency is usable.
type HealthCheck func(ctx context.Context) error

// Deps holds everything the root router needs.
type Deps struct {
	Logger        *slog.Logger
	Gatherer      prometheus.Gatherer
	Tokens        middleware.ScopeTokens
	Scope         middleware.ScopeOptions
	AllowedOrigin string
	Checks        map[string]HealthCheck
	// Scoped routes run after the profile and session scopes are resolved.
	Scoped []Registrar
}

// NewRouter builds the root router: shared middleware, operational endpoints and
// the visitor-scoped API.
func NewRouter(d Deps) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recovery(d.Logger))
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger(d.Logger))
	r.Use(requesttime.Middleware)
	r.Use(metadata.ClientMetadata)
	r.Use(middleware.CORS(d.AllowedOrigin))

	r.Get("/healthz", healthHandler(d.Checks, d.Logger))
	if d.Gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(d.Gatherer, promhttp.HandlerOpts{}))
	}

	r.Group(func(api chi.Router) {
		api.Use(middleware.Scopes(d.Tokens, d.Scope, d.Logger))
		for _, reg := range d.Scoped {
			reg.Register(api)
		}
	})
	return r
}

// healthHandler answers 200 when every check passes and 503 otherwise. Storage
// outages are served from memory, so a failing check means degraded, not down.
func healthHandler(checks map[string]HealthCheck, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		status := http.StatusOK
		result := map[string]string{}
		for name, check := range checks {
			if err := check(ctx); err != nil {
				logger.WarnContext(ctx, "health check failed",
					"check", name,
					"error", err,
					"request_id", middleware.GetRequestID(ctx),
				)
				result[name] = "unavailable"
				status = http.StatusServiceUnavailable
				continue
			}
			result[name] = "ok"
		}
		httputil.WriteJSON(w, status, map[string]any{"checks": result})
	}
}
