package transport

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/pitabwire/intake/internal/config"
	"github.com/pitabwire/intake/internal/observability"
	"github.com/pitabwire/intake/model"
)

// Dependencies holds all injected dependencies for the HTTP transport layer.
type Dependencies struct {
	Config    *config.Config
	Logger    *zap.Logger
	Metrics   *observability.Metrics
	Gatherer  prometheus.Gatherer
	Readiness observability.ReadinessChecks

	// Routes registers the API under the configured base path.
	Routes func(chi.Router)
}

// NewRouter creates a chi.Router with the full middleware pipeline. Health,
// readiness, and metrics live at the root; the API is mounted under
// Server.BasePath.
func NewRouter(deps Dependencies) chi.Router {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	r := chi.NewRouter()

	r.Use(Recovery(logger))
	r.Use(RequestID)
	r.Use(SecurityHeaders)

	r.Get("/health", observability.HandleHealth())
	r.Get("/ready", observability.HandleReady(deps.Readiness))
	if deps.Config.Observability.Metrics.Enabled {
		path := deps.Config.Observability.Metrics.Path
		if path == "" {
			path = "/metrics"
		}
		r.Method(http.MethodGet, path, observability.Handler(deps.Gatherer))
	}

	api := func(r chi.Router) {
		r.Use(observability.TracingMiddleware)
		r.Use(deps.Metrics.MetricsMiddleware)
		r.Use(HandlerTimeout(deps.Config.Server.HandlerTimeout))
		r.Use(RequestLogging(logger))
		if deps.Routes != nil {
			deps.Routes(r)
		}
	}

	if base := deps.Config.Server.BasePath; base != "" && base != "/" {
		r.Route(base, api)
	} else {
		r.Group(api)
	}

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		WriteNotFound(w, "no route for "+r.URL.Path)
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		WriteError(w, model.NewStatusError(http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", ""))
	})

	return r
}
