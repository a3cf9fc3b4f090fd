package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"jobcore/internal/health"
	"jobcore/internal/job"
	"jobcore/internal/observability"
	"jobcore/internal/pipeline"
)

// RouterConfig holds dependencies for the router.
type RouterConfig struct {
	Jobs          *job.Orchestrator
	Pipelines     *pipeline.Manager // optional
	Metrics       *observability.Metrics
	HealthChecker *health.Checker
	APIKey        string
}

// NewRouter creates a new HTTP router with all routes configured.
func NewRouter(cfg RouterConfig) http.Handler {
	handler := NewHandler(cfg.Jobs, cfg.Pipelines, cfg.HealthChecker)

	r := chi.NewRouter()

	// Applied to every route, outermost first.
	r.Use(RecoveryMiddleware())
	r.Use(LoggingMiddleware())
	if cfg.Metrics != nil {
		r.Use(MetricsMiddleware(cfg.Metrics))
	}
	r.Use(CORSMiddleware())

	// Health check endpoints (liveness/readiness probes) - no auth required
	r.Get("/livez", handler.Livez)
	r.Get("/readyz", handler.Readyz)

	r.Group(func(r chi.Router) {
		r.Use(AuthMiddleware(cfg.APIKey))
		r.Use(ContentTypeMiddleware())

		r.Get("/v1/tasks", handler.ListTaskTypes)

		r.Route("/v1/jobs", func(r chi.Router) {
			r.Post("/", handler.StartJob)
			r.Get("/current", handler.GetCurrentJob)
			r.Get("/current/log", handler.GetFinalLog)
			r.Get("/current/tail", handler.TailJob)
			r.Delete("/current", handler.CancelJob)
		})

		r.Route("/v1/workflows", func(r chi.Router) {
			r.Get("/", handler.ListWorkflows)
			r.Route("/{pipeline}", func(r chi.Router) {
				r.Get("/", handler.GetWorkflow)
				r.Put("/config", handler.ConfigureWorkflow)
				r.Post("/steps/{index}/click", handler.ClickStep)
				r.Post("/steps/{index}/run", handler.RunStep)
				r.Post("/jump/{index}", handler.JumpToStep)
				r.Post("/reset", handler.ResetWorkflow)
				r.Get("/history", handler.GetWorkflowHistory)
			})
		})
	})

	return otelhttp.NewHandler(r, "jobcore",
		otelhttp.WithFilter(func(r *http.Request) bool {
			return r.URL.Path != "/livez" && r.URL.Path != "/readyz"
		}),
	)
}
