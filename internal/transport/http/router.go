package http

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/Bmw4134/portalflow/internal/middleware"
	"github.com/Bmw4134/portalflow/internal/store"
	"github.com/Bmw4134/portalflow/internal/tasks"
	"github.com/Bmw4134/portalflow/internal/websocket"
)

// RouterConfig carries the collaborators the HTTP surface serves.
type RouterConfig struct {
	Workflows   WorkflowService
	Credentials *store.CredentialStore
	Tracker     *tasks.Tracker
	Hub         *websocket.Hub
	Metrics     prometheus.Gatherer
	Logger      *slog.Logger
	Version     string
}

// NewRouter assembles the middleware chain and mounts all handlers.
func NewRouter(cfg RouterConfig) chi.Router {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Tracing("portalflow"))
	r.Use(middleware.StructuredLogger(logger))
	r.Use(middleware.Recoverer(logger))
	r.Use(middleware.SecurityHeaders)
	r.Use(middleware.Compress(5))

	r.Route("/api", func(api chi.Router) {
		api.Mount("/health", NewHealthHandler(cfg.Version, logger).Routes())
		api.Mount("/workflows", NewWorkflowsHandler(cfg.Workflows, logger).Routes())
		api.Mount("/credentials", NewCredentialsHandler(cfg.Credentials, logger).Routes())
		api.Mount("/tasks", NewTasksHandler(cfg.Tracker, logger).Routes())
	})

	if cfg.Hub != nil {
		r.Get("/ws", func(w http.ResponseWriter, req *http.Request) {
			websocket.ServeWS(cfg.Hub, w, req)
		})
	}

	if cfg.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(cfg.Metrics, promhttp.HandlerOpts{}))
	}

	return r
}
