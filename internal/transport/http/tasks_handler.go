package http

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"

	apierrors "github.com/Bmw4134/portalflow/internal/errors"
	"github.com/Bmw4134/portalflow/internal/middleware"
	"github.com/Bmw4134/portalflow/internal/tasks"
)

// TasksHandler exposes the automation task tracker.
type TasksHandler struct {
	tracker *tasks.Tracker
	logger  *slog.Logger
}

// NewTasksHandler creates a new tasks handler.
func NewTasksHandler(tracker *tasks.Tracker, logger *slog.Logger) *TasksHandler {
	if tracker == nil {
		panic("tracker cannot be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &TasksHandler{
		tracker: tracker,
		logger:  logger.With(slog.String("handler", "tasks")),
	}
}

// Routes returns a chi router for task endpoints.
func (h *TasksHandler) Routes() chi.Router {
	r := chi.NewRouter()

	r.Use(middleware.Timeout(30*time.Second, h.logger))

	r.Get("/active", h.ListActiveTasks)
	r.Get("/{id}", h.GetTask)
	r.Post("/{id}/resume", h.ResumeTask)

	return r
}

// ListActiveTasks handles GET /api/tasks/active
func (h *TasksHandler) ListActiveTasks(w http.ResponseWriter, r *http.Request) {
	render.JSON(w, r, map[string]any{
		"tasks": h.tracker.ListActive(),
	})
}

// GetTask handles GET /api/tasks/{id}
func (h *TasksHandler) GetTask(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	task, ok := h.tracker.Get(id)
	if !ok {
		render.Render(w, r, apierrors.NotFoundError("task"))
		return
	}

	render.JSON(w, r, task)
}

// ResumeTask handles POST /api/tasks/{id}/resume. Resuming only applies to
// tasks paused for manual input; anything else reports success=false.
func (h *TasksHandler) ResumeTask(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := chi.URLParam(r, "id")

	if _, ok := h.tracker.Get(id); !ok {
		render.Render(w, r, apierrors.NotFoundError("task"))
		return
	}

	resumed := h.tracker.Resume(id)

	h.logger.InfoContext(ctx, "task resume requested",
		slog.String("task_id", id),
		slog.Bool("resumed", resumed),
	)

	render.JSON(w, r, map[string]any{
		"success": resumed,
		"task_id": id,
	})
}
