package http

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	apierrors "github.com/Bmw4134/portalflow/internal/errors"
	"github.com/Bmw4134/portalflow/internal/exporter"
	"github.com/Bmw4134/portalflow/internal/middleware"
	"github.com/Bmw4134/portalflow/internal/workflow"
)

// WorkflowService is the slice of the engine the handler consumes.
type WorkflowService interface {
	Start(ctx context.Context, id string) (*workflow.StartReceipt, error)
	Status(id string) (*workflow.StatusReport, error)
	List() []workflow.Summary
	Pause(id string) bool
	Resume(id string) bool
	Stop(id string) bool
}

// WorkflowsHandler handles workflow-related HTTP requests.
type WorkflowsHandler struct {
	service WorkflowService
	logger  *slog.Logger
}

// NewWorkflowsHandler creates a new workflows handler.
func NewWorkflowsHandler(service WorkflowService, logger *slog.Logger) *WorkflowsHandler {
	if service == nil {
		panic("service cannot be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &WorkflowsHandler{
		service: service,
		logger:  logger.With(slog.String("handler", "workflows")),
	}
}

// Routes returns a chi router for workflow endpoints.
func (h *WorkflowsHandler) Routes() chi.Router {
	r := chi.NewRouter()

	r.Use(middleware.Timeout(60*time.Second, h.logger))

	r.Get("/", h.ListWorkflows)
	r.Post("/{id}/start", h.StartWorkflow)
	r.Get("/{id}/status", h.GetWorkflowStatus)
	r.Post("/{id}/pause", h.PauseWorkflow)
	r.Post("/{id}/resume", h.ResumeWorkflow)
	r.Post("/{id}/stop", h.StopWorkflow)
	r.Get("/{id}/report", h.ExportWorkflowReport)

	return r
}

// ListWorkflows handles GET /api/workflows
func (h *WorkflowsHandler) ListWorkflows(w http.ResponseWriter, r *http.Request) {
	render.JSON(w, r, map[string]any{
		"workflows": h.service.List(),
	})
}

// StartWorkflow handles POST /api/workflows/{id}/start
func (h *WorkflowsHandler) StartWorkflow(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := chi.URLParam(r, "id")
	tracer := otel.Tracer("workflows-handler")

	ctx, span := tracer.Start(ctx, "workflows_handler.start_workflow",
		trace.WithAttributes(
			attribute.String("workflow.id", id),
			attribute.String("request_id", middleware.GetReqID(ctx)),
		),
	)
	defer span.End()

	h.logger.InfoContext(ctx, "workflow start request",
		slog.String("workflow_id", id),
		slog.String("request_id", middleware.GetReqID(ctx)),
	)

	// Detach execution from the request context: the run outlives the
	// request, only the start handshake is bound to it.
	receipt, err := h.service.Start(context.WithoutCancel(ctx), id)
	if err != nil {
		span.RecordError(err)
		h.renderError(w, r, err)
		return
	}

	render.Status(r, http.StatusAccepted)
	render.JSON(w, r, receipt)
}

// GetWorkflowStatus handles GET /api/workflows/{id}/status
func (h *WorkflowsHandler) GetWorkflowStatus(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	report, err := h.service.Status(id)
	if err != nil {
		h.renderError(w, r, err)
		return
	}

	render.JSON(w, r, report)
}

// PauseWorkflow handles POST /api/workflows/{id}/pause
func (h *WorkflowsHandler) PauseWorkflow(w http.ResponseWriter, r *http.Request) {
	h.toggle(w, r, "pause", h.service.Pause)
}

// ResumeWorkflow handles POST /api/workflows/{id}/resume
func (h *WorkflowsHandler) ResumeWorkflow(w http.ResponseWriter, r *http.Request) {
	h.toggle(w, r, "resume", h.service.Resume)
}

// StopWorkflow handles POST /api/workflows/{id}/stop
func (h *WorkflowsHandler) StopWorkflow(w http.ResponseWriter, r *http.Request) {
	h.toggle(w, r, "stop", h.service.Stop)
}

// toggle runs a lifecycle transition and reports whether it applied. An
// unknown workflow id is a 404; a transition refused from the current
// status is success=false, not an error.
func (h *WorkflowsHandler) toggle(w http.ResponseWriter, r *http.Request, action string, fn func(string) bool) {
	ctx := r.Context()
	id := chi.URLParam(r, "id")

	if _, err := h.service.Status(id); err != nil {
		h.renderError(w, r, err)
		return
	}

	ok := fn(id)

	h.logger.InfoContext(ctx, "workflow transition requested",
		slog.String("workflow_id", id),
		slog.String("action", action),
		slog.Bool("applied", ok),
	)

	render.JSON(w, r, map[string]any{
		"success":     ok,
		"workflow_id": id,
		"action":      action,
	})
}

// ExportWorkflowReport handles GET /api/workflows/{id}/report and streams
// an xlsx audit report of the workflow's recorded step results.
func (h *WorkflowsHandler) ExportWorkflowReport(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := chi.URLParam(r, "id")

	report, err := h.service.Status(id)
	if err != nil {
		h.renderError(w, r, err)
		return
	}

	file, err := exporter.BuildWorkflowReport(report)
	if err != nil {
		h.logger.ErrorContext(ctx, "failed to build audit report",
			slog.String("workflow_id", id),
			slog.String("error", err.Error()),
		)
		h.renderError(w, r, err)
		return
	}
	defer file.Close()

	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="workflow_%s_audit.xlsx"`, id))

	if _, err := file.WriteTo(w); err != nil {
		h.logger.ErrorContext(ctx, "failed to stream audit report",
			slog.String("workflow_id", id),
			slog.String("error", err.Error()),
		)
	}
}

// renderError maps domain errors onto API errors.
func (h *WorkflowsHandler) renderError(w http.ResponseWriter, r *http.Request, err error) {
	var api *apierrors.APIError
	switch {
	case errors.Is(err, workflow.ErrWorkflowNotFound):
		api = apierrors.NotFoundError("workflow")
	case errors.Is(err, workflow.ErrWorkflowAlreadyRunning):
		api = apierrors.ConflictError("workflow is already running")
	default:
		api = apierrors.InternalError(err)
	}
	render.Render(w, r, api)
}
