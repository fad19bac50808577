package workflow

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/Bmw4134/portalflow/internal/browser"
)

// Dispatcher executes one action attempt and returns its output. The
// engine owns the retry loop; a dispatcher should fail fast.
type Dispatcher interface {
	Dispatch(ctx context.Context, workflowID string, action Action) (any, error)
}

// TriggerFunc starts another workflow from a workflow_trigger action.
type TriggerFunc func(ctx context.Context, workflowID string) error

// ActionDispatcher is the production dispatcher: portal actions go
// through the browser controller, analysis probes over HTTP,
// notifications through the broadcaster.
type ActionDispatcher struct {
	controller  *browser.Controller
	broadcaster *Broadcaster
	httpClient  *http.Client
	logger      *slog.Logger
	trigger     TriggerFunc
	now         func() time.Time
}

// NewActionDispatcher wires the dispatcher. httpClient may be nil, in
// which case analysis actions use a default client; per-action timeouts
// are applied via context either way.
func NewActionDispatcher(controller *browser.Controller, broadcaster *Broadcaster, httpClient *http.Client, logger *slog.Logger) *ActionDispatcher {
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &ActionDispatcher{
		controller:  controller,
		broadcaster: broadcaster,
		httpClient:  httpClient,
		logger:      logger.With(slog.String("component", "workflow.dispatcher")),
		now:         time.Now,
	}
}

// SetTrigger installs the callback used by workflow_trigger actions.
// Wired after the engine exists to break the construction cycle.
func (d *ActionDispatcher) SetTrigger(trigger TriggerFunc) {
	d.trigger = trigger
}

func (d *ActionDispatcher) Dispatch(ctx context.Context, workflowID string, action Action) (any, error) {
	if action.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, action.Timeout)
		defer cancel()
	}

	switch action.Type {
	case ActionPortalLogin:
		return d.executePortalLogin(ctx, action)
	case ActionDataExtraction:
		return d.executeDataExtraction(ctx, action)
	case ActionContentUpdate:
		return d.executeContentUpdate(ctx, action)
	case ActionAnalysis:
		return d.executeAnalysis(ctx, action)
	case ActionNotification:
		return d.executeNotification(ctx, workflowID, action)
	case ActionWorkflowTrigger:
		return d.executeWorkflowTrigger(ctx, action)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownActionType, action.Type)
	}
}

func (d *ActionDispatcher) executePortalLogin(ctx context.Context, action Action) (any, error) {
	if action.Platform == "" {
		return nil, fmt.Errorf("platform required for portal_login action")
	}
	result, err := d.controller.Login(ctx, action.Platform)
	if err != nil {
		return nil, err
	}
	if !result.Success {
		return nil, fmt.Errorf("login to %s did not complete: %s", action.Platform, result.Message)
	}
	return result, nil
}

func (d *ActionDispatcher) executeDataExtraction(ctx context.Context, action Action) (any, error) {
	if action.Platform != "" {
		return d.runSessionActions(ctx, action)
	}
	// Without a platform there is no page to drive; record the extraction
	// request for the downstream collector.
	return map[string]any{
		"source":       action.Parameters["source"],
		"parameters":   action.Parameters,
		"requested_at": d.now(),
	}, nil
}

func (d *ActionDispatcher) executeContentUpdate(ctx context.Context, action Action) (any, error) {
	if action.Platform == "" {
		return nil, fmt.Errorf("platform required for content_update action")
	}
	return d.runSessionActions(ctx, action)
}

// runSessionActions drives the platform under its stored session. The
// optional "url" and "script" parameters become the page action.
func (d *ActionDispatcher) runSessionActions(ctx context.Context, action Action) (any, error) {
	pageAction := browser.PageAction{Name: string(action.Type)}
	if name, ok := action.Parameters["action"].(string); ok && name != "" {
		pageAction.Name = name
	}
	if url, ok := action.Parameters["url"].(string); ok {
		pageAction.URL = url
	}
	if script, ok := action.Parameters["script"].(string); ok {
		pageAction.Script = script
	}

	result, err := d.controller.AutomateWithSession(ctx, action.Platform, []browser.PageAction{pageAction})
	if err != nil {
		return nil, err
	}
	if !result.Success {
		return nil, fmt.Errorf("automation on %s did not complete: %d/%d actions succeeded",
			action.Platform, result.ActionsCompleted, len(result.Results))
	}
	return result, nil
}

// AnalysisReport is the output of an analysis action.
type AnalysisReport struct {
	URL          string    `json:"url"`
	AnalysisType string    `json:"analysis_type,omitempty"`
	StatusCode   int       `json:"status_code"`
	ResponseMs   int64     `json:"response_ms"`
	Reachable    bool      `json:"reachable"`
	AnalyzedAt   time.Time `json:"analyzed_at"`
}

func (d *ActionDispatcher) executeAnalysis(ctx context.Context, action Action) (any, error) {
	url, _ := action.Parameters["url"].(string)
	if url == "" {
		return nil, fmt.Errorf("url required for analysis action")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build analysis request: %w", err)
	}

	start := d.now()
	resp, err := d.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("analysis probe failed: %w", err)
	}
	defer resp.Body.Close()

	report := &AnalysisReport{
		URL:        url,
		StatusCode: resp.StatusCode,
		ResponseMs: time.Since(start).Milliseconds(),
		Reachable:  resp.StatusCode < http.StatusInternalServerError,
		AnalyzedAt: d.now(),
	}
	if analysisType, ok := action.Parameters["analysis_type"].(string); ok {
		report.AnalysisType = analysisType
	}
	return report, nil
}

func (d *ActionDispatcher) executeNotification(_ context.Context, workflowID string, action Action) (any, error) {
	message, _ := action.Parameters["message"].(string)
	severity, _ := action.Parameters["severity"].(string)
	if d.broadcaster != nil {
		d.broadcaster.Notify(workflowID, message, severity)
	}
	return map[string]any{
		"notification_type": "system",
		"message":           message,
		"severity":          severity,
		"delivered":         true,
		"timestamp":         d.now(),
	}, nil
}

func (d *ActionDispatcher) executeWorkflowTrigger(ctx context.Context, action Action) (any, error) {
	if target, ok := action.Parameters["workflow_id"].(string); ok && target != "" {
		if d.trigger == nil {
			return nil, fmt.Errorf("no trigger wired for workflow_trigger action")
		}
		if err := d.trigger(ctx, target); err != nil {
			return nil, err
		}
		return map[string]any{
			"trigger_type": "workflow",
			"workflow_id":  target,
			"triggered":    true,
			"timestamp":    d.now(),
		}, nil
	}

	// No target workflow: the action hands work to a human queue.
	manualAction, _ := action.Parameters["action"].(string)
	d.logger.Info("manual_action_queued", slog.String("action", manualAction))
	return map[string]any{
		"trigger_type": "manual",
		"action":       manualAction,
		"triggered":    true,
		"timestamp":    d.now(),
	}, nil
}
