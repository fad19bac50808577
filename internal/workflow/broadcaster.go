package workflow

import (
	"log/slog"
	"time"
)

// Event types pushed to websocket clients.
const (
	EventWorkflowSnapshot = "workflow:snapshot"
	EventNotification     = "workflow:notification"
)

// Hub is the websocket fan-out the engine publishes to.
type Hub interface {
	BroadcastUpdate(eventType, subject, action string, payload any)
}

// Broadcaster pushes complete workflow snapshots to the hub. Clients
// always receive the full status report, never deltas, so a late joiner
// is immediately consistent.
type Broadcaster struct {
	hub    Hub
	logger *slog.Logger
}

// NewBroadcaster wires a broadcaster; hub may be nil (CLI runs), in which
// case snapshots are only logged.
func NewBroadcaster(hub Hub, logger *slog.Logger) *Broadcaster {
	if logger == nil {
		logger = slog.Default()
	}
	return &Broadcaster{
		hub:    hub,
		logger: logger.With(slog.String("component", "workflow.broadcaster")),
	}
}

// Snapshot publishes the full status report under the given action
// ("started", "progress", "paused", "resumed", "completed", "failed").
func (b *Broadcaster) Snapshot(action string, report *StatusReport) {
	if report == nil {
		return
	}
	b.logger.Info("workflow_snapshot",
		slog.String("workflow_id", report.ID),
		slog.String("action", action),
		slog.String("status", string(report.Status)),
		slog.Int("progress", report.Progress),
		slog.String("current_step", report.CurrentStepName))
	if b.hub == nil {
		return
	}
	b.hub.BroadcastUpdate(EventWorkflowSnapshot, report.ID, action, report)
}

// NotificationPayload is the body of a notification action's broadcast.
type NotificationPayload struct {
	Message   string    `json:"message"`
	Severity  string    `json:"severity"`
	Timestamp time.Time `json:"timestamp"`
}

// Notify publishes a notification-action message to connected clients.
func (b *Broadcaster) Notify(workflowID, message, severity string) {
	if severity == "" {
		severity = "info"
	}
	b.logger.Info("workflow_notification",
		slog.String("workflow_id", workflowID),
		slog.String("severity", severity),
		slog.String("message", message))
	if b.hub == nil {
		return
	}
	b.hub.BroadcastUpdate(EventNotification, workflowID, severity, NotificationPayload{
		Message:   message,
		Severity:  severity,
		Timestamp: time.Now(),
	})
}
