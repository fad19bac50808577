// Package tasks tracks long-running automation attempts so external
// callers can poll a possibly minutes-long, human-gated login without
// holding a connection open.
package tasks

import (
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Status is the task lifecycle state.
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusPaused    Status = "paused"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// AutomationTask represents one login/automation attempt. Tasks are never
// reused across runs; each run creates a fresh id.
type AutomationTask struct {
	ID                string         `json:"id"`
	PlatformName      string         `json:"platform_name"`
	Action            string         `json:"action"`
	Target            string         `json:"target"`
	Status            Status         `json:"status"`
	RequiresManual2FA bool           `json:"requires_manual_2fa"`
	PausedForInput    bool           `json:"paused_for_input"`
	Message           string         `json:"message,omitempty"`
	CreatedAt         time.Time      `json:"created_at"`
	CompletedAt       *time.Time     `json:"completed_at,omitempty"`
	Results           map[string]any `json:"results,omitempty"`
}

// Tracker indexes automation tasks by id. No automatic garbage collection:
// callers prune completed tasks if memory matters.
type Tracker struct {
	mu     sync.RWMutex
	logger *slog.Logger
	tasks  map[string]*AutomationTask
}

// NewTracker creates an empty task tracker.
func NewTracker(logger *slog.Logger) *Tracker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Tracker{
		logger: logger.With(slog.String("component", "tasks.tracker")),
		tasks:  make(map[string]*AutomationTask),
	}
}

// Create registers a new pending task and returns its id.
func (t *Tracker) Create(platform, action, target string) string {
	task := &AutomationTask{
		ID:           uuid.NewString(),
		PlatformName: platform,
		Action:       action,
		Target:       target,
		Status:       StatusPending,
		CreatedAt:    time.Now(),
	}

	t.mu.Lock()
	t.tasks[task.ID] = task
	t.mu.Unlock()

	t.logger.Info("task_created",
		slog.String("task_id", task.ID),
		slog.String("platform", platform),
		slog.String("action", action))
	return task.ID
}

// Start moves a task to running.
func (t *Tracker) Start(id string) {
	t.update(id, func(task *AutomationTask) {
		task.Status = StatusRunning
	})
}

// PauseForInput marks a task as waiting on manual two-factor input.
func (t *Tracker) PauseForInput(id, message string) {
	t.update(id, func(task *AutomationTask) {
		task.Status = StatusPaused
		task.RequiresManual2FA = true
		task.PausedForInput = true
		task.Message = message
	})
}

// Complete finishes a task successfully.
func (t *Tracker) Complete(id, message string, results map[string]any) {
	t.update(id, func(task *AutomationTask) {
		now := time.Now()
		task.Status = StatusCompleted
		task.PausedForInput = false
		task.Message = message
		task.CompletedAt = &now
		task.Results = results
	})
}

// Fail finishes a task unsuccessfully. The message is what a polling UI
// shows; callers never need the underlying error.
func (t *Tracker) Fail(id, message string) {
	t.update(id, func(task *AutomationTask) {
		now := time.Now()
		task.Status = StatusFailed
		task.PausedForInput = false
		task.Message = message
		task.CompletedAt = &now
	})
}

// Resume transitions a paused task back to running. Returns false for
// unknown ids and for tasks not currently paused.
func (t *Tracker) Resume(id string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	task, ok := t.tasks[id]
	if !ok || task.Status != StatusPaused {
		return false
	}

	task.Status = StatusRunning
	task.PausedForInput = false
	t.logger.Info("task_resumed", slog.String("task_id", id))
	return true
}

// Get returns a copy of the task, if known.
func (t *Tracker) Get(id string) (AutomationTask, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	task, ok := t.tasks[id]
	if !ok {
		return AutomationTask{}, false
	}
	return *task, true
}

// ListActive returns copies of all non-terminal tasks, oldest first.
func (t *Tracker) ListActive() []AutomationTask {
	t.mu.RLock()
	defer t.mu.RUnlock()

	var active []AutomationTask
	for _, task := range t.tasks {
		if task.Status == StatusCompleted || task.Status == StatusFailed {
			continue
		}
		active = append(active, *task)
	}
	sort.Slice(active, func(i, j int) bool {
		return active[i].CreatedAt.Before(active[j].CreatedAt)
	})
	return active
}

// ListAll returns copies of every tracked task, oldest first.
func (t *Tracker) ListAll() []AutomationTask {
	t.mu.RLock()
	defer t.mu.RUnlock()

	all := make([]AutomationTask, 0, len(t.tasks))
	for _, task := range t.tasks {
		all = append(all, *task)
	}
	sort.Slice(all, func(i, j int) bool {
		return all[i].CreatedAt.Before(all[j].CreatedAt)
	})
	return all
}

// Prune drops terminal tasks and returns how many were removed.
func (t *Tracker) Prune() int {
	t.mu.Lock()
	defer t.mu.Unlock()

	removed := 0
	for id, task := range t.tasks {
		if task.Status == StatusCompleted || task.Status == StatusFailed {
			delete(t.tasks, id)
			removed++
		}
	}
	return removed
}

func (t *Tracker) update(id string, fn func(*AutomationTask)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if task, ok := t.tasks[id]; ok {
		fn(task)
	}
}
