package workflow

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/Bmw4134/portalflow/internal/config"
	"github.com/Bmw4134/portalflow/internal/infrastructure"
)

// Engine owns registered workflows and executes them. One workflow id
// runs at most once concurrently: the active set is the sole concurrency
// guard, and membership test plus insert happen atomically under the
// engine lock. Steps execute strictly sequentially in declaration order;
// the declared dependency graph is validated at template load but is not
// a scheduler input.
type Engine struct {
	cfg         config.WorkflowConfig
	dispatcher  Dispatcher
	broadcaster *Broadcaster
	metrics     *infrastructure.BusinessMetrics
	logger      *slog.Logger
	now         func() time.Time

	mu        sync.Mutex
	workflows map[string]*Workflow
	active    map[string]struct{}
}

// NewEngine wires the engine. broadcaster and metrics may be nil.
func NewEngine(cfg config.WorkflowConfig, dispatcher Dispatcher, broadcaster *Broadcaster, metrics *infrastructure.BusinessMetrics, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	if broadcaster == nil {
		broadcaster = NewBroadcaster(nil, logger)
	}
	if cfg.PauseCheckTick <= 0 {
		cfg.PauseCheckTick = 250 * time.Millisecond
	}
	if cfg.BackoffUnit <= 0 {
		cfg.BackoffUnit = time.Second
	}
	return &Engine{
		cfg:         cfg,
		dispatcher:  dispatcher,
		broadcaster: broadcaster,
		metrics:     metrics,
		logger:      logger.With(slog.String("component", "workflow.engine")),
		now:         time.Now,
		workflows:   make(map[string]*Workflow),
		active:      make(map[string]struct{}),
	}
}

// Register adds a workflow definition. Ids are unique.
func (e *Engine) Register(wf *Workflow) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, exists := e.workflows[wf.ID]; exists {
		return fmt.Errorf("workflow %s already registered", wf.ID)
	}
	e.workflows[wf.ID] = wf
	return nil
}

// RegisterAll registers every workflow, stopping at the first error.
func (e *Engine) RegisterAll(workflows []*Workflow) error {
	for _, wf := range workflows {
		if err := e.Register(wf); err != nil {
			return err
		}
	}
	return nil
}

// Start transitions the workflow to running and begins asynchronous
// execution. It returns ErrWorkflowAlreadyRunning without touching the
// running instance's progress when the id is already active.
func (e *Engine) Start(ctx context.Context, id string) (*StartReceipt, error) {
	e.mu.Lock()
	wf, ok := e.workflows[id]
	if !ok {
		e.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrWorkflowNotFound, id)
	}
	if _, running := e.active[id]; running {
		e.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrWorkflowAlreadyRunning, id)
	}
	e.active[id] = struct{}{}

	start := e.now()
	wf.Status = StatusRunning
	wf.StartTime = &start
	wf.EndTime = nil
	wf.CurrentStepIndex = 0
	wf.ProgressPercent = 0
	wf.Results = wf.Results[:0]
	wf.generation++
	gen := wf.generation
	report := e.reportLocked(wf)
	e.mu.Unlock()

	if e.metrics != nil {
		e.metrics.WorkflowsStarted.WithLabelValues(id).Inc()
	}
	e.logger.InfoContext(ctx, "workflow_started",
		slog.String("workflow_id", id),
		slog.Int("total_steps", len(wf.Steps)))
	e.broadcaster.Snapshot("started", report)

	go e.run(ctx, wf, gen)

	return &StartReceipt{
		Success: true,
		Message: fmt.Sprintf("workflow %s started", id),
		Status:  report,
	}, nil
}

// run executes the workflow's steps sequentially. Step N+1 never starts
// before step N's result is recorded. gen is this run's generation: a
// stop/restart cycle while an action is in flight bumps the workflow's
// generation, and this goroutine must then abandon the workflow rather
// than write results into (or schedule steps of) the newer run.
func (e *Engine) run(ctx context.Context, wf *Workflow, gen uint64) {
	total := len(wf.Steps)

	for i := 0; i < total; i++ {
		if !e.awaitRunnable(ctx, wf, gen) {
			return
		}

		e.mu.Lock()
		if wf.generation != gen {
			e.mu.Unlock()
			return
		}
		wf.CurrentStepIndex = i
		step := wf.Steps[i]
		e.mu.Unlock()

		e.logger.InfoContext(ctx, "executing_step",
			slog.String("workflow_id", wf.ID),
			slog.String("step_id", step.ID),
			slog.Int("step_number", i+1),
			slog.Int("total_steps", total))

		stepStart := e.now()
		output, err := e.executeStep(ctx, wf.ID, step)
		if e.metrics != nil {
			e.metrics.StepDuration.Observe(time.Since(stepStart).Seconds())
		}

		if e.staleRun(wf, gen) {
			return
		}

		if err == nil {
			e.recordResult(wf, StepResult{
				StepID:    step.ID,
				Success:   true,
				Output:    output,
				Timestamp: e.now(),
			}, i+1, total, gen)
			e.countStep("success")
			continue
		}

		e.logger.WarnContext(ctx, "step_failed",
			slog.String("workflow_id", wf.ID),
			slog.String("step_id", step.ID),
			slog.String("error", err.Error()))

		fallbackErr := e.executeFallback(ctx, wf.ID, step)
		if fallbackErr == nil {
			// Fallback absorbed the failure: the workflow continues, the
			// step-level failure stays in the audit trail.
			e.recordResult(wf, StepResult{
				StepID:           step.ID,
				Success:          false,
				FallbackExecuted: true,
				Error:            err.Error(),
				Timestamp:        e.now(),
			}, i+1, total, gen)
			e.countStep("recovered")
			continue
		}

		// The single fatal condition: primary actions and fallback both
		// failed. Record the step result first so the audit trail covers
		// every step that ran, then halt.
		fatal := fmt.Errorf("%w: step %s: %v (fallback: %v)", ErrStepAndFallbackFailed, step.ID, err, fallbackErr)
		e.recordResult(wf, StepResult{
			StepID:    step.ID,
			Success:   false,
			Error:     fatal.Error(),
			Timestamp: e.now(),
		}, 0, total, gen)
		e.countStep("fatal")
		e.finish(ctx, wf, StatusFailed, fatal, gen)
		return
	}

	e.finish(ctx, wf, StatusCompleted, nil, gen)
}

// staleRun reports whether a newer Start has taken ownership of the
// workflow since this run's generation was stamped.
func (e *Engine) staleRun(wf *Workflow, gen uint64) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return wf.generation != gen
}

// awaitRunnable blocks while the workflow is paused, polling on the
// configured tick. It returns false when the workflow was stopped or the
// context was cancelled, in which case the run loop must exit.
func (e *Engine) awaitRunnable(ctx context.Context, wf *Workflow, gen uint64) bool {
	ticker := time.NewTicker(e.cfg.PauseCheckTick)
	defer ticker.Stop()

	for {
		e.mu.Lock()
		stale := wf.generation != gen
		status := wf.Status
		e.mu.Unlock()

		if stale {
			return false
		}

		switch status {
		case StatusRunning:
			return true
		case StatusPaused:
		default:
			// Stopped (failed) or otherwise terminal: Stop already
			// recorded the end time and released the active slot.
			return false
		}

		select {
		case <-ctx.Done():
			e.finish(ctx, wf, StatusFailed, ctx.Err(), gen)
			return false
		case <-ticker.C:
		}
	}
}

// executeStep runs each primary action with its retry budget. An action
// runs RetryCount+1 times with a linear backoff between attempts; the
// first action to exhaust its budget fails the step.
func (e *Engine) executeStep(ctx context.Context, workflowID string, step Step) (any, error) {
	backoff := LinearBackoff(e.cfg.BackoffUnit)
	outputs := make([]any, 0, len(step.Actions))

	for _, action := range step.Actions {
		attempt := 0
		out, err := withRetry(ctx, action.RetryCount+1, backoff, func(ctx context.Context) (any, error) {
			attempt++
			if attempt > 1 && e.metrics != nil {
				e.metrics.ActionRetries.Inc()
			}
			return e.dispatcher.Dispatch(ctx, workflowID, action)
		})
		if err != nil {
			return nil, fmt.Errorf("%w: %s action in step %s: %v", ErrActionExecutionFailed, action.Type, step.ID, err)
		}
		outputs = append(outputs, out)
	}

	return map[string]any{
		"step_id":          step.ID,
		"outputs":          outputs,
		"success_criteria": step.SuccessCriteria,
		"revenue_impact":   step.RevenueImpact,
	}, nil
}

// executeFallback runs the fallback actions, a single attempt each.
func (e *Engine) executeFallback(ctx context.Context, workflowID string, step Step) error {
	if len(step.FallbackActions) == 0 {
		return fmt.Errorf("no fallback actions defined")
	}
	if e.metrics != nil {
		e.metrics.FallbacksExecuted.Inc()
	}
	for _, action := range step.FallbackActions {
		if _, err := e.dispatcher.Dispatch(ctx, workflowID, action); err != nil {
			return fmt.Errorf("%s fallback action failed: %w", action.Type, err)
		}
	}
	return nil
}

// recordResult appends the step result and, for non-fatal outcomes,
// advances progress to round(done/total*100). Fatal outcomes pass done=0
// and leave progress where it was; finish reports the failure. A stale
// generation drops the result: it belongs to a run that was stopped and
// superseded while the action was in flight.
func (e *Engine) recordResult(wf *Workflow, result StepResult, done, total int, gen uint64) {
	e.mu.Lock()
	if wf.generation != gen {
		e.mu.Unlock()
		return
	}
	wf.Results = append(wf.Results, result)
	if done > 0 {
		wf.ProgressPercent = progressPercent(done, total)
	}
	report := e.reportLocked(wf)
	e.mu.Unlock()

	e.broadcaster.Snapshot("progress", report)
}

// finish moves the workflow to a terminal state unless Stop got there
// first, and releases the active slot. A stale generation returns
// immediately: the active slot belongs to the newer run.
func (e *Engine) finish(ctx context.Context, wf *Workflow, status Status, cause error, gen uint64) {
	e.mu.Lock()
	if wf.generation != gen {
		e.mu.Unlock()
		return
	}
	terminal := wf.Status == StatusFailed || wf.Status == StatusCompleted
	if !terminal {
		end := e.now()
		wf.Status = status
		wf.EndTime = &end
		if status == StatusCompleted {
			wf.ProgressPercent = 100
		}
	}
	delete(e.active, wf.ID)
	report := e.reportLocked(wf)
	e.mu.Unlock()

	if terminal {
		return
	}

	if status == StatusCompleted {
		e.logger.InfoContext(ctx, "workflow_completed", slog.String("workflow_id", wf.ID))
		e.countFinished("completed")
		e.broadcaster.Snapshot("completed", report)
		return
	}

	e.logger.ErrorContext(ctx, "workflow_failed",
		slog.String("workflow_id", wf.ID),
		slog.String("error", fmt.Sprint(cause)))
	e.countFinished("failed")
	e.broadcaster.Snapshot("failed", report)
}

// Status returns the polling view of a workflow.
func (e *Engine) Status(id string) (*StatusReport, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	wf, ok := e.workflows[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrWorkflowNotFound, id)
	}
	return e.reportLocked(wf), nil
}

// List returns summaries of every registered workflow.
func (e *Engine) List() []Summary {
	e.mu.Lock()
	defer e.mu.Unlock()

	summaries := make([]Summary, 0, len(e.workflows))
	for _, wf := range e.workflows {
		minutes := 0
		for _, step := range wf.Steps {
			minutes += step.EstimatedTimeMinutes
		}
		summaries = append(summaries, Summary{
			ID:                   wf.ID,
			Name:                 wf.Name,
			Description:          wf.Description,
			TotalSteps:           len(wf.Steps),
			EstimatedTimeMinutes: minutes,
			Status:               wf.Status,
		})
	}
	return summaries
}

// Pause suspends scheduling of the next step. Only a running workflow
// can pause; anything else returns false with state unchanged.
func (e *Engine) Pause(id string) bool {
	return e.transition(id, StatusRunning, StatusPaused, "paused")
}

// Resume continues a paused workflow.
func (e *Engine) Resume(id string) bool {
	return e.transition(id, StatusPaused, StatusRunning, "resumed")
}

// Stop terminally fails a running or paused workflow and releases its
// active slot. An in-flight action is not interrupted; the run loop
// observes the terminal status before scheduling the next step. If the
// workflow is restarted before the in-flight action completes, the new
// generation supersedes the old run, whose late result is discarded.
func (e *Engine) Stop(id string) bool {
	e.mu.Lock()
	wf, ok := e.workflows[id]
	if !ok || (wf.Status != StatusRunning && wf.Status != StatusPaused) {
		e.mu.Unlock()
		return false
	}
	end := e.now()
	wf.Status = StatusFailed
	wf.EndTime = &end
	delete(e.active, id)
	report := e.reportLocked(wf)
	e.mu.Unlock()

	e.logger.Info("workflow_stopped", slog.String("workflow_id", id))
	e.countFinished("stopped")
	e.broadcaster.Snapshot("failed", report)
	return true
}

func (e *Engine) transition(id string, from, to Status, action string) bool {
	e.mu.Lock()
	wf, ok := e.workflows[id]
	if !ok || wf.Status != from {
		e.mu.Unlock()
		return false
	}
	wf.Status = to
	report := e.reportLocked(wf)
	e.mu.Unlock()

	e.logger.Info("workflow_"+action, slog.String("workflow_id", id))
	e.broadcaster.Snapshot(action, report)
	return true
}

// reportLocked builds a StatusReport; callers hold the engine lock.
func (e *Engine) reportLocked(wf *Workflow) *StatusReport {
	currentName := ""
	if wf.CurrentStepIndex >= 0 && wf.CurrentStepIndex < len(wf.Steps) {
		currentName = wf.Steps[wf.CurrentStepIndex].Name
	}
	results := make([]StepResult, len(wf.Results))
	copy(results, wf.Results)

	return &StatusReport{
		ID:                  wf.ID,
		Name:                wf.Name,
		Status:              wf.Status,
		Progress:            wf.ProgressPercent,
		CurrentStep:         wf.CurrentStepIndex,
		TotalSteps:          len(wf.Steps),
		CurrentStepName:     currentName,
		StartTime:           wf.StartTime,
		EndTime:             wf.EndTime,
		Results:             results,
		EstimatedCompletion: estimatedCompletion(wf),
	}
}

// estimatedCompletion sums the estimated minutes of the remaining steps.
// Purely advisory.
func estimatedCompletion(wf *Workflow) string {
	switch wf.Status {
	case StatusCompleted:
		return "completed"
	case StatusFailed:
		return "failed"
	}
	minutes := 0
	for _, step := range wf.Steps[wf.CurrentStepIndex:] {
		minutes += step.EstimatedTimeMinutes
	}
	return fmt.Sprintf("%d minutes remaining", minutes)
}

func progressPercent(done, total int) int {
	if total == 0 {
		return 100
	}
	return int(math.Round(float64(done) / float64(total) * 100))
}

func (e *Engine) countStep(outcome string) {
	if e.metrics != nil {
		e.metrics.StepsExecuted.WithLabelValues(outcome).Inc()
	}
}

func (e *Engine) countFinished(status string) {
	if e.metrics != nil {
		e.metrics.WorkflowsCompleted.WithLabelValues(status).Inc()
	}
}
