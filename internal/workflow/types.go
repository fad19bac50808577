package workflow

import (
	"time"
)

// ActionType identifies the handler an action dispatches to.
type ActionType string

const (
	ActionPortalLogin     ActionType = "portal_login"
	ActionDataExtraction  ActionType = "data_extraction"
	ActionContentUpdate   ActionType = "content_update"
	ActionAnalysis        ActionType = "analysis"
	ActionNotification    ActionType = "notification"
	ActionWorkflowTrigger ActionType = "workflow_trigger"
)

// KnownActionTypes lists every dispatchable action type.
var KnownActionTypes = []ActionType{
	ActionPortalLogin,
	ActionDataExtraction,
	ActionContentUpdate,
	ActionAnalysis,
	ActionNotification,
	ActionWorkflowTrigger,
}

func (t ActionType) Valid() bool {
	for _, known := range KnownActionTypes {
		if t == known {
			return true
		}
	}
	return false
}

// Action is one typed unit of work inside a step. A value object: it is
// executed, never mutated. RetryCount is the number of retries on top of
// the first attempt, so an action runs at most RetryCount+1 times.
type Action struct {
	Type       ActionType     `json:"type" yaml:"type"`
	Platform   string         `json:"platform,omitempty" yaml:"platform,omitempty"`
	Parameters map[string]any `json:"parameters,omitempty" yaml:"parameters,omitempty"`
	RetryCount int            `json:"retry_count" yaml:"retry_count"`
	Timeout    time.Duration  `json:"timeout" yaml:"timeout"`
}

// StepPriority is advisory metadata carried from the template.
type StepPriority string

const (
	PriorityCritical StepPriority = "critical"
	PriorityHigh     StepPriority = "high"
	PriorityMedium   StepPriority = "medium"
	PriorityLow      StepPriority = "low"
)

// Step is one unit of a workflow: primary actions plus a fallback path.
// Immutable once the workflow is defined. Dependencies must form a DAG
// over earlier-declared steps; they are validated at template load and
// kept as audit metadata, not consulted by the scheduler.
type Step struct {
	ID                   string       `json:"id" yaml:"id"`
	Name                 string       `json:"name" yaml:"name"`
	Description          string       `json:"description,omitempty" yaml:"description,omitempty"`
	Priority             StepPriority `json:"priority" yaml:"priority"`
	Dependencies         []string     `json:"dependencies,omitempty" yaml:"dependencies,omitempty"`
	Actions              []Action     `json:"actions" yaml:"actions"`
	SuccessCriteria      []string     `json:"success_criteria,omitempty" yaml:"success_criteria,omitempty"`
	FallbackActions      []Action     `json:"fallback_actions,omitempty" yaml:"fallback_actions,omitempty"`
	EstimatedTimeMinutes int          `json:"estimated_time_minutes" yaml:"estimated_time_minutes"`
	RevenueImpact        string       `json:"revenue_impact,omitempty" yaml:"revenue_impact,omitempty"`
}

// Status is the workflow state machine value.
type Status string

const (
	StatusReady     Status = "ready"
	StatusRunning   Status = "running"
	StatusPaused    Status = "paused"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// StepResult is the audit record for one executed step. A step whose
// primary actions failed but whose fallback absorbed the failure carries
// Success=false with FallbackExecuted=true; the workflow continues past
// it.
type StepResult struct {
	StepID           string    `json:"step_id"`
	Success          bool      `json:"success"`
	FallbackExecuted bool      `json:"fallback_executed,omitempty"`
	Output           any       `json:"output,omitempty"`
	Error            string    `json:"error,omitempty"`
	Timestamp        time.Time `json:"timestamp"`
}

// Workflow is one registered automation with its runtime state. All
// runtime fields are guarded by the owning engine's lock.
type Workflow struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Steps       []Step `json:"steps"`

	CurrentStepIndex int          `json:"current_step_index"`
	Status           Status       `json:"status"`
	ProgressPercent  int          `json:"progress_percent"`
	Results          []StepResult `json:"results"`
	StartTime        *time.Time   `json:"start_time,omitempty"`
	EndTime          *time.Time   `json:"end_time,omitempty"`

	// generation identifies the run that owns the runtime state. Start
	// bumps it under the engine lock; a run goroutine holding a stale
	// generation must abandon its work without touching the workflow.
	generation uint64
}

// StartReceipt is returned by Start; execution itself is asynchronous.
type StartReceipt struct {
	Success bool          `json:"success"`
	Message string        `json:"message"`
	Status  *StatusReport `json:"status,omitempty"`
}

// StatusReport is the polling view of a workflow, safe to serialize.
type StatusReport struct {
	ID                  string       `json:"id"`
	Name                string       `json:"name"`
	Status              Status       `json:"status"`
	Progress            int          `json:"progress"`
	CurrentStep         int          `json:"current_step"`
	TotalSteps          int          `json:"total_steps"`
	CurrentStepName     string       `json:"current_step_name"`
	StartTime           *time.Time   `json:"start_time,omitempty"`
	EndTime             *time.Time   `json:"end_time,omitempty"`
	Results             []StepResult `json:"results"`
	EstimatedCompletion string       `json:"estimated_completion"`
}

// Summary is the listWorkflows view.
type Summary struct {
	ID                   string `json:"id"`
	Name                 string `json:"name"`
	Description          string `json:"description,omitempty"`
	TotalSteps           int    `json:"total_steps"`
	EstimatedTimeMinutes int    `json:"estimated_time_minutes"`
	Status               Status `json:"status"`
}
