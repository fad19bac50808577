package workflow

import "errors"

var (
	// ErrWorkflowNotFound is returned for ids with no registered workflow.
	ErrWorkflowNotFound = errors.New("workflow not found")

	// ErrWorkflowAlreadyRunning is returned when Start is called for an id
	// that is in the active set. The running instance keeps its progress.
	ErrWorkflowAlreadyRunning = errors.New("workflow is already running")

	// ErrActionExecutionFailed wraps a handler failure after the retry
	// budget is exhausted.
	ErrActionExecutionFailed = errors.New("action execution failed")

	// ErrStepAndFallbackFailed is the single fatal engine condition: a
	// step's primary actions and its fallback actions all failed.
	ErrStepAndFallbackFailed = errors.New("step failed and fallback actions also failed")

	// ErrUnknownActionType is returned for actions whose type has no
	// registered handler.
	ErrUnknownActionType = errors.New("unknown action type")
)
