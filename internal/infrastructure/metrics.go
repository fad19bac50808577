package infrastructure

import (
	"github.com/prometheus/client_golang/prometheus"
)

// BusinessMetrics aggregates the prometheus instruments exercised by the
// workflow engine and the browser controller.
type BusinessMetrics struct {
	WorkflowsStarted   *prometheus.CounterVec
	WorkflowsCompleted *prometheus.CounterVec
	StepsExecuted      *prometheus.CounterVec
	ActionRetries      prometheus.Counter
	FallbacksExecuted  prometheus.Counter
	LoginAttempts      *prometheus.CounterVec
	TwoFactorWaits     prometheus.Counter
	SessionRestores    *prometheus.CounterVec
	StepDuration       prometheus.Histogram
}

// NewBusinessMetrics creates and registers the metrics on the given
// registerer. Pass prometheus.NewRegistry() in tests to avoid global
// registration collisions.
func NewBusinessMetrics(reg prometheus.Registerer) *BusinessMetrics {
	m := &BusinessMetrics{
		WorkflowsStarted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "portalflow_workflows_started_total",
			Help: "Workflows started, by workflow id.",
		}, []string{"workflow_id"}),
		WorkflowsCompleted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "portalflow_workflows_finished_total",
			Help: "Workflows finished, by terminal status.",
		}, []string{"status"}),
		StepsExecuted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "portalflow_steps_executed_total",
			Help: "Workflow steps executed, by outcome.",
		}, []string{"outcome"}),
		ActionRetries: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "portalflow_action_retries_total",
			Help: "Action attempts beyond the first.",
		}),
		FallbacksExecuted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "portalflow_fallbacks_executed_total",
			Help: "Step fallback action runs.",
		}),
		LoginAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "portalflow_login_attempts_total",
			Help: "Portal login attempts, by result.",
		}, []string{"result"}),
		TwoFactorWaits: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "portalflow_two_factor_waits_total",
			Help: "Logins that paused for manual two-factor input.",
		}),
		SessionRestores: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "portalflow_session_restores_total",
			Help: "Session restore attempts, by result.",
		}, []string{"result"}),
		StepDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "portalflow_step_duration_seconds",
			Help:    "Wall-clock duration of workflow steps.",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 12),
		}),
	}

	reg.MustRegister(
		m.WorkflowsStarted,
		m.WorkflowsCompleted,
		m.StepsExecuted,
		m.ActionRetries,
		m.FallbacksExecuted,
		m.LoginAttempts,
		m.TwoFactorWaits,
		m.SessionRestores,
		m.StepDuration,
	)
	return m
}
