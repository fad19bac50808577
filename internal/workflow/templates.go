package workflow

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v2"
)

// Workflow templates are declarative YAML documents. Each parses into a
// fresh Workflow in the ready state. Step dependencies must reference
// earlier-declared steps, which makes the dependency graph a DAG by
// construction; the engine validates this at load and keeps the graph as
// audit metadata only, executing steps in declaration order.

type templateDocument struct {
	Workflows []templateWorkflow `yaml:"workflows"`
}

type templateWorkflow struct {
	ID          string         `yaml:"id"`
	Name        string         `yaml:"name"`
	Description string         `yaml:"description"`
	Steps       []templateStep `yaml:"steps"`
}

type templateStep struct {
	ID                   string           `yaml:"id"`
	Name                 string           `yaml:"name"`
	Description          string           `yaml:"description"`
	Priority             string           `yaml:"priority"`
	Dependencies         []string         `yaml:"dependencies"`
	Actions              []templateAction `yaml:"actions"`
	SuccessCriteria      []string         `yaml:"success_criteria"`
	FallbackActions      []templateAction `yaml:"fallback_actions"`
	EstimatedTimeMinutes int              `yaml:"estimated_time_minutes"`
	RevenueImpact        string           `yaml:"revenue_impact"`
}

type templateAction struct {
	Type       string         `yaml:"type"`
	Platform   string         `yaml:"platform"`
	Parameters map[string]any `yaml:"parameters"`
	RetryCount int            `yaml:"retry_count"`
	Timeout    string         `yaml:"timeout"`
}

// ParseTemplates decodes a template document and builds validated
// workflows in the ready state.
func ParseTemplates(data []byte) ([]*Workflow, error) {
	var doc templateDocument
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse workflow templates: %w", err)
	}
	if len(doc.Workflows) == 0 {
		return nil, fmt.Errorf("template document contains no workflows")
	}

	workflows := make([]*Workflow, 0, len(doc.Workflows))
	for _, tpl := range doc.Workflows {
		wf, err := buildWorkflow(tpl)
		if err != nil {
			return nil, err
		}
		workflows = append(workflows, wf)
	}
	return workflows, nil
}

// LoadTemplateFile reads and parses one template document from disk.
func LoadTemplateFile(path string) ([]*Workflow, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read template file: %w", err)
	}
	return ParseTemplates(data)
}

// BuiltinTemplates returns the workflows shipped with the binary.
func BuiltinTemplates() ([]*Workflow, error) {
	return ParseTemplates([]byte(builtinTemplatesYAML))
}

func buildWorkflow(tpl templateWorkflow) (*Workflow, error) {
	if tpl.ID == "" {
		return nil, fmt.Errorf("workflow template missing id")
	}
	if len(tpl.Steps) == 0 {
		return nil, fmt.Errorf("workflow %s: no steps declared", tpl.ID)
	}

	declared := make(map[string]bool, len(tpl.Steps))
	steps := make([]Step, 0, len(tpl.Steps))
	for _, ts := range tpl.Steps {
		if ts.ID == "" {
			return nil, fmt.Errorf("workflow %s: step missing id", tpl.ID)
		}
		if declared[ts.ID] {
			return nil, fmt.Errorf("workflow %s: duplicate step id %s", tpl.ID, ts.ID)
		}
		// Dependencies must point at earlier-declared steps: no cycles, no
		// forward references.
		for _, dep := range ts.Dependencies {
			if !declared[dep] {
				return nil, fmt.Errorf("workflow %s: step %s depends on %s which is not declared before it", tpl.ID, ts.ID, dep)
			}
		}
		if len(ts.Actions) == 0 {
			return nil, fmt.Errorf("workflow %s: step %s has no actions", tpl.ID, ts.ID)
		}

		actions, err := buildActions(tpl.ID, ts.ID, ts.Actions)
		if err != nil {
			return nil, err
		}
		fallbacks, err := buildActions(tpl.ID, ts.ID, ts.FallbackActions)
		if err != nil {
			return nil, err
		}

		steps = append(steps, Step{
			ID:                   ts.ID,
			Name:                 ts.Name,
			Description:          ts.Description,
			Priority:             StepPriority(ts.Priority),
			Dependencies:         ts.Dependencies,
			Actions:              actions,
			SuccessCriteria:      ts.SuccessCriteria,
			FallbackActions:      fallbacks,
			EstimatedTimeMinutes: ts.EstimatedTimeMinutes,
			RevenueImpact:        ts.RevenueImpact,
		})
		declared[ts.ID] = true
	}

	return &Workflow{
		ID:          tpl.ID,
		Name:        tpl.Name,
		Description: tpl.Description,
		Steps:       steps,
		Status:      StatusReady,
		Results:     []StepResult{},
	}, nil
}

func buildActions(workflowID, stepID string, tpls []templateAction) ([]Action, error) {
	actions := make([]Action, 0, len(tpls))
	for _, ta := range tpls {
		actionType := ActionType(ta.Type)
		if !actionType.Valid() {
			return nil, fmt.Errorf("workflow %s: step %s has unknown action type %q", workflowID, stepID, ta.Type)
		}
		if actionType == ActionPortalLogin && ta.Platform == "" {
			return nil, fmt.Errorf("workflow %s: step %s portal_login action requires a platform", workflowID, stepID)
		}
		timeout := 30 * time.Second
		if ta.Timeout != "" {
			parsed, err := time.ParseDuration(ta.Timeout)
			if err != nil {
				return nil, fmt.Errorf("workflow %s: step %s has invalid action timeout %q: %w", workflowID, stepID, ta.Timeout, err)
			}
			timeout = parsed
		}
		actions = append(actions, Action{
			Type:       actionType,
			Platform:   ta.Platform,
			Parameters: normalizeParameters(ta.Parameters),
			RetryCount: ta.RetryCount,
			Timeout:    timeout,
		})
	}
	return actions, nil
}

// normalizeParameters rewrites yaml.v2's map[interface{}]interface{}
// nesting into map[string]any so parameter payloads stay JSON-encodable
// in status reports.
func normalizeParameters(in map[string]any) map[string]any {
	if in == nil {
		return nil
	}
	out := make(map[string]any, len(in))
	for k, v := range in {
		out[k] = normalizeValue(v)
	}
	return out
}

func normalizeValue(v any) any {
	switch val := v.(type) {
	case map[any]any:
		m := make(map[string]any, len(val))
		for k, inner := range val {
			m[fmt.Sprint(k)] = normalizeValue(inner)
		}
		return m
	case map[string]any:
		m := make(map[string]any, len(val))
		for k, inner := range val {
			m[k] = normalizeValue(inner)
		}
		return m
	case []any:
		s := make([]any, len(val))
		for i, inner := range val {
			s[i] = normalizeValue(inner)
		}
		return s
	default:
		return v
	}
}

const builtinTemplatesYAML = `
workflows:
  - id: kate_photography_complete
    name: Kate White Photography - Complete Business Automation
    description: End-to-end automation for lead generation, website optimization, and client conversion
    steps:
      - id: step_1_website_audit
        name: Website Performance Audit
        description: Analyze the photography website for optimization opportunities
        priority: critical
        actions:
          - type: analysis
            parameters:
              url: https://katewhitephotography.com
              analysis_type: comprehensive
            retry_count: 3
            timeout: 30s
        success_criteria:
          - Performance score calculated
          - SEO issues identified
          - Conversion recommendations generated
        fallback_actions:
          - type: notification
            parameters:
              message: Website audit failed, using manual analysis
              severity: warning
            timeout: 5s
        estimated_time_minutes: 5
        revenue_impact: +$40,000/year
      - id: step_2_lead_qualification
        name: Lead Pipeline Analysis
        description: Score and qualify potential photography clients
        priority: high
        dependencies: [step_1_website_audit]
        actions:
          - type: data_extraction
            parameters:
              source: contact_forms
              date_range: last_30_days
              status: new
            retry_count: 2
            timeout: 15s
        success_criteria:
          - Leads scored and ranked
          - High-value prospects identified
        fallback_actions:
          - type: workflow_trigger
            parameters:
              action: manual_lead_review
              assign_to: sales_team
            timeout: 5s
        estimated_time_minutes: 10
        revenue_impact: +$24,000 pipeline value
      - id: step_3_social_media_automation
        name: Social Media Content Optimization
        description: Automate Instagram and Facebook content for the photography business
        priority: medium
        dependencies: [step_1_website_audit]
        actions:
          - type: portal_login
            platform: instagram
            parameters:
              action: schedule_posts
              content_type: photography_portfolio
              frequency: daily
            retry_count: 3
            timeout: 45s
          - type: content_update
            platform: facebook
            parameters:
              action: update_business_info
              add_booking_link: true
            retry_count: 2
            timeout: 30s
        success_criteria:
          - Content calendar created
          - Business profiles optimized
        fallback_actions:
          - type: notification
            parameters:
              message: Social media automation requires manual review
              action_required: provide_social_credentials
            timeout: 5s
        estimated_time_minutes: 15
        revenue_impact: +$8,000/year from increased visibility
      - id: step_4_booking_system_setup
        name: Automated Booking System
        description: Set up calendar integration and automated client booking
        priority: high
        dependencies: [step_2_lead_qualification]
        actions:
          - type: portal_login
            platform: calendly
            parameters:
              action: setup_booking_types
              availability: business_hours_only
            retry_count: 3
            timeout: 60s
        success_criteria:
          - Booking calendar configured
          - Service packages defined
        fallback_actions:
          - type: workflow_trigger
            parameters:
              action: manual_booking_setup
              priority: urgent
            timeout: 5s
        estimated_time_minutes: 20
        revenue_impact: +$15,000/year from 24/7 booking availability
      - id: step_5_email_automation
        name: Client Communication Automation
        description: Set up automated email sequences for leads and clients
        priority: medium
        dependencies: [step_4_booking_system_setup]
        actions:
          - type: portal_login
            platform: mailchimp
            parameters:
              action: create_sequences
              personalization: true
            retry_count: 2
            timeout: 45s
        success_criteria:
          - Email sequences created
          - Automated triggers configured
        fallback_actions:
          - type: notification
            parameters:
              message: Email automation requires platform credentials
              action_required: provide_email_marketing_access
            timeout: 5s
        estimated_time_minutes: 25
        revenue_impact: +$12,000/year from improved client retention
      - id: step_6_analytics_dashboard
        name: Business Intelligence Dashboard
        description: Create automated reporting and performance tracking
        priority: low
        dependencies: [step_5_email_automation]
        actions:
          - type: portal_login
            platform: google_analytics
            parameters:
              action: setup_goals
              reporting_frequency: weekly
            retry_count: 2
            timeout: 30s
          - type: data_extraction
            parameters:
              sources: [website, social_media, booking_system]
              automation: weekly_reports
            retry_count: 1
            timeout: 20s
        success_criteria:
          - Analytics properly configured
          - Automated reports generated
        fallback_actions:
          - type: workflow_trigger
            parameters:
              action: manual_reporting_setup
              frequency: monthly
            timeout: 5s
        estimated_time_minutes: 30
        revenue_impact: +$5,000/year from data-driven optimizations
  - id: consulting_template
    name: Universal Consulting Business Automation Template
    description: Reusable automation framework for any consulting business
    steps:
      - id: template_1_client_discovery
        name: Client Business Discovery
        description: Automated analysis of a prospect's business and needs
        priority: critical
        actions:
          - type: portal_login
            platform: linkedin
            parameters:
              action: research_company
              analysis_depth: comprehensive
            retry_count: 3
            timeout: 60s
        success_criteria:
          - Company profile analyzed
          - Pain points identified
          - Growth opportunities mapped
        fallback_actions:
          - type: workflow_trigger
            parameters:
              action: manual_research
            timeout: 5s
        estimated_time_minutes: 15
        revenue_impact: +30% qualification accuracy
`
