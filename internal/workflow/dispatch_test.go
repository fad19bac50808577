package workflow

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingHub struct {
	mu     sync.Mutex
	events []string
	bodies []any
}

func (h *recordingHub) BroadcastUpdate(eventType, _, _ string, payload any) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.events = append(h.events, eventType)
	h.bodies = append(h.bodies, payload)
}

func TestDispatchUnknownType(t *testing.T) {
	d := NewActionDispatcher(nil, nil, nil, nil)
	_, err := d.Dispatch(context.Background(), "wf", Action{Type: ActionType("teleport")})
	assert.ErrorIs(t, err, ErrUnknownActionType)
}

func TestDispatchPortalLoginRequiresPlatform(t *testing.T) {
	d := NewActionDispatcher(nil, nil, nil, nil)
	_, err := d.Dispatch(context.Background(), "wf", Action{Type: ActionPortalLogin})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "platform required")
}

func TestDispatchContentUpdateRequiresPlatform(t *testing.T) {
	d := NewActionDispatcher(nil, nil, nil, nil)
	_, err := d.Dispatch(context.Background(), "wf", Action{Type: ActionContentUpdate})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "platform required")
}

func TestDispatchDataExtractionWithoutPlatformRecordsRequest(t *testing.T) {
	d := NewActionDispatcher(nil, nil, nil, nil)
	out, err := d.Dispatch(context.Background(), "wf", Action{
		Type:       ActionDataExtraction,
		Parameters: map[string]any{"source": "contact_forms"},
	})
	require.NoError(t, err)

	record, ok := out.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "contact_forms", record["source"])
	assert.NotNil(t, record["requested_at"])
}

func TestDispatchNotificationBroadcasts(t *testing.T) {
	hub := &recordingHub{}
	d := NewActionDispatcher(nil, NewBroadcaster(hub, nil), nil, nil)

	out, err := d.Dispatch(context.Background(), "wf", Action{
		Type:       ActionNotification,
		Parameters: map[string]any{"message": "audit failed", "severity": "warning"},
	})
	require.NoError(t, err)

	record, ok := out.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, true, record["delivered"])

	require.Len(t, hub.events, 1)
	assert.Equal(t, EventNotification, hub.events[0])
	payload, ok := hub.bodies[0].(NotificationPayload)
	require.True(t, ok)
	assert.Equal(t, "audit failed", payload.Message)
	assert.Equal(t, "warning", payload.Severity)
}

func TestDispatchAnalysisProbesURL(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	d := NewActionDispatcher(nil, nil, srv.Client(), nil)
	out, err := d.Dispatch(context.Background(), "wf", Action{
		Type:       ActionAnalysis,
		Parameters: map[string]any{"url": srv.URL, "analysis_type": "comprehensive"},
		Timeout:    5 * time.Second,
	})
	require.NoError(t, err)

	report, ok := out.(*AnalysisReport)
	require.True(t, ok)
	assert.Equal(t, srv.URL, report.URL)
	assert.Equal(t, http.StatusOK, report.StatusCode)
	assert.True(t, report.Reachable)
	assert.Equal(t, "comprehensive", report.AnalysisType)
}

func TestDispatchAnalysisRequiresURL(t *testing.T) {
	d := NewActionDispatcher(nil, nil, nil, nil)
	_, err := d.Dispatch(context.Background(), "wf", Action{Type: ActionAnalysis})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "url required")
}

func TestDispatchWorkflowTrigger(t *testing.T) {
	d := NewActionDispatcher(nil, nil, nil, nil)

	// Manual trigger: no target workflow, queued for a human.
	out, err := d.Dispatch(context.Background(), "wf", Action{
		Type:       ActionWorkflowTrigger,
		Parameters: map[string]any{"action": "manual_lead_review"},
	})
	require.NoError(t, err)
	record := out.(map[string]any)
	assert.Equal(t, "manual", record["trigger_type"])
	assert.Equal(t, "manual_lead_review", record["action"])

	// Targeted trigger without wiring fails.
	_, err = d.Dispatch(context.Background(), "wf", Action{
		Type:       ActionWorkflowTrigger,
		Parameters: map[string]any{"workflow_id": "other"},
	})
	require.Error(t, err)

	// Targeted trigger with wiring starts the other workflow.
	var triggered string
	d.SetTrigger(func(_ context.Context, id string) error {
		triggered = id
		return nil
	})
	out, err = d.Dispatch(context.Background(), "wf", Action{
		Type:       ActionWorkflowTrigger,
		Parameters: map[string]any{"workflow_id": "other"},
	})
	require.NoError(t, err)
	assert.Equal(t, "other", triggered)
	record = out.(map[string]any)
	assert.Equal(t, "workflow", record["trigger_type"])
}
