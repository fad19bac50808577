package exporter

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Bmw4134/portalflow/internal/workflow"
)

func sampleReport() *workflow.StatusReport {
	start := time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)
	end := start.Add(42 * time.Minute)
	return &workflow.StatusReport{
		ID:                  "kate_photography_complete",
		Name:                "Kate Photography Automation",
		Status:              workflow.StatusCompleted,
		Progress:            100,
		CurrentStep:         6,
		TotalSteps:          6,
		StartTime:           &start,
		EndTime:             &end,
		EstimatedCompletion: "completed",
		Results: []workflow.StepResult{
			{
				StepID:    "step_1_website_audit",
				Success:   true,
				Output:    map[string]any{"pages": 12},
				Timestamp: start.Add(5 * time.Minute),
			},
			{
				StepID:           "step_2_lead_qualification",
				Success:          false,
				FallbackExecuted: true,
				Error:            "portal unreachable",
				Timestamp:        start.Add(15 * time.Minute),
			},
		},
	}
}

func TestBuildWorkflowReport(t *testing.T) {
	f, err := BuildWorkflowReport(sampleReport())
	require.NoError(t, err)
	defer f.Close()

	assert.Equal(t, []string{"Summary", "Step Results"}, f.GetSheetList())

	id, err := f.GetCellValue("Summary", "B1")
	require.NoError(t, err)
	assert.Equal(t, "kate_photography_complete", id)

	status, err := f.GetCellValue("Summary", "B3")
	require.NoError(t, err)
	assert.Equal(t, "completed", status)

	header, err := f.GetCellValue("Step Results", "A1")
	require.NoError(t, err)
	assert.Equal(t, "Step ID", header)

	stepID, err := f.GetCellValue("Step Results", "A2")
	require.NoError(t, err)
	assert.Equal(t, "step_1_website_audit", stepID)

	fallback, err := f.GetCellValue("Step Results", "C3")
	require.NoError(t, err)
	assert.Equal(t, "TRUE", fallback)

	errCell, err := f.GetCellValue("Step Results", "D3")
	require.NoError(t, err)
	assert.Equal(t, "portal unreachable", errCell)

	output, err := f.GetCellValue("Step Results", "F2")
	require.NoError(t, err)
	assert.JSONEq(t, `{"pages":12}`, output)
}

func TestBuildWorkflowReportNilReport(t *testing.T) {
	_, err := BuildWorkflowReport(nil)
	assert.Error(t, err)
}

func TestSaveWorkflowReport(t *testing.T) {
	dir := t.TempDir()
	exporter := NewAuditExporter(filepath.Join(dir, "reports"), nil)

	path, err := exporter.SaveWorkflowReport(sampleReport())
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "reports", "workflow_kate_photography_complete_audit.xlsx"), path)

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Greater(t, info.Size(), int64(0))
}
