// Package exporter produces audit artifacts from workflow runs: an xlsx
// workbook for business reporting and a CSV of step results for quick
// inspection or spreadsheet import.
package exporter

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/Bmw4134/portalflow/internal/workflow"
)

const (
	summarySheet = "Summary"
	resultsSheet = "Step Results"
)

// BuildWorkflowReport renders a workflow status report into an xlsx
// workbook with a summary sheet and one row per recorded step result.
// The caller owns the returned file and must Close it.
func BuildWorkflowReport(report *workflow.StatusReport) (*excelize.File, error) {
	if report == nil {
		return nil, fmt.Errorf("nil status report")
	}

	f := excelize.NewFile()
	f.SetSheetName("Sheet1", summarySheet)

	if err := writeSummarySheet(f, report); err != nil {
		f.Close()
		return nil, err
	}
	if err := writeResultsSheet(f, report); err != nil {
		f.Close()
		return nil, err
	}

	f.SetActiveSheet(0)
	return f, nil
}

func writeSummarySheet(f *excelize.File, report *workflow.StatusReport) error {
	rows := [][]any{
		{"Workflow ID", report.ID},
		{"Name", report.Name},
		{"Status", string(report.Status)},
		{"Progress", fmt.Sprintf("%d%%", report.Progress)},
		{"Current Step", fmt.Sprintf("%d of %d", report.CurrentStep, report.TotalSteps)},
		{"Current Step Name", report.CurrentStepName},
		{"Started", formatTime(report.StartTime)},
		{"Finished", formatTime(report.EndTime)},
		{"Estimated Completion", report.EstimatedCompletion},
		{"Generated", time.Now().UTC().Format(time.RFC3339)},
	}

	for i, row := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		if err != nil {
			return fmt.Errorf("failed to compute cell name: %w", err)
		}
		if err := f.SetSheetRow(summarySheet, cell, &row); err != nil {
			return fmt.Errorf("failed to write summary row %d: %w", i+1, err)
		}
	}

	bold, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		return fmt.Errorf("failed to create label style: %w", err)
	}
	if err := f.SetCellStyle(summarySheet, "A1", fmt.Sprintf("A%d", len(rows)), bold); err != nil {
		return fmt.Errorf("failed to style labels: %w", err)
	}

	if err := f.SetColWidth(summarySheet, "A", "A", 24); err != nil {
		return err
	}
	return f.SetColWidth(summarySheet, "B", "B", 48)
}

func writeResultsSheet(f *excelize.File, report *workflow.StatusReport) error {
	if _, err := f.NewSheet(resultsSheet); err != nil {
		return fmt.Errorf("failed to create results sheet: %w", err)
	}

	headers := []any{"Step ID", "Success", "Fallback Executed", "Error", "Timestamp", "Output"}
	if err := f.SetSheetRow(resultsSheet, "A1", &headers); err != nil {
		return fmt.Errorf("failed to write results header: %w", err)
	}

	bold, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		return fmt.Errorf("failed to create header style: %w", err)
	}
	if err := f.SetCellStyle(resultsSheet, "A1", "F1", bold); err != nil {
		return fmt.Errorf("failed to style header: %w", err)
	}

	for i, result := range report.Results {
		row := []any{
			result.StepID,
			result.Success,
			result.FallbackExecuted,
			result.Error,
			result.Timestamp.UTC().Format(time.RFC3339),
			formatOutput(result.Output),
		}
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return fmt.Errorf("failed to compute cell name: %w", err)
		}
		if err := f.SetSheetRow(resultsSheet, cell, &row); err != nil {
			return fmt.Errorf("failed to write result row %d: %w", i+1, err)
		}
	}

	if err := f.SetColWidth(resultsSheet, "A", "E", 22); err != nil {
		return err
	}
	return f.SetColWidth(resultsSheet, "F", "F", 60)
}

// AuditExporter persists workflow reports under the reports directory.
type AuditExporter struct {
	reportsDir string
	logger     *slog.Logger
}

// NewAuditExporter creates an exporter rooted at reportsDir.
func NewAuditExporter(reportsDir string, logger *slog.Logger) *AuditExporter {
	if logger == nil {
		logger = slog.Default()
	}
	return &AuditExporter{
		reportsDir: reportsDir,
		logger:     logger.With(slog.String("component", "audit_exporter")),
	}
}

// SaveWorkflowReport writes the xlsx audit report to disk and returns the
// full path of the written file.
func (e *AuditExporter) SaveWorkflowReport(report *workflow.StatusReport) (string, error) {
	f, err := BuildWorkflowReport(report)
	if err != nil {
		return "", err
	}
	defer f.Close()

	if err := os.MkdirAll(e.reportsDir, 0755); err != nil {
		return "", fmt.Errorf("failed to create reports directory: %w", err)
	}

	path := filepath.Join(e.reportsDir, fmt.Sprintf("workflow_%s_audit.xlsx", report.ID))
	if err := f.SaveAs(path); err != nil {
		return "", fmt.Errorf("failed to save audit report: %w", err)
	}

	e.logger.Info("audit report written",
		slog.String("workflow_id", report.ID),
		slog.String("path", path),
		slog.Int("result_count", len(report.Results)),
	)
	return path, nil
}

func formatTime(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

// formatOutput flattens arbitrary step output into a single cell.
func formatOutput(output any) string {
	if output == nil {
		return ""
	}
	if s, ok := output.(string); ok {
		return s
	}
	b, err := json.Marshal(output)
	if err != nil {
		return fmt.Sprintf("%v", output)
	}
	return string(b)
}
