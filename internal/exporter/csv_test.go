package exporter

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Bmw4134/portalflow/internal/workflow"
)

func TestWriteCSVWithBOM(t *testing.T) {
	dir := t.TempDir()
	w := NewCSVWriter(dir)

	err := w.WriteCSV("out.csv", WriteOptions{
		Headers:   []string{"a", "b"},
		Records:   [][]string{{"1", "2"}, {"3", "4"}},
		BOMPrefix: true,
	})
	require.NoError(t, err)

	data, err := os.ReadFile(filepath.Join(dir, "out.csv"))
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(string(data), "\xEF\xBB\xBF"), "expected UTF-8 BOM prefix")
	assert.Contains(t, string(data), "a,b\n")
	assert.Contains(t, string(data), "3,4\n")
}

func TestWriteCSVAppend(t *testing.T) {
	dir := t.TempDir()
	w := NewCSVWriter(dir)

	require.NoError(t, w.WriteCSV("log.csv", WriteOptions{
		Headers: []string{"step"},
		Records: [][]string{{"one"}},
	}))
	require.NoError(t, w.WriteCSV("log.csv", WriteOptions{
		Records: [][]string{{"two"}},
		Append:  true,
	}))

	data, err := os.ReadFile(filepath.Join(dir, "log.csv"))
	require.NoError(t, err)
	assert.Equal(t, "step\none\ntwo\n", string(data))
}

func TestWriteStepResults(t *testing.T) {
	dir := t.TempDir()
	w := NewCSVWriter(dir)

	ts := time.Date(2025, 3, 10, 9, 5, 0, 0, time.UTC)
	report := &workflow.StatusReport{
		ID: "consulting_template",
		Results: []workflow.StepResult{
			{StepID: "template_1_client_discovery", Success: true, Timestamp: ts},
			{StepID: "template_2_outreach", Success: false, FallbackExecuted: true, Error: "login failed", Timestamp: ts.Add(time.Minute)},
		},
	}

	path, err := w.WriteStepResults(report)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "workflow_consulting_template_results.csv"), path)

	data, err := os.ReadFile(path)
	require.NoError(t, err)

	content := string(data)
	assert.Contains(t, content, "step_id,success,fallback_executed,error,timestamp,output")
	assert.Contains(t, content, "template_1_client_discovery,true,false,,2025-03-10T09:05:00Z,")
	assert.Contains(t, content, "template_2_outreach,false,true,login failed,")
}

func TestWriteStepResultsNilReport(t *testing.T) {
	w := NewCSVWriter(t.TempDir())
	_, err := w.WriteStepResults(nil)
	assert.Error(t, err)
}
