package http

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Bmw4134/portalflow/internal/tasks"
)

func tasksTestServer(t *testing.T) (*httptest.Server, *tasks.Tracker) {
	t.Helper()
	tracker := tasks.NewTracker(nil)
	srv := httptest.NewServer(NewTasksHandler(tracker, nil).Routes())
	t.Cleanup(srv.Close)
	return srv, tracker
}

func TestListActiveTasks(t *testing.T) {
	srv, tracker := tasksTestServer(t)

	id := tracker.Create("instagram", "login", "https://www.instagram.com/accounts/login/")
	tracker.Start(id)
	done := tracker.Create("facebook", "login", "https://facebook.com/login")
	tracker.Complete(done, "ok", nil)

	resp, err := http.Get(srv.URL + "/active")
	require.NoError(t, err)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	body := decodeBody(t, resp)
	active, ok := body["tasks"].([]any)
	require.True(t, ok)
	require.Len(t, active, 1)

	task := active[0].(map[string]any)
	assert.Equal(t, id, task["id"])
	assert.Equal(t, "instagram", task["platform_name"])
}

func TestGetTask(t *testing.T) {
	srv, tracker := tasksTestServer(t)
	id := tracker.Create("calendly", "login", "https://calendly.com/login")

	resp, err := http.Get(srv.URL + "/" + id)
	require.NoError(t, err)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	body := decodeBody(t, resp)
	assert.Equal(t, id, body["id"])
}

func TestGetTaskNotFound(t *testing.T) {
	srv, _ := tasksTestServer(t)

	resp, err := http.Get(srv.URL + "/nope")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestResumeTask(t *testing.T) {
	srv, tracker := tasksTestServer(t)

	id := tracker.Create("instagram", "login", "https://www.instagram.com/accounts/login/")
	tracker.Start(id)
	tracker.PauseForInput(id, "two-factor code required")

	resp, err := http.Post(srv.URL+"/"+id+"/resume", "application/json", nil)
	require.NoError(t, err)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	body := decodeBody(t, resp)
	assert.Equal(t, true, body["success"])

	task, ok := tracker.Get(id)
	require.True(t, ok)
	assert.Equal(t, tasks.StatusRunning, task.Status)
}

func TestResumeTaskNotPaused(t *testing.T) {
	srv, tracker := tasksTestServer(t)

	id := tracker.Create("instagram", "login", "https://www.instagram.com/accounts/login/")
	tracker.Start(id)

	resp, err := http.Post(srv.URL+"/"+id+"/resume", "application/json", nil)
	require.NoError(t, err)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	body := decodeBody(t, resp)
	assert.Equal(t, false, body["success"])
}

func TestResumeTaskNotFound(t *testing.T) {
	srv, _ := tasksTestServer(t)

	resp, err := http.Post(srv.URL+"/nope/resume", "application/json", nil)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}
