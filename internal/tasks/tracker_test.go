package tasks

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTaskLifecycle(t *testing.T) {
	tr := NewTracker(nil)

	id := tr.Create("instagram", "login", "https://instagram.com/accounts/login")
	task, ok := tr.Get(id)
	require.True(t, ok)
	assert.Equal(t, StatusPending, task.Status)
	assert.False(t, task.PausedForInput)
	assert.Nil(t, task.CompletedAt)

	tr.Start(id)
	task, _ = tr.Get(id)
	assert.Equal(t, StatusRunning, task.Status)

	tr.PauseForInput(id, "waiting for verification code")
	task, _ = tr.Get(id)
	assert.Equal(t, StatusPaused, task.Status)
	assert.True(t, task.RequiresManual2FA)
	assert.True(t, task.PausedForInput)
	assert.Equal(t, "waiting for verification code", task.Message)

	tr.Complete(id, "login successful", map[string]any{"session_stored": true})
	task, _ = tr.Get(id)
	assert.Equal(t, StatusCompleted, task.Status)
	assert.False(t, task.PausedForInput)
	require.NotNil(t, task.CompletedAt)
	assert.Equal(t, true, task.Results["session_stored"])
}

func TestResumeOnlyFromPaused(t *testing.T) {
	tr := NewTracker(nil)
	id := tr.Create("calendly", "login", "https://calendly.com/login")

	// pending: not resumable
	assert.False(t, tr.Resume(id))

	tr.Start(id)
	assert.False(t, tr.Resume(id), "running task is not resumable")

	tr.PauseForInput(id, "2fa")
	assert.True(t, tr.Resume(id))

	task, _ := tr.Get(id)
	assert.Equal(t, StatusRunning, task.Status)
	assert.False(t, task.PausedForInput)

	tr.Fail(id, "timed out")
	assert.False(t, tr.Resume(id), "terminal task is not resumable")
}

func TestResumeUnknownID(t *testing.T) {
	tr := NewTracker(nil)
	assert.False(t, tr.Resume("no-such-task"))
}

func TestListActiveExcludesTerminal(t *testing.T) {
	tr := NewTracker(nil)

	a := tr.Create("a", "login", "https://a.example.com")
	b := tr.Create("b", "login", "https://b.example.com")
	c := tr.Create("c", "login", "https://c.example.com")

	tr.Complete(a, "done", nil)
	tr.Fail(b, "nope")
	tr.PauseForInput(c, "2fa")

	active := tr.ListActive()
	require.Len(t, active, 1)
	assert.Equal(t, c, active[0].ID)

	assert.Len(t, tr.ListAll(), 3)
}

func TestPruneDropsTerminalOnly(t *testing.T) {
	tr := NewTracker(nil)

	a := tr.Create("a", "login", "https://a.example.com")
	b := tr.Create("b", "login", "https://b.example.com")
	tr.Complete(a, "done", nil)
	tr.Start(b)

	assert.Equal(t, 1, tr.Prune())
	_, ok := tr.Get(a)
	assert.False(t, ok)
	_, ok = tr.Get(b)
	assert.True(t, ok)
}

func TestEachRunGetsFreshID(t *testing.T) {
	tr := NewTracker(nil)
	first := tr.Create("instagram", "login", "u")
	second := tr.Create("instagram", "login", "u")
	assert.NotEqual(t, first, second)
}
