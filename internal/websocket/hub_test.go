package websocket

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Bmw4134/portalflow/internal/config"
)

func dialTestHub(t *testing.T) (*Hub, *websocket.Conn) {
	t.Helper()
	hub := NewHub(config.WebSocketConfig{}, nil)
	hub.Start()
	t.Cleanup(hub.Stop)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ServeWS(hub, w, r)
	}))
	t.Cleanup(srv.Close)

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return hub, conn
}

func readEnvelope(t *testing.T, conn *websocket.Conn) map[string]any {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	var envelope map[string]any
	require.NoError(t, json.Unmarshal(data, &envelope))
	return envelope
}

func TestClientReceivesConnectionMessage(t *testing.T) {
	_, conn := dialTestHub(t)

	envelope := readEnvelope(t, conn)
	assert.Equal(t, TypeConnection, envelope["type"])
	data, ok := envelope["data"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "connected", data["status"])
	assert.NotEmpty(t, data["client_id"])
}

func TestBroadcastUpdateReachesClients(t *testing.T) {
	hub, conn := dialTestHub(t)
	readEnvelope(t, conn) // drain the connection message

	require.Eventually(t, func() bool { return hub.ClientCount() == 1 },
		time.Second, 5*time.Millisecond)

	hub.BroadcastUpdate("workflow:snapshot", "wf-1", "progress", map[string]any{
		"progress": 50,
	})

	envelope := readEnvelope(t, conn)
	assert.Equal(t, "workflow:snapshot", envelope["type"])
	assert.Equal(t, "wf-1", envelope["subject"])
	assert.Equal(t, "progress", envelope["action"])
	data, ok := envelope["data"].(map[string]any)
	require.True(t, ok)
	assert.EqualValues(t, 50, data["progress"])
	assert.NotEmpty(t, envelope["timestamp"])
}

func TestClientCountTracksDisconnects(t *testing.T) {
	hub, conn := dialTestHub(t)
	readEnvelope(t, conn)

	require.Eventually(t, func() bool { return hub.ClientCount() == 1 },
		time.Second, 5*time.Millisecond)

	conn.Close()
	require.Eventually(t, func() bool { return hub.ClientCount() == 0 },
		2*time.Second, 5*time.Millisecond)
}

func TestStopIsIdempotent(t *testing.T) {
	hub := NewHub(config.WebSocketConfig{}, nil)
	hub.Start()
	hub.Stop()
	hub.Stop()
	assert.Equal(t, 0, hub.ClientCount())
}
