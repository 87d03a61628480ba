package live

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/cory-johannsen/tabletop-hub/internal/config"
)

func testLiveConfig() config.LiveConfig {
	return config.LiveConfig{
		SendBuffer:   16,
		WriteTimeout: time.Second,
		PingInterval: 50 * time.Millisecond,
		PongWait:     time.Second,
	}
}

func newWSServer(t *testing.T, r *Registry, gameID string) *httptest.Server {
	t.Helper()
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		conn, err := upgrader.Upgrade(w, req, nil)
		if err != nil {
			return
		}
		ws := NewWebSocketStream(conn, testLiveConfig(), zaptest.NewLogger(t))
		_ = r.Serve(req.Context(), gameID, ws)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func dial(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func readTopic(t *testing.T, conn *websocket.Conn) string {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var env struct {
		Topic string `json:"topic"`
	}
	require.NoError(t, conn.ReadJSON(&env))
	return env.Topic
}

func TestServe_SnapshotThenBroadcast(t *testing.T) {
	r := newTestRegistry(t)
	srv := newWSServer(t, r, "g1")
	conn := dial(t, srv)

	assert.Equal(t, "map.update", readTopic(t, conn))
	require.Eventually(t, func() bool { return r.Count("g1") == 1 }, time.Second, 5*time.Millisecond)

	r.Broadcast(context.Background(), "g1", diceStart("d1"))
	assert.Equal(t, "dice.start", readTopic(t, conn))
}

func TestServe_ClientCloseUnsubscribes(t *testing.T) {
	r := newTestRegistry(t)
	srv := newWSServer(t, r, "g1")
	conn := dial(t, srv)

	assert.Equal(t, "map.update", readTopic(t, conn))
	require.NoError(t, conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")))
	_ = conn.Close()

	require.Eventually(t, func() bool { return r.Count("g1") == 0 }, 2*time.Second, 10*time.Millisecond)
}

func TestServe_UnknownGameClosesConnection(t *testing.T) {
	r := newTestRegistry(t)
	srv := newWSServer(t, r, "missing")
	conn := dial(t, srv)

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err := conn.ReadMessage()
	require.Error(t, err)
	assert.True(t, websocket.IsCloseError(err, websocket.ClosePolicyViolation), "got %v", err)
}

func TestServe_RegistryCloseEndsStream(t *testing.T) {
	r := newTestRegistry(t)
	srv := newWSServer(t, r, "g1")
	conn := dial(t, srv)
	assert.Equal(t, "map.update", readTopic(t, conn))

	r.Close()

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err := conn.ReadMessage()
	require.Error(t, err)
	assert.True(t, websocket.IsCloseError(err, websocket.CloseNormalClosure), "got %v", err)
}
