package realtime

import (
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func startHub(t *testing.T, cfg Config) (*Hub, string) {
	t.Helper()
	hub := NewHub(cfg, zaptest.NewLogger(t))
	srv := httptest.NewServer(hub)
	t.Cleanup(func() {
		hub.Close()
		srv.Close()
	})
	return hub, "ws" + strings.TrimPrefix(srv.URL, "http")
}

func dial(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	var welcome Welcome
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	require.NoError(t, conn.ReadJSON(&welcome))
	assert.Equal(t, TypeWelcome, welcome.Type)
	assert.Equal(t, "Connected to Weather Agent WebSocket", welcome.Message)
	return conn
}

func readTyping(t *testing.T, conn *websocket.Conn) map[string]any {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var frame map[string]any
	require.NoError(t, conn.ReadJSON(&frame))
	return frame
}

func expectSilence(t *testing.T, conn *websocket.Conn) {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(200*time.Millisecond)))
	_, data, err := conn.ReadMessage()
	assert.Error(t, err, "unexpected frame %s", data)
}

func TestTypingReachesOtherPeersOnly(t *testing.T) {
	hub, url := startHub(t, Config{})
	a := dial(t, url)
	b := dial(t, url)
	assert.Eventually(t, func() bool { return hub.Len() == 2 }, time.Second, 10*time.Millisecond)

	require.NoError(t, a.WriteJSON(map[string]any{"type": "typing", "conversationId": "c1", "isTyping": true}))

	frame := readTyping(t, b)
	assert.Equal(t, map[string]any{"type": "typing", "conversationId": "c1", "isTyping": true}, frame)
	expectSilence(t, a)
}

func TestMalformedAndUnknownFramesKeepConnectionOpen(t *testing.T) {
	_, url := startHub(t, Config{})
	a := dial(t, url)
	b := dial(t, url)

	require.NoError(t, a.WriteMessage(websocket.TextMessage, []byte("{not json")))
	require.NoError(t, a.WriteJSON(map[string]any{"type": "dance"}))
	require.NoError(t, a.WriteJSON(map[string]any{"type": "typing", "conversationId": "c2", "isTyping": false}))

	frame := readTyping(t, b)
	assert.Equal(t, "c2", frame["conversationId"])
	assert.Equal(t, false, frame["isTyping"])
}

func TestJoinConversation(t *testing.T) {
	hub, url := startHub(t, Config{})
	a := dial(t, url)

	require.NoError(t, a.WriteJSON(map[string]any{"type": "join_conversation", "conversationId": "c3"}))

	assert.Eventually(t, func() bool {
		hub.mu.RLock()
		defer hub.mu.RUnlock()
		for c := range hub.clients {
			var id string
			if json.Unmarshal(c.joined(), &id) == nil && id == "c3" {
				return true
			}
		}
		return false
	}, time.Second, 10*time.Millisecond)

	// Joins are not acknowledged.
	expectSilence(t, a)
}

func TestTypingThrottle(t *testing.T) {
	_, url := startHub(t, Config{TypingRate: 0.001, TypingBurst: 1})
	a := dial(t, url)
	b := dial(t, url)

	for i := 0; i < 3; i++ {
		require.NoError(t, a.WriteJSON(map[string]any{"type": "typing", "conversationId": "c1", "isTyping": true}))
	}

	readTyping(t, b)
	expectSilence(t, b)
}

func TestCloseDisconnectsPeers(t *testing.T) {
	hub, url := startHub(t, Config{})
	a := dial(t, url)

	hub.Close()

	require.NoError(t, a.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err := a.ReadMessage()
	require.Error(t, err)
	assert.True(t, websocket.IsCloseError(err, websocket.CloseGoingAway), "got %v", err)
	assert.Zero(t, hub.Len())

	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	assert.Error(t, err)
	if resp != nil {
		assert.Equal(t, 503, resp.StatusCode)
	}
}
