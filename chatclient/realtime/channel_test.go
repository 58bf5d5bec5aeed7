package realtime

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// testServer upgrades one connection and exposes what it read plus a way to
// push events back to the client.
type testServer struct {
	*httptest.Server
	inbound chan map[string]any
	conn    chan *websocket.Conn
	gotAuth chan string
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	ts := &testServer{
		inbound: make(chan map[string]any, 16),
		conn:    make(chan *websocket.Conn, 1),
		gotAuth: make(chan string, 1),
	}
	upgrader := websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}
	ts.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ts.gotAuth <- r.Header.Get("Authorization")
		c, err := upgrader.Upgrade(w, r, nil)
		require.NoError(t, err)
		ts.conn <- c
		for {
			var msg map[string]any
			if err := c.ReadJSON(&msg); err != nil {
				return
			}
			ts.inbound <- msg
		}
	}))
	t.Cleanup(ts.Close)
	return ts
}

func (ts *testServer) waitInbound(t *testing.T) map[string]any {
	t.Helper()
	select {
	case msg := <-ts.inbound:
		return msg
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for a client event")
		return nil
	}
}

func TestDialSendsBearerToken(t *testing.T) {
	ts := newTestServer(t)
	c, err := Dial(context.Background(), ts.URL, "tok123")
	require.NoError(t, err)
	defer c.Close()

	assert.Equal(t, "Bearer tok123", <-ts.gotAuth)
}

func TestDialRejectsBadScheme(t *testing.T) {
	_, err := Dial(context.Background(), "ftp://example.com", "")
	assert.Error(t, err)
}

func TestEmitFlattensPayload(t *testing.T) {
	ts := newTestServer(t)
	c, err := Dial(context.Background(), ts.URL, "")
	require.NoError(t, err)
	defer c.Close()

	type payload struct {
		RoomID string `json:"room_id"`
		Online bool   `json:"online"`
	}
	require.NoError(t, c.Emit("userStatus", payload{RoomID: "c1", Online: true}))

	msg := ts.waitInbound(t)
	assert.Equal(t, "userStatus", msg["type"])
	assert.Equal(t, "c1", msg["room_id"])
	assert.Equal(t, true, msg["online"])
}

func TestJoinRoom(t *testing.T) {
	ts := newTestServer(t)
	c, err := Dial(context.Background(), ts.URL, "")
	require.NoError(t, err)
	defer c.Close()

	require.NoError(t, c.JoinRoom("c42"))
	msg := ts.waitInbound(t)
	assert.Equal(t, "joinRoom", msg["type"])
	assert.Equal(t, "c42", msg["room_id"])
}

func TestOnDispatchesServerEvents(t *testing.T) {
	ts := newTestServer(t)
	c, err := Dial(context.Background(), ts.URL, "")
	require.NoError(t, err)
	defer c.Close()

	got := make(chan json.RawMessage, 1)
	c.On("receiveMessage", func(p json.RawMessage) { got <- p })

	server := <-ts.conn
	require.NoError(t, server.WriteJSON(map[string]any{
		"type":    "receiveMessage",
		"payload": map[string]any{"id": "m1", "text": "hello"},
	}))

	select {
	case raw := <-got:
		var m struct {
			ID   string `json:"id"`
			Text string `json:"text"`
		}
		require.NoError(t, json.Unmarshal(raw, &m))
		assert.Equal(t, "m1", m.ID)
		assert.Equal(t, "hello", m.Text)
	case <-time.After(2 * time.Second):
		t.Fatal("handler never fired")
	}
}

func TestOffRemovesHandler(t *testing.T) {
	ts := newTestServer(t)
	c, err := Dial(context.Background(), ts.URL, "")
	require.NoError(t, err)
	defer c.Close()

	got := make(chan json.RawMessage, 2)
	c.On("chatClosed", func(p json.RawMessage) { got <- p })
	c.Off("chatClosed")

	server := <-ts.conn
	require.NoError(t, server.WriteJSON(map[string]any{
		"type":    "chatClosed",
		"payload": map[string]any{"chat_id": "c1"},
	}))

	select {
	case <-got:
		t.Fatal("removed handler still fired")
	case <-time.After(100 * time.Millisecond):
	}
}

func TestEmitAfterCloseFails(t *testing.T) {
	ts := newTestServer(t)
	c, err := Dial(context.Background(), ts.URL, "")
	require.NoError(t, err)
	require.NoError(t, c.Close())

	assert.Error(t, c.Emit("userStatus", map[string]bool{"online": false}))
}
