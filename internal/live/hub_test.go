package live

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func startHub(t *testing.T) (*Hub, *httptest.Server) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	hub := NewHub(nil)
	go hub.Run(ctx)

	upgrader := websocket.Upgrader{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		client := NewClient(hub, conn, r.URL.Query().Get("topic"))
		client.Register()
		go client.WritePump()
		client.ReadPump(nil)
	}))
	t.Cleanup(server.Close)
	return hub, server
}

func dial(t *testing.T, server *httptest.Server, topic string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(server.URL, "http") + "/?topic=" + topic
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func waitSubscribers(t *testing.T, hub *Hub, topic string, n int) {
	t.Helper()
	require.Eventually(t, func() bool { return hub.Subscribers(topic) == n }, 2*time.Second, 10*time.Millisecond)
}

func TestHub_PublishReachesTopicOnly(t *testing.T) {
	hub, server := startHub(t)

	a := dial(t, server, "session:a")
	b := dial(t, server, "session:b")
	waitSubscribers(t, hub, "session:a", 1)
	waitSubscribers(t, hub, "session:b", 1)

	hub.Publish("session:a", MsgSessionUpdate, map[string]float64{"lat": 1.5})

	a.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := a.ReadMessage()
	require.NoError(t, err)
	var msg struct {
		Type  string             `json:"type"`
		Topic string             `json:"topic"`
		Data  map[string]float64 `json:"data"`
	}
	require.NoError(t, json.Unmarshal(data, &msg))
	assert.Equal(t, MsgSessionUpdate, msg.Type)
	assert.Equal(t, "session:a", msg.Topic)
	assert.Equal(t, 1.5, msg.Data["lat"])

	b.SetReadDeadline(time.Now().Add(200 * time.Millisecond))
	_, _, err = b.ReadMessage()
	assert.Error(t, err, "other topics receive nothing")
}

func TestHub_UnregisterOnDisconnect(t *testing.T) {
	hub, server := startHub(t)

	conn := dial(t, server, "session:x")
	waitSubscribers(t, hub, "session:x", 1)
	conn.Close()
	waitSubscribers(t, hub, "session:x", 0)
}

func TestClient_PrivateSendAfterClose(t *testing.T) {
	c := NewClient(nil, nil, "")
	assert.True(t, c.Send(MsgMode, "home"))
	c.Unregister()
	assert.False(t, c.Send(MsgMode, "home"), "closed clients drop messages")
}
