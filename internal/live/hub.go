package live

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	log "github.com/sirupsen/logrus"
)

// Websocket message types.
const (
	MsgSessionUpdate = "session_update"
	MsgSessionEnded  = "session_ended"
	MsgSnapshot      = "snapshot"
	MsgMode          = "mode"
	MsgError         = "error"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 64 * 1024
	sendBuffer     = 256
)

// Message is the envelope of every websocket frame.
type Message struct {
	Type  string `json:"type"`
	Topic string `json:"topic,omitempty"`
	Data  any    `json:"data,omitempty"`
}

// Publisher fans a message out to the subscribers of a topic.
type Publisher interface {
	Publish(topic, msgType string, data any)
}

// SessionTopic is the hub topic of a live session.
func SessionTopic(sessionID string) string {
	return "session:" + sessionID
}

type envelope struct {
	topic string
	data  []byte
}

// Hub keeps the websocket clients of each topic and broadcasts to them.
type Hub struct {
	log        *log.Entry
	topics     map[string]map[*Client]struct{}
	broadcast  chan envelope
	register   chan *Client
	unregister chan *Client
	done       chan struct{}
	mu         sync.RWMutex
}

// NewHub creates a Hub. Run must be started before clients register.
func NewHub(logger *log.Entry) *Hub {
	if logger == nil {
		logger = log.WithField("component", "hub")
	}
	return &Hub{
		log:        logger,
		topics:     make(map[string]map[*Client]struct{}),
		broadcast:  make(chan envelope, sendBuffer),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		done:       make(chan struct{}),
	}
}

// Run serves registrations and broadcasts until ctx is done.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for topic, clients := range h.topics {
				for c := range clients {
					c.close()
				}
				delete(h.topics, topic)
			}
			h.mu.Unlock()
			return

		case c := <-h.register:
			h.mu.Lock()
			if h.topics[c.topic] == nil {
				h.topics[c.topic] = make(map[*Client]struct{})
			}
			h.topics[c.topic][c] = struct{}{}
			n := len(h.topics[c.topic])
			h.mu.Unlock()
			h.log.WithFields(log.Fields{"topic": c.topic, "subscribers": n}).Debug("Websocket client subscribed")

		case c := <-h.unregister:
			h.remove(c)

		case msg := <-h.broadcast:
			h.mu.Lock()
			for c := range h.topics[msg.topic] {
				if !c.enqueue(msg.data) {
					// Slow consumer.
					h.log.WithField("topic", msg.topic).Warn("Dropping slow websocket client")
					delete(h.topics[msg.topic], c)
					c.close()
				}
			}
			h.mu.Unlock()
		}
	}
}

func (h *Hub) remove(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	clients, ok := h.topics[c.topic]
	if !ok {
		return
	}
	if _, ok := clients[c]; ok {
		delete(clients, c)
		c.close()
	}
	if len(clients) == 0 {
		delete(h.topics, c.topic)
	}
}

// Publish marshals a message and queues it for the subscribers of topic.
func (h *Hub) Publish(topic, msgType string, data any) {
	payload, err := json.Marshal(Message{Type: msgType, Topic: topic, Data: data})
	if err != nil {
		h.log.WithError(err).WithField("type", msgType).Error("Failed to marshal broadcast message")
		return
	}
	select {
	case h.broadcast <- envelope{topic: topic, data: payload}:
	case <-h.done:
	}
}

// Subscribers returns the number of clients on topic.
func (h *Hub) Subscribers(topic string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.topics[topic])
}

// Client is one websocket connection. A client with an empty topic is
// private: it never registers with the hub and is written to with Send.
type Client struct {
	hub   *Hub
	conn  *websocket.Conn
	topic string
	send  chan []byte

	mu     sync.Mutex
	closed bool
}

// NewClient wraps conn. hub may be nil for private clients.
func NewClient(hub *Hub, conn *websocket.Conn, topic string) *Client {
	return &Client{
		hub:   hub,
		conn:  conn,
		topic: topic,
		send:  make(chan []byte, sendBuffer),
	}
}

// Register subscribes the client to its topic.
func (c *Client) Register() {
	if c.hub != nil && c.topic != "" {
		select {
		case c.hub.register <- c:
		case <-c.hub.done:
			c.close()
		}
	}
}

// Unregister removes the client from its topic, or closes a private client.
func (c *Client) Unregister() {
	if c.hub != nil && c.topic != "" {
		select {
		case c.hub.unregister <- c:
			return
		case <-c.hub.done:
		}
	}
	c.close()
}

// Send queues a message for this client only. It reports false when the
// client is closed or its buffer is full.
func (c *Client) Send(msgType string, data any) bool {
	payload, err := json.Marshal(Message{Type: msgType, Topic: c.topic, Data: data})
	if err != nil {
		return false
	}
	return c.enqueue(payload)
}

func (c *Client) enqueue(payload []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	select {
	case c.send <- payload:
		return true
	default:
		return false
	}
}

func (c *Client) close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.send)
	}
}

// ReadPump reads frames until the connection fails and hands each one to
// onMessage, which may be nil. It unregisters the client on return.
func (c *Client) ReadPump(onMessage func([]byte)) {
	defer func() {
		c.Unregister()
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		if onMessage != nil {
			onMessage(data)
		}
	}
}

// WritePump writes queued messages and keeps the connection alive with
// pings. It returns when the send queue is closed.
func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
