// Package events fans daemon activity out to websocket subscribers, so a
// dashboard can watch the fleet live instead of polling /status.
package events

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"howell/internal/logging"
)

// Event is one broadcast message.
type Event struct {
	Type string `json:"type"`
	Data any    `json:"data,omitempty"`
	Time string `json:"time"`
}

const clientBuffer = 32

// Hub tracks subscribers and broadcasts events. Slow clients get dropped
// rather than backing up the daemon.
type Hub struct {
	mu       sync.Mutex
	clients  map[*client]struct{}
	logger   logging.Logger
	upgrader websocket.Upgrader
}

type client struct {
	conn *websocket.Conn
	send chan []byte
}

// NewHub returns an empty hub.
func NewHub(logger logging.Logger) *Hub {
	return &Hub{
		clients: make(map[*client]struct{}),
		logger:  logging.OrNop(logger),
		upgrader: websocket.Upgrader{
			// The HTTP layer already gates on the API key.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

// Publish broadcasts an event to every subscriber.
func (h *Hub) Publish(eventType string, data any) {
	payload, err := json.Marshal(Event{
		Type: eventType,
		Data: data,
		Time: time.Now().Format(time.RFC3339),
	})
	if err != nil {
		h.logger.Warn("Event marshal failed: %v", err)
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		select {
		case c.send <- payload:
		default:
			// Buffer full; the client is too slow to keep.
			delete(h.clients, c)
			close(c.send)
		}
	}
}

// ServeHTTP upgrades the request and streams events until the client
// disconnects.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("Websocket upgrade failed: %v", err)
		return
	}
	c := &client{conn: conn, send: make(chan []byte, clientBuffer)}

	h.mu.Lock()
	h.clients[c] = struct{}{}
	n := len(h.clients)
	h.mu.Unlock()
	h.logger.Debug("Websocket client connected (%d total)", n)

	go c.writeLoop()
	c.readLoop(h)
}

// Count returns the current subscriber count.
func (h *Hub) Count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Close disconnects every subscriber.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		delete(h.clients, c)
		close(c.send)
	}
}

func (c *client) writeLoop() {
	defer func() { _ = c.conn.Close() }()
	for msg := range c.send {
		_ = c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
		if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
			return
		}
	}
	_ = c.conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
}

// readLoop discards inbound messages; its job is noticing disconnects.
func (c *client) readLoop(h *Hub) {
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			break
		}
	}
	h.mu.Lock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
	}
	h.mu.Unlock()
	_ = c.conn.Close()
}
