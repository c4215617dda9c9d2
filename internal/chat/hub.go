// Package chat is the realtime broadcast hub: authenticated WebSocket
// connections exchange chat messages that are fanned out to every other
// connection and never stored.
package chat

import (
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Hub is the registry of open, identified connections keyed by client id.
// Broadcasts hold the read lock so they never race with a client being
// removed and its send channel closed. Anonymous connections are tracked
// separately so Shutdown can close them too; they never receive broadcasts.
type Hub struct {
	mu      sync.RWMutex
	clients map[string]*Client
	inert   map[*websocket.Conn]struct{}
	closed  bool
	logger  *slog.Logger
}

// NewHub creates a new hub
func NewHub(logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		clients: make(map[string]*Client),
		inert:   make(map[*websocket.Conn]struct{}),
		logger:  logger.With("component", "chat"),
	}
}

// Register adds an identified client to the fan-out set.
func (h *Hub) Register(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		close(c.send)
		return
	}
	h.clients[c.ID] = c
	h.logger.Debug("client registered", "client_id", c.ID, "username", c.identity.Username)
}

// Unregister removes the client and closes its send channel. Safe to call
// more than once.
func (h *Hub) Unregister(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if current, ok := h.clients[c.ID]; ok && current == c {
		delete(h.clients, c.ID)
		close(c.send)
		h.logger.Debug("client unregistered", "client_id", c.ID, "username", c.identity.Username)
	}
}

// DisconnectSession closes every client that connected under token, used
// when that session logs out. It returns the number of clients closed.
func (h *Hub) DisconnectSession(token string) int {
	if token == "" {
		return 0
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	closed := 0
	for id, c := range h.clients {
		if c.identity.Token != token {
			continue
		}
		delete(h.clients, id)
		close(c.send)
		closed++
	}
	if closed > 0 {
		h.logger.Debug("session clients disconnected", "count", closed)
	}
	return closed
}

// trackInert records an anonymous connection. It reports false once the hub
// has shut down, in which case the caller closes the connection.
func (h *Hub) trackInert(conn *websocket.Conn) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return false
	}
	h.inert[conn] = struct{}{}
	return true
}

func (h *Hub) untrackInert(conn *websocket.Conn) {
	h.mu.Lock()
	delete(h.inert, conn)
	h.mu.Unlock()
}

func (h *Hub) inertCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.inert)
}

// Broadcast queues frame for every client except senderID. A recipient whose
// buffer is full misses the frame; nobody waits on a slow connection.
func (h *Hub) Broadcast(senderID string, frame []byte) int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	delivered := 0
	for id, c := range h.clients {
		if id == senderID {
			continue
		}
		select {
		case c.send <- frame:
			delivered++
		default:
			h.logger.Warn("client send buffer full, dropping message", "client_id", id)
		}
	}
	return delivered
}

// Count returns the number of registered clients
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Shutdown closes every client and anonymous connection. Later
// registrations are closed immediately.
func (h *Hub) Shutdown() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	for id, c := range h.clients {
		delete(h.clients, id)
		close(c.send)
	}
	goingAway := websocket.FormatCloseMessage(websocket.CloseGoingAway, "")
	for conn := range h.inert {
		delete(h.inert, conn)
		_ = conn.WriteControl(websocket.CloseMessage, goingAway, time.Now().Add(writeWait))
		_ = conn.Close()
	}
}
