package chat

import (
	"encoding/json"
	"log/slog"
	"strings"
	"time"

	"agora/api/internal/sanitize"
	"agora/api/internal/session"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer.
	maxMessageSize = 8192

	sendBuffer = 64
)

// keepalive is the ping schedule applied to a connection.
type keepalive struct {
	pongWait   time.Duration
	pingPeriod time.Duration
}

var defaultKeepalive = keepalive{pongWait: pongWait, pingPeriod: pingPeriod}

// Client is one identified WebSocket connection.
type Client struct {
	ID       string
	identity session.Identity
	hub      *Hub
	conn     *websocket.Conn
	send     chan []byte
	alive    keepalive
	logger   *slog.Logger
}

func newClient(hub *Hub, conn *websocket.Conn, identity session.Identity, alive keepalive, logger *slog.Logger) *Client {
	id := uuid.NewString()
	return &Client{
		ID:       id,
		identity: identity,
		hub:      hub,
		conn:     conn,
		send:     make(chan []byte, sendBuffer),
		alive:    alive,
		logger:   logger.With("client_id", id),
	}
}

// enqueue queues a frame for this client only.
func (c *Client) enqueue(frame []byte) bool {
	select {
	case c.send <- frame:
		return true
	default:
		c.logger.Warn("client send buffer full, dropping message")
		return false
	}
}

// ReadPump reads chat frames until the connection fails, then removes the
// client from the hub.
func (c *Client) ReadPump() {
	defer func() {
		c.hub.Unregister(c)
		_ = c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(c.alive.pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(c.alive.pongWait))
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				c.logger.Warn("websocket read error", "error", err)
			}
			return
		}

		var env Envelope
		if err := json.Unmarshal(message, &env); err != nil {
			c.logger.Debug("discarding malformed frame", "error", err)
			continue
		}
		c.handle(env)
	}
}

func (c *Client) handle(env Envelope) {
	switch env.Event {
	case EventChatMessage:
		var in ChatMessageData
		if err := json.Unmarshal(env.Data, &in); err != nil {
			c.logger.Debug("discarding malformed chat message", "error", err)
			return
		}
		text := strings.TrimSpace(sanitize.Strip(in.Text))
		if text == "" {
			return
		}
		frame, err := encode(EventChatMessage, ChatMessageData{
			Text:      text,
			Username:  c.identity.Username,
			AvatarRef: c.identity.AvatarRef,
		})
		if err != nil {
			c.logger.Error("encode chat message", "error", err)
			return
		}
		c.hub.Broadcast(c.ID, frame)
	default:
		c.logger.Debug("ignoring unknown event", "event", env.Event)
	}
}

// WritePump drains the send channel to the connection and keeps it alive
// with pings.
func (c *Client) WritePump() {
	ticker := time.NewTicker(c.alive.pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case frame, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// Hub closed the channel
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				c.logger.Debug("websocket write failed", "error", err)
				return
			}

		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
