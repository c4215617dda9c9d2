package chat

import (
	"log/slog"
	"net/http"
	"time"

	"agora/api/internal/session"
	"github.com/gorilla/websocket"
)

// Authenticator resolves the identity behind an upgrade request using the
// same token the request layer reads.
type Authenticator func(r *http.Request) (session.Identity, bool)

type Handler struct {
	hub          *Hub
	authenticate Authenticator
	upgrader     websocket.Upgrader
	alive        keepalive
	logger       *slog.Logger
}

// NewHandler keeps gorilla's same-origin check so a third-party page cannot
// ride the session cookie into the chat.
func NewHandler(hub *Hub, authenticate Authenticator, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		hub:          hub,
		authenticate: authenticate,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
		alive:  defaultKeepalive,
		logger: logger.With("component", "chat"),
	}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	identity, ok := h.authenticate(r)

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", "error", err)
		return
	}

	if !ok || !identity.Authenticated() {
		go h.holdInert(conn)
		return
	}

	client := newClient(h.hub, conn, identity, h.alive, h.logger)
	welcome, err := encode(EventWelcome, WelcomeData{Username: identity.Username, AvatarRef: identity.AvatarRef})
	if err != nil {
		h.logger.Error("encode welcome", "error", err)
		_ = conn.Close()
		return
	}
	// Queued before registration so the welcome is always the first frame.
	client.enqueue(welcome)
	h.hub.Register(client)

	go client.WritePump()
	go client.ReadPump()
}

// holdInert keeps an anonymous connection open without registering it for
// broadcasts. Frames are read and discarded so close and ping control frames
// are still handled, and a peer that stops answering pings is dropped just
// like an identified one.
func (h *Handler) holdInert(conn *websocket.Conn) {
	if !h.hub.trackInert(conn) {
		_ = conn.Close()
		return
	}
	done := make(chan struct{})
	defer func() {
		close(done)
		h.hub.untrackInert(conn)
		_ = conn.Close()
	}()

	conn.SetReadLimit(maxMessageSize)
	_ = conn.SetReadDeadline(time.Now().Add(h.alive.pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(h.alive.pongWait))
	})
	go h.pingInert(conn, done)

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *Handler) pingInert(conn *websocket.Conn, done <-chan struct{}) {
	ticker := time.NewTicker(h.alive.pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
		}
	}
}
