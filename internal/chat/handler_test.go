package chat

import (
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"agora/api/internal/session"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sessionCookie = "sid"

var testIdentities = map[string]session.Identity{
	"tok-alice": {UserID: "u-alice", Username: "alice", AvatarRef: "https://gravatar.com/avatar/a?s=128"},
	"tok-bob":   {UserID: "u-bob", Username: "bob", AvatarRef: "https://gravatar.com/avatar/b?s=128"},
	"tok-carol": {UserID: "u-carol", Username: "carol", AvatarRef: "https://gravatar.com/avatar/c?s=128"},
}

func cookieAuthenticator(r *http.Request) (session.Identity, bool) {
	cookie, err := r.Cookie(sessionCookie)
	if err != nil {
		return session.Identity{}, false
	}
	identity, ok := testIdentities[cookie.Value]
	identity.Token = cookie.Value
	return identity, ok
}

func newChatServer(t *testing.T) (*Hub, string) {
	t.Helper()
	return newChatServerWith(t, defaultKeepalive)
}

func newChatServerWith(t *testing.T, alive keepalive) (*Hub, string) {
	t.Helper()
	hub := NewHub(nil)
	handler := NewHandler(hub, cookieAuthenticator, nil)
	handler.alive = alive
	srv := httptest.NewServer(handler)
	t.Cleanup(func() {
		hub.Shutdown()
		srv.Close()
	})
	return hub, "ws" + strings.TrimPrefix(srv.URL, "http")
}

func dial(t *testing.T, url, token string) *websocket.Conn {
	t.Helper()
	header := http.Header{}
	if token != "" {
		header.Set("Cookie", sessionCookie+"="+token)
	}
	conn, _, err := websocket.DefaultDialer.Dial(url, header)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func readEnvelope(t *testing.T, conn *websocket.Conn) Envelope {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var env Envelope
	require.NoError(t, conn.ReadJSON(&env))
	return env
}

func readChat(t *testing.T, conn *websocket.Conn) ChatMessageData {
	t.Helper()
	env := readEnvelope(t, conn)
	require.Equal(t, EventChatMessage, env.Event)
	var data ChatMessageData
	require.NoError(t, json.Unmarshal(env.Data, &data))
	return data
}

// expectSilence fails if a frame arrives within the window. The connection
// is unusable afterwards.
func expectSilence(t *testing.T, conn *websocket.Conn) {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(200*time.Millisecond)))
	_, msg, err := conn.ReadMessage()
	require.Error(t, err, "unexpected frame %s", msg)
}

func sendChat(t *testing.T, conn *websocket.Conn, text string) {
	t.Helper()
	raw, err := json.Marshal(ChatMessageData{Text: text})
	require.NoError(t, err)
	require.NoError(t, conn.WriteJSON(Envelope{Event: EventChatMessage, Data: raw}))
}

// expectClosed reads until the server closes the connection. Frames queued
// before the close are skipped.
func expectClosed(t *testing.T, conn *websocket.Conn) {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	for {
		_, _, err := conn.ReadMessage()
		if err == nil {
			continue
		}
		var netErr net.Error
		if errors.As(err, &netErr) && netErr.Timeout() {
			t.Fatalf("connection still open: %v", err)
		}
		return
	}
}

func waitForInert(t *testing.T, hub *Hub, n int) {
	t.Helper()
	require.Eventually(t, func() bool { return hub.inertCount() == n }, 2*time.Second, 10*time.Millisecond)
}

func waitForCount(t *testing.T, hub *Hub, n int) {
	t.Helper()
	require.Eventually(t, func() bool { return hub.Count() == n }, 2*time.Second, 10*time.Millisecond)
}

func TestWelcomeIsFirstFrame(t *testing.T) {
	_, url := newChatServer(t)
	conn := dial(t, url, "tok-alice")

	env := readEnvelope(t, conn)
	assert.Equal(t, EventWelcome, env.Event)
	var data WelcomeData
	require.NoError(t, json.Unmarshal(env.Data, &data))
	assert.Equal(t, "alice", data.Username)
	assert.Equal(t, testIdentities["tok-alice"].AvatarRef, data.AvatarRef)
}

func TestFanOutExcludesSenderAndClosedConnections(t *testing.T) {
	hub, url := newChatServer(t)
	alice := dial(t, url, "tok-alice")
	bob := dial(t, url, "tok-bob")
	carol := dial(t, url, "tok-carol")
	for _, conn := range []*websocket.Conn{alice, bob, carol} {
		require.Equal(t, EventWelcome, readEnvelope(t, conn).Event)
	}
	waitForCount(t, hub, 3)

	sendChat(t, alice, "  <b>hello</b> everyone ")
	for _, conn := range []*websocket.Conn{bob, carol} {
		msg := readChat(t, conn)
		assert.Equal(t, "hello everyone", msg.Text)
		assert.Equal(t, "alice", msg.Username)
		assert.Equal(t, testIdentities["tok-alice"].AvatarRef, msg.AvatarRef)
	}

	require.NoError(t, bob.Close())
	waitForCount(t, hub, 2)

	sendChat(t, alice, "second")
	assert.Equal(t, "second", readChat(t, carol).Text)

	// Markup-only text is dropped, so carol sees the next real message.
	sendChat(t, alice, "<script>alert(1)</script>")
	sendChat(t, alice, "third")
	assert.Equal(t, "third", readChat(t, carol).Text)

	expectSilence(t, alice)
}

func TestAnonymousConnectionIsInert(t *testing.T) {
	hub, url := newChatServer(t)
	alice := dial(t, url, "tok-alice")
	bob := dial(t, url, "tok-bob")
	readEnvelope(t, alice)
	readEnvelope(t, bob)
	waitForCount(t, hub, 2)

	anon := dial(t, url, "")
	forged := dial(t, url, "tok-unknown")
	waitForInert(t, hub, 2)

	sendChat(t, anon, "spoofed")
	sendChat(t, alice, "hi bob")
	assert.Equal(t, "hi bob", readChat(t, bob).Text)

	assert.Equal(t, 2, hub.Count())
	expectSilence(t, anon)
	expectSilence(t, forged)
}

func TestDisconnectSessionClosesOnlyThatSession(t *testing.T) {
	hub, url := newChatServer(t)
	aliceTab1 := dial(t, url, "tok-alice")
	aliceTab2 := dial(t, url, "tok-alice")
	bob := dial(t, url, "tok-bob")
	carol := dial(t, url, "tok-carol")
	for _, conn := range []*websocket.Conn{bob, carol} {
		require.Equal(t, EventWelcome, readEnvelope(t, conn).Event)
	}
	waitForCount(t, hub, 4)

	assert.Equal(t, 2, hub.DisconnectSession("tok-alice"))
	assert.Equal(t, 0, hub.DisconnectSession(""))
	expectClosed(t, aliceTab1)
	expectClosed(t, aliceTab2)
	waitForCount(t, hub, 2)

	sendChat(t, carol, "still here")
	assert.Equal(t, "still here", readChat(t, bob).Text)
}

func TestShutdownClosesInertConnections(t *testing.T) {
	hub, url := newChatServer(t)
	anon := dial(t, url, "")
	waitForInert(t, hub, 1)

	hub.Shutdown()
	expectClosed(t, anon)
	assert.Equal(t, 0, hub.inertCount())

	// Connections arriving after shutdown are closed straight away.
	late := dial(t, url, "")
	expectClosed(t, late)
	assert.Equal(t, 0, hub.inertCount())
}

func TestInertConnectionWithoutPongsIsDropped(t *testing.T) {
	hub, url := newChatServerWith(t, keepalive{pongWait: 250 * time.Millisecond, pingPeriod: 50 * time.Millisecond})
	anon := dial(t, url, "")
	anon.SetPingHandler(func(string) error { return nil })
	waitForInert(t, hub, 1)

	expectClosed(t, anon)
	waitForInert(t, hub, 0)
}

func TestInertConnectionAnsweringPingsStaysOpen(t *testing.T) {
	hub, url := newChatServerWith(t, keepalive{pongWait: 300 * time.Millisecond, pingPeriod: 50 * time.Millisecond})
	anon := dial(t, url, "")
	waitForInert(t, hub, 1)

	// The default ping handler answers with pongs while we read.
	require.NoError(t, anon.SetReadDeadline(time.Now().Add(time.Second)))
	_, _, err := anon.ReadMessage()
	var netErr net.Error
	require.True(t, errors.As(err, &netErr) && netErr.Timeout(), "unexpected read result: %v", err)
	assert.Equal(t, 1, hub.inertCount())
}
