package relay

import (
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dkeye/Ring/internal/core"
	"github.com/dkeye/Ring/internal/domain"
)

func startRelay(t *testing.T) (*Relay, string) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	rl := New(32768)
	r := gin.New()
	r.GET("/ws", rl.HandleWS)
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return rl, "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
}

func dial(t *testing.T, wsURL, uid string) *websocket.Conn {
	t.Helper()
	c, _, err := websocket.DefaultDialer.Dial(wsURL+"?uid="+uid, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func envelope(kind core.SignalKind, from, to string) []byte {
	data, _ := json.Marshal(core.SignalMessage{
		Kind: kind,
		From: domain.PeerIdentity{ID: domain.PeerID(from)},
		To:   domain.PeerIdentity{ID: domain.PeerID(to)},
		SDP:  "sdp",
	})
	return data
}

func TestRouteByRecipient(t *testing.T) {
	rl, wsURL := startRelay(t)

	a := dial(t, wsURL, "alice")
	b := dial(t, wsURL, "bob")

	require.Eventually(t, func() bool { return rl.Registry.Count() == 2 }, 2*time.Second, 5*time.Millisecond)

	require.NoError(t, a.WriteMessage(websocket.TextMessage, envelope(core.SignalOffer, "alice", "bob")))

	require.NoError(t, b.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, data, err := b.ReadMessage()
	require.NoError(t, err)

	var msg core.SignalMessage
	require.NoError(t, json.Unmarshal(data, &msg))
	assert.Equal(t, core.SignalOffer, msg.Kind)
	assert.Equal(t, domain.PeerID("alice"), msg.From.ID)
}

func TestUnknownRecipientDropped(t *testing.T) {
	rl, wsURL := startRelay(t)

	a := dial(t, wsURL, "alice")
	require.Eventually(t, func() bool { return rl.Registry.Count() == 1 }, 2*time.Second, 5*time.Millisecond)

	// Nothing blows up; the message just vanishes.
	require.NoError(t, a.WriteMessage(websocket.TextMessage, envelope(core.SignalHangup, "alice", "ghost")))

	require.NoError(t, a.WriteMessage(websocket.TextMessage, envelope(core.SignalOffer, "alice", "alice")))
	require.NoError(t, a.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, data, err := a.ReadMessage()
	require.NoError(t, err)
	var msg core.SignalMessage
	require.NoError(t, json.Unmarshal(data, &msg))
	assert.Equal(t, core.SignalOffer, msg.Kind, "relay still alive after the drop")
}

func TestDuplicateIdentityReplacesConnection(t *testing.T) {
	rl, wsURL := startRelay(t)

	old := dial(t, wsURL, "alice")
	require.Eventually(t, func() bool { return rl.Registry.Count() == 1 }, 2*time.Second, 5*time.Millisecond)

	// Re-subscribing under the same identity closes the stale channel so
	// deliveries are never duplicated.
	fresh := dial(t, wsURL, "alice")

	require.NoError(t, old.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err := old.ReadMessage()
	assert.Error(t, err, "replaced connection must be closed")

	b := dial(t, wsURL, "bob")
	require.Eventually(t, func() bool { return rl.Registry.Count() == 2 }, 2*time.Second, 5*time.Millisecond)
	require.NoError(t, b.WriteMessage(websocket.TextMessage, envelope(core.SignalAnswer, "bob", "alice")))

	require.NoError(t, fresh.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, data, err := fresh.ReadMessage()
	require.NoError(t, err)
	var msg core.SignalMessage
	require.NoError(t, json.Unmarshal(data, &msg))
	assert.Equal(t, core.SignalAnswer, msg.Kind)
}

func TestMissingUIDRejected(t *testing.T) {
	_, wsURL := startRelay(t)
	_, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	assert.Error(t, err)
}
