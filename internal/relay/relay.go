// Package relay is the development signaling relay: it routes signal
// envelopes between per-identity websocket channels and knows nothing
// about calls.
package relay

import (
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/Ring/internal/core"
	"github.com/dkeye/Ring/internal/domain"
)

const writeWait = 5 * time.Second

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Relay owns the identity registry and the per-connection pumps.
type Relay struct {
	Registry  *Registry
	ReadLimit int64
}

func New(readLimit int64) *Relay {
	return &Relay{Registry: NewRegistry(), ReadLimit: readLimit}
}

type relayConn struct {
	conn *websocket.Conn
	send chan []byte

	mu     sync.RWMutex
	closed bool
}

func (c *relayConn) TrySend(data []byte) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return errors.New("connection closed")
	}
	select {
	case c.send <- data:
	default:
		return core.ErrBackpressure
	}
	return nil
}

func (c *relayConn) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	close(c.send)
	_ = c.conn.Close()
	c.mu.Unlock()
}

// HandleWS upgrades one client's per-identity channel.
func (r *Relay) HandleWS(c *gin.Context) {
	uid := domain.PeerID(c.Query("uid"))
	if uid == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "uid required"})
		return
	}
	log.Info().Str("module", "relay").Str("uid", string(uid)).Msg("new WS connection")

	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Error().Err(err).Str("module", "relay").Msg("ws upgrade")
		return
	}

	conn := &relayConn{
		conn: ws,
		send: make(chan []byte, 32),
	}
	r.Registry.Bind(uid, conn)

	go r.writePump(conn)
	go r.readPump(uid, conn)
}

func (r *Relay) writePump(c *relayConn) {
	for data := range c.send {
		if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
			log.Error().Err(err).Str("module", "relay").Msg("writePump set deadline")
			return
		}
		if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
			log.Error().Err(err).Str("module", "relay").Msg("writePump write error")
			return
		}
	}
}

func (r *Relay) readPump(uid domain.PeerID, c *relayConn) {
	defer func() {
		log.Info().Str("module", "relay").Str("uid", string(uid)).Msg("readPump closing")
		c.Close()
		r.Registry.Unbind(uid, c)
	}()

	if r.ReadLimit > 0 {
		c.conn.SetReadLimit(r.ReadLimit)
	}
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		r.route(uid, data)
	}
}

// route forwards one envelope to its recipient's channel. Delivery is
// at-most-once: an absent or backpressured recipient drops the message.
func (r *Relay) route(from domain.PeerID, data []byte) {
	var env core.SignalMessage
	if err := json.Unmarshal(data, &env); err != nil {
		log.Error().Err(err).Str("module", "relay").Msg("bad json")
		return
	}
	if env.To.ID == "" {
		log.Warn().Str("module", "relay").Str("from", string(from)).Msg("envelope without recipient")
		return
	}
	dst, ok := r.Registry.Get(env.To.ID)
	if !ok {
		log.Warn().
			Str("module", "relay").
			Str("from", string(from)).
			Str("to", string(env.To.ID)).
			Str("kind", string(env.Kind)).
			Msg("recipient not connected, dropped")
		return
	}
	if err := dst.TrySend(data); err != nil {
		log.Warn().Err(err).Str("module", "relay").Str("to", string(env.To.ID)).Msg("delivery dropped")
	}
}
