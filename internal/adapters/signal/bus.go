// Package signal is the signal bus adapter: a websocket client on the
// per-identity relay channel. It moves typed envelopes and holds no call
// logic.
package signal

import (
	"encoding/json"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/Ring/internal/core"
	"github.com/dkeye/Ring/internal/domain"
)

const writeWait = 5 * time.Second

// Bus implements core.SignalBus over one relay websocket per identity.
type Bus struct {
	relayURL   string
	readLimit  int64
	pingPeriod time.Duration

	mu   sync.Mutex
	conn *busConn
}

func NewBus(relayURL string, readLimit int64, pingPeriod time.Duration) *Bus {
	return &Bus{
		relayURL:   relayURL,
		readLimit:  readLimit,
		pingPeriod: pingPeriod,
	}
}

// Subscribe dials the relay on the channel of self. Any previous
// subscription is torn down first so at most one listener per identity
// exists; its channel closes when the teardown lands.
func (b *Bus) Subscribe(self domain.PeerIdentity) (<-chan core.SignalMessage, func(), error) {
	u, err := url.Parse(b.relayURL)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: bad relay url: %v", core.ErrTransport, err)
	}
	q := u.Query()
	q.Set("uid", string(self.ID))
	u.RawQuery = q.Encode()

	ws, _, err := websocket.DefaultDialer.Dial(u.String(), nil)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: dial: %v", core.ErrTransport, err)
	}

	c := &busConn{
		conn: ws,
		send: make(chan []byte, 32),
		out:  make(chan core.SignalMessage, 32),
		done: make(chan struct{}),
	}

	b.mu.Lock()
	if b.conn != nil {
		b.conn.close()
	}
	b.conn = c
	b.mu.Unlock()

	go c.writePump(b.pingPeriod)
	go c.readPump(b.readLimit)

	log.Info().Str("module", "signal").Str("uid", string(self.ID)).Msg("subscribed to relay")
	return c.out, c.close, nil
}

// Send delivers one envelope over the live subscription.
func (b *Bus) Send(msg core.SignalMessage) error {
	b.mu.Lock()
	c := b.conn
	b.mu.Unlock()
	if c == nil {
		return fmt.Errorf("%w: not subscribed", core.ErrTransport)
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("%w: marshal: %v", core.ErrTransport, err)
	}
	if err := c.trySend(data); err != nil {
		return fmt.Errorf("%w: %v", core.ErrTransport, err)
	}
	return nil
}

// busConn is one subscription's connection with its pumps.
type busConn struct {
	conn *websocket.Conn
	send chan []byte
	out  chan core.SignalMessage
	done chan struct{}
	once sync.Once

	mu     sync.RWMutex
	closed bool
}

func (c *busConn) trySend(data []byte) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return fmt.Errorf("connection closed")
	}
	select {
	case c.send <- data:
		return nil
	default:
		return core.ErrBackpressure
	}
}

func (c *busConn) close() {
	c.once.Do(func() {
		c.mu.Lock()
		c.closed = true
		c.mu.Unlock()
		close(c.done)
		_ = c.conn.Close()
	})
}

func (c *busConn) writePump(pingPeriod time.Duration) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-c.done:
			return
		case data, ok := <-c.send:
			if !ok {
				return
			}
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				log.Error().Err(err).Str("module", "signal").Msg("writePump set deadline")
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				log.Error().Err(err).Str("module", "signal").Msg("writePump write error")
				return
			}
		case <-ticker.C:
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				return
			}
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *busConn) readPump(readLimit int64) {
	defer func() {
		c.close()
		close(c.out)
		log.Info().Str("module", "signal").Msg("readPump closing")
	}()
	if readLimit > 0 {
		c.conn.SetReadLimit(readLimit)
	}
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			select {
			case <-c.done:
			default:
				log.Error().Err(err).Str("module", "signal").Msg("readPump read error")
			}
			return
		}
		var msg core.SignalMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			log.Error().Err(err).Str("module", "signal").Msg("bad json")
			continue
		}
		select {
		case c.out <- msg:
		case <-c.done:
			return
		}
	}
}
