package relay

import (
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/dkeye/Ring/internal/domain"
)

// Registry maps identities to their live relay connection. At most one
// connection per identity: binding again replaces and closes the previous
// one, which prevents duplicate deliveries after a re-subscribe.
type Registry struct {
	mu    sync.RWMutex
	conns map[domain.PeerID]*relayConn
}

func NewRegistry() *Registry {
	return &Registry{conns: make(map[domain.PeerID]*relayConn)}
}

func (r *Registry) Bind(uid domain.PeerID, c *relayConn) {
	r.mu.Lock()
	prev := r.conns[uid]
	r.conns[uid] = c
	r.mu.Unlock()
	if prev != nil {
		prev.Close()
		log.Info().Str("module", "relay.registry").Str("uid", string(uid)).Msg("replaced previous connection")
	}
	log.Info().Str("module", "relay.registry").Str("uid", string(uid)).Msg("bound")
}

// Unbind removes uid's binding, but only when it still points at c; a
// replaced connection must not evict its successor.
func (r *Registry) Unbind(uid domain.PeerID, c *relayConn) {
	r.mu.Lock()
	if r.conns[uid] == c {
		delete(r.conns, uid)
		log.Info().Str("module", "relay.registry").Str("uid", string(uid)).Msg("unbound")
	}
	r.mu.Unlock()
}

func (r *Registry) Get(uid domain.PeerID) (*relayConn, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.conns[uid]
	return c, ok
}

func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}
