package relay

import (
	"time"

	"github.com/rs/zerolog/log"

	"github.com/lanparty/server/internal/domain"
)

// Sender is the relay's view of one client's transport. TrySend is
// best-effort: a full buffer or a closed connection drops the frame, the
// relay never queues or retries. Close tears the socket down.
type Sender interface {
	TrySend(data []byte) error
	Close()
}

// Connection is the registry entry for one live socket. Everything here is
// advisory protocol state; the socket itself is reachable only through the
// Sender handle. Other stores reference a connection by ID, never by pointer.
type Connection struct {
	ID            domain.ClientID
	Username      string
	Color         string
	Room          domain.RoomID
	State         domain.ClientState
	Position      domain.Point
	LastHeartbeat time.Time

	sender Sender
}

// Registry owns every Connection. It is touched only from the relay
// goroutine, so it carries no lock.
type Registry struct {
	conns map[domain.ClientID]*Connection
}

func NewRegistry() *Registry {
	return &Registry{conns: make(map[domain.ClientID]*Connection)}
}

func (r *Registry) Add(id domain.ClientID, s Sender, now time.Time) *Connection {
	c := &Connection{
		ID:            id,
		State:         domain.StateUnjoined,
		LastHeartbeat: now,
		sender:        s,
	}
	r.conns[id] = c
	log.Info().Str("module", "relay.registry").Str("id", string(id)).Msg("connection added")
	return c
}

func (r *Registry) Get(id domain.ClientID) (*Connection, bool) {
	c, ok := r.conns[id]
	return c, ok
}

func (r *Registry) Remove(id domain.ClientID) {
	delete(r.conns, id)
	log.Info().Str("module", "relay.registry").Str("id", string(id)).Msg("connection removed")
}

func (r *Registry) Len() int { return len(r.conns) }

// Each visits every connection. The callback must not add or remove entries.
func (r *Registry) Each(fn func(*Connection)) {
	for _, c := range r.conns {
		fn(c)
	}
}
