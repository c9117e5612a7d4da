package relay

import (
	"time"

	"github.com/rs/zerolog/log"

	"github.com/lanparty/server/internal/domain"
)

// sweep force-closes every connection whose heartbeat went stale and runs the
// regular disconnect cleanup for it, so a silently vanished client cannot
// leave room, audio or video-source state behind. Called from the relay loop
// only, never concurrently with a dispatch.
func (r *Relay) sweep(now time.Time) {
	var stale []domain.ClientID
	r.registry.Each(func(c *Connection) {
		if now.Sub(c.LastHeartbeat) > r.staleTimeout {
			stale = append(stale, c.ID)
		}
	})
	for _, id := range stale {
		c, ok := r.registry.Get(id)
		if !ok {
			continue
		}
		log.Warn().Str("module", "relay").Str("id", string(id)).Dur("stale_for", now.Sub(c.LastHeartbeat)).Msg("evicting stale connection")
		c.sender.Close()
		r.cleanup(id)
	}
}
