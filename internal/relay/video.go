package relay

import (
	"github.com/rs/zerolog/log"

	"github.com/lanparty/server/internal/domain"
)

// VideoSources records, per room, the single connection currently treated as
// the authoritative origin of the shared video stream. Last writer wins on
// start; only the recorded source can clear itself on stop.
type VideoSources struct {
	sources map[domain.RoomID]domain.ClientID
}

func NewVideoSources() *VideoSources {
	return &VideoSources{sources: make(map[domain.RoomID]domain.ClientID)}
}

func (v *VideoSources) Set(room domain.RoomID, id domain.ClientID) {
	v.sources[room] = id
	log.Debug().Str("module", "relay.video").Str("room", string(room)).Str("id", string(id)).Msg("video source set")
}

// Clear removes the room's source only if id is the recorded source. A stale
// stop from anyone else is a no-op. Reports whether the record changed.
func (v *VideoSources) Clear(room domain.RoomID, id domain.ClientID) bool {
	if cur, ok := v.sources[room]; ok && cur == id {
		delete(v.sources, room)
		log.Debug().Str("module", "relay.video").Str("room", string(room)).Str("id", string(id)).Msg("video source cleared")
		return true
	}
	return false
}

func (v *VideoSources) Source(room domain.RoomID) (domain.ClientID, bool) {
	id, ok := v.sources[room]
	return id, ok
}
