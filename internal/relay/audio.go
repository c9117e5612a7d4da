package relay

import (
	"github.com/rs/zerolog/log"

	"github.com/lanparty/server/internal/domain"
)

// AudioGroups tracks, per room, the connections eligible to receive each
// other's voice packets. Groups are created lazily on first join and deleted
// when the last member leaves. Membership is always mutated together with
// room membership, which keeps every group a subset of its room.
type AudioGroups struct {
	groups map[domain.RoomID]map[domain.ClientID]struct{}
}

func NewAudioGroups() *AudioGroups {
	return &AudioGroups{groups: make(map[domain.RoomID]map[domain.ClientID]struct{})}
}

func (a *AudioGroups) Join(room domain.RoomID, id domain.ClientID) {
	g, ok := a.groups[room]
	if !ok {
		g = make(map[domain.ClientID]struct{})
		a.groups[room] = g
		log.Debug().Str("module", "relay.audio").Str("room", string(room)).Msg("audio group created")
	}
	g[id] = struct{}{}
}

func (a *AudioGroups) Leave(room domain.RoomID, id domain.ClientID) {
	g, ok := a.groups[room]
	if !ok {
		return
	}
	delete(g, id)
	if len(g) == 0 {
		delete(a.groups, room)
		log.Debug().Str("module", "relay.audio").Str("room", string(room)).Msg("audio group deleted")
	}
}

// Members returns the group's member ids, or ok=false when the room has no
// group (in which case audio frames for it are dropped).
func (a *AudioGroups) Members(room domain.RoomID) ([]domain.ClientID, bool) {
	g, ok := a.groups[room]
	if !ok {
		return nil, false
	}
	out := make([]domain.ClientID, 0, len(g))
	for id := range g {
		out = append(out, id)
	}
	return out, true
}

func (a *AudioGroups) Contains(room domain.RoomID, id domain.ClientID) bool {
	g, ok := a.groups[room]
	if !ok {
		return false
	}
	_, ok = g[id]
	return ok
}
