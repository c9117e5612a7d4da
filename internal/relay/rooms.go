package relay

import (
	"github.com/rs/zerolog/log"

	"github.com/lanparty/server/internal/domain"
)

type roomState struct {
	meta    domain.Room
	members map[domain.ClientID]struct{}
}

// Directory holds the static room topology plus runtime membership. Topology
// is fixed at construction; only the member sets mutate. A client id is a
// member of at most one room at any time, enforced by the relay mutating
// membership exclusively through the transition protocol.
type Directory struct {
	order []domain.RoomID
	rooms map[domain.RoomID]*roomState
}

func NewDirectory(world domain.World) *Directory {
	d := &Directory{rooms: make(map[domain.RoomID]*roomState, len(world.Rooms))}
	for _, room := range world.Rooms {
		d.order = append(d.order, room.RoomID)
		d.rooms[room.RoomID] = &roomState{
			meta:    room,
			members: make(map[domain.ClientID]struct{}),
		}
	}
	return d
}

func (d *Directory) Get(id domain.RoomID) (domain.Room, bool) {
	rs, ok := d.rooms[id]
	if !ok {
		return domain.Room{}, false
	}
	return rs.meta, true
}

// Descriptors returns the static room list in config order, for the joined
// payload.
func (d *Directory) Descriptors() []domain.Room {
	out := make([]domain.Room, 0, len(d.order))
	for _, id := range d.order {
		out = append(out, d.rooms[id].meta)
	}
	return out
}

func (d *Directory) AddMember(room domain.RoomID, id domain.ClientID) bool {
	rs, ok := d.rooms[room]
	if !ok {
		return false
	}
	rs.members[id] = struct{}{}
	log.Debug().Str("module", "relay.rooms").Str("room", string(room)).Str("id", string(id)).Msg("member added")
	return true
}

func (d *Directory) RemoveMember(room domain.RoomID, id domain.ClientID) {
	if rs, ok := d.rooms[room]; ok {
		delete(rs.members, id)
		log.Debug().Str("module", "relay.rooms").Str("room", string(room)).Str("id", string(id)).Msg("member removed")
	}
}

func (d *Directory) Members(room domain.RoomID) []domain.ClientID {
	rs, ok := d.rooms[room]
	if !ok {
		return nil
	}
	out := make([]domain.ClientID, 0, len(rs.members))
	for id := range rs.members {
		out = append(out, id)
	}
	return out
}

func (d *Directory) MemberCount(room domain.RoomID) int {
	if rs, ok := d.rooms[room]; ok {
		return len(rs.members)
	}
	return 0
}

func (d *Directory) IsMember(room domain.RoomID, id domain.ClientID) bool {
	rs, ok := d.rooms[room]
	if !ok {
		return false
	}
	_, ok = rs.members[id]
	return ok
}
