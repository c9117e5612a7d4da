// Package domain contains entity metadata without logic.
package domain

const (
	MaxUsernameLen = 36
	MaxChatLen     = 500
	ChatHistoryCap = 100
)

// ClientID identifies one live socket for its whole lifetime.
type ClientID string

// ClientState is the per-connection protocol state. Events whose precondition
// the current state does not satisfy are dropped without a reply.
type ClientState int

const (
	// StateUnjoined: socket accepted, no join received yet.
	StateUnjoined ClientState = iota
	// StateJoined: named and colored, not yet inside any room.
	StateJoined
	// StateInRoom: member of exactly one room.
	StateInRoom
)

func (s ClientState) String() string {
	switch s {
	case StateUnjoined:
		return "unjoined"
	case StateJoined:
		return "joined"
	case StateInRoom:
		return "in_room"
	default:
		return "unknown"
	}
}
