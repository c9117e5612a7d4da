package relay

import (
	"github.com/lanparty/server/internal/domain"
)

// ChatMessage is both the wire shape multicast to a room and the record kept
// in the history ring. Immutable once appended.
type ChatMessage struct {
	Type      string        `json:"type"`
	RoomID    domain.RoomID `json:"roomId"`
	Username  string        `json:"username"`
	Message   string        `json:"message"`
	Timestamp int64         `json:"timestamp"`
	IsSystem  bool          `json:"isSystem,omitempty"`
}

// ChatStore keeps the most recent messages per room, oldest evicted first.
type ChatStore struct {
	cap     int
	history map[domain.RoomID][]ChatMessage
}

func NewChatStore() *ChatStore {
	return &ChatStore{
		cap:     domain.ChatHistoryCap,
		history: make(map[domain.RoomID][]ChatMessage),
	}
}

func (s *ChatStore) Append(msg ChatMessage) {
	h := append(s.history[msg.RoomID], msg)
	if len(h) > s.cap {
		h = h[len(h)-s.cap:]
	}
	s.history[msg.RoomID] = h
}

// History returns the ring contents, oldest first. Never nil, so the
// roomChanged payload always carries an array.
func (s *ChatStore) History(room domain.RoomID) []ChatMessage {
	h := s.history[room]
	if h == nil {
		return []ChatMessage{}
	}
	return h
}
