package relay

import "encoding/json"

// One JSON object per text frame; type discriminates the event. Payload
// fields mirror the browser client's wire names exactly.

type envelope struct {
	Type string `json:"type"`
}

type joinPayload struct {
	Username string `json:"username"`
	Color    string `json:"color"`
}

type positionPayload struct {
	X         float64 `json:"x"`
	Y         float64 `json:"y"`
	Room      string  `json:"room"`
	Sitting   bool    `json:"sitting"`
	Timestamp int64   `json:"timestamp"`
}

type chatPayload struct {
	Message string `json:"message"`
}

// SeatIndex is a pointer: null means standing up.
type seatPayload struct {
	SeatIndex *int `json:"seatIndex"`
}

type videoStatePayload struct {
	Playing     bool    `json:"playing"`
	CurrentTime float64 `json:"currentTime"`
}

// Opaque payloads pass through unparsed.
type videoFramePayload struct {
	Data json.RawMessage `json:"data"`
}

type audioDataPayload struct {
	Data json.RawMessage `json:"data"`
}

type audioSignalPayload struct {
	To     string          `json:"to"`
	Signal json.RawMessage `json:"signal"`
}

type speakingPayload struct {
	IsSpeaking bool `json:"isSpeaking"`
}

type peanutAnimationPayload struct {
	AnimationType string `json:"animationType"`
}

// roomUserDTO is the roster entry shape inside roomChanged and audioRoomJoin.
type roomUserDTO struct {
	ID       string `json:"id"`
	Username string `json:"username"`
	Color    string `json:"color"`
}

// RoomInfo is the read-only snapshot served by the rooms API.
type RoomInfo struct {
	RoomID      string `json:"roomId"`
	Name        string `json:"name"`
	MemberCount int    `json:"memberCount"`
}
