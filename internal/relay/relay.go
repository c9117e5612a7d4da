// Package relay implements the room/session relay: it tracks connected
// clients, their room membership, chat history, audio subscription groups and
// video sources, and fans state changes out to the right sockets.
//
// All state is owned by a single goroutine (Run). Connects, inbound frames
// and disconnects are posted onto one FIFO task channel and processed one at
// a time to completion, the liveness sweep included, so the stores carry no
// locks and no transition can interleave with another.
package relay

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/lanparty/server/internal/domain"
)

const (
	defaultSweepInterval = 10 * time.Second
	defaultStaleTimeout  = 30 * time.Second

	fallbackUsername = "Player"
	fallbackColor    = "#4ECDC4"
)

var ErrRelayStopped = errors.New("relay stopped")

type Options struct {
	SweepInterval time.Duration
	StaleTimeout  time.Duration
}

type taskKind int

const (
	taskConnect taskKind = iota
	taskFrame
	taskDisconnect
	taskQuery
)

// task is one unit of posted work. A single FIFO channel keeps the per-client
// ordering guarantee: a connection's connect always precedes its frames, and
// its frames precede its disconnect.
type task struct {
	kind   taskKind
	id     domain.ClientID
	data   []byte
	sender Sender
	reply  chan []RoomInfo
}

type Relay struct {
	registry *Registry
	rooms    *Directory
	chat     *ChatStore
	audio    *AudioGroups
	video    *VideoSources
	world    domain.World

	sweepInterval time.Duration
	staleTimeout  time.Duration

	tasks chan task
}

func New(world domain.World, opts Options) *Relay {
	if opts.SweepInterval <= 0 {
		opts.SweepInterval = defaultSweepInterval
	}
	if opts.StaleTimeout <= 0 {
		opts.StaleTimeout = defaultStaleTimeout
	}
	return &Relay{
		registry:      NewRegistry(),
		rooms:         NewDirectory(world),
		chat:          NewChatStore(),
		audio:         NewAudioGroups(),
		video:         NewVideoSources(),
		world:         world,
		sweepInterval: opts.SweepInterval,
		staleTimeout:  opts.StaleTimeout,
		tasks:         make(chan task, 256),
	}
}

// Run processes posted work until ctx is cancelled. Exactly one event runs at
// a time; the liveness sweep shares the same loop.
func (r *Relay) Run(ctx context.Context) {
	ticker := time.NewTicker(r.sweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			log.Info().Str("module", "relay").Msg("relay loop stopped")
			return
		case tk := <-r.tasks:
			switch tk.kind {
			case taskConnect:
				r.handleConnect(tk.id, tk.sender)
			case taskFrame:
				r.dispatch(tk.id, tk.data)
			case taskDisconnect:
				r.cleanup(tk.id)
			case taskQuery:
				tk.reply <- r.roomList()
			}
		case <-ticker.C:
			r.sweep(time.Now())
		}
	}
}

// Connect registers a freshly accepted socket under id.
func (r *Relay) Connect(id domain.ClientID, s Sender) {
	r.tasks <- task{kind: taskConnect, id: id, sender: s}
}

// Forward posts one inbound frame for dispatch.
func (r *Relay) Forward(id domain.ClientID, data []byte) {
	r.tasks <- task{kind: taskFrame, id: id, data: data}
}

// Disconnect posts the close of id's socket. Safe to post more than once;
// cleanup after the first is a no-op.
func (r *Relay) Disconnect(id domain.ClientID) {
	r.tasks <- task{kind: taskDisconnect, id: id}
}

// RoomList returns a membership snapshot via a relay-loop round trip.
func (r *Relay) RoomList(ctx context.Context) ([]RoomInfo, error) {
	q := task{kind: taskQuery, reply: make(chan []RoomInfo, 1)}
	select {
	case r.tasks <- q:
	case <-ctx.Done():
		return nil, ErrRelayStopped
	}
	select {
	case out := <-q.reply:
		return out, nil
	case <-ctx.Done():
		return nil, ErrRelayStopped
	}
}

func (r *Relay) roomList() []RoomInfo {
	rooms := r.rooms.Descriptors()
	out := make([]RoomInfo, 0, len(rooms))
	for _, room := range rooms {
		out = append(out, RoomInfo{
			RoomID:      string(room.RoomID),
			Name:        room.Name,
			MemberCount: r.rooms.MemberCount(room.RoomID),
		})
	}
	return out
}

func (r *Relay) handleConnect(id domain.ClientID, s Sender) {
	r.registry.Add(id, s, time.Now())
}

func (r *Relay) dispatch(id domain.ClientID, data []byte) {
	c, ok := r.registry.Get(id)
	if !ok {
		return
	}
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		log.Error().Err(err).Str("module", "relay").Str("id", string(id)).Msg("bad json frame")
		return
	}
	switch env.Type {
	case "join":
		r.handleJoin(c, data)
	case "positionUpdate":
		r.handlePositionUpdate(c, data)
	case "chatMessage":
		r.handleChatMessage(c, data)
	case "seatState":
		r.handleSeatState(c, data)
	case "videoState":
		r.handleVideoState(c, data)
	case "videoFrame":
		r.handleVideoFrame(c, data)
	case "videoReset":
		r.handleVideoReset(c)
	case "audioData":
		r.handleAudioData(c, data)
	case "audioSignal":
		r.handleAudioSignal(c, data)
	case "speaking":
		r.handleSpeaking(c, data)
	case "peanutSound":
		r.handlePeanutSound(c)
	case "peanutAnimation":
		r.handlePeanutAnimation(c, data)
	case "heartbeat":
		c.LastHeartbeat = time.Now()
	case "ping":
		c.LastHeartbeat = time.Now()
		r.unicast(c, map[string]any{"type": "pong"})
	default:
		log.Warn().Str("module", "relay").Str("type", env.Type).Msg("unknown event type")
	}
}

func (r *Relay) handleJoin(c *Connection, data []byte) {
	if c.State != domain.StateUnjoined {
		log.Debug().Str("module", "relay").Str("id", string(c.ID)).Msg("join dropped: already joined")
		return
	}
	var p joinPayload
	if err := json.Unmarshal(data, &p); err != nil {
		log.Error().Err(err).Str("module", "relay").Msg("bad join payload")
		return
	}
	if p.Username == "" {
		p.Username = fallbackUsername
	}
	if len(p.Username) > domain.MaxUsernameLen {
		p.Username = p.Username[:domain.MaxUsernameLen]
	}
	if p.Color == "" {
		p.Color = fallbackColor
	}
	c.Username = p.Username
	c.Color = p.Color
	c.State = domain.StateJoined

	if hub, ok := r.rooms.Get(domain.DefaultRoomID); ok {
		c.Position = hub.SpawnPoint
	} else {
		c.Position = domain.Point{X: 400, Y: 300}
	}

	log.Info().Str("module", "relay").Str("id", string(c.ID)).Str("username", c.Username).Msg("player joined")

	r.unicast(c, struct {
		Type     string          `json:"type"`
		UserID   domain.ClientID `json:"userId"`
		Position domain.Point    `json:"position"`
		Rooms    []domain.Room   `json:"rooms"`
		Map      domain.WorldMap `json:"map"`
	}{"joined", c.ID, c.Position, r.rooms.Descriptors(), r.world.Map})

	r.broadcastAll(struct {
		Type     string          `json:"type"`
		UserID   domain.ClientID `json:"userId"`
		Username string          `json:"username"`
		Color    string          `json:"color"`
		Position domain.Point    `json:"position"`
	}{"playerConnected", c.ID, c.Username, c.Color, c.Position}, c.ID)
}

func (r *Relay) handlePositionUpdate(c *Connection, data []byte) {
	if c.State == domain.StateUnjoined {
		log.Debug().Str("module", "relay").Str("id", string(c.ID)).Msg("positionUpdate dropped: not joined")
		return
	}
	var p positionPayload
	if err := json.Unmarshal(data, &p); err != nil {
		log.Error().Err(err).Str("module", "relay").Msg("bad positionUpdate payload")
		return
	}
	c.Position = domain.Point{X: p.X, Y: p.Y}

	newRoom := domain.RoomID(p.Room)
	if newRoom == "" {
		newRoom = domain.DefaultRoomID
	}
	if newRoom != c.Room {
		r.changeRoom(c, newRoom)
	}

	r.broadcastAll(struct {
		Type      string          `json:"type"`
		UserID    domain.ClientID `json:"userId"`
		X         float64         `json:"x"`
		Y         float64         `json:"y"`
		Room      domain.RoomID   `json:"room"`
		Timestamp int64           `json:"timestamp"`
		Username  string          `json:"username"`
		Color     string          `json:"color"`
		Sitting   bool            `json:"sitting"`
	}{"playerMoved", c.ID, p.X, p.Y, c.Room, p.Timestamp, c.Username, c.Color, p.Sitting}, c.ID)
}

// changeRoom runs the transition protocol: leave the old room (membership,
// audio group, presence and system chat events), then enter the new one and
// replay its roster and chat history to the mover. Runs to completion before
// the next event is processed.
func (r *Relay) changeRoom(c *Connection, newRoom domain.RoomID) {
	if c.Room == newRoom {
		return
	}
	if _, ok := r.rooms.Get(newRoom); !ok {
		log.Warn().Str("module", "relay").Str("room", string(newRoom)).Msg("transition to unknown room dropped")
		return
	}

	if old := c.Room; old != "" {
		r.rooms.RemoveMember(old, c.ID)
		r.broadcastRoom(old, struct {
			Type     string          `json:"type"`
			UserID   domain.ClientID `json:"userId"`
			Username string          `json:"username"`
			RoomID   domain.RoomID   `json:"roomId"`
		}{"userLeft", c.ID, c.Username, old}, "")
		r.broadcastRoom(old, r.systemChat(old, c.Username+" left the room"), "")
		r.broadcastRoom(old, struct {
			Type   string          `json:"type"`
			UserID domain.ClientID `json:"userId"`
		}{"audioRoomLeave", c.ID}, "")
		r.audio.Leave(old, c.ID)
	}

	c.Room = newRoom
	c.State = domain.StateInRoom
	r.rooms.AddMember(newRoom, c.ID)

	r.broadcastRoom(newRoom, struct {
		Type     string          `json:"type"`
		UserID   domain.ClientID `json:"userId"`
		Username string          `json:"username"`
		RoomID   domain.RoomID   `json:"roomId"`
		Color    string          `json:"color"`
	}{"userJoined", c.ID, c.Username, newRoom, c.Color}, "")
	r.broadcastRoom(newRoom, r.systemChat(newRoom, c.Username+" joined the room"), "")

	room, _ := r.rooms.Get(newRoom)
	roster := r.roster(newRoom)
	r.unicast(c, struct {
		Type        string        `json:"type"`
		RoomID      domain.RoomID `json:"roomId"`
		RoomName    string        `json:"roomName"`
		Users       []roomUserDTO `json:"users"`
		ChatHistory []ChatMessage `json:"chatHistory"`
	}{"roomChanged", newRoom, room.Name, roster, r.chat.History(newRoom)})

	r.audio.Join(newRoom, c.ID)
	r.broadcastRoom(newRoom, struct {
		Type     string          `json:"type"`
		UserID   domain.ClientID `json:"userId"`
		Username string          `json:"username"`
		Users    []roomUserDTO   `json:"users"`
	}{"audioRoomJoin", c.ID, c.Username, roster}, "")

	log.Info().Str("module", "relay").Str("id", string(c.ID)).Str("room", string(newRoom)).Msg("room changed")
}

func (r *Relay) handleChatMessage(c *Connection, data []byte) {
	if c.Room == "" || c.Username == "" {
		log.Debug().Str("module", "relay").Str("id", string(c.ID)).Msg("chat dropped: no room")
		return
	}
	var p chatPayload
	if err := json.Unmarshal(data, &p); err != nil {
		log.Error().Err(err).Str("module", "relay").Msg("bad chat payload")
		return
	}
	if len(p.Message) > domain.MaxChatLen {
		p.Message = p.Message[:domain.MaxChatLen]
	}
	msg := ChatMessage{
		Type:      "chatMessage",
		RoomID:    c.Room,
		Username:  c.Username,
		Message:   p.Message,
		Timestamp: time.Now().UnixMilli(),
	}
	r.chat.Append(msg)
	r.broadcastRoom(c.Room, msg, "")
}

func (r *Relay) handleSeatState(c *Connection, data []byte) {
	if c.Room == "" {
		return
	}
	var p seatPayload
	if err := json.Unmarshal(data, &p); err != nil {
		log.Error().Err(err).Str("module", "relay").Msg("bad seatState payload")
		return
	}
	r.broadcastRoom(c.Room, struct {
		Type      string          `json:"type"`
		UserID    domain.ClientID `json:"userId"`
		SeatIndex *int            `json:"seatIndex"`
	}{"seatState", c.ID, p.SeatIndex}, c.ID)
}

func (r *Relay) handleVideoState(c *Connection, data []byte) {
	if c.Room == "" {
		return
	}
	var p videoStatePayload
	if err := json.Unmarshal(data, &p); err != nil {
		log.Error().Err(err).Str("module", "relay").Msg("bad videoState payload")
		return
	}
	if p.Playing {
		r.video.Set(c.Room, c.ID)
	} else {
		r.video.Clear(c.Room, c.ID)
	}
	r.broadcastRoom(c.Room, struct {
		Type        string          `json:"type"`
		Playing     bool            `json:"playing"`
		CurrentTime float64         `json:"currentTime"`
		SourceID    domain.ClientID `json:"sourceId"`
	}{"videoState", p.Playing, p.CurrentTime, c.ID}, "")
}

func (r *Relay) handleVideoFrame(c *Connection, data []byte) {
	if c.Room == "" {
		return
	}
	var p videoFramePayload
	if err := json.Unmarshal(data, &p); err != nil {
		log.Error().Err(err).Str("module", "relay").Msg("bad videoFrame payload")
		return
	}
	r.broadcastRoom(c.Room, struct {
		Type string          `json:"type"`
		Data json.RawMessage `json:"data"`
	}{"videoFrame", p.Data}, c.ID)
}

func (r *Relay) handleVideoReset(c *Connection) {
	if c.Room == "" {
		return
	}
	r.broadcastRoom(c.Room, map[string]any{"type": "videoReset"}, c.ID)
}

func (r *Relay) handleAudioData(c *Connection, data []byte) {
	if c.Room == "" {
		return
	}
	members, ok := r.audio.Members(c.Room)
	if !ok {
		log.Debug().Str("module", "relay").Str("room", string(c.Room)).Msg("audio frame dropped: no audio group")
		return
	}
	var p audioDataPayload
	if err := json.Unmarshal(data, &p); err != nil {
		log.Error().Err(err).Str("module", "relay").Msg("bad audioData payload")
		return
	}
	frame := struct {
		Type string          `json:"type"`
		From domain.ClientID `json:"from"`
		Data json.RawMessage `json:"data"`
	}{"audioData", c.ID, p.Data}
	b, err := json.Marshal(frame)
	if err != nil {
		log.Error().Err(err).Str("module", "relay").Msg("marshal audioData")
		return
	}
	for _, id := range members {
		if id == c.ID {
			continue
		}
		r.send(id, b)
	}
}

func (r *Relay) handleAudioSignal(c *Connection, data []byte) {
	if c.Room == "" {
		return
	}
	var p audioSignalPayload
	if err := json.Unmarshal(data, &p); err != nil {
		log.Error().Err(err).Str("module", "relay").Msg("bad audioSignal payload")
		return
	}
	r.broadcastRoom(c.Room, struct {
		Type   string          `json:"type"`
		From   domain.ClientID `json:"from"`
		To     string          `json:"to"`
		Signal json.RawMessage `json:"signal"`
	}{"audioSignal", c.ID, p.To, p.Signal}, c.ID)
}

func (r *Relay) handleSpeaking(c *Connection, data []byte) {
	if c.Room == "" {
		return
	}
	var p speakingPayload
	if err := json.Unmarshal(data, &p); err != nil {
		log.Error().Err(err).Str("module", "relay").Msg("bad speaking payload")
		return
	}
	r.broadcastRoom(c.Room, struct {
		Type       string          `json:"type"`
		UserID     domain.ClientID `json:"userId"`
		IsSpeaking bool            `json:"isSpeaking"`
	}{"userSpeaking", c.ID, p.IsSpeaking}, "")
}

func (r *Relay) handlePeanutSound(c *Connection) {
	if c.Room == "" {
		return
	}
	r.broadcastRoom(c.Room, struct {
		Type string          `json:"type"`
		From domain.ClientID `json:"from"`
	}{"peanutSound", c.ID}, c.ID)
}

func (r *Relay) handlePeanutAnimation(c *Connection, data []byte) {
	if c.Room == "" {
		return
	}
	var p peanutAnimationPayload
	if err := json.Unmarshal(data, &p); err != nil {
		log.Error().Err(err).Str("module", "relay").Msg("bad peanutAnimation payload")
		return
	}
	r.broadcastRoom(c.Room, struct {
		Type          string          `json:"type"`
		From          domain.ClientID `json:"from"`
		AnimationType string          `json:"animationType"`
	}{"peanutAnimation", c.ID, p.AnimationType}, c.ID)
}

// cleanup runs the full disconnect path for id. The ordering matters: room
// membership first, then the video source, presence and audio events, then
// the global notification, and the registry entry last, so no store ever
// refers to a connection whose entry is already gone. Idempotent.
func (r *Relay) cleanup(id domain.ClientID) {
	c, ok := r.registry.Get(id)
	if !ok {
		return
	}
	if room := c.Room; room != "" {
		r.rooms.RemoveMember(room, id)

		if r.video.Clear(room, id) {
			r.broadcastRoom(room, struct {
				Type        string           `json:"type"`
				Playing     bool             `json:"playing"`
				CurrentTime float64          `json:"currentTime"`
				SourceID    *domain.ClientID `json:"sourceId"`
			}{"videoState", false, 0, nil}, "")
		}

		r.broadcastRoom(room, struct {
			Type     string          `json:"type"`
			UserID   domain.ClientID `json:"userId"`
			Username string          `json:"username"`
			RoomID   domain.RoomID   `json:"roomId"`
		}{"userLeft", id, c.Username, room}, "")
		r.broadcastRoom(room, struct {
			Type      string          `json:"type"`
			UserID    domain.ClientID `json:"userId"`
			SeatIndex *int            `json:"seatIndex"`
		}{"seatState", id, nil}, "")
		r.broadcastRoom(room, struct {
			Type   string          `json:"type"`
			UserID domain.ClientID `json:"userId"`
		}{"audioRoomLeave", id}, "")
		r.audio.Leave(room, id)
	}

	r.broadcastAll(struct {
		Type   string          `json:"type"`
		UserID domain.ClientID `json:"userId"`
	}{"playerDisconnected", id}, id)

	r.registry.Remove(id)
	log.Info().Str("module", "relay").Str("id", string(id)).Msg("disconnect cleanup done")
}

func (r *Relay) systemChat(room domain.RoomID, text string) ChatMessage {
	return ChatMessage{
		Type:      "chatMessage",
		RoomID:    room,
		Username:  "System",
		Message:   text,
		Timestamp: time.Now().UnixMilli(),
		IsSystem:  true,
	}
}

func (r *Relay) roster(room domain.RoomID) []roomUserDTO {
	members := r.rooms.Members(room)
	out := make([]roomUserDTO, 0, len(members))
	for _, id := range members {
		if c, ok := r.registry.Get(id); ok {
			out = append(out, roomUserDTO{ID: string(c.ID), Username: c.Username, Color: c.Color})
		}
	}
	return out
}

func (r *Relay) unicast(c *Connection, v any) {
	b, err := json.Marshal(v)
	if err != nil {
		log.Error().Err(err).Str("module", "relay").Msg("marshal unicast")
		return
	}
	if err := c.sender.TrySend(b); err != nil {
		log.Debug().Err(err).Str("module", "relay").Str("id", string(c.ID)).Msg("unicast dropped")
	}
}

func (r *Relay) broadcastRoom(room domain.RoomID, v any, exclude domain.ClientID) {
	b, err := json.Marshal(v)
	if err != nil {
		log.Error().Err(err).Str("module", "relay").Msg("marshal room broadcast")
		return
	}
	for _, id := range r.rooms.Members(room) {
		if id == exclude {
			continue
		}
		r.send(id, b)
	}
}

func (r *Relay) broadcastAll(v any, exclude domain.ClientID) {
	b, err := json.Marshal(v)
	if err != nil {
		log.Error().Err(err).Str("module", "relay").Msg("marshal broadcast")
		return
	}
	r.registry.Each(func(c *Connection) {
		if c.ID == exclude {
			return
		}
		if err := c.sender.TrySend(b); err != nil {
			log.Debug().Err(err).Str("module", "relay").Str("id", string(c.ID)).Msg("broadcast frame dropped")
		}
	})
}

// send is fire-and-forget: a connection that is gone or backpressured just
// misses the frame.
func (r *Relay) send(id domain.ClientID, b []byte) {
	c, ok := r.registry.Get(id)
	if !ok {
		return
	}
	if err := c.sender.TrySend(b); err != nil {
		log.Debug().Err(err).Str("module", "relay").Str("id", string(id)).Msg("frame dropped")
	}
}
