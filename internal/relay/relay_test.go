package relay

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/lanparty/server/internal/domain"
)

// fakeSender records every frame the relay hands it.
type fakeSender struct {
	frames [][]byte
	closed bool
}

func (f *fakeSender) TrySend(data []byte) error {
	if f.closed {
		return errors.New("connection closed")
	}
	f.frames = append(f.frames, data)
	return nil
}

func (f *fakeSender) Close() { f.closed = true }

// received decodes every captured frame of the given type.
func (f *fakeSender) received(t *testing.T, typ string) []map[string]any {
	t.Helper()
	var out []map[string]any
	for _, b := range f.frames {
		var m map[string]any
		if err := json.Unmarshal(b, &m); err != nil {
			t.Fatalf("captured frame is not JSON: %v", err)
		}
		if m["type"] == typ {
			out = append(out, m)
		}
	}
	return out
}

func (f *fakeSender) reset() { f.frames = nil }

func newTestRelay() *Relay {
	return New(domain.DefaultWorld(), Options{})
}

func connect(r *Relay, id string) *fakeSender {
	s := &fakeSender{}
	r.registry.Add(domain.ClientID(id), s, time.Now())
	return s
}

func join(r *Relay, id, name, color string) {
	r.dispatch(domain.ClientID(id), []byte(fmt.Sprintf(
		`{"type":"join","username":%q,"color":%q}`, name, color)))
}

func moveTo(r *Relay, id, room string) {
	r.dispatch(domain.ClientID(id), []byte(fmt.Sprintf(
		`{"type":"positionUpdate","x":10,"y":10,"room":%q}`, room)))
}

func roomsContaining(r *Relay, id string) []domain.RoomID {
	var out []domain.RoomID
	for _, room := range r.rooms.Descriptors() {
		if r.rooms.IsMember(room.RoomID, domain.ClientID(id)) {
			out = append(out, room.RoomID)
		}
	}
	return out
}

func TestJoinAssignsSpawnAndAnnouncesGlobally(t *testing.T) {
	r := newTestRelay()
	alice := connect(r, "alice")
	bob := connect(r, "bob")
	join(r, "bob", "Bob", "#222")
	bob.reset()

	join(r, "alice", "Alice", "#111")

	joined := alice.received(t, "joined")
	if len(joined) != 1 {
		t.Fatalf("expected one joined reply, got %d", len(joined))
	}
	if joined[0]["userId"] != "alice" {
		t.Errorf("joined userId = %v", joined[0]["userId"])
	}
	pos, _ := joined[0]["position"].(map[string]any)
	if pos["x"] != 400.0 || pos["y"] != 300.0 {
		t.Errorf("expected hub spawn point, got %v", pos)
	}
	rooms, _ := joined[0]["rooms"].([]any)
	if len(rooms) != len(domain.DefaultWorld().Rooms) {
		t.Errorf("expected full room list, got %d entries", len(rooms))
	}
	if m, _ := joined[0]["map"].(map[string]any); m["width"] != 800.0 {
		t.Errorf("map descriptor missing, got %v", joined[0]["map"])
	}

	// Presence is global, but join does not enter any room yet.
	if got := bob.received(t, "playerConnected"); len(got) != 1 || got[0]["username"] != "Alice" {
		t.Errorf("bob should see playerConnected for Alice, got %v", got)
	}
	if rooms := roomsContaining(r, "alice"); len(rooms) != 0 {
		t.Errorf("join must not add room membership, found %v", rooms)
	}
}

func TestJoinTwiceDropped(t *testing.T) {
	r := newTestRelay()
	alice := connect(r, "alice")
	join(r, "alice", "Alice", "#111")
	alice.reset()

	join(r, "alice", "Mallory", "#999")

	if got := alice.received(t, "joined"); len(got) != 0 {
		t.Errorf("second join should be dropped, got %v", got)
	}
	c, _ := r.registry.Get("alice")
	if c.Username != "Alice" {
		t.Errorf("second join must not rename, got %q", c.Username)
	}
}

func TestRoomTransitionScenario(t *testing.T) {
	r := newTestRelay()
	alice := connect(r, "alice")
	bob := connect(r, "bob")
	join(r, "bob", "Bob", "#222")
	moveTo(r, "bob", "lounge")
	join(r, "alice", "Alice", "#111")
	alice.reset()
	bob.reset()

	moveTo(r, "alice", "lounge")

	changed := alice.received(t, "roomChanged")
	if len(changed) != 1 {
		t.Fatalf("expected one roomChanged, got %d", len(changed))
	}
	if changed[0]["roomId"] != "lounge" || changed[0]["roomName"] != "Lounge" {
		t.Errorf("unexpected roomChanged: %v", changed[0])
	}
	users, _ := changed[0]["users"].([]any)
	if len(users) != 2 {
		t.Errorf("roster should hold both members, got %v", users)
	}
	if hist, ok := changed[0]["chatHistory"].([]any); !ok || len(hist) != 0 {
		t.Errorf("expected empty chatHistory array, got %v", changed[0]["chatHistory"])
	}

	if got := bob.received(t, "userJoined"); len(got) != 1 || got[0]["username"] != "Alice" {
		t.Errorf("bob should see userJoined for Alice, got %v", got)
	}
	var sysLine bool
	for _, m := range bob.received(t, "chatMessage") {
		if m["isSystem"] == true && m["message"] == "Alice joined the room" {
			sysLine = true
		}
	}
	if !sysLine {
		t.Error("bob should see the system join line")
	}
	if got := bob.received(t, "audioRoomJoin"); len(got) != 1 {
		t.Errorf("bob should see audioRoomJoin, got %v", got)
	}
}

func TestRoomMembershipExclusivity(t *testing.T) {
	r := newTestRelay()
	connect(r, "alice")
	join(r, "alice", "Alice", "#111")

	for _, room := range []string{"lounge", "cinema", "hub", "cinema", "games"} {
		moveTo(r, "alice", room)
		in := roomsContaining(r, "alice")
		if len(in) != 1 || in[0] != domain.RoomID(room) {
			t.Fatalf("after move to %s membership is %v", room, in)
		}
	}
}

func TestTransitionToUnknownRoomDropped(t *testing.T) {
	r := newTestRelay()
	connect(r, "alice")
	join(r, "alice", "Alice", "#111")
	moveTo(r, "alice", "lounge")

	moveTo(r, "alice", "basement")

	if in := roomsContaining(r, "alice"); len(in) != 1 || in[0] != "lounge" {
		t.Errorf("unknown room must not change membership, got %v", in)
	}
}

func TestAudioGroupSubsetInvariant(t *testing.T) {
	r := newTestRelay()
	for _, id := range []string{"a", "b", "c"} {
		connect(r, id)
		join(r, id, strings.ToUpper(id), "#000")
	}
	moveTo(r, "a", "lounge")
	moveTo(r, "b", "lounge")
	moveTo(r, "c", "cinema")
	moveTo(r, "b", "cinema")
	r.cleanup("c")

	for _, room := range r.rooms.Descriptors() {
		members, ok := r.audio.Members(room.RoomID)
		if !ok {
			continue
		}
		for _, id := range members {
			if !r.rooms.IsMember(room.RoomID, id) {
				t.Errorf("audio group %s holds %s who is not a room member", room.RoomID, id)
			}
		}
	}
	if _, ok := r.audio.Members("hub"); ok {
		t.Error("empty audio group should have been deleted")
	}
}

func TestChatMessageTruncatedAndMulticast(t *testing.T) {
	r := newTestRelay()
	alice := connect(r, "alice")
	bob := connect(r, "bob")
	join(r, "alice", "Alice", "#111")
	join(r, "bob", "Bob", "#222")
	moveTo(r, "alice", "lounge")
	moveTo(r, "bob", "lounge")
	alice.reset()
	bob.reset()

	long := strings.Repeat("x", domain.MaxChatLen+50)
	r.dispatch("alice", []byte(fmt.Sprintf(`{"type":"chatMessage","message":%q}`, long)))

	for name, s := range map[string]*fakeSender{"alice": alice, "bob": bob} {
		got := s.received(t, "chatMessage")
		if len(got) != 1 {
			t.Fatalf("%s expected one chatMessage, got %d", name, len(got))
		}
		if msg, _ := got[0]["message"].(string); len(msg) != domain.MaxChatLen {
			t.Errorf("%s got message of %d chars", name, len(msg))
		}
	}
	if got := r.chat.History("lounge"); len(got) != 1 {
		t.Errorf("history should hold one entry, got %d", len(got))
	}
}

func TestChatWithoutRoomSilentlyDropped(t *testing.T) {
	r := newTestRelay()
	alice := connect(r, "alice")
	join(r, "alice", "Alice", "#111")
	alice.reset()

	r.dispatch("alice", []byte(`{"type":"chatMessage","message":"hello"}`))

	if got := alice.received(t, "chatMessage"); len(got) != 0 {
		t.Errorf("chat before entering a room must be dropped, got %v", got)
	}
}

func TestRoomReentryReplaysHistory(t *testing.T) {
	r := newTestRelay()
	alice := connect(r, "alice")
	join(r, "alice", "Alice", "#111")
	moveTo(r, "alice", "lounge")
	r.dispatch("alice", []byte(`{"type":"chatMessage","message":"first"}`))
	moveTo(r, "alice", "hub")
	moveTo(r, "alice", "lounge")

	changed := alice.received(t, "roomChanged")
	last := changed[len(changed)-1]
	hist, _ := last["chatHistory"].([]any)
	if len(hist) != 1 {
		t.Fatalf("expected replayed history of 1, got %d", len(hist))
	}
	entry, _ := hist[0].(map[string]any)
	if entry["message"] != "first" || entry["username"] != "Alice" {
		t.Errorf("unexpected history entry: %v", entry)
	}
}

func TestVideoOwnershipHandoverOnDisconnect(t *testing.T) {
	r := newTestRelay()
	connect(r, "alice")
	bob := connect(r, "bob")
	join(r, "alice", "Alice", "#111")
	join(r, "bob", "Bob", "#222")
	moveTo(r, "alice", "cinema")
	moveTo(r, "bob", "cinema")
	bob.reset()

	r.dispatch("alice", []byte(`{"type":"videoState","playing":true,"currentTime":1.5}`))

	got := bob.received(t, "videoState")
	if len(got) != 1 || got[0]["playing"] != true || got[0]["sourceId"] != "alice" {
		t.Fatalf("bob should see alice as source, got %v", got)
	}
	if src, ok := r.video.Source("cinema"); !ok || src != "alice" {
		t.Fatalf("source record = %v %v", src, ok)
	}
	bob.reset()

	r.cleanup("alice")

	got = bob.received(t, "videoState")
	if len(got) != 1 || got[0]["playing"] != false || got[0]["sourceId"] != nil {
		t.Fatalf("bob should see source cleared on disconnect, got %v", got)
	}
	if _, ok := r.video.Source("cinema"); ok {
		t.Error("source record should be gone")
	}
}

func TestVideoStaleStopIsNoOpOnRecord(t *testing.T) {
	r := newTestRelay()
	connect(r, "alice")
	bob := connect(r, "bob")
	join(r, "alice", "Alice", "#111")
	join(r, "bob", "Bob", "#222")
	moveTo(r, "alice", "cinema")
	moveTo(r, "bob", "cinema")

	r.dispatch("alice", []byte(`{"type":"videoState","playing":true,"currentTime":0}`))
	bob.reset()
	r.dispatch("bob", []byte(`{"type":"videoState","playing":false,"currentTime":0}`))

	if src, ok := r.video.Source("cinema"); !ok || src != "alice" {
		t.Errorf("stale stop must not clear the source, got %v %v", src, ok)
	}
	// The informational event still fans out.
	if got := bob.received(t, "videoState"); len(got) != 1 || got[0]["playing"] != false {
		t.Errorf("stop event should still multicast, got %v", got)
	}
}

func TestAudioIsolationBetweenRooms(t *testing.T) {
	r := newTestRelay()
	alice := connect(r, "alice")
	bob := connect(r, "bob")
	join(r, "alice", "Alice", "#111")
	join(r, "bob", "Bob", "#222")
	moveTo(r, "alice", "lounge")
	moveTo(r, "bob", "cinema")
	alice.reset()
	bob.reset()

	r.dispatch("alice", []byte(`{"type":"audioData","data":[1,2,3]}`))
	r.dispatch("bob", []byte(`{"type":"audioData","data":[4,5,6]}`))

	if got := bob.received(t, "audioData"); len(got) != 0 {
		t.Errorf("bob must not hear alice across rooms, got %v", got)
	}
	if got := alice.received(t, "audioData"); len(got) != 0 {
		t.Errorf("alice must not hear bob across rooms, got %v", got)
	}
}

func TestAudioDataReachesRoomGroup(t *testing.T) {
	r := newTestRelay()
	alice := connect(r, "alice")
	bob := connect(r, "bob")
	join(r, "alice", "Alice", "#111")
	join(r, "bob", "Bob", "#222")
	moveTo(r, "alice", "lounge")
	moveTo(r, "bob", "lounge")
	alice.reset()
	bob.reset()

	r.dispatch("alice", []byte(`{"type":"audioData","data":[1,2,3]}`))

	got := bob.received(t, "audioData")
	if len(got) != 1 || got[0]["from"] != "alice" {
		t.Fatalf("bob should receive tagged audio, got %v", got)
	}
	if got := alice.received(t, "audioData"); len(got) != 0 {
		t.Errorf("sender must not hear itself, got %v", got)
	}
}

func TestSeatStateRelayedWithoutBookkeeping(t *testing.T) {
	r := newTestRelay()
	alice := connect(r, "alice")
	bob := connect(r, "bob")
	join(r, "alice", "Alice", "#111")
	join(r, "bob", "Bob", "#222")
	moveTo(r, "alice", "cinema")
	moveTo(r, "bob", "cinema")
	alice.reset()
	bob.reset()

	r.dispatch("alice", []byte(`{"type":"seatState","seatIndex":3}`))

	got := bob.received(t, "seatState")
	if len(got) != 1 || got[0]["seatIndex"] != 3.0 || got[0]["userId"] != "alice" {
		t.Fatalf("unexpected seatState relay: %v", got)
	}
	if got := alice.received(t, "seatState"); len(got) != 0 {
		t.Errorf("seatState must exclude the sender, got %v", got)
	}

	bob.reset()
	r.dispatch("alice", []byte(`{"type":"seatState","seatIndex":null}`))
	got = bob.received(t, "seatState")
	if len(got) != 1 || got[0]["seatIndex"] != nil {
		t.Fatalf("null seatIndex should pass through, got %v", got)
	}
}

func TestPositionBroadcastIsGlobal(t *testing.T) {
	r := newTestRelay()
	connect(r, "alice")
	bob := connect(r, "bob")
	join(r, "alice", "Alice", "#111")
	join(r, "bob", "Bob", "#222")
	moveTo(r, "alice", "lounge")
	moveTo(r, "bob", "cinema")
	bob.reset()

	moveTo(r, "alice", "lounge")

	got := bob.received(t, "playerMoved")
	if len(got) != 1 || got[0]["room"] != "lounge" {
		t.Fatalf("position updates are global, bob got %v", got)
	}
}

func TestDisconnectCleanupIdempotent(t *testing.T) {
	r := newTestRelay()
	connect(r, "alice")
	bob := connect(r, "bob")
	join(r, "alice", "Alice", "#111")
	join(r, "bob", "Bob", "#222")
	moveTo(r, "alice", "lounge")
	moveTo(r, "bob", "lounge")
	bob.reset()

	r.cleanup("alice")
	r.cleanup("alice")

	if got := bob.received(t, "userLeft"); len(got) != 1 {
		t.Errorf("second cleanup must not re-broadcast, got %d userLeft", len(got))
	}
	if got := bob.received(t, "playerDisconnected"); len(got) != 1 {
		t.Errorf("expected exactly one playerDisconnected, got %d", len(got))
	}
	if got := bob.received(t, "seatState"); len(got) != 1 || got[0]["seatIndex"] != nil {
		t.Errorf("cleanup should clear the seat once, got %v", got)
	}
	if _, ok := r.registry.Get("alice"); ok {
		t.Error("registry entry should be gone")
	}
	if in := roomsContaining(r, "alice"); len(in) != 0 {
		t.Errorf("membership should be gone, got %v", in)
	}
}

func TestPingRefreshesHeartbeatAndReplies(t *testing.T) {
	r := newTestRelay()
	alice := connect(r, "alice")
	c, _ := r.registry.Get("alice")
	c.LastHeartbeat = time.Now().Add(-time.Hour)

	r.dispatch("alice", []byte(`{"type":"ping"}`))

	if got := alice.received(t, "pong"); len(got) != 1 {
		t.Fatalf("ping should reply pong, got %v", got)
	}
	if time.Since(c.LastHeartbeat) > time.Minute {
		t.Error("ping should refresh the heartbeat")
	}
}

func TestMalformedAndUnknownFramesIgnored(t *testing.T) {
	r := newTestRelay()
	connect(r, "alice")

	r.dispatch("alice", []byte(`{not json`))
	r.dispatch("alice", []byte(`{"type":"teleport"}`))
	r.dispatch("unknown-id", []byte(`{"type":"ping"}`))

	if _, ok := r.registry.Get("alice"); !ok {
		t.Error("bad frames must not drop the connection")
	}
}

func TestSweepEvictsOnlyStaleConnections(t *testing.T) {
	r := newTestRelay()
	alice := connect(r, "alice")
	bob := connect(r, "bob")
	join(r, "alice", "Alice", "#111")
	join(r, "bob", "Bob", "#222")
	moveTo(r, "alice", "lounge")

	a, _ := r.registry.Get("alice")
	a.LastHeartbeat = time.Now().Add(-time.Hour)
	bob.reset()

	r.sweep(time.Now())

	if !alice.closed {
		t.Error("stale socket should be force-closed")
	}
	if _, ok := r.registry.Get("alice"); ok {
		t.Error("stale connection should be evicted")
	}
	if _, ok := r.registry.Get("bob"); !ok {
		t.Error("fresh connection must survive the sweep")
	}
	if got := bob.received(t, "playerDisconnected"); len(got) != 1 {
		t.Errorf("eviction should run the normal cleanup path, got %v", got)
	}
	if in := roomsContaining(r, "alice"); len(in) != 0 {
		t.Errorf("eviction left membership behind: %v", in)
	}
}

func TestRoomListSnapshot(t *testing.T) {
	r := newTestRelay()
	connect(r, "alice")
	join(r, "alice", "Alice", "#111")
	moveTo(r, "alice", "lounge")

	list := r.roomList()
	if len(list) != len(domain.DefaultWorld().Rooms) {
		t.Fatalf("expected all rooms, got %d", len(list))
	}
	counts := make(map[string]int)
	for _, info := range list {
		counts[info.RoomID] = info.MemberCount
	}
	if counts["lounge"] != 1 || counts["hub"] != 0 {
		t.Errorf("unexpected counts: %v", counts)
	}
}
