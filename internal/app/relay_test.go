package app

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/vizioway/meet/internal/core"
	"github.com/vizioway/meet/internal/domain"
	"github.com/vizioway/meet/internal/protocol"
)

// fakeConn is locked because a superseding connection closes the stale
// one from its own goroutine.
type fakeConn struct {
	mu     sync.Mutex
	frames []core.Frame
	full   bool
	closed bool
}

func (c *fakeConn) TrySend(f core.Frame) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.full {
		return errors.New("buffer full")
	}
	c.frames = append(c.frames, f)
	return nil
}

func (c *fakeConn) Close() {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
}

// envelopes decodes every captured frame.
func (c *fakeConn) envelopes(t *testing.T) []protocol.Envelope {
	t.Helper()
	out := make([]protocol.Envelope, 0, len(c.frames))
	for _, f := range c.frames {
		var env protocol.Envelope
		if err := json.Unmarshal(f, &env); err != nil {
			t.Fatalf("bad frame %q: %v", f, err)
		}
		out = append(out, env)
	}
	return out
}

var testClock = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func newTestRelay() *Relay {
	r := NewRelay(core.NewStore())
	r.now = func() time.Time { return testClock }
	n := 0
	r.newID = func() string { n++; return fmt.Sprintf("msg-%d", n) }
	return r
}

func join(t *testing.T, r *Relay, id, name string, room domain.RoomID) (*Session, *fakeConn) {
	t.Helper()
	conn := &fakeConn{}
	sess := NewSession(domain.User{ID: domain.UserID(id), Name: name}, conn)
	r.HandleJoin(sess, room)
	if sess.RoomID() != room {
		t.Fatalf("session room = %q after join, want %q", sess.RoomID(), room)
	}
	return sess, conn
}

func TestJoinSequenceRosterAndAnnouncement(t *testing.T) {
	r := newTestRelay()

	_, connA := join(t, r, "a", "Alice", "standup")
	envs := connA.envelopes(t)
	if len(envs) != 1 || envs[0].Type != protocol.TypeRoomParticipants {
		t.Fatalf("first joiner got %+v, want one room-participants", envs)
	}
	var roster []protocol.ParticipantInfo
	if err := json.Unmarshal(envs[0].Payload, &roster); err != nil {
		t.Fatal(err)
	}
	if len(roster) != 0 {
		t.Fatalf("first roster = %+v, want empty", roster)
	}

	_, connB := join(t, r, "b", "Bob", "standup")

	envs = connA.envelopes(t)
	if len(envs) != 2 || envs[1].Type != protocol.TypeUserJoined {
		t.Fatalf("present member got %+v, want user-joined appended", envs)
	}
	var joined protocol.UserJoined
	if err := json.Unmarshal(envs[1].Payload, &joined); err != nil {
		t.Fatal(err)
	}
	if joined.UserID != "b" || joined.Name != "Bob" {
		t.Fatalf("user-joined = %+v", joined)
	}

	envs = connB.envelopes(t)
	if len(envs) != 1 || envs[0].Type != protocol.TypeRoomParticipants {
		t.Fatalf("second joiner got %+v, want only its roster", envs)
	}
	if err := json.Unmarshal(envs[0].Payload, &roster); err != nil {
		t.Fatal(err)
	}
	if len(roster) != 1 || roster[0].ID != "a" || roster[0].Name != "Alice" {
		t.Fatalf("second roster = %+v, want [Alice]", roster)
	}
	if !roster[0].Video || !roster[0].Audio {
		t.Fatalf("roster media = %+v, want both on at join", roster[0])
	}
}

func TestJoinWithoutRoomIDDropped(t *testing.T) {
	r := newTestRelay()
	conn := &fakeConn{}
	sess := NewSession(domain.User{ID: "a", Name: "Alice"}, conn)
	r.HandleJoin(sess, "")
	if sess.RoomID() != "" || len(conn.frames) != 0 {
		t.Fatalf("empty-room join had effect: room=%q frames=%d", sess.RoomID(), len(conn.frames))
	}
}

func TestSignalForwardingAttachesSenderIdentity(t *testing.T) {
	r := newTestRelay()
	sessA, _ := join(t, r, "a", "Alice", "standup")
	_, connB := join(t, r, "b", "Bob", "standup")

	// The client-supplied from must be overwritten, not trusted.
	payload, _ := json.Marshal(protocol.Signal{
		To:    "b",
		From:  "mallory",
		Offer: json.RawMessage(`{"type":"offer","sdp":"v=0"}`),
	})
	r.HandleSignal(sessA, protocol.TypeSendOffer, payload)

	envs := connB.envelopes(t)
	last := envs[len(envs)-1]
	if last.Type != protocol.TypeReceiveOffer {
		t.Fatalf("recipient got %q, want receive-offer", last.Type)
	}
	var sig protocol.Signal
	if err := json.Unmarshal(last.Payload, &sig); err != nil {
		t.Fatal(err)
	}
	if sig.From != "a" || sig.FromName != "Alice" {
		t.Fatalf("forwarded identity = %q/%q, want the authenticated sender", sig.From, sig.FromName)
	}
	if string(sig.Offer) != `{"type":"offer","sdp":"v=0"}` {
		t.Fatalf("offer blob rewritten: %s", sig.Offer)
	}
}

func TestSignalAnswerAndCandidateTypes(t *testing.T) {
	r := newTestRelay()
	sessA, _ := join(t, r, "a", "Alice", "standup")
	_, connB := join(t, r, "b", "Bob", "standup")

	payload, _ := json.Marshal(protocol.Signal{To: "b", Answer: json.RawMessage(`{"type":"answer"}`)})
	r.HandleSignal(sessA, protocol.TypeSendAnswer, payload)
	payload, _ = json.Marshal(protocol.Signal{To: "b", Candidate: json.RawMessage(`{"candidate":"c0"}`)})
	r.HandleSignal(sessA, protocol.TypeSendCandidate, payload)

	envs := connB.envelopes(t)
	if len(envs) != 3 {
		t.Fatalf("recipient got %d frames, want roster + answer + candidate", len(envs))
	}
	if envs[1].Type != protocol.TypeReceiveAnswer || envs[2].Type != protocol.TypeReceiveCandidate {
		t.Fatalf("forwarded types = %q, %q", envs[1].Type, envs[2].Type)
	}
}

func TestSignalRoutingFailureHasNoEffect(t *testing.T) {
	r := newTestRelay()
	sessA, connA := join(t, r, "a", "Alice", "standup")
	_, connOther := join(t, r, "x", "Xavier", "other-room")

	before := len(connOther.frames)
	payload, _ := json.Marshal(protocol.Signal{To: "x", Offer: json.RawMessage(`{}`)})
	r.HandleSignal(sessA, protocol.TypeSendOffer, payload)
	if len(connOther.frames) != before {
		t.Fatal("non-co-resident recipient received a forwarded signal")
	}

	// Unknown recipient: same silence, sender unaffected.
	before = len(connA.frames)
	payload, _ = json.Marshal(protocol.Signal{To: "ghost", Offer: json.RawMessage(`{}`)})
	r.HandleSignal(sessA, protocol.TypeSendOffer, payload)
	if len(connA.frames) != before {
		t.Fatal("sender observed a routing failure")
	}
}

func TestChatBroadcastIncludesSenderWithServerFields(t *testing.T) {
	r := newTestRelay()
	sessA, connA := join(t, r, "a", "Alice", "standup")
	_, connB := join(t, r, "b", "Bob", "standup")

	r.HandleChat(sessA, "hello there")

	for _, conn := range []*fakeConn{connA, connB} {
		envs := conn.envelopes(t)
		last := envs[len(envs)-1]
		if last.Type != protocol.TypeReceiveMessage {
			t.Fatalf("got %q, want receive-message", last.Type)
		}
		var msg protocol.ChatMessage
		if err := json.Unmarshal(last.Payload, &msg); err != nil {
			t.Fatal(err)
		}
		if msg.ID != "msg-1" || !msg.Timestamp.Equal(testClock) {
			t.Fatalf("server fields = %q/%v, want assigned id and timestamp", msg.ID, msg.Timestamp)
		}
		if msg.SenderID != "a" || msg.SenderName != "Alice" || msg.Text != "hello there" {
			t.Fatalf("chat = %+v", msg)
		}
	}

	before := len(connB.frames)
	r.HandleChat(sessA, "")
	if len(connB.frames) != before {
		t.Fatal("empty chat text was broadcast")
	}
}

func TestMediaStateBroadcastExcludesSender(t *testing.T) {
	r := newTestRelay()
	sessA, connA := join(t, r, "a", "Alice", "standup")
	_, connB := join(t, r, "b", "Bob", "standup")

	before := len(connA.frames)
	r.HandleMediaState(sessA, protocol.MediaState{Video: false, Audio: true})

	if len(connA.frames) != before {
		t.Fatal("media-state change echoed to the sender")
	}
	envs := connB.envelopes(t)
	last := envs[len(envs)-1]
	if last.Type != protocol.TypeUserMediaChange {
		t.Fatalf("got %q, want user-media-change", last.Type)
	}
	var mc protocol.UserMediaChange
	if err := json.Unmarshal(last.Payload, &mc); err != nil {
		t.Fatal(err)
	}
	if mc.UserID != "a" || mc.Video || !mc.Audio {
		t.Fatalf("user-media-change = %+v", mc)
	}

	members := r.Store().Members("standup")
	for _, m := range members {
		if m.User.ID == "a" && (m.Media.Video || !m.Media.Audio) {
			t.Fatalf("stored media = %+v, want video off audio on", m.Media)
		}
	}
}

func TestDisconnectSweepsRoomAndNotifies(t *testing.T) {
	r := newTestRelay()
	sessA, connA := join(t, r, "a", "Alice", "standup")
	_, connB := join(t, r, "b", "Bob", "standup")

	r.HandleDisconnect(sessA)

	if !connA.closed {
		t.Fatal("disconnected session's transport not closed")
	}
	envs := connB.envelopes(t)
	last := envs[len(envs)-1]
	if last.Type != protocol.TypeUserLeft {
		t.Fatalf("remaining member got %q, want user-left", last.Type)
	}
	var left protocol.UserLeft
	if err := json.Unmarshal(last.Payload, &left); err != nil {
		t.Fatal(err)
	}
	if left.UserID != "a" {
		t.Fatalf("user-left = %+v", left)
	}
	if got := r.store.RoomsOf("a"); len(got) != 0 {
		t.Fatalf("disconnected user still in %v", got)
	}
}

func TestLastDisconnectDeletesRoom(t *testing.T) {
	r := newTestRelay()
	sessA, _ := join(t, r, "a", "Alice", "standup")
	r.HandleDisconnect(sessA)
	if rooms := r.store.Rooms(); len(rooms) != 0 {
		t.Fatalf("rooms after last disconnect = %+v, want none", rooms)
	}
}

func TestReconnectSupersedesStaleSession(t *testing.T) {
	r := newTestRelay()
	stale, staleConn := join(t, r, "a", "Alice", "standup")
	sessB, _ := join(t, r, "b", "Bob", "standup")

	// Same user joins again from a fresh transport, no clean leave.
	_, freshConn := join(t, r, "a", "Alice", "standup")

	if !staleConn.closed {
		t.Fatal("superseded transport left open")
	}

	// The stale connection's late disconnect must not tear down the
	// fresh membership.
	r.HandleDisconnect(stale)
	if got := r.store.RoomsOf("a"); len(got) != 1 {
		t.Fatalf("fresh membership swept by stale disconnect: %v", got)
	}

	// Traffic still routes to the fresh transport.
	before := len(freshConn.frames)
	payload, _ := json.Marshal(protocol.Signal{To: "a", Offer: json.RawMessage(`{}`)})
	r.HandleSignal(sessB, protocol.TypeSendOffer, payload)
	if len(freshConn.frames) != before+1 {
		t.Fatal("signal did not reach the fresh transport")
	}
}

// Racing reconnects for one user must leave exactly one membership and
// one registered session, with no torn reads of the superseded
// session's room.
func TestConcurrentReconnectJoins(t *testing.T) {
	r := newTestRelay()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		sess := NewSession(domain.User{ID: "a", Name: "Alice"}, &fakeConn{})
		wg.Add(1)
		go func() {
			defer wg.Done()
			r.HandleJoin(sess, "standup")
		}()
	}
	wg.Wait()

	if n := len(r.store.Members("standup")); n != 1 {
		t.Fatalf("room holds %d entries after racing reconnects, want 1", n)
	}
	if n := r.reg.Count(); n != 1 {
		t.Fatalf("registry holds %d sessions, want 1", n)
	}
}

func TestJoinSwitchingRoomsSweepsOldRoom(t *testing.T) {
	r := newTestRelay()
	sessA, _ := join(t, r, "a", "Alice", "standup")
	_, connB := join(t, r, "b", "Bob", "standup")

	r.HandleJoin(sessA, "retro")

	envs := connB.envelopes(t)
	last := envs[len(envs)-1]
	if last.Type != protocol.TypeUserLeft {
		t.Fatalf("old room got %q after room switch, want user-left", last.Type)
	}
	if got := r.store.RoomsOf("a"); len(got) != 1 || got[0] != "retro" {
		t.Fatalf("membership after switch = %v, want [retro]", got)
	}
}
