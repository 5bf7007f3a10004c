package signalws

import (
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/vizioway/meet/internal/app"
	"github.com/vizioway/meet/internal/config"
	"github.com/vizioway/meet/internal/core"
	"github.com/vizioway/meet/internal/domain"
	"github.com/vizioway/meet/internal/protocol"
)

func TestRateLimiterBlocksAtLimit(t *testing.T) {
	rl := NewRateLimiter(3, time.Minute)
	for i := 0; i < 3; i++ {
		if !rl.Allow("a") {
			t.Fatalf("attempt %d blocked under the limit", i)
		}
	}
	if rl.Allow("a") {
		t.Fatal("attempt over the limit allowed")
	}
	// Budgets are per user.
	if !rl.Allow("b") {
		t.Fatal("other user blocked by a's window")
	}
}

func TestRateLimiterWindowExpires(t *testing.T) {
	rl := NewRateLimiter(1, 10*time.Millisecond)
	if !rl.Allow("a") {
		t.Fatal("first attempt blocked")
	}
	if rl.Allow("a") {
		t.Fatal("second attempt inside the window allowed")
	}
	time.Sleep(15 * time.Millisecond)
	if !rl.Allow("a") {
		t.Fatal("attempt after window expiry blocked")
	}
}

func TestRateLimiterForget(t *testing.T) {
	rl := NewRateLimiter(1, time.Minute)
	rl.Allow("a")
	if rl.Allow("a") {
		t.Fatal("attempt over the limit allowed")
	}
	rl.Forget("a")
	if !rl.Allow("a") {
		t.Fatal("attempt after Forget blocked")
	}
}

type recordConn struct {
	frames []core.Frame
}

func (c *recordConn) TrySend(f core.Frame) error {
	c.frames = append(c.frames, f)
	return nil
}

func (c *recordConn) Close() {}

func (c *recordConn) countType(t *testing.T, typ string) int {
	t.Helper()
	n := 0
	for _, f := range c.frames {
		var env protocol.Envelope
		if err := json.Unmarshal(f, &env); err != nil {
			t.Fatalf("bad frame %q: %v", f, err)
		}
		if env.Type == typ {
			n++
		}
	}
	return n
}

func encodeFrame(t *testing.T, typ string, payload any) []byte {
	t.Helper()
	f, err := protocol.Encode(typ, payload)
	if err != nil {
		t.Fatal(err)
	}
	return f
}

func TestDispatchRateLimitsJoins(t *testing.T) {
	ctl := NewController(app.NewRelay(core.NewStore()), &config.Config{SendBuffer: 4})
	sess := app.NewSession(domain.User{ID: "a", Name: "Alice"}, &recordConn{})

	for i := 0; i <= joinLimit; i++ {
		ctl.dispatch(sess, encodeFrame(t, protocol.TypeJoinRoom,
			protocol.JoinRoom{RoomID: fmt.Sprintf("room-%d", i)}))
	}

	// The frame over the budget is dropped, so the session stays in the
	// last allowed room.
	want := domain.RoomID(fmt.Sprintf("room-%d", joinLimit-1))
	if got := sess.RoomID(); got != want {
		t.Fatalf("session room = %q, want %q", got, want)
	}
}

func TestDispatchRateLimitsChat(t *testing.T) {
	ctl := NewController(app.NewRelay(core.NewStore()), &config.Config{SendBuffer: 4})
	conn := &recordConn{}
	sess := app.NewSession(domain.User{ID: "a", Name: "Alice"}, conn)
	ctl.dispatch(sess, encodeFrame(t, protocol.TypeJoinRoom, protocol.JoinRoom{RoomID: "standup"}))

	for i := 0; i <= chatLimit; i++ {
		ctl.dispatch(sess, encodeFrame(t, protocol.TypeSendMessage,
			protocol.ChatSend{Text: fmt.Sprintf("msg %d", i)}))
	}

	// Chat echoes to the sender, so the flood is countable locally.
	if got := conn.countType(t, protocol.TypeReceiveMessage); got != chatLimit {
		t.Fatalf("delivered %d chat messages, want the %d-message budget", got, chatLimit)
	}
}
