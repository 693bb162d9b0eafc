package relay

import (
	"encoding/json"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"
)

// fakeTransport records every delivery the session asks for. It is safe to
// call with the session mutex held.
type fakeTransport struct {
	mu      sync.Mutex
	frames  []fakeFrame
	joins   map[string]string
	dropped []string
}

type fakeFrame struct {
	to     string // single-address sends
	room   string // group broadcasts; "*" for BroadcastAll
	except string
	event  string
	data   any
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{joins: make(map[string]string)}
}

func (f *fakeTransport) Send(id, event string, data any) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.frames = append(f.frames, fakeFrame{to: id, event: event, data: data})
}

func (f *fakeTransport) Broadcast(room, event string, data any, exceptID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.frames = append(f.frames, fakeFrame{room: room, except: exceptID, event: event, data: data})
}

func (f *fakeTransport) BroadcastAll(event string, data any) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.frames = append(f.frames, fakeFrame{room: "*", event: event, data: data})
}

func (f *fakeTransport) JoinGroup(id, room string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.joins[id] = room
}

func (f *fakeTransport) Disconnect(id string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.dropped = append(f.dropped, id)
}

func (f *fakeTransport) sentTo(id, event string) []fakeFrame {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []fakeFrame
	for _, fr := range f.frames {
		if fr.to == id && fr.event == event {
			out = append(out, fr)
		}
	}
	return out
}

func (f *fakeTransport) broadcasts(event string) []fakeFrame {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []fakeFrame
	for _, fr := range f.frames {
		if fr.room != "" && fr.event == event {
			out = append(out, fr)
		}
	}
	return out
}

func (f *fakeTransport) wasDropped(id string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, d := range f.dropped {
		if d == id {
			return true
		}
	}
	return false
}

// fakeClock drives the idle monitor with simulated time. Callbacks run on
// the caller's goroutine, outside the clock lock.
type fakeClock struct {
	mu     sync.Mutex
	now    time.Duration
	timers []*fakeTimer
}

type fakeTimer struct {
	clock   *fakeClock
	at      time.Duration
	f       func()
	fired   bool
	stopped bool
}

func (t *fakeTimer) Stop() bool {
	t.clock.mu.Lock()
	defer t.clock.mu.Unlock()
	if t.fired || t.stopped {
		return false
	}
	t.stopped = true
	return true
}

func (c *fakeClock) AfterFunc(d time.Duration, f func()) Timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &fakeTimer{clock: c, at: c.now + d, f: f}
	c.timers = append(c.timers, t)
	return t
}

// advance moves simulated time forward, firing due timers in order. Timers
// scheduled by a firing callback are honored within the same advance.
func (c *fakeClock) advance(d time.Duration) {
	c.mu.Lock()
	target := c.now + d
	for {
		var next *fakeTimer
		for _, t := range c.timers {
			if t.fired || t.stopped || t.at > target {
				continue
			}
			if next == nil || t.at < next.at {
				next = t
			}
		}
		if next == nil {
			break
		}
		c.now = next.at
		next.fired = true
		f := next.f
		c.mu.Unlock()
		f()
		c.mu.Lock()
	}
	c.now = target
	c.mu.Unlock()
}

func newTestSession(t *testing.T) (*Session, *fakeTransport, *fakeClock) {
	t.Helper()
	tr := newFakeTransport()
	clk := &fakeClock{}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewSession(tr, Settings{}, clk, logger), tr, clk
}

func event(t *testing.T, s *Session, id, name string, payload any) {
	t.Helper()
	var raw json.RawMessage
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			t.Fatalf("marshal payload: %v", err)
		}
		raw = b
	}
	s.OnEvent(id, name, raw)
}

func joinRoom(t *testing.T, s *Session, id, room, role string) {
	t.Helper()
	event(t, s, id, evRoomJoin, roomJoinRequest{RoomName: room, HostOrClient: role})
}

// assignedName extracts the name announced via "your name is".
func assignedName(t *testing.T, tr *fakeTransport, id string) string {
	t.Helper()
	frames := tr.sentTo(id, evYourName)
	if len(frames) == 0 {
		t.Fatalf("no %q frame for %s", evYourName, id)
	}
	name, ok := frames[len(frames)-1].data.(string)
	if !ok {
		t.Fatalf("name payload is %T, want string", frames[len(frames)-1].data)
	}
	return name
}

func TestConnectAssignsUniqueNames(t *testing.T) {
	s, tr, _ := newTestSession(t)

	s.OnConnect("a", Hints{})
	s.OnConnect("b", Hints{})
	s.OnConnect("c", Hints{})

	seen := make(map[string]bool)
	for _, id := range []string{"a", "b", "c"} {
		name := assignedName(t, tr, id)
		if seen[name] {
			t.Fatalf("name %q assigned twice", name)
		}
		seen[name] = true
	}
}

func TestRejoinKeepsNameAndCounter(t *testing.T) {
	s, tr, _ := newTestSession(t)

	s.OnConnect("a", Hints{})
	name := assignedName(t, tr, "a") // u1
	s.OnDisconnect("a")

	s.OnConnect("a2", Hints{Name: name, Rejoin: true})
	if got := assignedName(t, tr, "a2"); got != name {
		t.Fatalf("rejoin name = %q, want %q", got, name)
	}

	// The counter did not advance on rejoin: the next fresh connection mints
	// the next value past the reattached name.
	s.OnConnect("b", Hints{})
	if got := assignedName(t, tr, "b"); got != "u2" {
		t.Fatalf("fresh name after rejoin = %q, want u2", got)
	}
}

func TestRejoinConflictRefused(t *testing.T) {
	s, tr, _ := newTestSession(t)

	s.OnConnect("a", Hints{})
	name := assignedName(t, tr, "a")

	s.OnConnect("b", Hints{Name: name, Rejoin: true})

	if !tr.wasDropped("b") {
		t.Fatal("conflicting rejoin not disconnected")
	}
	frames := tr.sentTo("b", evYourName)
	if len(frames) != 1 {
		t.Fatalf("got %d name frames, want 1", len(frames))
	}
	if _, ok := frames[0].data.(map[string]string); !ok {
		t.Fatalf("conflict payload is %T, want error map", frames[0].data)
	}
	// Events from the refused connection are dropped.
	event(t, s, "b", evChat, "hello")
	if got := tr.broadcasts(evChat); len(got) != 0 {
		t.Fatalf("refused connection broadcast chat: %v", got)
	}
}

func TestDisconnectNotifiesHostBeforeErasingState(t *testing.T) {
	s, tr, _ := newTestSession(t)

	s.OnConnect("h", Hints{})
	s.OnConnect("c", Hints{})
	joinRoom(t, s, "h", "pool", "host")
	joinRoom(t, s, "c", "pool", "client")
	clientName := assignedName(t, tr, "c")

	s.OnDisconnect("c")

	gone := tr.sentTo("h", evClientGone)
	if len(gone) != 1 {
		t.Fatalf("host got %d client-disconnected frames, want 1", len(gone))
	}
	if gone[0].data != clientName {
		t.Fatalf("client-disconnected payload = %v, want %q", gone[0].data, clientName)
	}

	// Re-disconnecting is a no-op.
	s.OnDisconnect("c")
	if got := tr.sentTo("h", evClientGone); len(got) != 1 {
		t.Fatalf("double disconnect produced %d notifications", len(got))
	}

	// Every entry is gone: the freed name is reattachable.
	s.OnConnect("c2", Hints{Name: clientName, Rejoin: true})
	if got := assignedName(t, tr, "c2"); got != clientName {
		t.Fatalf("freed name not reattachable, got %q", got)
	}
}

func TestHostDisconnectClearsSlotKeepsMembers(t *testing.T) {
	s, tr, _ := newTestSession(t)

	s.OnConnect("h", Hints{})
	s.OnConnect("c", Hints{})
	joinRoom(t, s, "h", "pool", "host")
	joinRoom(t, s, "c", "pool", "client")

	s.OnDisconnect("h")

	// Members keep their room: chat still broadcasts to the room group.
	event(t, s, "c", evChat, "anyone here?")
	if got := tr.broadcasts(evChat); len(got) != 1 || got[0].room != "pool" {
		t.Fatalf("member chat after host left = %v", got)
	}

	// The room is hostless: a new client is refused, a new host accepted.
	s.OnConnect("c2", Hints{})
	joinRoom(t, s, "c2", "pool", "client")
	if msgs := tr.sentTo("c2", evRoomJoining); len(msgs) != 1 ||
		!strings.Contains(msgs[0].data.(string), "no host") {
		t.Fatalf("hostless join advisory = %v", msgs)
	}
	s.OnConnect("h2", Hints{})
	joinRoom(t, s, "h2", "pool", "host")
	if msgs := tr.sentTo("h2", evRoomJoining); len(msgs) != 1 ||
		!strings.Contains(msgs[0].data.(string), "hosting") {
		t.Fatalf("new host advisory = %v", msgs)
	}
}

func TestSecondHostJoinSurfacedToJoiner(t *testing.T) {
	s, tr, _ := newTestSession(t)

	s.OnConnect("h", Hints{})
	s.OnConnect("x", Hints{})
	joinRoom(t, s, "h", "pool", "host")
	joinRoom(t, s, "x", "pool", "host")

	msgs := tr.sentTo("x", evRoomJoining)
	if len(msgs) != 1 || !strings.Contains(msgs[0].data.(string), "already has a host") {
		t.Fatalf("advisory = %v", msgs)
	}
	// No side effect: the loser can still join as a client.
	joinRoom(t, s, "x", "pool", "client")
	if msgs := tr.sentTo("x", evRoomJoining); len(msgs) != 2 ||
		!strings.Contains(msgs[1].data.(string), "joined") {
		t.Fatalf("client join after failed host join = %v", msgs)
	}
}

func TestEchoDirectToSender(t *testing.T) {
	s, tr, _ := newTestSession(t)
	s.OnConnect("a", Hints{})

	event(t, s, "a", evEchoClientToServer, "server")

	frames := tr.sentTo("a", evEchoServerToClient)
	if len(frames) != 1 || frames[0].data != "server" {
		t.Fatalf("direct echo = %v, want exactly one %q", frames, "server")
	}
}

func TestEchoViaHostRoundTrip(t *testing.T) {
	s, tr, _ := newTestSession(t)

	s.OnConnect("h", Hints{})
	s.OnConnect("c", Hints{})
	joinRoom(t, s, "h", "pool", "host")
	joinRoom(t, s, "c", "pool", "client")

	event(t, s, "c", evEchoClientToServer, "host")

	hop := tr.sentTo("h", evEchoServerToHost)
	if len(hop) != 1 {
		t.Fatalf("host got %d echo frames, want 1", len(hop))
	}
	carried, ok := hop[0].data.(string)
	if !ok || carried != "c" {
		t.Fatalf("echo carried %v, want sender id c", hop[0].data)
	}

	// The host replays the carried id and the original sender gets the echo.
	event(t, s, "h", evEchoHostToServer, carried)
	back := tr.sentTo("c", evEchoServerToClient)
	if len(back) != 1 || back[0].data != "host" {
		t.Fatalf("round trip = %v, want one %q echo", back, "host")
	}
}

func TestChatAppendsCommaLabel(t *testing.T) {
	s, tr, _ := newTestSession(t)

	s.OnConnect("h", Hints{})
	s.OnConnect("c", Hints{Nickname: "Alice", Team: "red"})
	joinRoom(t, s, "h", "pool", "host")
	joinRoom(t, s, "c", "pool", "client")

	event(t, s, "c", evChat, "hello")
	got := tr.broadcasts(evChat)
	if len(got) != 1 {
		t.Fatalf("got %d chat broadcasts, want 1", len(got))
	}
	if got[0].data != "hello (Alice.red, u2)" {
		t.Fatalf("chat line = %q, want %q", got[0].data, "hello (Alice.red, u2)")
	}
	if got[0].except != "" {
		t.Fatalf("chat excluded %q, want nobody", got[0].except)
	}

	// The host's base identity renders as the role name.
	event(t, s, "h", evChat, "hi")
	got = tr.broadcasts(evChat)
	if len(got) != 2 || got[1].data != "hi (host)" {
		t.Fatalf("host chat line = %v, want %q", got[1].data, "hi (host)")
	}
}

func TestChatNotMeExcludesSender(t *testing.T) {
	s, tr, _ := newTestSession(t)

	s.OnConnect("h", Hints{})
	s.OnConnect("c", Hints{})
	joinRoom(t, s, "h", "pool", "host")
	joinRoom(t, s, "c", "pool", "client")

	event(t, s, "c", evChatNotMe, "psst")
	got := tr.broadcasts(evChatNotMe)
	if len(got) != 1 || got[0].except != "c" {
		t.Fatalf("broadcast = %v, want sender excluded", got)
	}
}

func TestControlRoomNoSenderExcludesSender(t *testing.T) {
	s, tr, _ := newTestSession(t)

	s.OnConnect("h", Hints{})
	s.OnConnect("c", Hints{})
	joinRoom(t, s, "h", "pool", "host")
	joinRoom(t, s, "c", "pool", "client")

	event(t, s, "c", evControl, map[string]any{"to": "roomNoSender", "data": map[string]any{}})

	got := tr.broadcasts(evControl)
	if len(got) != 1 {
		t.Fatalf("got %d control broadcasts, want 1", len(got))
	}
	if got[0].room != "pool" || got[0].except != "c" {
		t.Fatalf("control broadcast = %+v, want room pool excluding c", got[0])
	}
}

func TestControlStampsDisplayThis(t *testing.T) {
	s, tr, _ := newTestSession(t)

	s.OnConnect("h", Hints{})
	s.OnConnect("c", Hints{Nickname: "Alice"})
	joinRoom(t, s, "h", "pool", "host")
	joinRoom(t, s, "c", "pool", "client")

	event(t, s, "c", evControl, map[string]any{
		"to":   "host",
		"data": map[string]any{"displayThis": "ready"},
	})

	frames := tr.sentTo("h", evControl)
	if len(frames) != 1 {
		t.Fatalf("host got %d control frames, want 1", len(frames))
	}
	payload := frames[0].data.(map[string]any)
	inner := payload["data"].(map[string]any)
	if inner["displayThis"] != "ready Alice (u2)" {
		t.Fatalf("displayThis = %q, want %q", inner["displayThis"], "ready Alice (u2)")
	}
}

func TestSignalingRoutesByNicknameThenName(t *testing.T) {
	s, tr, _ := newTestSession(t)

	s.OnConnect("h", Hints{})
	s.OnConnect("c1", Hints{Nickname: "Alice"})
	s.OnConnect("c2", Hints{})
	joinRoom(t, s, "h", "pool", "host")
	joinRoom(t, s, "c1", "pool", "client")
	joinRoom(t, s, "c2", "pool", "client")

	event(t, s, "c2", evSignaling, map[string]any{"to": "Alice", "sdp": "offer"})
	if frames := tr.sentTo("c1", evSignaling); len(frames) != 1 {
		t.Fatalf("nickname-addressed frame count = %d, want 1", len(frames))
	}

	event(t, s, "c1", evSignaling, map[string]any{"to": "u3", "sdp": "answer"})
	if frames := tr.sentTo("c2", evSignaling); len(frames) != 1 {
		t.Fatalf("name-addressed frame count = %d, want 1", len(frames))
	}

	// Unknown target: silent drop, nothing surfaced to the sender.
	before := len(tr.frames)
	event(t, s, "c1", evSignaling, map[string]any{"to": "nobody"})
	if len(tr.frames) != before {
		t.Fatalf("unknown target produced frames: %v", tr.frames[before:])
	}
}

func TestInputStateRelaysToHost(t *testing.T) {
	s, tr, _ := newTestSession(t)

	s.OnConnect("h", Hints{})
	s.OnConnect("c", Hints{})
	joinRoom(t, s, "h", "pool", "host")
	joinRoom(t, s, "c", "pool", "client")

	event(t, s, "c", evInputState, map[string]any{"keys": "WASD"})
	if frames := tr.sentTo("h", evInputState); len(frames) != 1 {
		t.Fatalf("host got %d input frames, want 1", len(frames))
	}
}

func TestNewGameClientNotifiesHost(t *testing.T) {
	s, tr, _ := newTestSession(t)

	s.OnConnect("h", Hints{})
	s.OnConnect("c", Hints{Nickname: "Alice"})
	joinRoom(t, s, "h", "pool", "host")
	event(t, s, "c", evRoomJoin, roomJoinRequest{RoomName: "pool", HostOrClient: "client", RequestStream: true, Player: "p2"})

	frames := tr.sentTo("h", evNewGameClient)
	if len(frames) != 1 {
		t.Fatalf("host got %d new-game-client frames, want 1", len(frames))
	}
	payload := frames[0].data.(map[string]any)
	if payload["name"] != "u2" || payload["nickname"] != "Alice" ||
		payload["requestStream"] != true || payload["player"] != "p2" {
		t.Fatalf("new-game-client payload = %v", payload)
	}
}

func TestCensusCommandHostOnly(t *testing.T) {
	s, tr, _ := newTestSession(t)

	s.OnConnect("h", Hints{})
	s.OnConnect("c", Hints{Nickname: "Alice"})
	joinRoom(t, s, "h", "pool", "host")
	joinRoom(t, s, "c", "pool", "client")

	event(t, s, "c", evChat, "room-census")
	rejections := tr.sentTo("c", evChat)
	if len(rejections) != 1 || !strings.Contains(rejections[0].data.(string), "host") {
		t.Fatalf("non-host census reply = %v", rejections)
	}

	event(t, s, "h", evChat, "room-census")
	reports := tr.sentTo("h", evChat)
	if len(reports) != 1 {
		t.Fatalf("host got %d census frames, want 1", len(reports))
	}
	report := reports[0].data.(string)
	for _, want := range []string{"2 connection(s)", "1 room(s)", "room pool", "host=u1", "Alice (u2)"} {
		if !strings.Contains(report, want) {
			t.Fatalf("census %q missing %q", report, want)
		}
	}
}

func TestEvictAllCommand(t *testing.T) {
	s, tr, _ := newTestSession(t)

	s.OnConnect("h", Hints{})
	s.OnConnect("c1", Hints{})
	s.OnConnect("c2", Hints{})
	joinRoom(t, s, "h", "pool", "host")
	joinRoom(t, s, "c1", "pool", "client")
	joinRoom(t, s, "c2", "pool", "client")

	// A non-host sender gets a rejection, not the action.
	event(t, s, "c1", evChat, "dc-all")
	if tr.wasDropped("c2") {
		t.Fatal("non-host dc-all evicted someone")
	}

	event(t, s, "h", evChat, "dc-all")
	for _, id := range []string{"c1", "c2"} {
		if kicks := tr.sentTo(id, evServerKick); len(kicks) != 1 {
			t.Fatalf("%s got %d kick notices, want 1", id, len(kicks))
		}
		if !tr.wasDropped(id) {
			t.Fatalf("%s not dropped", id)
		}
	}
	if tr.wasDropped("h") {
		t.Fatal("host dropped by its own dc-all")
	}
	// Evicted members are fully erased: their chat goes nowhere.
	event(t, s, "c1", evChat, "still here?")
	for _, fr := range tr.broadcasts(evChat) {
		if data, ok := fr.data.(string); ok && strings.HasPrefix(data, "still here?") {
			t.Fatal("evicted member still broadcasting")
		}
	}
}

func TestKickByHost(t *testing.T) {
	s, tr, _ := newTestSession(t)

	s.OnConnect("h", Hints{})
	s.OnConnect("c", Hints{Nickname: "Alice"})
	joinRoom(t, s, "h", "pool", "host")
	joinRoom(t, s, "c", "pool", "client")

	// Non-host senders are ignored.
	event(t, s, "c", evKickByHost, map[string]any{"to": "u1"})
	if tr.wasDropped("h") {
		t.Fatal("client kicked the host")
	}

	event(t, s, "h", evKickByHost, map[string]any{"to": "Alice"})
	if kicks := tr.sentTo("c", evServerKick); len(kicks) != 1 {
		t.Fatalf("kicked client got %d notices, want 1", len(kicks))
	}
	if !tr.wasDropped("c") {
		t.Fatal("kicked client not dropped")
	}
}

func TestOKDisconnectMe(t *testing.T) {
	s, tr, _ := newTestSession(t)

	s.OnConnect("h", Hints{})
	s.OnConnect("c", Hints{})
	joinRoom(t, s, "h", "pool", "host")
	joinRoom(t, s, "c", "pool", "client")

	event(t, s, "c", evOKDisconnect, nil)
	if !tr.wasDropped("c") {
		t.Fatal("consenting client not dropped")
	}
	if gone := tr.sentTo("h", evClientGone); len(gone) != 1 {
		t.Fatalf("host got %d departure notices, want 1", len(gone))
	}
}

func TestHostCommandFansOutToClients(t *testing.T) {
	s, tr, _ := newTestSession(t)

	s.OnConnect("h", Hints{})
	s.OnConnect("c", Hints{})
	joinRoom(t, s, "h", "pool", "host")
	joinRoom(t, s, "c", "pool", "client")

	event(t, s, "c", evHostCommand, map[string]any{"cmd": "pause"})
	if got := tr.broadcasts(evHostCommand); len(got) != 0 {
		t.Fatalf("non-host command broadcast: %v", got)
	}

	event(t, s, "h", evHostCommand, map[string]any{"cmd": "pause"})
	got := tr.broadcasts(evHostCommand)
	if len(got) != 1 || got[0].except != "h" {
		t.Fatalf("host command broadcast = %v, want room fan-out excluding host", got)
	}
}

func TestGreetingFiresOnceAfterDelay(t *testing.T) {
	s, tr, clk := newTestSession(t)
	s.OnConnect("a", Hints{})
	s.Start()

	clk.advance(4 * time.Second)
	if got := tr.broadcasts(evChat); len(got) != 0 {
		t.Fatalf("greeting fired early: %v", got)
	}

	clk.advance(time.Second)
	got := tr.broadcasts(evChat)
	if len(got) != 1 || got[0].room != "*" {
		t.Fatalf("greeting = %v, want one broadcast to all", got)
	}

	clk.advance(time.Minute)
	if got := tr.broadcasts(evChat); len(got) != 1 {
		t.Fatalf("greeting fired again: %v", got)
	}
}

func TestStopCancelsGreeting(t *testing.T) {
	s, tr, clk := newTestSession(t)
	s.Start()
	s.Stop()

	clk.advance(time.Minute)
	if got := tr.broadcasts(evChat); len(got) != 0 {
		t.Fatalf("greeting fired after Stop: %v", got)
	}
}
