package relay

import (
	"encoding/json"
	"log/slog"
	"sync"
	"time"
)

// Transport is the delivery capability the relay consumes. Every method is
// fire-and-forget and must never block: the Session calls them while holding
// its mutex. *transport.Hub satisfies this interface.
type Transport interface {
	Send(id, event string, data any)
	Broadcast(room, event string, data any, exceptID string)
	BroadcastAll(event string, data any)
	JoinGroup(id, room string)
	Disconnect(id string)
}

// Handler is the surface the transport drives. The Session implements it.
type Handler interface {
	OnConnect(id string, hints Hints)
	OnEvent(id, event string, data json.RawMessage)
	OnDisconnect(id string)
}

// Settings are the tunables of the idle lifecycle and startup greeting.
type Settings struct {
	IdleBudget    time.Duration // full idle budget; warning fires at half
	IdleHardCap   time.Duration // accumulated budget ceiling for hosts
	HostExtension time.Duration // grace added to an idle host per alarm
	GreetingDelay time.Duration // one-time greeting after process start
}

func (s *Settings) withDefaults() {
	if s.IdleBudget <= 0 {
		s.IdleBudget = 40 * time.Minute
	}
	if s.IdleHardCap <= 0 {
		s.IdleHardCap = 180 * time.Minute
	}
	if s.HostExtension <= 0 {
		s.HostExtension = 5 * time.Minute
	}
	if s.GreetingDelay <= 0 {
		s.GreetingDelay = 5 * time.Second
	}
}

// Session is the single owner of all relay state. One mutex serializes every
// mutation and every read-for-routing: routing for one connection routinely
// reads another connection's entries, and idle-timer callbacks fire on their
// own goroutines.
type Session struct {
	mu       sync.Mutex
	ids      *identityRegistry
	rooms    *roomDirectory
	idle     map[string]*idleEntry
	greeting Timer

	transport Transport
	clock     Clock
	settings  Settings
	logger    *slog.Logger
}

var _ Handler = (*Session)(nil)

// NewSession builds a session core around the given transport. A nil clock
// selects real timers; a nil logger selects slog.Default().
func NewSession(t Transport, settings Settings, clock Clock, logger *slog.Logger) *Session {
	settings.withDefaults()
	if clock == nil {
		clock = realClock{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Session{
		ids:       newIdentityRegistry(),
		rooms:     newRoomDirectory(),
		idle:      make(map[string]*idleEntry),
		transport: t,
		clock:     clock,
		settings:  settings,
		logger:    logger,
	}
}

// Start schedules the one-time greeting broadcast. It reaches the sockets
// connected when it fires; later arrivals are not owed a copy.
func (s *Session) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.greeting = s.clock.AfterFunc(s.settings.GreetingDelay, func() {
		s.transport.BroadcastAll(evChat, "The server says hello.")
	})
}

// Stop cancels the greeting and every outstanding idle timer.
func (s *Session) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.greeting != nil {
		s.greeting.Stop()
		s.greeting = nil
	}
	for id, entry := range s.idle {
		entry.cancel()
		delete(s.idle, id)
	}
}

// OnConnect resolves the connection's identity from the transport hints and
// announces it. A rejoin asking for a name held by a different live
// connection is refused and the connection dropped; the legacy behavior of
// silently stealing the name is deliberately not reproduced.
func (s *Session) OnConnect(id string, hints Hints) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var name string
	if hints.Rejoin && hints.Name != "" {
		n, err := s.ids.reattach(id, hints.Name)
		if err != nil {
			s.logger.Warn("reattach refused", "id", id, "name", hints.Name)
			s.transport.Send(id, evYourName, map[string]string{
				"error": "name " + hints.Name + " is in use; reconnect with a fresh identity",
			})
			s.transport.Disconnect(id)
			return
		}
		name = n
	} else {
		name = s.ids.registerNew(id)
	}

	if hints.Nickname != "" {
		s.ids.setNickname(id, hints.Nickname)
	}
	if hints.Team != "" {
		s.ids.setTeam(id, hints.Team)
	}

	s.startIdleLocked(id)
	connectedSessions.Set(float64(s.ids.count()))
	s.logger.Info("connection registered", "id", id, "name", name, "rejoin", hints.Rejoin)

	s.transport.Send(id, evYourName, name)
}

// OnDisconnect removes every trace of id. Disconnecting an already-removed
// connection is a no-op, which makes the transport teardown path and the
// idle eviction path safe to overlap.
func (s *Session) OnDisconnect(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.departLocked(id)
}

// departure is the routing state that removal destroys, captured up front.
type departure struct {
	name    string
	room    string
	hostID  string
	wasHost bool
}

// captureDepartureLocked reads the departing connection's routing targets.
// It must run before removeLocked: leave() clears the very state the host
// notification needs.
func (s *Session) captureDepartureLocked(id string) (departure, bool) {
	if !s.ids.known(id) {
		return departure{}, false
	}
	dep := departure{name: s.ids.name(id)}
	if room, ok := s.rooms.roomOf(id); ok {
		dep.room = room
		if hostID, ok := s.rooms.hostOf(room); ok {
			dep.hostID = hostID
			dep.wasHost = hostID == id
		}
	}
	return dep, true
}

// removeLocked erases id from both registries and cancels its timers. The
// two maps sets are updated back to back under the one mutex, so no observer
// sees a half-removed connection.
func (s *Session) removeLocked(id string) {
	if entry, ok := s.idle[id]; ok {
		entry.cancel()
		delete(s.idle, id)
	}
	s.ids.remove(id)
	s.rooms.leave(id)
	connectedSessions.Set(float64(s.ids.count()))
	activeRooms.Set(float64(len(s.rooms.roomNames())))
}

// departLocked is the named capture-then-remove sequence: read routing
// targets, mutate state, then notify from the captured copy.
func (s *Session) departLocked(id string) {
	dep, ok := s.captureDepartureLocked(id)
	if !ok {
		return
	}
	s.removeLocked(id)
	if !dep.wasHost && dep.hostID != "" {
		s.transport.Send(dep.hostID, evClientGone, dep.name)
	}
	s.logger.Info("connection removed", "id", id, "name", dep.name, "room", dep.room, "wasHost", dep.wasHost)
}

// deliverLocked resolves a "to" address and delivers one event. Resolution
// to nothing drops the event silently.
func (s *Session) deliverLocked(senderID, to, event string, data any) {
	switch to {
	case toHost:
		if hostID, ok := s.senderHostLocked(senderID); ok {
			s.transport.Send(hostID, event, data)
		}
	case toRoom:
		if room, ok := s.rooms.roomOf(senderID); ok {
			s.transport.Broadcast(room, event, data, "")
		}
	case toRoomNoSender:
		if room, ok := s.rooms.roomOf(senderID); ok {
			s.transport.Broadcast(room, event, data, senderID)
		}
	default:
		if id, ok := s.ids.resolveName(to); ok {
			s.transport.Send(id, event, data)
		}
	}
}

// senderHostLocked resolves hostOf(roomOf(sender)).
func (s *Session) senderHostLocked(senderID string) (string, bool) {
	room, ok := s.rooms.roomOf(senderID)
	if !ok {
		return "", false
	}
	return s.rooms.hostOf(room)
}

// labelLocked composes the sender's display label, substituting the host
// role name when the sender hosts its room.
func (s *Session) labelLocked(id string, mode LabelMode) string {
	return s.ids.label(id, mode, s.rooms.isHost(id))
}
