package relay

import "fmt"

// idleState tracks a connection through the idle lifecycle.
type idleState int

const (
	idleActive idleState = iota
	idleWarningScheduled
	idleWarned
	idleDisconnecting
)

// idleEntry holds the per-connection alarms. The handles live in the
// connection's entry so cancellation is tied to its removal: every exit
// route, including forced eviction, cancels them exactly once.
type idleEntry struct {
	state  idleState
	budget int // accumulated budget in multiples of the base; see below
	warn   Timer
	drop   Timer
}

func (e *idleEntry) cancel() {
	if e.warn != nil {
		e.warn.Stop()
		e.warn = nil
	}
	if e.drop != nil {
		e.drop.Stop()
		e.drop = nil
	}
}

// startIdleLocked creates the idle entry for a fresh connection and arms
// both alarms: the warning at half the budget, the disconnect at the full
// budget.
func (s *Session) startIdleLocked(id string) {
	entry := &idleEntry{}
	s.idle[id] = entry
	s.armLocked(id, entry)
}

func (s *Session) armLocked(id string, entry *idleEntry) {
	entry.state = idleWarningScheduled
	entry.budget = int(s.settings.IdleBudget.Minutes())
	entry.warn = s.clock.AfterFunc(s.settings.IdleBudget/2, func() { s.idleWarn(id) })
	entry.drop = s.clock.AfterFunc(s.settings.IdleBudget, func() { s.idleDrop(id) })
}

// touchIdleLocked resets the lifecycle on qualifying traffic: both alarms
// are cancelled and rearmed at the full budget.
func (s *Session) touchIdleLocked(id string) {
	entry, ok := s.idle[id]
	if !ok {
		return
	}
	entry.cancel()
	s.armLocked(id, entry)
}

// idleWarn fires at half the idle budget and sends a one-way advisory.
func (s *Session) idleWarn(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.idle[id]
	if !ok || entry.state != idleWarningScheduled {
		return
	}
	entry.state = idleWarned
	idleWarningsTotal.Inc()

	remaining := int((s.settings.IdleBudget / 2).Minutes())
	s.transport.Send(id, evChat, fmt.Sprintf(
		"No activity detected. You'll be disconnected in %d minutes unless you send a chat message.", remaining))
}

// idleDrop fires at the full idle budget. A non-host is evicted. A host is
// kept alive as long as anyone else is connected: its budget grows by the
// configured extension and only the disconnect alarm is rearmed, until the
// accumulated budget reaches the hard cap.
func (s *Session) idleDrop(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.idle[id]
	if !ok {
		return
	}

	if s.rooms.isHost(id) {
		others := s.ids.count() - 1
		capMinutes := int(s.settings.IdleHardCap.Minutes())
		if others > 0 && entry.budget < capMinutes {
			entry.budget += int(s.settings.HostExtension.Minutes())
			entry.drop = s.clock.AfterFunc(s.settings.HostExtension, func() { s.idleDrop(id) })
			s.logger.Info("idle host granted grace", "id", id, "budgetMinutes", entry.budget)
			return
		}
		s.evictLocked(id, "host")
		return
	}
	s.evictLocked(id, "client")
}

// evictLocked drops an idle connection: disconnect notice, registry and
// directory erasure, then the transport-level drop.
func (s *Session) evictLocked(id, role string) {
	if entry, ok := s.idle[id]; ok {
		entry.state = idleDisconnecting
	}
	idleEvictionsTotal.WithLabelValues(role).Inc()
	s.logger.Info("idle eviction", "id", id, "role", role)

	s.transport.Send(id, evServerKick, "disconnected by the server for inactivity")
	s.departLocked(id)
	s.transport.Disconnect(id)
}
