package relay

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// OnEvent is the single inbound dispatch point. The event name resolves to
// the closed eventType set once; unknown names and events from unregistered
// ids are dropped, matching the best-effort relay contract.
func (s *Session) OnEvent(id, event string, data json.RawMessage) {
	et := eventTypeOf(event)
	if et == eventUnknown {
		s.logger.Debug("dropping unknown event", "id", id, "event", event)
		return
	}
	eventsTotal.WithLabelValues(event).Inc()

	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.ids.known(id) {
		return
	}

	switch et {
	case eventEchoClient:
		s.handleEchoClient(id, data)
	case eventEchoHost:
		s.handleEchoHost(data)
	case eventChat:
		s.handleChat(id, data)
	case eventChatNotMe:
		s.handleChatNotMe(id, data)
	case eventSignaling:
		s.handleSignaling(id, data)
	case eventControl:
		s.handleControl(id, data)
	case eventInputState:
		s.handleInputState(id, data)
	case eventRoomJoin:
		s.handleRoomJoin(id, data)
	case eventKickByHost:
		s.handleKickByHost(id, data)
	case eventOKDisconnect:
		s.handleOKDisconnect(id)
	case eventShutdownP2P:
		s.handleShutdownP2P(id, data)
	case eventHostCommand:
		s.handleHostCommand(id, data)
	}
}

func decodeString(data json.RawMessage) (string, bool) {
	var v string
	if err := json.Unmarshal(data, &v); err != nil {
		return "", false
	}
	return v, true
}

func decodeObject(data json.RawMessage) (map[string]any, bool) {
	var v map[string]any
	if err := json.Unmarshal(data, &v); err != nil || v == nil {
		return nil, false
	}
	return v, true
}

// handleEchoClient bounces either directly back to the sender or out to the
// room's host, depending on the requested mode. The host leg exercises the
// full routing path: the host is expected to replay the carried id via
// echo-from-Host-to-Server.
func (s *Session) handleEchoClient(id string, data json.RawMessage) {
	mode, ok := decodeString(data)
	if !ok {
		return
	}
	switch mode {
	case "server":
		s.transport.Send(id, evEchoServerToClient, "server")
	case "host":
		if hostID, ok := s.senderHostLocked(id); ok {
			s.transport.Send(hostID, evEchoServerToHost, id)
		}
	}
}

// handleEchoHost completes the two-hop echo: the payload is the original
// sender's id as carried to the host.
func (s *Session) handleEchoHost(data json.RawMessage) {
	target, ok := decodeString(data)
	if !ok || !s.ids.known(target) {
		return
	}
	s.transport.Send(target, evEchoServerToClient, "host")
}

// handleChat recognizes the host-only commands and otherwise broadcasts the
// line to the sender's room with the comma-mode label appended. Chat is the
// qualifying traffic that resets the idle lifecycle.
func (s *Session) handleChat(id string, data json.RawMessage) {
	text, ok := decodeString(data)
	if !ok {
		return
	}
	s.touchIdleLocked(id)

	if text == chatCmdEvictAll || text == chatCmdCensus {
		if !s.rooms.isHost(id) {
			s.transport.Send(id, evChat, "Only the room host can use "+text+".")
			return
		}
		if text == chatCmdEvictAll {
			s.evictRoomClientsLocked(id)
		} else {
			s.transport.Send(id, evChat, s.censusLocked())
		}
		return
	}

	room, ok := s.rooms.roomOf(id)
	if !ok {
		return
	}
	line := text + " (" + s.labelLocked(id, LabelComma) + ")"
	s.transport.Broadcast(room, evChat, line, "")
}

// handleChatNotMe renders identically to handleChat but excludes the sender
// from the broadcast. The host commands are not recognized here.
func (s *Session) handleChatNotMe(id string, data json.RawMessage) {
	text, ok := decodeString(data)
	if !ok {
		return
	}
	s.touchIdleLocked(id)

	room, ok := s.rooms.roomOf(id)
	if !ok {
		return
	}
	line := text + " (" + s.labelLocked(id, LabelComma) + ")"
	s.transport.Broadcast(room, evChatNotMe, line, id)
}

// handleSignaling relays the opaque payload to the addressed target(s).
// When a "from" field is present the sender's parenthesized label is
// appended to it; the payload is otherwise untouched.
func (s *Session) handleSignaling(id string, data json.RawMessage) {
	payload, ok := decodeObject(data)
	if !ok {
		return
	}
	to, _ := payload["to"].(string)
	if to == "" {
		return
	}
	if from, ok := payload["from"].(string); ok {
		payload["from"] = from + " " + s.labelLocked(id, LabelParen)
	}
	s.deliverLocked(id, to, evSignaling, payload)
}

// handleControl relays like handleSignaling; the stamped field is the
// optional data.displayThis string.
func (s *Session) handleControl(id string, data json.RawMessage) {
	payload, ok := decodeObject(data)
	if !ok {
		return
	}
	to, _ := payload["to"].(string)
	if to == "" {
		return
	}
	if inner, ok := payload["data"].(map[string]any); ok {
		if display, ok := inner["displayThis"].(string); ok {
			inner["displayThis"] = display + " " + s.labelLocked(id, LabelParen)
		}
	}
	s.deliverLocked(id, to, evControl, payload)
}

// handleInputState relays mouse/keyboard state to the sender's room host.
func (s *Session) handleInputState(id string, data json.RawMessage) {
	hostID, ok := s.senderHostLocked(id)
	if !ok {
		return
	}
	s.transport.Send(hostID, evInputState, data)
}

// handleRoomJoin validates the join against the room directory, records it,
// joins the transport group, and notifies the joiner and, for client joins,
// the room's host. Directory failures surface to the joiner as a
// human-readable advisory; all state is untouched on failure.
func (s *Session) handleRoomJoin(id string, data json.RawMessage) {
	var req roomJoinRequest
	if err := json.Unmarshal(data, &req); err != nil || req.RoomName == "" {
		return
	}
	asHost := req.HostOrClient == "host"

	if err := s.rooms.join(req.RoomName, id, asHost); err != nil {
		switch {
		case errors.Is(err, ErrRoomAlreadyHosted):
			s.transport.Send(id, evRoomJoining, "Room "+req.RoomName+" already has a host.")
		case errors.Is(err, ErrNoHostForRoom):
			s.transport.Send(id, evRoomJoining, "Room "+req.RoomName+" has no host yet; a host must join first.")
		}
		return
	}

	s.transport.JoinGroup(id, req.RoomName)
	activeRooms.Set(float64(len(s.rooms.roomNames())))
	name := s.ids.name(id)
	s.logger.Info("room join", "room", req.RoomName, "id", id, "name", name, "asHost", asHost)

	if asHost {
		s.transport.Send(id, evRoomJoining, "You are hosting room "+req.RoomName+".")
		return
	}
	s.transport.Send(id, evRoomJoining, "You joined room "+req.RoomName+".")
	if hostID, ok := s.rooms.hostOf(req.RoomName); ok {
		s.transport.Send(hostID, evNewGameClient, map[string]any{
			"id":            id,
			"name":          name,
			"nickname":      s.ids.nickname(id),
			"requestStream": req.RequestStream,
			"player":        req.Player,
		})
	}
}

// handleKickByHost drops one named member of the host's room. Only the
// room's current host may issue it; anyone else is silently ignored.
func (s *Session) handleKickByHost(id string, data json.RawMessage) {
	if !s.rooms.isHost(id) {
		return
	}
	payload, ok := decodeObject(data)
	if !ok {
		return
	}
	to, _ := payload["to"].(string)
	target, ok := s.ids.resolveName(to)
	if !ok || target == id {
		return
	}
	hostRoom, _ := s.rooms.roomOf(id)
	if targetRoom, ok := s.rooms.roomOf(target); !ok || targetRoom != hostRoom {
		return
	}
	s.transport.Send(target, evServerKick, "The host has disconnected you.")
	s.departLocked(target)
	s.transport.Disconnect(target)
}

// handleOKDisconnect honors a client's consent to be dropped.
func (s *Session) handleOKDisconnect(id string) {
	s.departLocked(id)
	s.transport.Disconnect(id)
}

// handleShutdownP2P relays a peer-teardown notice untouched.
func (s *Session) handleShutdownP2P(id string, data json.RawMessage) {
	payload, ok := decodeObject(data)
	if !ok {
		return
	}
	to, _ := payload["to"].(string)
	if to == "" {
		return
	}
	s.deliverLocked(id, to, evShutdownP2P, payload)
}

// handleHostCommand fans a host instruction out to every other room member.
func (s *Session) handleHostCommand(id string, data json.RawMessage) {
	if !s.rooms.isHost(id) {
		return
	}
	room, ok := s.rooms.roomOf(id)
	if !ok {
		return
	}
	s.transport.Broadcast(room, evHostCommand, data, id)
}

// evictRoomClientsLocked disconnects every non-host member of the host's
// room. The member list is snapshotted first: departLocked mutates it.
func (s *Session) evictRoomClientsLocked(hostID string) {
	room, ok := s.rooms.roomOf(hostID)
	if !ok {
		return
	}
	members := s.rooms.membersOf(room)
	for _, m := range members {
		if m == hostID {
			continue
		}
		s.transport.Send(m, evServerKick, "The host has disconnected you.")
		s.departLocked(m)
		s.transport.Disconnect(m)
	}
}

// censusLocked renders the diagnostic room/connection report.
func (s *Session) censusLocked() string {
	rooms := s.rooms.roomNames()
	var b strings.Builder
	fmt.Fprintf(&b, "Census: %d connection(s), %d room(s).", s.ids.count(), len(rooms))
	for _, room := range rooms {
		hostName := "(none)"
		if hostID, ok := s.rooms.hostOf(room); ok {
			hostName = s.ids.name(hostID)
		}
		labels := make([]string, 0, 4)
		for _, m := range s.rooms.membersOf(room) {
			labels = append(labels, s.labelLocked(m, LabelParen))
		}
		fmt.Fprintf(&b, "\nroom %s: host=%s members=[%s]", room, hostName, strings.Join(labels, ", "))
	}
	return b.String()
}
