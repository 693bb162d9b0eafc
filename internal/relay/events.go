package relay

// Wire event names. The inbound names come from the browser clients and are
// fixed; several of them are echoed back verbatim when a payload is relayed.
const (
	evEchoClientToServer = "echo-from-Client-to-Server"
	evEchoHostToServer   = "echo-from-Host-to-Server"
	evEchoServerToClient = "echo-from-Server-to-Client"
	evEchoServerToHost   = "echo-from-Server-to-Host"

	evChat          = "chat message"
	evChatNotMe     = "chat message but not me"
	evSignaling     = "signaling message"
	evControl       = "control message"
	evInputState    = "client-mK-event"
	evRoomJoin      = "roomJoin"
	evKickByHost    = "clientDisconnectByHost"
	evOKDisconnect  = "okDisconnectMe"
	evShutdownP2P   = "shutDown-p2p-deleteClient"
	evHostCommand   = "command-from-host-to-all-clients"

	evYourName      = "your name is"
	evRoomJoining   = "room-joining-message"
	evNewGameClient = "new-game-client"
	evClientGone    = "client-disconnected"
	evServerKick    = "disconnectByServer"
)

// Addressing keywords understood in a payload's "to" field. Anything else
// is resolved as a nickname, then as a display name.
const (
	toHost         = "host"
	toRoom         = "room"
	toRoomNoSender = "roomNoSender"
)

// Host-only chat commands. A non-host sender receives a rejection chat line
// instead of the action.
const (
	chatCmdEvictAll = "dc-all"
	chatCmdCensus   = "room-census"
)

// eventType is the closed set of inbound events. Names are resolved to a
// type once at dispatch; there is no dynamic handler table.
type eventType int

const (
	eventUnknown eventType = iota
	eventEchoClient
	eventEchoHost
	eventChat
	eventChatNotMe
	eventSignaling
	eventControl
	eventInputState
	eventRoomJoin
	eventKickByHost
	eventOKDisconnect
	eventShutdownP2P
	eventHostCommand
)

func eventTypeOf(name string) eventType {
	switch name {
	case evEchoClientToServer:
		return eventEchoClient
	case evEchoHostToServer:
		return eventEchoHost
	case evChat:
		return eventChat
	case evChatNotMe:
		return eventChatNotMe
	case evSignaling:
		return eventSignaling
	case evControl:
		return eventControl
	case evInputState:
		return eventInputState
	case evRoomJoin:
		return eventRoomJoin
	case evKickByHost:
		return eventKickByHost
	case evOKDisconnect:
		return eventOKDisconnect
	case evShutdownP2P:
		return eventShutdownP2P
	case evHostCommand:
		return eventHostCommand
	}
	return eventUnknown
}

// roomJoinRequest is the payload of a roomJoin event.
type roomJoinRequest struct {
	RoomName      string `json:"roomName"`
	HostOrClient  string `json:"hostOrClient"`
	RequestStream bool   `json:"requestStream"`
	Player        string `json:"player"`
}

// Hints carries the client-supplied connection parameters the transport
// extracts from the upgrade request.
type Hints struct {
	Name     string // desired identity, only honored together with Rejoin
	Nickname string
	Team     string
	Rejoin   bool
}
