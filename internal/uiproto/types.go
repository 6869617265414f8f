// Package uiproto defines the structured command/event API between the
// terminal front-end and the session agent. Commands flow UI → session;
// events flow session → UI.
package uiproto

// Command is implemented by every UI → session command. It carries no
// behavior — the session agent dispatches on concrete type via a type switch.
type Command interface {
	isCommand()
}

// CreateRoom asks the session agent to create and enter a new room.
type CreateRoom struct {
	Name     string
	Password string
}

// JoinRoom asks the session agent to decode a room code and attempt to join.
type JoinRoom struct {
	Code     string
	Password string
}

// SendChat asks the session agent to encrypt and publish a chat line.
type SendChat struct {
	Text string
}

// LeaveRoom asks the session agent to leave the current room, if any.
type LeaveRoom struct{}

// ListPeers asks the session agent to emit a PeerList snapshot.
type ListPeers struct{}

// Shutdown asks the session agent to leave any room, stop the network
// agent, and terminate.
type Shutdown struct{}

func (CreateRoom) isCommand() {}
func (JoinRoom) isCommand()   {}
func (SendChat) isCommand()   {}
func (LeaveRoom) isCommand()  {}
func (ListPeers) isCommand()  {}
func (Shutdown) isCommand()   {}

// Event is implemented by every session → UI event.
type Event interface {
	isEvent()
}

// Display is a rendered line: a chat message or a "*** ..." system line.
type Display struct {
	Line string
}

// Status is an informational "[!]" line surfacing a non-fatal condition.
type Status struct {
	Line string
}

// PeerInfo is one roster entry as shown to the UI.
type PeerInfo struct {
	Display   string // "Nick#disc", or a short Peer ID prefix while the nickname is unknown
	IsRelayed bool
}

// PeerList is a full roster snapshot, in response to ListPeers.
type PeerList struct {
	Peers []PeerInfo
}

// RoomEntered reports a successful CreateRoom or JoinRoom, with the
// shareable code (empty when joining, since the joiner already has one).
type RoomEntered struct {
	Name string
	Code string
}

// RoomLeft reports a completed LeaveRoom.
type RoomLeft struct{}

// ErrorKind names a machine-readable error tag distinct from its
// human-readable message, so a front-end can branch on failure kind
// without parsing prose.
type ErrorKind string

const (
	ErrConfigLoad           ErrorKind = "ConfigLoad"
	ErrConfigWrite          ErrorKind = "ConfigWrite"
	ErrInvalidRoomCode      ErrorKind = "InvalidRoomCode"
	ErrDialFailed           ErrorKind = "DialFailed"
	ErrNoPeers              ErrorKind = "NoPeers"
	ErrAccessDenied         ErrorKind = "AccessDenied"
	ErrJoinTimeout          ErrorKind = "JoinTimeout"
	ErrTooLarge             ErrorKind = "TooLarge"
	ErrBootstrapUnavailable ErrorKind = "BootstrapUnavailable"
	ErrNotInRoom            ErrorKind = "NotInRoom"
)

// Error reports a recoverable failure with its machine tag and a short
// human-readable message.
type Error struct {
	Kind    ErrorKind
	Message string
}

func (Display) isEvent()     {}
func (Status) isEvent()      {}
func (PeerList) isEvent()    {}
func (RoomEntered) isEvent() {}
func (RoomLeft) isEvent()    {}
func (Error) isEvent()       {}
