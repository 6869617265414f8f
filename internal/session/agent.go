// Package session implements the session agent: the room lifecycle state
// machine sitting between the UI agent and the network agent, owning the
// derived room key, the roster, and message history for whatever room the
// node currently occupies.
package session

import (
	"context"
	"errors"
	"fmt"
	"time"
	"unicode/utf8"

	"github.com/libp2p/go-libp2p/core/peer"

	"chatnode/internal/identity"
	"chatnode/internal/logwriter"
	"chatnode/internal/netagent"
	"chatnode/internal/ratelimit"
	"chatnode/internal/roomcode"
	"chatnode/internal/roomkey"
	"chatnode/internal/roomname"
	"chatnode/internal/uiproto"
	"chatnode/internal/wire"
)

// JoinTimeout bounds how long a Joining node waits for a verification
// token before giving up.
const JoinTimeout = 10 * time.Second

// verifyPollInterval is how often the run loop checks a pending join for
// timeout expiry.
const verifyPollInterval = 250 * time.Millisecond

// historyCapacity bounds the in-memory ring buffer of recent room messages.
const historyCapacity = 1024

// tokenBurst/tokenRefill bound how often this node will republish a
// verification token for the same joining peer.
const (
	tokenBurst  = 1.0
	tokenRefill = 1.0 / 5.0 // one token every 5 seconds
)

// rosterEntry is one known participant in the current room.
type rosterEntry struct {
	peerID  peer.ID
	nick    string
	discrim string
	relayed bool
}

func (r *rosterEntry) display() string {
	if r.nick == "" {
		return r.peerID.String()[:12]
	}
	return fmt.Sprintf("%s#%s", r.nick, r.discrim)
}

// netPort is the network agent's surface the session agent depends on. The
// concrete *netagent.Agent satisfies it; tests substitute a fake.
type netPort interface {
	Commands() chan<- netagent.Command
	Events() <-chan netagent.Event
	Addrs() []string
}

// Agent is the session agent. It is driven entirely by its Run loop; all
// exported access happens through the Commands/Events channels.
type Agent struct {
	id     *identity.Identity
	net    netPort
	logDir string

	uiCmdCh   chan uiproto.Command
	uiEventCh chan uiproto.Event

	state    State
	roomName string
	topic    string
	key      roomkey.Key
	log      *logwriter.Writer

	pendingDeadline time.Time
	sawFailedAuth   bool

	roster  map[peer.ID]*rosterEntry
	history []wire.Message

	limiter *ratelimit.PerJoinerLimiter
}

// New builds a session agent bound to net for transport, id for the local
// node's identity and display name, and logDir for the per-room transcript
// files.
func New(id *identity.Identity, net *netagent.Agent, logDir string) *Agent {
	return newWithPort(id, net, logDir)
}

func newWithPort(id *identity.Identity, net netPort, logDir string) *Agent {
	return &Agent{
		id:        id,
		net:       net,
		logDir:    logDir,
		uiCmdCh:   make(chan uiproto.Command, 64),
		uiEventCh: make(chan uiproto.Event, 256),
		roster:    make(map[peer.ID]*rosterEntry),
		limiter:   ratelimit.NewPerJoinerLimiter(tokenBurst, tokenRefill),
	}
}

// Commands returns the channel the UI agent sends commands on.
func (a *Agent) Commands() chan<- uiproto.Command { return a.uiCmdCh }

// Events returns the channel the UI agent reads rendered events from.
func (a *Agent) Events() <-chan uiproto.Event { return a.uiEventCh }

func (a *Agent) emit(ev uiproto.Event) {
	a.uiEventCh <- ev
}

// Run drives the session agent until ctx is cancelled or a Shutdown
// command is handled.
func (a *Agent) Run(ctx context.Context) {
	ticker := time.NewTicker(verifyPollInterval)
	defer ticker.Stop()
	defer close(a.uiEventCh)

	netEvents := a.net.Events()

	for {
		select {
		case <-ctx.Done():
			return
		case cmd := <-a.uiCmdCh:
			if a.handleUICommand(ctx, cmd) {
				return
			}
		case ev := <-netEvents:
			a.handleNetEvent(ctx, ev)
		case <-ticker.C:
			a.checkVerifyTimeout()
		}
	}
}

func (a *Agent) handleUICommand(ctx context.Context, cmd uiproto.Command) (shutdown bool) {
	switch c := cmd.(type) {
	case uiproto.CreateRoom:
		a.createRoom(c.Name, c.Password)
	case uiproto.JoinRoom:
		a.joinRoom(ctx, c.Code, c.Password)
	case uiproto.SendChat:
		a.sendChat(ctx, c.Text)
	case uiproto.LeaveRoom:
		a.leaveRoom()
	case uiproto.ListPeers:
		a.emitPeerList()
	case uiproto.Shutdown:
		a.leaveRoom()
		a.net.Commands() <- netagent.Shutdown{}
		return true
	}
	return false
}

func (a *Agent) createRoom(name, password string) {
	if a.state != Idle {
		a.emit(newError(uiproto.ErrNotInRoom, "leave the current room before creating a new one").toEvent())
		return
	}

	name = roomname.Normalize(name)
	a.state = Creating

	addrs := a.net.Addrs()
	if len(addrs) == 0 {
		a.state = Idle
		a.emit(newError(uiproto.ErrNoPeers, "no listen address available yet, try again shortly").toEvent())
		return
	}

	code, err := roomcode.Encode(roomcode.Code{
		RoomName: name,
		PeerID:   []byte(a.id.PeerID),
		Addr:     addrs[0],
	})
	if err != nil {
		a.state = Idle
		a.emit(newError(uiproto.ErrInvalidRoomCode, "%s", err).toEvent())
		return
	}

	a.enterRoom(name, roomkey.Derive(password, name))
	a.emit(uiproto.RoomEntered{Name: name, Code: code})
}

// openLog opens the room's transcript file, best-effort: a logging failure
// is surfaced as a Status line but never blocks the room from functioning.
func (a *Agent) openLog(roomName string) {
	w, err := logwriter.Open(a.logDir, roomName)
	if err != nil {
		a.emit(uiproto.Status{Line: fmt.Sprintf("could not open room log: %s", err)})
		return
	}
	a.log = w
}

func (a *Agent) closeLog() {
	if a.log == nil {
		return
	}
	a.log.Close()
	a.log = nil
}

func (a *Agent) joinRoom(ctx context.Context, code, password string) {
	if a.state != Idle {
		a.emit(newError(uiproto.ErrNotInRoom, "leave the current room before joining another").toEvent())
		return
	}

	decoded, err := roomcode.Decode(code)
	if err != nil {
		a.emit(newError(uiproto.ErrInvalidRoomCode, "%s", err).toEvent())
		return
	}

	name := roomname.Normalize(decoded.RoomName)
	dialAddr := fmt.Sprintf("%s/p2p/%s", decoded.Addr, peer.ID(decoded.PeerID).String())

	a.net.Commands() <- netagent.Dial{Addr: dialAddr}
	a.net.Commands() <- netagent.Subscribe{Topic: wire.TopicForRoom(name)}

	a.state = Joining
	a.roomName = name
	a.topic = wire.TopicForRoom(name)
	a.key = roomkey.Derive(password, name)
	a.pendingDeadline = time.Now().Add(JoinTimeout)
	a.roster = make(map[peer.ID]*rosterEntry)
	a.history = nil
	a.sawFailedAuth = false
}

func (a *Agent) enterRoom(name string, key roomkey.Key) {
	a.state = InRoom
	a.roomName = name
	a.topic = wire.TopicForRoom(name)
	a.key = key
	a.roster = make(map[peer.ID]*rosterEntry)
	a.history = nil
	a.pendingDeadline = time.Time{}
	a.net.Commands() <- netagent.Subscribe{Topic: a.topic}
	a.publishVerificationToken()
	a.openLog(name)
}

// publishVerificationToken broadcasts a fresh JOIN_VERIFY token on the
// current topic, so a joiner already listening doesn't have to wait for a
// TopicPeerJoined round trip before it can prove key possession.
func (a *Agent) publishVerificationToken() {
	token, err := a.key.MakeVerificationToken(a.id.Nickname, a.id.Discriminator, a.roomName)
	if err != nil {
		return
	}
	a.net.Commands() <- netagent.Publish{Topic: a.topic, Data: token}
}

func (a *Agent) leaveRoom() {
	if a.state == Idle {
		return
	}
	if a.topic != "" {
		a.net.Commands() <- netagent.Unsubscribe{Topic: a.topic}
	}
	a.state = Idle
	a.roomName = ""
	a.topic = ""
	a.roster = make(map[peer.ID]*rosterEntry)
	a.history = nil
	a.closeLog()
	a.emit(uiproto.RoomLeft{})
}

func (a *Agent) sendChat(ctx context.Context, text string) {
	if a.state != InRoom {
		a.emit(newError(uiproto.ErrNotInRoom, "not in a room").toEvent())
		return
	}
	if n := utf8.RuneCountInString(text); n > wire.MaxTextRunes {
		a.emit(newError(uiproto.ErrTooLarge, "message is %d code points, limit is %d", n, wire.MaxTextRunes).toEvent())
		return
	}

	msg := wire.Message{
		Type:      wire.Chat,
		Nick:      a.id.Nickname,
		Discrim:   a.id.Discriminator,
		Timestamp: time.Now().UTC(),
		Text:      text,
	}
	plaintext, err := msg.Encode()
	if err != nil {
		a.emit(newError(uiproto.ErrInvalidRoomCode, "encode message: %s", err).toEvent())
		return
	}
	ciphertext, err := a.key.Encrypt(plaintext)
	if err != nil {
		a.emit(newError(uiproto.ErrInvalidRoomCode, "encrypt message: %s", err).toEvent())
		return
	}

	result := make(chan error, 1)
	a.net.Commands() <- netagent.Publish{Topic: a.topic, Data: ciphertext, Result: result}

	select {
	case err := <-result:
		if err != nil {
			a.emit(a.publishErrorEvent(err))
			return
		}
	case <-ctx.Done():
		return
	}

	a.appendHistory(msg)
	a.emit(uiproto.Display{Line: formatChatLine(msg)})
	a.logChat(msg)
}

func (a *Agent) publishErrorEvent(err error) uiproto.Event {
	switch {
	case errors.Is(err, netagent.ErrTooLarge):
		return newError(uiproto.ErrTooLarge, "%s", err).toEvent()
	case errors.Is(err, netagent.ErrNoPeers):
		return newError(uiproto.ErrNoPeers, "%s", err).toEvent()
	default:
		return newError(uiproto.ErrDialFailed, "%s", err).toEvent()
	}
}

func (a *Agent) handleNetEvent(ctx context.Context, ev netagent.Event) {
	switch e := ev.(type) {
	case netagent.TopicPeerJoined:
		a.onTopicPeerJoined(ctx, e)
	case netagent.TopicPeerLeft:
		a.onTopicPeerLeft(e)
	case netagent.Message:
		a.onTopicMessage(e)
	case netagent.ConnectionEstablished:
		if entry, ok := a.roster[e.Peer]; ok {
			entry.relayed = e.Relayed
		}
		kind := "direct"
		if e.Relayed {
			kind = "relayed"
		}
		a.emit(uiproto.Status{Line: fmt.Sprintf("connected to %s (%s)", e.Peer.String()[:12], kind)})
	case netagent.ConnectionClosed:
		a.emit(uiproto.Status{Line: fmt.Sprintf("connection to %s closed", e.Peer.String()[:12])})
	case netagent.DialError:
		a.emit(newError(uiproto.ErrDialFailed, "%s: %s", e.Addr, e.Reason).toEvent())
	case netagent.BootstrapUnavailable:
		a.emit(newError(uiproto.ErrBootstrapUnavailable, "no DHT bootstrap peer reachable").toEvent())
	}
}

func (a *Agent) onTopicPeerJoined(ctx context.Context, e netagent.TopicPeerJoined) {
	if a.state != InRoom || e.Topic != a.topic {
		return
	}
	entry, alreadyKnown := a.roster[e.Peer]
	if !alreadyKnown {
		entry = &rosterEntry{peerID: e.Peer}
		a.roster[e.Peer] = entry

		a.emit(uiproto.Display{Line: fmt.Sprintf("*** %s joined the room", entry.display())})
		if a.log != nil {
			a.log.LogEvent("%s joined the room", entry.display())
		}
	}

	if !a.limiter.Allow(e.Peer.String()) {
		return
	}
	a.publishVerificationToken()
}

func (a *Agent) onTopicPeerLeft(e netagent.TopicPeerLeft) {
	if e.Topic != a.topic {
		return
	}
	if entry, ok := a.roster[e.Peer]; ok {
		a.emit(uiproto.Display{Line: fmt.Sprintf("*** %s disconnected", entry.display())})
		if a.log != nil {
			a.log.LogEvent("%s disconnected", entry.display())
		}
	}
	delete(a.roster, e.Peer)
	a.limiter.Forget(e.Peer.String())
}

func (a *Agent) onTopicMessage(e netagent.Message) {
	if e.Topic != a.topic {
		return
	}
	if a.state != InRoom && a.state != Joining {
		return
	}

	if a.key.VerifyToken(e.Payload, a.roomName) {
		if a.state == Joining {
			a.admitJoin()
		}
		return
	}

	plaintext, err := a.key.Decrypt(e.Payload)
	if err != nil {
		// A payload arrived on this topic but our derived key can't open it.
		// While Joining, that only happens with a live, publishing creator
		// and a wrong password: a genuinely offline room produces no traffic
		// at all, so this is the signal that distinguishes the two timeouts.
		if a.state == Joining {
			a.sawFailedAuth = true
		}
		return // wrong key or corrupted payload, discard silently
	}
	msg, err := wire.Decode(plaintext)
	if err != nil {
		return
	}
	if msg.Type != wire.Chat {
		return
	}
	if a.state != InRoom {
		return
	}

	a.trackSender(e.From, msg)
	a.appendHistory(msg)
	a.emit(uiproto.Display{Line: formatChatLine(msg)})
	a.logChat(msg)
}

// logChat appends msg to the room's transcript, flagging clock-skewed
// timestamps (still accepted, just noted).
func (a *Agent) logChat(msg wire.Message) {
	if a.log == nil {
		return
	}
	line := fmt.Sprintf("%s#%s: %s", msg.Nick, msg.Discrim, msg.Text)
	if msg.ClockSkew(time.Now()) {
		line += " (skew)"
	}
	a.log.Log(line)
}

func (a *Agent) admitJoin() {
	name := a.roomName
	key := a.key
	a.enterRoom(name, key)
	a.emit(uiproto.RoomEntered{Name: name, Code: ""})
}

// trackSender records the current nick/discriminator for from. The roster
// entry itself is created by onTopicPeerJoined; a CHAT can arrive from a
// peer we have no mesh-join record for yet if pubsub delivered it before the
// join event, so this also covers that ordering.
func (a *Agent) trackSender(from peer.ID, msg wire.Message) {
	entry, ok := a.roster[from]
	if !ok {
		entry = &rosterEntry{peerID: from}
		a.roster[from] = entry
	}
	entry.nick = msg.Nick
	entry.discrim = msg.Discrim
}

func (a *Agent) appendHistory(msg wire.Message) {
	a.history = append(a.history, msg)
	if len(a.history) > historyCapacity {
		a.history = a.history[len(a.history)-historyCapacity:]
	}
}

func (a *Agent) checkVerifyTimeout() {
	if a.state != Joining {
		return
	}
	if time.Now().Before(a.pendingDeadline) {
		return
	}

	topic := a.topic
	deniedAccess := a.sawFailedAuth
	a.state = Idle
	a.roomName = ""
	a.topic = ""
	a.roster = make(map[peer.ID]*rosterEntry)
	a.sawFailedAuth = false
	if topic != "" {
		a.net.Commands() <- netagent.Unsubscribe{Topic: topic}
	}
	if deniedAccess {
		a.emit(newError(uiproto.ErrAccessDenied, "wrong password for this room").toEvent())
		return
	}
	a.emit(newError(uiproto.ErrJoinTimeout, "no verification received within %s", JoinTimeout).toEvent())
}

func (a *Agent) emitPeerList() {
	peers := make([]uiproto.PeerInfo, 0, len(a.roster))
	for _, entry := range a.roster {
		peers = append(peers, uiproto.PeerInfo{Display: entry.display(), IsRelayed: entry.relayed})
	}
	a.emit(uiproto.PeerList{Peers: peers})
}

func formatChatLine(msg wire.Message) string {
	return fmt.Sprintf("[%s] %s#%s: %s", msg.Timestamp.Format("15:04:05"), msg.Nick, msg.Discrim, msg.Text)
}

