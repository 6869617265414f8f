package session

import (
	"context"
	cryptorand "crypto/rand"
	"strings"
	"testing"
	"time"

	"github.com/libp2p/go-libp2p/core/crypto"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chatnode/internal/identity"
	"chatnode/internal/netagent"
	"chatnode/internal/uiproto"
	"chatnode/internal/wire"
)

// fakeNet is a test double for netPort: it records every command sent and
// lets the test hand back canned addresses.
type fakeNet struct {
	cmdCh chan netagent.Command
	evCh  chan netagent.Event
	addrs []string
}

func newFakeNet() *fakeNet {
	return &fakeNet{
		cmdCh: make(chan netagent.Command, 32),
		evCh:  make(chan netagent.Event, 32),
		addrs: []string{"/ip4/127.0.0.1/tcp/4001"},
	}
}

func (f *fakeNet) Commands() chan<- netagent.Command { return f.cmdCh }
func (f *fakeNet) Events() <-chan netagent.Event     { return f.evCh }
func (f *fakeNet) Addrs() []string                   { return f.addrs }

func testIdentity(t *testing.T, nick string) *identity.Identity {
	t.Helper()
	id, err := identity.Generate()
	require.NoError(t, err)
	id.Nickname = nick
	return id
}

func TestCreateRoomEntersImmediatelyAndEmitsCode(t *testing.T) {
	net := newFakeNet()
	id := testIdentity(t, "alice")
	a := newWithPort(id, net, t.TempDir())

	a.createRoom("Test Room", "hunter2")

	assert.Equal(t, InRoom, a.state)
	select {
	case ev := <-a.uiEventCh:
		entered, ok := ev.(uiproto.RoomEntered)
		require.True(t, ok, "expected RoomEntered, got %T", ev)
		assert.Equal(t, "Test Room", entered.Name)
		assert.NotEmpty(t, entered.Code)
	default:
		t.Fatal("expected a RoomEntered event")
	}

	select {
	case cmd := <-net.cmdCh:
		_, ok := cmd.(netagent.Subscribe)
		assert.True(t, ok, "expected Subscribe command, got %T", cmd)
	default:
		t.Fatal("expected a Subscribe command")
	}
}

func TestCreateRoomRejectedWhenNotIdle(t *testing.T) {
	net := newFakeNet()
	id := testIdentity(t, "alice")
	a := newWithPort(id, net, t.TempDir())
	a.createRoom("first", "pw")
	<-a.uiEventCh
	<-net.cmdCh

	a.createRoom("second", "pw")

	ev := <-a.uiEventCh
	errEv, ok := ev.(uiproto.Error)
	require.True(t, ok, "expected Error, got %T", ev)
	assert.Equal(t, uiproto.ErrNotInRoom, errEv.Kind)
	assert.Equal(t, "first", a.roomName)
}

func TestJoinRoomTimesOutWithoutVerification(t *testing.T) {
	net := newFakeNet()
	creator := testIdentity(t, "creator")
	joiner := testIdentity(t, "joiner")

	creatorSide := newWithPort(creator, newFakeNet(), t.TempDir())
	creatorSide.createRoom("secret room", "correct-password")
	entered := (<-creatorSide.uiEventCh).(uiproto.RoomEntered)

	a := newWithPort(joiner, net, t.TempDir())
	a.joinRoom(context.Background(), entered.Code, "correct-password")
	require.Equal(t, Joining, a.state)

	// No traffic at all arrives on the topic before the deadline: the
	// creator is genuinely unreachable, not just slow or wrong-passworded.
	a.pendingDeadline = time.Now().Add(-time.Millisecond)
	a.checkVerifyTimeout()

	assert.Equal(t, Idle, a.state)
	ev := <-a.uiEventCh
	errEv, ok := ev.(uiproto.Error)
	require.True(t, ok, "expected Error, got %T", ev)
	assert.Equal(t, uiproto.ErrJoinTimeout, errEv.Kind)
}

func TestJoinRoomDeniedAccessWhenLiveCreatorRejectsPassword(t *testing.T) {
	net := newFakeNet()
	creator := testIdentity(t, "creator")
	joiner := testIdentity(t, "joiner")

	creatorSide := newWithPort(creator, newFakeNet(), t.TempDir())
	creatorSide.createRoom("secret room", "correct-password")
	entered := (<-creatorSide.uiEventCh).(uiproto.RoomEntered)

	a := newWithPort(joiner, net, t.TempDir())
	a.joinRoom(context.Background(), entered.Code, "wrong-password")
	require.Equal(t, Joining, a.state)

	// The creator is alive and republishing its verification token on the
	// topic, as it would on seeing our TopicPeerJoined. Our derived key
	// can't open it, since our password is wrong.
	token, err := creatorSide.key.MakeVerificationToken(creator.Nickname, creator.Discriminator, creatorSide.roomName)
	require.NoError(t, err)
	a.handleNetEvent(context.Background(), netagent.Message{
		Topic:   a.topic,
		From:    creator.PeerID,
		Payload: token,
	})
	require.Equal(t, Joining, a.state)

	a.pendingDeadline = time.Now().Add(-time.Millisecond)
	a.checkVerifyTimeout()

	assert.Equal(t, Idle, a.state)
	ev := <-a.uiEventCh
	errEv, ok := ev.(uiproto.Error)
	require.True(t, ok, "expected Error, got %T", ev)
	assert.Equal(t, uiproto.ErrAccessDenied, errEv.Kind)
}

func TestJoinRoomAdmitsOnValidVerificationToken(t *testing.T) {
	net := newFakeNet()
	creator := testIdentity(t, "creator")
	joiner := testIdentity(t, "joiner")

	creatorSide := newWithPort(creator, newFakeNet(), t.TempDir())
	creatorSide.createRoom("secret room", "swordfish")
	entered := (<-creatorSide.uiEventCh).(uiproto.RoomEntered)

	a := newWithPort(joiner, net, t.TempDir())
	a.joinRoom(context.Background(), entered.Code, "swordfish")
	require.Equal(t, Joining, a.state)

	token, err := creatorSide.key.MakeVerificationToken(creator.Nickname, creator.Discriminator, creatorSide.roomName)
	require.NoError(t, err)

	a.handleNetEvent(context.Background(), netagent.Message{
		Topic:   a.topic,
		From:    creator.PeerID,
		Payload: token,
	})

	assert.Equal(t, InRoom, a.state)
	ev := <-a.uiEventCh
	entered2, ok := ev.(uiproto.RoomEntered)
	require.True(t, ok, "expected RoomEntered, got %T", ev)
	assert.Equal(t, creatorSide.roomName, entered2.Name)
}

func TestJoinRoomIgnoresTokenUnderWrongPassword(t *testing.T) {
	net := newFakeNet()
	creator := testIdentity(t, "creator")
	joiner := testIdentity(t, "joiner")

	creatorSide := newWithPort(creator, newFakeNet(), t.TempDir())
	creatorSide.createRoom("secret room", "correct-password")
	entered := (<-creatorSide.uiEventCh).(uiproto.RoomEntered)

	a := newWithPort(joiner, net, t.TempDir())
	a.joinRoom(context.Background(), entered.Code, "wrong-password")

	token, err := creatorSide.key.MakeVerificationToken(creator.Nickname, creator.Discriminator, creatorSide.roomName)
	require.NoError(t, err)

	a.handleNetEvent(context.Background(), netagent.Message{
		Topic:   a.topic,
		From:    creator.PeerID,
		Payload: token,
	})

	assert.Equal(t, Joining, a.state)
}

func TestSendChatRejectedWhenNotInRoom(t *testing.T) {
	net := newFakeNet()
	id := testIdentity(t, "alice")
	a := newWithPort(id, net, t.TempDir())

	a.sendChat(context.Background(), "hello")

	ev := <-a.uiEventCh
	errEv, ok := ev.(uiproto.Error)
	require.True(t, ok, "expected Error, got %T", ev)
	assert.Equal(t, uiproto.ErrNotInRoom, errEv.Kind)
}

func TestSendChatAcceptsExactlyMaxTextRunes(t *testing.T) {
	net := newFakeNet()
	id := testIdentity(t, "alice")
	a := newWithPort(id, net, t.TempDir())
	a.createRoom("room", "pw")
	<-a.uiEventCh
	<-net.cmdCh // Subscribe
	<-net.cmdCh // initial verification token publish

	go func() {
		cmd := <-net.cmdCh
		if publish, ok := cmd.(netagent.Publish); ok && publish.Result != nil {
			publish.Result <- nil
		}
	}()

	a.sendChat(context.Background(), strings.Repeat("a", wire.MaxTextRunes))

	ev := <-a.uiEventCh
	_, ok := ev.(uiproto.Display)
	assert.True(t, ok, "expected a Display event for a message at the exact rune limit, got %T", ev)
}

func TestSendChatRejectsOneRuneOverMax(t *testing.T) {
	net := newFakeNet()
	id := testIdentity(t, "alice")
	a := newWithPort(id, net, t.TempDir())
	a.createRoom("room", "pw")
	<-a.uiEventCh
	<-net.cmdCh // Subscribe
	<-net.cmdCh // initial verification token publish

	a.sendChat(context.Background(), strings.Repeat("a", wire.MaxTextRunes+1))

	ev := <-a.uiEventCh
	errEv, ok := ev.(uiproto.Error)
	require.True(t, ok, "expected Error, got %T", ev)
	assert.Equal(t, uiproto.ErrTooLarge, errEv.Kind)
}

func TestOnTopicPeerJoinedRepublishesTokenRateLimited(t *testing.T) {
	net := newFakeNet()
	id := testIdentity(t, "alice")
	a := newWithPort(id, net, t.TempDir())
	a.createRoom("room", "pw")
	<-a.uiEventCh
	<-net.cmdCh // Subscribe
	<-net.cmdCh // initial verification token publish

	var otherPeer peer.ID
	_, pub, err := crypto.GenerateEd25519Key(cryptorand.Reader)
	require.NoError(t, err)
	otherPeer, err = peer.IDFromPublicKey(pub)
	require.NoError(t, err)

	a.onTopicPeerJoined(context.Background(), netagent.TopicPeerJoined{Topic: a.topic, Peer: otherPeer})
	select {
	case cmd := <-net.cmdCh:
		publish, ok := cmd.(netagent.Publish)
		require.True(t, ok, "expected Publish, got %T", cmd)
		assert.Equal(t, a.topic, publish.Topic)
	default:
		t.Fatal("expected a Publish command for the first join")
	}

	a.onTopicPeerJoined(context.Background(), netagent.TopicPeerJoined{Topic: a.topic, Peer: otherPeer})
	select {
	case cmd := <-net.cmdCh:
		t.Fatalf("expected no republish within the rate-limit window, got %T", cmd)
	default:
	}
}

func TestLeaveRoomUnsubscribesAndResetsState(t *testing.T) {
	net := newFakeNet()
	id := testIdentity(t, "alice")
	a := newWithPort(id, net, t.TempDir())
	a.createRoom("room", "pw")
	<-a.uiEventCh
	<-net.cmdCh // Subscribe
	<-net.cmdCh // initial verification token publish

	a.leaveRoom()

	assert.Equal(t, Idle, a.state)
	select {
	case cmd := <-net.cmdCh:
		_, ok := cmd.(netagent.Unsubscribe)
		assert.True(t, ok, "expected Unsubscribe, got %T", cmd)
	default:
		t.Fatal("expected an Unsubscribe command")
	}
	select {
	case ev := <-a.uiEventCh:
		_, ok := ev.(uiproto.RoomLeft)
		assert.True(t, ok, "expected RoomLeft, got %T", ev)
	default:
		t.Fatal("expected a RoomLeft event")
	}
}
