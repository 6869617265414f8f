// Package netagent implements the network agent: the overlay transport,
// GossipSub pub/sub mesh, Kademlia DHT bootstrap, mDNS local discovery,
// relay client, and hole-punch upgrade, mounted on a single libp2p host
// and driven from one cooperative run loop.
package netagent

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/libp2p/go-libp2p"
	dht "github.com/libp2p/go-libp2p-kad-dht"
	pubsub "github.com/libp2p/go-libp2p-pubsub"
	"github.com/libp2p/go-libp2p/core/crypto"
	"github.com/libp2p/go-libp2p/core/host"
	"github.com/libp2p/go-libp2p/core/network"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/libp2p/go-libp2p/core/routing"
	"github.com/libp2p/go-libp2p/p2p/discovery/mdns"
	drouting "github.com/libp2p/go-libp2p/p2p/discovery/routing"
	dutil "github.com/libp2p/go-libp2p/p2p/discovery/util"
	"github.com/multiformats/go-multiaddr"

	"chatnode/internal/wire"
)

// MaxWirePayload is the ingress size limit; anything larger is dropped
// before it is ever handed to the session agent.
const MaxWirePayload = wire.MaxPayloadBytes

// mdnsServiceTag names this application's mDNS advertisement.
const mdnsServiceTag = "chatapp-v1-mdns"

// eventBufferSize is the size of the network→session event channel: bounded
// but large, so the agent parks rather than drops an event on overflow.
const eventBufferSize = 2048

// bootstrapMinBackoff/MaxBackoff bound the DHT bootstrap retry schedule:
// 1s, 2s, 4s, … doubling up to a 60s cap.
const (
	bootstrapMinBackoff = 1 * time.Second
	bootstrapMaxBackoff = 60 * time.Second
)

// bootstrapPeers is the fixed list of public IPFS DHT entry points used to
// find the wider network on a cold start.
var bootstrapPeers = []string{
	"/dnsaddr/bootstrap.libp2p.io/p2p/QmNnooDu7bfjPFoTZYxMNLWUQJyrVwtbZg5gBMjTezGAJN",
	"/dnsaddr/bootstrap.libp2p.io/p2p/QmQCU2EcMqAqQPR2i9bChDtGNJchTbq5TbXJJ16u19uLTa",
	"/dnsaddr/bootstrap.libp2p.io/p2p/QmbLHAnMoJPWSCR5Zhtx6BHJX9KiKNN6tpvbUcqanj75Nb",
	"/dnsaddr/bootstrap.libp2p.io/p2p/QmcZf59bWwK5XFi76CZX8cbJ4BhTzzA3gU1ZjYZcYW3dwt",
}

// Agent owns the libp2p host and every protocol mounted on it.
type Agent struct {
	host host.Host
	dht  *dht.IpfsDHT
	ps   *pubsub.PubSub

	cmdCh   chan Command
	eventCh chan Event

	mu     sync.Mutex
	topics map[string]*subscribedTopic
	dedup  map[string]*digestCache // per-topic, since digests are only unique within a topic's traffic

	bootstrapAddrs []peer.AddrInfo
}

type subscribedTopic struct {
	topic  *pubsub.Topic
	sub    *pubsub.Subscription
	handle *pubsub.TopicEventHandler
	cancel context.CancelFunc
}

// New builds the libp2p host — TCP transport, Noise, yamux, relay client,
// hole punching, DHT, GossipSub — and returns an Agent ready to Run. mDNS
// discovery is started by Run, not here.
func New(privKey crypto.PrivKey) (*Agent, error) {
	var bootstrapAddrs []peer.AddrInfo
	for _, s := range bootstrapPeers {
		addr, err := multiaddr.NewMultiaddr(s)
		if err != nil {
			continue
		}
		info, err := peer.AddrInfoFromP2pAddr(addr)
		if err != nil {
			continue
		}
		bootstrapAddrs = append(bootstrapAddrs, *info)
	}

	a := &Agent{
		cmdCh:          make(chan Command, 64),
		eventCh:        make(chan Event, eventBufferSize),
		topics:         make(map[string]*subscribedTopic),
		dedup:          make(map[string]*digestCache),
		bootstrapAddrs: bootstrapAddrs,
	}

	var kadDHT *dht.IpfsDHT
	opts := []libp2p.Option{
		libp2p.Identity(privKey),
		libp2p.ListenAddrStrings(
			"/ip4/0.0.0.0/tcp/0",
			"/ip4/0.0.0.0/udp/0/quic-v1",
		),
		libp2p.NATPortMap(),
		libp2p.EnableNATService(),
		libp2p.EnableRelay(),
		libp2p.EnableHolePunching(),
		libp2p.Routing(func(h host.Host) (routing.PeerRouting, error) {
			var err error
			kadDHT, err = dht.New(context.Background(), h, dht.Mode(dht.ModeAutoServer))
			return kadDHT, err
		}),
	}

	h, err := libp2p.New(opts...)
	if err != nil {
		return nil, fmt.Errorf("netagent: create libp2p host: %w", err)
	}
	a.host = h
	a.dht = kadDHT

	ps, err := pubsub.NewGossipSub(context.Background(), h)
	if err != nil {
		h.Close()
		return nil, fmt.Errorf("netagent: create gossipsub: %w", err)
	}
	a.ps = ps

	return a, nil
}

// Commands returns the channel the session agent sends outbound commands on.
func (a *Agent) Commands() chan<- Command { return a.cmdCh }

// Events returns the channel the session agent reads inbound events from.
func (a *Agent) Events() <-chan Event { return a.eventCh }

// ID returns the local Peer ID.
func (a *Agent) ID() peer.ID { return a.host.ID() }

// Addrs returns the host's currently known listen multiaddresses as strings,
// used to build a shareable room code for a freshly created room.
func (a *Agent) Addrs() []string {
	addrs := a.host.Addrs()
	out := make([]string, 0, len(addrs))
	for _, addr := range addrs {
		out = append(out, addr.String())
	}
	return out
}

// emit delivers ev, parking until the buffered channel drains rather than
// ever dropping an event.
func (a *Agent) emit(ev Event) {
	a.eventCh <- ev
}

// Run drives the agent until ctx is cancelled or a Shutdown command arrives.
func (a *Agent) Run(ctx context.Context) {
	for _, addr := range a.host.Addrs() {
		a.emit(Listening{Addr: fmt.Sprintf("%s/p2p/%s", addr, a.host.ID())})
	}

	a.host.Network().Notify(a.connNotifiee())

	if err := a.startMDNS(); err != nil {
		// mDNS is best-effort; the agent still functions via DHT/manual dial.
		a.emit(DialError{Addr: "mdns", Reason: err.Error()})
	}

	go a.bootstrapDHTLoop(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case cmd := <-a.cmdCh:
			if a.handleCommand(ctx, cmd) {
				return
			}
		}
	}
}

func (a *Agent) handleCommand(ctx context.Context, cmd Command) (shutdown bool) {
	switch c := cmd.(type) {
	case Dial:
		a.handleDial(ctx, c.Addr)
	case Subscribe:
		a.handleSubscribe(c.Topic)
	case Unsubscribe:
		a.handleUnsubscribe(c.Topic)
	case Publish:
		err := a.handlePublish(ctx, c.Topic, c.Data)
		if c.Result != nil {
			c.Result <- err
		}
	case BootstrapDHT:
		go a.bootstrapOnce(ctx)
	case Shutdown:
		a.handleShutdownAll()
		return true
	}
	return false
}

func (a *Agent) handleDial(ctx context.Context, addrStr string) {
	addr, err := multiaddr.NewMultiaddr(addrStr)
	if err != nil {
		a.emit(DialError{Addr: addrStr, Reason: err.Error()})
		return
	}
	info, err := peer.AddrInfoFromP2pAddr(addr)
	if err != nil {
		a.emit(DialError{Addr: addrStr, Reason: err.Error()})
		return
	}

	dialCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := a.host.Connect(dialCtx, *info); err != nil {
		a.emit(DialError{Addr: addrStr, Reason: err.Error()})
	}
}

func (a *Agent) handleSubscribe(topicName string) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if _, exists := a.topics[topicName]; exists {
		return
	}

	topic, err := a.ps.Join(topicName)
	if err != nil {
		a.emit(DialError{Addr: topicName, Reason: err.Error()})
		return
	}
	sub, err := topic.Subscribe()
	if err != nil {
		topic.Close()
		a.emit(DialError{Addr: topicName, Reason: err.Error()})
		return
	}
	handler, err := topic.EventHandler()
	if err != nil {
		sub.Cancel()
		topic.Close()
		a.emit(DialError{Addr: topicName, Reason: err.Error()})
		return
	}

	topicCtx, cancel := context.WithCancel(context.Background())
	st := &subscribedTopic{topic: topic, sub: sub, handle: handler, cancel: cancel}
	a.topics[topicName] = st
	a.dedup[topicName] = newDigestCache(dedupCapacity)

	go a.readLoop(topicCtx, topicName, sub)
	go a.peerEventLoop(topicCtx, topicName, handler)
	go a.discoverViaDHT(topicCtx, topicName)
}

// discoverViaDHT advertises topicName as a DHT rendezvous point and dials
// whatever peers it turns up, covering peers mDNS's local-subnet broadcast
// can't reach.
func (a *Agent) discoverViaDHT(ctx context.Context, topicName string) {
	peerCh, err := a.DiscoverPeers(ctx, topicName)
	if err != nil {
		return // no DHT routing available; mDNS-only discovery still works
	}
	for pi := range peerCh {
		if pi.ID == a.host.ID() || len(pi.Addrs) == 0 {
			continue
		}
		addrs := make([]string, 0, len(pi.Addrs))
		for _, addr := range pi.Addrs {
			addrs = append(addrs, addr.String())
		}
		a.emit(PeerDiscovered{Peer: pi.ID, Addrs: addrs})

		go func(pi peer.AddrInfo) {
			dialCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			defer cancel()
			if err := a.host.Connect(dialCtx, pi); err != nil {
				a.emit(DialError{Addr: pi.ID.String(), Reason: err.Error()})
			}
		}(pi)
	}
}

func (a *Agent) handleUnsubscribe(topicName string) {
	a.mu.Lock()
	defer a.mu.Unlock()

	st, exists := a.topics[topicName]
	if !exists {
		return
	}
	st.cancel()
	st.handle.Cancel()
	st.sub.Cancel()
	st.topic.Close()
	delete(a.topics, topicName)
	delete(a.dedup, topicName)
}

// oversizedPayload reports whether data exceeds MaxWirePayload. Shared by
// the outbound publish path and inbound readLoop so both sides of the wire
// enforce the same limit.
func oversizedPayload(data []byte) bool {
	return len(data) > MaxWirePayload
}

func (a *Agent) handlePublish(ctx context.Context, topicName string, data []byte) error {
	if oversizedPayload(data) {
		return fmt.Errorf("netagent: payload of %d bytes exceeds %d byte limit: %w", len(data), MaxWirePayload, ErrTooLarge)
	}

	a.mu.Lock()
	st, exists := a.topics[topicName]
	a.mu.Unlock()
	if !exists {
		return fmt.Errorf("netagent: not subscribed to %s: %w", topicName, ErrNoPeers)
	}

	if len(st.topic.ListPeers()) == 0 {
		return fmt.Errorf("netagent: no peers on %s: %w", topicName, ErrNoPeers)
	}

	if err := st.topic.Publish(ctx, data); err != nil {
		return fmt.Errorf("netagent: publish on %s: %w", topicName, err)
	}
	return nil
}

func (a *Agent) handleShutdownAll() {
	a.mu.Lock()
	names := make([]string, 0, len(a.topics))
	for name := range a.topics {
		names = append(names, name)
	}
	a.mu.Unlock()

	for _, name := range names {
		a.handleUnsubscribe(name)
	}
	if a.dht != nil {
		a.dht.Close()
	}
	a.host.Close()
}

func (a *Agent) readLoop(ctx context.Context, topicName string, sub *pubsub.Subscription) {
	for {
		msg, err := sub.Next(ctx)
		if err != nil {
			return // context cancelled on Unsubscribe/Shutdown
		}
		if msg.ReceivedFrom == a.host.ID() {
			continue
		}
		if oversizedPayload(msg.Data) {
			continue // dropped at ingress; never surfaced to the session agent
		}

		a.mu.Lock()
		cache := a.dedup[topicName]
		a.mu.Unlock()
		if cache == nil || cache.SeenBefore(msg.Data) {
			continue
		}

		a.emit(Message{Topic: topicName, From: msg.ReceivedFrom, Payload: msg.Data})
	}
}

func (a *Agent) peerEventLoop(ctx context.Context, topicName string, handler *pubsub.TopicEventHandler) {
	for {
		evt, err := handler.NextPeerEvent(ctx)
		if err != nil {
			return
		}
		switch evt.Type {
		case pubsub.PeerJoin:
			a.emit(TopicPeerJoined{Topic: topicName, Peer: evt.Peer})
		case pubsub.PeerLeave:
			a.emit(TopicPeerLeft{Topic: topicName, Peer: evt.Peer})
		}
	}
}

func (a *Agent) connNotifiee() *network.NotifyBundle {
	return &network.NotifyBundle{
		ConnectedF: func(_ network.Network, conn network.Conn) {
			relayed := isRelayedAddr(conn.RemoteMultiaddr())
			a.emit(ConnectionEstablished{Peer: conn.RemotePeer(), Relayed: relayed})
		},
		DisconnectedF: func(_ network.Network, conn network.Conn) {
			a.emit(ConnectionClosed{Peer: conn.RemotePeer()})
		},
	}
}

func isRelayedAddr(addr multiaddr.Multiaddr) bool {
	_, err := addr.ValueForProtocol(multiaddr.P_CIRCUIT)
	return err == nil
}

func (a *Agent) startMDNS() error {
	svc := mdns.NewMdnsService(a.host, mdnsServiceTag, &mdnsNotifee{agent: a})
	return svc.Start()
}

type mdnsNotifee struct {
	agent *Agent
}

func (n *mdnsNotifee) HandlePeerFound(pi peer.AddrInfo) {
	if pi.ID == n.agent.host.ID() {
		return
	}
	addrs := make([]string, 0, len(pi.Addrs))
	for _, addr := range pi.Addrs {
		addrs = append(addrs, addr.String())
	}
	n.agent.emit(PeerDiscovered{Peer: pi.ID, Addrs: addrs})

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := n.agent.host.Connect(ctx, pi); err != nil {
		n.agent.emit(DialError{Addr: pi.ID.String(), Reason: err.Error()})
	}
}

// bootstrapDHTLoop retries DHT bootstrap with exponential backoff (1s, 2s,
// 4s, … capped at 60s) until at least one bootstrap peer responds.
func (a *Agent) bootstrapDHTLoop(ctx context.Context) {
	backoff := bootstrapMinBackoff
	for {
		if a.bootstrapOnce(ctx) {
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff):
		}
		backoff *= 2
		if backoff > bootstrapMaxBackoff {
			backoff = bootstrapMaxBackoff
		}
	}
}

// bootstrapOnce attempts one bootstrap round, returning true iff at least
// one bootstrap peer accepted a connection.
func (a *Agent) bootstrapOnce(ctx context.Context) bool {
	if a.dht == nil {
		return true
	}
	if err := a.dht.Bootstrap(ctx); err != nil {
		a.emit(BootstrapUnavailable{})
		return false
	}

	var wg sync.WaitGroup
	var mu sync.Mutex
	connected := false

	for _, pi := range a.bootstrapAddrs {
		wg.Add(1)
		go func(pi peer.AddrInfo) {
			defer wg.Done()
			dialCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			defer cancel()
			if err := a.host.Connect(dialCtx, pi); err == nil {
				mu.Lock()
				connected = true
				mu.Unlock()
			}
		}(pi)
	}
	wg.Wait()

	if !connected {
		a.emit(BootstrapUnavailable{})
	}
	return connected
}

// DiscoverPeers uses DHT routing discovery to locate peers advertising
// under rendezvous, for topics mDNS alone cannot resolve.
func (a *Agent) DiscoverPeers(ctx context.Context, rendezvous string) (<-chan peer.AddrInfo, error) {
	if a.dht == nil {
		return nil, fmt.Errorf("netagent: DHT not enabled")
	}
	routingDiscovery := drouting.NewRoutingDiscovery(a.dht)
	dutil.Advertise(ctx, routingDiscovery, rendezvous)
	return routingDiscovery.FindPeers(ctx, rendezvous)
}
