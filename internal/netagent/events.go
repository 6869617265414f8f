package netagent

import "github.com/libp2p/go-libp2p/core/peer"

// Event is implemented by every inbound event the network agent emits
// toward the session agent.
type Event interface {
	isEvent()
}

// Listening reports a new local address to advertise.
type Listening struct {
	Addr string
}

// PeerDiscovered reports a peer found via mDNS or the DHT.
type PeerDiscovered struct {
	Peer  peer.ID
	Addrs []string
}

// ConnectionEstablished reports a new transport-level connection.
type ConnectionEstablished struct {
	Peer    peer.ID
	Relayed bool
}

// ConnectionClosed reports a transport-level disconnection.
type ConnectionClosed struct {
	Peer peer.ID
}

// TopicPeerJoined reports a peer joining a topic's gossip mesh.
type TopicPeerJoined struct {
	Topic string
	Peer  peer.ID
}

// TopicPeerLeft reports a peer leaving a topic's gossip mesh.
type TopicPeerLeft struct {
	Topic string
	Peer  peer.ID
}

// Message reports a verified, deduplicated payload received on a topic.
type Message struct {
	Topic   string
	From    peer.ID
	Payload []byte
}

// DialError reports a non-fatal dial failure.
type DialError struct {
	Addr   string
	Reason string
}

// BootstrapUnavailable reports that every configured DHT bootstrap peer is
// unreachable; the agent continues to serve mDNS peers.
type BootstrapUnavailable struct{}

func (Listening) isEvent()             {}
func (PeerDiscovered) isEvent()        {}
func (ConnectionEstablished) isEvent() {}
func (ConnectionClosed) isEvent()      {}
func (TopicPeerJoined) isEvent()       {}
func (TopicPeerLeft) isEvent()         {}
func (Message) isEvent()               {}
func (DialError) isEvent()             {}
func (BootstrapUnavailable) isEvent()  {}
