// Package identity owns the node's long-lived Ed25519 key pair, its
// self-certifying Peer ID, and the nickname/discriminator display pair.
package identity

import (
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"fmt"

	"github.com/libp2p/go-libp2p/core/crypto"
	"github.com/libp2p/go-libp2p/core/peer"
)

// Identity is generated at most once per configuration file; subsequent
// starts load it.
type Identity struct {
	PrivKey       crypto.PrivKey
	PeerID        peer.ID
	Nickname      string
	Discriminator string
}

// Generate creates a fresh Ed25519 key pair and derives the Peer ID and
// discriminator from it. Nickname is left for the caller to assign.
func Generate() (*Identity, error) {
	priv, pub, err := crypto.GenerateEd25519Key(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("identity: generate ed25519 key: %w", err)
	}
	return fromKeyPair(priv, pub)
}

// FromPrivateKeyBase64 reconstructs an Identity from a config-persisted
// base64-encoded protobuf-marshalled private key.
func FromPrivateKeyBase64(b64 string) (*Identity, error) {
	raw, err := base64.StdEncoding.DecodeString(b64)
	if err != nil {
		return nil, fmt.Errorf("identity: decode private key base64: %w", err)
	}
	priv, err := crypto.UnmarshalPrivateKey(raw)
	if err != nil {
		return nil, fmt.Errorf("identity: unmarshal private key: %w", err)
	}
	return fromKeyPair(priv, priv.GetPublic())
}

func fromKeyPair(priv crypto.PrivKey, pub crypto.PubKey) (*Identity, error) {
	pid, err := peer.IDFromPublicKey(pub)
	if err != nil {
		return nil, fmt.Errorf("identity: derive peer id: %w", err)
	}
	return &Identity{
		PrivKey:       priv,
		PeerID:        pid,
		Discriminator: Discriminator(pid),
	}, nil
}

// PrivateKeyBase64 serializes the private key to the config-persisted form.
func (id *Identity) PrivateKeyBase64() (string, error) {
	raw, err := crypto.MarshalPrivateKey(id.PrivKey)
	if err != nil {
		return "", fmt.Errorf("identity: marshal private key: %w", err)
	}
	return base64.StdEncoding.EncodeToString(raw), nil
}

// DisplayName returns the formatted "Nick#disc" name shown next to messages.
func (id *Identity) DisplayName() string {
	return fmt.Sprintf("%s#%s", id.Nickname, id.Discriminator)
}

// Discriminator returns the first 4 lowercase hex characters of the Peer
// ID's own byte encoding (multihash bytes, not the raw public key bytes).
func Discriminator(pid peer.ID) string {
	return hex.EncodeToString([]byte(pid))[:4]
}
