package roomcode

import (
	"strings"
	"testing"

	"github.com/mr-tron/base58"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func samplePeerID() []byte {
	id := make([]byte, peerIDLen)
	for i := range id {
		id[i] = byte(i + 1)
	}
	return id
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	c := Code{
		RoomName: "rust-chat",
		PeerID:   samplePeerID(),
		Addr:     "/ip4/192.168.1.5/tcp/4001",
	}

	code, err := Encode(c)
	require.NoError(t, err)

	got, err := Decode(code)
	require.NoError(t, err)
	assert.Equal(t, c, got)
}

func TestDecodeRejectsBitFlips(t *testing.T) {
	c := Code{RoomName: "room", PeerID: samplePeerID(), Addr: "/ip4/10.0.0.1/tcp/1"}
	code, err := Encode(c)
	require.NoError(t, err)

	alphabet := "123456789ABCDEFGHJKLMNPQRSTUVWXYZabcdefghijkmnopqrstuvwxyz"
	for i := range code {
		for _, r := range alphabet {
			if byte(r) == code[i] {
				continue
			}
			mutated := code[:i] + string(r) + code[i+1:]
			_, err := Decode(mutated)
			assert.Error(t, err, "mutating char %d to %q should be rejected", i, r)
		}
	}
}

func TestDecodeRejectsUnknownVersion(t *testing.T) {
	name := []byte("room")
	addr := []byte("/ip4/10.0.0.1/tcp/1")

	buf := make([]byte, 0)
	buf = append(buf, 99) // unknown version, valid otherwise
	buf = append(buf, byte(len(name)))
	buf = append(buf, name...)
	buf = append(buf, samplePeerID()...)
	buf = append(buf, byte(len(addr)))
	buf = append(buf, addr...)
	buf = append(buf, checksum(buf))

	code := base58.Encode(buf)

	_, err := Decode(code)
	require.Error(t, err)
	var invalid *InvalidCodeError
	require.ErrorAs(t, err, &invalid)
	assert.Equal(t, "version", invalid.Field)
}

func TestEncodeRejectsEmptyName(t *testing.T) {
	_, err := Encode(Code{RoomName: "", PeerID: samplePeerID(), Addr: "a"})
	assert.Error(t, err)
}

func TestEncodeRejectsOverlongName(t *testing.T) {
	_, err := Encode(Code{RoomName: strings.Repeat("x", 65), PeerID: samplePeerID(), Addr: "a"})
	assert.Error(t, err)
}

func TestDecodeGarbageFails(t *testing.T) {
	_, err := Decode("not-a-real-code!!")
	assert.Error(t, err)
}

func TestDecodeTooShortFails(t *testing.T) {
	_, err := Decode("abc")
	assert.Error(t, err)
}
