package roomkey

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chatnode/internal/wire"
)

func TestDeriveIsDeterministic(t *testing.T) {
	k1 := Derive("hunter2", "rust-chat")
	k2 := Derive("hunter2", "rust-chat")
	assert.Equal(t, k1.bytes, k2.bytes)
}

func TestDeriveDiffersByRoomName(t *testing.T) {
	k1 := Derive("hunter2", "room-a")
	k2 := Derive("hunter2", "room-b")
	assert.NotEqual(t, k1.bytes, k2.bytes)
}

func TestDeriveAllowsEmptyPassword(t *testing.T) {
	k := Derive("", "open")
	var zero [keyLen]byte
	assert.NotEqual(t, zero, k.bytes)
}

func TestEncryptDecryptRoundTrip(t *testing.T) {
	k := Derive("pw", "room")
	plaintext := []byte(`{"msg_type":"CHAT","text":"hi"}`)

	ct, err := k.Encrypt(plaintext)
	require.NoError(t, err)

	got, err := k.Decrypt(ct)
	require.NoError(t, err)
	assert.Equal(t, plaintext, got)
}

func TestDecryptWithWrongKeyFails(t *testing.T) {
	k1 := Derive("pw1", "room")
	k2 := Derive("pw2", "room")

	ct, err := k1.Encrypt([]byte("secret"))
	require.NoError(t, err)

	_, err = k2.Decrypt(ct)
	assert.ErrorIs(t, err, ErrAuthFailure)
}

func TestDecryptTooShortFails(t *testing.T) {
	k := Derive("pw", "room")
	_, err := k.Decrypt([]byte("short"))
	assert.ErrorIs(t, err, ErrAuthFailure)
}

func TestVerificationTokenRoundTrip(t *testing.T) {
	k := Derive("pw", "room-x")

	token, err := k.MakeVerificationToken("alice", "ab12", "room-x")
	require.NoError(t, err)
	assert.True(t, k.VerifyToken(token, "room-x"))
	assert.False(t, k.VerifyToken(token, "room-y"))
}

func TestVerificationTokenIsAWireEnvelope(t *testing.T) {
	k := Derive("pw", "room-x")

	token, err := k.MakeVerificationToken("alice", "ab12", "room-x")
	require.NoError(t, err)

	plaintext, err := k.Decrypt(token)
	require.NoError(t, err)

	msg, err := wire.Decode(plaintext)
	require.NoError(t, err)
	assert.Equal(t, wire.JoinVerify, msg.Type)
	assert.Equal(t, "alice", msg.Nick)
	assert.Equal(t, "ab12", msg.Discrim)
	assert.Equal(t, verificationText("room-x"), msg.Text)
}

func TestVerificationTokenRepublishIsIdempotent(t *testing.T) {
	k := Derive("pw", "room-x")

	tokenA, err := k.MakeVerificationToken("alice", "ab12", "room-x")
	require.NoError(t, err)
	tokenB, err := k.MakeVerificationToken("alice", "ab12", "room-x")
	require.NoError(t, err)

	// Fixed nonce and a fixed zero timestamp make every republish byte-identical.
	assert.Equal(t, tokenA, tokenB)
	assert.True(t, k.VerifyToken(tokenA, "room-x"))
	assert.True(t, k.VerifyToken(tokenB, "room-x"))
}

func TestWrongKeyRejectsVerificationToken(t *testing.T) {
	right := Derive("correct", "room")
	wrong := Derive("incorrect", "room")

	token, err := right.MakeVerificationToken("alice", "ab12", "room")
	require.NoError(t, err)
	assert.False(t, wrong.VerifyToken(token, "room"))
}
