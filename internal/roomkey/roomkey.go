// Package roomkey implements the password-based room key derivation and the
// per-message AEAD used to encrypt and authenticate everything published on
// a room's topic.
package roomkey

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/argon2"

	"chatnode/internal/wire"
)

const (
	nonceLen = 12
	keyLen   = 32
	saltLen  = 16
	tagLen   = 16

	// Argon2id parameters. These MUST be identical on every node — a
	// mismatch derives different keys for the same password and looks,
	// from the protocol's point of view, exactly like a wrong password.
	argonMemoryKiB  = 19 * 1024
	argonIterations = 2
	argonThreads    = 1
)

// verifyMagic is the fixed plaintext prefix of a verification token.
const verifyMagic = "chatapp-v1-verification::"

// ErrAuthFailure is returned by Decrypt on tag-verification failure. It
// covers both a wrong password and a corrupted payload indistinguishably —
// callers must discard silently, never surface it as a specific reason.
var ErrAuthFailure = errors.New("roomkey: authentication failed")

// Key is a symmetric AES-256-GCM key derived from a room password.
type Key struct {
	bytes [keyLen]byte
}

// Derive runs Argon2id over password using a salt built from roomName
// (first 16 bytes, zero-padded or truncated). An empty password is valid
// input and yields a well-defined, non-zero key.
func Derive(password, roomName string) Key {
	var salt [saltLen]byte
	copy(salt[:], roomName)

	out := argon2.IDKey([]byte(password), salt[:], argonIterations, argonMemoryKiB, argonThreads, keyLen)

	var k Key
	copy(k.bytes[:], out)
	return k
}

func (k Key) cipher() (cipher.AEAD, error) {
	block, err := aes.NewCipher(k.bytes[:])
	if err != nil {
		return nil, fmt.Errorf("roomkey: new cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("roomkey: new gcm: %w", err)
	}
	return gcm, nil
}

// encryptWithNonce seals plaintext under nonce and returns nonce ‖ ciphertext ‖ tag.
func (k Key) encryptWithNonce(nonce, plaintext []byte) ([]byte, error) {
	gcm, err := k.cipher()
	if err != nil {
		return nil, err
	}
	sealed := gcm.Seal(nil, nonce, plaintext, nil)
	out := make([]byte, 0, len(nonce)+len(sealed))
	out = append(out, nonce...)
	out = append(out, sealed...)
	return out, nil
}

// Encrypt draws a fresh random 12-byte nonce from the OS CSPRNG and seals
// plaintext, returning nonce ‖ ciphertext ‖ tag.
func (k Key) Encrypt(plaintext []byte) ([]byte, error) {
	nonce := make([]byte, nonceLen)
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("roomkey: read nonce: %w", err)
	}
	return k.encryptWithNonce(nonce, plaintext)
}

// Decrypt splits data into nonce | ciphertext | tag by fixed offsets and
// opens it. On any failure it returns ErrAuthFailure, which the caller must
// discard silently.
func (k Key) Decrypt(data []byte) ([]byte, error) {
	if len(data) < nonceLen+tagLen {
		return nil, ErrAuthFailure
	}
	gcm, err := k.cipher()
	if err != nil {
		return nil, err
	}
	nonce := data[:nonceLen]
	ciphertext := data[nonceLen:]
	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, ErrAuthFailure
	}
	return plaintext, nil
}

// verificationText returns the fixed probe string carried in a JOIN_VERIFY
// message's Text field for a room name.
func verificationText(roomName string) string {
	return verifyMagic + roomName
}

// MakeVerificationToken builds a JOIN_VERIFY wire.Message attributed to
// nick/discrim and seals its JSON encoding under a fixed all-zero 12-byte
// nonce. The token is not secret — its only purpose is proving key
// possession — so nonce reuse across republishes is deliberate and safe.
// The timestamp is fixed at zero, not wall-clock time, so that every
// republish for the same room and identity is byte-identical. Never reuse
// this fixed-nonce pattern for chat payloads.
func (k Key) MakeVerificationToken(nick, discrim, roomName string) ([]byte, error) {
	msg := wire.Message{
		Type:    wire.JoinVerify,
		Nick:    nick,
		Discrim: discrim,
		Text:    verificationText(roomName),
	}
	plaintext, err := msg.Encode()
	if err != nil {
		return nil, fmt.Errorf("roomkey: encode verification token: %w", err)
	}
	var zeroNonce [nonceLen]byte
	return k.encryptWithNonce(zeroNonce[:], plaintext)
}

// VerifyToken reports whether token decrypts under k to a JOIN_VERIFY
// message carrying the expected verification text for roomName.
func (k Key) VerifyToken(token []byte, roomName string) bool {
	plaintext, err := k.Decrypt(token)
	if err != nil {
		return false
	}
	msg, err := wire.Decode(plaintext)
	if err != nil {
		return false
	}
	return msg.Type == wire.JoinVerify && msg.Text == verificationText(roomName)
}
