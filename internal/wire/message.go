// Package wire defines the plaintext payload carried inside every encrypted
// room message, and the constants that name a room's GossipSub topic.
package wire

import (
	"encoding/json"
	"fmt"
	"time"
)

// MsgType distinguishes a normal chat line from a password-verification probe.
type MsgType string

const (
	// Chat is a normal room message.
	Chat MsgType = "CHAT"
	// JoinVerify is a verification-token envelope proving room-key possession.
	JoinVerify MsgType = "JOIN_VERIFY"
)

// TopicPrefix is the fixed prefix every room topic string is built from.
const TopicPrefix = "/chatapp/v1/rooms/"

// TopicForRoom returns the byte-exact, case-sensitive GossipSub topic for a room name.
func TopicForRoom(roomName string) string {
	return TopicPrefix + roomName
}

// MaxPayloadBytes is the largest wire payload the network agent will accept
// at ingress, before decryption is even attempted.
const MaxPayloadBytes = 64 * 1024

// MaxTextRunes bounds SendChat's text argument in Unicode code points.
const MaxTextRunes = 2048

// Message is the JSON plaintext, self-describing so unknown future fields
// are ignored on decode. Field order is irrelevant.
type Message struct {
	Type      MsgType   `json:"msg_type"`
	Nick      string    `json:"nick"`
	Discrim   string    `json:"disc"`
	Timestamp time.Time `json:"ts"`
	Text      string    `json:"text"`
}

// Encode serializes the message to its self-describing wire form.
func (m Message) Encode() ([]byte, error) {
	b, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("encode wire message: %w", err)
	}
	return b, nil
}

// Decode parses a plaintext payload into a Message. Unknown fields are
// silently ignored by encoding/json; missing fields decode to zero values.
func Decode(data []byte) (Message, error) {
	var m Message
	if err := json.Unmarshal(data, &m); err != nil {
		return Message{}, fmt.Errorf("decode wire message: %w", err)
	}
	return m, nil
}

// SenderKey returns a message's sender as "nick#disc". The session roster
// is keyed by Peer ID, not by this string.
func (m Message) SenderKey() string {
	return fmt.Sprintf("%s#%s", m.Nick, m.Discrim)
}

// ClockSkew reports whether the message's timestamp lies outside a ±1 day
// window of the local clock. Still displayed and logged, only flagged.
func (m Message) ClockSkew(now time.Time) bool {
	delta := now.Sub(m.Timestamp)
	if delta < 0 {
		delta = -delta
	}
	return delta > 24*time.Hour
}
