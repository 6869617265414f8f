package wire

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	msg := Message{
		Type:      Chat,
		Nick:      "alice",
		Discrim:   "a1b2",
		Timestamp: time.Now().UTC().Truncate(time.Millisecond),
		Text:      "hello, room",
	}

	data, err := msg.Encode()
	require.NoError(t, err)

	got, err := Decode(data)
	require.NoError(t, err)
	assert.Equal(t, msg.Type, got.Type)
	assert.Equal(t, msg.Nick, got.Nick)
	assert.Equal(t, msg.Discrim, got.Discrim)
	assert.Equal(t, msg.Text, got.Text)
	assert.True(t, msg.Timestamp.Equal(got.Timestamp))
}

func TestDecodeIgnoresUnknownFields(t *testing.T) {
	raw := []byte(`{"msg_type":"CHAT","nick":"bob","disc":"beef","ts":"2024-01-01T00:00:00Z","text":"hi","future_field":123}`)

	got, err := Decode(raw)
	require.NoError(t, err)
	assert.Equal(t, "bob", got.Nick)
	assert.Equal(t, "hi", got.Text)
}

func TestSenderKey(t *testing.T) {
	msg := Message{Nick: "carol", Discrim: "0007"}
	assert.Equal(t, "carol#0007", msg.SenderKey())
}

func TestTopicForRoom(t *testing.T) {
	assert.Equal(t, "/chatapp/v1/rooms/general", TopicForRoom("general"))
}

func TestClockSkew(t *testing.T) {
	now := time.Now()
	fresh := Message{Timestamp: now}
	stale := Message{Timestamp: now.Add(-48 * time.Hour)}

	assert.False(t, fresh.ClockSkew(now))
	assert.True(t, stale.ClockSkew(now))
}
