package proto

import (
	"testing"
	"time"

	"github.com/caxton-io/caxton/internal/caxton"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	replyTo := caxton.NewID()
	inReplyTo := caxton.NewID()
	deadline := time.Now().Add(time.Minute).Truncate(time.Millisecond)

	m := &Message{
		Performative:   Request,
		Sender:         caxton.NewID(),
		Capability:     "echo.v1",
		ConversationID: caxton.NewID(),
		MessageID:      caxton.NewID(),
		ReplyTo:        &replyTo,
		InReplyTo:      &inReplyTo,
		Deadline:       &deadline,
		ContentType:    7,
		Content:        []byte("hello"),
	}

	data, err := Encode(m)
	require.NoError(t, err)

	decoded, err := Decode(data)
	require.NoError(t, err)

	require.Equal(t, m.Performative, decoded.Performative)
	require.Equal(t, m.Sender, decoded.Sender)
	require.Equal(t, m.Capability, decoded.Capability)
	require.Equal(t, m.ConversationID, decoded.ConversationID)
	require.Equal(t, m.MessageID, decoded.MessageID)
	require.Equal(t, *m.ReplyTo, *decoded.ReplyTo)
	require.Equal(t, *m.InReplyTo, *decoded.InReplyTo)
	require.Equal(t, m.Deadline.UnixMilli(), decoded.Deadline.UnixMilli())
	require.Equal(t, m.ContentType, decoded.ContentType)
	require.Equal(t, m.Content, decoded.Content)

	// Bitwise-equal on the wire: re-encoding the decoded message reproduces
	// the exact same bytes.
	data2, err := Encode(decoded)
	require.NoError(t, err)
	require.Equal(t, data, data2)
}

func TestEncodeDecodeNoOptionalFields(t *testing.T) {
	m := NewMessage(Inform, caxton.NewID(), "log.write", []byte("x"))
	data, err := Encode(m)
	require.NoError(t, err)

	decoded, err := Decode(data)
	require.NoError(t, err)
	require.Nil(t, decoded.ReplyTo)
	require.Nil(t, decoded.InReplyTo)
	require.Nil(t, decoded.Deadline)
}

func TestEncodeRejectsOversizedContent(t *testing.T) {
	m := NewMessage(Inform, caxton.NewID(), "x", make([]byte, MaxContentBytes+1))
	_, err := Encode(m)
	require.ErrorIs(t, err, ErrContentTooLarge)
}

func TestEncodeRejectsOversizedCapability(t *testing.T) {
	m := NewMessage(Inform, caxton.NewID(), string(make([]byte, MaxCapabilityLen+1)), nil)
	_, err := Encode(m)
	require.ErrorIs(t, err, ErrCapabilityTooLong)
}

// TestWireRoundTripProperty is the "serialize then deserialize yields a
// bitwise-equal message" law from spec §8, generalized over random inputs.
func TestWireRoundTripProperty(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		perf := Performative(rapid.IntRange(1, 8).Draw(rt, "performative"))
		capability := rapid.StringMatching(`[a-z]{1,20}`).Draw(rt, "capability")
		content := []byte(rapid.StringN(0, 256, -1).Draw(rt, "content"))
		hasDeadline := rapid.Bool().Draw(rt, "hasDeadline")

		m := NewMessage(perf, caxton.NewID(), capability, content)
		m.ContentType = uint8(rapid.IntRange(0, 255).Draw(rt, "contentType"))
		if hasDeadline {
			d := time.Now().Add(time.Duration(rapid.IntRange(1, 1_000_000).Draw(rt, "deadlineMs")) * time.Millisecond).Truncate(time.Millisecond)
			m.Deadline = &d
		}

		data, err := Encode(m)
		if err != nil {
			rt.Fatalf("encode: %v", err)
		}
		decoded, err := Decode(data)
		if err != nil {
			rt.Fatalf("decode: %v", err)
		}
		data2, err := Encode(decoded)
		if err != nil {
			rt.Fatalf("re-encode: %v", err)
		}
		require.Equal(rt, data, data2)
	})
}

func TestValidate(t *testing.T) {
	now := time.Now()
	m := NewMessage(Request, caxton.NewID(), "echo.v1", []byte("hi"))
	require.NoError(t, m.Validate(now))

	missingSender := NewMessage(Request, caxton.Nil, "echo.v1", nil)
	require.ErrorIs(t, missingSender.Validate(now), ErrMissingSender)

	missingCapability := NewMessage(Request, caxton.NewID(), "", nil)
	require.ErrorIs(t, missingCapability.Validate(now), ErrMissingCapability)

	expired := NewMessage(Request, caxton.NewID(), "echo.v1", nil)
	past := now.Add(-time.Minute)
	expired.Deadline = &past
	require.ErrorIs(t, expired.Validate(now), ErrDeadlineExpired)

	tooLarge := NewMessage(Request, caxton.NewID(), "echo.v1", make([]byte, MaxContentBytes+1))
	require.ErrorIs(t, tooLarge.Validate(now), ErrContentTooLarge)
}

func TestCreateReply(t *testing.T) {
	original := NewMessage(Request, caxton.NewID(), "echo.v1", []byte("hi"))
	reply := original.CreateReply(Inform, "echo.v1.reply", []byte("hi"))
	require.Equal(t, original.ConversationID, reply.ConversationID)
	require.NotNil(t, reply.InReplyTo)
	require.Equal(t, original.MessageID, *reply.InReplyTo)
	require.NotEqual(t, original.MessageID, reply.MessageID)
}

func TestClone(t *testing.T) {
	replyTo := caxton.NewID()
	m := NewMessage(Request, caxton.NewID(), "echo.v1", []byte("hi"))
	m.ReplyTo = &replyTo

	clone := m.Clone()
	require.Equal(t, m.MessageID, clone.MessageID)
	require.Equal(t, *m.ReplyTo, *clone.ReplyTo)

	// mutating the clone's content must not alias the original
	clone.Content[0] = 'X'
	require.NotEqual(t, m.Content[0], clone.Content[0])
}
