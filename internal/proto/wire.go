package proto

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"time"

	"github.com/caxton-io/caxton/internal/caxton"
	"github.com/caxton-io/caxton/internal/poolutil"
)

// Wire layout, in order (spec §6):
//
//	performative      u8
//	sender            [16]byte
//	capability        u16 length prefix + UTF-8 bytes
//	conversation id   [16]byte
//	message id        [16]byte
//	reply-to          1 byte present flag + (16 bytes if present)
//	in-reply-to       1 byte present flag + (16 bytes if present)
//	deadline          i64, ms since epoch, -1 = none
//	content-type tag  u8
//	content length    u32
//	content           []byte
//
// No third-party schema-based codec (protobuf, msgpack, flatbuffers) maps
// onto this ad hoc layout without inventing a schema the spec never
// specifies, so this one component is deliberately hand-rolled on
// encoding/binary — see DESIGN.md.

const noDeadline int64 = -1

// Encode serializes m into the wire format. It returns ErrContentTooLarge
// if the encoded message would exceed MaxContentBytes of content.
func Encode(m *Message) ([]byte, error) {
	if len(m.Content) > MaxContentBytes {
		return nil, ErrContentTooLarge
	}
	if len(m.Capability) > MaxCapabilityLen {
		return nil, ErrCapabilityTooLong
	}

	buf := poolutil.GlobalByteBuffers.Get()
	defer poolutil.GlobalByteBuffers.Put(buf)
	buf.WriteByte(byte(m.Performative))

	senderBytes := m.Sender.Bytes()
	buf.Write(senderBytes[:])

	capBytes := []byte(m.Capability)
	if err := binary.Write(buf, binary.BigEndian, uint16(len(capBytes))); err != nil {
		return nil, err
	}
	buf.Write(capBytes)

	convBytes := m.ConversationID.Bytes()
	buf.Write(convBytes[:])

	msgIDBytes := m.MessageID.Bytes()
	buf.Write(msgIDBytes[:])

	writeOptionalID(buf, m.ReplyTo)
	writeOptionalID(buf, m.InReplyTo)

	deadline := noDeadline
	if m.Deadline != nil {
		deadline = m.Deadline.UnixMilli()
	}
	if err := binary.Write(buf, binary.BigEndian, deadline); err != nil {
		return nil, err
	}

	buf.WriteByte(m.ContentType)

	if err := binary.Write(buf, binary.BigEndian, uint32(len(m.Content))); err != nil {
		return nil, err
	}
	buf.Write(m.Content)

	out := make([]byte, buf.Len())
	copy(out, buf.Bytes())
	return out, nil
}

func writeOptionalID(buf *bytes.Buffer, id *caxton.ID) {
	if id == nil {
		buf.WriteByte(0)
		return
	}
	buf.WriteByte(1)
	b := id.Bytes()
	buf.Write(b[:])
}

// Decode parses the wire format produced by Encode. It does not itself run
// Validate — callers apply the router's validation step separately so
// decode failures (malformed bytes) and validation failures (well-formed
// but semantically invalid) stay distinguishable.
func Decode(data []byte) (*Message, error) {
	r := bytes.NewReader(data)
	m := &Message{}

	perfByte, err := r.ReadByte()
	if err != nil {
		return nil, fmt.Errorf("proto: read performative: %w", err)
	}
	m.Performative = Performative(perfByte)

	var sender [16]byte
	if _, err := io.ReadFull(r, sender[:]); err != nil {
		return nil, fmt.Errorf("proto: read sender: %w", err)
	}
	m.Sender = caxton.IDFromBytes(sender)

	var capLen uint16
	if err := binary.Read(r, binary.BigEndian, &capLen); err != nil {
		return nil, fmt.Errorf("proto: read capability length: %w", err)
	}
	if int(capLen) > MaxCapabilityLen {
		return nil, ErrCapabilityTooLong
	}
	capBytes := make([]byte, capLen)
	if _, err := io.ReadFull(r, capBytes); err != nil {
		return nil, fmt.Errorf("proto: read capability: %w", err)
	}
	m.Capability = string(capBytes)

	var conv [16]byte
	if _, err := io.ReadFull(r, conv[:]); err != nil {
		return nil, fmt.Errorf("proto: read conversation id: %w", err)
	}
	m.ConversationID = caxton.IDFromBytes(conv)

	var msgID [16]byte
	if _, err := io.ReadFull(r, msgID[:]); err != nil {
		return nil, fmt.Errorf("proto: read message id: %w", err)
	}
	m.MessageID = caxton.IDFromBytes(msgID)

	replyTo, err := readOptionalID(r)
	if err != nil {
		return nil, fmt.Errorf("proto: read reply-to: %w", err)
	}
	m.ReplyTo = replyTo

	inReplyTo, err := readOptionalID(r)
	if err != nil {
		return nil, fmt.Errorf("proto: read in-reply-to: %w", err)
	}
	m.InReplyTo = inReplyTo

	var deadline int64
	if err := binary.Read(r, binary.BigEndian, &deadline); err != nil {
		return nil, fmt.Errorf("proto: read deadline: %w", err)
	}
	if deadline != noDeadline {
		t := time.UnixMilli(deadline)
		m.Deadline = &t
	}

	contentType, err := r.ReadByte()
	if err != nil {
		return nil, fmt.Errorf("proto: read content-type: %w", err)
	}
	m.ContentType = contentType

	var contentLen uint32
	if err := binary.Read(r, binary.BigEndian, &contentLen); err != nil {
		return nil, fmt.Errorf("proto: read content length: %w", err)
	}
	if contentLen > MaxContentBytes {
		return nil, ErrContentTooLarge
	}
	content := make([]byte, contentLen)
	if _, err := io.ReadFull(r, content); err != nil {
		return nil, fmt.Errorf("proto: read content: %w", err)
	}
	m.Content = content
	// CreatedAt is not part of the wire format (spec §6); it is a local
	// bookkeeping field the conversation table stamps on receipt, not a
	// transmitted value. Decode leaves it zero.

	return m, nil
}

func readOptionalID(r *bytes.Reader) (*caxton.ID, error) {
	present, err := r.ReadByte()
	if err != nil {
		return nil, err
	}
	if present == 0 {
		return nil, nil
	}
	var b [16]byte
	if _, err := io.ReadFull(r, b[:]); err != nil {
		return nil, err
	}
	id := caxton.IDFromBytes(b)
	return &id, nil
}
