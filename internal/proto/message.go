// Package proto defines the wire message format exchanged between the
// message router and sandboxed agents: a performative-tagged, capability
// addressed envelope carrying opaque content bytes.
package proto

import (
	"errors"
	"time"

	"github.com/caxton-io/caxton/internal/caxton"
)

// Performative classifies the intent of a message. The core router treats
// any value outside the v1 core set as opaque and routes it unchanged.
type Performative uint8

const (
	Request Performative = iota + 1
	Inform
	Query
	Propose
	AcceptProposal
	RejectProposal
	Failure
	NotUnderstood
)

func (p Performative) String() string {
	switch p {
	case Request:
		return "Request"
	case Inform:
		return "Inform"
	case Query:
		return "Query"
	case Propose:
		return "Propose"
	case AcceptProposal:
		return "AcceptProposal"
	case RejectProposal:
		return "RejectProposal"
	case Failure:
		return "Failure"
	case NotUnderstood:
		return "NotUnderstood"
	default:
		return "Opaque"
	}
}

// IsCore reports whether p belongs to the v1 core performative set.
func (p Performative) IsCore() bool {
	return p >= Request && p <= NotUnderstood
}

// MaxContentBytes is the wire size ceiling for a message's content alone.
// The encoded header fields come on top of it, so a full encoded message
// can exceed 10 MiB; no limit is applied to the total.
const MaxContentBytes = 10 * 1024 * 1024

// MaxCapabilityLen is the maximum length of a capability string, matching
// the 1-64 char bound on advertised agent capabilities.
const MaxCapabilityLen = 64

// FailureReason is carried as the content of a Failure performative; it is
// not itself part of the wire header, just a payload convention producers
// and consumers of Failure messages agree on.
type FailureReason string

const (
	ReasonNoProvider       FailureReason = "NoProvider"
	ReasonAgentUnavailable FailureReason = "AgentUnavailable"
	ReasonInboxOverflow    FailureReason = "InboxOverflow"
	ReasonTimeout          FailureReason = "Timeout"
	ReasonUnauthorized     FailureReason = "Unauthorized"
	ReasonOutOfOrder       FailureReason = "OutOfOrder"
	ReasonInvalidReply     FailureReason = "InvalidReply"
)

// Message is the in-process representation of the wire format described in
// spec §6: a performative, a sender agent ID, a target capability, a
// conversation ID, this message's own ID, optional reply-to/in-reply-to
// references, an optional deadline, a content-type tag, and opaque content.
type Message struct {
	Performative   Performative
	Sender         caxton.ID
	Capability     string
	ConversationID caxton.ID
	MessageID      caxton.ID
	ReplyTo        *caxton.ID
	InReplyTo      *caxton.ID
	CreatedAt      time.Time
	Deadline       *time.Time
	ContentType    uint8
	Content        []byte
}

// Sentinel validation errors, following the teacher's one-var-per-field
// idiom for message validation.
var (
	ErrMissingSender     = errors.New("proto: message missing sender")
	ErrMissingCapability = errors.New("proto: message missing capability")
	ErrCapabilityTooLong = errors.New("proto: capability exceeds 64 chars")
	ErrMissingMessageID  = errors.New("proto: message missing id")
	ErrContentTooLarge   = errors.New("proto: content exceeds 10MiB")
	ErrDeadlineExpired   = errors.New("proto: deadline already passed")
	ErrInvalidPerformative = errors.New("proto: performative is zero value")
)

// NewMessage allocates a new message with a fresh message ID and a fresh
// conversation ID, stamped with the current time. Callers that want to
// continue an existing conversation should set ConversationID afterward.
func NewMessage(perf Performative, sender caxton.ID, capability string, content []byte) *Message {
	return &Message{
		Performative:   perf,
		Sender:         sender,
		Capability:     capability,
		ConversationID: caxton.NewID(),
		MessageID:      caxton.NewID(),
		CreatedAt:      time.Now(),
		Content:        content,
	}
}

// Validate checks field presence and the size/deadline bounds from spec §4.3
// step 1. now is injected so callers can test deadline handling deterministically.
func (m *Message) Validate(now time.Time) error {
	if m.Performative == 0 {
		return ErrInvalidPerformative
	}
	if m.Sender.IsNil() {
		return ErrMissingSender
	}
	if m.Capability == "" {
		return ErrMissingCapability
	}
	if len(m.Capability) > MaxCapabilityLen {
		return ErrCapabilityTooLong
	}
	if m.MessageID.IsNil() {
		return ErrMissingMessageID
	}
	if len(m.Content) > MaxContentBytes {
		return ErrContentTooLarge
	}
	if m.Deadline != nil && m.Deadline.Before(now) {
		return ErrDeadlineExpired
	}
	return nil
}

// IsExpired reports whether the message's deadline, if any, has passed as
// of now.
func (m *Message) IsExpired(now time.Time) bool {
	return m.Deadline != nil && m.Deadline.Before(now)
}

// CreateReply builds a reply to m: a new message in the same conversation,
// referencing m as InReplyTo, addressed back to sender's capability.
func (m *Message) CreateReply(perf Performative, replyCapability string, content []byte) *Message {
	inReplyTo := m.MessageID
	reply := &Message{
		Performative:   perf,
		Sender:         m.Sender, // overwritten by caller with the replying agent's own ID
		Capability:     replyCapability,
		ConversationID: m.ConversationID,
		MessageID:      caxton.NewID(),
		InReplyTo:      &inReplyTo,
		CreatedAt:      time.Now(),
		Content:        content,
	}
	return reply
}

// Clone returns a deep copy of m so callers (e.g. broadcast fan-out) can
// mutate per-recipient copies without aliasing the shared content slice.
func (m *Message) Clone() *Message {
	clone := *m
	if m.ReplyTo != nil {
		id := *m.ReplyTo
		clone.ReplyTo = &id
	}
	if m.InReplyTo != nil {
		id := *m.InReplyTo
		clone.InReplyTo = &id
	}
	if m.Deadline != nil {
		d := *m.Deadline
		clone.Deadline = &d
	}
	if m.Content != nil {
		clone.Content = append([]byte(nil), m.Content...)
	}
	return &clone
}
