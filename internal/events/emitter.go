// Package events implements the structured event/metric stream described in
// spec §4.5: every state transition, delivery outcome, and resource event
// flows through an Emitter to external observability consumers without ever
// blocking the subsystem that produced it.
//
// The bounded-buffer-with-drop-oldest delivery is grounded on the teacher's
// generic tunable channel (internal/channel/tunable.go): here the buffer is
// fixed-size rather than auto-tuned, because an event stream's job is to
// never apply backpressure to its producer, not to size itself to producer
// load.
package events

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/caxton-io/caxton/internal/caxton"
	"go.uber.org/zap"
)

// Type tags the category of an event record.
type Type string

const (
	TypeStateTransition          Type = "state_transition"
	TypeMessageSent               Type = "message_sent"
	TypeMessageReceived            Type = "message_received"
	TypeMessageDelivered           Type = "message_delivered"
	TypeMessageFailed              Type = "message_failed"
	TypeResourceThreshold           Type = "resource_threshold"
	TypeMemoryWrite                 Type = "memory_write"
	TypeCapabilityRegistered        Type = "capability_registered"
	TypeCapabilityDeregistered      Type = "capability_deregistered"
	TypeSandboxTrap                 Type = "sandbox_trap"
	TypeHotReloadPhase               Type = "hot_reload_phase"
	TypeConversationResumedStale     Type = "conversation_resumed_stale"
)

// Record is a self-describing event: a type tag, a timestamp, optional
// agent/conversation identifiers, a correlation ID (the message or agent ID
// this event is about), a causation ID (the event/operation that triggered
// it), and a free-form payload.
type Record struct {
	Type           Type
	Timestamp      time.Time
	AgentID        *caxton.ID
	ConversationID *caxton.ID
	Correlation    caxton.ID
	Causation      caxton.ID
	Payload        map[string]any
}

// DefaultBufferSize is the per-subscriber channel capacity.
const DefaultBufferSize = 1024

type subscriber struct {
	ch      chan Record
	dropped atomic.Int64
}

// Emitter fans out Records to any number of subscribers. Emit never blocks:
// a subscriber that falls behind has its oldest buffered record dropped to
// make room, and its dropped-count counter is incremented.
type Emitter struct {
	mu          sync.RWMutex
	subscribers map[string]*subscriber
	bufferSize  int
	logger      *zap.Logger
}

// NewEmitter constructs an Emitter with the given per-subscriber buffer
// size. A zero or negative size falls back to DefaultBufferSize.
func NewEmitter(bufferSize int, logger *zap.Logger) *Emitter {
	if bufferSize <= 0 {
		bufferSize = DefaultBufferSize
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Emitter{
		subscribers: make(map[string]*subscriber),
		bufferSize:  bufferSize,
		logger:      logger.With(zap.String("component", "events.emitter")),
	}
}

// Subscribe registers a new consumer under id and returns a channel of
// events. Subscribing twice under the same id replaces the previous
// channel.
func (e *Emitter) Subscribe(id string) <-chan Record {
	e.mu.Lock()
	defer e.mu.Unlock()
	sub := &subscriber{ch: make(chan Record, e.bufferSize)}
	e.subscribers[id] = sub
	return sub.ch
}

// Unsubscribe removes and closes the consumer's channel.
func (e *Emitter) Unsubscribe(id string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if sub, ok := e.subscribers[id]; ok {
		close(sub.ch)
		delete(e.subscribers, id)
	}
}

// Emit broadcasts rec to every subscriber. It stamps Timestamp if the
// caller left it zero. Never blocks the caller regardless of how slow any
// subscriber is.
func (e *Emitter) Emit(rec Record) {
	if rec.Timestamp.IsZero() {
		rec.Timestamp = time.Now()
	}

	e.mu.RLock()
	defer e.mu.RUnlock()

	for id, sub := range e.subscribers {
		trySend(sub, rec)
		_ = id
	}
}

func trySend(sub *subscriber, rec Record) {
	select {
	case sub.ch <- rec:
		return
	default:
	}

	// Buffer full: drop the oldest record to make room, matching the
	// configured drop-oldest policy, then retry once.
	select {
	case <-sub.ch:
		sub.dropped.Add(1)
	default:
	}

	select {
	case sub.ch <- rec:
	default:
		sub.dropped.Add(1)
	}
}

// DroppedCount returns how many records have been dropped for subscriber
// id since it was created.
func (e *Emitter) DroppedCount(id string) int64 {
	e.mu.RLock()
	defer e.mu.RUnlock()
	sub, ok := e.subscribers[id]
	if !ok {
		return 0
	}
	return sub.dropped.Load()
}

// SubscriberCount reports how many consumers are currently registered.
func (e *Emitter) SubscriberCount() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.subscribers)
}
