package router

import (
	"sync"

	"github.com/caxton-io/caxton/internal/proto"
)

// OverflowPolicy decides what happens when an agent's inbox is full.
type OverflowPolicy string

const (
	DropNewest        OverflowPolicy = "drop_newest"
	DropOldest        OverflowPolicy = "drop_oldest"
	BackpressureSender OverflowPolicy = "backpressure_sender"
)

// DefaultInboxCapacity is the bounded inbox size when an agent is
// registered without an explicit override.
const DefaultInboxCapacity = 256

// DefaultHighWaterMark and DefaultLowWaterMark are fractions of inbox
// capacity. Under BackpressureSender the router refuses a new message
// with a Backpressure error while depth is at or above the high mark,
// and admits again as soon as depth is back under it; the low mark does
// not gate admission.
const (
	DefaultHighWaterMark = 0.8
	DefaultLowWaterMark  = 0.5
)

// inbox is a bounded, mutex-protected message queue for one agent. A
// plain slice is used instead of a Go channel so the overflow policies
// (drop-oldest in particular) can evict the head of the queue under the
// same lock as the push, without a second goroutine.
type inbox struct {
	mu       sync.Mutex
	cond     *sync.Cond
	messages []*proto.Message
	capacity int
	closed   bool
}

func newInbox(capacity int) *inbox {
	if capacity <= 0 {
		capacity = DefaultInboxCapacity
	}
	ib := &inbox{capacity: capacity}
	ib.cond = sync.NewCond(&ib.mu)
	return ib
}

// push enqueues msg under policy. It reports dropped=true if the inbox
// was full and a message was dropped (msg itself under DropNewest, the
// oldest queued message under DropOldest) so the caller can emit the
// corresponding Failure/event.
func (ib *inbox) push(msg *proto.Message, policy OverflowPolicy) (dropped bool) {
	ib.mu.Lock()
	defer ib.mu.Unlock()

	if len(ib.messages) < ib.capacity {
		ib.messages = append(ib.messages, msg)
		ib.cond.Signal()
		return false
	}

	switch policy {
	case DropOldest:
		ib.messages = append(ib.messages[1:], msg)
		ib.cond.Signal()
		return true
	case DropNewest:
		return true
	default: // BackpressureSender: appends past capacity; the router's high-water check refuses admission before the inbox fills
		ib.messages = append(ib.messages, msg)
		ib.cond.Signal()
		return false
	}
}

// depth returns the current queue length.
func (ib *inbox) depth() int {
	ib.mu.Lock()
	defer ib.mu.Unlock()
	return len(ib.messages)
}

// aboveHighWater reports whether depth/capacity has reached or exceeded
// the high water mark.
func (ib *inbox) aboveHighWater() bool {
	ib.mu.Lock()
	defer ib.mu.Unlock()
	return float64(len(ib.messages)) >= float64(ib.capacity)*DefaultHighWaterMark
}

// belowLowWater reports whether depth/capacity is at or under the low
// water mark. The router's admission check does not consult it.
func (ib *inbox) belowLowWater() bool {
	ib.mu.Lock()
	defer ib.mu.Unlock()
	return float64(len(ib.messages)) <= float64(ib.capacity)*DefaultLowWaterMark
}

// pop blocks until a message is available or the inbox is closed,
// returning ok=false in the latter case.
func (ib *inbox) pop() (*proto.Message, bool) {
	ib.mu.Lock()
	defer ib.mu.Unlock()

	for len(ib.messages) == 0 && !ib.closed {
		ib.cond.Wait()
	}
	if len(ib.messages) == 0 {
		return nil, false
	}
	msg := ib.messages[0]
	ib.messages = ib.messages[1:]
	return msg, true
}

// close wakes any blocked pop so the agent's dispatch worker can exit.
func (ib *inbox) close() {
	ib.mu.Lock()
	ib.closed = true
	ib.mu.Unlock()
	ib.cond.Broadcast()
}
