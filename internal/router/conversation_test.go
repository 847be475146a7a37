package router

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/caxton-io/caxton/internal/caxton"
)

func TestConversationTrackerTouchNewConversationAccepted(t *testing.T) {
	tr := NewConversationTracker(time.Minute)
	conv := caxton.NewID()
	assert.Equal(t, OutcomeAccepted, tr.Touch(conv, time.Now()))
	assert.Equal(t, 1, tr.Count())
}

func TestConversationTrackerSequenceInOrderAccepted(t *testing.T) {
	tr := NewConversationTracker(time.Minute)
	conv, sender, receiver := caxton.NewID(), caxton.NewID(), caxton.NewID()
	now := time.Now()

	s1 := tr.NextSequence(conv, sender, receiver)
	assert.Equal(t, OutcomeAccepted, tr.CheckDelivery(conv, sender, receiver, s1, now))

	s2 := tr.NextSequence(conv, sender, receiver)
	assert.Equal(t, OutcomeAccepted, tr.CheckDelivery(conv, sender, receiver, s2, now))
	assert.Greater(t, s2, s1)
}

func TestConversationTrackerOutOfOrderDroppedAfterLaterCommit(t *testing.T) {
	tr := NewConversationTracker(time.Minute)
	conv, sender, receiver := caxton.NewID(), caxton.NewID(), caxton.NewID()
	now := time.Now()

	s1 := tr.NextSequence(conv, sender, receiver)
	s2 := tr.NextSequence(conv, sender, receiver)

	// s2 lands first (e.g. a smaller message overtook a slower one).
	assert.Equal(t, OutcomeAccepted, tr.CheckDelivery(conv, sender, receiver, s2, now))
	// s1 then arrives late: must be rejected as OutOfOrder.
	assert.Equal(t, OutcomeOutOfOrder, tr.CheckDelivery(conv, sender, receiver, s1, now))
}

func TestConversationTrackerDistinctPairsAreIndependent(t *testing.T) {
	tr := NewConversationTracker(time.Minute)
	conv := caxton.NewID()
	senderA, senderB := caxton.NewID(), caxton.NewID()
	receiver := caxton.NewID()
	now := time.Now()

	sA := tr.NextSequence(conv, senderA, receiver)
	sB := tr.NextSequence(conv, senderB, receiver)

	assert.Equal(t, OutcomeAccepted, tr.CheckDelivery(conv, senderA, receiver, sA, now))
	assert.Equal(t, OutcomeAccepted, tr.CheckDelivery(conv, senderB, receiver, sB, now))
}

func TestConversationTrackerResumedStaleAfterTTL(t *testing.T) {
	tr := NewConversationTracker(time.Minute)
	conv := caxton.NewID()
	start := time.Now()

	assert.Equal(t, OutcomeAccepted, tr.Touch(conv, start))
	later := start.Add(2 * time.Minute)
	assert.Equal(t, OutcomeResumedStale, tr.Touch(conv, later))
}

func TestConversationTrackerSweepEvictsIdleConversations(t *testing.T) {
	tr := NewConversationTracker(time.Minute)
	conv := caxton.NewID()
	start := time.Now()
	tr.Touch(conv, start)

	evicted := tr.Sweep(start.Add(2 * time.Minute))
	assert.Equal(t, 1, evicted)
	assert.Equal(t, 0, tr.Count())
}

func TestConversationTrackerObserveThenHasObserved(t *testing.T) {
	tr := NewConversationTracker(time.Minute)
	conv, msg := caxton.NewID(), caxton.NewID()
	now := time.Now()

	assert.False(t, tr.HasObserved(conv, msg))
	tr.Observe(conv, msg, now)
	assert.True(t, tr.HasObserved(conv, msg))
}

func TestConversationTrackerHasObservedFalseForUnknownConversation(t *testing.T) {
	tr := NewConversationTracker(time.Minute)
	assert.False(t, tr.HasObserved(caxton.NewID(), caxton.NewID()))
}

func TestConversationTrackerHasObservedFalseForCrossConversationMessage(t *testing.T) {
	tr := NewConversationTracker(time.Minute)
	convA, convB := caxton.NewID(), caxton.NewID()
	msg := caxton.NewID()
	now := time.Now()

	tr.Observe(convA, msg, now)
	assert.True(t, tr.HasObserved(convA, msg))
	assert.False(t, tr.HasObserved(convB, msg))
}

func TestConversationTrackerObserveEvictsOldestBeyondCapacity(t *testing.T) {
	tr := NewConversationTracker(time.Minute)
	conv := caxton.NewID()
	now := time.Now()

	first := caxton.NewID()
	tr.Observe(conv, first, now)
	for i := 0; i < DefaultConversationLogCapacity; i++ {
		tr.Observe(conv, caxton.NewID(), now)
	}

	assert.False(t, tr.HasObserved(conv, first), "oldest entry should be evicted once the bounded log overflows")
}
