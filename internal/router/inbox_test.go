package router

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/caxton-io/caxton/internal/caxton"
	"github.com/caxton-io/caxton/internal/proto"
)

func newTestMessage() *proto.Message {
	return proto.NewMessage(proto.Inform, caxton.NewID(), "translate", []byte("hi"))
}

func TestInboxPushPopFIFO(t *testing.T) {
	ib := newInbox(4)
	m1, m2 := newTestMessage(), newTestMessage()

	assert.False(t, ib.push(m1, DropNewest))
	assert.False(t, ib.push(m2, DropNewest))
	assert.Equal(t, 2, ib.depth())

	got1, ok := ib.pop()
	require.True(t, ok)
	assert.Equal(t, m1.MessageID, got1.MessageID)

	got2, ok := ib.pop()
	require.True(t, ok)
	assert.Equal(t, m2.MessageID, got2.MessageID)
}

func TestInboxDropNewestWhenFull(t *testing.T) {
	ib := newInbox(1)
	m1, m2 := newTestMessage(), newTestMessage()

	assert.False(t, ib.push(m1, DropNewest))
	assert.True(t, ib.push(m2, DropNewest))

	got, ok := ib.pop()
	require.True(t, ok)
	assert.Equal(t, m1.MessageID, got.MessageID)
	assert.Equal(t, 0, ib.depth())
}

func TestInboxDropOldestWhenFull(t *testing.T) {
	ib := newInbox(1)
	m1, m2 := newTestMessage(), newTestMessage()

	assert.False(t, ib.push(m1, DropOldest))
	assert.True(t, ib.push(m2, DropOldest))

	got, ok := ib.pop()
	require.True(t, ok)
	assert.Equal(t, m2.MessageID, got.MessageID)
}

func TestInboxHighAndLowWaterMarks(t *testing.T) {
	ib := newInbox(10)
	for i := 0; i < 8; i++ {
		ib.push(newTestMessage(), DropNewest)
	}
	assert.True(t, ib.aboveHighWater())
	assert.False(t, ib.belowLowWater())

	for i := 0; i < 4; i++ {
		ib.pop()
	}
	assert.False(t, ib.aboveHighWater())
	assert.True(t, ib.belowLowWater())
}

func TestInboxCloseWakesBlockedPop(t *testing.T) {
	ib := newInbox(4)
	done := make(chan struct{})
	go func() {
		_, ok := ib.pop()
		assert.False(t, ok)
		close(done)
	}()

	ib.close()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("pop did not wake up after close")
	}
}

func TestInboxDefaultCapacityUsedWhenNonPositive(t *testing.T) {
	ib := newInbox(0)
	assert.Equal(t, DefaultInboxCapacity, ib.capacity)
}
