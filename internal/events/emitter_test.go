package events

import (
	"testing"

	"github.com/caxton-io/caxton/internal/caxton"
	"github.com/stretchr/testify/require"
)

func TestEmitDeliversToSubscriber(t *testing.T) {
	e := NewEmitter(4, nil)
	ch := e.Subscribe("consumer-a")

	e.Emit(Record{Type: TypeStateTransition, Correlation: caxton.NewID()})

	rec := <-ch
	require.Equal(t, TypeStateTransition, rec.Type)
	require.False(t, rec.Timestamp.IsZero())
}

func TestEmitNeverBlocksOnSlowConsumer(t *testing.T) {
	e := NewEmitter(2, nil)
	e.Subscribe("slow")

	done := make(chan struct{})
	go func() {
		for i := 0; i < 100; i++ {
			e.Emit(Record{Type: TypeMessageSent})
		}
		close(done)
	}()

	select {
	case <-done:
	default:
	}
	<-done // must complete without ever blocking on the unread channel

	require.Greater(t, e.DroppedCount("slow"), int64(0))
}

func TestUnsubscribeClosesChannel(t *testing.T) {
	e := NewEmitter(1, nil)
	ch := e.Subscribe("a")
	e.Unsubscribe("a")

	_, ok := <-ch
	require.False(t, ok)
	require.Equal(t, 0, e.SubscriberCount())
}

func TestDropOldestKeepsNewestRecord(t *testing.T) {
	e := NewEmitter(1, nil)
	ch := e.Subscribe("a")

	e.Emit(Record{Type: TypeMessageSent, Payload: map[string]any{"n": 1}})
	e.Emit(Record{Type: TypeMessageSent, Payload: map[string]any{"n": 2}})

	rec := <-ch
	require.Equal(t, 2, rec.Payload["n"])
	require.Equal(t, int64(1), e.DroppedCount("a"))
}
