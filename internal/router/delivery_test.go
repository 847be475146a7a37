package router

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go.uber.org/zap"

	"github.com/caxton-io/caxton/internal/caxton"
	"github.com/caxton-io/caxton/internal/lifecycle"
	"github.com/caxton-io/caxton/internal/sandbox"
	"github.com/caxton-io/caxton/llm/retry"
)

type fakeDispatcher struct {
	mu         sync.Mutex
	handles    map[caxton.ID]sandbox.InstanceHandle
	states     map[caxton.ID]lifecycle.State
	invokeErrs []error // consumed in order, one per call; last value repeats
	invokes    int
}

func newFakeDispatcher(agentID caxton.ID, handle sandbox.InstanceHandle) *fakeDispatcher {
	return &fakeDispatcher{
		handles: map[caxton.ID]sandbox.InstanceHandle{agentID: handle},
		states:  map[caxton.ID]lifecycle.State{agentID: lifecycle.StateRunning},
	}
}

func (f *fakeDispatcher) Handle(agentID caxton.ID) (sandbox.InstanceHandle, lifecycle.State, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	h, ok := f.handles[agentID]
	if !ok {
		return caxton.Nil, "", errors.New("unknown agent")
	}
	return h, f.states[agentID], nil
}

func (f *fakeDispatcher) Invoke(_ context.Context, _ sandbox.InstanceHandle, _ string, _ []byte, _ time.Time) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	idx := f.invokes
	if idx >= len(f.invokeErrs) {
		idx = len(f.invokeErrs) - 1
	}
	f.invokes++
	if idx >= 0 {
		return nil, f.invokeErrs[idx]
	}
	return nil, nil
}

func TestDedupCacheDetectsDuplicateWithinWindow(t *testing.T) {
	c := NewDedupCache(time.Minute)
	key := caxton.NewID()
	now := time.Now()

	assert.False(t, c.CheckAndRemember(key, now))
	assert.True(t, c.CheckAndRemember(key, now.Add(time.Second)))
}

func TestDedupCacheForgetsAfterWindowExpires(t *testing.T) {
	c := NewDedupCache(time.Minute)
	key := caxton.NewID()
	now := time.Now()

	assert.False(t, c.CheckAndRemember(key, now))
	assert.False(t, c.CheckAndRemember(key, now.Add(2*time.Minute)))
}

func TestDedupCacheSweepDiscardsExpiredEntries(t *testing.T) {
	c := NewDedupCache(time.Minute)
	key := caxton.NewID()
	now := time.Now()
	c.CheckAndRemember(key, now)

	discarded := c.Sweep(now.Add(2 * time.Minute))
	assert.Equal(t, 1, discarded)
}

func TestDeliveryPlanAtMostOnceDoesNotRetry(t *testing.T) {
	agent := caxton.NewID()
	handle := caxton.NewID()
	disp := newFakeDispatcher(agent, handle)
	disp.invokeErrs = []error{errors.New("boom")}

	plan := newDeliveryPlan(AtMostOnce, nil, nil)
	result := plan.deliver(context.Background(), disp, agent, handle, caxton.NewID(), nil, "on_message", nil, time.Now().Add(time.Second), time.Now())

	assert.Error(t, result.Err)
	assert.Equal(t, 1, disp.invokes)
}

func TestDeliveryPlanAtLeastOnceRetriesThenSucceeds(t *testing.T) {
	agent := caxton.NewID()
	handle := caxton.NewID()
	disp := newFakeDispatcher(agent, handle)
	disp.invokeErrs = []error{errors.New("timeout"), nil}

	plan := newDeliveryPlan(AtLeastOnce, NewDedupCache(time.Minute), nil)
	plan.retryer = retry.NewBackoffRetryer(&retry.RetryPolicy{
		MaxRetries:   2,
		InitialDelay: 5 * time.Millisecond,
		MaxDelay:     10 * time.Millisecond,
		Multiplier:   2,
	}, zap.NewNop())

	result := plan.deliver(context.Background(), disp, agent, handle, caxton.NewID(), nil, "on_message", nil, time.Now().Add(time.Second), time.Now())

	require.True(t, result.Delivered)
	assert.Equal(t, 2, disp.invokes)
}

func TestDeliveryPlanAtLeastOnceDedupsByMessageID(t *testing.T) {
	agent := caxton.NewID()
	handle := caxton.NewID()
	disp := newFakeDispatcher(agent, handle)

	dedup := NewDedupCache(time.Minute)
	plan := newDeliveryPlan(AtLeastOnce, dedup, nil)
	msgID := caxton.NewID()
	now := time.Now()

	first := plan.deliver(context.Background(), disp, agent, handle, msgID, nil, "on_message", nil, now.Add(time.Second), now)
	require.True(t, first.Delivered)

	second := plan.deliver(context.Background(), disp, agent, handle, msgID, nil, "on_message", nil, now.Add(time.Second), now.Add(time.Second))
	assert.True(t, second.Duplicate)
	assert.Equal(t, 1, disp.invokes)
}

func TestDeliveryPlanExactlyOnceDedupsByIdempotencyTokenNotMessageID(t *testing.T) {
	agent := caxton.NewID()
	handle := caxton.NewID()
	disp := newFakeDispatcher(agent, handle)

	dedup := NewDedupCache(time.Minute)
	plan := newDeliveryPlan(ExactlyOnce, dedup, nil)
	token := caxton.NewID()
	now := time.Now()

	// Two distinct message IDs sharing one idempotency token: the second
	// must be treated as a duplicate even though its message ID differs.
	first := plan.deliver(context.Background(), disp, agent, handle, caxton.NewID(), &token, "on_message", nil, now.Add(time.Second), now)
	require.True(t, first.Delivered)

	second := plan.deliver(context.Background(), disp, agent, handle, caxton.NewID(), &token, "on_message", nil, now.Add(time.Second), now)
	assert.True(t, second.Duplicate)
}
