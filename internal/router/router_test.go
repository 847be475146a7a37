package router

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/caxton-io/caxton/internal/caxton"
	"github.com/caxton-io/caxton/internal/lifecycle"
	"github.com/caxton-io/caxton/internal/poolutil"
	"github.com/caxton-io/caxton/internal/proto"
)

func newTestRouter(t *testing.T) (*Router, *fakeDispatcher, caxton.ID) {
	t.Helper()
	agent := caxton.NewID()
	handle := caxton.NewID()
	disp := newFakeDispatcher(agent, handle)
	r := New(Config{
		Dispatcher:    disp,
		InboxCapacity: 4,
	})
	r.Registry.RegisterAgent(agent, []string{"translate"})
	return r, disp, agent
}

func TestRouterSubmitNoProviderFails(t *testing.T) {
	r, _, _ := newTestRouter(t)
	msg := proto.NewMessage(proto.Request, caxton.NewID(), "unknown_capability", []byte("x"))

	results := r.Submit(context.Background(), msg, time.Now())
	require.Len(t, results, 1)
	kind, ok := caxton.KindOf(results[0].Err)
	require.True(t, ok)
	assert.Equal(t, caxton.KindNoProvider, kind)
}

func TestRouterSubmitDeliversToRunningAgent(t *testing.T) {
	r, _, agent := newTestRouter(t)
	msg := proto.NewMessage(proto.Request, caxton.NewID(), "translate", []byte("hola"))

	results := r.Submit(context.Background(), msg, time.Now())
	require.Len(t, results, 1)
	assert.True(t, results[0].Delivered)
	assert.Equal(t, agent, results[0].AgentID)
	assert.Equal(t, 1, r.InboxDepth(agent))

	popped, ok := r.Next(agent)
	require.True(t, ok)
	assert.Equal(t, msg.MessageID, popped.MessageID)
}

func TestRouterSubmitAcceptsReplyToObservedMessage(t *testing.T) {
	r, _, _ := newTestRouter(t)
	original := proto.NewMessage(proto.Request, caxton.NewID(), "translate", []byte("hola"))

	results := r.Submit(context.Background(), original, time.Now())
	require.Len(t, results, 1)
	require.True(t, results[0].Delivered)

	reply := original.CreateReply(proto.Inform, "translate", []byte("hello"))

	results = r.Submit(context.Background(), reply, time.Now())
	require.Len(t, results, 1)
	assert.True(t, results[0].Delivered)
}

func TestRouterSubmitRejectsReplyToUnobservedMessage(t *testing.T) {
	r, _, _ := newTestRouter(t)
	original := proto.NewMessage(proto.Request, caxton.NewID(), "translate", []byte("hola"))

	reply := original.CreateReply(proto.Inform, "translate", []byte("hello"))
	bogus := caxton.NewID()
	reply.InReplyTo = &bogus

	results := r.Submit(context.Background(), reply, time.Now())
	require.Len(t, results, 1)
	kind, ok := caxton.KindOf(results[0].Err)
	require.True(t, ok)
	assert.Equal(t, caxton.KindInvalidMessage, kind)
}

func TestRouterSubmitRejectsReplyReferencingOtherConversation(t *testing.T) {
	r, _, _ := newTestRouter(t)
	original := proto.NewMessage(proto.Request, caxton.NewID(), "translate", []byte("hola"))
	results := r.Submit(context.Background(), original, time.Now())
	require.Len(t, results, 1)
	require.True(t, results[0].Delivered)

	reply := original.CreateReply(proto.Inform, "translate", []byte("hello"))
	reply.ConversationID = caxton.NewID() // a different conversation than original's
	results = r.Submit(context.Background(), reply, time.Now())
	require.Len(t, results, 1)
	kind, ok := caxton.KindOf(results[0].Err)
	require.True(t, ok)
	assert.Equal(t, caxton.KindInvalidMessage, kind)
}

func TestRouterSubmitAgentUnavailableWhenNotRunning(t *testing.T) {
	r, disp, agent := newTestRouter(t)
	disp.mu.Lock()
	disp.states[agent] = lifecycle.StateLoaded
	disp.mu.Unlock()

	msg := proto.NewMessage(proto.Request, caxton.NewID(), "translate", []byte("hola"))
	results := r.Submit(context.Background(), msg, time.Now())
	require.Len(t, results, 1)
	kind, ok := caxton.KindOf(results[0].Err)
	require.True(t, ok)
	assert.Equal(t, caxton.KindAgentUnavailable, kind)
}

func TestRouterSubmitInboxOverflowDropNewest(t *testing.T) {
	r, _, agent := newTestRouter(t)
	r.SetCapabilitySemantics("translate", CapabilitySemantics{
		Protocol:  SingleRecipient,
		Semantics: AtMostOnce,
		Policy:    DropNewest,
	})
	r.EnsureInbox(agent, 1)

	first := proto.NewMessage(proto.Request, caxton.NewID(), "translate", []byte("one"))
	second := proto.NewMessage(proto.Request, caxton.NewID(), "translate", []byte("two"))

	res1 := r.Submit(context.Background(), first, time.Now())
	require.True(t, res1[0].Delivered)

	res2 := r.Submit(context.Background(), second, time.Now())
	kind, ok := caxton.KindOf(res2[0].Err)
	require.True(t, ok)
	assert.Equal(t, caxton.KindInboxOverflow, kind)
	assert.Equal(t, 1, r.InboxDepth(agent))
}

func TestRouterSubmitOutOfOrderDropsLateMessage(t *testing.T) {
	r, _, agent := newTestRouter(t)
	sender := caxton.NewID()
	conv := caxton.NewID()

	// Manually advance the sequence for this pair so the next Submit,
	// which will be assigned a fresh (higher) sequence and commit first,
	// leaves an earlier-assigned sequence stale when checked later.
	s1 := r.conversations.NextSequence(conv, sender, agent)
	s2 := r.conversations.NextSequence(conv, sender, agent)
	require.Greater(t, s2, s1)

	now := time.Now()
	require.Equal(t, OutcomeAccepted, r.conversations.CheckDelivery(conv, sender, agent, s2, now))
	assert.Equal(t, OutcomeOutOfOrder, r.conversations.CheckDelivery(conv, sender, agent, s1, now))
}

func TestRouterDispatchInvokesOnMessageExport(t *testing.T) {
	r, disp, agent := newTestRouter(t)
	msg := proto.NewMessage(proto.Request, caxton.NewID(), "translate", []byte("hola"))

	result := r.Dispatch(context.Background(), agent, msg, nil, time.Now().Add(time.Second), time.Now())
	assert.True(t, result.Delivered)
	assert.Equal(t, 1, disp.invokes)
}

func TestRouterSweepConversationsAndDedup(t *testing.T) {
	r, _, _ := newTestRouter(t)
	conv := caxton.NewID()
	start := time.Now()
	r.conversations.Touch(conv, start)

	evicted := r.SweepConversations(start.Add(time.Hour))
	assert.Equal(t, 1, evicted)

	key := caxton.NewID()
	r.dedup.CheckAndRemember(key, start)
	discarded := r.SweepDedup(start.Add(time.Hour))
	assert.Equal(t, 1, discarded)
}

func TestRouterBroadcastDeliversThroughWorkerPool(t *testing.T) {
	pool := poolutil.NewWorkerPool(poolutil.WorkerPoolConfig{MaxWorkers: 4, QueueSize: 16, IdleTimeout: time.Second})
	defer pool.Close()

	agentA := caxton.NewID()
	agentB := caxton.NewID()
	agentC := caxton.NewID()
	disp := newFakeDispatcher(agentA, caxton.NewID())
	disp.handles[agentB] = caxton.NewID()
	disp.states[agentB] = lifecycle.StateRunning
	disp.handles[agentC] = caxton.NewID()
	disp.states[agentC] = lifecycle.StateRunning

	r := New(Config{
		Dispatcher:    disp,
		InboxCapacity: 4,
		DeliveryPool:  pool,
	})
	r.Registry.RegisterAgent(agentA, []string{"announce"})
	r.Registry.RegisterAgent(agentB, []string{"announce"})
	r.Registry.RegisterAgent(agentC, []string{"announce"})
	r.SetCapabilitySemantics("announce", CapabilitySemantics{
		Protocol:  Broadcast,
		Semantics: AtMostOnce,
		Policy:    DropNewest,
	})

	msg := proto.NewMessage(proto.Inform, caxton.NewID(), "announce", []byte("hi"))
	results := r.Submit(context.Background(), msg, time.Now())

	require.Len(t, results, 3)
	delivered := map[caxton.ID]bool{}
	for _, res := range results {
		assert.True(t, res.Delivered)
		delivered[res.AgentID] = true
	}
	assert.True(t, delivered[agentA])
	assert.True(t, delivered[agentB])
	assert.True(t, delivered[agentC])
}
