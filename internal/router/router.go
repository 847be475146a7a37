package router

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/caxton-io/caxton/internal/caxton"
	"github.com/caxton-io/caxton/internal/events"
	"github.com/caxton-io/caxton/internal/lifecycle"
	"github.com/caxton-io/caxton/internal/metrics"
	"github.com/caxton-io/caxton/internal/poolutil"
	"github.com/caxton-io/caxton/internal/proto"
)

// CapabilitySemantics lets a capability advertise the delivery
// semantics messages addressed to it should use when the message
// itself doesn't override it.
type CapabilitySemantics struct {
	Protocol  Protocol
	Semantics Semantics
	Policy    OverflowPolicy
}

// DefaultCapabilitySemantics is used for any capability that never
// called SetCapabilitySemantics.
var DefaultCapabilitySemantics = CapabilitySemantics{
	Protocol:  SingleRecipient,
	Semantics: AtMostOnce,
	Policy:    DropNewest,
}

// Config configures a Router.
type Config struct {
	Logger          *zap.Logger
	Dispatcher      Dispatcher
	Metrics         *metrics.Collector
	Events          *events.Emitter
	ConversationTTL time.Duration
	DedupWindow     time.Duration
	InboxCapacity   int

	// DeliveryPool bounds the concurrency of Broadcast fan-out delivery.
	// A broadcast to N recipients submits N deliverToRecipient jobs
	// through it instead of spawning N goroutines outright. Nil means
	// broadcast delivers to each recipient sequentially.
	DeliveryPool *poolutil.WorkerPool
}

// Router is the C3 Message Bus & Router: it validates inbound messages,
// resolves target capability to an agent set through the Registry,
// selects recipients, enforces conversation ordering and delivery
// semantics, and delivers into each recipient's bounded inbox.
type Router struct {
	cfg        Config
	logger     *zap.Logger
	Registry   *Registry
	conversations *ConversationTracker
	dedup      *DedupCache

	capSemantics map[string]CapabilitySemantics
	inboxes      map[caxton.ID]*inbox
	mu           sync.Mutex
}

// New constructs a Router wired to dispatcher for actual delivery.
func New(cfg Config) *Router {
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	r := &Router{
		cfg:           cfg,
		logger:        cfg.Logger.With(zap.String("component", "router")),
		Registry:      NewRegistry(cfg.Metrics),
		conversations: NewConversationTracker(cfg.ConversationTTL),
		dedup:         NewDedupCache(cfg.DedupWindow),
		capSemantics:  make(map[string]CapabilitySemantics),
		inboxes:       make(map[caxton.ID]*inbox),
	}
	return r
}

// SetCapabilitySemantics configures the protocol/delivery-semantics/
// overflow-policy defaults for capability.
func (r *Router) SetCapabilitySemantics(capability string, sem CapabilitySemantics) {
	r.mu.Lock()
	r.capSemantics[capability] = sem
	r.mu.Unlock()
}

func (r *Router) semanticsFor(capability string) CapabilitySemantics {
	r.mu.Lock()
	defer r.mu.Unlock()
	if sem, ok := r.capSemantics[capability]; ok {
		return sem
	}
	return DefaultCapabilitySemantics
}

// EnsureInbox allocates (or returns the existing) bounded inbox for
// agentID, sized to capacity, or the Router's configured default.
func (r *Router) EnsureInbox(agentID caxton.ID, capacity int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.inboxes[agentID]; ok {
		return
	}
	if capacity <= 0 {
		capacity = r.cfg.InboxCapacity
	}
	r.inboxes[agentID] = newInbox(capacity)
}

// DropInbox closes and removes agentID's inbox, waking any blocked
// dispatch worker.
func (r *Router) DropInbox(agentID caxton.ID) {
	r.mu.Lock()
	ib, ok := r.inboxes[agentID]
	delete(r.inboxes, agentID)
	r.mu.Unlock()
	if ok {
		ib.close()
	}
}

// Next blocks until a message is available in agentID's inbox, or the
// inbox is closed (ok=false).
func (r *Router) Next(agentID caxton.ID) (*proto.Message, bool) {
	r.mu.Lock()
	ib, ok := r.inboxes[agentID]
	r.mu.Unlock()
	if !ok {
		return nil, false
	}
	return ib.pop()
}

// InboxDepth reports agentID's current queued message count.
func (r *Router) InboxDepth(agentID caxton.ID) int {
	r.mu.Lock()
	ib, ok := r.inboxes[agentID]
	r.mu.Unlock()
	if !ok {
		return 0
	}
	return ib.depth()
}

func (r *Router) emit(typ events.Type, agentID *caxton.ID, conversationID *caxton.ID, correlation caxton.ID, payload map[string]any) {
	if r.cfg.Events == nil {
		return
	}
	r.cfg.Events.Emit(events.Record{
		Type:           typ,
		Timestamp:      time.Now(),
		AgentID:        agentID,
		ConversationID: conversationID,
		Correlation:    correlation,
		Payload:        payload,
	})
}

// Submit runs the full routing algorithm (spec §4.3 steps 1-4) for msg:
// validation, capability resolution, recipient selection, conversation
// ordering, backpressure and overflow-policy handling, and inbox enqueue.
// Retry/dedup delivery semantics are applied later, by Dispatch. now is
// injected so deadline/TTL handling is deterministic in tests.
func (r *Router) Submit(ctx context.Context, msg *proto.Message, now time.Time) []DeliveryResult {
	if err := msg.Validate(now); err != nil {
		r.emit(events.TypeMessageFailed, &msg.Sender, nil, msg.MessageID, map[string]any{"reason": err.Error()})
		return []DeliveryResult{{Err: caxton.NewError(caxton.KindInvalidMessage, msg.MessageID, err, "message failed validation")}}
	}

	if msg.InReplyTo != nil && !r.conversations.HasObserved(msg.ConversationID, *msg.InReplyTo) {
		r.emit(events.TypeMessageFailed, &msg.Sender, &msg.ConversationID, msg.MessageID, map[string]any{
			"reason": string(proto.ReasonInvalidReply),
		})
		return []DeliveryResult{{Err: caxton.NewError(caxton.KindInvalidMessage, msg.MessageID, nil, "in_reply_to does not reference a message observed in this conversation")}}
	}

	sem := r.semanticsFor(msg.Capability)

	candidates := r.Registry.AgentsFor(msg.Capability)
	if len(candidates) == 0 {
		r.emit(events.TypeMessageFailed, &msg.Sender, &msg.ConversationID, msg.MessageID, map[string]any{
			"reason":     string(proto.ReasonNoProvider),
			"capability": msg.Capability,
		})
		if r.cfg.Metrics != nil {
			r.cfg.Metrics.RecordMessageRouted(msg.Performative.String(), msg.Capability, "no_provider")
		}
		return []DeliveryResult{{Err: caxton.NewError(caxton.KindNoProvider, msg.MessageID, nil, "no agent advertises capability "+msg.Capability)}}
	}

	recipients := selectRecipients(sem.Protocol, candidates, r.Registry, msg.MessageID)

	outcome := r.conversations.Touch(msg.ConversationID, now)
	if outcome == OutcomeResumedStale {
		r.emit(events.TypeConversationResumedStale, &msg.Sender, &msg.ConversationID, msg.MessageID, nil)
	}
	r.conversations.Observe(msg.ConversationID, msg.MessageID, now)

	if r.cfg.DeliveryPool != nil && sem.Protocol == Broadcast && len(recipients) > 1 {
		return r.deliverBroadcast(ctx, msg, recipients, sem, now)
	}

	results := make([]DeliveryResult, 0, len(recipients))
	for _, agentID := range recipients {
		results = append(results, r.deliverToRecipient(ctx, msg, agentID, sem, now))
	}
	return results
}

// deliverBroadcast fans delivery to every recipient out across the
// configured worker pool and waits for all of them to finish. Order in
// the returned slice matches recipients, not completion order.
func (r *Router) deliverBroadcast(ctx context.Context, msg *proto.Message, recipients []caxton.ID, sem CapabilitySemantics, now time.Time) []DeliveryResult {
	results := make([]DeliveryResult, len(recipients))
	var wg sync.WaitGroup
	wg.Add(len(recipients))

	for i, agentID := range recipients {
		i, agentID := i, agentID
		err := r.cfg.DeliveryPool.Submit(ctx, func(ctx context.Context) error {
			defer wg.Done()
			results[i] = r.deliverToRecipient(ctx, msg, agentID, sem, now)
			return nil
		})
		if err != nil {
			wg.Done()
			results[i] = DeliveryResult{AgentID: agentID, Err: caxton.NewError(caxton.KindResourceExhausted, msg.MessageID, err, "broadcast delivery could not be scheduled")}
		}
	}

	wg.Wait()
	return results
}

// deliverToRecipient implements routing algorithm step 4 for a single
// recipient: liveness check, conversation-sequence check, backpressure
// and overflow policy, and bounded-inbox enqueue.
func (r *Router) deliverToRecipient(ctx context.Context, msg *proto.Message, agentID caxton.ID, sem CapabilitySemantics, now time.Time) DeliveryResult {
	if r.cfg.Dispatcher != nil {
		if _, state, err := r.cfg.Dispatcher.Handle(agentID); err != nil || state != lifecycle.StateRunning {
			r.emit(events.TypeMessageFailed, &msg.Sender, &msg.ConversationID, msg.MessageID, map[string]any{
				"reason":   string(proto.ReasonAgentUnavailable),
				"agent_id": agentID.String(),
				"state":    string(state),
			})
			if r.cfg.Metrics != nil {
				r.cfg.Metrics.RecordMessageRouted(msg.Performative.String(), msg.Capability, "agent_unavailable")
			}
			return DeliveryResult{AgentID: agentID, Err: caxton.NewError(caxton.KindAgentUnavailable, msg.MessageID, err, "agent is not Running")}
		}
	}

	seq := r.conversations.NextSequence(msg.ConversationID, msg.Sender, agentID)
	if r.conversations.CheckDelivery(msg.ConversationID, msg.Sender, agentID, seq, now) == OutcomeOutOfOrder {
		r.emit(events.TypeMessageFailed, &msg.Sender, &msg.ConversationID, msg.MessageID, map[string]any{
			"reason":   string(proto.ReasonOutOfOrder),
			"agent_id": agentID.String(),
		})
		return DeliveryResult{AgentID: agentID, OutOfOrder: true, Err: caxton.NewError(caxton.KindOutOfOrder, msg.MessageID, nil, "message superseded by a later delivery")}
	}

	r.EnsureInbox(agentID, r.cfg.InboxCapacity)
	r.mu.Lock()
	ib := r.inboxes[agentID]
	r.mu.Unlock()

	if ib.aboveHighWater() && sem.Policy == BackpressureSender {
		return DeliveryResult{AgentID: agentID, Err: caxton.NewError(caxton.KindBackpressure, msg.MessageID, nil, "inbox above high water mark").WithRetryAfter(50 * time.Millisecond)}
	}

	dropped := ib.push(msg.Clone(), sem.Policy)
	if dropped {
		r.emit(events.TypeMessageFailed, &msg.Sender, &msg.ConversationID, msg.MessageID, map[string]any{
			"reason":   string(proto.ReasonInboxOverflow),
			"agent_id": agentID.String(),
		})
		if r.cfg.Metrics != nil {
			r.cfg.Metrics.RecordMessageRouted(msg.Performative.String(), msg.Capability, "inbox_overflow")
		}
		return DeliveryResult{AgentID: agentID, Err: caxton.NewError(caxton.KindInboxOverflow, msg.MessageID, nil, "inbox full under "+string(sem.Policy))}
	}

	r.emit(events.TypeMessageDelivered, &agentID, &msg.ConversationID, msg.MessageID, nil)
	if r.cfg.Metrics != nil {
		r.cfg.Metrics.RecordMessageRouted(msg.Performative.String(), msg.Capability, "delivered")
		r.cfg.Metrics.SetInboxDepth(agentID.String(), ib.depth())
	}
	return DeliveryResult{AgentID: agentID, Delivered: true}
}

// Dispatch invokes the recipient's on_message export for msg via the
// configured Dispatcher, applying sem's retry/dedup semantics. It is
// called by each agent's dispatch loop after popping msg from its
// inbox via Next, not by Submit directly — Submit only gets the
// message as far as the bounded inbox per the routing algorithm.
func (r *Router) Dispatch(ctx context.Context, agentID caxton.ID, msg *proto.Message, idempotencyToken *caxton.ID, deadline time.Time, now time.Time) DeliveryResult {
	if r.cfg.Dispatcher == nil {
		return DeliveryResult{AgentID: agentID, Err: caxton.NewError(caxton.KindAgentUnavailable, msg.MessageID, nil, "no dispatcher configured")}
	}
	handle, state, err := r.cfg.Dispatcher.Handle(agentID)
	if err != nil || state != lifecycle.StateRunning {
		return DeliveryResult{AgentID: agentID, Err: caxton.NewError(caxton.KindAgentUnavailable, msg.MessageID, err, "agent is not Running")}
	}

	sem := r.semanticsFor(msg.Capability)
	plan := newDeliveryPlan(sem.Semantics, r.dedup, r.logger)
	return plan.deliver(ctx, r.cfg.Dispatcher, agentID, handle, msg.MessageID, idempotencyToken, "on_message", msg.Content, deadline, now)
}

// SweepConversations evicts conversations idle longer than the
// configured TTL and returns the count evicted.
func (r *Router) SweepConversations(now time.Time) int {
	return r.conversations.Sweep(now)
}

// SweepDedup discards dedup entries older than the configured retention
// window and returns the count discarded.
func (r *Router) SweepDedup(now time.Time) int {
	return r.dedup.Sweep(now)
}
