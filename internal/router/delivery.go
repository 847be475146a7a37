package router

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/caxton-io/caxton/internal/caxton"
	"github.com/caxton-io/caxton/internal/lifecycle"
	"github.com/caxton-io/caxton/internal/sandbox"
	"github.com/caxton-io/caxton/llm/retry"
)

// Semantics selects how a message or capability wants delivery handled
// under partial failure.
type Semantics string

const (
	// AtMostOnce is fire-and-forget: a single invocation attempt, no
	// retry, no dedup bookkeeping.
	AtMostOnce Semantics = "at_most_once"
	// AtLeastOnce retries a failed invocation, whatever the error, with
	// exponential backoff; the recipient is expected to de-duplicate by
	// message ID.
	AtLeastOnce Semantics = "at_least_once"
	// ExactlyOnce behaves like AtLeastOnce but keys deduplication on an
	// explicit idempotency token rather than the message ID, so a
	// resend that legitimately reuses the same message ID with new
	// content is never mistaken for a duplicate.
	ExactlyOnce Semantics = "exactly_once"
)

// DefaultDedupWindow is how long a delivered message ID (or idempotency
// token) is remembered so a retried send is recognized as a duplicate.
const DefaultDedupWindow = 5 * time.Minute

// DedupCache remembers recently delivered keys for DefaultDedupWindow
// (or a caller-supplied window), so AtLeastOnce/ExactlyOnce retries
// that land after the original succeeded are recognized as duplicates.
type DedupCache struct {
	mu     sync.Mutex
	seenAt map[caxton.ID]time.Time
	window time.Duration
}

// NewDedupCache constructs a cache with the given retention window; a
// zero or negative window uses DefaultDedupWindow.
func NewDedupCache(window time.Duration) *DedupCache {
	if window <= 0 {
		window = DefaultDedupWindow
	}
	return &DedupCache{seenAt: make(map[caxton.ID]time.Time), window: window}
}

// CheckAndRemember reports whether key was already seen within the
// retention window; if not, it records key as seen as of now.
func (c *DedupCache) CheckAndRemember(key caxton.ID, now time.Time) (duplicate bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if seenAt, ok := c.seenAt[key]; ok && now.Sub(seenAt) <= c.window {
		return true
	}
	c.seenAt[key] = now
	return false
}

// Sweep discards entries older than the retention window, returning the
// count discarded. Intended to run on a periodic timer so the cache
// does not grow unbounded under sustained traffic.
func (c *DedupCache) Sweep(now time.Time) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	discarded := 0
	for key, seenAt := range c.seenAt {
		if now.Sub(seenAt) > c.window {
			delete(c.seenAt, key)
			discarded++
		}
	}
	return discarded
}

// Dispatcher is what the delivery path needs: resolving an agent's live
// sandbox handle and state (lifecycle.Manager's Handle) and invoking it
// (sandbox.Host's Invoke). The composition root implements it with an
// adapter over both. Expressed as a local interface so this package
// never imports lifecycle.Manager's concrete type, only its State values.
type Dispatcher interface {
	Handle(agentID caxton.ID) (sandbox.InstanceHandle, lifecycle.State, error)
	Invoke(ctx context.Context, handle sandbox.InstanceHandle, entry string, input []byte, deadline time.Time) ([]byte, error)
}

// DeliveryResult reports the outcome of one delivery attempt to one
// recipient, independent of the semantics used to get there.
type DeliveryResult struct {
	AgentID    caxton.ID
	Delivered  bool
	Duplicate  bool
	OutOfOrder bool
	Err        error
}

// deliveryPlan bundles everything a single delivery attempt needs to
// run and, for AtLeastOnce/ExactlyOnce, retry.
type deliveryPlan struct {
	semantics Semantics
	retryer   retry.Retryer
	dedup     *DedupCache
	logger    *zap.Logger
}

// newDeliveryPlan builds the plan for semantics, constructing a
// bounded-backoff retryer for the retrying semantics. AtMostOnce needs
// no retryer or dedup cache.
func newDeliveryPlan(semantics Semantics, dedup *DedupCache, logger *zap.Logger) *deliveryPlan {
	if logger == nil {
		logger = zap.NewNop()
	}
	plan := &deliveryPlan{semantics: semantics, dedup: dedup, logger: logger}
	if semantics != AtMostOnce {
		policy := retry.DefaultRetryPolicy()
		plan.retryer = retry.NewBackoffRetryer(policy, logger)
	}
	return plan
}

// dedupKey returns the key used to detect a duplicate delivery under
// ExactlyOnce (the idempotency token, if present) or AtLeastOnce (the
// message ID).
func dedupKey(messageID caxton.ID, idempotencyToken *caxton.ID, semantics Semantics) caxton.ID {
	if semantics == ExactlyOnce && idempotencyToken != nil {
		return *idempotencyToken
	}
	return messageID
}

// deliver invokes entry on handle via dispatcher, applying plan's
// semantics. now is used only to timestamp dedup bookkeeping.
func (p *deliveryPlan) deliver(ctx context.Context, dispatcher Dispatcher, agentID caxton.ID, handle sandbox.InstanceHandle, messageID caxton.ID, idempotencyToken *caxton.ID, entry string, input []byte, deadline time.Time, now time.Time) DeliveryResult {
	var key caxton.ID
	remembered := false
	if p.semantics != AtMostOnce && p.dedup != nil {
		key = dedupKey(messageID, idempotencyToken, p.semantics)
		if p.dedup.CheckAndRemember(key, now) {
			return DeliveryResult{AgentID: agentID, Duplicate: true}
		}
		remembered = true
	}

	invoke := func() error {
		_, err := dispatcher.Invoke(ctx, handle, entry, input, deadline)
		return err
	}

	var err error
	if p.semantics == AtMostOnce || p.retryer == nil {
		err = invoke()
	} else {
		err = p.retryer.Do(ctx, invoke)
	}

	if err != nil {
		if remembered {
			// Only delivered keys stay remembered, so a resend is attempted.
			p.dedup.mu.Lock()
			delete(p.dedup.seenAt, key)
			p.dedup.mu.Unlock()
		}
		return DeliveryResult{AgentID: agentID, Err: err}
	}
	return DeliveryResult{AgentID: agentID, Delivered: true}
}
