package router

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/caxton-io/caxton/internal/caxton"
	"github.com/caxton-io/caxton/internal/metrics"
)

// latencyWindowSize bounds the sliding window of recent response
// latencies kept per agent for the least-loaded tie-break.
const latencyWindowSize = 20

// agentLoad tracks one registered agent's live load signals: in-flight
// message count and a small ring buffer of recent response latencies.
type agentLoad struct {
	inFlight atomic.Int64

	mu          sync.Mutex
	latencies   [latencyWindowSize]time.Duration
	latencyHead int
	latencyN    int
}

func newAgentLoad() *agentLoad {
	return &agentLoad{}
}

func (l *agentLoad) recordLatency(d time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.latencies[l.latencyHead] = d
	l.latencyHead = (l.latencyHead + 1) % latencyWindowSize
	if l.latencyN < latencyWindowSize {
		l.latencyN++
	}
}

func (l *agentLoad) averageLatency() time.Duration {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.latencyN == 0 {
		return 0
	}
	var total time.Duration
	for i := 0; i < l.latencyN; i++ {
		total += l.latencies[i]
	}
	return total / time.Duration(l.latencyN)
}

// Registry indexes which agents advertise which capabilities and tracks
// the per-agent load signals the selection algorithm needs.
type Registry struct {
	mu sync.RWMutex

	// byCapability maps a capability name to the set of agent IDs
	// currently advertising it.
	byCapability map[string]map[caxton.ID]bool
	// capabilities maps an agent back to the capability names it holds,
	// so DeregisterAgent can clean up byCapability without a scan.
	capabilities map[caxton.ID][]string
	loads        map[caxton.ID]*agentLoad

	metrics *metrics.Collector
}

// NewRegistry constructs an empty capability Registry.
func NewRegistry(collector *metrics.Collector) *Registry {
	return &Registry{
		byCapability: make(map[string]map[caxton.ID]bool),
		capabilities: make(map[caxton.ID][]string),
		loads:        make(map[caxton.ID]*agentLoad),
		metrics:      collector,
	}
}

// RegisterAgent advertises agentID under every capability in caps. It
// implements lifecycle.CapabilityRegistrar.
func (r *Registry) RegisterAgent(agentID caxton.ID, caps []string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.capabilities[agentID] = append([]string(nil), caps...)
	if _, ok := r.loads[agentID]; !ok {
		r.loads[agentID] = newAgentLoad()
	}
	for _, cap := range caps {
		set, ok := r.byCapability[cap]
		if !ok {
			set = make(map[caxton.ID]bool)
			r.byCapability[cap] = set
		}
		set[agentID] = true
		if r.metrics != nil {
			r.metrics.RecordCapabilityChange(cap, "registered")
		}
	}
}

// DeregisterAgent removes agentID from every capability it previously
// advertised. It implements lifecycle.CapabilityRegistrar.
func (r *Registry) DeregisterAgent(agentID caxton.ID) {
	r.mu.Lock()
	defer r.mu.Unlock()

	caps := r.capabilities[agentID]
	for _, cap := range caps {
		if set, ok := r.byCapability[cap]; ok {
			delete(set, agentID)
			if len(set) == 0 {
				delete(r.byCapability, cap)
			}
		}
		if r.metrics != nil {
			r.metrics.RecordCapabilityChange(cap, "deregistered")
		}
	}
	delete(r.capabilities, agentID)
	delete(r.loads, agentID)
}

// AgentsFor returns every agent currently advertising capability, in no
// particular order.
func (r *Registry) AgentsFor(capability string) []caxton.ID {
	r.mu.RLock()
	defer r.mu.RUnlock()

	set := r.byCapability[capability]
	out := make([]caxton.ID, 0, len(set))
	for id := range set {
		out = append(out, id)
	}
	return out
}

func (r *Registry) loadFor(agentID caxton.ID) *agentLoad {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.loads[agentID]
}

// BeginDelivery marks agentID as having one more in-flight message. The
// returned func must be called exactly once when delivery finishes,
// recording the observed latency.
func (r *Registry) BeginDelivery(agentID caxton.ID) func() {
	load := r.loadFor(agentID)
	if load == nil {
		return func() {}
	}
	load.inFlight.Add(1)
	start := time.Now()
	return func() {
		load.inFlight.Add(-1)
		load.recordLatency(time.Since(start))
	}
}

// InFlight reports agentID's current in-flight message count, or 0 if
// the agent is unknown.
func (r *Registry) InFlight(agentID caxton.ID) int64 {
	load := r.loadFor(agentID)
	if load == nil {
		return 0
	}
	return load.inFlight.Load()
}
