package accountant

import (
	"sync"
	"time"

	"github.com/caxton-io/caxton/internal/caxton"
	"github.com/caxton-io/caxton/internal/metrics"
)

// Budget configures the cluster-wide admission caps: how many agents may
// run concurrently and how much aggregate memory/fuel they may consume
// per rolling window. This generalizes the sliding-window token/cost
// counters of a per-request LLM budget to per-agent memory/fuel
// counters, with the same window-reset-and-compare shape but no
// per-minute/hour/day tiering, since sandbox resource pressure is
// evaluated continuously rather than billed in calendar buckets.
type Budget struct {
	MaxActiveAgents    int
	MaxAggregateMemory uint64
	MaxAggregateFuel   uint64
	Window             time.Duration
	WarnThreshold      float64 // 0.0-1.0; crossing this fraction of a per-agent soft cap records a threshold-crossing metric and emits an event
	PerAgentMemorySoft uint64
	PerAgentFuelSoft   uint64
}

// DefaultBudget returns conservative cluster-wide defaults.
func DefaultBudget() Budget {
	return Budget{
		MaxActiveAgents:    256,
		MaxAggregateMemory: 16 << 30, // 16 GiB
		MaxAggregateFuel:   1 << 40,
		Window:             time.Minute,
		WarnThreshold:      0.8,
		PerAgentMemorySoft: 96 << 20, // 96 MiB, well above the 160-page (10 MiB) default envelope cap
		PerAgentFuelSoft:   8_000_000,
	}
}

type windowUsage struct {
	memory uint64
	fuel   uint64
}

// budgetTracker enforces Budget against live per-agent snapshots. All
// state is window-scoped: record resets each agent's contribution at
// the start of a new window rather than accumulating forever, since the
// accountant cares about current pressure, not lifetime totals.
type budgetTracker struct {
	cfg Budget

	mu          sync.Mutex
	windowStart time.Time
	perAgent    map[caxton.ID]windowUsage
	aggMemory   uint64
	aggFuel     uint64
}

func newBudgetTracker(cfg Budget) *budgetTracker {
	if cfg.MaxActiveAgents <= 0 {
		cfg = DefaultBudget()
	}
	if cfg.Window <= 0 {
		cfg.Window = time.Minute
	}
	if cfg.WarnThreshold <= 0 {
		cfg.WarnThreshold = 0.8
	}
	return &budgetTracker{
		cfg:         cfg,
		windowStart: time.Now(),
		perAgent:    make(map[caxton.ID]windowUsage),
	}
}

func (t *budgetTracker) resetIfNeeded() {
	if time.Since(t.windowStart) < t.cfg.Window {
		return
	}
	t.windowStart = time.Now()
	t.perAgent = make(map[caxton.ID]windowUsage)
	t.aggMemory = 0
	t.aggFuel = 0
}

// record updates agentID's contribution to the current window's
// aggregate memory/fuel totals.
func (t *budgetTracker) record(agentID caxton.ID, memoryBytes, fuelUsed uint64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.resetIfNeeded()

	prev := t.perAgent[agentID]
	t.aggMemory = t.aggMemory - prev.memory + memoryBytes
	t.aggFuel = t.aggFuel - prev.fuel + fuelUsed
	t.perAgent[agentID] = windowUsage{memory: memoryBytes, fuel: fuelUsed}
}

// release removes agentID's contribution entirely, e.g. on untrack.
func (t *budgetTracker) release(agentID caxton.ID) {
	t.mu.Lock()
	defer t.mu.Unlock()

	prev, ok := t.perAgent[agentID]
	if !ok {
		return
	}
	t.aggMemory -= prev.memory
	t.aggFuel -= prev.fuel
	delete(t.perAgent, agentID)
}

// crossedWarning reports whether agentID's latest snapshot crosses its
// soft per-agent threshold, and which resource tripped it first.
func (t *budgetTracker) crossedWarning(agentID caxton.ID, memoryBytes, fuelUsed uint64) (bool, string) {
	memCap := float64(t.cfg.PerAgentMemorySoft) * t.cfg.WarnThreshold
	fuelCap := float64(t.cfg.PerAgentFuelSoft) * t.cfg.WarnThreshold

	if t.cfg.PerAgentMemorySoft > 0 && float64(memoryBytes) >= memCap {
		return true, "memory"
	}
	if t.cfg.PerAgentFuelSoft > 0 && float64(fuelUsed) >= fuelCap {
		return true, "fuel"
	}
	return false, ""
}

// admit applies admission control for a prospective new agent deployment
// against the current window's aggregate usage.
func (t *budgetTracker) admit(activeAgents int, estimatedMemory, estimatedFuel uint64, collector *metrics.Collector) error {
	t.mu.Lock()
	t.resetIfNeeded()
	projectedMemory := t.aggMemory + estimatedMemory
	projectedFuel := t.aggFuel + estimatedFuel
	t.mu.Unlock()

	reject := func(reason string) error {
		if collector != nil {
			collector.RecordAdmissionRejection(reason)
		}
		return caxton.NewError(caxton.KindResourceExhausted, caxton.Nil, nil, reason)
	}

	if activeAgents >= t.cfg.MaxActiveAgents {
		return reject("max_active_agents")
	}
	if t.cfg.MaxAggregateMemory > 0 && projectedMemory > t.cfg.MaxAggregateMemory {
		return reject("aggregate_memory_exceeded")
	}
	if t.cfg.MaxAggregateFuel > 0 && projectedFuel > t.cfg.MaxAggregateFuel {
		return reject("aggregate_fuel_exceeded")
	}
	return nil
}
