package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
)

// Collector holds the Prometheus metric families for the agent runtime,
// grouped by subsystem: lifecycle, router, sandbox, and memory.
type Collector struct {
	// Lifecycle (C2) metrics.
	agentStateTransitions *prometheus.CounterVec
	agentRecoveries       *prometheus.CounterVec
	hotReloadPhases       *prometheus.CounterVec
	hotReloadDuration     *prometheus.HistogramVec

	// Router (C3) metrics.
	messagesRouted      *prometheus.CounterVec
	messageDeliveryTime *prometheus.HistogramVec
	inboxDepth          *prometheus.GaugeVec
	capabilityChanges   *prometheus.CounterVec

	// Sandbox (C1) metrics.
	sandboxInvocations *prometheus.CounterVec
	sandboxDuration    *prometheus.HistogramVec
	sandboxTraps       *prometheus.CounterVec
	sandboxFuelUsed    *prometheus.HistogramVec

	// Memory (C4) metrics.
	memoryEntities    *prometheus.GaugeVec
	memoryObservation *prometheus.CounterVec
	memoryQueryTime   *prometheus.HistogramVec
	memoryEvictions   *prometheus.CounterVec

	// Accountant (C6) metrics.
	resourceThresholdCrossings *prometheus.CounterVec
	admissionRejections        *prometheus.CounterVec

	logger *zap.Logger
}

// NewCollector registers every metric family under namespace via promauto
// and returns the ready-to-use Collector.
func NewCollector(namespace string, logger *zap.Logger) *Collector {
	if logger == nil {
		logger = zap.NewNop()
	}
	c := &Collector{
		logger: logger.With(zap.String("component", "metrics")),
	}

	c.agentStateTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "agent_state_transitions_total",
			Help:      "Total number of agent lifecycle state transitions",
		},
		[]string{"agent_id", "from_state", "to_state"},
	)

	c.agentRecoveries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "agent_recoveries_total",
			Help:      "Total number of Failed-state recovery attempts, by outcome",
		},
		[]string{"agent_id", "outcome"}, // outcome: trapped, recovered, failed, exhausted
	)

	c.hotReloadPhases = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "hot_reload_phases_total",
			Help:      "Total number of hot-reload phase transitions, by strategy and phase",
		},
		[]string{"agent_id", "strategy", "phase"},
	)

	c.hotReloadDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "hot_reload_duration_seconds",
			Help:      "Duration of a complete hot-reload from start to commit or rollback",
			Buckets:   []float64{0.1, 0.5, 1, 5, 15, 30, 60, 300},
		},
		[]string{"strategy", "outcome"},
	)

	c.messagesRouted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_routed_total",
			Help:      "Total number of messages routed, by performative and delivery outcome",
		},
		[]string{"performative", "capability", "outcome"}, // outcome: delivered, no_provider, agent_unavailable, inbox_overflow
	)

	c.messageDeliveryTime = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "message_delivery_duration_seconds",
			Help:      "Time from routing decision to inbox enqueue",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"capability"},
	)

	c.inboxDepth = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "agent_inbox_depth",
			Help:      "Current number of buffered messages in an agent's inbox",
		},
		[]string{"agent_id"},
	)

	c.capabilityChanges = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "capability_registry_changes_total",
			Help:      "Total number of capability register/deregister events",
		},
		[]string{"capability", "action"}, // action: registered, deregistered
	)

	c.sandboxInvocations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sandbox_invocations_total",
			Help:      "Total number of sandboxed agent invocations, by outcome",
		},
		[]string{"agent_id", "outcome"}, // outcome: ok, trap, timeout, fuel_exhausted
	)

	c.sandboxDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "sandbox_invocation_duration_seconds",
			Help:      "Wall-clock duration of a single sandboxed invocation",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5, 30},
		},
		[]string{"agent_id"},
	)

	c.sandboxTraps = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sandbox_traps_total",
			Help:      "Total number of sandbox traps, by kind",
		},
		[]string{"agent_id", "trap_kind"}, // trap_kind: trap, timeout, fuel_exhausted
	)

	c.sandboxFuelUsed = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "sandbox_fuel_used",
			Help:      "Instruction fuel consumed per invocation",
			Buckets:   prometheus.ExponentialBuckets(100, 10, 8),
		},
		[]string{"agent_id"},
	)

	c.memoryEntities = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "memory_entities",
			Help:      "Current number of stored entities, by scope",
		},
		[]string{"scope"}, // scope: agent, workspace, global
	)

	c.memoryObservation = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "memory_writes_total",
			Help:      "Total number of memory writes, by kind",
		},
		[]string{"scope", "kind"}, // kind: entity, relation, observation
	)

	c.memoryQueryTime = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "memory_query_duration_seconds",
			Help:      "Duration of a semantic search or graph traversal query",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"scope", "query_kind"}, // query_kind: semantic_search, graph_traversal
	)

	c.memoryEvictions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "memory_evictions_total",
			Help:      "Total number of entities evicted by stale-age or soft-limit cleanup",
		},
		[]string{"scope", "reason"}, // reason: stale, max_entities, max_relations, max_storage_bytes
	)

	c.resourceThresholdCrossings = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "resource_threshold_crossings_total",
			Help:      "Total number of per-agent resource threshold crossings",
		},
		[]string{"agent_id", "resource"}, // resource: memory, fuel, wall_time
	)

	c.admissionRejections = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "admission_rejections_total",
			Help:      "Total number of agent deployments rejected by admission control",
		},
		[]string{"reason"},
	)

	c.logger.Info("metrics collector initialized", zap.String("namespace", namespace))

	return c
}

// RecordStateTransition records an agent lifecycle state transition.
func (c *Collector) RecordStateTransition(agentID, fromState, toState string) {
	c.agentStateTransitions.WithLabelValues(agentID, fromState, toState).Inc()
}

// RecordRecovery records the outcome of a Failed-state recovery attempt.
func (c *Collector) RecordRecovery(agentID, outcome string) {
	c.agentRecoveries.WithLabelValues(agentID, outcome).Inc()
}

// RecordHotReloadPhase records a hot-reload strategy entering a new phase.
func (c *Collector) RecordHotReloadPhase(agentID, strategy, phase string) {
	c.hotReloadPhases.WithLabelValues(agentID, strategy, phase).Inc()
}

// RecordHotReloadComplete records the total duration of a finished hot-reload.
func (c *Collector) RecordHotReloadComplete(strategy, outcome string, duration time.Duration) {
	c.hotReloadDuration.WithLabelValues(strategy, outcome).Observe(duration.Seconds())
}

// RecordMessageRouted records a routing decision's final outcome.
func (c *Collector) RecordMessageRouted(performative, capability, outcome string) {
	c.messagesRouted.WithLabelValues(performative, capability, outcome).Inc()
}

// RecordMessageDelivery records how long a routing decision took to reach
// an inbox enqueue.
func (c *Collector) RecordMessageDelivery(capability string, duration time.Duration) {
	c.messageDeliveryTime.WithLabelValues(capability).Observe(duration.Seconds())
}

// SetInboxDepth reports an agent's current inbox occupancy.
func (c *Collector) SetInboxDepth(agentID string, depth int) {
	c.inboxDepth.WithLabelValues(agentID).Set(float64(depth))
}

// RecordCapabilityChange records a capability registry register/deregister.
func (c *Collector) RecordCapabilityChange(capability, action string) {
	c.capabilityChanges.WithLabelValues(capability, action).Inc()
}

// RecordSandboxInvocation records a completed sandboxed invocation and its
// wall-clock duration.
func (c *Collector) RecordSandboxInvocation(agentID, outcome string, duration time.Duration) {
	c.sandboxInvocations.WithLabelValues(agentID, outcome).Inc()
	c.sandboxDuration.WithLabelValues(agentID).Observe(duration.Seconds())
}

// RecordSandboxTrap records a sandbox trap by kind.
func (c *Collector) RecordSandboxTrap(agentID, trapKind string) {
	c.sandboxTraps.WithLabelValues(agentID, trapKind).Inc()
}

// RecordFuelUsed records the instruction fuel consumed by one invocation.
func (c *Collector) RecordFuelUsed(agentID string, fuel uint64) {
	c.sandboxFuelUsed.WithLabelValues(agentID).Observe(float64(fuel))
}

// SetMemoryEntityCount reports the current entity count for scope.
func (c *Collector) SetMemoryEntityCount(scope string, count int) {
	c.memoryEntities.WithLabelValues(scope).Set(float64(count))
}

// RecordMemoryWrite records a write of kind (entity, relation, observation)
// into scope.
func (c *Collector) RecordMemoryWrite(scope, kind string) {
	c.memoryObservation.WithLabelValues(scope, kind).Inc()
}

// RecordMemoryQuery records the duration of a semantic search or graph
// traversal query.
func (c *Collector) RecordMemoryQuery(scope, queryKind string, duration time.Duration) {
	c.memoryQueryTime.WithLabelValues(scope, queryKind).Observe(duration.Seconds())
}

// RecordMemoryEviction records an entity evicted by stale-age or
// soft-limit cleanup.
func (c *Collector) RecordMemoryEviction(scope, reason string) {
	c.memoryEvictions.WithLabelValues(scope, reason).Inc()
}

// RecordResourceThresholdCrossing records an agent crossing a configured
// resource threshold (warning or hard limit).
func (c *Collector) RecordResourceThresholdCrossing(agentID, resource string) {
	c.resourceThresholdCrossings.WithLabelValues(agentID, resource).Inc()
}

// RecordAdmissionRejection records a deployment rejected by admission control.
func (c *Collector) RecordAdmissionRejection(reason string) {
	c.admissionRejections.WithLabelValues(reason).Inc()
}
