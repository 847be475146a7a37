package accountant

import (
	"context"
	"sync"
	"time"

	"github.com/caxton-io/caxton/internal/caxton"
	"github.com/caxton-io/caxton/internal/events"
	"github.com/caxton-io/caxton/internal/metrics"
	"github.com/caxton-io/caxton/llm/circuitbreaker"
	"go.uber.org/zap"
)

// Pinger answers a no-op health-check ping for an agent. The sandbox host
// implements this by invoking a reserved no-op entry point.
type Pinger interface {
	Ping(ctx context.Context, agentID caxton.ID, budget time.Duration) error
}

// FailureNotifier is called when an agent should transition to Failed,
// either from three consecutive health-check failures or a tripped
// circuit. The lifecycle manager implements this.
type FailureNotifier interface {
	MarkFailed(agentID caxton.ID, reason error)
}

// Usage is one agent's latest reported resource consumption.
type Usage struct {
	MemoryBytes      uint64
	FuelUsed         uint64
	InFlight         int
	ConsecutiveFails int
	LastHealthy      time.Time
	Breaker          circuitbreaker.CircuitBreaker
}

// Config configures an Accountant.
type Config struct {
	Logger *zap.Logger

	// HealthCheckInterval is how often the health-check loop pings every
	// tracked agent. Zero uses DefaultHealthCheckInterval.
	HealthCheckInterval time.Duration
	// HealthCheckBudget bounds how long a single ping may take.
	HealthCheckBudget time.Duration
	// UnhealthyThreshold is the number of consecutive failed pings before
	// an agent is pushed to Failed (spec §4.6: three consecutive
	// failures).
	UnhealthyThreshold int

	Pinger   Pinger
	Notifier FailureNotifier
	Metrics  *metrics.Collector
	Events   *events.Emitter

	// Breaker is the per-agent circuit breaker config, reused unmodified
	// from llm/circuitbreaker. Trips after Threshold consecutive sandbox
	// traps reported via RecordTrap.
	Breaker *circuitbreaker.Config

	Budget Budget
}

const (
	DefaultHealthCheckInterval = 10 * time.Second
	DefaultHealthCheckBudget   = 2 * time.Second
	DefaultUnhealthyThreshold  = 3
)

// Accountant aggregates per-agent resource usage, runs the health-check
// loop, and enforces the aggregate admission budget.
type Accountant struct {
	cfg    Config
	logger *zap.Logger

	mu     sync.Mutex
	usage  map[caxton.ID]*Usage
	budget *budgetTracker

	stopOnce sync.Once
	stopCh   chan struct{}
	wg       sync.WaitGroup
}

// New constructs an Accountant. Call Start to begin the health-check loop.
func New(cfg Config) *Accountant {
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.HealthCheckInterval <= 0 {
		cfg.HealthCheckInterval = DefaultHealthCheckInterval
	}
	if cfg.HealthCheckBudget <= 0 {
		cfg.HealthCheckBudget = DefaultHealthCheckBudget
	}
	if cfg.UnhealthyThreshold <= 0 {
		cfg.UnhealthyThreshold = DefaultUnhealthyThreshold
	}
	if cfg.Breaker == nil {
		cfg.Breaker = circuitbreaker.DefaultConfig()
	}

	return &Accountant{
		cfg:    cfg,
		logger: cfg.Logger.With(zap.String("component", "accountant")),
		usage:  make(map[caxton.ID]*Usage),
		budget: newBudgetTracker(cfg.Budget),
		stopCh: make(chan struct{}),
	}
}

// Track begins tracking a newly deployed agent.
func (a *Accountant) Track(agentID caxton.ID) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if _, ok := a.usage[agentID]; ok {
		return
	}
	breakerCfg := *a.cfg.Breaker
	a.usage[agentID] = &Usage{
		LastHealthy: time.Now(),
		Breaker:     circuitbreaker.NewCircuitBreaker(&breakerCfg, a.logger),
	}
}

// Untrack stops tracking an agent, e.g. on Stopped/terminate.
func (a *Accountant) Untrack(agentID caxton.ID) {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.usage, agentID)
	a.budget.release(agentID)
}

// RecordUsage records the latest memory/fuel snapshot for agentID,
// publishing a resource-threshold-crossing event/metric when the
// configured warning thresholds are crossed.
func (a *Accountant) RecordUsage(agentID caxton.ID, memoryBytes, fuelUsed uint64, inFlight int) {
	a.mu.Lock()
	u, ok := a.usage[agentID]
	if !ok {
		a.mu.Unlock()
		return
	}
	u.MemoryBytes, u.FuelUsed, u.InFlight = memoryBytes, fuelUsed, inFlight
	a.mu.Unlock()

	a.budget.record(agentID, memoryBytes, fuelUsed)

	if crossed, resource := a.budget.crossedWarning(agentID, memoryBytes, fuelUsed); crossed {
		if a.cfg.Metrics != nil {
			a.cfg.Metrics.RecordResourceThresholdCrossing(agentID.String(), resource)
		}
		if a.cfg.Events != nil {
			a.cfg.Events.Emit(events.Record{
				Type:        events.TypeResourceThreshold,
				AgentID:     &agentID,
				Correlation: agentID,
				Payload:     map[string]any{"resource": resource},
			})
		}
	}
}

// RecordTrap reports a sandbox trap for agentID to its circuit breaker.
// If the breaker trips open, the agent is handed to the lifecycle
// manager via FailureNotifier.
func (a *Accountant) RecordTrap(ctx context.Context, agentID caxton.ID, trapErr error) {
	a.mu.Lock()
	u, ok := a.usage[agentID]
	a.mu.Unlock()
	if !ok {
		return
	}

	_ = u.Breaker.Call(ctx, func() error { return trapErr })
	if u.Breaker.State() == circuitbreaker.StateOpen && a.cfg.Notifier != nil {
		a.cfg.Notifier.MarkFailed(agentID, trapErr)
	}
}

// AdmitDeployment applies admission control against the cluster-wide
// caps before a new agent is deployed. Returns an error if admission is
// rejected.
func (a *Accountant) AdmitDeployment(ctx context.Context, estimatedMemory, estimatedFuel uint64) error {
	a.mu.Lock()
	activeAgents := len(a.usage)
	a.mu.Unlock()
	return a.budget.admit(activeAgents, estimatedMemory, estimatedFuel, a.cfg.Metrics)
}

// Snapshot returns a copy of agentID's current usage, or false if it is
// not tracked.
func (a *Accountant) Snapshot(agentID caxton.ID) (Usage, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	u, ok := a.usage[agentID]
	if !ok {
		return Usage{}, false
	}
	return *u, true
}

// Start launches the health-check loop in a background goroutine.
func (a *Accountant) Start(ctx context.Context) {
	a.wg.Add(1)
	go a.healthCheckLoop(ctx)
}

// Stop terminates the health-check loop and waits for it to exit.
func (a *Accountant) Stop() {
	a.stopOnce.Do(func() { close(a.stopCh) })
	a.wg.Wait()
}
