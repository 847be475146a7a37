package lifecycle

import (
	"context"
	"sync"
	"time"

	"github.com/caxton-io/caxton/internal/caxton"
	"github.com/caxton-io/caxton/internal/events"
	"github.com/caxton-io/caxton/internal/metrics"
	"github.com/caxton-io/caxton/internal/sandbox"
	"github.com/caxton-io/caxton/llm/retry"
	"go.uber.org/zap"
)

// SandboxHost is the subset of internal/sandbox.Host the manager needs.
// Kept as an interface so tests can substitute a fake without spinning
// up a real wazero runtime.
type SandboxHost interface {
	Load(ctx context.Context, agentID caxton.ID, wasmBytes []byte, envelope sandbox.ResourceEnvelope) (sandbox.InstanceHandle, error)
	Invoke(ctx context.Context, handle sandbox.InstanceHandle, entry string, input []byte, deadline time.Time) ([]byte, error)
	Suspend(handle sandbox.InstanceHandle) error
	Resume(handle sandbox.InstanceHandle) error
	Drop(ctx context.Context, handle sandbox.InstanceHandle)
}

// ResourceAccountant is the subset of internal/accountant.Accountant the
// manager needs for admission control and usage tracking lifecycle.
type ResourceAccountant interface {
	Track(agentID caxton.ID)
	Untrack(agentID caxton.ID)
	AdmitDeployment(ctx context.Context, estimatedMemory, estimatedFuel uint64) error
}

// CapabilityRegistrar is notified when an agent becomes eligible or
// ineligible to receive routed messages. The router implements this;
// lifecycle never imports router to avoid a cycle (router resolves
// capabilities *through* the lifecycle manager, per the component data
// flow).
type CapabilityRegistrar interface {
	RegisterAgent(agentID caxton.ID, capabilities []string)
	DeregisterAgent(agentID caxton.ID)
}

// InboxObserver reports how many messages are still queued for an agent.
// The router implements this; Stop polls it during the drain window so a
// drain can finish as soon as the inbox is empty instead of always
// blocking for the full timeout.
type InboxObserver interface {
	InboxDepth(agentID caxton.ID) int
}

// RecoveryPolicy controls what happens when an agent enters Failed.
type RecoveryPolicy struct {
	Enabled               bool
	MaxAttempts           int
	Backoff               *retry.RetryPolicy
	SustainedRunningGrace time.Duration
}

// DefaultRecoveryPolicy enables recovery with three attempts and the
// teacher's default exponential backoff.
func DefaultRecoveryPolicy() RecoveryPolicy {
	return RecoveryPolicy{
		Enabled:               true,
		MaxAttempts:           3,
		Backoff:               retry.DefaultRetryPolicy(),
		SustainedRunningGrace: 2 * time.Minute,
	}
}

// Config configures a Manager.
type Config struct {
	Logger     *zap.Logger
	Sandbox    SandboxHost
	Accountant ResourceAccountant
	Registrar  CapabilityRegistrar
	Inbox      InboxObserver
	Metrics    *metrics.Collector
	Events     *events.Emitter
	Recovery   RecoveryPolicy
	DrainTimeout time.Duration
	// ErrorRates optionally feeds the hot-reload rollback rule; nil
	// disables automatic rollback.
	ErrorRates ErrorRateObserver
}

const DefaultDrainTimeout = 30 * time.Second

// DefaultDrainPollInterval is how often Stop checks inbox depth while
// draining, when an InboxObserver is configured.
const DefaultDrainPollInterval = 50 * time.Millisecond

// record is the manager's per-agent bookkeeping. Each record owns its
// own mutex so that transitions are serialized per agent while the
// manager stays parallel across agents (per the ordering contract).
type record struct {
	mu sync.Mutex

	agentID      caxton.ID
	state        State
	capabilities []string
	envelope     sandbox.ResourceEnvelope
	lastGoodCode []byte
	handle       sandbox.InstanceHandle
	shadow       *sandbox.InstanceHandle

	deployStrategy DeployStrategy
	deployedAt     time.Time
	stateChangedAt time.Time

	recoveryAttempts int
	lastRecoveryAt   time.Time
}

// Status is the read-only snapshot returned by status().
type Status struct {
	AgentID          caxton.ID
	State            State
	Uptime           time.Duration
	Capabilities     []string
	RecoveryAttempts int
}

// Manager owns the agent state machine and mediates every transition.
type Manager struct {
	cfg     Config
	logger  *zap.Logger
	retryer retry.Retryer

	mu     sync.RWMutex
	agents map[caxton.ID]*record
}

// New constructs a Manager.
func New(cfg Config) *Manager {
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.Recovery.Backoff == nil {
		cfg.Recovery = DefaultRecoveryPolicy()
	}
	if cfg.DrainTimeout <= 0 {
		cfg.DrainTimeout = DefaultDrainTimeout
	}

	return &Manager{
		cfg:     cfg,
		logger:  cfg.Logger.With(zap.String("component", "lifecycle")),
		retryer: retry.NewBackoffRetryer(cfg.Recovery.Backoff, cfg.Logger),
		agents:  make(map[caxton.ID]*record),
	}
}

func (m *Manager) emit(typ events.Type, agentID caxton.ID, payload map[string]any) {
	if m.cfg.Events == nil {
		return
	}
	m.cfg.Events.Emit(events.Record{
		Type:        typ,
		Timestamp:   time.Now(),
		AgentID:     &agentID,
		Correlation: agentID,
		Payload:     payload,
	})
}

func (m *Manager) recordTransition(agentID caxton.ID, from, to State) {
	if m.cfg.Metrics != nil {
		m.cfg.Metrics.RecordStateTransition(agentID.String(), string(from), string(to))
	}
	m.emit(events.TypeStateTransition, agentID, map[string]any{"from": string(from), "to": string(to)})
}

// estimatedResources derives an admission-control estimate from a
// resource envelope: memory pages converted to bytes, fuel limit as-is.
// Zero fields fall back to the sandbox package's exported defaults,
// mirroring (without calling) its unexported withDefaults helper.
func estimatedResources(envelope sandbox.ResourceEnvelope) (memoryBytes, fuel uint64) {
	const wasmPageBytes = 64 * 1024

	pages := envelope.MemoryLimitPages
	if pages == 0 {
		pages = sandbox.DefaultMemoryLimitPages
	}
	fuelLimit := envelope.FuelLimit
	if fuelLimit == 0 {
		fuelLimit = sandbox.DefaultFuelLimit
	}
	return uint64(pages) * wasmPageBytes, fuelLimit
}

// Deploy loads moduleBytes under envelope, advertises capabilities, and
// transitions the new agent through Unloaded -> Loaded -> Running. The
// strategy is recorded for hot_reload to reference as the deployment's
// rollout shape; a first deploy has no prior traffic to split so every
// strategy behaves as an immediate warm-up.
func (m *Manager) Deploy(ctx context.Context, moduleBytes []byte, envelope sandbox.ResourceEnvelope, capabilities []string, strategy DeployStrategy) (caxton.ID, error) {
	memBytes, fuel := estimatedResources(envelope)
	if m.cfg.Accountant != nil {
		if err := m.cfg.Accountant.AdmitDeployment(ctx, memBytes, fuel); err != nil {
			return caxton.Nil, err
		}
	}

	agentID := caxton.NewID()
	rec := &record{
		agentID:        agentID,
		state:          StateUnloaded,
		capabilities:   capabilities,
		envelope:       envelope,
		lastGoodCode:   moduleBytes,
		deployStrategy: strategy,
		deployedAt:     time.Now(),
		stateChangedAt: time.Now(),
	}

	m.mu.Lock()
	m.agents[agentID] = rec
	m.mu.Unlock()

	if m.cfg.Accountant != nil {
		m.cfg.Accountant.Track(agentID)
	}

	rec.mu.Lock()
	loadErr := m.doLoad(ctx, rec)
	if loadErr == nil {
		loadErr = m.doStart(ctx, rec)
	}
	rec.mu.Unlock()

	if loadErr != nil {
		rec.mu.Lock()
		m.teardown(ctx, rec)
		rec.mu.Unlock()
		m.mu.Lock()
		delete(m.agents, agentID)
		m.mu.Unlock()
		return caxton.Nil, loadErr
	}

	return agentID, nil
}

// doLoad performs Unloaded -> Loaded: compiles and instantiates the
// module outside any lock held longer than necessary, then commits the
// state transition under rec.mu (already held by the caller).
func (m *Manager) doLoad(ctx context.Context, rec *record) error {
	act := actionLoad
	if rec.state == StateFailed {
		act = actionRecover
	}
	to, ok := nextState(rec.state, act)
	if !ok {
		return caxton.NewError(caxton.KindIllegalTransition, rec.agentID, nil, "load from "+string(rec.state))
	}

	handle, err := m.cfg.Sandbox.Load(ctx, rec.agentID, rec.lastGoodCode, rec.envelope)
	if err != nil {
		return err
	}

	timeout := rec.envelope.InvokeTimeout
	if timeout <= 0 {
		timeout = sandbox.DefaultInvokeTimeout
	}
	if _, err := m.cfg.Sandbox.Invoke(ctx, handle, "init", nil, time.Now().Add(timeout)); err != nil {
		m.cfg.Sandbox.Drop(ctx, handle)
		return caxton.NewError(caxton.KindInvalidModule, rec.agentID, err, "module failed to initialize")
	}

	from := rec.state
	rec.handle = handle
	rec.state = to
	rec.stateChangedAt = time.Now()
	m.recordTransition(rec.agentID, from, to)
	return nil
}

// doStart performs Loaded -> Running and registers the agent's
// capabilities with the router.
func (m *Manager) doStart(ctx context.Context, rec *record) error {
	to, ok := nextState(rec.state, actionStart)
	if !ok {
		return caxton.NewError(caxton.KindIllegalTransition, rec.agentID, nil, "start from "+string(rec.state))
	}

	from := rec.state
	rec.state = to
	rec.stateChangedAt = time.Now()
	if m.cfg.Registrar != nil {
		m.cfg.Registrar.RegisterAgent(rec.agentID, rec.capabilities)
	}
	m.recordTransition(rec.agentID, from, to)
	return nil
}

// Suspend performs Running -> Loaded: the instance is deregistered from
// the router but its memory is retained.
func (m *Manager) Suspend(agentID caxton.ID) error {
	rec, err := m.lookup(agentID)
	if err != nil {
		return err
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()

	to, ok := nextState(rec.state, actionSuspend)
	if !ok {
		return caxton.NewError(caxton.KindIllegalTransition, agentID, nil, "suspend from "+string(rec.state))
	}
	if err := m.cfg.Sandbox.Suspend(rec.handle); err != nil {
		return err
	}

	from := rec.state
	rec.state = to
	rec.stateChangedAt = time.Now()
	if m.cfg.Registrar != nil {
		m.cfg.Registrar.DeregisterAgent(agentID)
	}
	m.recordTransition(agentID, from, to)
	return nil
}

// Resume performs Loaded -> Running again, re-registering capabilities.
func (m *Manager) Resume(ctx context.Context, agentID caxton.ID) error {
	rec, err := m.lookup(agentID)
	if err != nil {
		return err
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()

	if err := m.cfg.Sandbox.Resume(rec.handle); err != nil {
		return err
	}
	return m.doStart(ctx, rec)
}

// Stop drains the agent's inbox (the caller, typically the router, stops
// enqueueing new messages once Draining is observed) then transitions
// to Stopped, either when the drain completes or timeout elapses.
func (m *Manager) Stop(ctx context.Context, agentID caxton.ID, timeout time.Duration) error {
	if timeout <= 0 {
		timeout = m.cfg.DrainTimeout
	}

	rec, err := m.lookup(agentID)
	if err != nil {
		return err
	}
	rec.mu.Lock()

	to, ok := nextState(rec.state, actionDrain)
	if !ok {
		rec.mu.Unlock()
		return caxton.NewError(caxton.KindIllegalTransition, agentID, nil, "drain from "+string(rec.state))
	}
	from := rec.state
	rec.state = to
	rec.stateChangedAt = time.Now()
	if m.cfg.Registrar != nil {
		m.cfg.Registrar.DeregisterAgent(agentID)
	}
	m.recordTransition(agentID, from, to)
	rec.mu.Unlock()

	m.awaitDrain(ctx, agentID, timeout)

	rec.mu.Lock()
	defer rec.mu.Unlock()

	finalTo, ok := nextState(rec.state, actionFinish)
	if !ok {
		return caxton.NewError(caxton.KindIllegalTransition, agentID, nil, "finish from "+string(rec.state))
	}
	from = rec.state
	rec.state = finalTo
	rec.stateChangedAt = time.Now()
	m.recordTransition(agentID, from, finalTo)
	m.teardown(ctx, rec)
	return nil
}

// awaitDrain blocks until agentID's inbox empties or timeout elapses,
// whichever comes first. With no InboxObserver configured it falls back
// to waiting out the full timeout, since there is no way to observe
// drain progress.
func (m *Manager) awaitDrain(ctx context.Context, agentID caxton.ID, timeout time.Duration) {
	drainCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if m.cfg.Inbox == nil {
		<-drainCtx.Done()
		return
	}

	if m.cfg.Inbox.InboxDepth(agentID) == 0 {
		return
	}

	ticker := time.NewTicker(DefaultDrainPollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-drainCtx.Done():
			return
		case <-ticker.C:
			if m.cfg.Inbox.InboxDepth(agentID) == 0 {
				return
			}
		}
	}
}

// Terminate forces Stopped unconditionally from any non-Stopped state,
// consuming the agent's identity.
func (m *Manager) Terminate(ctx context.Context, agentID caxton.ID) error {
	rec, err := m.lookup(agentID)
	if err != nil {
		return err
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()

	if terminal(rec.state) {
		return nil
	}

	from := rec.state
	rec.state = StateStopped
	rec.stateChangedAt = time.Now()
	if m.cfg.Registrar != nil {
		m.cfg.Registrar.DeregisterAgent(agentID)
	}
	m.recordTransition(agentID, from, StateStopped)
	m.teardown(ctx, rec)
	return nil
}

// teardown drops the sandbox instance and stops accountant tracking. It
// must be called with rec.mu held.
func (m *Manager) teardown(ctx context.Context, rec *record) {
	if !rec.handle.IsNil() {
		m.cfg.Sandbox.Drop(ctx, rec.handle)
	}
	if rec.shadow != nil {
		m.cfg.Sandbox.Drop(ctx, *rec.shadow)
	}
	if m.cfg.Accountant != nil {
		m.cfg.Accountant.Untrack(rec.agentID)
	}
}

// Status returns a read-only snapshot of agentID's lifecycle state.
func (m *Manager) Status(agentID caxton.ID) (Status, error) {
	rec, err := m.lookup(agentID)
	if err != nil {
		return Status{}, err
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()

	return Status{
		AgentID:          agentID,
		State:            rec.state,
		Uptime:           time.Since(rec.deployedAt),
		Capabilities:     append([]string(nil), rec.capabilities...),
		RecoveryAttempts: rec.recoveryAttempts,
	}, nil
}

// Handle returns the sandbox instance handle and current state for
// agentID, for the router to use when delivering messages. It returns
// them whatever the state is, leaving the Running check to the caller;
// it returns an error only when agentID is unknown.
func (m *Manager) Handle(agentID caxton.ID) (sandbox.InstanceHandle, State, error) {
	rec, err := m.lookup(agentID)
	if err != nil {
		return caxton.Nil, "", err
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	return rec.handle, rec.state, nil
}

// Trap is called by the invocation path (router or accountant) when a
// sandbox trap occurs. It transitions Running -> Failed and, if the
// recovery policy is enabled, schedules a recovery attempt.
func (m *Manager) Trap(ctx context.Context, agentID caxton.ID, cause error) {
	rec, err := m.lookup(agentID)
	if err != nil {
		return
	}
	rec.mu.Lock()
	to, ok := nextState(rec.state, actionTrap)
	if !ok {
		rec.mu.Unlock()
		return
	}
	from := rec.state
	rec.state = to
	rec.stateChangedAt = time.Now()
	if m.cfg.Registrar != nil {
		m.cfg.Registrar.DeregisterAgent(agentID)
	}
	m.recordTransition(agentID, from, to)
	rec.mu.Unlock()

	if m.cfg.Metrics != nil {
		m.cfg.Metrics.RecordRecovery(agentID.String(), "trapped")
	}

	go m.attemptRecovery(ctx, agentID, cause)
}

func (m *Manager) lookup(agentID caxton.ID) (*record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.agents[agentID]
	if !ok {
		return nil, caxton.NewError(caxton.KindAgentUnavailable, agentID, nil, "unknown agent")
	}
	return rec, nil
}
