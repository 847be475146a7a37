package sandbox

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/caxton-io/caxton/internal/caxton"
	"github.com/caxton-io/caxton/internal/metrics"
	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
	"go.uber.org/zap"
)

// InstanceHandle identifies one loaded sandbox instance.
type InstanceHandle = caxton.ID

type instanceState int

const (
	stateLoaded instanceState = iota
	stateSuspended
	stateFailed
)

type instance struct {
	mu       sync.Mutex
	handle   InstanceHandle
	agentID  caxton.ID
	envelope ResourceEnvelope
	compiled wazero.CompiledModule
	module   api.Module
	state    instanceState
	failErr  error
}

// Config configures a Host.
type Config struct {
	Logger *zap.Logger
	// MemoryLimitPages caps linear memory growth across every instance
	// sharing this Host's runtime (wazero enforces this at the runtime
	// level, not per module). Zero uses DefaultMemoryLimitPages.
	// Per-agent envelopes may declare a smaller module-level expectation,
	// checked at Load time, but cannot exceed this host-wide ceiling.
	MemoryLimitPages uint32
	Metrics          *metrics.Collector
	Bridge           HostBridge
}

// Host owns one wazero.Runtime per process and the set of currently loaded
// instances. It implements the C1 Sandbox Host contract: load, invoke,
// suspend, resume, drop.
type Host struct {
	runtime wazero.Runtime
	bridge  HostBridge
	logger  *zap.Logger
	metrics *metrics.Collector

	mu        sync.RWMutex
	instances map[InstanceHandle]*instance
}

// NewHost constructs a Host with its own wazero runtime and registers the
// "host" module's host-call table (log, send_message, memory_store_entity,
// memory_create_relation, memory_search, time_now_millis).
func NewHost(ctx context.Context, cfg Config) (*Host, error) {
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.Bridge == nil {
		cfg.Bridge = NopHostBridge{}
	}
	if cfg.MemoryLimitPages == 0 {
		cfg.MemoryLimitPages = DefaultMemoryLimitPages
	}

	runtimeCfg := wazero.NewRuntimeConfig().
		WithMemoryLimitPages(cfg.MemoryLimitPages).
		WithCloseOnContextDone(true)
	h := &Host{
		runtime:   wazero.NewRuntimeWithConfig(ctx, runtimeCfg),
		bridge:    cfg.Bridge,
		logger:    cfg.Logger.With(zap.String("component", "sandbox.host")),
		metrics:   cfg.Metrics,
		instances: make(map[InstanceHandle]*instance),
	}

	if err := h.registerHostModule(ctx); err != nil {
		return nil, fmt.Errorf("sandbox: register host module: %w", err)
	}
	return h, nil
}

// Load runs the validation pipeline against wasmBytes and, if it passes,
// compiles and instantiates the module under envelope's resource limits.
func (h *Host) Load(ctx context.Context, agentID caxton.ID, wasmBytes []byte, envelope ResourceEnvelope) (InstanceHandle, error) {
	envelope = envelope.withDefaults()

	compiled, err := h.runtime.CompileModule(ctx, wasmBytes)
	if err != nil {
		return caxton.Nil, fmt.Errorf("%w: %v", ErrStructuralValidation, err)
	}

	if err := validateCompiledModule(compiled, envelope); err != nil {
		compiled.Close(ctx)
		return caxton.Nil, err
	}

	handle := caxton.NewID()
	modConfig := wazero.NewModuleConfig().WithName(handle.String())
	mod, err := h.runtime.InstantiateModule(ctx, compiled, modConfig)
	if err != nil {
		compiled.Close(ctx)
		return caxton.Nil, fmt.Errorf("sandbox: instantiate module: %w", err)
	}

	inst := &instance{
		handle:   handle,
		agentID:  agentID,
		envelope: envelope,
		compiled: compiled,
		module:   mod,
		state:    stateLoaded,
	}

	h.mu.Lock()
	h.instances[handle] = inst
	h.mu.Unlock()

	h.logger.Info("instance loaded", zap.String("handle", handle.String()), zap.String("agent_id", agentID.String()))
	return handle, nil
}

// Invoke calls entry on the instance identified by handle with input,
// enforcing envelope.InvokeTimeout and envelope.FuelLimit. A trap leaves
// the instance in Failed state; the current invocation's error alone is
// returned, never propagated beyond this call.
func (h *Host) Invoke(ctx context.Context, handle InstanceHandle, entry string, input []byte, deadline time.Time) ([]byte, error) {
	inst, err := h.get(handle)
	if err != nil {
		return nil, err
	}

	inst.mu.Lock()
	defer inst.mu.Unlock()

	switch inst.state {
	case stateSuspended:
		return nil, fmt.Errorf("%w: handle=%s", ErrInstanceSuspended, handle)
	case stateFailed:
		return nil, fmt.Errorf("%w: handle=%s: %v", ErrInstanceFailed, handle, inst.failErr)
	}

	fn := inst.module.ExportedFunction(entry)
	if fn == nil {
		return nil, fmt.Errorf("%w: entry point %q not exported", ErrMissingExport, entry)
	}

	invokeCtx := ctx
	if !deadline.IsZero() {
		var cancel context.CancelFunc
		invokeCtx, cancel = context.WithDeadline(ctx, deadline)
		defer cancel()
	}

	var fuelCancel context.CancelFunc
	invokeCtx, fuelCancel = context.WithCancel(invokeCtx)
	defer fuelCancel()

	counter := newFuelCounter(inst.envelope.FuelLimit, fuelCancel)
	invokeCtx = withFuelListener(invokeCtx, counter)

	ptr, inLen, err := writeGuestInput(invokeCtx, inst.module, input)
	if err != nil {
		return nil, fmt.Errorf("sandbox: write invocation input: %w", err)
	}

	start := time.Now()
	results, callErr := fn.Call(invokeCtx, uint64(ptr), uint64(inLen))
	elapsed := time.Since(start)

	if callErr != nil {
		outcome, classified := h.classifyTrap(invokeCtx, counter, deadline, callErr)
		inst.state = stateFailed
		inst.failErr = classified
		if h.metrics != nil {
			h.metrics.RecordSandboxInvocation(inst.agentID.String(), outcome, elapsed)
			h.metrics.RecordSandboxTrap(inst.agentID.String(), outcome)
			h.metrics.RecordFuelUsed(inst.agentID.String(), counter.spent())
		}
		return nil, classified
	}

	if h.metrics != nil {
		h.metrics.RecordSandboxInvocation(inst.agentID.String(), "ok", elapsed)
		h.metrics.RecordFuelUsed(inst.agentID.String(), counter.spent())
	}

	if len(results) < 2 {
		return nil, nil
	}
	outPtr, outLen := uint32(results[0]), uint32(results[1])
	return readGuestOutput(inst.module, outPtr, outLen)
}

func (h *Host) classifyTrap(ctx context.Context, counter *fuelCounter, deadline time.Time, callErr error) (string, error) {
	switch {
	case counter.exhausted():
		return "fuel_exhausted", fmt.Errorf("%w: %v", ErrFuelExhausted, callErr)
	case !deadline.IsZero() && time.Now().After(deadline):
		return "timeout", fmt.Errorf("%w: %v", ErrTimeout, callErr)
	case ctx.Err() != nil:
		return "timeout", fmt.Errorf("%w: %v", ErrTimeout, callErr)
	default:
		return "trap", fmt.Errorf("%w: %v", ErrTrap, callErr)
	}
}

// Suspend detaches the instance from scheduling without unloading it:
// Invoke on a suspended instance fails until Resume is called.
func (h *Host) Suspend(handle InstanceHandle) error {
	inst, err := h.get(handle)
	if err != nil {
		return err
	}
	inst.mu.Lock()
	defer inst.mu.Unlock()
	inst.state = stateSuspended
	return nil
}

// Resume re-attaches a suspended instance to scheduling.
func (h *Host) Resume(handle InstanceHandle) error {
	inst, err := h.get(handle)
	if err != nil {
		return err
	}
	inst.mu.Lock()
	defer inst.mu.Unlock()
	if inst.state == stateFailed {
		return fmt.Errorf("%w: handle=%s", ErrInstanceFailed, handle)
	}
	inst.state = stateLoaded
	return nil
}

// Drop releases all resources held by the instance. It never fails:
// releasing an already-dropped or unknown handle is a no-op.
func (h *Host) Drop(ctx context.Context, handle InstanceHandle) {
	h.mu.Lock()
	inst, ok := h.instances[handle]
	if ok {
		delete(h.instances, handle)
	}
	h.mu.Unlock()
	if !ok {
		return
	}

	inst.mu.Lock()
	defer inst.mu.Unlock()
	if inst.module != nil {
		_ = inst.module.Close(ctx)
	}
	if inst.compiled != nil {
		_ = inst.compiled.Close(ctx)
	}
}

// Close releases the underlying wazero runtime and every loaded instance.
func (h *Host) Close(ctx context.Context) error {
	h.mu.Lock()
	handles := make([]InstanceHandle, 0, len(h.instances))
	for handle := range h.instances {
		handles = append(handles, handle)
	}
	h.mu.Unlock()

	for _, handle := range handles {
		h.Drop(ctx, handle)
	}
	return h.runtime.Close(ctx)
}

func (h *Host) get(handle InstanceHandle) (*instance, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	inst, ok := h.instances[handle]
	if !ok {
		return nil, fmt.Errorf("%w: handle=%s", ErrInstanceNotFound, handle)
	}
	return inst, nil
}
