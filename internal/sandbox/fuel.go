package sandbox

import (
	"context"
	"sync/atomic"

	"github.com/tetratelabs/wazero/api"
	"github.com/tetratelabs/wazero/experimental"
)

// fuelCounter tracks instruction-family "fuel" spent by one instance,
// approximated (per spec §9 Open Question resolution) by counting guest
// function calls rather than individual WASM instructions — wazero does
// not expose true per-instruction accounting, and counting calls is the
// cheapest proxy that still makes runaway loops (the case fuel exists to
// catch) observable.
type fuelCounter struct {
	used  atomic.Uint64
	limit uint64
	// cancel aborts the in-flight invocation once limit is crossed. Paired
	// with wazero.RuntimeConfig.WithCloseOnContextDone, canceling the
	// invocation's context terminates the running call promptly.
	cancel context.CancelFunc
}

func newFuelCounter(limit uint64, cancel context.CancelFunc) *fuelCounter {
	return &fuelCounter{limit: limit, cancel: cancel}
}

func (f *fuelCounter) spent() uint64 {
	return f.used.Load()
}

func (f *fuelCounter) exhausted() bool {
	return f.used.Load() >= f.limit
}

// fuelListenerFactory adapts a fuelCounter into wazero's experimental
// function-listener hook, which fires before and after every guest
// function call.
type fuelListenerFactory struct {
	counter *fuelCounter
}

func (f fuelListenerFactory) NewFunctionListener(api.FunctionDefinition) experimental.FunctionListener {
	return fuelListener{counter: f.counter}
}

type fuelListener struct {
	counter *fuelCounter
}

func (l fuelListener) Before(ctx context.Context, _ api.Module, _ api.FunctionDefinition, _ []uint64, _ experimental.StackIterator) {
	if l.counter.used.Add(1) >= l.counter.limit && l.counter.cancel != nil {
		l.counter.cancel()
	}
}

func (l fuelListener) After(context.Context, api.Module, api.FunctionDefinition, []uint64) {}

func (l fuelListener) Abort(context.Context, api.Module, api.FunctionDefinition, error) {}

func withFuelListener(ctx context.Context, counter *fuelCounter) context.Context {
	return experimental.WithFunctionListenerFactory(ctx, fuelListenerFactory{counter: counter})
}
