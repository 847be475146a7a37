package sandbox

import (
	"context"
	"errors"

	"github.com/tetratelabs/wazero/api"
)

// ErrNoAllocExport is returned when a guest module does not export the
// "alloc" function the host/guest calling convention requires for
// passing variable-length input and output.
var ErrNoAllocExport = errors.New("sandbox: guest module does not export alloc")

// writeGuestInput copies input into guest linear memory using the
// module's exported alloc(len uint32) -> ptr uint32 function, returning
// the pointer and length to pass as the entry point's arguments.
func writeGuestInput(ctx context.Context, mod api.Module, input []byte) (uint32, uint32, error) {
	if len(input) == 0 {
		return 0, 0, nil
	}
	alloc := mod.ExportedFunction("alloc")
	if alloc == nil {
		return 0, 0, ErrNoAllocExport
	}
	results, err := alloc.Call(ctx, uint64(len(input)))
	if err != nil {
		return 0, 0, err
	}
	ptr := uint32(results[0])
	if !mod.Memory().Write(ptr, input) {
		return 0, 0, errors.New("sandbox: write input to guest memory out of bounds")
	}
	return ptr, uint32(len(input)), nil
}

// readGuestOutput reads len bytes from guest memory at ptr, copying them
// out so the returned slice does not alias guest memory.
func readGuestOutput(mod api.Module, ptr, length uint32) ([]byte, error) {
	if length == 0 {
		return nil, nil
	}
	data, ok := mod.Memory().Read(ptr, length)
	if !ok {
		return nil, errors.New("sandbox: read output from guest memory out of bounds")
	}
	out := make([]byte, len(data))
	copy(out, data)
	return out, nil
}
