package sandbox

import (
	"fmt"
	"time"
)

// wasmPageSize is the fixed WASM linear-memory page size (64 KiB).
const wasmPageSize = 64 * 1024

// defaultAllowedHostCalls is the envelope's default allowed set when the
// caller does not specify one: logging, memory-store operations,
// message-send, and time.
var defaultAllowedHostCalls = []string{
	"host.log",
	"host.send_message",
	"host.memory_store_entity",
	"host.memory_create_relation",
	"host.memory_search",
	"host.time_now_millis",
}

// requiredExports are the entry points every loaded module must export
// (spec §4.1 step 3).
var requiredExports = []string{"on_message", "init"}

// dangerousImportModules are import module names that signal a module is
// trying to reach outside its sandbox (filesystem, network, process
// primitives); any import from one of these is rejected outright.
var dangerousImportModules = map[string]bool{
	"wasi_snapshot_preview1": true,
	"wasi_unstable":          true,
	"env_fs":                 true,
	"env_net":                true,
	"env_process":            true,
}

// ResourceEnvelope bounds what a loaded module may consume and call.
type ResourceEnvelope struct {
	// MemoryLimitPages caps the instance's linear memory growth, in 64 KiB
	// pages. Zero means DefaultMemoryLimitPages.
	MemoryLimitPages uint32

	// FuelLimit caps the number of function-call "instructions" an
	// invocation may spend before it traps with FuelExhausted. Zero means
	// DefaultFuelLimit.
	FuelLimit uint64

	// InvokeTimeout caps the wall-clock duration of a single invoke call.
	// Zero means DefaultInvokeTimeout.
	InvokeTimeout time.Duration

	// AllowedHostCalls is the whitelist of host import names the module
	// may import. Nil means defaultAllowedHostCalls.
	AllowedHostCalls []string
}

const (
	DefaultMemoryLimitPages uint32        = 160 // 10 MiB
	DefaultFuelLimit        uint64        = 10_000_000
	DefaultInvokeTimeout    time.Duration = 30 * time.Second
)

func (e ResourceEnvelope) withDefaults() ResourceEnvelope {
	if e.MemoryLimitPages == 0 {
		e.MemoryLimitPages = DefaultMemoryLimitPages
	}
	if e.FuelLimit == 0 {
		e.FuelLimit = DefaultFuelLimit
	}
	if e.InvokeTimeout == 0 {
		e.InvokeTimeout = DefaultInvokeTimeout
	}
	if e.AllowedHostCalls == nil {
		e.AllowedHostCalls = defaultAllowedHostCalls
	}
	return e
}

func (e ResourceEnvelope) allowedSet() map[string]bool {
	set := make(map[string]bool, len(e.AllowedHostCalls))
	for _, name := range e.AllowedHostCalls {
		set[name] = true
	}
	return set
}

// importRef is a pure, wazero-independent description of one module
// import, extracted from a compiled module so the whitelist/dangerous-
// feature checks can be unit tested without compiling real WASM bytes.
type importRef struct {
	moduleName string
	name       string
}

// checkImports enforces envelope step 2 (import whitelist) and step 5
// (dangerous-feature rejection) against the flattened import list of a
// compiled module.
func checkImports(imports []importRef, allowed map[string]bool) error {
	for _, imp := range imports {
		if dangerousImportModules[imp.moduleName] {
			return fmt.Errorf("%w: module imports dangerous capability %s.%s", ErrDangerousImport, imp.moduleName, imp.name)
		}
		if imp.moduleName != "host" && imp.moduleName != "env" {
			return fmt.Errorf("%w: import module %q not in {host, env}", ErrImportNotWhitelisted, imp.moduleName)
		}
		if imp.moduleName == "host" && !allowed[imp.name] {
			return fmt.Errorf("%w: host call %q not in envelope allowed set", ErrImportNotWhitelisted, imp.name)
		}
	}
	return nil
}

// checkExports enforces envelope step 3: the module must export every
// name in requiredExports.
func checkExports(exported map[string]bool) error {
	for _, want := range requiredExports {
		if !exported[want] {
			return fmt.Errorf("%w: missing required export %q", ErrMissingExport, want)
		}
	}
	return nil
}

// checkMemoryDeclaration enforces envelope step 4: declared initial pages
// times the page size must not exceed the envelope's memory limit.
func checkMemoryDeclaration(initialPages, limitPages uint32) error {
	if initialPages > limitPages {
		return fmt.Errorf("%w: declares %d initial pages (%d bytes), exceeds envelope limit of %d pages",
			ErrMemoryDeclarationExceeded, initialPages, initialPages*wasmPageSize, limitPages)
	}
	return nil
}
