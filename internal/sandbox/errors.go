package sandbox

import "errors"

// Validation-pipeline sentinel errors (spec §4.1), wrapped with
// fmt.Errorf("...: %w", ...) at the call site per the teacher's sentinel-
// error idiom (agent/protocol/a2a/errors.go).
var (
	ErrStructuralValidation      = errors.New("sandbox: module failed structural WASM validation")
	ErrImportNotWhitelisted      = errors.New("sandbox: import not in envelope whitelist")
	ErrDangerousImport           = errors.New("sandbox: module imports a dangerous host capability")
	ErrMissingExport             = errors.New("sandbox: module missing required export")
	ErrMemoryDeclarationExceeded = errors.New("sandbox: declared memory exceeds envelope limit")

	ErrInstanceNotFound  = errors.New("sandbox: instance handle not found")
	ErrInstanceSuspended = errors.New("sandbox: instance is suspended")
	ErrInstanceFailed    = errors.New("sandbox: instance has trapped and is marked Failed")

	ErrFuelExhausted = errors.New("sandbox: instance fuel exhausted")
	ErrTimeout       = errors.New("sandbox: invocation deadline exceeded")
	ErrTrap          = errors.New("sandbox: instance trapped")
)
