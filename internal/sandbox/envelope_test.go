package sandbox

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCheckImportsRejectsDangerousModule(t *testing.T) {
	imports := []importRef{{moduleName: "wasi_snapshot_preview1", name: "fd_write"}}
	err := checkImports(imports, map[string]bool{})
	require.ErrorIs(t, err, ErrDangerousImport)
}

func TestCheckImportsRejectsUnknownModule(t *testing.T) {
	imports := []importRef{{moduleName: "whatever", name: "fn"}}
	err := checkImports(imports, map[string]bool{})
	require.ErrorIs(t, err, ErrImportNotWhitelisted)
}

func TestCheckImportsRejectsUnlistedHostCall(t *testing.T) {
	imports := []importRef{{moduleName: "host", name: "host.not_allowed"}}
	err := checkImports(imports, map[string]bool{"host.log": true})
	require.ErrorIs(t, err, ErrImportNotWhitelisted)
}

func TestCheckImportsAllowsWhitelisted(t *testing.T) {
	imports := []importRef{
		{moduleName: "host", name: "host.log"},
		{moduleName: "env", name: "memcpy"},
	}
	err := checkImports(imports, map[string]bool{"host.log": true})
	require.NoError(t, err)
}

func TestCheckExportsRejectsMissingEntryPoint(t *testing.T) {
	err := checkExports(map[string]bool{"init": true})
	require.ErrorIs(t, err, ErrMissingExport)
}

func TestCheckExportsAcceptsComplete(t *testing.T) {
	err := checkExports(map[string]bool{"init": true, "on_message": true})
	require.NoError(t, err)
}

func TestCheckMemoryDeclarationRejectsOversized(t *testing.T) {
	err := checkMemoryDeclaration(200, 160)
	require.ErrorIs(t, err, ErrMemoryDeclarationExceeded)
}

func TestCheckMemoryDeclarationAcceptsWithinLimit(t *testing.T) {
	require.NoError(t, checkMemoryDeclaration(100, 160))
}

func TestEnvelopeWithDefaults(t *testing.T) {
	e := ResourceEnvelope{}.withDefaults()
	require.Equal(t, DefaultMemoryLimitPages, e.MemoryLimitPages)
	require.Equal(t, DefaultFuelLimit, e.FuelLimit)
	require.Equal(t, DefaultInvokeTimeout, e.InvokeTimeout)
	require.Equal(t, defaultAllowedHostCalls, e.AllowedHostCalls)
}
