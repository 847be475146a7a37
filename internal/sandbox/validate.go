package sandbox

import "github.com/tetratelabs/wazero"

// validateCompiledModule runs validation pipeline steps 2-4 (spec §4.1)
// against an already structurally-valid compiled module. Step 1
// (structural validation) already happened inside wazero's CompileModule.
func validateCompiledModule(compiled wazero.CompiledModule, envelope ResourceEnvelope) error {
	imports := make([]importRef, 0, len(compiled.ImportedFunctions()))
	for _, def := range compiled.ImportedFunctions() {
		moduleName, name, isImport := def.Import()
		if !isImport {
			continue
		}
		imports = append(imports, importRef{moduleName: moduleName, name: name})
	}
	if err := checkImports(imports, envelope.allowedSet()); err != nil {
		return err
	}

	exported := make(map[string]bool, len(compiled.ExportedFunctions()))
	for name := range compiled.ExportedFunctions() {
		exported[name] = true
	}
	if err := checkExports(exported); err != nil {
		return err
	}

	var initialPages uint32
	for _, mem := range compiled.ImportedMemories() {
		initialPages += mem.Min()
	}
	for _, mem := range compiled.ExportedMemories() {
		initialPages += mem.Min()
	}
	return checkMemoryDeclaration(initialPages, envelope.MemoryLimitPages)
}
