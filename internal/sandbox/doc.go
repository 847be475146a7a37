// Package sandbox implements the Sandbox Host: loading, invoking, and
// tearing down WASM agent modules inside isolated wazero runtimes.
//
// Every agent module runs with private linear memory, a host call table
// scoped to a single invoking agent identity, and enforced memory/fuel/
// wall-clock budgets. A trap terminates only the invocation that caused it;
// the instance is marked Failed and handed back to the lifecycle manager,
// never allowed to affect the host process or another instance.
package sandbox
