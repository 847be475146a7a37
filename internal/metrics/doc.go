// Package metrics provides Prometheus instrumentation for the agent runtime,
// covering agent lifecycle transitions, message delivery outcomes, sandbox
// execution, and the associative memory subsystem.
//
// A Collector registers its metric families through promauto at construction
// time so callers never manage a Registry by hand. Every family lives under
// a single configurable namespace and is labeled for per-agent and
// per-capability breakdown in Grafana-style dashboards.
package metrics
