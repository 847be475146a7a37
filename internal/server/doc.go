// Package server owns Caxton's ambient HTTP surface: health checks and
// Prometheus metrics. It never serves agent-facing traffic — the
// capability-routed message path stays entirely internal to the process
// (no HTTP/REST API) — so Manager only ever binds the metrics and health
// listeners the composition root constructs, each on its own port from
// internal/config.ServerConfig.
package server
