// Package config provides Caxton's configuration management: a typed
// Config tree covering every subsystem (sandbox, lifecycle, router,
// memory, accountant, storage, log, telemetry), a Loader that merges
// defaults, an optional YAML file, and environment variable overrides,
// and a HotReloadManager that watches the config file for changes and
// applies hot-reloadable fields without a restart.
//
// Configuration precedence is defaults -> YAML file -> environment
// variables, matching the teacher's layering.
package config
