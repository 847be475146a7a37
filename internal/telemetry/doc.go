// Package telemetry wraps OpenTelemetry SDK setup for Caxton's traces and
// metrics, driven by internal/config.TelemetryConfig. When telemetry is
// disabled, no exporters are created and the global providers remain noop.
package telemetry
