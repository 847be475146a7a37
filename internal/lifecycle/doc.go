// Package lifecycle implements the Lifecycle Manager (C2): the agent
// state machine, deploy/hot-reload/stop/terminate/status operations,
// recovery policy, and per-agent serialized transitions.
//
// The state machine's guarded-mutation style is grounded on the
// teacher's agent/discovery registry (per-record lock, status
// validation, event emission on every change). Deploy/hot-reload
// strategies are a generalization of the teacher's agent/deployment
// target/strategy/status enums from "where to deploy" to "how an agent
// version transitions." Recovery backoff reuses llm/retry's exponential
// backoff calculator unmodified.
package lifecycle
