// Package accountant implements the Resource Accountant (C6): per-agent
// usage aggregation, a periodic health-check loop with three-strikes
// failure detection, and cluster-wide admission control.
//
// Health checking and the three-strikes policy are grounded on the
// teacher's agent/discovery health checker (UnhealthyThreshold,
// HealthCheckInterval fields); per-agent circuit tripping on sandbox
// trap rate reuses the teacher's llm/circuitbreaker package unmodified,
// repurposed here from LLM-call tripping to invoke-fault tripping. The
// aggregate admission budget (active agents, aggregate memory, aggregate
// fuel per window) follows the sliding-window-counter shape of
// llm/budget/token_budget.go, generalized from token/cost counters to
// memory/fuel counters.
package accountant
