package lifecycle

import "time"

// DeployStrategyKind selects how a fresh deployment is rolled out.
type DeployStrategyKind string

const (
	DeployImmediate DeployStrategyKind = "immediate"
	DeployRolling   DeployStrategyKind = "rolling"
	DeployBlueGreen DeployStrategyKind = "blue_green"
	DeployCanary    DeployStrategyKind = "canary"
)

// DeployStrategy parameterizes deploy(). BatchSize applies to Rolling;
// CanaryPercent/CanaryDuration apply to Canary. A zero-value strategy is
// DeployImmediate.
type DeployStrategy struct {
	Kind           DeployStrategyKind
	BatchSize      int
	CanaryPercent  float64
	CanaryDuration time.Duration
}

// ImmediateDeploy is the default strategy: the agent goes straight to
// Running once its instance warms up.
func ImmediateDeploy() DeployStrategy {
	return DeployStrategy{Kind: DeployImmediate}
}

// HotReloadStrategyKind selects how traffic moves from an old sandbox
// instance to a newly loaded one during hot_reload.
type HotReloadStrategyKind string

const (
	ReloadGraceful        HotReloadStrategyKind = "graceful"
	ReloadTrafficSplit    HotReloadStrategyKind = "traffic_splitting"
	ReloadParallel        HotReloadStrategyKind = "parallel"
)

// TrafficStep is one point on a TrafficSplitting curve: elapsed time At
// and a Percent (0-100) for the new version. HotReload waits until each
// step's time and logs its Percent; no traffic is routed to the new
// version before promotion.
type TrafficStep struct {
	At      time.Duration
	Percent float64
}

// HotReloadStrategy parameterizes hot_reload(). RollbackErrorRateFactor
// drives the rollback rule: if the new version's error rate exceeds the
// old version's by this factor, the reload is automatically reverted and
// HotReloadFailed is reported. The rates are read once, after the
// strategy's observation phase; RollbackWindow is the length of that
// phase for Parallel only, and the other kinds do not wait on it.
type HotReloadStrategy struct {
	Kind                    HotReloadStrategyKind
	Curve                   []TrafficStep
	RollbackErrorRateFactor float64
	RollbackWindow          time.Duration
}

// GracefulReload is the default strategy: the new version fully warms
// (init completes) before the old version is drained.
func GracefulReload() HotReloadStrategy {
	return HotReloadStrategy{
		Kind:                    ReloadGraceful,
		RollbackErrorRateFactor: 2.0,
		RollbackWindow:          30 * time.Second,
	}
}
