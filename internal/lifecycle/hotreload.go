package lifecycle

import (
	"context"
	"time"

	"github.com/caxton-io/caxton/internal/caxton"
	"github.com/caxton-io/caxton/internal/events"
	"github.com/caxton-io/caxton/internal/sandbox"
	"go.uber.org/zap"
)

// ErrorRateObserver reports a handle's recent error rate (0.0-1.0), used
// by the rollback rule to compare the new version against the old one.
// Optional; when Config.ErrorRates is nil, hot reload never rolls back
// automatically (the caller can still call Terminate/Suspend manually).
type ErrorRateObserver interface {
	ErrorRate(agentID caxton.ID, handle sandbox.InstanceHandle) float64
}

// ShadowHandle returns the active shadow instance handle installed by an
// in-progress hot reload, if any. The router does not read it: while a
// reload is in progress the primary handle serves all traffic until the
// shadow is promoted.
func (m *Manager) ShadowHandle(agentID caxton.ID) (sandbox.InstanceHandle, bool, error) {
	rec, err := m.lookup(agentID)
	if err != nil {
		return caxton.Nil, false, err
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	if rec.shadow == nil {
		return caxton.Nil, false, nil
	}
	return *rec.shadow, true, nil
}

// HotReload replaces a Running agent's module without dropping
// messages: a new sandbox instance is loaded and warmed alongside the
// old one, then promoted to primary according to strategy. On failure
// the shadow is dropped and the original instance keeps serving.
func (m *Manager) HotReload(ctx context.Context, agentID caxton.ID, newBytes []byte, strategy HotReloadStrategy) error {
	rec, err := m.lookup(agentID)
	if err != nil {
		return err
	}

	start := time.Now()

	rec.mu.Lock()
	if rec.state != StateRunning {
		rec.mu.Unlock()
		return caxton.NewError(caxton.KindIllegalTransition, agentID, nil, "hot_reload requires Running, got "+string(rec.state))
	}
	envelope := rec.envelope
	oldHandle := rec.handle
	rec.mu.Unlock()

	m.emitReloadPhase(agentID, strategy.Kind, "warming")

	shadowHandle, err := m.cfg.Sandbox.Load(ctx, agentID, newBytes, envelope)
	if err != nil {
		m.finishReload(agentID, strategy.Kind, "failed", time.Since(start))
		return caxton.NewError(caxton.KindHotReloadFailed, agentID, err, "failed to load new version")
	}
	if _, err := m.cfg.Sandbox.Invoke(ctx, shadowHandle, "init", nil, time.Now().Add(envelope.InvokeTimeout)); err != nil {
		m.cfg.Sandbox.Drop(ctx, shadowHandle)
		m.finishReload(agentID, strategy.Kind, "failed", time.Since(start))
		return caxton.NewError(caxton.KindHotReloadFailed, agentID, err, "new version failed to initialize")
	}

	rec.mu.Lock()
	rec.shadow = &shadowHandle
	rec.mu.Unlock()
	m.emitReloadPhase(agentID, strategy.Kind, "warmed")

	switch strategy.Kind {
	case ReloadTrafficSplit:
		m.runTrafficSplit(ctx, agentID, strategy)
	case ReloadParallel:
		m.runParallelCompare(ctx, agentID, strategy)
	default:
		// Graceful: no observation window, promote once warmed.
	}

	if m.shouldRollback(agentID, oldHandle, shadowHandle, strategy) {
		m.cfg.Sandbox.Drop(ctx, shadowHandle)
		rec.mu.Lock()
		rec.shadow = nil
		rec.mu.Unlock()
		m.finishReload(agentID, strategy.Kind, "rolled_back", time.Since(start))
		return caxton.NewError(caxton.KindHotReloadFailed, agentID, nil, "rollback: new version error rate exceeded threshold")
	}

	rec.mu.Lock()
	rec.handle = shadowHandle
	rec.shadow = nil
	rec.lastGoodCode = newBytes
	rec.mu.Unlock()

	m.cfg.Sandbox.Drop(ctx, oldHandle)
	m.finishReload(agentID, strategy.Kind, "promoted", time.Since(start))
	return nil
}

func (m *Manager) runTrafficSplit(ctx context.Context, agentID caxton.ID, strategy HotReloadStrategy) {
	start := time.Now()
	for _, step := range strategy.Curve {
		wait := step.At - time.Since(start)
		if wait > 0 {
			timer := time.NewTimer(wait)
			select {
			case <-ctx.Done():
				timer.Stop()
				return
			case <-timer.C:
			}
		}
		m.logger.Debug("traffic split step",
			zap.String("agent_id", agentID.String()),
			zap.Float64("percent", step.Percent),
		)
	}
}

func (m *Manager) runParallelCompare(ctx context.Context, agentID caxton.ID, strategy HotReloadStrategy) {
	if strategy.RollbackWindow <= 0 {
		return
	}
	timer := time.NewTimer(strategy.RollbackWindow)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}

// shouldRollback applies the rollback rule: if an ErrorRateObserver is
// configured and the new version's error rate exceeds the old version's
// by RollbackErrorRateFactor, the reload reverts.
func (m *Manager) shouldRollback(agentID caxton.ID, oldHandle, newHandle sandbox.InstanceHandle, strategy HotReloadStrategy) bool {
	if m.cfg.ErrorRates == nil || strategy.RollbackErrorRateFactor <= 0 {
		return false
	}
	oldRate := m.cfg.ErrorRates.ErrorRate(agentID, oldHandle)
	newRate := m.cfg.ErrorRates.ErrorRate(agentID, newHandle)
	if oldRate <= 0 {
		return false
	}
	return newRate > oldRate*strategy.RollbackErrorRateFactor
}

func (m *Manager) emitReloadPhase(agentID caxton.ID, kind HotReloadStrategyKind, phase string) {
	if m.cfg.Metrics != nil {
		m.cfg.Metrics.RecordHotReloadPhase(agentID.String(), string(kind), phase)
	}
	m.emit(events.TypeHotReloadPhase, agentID, map[string]any{"strategy": string(kind), "phase": phase})
}

func (m *Manager) finishReload(agentID caxton.ID, kind HotReloadStrategyKind, outcome string, duration time.Duration) {
	if m.cfg.Metrics != nil {
		m.cfg.Metrics.RecordHotReloadComplete(string(kind), outcome, duration)
	}
	m.emit(events.TypeHotReloadPhase, agentID, map[string]any{"strategy": string(kind), "phase": outcome})
}
