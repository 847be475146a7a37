package lifecycle

import (
	"context"
	"time"

	"github.com/caxton-io/caxton/internal/caxton"
	"go.uber.org/zap"
)

// attemptRecovery consults the recovery policy after an agent enters
// Failed. If eligible, a fresh instance is loaded from the last
// known-good module bytes, preserving the agent's ID, capability
// registrations, and conversation memberships (the record itself is
// never replaced, only its sandbox handle). Backoff between the caller
// observing Failed and the retry is delegated to llm/retry.
func (m *Manager) attemptRecovery(ctx context.Context, agentID caxton.ID, cause error) {
	policy := m.cfg.Recovery
	if !policy.Enabled {
		m.logger.Info("recovery disabled, leaving agent failed", zap.String("agent_id", agentID.String()))
		return
	}

	rec, err := m.lookup(agentID)
	if err != nil {
		return
	}

	rec.mu.Lock()
	if rec.state != StateFailed {
		rec.mu.Unlock()
		return
	}
	if rec.recoveryAttempts >= policy.MaxAttempts {
		rec.mu.Unlock()
		m.logger.Warn("recovery attempts exhausted",
			zap.String("agent_id", agentID.String()),
			zap.Int("attempts", rec.recoveryAttempts),
			zap.Error(cause),
		)
		if m.cfg.Metrics != nil {
			m.cfg.Metrics.RecordRecovery(agentID.String(), "exhausted")
		}
		return
	}
	rec.recoveryAttempts++
	attempt := rec.recoveryAttempts
	rec.mu.Unlock()

	err = m.retryer.Do(ctx, func() error {
		rec.mu.Lock()
		defer rec.mu.Unlock()

		if rec.state != StateFailed {
			return nil
		}
		if err := m.doLoad(ctx, rec); err != nil {
			return err
		}
		return m.doStart(ctx, rec)
	})

	if err != nil {
		m.logger.Error("recovery attempt failed",
			zap.String("agent_id", agentID.String()),
			zap.Int("attempt", attempt),
			zap.Error(err),
		)
		if m.cfg.Metrics != nil {
			m.cfg.Metrics.RecordRecovery(agentID.String(), "failed")
		}
		return
	}

	m.logger.Info("agent recovered", zap.String("agent_id", agentID.String()), zap.Int("attempt", attempt))
	if m.cfg.Metrics != nil {
		m.cfg.Metrics.RecordRecovery(agentID.String(), "recovered")
	}

	go m.resetRecoveryCounterAfterGrace(ctx, agentID, policy.SustainedRunningGrace)
}

// resetRecoveryCounterAfterGrace zeroes the attempt counter once the
// agent has stayed Running for the configured grace period, so a flaky
// agent that recovers and then runs stably for a while isn't punished
// by a prior unrelated failure streak.
func (m *Manager) resetRecoveryCounterAfterGrace(ctx context.Context, agentID caxton.ID, grace time.Duration) {
	if grace <= 0 {
		return
	}
	timer := time.NewTimer(grace)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return
	case <-timer.C:
	}

	rec, err := m.lookup(agentID)
	if err != nil {
		return
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	if rec.state == StateRunning {
		rec.recoveryAttempts = 0
	}
}
