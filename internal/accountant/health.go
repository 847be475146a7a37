package accountant

import (
	"context"
	"time"

	"github.com/caxton-io/caxton/internal/caxton"
	"go.uber.org/zap"
)

// healthCheckLoop pings every tracked agent on HealthCheckInterval. An
// agent that fails UnhealthyThreshold consecutive pings is handed to the
// FailureNotifier; a successful ping resets its consecutive-failure
// count to zero.
func (a *Accountant) healthCheckLoop(ctx context.Context) {
	defer a.wg.Done()

	ticker := time.NewTicker(a.cfg.HealthCheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-a.stopCh:
			return
		case <-ticker.C:
			a.runHealthCheckRound(ctx)
		}
	}
}

func (a *Accountant) runHealthCheckRound(ctx context.Context) {
	if a.cfg.Pinger == nil {
		return
	}

	a.mu.Lock()
	agentIDs := make([]caxton.ID, 0, len(a.usage))
	for id := range a.usage {
		agentIDs = append(agentIDs, id)
	}
	a.mu.Unlock()

	for _, agentID := range agentIDs {
		a.checkOne(ctx, agentID)
	}
}

func (a *Accountant) checkOne(ctx context.Context, agentID caxton.ID) {
	pingCtx, cancel := context.WithTimeout(ctx, a.cfg.HealthCheckBudget)
	err := a.cfg.Pinger.Ping(pingCtx, agentID, a.cfg.HealthCheckBudget)
	cancel()

	a.mu.Lock()
	u, ok := a.usage[agentID]
	if !ok {
		a.mu.Unlock()
		return
	}

	if err == nil {
		u.ConsecutiveFails = 0
		u.LastHealthy = time.Now()
		a.mu.Unlock()
		return
	}

	u.ConsecutiveFails++
	fails := u.ConsecutiveFails
	a.mu.Unlock()

	a.logger.Warn("agent health check failed",
		zap.String("agent_id", agentID.String()),
		zap.Int("consecutive_fails", fails),
		zap.Error(err),
	)

	if fails >= a.cfg.UnhealthyThreshold && a.cfg.Notifier != nil {
		a.cfg.Notifier.MarkFailed(agentID, err)
	}
}
