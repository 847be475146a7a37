package main

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/caxton-io/caxton/internal/accountant"
	"github.com/caxton-io/caxton/internal/caxton"
	"github.com/caxton-io/caxton/internal/config"
	"github.com/caxton-io/caxton/internal/events"
	"github.com/caxton-io/caxton/internal/lifecycle"
	"github.com/caxton-io/caxton/internal/memory"
	"github.com/caxton-io/caxton/internal/memory/embed"
	"github.com/caxton-io/caxton/internal/metrics"
	"github.com/caxton-io/caxton/internal/poolutil"
	"github.com/caxton-io/caxton/internal/router"
	"github.com/caxton-io/caxton/internal/sandbox"
	"github.com/caxton-io/caxton/internal/storage"
	"github.com/caxton-io/caxton/llm/circuitbreaker"
)

// pingEntryPoint is the reserved, side-effect-free entry point every
// deployed module must export. The accountant's health-check loop
// invokes it instead of a capability handler so a live-but-wedged
// instance (stuck in an infinite loop, say) is distinguishable from one
// that cleanly returns.
const pingEntryPoint = "on_ping"

// lifecycleDispatcher adapts a *lifecycle.Manager and a *sandbox.Host to
// router.Dispatcher. It is constructed empty and backfilled once both
// dependencies exist, because router.New must receive a Dispatcher before
// the lifecycle manager it will eventually point to has been built.
type lifecycleDispatcher struct {
	mgr  *lifecycle.Manager
	host *sandbox.Host
}

func (d *lifecycleDispatcher) Handle(agentID caxton.ID) (sandbox.InstanceHandle, lifecycle.State, error) {
	return d.mgr.Handle(agentID)
}

func (d *lifecycleDispatcher) Invoke(ctx context.Context, handle sandbox.InstanceHandle, entry string, input []byte, deadline time.Time) ([]byte, error) {
	return d.host.Invoke(ctx, handle, entry, input, deadline)
}

// lifecyclePinger adapts the same pair to accountant.Pinger: resolve the
// agent's live handle through the lifecycle manager, then invoke the
// reserved ping entry point through the sandbox host.
type lifecyclePinger struct {
	mgr  *lifecycle.Manager
	host *sandbox.Host
}

func (p *lifecyclePinger) Ping(ctx context.Context, agentID caxton.ID, budget time.Duration) error {
	handle, state, err := p.mgr.Handle(agentID)
	if err != nil {
		return err
	}
	if state != lifecycle.StateRunning {
		return fmt.Errorf("caxtond: agent %s not running (state %s)", agentID, state)
	}
	_, err = p.host.Invoke(ctx, handle, pingEntryPoint, nil, time.Now().Add(budget))
	return err
}

// lifecycleNotifier adapts *lifecycle.Manager to accountant.FailureNotifier.
type lifecycleNotifier struct {
	mgr *lifecycle.Manager
}

func (n *lifecycleNotifier) MarkFailed(agentID caxton.ID, reason error) {
	n.mgr.Trap(context.Background(), agentID, reason)
}

// system is every long-lived subsystem the serve command starts and stops.
type system struct {
	logger     *zap.Logger
	db         *gorm.DB
	pool       *storage.PoolManager
	host       *sandbox.Host
	router     *router.Router
	lifecycle  *lifecycle.Manager
	accountant *accountant.Accountant
	memoryStore *memory.Store
	metrics    *metrics.Collector
	events     *events.Emitter

	cleanupCancel context.CancelFunc
	cleanupDone   chan struct{}
}

// circuitThreshold translates the configured trap-rate trip threshold (a
// fraction in 0..1 of invocations that may trap before the breaker opens)
// into the circuit breaker's consecutive-failure count. The breaker only
// understands a raw count, computed as int(1/rate) and floored at 1: a
// rate close to 1 maps to a threshold of 1, smaller rates map to
// proportionally higher counts (0.25 gives 4), a rate of 0 or less maps
// to 1, and a rate of 1 or more falls back to the breaker's default.
func circuitThreshold(rate float64) int {
	if rate <= 0 {
		return 1
	}
	if rate >= 1 {
		return circuitbreaker.DefaultConfig().Threshold
	}
	threshold := int(1 / rate)
	if threshold < 1 {
		threshold = 1
	}
	return threshold
}

// buildSystem wires every subsystem in dependency order. Three pairs of
// components are mutually dependent at construction time (router needs a
// Dispatcher that resolves through the not-yet-built lifecycle manager;
// the lifecycle manager needs a Registrar that router.New builds
// internally; the accountant needs a Pinger/Notifier that resolve through
// the same not-yet-built manager). Each is broken by constructing the
// dependent-side adapter with its pointer fields nil, handing it to the
// constructor that needs it, and backfilling the fields once the real
// object exists. Nothing invokes a method on any adapter before buildSystem
// returns, so the temporarily-nil fields are never dereferenced.
func buildSystem(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*system, error) {
	m := metrics.NewCollector("caxton", logger)
	e := events.NewEmitter(events.DefaultBufferSize, logger)

	bridge := &sandboxBridge{logger: logger}
	host, err := sandbox.NewHost(ctx, sandbox.Config{
		Logger:           logger,
		MemoryLimitPages: cfg.Sandbox.MemoryLimitPages,
		Metrics:          m,
		Bridge:           bridge,
	})
	if err != nil {
		return nil, fmt.Errorf("caxtond: build sandbox host: %w", err)
	}

	dispatcher := &lifecycleDispatcher{host: host}
	deliveryPool := poolutil.NewWorkerPool(poolutil.DefaultWorkerPoolConfig())
	r := router.New(router.Config{
		Logger:          logger,
		Dispatcher:      dispatcher,
		Metrics:         m,
		Events:          e,
		ConversationTTL: cfg.Router.ConversationIdleTTL,
		DedupWindow:     cfg.Router.DedupCacheTTL,
		InboxCapacity:   cfg.Router.InboxCapacity,
		DeliveryPool:    deliveryPool,
	})

	pinger := &lifecyclePinger{host: host}
	notifier := &lifecycleNotifier{}

	breakerCfg := circuitbreaker.DefaultConfig()
	breakerCfg.Threshold = circuitThreshold(cfg.Accountant.TrapRateTripThreshold)

	acct := accountant.New(accountant.Config{
		Logger:   logger,
		Pinger:   pinger,
		Notifier: notifier,
		Metrics:  m,
		Events:   e,
		Breaker:  breakerCfg,
		Budget: accountant.Budget{
			MaxActiveAgents:    cfg.Accountant.MaxActiveAgents,
			MaxAggregateMemory: uint64(cfg.Accountant.MemoryBudgetBytes),
			MaxAggregateFuel:   cfg.Accountant.FuelBudgetPerWindow,
			Window:             cfg.Accountant.WindowDuration,
			WarnThreshold:      accountant.DefaultBudget().WarnThreshold,
			PerAgentMemorySoft: accountant.DefaultBudget().PerAgentMemorySoft,
			PerAgentFuelSoft:   accountant.DefaultBudget().PerAgentFuelSoft,
		},
	})

	lc := lifecycle.New(lifecycle.Config{
		Logger:     logger,
		Sandbox:    host,
		Accountant: acct,
		Registrar:  r.Registry,
		Inbox:      r,
		Metrics:    m,
		Events:     e,
		Recovery: lifecycle.RecoveryPolicy{
			Enabled:               cfg.Lifecycle.RecoveryMaxAttempts > 0,
			MaxAttempts:           cfg.Lifecycle.RecoveryMaxAttempts,
			Backoff:               lifecycle.DefaultRecoveryPolicy().Backoff,
			SustainedRunningGrace: cfg.Lifecycle.SustainedRunningGrace,
		},
	})

	dispatcher.mgr = lc
	pinger.mgr = lc
	notifier.mgr = lc

	db, err := storage.Open(cfg.Storage.DSN(), logger)
	if err != nil {
		return nil, fmt.Errorf("caxtond: open storage: %w", err)
	}
	pool, err := storage.NewPoolManager(db, storage.PoolConfig{
		MaxIdleConns:        cfg.Storage.MaxIdleConns,
		MaxOpenConns:        cfg.Storage.MaxOpenConns,
		ConnMaxLifetime:     cfg.Storage.ConnMaxLifetime,
		ConnMaxIdleTime:     storage.DefaultPoolConfig().ConnMaxIdleTime,
		HealthCheckInterval: storage.DefaultPoolConfig().HealthCheckInterval,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("caxtond: build pool manager: %w", err)
	}

	encoder := embed.NewEncoder(cfg.Memory.EmbeddingDimension)
	// memory.ActivityOracle is intentionally nil: nothing currently maps
	// router conversation state back to entity IDs, so cleanup treats
	// every entity as equally eligible for eviction regardless of
	// whether a live conversation still references it.
	store := memory.New(db, encoder, memory.Config{
		EmbeddingDimension:       cfg.Memory.EmbeddingDimension,
		ReembedDistanceThreshold: cfg.Memory.ReembedDistanceThreshold,
		MaxEntities:              cfg.Memory.MaxEntities,
		MaxRelations:             cfg.Memory.MaxRelations,
		MaxStorageBytes:          cfg.Memory.MaxStorageBytes,
		HardEntityLimit:          cfg.Memory.HardEntityLimit,
	}, nil, m, e, logger)

	bridge.router = r
	bridge.memory = store

	return &system{
		logger:      logger,
		db:          db,
		pool:        pool,
		host:        host,
		router:      r,
		lifecycle:   lc,
		accountant:  acct,
		memoryStore: store,
		metrics:     m,
		events:      e,
	}, nil
}

// start begins every background loop: the accountant's health checker and
// the memory subsystem's cleanup ticker. Neither is started during
// buildSystem so construction stays side-effect free and safe to unwind
// on a later error.
func (s *system) start(ctx context.Context, cfg *config.Config) {
	s.accountant.Start(ctx)

	cleanupCtx, cancel := context.WithCancel(ctx)
	s.cleanupCancel = cancel
	s.cleanupDone = make(chan struct{})

	interval := cfg.Memory.CleanupInterval
	if interval <= 0 {
		interval = 10 * time.Minute
	}
	staleMaxAge := cfg.Memory.StaleMaxAge
	if staleMaxAge <= 0 {
		staleMaxAge = 30 * 24 * time.Hour
	}

	go func() {
		defer close(s.cleanupDone)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-cleanupCtx.Done():
				return
			case now := <-ticker.C:
				if n, err := s.memoryStore.CleanupStale(cleanupCtx, staleMaxAge, now); err != nil {
					s.logger.Warn("memory cleanup failed", zap.Error(err))
				} else if n > 0 {
					s.logger.Info("cleaned up stale entities", zap.Int("count", n))
				}
				if n, err := s.memoryStore.EnforceSoftLimits(cleanupCtx); err != nil {
					s.logger.Warn("memory soft-limit enforcement failed", zap.Error(err))
				} else if n > 0 {
					s.logger.Info("evicted entities over soft limit", zap.Int("count", n))
				}
			}
		}
	}()
}

// stop shuts every background loop and connection down, logging but not
// failing on individual errors so shutdown always runs to completion.
func (s *system) stop(ctx context.Context) {
	if s.cleanupCancel != nil {
		s.cleanupCancel()
		<-s.cleanupDone
	}
	s.accountant.Stop()
	if err := s.host.Close(ctx); err != nil {
		s.logger.Warn("sandbox host close failed", zap.Error(err))
	}
	if err := s.pool.Close(); err != nil {
		s.logger.Warn("storage pool close failed", zap.Error(err))
	}
}
