package poolutil

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"
)

var (
	ErrPoolClosed  = errors.New("poolutil: pool is closed")
	ErrPoolFull    = errors.New("poolutil: pool is full")
	ErrTaskTimeout = errors.New("poolutil: task submission timeout")
)

// Job is a unit of work submitted to a WorkerPool.
type Job func(ctx context.Context) error

// WorkerPool bounds the concurrency of fan-out work: the router's
// broadcast message delivery submits through one of these rather than
// spawning an unbounded goroutine per recipient.
type WorkerPool struct {
	maxWorkers  int
	jobQueue    chan jobWrapper
	workerCount atomic.Int32
	activeCount atomic.Int32
	closed      atomic.Bool
	wg          sync.WaitGroup

	submitted atomic.Int64
	completed atomic.Int64
	failed    atomic.Int64
	rejected  atomic.Int64

	idleTimeout  time.Duration
	panicHandler func(any)
}

type jobWrapper struct {
	job    Job
	ctx    context.Context
	result chan error
}

// WorkerPoolConfig configures a WorkerPool.
type WorkerPoolConfig struct {
	MaxWorkers   int
	QueueSize    int
	IdleTimeout  time.Duration
	PanicHandler func(any)
}

// DefaultWorkerPoolConfig returns sensible defaults for a subsystem
// fan-out pool.
func DefaultWorkerPoolConfig() WorkerPoolConfig {
	return WorkerPoolConfig{
		MaxWorkers:  32,
		QueueSize:   256,
		IdleTimeout: 30 * time.Second,
	}
}

// NewWorkerPool creates a WorkerPool. Workers are spawned lazily as jobs
// arrive, up to MaxWorkers, and exit after IdleTimeout with no work,
// except the last remaining worker, which stays until Close.
func NewWorkerPool(config WorkerPoolConfig) *WorkerPool {
	if config.MaxWorkers <= 0 {
		config.MaxWorkers = 1
	}
	return &WorkerPool{
		maxWorkers:   config.MaxWorkers,
		jobQueue:     make(chan jobWrapper, config.QueueSize),
		idleTimeout:  config.IdleTimeout,
		panicHandler: config.PanicHandler,
	}
}

// Submit enqueues job without waiting for it to run or complete.
func (p *WorkerPool) Submit(ctx context.Context, job Job) error {
	if p.closed.Load() {
		return ErrPoolClosed
	}
	p.submitted.Add(1)

	wrapper := jobWrapper{job: job, ctx: ctx}
	select {
	case p.jobQueue <- wrapper:
		p.ensureWorker()
		return nil
	default:
		if p.trySpawnWorker() {
			select {
			case p.jobQueue <- wrapper:
				return nil
			default:
			}
		}
		p.rejected.Add(1)
		return ErrPoolFull
	}
}

// SubmitWait enqueues job and blocks until it completes or ctx is done.
func (p *WorkerPool) SubmitWait(ctx context.Context, job Job) error {
	if p.closed.Load() {
		return ErrPoolClosed
	}
	p.submitted.Add(1)

	wrapper := jobWrapper{job: job, ctx: ctx, result: make(chan error, 1)}
	select {
	case p.jobQueue <- wrapper:
		p.ensureWorker()
	case <-ctx.Done():
		p.rejected.Add(1)
		return ctx.Err()
	}

	select {
	case err := <-wrapper.result:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *WorkerPool) ensureWorker() {
	if p.workerCount.Load() < int32(p.maxWorkers) {
		p.trySpawnWorker()
	}
}

func (p *WorkerPool) trySpawnWorker() bool {
	for {
		current := p.workerCount.Load()
		if current >= int32(p.maxWorkers) {
			return false
		}
		if p.workerCount.CompareAndSwap(current, current+1) {
			p.wg.Add(1)
			go p.worker()
			return true
		}
	}
}

func (p *WorkerPool) worker() {
	defer p.wg.Done()
	defer p.workerCount.Add(-1)

	timer := time.NewTimer(p.idleTimeout)
	defer timer.Stop()

	for {
		select {
		case wrapper, ok := <-p.jobQueue:
			if !ok {
				return
			}

			p.activeCount.Add(1)
			err := p.runJob(wrapper)
			p.activeCount.Add(-1)

			if err != nil {
				p.failed.Add(1)
			} else {
				p.completed.Add(1)
			}

			if wrapper.result != nil {
				wrapper.result <- err
				close(wrapper.result)
			}
			timer.Reset(p.idleTimeout)

		case <-timer.C:
			if p.workerCount.Load() > 1 {
				return
			}
			timer.Reset(p.idleTimeout)
		}
	}
}

func (p *WorkerPool) runJob(wrapper jobWrapper) (err error) {
	defer func() {
		if r := recover(); r != nil {
			if p.panicHandler != nil {
				p.panicHandler(r)
			}
			err = errors.New("poolutil: job panicked")
		}
	}()
	return wrapper.job(wrapper.ctx)
}

// Close stops accepting jobs and waits for in-flight workers to drain.
func (p *WorkerPool) Close() {
	if p.closed.Swap(true) {
		return
	}
	close(p.jobQueue)
	p.wg.Wait()
}

// Stats returns pool counters.
func (p *WorkerPool) Stats() WorkerPoolStats {
	return WorkerPoolStats{
		Workers:   int(p.workerCount.Load()),
		Active:    int(p.activeCount.Load()),
		Queued:    len(p.jobQueue),
		Submitted: p.submitted.Load(),
		Completed: p.completed.Load(),
		Failed:    p.failed.Load(),
		Rejected:  p.rejected.Load(),
	}
}

// WorkerPoolStats reports pool counters.
type WorkerPoolStats struct {
	Workers   int
	Active    int
	Queued    int
	Submitted int64
	Completed int64
	Failed    int64
	Rejected  int64
}
