package poolutil

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestWorkerPoolSubmitWaitRunsJob(t *testing.T) {
	p := NewWorkerPool(DefaultWorkerPoolConfig())
	defer p.Close()

	var ran atomic.Bool
	err := p.SubmitWait(context.Background(), func(ctx context.Context) error {
		ran.Store(true)
		return nil
	})
	require.NoError(t, err)
	require.True(t, ran.Load())
}

func TestWorkerPoolSubmitWaitPropagatesError(t *testing.T) {
	p := NewWorkerPool(DefaultWorkerPoolConfig())
	defer p.Close()

	sentinel := require.New(t)
	err := p.SubmitWait(context.Background(), func(ctx context.Context) error {
		return context.DeadlineExceeded
	})
	sentinel.ErrorIs(err, context.DeadlineExceeded)
}

func TestWorkerPoolRejectsAfterClose(t *testing.T) {
	p := NewWorkerPool(DefaultWorkerPoolConfig())
	p.Close()

	err := p.Submit(context.Background(), func(ctx context.Context) error { return nil })
	require.ErrorIs(t, err, ErrPoolClosed)
}

func TestWorkerPoolBoundsConcurrency(t *testing.T) {
	p := NewWorkerPool(WorkerPoolConfig{MaxWorkers: 2, QueueSize: 16, IdleTimeout: time.Second})
	defer p.Close()

	var concurrent atomic.Int32
	var maxSeen atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		err := p.Submit(context.Background(), func(ctx context.Context) error {
			defer wg.Done()
			n := concurrent.Add(1)
			for {
				old := maxSeen.Load()
				if n <= old || maxSeen.CompareAndSwap(old, n) {
					break
				}
			}
			time.Sleep(20 * time.Millisecond)
			concurrent.Add(-1)
			return nil
		})
		require.NoError(t, err)
	}
	wg.Wait()
	require.LessOrEqual(t, maxSeen.Load(), int32(2))
}

func TestWorkerPoolRecoversFromPanic(t *testing.T) {
	var handled atomic.Bool
	p := NewWorkerPool(WorkerPoolConfig{
		MaxWorkers: 1, QueueSize: 4, IdleTimeout: time.Second,
		PanicHandler: func(r any) { handled.Store(true) },
	})
	defer p.Close()

	err := p.SubmitWait(context.Background(), func(ctx context.Context) error {
		panic("boom")
	})
	require.Error(t, err)
	require.True(t, handled.Load())
}

func TestWorkerPoolStats(t *testing.T) {
	p := NewWorkerPool(DefaultWorkerPoolConfig())
	defer p.Close()

	require.NoError(t, p.SubmitWait(context.Background(), func(ctx context.Context) error { return nil }))
	stats := p.Stats()
	require.Equal(t, int64(1), stats.Submitted)
	require.Equal(t, int64(1), stats.Completed)
}
