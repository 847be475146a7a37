package poolutil

import (
	"bytes"
	"sync"
	"sync/atomic"
)

// Pool is a generic sync.Pool-backed object pool with hit-rate counters.
type Pool[T any] struct {
	pool    sync.Pool
	newFunc func() T
	reset   func(*T)

	gets   atomic.Int64
	puts   atomic.Int64
	news   atomic.Int64
	resets atomic.Int64
}

// NewPool creates a Pool. resetFunc may be nil if T needs no reset
// before reuse.
func NewPool[T any](newFunc func() T, resetFunc func(*T)) *Pool[T] {
	p := &Pool[T]{newFunc: newFunc, reset: resetFunc}
	p.pool.New = func() any {
		p.news.Add(1)
		return newFunc()
	}
	return p
}

// Get retrieves an object from the pool, creating one if empty.
func (p *Pool[T]) Get() T {
	p.gets.Add(1)
	return p.pool.Get().(T)
}

// Put returns an object to the pool after resetting it.
func (p *Pool[T]) Put(obj T) {
	p.puts.Add(1)
	if p.reset != nil {
		p.resets.Add(1)
		p.reset(&obj)
	}
	p.pool.Put(obj)
}

// Stats returns pool counters.
func (p *Pool[T]) Stats() PoolStats {
	return PoolStats{
		Gets:   p.gets.Load(),
		Puts:   p.puts.Load(),
		News:   p.news.Load(),
		Resets: p.resets.Load(),
	}
}

// PoolStats reports pool counters.
type PoolStats struct {
	Gets   int64
	Puts   int64
	News   int64
	Resets int64
}

// HitRate returns the fraction of Gets satisfied without allocating.
func (s PoolStats) HitRate() float64 {
	if s.Gets == 0 {
		return 0
	}
	return float64(s.Gets-s.News) / float64(s.Gets)
}

// SlicePool pools slices of a fixed initial capacity.
type SlicePool[T any] struct {
	pool     sync.Pool
	initSize int
}

// NewSlicePool creates a SlicePool whose backing arrays start at initSize.
func NewSlicePool[T any](initSize int) *SlicePool[T] {
	return &SlicePool[T]{
		initSize: initSize,
		pool: sync.Pool{
			New: func() any { return make([]T, 0, initSize) },
		},
	}
}

// Get retrieves a zero-length slice from the pool.
func (p *SlicePool[T]) Get() []T {
	return p.pool.Get().([]T)
}

// Put returns a slice to the pool, truncating its length but keeping
// capacity.
func (p *SlicePool[T]) Put(s []T) {
	p.pool.Put(s[:0])
}

// MapPool pools maps of a fixed initial size hint.
type MapPool[K comparable, V any] struct {
	pool     sync.Pool
	initSize int
}

// NewMapPool creates a MapPool.
func NewMapPool[K comparable, V any](initSize int) *MapPool[K, V] {
	return &MapPool[K, V]{
		initSize: initSize,
		pool: sync.Pool{
			New: func() any { return make(map[K]V, initSize) },
		},
	}
}

// Get retrieves an empty map from the pool.
func (p *MapPool[K, V]) Get() map[K]V {
	return p.pool.Get().(map[K]V)
}

// Put clears m and returns it to the pool.
func (p *MapPool[K, V]) Put(m map[K]V) {
	clear(m)
	p.pool.Put(m)
}

// GlobalByteBuffers pools the growable buffers internal/proto uses while
// serializing a wire message, so repeated Encode calls don't each pay
// for buffer growth from zero.
var GlobalByteBuffers = NewPool(
	func() *bytes.Buffer { return bytes.NewBuffer(make([]byte, 0, 256)) },
	func(b **bytes.Buffer) { (*b).Reset() },
)
