// Package pool provides bounded, instrumented pooling for byte buffers and
// short-lived protocol objects.
//
// The package provides:
//   - BufferPool: size-tiered byte buffers with per-bucket caps
//   - ObjectPool: a registry of typed pools that scale with utilization
//   - Pool[T]: an unbounded sync.Pool wrapper for internal scratch objects
//   - Statistics snapshots for every pool
//
// Handles returned by the bounded pools are owned by the caller until
// Release. Releasing twice returns an ownership error instead of corrupting
// the free lists.
//
// Example usage:
//
//	bp, err := pool.NewBufferPool(cfg.Buffer, policy, logger)
//	if err != nil {
//	    return err
//	}
//	buf := bp.Acquire(2048) // served from the 4KB tier
//	defer buf.Release()
package pool

import (
	"sync"
	"sync/atomic"
)

// Pool represents a generic object pool with type safety.
// It wraps sync.Pool with statistics tracking and automatic reset.
// Unlike the bounded pools it never caps idle objects and is meant for
// scratch values whose count the runtime may trim at will.
type Pool[T any] struct {
	pool  sync.Pool
	reset func(T)
	stats struct {
		allocated int64
		inUse     int64
		gets      int64
	}
}

// New creates a new typed pool with custom allocation and reset functions.
// The reset function is called before an object is returned to the pool.
func New[T any](newFn func() T, reset func(T)) *Pool[T] {
	p := &Pool[T]{
		reset: reset,
	}
	p.pool.New = func() interface{} {
		atomic.AddInt64(&p.stats.allocated, 1)
		return newFn()
	}
	return p
}

// Get retrieves an object from the pool, creating one if the pool is empty.
func (p *Pool[T]) Get() T {
	atomic.AddInt64(&p.stats.gets, 1)
	atomic.AddInt64(&p.stats.inUse, 1)
	return p.pool.Get().(T)
}

// Put resets obj and returns it to the pool.
func (p *Pool[T]) Put(obj T) {
	if p.reset != nil {
		p.reset(obj)
	}
	atomic.AddInt64(&p.stats.inUse, -1)
	p.pool.Put(obj)
}

// Stats represents scratch pool statistics.
type Stats struct {
	// Allocated is the total number of objects created by the pool
	Allocated int64 `json:"allocated"`
	// InUse is the current number of objects checked out from the pool
	InUse int64 `json:"in_use"`
	// Hits is the number of Get calls served by a recycled object
	Hits int64 `json:"hits"`
	// Misses is the number of times a new object had to be created
	Misses int64 `json:"misses"`
}

// Stats returns current pool statistics.
func (p *Pool[T]) Stats() Stats {
	allocated := atomic.LoadInt64(&p.stats.allocated)
	gets := atomic.LoadInt64(&p.stats.gets)
	hits := gets - allocated
	if hits < 0 {
		hits = 0
	}
	return Stats{
		Allocated: allocated,
		InUse:     atomic.LoadInt64(&p.stats.inUse),
		Hits:      hits,
		Misses:    allocated,
	}
}
