package pool

import (
	"sort"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/ajitpratap0/reservoir/pkg/config"
	"github.com/ajitpratap0/reservoir/pkg/logger"
	"github.com/ajitpratap0/reservoir/pkg/reservoirerrors"
	"github.com/ajitpratap0/reservoir/pkg/sizing"
)

// bucket is the free list for one size tier.
type bucket struct {
	name     string
	capacity int

	mu    sync.Mutex
	idle  [][]byte
	limit int

	inUse       atomic.Int64
	allocations atomic.Int64
	reuses      atomic.Int64
	returns     atomic.Int64
	evictions   atomic.Int64
}

func (b *bucket) get() []byte {
	b.mu.Lock()
	if n := len(b.idle); n > 0 {
		buf := b.idle[n-1]
		b.idle[n-1] = nil
		b.idle = b.idle[:n-1]
		b.mu.Unlock()
		b.reuses.Add(1)
		b.inUse.Add(1)
		return buf
	}
	b.mu.Unlock()

	b.allocations.Add(1)
	b.inUse.Add(1)
	return make([]byte, 0, b.capacity)
}

func (b *bucket) put(buf []byte) {
	b.returns.Add(1)
	b.inUse.Add(-1)

	// Grown buffers no longer belong to this tier.
	if cap(buf) != b.capacity {
		b.evictions.Add(1)
		return
	}

	b.mu.Lock()
	if len(b.idle) >= b.limit {
		b.mu.Unlock()
		b.evictions.Add(1)
		return
	}
	b.idle = append(b.idle, buf)
	b.mu.Unlock()
}

// trim drops idle buffers above keep and returns how many were dropped.
func (b *bucket) trim(keep int) int {
	b.mu.Lock()
	n := len(b.idle) - keep
	if n <= 0 {
		b.mu.Unlock()
		return 0
	}
	for i := keep; i < len(b.idle); i++ {
		b.idle[i] = nil
	}
	b.idle = b.idle[:keep]
	b.mu.Unlock()

	b.evictions.Add(int64(n))
	return n
}

func (b *bucket) setLimit(limit int) int {
	b.mu.Lock()
	b.limit = limit
	b.mu.Unlock()
	return b.trim(limit)
}

func (b *bucket) stats() BucketStatistics {
	b.mu.Lock()
	idle, limit := len(b.idle), b.limit
	b.mu.Unlock()

	return BucketStatistics{
		Name:        b.name,
		Capacity:    b.capacity,
		Idle:        idle,
		Limit:       limit,
		InUse:       b.inUse.Load(),
		Allocations: b.allocations.Load(),
		Reuses:      b.reuses.Load(),
		Returns:     b.returns.Load(),
		Evictions:   b.evictions.Load(),
		BytesHeld:   int64(idle) * int64(b.capacity),
	}
}

// BufferPool serves byte buffers from fixed size tiers. Each tier has its
// own lock and idle cap; requests never borrow from a larger tier.
type BufferPool struct {
	buckets         []*bucket
	capacities      []int
	defaultCapacity int
	maxPoolSize     int
	disabled        bool
	policy          *sizing.Policy
	logger          *zap.Logger

	inUse     atomic.Int64
	oversized atomic.Int64
	direct    atomic.Int64
}

// NewBufferPool validates cfg and builds the tiers in ascending capacity.
// A nil policy uses sizing.DefaultPolicy.
func NewBufferPool(cfg config.BufferConfig, policy *sizing.Policy, log *zap.Logger) (*BufferPool, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if policy == nil {
		policy = sizing.DefaultPolicy()
	}

	categories := cfg.SortedCategories()
	p := &BufferPool{
		buckets:         make([]*bucket, len(categories)),
		capacities:      make([]int, len(categories)),
		defaultCapacity: cfg.DefaultCapacity,
		maxPoolSize:     cfg.MaxPoolSize,
		disabled:        cfg.Disabled,
		policy:          policy,
		logger:          logger.OrNop(log).With(zap.String("component", "buffer_pool")),
	}
	for i, c := range categories {
		p.buckets[i] = &bucket{name: c.Name, capacity: c.Capacity, limit: cfg.MaxPoolSize}
		p.capacities[i] = c.Capacity
	}

	p.logger.Debug("buffer pool created",
		zap.Int("tiers", len(categories)),
		zap.Int("max_pool_size", cfg.MaxPoolSize),
		zap.Bool("disabled", cfg.Disabled))
	return p, nil
}

// Acquire returns an empty buffer with capacity of at least minCapacity.
// It is served from the smallest tier that fits, reusing an idle buffer of
// that tier when one exists. Requests larger than every tier get a one-off
// buffer that is never pooled. Acquire never blocks on other tiers.
func (p *BufferPool) Acquire(minCapacity int) *Buffer {
	if minCapacity < 0 {
		minCapacity = 0
	}
	if p.disabled {
		p.direct.Add(1)
		return &Buffer{buf: make([]byte, 0, minCapacity), pool: p}
	}

	i := sort.SearchInts(p.capacities, minCapacity)
	if i == len(p.buckets) {
		p.oversized.Add(1)
		return &Buffer{buf: make([]byte, 0, minCapacity), pool: p}
	}

	b := p.buckets[i]
	p.inUse.Add(1)
	return &Buffer{buf: b.get(), bucket: b, pool: p}
}

// AcquireDefault acquires a buffer of the configured default capacity.
func (p *BufferPool) AcquireDefault() *Buffer {
	return p.Acquire(p.defaultCapacity)
}

// AcquireFor sizes a buffer for v. Payloads the policy rejects get a direct
// buffer sized to the estimate; the second result reports whether the
// pooled path was taken.
func (p *BufferPool) AcquireFor(v any) (*Buffer, bool) {
	verdict := p.policy.Evaluate(v)
	size := int(verdict.Estimate)
	if verdict.Decision == sizing.Pool && !p.disabled {
		return p.Acquire(size), true
	}
	p.direct.Add(1)
	return &Buffer{buf: make([]byte, 0, size), pool: p}, false
}

// Release is equivalent to b.Release.
func (p *BufferPool) Release(b *Buffer) error {
	if b == nil {
		return reservoirerrors.New(reservoirerrors.ErrorTypeValidation, "nil buffer")
	}
	return b.Release()
}

// Policy returns the policy used by AcquireFor.
func (p *BufferPool) Policy() *sizing.Policy {
	return p.policy
}

// Clear empties every bucket and returns the number of buffers dropped.
func (p *BufferPool) Clear() int {
	total := 0
	for _, b := range p.buckets {
		total += b.trim(0)
	}
	return total
}

// ShrinkToFloor trims every bucket to a quarter of max_pool_size. Bucket
// limits are unchanged so the pool refills once pressure subsides.
func (p *BufferPool) ShrinkToFloor() int {
	floor := p.maxPoolSize / 4
	total := 0
	for _, b := range p.buckets {
		total += b.trim(floor)
	}
	if total > 0 {
		p.logger.Info("buffer pool shrunk to floor", zap.Int("floor", floor), zap.Int("evicted", total))
	}
	return total
}

// SetLimit changes the idle cap of every bucket, evicting any excess.
func (p *BufferPool) SetLimit(limit int) (int, error) {
	if limit <= 0 {
		return 0, reservoirerrors.New(reservoirerrors.ErrorTypeValidation, "buffer pool limit must be positive").
			WithDetail("limit", limit)
	}
	total := 0
	for _, b := range p.buckets {
		total += b.setLimit(limit)
	}
	return total, nil
}

// Statistics returns a snapshot of every bucket in tier order.
func (p *BufferPool) Statistics() PoolStatistics {
	s := PoolStatistics{
		Buckets:   make([]BucketStatistics, len(p.buckets)),
		InUse:     p.inUse.Load(),
		Oversized: p.oversized.Load(),
		Direct:    p.direct.Load(),
		Disabled:  p.disabled,
	}
	for i, b := range p.buckets {
		bs := b.stats()
		s.Buckets[i] = bs
		s.Idle += int64(bs.Idle)
		s.Allocations += bs.Allocations
		s.Reuses += bs.Reuses
		s.Returns += bs.Returns
		s.Evictions += bs.Evictions
		s.BytesHeld += bs.BytesHeld
	}
	s.HitRate = hitRate(s.Reuses, s.Allocations)
	return s
}
