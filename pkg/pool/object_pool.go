package pool

import (
	"math"
	"sort"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/ajitpratap0/reservoir/pkg/config"
	"github.com/ajitpratap0/reservoir/pkg/logger"
	"github.com/ajitpratap0/reservoir/pkg/reservoirerrors"
)

// Direction describes a scaling step.
type Direction string

const (
	ScaleNone Direction = "none"
	ScaleUp   Direction = "up"
	ScaleDown Direction = "down"
)

// ScaleEvent reports what one scaling tick did to a typed pool.
type ScaleEvent struct {
	Pool        string    `json:"pool"`
	Direction   Direction `json:"direction"`
	From        int       `json:"from"`
	To          int       `json:"to"`
	Utilization float64   `json:"utilization"`
	Evicted     int       `json:"evicted"`
}

// member is the type-erased view of a TypedPool held by the registry.
type member interface {
	scale() ScaleEvent
	shrinkToFloor() int
	clear() int
	stats() ObjectStatistics
}

// ObjectPool is a registry of typed pools sharing one scaling configuration.
type ObjectPool struct {
	cfg    config.ObjectConfig
	logger *zap.Logger

	mu      sync.RWMutex
	members map[string]member
	order   []string
}

// NewObjectPool validates cfg and returns an empty registry.
func NewObjectPool(cfg config.ObjectConfig, log *zap.Logger) (*ObjectPool, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &ObjectPool{
		cfg:     cfg,
		logger:  logger.OrNop(log).With(zap.String("component", "object_pool")),
		members: make(map[string]member),
	}, nil
}

// Config returns the scaling configuration.
func (op *ObjectPool) Config() config.ObjectConfig {
	return op.cfg
}

// Register adds a typed pool named name. newFn must not be nil; reset may be.
// Names are unique within a registry.
func Register[T any](op *ObjectPool, name string, newFn func() T, reset func(T)) (*TypedPool[T], error) {
	if name == "" || newFn == nil {
		return nil, reservoirerrors.New(reservoirerrors.ErrorTypeValidation, "object pool needs a name and constructor").
			WithDetail("name", name)
	}

	tp := &TypedPool[T]{
		name:   name,
		newFn:  newFn,
		reset:  reset,
		cfg:    op.cfg,
		limit:  op.cfg.MaxSize,
		logger: op.logger.With(zap.String("pool", name)),
	}

	op.mu.Lock()
	if _, exists := op.members[name]; exists {
		op.mu.Unlock()
		return nil, reservoirerrors.New(reservoirerrors.ErrorTypeConflict, "object pool already registered").
			WithDetail("name", name)
	}
	op.members[name] = tp
	op.order = append(op.order, name)
	op.mu.Unlock()

	if op.cfg.WarmUp && !op.cfg.Disabled {
		tp.warmUp(op.cfg.InitialSize)
	}
	return tp, nil
}

// Lookup returns the typed pool registered under name.
func Lookup[T any](op *ObjectPool, name string) (*TypedPool[T], bool) {
	op.mu.RLock()
	m, ok := op.members[name]
	op.mu.RUnlock()
	if !ok {
		return nil, false
	}
	tp, ok := m.(*TypedPool[T])
	return tp, ok
}

func (op *ObjectPool) snapshot() []member {
	op.mu.RLock()
	defer op.mu.RUnlock()
	out := make([]member, 0, len(op.order))
	for _, name := range op.order {
		out = append(out, op.members[name])
	}
	return out
}

// ScaleAll runs one scaling tick on every registered pool and returns the
// pools whose limit changed.
func (op *ObjectPool) ScaleAll() []ScaleEvent {
	var events []ScaleEvent
	for _, m := range op.snapshot() {
		ev := m.scale()
		if ev.Direction == ScaleNone {
			continue
		}
		op.logger.Debug("object pool scaled",
			zap.String("pool", ev.Pool),
			zap.String("direction", string(ev.Direction)),
			zap.Int("from", ev.From),
			zap.Int("to", ev.To),
			zap.Float64("utilization", ev.Utilization),
			zap.Int("evicted", ev.Evicted))
		events = append(events, ev)
	}
	return events
}

// ShrinkToFloor drops every pool to its initial size and returns the
// number of idle objects evicted.
func (op *ObjectPool) ShrinkToFloor() int {
	total := 0
	for _, m := range op.snapshot() {
		total += m.shrinkToFloor()
	}
	if total > 0 {
		op.logger.Info("object pools shrunk to floor", zap.Int("evicted", total))
	}
	return total
}

// Clear empties every pool and returns the number of objects dropped.
func (op *ObjectPool) Clear() int {
	total := 0
	for _, m := range op.snapshot() {
		total += m.clear()
	}
	return total
}

// Statistics returns a snapshot of every registered pool, sorted by name.
func (op *ObjectPool) Statistics() ObjectPoolStatistics {
	members := op.snapshot()
	s := ObjectPoolStatistics{
		Pools:    make([]ObjectStatistics, 0, len(members)),
		Disabled: op.cfg.Disabled,
	}
	for _, m := range members {
		ps := m.stats()
		s.Pools = append(s.Pools, ps)
		s.InUse += ps.InUse
		s.Idle += int64(ps.Idle)
		s.Allocations += ps.Allocations
		s.Reuses += ps.Reuses
		s.Overflows += ps.Overflows
	}
	sort.Slice(s.Pools, func(i, j int) bool { return s.Pools[i].Name < s.Pools[j].Name })
	s.HitRate = hitRate(s.Reuses, s.Allocations)
	return s
}

// TypedPool is a bounded pool of T. Its idle limit moves between
// InitialSize and EmergencyLimit as utilization changes.
type TypedPool[T any] struct {
	name   string
	newFn  func() T
	reset  func(T)
	cfg    config.ObjectConfig
	logger *zap.Logger

	mu    sync.Mutex
	idle  []T
	limit int

	inUse       atomic.Int64
	allocations atomic.Int64
	reuses      atomic.Int64
	returns     atomic.Int64
	evictions   atomic.Int64
	overflows   atomic.Int64
	scaleUps    atomic.Int64
	scaleDowns  atomic.Int64
}

// Object is an owned handle to a pooled value.
type Object[T any] struct {
	value    T
	pool     *TypedPool[T]
	pooled   bool
	released atomic.Bool
}

// Value returns the held value, or the zero value after release.
func (o *Object[T]) Value() T {
	if o.released.Load() {
		var zero T
		return zero
	}
	return o.value
}

// Pooled reports whether the object is accounted to its pool. Overflow
// objects are dropped on release.
func (o *Object[T]) Pooled() bool {
	return o.pooled
}

// Release returns the object to its pool. The second call returns an
// ownership error.
func (o *Object[T]) Release() error {
	if !o.released.CompareAndSwap(false, true) {
		return reservoirerrors.New(reservoirerrors.ErrorTypeOwnership, "object already released").
			WithDetail("pool", o.pool.name)
	}
	v := o.value
	var zero T
	o.value = zero
	if o.pooled {
		o.pool.put(v)
	}
	return nil
}

// Name returns the registered name.
func (tp *TypedPool[T]) Name() string {
	return tp.name
}

// Acquire returns an idle object or a new one. Once in-use plus idle
// objects reach EmergencyLimit, new objects are handed out unpooled;
// Acquire never fails.
func (tp *TypedPool[T]) Acquire() *Object[T] {
	if tp.cfg.Disabled {
		tp.overflows.Add(1)
		return &Object[T]{value: tp.newFn(), pool: tp}
	}

	tp.mu.Lock()
	if n := len(tp.idle); n > 0 {
		v := tp.idle[n-1]
		var zero T
		tp.idle[n-1] = zero
		tp.idle = tp.idle[:n-1]
		tp.inUse.Add(1)
		tp.mu.Unlock()
		tp.reuses.Add(1)
		return &Object[T]{value: v, pool: tp, pooled: true}
	}
	if inUse := tp.inUse.Load(); inUse >= int64(tp.cfg.EmergencyLimit) {
		tp.mu.Unlock()
		tp.overflows.Add(1)
		tp.logger.Debug("emergency limit reached, allocating unpooled", zap.Int64("in_use", inUse))
		return &Object[T]{value: tp.newFn(), pool: tp}
	}
	tp.inUse.Add(1)
	tp.mu.Unlock()

	tp.allocations.Add(1)
	return &Object[T]{value: tp.newFn(), pool: tp, pooled: true}
}

// Release is equivalent to o.Release.
func (tp *TypedPool[T]) Release(o *Object[T]) error {
	if o == nil {
		return reservoirerrors.New(reservoirerrors.ErrorTypeValidation, "nil object")
	}
	return o.Release()
}

func (tp *TypedPool[T]) put(v T) {
	if tp.reset != nil {
		tp.reset(v)
	}
	tp.returns.Add(1)

	tp.mu.Lock()
	tp.inUse.Add(-1)
	if len(tp.idle) >= tp.limit {
		tp.mu.Unlock()
		tp.evictions.Add(1)
		return
	}
	tp.idle = append(tp.idle, v)
	tp.mu.Unlock()
}

func (tp *TypedPool[T]) warmUp(n int) {
	objs := make([]T, 0, n)
	for i := 0; i < n; i++ {
		objs = append(objs, tp.newFn())
	}
	tp.mu.Lock()
	tp.idle = append(tp.idle, objs...)
	tp.mu.Unlock()
	tp.allocations.Add(int64(n))
}

func (tp *TypedPool[T]) floor() int {
	if tp.cfg.InitialSize > 0 {
		return tp.cfg.InitialSize
	}
	return 1
}

// utilization must be called with tp.mu held.
func (tp *TypedPool[T]) utilization() float64 {
	inUse := tp.inUse.Load()
	total := inUse + int64(len(tp.idle))
	if total == 0 {
		return 0
	}
	return float64(inUse) / float64(total)
}

func (tp *TypedPool[T]) scale() ScaleEvent {
	tp.mu.Lock()
	util := tp.utilization()
	ev := ScaleEvent{Pool: tp.name, Direction: ScaleNone, From: tp.limit, To: tp.limit, Utilization: util}

	switch {
	case util > tp.cfg.ScaleThreshold && tp.limit < tp.cfg.EmergencyLimit:
		next := int(math.Ceil(float64(tp.limit) * tp.cfg.ScaleFactor))
		if next > tp.cfg.EmergencyLimit {
			next = tp.cfg.EmergencyLimit
		}
		tp.limit = next
		ev.Direction = ScaleUp
	case util < tp.cfg.ShrinkThreshold && tp.limit > tp.floor():
		next := int(float64(tp.limit) / tp.cfg.ScaleFactor)
		if next < tp.floor() {
			next = tp.floor()
		}
		tp.limit = next
		ev.Evicted = tp.trimLocked(next)
		ev.Direction = ScaleDown
	}
	ev.To = tp.limit
	tp.mu.Unlock()

	switch ev.Direction {
	case ScaleUp:
		tp.scaleUps.Add(1)
	case ScaleDown:
		tp.scaleDowns.Add(1)
	}
	if ev.Evicted > 0 {
		tp.evictions.Add(int64(ev.Evicted))
	}
	return ev
}

// trimLocked must be called with tp.mu held.
func (tp *TypedPool[T]) trimLocked(keep int) int {
	n := len(tp.idle) - keep
	if n <= 0 {
		return 0
	}
	var zero T
	for i := keep; i < len(tp.idle); i++ {
		tp.idle[i] = zero
	}
	tp.idle = tp.idle[:keep]
	return n
}

func (tp *TypedPool[T]) shrinkToFloor() int {
	tp.mu.Lock()
	tp.limit = tp.floor()
	n := tp.trimLocked(tp.limit)
	tp.mu.Unlock()
	tp.evictions.Add(int64(n))
	return n
}

func (tp *TypedPool[T]) clear() int {
	tp.mu.Lock()
	n := tp.trimLocked(0)
	tp.mu.Unlock()
	tp.evictions.Add(int64(n))
	return n
}

// Statistics returns a snapshot of this pool.
func (tp *TypedPool[T]) Statistics() ObjectStatistics {
	return tp.stats()
}

func (tp *TypedPool[T]) stats() ObjectStatistics {
	tp.mu.Lock()
	idle, limit, util := len(tp.idle), tp.limit, tp.utilization()
	tp.mu.Unlock()

	reuses, allocations := tp.reuses.Load(), tp.allocations.Load()
	return ObjectStatistics{
		Name:        tp.name,
		Idle:        idle,
		Limit:       limit,
		InUse:       tp.inUse.Load(),
		Allocations: allocations,
		Reuses:      reuses,
		Returns:     tp.returns.Load(),
		Evictions:   tp.evictions.Load(),
		Overflows:   tp.overflows.Load(),
		ScaleUps:    tp.scaleUps.Load(),
		ScaleDowns:  tp.scaleDowns.Load(),
		Utilization: util,
		HitRate:     hitRate(reuses, allocations),
	}
}
