package pool

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/ajitpratap0/reservoir/pkg/config"
	"github.com/ajitpratap0/reservoir/pkg/reservoirerrors"
)

type widget struct {
	n int
}

func objectConfig(mutate func(*config.ObjectConfig)) config.ObjectConfig {
	cfg := config.ObjectConfig{
		InitialSize:     2,
		MaxSize:         4,
		EmergencyLimit:  16,
		ScaleThreshold:  0.7,
		ScaleFactor:     2,
		ShrinkThreshold: 0.2,
	}
	if mutate != nil {
		mutate(&cfg)
	}
	return cfg
}

func newWidgetPool(t *testing.T, cfg config.ObjectConfig) (*ObjectPool, *TypedPool[*widget]) {
	t.Helper()
	op, err := NewObjectPool(cfg, nil)
	require.NoError(t, err)
	tp, err := Register(op, "widget", func() *widget { return &widget{} }, func(w *widget) { w.n = 0 })
	require.NoError(t, err)
	return op, tp
}

func TestRegisterRejectsDuplicates(t *testing.T) {
	op, _ := newWidgetPool(t, objectConfig(nil))

	_, err := Register(op, "widget", func() *widget { return &widget{} }, nil)
	require.Error(t, err)
	assert.True(t, reservoirerrors.IsType(err, reservoirerrors.ErrorTypeConflict))

	_, err = Register[*widget](op, "", nil, nil)
	assert.True(t, reservoirerrors.IsType(err, reservoirerrors.ErrorTypeValidation))
}

func TestLookup(t *testing.T) {
	op, tp := newWidgetPool(t, objectConfig(nil))

	got, ok := Lookup[*widget](op, "widget")
	require.True(t, ok)
	assert.Same(t, tp, got)

	_, ok = Lookup[*Request](op, "widget")
	assert.False(t, ok, "wrong type")
	_, ok = Lookup[*widget](op, "missing")
	assert.False(t, ok)
}

func TestObjectRoundTripResets(t *testing.T) {
	_, tp := newWidgetPool(t, objectConfig(nil))

	obj := tp.Acquire()
	assert.True(t, obj.Pooled())
	obj.Value().n = 7
	require.NoError(t, obj.Release())
	assert.Nil(t, obj.Value())

	again := tp.Acquire()
	assert.Equal(t, 0, again.Value().n)

	stats := tp.Statistics()
	assert.Equal(t, int64(1), stats.Allocations)
	assert.Equal(t, int64(1), stats.Reuses)
	assert.Equal(t, 0.5, stats.HitRate)
	require.NoError(t, again.Release())
}

func TestObjectDoubleRelease(t *testing.T) {
	_, tp := newWidgetPool(t, objectConfig(nil))

	obj := tp.Acquire()
	require.NoError(t, tp.Release(obj))
	err := tp.Release(obj)
	assert.True(t, reservoirerrors.IsType(err, reservoirerrors.ErrorTypeOwnership))
	assert.Equal(t, int64(1), tp.Statistics().Returns)
}

func TestWarmUp(t *testing.T) {
	_, tp := newWidgetPool(t, objectConfig(func(c *config.ObjectConfig) { c.WarmUp = true }))

	stats := tp.Statistics()
	assert.Equal(t, 2, stats.Idle)
	assert.Equal(t, int64(2), stats.Allocations)

	obj := tp.Acquire()
	assert.Equal(t, int64(1), tp.Statistics().Reuses)
	require.NoError(t, obj.Release())
}

func TestReleaseRespectsLimit(t *testing.T) {
	_, tp := newWidgetPool(t, objectConfig(nil))

	objs := make([]*Object[*widget], 6)
	for i := range objs {
		objs[i] = tp.Acquire()
	}
	for _, o := range objs {
		require.NoError(t, o.Release())
	}

	stats := tp.Statistics()
	assert.Equal(t, 4, stats.Idle)
	assert.Equal(t, int64(2), stats.Evictions)
}

func TestEmergencyLimitOverflow(t *testing.T) {
	_, tp := newWidgetPool(t, objectConfig(func(c *config.ObjectConfig) {
		c.MaxSize = 2
		c.EmergencyLimit = 3
	}))

	held := make([]*Object[*widget], 0, 5)
	for i := 0; i < 5; i++ {
		held = append(held, tp.Acquire())
	}
	for i, o := range held {
		assert.NotNil(t, o.Value(), "acquire never fails")
		assert.Equal(t, i < 3, o.Pooled(), "object %d", i)
	}

	stats := tp.Statistics()
	assert.Equal(t, int64(3), stats.InUse)
	assert.Equal(t, int64(2), stats.Overflows)

	for _, o := range held {
		require.NoError(t, o.Release())
	}
	stats = tp.Statistics()
	assert.Equal(t, int64(0), stats.InUse)
	assert.Equal(t, int64(3), stats.Returns, "overflow objects are dropped")
	assert.Equal(t, 2, stats.Idle)
}

func TestScaleUpToEmergencyLimit(t *testing.T) {
	op, tp := newWidgetPool(t, objectConfig(func(c *config.ObjectConfig) { c.EmergencyLimit = 10 }))

	held := make([]*Object[*widget], 0, 4)
	for i := 0; i < 4; i++ {
		held = append(held, tp.Acquire())
	}

	events := op.ScaleAll()
	require.Len(t, events, 1)
	assert.Equal(t, ScaleUp, events[0].Direction)
	assert.Equal(t, 4, events[0].From)
	assert.Equal(t, 8, events[0].To)
	assert.Equal(t, 1.0, events[0].Utilization)

	events = op.ScaleAll()
	require.Len(t, events, 1)
	assert.Equal(t, 10, events[0].To, "capped at emergency limit")

	assert.Empty(t, op.ScaleAll(), "already at emergency limit")
	assert.Equal(t, int64(2), tp.Statistics().ScaleUps)

	for _, o := range held {
		require.NoError(t, o.Release())
	}
}

func TestScaleDownEvictsIdle(t *testing.T) {
	op, tp := newWidgetPool(t, objectConfig(func(c *config.ObjectConfig) { c.MaxSize = 8 }))

	held := make([]*Object[*widget], 8)
	for i := range held {
		held[i] = tp.Acquire()
	}
	for _, o := range held {
		require.NoError(t, o.Release())
	}
	require.Equal(t, 8, tp.Statistics().Idle)

	events := op.ScaleAll()
	require.Len(t, events, 1)
	assert.Equal(t, ScaleDown, events[0].Direction)
	assert.Equal(t, 4, events[0].To)
	assert.Equal(t, 4, events[0].Evicted)

	op.ScaleAll()
	assert.Equal(t, 2, tp.Statistics().Limit, "floor is initial size")
	assert.Empty(t, op.ScaleAll())
	assert.Equal(t, 2, tp.Statistics().Idle)
}

func TestScaleNoChangeInBand(t *testing.T) {
	op, tp := newWidgetPool(t, objectConfig(nil))

	a, b := tp.Acquire(), tp.Acquire()
	require.NoError(t, b.Release())

	assert.Empty(t, op.ScaleAll(), "utilization 0.5 is between thresholds")
	require.NoError(t, a.Release())
}

func TestScalingLogsDebug(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	op, err := NewObjectPool(objectConfig(nil), zap.New(core))
	require.NoError(t, err)
	tp, err := Register(op, "widget", func() *widget { return &widget{} }, nil)
	require.NoError(t, err)

	obj := tp.Acquire()
	op.ScaleAll()
	require.NoError(t, obj.Release())

	entries := logs.FilterMessage("object pool scaled").All()
	require.Len(t, entries, 1)
	assert.Equal(t, "up", entries[0].ContextMap()["direction"])
}

func TestObjectPoolShrinkAndClear(t *testing.T) {
	op, tp := newWidgetPool(t, objectConfig(nil))
	pools, err := RegisterProtocolObjects(op)
	require.NoError(t, err)

	objs := make([]*Object[*widget], 4)
	for i := range objs {
		objs[i] = tp.Acquire()
	}
	for _, o := range objs {
		require.NoError(t, o.Release())
	}
	req := pools.Requests.Acquire()
	require.NoError(t, req.Release())

	assert.Equal(t, 2, op.ShrinkToFloor())
	assert.Equal(t, 2, tp.Statistics().Limit)

	assert.Equal(t, 3, op.Clear())
	stats := op.Statistics()
	assert.Equal(t, int64(0), stats.Idle)
	require.Len(t, stats.Pools, 5)
	assert.Equal(t, "request", stats.Pools[0].Name)
}

func TestDisabledObjectPool(t *testing.T) {
	_, tp := newWidgetPool(t, objectConfig(func(c *config.ObjectConfig) {
		c.Disabled = true
		c.WarmUp = true
	}))

	assert.Equal(t, 0, tp.Statistics().Idle, "no warm-up when disabled")
	obj := tp.Acquire()
	assert.False(t, obj.Pooled())
	require.NoError(t, obj.Release())
	assert.Equal(t, 0, tp.Statistics().Idle)
}

func TestProtocolObjectsReset(t *testing.T) {
	r := NewRequest()
	r.ID = "1"
	r.Method = "POST"
	r.URI.Path = "/x"
	r.URI.Query["a"] = []string{"b"}
	r.SetHeader("k", "v")
	r.SetParam("id", "9")
	r.Body = append(r.Body, "body"...)
	r.Reset()
	assert.Equal(t, "", r.ID)
	assert.Empty(t, r.Headers)
	assert.Empty(t, r.Params)
	assert.Empty(t, r.URI.Query)
	assert.Empty(t, r.Body)
	_, ok := r.Header("k")
	assert.False(t, ok)

	s := NewStream()
	s.Append([]byte("abc"))
	assert.Equal(t, int64(3), s.Offset)
	s.Reset()
	assert.Empty(t, s.Chunks)
	assert.Zero(t, s.Offset)

	resp := NewResponse()
	resp.Status = 500
	resp.SetHeader("a", "b")
	resp.Reset()
	assert.Zero(t, resp.Status)
	assert.Empty(t, resp.Headers)
}

func TestConcurrentObjectPool(t *testing.T) {
	op, tp := newWidgetPool(t, objectConfig(func(c *config.ObjectConfig) {
		c.MaxSize = 32
		c.EmergencyLimit = 64
	}))

	var wg sync.WaitGroup
	for g := 0; g < 100; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				o := tp.Acquire()
				o.Value().n++
				_ = o.Release()
				if i%50 == 0 {
					op.ScaleAll()
				}
			}
		}()
	}
	wg.Wait()

	stats := tp.Statistics()
	assert.Equal(t, int64(0), stats.InUse)
	assert.LessOrEqual(t, stats.Idle, stats.Limit)
	assert.LessOrEqual(t, stats.Limit, 64)
	assert.Equal(t, stats.Allocations-stats.Evictions, stats.InUse+int64(stats.Idle))
}

func TestScratchPoolStats(t *testing.T) {
	p := New(func() *widget { return &widget{} }, func(w *widget) { w.n = 0 })
	w := p.Get()
	w.n = 5
	p.Put(w)

	s := p.Stats()
	assert.Equal(t, int64(0), s.InUse)
	assert.GreaterOrEqual(t, s.Allocated, int64(1))
	assert.Equal(t, s.Allocated, s.Misses)
}
