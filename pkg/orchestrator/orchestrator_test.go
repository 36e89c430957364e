package orchestrator

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/ajitpratap0/reservoir/pkg/config"
	"github.com/ajitpratap0/reservoir/pkg/memory"
	"github.com/ajitpratap0/reservoir/pkg/monitor"
	"github.com/ajitpratap0/reservoir/pkg/pool"
	"github.com/ajitpratap0/reservoir/pkg/reservoirerrors"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type countingSink struct {
	exports atomic.Int64
}

func (s *countingSink) Name() string { return "counting" }

func (s *countingSink) Export(context.Context, monitor.Snapshot) error {
	s.exports.Add(1)
	return nil
}

type harness struct {
	o       *Orchestrator
	clock   *fakeClock
	sampler *memory.StaticSampler
	gcRuns  *atomic.Int64
}

func newHarness(t *testing.T, opts ...Option) *harness {
	t.Helper()
	h := &harness{
		clock:   &fakeClock{now: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)},
		sampler: memory.NewStaticSampler(0, 1<<30),
		gcRuns:  &atomic.Int64{},
	}
	base := []Option{
		WithClock(h.clock.Now),
		WithSampler(h.sampler),
		WithGCCollector(func() error { h.gcRuns.Add(1); return nil }),
	}
	o, err := New(append(base, opts...)...)
	require.NoError(t, err)
	h.o = o
	t.Cleanup(func() { _ = o.Disable(context.Background()) })
	return h
}

func TestProfilesTable(t *testing.T) {
	names := []string{}
	for _, p := range Profiles() {
		names = append(names, p.Name)
		assert.NotEmpty(t, p.Description)
		require.NoError(t, p.Config().Validate(), p.Name)
	}
	assert.Equal(t, []string{ProfileExtreme, ProfileHigh, ProfileStandard, ProfileTest}, names)

	p, err := Lookup(ProfileTest)
	require.NoError(t, err)
	cfg := p.Config()
	assert.True(t, cfg.Buffer.Disabled)
	assert.True(t, cfg.Objects.Disabled)
	assert.Zero(t, cfg.Monitor.SampleRate)

	p, err = Lookup(ProfileExtreme)
	require.NoError(t, err)
	assert.Equal(t, config.GCAggressive, p.Config().Memory.GCStrategy)
}

func TestProfileConfigIsACopy(t *testing.T) {
	p, err := Lookup(ProfileStandard)
	require.NoError(t, err)
	a := p.Config()
	a.Buffer.MaxPoolSize = 1
	assert.NotEqual(t, 1, p.Config().Buffer.MaxPoolSize)
}

func TestLookupUnknownProfile(t *testing.T) {
	_, err := Lookup("turbo")
	require.Error(t, err)
	assert.True(t, reservoirerrors.IsType(err, reservoirerrors.ErrorTypeNotFound))

	h := newHarness(t)
	assert.Error(t, h.o.Enable(context.Background(), "turbo"))
	assert.False(t, h.o.Enabled())
}

func TestNewIsInert(t *testing.T) {
	h := newHarness(t)
	assert.False(t, h.o.Enabled())
	assert.Empty(t, h.o.Profile())
	assert.True(t, h.o.Buffers().Statistics().Disabled)
	assert.False(t, h.o.StartRequest("req-1", monitor.RequestMeta{}))
	assert.False(t, h.o.ShouldShed())
	assert.False(t, h.o.CircuitOpen())
	_, ok := h.o.ClassifyPayload("x")
	assert.False(t, ok)
	assert.NoError(t, h.o.Disable(context.Background()), "disabling an inert orchestrator")
}

func TestEnableSwitchesAndClearsPools(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)

	require.NoError(t, h.o.Enable(ctx, ProfileStandard))
	assert.True(t, h.o.Enabled())
	assert.Equal(t, ProfileStandard, h.o.Profile())

	old := h.o.Buffers()
	oldObjects := h.o.Objects()
	b := old.Acquire(1000)
	require.NoError(t, b.Release())
	require.Equal(t, int64(1), old.Statistics().Idle)
	require.Positive(t, oldObjects.Statistics().Idle, "warm-up populated the object pools")

	require.NoError(t, h.o.Enable(ctx, ProfileHigh))
	assert.Equal(t, ProfileHigh, h.o.Profile())
	assert.NotSame(t, old, h.o.Buffers())
	assert.Zero(t, old.Statistics().Idle)
	assert.Zero(t, oldObjects.Statistics().Idle)
	assert.Equal(t, 500, h.o.Config().Buffer.MaxPoolSize)

	require.NoError(t, h.o.Disable(ctx))
	assert.False(t, h.o.Enabled())
	assert.True(t, h.o.Buffers().Statistics().Disabled)
}

func TestEnableConfigRejectsInvalid(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	require.NoError(t, h.o.Enable(ctx, ProfileStandard))

	cfg := config.Default()
	cfg.Buffer.MaxPoolSize = 0
	err := h.o.EnableConfig(ctx, "custom", cfg)
	require.Error(t, err)
	assert.True(t, reservoirerrors.IsType(err, reservoirerrors.ErrorTypeConfig))
	assert.Equal(t, ProfileStandard, h.o.Profile())

	err = h.o.EnableConfig(ctx, "custom", nil)
	assert.True(t, reservoirerrors.IsType(err, reservoirerrors.ErrorTypeValidation))
}

func TestEnableConfigCopiesInput(t *testing.T) {
	h := newHarness(t)
	cfg := config.Default()
	require.NoError(t, h.o.EnableConfig(context.Background(), "custom", cfg))
	cfg.Buffer.MaxPoolSize = 1
	assert.Equal(t, config.Default().Buffer.MaxPoolSize, h.o.Config().Buffer.MaxPoolSize)
}

func TestTickEmergencyShedsLoad(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	require.NoError(t, h.o.Enable(ctx, ProfileHigh))

	// push the request pool past its floor of 64 idle objects
	var held []*pool.Object[*pool.Request]
	for i := 0; i < 100; i++ {
		held = append(held, h.o.Protocol().Requests.Acquire())
	}
	for _, obj := range held {
		require.NoError(t, obj.Release())
	}

	h.sampler.SetRatio(0.95)
	res := h.o.Tick(ctx)
	require.True(t, res.Checked)
	assert.True(t, res.Decision.EnteredEmergency)
	assert.Equal(t, memory.LevelCritical, res.Decision.Level)
	assert.Equal(t, 36, res.Decision.Shrunk)
	assert.Equal(t, int64(1), h.gcRuns.Load())
	assert.True(t, h.o.ShouldShed())

	report := h.o.Report()
	assert.Contains(t, report.Recommendations, Recommendation{Component: "memory", Message: "emergency mode active: reduce load"})

	h.sampler.SetRatio(0.5)
	h.clock.Advance(time.Minute)
	res = h.o.Tick(ctx)
	require.True(t, res.Checked)
	assert.True(t, res.Decision.ExitedEmergency)
	assert.False(t, h.o.ShouldShed())
}

func TestShouldShedNeedsFeature(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	require.NoError(t, h.o.Enable(ctx, ProfileStandard))

	h.sampler.SetRatio(0.95)
	require.True(t, h.o.Tick(ctx).Checked)
	assert.True(t, h.o.Memory().InEmergency())
	assert.False(t, h.o.ShouldShed())
}

func TestTickRateLimited(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	require.NoError(t, h.o.Enable(ctx, ProfileStandard))

	assert.True(t, h.o.Tick(ctx).Checked)
	assert.False(t, h.o.Tick(ctx).Checked)
	h.clock.Advance(h.o.Memory().NextInterval())
	assert.True(t, h.o.Tick(ctx).Checked)
}

func TestTickScalesObjectPools(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	require.NoError(t, h.o.Enable(ctx, ProfileStandard))

	var held []*pool.Object[*pool.Request]
	for i := 0; i < 20; i++ {
		held = append(held, h.o.Protocol().Requests.Acquire())
	}

	events := map[string]pool.ScaleEvent{}
	for _, ev := range h.o.Tick(ctx).Scaled {
		events[ev.Pool] = ev
	}
	up, ok := events[pool.RequestPoolName]
	require.True(t, ok)
	assert.Equal(t, pool.ScaleUp, up.Direction)
	assert.Equal(t, 256, up.From)
	assert.Equal(t, 512, up.To)

	down, ok := events[pool.ResponsePoolName]
	require.True(t, ok)
	assert.Equal(t, pool.ScaleDown, down.Direction)

	for _, obj := range held {
		require.NoError(t, obj.Release())
	}
}

func TestClassifyPayload(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	require.NoError(t, h.o.Enable(ctx, ProfileStandard))

	verdict, ok := h.o.ClassifyPayload(make([]int, 20))
	require.True(t, ok)
	assert.True(t, h.o.Policy().ShouldPool(make([]int, 20)))
	assert.Equal(t, "pool", verdict.Decision.String())

	cfg := config.Default()
	require.NoError(t, h.o.EnableConfig(ctx, "plain", cfg))
	_, ok = h.o.ClassifyPayload(make([]int, 20))
	assert.False(t, ok)
}

func TestCircuitOpensOnErrorRate(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)

	p, err := Lookup(ProfileHigh)
	require.NoError(t, err)
	cfg := p.Config()
	cfg.Monitor.SampleRate = 1
	require.NoError(t, h.o.EnableConfig(ctx, ProfileHigh, cfg))

	for i := 0; i < 10; i++ {
		id := fmt.Sprintf("req-%d", i)
		require.True(t, h.o.StartRequest(id, monitor.RequestMeta{Method: "GET"}))
		h.clock.Advance(10 * time.Millisecond)
		status := 200
		if i%2 == 0 {
			status = 503
		}
		_, ok := h.o.EndRequest(id, status)
		require.True(t, ok)
	}
	assert.True(t, h.o.CircuitOpen())

	cfg.Features.CircuitBreaking = false
	require.NoError(t, h.o.EnableConfig(ctx, "no-breaker", cfg))
	assert.False(t, h.o.CircuitOpen())
}

func TestStatus(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	require.NoError(t, h.o.Enable(ctx, ProfileStandard))
	h.clock.Advance(time.Minute)

	s := h.o.Status()
	assert.Equal(t, ProfileStandard, s.Profile)
	assert.True(t, s.Enabled)
	assert.Equal(t, time.Minute, s.Uptime)
	assert.True(t, s.Features.TrafficClassification)
	assert.Len(t, s.Objects.Pools, 4)
	assert.Len(t, s.Buffers.Buckets, len(config.DefaultSizeCategories()))
	assert.Equal(t, memory.Adaptive, s.Memory.Strategy)
}

func TestRecommend(t *testing.T) {
	cfg := config.Default()
	s := Status{
		Buffers: pool.PoolStatistics{Reuses: 20, Allocations: 180, HitRate: 0.1},
		Objects: pool.ObjectPoolStatistics{Pools: []pool.ObjectStatistics{{Name: "request", Overflows: 3}}},
		Performance: monitor.Snapshot{
			Percentiles: map[string]float64{"p99": 900},
			ErrorRate:   0.2,
		},
		Memory: memory.Stats{InEmergency: true, GCRunsPerMinute: 45, Failures: 1},
	}

	recs := recommend(s, cfg)
	components := map[string]int{}
	for _, r := range recs {
		components[r.Component]++
	}
	assert.Equal(t, 1, components["buffer_pool"])
	assert.Equal(t, 1, components["object_pool"])
	assert.Equal(t, 2, components["performance"])
	assert.Equal(t, 3, components["memory"])
	assert.Contains(t, recs, Recommendation{
		Component: "performance",
		Message:   "p99 900.0ms over threshold 500.0ms: scale up",
	})
	assert.Contains(t, recs, Recommendation{
		Component: "buffer_pool",
		Message:   "low pool hit-rate 0.10: increase bucket size (max_pool_size 100)",
	})

	assert.Empty(t, recommend(Status{}, cfg))
}

func TestLowVolumeGetsNoHitRateAdvice(t *testing.T) {
	s := Status{Buffers: pool.PoolStatistics{Allocations: 10}}
	assert.Empty(t, recommend(s, config.Default()))
}

func TestSinksGetFinalSnapshotOnDisable(t *testing.T) {
	ctx := context.Background()
	sink := &countingSink{}
	h := newHarness(t, WithSinks(sink))

	require.NoError(t, h.o.Enable(ctx, ProfileStandard))
	assert.Equal(t, 1, h.o.Monitor().ExportStats().Sinks)
	require.NoError(t, h.o.Disable(ctx))
	assert.Equal(t, int64(1), sink.exports.Load())
	assert.Zero(t, h.o.Monitor().ExportStats().Sinks)
}

func TestPrometheusCollectorWired(t *testing.T) {
	ctx := context.Background()
	reg := prometheus.NewRegistry()
	h := newHarness(t, WithRegisterer(reg))

	require.NoError(t, h.o.Enable(ctx, ProfileStandard))
	assert.Equal(t, 1, h.o.Monitor().ExportStats().Sinks)
	h.o.Tick(ctx)

	families, err := reg.Gather()
	require.NoError(t, err)
	names := map[string]bool{}
	for _, f := range families {
		names[f.GetName()] = true
	}
	assert.True(t, names["reservoir_orchestrator_enable_seconds"])
	assert.True(t, names["reservoir_buffer_pool_hit_rate"])
	assert.True(t, names["reservoir_object_pool_idle_objects"])
	assert.True(t, names["reservoir_memory_pressure_ratio"])

	require.NoError(t, h.o.Enable(ctx, ProfileHigh), "re-enable reuses the registered collector")
}

func TestLifecycleSpans(t *testing.T) {
	ctx := context.Background()
	rec := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(rec))
	h := newHarness(t, WithTracer(tp.Tracer("test")))

	require.NoError(t, h.o.Enable(ctx, ProfileStandard))
	require.Error(t, h.o.EnableConfig(ctx, "bad", nil))
	require.NoError(t, h.o.Disable(ctx))

	spans := rec.Ended()
	require.Len(t, spans, 3)
	assert.Equal(t, "orchestrator.enable", spans[0].Name())
	assert.Equal(t, "orchestrator.enable", spans[1].Name())
	assert.Equal(t, "Error", spans[1].Status().Code.String())
	assert.Equal(t, "orchestrator.disable", spans[2].Name())
}

func TestLifecycleLogs(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	h := newHarness(t, WithLogger(zap.New(core)))
	ctx := context.Background()

	require.NoError(t, h.o.Enable(ctx, ProfileStandard))
	require.NoError(t, h.o.Enable(ctx, ProfileExtreme))
	require.NoError(t, h.o.Disable(ctx))

	enabled := logs.FilterMessage("profile enabled").All()
	require.Len(t, enabled, 2)
	assert.Equal(t, ProfileStandard, enabled[1].ContextMap()["previous"])
	assert.Equal(t, ProfileExtreme, enabled[1].ContextMap()["profile"])
	assert.Equal(t, 1, logs.FilterMessage("profile disabled").Len())
}

func TestConcurrentSwitching(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	require.NoError(t, h.o.Enable(ctx, ProfileStandard))

	var wg sync.WaitGroup
	stop := make(chan struct{})
	for w := 0; w < 4; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-stop:
					return
				default:
				}
				b := h.o.Buffers().Acquire(512)
				_ = b.Release()
				obj := h.o.Protocol().Requests.Acquire()
				_ = obj.Release()
				_ = h.o.Status()
			}
		}()
	}
	for i := 0; i < 10; i++ {
		name := ProfileStandard
		if i%2 == 0 {
			name = ProfileHigh
		}
		require.NoError(t, h.o.Enable(ctx, name))
	}
	close(stop)
	wg.Wait()
}
