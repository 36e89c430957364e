package workload

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ajitpratap0/reservoir/pkg/memory"
	"github.com/ajitpratap0/reservoir/pkg/orchestrator"
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

func newOrchestrator(t *testing.T, profile string, sampleAll bool) (*orchestrator.Orchestrator, *memory.StaticSampler, *fakeClock) {
	t.Helper()
	clock := &fakeClock{now: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	sampler := memory.NewStaticSampler(0, 1<<30)
	o, err := orchestrator.New(
		orchestrator.WithClock(clock.Now),
		orchestrator.WithSampler(sampler),
		orchestrator.WithGCCollector(func() error { return nil }),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = o.Disable(context.Background()) })

	p, err := orchestrator.Lookup(profile)
	require.NoError(t, err)
	cfg := p.Config()
	if sampleAll {
		cfg.Monitor.SampleRate = 1
	}
	require.NoError(t, o.EnableConfig(context.Background(), profile, cfg))
	return o, sampler, clock
}

func quick(requests, concurrency int) Config {
	cfg := DefaultConfig()
	cfg.Requests = requests
	cfg.Concurrency = concurrency
	cfg.MaxLatency = 0
	return cfg
}

func TestValidate(t *testing.T) {
	bad := []Config{
		{Requests: 0, Concurrency: 1},
		{Requests: 1, Concurrency: 0},
		{Requests: 1, Concurrency: 1, MaxLatency: -1},
		{Requests: 1, Concurrency: 1, ServerErrorRate: 0.6, ClientErrorRate: 0.6},
		{Requests: 1, Concurrency: 1, LeakRate: 2},
	}
	for _, cfg := range bad {
		err := cfg.Validate()
		require.Error(t, err)
		assert.True(t, reservoirerrors.IsType(err, reservoirerrors.ErrorTypeConfig))
	}
	assert.NoError(t, DefaultConfig().Validate())
}

func TestRunCompletesEveryRequest(t *testing.T) {
	o, _, _ := newOrchestrator(t, orchestrator.ProfileStandard, true)
	cfg := quick(500, 4)
	cfg.ServerErrorRate = 0
	r, err := NewRunner(o, cfg, nil)
	require.NoError(t, err)

	res, err := r.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(500), res.Completed)
	assert.Equal(t, int64(500), res.Pooled+res.Direct)
	assert.Positive(t, res.Pooled)
	assert.Positive(t, res.Direct)
	assert.Equal(t, int64(10), res.Streams)
	assert.Zero(t, res.EncodeError)

	assert.Equal(t, int64(500), o.Monitor().Counts().Completed)
	assert.Zero(t, o.Buffers().Statistics().InUse)
	req, ok := pool.Lookup[*pool.Request](o.Objects(), pool.RequestPoolName)
	require.True(t, ok)
	assert.Zero(t, req.Statistics().InUse)
}

func TestRunShedsUnderEmergency(t *testing.T) {
	o, sampler, _ := newOrchestrator(t, orchestrator.ProfileHigh, false)
	sampler.SetRatio(0.95)
	require.True(t, o.Tick(context.Background()).Decision.EnteredEmergency)

	r, err := NewRunner(o, quick(200, 4), nil)
	require.NoError(t, err)
	res, err := r.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(200), res.Shed)
	assert.Zero(t, res.Completed)
}

func TestRunRejectsWhileCircuitOpen(t *testing.T) {
	o, _, _ := newOrchestrator(t, orchestrator.ProfileHigh, true)
	cfg := quick(1000, 1)
	cfg.ServerErrorRate = 1
	cfg.ClientErrorRate = 0
	r, err := NewRunner(o, cfg, nil)
	require.NoError(t, err)

	res, err := r.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(circuitCheckEvery), res.Completed)
	assert.Equal(t, int64(1000-circuitCheckEvery), res.Rejected)
}

func TestLeakedStreamsAreSwept(t *testing.T) {
	o, _, clock := newOrchestrator(t, orchestrator.ProfileExtreme, false)
	cfg := quick(20, 2)
	cfg.StreamEvery = 1
	cfg.LeakRate = 1
	r, err := NewRunner(o, cfg, nil)
	require.NoError(t, err)

	res, err := r.Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, int64(20), res.Leaked)
	assert.Equal(t, 20, o.Memory().Stats().Tracked)

	streams, ok := pool.Lookup[*pool.Stream](o.Objects(), pool.StreamPoolName)
	require.True(t, ok)
	assert.Equal(t, int64(20), streams.Statistics().InUse)

	// the background loop may run the sweep before Tick does
	clock.Advance(o.Config().Memory.MaxObjectLifetime + time.Second)
	o.Tick(context.Background())
	assert.Equal(t, int64(20), o.Memory().Stats().Swept)
	assert.Zero(t, o.Memory().Stats().Tracked)
	assert.Zero(t, streams.Statistics().InUse)
}

func TestRunStopsOnCancel(t *testing.T) {
	o, _, _ := newOrchestrator(t, orchestrator.ProfileStandard, false)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	r, err := NewRunner(o, quick(1000, 2), nil)
	require.NoError(t, err)
	res, err := r.Run(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Less(t, res.Completed, int64(1000))
}
