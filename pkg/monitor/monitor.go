package monitor

import (
	"math"
	"runtime/metrics"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cespare/xxhash/v2"
	"go.uber.org/zap"

	"github.com/ajitpratap0/reservoir/pkg/config"
	"github.com/ajitpratap0/reservoir/pkg/logger"
	"github.com/ajitpratap0/reservoir/pkg/pool"
)

const heapObjectsMetric = "/memory/classes/heap/objects:bytes"

// Option configures a Monitor.
type Option func(*Monitor)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(m *Monitor) { m.now = now }
}

// WithMemoryProbe replaces the live-heap reading used for per-request
// memory deltas.
func WithMemoryProbe(probe func() uint64) Option {
	return func(m *Monitor) { m.memProbe = probe }
}

// WithResourceProvider sets the source of memory ratio and GC frequency
// used for alerting.
func WithResourceProvider(p ResourceProvider) Option {
	return func(m *Monitor) { m.resources = p }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(m *Monitor) { m.logger = l }
}

type aggregate struct {
	samples     int
	percentiles map[string]float64
	mean        float64
	max         float64
	p99         float64
}

// Monitor is the performance monitor. It is safe for concurrent use.
type Monitor struct {
	cfg       config.MonitorConfig
	width     time.Duration
	sampleAll bool
	sampleMax uint64
	now       func() time.Time
	memProbe  func() uint64
	resources ResourceProvider
	logger    *zap.Logger

	inflight *inflightMap

	mu      sync.Mutex
	windows *windowSet
	ring    *latencyRing
	dirty   bool
	buf     []float64
	cached  aggregate

	started      atomic.Int64
	completed    atomic.Int64
	success      atomic.Int64
	clientErrors atomic.Int64
	serverErrors atomic.Int64
	unknown      atomic.Int64
	abandoned    atomic.Int64

	sinkMu         sync.RWMutex
	sinks          []Sink
	exports        atomic.Int64
	exportFailures atomic.Int64
}

// New validates cfg and returns a Monitor.
func New(cfg config.MonitorConfig, opts ...Option) (*Monitor, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	cfg.Percentiles = append([]float64(nil), cfg.Percentiles...)

	m := &Monitor{
		cfg:      cfg,
		width:    time.Duration(cfg.MetricWindowSeconds) * time.Second,
		now:      time.Now,
		memProbe: newHeapProbe(),
		inflight: newInflightMap(),
		windows:  newWindowSet(time.Duration(cfg.MetricWindowSeconds)*time.Second, cfg.WindowRetention),
		ring:     newLatencyRing(cfg.MaxSamples),
		cached:   aggregate{percentiles: map[string]float64{}},
	}
	m.sampleAll = cfg.SampleRate >= 1
	m.sampleMax = uint64(cfg.SampleRate * math.MaxUint64)

	for _, opt := range opts {
		opt(m)
	}
	m.logger = logger.OrNop(m.logger).With(zap.String("component", "performance_monitor"))
	return m, nil
}

// Config returns the monitor configuration.
func (m *Monitor) Config() config.MonitorConfig {
	return m.cfg
}

// Sampled reports whether id falls inside the sample rate. The decision is
// a hash of id so StartRequest and EndRequest agree without shared state.
func (m *Monitor) Sampled(id string) bool {
	if m.sampleAll {
		return true
	}
	if m.sampleMax == 0 {
		return false
	}
	return xxhash.Sum64String(id) < m.sampleMax
}

// StartRequest begins tracking id if it is sampled. Starting an id that is
// already in flight replaces the earlier start.
func (m *Monitor) StartRequest(id string, meta RequestMeta) bool {
	if !m.Sampled(id) {
		return false
	}
	m.inflight.put(id, m.now(), m.memProbe(), meta)
	m.started.Add(1)
	return true
}

// EndRequest completes id with status. Ids that were never started or not
// sampled are ignored.
func (m *Monitor) EndRequest(id string, status int) (RequestMetric, bool) {
	e, ok := m.inflight.take(id)
	if !ok {
		if m.Sampled(id) {
			m.unknown.Add(1)
		}
		return RequestMetric{}, false
	}

	end := m.now()
	latency := end.Sub(e.start)
	if latency < 0 {
		latency = 0
	}
	rm := RequestMetric{
		ID:          id,
		Meta:        e.meta,
		Start:       e.start,
		End:         end,
		Status:      status,
		Class:       ClassifyStatus(status),
		Latency:     latency,
		LatencyMs:   float64(latency) / float64(time.Millisecond),
		MemoryDelta: int64(m.memProbe()) - int64(e.mem), //nolint:gosec // heap sizes fit in int64
	}
	m.record(rm)
	return rm, true
}

func (m *Monitor) record(rm RequestMetric) {
	m.completed.Add(1)
	switch rm.Class {
	case StatusSuccess:
		m.success.Add(1)
	case StatusClientError:
		m.clientErrors.Add(1)
	case StatusServerError:
		m.serverErrors.Add(1)
	}

	m.mu.Lock()
	rotated := m.windows.record(rm.End, rm.Class, rm.LatencyMs)
	m.ring.add(rm.LatencyMs)
	m.dirty = true
	m.mu.Unlock()

	if rotated {
		cutoff := rm.End.Add(-m.width * time.Duration(m.cfg.WindowRetention))
		if n := m.inflight.purge(cutoff, false); n > 0 {
			m.abandoned.Add(int64(n))
			m.logger.Debug("purged abandoned requests", zap.Int("count", n))
		}
	}
}

// aggregateLocked recomputes the latency aggregate if new data arrived.
func (m *Monitor) aggregateLocked() aggregate {
	if !m.dirty {
		return m.cached
	}
	m.buf = m.ring.sorted(m.buf)

	agg := aggregate{samples: len(m.buf), percentiles: make(map[string]float64, len(m.cfg.Percentiles))}
	for _, p := range m.cfg.Percentiles {
		agg.percentiles[PercentileKey(p)] = Percentile(m.buf, p)
	}
	if n := len(m.buf); n > 0 {
		var sum float64
		for _, v := range m.buf {
			sum += v
		}
		agg.mean = sum / float64(n)
		agg.max = m.buf[n-1]
	}
	agg.p99 = Percentile(m.buf, 99)
	m.cached = agg
	m.dirty = false
	return agg
}

// Snapshot aggregates current state. Percentiles are recomputed only when
// requests completed since the last call; rates and alerts are evaluated
// on every call.
func (m *Monitor) Snapshot() Snapshot {
	now := m.now()

	m.mu.Lock()
	agg := m.aggregateLocked()
	rps, errorRate := m.windows.rates(now)
	windows := len(m.windows.byKey)
	m.mu.Unlock()

	percentiles := make(map[string]float64, len(agg.percentiles))
	for k, v := range agg.percentiles {
		percentiles[k] = v
	}

	var memRatio, gcPerMin float64
	if m.resources != nil {
		memRatio = m.resources.PressureRatio()
		gcPerMin = m.resources.GCRunsPerMinute()
	}
	return Snapshot{
		Timestamp:     now,
		Samples:       agg.samples,
		Percentiles:   percentiles,
		MeanLatencyMs: agg.mean,
		MaxLatencyMs:  agg.max,
		RPS:           rps,
		ErrorRate:     errorRate,
		MemoryRatio:   memRatio,
		GCPerMinute:   gcPerMin,
		Active:        m.inflight.len(),
		Windows:       windows,
		Counts:        m.Counts(),
		Alerts:        evaluateAlerts(m.cfg.AlertThresholds, agg.p99, errorRate, memRatio, gcPerMin),
	}
}

// Counts returns cumulative counters.
func (m *Monitor) Counts() Counts {
	return Counts{
		Started:      m.started.Load(),
		Completed:    m.completed.Load(),
		Success:      m.success.Load(),
		ClientErrors: m.clientErrors.Load(),
		ServerErrors: m.serverErrors.Load(),
		Unknown:      m.unknown.Load(),
		Abandoned:    m.abandoned.Load(),
	}
}

// Active returns the number of in-flight sampled requests.
func (m *Monitor) Active() int {
	return m.inflight.len()
}

// InflightPoolStats reports reuse of in-flight entries.
func (m *Monitor) InflightPoolStats() pool.Stats {
	return m.inflight.poolStats()
}

// Reset drops all windows, samples and in-flight entries. Counters are kept.
func (m *Monitor) Reset() {
	m.mu.Lock()
	m.windows = newWindowSet(m.width, m.cfg.WindowRetention)
	m.ring = newLatencyRing(m.cfg.MaxSamples)
	m.dirty = true
	m.mu.Unlock()
	m.inflight.purge(time.Time{}, true)
}

func newHeapProbe() func() uint64 {
	samples := pool.New(func() *[1]metrics.Sample {
		s := &[1]metrics.Sample{}
		s[0].Name = heapObjectsMetric
		return s
	}, nil)
	return func() uint64 {
		s := samples.Get()
		defer samples.Put(s)
		metrics.Read(s[:])
		if s[0].Value.Kind() != metrics.KindUint64 {
			return 0
		}
		return s[0].Value.Uint64()
	}
}
