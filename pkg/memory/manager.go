package memory

import (
	"context"
	"fmt"
	"math"
	"runtime"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/ajitpratap0/reservoir/pkg/config"
	"github.com/ajitpratap0/reservoir/pkg/logger"
	"github.com/ajitpratap0/reservoir/pkg/reservoirerrors"
)

// Collector forces a garbage collection.
type Collector func() error

// Shrinker is a pool that can drop idle resources under pressure.
type Shrinker interface {
	ShrinkToFloor() int
}

// DefaultCollector runs a full collection and returns freed memory to the OS.
func DefaultCollector() error {
	runtime.GC()
	debug.FreeOSMemory()
	return nil
}

func heapAlloc() uint64 {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	return ms.HeapAlloc
}

// GCResult describes one forced collection.
type GCResult struct {
	Reason      string        `json:"reason"`
	Started     time.Time     `json:"started"`
	Duration    time.Duration `json:"duration"`
	BytesBefore uint64        `json:"bytes_before"`
	BytesAfter  uint64        `json:"bytes_after"`
	Reclaimed   uint64        `json:"reclaimed"`
	Error       string        `json:"error,omitempty"`
	Err         error         `json:"-"`
}

// Decision is the outcome of one pressure observation.
type Decision struct {
	Timestamp        time.Time     `json:"timestamp"`
	Ratio            float64       `json:"ratio"`
	Level            PressureLevel `json:"level"`
	Previous         PressureLevel `json:"previous"`
	Collect          bool          `json:"collect"`
	EnteredEmergency bool          `json:"entered_emergency"`
	ExitedEmergency  bool          `json:"exited_emergency"`
	Shrunk           int           `json:"shrunk"`
	Swept            int           `json:"swept"`
	Dropped          int           `json:"dropped"`
	NextCheck        time.Duration `json:"next_check"`
	GC               *GCResult     `json:"gc,omitempty"`
}

// Stats is a snapshot of the manager.
type Stats struct {
	Strategy               GCStrategy     `json:"strategy"`
	Level                  PressureLevel  `json:"level"`
	Ratio                  float64        `json:"ratio"`
	InEmergency            bool           `json:"in_emergency"`
	EmergencyEntries       int64          `json:"emergency_entries"`
	Checks                 int64          `json:"checks"`
	SkippedChecks          int64          `json:"skipped_checks"`
	SampleErrors           int64          `json:"sample_errors"`
	Runs                   int64          `json:"runs"`
	Failures               int64          `json:"failures"`
	BytesReclaimedEstimate uint64         `json:"bytes_reclaimed_estimate"`
	LastRunTime            time.Time      `json:"last_run_time"`
	GCRunsPerMinute        float64        `json:"gc_runs_per_minute"`
	Tracked                int            `json:"tracked"`
	Swept                  int64          `json:"swept"`
	Dropped                int64          `json:"dropped"`
	LastSample             PressureSample `json:"last_sample"`
}

// Option configures a Manager.
type Option func(*Manager)

// WithSampler sets the memory sampler. Without one, NewManager builds a
// RuntimeSampler.
func WithSampler(s Sampler) Option {
	return func(m *Manager) { m.sampler = s }
}

// WithCollector replaces DefaultCollector.
func WithCollector(c Collector) Option {
	return func(m *Manager) { m.collector = c }
}

// WithHeapProbe replaces the heap reading used to estimate reclaimed bytes.
func WithHeapProbe(probe func() uint64) Option {
	return func(m *Manager) { m.heap = probe }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(m *Manager) { m.logger = l }
}

// Manager maps memory samples to pressure levels and applies its GC
// strategy. It is safe for concurrent use.
type Manager struct {
	cfg        config.MemoryConfig
	thresholds Thresholds
	sampler    Sampler
	collector  Collector
	heap       func() uint64
	now        func() time.Time
	logger     *zap.Logger
	lifetimes  *LifetimeTracker

	strategy  atomic.Int32
	lastCheck atomic.Int64

	mu         sync.Mutex
	level      PressureLevel
	emergency  bool
	lastSample PressureSample

	ratioBits atomic.Uint64

	shrinkMu  sync.RWMutex
	shrinkers []Shrinker

	gcMu    sync.Mutex
	gcTimes []time.Time

	checks           atomic.Int64
	skipped          atomic.Int64
	sampleErrors     atomic.Int64
	runs             atomic.Int64
	failures         atomic.Int64
	reclaimed        atomic.Uint64
	lastRun          atomic.Int64
	emergencyEntries atomic.Int64
	swept            atomic.Int64
	dropped          atomic.Int64
}

// NewManager validates cfg and returns a Manager.
func NewManager(ctx context.Context, cfg config.MemoryConfig, opts ...Option) (*Manager, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	strategy, err := ParseGCStrategy(cfg.GCStrategy)
	if err != nil {
		return nil, err
	}

	m := &Manager{
		cfg:        cfg,
		thresholds: ThresholdsFromConfig(cfg),
		collector:  DefaultCollector,
		heap:       heapAlloc,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	m.logger = logger.OrNop(m.logger).With(zap.String("component", "memory_manager"))
	m.strategy.Store(int32(strategy))
	m.lifetimes = NewLifetimeTracker(cfg.MaxObjectLifetime, m.now)

	if m.sampler == nil {
		s, err := NewRuntimeSampler(ctx, cfg.LimitBytes)
		if err != nil {
			return nil, err
		}
		m.sampler = s
	}
	return m, nil
}

// RegisterShrinker adds a pool to shrink when emergency mode is entered.
func (m *Manager) RegisterShrinker(s Shrinker) {
	m.shrinkMu.Lock()
	m.shrinkers = append(m.shrinkers, s)
	m.shrinkMu.Unlock()
}

// Track registers release to run if the object outlives max_object_lifetime
// while the aggressive strategy is active. Under other strategies expired
// entries are dropped without release.
func (m *Manager) Track(release func()) (untrack func()) {
	return m.lifetimes.Track(release)
}

// Strategy returns the active strategy.
func (m *Manager) Strategy() GCStrategy {
	return GCStrategy(m.strategy.Load())
}

// Reconfigure switches the GC strategy. The next check uses the new interval.
func (m *Manager) Reconfigure(s GCStrategy) {
	prev := GCStrategy(m.strategy.Swap(int32(s)))
	if prev != s {
		m.logger.Info("gc strategy changed", zap.Stringer("from", prev), zap.Stringer("to", s))
	}
}

// Level returns the current pressure level.
func (m *Manager) Level() PressureLevel {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.level
}

// InEmergency reports whether emergency mode is active.
func (m *Manager) InEmergency() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.emergency
}

// PressureRatio returns used/limit from the latest sample.
func (m *Manager) PressureRatio() float64 {
	return math.Float64frombits(m.ratioBits.Load())
}

// NextInterval returns the minimum time between checks at the current level.
func (m *Manager) NextInterval() time.Duration {
	return m.Strategy().Interval(m.cfg.CheckInterval, m.Level())
}

// Check samples memory and applies the strategy. Calls within the current
// check interval of the previous one return false without sampling; only
// one concurrent caller per interval performs the check.
func (m *Manager) Check(ctx context.Context) (Decision, bool) {
	now := m.now()
	last := m.lastCheck.Load()
	if last != 0 && now.UnixNano()-last < int64(m.NextInterval()) {
		m.skipped.Add(1)
		return Decision{}, false
	}
	if !m.lastCheck.CompareAndSwap(last, now.UnixNano()) {
		m.skipped.Add(1)
		return Decision{}, false
	}

	sample, err := m.sampler.Sample(ctx)
	if err != nil {
		m.sampleErrors.Add(1)
		m.logger.Warn("memory sample failed", zap.Error(err))
		return Decision{}, false
	}
	if sample.Timestamp.IsZero() {
		sample.Timestamp = now
	}
	return m.Observe(sample), true
}

// Observe applies one sample: it updates the level and emergency state,
// shrinks registered pools on entering emergency, forces collection when
// the strategy calls for it and sweeps expired objects under the aggressive
// strategy.
func (m *Manager) Observe(sample PressureSample) Decision {
	m.checks.Add(1)
	ratio := sample.Ratio()
	strategy := m.Strategy()

	m.mu.Lock()
	prev := m.level
	wasEmergency := m.emergency
	level := m.thresholds.Level(ratio, wasEmergency)
	entered := !wasEmergency && level == LevelCritical
	exited := wasEmergency && level != LevelCritical
	m.level = level
	m.emergency = level == LevelCritical
	m.lastSample = sample
	m.mu.Unlock()

	m.ratioBits.Store(math.Float64bits(ratio))

	d := Decision{
		Timestamp:        sample.Timestamp,
		Ratio:            ratio,
		Level:            level,
		Previous:         prev,
		Collect:          entered || strategy.ShouldCollect(level),
		EnteredEmergency: entered,
		ExitedEmergency:  exited,
		NextCheck:        strategy.Interval(m.cfg.CheckInterval, level),
	}

	if entered {
		m.emergencyEntries.Add(1)
		m.logger.Warn("entering emergency mode",
			zap.Float64("ratio", ratio),
			zap.Uint64("used_bytes", sample.UsedBytes),
			zap.Uint64("limit_bytes", sample.LimitBytes))
		d.Shrunk = m.shrinkAll()
	}
	if exited {
		m.logger.Info("exiting emergency mode", zap.Float64("ratio", ratio), zap.Stringer("level", level))
	}

	if d.Collect {
		reason := "pressure_" + level.String()
		if entered {
			reason = "emergency"
		}
		res := m.ForceGC(reason)
		d.GC = &res
	}

	if strategy.TracksLifetimes() {
		d.Swept = m.lifetimes.Sweep(m.now())
		m.swept.Add(int64(d.Swept))
	} else {
		d.Dropped = m.lifetimes.Drop(m.now())
		m.dropped.Add(int64(d.Dropped))
	}
	return d
}

// shrinkAll calls every registered shrinker without holding manager locks
// across the calls.
func (m *Manager) shrinkAll() int {
	m.shrinkMu.RLock()
	shrinkers := append([]Shrinker(nil), m.shrinkers...)
	m.shrinkMu.RUnlock()

	total := 0
	for _, s := range shrinkers {
		total += s.ShrinkToFloor()
	}
	return total
}

// ForceGC runs the collector. Errors and panics from the collector are
// logged and counted, never returned to the caller's request path.
func (m *Manager) ForceGC(reason string) GCResult {
	res := GCResult{Reason: reason, Started: m.now(), BytesBefore: m.heap()}

	err := m.runCollector()
	res.Duration = m.now().Sub(res.Started)

	if err != nil {
		res.Err = reservoirerrors.Wrap(err, reservoirerrors.ErrorTypeGC, "forced collection failed").
			WithDetail("reason", reason)
		res.Error = res.Err.Error()
		m.failures.Add(1)
		m.logger.Warn("forced gc failed", zap.String("reason", reason), zap.Error(err))
		return res
	}

	res.BytesAfter = m.heap()
	if res.BytesBefore > res.BytesAfter {
		res.Reclaimed = res.BytesBefore - res.BytesAfter
	}
	m.runs.Add(1)
	m.reclaimed.Add(res.Reclaimed)
	m.lastRun.Store(res.Started.UnixNano())
	m.recordRun(res.Started)

	m.logger.Info("forced gc",
		zap.String("reason", reason),
		zap.Duration("duration", res.Duration),
		zap.Uint64("reclaimed_bytes", res.Reclaimed))
	return res
}

func (m *Manager) runCollector() (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("collector panicked: %v", r)
		}
	}()
	return m.collector()
}

func (m *Manager) recordRun(t time.Time) {
	m.gcMu.Lock()
	m.gcTimes = append(m.gcTimes, t)
	m.pruneRunsLocked(m.now().Add(-time.Minute))
	m.gcMu.Unlock()
}

// pruneRunsLocked drops run times at or before cutoff. gcMu must be held.
func (m *Manager) pruneRunsLocked(cutoff time.Time) {
	i := 0
	for i < len(m.gcTimes) && !m.gcTimes[i].After(cutoff) {
		i++
	}
	m.gcTimes = append(m.gcTimes[:0], m.gcTimes[i:]...)
}

// GCRunsPerMinute returns the number of successful forced collections in
// the last minute.
func (m *Manager) GCRunsPerMinute() float64 {
	cutoff := m.now().Add(-time.Minute)

	m.gcMu.Lock()
	defer m.gcMu.Unlock()
	m.pruneRunsLocked(cutoff)
	return float64(len(m.gcTimes))
}

// Stats returns a snapshot of the manager.
func (m *Manager) Stats() Stats {
	m.mu.Lock()
	level, emergency, sample := m.level, m.emergency, m.lastSample
	m.mu.Unlock()

	var lastRun time.Time
	if ns := m.lastRun.Load(); ns != 0 {
		lastRun = time.Unix(0, ns)
	}

	return Stats{
		Strategy:               m.Strategy(),
		Level:                  level,
		Ratio:                  m.PressureRatio(),
		InEmergency:            emergency,
		EmergencyEntries:       m.emergencyEntries.Load(),
		Checks:                 m.checks.Load(),
		SkippedChecks:          m.skipped.Load(),
		SampleErrors:           m.sampleErrors.Load(),
		Runs:                   m.runs.Load(),
		Failures:               m.failures.Load(),
		BytesReclaimedEstimate: m.reclaimed.Load(),
		LastRunTime:            lastRun,
		GCRunsPerMinute:        m.GCRunsPerMinute(),
		Tracked:                m.lifetimes.Len(),
		Swept:                  m.swept.Load(),
		Dropped:                m.dropped.Load(),
		LastSample:             sample,
	}
}
