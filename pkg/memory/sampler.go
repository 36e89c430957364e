package memory

import (
	"context"
	"math"
	"os"
	"runtime"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/shirou/gopsutil/v3/mem"
	"github.com/shirou/gopsutil/v3/process"

	"github.com/ajitpratap0/reservoir/pkg/reservoirerrors"
)

// Sampler reads current memory usage.
type Sampler interface {
	Sample(ctx context.Context) (PressureSample, error)
}

// SystemLimit returns total system memory.
func SystemLimit(ctx context.Context) (uint64, error) {
	vm, err := mem.VirtualMemoryWithContext(ctx)
	if err != nil {
		return 0, reservoirerrors.Wrap(err, reservoirerrors.ErrorTypeInternal, "failed to read system memory")
	}
	return vm.Total, nil
}

// ResolveLimit picks the memory limit: the configured value when non-zero,
// then the Go runtime soft limit if one is set, then total system memory.
func ResolveLimit(ctx context.Context, configured uint64) (uint64, error) {
	if configured > 0 {
		return configured, nil
	}
	if soft := debug.SetMemoryLimit(-1); soft > 0 && soft != math.MaxInt64 {
		return uint64(soft), nil
	}
	return SystemLimit(ctx)
}

// peakTracker remembers the largest used value seen.
type peakTracker struct {
	peak atomic.Uint64
}

func (p *peakTracker) observe(used uint64) uint64 {
	for {
		cur := p.peak.Load()
		if used <= cur {
			return cur
		}
		if p.peak.CompareAndSwap(cur, used) {
			return used
		}
	}
}

// RuntimeSampler measures Go heap in use against a fixed limit.
type RuntimeSampler struct {
	limit uint64
	peak  peakTracker
}

// NewRuntimeSampler resolves the limit once with ResolveLimit.
func NewRuntimeSampler(ctx context.Context, limitBytes uint64) (*RuntimeSampler, error) {
	limit, err := ResolveLimit(ctx, limitBytes)
	if err != nil {
		return nil, err
	}
	return &RuntimeSampler{limit: limit}, nil
}

// Sample implements Sampler.
func (s *RuntimeSampler) Sample(_ context.Context) (PressureSample, error) {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	used := ms.HeapInuse + ms.StackInuse
	return PressureSample{
		Timestamp:  time.Now(),
		UsedBytes:  used,
		PeakBytes:  s.peak.observe(used),
		LimitBytes: s.limit,
	}, nil
}

// ProcessSampler measures the resident set size of this process.
type ProcessSampler struct {
	proc  *process.Process
	limit uint64
	peak  peakTracker
}

// NewProcessSampler attaches to the current process and resolves the limit.
func NewProcessSampler(ctx context.Context, limitBytes uint64) (*ProcessSampler, error) {
	proc, err := process.NewProcessWithContext(ctx, int32(os.Getpid())) //nolint:gosec // pid fits in int32
	if err != nil {
		return nil, reservoirerrors.Wrap(err, reservoirerrors.ErrorTypeInternal, "failed to open process")
	}
	limit, err := ResolveLimit(ctx, limitBytes)
	if err != nil {
		return nil, err
	}
	return &ProcessSampler{proc: proc, limit: limit}, nil
}

// Sample implements Sampler.
func (s *ProcessSampler) Sample(ctx context.Context) (PressureSample, error) {
	info, err := s.proc.MemoryInfoWithContext(ctx)
	if err != nil {
		return PressureSample{}, reservoirerrors.Wrap(err, reservoirerrors.ErrorTypeInternal, "failed to read process memory")
	}
	return PressureSample{
		Timestamp:  time.Now(),
		UsedBytes:  info.RSS,
		PeakBytes:  s.peak.observe(info.RSS),
		LimitBytes: s.limit,
	}, nil
}

// StaticSampler returns whatever was last Set. It is used by tests and by
// the workload generator to replay pressure curves.
type StaticSampler struct {
	mu     sync.Mutex
	sample PressureSample
	peak   peakTracker
}

// NewStaticSampler returns a sampler reporting used/limit.
func NewStaticSampler(used, limit uint64) *StaticSampler {
	s := &StaticSampler{}
	s.Set(used, limit)
	return s
}

// Set replaces the reported usage.
func (s *StaticSampler) Set(used, limit uint64) {
	s.mu.Lock()
	s.sample = PressureSample{UsedBytes: used, PeakBytes: s.peak.observe(used), LimitBytes: limit}
	s.mu.Unlock()
}

// SetRatio sets usage to ratio of a 1GiB limit.
func (s *StaticSampler) SetRatio(ratio float64) {
	const limit = 1 << 30
	s.Set(uint64(ratio*limit), limit)
}

// Sample implements Sampler.
func (s *StaticSampler) Sample(_ context.Context) (PressureSample, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := s.sample
	out.Timestamp = time.Now()
	return out, nil
}
