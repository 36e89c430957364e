// Package orchestrator wires the pools, the memory pressure manager and the
// performance monitor into named profiles with a single enable/disable
// lifecycle.
//
// An Orchestrator always holds a complete set of components. Before the
// first Enable and after Disable those components are inert: pooling and
// sampling are off and no background loop runs. Enabling a profile builds a
// fresh set, swaps it in, then stops and clears the previous one.
package orchestrator

import (
	"context"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/ajitpratap0/reservoir/pkg/config"
	"github.com/ajitpratap0/reservoir/pkg/logger"
	"github.com/ajitpratap0/reservoir/pkg/memory"
	"github.com/ajitpratap0/reservoir/pkg/metrics"
	"github.com/ajitpratap0/reservoir/pkg/monitor"
	"github.com/ajitpratap0/reservoir/pkg/observability"
	"github.com/ajitpratap0/reservoir/pkg/pool"
	"github.com/ajitpratap0/reservoir/pkg/reservoirerrors"
	"github.com/ajitpratap0/reservoir/pkg/sizing"
)

const tracerName = "github.com/ajitpratap0/reservoir/pkg/orchestrator"

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithLogger sets the base logger handed to every component.
func WithLogger(l *zap.Logger) Option {
	return func(o *Orchestrator) { o.logger = l }
}

// WithRegisterer attaches a Prometheus collector registered on reg.
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(o *Orchestrator) { o.registerer = reg }
}

// WithTracer replaces the global tracer used for lifecycle spans.
func WithTracer(t trace.Tracer) Option {
	return func(o *Orchestrator) { o.tracer = t }
}

// WithSampler sets the memory sampler used by every enabled profile.
// Without one each profile builds a memory.RuntimeSampler.
func WithSampler(s memory.Sampler) Option {
	return func(o *Orchestrator) { o.sampler = s }
}

// WithGCCollector replaces memory.DefaultCollector.
func WithGCCollector(c memory.Collector) Option {
	return func(o *Orchestrator) { o.gc = c }
}

// WithClock replaces time.Now in the orchestrator and its components.
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) { o.now = now }
}

// WithSinks adds export sinks to every enabled profile's monitor.
func WithSinks(sinks ...monitor.Sink) Option {
	return func(o *Orchestrator) { o.sinks = append(o.sinks, sinks...) }
}

// Orchestrator owns the active component set. It is safe for concurrent use.
type Orchestrator struct {
	logger     *zap.Logger
	registerer prometheus.Registerer
	collector  *metrics.Collector
	tracer     trace.Tracer
	sampler    memory.Sampler
	gc         memory.Collector
	now        func() time.Time
	sinks      []monitor.Sink

	switchMu sync.Mutex // serializes Enable and Disable

	mu  sync.RWMutex
	cur *components
}

type components struct {
	profile string
	enabled bool
	since   time.Time
	cfg     *config.Config

	policy   *sizing.Policy
	buffers  *pool.BufferPool
	objects  *pool.ObjectPool
	protocol *pool.ProtocolPools
	memory   *memory.Manager
	monitor  *monitor.Monitor

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New returns an Orchestrator holding inert components.
func New(opts ...Option) (*Orchestrator, error) {
	o := &Orchestrator{now: time.Now}
	for _, opt := range opts {
		opt(o)
	}
	o.logger = logger.OrNop(o.logger).With(zap.String("component", "orchestrator"))
	if o.tracer == nil {
		o.tracer = otel.Tracer(tracerName)
	}
	if o.registerer != nil {
		o.collector = metrics.NewCollector(o.registerer)
	}

	inert, err := o.build(context.Background(), "", testConfig(), false)
	if err != nil {
		return nil, err
	}
	o.cur = inert
	return o, nil
}

// Enable looks up a named profile and enables it.
func (o *Orchestrator) Enable(ctx context.Context, name string) error {
	p, err := Lookup(name)
	if err != nil {
		return err
	}
	return o.EnableConfig(ctx, p.Name, p.Config())
}

// EnableConfig validates cfg and replaces the active components with ones
// built from it. Pools of the previous profile are cleared.
func (o *Orchestrator) EnableConfig(ctx context.Context, name string, cfg *config.Config) (err error) {
	ctx, span := observability.StartSpan(ctx, o.tracer, "orchestrator.enable")
	span.SetAttribute("profile", name)
	defer func() { span.End(err) }()

	if cfg == nil {
		return reservoirerrors.New(reservoirerrors.ErrorTypeValidation, "profile configuration is nil").
			WithDetail("profile", name)
	}
	cfg = cfg.Clone()
	if err := cfg.Validate(); err != nil {
		return err
	}

	o.switchMu.Lock()
	defer o.switchMu.Unlock()

	timer := metrics.NewTimer(o.now)
	next, err := o.build(ctx, name, cfg, true)
	if err != nil {
		return err
	}

	prev := o.swap(next)
	released := o.teardown(ctx, prev)
	o.start(ctx, next)

	span.SetAttribute("released", released)
	span.SetAttribute("gc_strategy", cfg.Memory.GCStrategy)
	o.logger.Info("profile enabled",
		zap.String("profile", name),
		zap.String("previous", prev.profile),
		zap.Int("released", released),
		zap.String("gc_strategy", cfg.Memory.GCStrategy),
		zap.Float64("sample_rate", cfg.Monitor.SampleRate))
	if o.collector != nil {
		o.collector.ObserveProfileSwitch(name, timer.Stop())
	}
	return nil
}

// Disable stops background work, clears the pools and installs inert
// components. Disabling an inert orchestrator is a no-op.
func (o *Orchestrator) Disable(ctx context.Context) (err error) {
	ctx, span := observability.StartSpan(ctx, o.tracer, "orchestrator.disable")
	defer func() { span.End(err) }()

	o.switchMu.Lock()
	defer o.switchMu.Unlock()

	if !o.current().enabled {
		return nil
	}
	inert, err := o.build(ctx, "", testConfig(), false)
	if err != nil {
		return err
	}
	prev := o.swap(inert)
	released := o.teardown(ctx, prev)

	span.SetAttribute("profile", prev.profile)
	o.logger.Info("profile disabled", zap.String("profile", prev.profile), zap.Int("released", released))
	return nil
}

func (o *Orchestrator) build(ctx context.Context, name string, cfg *config.Config, enabled bool) (*components, error) {
	log := o.logger
	if name != "" {
		log = log.With(zap.String("profile", name))
	}

	policy, err := sizing.NewPolicy(cfg.Threshold)
	if err != nil {
		return nil, err
	}
	buffers, err := pool.NewBufferPool(cfg.Buffer, policy, log)
	if err != nil {
		return nil, err
	}
	objects, err := pool.NewObjectPool(cfg.Objects, log)
	if err != nil {
		return nil, err
	}
	protocol, err := pool.RegisterProtocolObjects(objects)
	if err != nil {
		return nil, err
	}

	memOpts := []memory.Option{memory.WithLogger(log), memory.WithClock(o.now)}
	switch {
	case !enabled:
		memOpts = append(memOpts, memory.WithSampler(memory.NewStaticSampler(0, 1<<30)))
	case o.sampler != nil:
		memOpts = append(memOpts, memory.WithSampler(o.sampler))
	}
	if o.gc != nil {
		memOpts = append(memOpts, memory.WithCollector(o.gc))
	}
	mgr, err := memory.NewManager(ctx, cfg.Memory, memOpts...)
	if err != nil {
		return nil, err
	}
	mgr.RegisterShrinker(buffers)
	mgr.RegisterShrinker(objects)

	mon, err := monitor.New(cfg.Monitor,
		monitor.WithLogger(log),
		monitor.WithClock(o.now),
		monitor.WithResourceProvider(mgr))
	if err != nil {
		return nil, err
	}
	if enabled {
		for _, s := range o.sinks {
			mon.RegisterSink(s)
		}
		if o.collector != nil {
			mon.RegisterSink(metrics.NewPrometheusSink(o.collector))
		}
	}

	return &components{
		profile:  name,
		enabled:  enabled,
		since:    o.now(),
		cfg:      cfg,
		policy:   policy,
		buffers:  buffers,
		objects:  objects,
		protocol: protocol,
		memory:   mgr,
		monitor:  mon,
	}, nil
}

func (o *Orchestrator) swap(next *components) *components {
	o.mu.Lock()
	prev := o.cur
	o.cur = next
	o.mu.Unlock()
	return prev
}

func (o *Orchestrator) current() *components {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.cur
}

// start runs the maintenance and export loops. They outlive the ctx passed
// to Enable and stop on teardown.
func (o *Orchestrator) start(ctx context.Context, c *components) {
	loopCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	c.cancel = cancel

	c.wg.Add(2)
	go func() {
		defer c.wg.Done()
		o.maintain(loopCtx, c)
	}()
	go func() {
		defer c.wg.Done()
		c.monitor.RunExporter(loopCtx, c.cfg.Monitor.ExportInterval)
	}()
}

func (o *Orchestrator) maintain(ctx context.Context, c *components) {
	timer := time.NewTimer(c.memory.NextInterval())
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
			o.tick(ctx, c)
			timer.Reset(c.memory.NextInterval())
		}
	}
}

// teardown stops c's loops, flushes a final snapshot to its sinks and
// empties its pools. It returns the number of idle resources dropped.
func (o *Orchestrator) teardown(ctx context.Context, c *components) int {
	if c == nil {
		return 0
	}
	if c.cancel != nil {
		c.cancel()
	}
	c.wg.Wait()
	if c.enabled && c.monitor.ExportStats().Sinks > 0 {
		c.monitor.Export(ctx)
	}
	return c.buffers.Clear() + c.objects.Clear()
}

// TickResult describes one maintenance tick.
type TickResult struct {
	Checked  bool              `json:"checked"`
	Decision memory.Decision   `json:"decision"`
	Scaled   []pool.ScaleEvent `json:"scaled,omitempty"`
}

// Tick runs one maintenance pass on the active components: a rate-limited
// memory check followed by object pool scaling. The background loop calls
// it on every check interval.
func (o *Orchestrator) Tick(ctx context.Context) TickResult {
	return o.tick(ctx, o.current())
}

func (o *Orchestrator) tick(ctx context.Context, c *components) TickResult {
	var res TickResult
	res.Decision, res.Checked = c.memory.Check(ctx)
	res.Scaled = c.objects.ScaleAll()
	if o.collector != nil {
		o.collector.ObserveBufferPool(c.buffers.Statistics())
		o.collector.ObserveObjectPool(c.objects.Statistics())
		o.collector.ObserveMemory(c.memory.Stats())
	}
	return res
}

// Profile returns the active profile name, empty while inert.
func (o *Orchestrator) Profile() string { return o.current().profile }

// Enabled reports whether a profile is active.
func (o *Orchestrator) Enabled() bool { return o.current().enabled }

// Config returns a copy of the active configuration.
func (o *Orchestrator) Config() *config.Config { return o.current().cfg.Clone() }

// Buffers returns the active buffer pool.
func (o *Orchestrator) Buffers() *pool.BufferPool { return o.current().buffers }

// Objects returns the active object pool registry.
func (o *Orchestrator) Objects() *pool.ObjectPool { return o.current().objects }

// Protocol returns the protocol object pools of the active registry.
func (o *Orchestrator) Protocol() *pool.ProtocolPools { return o.current().protocol }

// Memory returns the active memory pressure manager.
func (o *Orchestrator) Memory() *memory.Manager { return o.current().memory }

// Monitor returns the active performance monitor.
func (o *Orchestrator) Monitor() *monitor.Monitor { return o.current().monitor }

// Policy returns the active pooling policy.
func (o *Orchestrator) Policy() *sizing.Policy { return o.current().policy }

// StartRequest forwards to the active monitor.
func (o *Orchestrator) StartRequest(id string, meta monitor.RequestMeta) bool {
	return o.current().monitor.StartRequest(id, meta)
}

// EndRequest forwards to the active monitor and records the latency in the
// Prometheus histogram when a collector is attached.
func (o *Orchestrator) EndRequest(id string, status int) (monitor.RequestMetric, bool) {
	rm, ok := o.current().monitor.EndRequest(id, status)
	if ok && o.collector != nil {
		o.collector.ObserveRequest(rm)
	}
	return rm, ok
}

// ClassifyPayload evaluates v against the pooling policy when traffic
// classification is enabled. The second result is false otherwise.
func (o *Orchestrator) ClassifyPayload(v any) (sizing.Verdict, bool) {
	c := o.current()
	if !c.cfg.Features.TrafficClassification {
		return sizing.Verdict{}, false
	}
	return c.policy.Evaluate(v), true
}

// ShouldShed reports whether new work should be rejected: load shedding is
// enabled and the memory manager is in emergency mode.
func (o *Orchestrator) ShouldShed() bool {
	c := o.current()
	return c.cfg.Features.LoadShedding && c.memory.InEmergency()
}

// CircuitOpen reports whether circuit breaking is enabled and the trailing
// error rate exceeds the error rate alert threshold.
func (o *Orchestrator) CircuitOpen() bool {
	c := o.current()
	if !c.cfg.Features.CircuitBreaking {
		return false
	}
	limit := c.cfg.Monitor.AlertThresholds.ErrorRate
	if limit <= 0 {
		return false
	}
	return c.monitor.Snapshot().ErrorRate > limit
}
