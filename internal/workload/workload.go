// Package workload drives an orchestrator with synthetic request traffic.
package workload

import (
	"context"
	"fmt"
	"math/rand/v2"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	gojson "github.com/goccy/go-json"
	"go.uber.org/zap"

	"github.com/ajitpratap0/reservoir/pkg/logger"
	"github.com/ajitpratap0/reservoir/pkg/monitor"
	"github.com/ajitpratap0/reservoir/pkg/orchestrator"
	"github.com/ajitpratap0/reservoir/pkg/pool"
	"github.com/ajitpratap0/reservoir/pkg/reservoirerrors"
)

// circuit state is re-read every this many requests per worker
const circuitCheckEvery = 64

// Config shapes the synthetic traffic.
type Config struct {
	Requests    int           `json:"requests"`
	Concurrency int           `json:"concurrency"`
	MaxLatency  time.Duration `json:"max_latency"`
	// ServerErrorRate and ClientErrorRate are fractions of requests
	// answered with 503 and 404.
	ServerErrorRate float64 `json:"server_error_rate"`
	ClientErrorRate float64 `json:"client_error_rate"`
	// StreamEvery opens a tracked stream on every Nth request; zero disables
	// streams.
	StreamEvery int `json:"stream_every"`
	// LeakRate is the fraction of streams never closed by the worker; only
	// the memory manager's lifetime sweep reclaims them.
	LeakRate float64 `json:"leak_rate"`
	Seed     uint64  `json:"seed"`
}

// DefaultConfig returns a short mixed workload.
func DefaultConfig() Config {
	return Config{
		Requests:        10000,
		Concurrency:     8,
		MaxLatency:      2 * time.Millisecond,
		ServerErrorRate: 0.01,
		ClientErrorRate: 0.05,
		StreamEvery:     50,
		LeakRate:        0.1,
		Seed:            1,
	}
}

// Validate checks the workload shape.
func (c Config) Validate() error {
	switch {
	case c.Requests <= 0:
		return reservoirerrors.New(reservoirerrors.ErrorTypeConfig, "workload requests must be positive")
	case c.Concurrency <= 0:
		return reservoirerrors.New(reservoirerrors.ErrorTypeConfig, "workload concurrency must be positive")
	case c.MaxLatency < 0:
		return reservoirerrors.New(reservoirerrors.ErrorTypeConfig, "workload max latency cannot be negative")
	case c.ServerErrorRate < 0 || c.ClientErrorRate < 0 || c.ServerErrorRate+c.ClientErrorRate > 1:
		return reservoirerrors.New(reservoirerrors.ErrorTypeConfig, "workload error rates must sum to at most 1")
	case c.LeakRate < 0 || c.LeakRate > 1:
		return reservoirerrors.New(reservoirerrors.ErrorTypeConfig, "workload leak rate must be in [0, 1]")
	}
	return nil
}

// Result counts what happened to each request.
type Result struct {
	Completed   int64         `json:"completed"`
	Shed        int64         `json:"shed"`
	Rejected    int64         `json:"rejected"`
	Pooled      int64         `json:"pooled"`
	Direct      int64         `json:"direct"`
	Streams     int64         `json:"streams"`
	Leaked      int64         `json:"leaked"`
	EncodeError int64         `json:"encode_errors"`
	Duration    time.Duration `json:"duration"`
}

type counters struct {
	completed, shed, rejected, pooled, direct, streams, leaked, encodeErrors atomic.Int64
}

// Runner sends Config.Requests requests through an orchestrator.
type Runner struct {
	o      *orchestrator.Orchestrator
	cfg    Config
	logger *zap.Logger
	c      counters
}

// NewRunner validates cfg.
func NewRunner(o *orchestrator.Orchestrator, cfg Config, log *zap.Logger) (*Runner, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Runner{
		o:      o,
		cfg:    cfg,
		logger: logger.OrNop(log).With(zap.String("component", "workload")),
	}, nil
}

// Run blocks until every request is handled or ctx is done.
func (r *Runner) Run(ctx context.Context) (Result, error) {
	start := time.Now()
	jobs := make(chan int, r.cfg.Concurrency*2)

	var wg sync.WaitGroup
	for w := 0; w < r.cfg.Concurrency; w++ {
		wg.Add(1)
		go func(worker int) {
			defer wg.Done()
			r.worker(ctx, worker, jobs)
		}(w)
	}

	var err error
feed:
	for i := 0; i < r.cfg.Requests; i++ {
		select {
		case <-ctx.Done():
			err = ctx.Err()
			break feed
		case jobs <- i:
		}
	}
	close(jobs)
	wg.Wait()

	res := Result{
		Completed:   r.c.completed.Load(),
		Shed:        r.c.shed.Load(),
		Rejected:    r.c.rejected.Load(),
		Pooled:      r.c.pooled.Load(),
		Direct:      r.c.direct.Load(),
		Streams:     r.c.streams.Load(),
		Leaked:      r.c.leaked.Load(),
		EncodeError: r.c.encodeErrors.Load(),
		Duration:    time.Since(start),
	}
	r.logger.Info("workload finished",
		zap.Int64("completed", res.Completed),
		zap.Int64("shed", res.Shed),
		zap.Int64("rejected", res.Rejected),
		zap.Duration("duration", res.Duration))
	return res, err
}

func (r *Runner) worker(ctx context.Context, worker int, jobs <-chan int) {
	rng := rand.New(rand.NewPCG(r.cfg.Seed, uint64(worker))) //nolint:gosec // synthetic traffic
	open := false
	n := 0
	for i := range jobs {
		if ctx.Err() != nil {
			continue
		}
		if n%circuitCheckEvery == 0 {
			open = r.o.CircuitOpen()
		}
		n++
		if open {
			r.c.rejected.Add(1)
			continue
		}
		if r.o.ShouldShed() {
			r.c.shed.Add(1)
			continue
		}
		r.handle(ctx, rng, i)
	}
}

func (r *Runner) handle(ctx context.Context, rng *rand.Rand, i int) {
	id := "req-" + strconv.Itoa(i)
	route := fmt.Sprintf("/items/%d", i%16)
	payload := makePayload(rng, i)

	r.o.StartRequest(id, monitor.RequestMeta{Method: "POST", Route: route})

	req := r.o.Protocol().Requests.Acquire()
	req.Value().ID = id
	req.Value().Method = "POST"
	req.Value().URI.Path = route
	req.Value().SetHeader("content-type", "application/json")

	if v, ok := r.o.ClassifyPayload(payload); ok {
		req.Value().SetHeader("x-size-class", v.Class.String())
	}
	buf, pooled := r.o.Buffers().AcquireFor(payload)
	if pooled {
		r.c.pooled.Add(1)
	} else {
		r.c.direct.Add(1)
	}
	if err := gojson.NewEncoder(buf).Encode(payload); err != nil {
		r.c.encodeErrors.Add(1)
		reqCtx := context.WithValue(ctx, logger.RequestIDKey, id)
		logger.WithContext(reqCtx, r.logger).Debug("payload encode failed", zap.Error(err))
	}

	if r.cfg.StreamEvery > 0 && i%r.cfg.StreamEvery == 0 {
		r.openStream(rng, id, buf.Bytes())
	}

	if r.cfg.MaxLatency > 0 {
		sleep(ctx, time.Duration(rng.Int64N(int64(r.cfg.MaxLatency))+1))
	}

	resp := r.o.Protocol().Responses.Acquire()
	resp.Value().Status = r.status(rng)
	resp.Value().SetHeader("content-length", strconv.Itoa(buf.Len()))

	r.o.EndRequest(id, resp.Value().Status)
	r.c.completed.Add(1)

	_ = buf.Release()
	_ = resp.Release()
	_ = req.Release()
}

// openStream tracks a stream with the memory manager. Leaked streams are
// left for the lifetime sweep.
func (r *Runner) openStream(rng *rand.Rand, id string, chunk []byte) {
	stream := r.o.Protocol().Streams.Acquire()
	stream.Value().ID = id
	stream.Value().Append(chunk)
	untrack := r.o.Memory().Track(func() { _ = stream.Release() })
	r.c.streams.Add(1)

	if rng.Float64() < r.cfg.LeakRate {
		r.c.leaked.Add(1)
		return
	}
	stream.Value().Closed = true
	untrack()
	_ = stream.Release()
}

func (r *Runner) status(rng *rand.Rand) int {
	x := rng.Float64()
	switch {
	case x < r.cfg.ServerErrorRate:
		return 503
	case x < r.cfg.ServerErrorRate+r.cfg.ClientErrorRate:
		return 404
	default:
		return 200
	}
}

// makePayload cycles through the payload shapes the pooling policy
// distinguishes.
func makePayload(rng *rand.Rand, i int) any {
	switch i % 4 {
	case 0:
		return map[string]any{"id": i, "ok": true}
	case 1:
		items := make([]int, 5+rng.IntN(200))
		for j := range items {
			items[j] = j
		}
		return items
	case 2:
		fields := make(map[string]any, 8)
		for j := 0; j < 8; j++ {
			fields["field_"+strconv.Itoa(j)] = rng.Float64()
		}
		return fields
	default:
		b := make([]byte, 64+rng.IntN(4096))
		for j := range b {
			b[j] = 'a' + byte(j%26)
		}
		return string(b)
	}
}

func sleep(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
