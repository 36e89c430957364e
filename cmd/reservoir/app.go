package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/ajitpratap0/reservoir/internal/workload"
	"github.com/ajitpratap0/reservoir/pkg/compression"
	"github.com/ajitpratap0/reservoir/pkg/config"
	"github.com/ajitpratap0/reservoir/pkg/logger"
	"github.com/ajitpratap0/reservoir/pkg/memory"
	"github.com/ajitpratap0/reservoir/pkg/monitor"
	"github.com/ajitpratap0/reservoir/pkg/observability"
	"github.com/ajitpratap0/reservoir/pkg/orchestrator"
)

// settings are the resolved flag, environment and file values.
type settings struct {
	Profile       string
	ConfigPath    string
	LogLevel      string
	MetricsAddr   string
	TraceExporter string
	Sampler       string
	SnapshotFile  string
	Compression   string
	Workload      workload.Config
}

func addWorkloadFlags(cmd *cobra.Command, v *viper.Viper, prefix string) {
	def := workload.DefaultConfig()
	f := cmd.Flags()
	f.Int("requests", def.Requests, "Requests per workload round")
	f.Int("concurrency", def.Concurrency, "Concurrent workload workers")
	f.Duration("max-latency", def.MaxLatency, "Upper bound of simulated handler latency")
	f.Float64("server-error-rate", def.ServerErrorRate, "Fraction of requests answered with 503")
	f.Float64("client-error-rate", def.ClientErrorRate, "Fraction of requests answered with 404")
	f.Int("stream-every", def.StreamEvery, "Open a tracked stream on every Nth request, 0 disables")
	f.Float64("leak-rate", def.LeakRate, "Fraction of streams left for the lifetime sweep")
	f.String("snapshot-file", "", "Append exported snapshots to this file")
	f.String("compression", "none", "Snapshot file compression (none, gzip, snappy, s2, lz4, zstd)")
	f.VisitAll(func(fl *pflag.Flag) {
		_ = v.BindPFlag(prefix+"."+fl.Name, fl)
	})
}

func loadSettings(v *viper.Viper, prefix string) settings {
	key := func(name string) string { return prefix + "." + name }
	def := workload.DefaultConfig()
	return settings{
		Profile:       v.GetString("profile"),
		ConfigPath:    v.GetString("config"),
		LogLevel:      v.GetString("log-level"),
		MetricsAddr:   v.GetString("metrics-addr"),
		TraceExporter: v.GetString("trace-exporter"),
		Sampler:       v.GetString("sampler"),
		SnapshotFile:  v.GetString(key("snapshot-file")),
		Compression:   v.GetString(key("compression")),
		Workload: workload.Config{
			Requests:        v.GetInt(key("requests")),
			Concurrency:     v.GetInt(key("concurrency")),
			MaxLatency:      v.GetDuration(key("max-latency")),
			ServerErrorRate: v.GetFloat64(key("server-error-rate")),
			ClientErrorRate: v.GetFloat64(key("client-error-rate")),
			StreamEvery:     v.GetInt(key("stream-every")),
			LeakRate:        v.GetFloat64(key("leak-rate")),
			Seed:            def.Seed,
		},
	}
}

// resolveConfig returns the profile name and configuration to enable. A
// config file replaces the profile table entry.
func resolveConfig(s settings) (string, *config.Config, error) {
	var (
		name string
		cfg  *config.Config
	)
	if s.ConfigPath != "" {
		loaded, err := config.Load(s.ConfigPath)
		if err != nil {
			return "", nil, err
		}
		name, cfg = "custom", loaded
	} else {
		p, err := orchestrator.Lookup(s.Profile)
		if err != nil {
			return "", nil, err
		}
		name, cfg = p.Name, p.Config()
	}
	if s.LogLevel != "" {
		cfg.Logging.Level = s.LogLevel
	}
	// stdout carries command output
	if len(cfg.Logging.OutputPaths) == 0 {
		cfg.Logging.OutputPaths = []string{"stderr"}
	}
	return name, cfg, cfg.Validate()
}

type app struct {
	o        *orchestrator.Orchestrator
	log      *zap.Logger
	registry *prometheus.Registry
	server   *http.Server
	closers  []func(context.Context) error
}

func setup(ctx context.Context, s settings) (a *app, err error) {
	name, cfg, err := resolveConfig(s)
	if err != nil {
		return nil, err
	}
	if err := logger.Init(cfg.Logging); err != nil {
		return nil, err
	}
	log := logger.Get()
	a = &app{log: log, registry: prometheus.NewRegistry()}
	defer func() {
		if err != nil {
			_ = a.shutdown(ctx)
		}
	}()
	a.registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	tcfg := observability.DefaultTracingConfig()
	tcfg.ServiceVersion = version
	tcfg.Exporter = s.TraceExporter
	tracing, err := observability.InitTracing(ctx, tcfg)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, tracing.Shutdown)

	opts := []orchestrator.Option{
		orchestrator.WithLogger(log),
		orchestrator.WithRegisterer(a.registry),
		orchestrator.WithTracer(tracing.Tracer("reservoir")),
		orchestrator.WithSinks(monitor.NewLogSink(log)),
	}
	switch s.Sampler {
	case "", "runtime":
	case "process":
		ps, err := memory.NewProcessSampler(ctx, cfg.Memory.LimitBytes)
		if err != nil {
			return nil, err
		}
		opts = append(opts, orchestrator.WithSampler(ps))
	default:
		return nil, fmt.Errorf("unknown sampler %q", s.Sampler)
	}
	if s.SnapshotFile != "" {
		algo, err := compression.ParseAlgorithm(s.Compression)
		if err != nil {
			return nil, err
		}
		fs, err := monitor.NewFileSink(s.SnapshotFile, algo)
		if err != nil {
			return nil, err
		}
		opts = append(opts, orchestrator.WithSinks(fs))
		a.closers = append(a.closers, func(context.Context) error { return fs.Close() })
	}

	o, err := orchestrator.New(opts...)
	if err != nil {
		return nil, err
	}
	if err := o.EnableConfig(ctx, name, cfg); err != nil {
		return nil, err
	}
	a.o = o

	if s.MetricsAddr != "" {
		a.serveMetrics(s.MetricsAddr)
	}
	return a, nil
}

func (a *app) serveMetrics(addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(a.registry, promhttp.HandlerOpts{Registry: a.registry}))
	a.server = &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := a.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.log.Error("metrics server failed", zap.String("addr", addr), zap.Error(err))
		}
	}()
	a.log.Info("serving metrics", zap.String("addr", addr))
}

// shutdown disables the orchestrator, which flushes a final snapshot to
// the sinks, then closes the sinks, the tracer and the metrics server.
func (a *app) shutdown(ctx context.Context) error {
	var errs []error
	if a.o != nil {
		errs = append(errs, a.o.Disable(ctx))
	}
	for _, c := range a.closers {
		errs = append(errs, c(ctx))
	}
	if a.server != nil {
		errs = append(errs, a.server.Shutdown(ctx))
	}
	_ = logger.Sync()
	return errors.Join(errs...)
}
