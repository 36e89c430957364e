// Package metrics exports pool, memory and request statistics as Prometheus
// metrics.
//
// # Overview
//
// A Collector owns a fixed set of metric vectors registered on the
// registerer it was created with. Components do not push into it directly;
// the orchestrator copies component snapshots in on every tick:
//
//	reg := prometheus.NewRegistry()
//	c := metrics.NewCollector(reg)
//	c.ObserveBufferPool(bp.Statistics())
//	c.ObserveMemory(mgr.Stats())
//
// Per-request latency is recorded as it happens through ObserveRequest, and
// monitor snapshots reach the collector through PrometheusSink.
//
// # Metric Types
//
// Gauge: snapshot values, including cumulative pool counters that are
// owned and reset by the pools themselves
// Histogram: per-request latency
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/ajitpratap0/reservoir/pkg/memory"
	"github.com/ajitpratap0/reservoir/pkg/monitor"
	"github.com/ajitpratap0/reservoir/pkg/pool"
)

const namespace = "reservoir"

// Collector holds the registered metric vectors.
type Collector struct {
	bufferIdle        *prometheus.GaugeVec
	bufferInUse       *prometheus.GaugeVec
	bufferLimit       *prometheus.GaugeVec
	bufferAllocations *prometheus.GaugeVec
	bufferReuses      *prometheus.GaugeVec
	bufferEvictions   *prometheus.GaugeVec
	bufferBypass      *prometheus.GaugeVec
	bufferHitRate     prometheus.Gauge
	bufferBytesHeld   prometheus.Gauge

	objectIdle        *prometheus.GaugeVec
	objectInUse       *prometheus.GaugeVec
	objectLimit       *prometheus.GaugeVec
	objectOverflows   *prometheus.GaugeVec
	objectUtilization *prometheus.GaugeVec

	memoryRatio     prometheus.Gauge
	memoryLevel     prometheus.Gauge
	memoryEmergency prometheus.Gauge
	gcRuns          prometheus.Gauge
	gcFailures      prometheus.Gauge
	gcReclaimed     prometheus.Gauge
	gcPerMinute     prometheus.Gauge

	requestLatency  *prometheus.HistogramVec
	latencyQuantile *prometheus.GaugeVec
	requestRate     prometheus.Gauge
	errorRate       prometheus.Gauge
	activeRequests  prometheus.Gauge
	alerts          *prometheus.GaugeVec

	profileSwitch *prometheus.HistogramVec
}

// NewCollector registers every metric on reg. A nil reg uses
// prometheus.DefaultRegisterer. Registering twice on the same registerer
// panics, as promauto does.
func NewCollector(reg prometheus.Registerer) *Collector {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	f := promauto.With(reg)

	gauge := func(subsystem, name, help string) prometheus.Gauge {
		return f.NewGauge(prometheus.GaugeOpts{Namespace: namespace, Subsystem: subsystem, Name: name, Help: help})
	}
	gaugeVec := func(subsystem, name, help string, labels ...string) *prometheus.GaugeVec {
		return f.NewGaugeVec(prometheus.GaugeOpts{Namespace: namespace, Subsystem: subsystem, Name: name, Help: help}, labels)
	}

	return &Collector{
		bufferIdle:        gaugeVec("buffer_pool", "idle_buffers", "Idle buffers per tier", "bucket"),
		bufferInUse:       gaugeVec("buffer_pool", "in_use_buffers", "Buffers checked out per tier", "bucket"),
		bufferLimit:       gaugeVec("buffer_pool", "limit_buffers", "Idle cap per tier", "bucket"),
		bufferAllocations: gaugeVec("buffer_pool", "allocations", "Buffers allocated per tier", "bucket"),
		bufferReuses:      gaugeVec("buffer_pool", "reuses", "Acquires served from the idle list per tier", "bucket"),
		bufferEvictions:   gaugeVec("buffer_pool", "evictions", "Buffers dropped per tier", "bucket"),
		bufferBypass:      gaugeVec("buffer_pool", "bypass_buffers", "Buffers that never entered a tier", "reason"),
		bufferHitRate:     gauge("buffer_pool", "hit_rate", "Reuses over reuses plus allocations"),
		bufferBytesHeld:   gauge("buffer_pool", "bytes_held", "Bytes held by idle buffers"),

		objectIdle:        gaugeVec("object_pool", "idle_objects", "Idle objects per pool", "pool"),
		objectInUse:       gaugeVec("object_pool", "in_use_objects", "Objects checked out per pool", "pool"),
		objectLimit:       gaugeVec("object_pool", "limit_objects", "Current idle cap per pool", "pool"),
		objectOverflows:   gaugeVec("object_pool", "overflows", "Unpooled allocations past the emergency limit", "pool"),
		objectUtilization: gaugeVec("object_pool", "utilization_ratio", "In use over in use plus idle", "pool"),

		memoryRatio:     gauge("memory", "pressure_ratio", "Used over limit from the latest sample"),
		memoryLevel:     gauge("memory", "pressure_level", "0 low, 1 medium, 2 high, 3 critical"),
		memoryEmergency: gauge("memory", "emergency", "1 while emergency mode is active"),
		gcRuns:          gauge("memory", "forced_gc_runs", "Successful forced collections"),
		gcFailures:      gauge("memory", "forced_gc_failures", "Failed forced collections"),
		gcReclaimed:     gauge("memory", "reclaimed_bytes_estimate", "Estimated bytes reclaimed by forced collections"),
		gcPerMinute:     gauge("memory", "forced_gc_per_minute", "Forced collections in the last minute"),

		requestLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "requests",
			Name:      "latency_seconds",
			Help:      "Latency of sampled requests",
			Buckets:   []float64{0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		}, []string{"class"}),
		latencyQuantile: gaugeVec("requests", "latency_ms", "Latency percentile over the sample ring", "quantile"),
		requestRate:     gauge("requests", "per_second", "Requests per second over the trailing window"),
		errorRate:       gauge("requests", "error_ratio", "Server errors over requests in the trailing window"),
		activeRequests:  gauge("requests", "active", "Sampled requests in flight"),
		alerts:          gaugeVec("requests", "alert_active", "1 while an alert of this kind is raised", "kind", "severity"),

		profileSwitch: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "orchestrator",
			Name:      "enable_seconds",
			Help:      "Time taken to enable a profile",
			Buckets:   prometheus.ExponentialBuckets(0.0001, 4, 8),
		}, []string{"profile"}),
	}
}

// ObserveBufferPool copies a buffer pool snapshot into the gauges.
func (c *Collector) ObserveBufferPool(s pool.PoolStatistics) {
	for _, b := range s.Buckets {
		c.bufferIdle.WithLabelValues(b.Name).Set(float64(b.Idle))
		c.bufferInUse.WithLabelValues(b.Name).Set(float64(b.InUse))
		c.bufferLimit.WithLabelValues(b.Name).Set(float64(b.Limit))
		c.bufferAllocations.WithLabelValues(b.Name).Set(float64(b.Allocations))
		c.bufferReuses.WithLabelValues(b.Name).Set(float64(b.Reuses))
		c.bufferEvictions.WithLabelValues(b.Name).Set(float64(b.Evictions))
	}
	c.bufferBypass.WithLabelValues("oversized").Set(float64(s.Oversized))
	c.bufferBypass.WithLabelValues("direct").Set(float64(s.Direct))
	c.bufferHitRate.Set(s.HitRate)
	c.bufferBytesHeld.Set(float64(s.BytesHeld))
}

// ObserveObjectPool copies an object pool snapshot into the gauges.
func (c *Collector) ObserveObjectPool(s pool.ObjectPoolStatistics) {
	for _, p := range s.Pools {
		c.objectIdle.WithLabelValues(p.Name).Set(float64(p.Idle))
		c.objectInUse.WithLabelValues(p.Name).Set(float64(p.InUse))
		c.objectLimit.WithLabelValues(p.Name).Set(float64(p.Limit))
		c.objectOverflows.WithLabelValues(p.Name).Set(float64(p.Overflows))
		c.objectUtilization.WithLabelValues(p.Name).Set(p.Utilization)
	}
}

// ObserveMemory copies memory manager stats into the gauges.
func (c *Collector) ObserveMemory(s memory.Stats) {
	c.memoryRatio.Set(s.Ratio)
	c.memoryLevel.Set(float64(s.Level))
	if s.InEmergency {
		c.memoryEmergency.Set(1)
	} else {
		c.memoryEmergency.Set(0)
	}
	c.gcRuns.Set(float64(s.Runs))
	c.gcFailures.Set(float64(s.Failures))
	c.gcReclaimed.Set(float64(s.BytesReclaimedEstimate))
	c.gcPerMinute.Set(s.GCRunsPerMinute)
}

// ObserveRequest records one completed request.
func (c *Collector) ObserveRequest(rm monitor.RequestMetric) {
	c.requestLatency.WithLabelValues(rm.Class.String()).Observe(rm.Latency.Seconds())
}

// ObserveSnapshot copies a monitor snapshot into the gauges. Alert gauges
// are reset first so cleared alerts drop to absent.
func (c *Collector) ObserveSnapshot(s monitor.Snapshot) {
	for k, v := range s.Percentiles {
		c.latencyQuantile.WithLabelValues(k).Set(v)
	}
	c.requestRate.Set(s.RPS)
	c.errorRate.Set(s.ErrorRate)
	c.activeRequests.Set(float64(s.Active))

	c.alerts.Reset()
	for _, a := range s.Alerts {
		c.alerts.WithLabelValues(string(a.Kind), string(a.Severity)).Set(1)
	}
}

// ObserveProfileSwitch records how long enabling profile took.
func (c *Collector) ObserveProfileSwitch(profile string, d time.Duration) {
	c.profileSwitch.WithLabelValues(profile).Observe(d.Seconds())
}

// Timer measures the time since it was created.
type Timer struct {
	start time.Time
	now   func() time.Time
}

// NewTimer starts a timer. A nil now uses time.Now.
func NewTimer(now func() time.Time) *Timer {
	if now == nil {
		now = time.Now
	}
	return &Timer{start: now(), now: now}
}

// Stop returns the elapsed time. It can be called more than once.
func (t *Timer) Stop() time.Duration {
	return t.now().Sub(t.start)
}
