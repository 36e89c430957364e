package orchestrator

import (
	"fmt"
	"time"

	"github.com/ajitpratap0/reservoir/pkg/config"
	"github.com/ajitpratap0/reservoir/pkg/memory"
	"github.com/ajitpratap0/reservoir/pkg/monitor"
	"github.com/ajitpratap0/reservoir/pkg/pool"
)

// Recommendations are only made once a pool has served this many requests.
const minPoolVolume = 100

const lowHitRate = 0.5

// Status composes every component's own snapshot.
type Status struct {
	Profile     string                    `json:"profile"`
	Enabled     bool                      `json:"enabled"`
	Since       time.Time                 `json:"since"`
	Uptime      time.Duration             `json:"uptime"`
	Features    config.FeatureConfig      `json:"features"`
	Buffers     pool.PoolStatistics       `json:"buffers"`
	Objects     pool.ObjectPoolStatistics `json:"objects"`
	Memory      memory.Stats              `json:"memory"`
	Performance monitor.Snapshot          `json:"performance"`
	Requests    monitor.Counts            `json:"requests"`
	Export      monitor.ExportStats       `json:"export"`
}

// Recommendation is one derived tuning hint.
type Recommendation struct {
	Component string `json:"component"`
	Message   string `json:"message"`
}

// Report is a Status plus recommendations derived from it.
type Report struct {
	Status
	Recommendations []Recommendation `json:"recommendations"`
}

// Status returns a snapshot of the active components.
func (o *Orchestrator) Status() Status {
	return o.statusOf(o.current())
}

func (o *Orchestrator) statusOf(c *components) Status {
	return Status{
		Profile:     c.profile,
		Enabled:     c.enabled,
		Since:       c.since,
		Uptime:      o.now().Sub(c.since),
		Features:    c.cfg.Features,
		Buffers:     c.buffers.Statistics(),
		Objects:     c.objects.Statistics(),
		Memory:      c.memory.Stats(),
		Performance: c.monitor.Snapshot(),
		Requests:    c.monitor.Counts(),
		Export:      c.monitor.ExportStats(),
	}
}

// Report returns the current status with recommendations.
func (o *Orchestrator) Report() Report {
	c := o.current()
	s := o.statusOf(c)
	return Report{Status: s, Recommendations: recommend(s, c.cfg)}
}

func recommend(s Status, cfg *config.Config) []Recommendation {
	recs := []Recommendation{}
	add := func(component, format string, args ...interface{}) {
		recs = append(recs, Recommendation{Component: component, Message: fmt.Sprintf(format, args...)})
	}

	if b := s.Buffers; !b.Disabled && b.Reuses+b.Allocations >= minPoolVolume && b.HitRate < lowHitRate {
		add("buffer_pool", "low pool hit-rate %.2f: increase bucket size (max_pool_size %d)",
			b.HitRate, cfg.Buffer.MaxPoolSize)
	}
	if s.Buffers.Oversized > 0 && s.Buffers.Oversized*10 > s.Buffers.Allocations {
		add("buffer_pool", "%d oversized buffers: add a larger size category", s.Buffers.Oversized)
	}
	for _, p := range s.Objects.Pools {
		if !cfg.Objects.Disabled && p.Overflows > 0 {
			add("object_pool", "pool %s overflowed %d times: raise emergency_limit", p.Name, p.Overflows)
		}
	}

	t := cfg.Monitor.AlertThresholds
	if p99, ok := s.Performance.Percentiles[monitor.PercentileKey(99)]; ok && t.LatencyP99 > 0 && p99 > t.LatencyP99 {
		add("performance", "p99 %.1fms over threshold %.1fms: scale up", p99, t.LatencyP99)
	}
	if t.ErrorRate > 0 && s.Performance.ErrorRate > t.ErrorRate {
		add("performance", "error rate %.3f over threshold %.3f: check upstream failures", s.Performance.ErrorRate, t.ErrorRate)
	}

	if s.Memory.InEmergency {
		add("memory", "emergency mode active: reduce load")
	}
	if t.GCFrequency > 0 && s.Memory.GCRunsPerMinute > t.GCFrequency {
		add("memory", "high GC frequency %.1f/min: raise gc threshold", s.Memory.GCRunsPerMinute)
	}
	if s.Memory.Failures > 0 {
		add("memory", "%d forced collections failed", s.Memory.Failures)
	}
	return recs
}
