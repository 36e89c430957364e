package metrics

import (
	"context"

	"github.com/ajitpratap0/reservoir/pkg/monitor"
)

// PrometheusSink is a monitor.Sink that copies snapshots into a Collector.
type PrometheusSink struct {
	c *Collector
}

// NewPrometheusSink returns a sink for c.
func NewPrometheusSink(c *Collector) *PrometheusSink {
	return &PrometheusSink{c: c}
}

// Name implements monitor.Sink.
func (s *PrometheusSink) Name() string { return "prometheus" }

// Export implements monitor.Sink.
func (s *PrometheusSink) Export(_ context.Context, snap monitor.Snapshot) error {
	s.c.ObserveSnapshot(snap)
	return nil
}
