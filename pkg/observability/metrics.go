package observability

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/ajitpratap0/reservoir/pkg/monitor"
)

// OTelSink is a monitor.Sink that publishes the latest snapshot through
// observable gauges on meter.
type OTelSink struct {
	mu     sync.Mutex
	latest monitor.Snapshot
	seen   bool

	exports metric.Int64Counter
	alerts  metric.Int64Counter
	reg     metric.Registration
}

// NewOTelSink creates the instruments on meter and registers the callback
// that reports the latest snapshot.
func NewOTelSink(meter metric.Meter) (*OTelSink, error) {
	s := &OTelSink{}

	latency, err := meter.Float64ObservableGauge("reservoir.requests.latency",
		metric.WithDescription("Latency percentile over the sample ring"), metric.WithUnit("ms"))
	if err != nil {
		return nil, err
	}
	rps, err := meter.Float64ObservableGauge("reservoir.requests.rate",
		metric.WithDescription("Requests per second over the trailing window"), metric.WithUnit("{request}/s"))
	if err != nil {
		return nil, err
	}
	errorRate, err := meter.Float64ObservableGauge("reservoir.requests.error_ratio",
		metric.WithDescription("Server errors over requests in the trailing window"))
	if err != nil {
		return nil, err
	}
	memRatio, err := meter.Float64ObservableGauge("reservoir.memory.pressure_ratio",
		metric.WithDescription("Used over limit from the latest sample"))
	if err != nil {
		return nil, err
	}
	active, err := meter.Int64ObservableGauge("reservoir.requests.active",
		metric.WithDescription("Sampled requests in flight"))
	if err != nil {
		return nil, err
	}
	if s.exports, err = meter.Int64Counter("reservoir.monitor.exports",
		metric.WithDescription("Snapshots received")); err != nil {
		return nil, err
	}
	if s.alerts, err = meter.Int64Counter("reservoir.monitor.alerts",
		metric.WithDescription("Alerts seen in exported snapshots")); err != nil {
		return nil, err
	}

	s.reg, err = meter.RegisterCallback(func(_ context.Context, o metric.Observer) error {
		s.mu.Lock()
		snap, seen := s.latest, s.seen
		s.mu.Unlock()
		if !seen {
			return nil
		}
		for k, v := range snap.Percentiles {
			o.ObserveFloat64(latency, v, metric.WithAttributes(attribute.String("quantile", k)))
		}
		o.ObserveFloat64(rps, snap.RPS)
		o.ObserveFloat64(errorRate, snap.ErrorRate)
		o.ObserveFloat64(memRatio, snap.MemoryRatio)
		o.ObserveInt64(active, int64(snap.Active))
		return nil
	}, latency, rps, errorRate, memRatio, active)
	if err != nil {
		return nil, err
	}
	return s, nil
}

// Name implements monitor.Sink.
func (s *OTelSink) Name() string { return "otel" }

// Export implements monitor.Sink.
func (s *OTelSink) Export(ctx context.Context, snap monitor.Snapshot) error {
	s.mu.Lock()
	s.latest, s.seen = snap, true
	s.mu.Unlock()

	s.exports.Add(ctx, 1)
	for _, a := range snap.Alerts {
		s.alerts.Add(ctx, 1, metric.WithAttributes(
			attribute.String("kind", string(a.Kind)),
			attribute.String("severity", string(a.Severity)),
		))
	}
	return nil
}

// Close unregisters the gauge callback.
func (s *OTelSink) Close() error {
	return s.reg.Unregister()
}
