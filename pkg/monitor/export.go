package monitor

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/ajitpratap0/reservoir/pkg/reservoirerrors"
)

// Sink receives exported snapshots.
type Sink interface {
	Name() string
	Export(ctx context.Context, s Snapshot) error
}

// ExportStats counts export attempts.
type ExportStats struct {
	Exports  int64 `json:"exports"`
	Failures int64 `json:"failures"`
	Sinks    int   `json:"sinks"`
}

// RegisterSink adds a sink to receive every export.
func (m *Monitor) RegisterSink(s Sink) {
	m.sinkMu.Lock()
	m.sinks = append(m.sinks, s)
	m.sinkMu.Unlock()
}

// Export aggregates once and pushes the snapshot to every sink. Sink errors
// and panics are logged per sink and counted; they are never returned.
func (m *Monitor) Export(ctx context.Context) Snapshot {
	snap := m.Snapshot()

	m.sinkMu.RLock()
	sinks := append([]Sink(nil), m.sinks...)
	m.sinkMu.RUnlock()

	m.exports.Add(1)
	for _, s := range sinks {
		if err := exportTo(ctx, s, snap); err != nil {
			m.exportFailures.Add(1)
			m.logger.Error("export sink failed", zap.String("sink", s.Name()), zap.Error(err))
		}
	}
	return snap
}

func exportTo(ctx context.Context, s Sink, snap Snapshot) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = reservoirerrors.New(reservoirerrors.ErrorTypeExport, fmt.Sprintf("sink panicked: %v", r)).
				WithDetail("sink", s.Name())
		}
	}()
	if err := s.Export(ctx, snap); err != nil {
		return reservoirerrors.Wrap(err, reservoirerrors.ErrorTypeExport, "sink export failed").
			WithDetail("sink", s.Name())
	}
	return nil
}

// RunExporter calls Export every interval until ctx is done. A non-positive
// interval returns immediately.
func (m *Monitor) RunExporter(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.Export(ctx)
		}
	}
}

// ExportStats returns export counters.
func (m *Monitor) ExportStats() ExportStats {
	m.sinkMu.RLock()
	n := len(m.sinks)
	m.sinkMu.RUnlock()
	return ExportStats{
		Exports:  m.exports.Load(),
		Failures: m.exportFailures.Load(),
		Sinks:    n,
	}
}
