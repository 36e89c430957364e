package monitor

import (
	"fmt"

	"github.com/ajitpratap0/reservoir/pkg/config"
)

// AlertKind names the aggregate an alert was raised on.
type AlertKind string

const (
	AlertLatencyP99  AlertKind = "latency_p99"
	AlertErrorRate   AlertKind = "error_rate"
	AlertMemoryUsage AlertKind = "memory_usage"
	AlertGCFrequency AlertKind = "gc_frequency"
)

// Severity of an alert.
type Severity string

const (
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// Alert is derived from one aggregation; alerts are not persisted.
type Alert struct {
	Kind      AlertKind `json:"kind"`
	Severity  Severity  `json:"severity"`
	Message   string    `json:"message"`
	Value     float64   `json:"value"`
	Threshold float64   `json:"threshold"`
}

// ResourceProvider reports memory pressure for alerting. *memory.Manager
// implements it.
type ResourceProvider interface {
	PressureRatio() float64
	GCRunsPerMinute() float64
}

// evaluateAlerts compares aggregates against thresholds. A zero threshold
// disables its check. A value past 1.5x the threshold is critical; for the
// memory ratio the critical line is halfway between the threshold and 1.
func evaluateAlerts(t config.AlertThresholds, p99, errorRate, memRatio, gcPerMin float64) []Alert {
	var alerts []Alert
	check := func(kind AlertKind, value, threshold, critical float64, format string) {
		if threshold <= 0 || value <= threshold {
			return
		}
		sev := SeverityWarning
		if value >= critical {
			sev = SeverityCritical
		}
		alerts = append(alerts, Alert{
			Kind:      kind,
			Severity:  sev,
			Message:   fmt.Sprintf(format, value, threshold),
			Value:     value,
			Threshold: threshold,
		})
	}

	check(AlertLatencyP99, p99, t.LatencyP99, t.LatencyP99*1.5, "p99 latency %.1fms over %.1fms")
	check(AlertErrorRate, errorRate, t.ErrorRate, t.ErrorRate*1.5, "error rate %.3f over %.3f")
	check(AlertMemoryUsage, memRatio, t.MemoryUsage, (1+t.MemoryUsage)/2, "memory usage %.2f over %.2f")
	check(AlertGCFrequency, gcPerMin, t.GCFrequency, t.GCFrequency*1.5, "%.0f forced gc/min over %.0f")
	return alerts
}
