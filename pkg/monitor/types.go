// Package monitor records sampled request latencies and aggregates them into
// percentiles, throughput, error rates and threshold alerts.
//
// Requests are bracketed by StartRequest and EndRequest. Completed requests
// are counted in fixed-width time windows keyed by floor(now/window) and their
// latencies kept in a bounded ring. Aggregation is lazy: the ring is sorted
// only when a reader asks for percentiles after new data has arrived.
//
// Snapshots are pushed to registered sinks by Export. A failing sink is
// logged and skipped; it never affects other sinks or the caller.
package monitor

import (
	"strconv"
	"time"
)

// StatusClass groups request statuses.
type StatusClass int

const (
	// StatusSuccess is any status below 400
	StatusSuccess StatusClass = iota
	// StatusClientError is 400-499
	StatusClientError
	// StatusServerError is 500 and above
	StatusServerError
)

// ClassifyStatus maps an HTTP-style status code to its class.
func ClassifyStatus(status int) StatusClass {
	switch {
	case status >= 500:
		return StatusServerError
	case status >= 400:
		return StatusClientError
	default:
		return StatusSuccess
	}
}

func (c StatusClass) String() string {
	switch c {
	case StatusSuccess:
		return "success"
	case StatusClientError:
		return "client_error"
	case StatusServerError:
		return "server_error"
	default:
		return "unknown"
	}
}

// MarshalText implements encoding.TextMarshaler.
func (c StatusClass) MarshalText() ([]byte, error) {
	return []byte(c.String()), nil
}

// RequestMeta is caller-supplied context for a request.
type RequestMeta struct {
	Method string `json:"method,omitempty"`
	Route  string `json:"route,omitempty"`
	Bytes  int    `json:"bytes,omitempty"`
}

// RequestMetric is one completed, sampled request.
type RequestMetric struct {
	ID          string        `json:"id"`
	Meta        RequestMeta   `json:"meta"`
	Start       time.Time     `json:"start"`
	End         time.Time     `json:"end"`
	Status      int           `json:"status"`
	Class       StatusClass   `json:"class"`
	Latency     time.Duration `json:"latency"`
	LatencyMs   float64       `json:"latency_ms"`
	MemoryDelta int64         `json:"memory_delta"`
}

// Counts are cumulative request counters since the monitor was created.
type Counts struct {
	Started      int64 `json:"started"`
	Completed    int64 `json:"completed"`
	Success      int64 `json:"success"`
	ClientErrors int64 `json:"client_errors"`
	ServerErrors int64 `json:"server_errors"`
	Unknown      int64 `json:"unknown"`
	Abandoned    int64 `json:"abandoned"`
}

// Snapshot is the aggregated view handed to sinks.
type Snapshot struct {
	Timestamp     time.Time          `json:"timestamp"`
	Samples       int                `json:"samples"`
	Percentiles   map[string]float64 `json:"percentiles"`
	MeanLatencyMs float64            `json:"mean_latency_ms"`
	MaxLatencyMs  float64            `json:"max_latency_ms"`
	RPS           float64            `json:"rps"`
	ErrorRate     float64            `json:"error_rate"`
	MemoryRatio   float64            `json:"memory_ratio"`
	GCPerMinute   float64            `json:"gc_per_minute"`
	Active        int                `json:"active"`
	Windows       int                `json:"windows"`
	Counts        Counts             `json:"counts"`
	Alerts        []Alert            `json:"alerts"`
}

// Percentile returns the value stored for p, such as 99 for "p99".
func (s Snapshot) Percentile(p float64) (float64, bool) {
	v, ok := s.Percentiles[PercentileKey(p)]
	return v, ok
}

// PercentileKey formats p as a snapshot key: 99 -> "p99", 99.9 -> "p99.9".
func PercentileKey(p float64) string {
	return "p" + strconv.FormatFloat(p, 'f', -1, 64)
}
