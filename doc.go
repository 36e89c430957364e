// Package reservoir provides adaptive resource pooling and memory pressure
// management for request-serving Go processes.
//
// Reservoir decides per allocation whether reuse is worth it, keeps
// size-classified buffers and typed protocol objects in bounded pools that
// grow and shrink with utilization, watches process memory to pick a
// collection strategy, and samples request latency into percentiles and
// alerts.
//
// # Architecture
//
// Components, leaf first:
//
// 1. sizing: O(1) byte estimates for arbitrary values and the pool/direct
// threshold policy.
//
// 2. pool: the tiered BufferPool and the ObjectPool registry of TypedPool[T]
// with dynamic scaling. Handles are owned; releasing twice is an error.
//
// 3. memory: pressure levels with hysteresis, conservative/adaptive/aggressive
// GC strategies, emergency pool shrinking and object lifetime expiry.
//
// 4. monitor: sampled request tracking, fixed-width windows, percentiles,
// alerts and export sinks.
//
// 5. orchestrator: named profiles wiring all of the above with one
// enable/disable lifecycle and a status report.
//
// # Quick Start
//
//	import (
//	    "context"
//	    "github.com/ajitpratap0/reservoir/pkg/orchestrator"
//	)
//
//	o, _ := orchestrator.New()
//	_ = o.Enable(context.Background(), orchestrator.ProfileStandard)
//	defer o.Disable(context.Background())
//
//	buf, _ := o.Buffers().AcquireFor(payload)
//	defer buf.Release()
//
// # Key Packages
//
//	pkg/sizing          - Size estimation and pooling thresholds
//	pkg/pool            - Buffer and object pools
//	pkg/memory          - Memory pressure manager
//	pkg/monitor         - Performance monitor and sinks
//	pkg/orchestrator    - Profiles and lifecycle
//	pkg/config          - Validated YAML configuration
//	pkg/reservoirerrors - Structured error handling
//	pkg/logger          - Structured logging
//	pkg/metrics         - Prometheus metrics
//	pkg/observability   - OpenTelemetry tracing and metrics
//	pkg/compression     - Snapshot file compression
//
// # Profiles
//
//	standard - default pools, adaptive GC, 10% sampling
//	high     - larger pools, earlier scaling, load shedding and circuit breaking
//	extreme  - very large pools, aggressive GC with lifetime expiry, 1% sampling
//	test     - pooling and sampling disabled
//
// # Configuration
//
// Profiles can be replaced by a YAML file. Environment variables are
// supported with ${VAR_NAME} syntax and unknown keys are rejected:
//
//	buffer:
//	  max_pool_size: 100
//	  size_categories: {small: 1024, medium: 4096, large: 16384, xlarge: 65536}
//	memory:
//	  gc_strategy: adaptive
//	  limit_bytes: ${RESERVOIR_MEMORY_LIMIT}
//	monitor:
//	  sample_rate: 0.1
//
// # Development
//
//	go test ./...
//	go run ./cmd/reservoir report --profile high --requests 5000
//	go run ./cmd/reservoir run --metrics-addr :9090 --duration 0
package reservoir
