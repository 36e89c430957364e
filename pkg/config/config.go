// Package config provides the validated configuration for reservoir.
// A single Config structure carries one typed section per component:
//   - Buffer: size tiers and per-bucket caps for the buffer pool
//   - Objects: initial size, limits and scaling factors for the object pool
//   - Memory: GC strategy and pressure thresholds
//   - Monitor: sampling, windows, percentiles and alert thresholds
//   - Threshold: the pooling decision thresholds
//   - Features: optional request-path hooks
//   - Logging: zap logger settings
//
// Example usage:
//
//	cfg := config.Default()
//	cfg.Buffer.MaxPoolSize = 500
//
//	if err := cfg.Validate(); err != nil {
//	    log.Fatal(err)
//	}
package config

import (
	"math"
	"sort"
	"time"

	"go.uber.org/zap/zapcore"

	"github.com/ajitpratap0/reservoir/pkg/logger"
	"github.com/ajitpratap0/reservoir/pkg/reservoirerrors"
)

// MaxCategoryBytes is the largest capacity a buffer size category may declare.
const MaxCategoryBytes = 1 << 20

// GC strategy names accepted by memory.gc_strategy.
const (
	GCConservative = "conservative"
	GCAdaptive     = "adaptive"
	GCAggressive   = "aggressive"
)

// Config is the complete configuration for every reservoir component.
type Config struct {
	// Buffer configures the size-bucketed byte buffer pool
	Buffer BufferConfig `yaml:"buffer" json:"buffer"`

	// Objects configures the typed object pools
	Objects ObjectConfig `yaml:"objects" json:"objects"`

	// Memory configures the memory pressure manager
	Memory MemoryConfig `yaml:"memory" json:"memory"`

	// Monitor configures the performance monitor
	Monitor MonitorConfig `yaml:"monitor" json:"monitor"`

	// Threshold configures the pool-or-direct decision
	Threshold ThresholdConfig `yaml:"threshold" json:"threshold"`

	// Features toggles the request-path hooks
	Features FeatureConfig `yaml:"features" json:"features"`

	// Logging configures the zap logger
	Logging logger.Config `yaml:"logging" json:"logging"`
}

// BufferConfig contains buffer pool settings.
type BufferConfig struct {
	// MaxPoolSize caps the idle buffers kept per size category
	MaxPoolSize int `yaml:"max_pool_size" json:"max_pool_size"`
	// DefaultCapacity is the capacity used by AcquireDefault
	DefaultCapacity int `yaml:"default_capacity" json:"default_capacity"`
	// SizeCategories maps a category name to its byte capacity
	SizeCategories map[string]int `yaml:"size_categories" json:"size_categories"`
	// Disabled bypasses pooling entirely; every acquire allocates
	Disabled bool `yaml:"disabled" json:"disabled"`
}

// ObjectConfig contains object pool settings shared by every registered type.
type ObjectConfig struct {
	InitialSize     int     `yaml:"initial_size" json:"initial_size"`
	MaxSize         int     `yaml:"max_size" json:"max_size"`
	EmergencyLimit  int     `yaml:"emergency_limit" json:"emergency_limit"`
	ScaleThreshold  float64 `yaml:"scale_threshold" json:"scale_threshold"`
	ScaleFactor     float64 `yaml:"scale_factor" json:"scale_factor"`
	ShrinkThreshold float64 `yaml:"shrink_threshold" json:"shrink_threshold"`
	WarmUp          bool    `yaml:"warm_up" json:"warm_up"`
	Disabled        bool    `yaml:"disabled" json:"disabled"`
}

// MemoryConfig contains memory pressure manager settings.
type MemoryConfig struct {
	// GCStrategy is one of conservative, adaptive or aggressive
	GCStrategy string `yaml:"gc_strategy" json:"gc_strategy"`
	// MediumThreshold is the used/limit ratio where pressure becomes medium
	MediumThreshold float64 `yaml:"medium_threshold" json:"medium_threshold"`
	// GCThreshold is the ratio where pressure becomes high
	GCThreshold float64 `yaml:"gc_threshold" json:"gc_threshold"`
	// EmergencyGCThreshold is the ratio that enters emergency mode
	EmergencyGCThreshold float64 `yaml:"emergency_gc_threshold" json:"emergency_gc_threshold"`
	// EmergencyExitThreshold is the ratio below which emergency mode ends
	EmergencyExitThreshold float64 `yaml:"emergency_exit_threshold" json:"emergency_exit_threshold"`
	// CheckInterval is the base interval between pressure checks
	CheckInterval time.Duration `yaml:"check_interval" json:"check_interval"`
	// LimitBytes overrides the detected memory limit when non-zero
	LimitBytes uint64 `yaml:"limit_bytes" json:"limit_bytes"`
	// MaxObjectLifetime bounds tracked object lifetimes under the aggressive strategy
	MaxObjectLifetime time.Duration `yaml:"max_object_lifetime" json:"max_object_lifetime"`
}

// MonitorConfig contains performance monitor settings.
type MonitorConfig struct {
	SampleRate          float64         `yaml:"sample_rate" json:"sample_rate"`
	MetricWindowSeconds int             `yaml:"metric_window_seconds" json:"metric_window_seconds"`
	WindowRetention     int             `yaml:"window_retention" json:"window_retention"`
	MaxSamples          int             `yaml:"max_samples" json:"max_samples"`
	Percentiles         []float64       `yaml:"percentiles" json:"percentiles"`
	AlertThresholds     AlertThresholds `yaml:"alert_thresholds" json:"alert_thresholds"`
	// ExportInterval of zero disables the background exporter
	ExportInterval time.Duration `yaml:"export_interval" json:"export_interval"`
}

// AlertThresholds are the limits that raise monitor alerts. Zero disables a check.
type AlertThresholds struct {
	// LatencyP99 in milliseconds
	LatencyP99 float64 `yaml:"latency_p99" json:"latency_p99"`
	// ErrorRate as a fraction of completed requests
	ErrorRate float64 `yaml:"error_rate" json:"error_rate"`
	// MemoryUsage as a used/limit ratio
	MemoryUsage float64 `yaml:"memory_usage" json:"memory_usage"`
	// GCFrequency in forced collections per minute
	GCFrequency float64 `yaml:"gc_frequency" json:"gc_frequency"`
}

// ThresholdConfig contains the pool-or-direct decision thresholds.
type ThresholdConfig struct {
	ArrayElements  int `yaml:"array_elements" json:"array_elements"`
	ObjectFields   int `yaml:"object_fields" json:"object_fields"`
	StringBytes    int `yaml:"string_bytes" json:"string_bytes"`
	CompositeBytes int `yaml:"composite_bytes" json:"composite_bytes"`
	ScanBudget     int `yaml:"scan_budget" json:"scan_budget"`
}

// FeatureConfig toggles the optional request-path hooks.
type FeatureConfig struct {
	TrafficClassification bool `yaml:"traffic_classification" json:"traffic_classification"`
	LoadShedding          bool `yaml:"load_shedding" json:"load_shedding"`
	CircuitBreaking       bool `yaml:"circuit_breaking" json:"circuit_breaking"`
}

// Category is one buffer size tier.
type Category struct {
	Name     string `json:"name"`
	Capacity int    `json:"capacity"`
}

// DefaultSizeCategories returns the standard 1KB/4KB/16KB/64KB tiers.
func DefaultSizeCategories() map[string]int {
	return map[string]int{
		"small":  1 << 10,
		"medium": 4 << 10,
		"large":  16 << 10,
		"xlarge": 64 << 10,
	}
}

// Default returns a Config populated with production defaults.
func Default() *Config {
	return &Config{
		Buffer: BufferConfig{
			MaxPoolSize:     100,
			DefaultCapacity: 4 << 10,
			SizeCategories:  DefaultSizeCategories(),
		},
		Objects: ObjectConfig{
			InitialSize:     16,
			MaxSize:         256,
			EmergencyLimit:  1024,
			ScaleThreshold:  0.7,
			ScaleFactor:     2.0,
			ShrinkThreshold: 0.2,
			WarmUp:          true,
		},
		Memory: MemoryConfig{
			GCStrategy:             GCAdaptive,
			MediumThreshold:        0.5,
			GCThreshold:            0.7,
			EmergencyGCThreshold:   0.9,
			EmergencyExitThreshold: 0.75,
			CheckInterval:          5 * time.Second,
			MaxObjectLifetime:      30 * time.Second,
		},
		Monitor: MonitorConfig{
			SampleRate:          0.1,
			MetricWindowSeconds: 60,
			WindowRetention:     5,
			MaxSamples:          10000,
			Percentiles:         []float64{50, 90, 95, 99},
			AlertThresholds: AlertThresholds{
				LatencyP99:  500,
				ErrorRate:   0.05,
				MemoryUsage: 0.85,
				GCFrequency: 30,
			},
			ExportInterval: 15 * time.Second,
		},
		Threshold: ThresholdConfig{
			ArrayElements:  10,
			ObjectFields:   5,
			StringBytes:    1024,
			CompositeBytes: 256,
			ScanBudget:     50,
		},
		Logging: logger.DefaultConfig(),
	}
}

// Clone returns a deep copy of the configuration.
func (c *Config) Clone() *Config {
	out := *c
	if c.Buffer.SizeCategories != nil {
		out.Buffer.SizeCategories = make(map[string]int, len(c.Buffer.SizeCategories))
		for k, v := range c.Buffer.SizeCategories {
			out.Buffer.SizeCategories[k] = v
		}
	}
	if c.Monitor.Percentiles != nil {
		out.Monitor.Percentiles = append([]float64(nil), c.Monitor.Percentiles...)
	}
	if c.Logging.OutputPaths != nil {
		out.Logging.OutputPaths = append([]string(nil), c.Logging.OutputPaths...)
	}
	return &out
}

// Validate checks every section and returns the first problem found.
// Values are never clamped.
func (c *Config) Validate() error {
	if err := c.Buffer.Validate(); err != nil {
		return err
	}
	if err := c.Objects.Validate(); err != nil {
		return err
	}
	if err := c.Memory.Validate(); err != nil {
		return err
	}
	if err := c.Monitor.Validate(); err != nil {
		return err
	}
	if err := c.Threshold.Validate(); err != nil {
		return err
	}
	if _, err := zapcore.ParseLevel(orDefault(c.Logging.Level, "info")); err != nil {
		return configErr("logging.level", c.Logging.Level, "must be a valid log level")
	}
	switch c.Logging.Encoding {
	case "", "json", "console":
	default:
		return configErr("logging.encoding", c.Logging.Encoding, "must be json or console")
	}
	return nil
}

// Validate checks the buffer section.
func (b *BufferConfig) Validate() error {
	if b.MaxPoolSize <= 0 {
		return configErr("buffer.max_pool_size", b.MaxPoolSize, "must be positive")
	}
	if b.DefaultCapacity <= 0 {
		return configErr("buffer.default_capacity", b.DefaultCapacity, "must be positive")
	}
	if len(b.SizeCategories) == 0 {
		return configErr("buffer.size_categories", len(b.SizeCategories), "must not be empty")
	}
	for name, capacity := range b.SizeCategories {
		if name == "" {
			return configErr("buffer.size_categories", capacity, "category name must not be empty")
		}
		if capacity <= 0 {
			return configErr("buffer.size_categories."+name, capacity, "must be positive")
		}
		if capacity > MaxCategoryBytes {
			return configErr("buffer.size_categories."+name, capacity, "must not exceed 1MB")
		}
	}
	return nil
}

// SortedCategories returns the size categories ascending by capacity.
// Categories with equal capacity are ordered by name.
func (b *BufferConfig) SortedCategories() []Category {
	out := make([]Category, 0, len(b.SizeCategories))
	for name, capacity := range b.SizeCategories {
		out = append(out, Category{Name: name, Capacity: capacity})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Capacity == out[j].Capacity {
			return out[i].Name < out[j].Name
		}
		return out[i].Capacity < out[j].Capacity
	})
	return out
}

// Validate checks the object pool section.
func (o *ObjectConfig) Validate() error {
	if o.InitialSize < 0 {
		return configErr("objects.initial_size", o.InitialSize, "cannot be negative")
	}
	if o.MaxSize <= 0 {
		return configErr("objects.max_size", o.MaxSize, "must be positive")
	}
	if o.InitialSize > o.MaxSize {
		return configErr("objects.initial_size", o.InitialSize, "must not exceed max_size")
	}
	if o.EmergencyLimit < o.MaxSize {
		return configErr("objects.emergency_limit", o.EmergencyLimit, "must be at least max_size")
	}
	if o.ScaleThreshold <= 0 || o.ScaleThreshold > 1 {
		return configErr("objects.scale_threshold", o.ScaleThreshold, "must be in (0, 1]")
	}
	if o.ShrinkThreshold < 0 || o.ShrinkThreshold >= o.ScaleThreshold {
		return configErr("objects.shrink_threshold", o.ShrinkThreshold, "must be in [0, scale_threshold)")
	}
	if o.ScaleFactor <= 1 || math.IsInf(o.ScaleFactor, 0) || math.IsNaN(o.ScaleFactor) {
		return configErr("objects.scale_factor", o.ScaleFactor, "must be greater than 1")
	}
	return nil
}

// Validate checks the memory section.
func (m *MemoryConfig) Validate() error {
	switch m.GCStrategy {
	case GCConservative, GCAdaptive, GCAggressive:
	default:
		return configErr("memory.gc_strategy", m.GCStrategy, "must be conservative, adaptive or aggressive")
	}
	if m.MediumThreshold <= 0 {
		return configErr("memory.medium_threshold", m.MediumThreshold, "must be positive")
	}
	if m.GCThreshold <= m.MediumThreshold {
		return configErr("memory.gc_threshold", m.GCThreshold, "must exceed medium_threshold")
	}
	if m.EmergencyGCThreshold <= m.GCThreshold || m.EmergencyGCThreshold > 1 {
		return configErr("memory.emergency_gc_threshold", m.EmergencyGCThreshold, "must be in (gc_threshold, 1]")
	}
	if m.EmergencyExitThreshold <= m.MediumThreshold || m.EmergencyExitThreshold >= m.EmergencyGCThreshold {
		return configErr("memory.emergency_exit_threshold", m.EmergencyExitThreshold,
			"must be in (medium_threshold, emergency_gc_threshold)")
	}
	if m.CheckInterval <= 0 {
		return configErr("memory.check_interval", m.CheckInterval, "must be positive")
	}
	if m.MaxObjectLifetime < 0 {
		return configErr("memory.max_object_lifetime", m.MaxObjectLifetime, "cannot be negative")
	}
	return nil
}

// Validate checks the monitor section.
func (m *MonitorConfig) Validate() error {
	if m.SampleRate < 0 || m.SampleRate > 1 || math.IsNaN(m.SampleRate) {
		return configErr("monitor.sample_rate", m.SampleRate, "must be in [0, 1]")
	}
	if m.MetricWindowSeconds <= 0 {
		return configErr("monitor.metric_window_seconds", m.MetricWindowSeconds, "must be positive")
	}
	if m.WindowRetention <= 0 {
		return configErr("monitor.window_retention", m.WindowRetention, "must be positive")
	}
	if m.MaxSamples <= 0 {
		return configErr("monitor.max_samples", m.MaxSamples, "must be positive")
	}
	if len(m.Percentiles) == 0 {
		return configErr("monitor.percentiles", len(m.Percentiles), "must not be empty")
	}
	for _, p := range m.Percentiles {
		if p <= 0 || p > 100 {
			return configErr("monitor.percentiles", p, "each percentile must be in (0, 100]")
		}
	}
	t := m.AlertThresholds
	if t.LatencyP99 < 0 || t.ErrorRate < 0 || t.MemoryUsage < 0 || t.GCFrequency < 0 {
		return configErr("monitor.alert_thresholds", t, "cannot be negative")
	}
	if m.ExportInterval < 0 {
		return configErr("monitor.export_interval", m.ExportInterval, "cannot be negative")
	}
	return nil
}

// Validate checks the threshold section.
func (t *ThresholdConfig) Validate() error {
	fields := []struct {
		key   string
		value int
	}{
		{"threshold.array_elements", t.ArrayElements},
		{"threshold.object_fields", t.ObjectFields},
		{"threshold.string_bytes", t.StringBytes},
		{"threshold.composite_bytes", t.CompositeBytes},
		{"threshold.scan_budget", t.ScanBudget},
	}
	for _, f := range fields {
		if f.value <= 0 {
			return configErr(f.key, f.value, "must be positive")
		}
	}
	return nil
}

func configErr(key string, value interface{}, msg string) error {
	return reservoirerrors.New(reservoirerrors.ErrorTypeConfig, key+" "+msg).
		WithDetail("key", key).
		WithDetail("value", value)
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}
