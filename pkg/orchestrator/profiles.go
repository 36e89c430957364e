package orchestrator

import (
	"sort"
	"time"

	"github.com/ajitpratap0/reservoir/pkg/config"
	"github.com/ajitpratap0/reservoir/pkg/reservoirerrors"
)

// Profile names.
const (
	ProfileStandard = "standard"
	ProfileHigh     = "high"
	ProfileExtreme  = "extreme"
	ProfileTest     = "test"
)

// Profile is a named, immutable configuration bundle.
type Profile struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	build       func() *config.Config
}

// Config returns a fresh copy of the profile configuration.
func (p Profile) Config() *config.Config {
	return p.build()
}

var profiles = map[string]Profile{
	ProfileStandard: {
		Name:        ProfileStandard,
		Description: "Default pools, adaptive GC, 10% sampling",
		build:       standardConfig,
	},
	ProfileHigh: {
		Name:        ProfileHigh,
		Description: "Larger pools, earlier scaling, 5% sampling, all traffic hooks",
		build:       highConfig,
	},
	ProfileExtreme: {
		Name:        ProfileExtreme,
		Description: "Very large pools, aggressive GC with lifetime expiry, 1% sampling",
		build:       extremeConfig,
	},
	ProfileTest: {
		Name:        ProfileTest,
		Description: "Pooling and sampling disabled",
		build:       testConfig,
	},
}

// Profiles returns every profile sorted by name.
func Profiles() []Profile {
	out := make([]Profile, 0, len(profiles))
	for _, p := range profiles {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Lookup returns the named profile.
func Lookup(name string) (Profile, error) {
	p, ok := profiles[name]
	if !ok {
		return Profile{}, reservoirerrors.New(reservoirerrors.ErrorTypeNotFound, "unknown profile").
			WithDetail("profile", name)
	}
	return p, nil
}

func standardConfig() *config.Config {
	cfg := config.Default()
	cfg.Features.TrafficClassification = true
	return cfg
}

func highConfig() *config.Config {
	cfg := config.Default()
	cfg.Buffer.MaxPoolSize = 500
	cfg.Objects.InitialSize = 64
	cfg.Objects.MaxSize = 1024
	cfg.Objects.EmergencyLimit = 4096
	cfg.Objects.ScaleThreshold = 0.6
	cfg.Memory.CheckInterval = 2 * time.Second
	cfg.Monitor.SampleRate = 0.05
	cfg.Monitor.AlertThresholds.LatencyP99 = 250
	cfg.Features = config.FeatureConfig{
		TrafficClassification: true,
		LoadShedding:          true,
		CircuitBreaking:       true,
	}
	return cfg
}

func extremeConfig() *config.Config {
	cfg := config.Default()
	cfg.Buffer.MaxPoolSize = 2000
	cfg.Objects.InitialSize = 256
	cfg.Objects.MaxSize = 4096
	cfg.Objects.EmergencyLimit = 16384
	cfg.Objects.ScaleThreshold = 0.6
	cfg.Objects.ScaleFactor = 4
	cfg.Memory.GCStrategy = config.GCAggressive
	cfg.Memory.CheckInterval = time.Second
	cfg.Memory.MaxObjectLifetime = 10 * time.Second
	cfg.Monitor.SampleRate = 0.01
	cfg.Monitor.MaxSamples = 50000
	cfg.Monitor.AlertThresholds.LatencyP99 = 100
	cfg.Monitor.ExportInterval = 5 * time.Second
	cfg.Features = config.FeatureConfig{
		TrafficClassification: true,
		LoadShedding:          true,
		CircuitBreaking:       true,
	}
	return cfg
}

func testConfig() *config.Config {
	cfg := config.Default()
	cfg.Buffer.Disabled = true
	cfg.Objects.Disabled = true
	cfg.Objects.WarmUp = false
	cfg.Memory.GCStrategy = config.GCConservative
	cfg.Monitor.SampleRate = 0
	cfg.Monitor.ExportInterval = 0
	return cfg
}
