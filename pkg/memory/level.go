// Package memory tracks process memory pressure and reacts to it by forcing
// collection, shrinking registered pools and expiring tracked objects.
//
// Pressure is the used/limit ratio of the latest PressureSample, mapped onto
// four levels. Entering critical switches the manager into emergency mode;
// leaving it requires the ratio to fall below a separate exit threshold so
// a ratio hovering near the boundary does not flap.
package memory

import (
	"time"

	"github.com/ajitpratap0/reservoir/pkg/config"
)

// PressureLevel is an ordered pressure classification.
type PressureLevel int

const (
	LevelLow PressureLevel = iota
	LevelMedium
	LevelHigh
	LevelCritical
)

func (l PressureLevel) String() string {
	switch l {
	case LevelLow:
		return "low"
	case LevelMedium:
		return "medium"
	case LevelHigh:
		return "high"
	case LevelCritical:
		return "critical"
	default:
		return "unknown"
	}
}

// MarshalText implements encoding.TextMarshaler.
func (l PressureLevel) MarshalText() ([]byte, error) {
	return []byte(l.String()), nil
}

// PressureSample is one reading of memory usage.
type PressureSample struct {
	Timestamp  time.Time `json:"timestamp"`
	UsedBytes  uint64    `json:"used_bytes"`
	PeakBytes  uint64    `json:"peak_bytes"`
	LimitBytes uint64    `json:"limit_bytes"`
}

// Ratio returns used/limit, or 0 when the limit is unknown.
func (s PressureSample) Ratio() float64 {
	if s.LimitBytes == 0 {
		return 0
	}
	return float64(s.UsedBytes) / float64(s.LimitBytes)
}

// Thresholds are the ratio boundaries between levels.
type Thresholds struct {
	Medium        float64 `json:"medium"`
	High          float64 `json:"high"`
	CriticalEnter float64 `json:"critical_enter"`
	CriticalExit  float64 `json:"critical_exit"`
}

// ThresholdsFromConfig extracts the level boundaries from cfg.
func ThresholdsFromConfig(cfg config.MemoryConfig) Thresholds {
	return Thresholds{
		Medium:        cfg.MediumThreshold,
		High:          cfg.GCThreshold,
		CriticalEnter: cfg.EmergencyGCThreshold,
		CriticalExit:  cfg.EmergencyExitThreshold,
	}
}

// Level maps ratio to a level. While in emergency, the level stays critical
// until the ratio drops below CriticalExit.
func (t Thresholds) Level(ratio float64, inEmergency bool) PressureLevel {
	switch {
	case ratio >= t.CriticalEnter:
		return LevelCritical
	case inEmergency && ratio >= t.CriticalExit:
		return LevelCritical
	case ratio >= t.High:
		return LevelHigh
	case ratio >= t.Medium:
		return LevelMedium
	default:
		return LevelLow
	}
}
