package memory

import (
	"time"

	"github.com/ajitpratap0/reservoir/pkg/config"
	"github.com/ajitpratap0/reservoir/pkg/reservoirerrors"
)

// GCStrategy decides at which levels to force collection and how often to
// check pressure.
type GCStrategy int

const (
	// Conservative collects only at critical and checks at half the base rate
	Conservative GCStrategy = iota
	// Adaptive collects at high and critical and checks faster as pressure rises
	Adaptive
	// Aggressive collects from medium up, checks at a fixed fast rate and
	// expires tracked objects
	Aggressive
)

// ParseGCStrategy parses a strategy name.
func ParseGCStrategy(s string) (GCStrategy, error) {
	switch s {
	case config.GCConservative:
		return Conservative, nil
	case config.GCAdaptive:
		return Adaptive, nil
	case config.GCAggressive:
		return Aggressive, nil
	default:
		return 0, reservoirerrors.New(reservoirerrors.ErrorTypeConfig, "unknown gc strategy").
			WithDetail("strategy", s)
	}
}

func (s GCStrategy) String() string {
	switch s {
	case Conservative:
		return config.GCConservative
	case Adaptive:
		return config.GCAdaptive
	case Aggressive:
		return config.GCAggressive
	default:
		return "unknown"
	}
}

// MarshalText implements encoding.TextMarshaler.
func (s GCStrategy) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// ShouldCollect reports whether level triggers a forced collection.
func (s GCStrategy) ShouldCollect(level PressureLevel) bool {
	switch s {
	case Conservative:
		return level >= LevelCritical
	case Adaptive:
		return level >= LevelHigh
	case Aggressive:
		return level >= LevelMedium
	default:
		return false
	}
}

// Interval returns the minimum time between checks at level.
func (s GCStrategy) Interval(base time.Duration, level PressureLevel) time.Duration {
	var d time.Duration
	switch s {
	case Conservative:
		d = 2 * base
	case Aggressive:
		d = base / 4
	default:
		d = base >> uint(level)
	}
	if d <= 0 {
		d = time.Millisecond
	}
	return d
}

// TracksLifetimes reports whether tracked objects are swept on each check.
func (s GCStrategy) TracksLifetimes() bool {
	return s == Aggressive
}
