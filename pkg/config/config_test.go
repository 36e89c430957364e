package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ajitpratap0/reservoir/pkg/reservoirerrors"
)

func TestDefaultIsValid(t *testing.T) {
	require.NoError(t, Default().Validate())
}

func TestValidateRejectsWithoutClamping(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		key    string
	}{
		{"empty categories", func(c *Config) { c.Buffer.SizeCategories = map[string]int{} }, "buffer.size_categories"},
		{"zero category", func(c *Config) { c.Buffer.SizeCategories["zero"] = 0 }, "buffer.size_categories.zero"},
		{"oversized category", func(c *Config) { c.Buffer.SizeCategories["big"] = MaxCategoryBytes + 1 }, "buffer.size_categories.big"},
		{"max pool size", func(c *Config) { c.Buffer.MaxPoolSize = 0 }, "buffer.max_pool_size"},
		{"initial over max", func(c *Config) { c.Objects.InitialSize = c.Objects.MaxSize + 1 }, "objects.initial_size"},
		{"emergency under max", func(c *Config) { c.Objects.EmergencyLimit = c.Objects.MaxSize - 1 }, "objects.emergency_limit"},
		{"scale factor", func(c *Config) { c.Objects.ScaleFactor = 1 }, "objects.scale_factor"},
		{"shrink above scale", func(c *Config) { c.Objects.ShrinkThreshold = 0.9 }, "objects.shrink_threshold"},
		{"strategy", func(c *Config) { c.Memory.GCStrategy = "eager" }, "memory.gc_strategy"},
		{"exit above enter", func(c *Config) { c.Memory.EmergencyExitThreshold = 0.95 }, "memory.emergency_exit_threshold"},
		{"check interval", func(c *Config) { c.Memory.CheckInterval = 0 }, "memory.check_interval"},
		{"sample rate", func(c *Config) { c.Monitor.SampleRate = 1.5 }, "monitor.sample_rate"},
		{"percentile", func(c *Config) { c.Monitor.Percentiles = []float64{50, 101} }, "monitor.percentiles"},
		{"threshold", func(c *Config) { c.Threshold.ScanBudget = 0 }, "threshold.scan_budget"},
		{"log level", func(c *Config) { c.Logging.Level = "loud" }, "logging.level"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			before := cfg.Clone()

			err := cfg.Validate()
			require.Error(t, err)
			assert.True(t, reservoirerrors.IsType(err, reservoirerrors.ErrorTypeConfig))

			var rerr *reservoirerrors.Error
			require.ErrorAs(t, err, &rerr)
			assert.Equal(t, tt.key, rerr.Details["key"])
			assert.Equal(t, before, cfg, "validation must not modify the config")
		})
	}
}

func TestSortedCategories(t *testing.T) {
	b := BufferConfig{SizeCategories: map[string]int{"b": 10, "a": 10, "c": 1}}
	assert.Equal(t, []Category{{"c", 1}, {"a", 10}, {"b", 10}}, b.SortedCategories())
}

func TestCloneIsDeep(t *testing.T) {
	cfg := Default()
	cp := cfg.Clone()
	cp.Buffer.SizeCategories["small"] = 1
	cp.Monitor.Percentiles[0] = 1

	assert.Equal(t, 1024, cfg.Buffer.SizeCategories["small"])
	assert.Equal(t, 50.0, cfg.Monitor.Percentiles[0])
}

func TestParseOverlaysDefaults(t *testing.T) {
	cfg, err := Parse([]byte(`
buffer:
  max_pool_size: 10
  size_categories:
    tiny: 512
memory:
  gc_strategy: aggressive
  check_interval: 250ms
`))
	require.NoError(t, err)

	assert.Equal(t, 10, cfg.Buffer.MaxPoolSize)
	assert.Equal(t, map[string]int{"tiny": 512}, cfg.Buffer.SizeCategories, "file categories replace defaults")
	assert.Equal(t, GCAggressive, cfg.Memory.GCStrategy)
	assert.Equal(t, 250*time.Millisecond, cfg.Memory.CheckInterval)
	assert.Equal(t, Default().Objects, cfg.Objects)
}

func TestParseEmptyDocument(t *testing.T) {
	cfg, err := Parse(nil)
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestParseRejectsUnknownKeys(t *testing.T) {
	_, err := Parse([]byte("buffer:\n  max_pool_sise: 10\n"))
	require.Error(t, err)
	assert.True(t, reservoirerrors.IsType(err, reservoirerrors.ErrorTypeConfig))
}

func TestParseRejectsEmptyCategories(t *testing.T) {
	_, err := Parse([]byte("buffer:\n  size_categories: {}\n"))
	require.Error(t, err)
}

func TestParseSubstitutesEnv(t *testing.T) {
	t.Setenv("RESERVOIR_TEST_STRATEGY", "conservative")
	cfg, err := Parse([]byte("memory:\n  gc_strategy: ${RESERVOIR_TEST_STRATEGY}\n"))
	require.NoError(t, err)
	assert.Equal(t, GCConservative, cfg.Memory.GCStrategy)
}

func TestSubstituteEnvVars(t *testing.T) {
	t.Setenv("A_VAR", "x")
	assert.Equal(t, "x-x-", substituteEnvVars("${A_VAR}-${A_VAR}-${UNSET_RESERVOIR_VAR}"))
	assert.Equal(t, "open ${brace", substituteEnvVars("open ${brace"))
}

func TestSaveLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "reservoir.yaml")
	cfg := Default()
	cfg.Memory.GCStrategy = GCAggressive
	cfg.Monitor.ExportInterval = time.Minute

	require.NoError(t, Save(path, cfg))
	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, cfg, loaded)
}

func TestSaveRejectsInvalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "reservoir.yaml")
	cfg := Default()
	cfg.Buffer.MaxPoolSize = -1
	require.Error(t, Save(path, cfg))
	_, err := os.Stat(path)
	assert.True(t, os.IsNotExist(err))
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
	assert.True(t, reservoirerrors.IsType(err, reservoirerrors.ErrorTypeConfig))
}
