package config

import (
	"errors"
	"io"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/ajitpratap0/reservoir/pkg/reservoirerrors"
)

// Load reads a YAML configuration file on top of Default and validates the
// result. ${VAR} references are substituted from the environment and unknown
// keys are rejected.
func Load(filePath string) (*Config, error) {
	data, err := os.ReadFile(filePath) //nolint:gosec // G304: path comes from the operator
	if err != nil {
		return nil, reservoirerrors.Wrap(err, reservoirerrors.ErrorTypeConfig, "failed to read config file").
			WithDetail("path", filePath)
	}
	return Parse(data)
}

// Parse decodes YAML configuration bytes the same way Load does.
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	// Maps decode by merging, so categories from the file must replace the defaults.
	cfg.Buffer.SizeCategories = nil

	dec := yaml.NewDecoder(strings.NewReader(substituteEnvVars(string(data))))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, reservoirerrors.Wrap(err, reservoirerrors.ErrorTypeConfig, "failed to parse YAML")
	}

	if cfg.Buffer.SizeCategories == nil {
		cfg.Buffer.SizeCategories = DefaultSizeCategories()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Save validates cfg and writes it to a YAML file.
func Save(filePath string, cfg *Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return reservoirerrors.Wrap(err, reservoirerrors.ErrorTypeConfig, "failed to marshal YAML")
	}

	if err := os.WriteFile(filePath, data, 0o644); err != nil { //nolint:gosec
		return reservoirerrors.Wrap(err, reservoirerrors.ErrorTypeConfig, "failed to write config file").
			WithDetail("path", filePath)
	}

	return nil
}

// substituteEnvVars replaces ${VAR_NAME} with environment variable values
func substituteEnvVars(content string) string {
	var b strings.Builder
	for {
		start := strings.Index(content, "${")
		if start == -1 {
			break
		}
		end := strings.Index(content[start:], "}")
		if end == -1 {
			break
		}
		end += start

		b.WriteString(content[:start])
		b.WriteString(os.Getenv(content[start+2 : end]))
		content = content[end+1:]
	}
	b.WriteString(content)
	return b.String()
}
