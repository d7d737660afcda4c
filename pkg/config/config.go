package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Config carries the cross-cutting knobs that live outside of one Detect
// call's functional options: default worker count, default log level and
// format, and the hypergeometric backend selection.
type Config struct {
	Framework FrameworkConfig `yaml:"framework"`
	Detector  DetectorConfig  `yaml:"detector"`
}

// FrameworkConfig contains general logging settings.
type FrameworkConfig struct {
	Version   string `yaml:"version"`
	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`
}

// DetectorConfig contains detector defaults.
type DetectorConfig struct {
	// Cores is the default worker pool size (0 = runtime.NumCPU(), 1 = in-process).
	Cores int `yaml:"cores"`
	// HypergeomBackend names the hypergeom.Backend to use ("logspace" or
	// "native"), overridable at runtime by STATDP_HYPERGEOM_BACKEND.
	HypergeomBackend string `yaml:"hypergeom_backend"`
	EventIterations  int    `yaml:"event_iterations"`
	DetectIterations int    `yaml:"detect_iterations"`
}

// DefaultConfig returns a default configuration.
func DefaultConfig() *Config {
	return &Config{
		Framework: FrameworkConfig{
			Version:   "v1",
			LogLevel:  "info",
			LogFormat: "text",
		},
		Detector: DetectorConfig{
			Cores:            0,
			HypergeomBackend: "logspace",
			EventIterations:  100_000,
			DetectIterations: 500_000,
		},
	}
}

// HypergeomBackendEnv is the environment variable spec.md §6 calls for: "a
// single environment variable controlling an optional native
// hypergeometric library path", realized here as a backend-name switch
// since a cgo-free portable Go library cannot dlopen an arbitrary .so/.dylib
// (see DESIGN.md).
const HypergeomBackendEnv = "STATDP_HYPERGEOM_BACKEND"

// ResolveHypergeomBackend returns the env override when set, otherwise the
// config file's value, falling back to "logspace" for either if both are
// empty.
func (c *Config) ResolveHypergeomBackend() string {
	if v := os.Getenv(HypergeomBackendEnv); v != "" {
		return v
	}
	if c.Detector.HypergeomBackend != "" {
		return c.Detector.HypergeomBackend
	}
	return "logspace"
}

// Load loads configuration from a YAML file, returning defaults if path
// does not exist.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path == "" {
		path = "statdp.yaml"
	}

	if _, err := os.Stat(path); os.IsNotExist(err) {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	expandedData := []byte(os.ExpandEnv(string(data)))
	if err := yaml.Unmarshal(expandedData, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	return cfg, nil
}

// Save writes configuration to a YAML file.
func (c *Config) Save(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.Detector.Cores < 0 {
		return fmt.Errorf("detector.cores must be >= 0")
	}
	if c.Detector.EventIterations < 1 {
		return fmt.Errorf("detector.event_iterations must be at least 1")
	}
	if c.Detector.DetectIterations < 1 {
		return fmt.Errorf("detector.detect_iterations must be at least 1")
	}
	switch c.Detector.HypergeomBackend {
	case "", "logspace", "native":
	default:
		return fmt.Errorf("detector.hypergeom_backend must be 'logspace' or 'native', got %q", c.Detector.HypergeomBackend)
	}
	return nil
}
