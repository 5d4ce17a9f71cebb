// Package config provides unified configuration loading for the splitting
// CLI. It supports loading from YAML files and environment variables.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/rcaby/splitting/internal/model"
	"gopkg.in/yaml.v3"
)

// Config contains all settings for the splitting CLI.
type Config struct {
	// Estimator configures the splitting algorithm itself.
	Estimator EstimatorConfig `json:"estimator" yaml:"estimator"`

	// Model configures the double-well diffusion the estimator drives.
	Model model.DoubleWellConfig `json:"model" yaml:"model"`

	// Storage configures the run-history database.
	Storage StorageConfig `json:"storage" yaml:"storage"`

	// Logging configures operational and iteration logging.
	Logging LoggingConfig `json:"logging" yaml:"logging"`
}

// EstimatorConfig holds the algorithm parameters.
type EstimatorConfig struct {
	// Trajectories is the ensemble size N.
	Trajectories int `json:"trajectories" yaml:"trajectories"`

	// Survivors is nc, the number of distinct survivor levels kept per
	// iteration. Must satisfy 1 <= nc < N.
	Survivors int `json:"survivors" yaml:"survivors"`

	// Seed seeds the estimator's random stream.
	Seed uint64 `json:"seed" yaml:"seed"`

	// Collapse is the score counted as a completed transition. The
	// conventional maximum score is 1.
	Collapse float64 `json:"collapse" yaml:"collapse"`
}

// StorageConfig configures run-history persistence.
type StorageConfig struct {
	// Dir is the directory holding the run database. Empty means
	// ~/.splitting.
	Dir string `json:"dir,omitempty" yaml:"dir,omitempty"`
}

// LoggingConfig configures logging behavior.
type LoggingConfig struct {
	// Level sets the log verbosity: "info" (default), "debug", or "trace".
	// "debug" enables iteration tracing to <storage dir>/iterations.jsonl.
	Level string `json:"level" yaml:"level"`
}

// Default returns a Config with sensible defaults: a 100-trajectory ensemble
// over the reference double-well parameterization.
func Default() *Config {
	return &Config{
		Estimator: EstimatorConfig{
			Trajectories: 100,
			Survivors:    1,
			Seed:         0,
			Collapse:     1,
		},
		Model: model.DefaultDoubleWellConfig(),
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// Load loads configuration from the default locations and environment
// variables. Order: defaults -> ~/.splitting/config.yaml -> environment.
func Load() (*Config, error) {
	config := Default()

	homeDir, err := os.UserHomeDir()
	if err == nil {
		configPath := filepath.Join(homeDir, ".splitting", "config.yaml")
		if _, statErr := os.Stat(configPath); statErr == nil {
			fileConfig, loadErr := LoadFromFile(configPath)
			if loadErr != nil {
				return nil, fmt.Errorf("loading config file: %w", loadErr)
			}
			config = fileConfig
		}
	}

	applyEnvOverrides(config)

	return config, nil
}

// LoadFromFile loads configuration from a specific YAML file.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	config := Default()
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	return config, nil
}

// Validate checks that the configuration is valid.
func (c *Config) Validate() error {
	if c.Estimator.Trajectories < 2 {
		return fmt.Errorf("trajectories must be at least 2, got %d", c.Estimator.Trajectories)
	}
	if c.Estimator.Survivors < 1 || c.Estimator.Survivors >= c.Estimator.Trajectories {
		return fmt.Errorf("survivors must satisfy 1 <= nc < N, got nc=%d N=%d", c.Estimator.Survivors, c.Estimator.Trajectories)
	}
	if c.Estimator.Collapse <= 0 || c.Estimator.Collapse > 1 {
		return fmt.Errorf("collapse threshold must be in (0, 1], got %g", c.Estimator.Collapse)
	}
	if c.Model.Dt <= 0 {
		return fmt.Errorf("model time step must be positive, got %g", c.Model.Dt)
	}
	if c.Model.MaxSteps < 1 {
		return fmt.Errorf("model step budget must be positive, got %d", c.Model.MaxSteps)
	}
	if c.Model.StartBoundary >= c.Model.TargetBoundary {
		return fmt.Errorf("start boundary %g must lie left of target boundary %g", c.Model.StartBoundary, c.Model.TargetBoundary)
	}

	validLevels := map[string]bool{"info": true, "debug": true, "trace": true}
	if c.Logging.Level != "" && !validLevels[c.Logging.Level] {
		return fmt.Errorf("invalid log level: %s (valid: info, debug, trace, or empty for default)", c.Logging.Level)
	}

	return nil
}

// StorageDir resolves the run-history directory, defaulting to ~/.splitting.
func (c *Config) StorageDir() (string, error) {
	if c.Storage.Dir != "" {
		return c.Storage.Dir, nil
	}
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolving home directory: %w", err)
	}
	return filepath.Join(homeDir, ".splitting"), nil
}

// applyEnvOverrides applies environment variable overrides to the config.
func applyEnvOverrides(config *Config) {
	if v := os.Getenv("SPLITTING_TRAJECTORIES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			config.Estimator.Trajectories = n
		}
	}
	if v := os.Getenv("SPLITTING_SURVIVORS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			config.Estimator.Survivors = n
		}
	}
	if v := os.Getenv("SPLITTING_SEED"); v != "" {
		if n, err := strconv.ParseUint(v, 10, 64); err == nil {
			config.Estimator.Seed = n
		}
	}
	if v := os.Getenv("SPLITTING_MU"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			config.Model.Mu = f
		}
	}
	if v := os.Getenv("SPLITTING_NOISE"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			config.Model.Noise = f
		}
	}
	if v := os.Getenv("SPLITTING_STORAGE_DIR"); v != "" {
		config.Storage.Dir = v
	}
	if v := os.Getenv("SPLITTING_LOG_LEVEL"); v != "" {
		config.Logging.Level = v
	}
}
