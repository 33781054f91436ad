// Package config provides unified configuration loading for pcosc.
// It supports loading from YAML files and environment variables.
package config

import (
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strconv"

	"github.com/nvandessel/pcosc/internal/model"
	"github.com/nvandessel/pcosc/internal/recorder"
	"github.com/nvandessel/pcosc/internal/store"
	"gopkg.in/yaml.v3"
)

// FileName is the name of the config file inside the data directory.
const FileName = "config.yaml"

// PcoscConfig contains all pcosc configuration settings.
type PcoscConfig struct {
	// Simulation contains run defaults.
	Simulation SimulationConfig `json:"simulation" yaml:"simulation"`

	// Model contains the reference model parameters.
	Model model.Params `json:"model" yaml:"model"`

	// Store configures run persistence.
	Store StoreConfig `json:"store" yaml:"store"`

	// MCP bounds the work a single MCP tool call may request.
	MCP MCPConfig `json:"mcp" yaml:"mcp"`

	// Logging contains settings for operational and event logging.
	Logging LoggingConfig `json:"logging" yaml:"logging"`
}

// SimulationConfig holds the defaults for "pcosc run".
type SimulationConfig struct {
	// DT is the integration time step in seconds.
	DT float64 `json:"dt" yaml:"dt"`

	// Duration is the simulated time in seconds.
	Duration float64 `json:"duration" yaml:"duration"`

	// Workers bounds read-phase parallelism. 1 runs serially.
	Workers int `json:"workers" yaml:"workers"`

	// ProbeSynapse low-pass filters recorded output. 0 records raw state.
	ProbeSynapse float64 `json:"probe_synapse" yaml:"probe_synapse"`

	// SampleEvery records every n-th step.
	SampleEvery int `json:"sample_every" yaml:"sample_every"`
}

// StoreConfig configures the SQLite run store.
type StoreConfig struct {
	// Enabled persists every run unless overridden on the command line.
	Enabled bool `json:"enabled" yaml:"enabled"`

	// BatchSize is the number of steps written per transaction.
	BatchSize int `json:"batch_size" yaml:"batch_size"`
}

// MCPConfig limits MCP tool calls.
type MCPConfig struct {
	// MaxSteps caps the step count of a single pcosc_run call.
	MaxSteps int `json:"max_steps" yaml:"max_steps"`

	// MaxSamples caps the number of samples returned per population.
	MaxSamples int `json:"max_samples" yaml:"max_samples"`
}

// LoggingConfig configures pcosc's logging behavior.
type LoggingConfig struct {
	// Level sets the log verbosity: "warn", "info" (default), "debug", or "trace".
	// "debug" enables run event logging to .pcosc/events.jsonl.
	// "trace" additionally logs every step.
	Level string `json:"level" yaml:"level"`
}

// Default returns a PcoscConfig with sensible defaults.
func Default() *PcoscConfig {
	return &PcoscConfig{
		Simulation: SimulationConfig{
			DT:           0.001,
			Duration:     1,
			Workers:      1,
			ProbeSynapse: recorder.DefaultProbeSynapse,
			SampleEvery:  1,
		},
		Model: model.DefaultParams(),
		Store: StoreConfig{
			Enabled:   false,
			BatchSize: store.DefaultBatchSize,
		},
		MCP: MCPConfig{
			MaxSteps:   1_000_000,
			MaxSamples: 1000,
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// Path returns the global config file path, ~/.pcosc/config.yaml.
func Path() (string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("getting home directory: %w", err)
	}
	return filepath.Join(homeDir, store.DirName, FileName), nil
}

// Load loads configuration from the default locations and environment variables.
// Order: defaults -> ~/.pcosc/config.yaml -> environment variables
func Load() (*PcoscConfig, error) {
	config := Default()

	// Try to load from default config file
	if configPath, err := Path(); err == nil {
		if _, statErr := os.Stat(configPath); statErr == nil {
			fileConfig, loadErr := LoadFromFile(configPath)
			if loadErr != nil {
				return nil, fmt.Errorf("loading config file: %w", loadErr)
			}
			config = fileConfig
		}
	}

	// Apply environment variable overrides
	if err := applyEnvOverrides(config); err != nil {
		return nil, err
	}

	return config, nil
}

// LoadFromFile loads configuration from a specific YAML file. Keys absent from
// the file keep their defaults.
func LoadFromFile(path string) (*PcoscConfig, error) {
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
func (c *PcoscConfig) Validate() error {
	s := c.Simulation
	if !(s.DT > 0) || math.IsInf(s.DT, 0) {
		return fmt.Errorf("dt must be positive and finite, got %g", s.DT)
	}
	if !(s.Duration > 0) || math.IsInf(s.Duration, 0) {
		return fmt.Errorf("duration must be positive and finite, got %g", s.Duration)
	}
	if s.Workers < 1 {
		return fmt.Errorf("workers must be at least 1, got %d", s.Workers)
	}
	if s.ProbeSynapse < 0 || math.IsNaN(s.ProbeSynapse) {
		return fmt.Errorf("probe_synapse must be non-negative, got %g", s.ProbeSynapse)
	}
	if s.SampleEvery < 1 {
		return fmt.Errorf("sample_every must be at least 1, got %d", s.SampleEvery)
	}

	if err := c.Model.Validate(); err != nil {
		return fmt.Errorf("model: %w", err)
	}

	if c.Store.BatchSize < 1 {
		return fmt.Errorf("store batch_size must be at least 1, got %d", c.Store.BatchSize)
	}
	if c.MCP.MaxSteps < 1 || c.MCP.MaxSamples < 1 {
		return fmt.Errorf("mcp max_steps and max_samples must be at least 1")
	}

	validLevels := map[string]bool{"warn": true, "info": true, "debug": true, "trace": true}
	if c.Logging.Level != "" && !validLevels[c.Logging.Level] {
		return fmt.Errorf("invalid log level: %s (valid: warn, info, debug, trace, or empty for default)", c.Logging.Level)
	}

	return nil
}

// envFloats maps float environment overrides to their fields.
func (c *PcoscConfig) envFloats() map[string]*float64 {
	return map[string]*float64{
		"PCOSC_DT":            &c.Simulation.DT,
		"PCOSC_DURATION":      &c.Simulation.Duration,
		"PCOSC_PROBE_SYNAPSE": &c.Simulation.ProbeSynapse,
		"PCOSC_TAU_SYNAPSE":   &c.Model.TauSynapse,
		"PCOSC_OMEGA":         &c.Model.Omega,
		"PCOSC_GAMMA":         &c.Model.Gamma,
	}
}

// applyEnvOverrides applies environment variable overrides to the config.
// A set but unparsable variable is an error.
func applyEnvOverrides(config *PcoscConfig) error {
	for name, field := range config.envFloats() {
		v := os.Getenv(name)
		if v == "" {
			continue
		}
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("invalid %s=%q: %w", name, v, err)
		}
		*field = f
	}

	if v := os.Getenv("PCOSC_WORKERS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid PCOSC_WORKERS=%q: %w", v, err)
		}
		config.Simulation.Workers = n
	}

	if v := os.Getenv("PCOSC_STORE"); v != "" {
		config.Store.Enabled = v == "true" || v == "1"
	}

	if v := os.Getenv("PCOSC_LOG_LEVEL"); v != "" {
		config.Logging.Level = v
	}
	return nil
}
