// Package config loads scenario files. Values are resolved in order:
// defaults, then the YAML file, then SCENARIO_* environment variables. CLI
// flags are applied on top by the caller.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net/netip"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/signalsfoundry/wifi-scenario/core"
)

// File is the on-disk scenario file.
type File struct {
	Scenario core.Config   `yaml:"scenario"`
	Output   OutputConfig  `yaml:"output"`
	Logging  LoggingConfig `yaml:"logging"`
}

// OutputConfig says where run artifacts and bookkeeping go.
type OutputConfig struct {
	// Dir receives captures, the animation trace and the flow summary.
	Dir string `yaml:"dir"`
	// ResultsDB is an optional SQLite run history.
	ResultsDB string `yaml:"results_db,omitempty"`
	// MetricsFile is an optional Prometheus textfile written after the run.
	MetricsFile string `yaml:"metrics_file,omitempty"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	// Verbose turns on per-packet echo application logs.
	Verbose bool `yaml:"verbose"`
}

// Default returns the reference scenario writing into the working
// directory.
func Default() *File {
	return &File{
		Scenario: core.DefaultConfig(),
		Output:   OutputConfig{Dir: "."},
		Logging:  LoggingConfig{Level: "info", Format: "text"},
	}
}

// Load reads path, or only the defaults when path is empty, and applies
// environment overrides.
func Load(path string) (*File, error) {
	cfg := Default()
	if path != "" {
		var err error
		if cfg, err = LoadFromFile(path); err != nil {
			return nil, err
		}
	}
	if err := applyEnvOverrides(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFromFile reads a scenario file on top of the defaults.
func LoadFromFile(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}
	cfg, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("parsing config file %s: %w", path, err)
	}
	return cfg, nil
}

// Parse decodes a scenario document. ${VAR} references are expanded from
// the environment first; unknown keys are rejected.
func Parse(data []byte) (*File, error) {
	cfg := Default()
	dec := yaml.NewDecoder(bytes.NewReader([]byte(expandEnvVars(string(data)))))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, err
	}
	return cfg, nil
}

// Marshal renders cfg as YAML.
func Marshal(cfg *File) ([]byte, error) {
	return yaml.Marshal(cfg)
}

func applyEnvOverrides(cfg *File) error {
	sc := &cfg.Scenario
	if v := os.Getenv("SCENARIO_NAME"); v != "" {
		sc.Name = v
	}
	if err := envInt("SCENARIO_ACCESS_POINTS", &sc.AccessPoints); err != nil {
		return err
	}
	if err := envInt("SCENARIO_STATIONS_PER_AP", &sc.StationsPerAP); err != nil {
		return err
	}
	if err := envInt("SCENARIO_ACTIVE_CLIENTS", &sc.ActiveClients); err != nil {
		return err
	}
	if v := os.Getenv("SCENARIO_SEED"); v != "" {
		seed, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			return fmt.Errorf("SCENARIO_SEED: %w", err)
		}
		sc.Seed = seed
	}
	if v := os.Getenv("SCENARIO_SUBNET_BASE"); v != "" {
		p, err := netip.ParsePrefix(v)
		if err != nil {
			return fmt.Errorf("SCENARIO_SUBNET_BASE: %w", err)
		}
		sc.SubnetBase = p
	}
	if v := os.Getenv("SCENARIO_STOP"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("SCENARIO_STOP: %w", err)
		}
		sc.Timing.Stop = d
	}
	if v := os.Getenv("SCENARIO_DETAILED_TRACE"); v != "" {
		trace, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("SCENARIO_DETAILED_TRACE: %w", err)
		}
		sc.DetailedTrace = trace
	}

	if v := os.Getenv("SCENARIO_OUTPUT_DIR"); v != "" {
		cfg.Output.Dir = v
	}
	if v := os.Getenv("SCENARIO_RESULTS_DB"); v != "" {
		cfg.Output.ResultsDB = v
	}
	if v := os.Getenv("SCENARIO_METRICS_FILE"); v != "" {
		cfg.Output.MetricsFile = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("LOG_FORMAT"); v != "" {
		cfg.Logging.Format = v
	}
	return nil
}

func envInt(key string, dst *int) error {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fmt.Errorf("%s: %w", key, err)
	}
	*dst = n
	return nil
}

// expandEnvVars expands ${VAR} patterns with environment variable values.
func expandEnvVars(s string) string {
	if !strings.Contains(s, "${") {
		return s
	}
	return os.Expand(s, os.Getenv)
}
