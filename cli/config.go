package cli

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

const (
	projectConfigName = "aiworkflow.yaml"
	homeConfigDir     = ".aiworkflow"
	homeConfigName    = "config.yaml"
)

// FileConfig is the shape of aiworkflow.yaml. Flags override every field.
type FileConfig struct {
	Simulation SimulationConfig `yaml:"simulation"`
	TraceStore TraceStoreConfig `yaml:"trace_store"`
	OTel       OTelConfig       `yaml:"otel"`
	Log        LogConfig        `yaml:"log"`
}

type SimulationConfig struct {
	MaxSteps      int `yaml:"max_steps,omitempty"`
	MaxHops       int `yaml:"max_hops,omitempty"`
	MaxIterations int `yaml:"max_iterations,omitempty"`
}

type TraceStoreConfig struct {
	// Path is the SQLite file runs are archived to. "memory" keeps them
	// in process only.
	Path           string `yaml:"path,omitempty"`
	RetentionCount int    `yaml:"retention_count,omitempty"`
}

type OTelConfig struct {
	Endpoint string            `yaml:"endpoint,omitempty"`
	Insecure bool              `yaml:"insecure,omitempty"`
	Headers  map[string]string `yaml:"headers,omitempty"`
}

type LogConfig struct {
	Level  string `yaml:"level,omitempty"`
	Format string `yaml:"format,omitempty"`
}

// DiscoverConfigPath resolves the config file with first-match semantics.
func DiscoverConfigPath(explicitPath string) (string, bool, error) {
	cwd, err := os.Getwd()
	if err != nil {
		return "", false, fmt.Errorf("resolve working directory: %w", err)
	}
	homeDir, err := os.UserHomeDir()
	if err != nil {
		homeDir = ""
	}
	return DiscoverConfigPathFrom(explicitPath, cwd, homeDir)
}

// DiscoverConfigPathFrom is a testable variant of DiscoverConfigPath. An
// explicit path must exist; the implicit candidates are optional.
func DiscoverConfigPathFrom(explicitPath, cwd, homeDir string) (string, bool, error) {
	var candidates []string
	explicit := strings.TrimSpace(explicitPath) != ""
	if explicit {
		candidates = append(candidates, filepath.Clean(explicitPath))
	} else {
		candidates = append(candidates, filepath.Join(cwd, projectConfigName))
		if homeDir != "" {
			candidates = append(candidates, filepath.Join(homeDir, homeConfigDir, homeConfigName))
		}
	}

	for _, candidate := range candidates {
		info, err := os.Stat(candidate)
		if err == nil && !info.IsDir() {
			return candidate, true, nil
		}
		if errors.Is(err, os.ErrNotExist) {
			if explicit {
				return "", false, fmt.Errorf("config file %q not found", candidate)
			}
			continue
		}
		if err != nil {
			return "", false, fmt.Errorf("checking config path %q: %w", candidate, err)
		}
	}
	return "", false, nil
}

// LoadConfig reads and decodes a config file. Unknown keys are rejected so
// a typo does not silently fall back to a default.
func LoadConfig(path string) (FileConfig, error) {
	var cfg FileConfig
	data, err := os.ReadFile(path) // #nosec G304 -- path resolved by DiscoverConfigPath
	if err != nil {
		return cfg, fmt.Errorf("reading config %q: %w", path, err)
	}
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return cfg, fmt.Errorf("parsing config %q: %w", path, err)
	}
	return cfg, nil
}

// defaultTraceStorePath is ~/.aiworkflow/traces.db, or "memory" when there
// is no home directory.
func defaultTraceStorePath() string {
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		return "memory"
	}
	return filepath.Join(home, homeConfigDir, "traces.db")
}
