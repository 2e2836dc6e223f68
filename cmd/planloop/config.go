package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config is the CLI configuration, loadable from a YAML file. Zero values
// fall back to defaults.
type Config struct {
	Provider string `yaml:"provider"`
	Model    string `yaml:"model"`
	Strategy string `yaml:"strategy"`

	MemoryDir   string `yaml:"memory_dir"`
	SessionsDir string `yaml:"sessions_dir"`

	MaxPlanVersions     int `yaml:"max_plan_versions"`
	RepeatLimit         int `yaml:"repeat_limit"`
	FailureWindow       int `yaml:"failure_window"`
	FailureSummaryLimit int `yaml:"failure_summary_limit"`

	Verbose bool `yaml:"verbose"`
}

// DefaultCLIConfig returns the CLI defaults.
func DefaultCLIConfig() Config {
	return Config{
		Strategy:            "exploratory",
		MemoryDir:           "~/.planloop/memory",
		SessionsDir:         "~/.planloop/sessions",
		MaxPlanVersions:     20,
		RepeatLimit:         4,
		FailureWindow:       3,
		FailureSummaryLimit: 300,
	}
}

// LoadConfig reads a YAML config file over the defaults. An empty path
// returns the defaults; a missing file at an explicit path is an error.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultCLIConfig()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(expandHome(path))
	if err != nil {
		return cfg, fmt.Errorf("reading config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parsing config %s: %w", path, err)
	}
	return cfg, nil
}

// expandHome expands a leading ~ to the user's home directory.
func expandHome(path string) string {
	if !strings.HasPrefix(path, "~") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, strings.TrimPrefix(path, "~"))
}
