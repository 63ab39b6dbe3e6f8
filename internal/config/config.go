// Package config handles configuration loading for pasta.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"

	"github.com/bmatcuk/doublestar/v4"
	"gopkg.in/yaml.v3"

	"github.com/pasta-sh/pasta/internal/fingerprint"
	"github.com/pasta-sh/pasta/internal/ports"
)

// DefaultConfigPath returns the default config file path:
// $XDG_CONFIG_HOME/pasta/config.yaml or ~/.config/pasta/config.yaml
func DefaultConfigPath() string {
	dir := os.Getenv("XDG_CONFIG_HOME")
	if dir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return ""
		}
		dir = filepath.Join(home, ".config")
	}
	return filepath.Join(dir, "pasta", "config.yaml")
}

// Config represents the top-level configuration.
type Config struct {
	Logging   LoggingConfig   `yaml:"logging"`
	Recording RecordingConfig `yaml:"recording"`
	Shell     ShellConfig     `yaml:"shell"`
	Prompts   PromptConfig    `yaml:"prompts"`
}

// LoggingConfig defines logging settings.
type LoggingConfig struct {
	Level    string `yaml:"level"`    // "debug", "info", "warn", "error"
	Sanitize bool   `yaml:"sanitize"` // sanitize sensitive data from logs
	File     string `yaml:"file"`     // log file path; empty logs to stderr
}

// RecordingConfig defines session recording settings.
type RecordingConfig struct {
	Enabled bool   `yaml:"enabled"` // capture asciicast recordings
	Events  bool   `yaml:"events"`  // write the lifecycle event log alongside
	Path    string `yaml:"path"`    // directory to store recordings
}

// ShellConfig defines how the wrapped command is launched.
type ShellConfig struct {
	Path          string   `yaml:"path"`           // custom shell path (overrides $SHELL detection)
	Args          []string `yaml:"args"`           // extra arguments for the shell
	Env           []string `yaml:"env"`            // extra environment entries, KEY=VALUE
	SpawnCommands []string `yaml:"spawn_commands"` // replaces the built-in subshell command list
}

// PromptConfig defines prompt-recognition settings.
type PromptConfig struct {
	Rules []RuleConfig `yaml:"rules"`
}

// RuleConfig is a user-supplied prompt-recognition rule. Shell is a
// doublestar glob matched against the wrapped command path; empty applies to
// every shell.
type RuleConfig struct {
	Name  string `yaml:"name"`
	Shell string `yaml:"shell"`
	Regex string `yaml:"regex"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Logging: LoggingConfig{
			Level:    "info",
			Sanitize: true,
		},
		Recording: RecordingConfig{
			Events: true,
		},
	}
}

// Load loads configuration from a YAML file. A missing file yields the
// defaults; `pasta init` creates it. An optional FileSystem can be passed for
// testing; if omitted, the real OS is used.
func Load(path string, fsys ...ports.FileSystem) (*Config, error) {
	cfg := DefaultConfig()

	if path == "" {
		return cfg, nil
	}

	var data []byte
	var err error
	if len(fsys) > 0 && fsys[0] != nil {
		data, err = fsys[0].ReadFile(path)
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}

	return cfg, nil
}

// Validate checks the parts of the configuration that cannot be validated
// lazily: rule regexes and shell globs must compile.
func (c *Config) Validate() error {
	for _, r := range c.Prompts.Rules {
		if r.Regex == "" {
			return fmt.Errorf("prompt rule %q: empty regex", r.Name)
		}
		if _, err := regexp.Compile(r.Regex); err != nil {
			return fmt.Errorf("prompt rule %q: %w", r.Name, err)
		}
		if r.Shell != "" {
			if !doublestar.ValidatePattern(r.Shell) {
				return fmt.Errorf("prompt rule %q: invalid shell glob %q", r.Name, r.Shell)
			}
		}
	}
	return nil
}

// Rules compiles the configured prompt rules that apply to the given shell
// path. Validate must have been called; rules that fail to compile here are
// skipped.
func (c *Config) Rules(shellPath string) []fingerprint.Rule {
	var rules []fingerprint.Rule
	for _, r := range c.Prompts.Rules {
		if r.Shell != "" {
			ok, err := doublestar.Match(r.Shell, shellPath)
			if err != nil || !ok {
				continue
			}
		}
		pat, err := regexp.Compile(r.Regex)
		if err != nil {
			continue
		}
		rules = append(rules, fingerprint.Rule{Name: r.Name, Shell: r.Shell, Pattern: pat})
	}
	return rules
}

// Save writes the configuration to a YAML file. An optional FileSystem can be
// passed for testing; if omitted, the real OS is used.
func Save(cfg *Config, path string, fsys ...ports.FileSystem) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	if len(fsys) > 0 && fsys[0] != nil {
		return fsys[0].WriteFile(path, data, 0o644)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}
	return os.WriteFile(path, data, 0o644)
}
