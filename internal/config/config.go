// Package config loads the agent configuration from an optional YAML file,
// environment overrides and defaults, in that order of precedence.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	DefaultAddress  = "127.0.0.1:8123"
	databaseName    = "shots.db"
	applicationName = "FormShot"
)

type Config struct {
	Address  string         `yaml:"address"`
	Database string         `yaml:"database"`
	LogLevel string         `yaml:"log_level"` // debug | info | warn | error
	Browser  BrowserConfig  `yaml:"browser"`
	Targets  []TargetConfig `yaml:"targets"`
	Restore  RestoreConfig  `yaml:"restore"`
}

type BrowserConfig struct {
	Remote            string        `yaml:"remote"` // DevTools WebSocket URL; empty launches Chrome
	Headless          *bool         `yaml:"headless"`
	Stealth           bool          `yaml:"stealth"`
	NavigationTimeout time.Duration `yaml:"navigation_timeout"`
}

// TargetConfig is a document context attached at startup: a page opened in
// the browser or an HTML file on disk.
type TargetConfig struct {
	ID   string `yaml:"id"`
	URL  string `yaml:"url"`
	File string `yaml:"file"`
}

type RestoreConfig struct {
	// ConfirmMismatch answers the field count prompt when no one can be asked.
	ConfirmMismatch bool `yaml:"confirm_mismatch"`
}

// ApplicationDirectory is the per-user data directory of the agent.
func ApplicationDirectory() (string, error) {
	homeDirectory, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get user home directory: %w", err)
	}

	switch runtime.GOOS {
	case "darwin":
		return filepath.Join(homeDirectory, "Library", "Application Support", applicationName), nil
	case "windows":
		return filepath.Join(homeDirectory, "AppData", "Roaming", applicationName), nil
	default: // linux and others
		return filepath.Join(homeDirectory, ".local", "share", applicationName), nil
	}
}

// Load reads the YAML file at path, if any. Environment variables override
// the file; defaults fill what is still unset.
func Load(path string) (*Config, error) {
	var cfg Config
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	cfg.applyEnvOverrides()
	if err := cfg.applyDefaults(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("FORMSHOT_ADDRESS"); v != "" {
		c.Address = v
	}
	if v := os.Getenv("FORMSHOT_DATABASE"); v != "" {
		c.Database = v
	}
	if v := os.Getenv("FORMSHOT_BROWSER_REMOTE"); v != "" {
		c.Browser.Remote = v
	}
	if v := os.Getenv("FORMSHOT_LOG_LEVEL"); v != "" {
		c.LogLevel = v
	}
}

func (c *Config) applyDefaults() error {
	if c.Address == "" {
		c.Address = DefaultAddress
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.Browser.Headless == nil {
		headless := true
		c.Browser.Headless = &headless
	}
	if c.Browser.NavigationTimeout <= 0 {
		c.Browser.NavigationTimeout = 30 * time.Second
	}
	if c.Database == "" {
		dir, err := ApplicationDirectory()
		if err != nil {
			return err
		}
		c.Database = filepath.Join(dir, databaseName)
	}
	return nil
}

func (c *Config) Validate() error {
	var errs []error
	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Errorf("log_level: unknown level %q", c.LogLevel))
	}
	seen := map[string]bool{}
	for i, t := range c.Targets {
		if (t.URL == "") == (t.File == "") {
			errs = append(errs, fmt.Errorf("targets[%d]: exactly one of url or file is required", i))
		}
		if t.ID != "" && seen[t.ID] {
			errs = append(errs, fmt.Errorf("targets[%d]: duplicate id %q", i, t.ID))
		}
		seen[t.ID] = true
	}
	return errors.Join(errs...)
}

// EnsureDataDirectory creates the directory holding the database file.
func (c *Config) EnsureDataDirectory() error {
	if err := os.MkdirAll(filepath.Dir(c.Database), 0o755); err != nil {
		return fmt.Errorf("failed to create application directory: %w", err)
	}
	return nil
}
