// Package config loads reftrace settings from .reftrace.yaml, a .env file and
// REFTRACE_* environment variables, in increasing order of precedence.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const (
	// FileName is the project config file looked up at the project root.
	FileName = ".reftrace.yaml"
	// EnvFileName is the dotenv file looked up at the project root.
	EnvFileName = ".env"
)

// Environment variables that override file settings.
const (
	EnvDatabase     = "REFTRACE_DB"
	EnvBatchSize    = "REFTRACE_BATCH_SIZE"
	EnvTickInterval = "REFTRACE_TICK_INTERVAL"
	EnvTickBudget   = "REFTRACE_TICK_BUDGET"
)

// Config represents .reftrace.yaml
type Config struct {
	Database   string         `yaml:"database"`
	ScriptsDir string         `yaml:"scripts_dir"`
	Scan       ScanConfig     `yaml:"scan"`
	Identity   IdentityConfig `yaml:"identity"`
}

// ScanConfig holds scheduler settings
type ScanConfig struct {
	BatchSize    int           `yaml:"batch_size"`
	TickInterval time.Duration `yaml:"tick_interval"`
	TickBudget   time.Duration `yaml:"tick_budget"`
	Extensions   []string      `yaml:"extensions"`
	KeepSessions int           `yaml:"keep_sessions"`
}

// IdentityConfig holds identity lookup settings
type IdentityConfig struct {
	CacheSize int `yaml:"cache_size"`
}

// DefaultConfig returns a config with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		Database: filepath.Join(".reftrace", "index.db"),
		Scan: ScanConfig{
			BatchSize:    256,
			TickInterval: time.Millisecond,
			KeepSessions: 100,
		},
		Identity: IdentityConfig{
			CacheSize: 4096,
		},
	}
}

// LoadConfig loads configuration from a YAML file. Settings missing from the
// file keep their defaults; a missing file yields the defaults.
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return cfg, nil
		}
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config file %s: %w", path, err)
	}
	return cfg, nil
}

// Load reads the config for a project: root/.env into the process
// environment (existing variables win), then configPath (root/.reftrace.yaml
// when empty), then the REFTRACE_* overrides.
func Load(root, configPath string) (*Config, error) {
	if err := godotenv.Load(filepath.Join(root, EnvFileName)); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("loading %s: %w", EnvFileName, err)
	}

	if configPath == "" {
		configPath = filepath.Join(root, FileName)
	}
	cfg, err := LoadConfig(configPath)
	if err != nil {
		return nil, err
	}
	if err := cfg.ApplyEnv(os.Getenv); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyEnv overrides settings from environment variables read through getenv.
func (c *Config) ApplyEnv(getenv func(string) string) error {
	if v := strings.TrimSpace(getenv(EnvDatabase)); v != "" {
		c.Database = v
	}
	if v := strings.TrimSpace(getenv(EnvBatchSize)); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%s: %w", EnvBatchSize, err)
		}
		c.Scan.BatchSize = n
	}
	if v := strings.TrimSpace(getenv(EnvTickInterval)); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("%s: %w", EnvTickInterval, err)
		}
		c.Scan.TickInterval = d
	}
	if v := strings.TrimSpace(getenv(EnvTickBudget)); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("%s: %w", EnvTickBudget, err)
		}
		c.Scan.TickBudget = d
	}
	return c.Validate()
}

// Validate checks value ranges.
func (c *Config) Validate() error {
	switch {
	case c.Scan.BatchSize < 1:
		return fmt.Errorf("scan.batch_size must be >= 1, got %d", c.Scan.BatchSize)
	case c.Scan.TickInterval <= 0:
		return fmt.Errorf("scan.tick_interval must be positive, got %s", c.Scan.TickInterval)
	case c.Scan.TickBudget < 0:
		return fmt.Errorf("scan.tick_budget must not be negative, got %s", c.Scan.TickBudget)
	case c.Scan.KeepSessions < 0:
		return fmt.Errorf("scan.keep_sessions must not be negative, got %d", c.Scan.KeepSessions)
	case c.Identity.CacheSize < 1:
		return fmt.Errorf("identity.cache_size must be >= 1, got %d", c.Identity.CacheSize)
	}
	return nil
}

// DatabasePath resolves the database path against root when it is relative.
func (c *Config) DatabasePath(root string) string {
	if filepath.IsAbs(c.Database) {
		return c.Database
	}
	return filepath.Join(root, c.Database)
}
