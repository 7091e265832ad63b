package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Default config file path.
const DefaultConfigPath = "~/.config/pagelog/config.yaml"

// Config holds all pagelog configuration.
type Config struct {
	Storage      StorageConfig      `yaml:"storage"`
	Retention    RetentionConfig    `yaml:"retention"`
	Enrichment   EnrichmentConfig   `yaml:"enrichment"`
	Activity     ActivityConfig     `yaml:"activity"`
	Housekeeping HousekeepingConfig `yaml:"housekeeping"`
	Logging      LoggingConfig      `yaml:"logging"`
}

type StorageConfig struct {
	ContainerDir      string `yaml:"container_dir"`
	DatabaseFile      string `yaml:"database_file"`
	SettingsFile      string `yaml:"settings_file"`
	SQLiteJournalMode string `yaml:"sqlite_journal_mode"`
	BusyTimeoutMillis int    `yaml:"busy_timeout_millis"`
}

type RetentionConfig struct {
	TransactionHistoryDays int `yaml:"transaction_history_days"`
}

type EnrichmentConfig struct {
	BaseURL            string  `yaml:"base_url"`
	UserAgent          string  `yaml:"user_agent"`
	MaxThumbnails      int     `yaml:"max_thumbnails"`
	ItemTimeoutSeconds int     `yaml:"item_timeout_seconds"`
	DeadlineSeconds    int     `yaml:"deadline_seconds"`
	RequestsPerSecond  float64 `yaml:"requests_per_second"`
}

type ActivityConfig struct {
	Timezone string `yaml:"timezone"`
}

type HousekeepingConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Schedule string `yaml:"schedule"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Load reads a YAML config file at path and merges it with defaults.
// Returns an error if the file cannot be read, contains invalid YAML or
// holds invalid values.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks enumerated and positive-only values.
func (c *Config) Validate() error {
	switch strings.ToLower(c.Storage.SQLiteJournalMode) {
	case "wal", "delete", "truncate", "persist", "memory", "off":
	default:
		return fmt.Errorf("invalid storage.sqlite_journal_mode %q", c.Storage.SQLiteJournalMode)
	}
	switch strings.ToLower(c.Logging.Level) {
	case "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("invalid logging.level %q", c.Logging.Level)
	}
	switch strings.ToLower(c.Logging.Format) {
	case "text", "json":
	default:
		return fmt.Errorf("invalid logging.format %q", c.Logging.Format)
	}
	if c.Retention.TransactionHistoryDays <= 0 {
		return fmt.Errorf("retention.transaction_history_days must be positive")
	}
	if c.Enrichment.RequestsPerSecond <= 0 {
		return fmt.Errorf("enrichment.requests_per_second must be positive")
	}
	if _, err := c.Location(); err != nil {
		return err
	}
	return nil
}

// ContainerDir returns the expanded storage container directory.
func (c *Config) ContainerDir() (string, error) {
	return expandPath(c.Storage.ContainerDir)
}

// SettingsPath returns the expanded path of the key/value settings file.
func (c *Config) SettingsPath() (string, error) {
	if filepath.IsAbs(c.Storage.SettingsFile) || strings.HasPrefix(c.Storage.SettingsFile, "~") {
		return expandPath(c.Storage.SettingsFile)
	}
	dir, err := c.ContainerDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, c.Storage.SettingsFile), nil
}

// Location returns the activity time zone. "Local" and "" mean the
// system zone.
func (c *Config) Location() (*time.Location, error) {
	switch c.Activity.Timezone {
	case "", "Local":
		return time.Local, nil
	}
	loc, err := time.LoadLocation(c.Activity.Timezone)
	if err != nil {
		return nil, fmt.Errorf("invalid activity.timezone %q: %w", c.Activity.Timezone, err)
	}
	return loc, nil
}

// TransactionHistoryRetention returns the change-log retention.
func (c *Config) TransactionHistoryRetention() time.Duration {
	return time.Duration(c.Retention.TransactionHistoryDays) * 24 * time.Hour
}

// expandPath replaces a leading ~ with the user's home directory.
func expandPath(path string) (string, error) {
	if len(path) > 0 && path[0] == '~' {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolving home directory: %w", err)
		}
		return filepath.Join(home, path[1:]), nil
	}
	return path, nil
}

// LoadOrCreate loads the config from the default path. If the file does
// not exist, it creates the directory structure and writes defaults.
func LoadOrCreate() (*Config, error) {
	path, err := expandPath(DefaultConfigPath)
	if err != nil {
		return nil, err
	}
	return LoadOrCreateAt(path)
}

// LoadOrCreateAt loads the config from the given path. If the file does
// not exist, it creates the directory structure and writes defaults.
func LoadOrCreateAt(path string) (*Config, error) {
	path, err := expandPath(path)
	if err != nil {
		return nil, err
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		cfg := DefaultConfig()

		dir := filepath.Dir(path)
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("creating config directory: %w", err)
		}

		data, err := yaml.Marshal(cfg)
		if err != nil {
			return nil, fmt.Errorf("marshaling default config: %w", err)
		}

		if err := os.WriteFile(path, data, 0644); err != nil {
			return nil, fmt.Errorf("writing default config: %w", err)
		}

		return cfg, nil
	}

	return Load(path)
}
