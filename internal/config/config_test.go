package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, "~/.local/share/pagelog", cfg.Storage.ContainerDir)
	assert.Equal(t, "pagelog.sqlite", cfg.Storage.DatabaseFile)
	assert.Equal(t, "settings.sqlite", cfg.Storage.SettingsFile)
	assert.Equal(t, "wal", cfg.Storage.SQLiteJournalMode)
	assert.Equal(t, 5000, cfg.Storage.BusyTimeoutMillis)
	assert.Equal(t, 7, cfg.Retention.TransactionHistoryDays)
	assert.Empty(t, cfg.Enrichment.BaseURL)
	assert.Equal(t, 3, cfg.Enrichment.MaxThumbnails)
	assert.Equal(t, 5, cfg.Enrichment.ItemTimeoutSeconds)
	assert.Equal(t, 15, cfg.Enrichment.DeadlineSeconds)
	assert.Equal(t, 4.0, cfg.Enrichment.RequestsPerSecond)
	assert.Equal(t, "Local", cfg.Activity.Timezone)
	assert.True(t, cfg.Housekeeping.Enabled)
	assert.Equal(t, "0 3 * * *", cfg.Housekeeping.Schedule)
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Equal(t, "text", cfg.Logging.Format)
	assert.NoError(t, cfg.Validate())
	assert.Equal(t, 7*24*time.Hour, cfg.TransactionHistoryRetention())
}

func TestLoadValidYAMLOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "config.yaml")

	yamlContent := `
retention:
  transaction_history_days: 14
enrichment:
  max_thumbnails: 5
  requests_per_second: 0.5
activity:
  timezone: "Europe/Berlin"
logging:
  level: "debug"
  format: "json"
`
	err := os.WriteFile(cfgPath, []byte(yamlContent), 0644)
	require.NoError(t, err)

	cfg, err := Load(cfgPath)
	require.NoError(t, err)

	// Overridden values
	assert.Equal(t, 14, cfg.Retention.TransactionHistoryDays)
	assert.Equal(t, 5, cfg.Enrichment.MaxThumbnails)
	assert.Equal(t, 0.5, cfg.Enrichment.RequestsPerSecond)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, "json", cfg.Logging.Format)
	loc, err := cfg.Location()
	require.NoError(t, err)
	assert.Equal(t, "Europe/Berlin", loc.String())

	// Non-overridden values remain defaults
	assert.Equal(t, 15, cfg.Enrichment.DeadlineSeconds)
	assert.Equal(t, "wal", cfg.Storage.SQLiteJournalMode)
	assert.Equal(t, "0 3 * * *", cfg.Housekeeping.Schedule)
}

func TestLoadInvalidYAMLReturnsError(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "config.yaml")

	err := os.WriteFile(cfgPath, []byte(":::not valid yaml{{{"), 0644)
	require.NoError(t, err)

	_, err = Load(cfgPath)
	assert.Error(t, err)
}

func TestLoadInvalidValuesReturnsError(t *testing.T) {
	tests := map[string]string{
		"journal mode": "storage:\n  sqlite_journal_mode: sideways\n",
		"log level":    "logging:\n  level: loud\n",
		"log format":   "logging:\n  format: xml\n",
		"retention":    "retention:\n  transaction_history_days: 0\n",
		"rate":         "enrichment:\n  requests_per_second: -1\n",
		"timezone":     "activity:\n  timezone: Mars/Olympus_Mons\n",
	}
	for name, content := range tests {
		t.Run(name, func(t *testing.T) {
			cfgPath := filepath.Join(t.TempDir(), "config.yaml")
			require.NoError(t, os.WriteFile(cfgPath, []byte(content), 0644))
			_, err := Load(cfgPath)
			assert.Error(t, err)
		})
	}
}

func TestLoadNonExistentFileReturnsError(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing", "config.yaml"))
	assert.Error(t, err)
}

func TestLoadOrCreateCreatesDefaultsWhenMissing(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "sub", "deep", "config.yaml")

	cfg, err := LoadOrCreateAt(cfgPath)
	require.NoError(t, err)

	// Should return defaults
	assert.Equal(t, 7, cfg.Retention.TransactionHistoryDays)
	assert.Equal(t, "text", cfg.Logging.Format)

	// File should now exist on disk
	_, statErr := os.Stat(cfgPath)
	assert.NoError(t, statErr)

	// File should be valid YAML loadable again
	cfg2, err := Load(cfgPath)
	require.NoError(t, err)
	assert.Equal(t, cfg, cfg2)
}

func TestLoadOrCreateLoadsExistingFile(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "config.yaml")

	yamlContent := `
housekeeping:
  enabled: false
`
	err := os.WriteFile(cfgPath, []byte(yamlContent), 0644)
	require.NoError(t, err)

	cfg, err := LoadOrCreateAt(cfgPath)
	require.NoError(t, err)
	assert.False(t, cfg.Housekeeping.Enabled)
	// Other fields remain defaults
	assert.Equal(t, "0 3 * * *", cfg.Housekeeping.Schedule)
}

func TestPaths(t *testing.T) {
	home, err := os.UserHomeDir()
	require.NoError(t, err)

	cfg := DefaultConfig()
	dir, err := cfg.ContainerDir()
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(home, ".local", "share", "pagelog"), dir)

	settings, err := cfg.SettingsPath()
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "settings.sqlite"), settings)

	cfg.Storage.SettingsFile = "/var/lib/pagelog/flags.sqlite"
	settings, err = cfg.SettingsPath()
	require.NoError(t, err)
	assert.Equal(t, "/var/lib/pagelog/flags.sqlite", settings)
}

func TestLocationLocal(t *testing.T) {
	cfg := DefaultConfig()
	loc, err := cfg.Location()
	require.NoError(t, err)
	assert.Equal(t, time.Local, loc)

	cfg.Activity.Timezone = ""
	loc, err = cfg.Location()
	require.NoError(t, err)
	assert.Equal(t, time.Local, loc)
}
