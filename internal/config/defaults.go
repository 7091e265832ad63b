package config

// DefaultConfig returns a Config populated with all default values.
func DefaultConfig() *Config {
	return &Config{
		Storage: StorageConfig{
			ContainerDir:      "~/.local/share/pagelog",
			DatabaseFile:      "pagelog.sqlite",
			SettingsFile:      "settings.sqlite",
			SQLiteJournalMode: "wal",
			BusyTimeoutMillis: 5000,
		},
		Retention: RetentionConfig{
			TransactionHistoryDays: 7,
		},
		Enrichment: EnrichmentConfig{
			BaseURL:            "",
			UserAgent:          "pagelog/0.1 (https://github.com/runnerr0/pagelog)",
			MaxThumbnails:      3,
			ItemTimeoutSeconds: 5,
			DeadlineSeconds:    15,
			RequestsPerSecond:  4,
		},
		Activity: ActivityConfig{
			Timezone: "Local",
		},
		Housekeeping: HousekeepingConfig{
			Enabled:  true,
			Schedule: "0 3 * * *",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}
