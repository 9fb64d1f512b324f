// Package config loads server configuration from the environment and the
// factory_settings table. Environment wins for connection details; factory
// settings tune runtime limits and fall back to named defaults when the
// table is unreachable.
package config

import (
	"os"
	"strconv"
)

// Config holds process configuration.
type Config struct {
	Port        string
	LogLevel    string
	DatabaseURL string

	// Document store
	StorageBackend string // "s3", "gcs" or "file"
	StorageBucket  string
	StorageDir     string

	// External services
	AzureDIEndpoint string
	AzureDIKey      string
	AnthropicModel  string

	// Optional redis for API rate limiting
	RedisAddr     string
	RedisPassword string

	// Prompt/pattern catalogue overrides
	PromptCatalogPath  string
	PatternLibraryPath string
	AssetsDir          string

	// Inbound integration auth
	IntegrationJWTSecret string
	AdminAPIKeyHash      string

	OTLPEndpoint     string
	TelemetryEnabled bool
}

// Load reads configuration from environment variables.
func Load() *Config {
	return &Config{
		Port:                 envOr("PORT", "8080"),
		LogLevel:             envOr("LOG_LEVEL", "INFO"),
		DatabaseURL:          os.Getenv("DATABASE_URL"),
		StorageBackend:       envOr("STORAGE_BACKEND", "file"),
		StorageBucket:        os.Getenv("STORAGE_BUCKET"),
		StorageDir:           envOr("STORAGE_DIR", "./data/documents"),
		AzureDIEndpoint:      os.Getenv("AZURE_DI_ENDPOINT"),
		AzureDIKey:           os.Getenv("AZURE_DI_KEY"),
		AnthropicModel:       envOr("ANTHROPIC_MODEL", "claude-sonnet-4-20250514"),
		RedisAddr:            os.Getenv("REDIS_ADDR"),
		RedisPassword:        os.Getenv("REDIS_PASSWORD"),
		PromptCatalogPath:    os.Getenv("PROMPT_CATALOG_PATH"),
		PatternLibraryPath:   os.Getenv("PATTERN_LIBRARY_PATH"),
		AssetsDir:            envOr("ASSETS_DIR", "./assets"),
		IntegrationJWTSecret: os.Getenv("INTEGRATION_JWT_SECRET"),
		AdminAPIKeyHash:      os.Getenv("ADMIN_API_KEY_HASH"),
		OTLPEndpoint:         envOr("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317"),
		TelemetryEnabled:     os.Getenv("TELEMETRY_ENABLED") == "true",
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// Factory-setting keys consulted at start-up.
const (
	KeyJobRetryLimit           = "JOB_RETRY_LIMIT"
	KeyJobRetryDelaySeconds    = "JOB_RETRY_DELAY_SECONDS"
	KeyJobArchiveFailedDays    = "JOB_ARCHIVE_FAILED_AFTER_DAYS"
	KeyJobDeleteAfterDays      = "JOB_DELETE_AFTER_DAYS"
	KeyWatchdogIntervalMinutes = "CERTIFICATE_WATCHDOG_INTERVAL_MINUTES"
	KeyProcessingTimeoutMins   = "CERTIFICATE_PROCESSING_TIMEOUT_MINUTES"
)

// RuntimeSettings are the tunables sourced from factory_settings.
type RuntimeSettings struct {
	JobRetryLimit            int
	JobRetryDelaySeconds     int
	JobArchiveFailedDays     int
	JobDeleteAfterDays       int
	WatchdogIntervalMinutes  int
	ProcessingTimeoutMinutes int
}

// DefaultRuntimeSettings returns the safe defaults used when the
// factory_settings table is unreachable.
func DefaultRuntimeSettings() RuntimeSettings {
	return RuntimeSettings{
		JobRetryLimit:            3,
		JobRetryDelaySeconds:     30,
		JobArchiveFailedDays:     7,
		JobDeleteAfterDays:       30,
		WatchdogIntervalMinutes:  5,
		ProcessingTimeoutMinutes: 20,
	}
}

// SettingsSource reads raw factory settings, keyed by name.
type SettingsSource interface {
	GetSetting(key string) (string, bool)
}

// ResolveRuntimeSettings overlays stored values on the defaults. Unparseable
// or missing values keep their default.
func ResolveRuntimeSettings(src SettingsSource) RuntimeSettings {
	s := DefaultRuntimeSettings()
	if src == nil {
		return s
	}
	assign := func(key string, dst *int) {
		raw, ok := src.GetSetting(key)
		if !ok {
			return
		}
		if v, err := strconv.Atoi(raw); err == nil && v > 0 {
			*dst = v
		}
	}
	assign(KeyJobRetryLimit, &s.JobRetryLimit)
	assign(KeyJobRetryDelaySeconds, &s.JobRetryDelaySeconds)
	assign(KeyJobArchiveFailedDays, &s.JobArchiveFailedDays)
	assign(KeyJobDeleteAfterDays, &s.JobDeleteAfterDays)
	assign(KeyWatchdogIntervalMinutes, &s.WatchdogIntervalMinutes)
	assign(KeyProcessingTimeoutMins, &s.ProcessingTimeoutMinutes)
	return s
}
