// Propfix - Event Log Property Repair and Restore
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/propfix

package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

// DefaultConfigPaths lists the paths where config files are searched in order of priority.
var DefaultConfigPaths = []string{
	"propfix.yaml",
	"propfix.yml",
	"/etc/propfix/config.yaml",
	"/etc/propfix/config.yml",
}

// ConfigPathEnvVar is the environment variable that can override the config file path.
const ConfigPathEnvVar = "CONFIG_PATH"

// EnvPrefix prefixes every environment variable read by Load.
const EnvPrefix = "PROPFIX_"

func defaultConfig() *Config {
	return &Config{
		Database: DatabaseConfig{
			Backend:           "postgres",
			Host:              "localhost",
			Port:              5432,
			User:              "propfix",
			Name:              "propfix",
			SSLMode:           "disable",
			Table:             "entities",
			MaxConns:          10,
			MinConns:          1,
			MaxConnLifetime:   time.Hour,
			MaxConnIdleTime:   30 * time.Minute,
			HealthCheckPeriod: time.Minute,
			ConnectTimeout:    10 * time.Second,
		},
		EventLog: EventLogConfig{
			Path:       "/data/events.duckdb",
			MaxMemory:  "1GB",
			Threads:    0, // 0 = DuckDB default
			Table:      "property_events",
			DeniedKeys: []string{"last_seen", "last_event_at", "session_count"},
		},
		Audit: AuditConfig{
			Backend:   "duckdb",
			Path:      "/data/audit.duckdb",
			Retention: 30 * 24 * time.Hour,
		},
		NATS: NATSConfig{
			Enabled:                 false,
			URL:                     "nats://127.0.0.1:4222",
			Subject:                 "propfix.entities.repaired",
			MaxReconnects:           -1,
			ReconnectWait:           2 * time.Second,
			BreakerMaxRequests:      1,
			BreakerInterval:         time.Minute,
			BreakerTimeout:          30 * time.Second,
			BreakerFailureThreshold: 5,
		},
		WAL: WALConfig{
			Enabled:       true,
			Path:          "/data/wal",
			SyncWrites:    true,
			RetryInterval: 30 * time.Second,
			RetryBackoff:  5 * time.Second,
			MaxRetries:    100,
			EntryTTL:      7 * 24 * time.Hour,
		},
		Repair: RepairConfig{
			WindowSeconds:      3600,
			Lookback:           24 * time.Hour,
			BatchSize:          100,
			FetchBatchSize:     500,
			DryRun:             false,
			BackupEnabled:      true,
			MaxRetries:         3,
			CallTimeout:        10 * time.Second,
			Parallelism:        4,
			MaxWritesPerSecond: 0, // unlimited
		},
		Restore: RestoreConfig{
			ConflictResolution: "keep_newer",
			PageSize:           500,
		},
		Checkpoint: CheckpointConfig{
			Path: "/data/checkpoints",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// Default returns the built-in defaults, unvalidated.
func Default() *Config {
	return defaultConfig()
}

// Load builds the configuration from defaults, the first config file found
// and PROPFIX_* environment variables, in that order of precedence, then
// validates it.
func Load() (*Config, error) {
	return LoadFile(findConfigFile())
}

// LoadFile is Load with an explicit config file path. An empty path skips
// the file layer.
func LoadFile(configPath string) (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(defaultConfig(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	if configPath != "" {
		if err := k.Load(file.Provider(configPath), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", configPath, err)
		}
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", envTransformFunc), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	if err := processSliceFields(k); err != nil {
		return nil, fmt.Errorf("failed to process slice fields: %w", err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal configuration: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}

func findConfigFile() string {
	if envPath := os.Getenv(ConfigPathEnvVar); envPath != "" {
		if _, err := os.Stat(envPath); err == nil {
			return envPath
		}
	}
	for _, path := range DefaultConfigPaths {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	return ""
}

// sliceConfigPaths accept comma-separated strings from the environment.
var sliceConfigPaths = []string{
	"eventlog.denied_keys",
	"scopes.ids",
	"scopes.include",
	"scopes.exclude",
}

func processSliceFields(k *koanf.Koanf) error {
	for _, path := range sliceConfigPaths {
		strVal, ok := k.Get(path).(string)
		if !ok || strVal == "" {
			continue
		}
		parts := strings.Split(strVal, ",")
		trimmed := make([]string, 0, len(parts))
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				trimmed = append(trimmed, p)
			}
		}
		if err := k.Set(path, trimmed); err != nil {
			return fmt.Errorf("failed to set %s: %w", path, err)
		}
	}
	return nil
}

// envTransformFunc maps PROPFIX_SECTION_FIELD to section.field. Unknown
// sections are dropped so unrelated variables cannot pollute the config.
func envTransformFunc(key string) string {
	key = strings.ToLower(strings.TrimPrefix(key, EnvPrefix))

	sections := []string{
		"database", "eventlog", "audit", "nats", "wal", "repair",
		"restore", "scopes", "checkpoint", "metrics", "logging",
	}
	for _, section := range sections {
		if rest, ok := strings.CutPrefix(key, section+"_"); ok && rest != "" {
			return section + "." + rest
		}
	}
	return ""
}
