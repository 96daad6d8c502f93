// Propfix - Event Log Property Repair and Restore
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/propfix

// Package config loads propfix configuration with koanf: struct defaults,
// then an optional YAML file, then PROPFIX_* environment variables.
package config

import (
	"fmt"
	"net"
	"net/url"
	"strconv"
	"time"
)

// Config is the complete propfix configuration.
type Config struct {
	Database   DatabaseConfig   `koanf:"database"`
	EventLog   EventLogConfig   `koanf:"eventlog"`
	Audit      AuditConfig      `koanf:"audit"`
	NATS       NATSConfig       `koanf:"nats"`
	WAL        WALConfig        `koanf:"wal"`
	Repair     RepairConfig     `koanf:"repair"`
	Restore    RestoreConfig    `koanf:"restore"`
	Scopes     ScopeConfig      `koanf:"scopes"`
	Checkpoint CheckpointConfig `koanf:"checkpoint"`
	Metrics    MetricsConfig    `koanf:"metrics"`
	Logging    LoggingConfig    `koanf:"logging"`
}

// DatabaseConfig locates the canonical store.
type DatabaseConfig struct {
	// Backend is "postgres" or "memory". The memory backend is for local
	// experiments and tests only.
	Backend string `koanf:"backend"`

	Host     string `koanf:"host"`
	Port     int    `koanf:"port"`
	User     string `koanf:"user"`
	Password string `koanf:"password"`
	Name     string `koanf:"name"`
	SSLMode  string `koanf:"ssl_mode"`

	// Table holds one row per entity.
	Table string `koanf:"table"`

	MaxConns          int32         `koanf:"max_conns"`
	MinConns          int32         `koanf:"min_conns"`
	MaxConnLifetime   time.Duration `koanf:"max_conn_lifetime"`
	MaxConnIdleTime   time.Duration `koanf:"max_conn_idle_time"`
	HealthCheckPeriod time.Duration `koanf:"health_check_period"`
	ConnectTimeout    time.Duration `koanf:"connect_timeout"`
}

// DSN renders the Postgres connection string.
func (d DatabaseConfig) DSN() string {
	u := url.URL{
		Scheme: "postgres",
		User:   url.UserPassword(d.User, d.Password),
		Host:   net.JoinHostPort(d.Host, strconv.Itoa(d.Port)),
		Path:   "/" + d.Name,
	}
	q := url.Values{}
	if d.SSLMode != "" {
		q.Set("sslmode", d.SSLMode)
	}
	if d.ConnectTimeout > 0 {
		q.Set("connect_timeout", fmt.Sprintf("%d", int(d.ConnectTimeout.Seconds())))
	}
	u.RawQuery = q.Encode()
	return u.String()
}

// EventLogConfig configures the DuckDB event log reader.
type EventLogConfig struct {
	Path      string `koanf:"path"`
	MaxMemory string `koanf:"max_memory"`
	Threads   int    `koanf:"threads"`
	Table     string `koanf:"table"`

	// DeniedKeys are high-churn property keys never repaired.
	DeniedKeys []string `koanf:"denied_keys" validate:"dive,propkey"`
}

// AuditConfig configures the backup store.
type AuditConfig struct {
	// Backend is "duckdb" or "memory".
	Backend   string        `koanf:"backend"`
	Path      string        `koanf:"path"`
	Retention time.Duration `koanf:"retention"`
}

// NATSConfig configures downstream propagation.
type NATSConfig struct {
	Enabled       bool          `koanf:"enabled"`
	URL           string        `koanf:"url"`
	Subject       string        `koanf:"subject"`
	MaxReconnects int           `koanf:"max_reconnects"`
	ReconnectWait time.Duration `koanf:"reconnect_wait"`

	// Circuit breaker around publish.
	BreakerMaxRequests      uint32        `koanf:"breaker_max_requests"`
	BreakerInterval         time.Duration `koanf:"breaker_interval"`
	BreakerTimeout          time.Duration `koanf:"breaker_timeout"`
	BreakerFailureThreshold uint32        `koanf:"breaker_failure_threshold"`
}

// WALConfig configures the durable outbox for failed publishes.
type WALConfig struct {
	Enabled       bool          `koanf:"enabled"`
	Path          string        `koanf:"path"`
	SyncWrites    bool          `koanf:"sync_writes"`
	RetryInterval time.Duration `koanf:"retry_interval"`
	RetryBackoff  time.Duration `koanf:"retry_backoff"`
	MaxRetries    int           `koanf:"max_retries"`
	EntryTTL      time.Duration `koanf:"entry_ttl"`
}

// RepairConfig holds the repair job knobs.
type RepairConfig struct {
	// WindowSeconds is the sub-window size for event log queries. Zero or
	// less runs a single unwindowed query.
	WindowSeconds int64 `koanf:"window_seconds"`

	// Lookback sets the window start when none is given: now - Lookback.
	Lookback time.Duration `koanf:"lookback"`

	BatchSize          int           `koanf:"batch_size"`
	FetchBatchSize     int           `koanf:"fetch_batch_size"`
	DryRun             bool          `koanf:"dry_run"`
	BackupEnabled      bool          `koanf:"backup_enabled"`
	MaxRetries         int           `koanf:"max_retries"`
	CallTimeout        time.Duration `koanf:"call_timeout"`
	Parallelism        int           `koanf:"parallelism"`
	MaxWritesPerSecond float64       `koanf:"max_writes_per_second"`
}

// RestoreConfig holds the restore job knobs.
type RestoreConfig struct {
	// ConflictResolution is full_overwrite, restore_wins or keep_newer.
	ConflictResolution string `koanf:"conflict_resolution"`
	PageSize           int    `koanf:"page_size"`
}

// ScopeConfig selects the scopes a job covers: either IDs, or the
// inclusive range [Min, Max]. The range is in use when Max is non-zero.
// Include adds scopes to a range, Exclude removes scopes from either form.
type ScopeConfig struct {
	IDs     []int64 `koanf:"ids"`
	Min     int64   `koanf:"min"`
	Max     int64   `koanf:"max"`
	Include []int64 `koanf:"include"`
	Exclude []int64 `koanf:"exclude"`
}

// CheckpointConfig locates the restore checkpoint store.
type CheckpointConfig struct {
	Path string `koanf:"path"`
}

// MetricsConfig configures the Prometheus listener. Empty disables it.
type MetricsConfig struct {
	Listen string `koanf:"listen"`
}

// LoggingConfig mirrors logging.Config.
type LoggingConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
	Caller bool   `koanf:"caller"`
}
