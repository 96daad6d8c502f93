// Propfix - Event Log Property Repair and Restore
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/propfix

package config

import (
	"fmt"
	"slices"
	"strings"

	"github.com/tomtom215/propfix/internal/logging"
	"github.com/tomtom215/propfix/internal/validation"
)

// Conflict resolution policies accepted by restore.conflict_resolution.
var validConflictResolutions = []string{"full_overwrite", "restore_wins", "keep_newer"}

// Validate checks that the configuration is complete and consistent.
func (c *Config) Validate() error {
	validators := []func() error{
		c.validateDatabase,
		c.validateEventLog,
		c.validateAudit,
		c.validateNATS,
		c.validateWAL,
		c.validateRepair,
		c.validateRestore,
		c.Scopes.Validate,
		c.validateLogging,
	}
	for _, v := range validators {
		if err := v(); err != nil {
			return err
		}
	}
	return nil
}

func (c *Config) validateDatabase() error {
	switch c.Database.Backend {
	case "memory":
		return nil
	case "postgres":
	default:
		return fmt.Errorf("database.backend must be postgres or memory, got %q", c.Database.Backend)
	}
	if c.Database.Host == "" {
		return fmt.Errorf("database.host is required for the postgres backend")
	}
	if c.Database.Port <= 0 || c.Database.Port > 65535 {
		return fmt.Errorf("database.port must be between 1 and 65535, got %d", c.Database.Port)
	}
	if c.Database.Name == "" {
		return fmt.Errorf("database.name is required for the postgres backend")
	}
	if !isIdentifier(c.Database.Table) {
		return fmt.Errorf("database.table must be a plain identifier, got %q", c.Database.Table)
	}
	if c.Database.MaxConns < 1 {
		return fmt.Errorf("database.max_conns must be at least 1, got %d", c.Database.MaxConns)
	}
	if c.Database.MinConns < 0 || c.Database.MinConns > c.Database.MaxConns {
		return fmt.Errorf("database.min_conns must be between 0 and max_conns, got %d", c.Database.MinConns)
	}
	return nil
}

func (c *Config) validateEventLog() error {
	if c.EventLog.Path == "" {
		return fmt.Errorf("eventlog.path is required")
	}
	if !isIdentifier(c.EventLog.Table) {
		return fmt.Errorf("eventlog.table must be a plain identifier, got %q", c.EventLog.Table)
	}
	if c.EventLog.Threads < 0 {
		return fmt.Errorf("eventlog.threads must be non-negative, got %d", c.EventLog.Threads)
	}
	if err := validation.Validate(&c.EventLog); err != nil {
		return fmt.Errorf("eventlog: %w", err)
	}
	return nil
}

func (c *Config) validateAudit() error {
	switch c.Audit.Backend {
	case "memory":
	case "duckdb":
		if c.Audit.Path == "" {
			return fmt.Errorf("audit.path is required for the duckdb backend")
		}
	default:
		return fmt.Errorf("audit.backend must be duckdb or memory, got %q", c.Audit.Backend)
	}
	if c.Audit.Retention < 0 {
		return fmt.Errorf("audit.retention must be non-negative, got %v", c.Audit.Retention)
	}
	return nil
}

func (c *Config) validateNATS() error {
	if !c.NATS.Enabled {
		return nil
	}
	if c.NATS.URL == "" {
		return fmt.Errorf("nats.url is required when nats.enabled=true")
	}
	if c.NATS.Subject == "" {
		return fmt.Errorf("nats.subject is required when nats.enabled=true")
	}
	if c.NATS.BreakerFailureThreshold == 0 {
		return fmt.Errorf("nats.breaker_failure_threshold must be at least 1")
	}
	return nil
}

func (c *Config) validateWAL() error {
	if !c.WAL.Enabled {
		return nil
	}
	if c.WAL.Path == "" {
		return fmt.Errorf("wal.path is required when wal.enabled=true")
	}
	if c.WAL.RetryInterval <= 0 {
		return fmt.Errorf("wal.retry_interval must be positive, got %v", c.WAL.RetryInterval)
	}
	if c.WAL.MaxRetries < 1 {
		return fmt.Errorf("wal.max_retries must be at least 1, got %d", c.WAL.MaxRetries)
	}
	return nil
}

func (c *Config) validateRepair() error {
	r := c.Repair
	if r.FetchBatchSize < 1 {
		return fmt.Errorf("repair.fetch_batch_size must be at least 1, got %d", r.FetchBatchSize)
	}
	if r.MaxRetries < 0 {
		return fmt.Errorf("repair.max_retries must be non-negative, got %d", r.MaxRetries)
	}
	if r.Parallelism < 1 {
		return fmt.Errorf("repair.parallelism must be at least 1, got %d", r.Parallelism)
	}
	if r.CallTimeout < 0 {
		return fmt.Errorf("repair.call_timeout must be non-negative, got %v", r.CallTimeout)
	}
	if r.MaxWritesPerSecond < 0 {
		return fmt.Errorf("repair.max_writes_per_second must be non-negative, got %v", r.MaxWritesPerSecond)
	}
	if r.Lookback <= 0 {
		return fmt.Errorf("repair.lookback must be positive, got %v", r.Lookback)
	}
	return nil
}

func (c *Config) validateRestore() error {
	if !slices.Contains(validConflictResolutions, strings.ToLower(c.Restore.ConflictResolution)) {
		return fmt.Errorf("restore.conflict_resolution must be one of %s, got %q",
			strings.Join(validConflictResolutions, ", "), c.Restore.ConflictResolution)
	}
	if c.Restore.PageSize < 1 {
		return fmt.Errorf("restore.page_size must be at least 1, got %d", c.Restore.PageSize)
	}
	return nil
}

// Validate enforces that exactly one of IDs and the [Min, Max] range is used.
// An empty selection is accepted here; jobs reject it when they start.
func (s ScopeConfig) Validate() error {
	hasRange := s.Max != 0
	if len(s.IDs) > 0 && hasRange {
		return fmt.Errorf("scopes.ids and scopes.min/max are mutually exclusive")
	}
	if hasRange && s.Min > s.Max {
		return fmt.Errorf("scopes.min (%d) must not exceed scopes.max (%d)", s.Min, s.Max)
	}
	if !hasRange && s.Min != 0 {
		return fmt.Errorf("scopes.min requires scopes.max")
	}
	if len(s.IDs) > 0 && len(s.Include) > 0 {
		return fmt.Errorf("scopes.include only applies to a min/max range")
	}
	return nil
}

func (c *Config) validateLogging() error {
	if !logging.ValidLevel(c.Logging.Level) {
		return fmt.Errorf("logging.level %q is not a valid level", c.Logging.Level)
	}
	if c.Logging.Format != "json" && c.Logging.Format != "console" {
		return fmt.Errorf("logging.format must be json or console, got %q", c.Logging.Format)
	}
	return nil
}

func isIdentifier(s string) bool {
	if s == "" {
		return false
	}
	for i, r := range s {
		switch {
		case r == '_', r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z':
		case r >= '0' && r <= '9' && i > 0:
		default:
			return false
		}
	}
	return true
}
