// Propfix - Event Log Property Repair and Restore
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/propfix

package wal

import (
	"fmt"
	"time"

	"github.com/tomtom215/propfix/internal/config"
)

// Config holds WAL settings.
type Config struct {
	// Path is the BadgerDB directory. Ignored when InMemory is set.
	Path string

	// InMemory keeps the database in memory (tests only).
	InMemory bool

	// SyncWrites forces fsync after every write.
	SyncWrites bool

	// RetryInterval is the time between retry loop passes.
	RetryInterval time.Duration

	// RetryBackoff is the base of the per-entry exponential backoff.
	RetryBackoff time.Duration

	// MaxBackoff caps the per-entry backoff.
	MaxBackoff time.Duration

	// MaxRetries is how many failed publishes an entry survives.
	MaxRetries int

	// EntryTTL drops entries older than this regardless of attempts.
	EntryTTL time.Duration

	// PublishTimeout bounds one republish attempt.
	PublishTimeout time.Duration
}

// DefaultConfig returns production defaults.
func DefaultConfig() Config {
	return Config{
		Path:           "/data/wal",
		SyncWrites:     true,
		RetryInterval:  30 * time.Second,
		RetryBackoff:   5 * time.Second,
		MaxBackoff:     5 * time.Minute,
		MaxRetries:     100,
		EntryTTL:       7 * 24 * time.Hour,
		PublishTimeout: 10 * time.Second,
	}
}

// ConfigFrom maps the application's wal section onto a Config, keeping
// defaults for anything left unset.
func ConfigFrom(c config.WALConfig) Config {
	cfg := DefaultConfig()
	cfg.Path = c.Path
	cfg.SyncWrites = c.SyncWrites
	if c.RetryInterval > 0 {
		cfg.RetryInterval = c.RetryInterval
	}
	if c.RetryBackoff > 0 {
		cfg.RetryBackoff = c.RetryBackoff
	}
	if c.MaxRetries > 0 {
		cfg.MaxRetries = c.MaxRetries
	}
	if c.EntryTTL > 0 {
		cfg.EntryTTL = c.EntryTTL
	}
	return cfg
}

// Validate checks the configuration.
func (c *Config) Validate() error {
	if c.Path == "" && !c.InMemory {
		return fmt.Errorf("wal path is required")
	}
	if c.RetryInterval <= 0 {
		return fmt.Errorf("retry interval must be positive, got %v", c.RetryInterval)
	}
	if c.RetryBackoff <= 0 {
		return fmt.Errorf("retry backoff must be positive, got %v", c.RetryBackoff)
	}
	if c.MaxRetries < 1 {
		return fmt.Errorf("max retries must be at least 1, got %d", c.MaxRetries)
	}
	if c.EntryTTL <= 0 {
		return fmt.Errorf("entry TTL must be positive, got %v", c.EntryTTL)
	}
	return nil
}
