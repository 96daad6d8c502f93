// Propfix - Event Log Property Repair and Restore
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/propfix

package config

import "testing"

func TestValidate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr bool
	}{
		{"defaults", func(c *Config) {}, false},
		{"memory backends", func(c *Config) {
			c.Database.Backend = "memory"
			c.Database.Host = ""
			c.Audit.Backend = "memory"
			c.Audit.Path = ""
		}, false},
		{"unknown database backend", func(c *Config) { c.Database.Backend = "mysql" }, true},
		{"bad table identifier", func(c *Config) { c.Database.Table = "entities; DROP" }, true},
		{"min conns above max", func(c *Config) { c.Database.MinConns = 20 }, true},
		{"eventlog table", func(c *Config) { c.EventLog.Table = "1events" }, true},
		{"padded denied key", func(c *Config) { c.EventLog.DeniedKeys = []string{"last_seen", " heartbeat"} }, true},
		{"empty denied key", func(c *Config) { c.EventLog.DeniedKeys = []string{""} }, true},
		{"duckdb audit without path", func(c *Config) { c.Audit.Path = "" }, true},
		{"nats without subject", func(c *Config) { c.NATS.Enabled = true; c.NATS.Subject = "" }, true},
		{"wal without path", func(c *Config) { c.WAL.Path = "" }, true},
		{"wal disabled without path", func(c *Config) { c.WAL.Enabled = false; c.WAL.Path = "" }, false},
		{"zero batch size allowed", func(c *Config) { c.Repair.BatchSize = 0 }, false},
		{"negative window allowed", func(c *Config) { c.Repair.WindowSeconds = -1 }, false},
		{"zero fetch batch", func(c *Config) { c.Repair.FetchBatchSize = 0 }, true},
		{"zero parallelism", func(c *Config) { c.Repair.Parallelism = 0 }, true},
		{"negative rate", func(c *Config) { c.Repair.MaxWritesPerSecond = -1 }, true},
		{"unknown policy", func(c *Config) { c.Restore.ConflictResolution = "newest" }, true},
		{"upper-case policy", func(c *Config) { c.Restore.ConflictResolution = "FULL_OVERWRITE" }, false},
		{"scope range inverted", func(c *Config) { c.Scopes.Min = 5; c.Scopes.Max = 2 }, true},
		{"scope ids", func(c *Config) { c.Scopes.IDs = []int64{1, 2}; c.Scopes.Exclude = []int64{2} }, false},
		{"include with ids", func(c *Config) { c.Scopes.IDs = []int64{1}; c.Scopes.Include = []int64{4} }, true},
		{"bad log level", func(c *Config) { c.Logging.Level = "loud" }, true},
		{"bad log format", func(c *Config) { c.Logging.Format = "xml" }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cfg := defaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
