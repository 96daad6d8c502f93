// Propfix - Event Log Property Repair and Restore
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/propfix

package eventlog

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	_ "github.com/duckdb/duckdb-go/v2" // registers the "duckdb" driver

	"github.com/tomtom215/propfix/internal/logging"
	"github.com/tomtom215/propfix/internal/models"
)

// Config configures a DuckDB-backed event log.
type Config struct {
	// Path is the database file. Empty or ":memory:" opens an in-memory database.
	Path       string
	MaxMemory  string
	Threads    int
	Table      string
	DeniedKeys []string

	// ReadOnly opens the file with access_mode=read_only.
	ReadOnly bool
}

// DuckDBSource reads candidate diffs from a property_events table with
// arg_max/arg_min aggregation.
type DuckDBSource struct {
	db     *sql.DB
	table  string
	deny   DenyList
	ownsDB bool
}

// OpenDuckDB opens the event log database described by cfg.
func OpenDuckDB(ctx context.Context, cfg Config) (*DuckDBSource, error) {
	db, err := sql.Open("duckdb", connString(cfg))
	if err != nil {
		return nil, fmt.Errorf("open event log: %w", err)
	}
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close() // best-effort cleanup on the error path
		return nil, fmt.Errorf("ping event log: %w", err)
	}
	s := NewDuckDBSource(db, cfg.Table, NewDenyList(cfg.DeniedKeys...))
	s.ownsDB = true
	logging.Info().Str("path", cfg.Path).Str("table", s.table).Int("denied_keys", len(s.deny)).Msg("Event log opened")
	return s, nil
}

func connString(cfg Config) string {
	path := cfg.Path
	if path == ":memory:" {
		path = ""
	}
	params := url.Values{}
	if cfg.ReadOnly && path != "" {
		params.Set("access_mode", "read_only")
	}
	if cfg.Threads > 0 {
		params.Set("threads", strconv.Itoa(cfg.Threads))
	}
	if cfg.MaxMemory != "" {
		params.Set("max_memory", cfg.MaxMemory)
	}
	if len(params) == 0 {
		return path
	}
	return path + "?" + params.Encode()
}

// NewDuckDBSource wraps an open DuckDB handle. table must be a plain identifier.
func NewDuckDBSource(db *sql.DB, table string, deny DenyList) *DuckDBSource {
	if table == "" {
		table = "property_events"
	}
	return &DuckDBSource{db: db, table: table, deny: deny}
}

// CreateTable creates the event table and its scan index if missing.
func (s *DuckDBSource) CreateTable(ctx context.Context) error {
	//nolint:gosec // table name is a validated identifier from configuration
	schema := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %[1]s (
			scope_id BIGINT NOT NULL,
			entity_id VARCHAR NOT NULL,
			op VARCHAR NOT NULL,
			key VARCHAR NOT NULL,
			value VARCHAR,
			ts TIMESTAMP NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_%[1]s_scope_ts ON %[1]s(scope_id, ts);
	`, s.table)

	for _, stmt := range strings.Split(schema, ";") {
		stmt = strings.TrimSpace(stmt)
		if stmt == "" {
			continue
		}
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("create event table: %w", err)
		}
	}
	return nil
}

// Append inserts events in one transaction. Used to load fixtures and by
// tests; production event logs are written by their own producers.
func (s *DuckDBSource) Append(ctx context.Context, events ...Event) (err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin append: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback() // best-effort rollback on the error path
		}
	}()

	//nolint:gosec // table name is a validated identifier from configuration
	stmt, err := tx.PrepareContext(ctx, fmt.Sprintf(
		`INSERT INTO %s (scope_id, entity_id, op, key, value, ts) VALUES (?, ?, ?, ?, ?, ?)`, s.table))
	if err != nil {
		return fmt.Errorf("prepare append: %w", err)
	}
	defer stmt.Close()

	for i := range events {
		ev := &events[i]
		var value sql.NullString
		if ev.Op != models.OpUnset {
			data, mErr := ev.Value.MarshalJSON()
			if mErr != nil {
				return fmt.Errorf("encode value for %s/%s: %w", ev.EntityID, ev.Key, mErr)
			}
			value = sql.NullString{String: string(data), Valid: true}
		}
		if _, err = stmt.ExecContext(ctx, ev.ScopeID, ev.EntityID, string(ev.Op), ev.Key, value, ev.Timestamp.UTC()); err != nil {
			return fmt.Errorf("insert event: %w", err)
		}
	}
	return tx.Commit()
}

// DiffForWindow implements DiffSource.
func (s *DuckDBSource) DiffForWindow(ctx context.Context, scopeID int64, start, end time.Time) ([]*models.CandidateDiff, error) {
	query, args := s.windowQuery(scopeID, start, end)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query event window: %w", err)
	}
	defer rows.Close()

	byEntity := make(map[string]*models.CandidateDiff)
	for rows.Next() {
		var (
			entityID, op, key string
			raw               sql.NullString
			ts                time.Time
		)
		if err := rows.Scan(&entityID, &op, &key, &raw, &ts); err != nil {
			return nil, fmt.Errorf("scan event window: %w", err)
		}
		if s.deny.Contains(key) {
			continue
		}
		ev := Event{ScopeID: scopeID, EntityID: entityID, Op: models.OpKind(op), Key: key, Timestamp: ts.UTC()}
		if ev.Op != models.OpUnset {
			if !raw.Valid {
				continue
			}
			v, err := models.ParseValue([]byte(raw.String))
			if err != nil {
				logging.Ctx(ctx).Warn().Err(err).Str("entity_id", entityID).Str("key", key).Msg("Skipping undecodable event value")
				continue
			}
			if v.IsNull() {
				continue
			}
			ev.Value = v
		}
		c, ok := byEntity[entityID]
		if !ok {
			c = models.NewCandidateDiff(entityID)
			byEntity[entityID] = c
		}
		addEvent(c, &ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate event window: %w", err)
	}

	return sortedDiffs(byEntity), nil
}

// windowQuery builds the aggregation for one window. SET keeps the latest
// value (arg_max), SET_ONCE the earliest (arg_min), UNSET the latest time.
func (s *DuckDBSource) windowQuery(scopeID int64, start, end time.Time) (string, []any) {
	args := []any{scopeID, start.UTC(), end.UTC()}
	var deny string
	if keys := s.deny.Keys(); len(keys) > 0 {
		placeholders := make([]string, len(keys))
		for i, k := range keys {
			placeholders[i] = "?"
			args = append(args, k)
		}
		deny = " AND key NOT IN (" + strings.Join(placeholders, ", ") + ")"
	}

	//nolint:gosec // table name is a validated identifier; values are bound
	query := fmt.Sprintf(`
		SELECT entity_id, op, key,
			CASE op
				WHEN 'set' THEN arg_max(value, ts)
				WHEN 'set_once' THEN arg_min(value, ts)
			END AS value,
			CASE op WHEN 'set_once' THEN min(ts) ELSE max(ts) END AS ts
		FROM %s
		WHERE scope_id = ? AND ts >= ? AND ts < ?
			AND op IN ('set', 'set_once', 'unset')
			AND (op = 'unset' OR (value IS NOT NULL AND value <> 'null'))%s
		GROUP BY entity_id, op, key
		ORDER BY entity_id, key, op`, s.table, deny)
	return query, args
}

// Close closes the database if this source opened it.
func (s *DuckDBSource) Close() error {
	if !s.ownsDB {
		return nil
	}
	return s.db.Close()
}

var _ DiffSource = (*DuckDBSource)(nil)
