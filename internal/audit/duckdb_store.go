// Propfix - Event Log Property Repair and Restore
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/propfix

package audit

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "github.com/duckdb/duckdb-go/v2" // registers the "duckdb" driver
	"github.com/goccy/go-json"

	"github.com/tomtom215/propfix/internal/logging"
	"github.com/tomtom215/propfix/internal/models"
)

// DuckDBStore implements Store on a backup_entries table.
type DuckDBStore struct {
	db     *sql.DB
	mu     sync.Mutex
	ownsDB bool
}

// OpenDuckDB opens (or creates) the audit database at path and ensures the
// table exists. An empty path opens an in-memory database.
func OpenDuckDB(ctx context.Context, path string) (*DuckDBStore, error) {
	dsn := path
	if dsn == ":memory:" {
		dsn = ""
	}
	db, err := sql.Open("duckdb", dsn)
	if err != nil {
		return nil, fmt.Errorf("open audit database: %w", err)
	}
	s := NewDuckDBStore(db)
	s.ownsDB = true
	if err := s.CreateTable(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// NewDuckDBStore wraps an open DuckDB handle.
// The caller is responsible for ensuring the backup_entries table exists.
func NewDuckDBStore(db *sql.DB) *DuckDBStore {
	return &DuckDBStore{db: db}
}

// Close closes the database if this store opened it.
func (s *DuckDBStore) Close() error {
	if s.ownsDB {
		return s.db.Close()
	}
	return nil
}

// CreateTable creates the backup_entries table if it doesn't exist.
func (s *DuckDBStore) CreateTable(ctx context.Context) error {
	query := `
		CREATE TABLE IF NOT EXISTS backup_entries (
			job_id VARCHAR NOT NULL,
			scope_id BIGINT NOT NULL,
			entity_id VARCHAR NOT NULL,
			before_state VARCHAR,
			after_state VARCHAR,
			pending_operations VARCHAR NOT NULL,
			dry_run BOOLEAN NOT NULL DEFAULT false,
			created_at TIMESTAMPTZ NOT NULL,
			PRIMARY KEY (job_id, entity_id)
		);
		ALTER TABLE backup_entries ADD COLUMN IF NOT EXISTS dry_run BOOLEAN DEFAULT false;
		CREATE INDEX IF NOT EXISTS idx_backup_job_order ON backup_entries(job_id, scope_id, entity_id);
		CREATE INDEX IF NOT EXISTS idx_backup_created_at ON backup_entries(created_at);
	`

	for _, stmt := range strings.Split(query, ";") {
		stmt = strings.TrimSpace(stmt)
		if stmt == "" {
			continue
		}
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to execute schema statement: %w", err)
		}
	}

	logging.Info().Msg("Backup entries table created/verified")
	return nil
}

// InsertBackup implements Store.
func (s *DuckDBStore) InsertBackup(ctx context.Context, entry *models.BackupEntry) (bool, error) {
	if entry == nil || entry.JobID == "" || entry.EntityID == "" {
		return false, ErrInvalidEntry
	}
	before, err := marshalState(entry.Before)
	if err != nil {
		return false, err
	}
	after, err := marshalState(entry.After)
	if err != nil {
		return false, err
	}
	ops, err := json.Marshal(entry.PendingOperations)
	if err != nil {
		return false, fmt.Errorf("encode pending operations: %w", err)
	}
	created := entry.CreatedAt
	if created.IsZero() {
		created = time.Now()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO backup_entries
			(job_id, scope_id, entity_id, before_state, after_state, pending_operations, dry_run, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (job_id, entity_id) DO NOTHING`,
		entry.JobID, entry.ScopeID, entry.EntityID, before, after, string(ops), entry.DryRun, created.UTC())
	if err != nil {
		return false, fmt.Errorf("failed to insert backup entry: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get inserted count: %w", err)
	}
	return n > 0, nil
}

// FetchBackups implements Store.
func (s *DuckDBStore) FetchBackups(ctx context.Context, jobID string, filter models.BackupFilter, after *models.Cursor, limit int) (models.BackupPage, error) {
	query, args := buildFetchQuery(jobID, filter, after, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return models.BackupPage{}, fmt.Errorf("failed to query backup entries: %w", err)
	}
	defer rows.Close()

	entries := make([]*models.BackupEntry, 0)
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return models.BackupPage{}, err
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return models.BackupPage{}, fmt.Errorf("error iterating backup entries: %w", err)
	}
	return buildPage(entries, limit, func(e *models.BackupEntry) *models.BackupEntry { return e }), nil
}

// buildFetchQuery fetches limit+1 rows so the page knows whether more remain.
func buildFetchQuery(jobID string, filter models.BackupFilter, after *models.Cursor, limit int) (string, []interface{}) {
	conditions := []string{"job_id = ?"}
	args := []interface{}{jobID}

	if after != nil {
		conditions = append(conditions, "(scope_id > ? OR (scope_id = ? AND entity_id > ?))")
		args = append(args, after.ScopeID, after.ScopeID, after.EntityID)
	}
	if cond := buildInCondition("entity_id", filter.EntityIDs, &args); cond != "" {
		conditions = append(conditions, cond)
	}
	if cond := buildInCondition("scope_id", filter.ScopeIDs, &args); cond != "" {
		conditions = append(conditions, cond)
	}

	query := `SELECT job_id, scope_id, entity_id, before_state, after_state, pending_operations,
			COALESCE(dry_run, false), created_at
		FROM backup_entries WHERE ` + strings.Join(conditions, " AND ") +
		` ORDER BY scope_id, entity_id`
	if limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", limit+1)
	}
	return query, args
}

// buildInCondition creates a SQL IN condition for a slice of values.
func buildInCondition[T any](column string, values []T, args *[]interface{}) string {
	if len(values) == 0 {
		return ""
	}
	placeholders := make([]string, len(values))
	for i, v := range values {
		placeholders[i] = "?"
		*args = append(*args, v)
	}
	return fmt.Sprintf("%s IN (%s)", column, strings.Join(placeholders, ","))
}

// Prune implements Store.
func (s *DuckDBStore) Prune(ctx context.Context, olderThan time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	result, err := s.db.ExecContext(ctx, `DELETE FROM backup_entries WHERE created_at < ?`, olderThan.UTC())
	if err != nil {
		return 0, fmt.Errorf("failed to delete old backup entries: %w", err)
	}
	count, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get deleted count: %w", err)
	}
	if count > 0 {
		logging.Info().Int64("deleted", count).Time("older_than", olderThan).Msg("Deleted old backup entries")
	}
	return count, nil
}

// Count returns the number of entries recorded for a job.
func (s *DuckDBStore) Count(ctx context.Context, jobID string) (int64, error) {
	var n int64
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM backup_entries WHERE job_id = ?`, jobID).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count backup entries: %w", err)
	}
	return n, nil
}

func marshalState(st *models.EntityState) (*string, error) {
	if st == nil {
		return nil, nil
	}
	data, err := json.Marshal(st)
	if err != nil {
		return nil, fmt.Errorf("encode entity snapshot: %w", err)
	}
	s := string(data)
	return &s, nil
}

func unmarshalState(raw sql.NullString) (*models.EntityState, error) {
	if !raw.Valid || raw.String == "" {
		return nil, nil
	}
	var st models.EntityState
	if err := json.Unmarshal([]byte(raw.String), &st); err != nil {
		return nil, fmt.Errorf("decode entity snapshot: %w", err)
	}
	return &st, nil
}

func scanEntry(rows *sql.Rows) (*models.BackupEntry, error) {
	var (
		e             models.BackupEntry
		before, after sql.NullString
		ops           string
	)
	if err := rows.Scan(&e.JobID, &e.ScopeID, &e.EntityID, &before, &after, &ops, &e.DryRun, &e.CreatedAt); err != nil {
		return nil, fmt.Errorf("failed to scan backup entry: %w", err)
	}
	var err error
	if e.Before, err = unmarshalState(before); err != nil {
		return nil, err
	}
	if e.After, err = unmarshalState(after); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(ops), &e.PendingOperations); err != nil {
		return nil, fmt.Errorf("decode pending operations: %w", err)
	}
	return &e, nil
}

var _ Store = (*DuckDBStore)(nil)
