// Propfix - Event Log Property Repair and Restore
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/propfix

package canonical

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/goccy/go-json"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/tomtom215/propfix/internal/logging"
	"github.com/tomtom215/propfix/internal/models"
)

// PostgresConfig configures the pgx pool.
type PostgresConfig struct {
	DSN               string
	Table             string
	MaxConns          int32
	MinConns          int32
	MaxConnLifetime   time.Duration
	MaxConnIdleTime   time.Duration
	HealthCheckPeriod time.Duration
}

// PostgresStore keeps entities in one table with JSONB property columns.
type PostgresStore struct {
	pool  *pgxpool.Pool
	table string
}

// OpenPostgres creates the pool and verifies connectivity.
func OpenPostgres(ctx context.Context, cfg PostgresConfig) (*PostgresStore, error) {
	poolConfig, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database config: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolConfig.MaxConns = cfg.MaxConns
	}
	poolConfig.MinConns = cfg.MinConns
	if cfg.MaxConnLifetime > 0 {
		poolConfig.MaxConnLifetime = cfg.MaxConnLifetime
	}
	if cfg.MaxConnIdleTime > 0 {
		poolConfig.MaxConnIdleTime = cfg.MaxConnIdleTime
	}
	if cfg.HealthCheckPeriod > 0 {
		poolConfig.HealthCheckPeriod = cfg.HealthCheckPeriod
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	logging.Info().
		Str("host", poolConfig.ConnConfig.Host).
		Str("database", poolConfig.ConnConfig.Database).
		Int32("max_conns", poolConfig.MaxConns).
		Msg("Canonical store connected")
	return NewPostgresStore(pool, cfg.Table), nil
}

// NewPostgresStore wraps an existing pool. table must be a plain identifier.
func NewPostgresStore(pool *pgxpool.Pool, table string) *PostgresStore {
	if table == "" {
		table = "entities"
	}
	return &PostgresStore{pool: pool, table: table}
}

// Close closes the pool.
func (s *PostgresStore) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

// CreateTable creates the entity table if missing.
func (s *PostgresStore) CreateTable(ctx context.Context) error {
	//nolint:gosec // table name is a validated identifier from configuration
	_, err := s.pool.Exec(ctx, fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %[1]s (
			id TEXT PRIMARY KEY,
			scope_id BIGINT NOT NULL,
			properties JSONB NOT NULL DEFAULT '{}',
			properties_last_updated_at JSONB NOT NULL DEFAULT '{}',
			properties_last_operation JSONB NOT NULL DEFAULT '{}',
			version BIGINT NOT NULL DEFAULT 0
		);
		CREATE INDEX IF NOT EXISTS idx_%[1]s_scope ON %[1]s(scope_id);
	`, s.table))
	if err != nil {
		return fmt.Errorf("create entity table: %w", err)
	}
	return nil
}

// Upsert writes rows unconditionally, version included. Used for seeding.
func (s *PostgresStore) Upsert(ctx context.Context, states ...*models.EntityState) error {
	batch := &pgx.Batch{}
	for _, st := range states {
		props, updated, ops, err := encodeState(st.Properties, st.Metadata())
		if err != nil {
			return err
		}
		//nolint:gosec // table name is a validated identifier from configuration
		batch.Queue(fmt.Sprintf(`
			INSERT INTO %s (id, scope_id, properties, properties_last_updated_at, properties_last_operation, version)
			VALUES ($1, $2, $3, $4, $5, $6)
			ON CONFLICT (id) DO UPDATE SET
				scope_id = EXCLUDED.scope_id,
				properties = EXCLUDED.properties,
				properties_last_updated_at = EXCLUDED.properties_last_updated_at,
				properties_last_operation = EXCLUDED.properties_last_operation,
				version = EXCLUDED.version`, s.table),
			st.ID, st.ScopeID, props, updated, ops, st.Version)
	}
	if err := s.pool.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("upsert entities: %w", err)
	}
	return nil
}

func (s *PostgresStore) selectColumns() string {
	//nolint:gosec // table name is a validated identifier from configuration
	return fmt.Sprintf(`SELECT id, scope_id, properties, properties_last_updated_at, properties_last_operation, version FROM %s`, s.table)
}

// FetchMany implements Store.
func (s *PostgresStore) FetchMany(ctx context.Context, ids []string) (map[string]*models.EntityState, error) {
	out := make(map[string]*models.EntityState, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	rows, err := s.pool.Query(ctx, s.selectColumns()+` WHERE id = ANY($1)`, ids)
	if err != nil {
		return nil, fmt.Errorf("fetch entities: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		st, err := scanState(rows)
		if err != nil {
			return nil, err
		}
		out[st.ID] = st
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("fetch entities: %w", err)
	}
	return out, nil
}

// Begin implements Store.
func (s *PostgresStore) Begin(ctx context.Context) (Tx, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	return &pgTx{tx: tx, store: s}, nil
}

// pgTx runs every call in its own savepoint so a failed statement does not
// abort the rest of the chunk.
type pgTx struct {
	tx    pgx.Tx
	store *PostgresStore
}

func (t *pgTx) withSavepoint(ctx context.Context, fn func(pgx.Tx) error) error {
	sp, err := t.tx.Begin(ctx)
	if err != nil {
		return fmt.Errorf("savepoint: %w", err)
	}
	if err := fn(sp); err != nil {
		// The caller's ctx may be the expired call timeout.
		if rbErr := sp.Rollback(context.WithoutCancel(ctx)); rbErr != nil {
			return fmt.Errorf("%w (savepoint rollback: %v)", err, rbErr)
		}
		return err
	}
	return sp.Commit(ctx)
}

func (t *pgTx) Fetch(ctx context.Context, id string) (*models.EntityState, error) {
	var st *models.EntityState
	err := t.withSavepoint(ctx, func(sp pgx.Tx) error {
		row := sp.QueryRow(ctx, t.store.selectColumns()+` WHERE id = $1`, id)
		var err error
		st, err = scanState(row)
		return err
	})
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("fetch %s: %w", id, models.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", id, err)
	}
	return st, nil
}

func (t *pgTx) ConditionalUpdate(ctx context.Context, id string, props models.Properties, meta models.Metadata, expectedVersion int64) (int64, error) {
	p, updated, ops, err := encodeState(props, meta)
	if err != nil {
		return 0, err
	}
	var affected int64
	err = t.withSavepoint(ctx, func(sp pgx.Tx) error {
		//nolint:gosec // table name is a validated identifier from configuration
		tag, err := sp.Exec(ctx, fmt.Sprintf(`
			UPDATE %s SET
				properties = $2,
				properties_last_updated_at = $3,
				properties_last_operation = $4,
				version = version + 1
			WHERE id = $1 AND version = $5`, t.store.table),
			id, p, updated, ops, expectedVersion)
		affected = tag.RowsAffected()
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("conditional update %s: %w", id, err)
	}
	return affected, nil
}

func (t *pgTx) Commit(ctx context.Context) error {
	if err := t.tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

func (t *pgTx) Rollback(ctx context.Context) error {
	if err := t.tx.Rollback(ctx); err != nil && !errors.Is(err, pgx.ErrTxClosed) {
		return fmt.Errorf("failed to rollback transaction: %w", err)
	}
	return nil
}

func encodeState(props models.Properties, meta models.Metadata) (p, updated, ops []byte, err error) {
	if props == nil {
		props = models.Properties{}
	}
	if p, err = json.Marshal(props); err != nil {
		return nil, nil, nil, fmt.Errorf("encode properties: %w", err)
	}
	m := meta.Clone()
	if updated, err = json.Marshal(m.LastUpdatedAt); err != nil {
		return nil, nil, nil, fmt.Errorf("encode property timestamps: %w", err)
	}
	if ops, err = json.Marshal(m.LastOperation); err != nil {
		return nil, nil, nil, fmt.Errorf("encode property operations: %w", err)
	}
	return p, updated, ops, nil
}

func scanState(row pgx.Row) (*models.EntityState, error) {
	var (
		st                 models.EntityState
		props, upd, opsRaw []byte
	)
	if err := row.Scan(&st.ID, &st.ScopeID, &props, &upd, &opsRaw, &st.Version); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(props, &st.Properties); err != nil {
		return nil, fmt.Errorf("decode properties of %s: %w", st.ID, err)
	}
	if err := json.Unmarshal(upd, &st.LastUpdatedAt); err != nil {
		return nil, fmt.Errorf("decode property timestamps of %s: %w", st.ID, err)
	}
	if err := json.Unmarshal(opsRaw, &st.LastOperation); err != nil {
		return nil, fmt.Errorf("decode property operations of %s: %w", st.ID, err)
	}
	if st.Properties == nil {
		st.Properties = models.Properties{}
	}
	return &st, nil
}

var _ Store = (*PostgresStore)(nil)
