// Propfix - Event Log Property Repair and Restore
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/propfix

package repair

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/tomtom215/propfix/internal/canonical"
	"github.com/tomtom215/propfix/internal/eventlog"
	"github.com/tomtom215/propfix/internal/models"
)

var t0 = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func at(sec int) time.Time { return t0.Add(time.Duration(sec) * time.Second) }

func fixedClock(t time.Time) Clock { return func() time.Time { return t } }

// entity builds a canonical row from key/value pairs, each key stamped at
// at(-1000) with tag "set".
func entity(id string, scope, version int64, kv ...any) *models.EntityState {
	st := models.NewEntityState(id, scope)
	for i := 0; i+1 < len(kv); i += 2 {
		st.Put(kv[i].(string), kv[i+1].(models.Value), at(-1000), models.OpSet)
	}
	st.Version = version
	return st
}

func setEvent(scope int64, id, key string, v models.Value, ts time.Time) eventlog.Event {
	return eventlog.Event{ScopeID: scope, EntityID: id, Op: models.OpSet, Key: key, Value: v, Timestamp: ts}
}

func setOnceEvent(scope int64, id, key string, v models.Value, ts time.Time) eventlog.Event {
	return eventlog.Event{ScopeID: scope, EntityID: id, Op: models.OpSetOnce, Key: key, Value: v, Timestamp: ts}
}

func unsetEvent(scope int64, id, key string, ts time.Time) eventlog.Event {
	return eventlog.Event{ScopeID: scope, EntityID: id, Op: models.OpUnset, Key: key, Timestamp: ts}
}

var errBoom = errors.New("boom")

// countingSource records DiffForWindow calls and can fail for chosen scopes.
type countingSource struct {
	eventlog.DiffSource

	mu        sync.Mutex
	calls     int
	failScope map[int64]bool
}

func (s *countingSource) DiffForWindow(ctx context.Context, scopeID int64, start, end time.Time) ([]*models.CandidateDiff, error) {
	s.mu.Lock()
	s.calls++
	fail := s.failScope[scopeID]
	s.mu.Unlock()
	if fail {
		return nil, errBoom
	}
	return s.DiffSource.DiffForWindow(ctx, scopeID, start, end)
}

// countingStore counts FetchMany calls on top of a memory store.
type countingStore struct {
	*canonical.MemoryStore

	mu         sync.Mutex
	fetchCalls int
}

func (s *countingStore) FetchMany(ctx context.Context, ids []string) (map[string]*models.EntityState, error) {
	s.mu.Lock()
	s.fetchCalls++
	s.mu.Unlock()
	return s.MemoryStore.FetchMany(ctx, ids)
}

// faultyStore wraps a memory store with transactions whose calls can fail.
type faultyStore struct {
	*canonical.MemoryStore
	fetchErr  error
	commitErr error
	beginErr  error
}

func (s *faultyStore) Begin(ctx context.Context) (canonical.Tx, error) {
	if s.beginErr != nil {
		return nil, s.beginErr
	}
	tx, err := s.MemoryStore.Begin(ctx)
	if err != nil {
		return nil, err
	}
	return &faultyTx{Tx: tx, store: s}, nil
}

type faultyTx struct {
	canonical.Tx
	store *faultyStore
}

func (t *faultyTx) Fetch(ctx context.Context, id string) (*models.EntityState, error) {
	if t.store.fetchErr != nil {
		return nil, t.store.fetchErr
	}
	return t.Tx.Fetch(ctx, id)
}

func (t *faultyTx) Commit(ctx context.Context) error {
	if t.store.commitErr != nil {
		_ = t.Tx.Rollback(ctx)
		return t.store.commitErr
	}
	return t.Tx.Commit(ctx)
}

// failingAudit rejects every insert.
type failingAudit struct{}

func (failingAudit) InsertBackup(context.Context, *models.BackupEntry) (bool, error) {
	return false, errBoom
}

func (failingAudit) FetchBackups(context.Context, string, models.BackupFilter, *models.Cursor, int) (models.BackupPage, error) {
	return models.BackupPage{}, errBoom
}

func (failingAudit) Prune(context.Context, time.Time) (int64, error) { return 0, errBoom }
