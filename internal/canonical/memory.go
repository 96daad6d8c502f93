// Propfix - Event Log Property Repair and Restore
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/propfix

package canonical

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/tomtom215/propfix/internal/models"
)

// ErrTxDone is returned when a finished transaction is used again.
var ErrTxDone = errors.New("transaction already committed or rolled back")

// MemoryStore is an in-memory canonical store. Conditional writes apply
// immediately and are undone on Rollback.
type MemoryStore struct {
	mu       sync.RWMutex
	entities map[string]*models.EntityState

	// beforeUpdate runs ahead of every ConditionalUpdate, outside the lock.
	beforeUpdate func(id string)

	commits   int
	rollbacks int
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entities: make(map[string]*models.EntityState)}
}

// Put stores a copy of state as-is, version included.
func (s *MemoryStore) Put(states ...*models.EntityState) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, st := range states {
		s.entities[st.ID] = st.Clone()
	}
}

// Get returns a copy of the stored row.
func (s *MemoryStore) Get(id string) (*models.EntityState, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st, ok := s.entities[id]
	return st.Clone(), ok
}

// Delete removes a row.
func (s *MemoryStore) Delete(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entities, id)
}

// Mutate applies fn to a row as an unconditional external writer and bumps
// its version. It simulates a concurrent application write.
func (s *MemoryStore) Mutate(id string, fn func(st *models.EntityState)) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.entities[id]
	if !ok {
		return false
	}
	next := st.Clone()
	fn(next)
	next.Version = st.Version + 1
	s.entities[id] = next
	return true
}

// SetBeforeUpdateHook installs fn to run before each conditional write.
func (s *MemoryStore) SetBeforeUpdateHook(fn func(id string)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.beforeUpdate = fn
}

// Commits returns how many transactions were committed.
func (s *MemoryStore) Commits() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.commits
}

// Rollbacks returns how many transactions were rolled back.
func (s *MemoryStore) Rollbacks() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.rollbacks
}

// FetchMany implements Store.
func (s *MemoryStore) FetchMany(ctx context.Context, ids []string) (map[string]*models.EntityState, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]*models.EntityState, len(ids))
	for _, id := range ids {
		if st, ok := s.entities[id]; ok {
			out[id] = st.Clone()
		}
	}
	return out, nil
}

// Begin implements Store.
func (s *MemoryStore) Begin(ctx context.Context) (Tx, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return &memoryTx{store: s, undo: make(map[string]*models.EntityState)}, nil
}

type memoryTx struct {
	store *MemoryStore
	// undo holds the pre-transaction row of every entity this tx wrote.
	undo map[string]*models.EntityState
	done bool
}

func (tx *memoryTx) Fetch(ctx context.Context, id string) (*models.EntityState, error) {
	if tx.done {
		return nil, ErrTxDone
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	st, ok := tx.store.Get(id)
	if !ok {
		return nil, fmt.Errorf("fetch %s: %w", id, models.ErrNotFound)
	}
	return st, nil
}

func (tx *memoryTx) ConditionalUpdate(ctx context.Context, id string, props models.Properties, meta models.Metadata, expectedVersion int64) (int64, error) {
	if tx.done {
		return 0, ErrTxDone
	}
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	tx.store.mu.RLock()
	hook := tx.store.beforeUpdate
	tx.store.mu.RUnlock()
	if hook != nil {
		hook(id)
	}

	s := tx.store
	s.mu.Lock()
	defer s.mu.Unlock()

	cur, ok := s.entities[id]
	if !ok || cur.Version != expectedVersion {
		return 0, nil
	}
	if _, seen := tx.undo[id]; !seen {
		tx.undo[id] = cur
	}
	m := meta.Clone()
	s.entities[id] = &models.EntityState{
		ID:            id,
		ScopeID:       cur.ScopeID,
		Properties:    props.Clone(),
		LastUpdatedAt: m.LastUpdatedAt,
		LastOperation: m.LastOperation,
		Version:       expectedVersion + 1,
	}
	return 1, nil
}

func (tx *memoryTx) Commit(ctx context.Context) error {
	if tx.done {
		return ErrTxDone
	}
	tx.done = true
	tx.store.mu.Lock()
	tx.store.commits++
	tx.store.mu.Unlock()
	return nil
}

func (tx *memoryTx) Rollback(ctx context.Context) error {
	if tx.done {
		return ErrTxDone
	}
	tx.done = true
	s := tx.store
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, prev := range tx.undo {
		s.entities[id] = prev
	}
	s.rollbacks++
	return nil
}

var _ Store = (*MemoryStore)(nil)
