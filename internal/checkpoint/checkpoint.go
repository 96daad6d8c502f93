// Propfix - Event Log Property Repair and Restore
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/propfix

// Package checkpoint persists restore progress so an interrupted restore
// resumes after the last committed page instead of starting over.
package checkpoint

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/dgraph-io/badger/v4"
	"github.com/goccy/go-json"

	"github.com/tomtom215/propfix/internal/logging"
	"github.com/tomtom215/propfix/internal/models"
)

const keyPrefix = "restore:checkpoint:"

// Store saves one cursor per restore job.
type Store interface {
	// Load returns the saved cursor, or nil when the job has none.
	Load(ctx context.Context, jobID string) (*models.Cursor, error)
	Save(ctx context.Context, jobID string, c models.Cursor) error
	// Delete removes the job's cursor. Deleting a missing cursor is not an
	// error.
	Delete(ctx context.Context, jobID string) error
}

// BadgerStore keeps checkpoints in BadgerDB.
type BadgerStore struct {
	db    *badger.DB
	owned bool
}

// NewBadgerStore uses an already open database, which the caller closes.
func NewBadgerStore(db *badger.DB) *BadgerStore {
	return &BadgerStore{db: db}
}

// OpenBadger opens (or creates) a dedicated checkpoint database at path.
func OpenBadger(path string) (*BadgerStore, error) {
	opts := badger.DefaultOptions(path)
	opts.SyncWrites = true
	opts.Logger = nil

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open checkpoint store: %w", err)
	}
	logging.Info().Str("path", path).Msg("Checkpoint store opened")
	return &BadgerStore{db: db, owned: true}, nil
}

// Close closes the database if this store opened it.
func (s *BadgerStore) Close() error {
	if !s.owned {
		return nil
	}
	return s.db.Close()
}

func checkpointKey(jobID string) []byte {
	return []byte(keyPrefix + jobID)
}

// Load implements Store.
func (s *BadgerStore) Load(ctx context.Context, jobID string) (*models.Cursor, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var c *models.Cursor
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(checkpointKey(jobID))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			c = new(models.Cursor)
			return json.Unmarshal(val, c)
		})
	})
	if err != nil {
		return nil, fmt.Errorf("load checkpoint %s: %w", jobID, err)
	}
	return c, nil
}

// Save implements Store.
func (s *BadgerStore) Save(ctx context.Context, jobID string, c models.Cursor) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal checkpoint: %w", err)
	}
	err = s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(checkpointKey(jobID), data)
	})
	if err != nil {
		return fmt.Errorf("save checkpoint %s: %w", jobID, err)
	}
	return nil
}

// Delete implements Store.
func (s *BadgerStore) Delete(ctx context.Context, jobID string) error {
	err := s.db.Update(func(txn *badger.Txn) error {
		err := txn.Delete(checkpointKey(jobID))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		return err
	})
	if err != nil {
		return fmt.Errorf("delete checkpoint %s: %w", jobID, err)
	}
	return nil
}

// MemoryStore keeps checkpoints in memory.
type MemoryStore struct {
	mu      sync.Mutex
	cursors map[string]models.Cursor
	saves   int
}

// NewMemoryStore creates an empty in-memory checkpoint store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{cursors: make(map[string]models.Cursor)}
}

// Load implements Store.
func (s *MemoryStore) Load(_ context.Context, jobID string) (*models.Cursor, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.cursors[jobID]
	if !ok {
		return nil, nil
	}
	return &c, nil
}

// Save implements Store.
func (s *MemoryStore) Save(_ context.Context, jobID string, c models.Cursor) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cursors[jobID] = c
	s.saves++
	return nil
}

// Delete implements Store.
func (s *MemoryStore) Delete(_ context.Context, jobID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.cursors, jobID)
	return nil
}

// Saves returns how many times Save was called.
func (s *MemoryStore) Saves() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saves
}

var (
	_ Store = (*BadgerStore)(nil)
	_ Store = (*MemoryStore)(nil)
)
