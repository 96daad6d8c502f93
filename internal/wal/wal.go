// Propfix - Event Log Property Repair and Restore
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/propfix

package wal

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/goccy/go-json"
	"github.com/google/uuid"

	"github.com/tomtom215/propfix/internal/logging"
	"github.com/tomtom215/propfix/internal/metrics"
)

// WAL errors.
var (
	ErrWALClosed     = errors.New("WAL is closed")
	ErrNilPayload    = errors.New("payload cannot be nil")
	ErrEmptyEntryID  = errors.New("entry ID cannot be empty")
	ErrEntryNotFound = errors.New("entry not found")
)

const prefixPending = "pending:"

// Entry is one pending publish.
type Entry struct {
	ID string `json:"id"`

	// Payload is the serialized message (JSON).
	Payload json.RawMessage `json:"payload"`

	CreatedAt     time.Time `json:"created_at"`
	Attempts      int       `json:"attempts"`
	LastAttemptAt time.Time `json:"last_attempt_at,omitempty"`
	LastError     string    `json:"last_error,omitempty"`
}

// UnmarshalPayload deserializes the payload into v.
func (e *Entry) UnmarshalPayload(v any) error {
	return json.Unmarshal(e.Payload, v)
}

// BadgerWAL stores pending publishes in BadgerDB.
type BadgerWAL struct {
	db     *badger.DB
	config Config
	now    func() time.Time

	mu     sync.RWMutex
	closed bool
}

// Open opens (or creates) the WAL described by cfg.
func Open(cfg Config) (*BadgerWAL, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid WAL config: %w", err)
	}

	opts := badger.DefaultOptions(cfg.Path)
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	}
	opts.SyncWrites = cfg.SyncWrites && !cfg.InMemory
	opts.Logger = nil

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open BadgerDB: %w", err)
	}

	w := &BadgerWAL{db: db, config: cfg, now: time.Now}
	w.refreshPending()

	logging.Info().
		Str("path", cfg.Path).
		Bool("in_memory", cfg.InMemory).
		Bool("sync_writes", opts.SyncWrites).
		Msg("WAL opened")
	return w, nil
}

// Config returns the configuration the WAL was opened with.
func (w *BadgerWAL) Config() Config {
	return w.config
}

// DB exposes the underlying database so other components can share it.
// Close the WAL, not the DB.
func (w *BadgerWAL) DB() *badger.DB {
	return w.db
}

func (w *BadgerWAL) checkOpen() error {
	w.mu.RLock()
	defer w.mu.RUnlock()
	if w.closed {
		return ErrWALClosed
	}
	return nil
}

// Write persists payload as a new pending entry and returns its id.
func (w *BadgerWAL) Write(ctx context.Context, payload any) (string, error) {
	if err := w.checkOpen(); err != nil {
		return "", err
	}
	if payload == nil {
		return "", ErrNilPayload
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}

	raw, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal payload: %w", err)
	}
	entry := &Entry{
		ID:        uuid.NewString(),
		Payload:   raw,
		CreatedAt: w.now().UTC(),
	}
	data, err := json.Marshal(entry)
	if err != nil {
		return "", fmt.Errorf("marshal entry: %w", err)
	}

	err = w.db.Update(func(txn *badger.Txn) error {
		e := badger.NewEntry([]byte(prefixPending+entry.ID), data)
		if w.config.EntryTTL > 0 {
			e = e.WithTTL(w.config.EntryTTL)
		}
		return txn.SetEntry(e)
	})
	if err != nil {
		return "", fmt.Errorf("write to BadgerDB: %w", err)
	}
	metrics.WALPending.Inc()
	return entry.ID, nil
}

// Confirm removes an entry after a successful publish.
func (w *BadgerWAL) Confirm(ctx context.Context, entryID string) error {
	return w.Delete(ctx, entryID)
}

// Delete removes an entry without publishing it.
func (w *BadgerWAL) Delete(_ context.Context, entryID string) error {
	if err := w.checkOpen(); err != nil {
		return err
	}
	if entryID == "" {
		return ErrEmptyEntryID
	}
	key := []byte(prefixPending + entryID)
	err := w.db.Update(func(txn *badger.Txn) error {
		if _, err := txn.Get(key); errors.Is(err, badger.ErrKeyNotFound) {
			return ErrEntryNotFound
		} else if err != nil {
			return fmt.Errorf("get entry: %w", err)
		}
		return txn.Delete(key)
	})
	if err != nil {
		return err
	}
	metrics.WALPending.Dec()
	return nil
}

// Pending returns every unconfirmed entry, oldest first. The entries come
// from one consistent snapshot.
func (w *BadgerWAL) Pending(ctx context.Context) ([]*Entry, error) {
	if err := w.checkOpen(); err != nil {
		return nil, err
	}

	var entries []*Entry
	err := w.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		prefix := []byte(prefixPending)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			item := it.Item()
			var entry Entry
			if err := item.Value(func(val []byte) error {
				return json.Unmarshal(val, &entry)
			}); err != nil {
				logging.Warn().Err(err).Str("key", string(item.Key())).Msg("WAL failed to unmarshal entry")
				continue
			}
			entries = append(entries, &entry)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("iterate pending entries: %w", err)
	}

	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].CreatedAt.Before(entries[j].CreatedAt)
	})
	return entries, nil
}

// UpdateAttempt records a failed publish attempt.
func (w *BadgerWAL) UpdateAttempt(_ context.Context, entryID, lastError string) error {
	if err := w.checkOpen(); err != nil {
		return err
	}
	key := []byte(prefixPending + entryID)
	return w.db.Update(func(txn *badger.Txn) error {
		item, err := txn.Get(key)
		if errors.Is(err, badger.ErrKeyNotFound) {
			return ErrEntryNotFound
		}
		if err != nil {
			return fmt.Errorf("get entry: %w", err)
		}

		var entry Entry
		if err := item.Value(func(val []byte) error {
			return json.Unmarshal(val, &entry)
		}); err != nil {
			return fmt.Errorf("unmarshal entry: %w", err)
		}
		entry.Attempts++
		entry.LastAttemptAt = w.now().UTC()
		entry.LastError = lastError

		data, err := json.Marshal(&entry)
		if err != nil {
			return fmt.Errorf("marshal entry: %w", err)
		}
		e := badger.NewEntry(key, data)
		if exp := item.ExpiresAt(); exp > 0 {
			e = e.WithTTL(time.Until(time.Unix(int64(exp), 0)))
		}
		return txn.SetEntry(e)
	})
}

// Count returns the number of pending entries and refreshes the backlog
// gauge.
func (w *BadgerWAL) Count() (int, error) {
	if err := w.checkOpen(); err != nil {
		return 0, err
	}
	n := 0
	err := w.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()
		prefix := []byte(prefixPending)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			n++
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("count pending entries: %w", err)
	}
	metrics.WALPending.Set(float64(n))
	return n, nil
}

func (w *BadgerWAL) refreshPending() {
	if _, err := w.Count(); err != nil {
		logging.Warn().Err(err).Msg("WAL failed to count pending entries")
	}
}

// Close closes the database. Further calls return ErrWALClosed.
func (w *BadgerWAL) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return nil
	}
	w.closed = true
	if err := w.db.Close(); err != nil {
		return fmt.Errorf("close BadgerDB: %w", err)
	}
	logging.Info().Msg("WAL closed")
	return nil
}
