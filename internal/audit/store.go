// Propfix - Event Log Property Repair and Restore
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/propfix

package audit

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/tomtom215/propfix/internal/models"
)

// Store persists backup entries.
type Store interface {
	// InsertBackup stores entry unless (JobID, EntityID) already exists.
	InsertBackup(ctx context.Context, entry *models.BackupEntry) (inserted bool, err error)

	// FetchBackups returns up to limit entries of job ordered by
	// (scope_id, entity_id), strictly after the cursor when it is non-nil.
	FetchBackups(ctx context.Context, jobID string, filter models.BackupFilter, after *models.Cursor, limit int) (models.BackupPage, error)

	// Prune deletes entries created before olderThan.
	Prune(ctx context.Context, olderThan time.Time) (int64, error)
}

// ErrInvalidEntry is returned for entries missing their key fields.
var ErrInvalidEntry = errors.New("backup entry requires job_id and entity_id")

type entryKey struct {
	jobID    string
	entityID string
}

// MemoryStore implements Store in memory.
// Suitable for development and testing. Data is lost on restart.
type MemoryStore struct {
	mu      sync.RWMutex
	entries map[entryKey]*models.BackupEntry
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entries: make(map[entryKey]*models.BackupEntry)}
}

// InsertBackup implements Store.
func (s *MemoryStore) InsertBackup(ctx context.Context, entry *models.BackupEntry) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	if entry == nil || entry.JobID == "" || entry.EntityID == "" {
		return false, ErrInvalidEntry
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	k := entryKey{entry.JobID, entry.EntityID}
	if _, exists := s.entries[k]; exists {
		return false, nil
	}
	s.entries[k] = cloneEntry(entry)
	return true, nil
}

// FetchBackups implements Store.
func (s *MemoryStore) FetchBackups(ctx context.Context, jobID string, filter models.BackupFilter, after *models.Cursor, limit int) (models.BackupPage, error) {
	if err := ctx.Err(); err != nil {
		return models.BackupPage{}, err
	}

	s.mu.RLock()
	matched := make([]*models.BackupEntry, 0)
	for k, e := range s.entries {
		if k.jobID != jobID || !filter.Matches(e) {
			continue
		}
		if after != nil && !after.Less(models.CursorOf(e)) {
			continue
		}
		matched = append(matched, e)
	}
	s.mu.RUnlock()

	sort.Slice(matched, func(i, j int) bool {
		return models.CursorOf(matched[i]).Less(models.CursorOf(matched[j]))
	})

	return buildPage(matched, limit, cloneEntry), nil
}

// Prune implements Store.
func (s *MemoryStore) Prune(ctx context.Context, olderThan time.Time) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	var n int64
	for k, e := range s.entries {
		if e.CreatedAt.Before(olderThan) {
			delete(s.entries, k)
			n++
		}
	}
	return n, nil
}

// Len returns the number of stored entries.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

// buildPage trims sorted entries to limit and sets Next when entries
// remain. limit <= 0 returns everything.
func buildPage(sorted []*models.BackupEntry, limit int, copyFn func(*models.BackupEntry) *models.BackupEntry) models.BackupPage {
	var page models.BackupPage
	more := limit > 0 && len(sorted) > limit
	if more {
		sorted = sorted[:limit]
	}
	page.Entries = make([]*models.BackupEntry, 0, len(sorted))
	for _, e := range sorted {
		page.Entries = append(page.Entries, copyFn(e))
	}
	if more {
		c := models.CursorOf(sorted[len(sorted)-1])
		page.Next = &c
	}
	return page
}

func cloneEntry(e *models.BackupEntry) *models.BackupEntry {
	out := *e
	out.Before = e.Before.Clone()
	out.After = e.After.Clone()
	out.PendingOperations = append([]models.PendingOperation(nil), e.PendingOperations...)
	return &out
}

var _ Store = (*MemoryStore)(nil)
