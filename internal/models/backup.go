// Propfix - Event Log Property Repair and Restore
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/propfix

package models

import (
	"encoding/base64"
	"fmt"
	"slices"
	"time"

	"github.com/goccy/go-json"
)

// BackupEntry is the audit record of one applied repair, unique per
// (JobID, EntityID). Before is the row the repair was computed against and
// After the row as written (or as it would have been written in dry-run).
// DryRun entries record changes that were never applied.
type BackupEntry struct {
	JobID             string             `json:"job_id"`
	ScopeID           int64              `json:"scope_id"`
	EntityID          string             `json:"entity_id"`
	Before            *EntityState       `json:"before"`
	After             *EntityState       `json:"after"`
	PendingOperations []PendingOperation `json:"pending_operations"`
	DryRun            bool               `json:"dry_run,omitempty"`
	CreatedAt         time.Time          `json:"created_at"`
}

// BackupFilter narrows a backup listing. Empty slices match everything.
type BackupFilter struct {
	EntityIDs []string `json:"entity_ids,omitempty"`
	ScopeIDs  []int64  `json:"scope_ids,omitempty"`
}

// Matches reports whether e passes the filter.
func (f BackupFilter) Matches(e *BackupEntry) bool {
	if len(f.EntityIDs) > 0 && !slices.Contains(f.EntityIDs, e.EntityID) {
		return false
	}
	if len(f.ScopeIDs) > 0 && !slices.Contains(f.ScopeIDs, e.ScopeID) {
		return false
	}
	return true
}

// Cursor is a keyset position in a job's backup entries. A page fetched
// after a cursor holds entries strictly greater than (ScopeID, EntityID).
type Cursor struct {
	ScopeID  int64  `json:"s"`
	EntityID string `json:"e"`
}

// Less orders entries by (scope_id, entity_id).
func (c Cursor) Less(o Cursor) bool {
	if c.ScopeID != o.ScopeID {
		return c.ScopeID < o.ScopeID
	}
	return c.EntityID < o.EntityID
}

// CursorOf returns the keyset position of e.
func CursorOf(e *BackupEntry) Cursor {
	return Cursor{ScopeID: e.ScopeID, EntityID: e.EntityID}
}

// Encode renders the cursor as an opaque URL-safe token.
func (c Cursor) Encode() string {
	data, err := json.Marshal(c)
	if err != nil {
		return ""
	}
	return base64.RawURLEncoding.EncodeToString(data)
}

// DecodeCursor parses a token produced by Cursor.Encode. An empty token
// decodes to nil, meaning "from the start".
func DecodeCursor(token string) (*Cursor, error) {
	if token == "" {
		return nil, nil
	}
	data, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		return nil, NewValidationError("malformed cursor: %v", err)
	}
	var c Cursor
	if err := json.Unmarshal(data, &c); err != nil {
		return nil, NewValidationError("malformed cursor: %v", err)
	}
	return &c, nil
}

// BackupPage is one page of backup entries. Next is nil on the last page.
type BackupPage struct {
	Entries []*BackupEntry
	Next    *Cursor
}

func (p BackupPage) String() string {
	return fmt.Sprintf("page(%d entries, more=%t)", len(p.Entries), p.Next != nil)
}
