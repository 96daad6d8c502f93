// Propfix - Event Log Property Repair and Restore
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/propfix

package audit

import (
	"context"

	"github.com/tomtom215/propfix/internal/models"
)

// Pager lazily walks a job's backup entries one page at a time.
// It is not safe for concurrent use.
type Pager struct {
	store  Store
	jobID  string
	filter models.BackupFilter
	limit  int

	cursor *models.Cursor
	page   []*models.BackupEntry
	done   bool
	err    error
}

// NewPager creates a pager starting strictly after start (nil = beginning).
func NewPager(store Store, jobID string, filter models.BackupFilter, limit int, start *models.Cursor) *Pager {
	return &Pager{store: store, jobID: jobID, filter: filter, limit: limit, cursor: start}
}

// Next fetches the following page. It returns false when no entries remain
// or on error; check Err afterwards.
func (p *Pager) Next(ctx context.Context) bool {
	if p.done || p.err != nil {
		return false
	}
	page, err := p.store.FetchBackups(ctx, p.jobID, p.filter, p.cursor, p.limit)
	if err != nil {
		p.err = err
		p.page = nil
		return false
	}
	if page.Next == nil {
		p.done = true
	}
	p.page = page.Entries
	if len(p.page) == 0 {
		return false
	}
	c := models.CursorOf(p.page[len(p.page)-1])
	p.cursor = &c
	return true
}

// Page returns the entries fetched by the last successful Next.
func (p *Pager) Page() []*models.BackupEntry {
	return p.page
}

// Cursor returns the position after the current page. Resuming a new pager
// from it skips every entry seen so far.
func (p *Pager) Cursor() *models.Cursor {
	return p.cursor
}

// Err returns the first fetch error.
func (p *Pager) Err() error {
	return p.err
}
