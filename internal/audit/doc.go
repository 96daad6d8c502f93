// Propfix - Event Log Property Repair and Restore
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/propfix

// Package audit stores the before/after snapshots written by repair jobs.
//
// Every applied repair records one BackupEntry keyed by (job_id, entity_id).
// Inserts are idempotent: a second insert for the same key is a no-op and
// reports inserted=false, so a re-run job never overwrites the snapshot taken
// the first time it touched an entity. Restore jobs read entries back in
// (scope_id, entity_id) order through keyset pagination.
//
// # Backends
//
//   - DuckDBStore: durable table in a DuckDB file (production)
//   - MemoryStore: process-local map (tests, dry runs without a file)
//
// # Pagination
//
// FetchBackups returns at most limit entries strictly after the given cursor.
// Pager wraps it in a lazy iterator whose position can be saved with
// Cursor.Encode and resumed later:
//
//	p := audit.NewPager(store, jobID, filter, 500, nil)
//	for p.Next(ctx) {
//	    for _, e := range p.Page() {
//	        ...
//	    }
//	    checkpoint(p.Cursor())
//	}
//	if err := p.Err(); err != nil {
//	    ...
//	}
//
// # Retention
//
// Retention runs Prune on an interval and is started under the supervisor
// when audit.retention is configured.
package audit
