// Propfix - Event Log Property Repair and Restore
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/propfix

/*
Package models defines the data shared by every propfix component.

Key types:

  - Value: a dynamically typed property value with structural equality.
    Int and Float compare by numeric value; no other kinds are coerced.
  - EntityState: the canonical row of one entity, with per-key update
    timestamps and operations and a version bumped on every write.
  - CandidateDiff and EntityPropertyDiff: the operations the event log
    recorded for one entity, before and after comparison with the store.
  - BackupEntry, BackupFilter, Cursor: the audit record of one repaired
    entity and the keyset used to page through a job's entries.
  - RunResult and JobResult: per-scope counters and the job summary.

Errors are classified with the sentinels ErrNotFound, ErrVersionConflict,
ErrValidation and ErrTransport; use errors.Is to test for them.
*/
package models
