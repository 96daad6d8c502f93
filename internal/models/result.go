// Propfix - Event Log Property Repair and Restore
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/propfix

package models

import "time"

// Outcome is the terminal state of one entity apply.
type Outcome string

// Entity outcomes.
const (
	OutcomeUpdated     Outcome = "updated"
	OutcomeWouldUpdate Outcome = "would_update" // dry-run
	OutcomeUnchanged   Outcome = "unchanged"
	OutcomeNotFound    Outcome = "not_found"
	OutcomeConflict    Outcome = "version_conflict"
	OutcomeDryRunEntry Outcome = "dry_run_entry" // restore of a dry-run backup
	OutcomeFailed      Outcome = "failed"
)

// Status summarises a scope or a job.
type Status string

// Run statuses.
const (
	StatusSuccess        Status = "success"
	StatusPartialFailure Status = "partial_failure"
	StatusFailed         Status = "failed"
)

// RunResult holds the counters for one scope. Updated counts restored
// entities for a restore job. Skipped includes NotFound and Conflicts.
type RunResult struct {
	ScopeID   int64  `json:"scope_id"`
	Processed int    `json:"processed"`
	Updated   int    `json:"updated"`
	Skipped   int    `json:"skipped"`
	NotFound  int    `json:"not_found"`
	Conflicts int    `json:"conflicts"`
	Failed    int    `json:"failed"`
	Commits   int    `json:"commits"`
	Status    Status `json:"status"`
	Error     string `json:"error,omitempty"`
}

// Record counts one entity outcome.
func (r *RunResult) Record(o Outcome) {
	r.Processed++
	switch o {
	case OutcomeUpdated, OutcomeWouldUpdate:
		r.Updated++
	case OutcomeUnchanged, OutcomeDryRunEntry:
		r.Skipped++
	case OutcomeNotFound:
		r.Skipped++
		r.NotFound++
	case OutcomeConflict:
		r.Skipped++
		r.Conflicts++
	case OutcomeFailed:
		r.Failed++
	}
}

// Add accumulates o's counters into r.
func (r *RunResult) Add(o RunResult) {
	r.Processed += o.Processed
	r.Updated += o.Updated
	r.Skipped += o.Skipped
	r.NotFound += o.NotFound
	r.Conflicts += o.Conflicts
	r.Failed += o.Failed
	r.Commits += o.Commits
}

// JobKind distinguishes repair and restore jobs.
type JobKind string

// Job kinds.
const (
	JobRepair  JobKind = "repair"
	JobRestore JobKind = "restore"
)

// JobResult aggregates the per-scope results of one job.
type JobResult struct {
	JobID      string      `json:"job_id"`
	Kind       JobKind     `json:"kind"`
	DryRun     bool        `json:"dry_run"`
	Scopes     []RunResult `json:"scopes"`
	Status     Status      `json:"status"`
	StartedAt  time.Time   `json:"started_at"`
	FinishedAt time.Time   `json:"finished_at"`
}

// Totals sums the counters of every scope.
func (j *JobResult) Totals() RunResult {
	var total RunResult
	for _, s := range j.Scopes {
		total.Add(s)
	}
	return total
}

// Finalize derives the job status from the scope statuses: success when
// every scope succeeded, failed when every scope failed, partial failure
// otherwise.
func (j *JobResult) Finalize() {
	failed, degraded := 0, 0
	for _, s := range j.Scopes {
		switch s.Status {
		case StatusFailed:
			failed++
		case StatusPartialFailure:
			degraded++
		}
	}
	switch {
	case failed == 0 && degraded == 0:
		j.Status = StatusSuccess
	case failed == len(j.Scopes):
		j.Status = StatusFailed
	default:
		j.Status = StatusPartialFailure
	}
}

// ScopeStatus derives a scope's status from its counters: partial failure
// when any entity failed outright.
func (r *RunResult) ScopeStatus() Status {
	if r.Failed > 0 {
		return StatusPartialFailure
	}
	return StatusSuccess
}
