// Propfix - Event Log Property Repair and Restore
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/propfix

package repair

import (
	"github.com/tomtom215/propfix/internal/models"
)

// RunContext holds the counters and the visited set of one scope run. It is
// owned by a single goroutine and never shared between runs.
type RunContext struct {
	JobID   string
	Kind    models.JobKind
	ScopeID int64

	result models.RunResult
	seen   map[string]struct{}
}

// NewRunContext creates the state for one scope run.
func NewRunContext(jobID string, kind models.JobKind, scopeID int64) *RunContext {
	return &RunContext{
		JobID:   jobID,
		Kind:    kind,
		ScopeID: scopeID,
		result:  models.RunResult{ScopeID: scopeID},
		seen:    make(map[string]struct{}),
	}
}

// FirstVisit marks id as visited and reports whether it was new.
func (rc *RunContext) FirstVisit(id string) bool {
	if _, ok := rc.seen[id]; ok {
		return false
	}
	rc.seen[id] = struct{}{}
	return true
}

// Record counts one apply result.
func (rc *RunContext) Record(r Result) {
	rc.result.Record(r.Outcome)
}

// AddCommits adds committed chunks to the counters.
func (rc *RunContext) AddCommits(n int) {
	rc.result.Commits += n
}

// Result returns a copy of the counters so far.
func (rc *RunContext) Result() models.RunResult {
	return rc.result
}

// Finish sets the scope status. A non-nil err marks the scope failed and is
// returned as a *models.ScopeError carrying the partial counts.
func (rc *RunContext) Finish(err error) (models.RunResult, error) {
	res := rc.result
	if err != nil {
		res.Status = models.StatusFailed
		res.Error = err.Error()
		return res, &models.ScopeError{ScopeID: rc.ScopeID, Partial: res, Err: err}
	}
	res.Status = res.ScopeStatus()
	return res, nil
}
