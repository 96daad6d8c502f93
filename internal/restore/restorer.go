// Propfix - Event Log Property Repair and Restore
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/propfix

// Package restore undoes a repair job from its audit entries under a
// conflict policy, writing through the same optimistic-concurrency path as
// repair.
package restore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/tomtom215/propfix/internal/audit"
	"github.com/tomtom215/propfix/internal/canonical"
	"github.com/tomtom215/propfix/internal/checkpoint"
	"github.com/tomtom215/propfix/internal/config"
	"github.com/tomtom215/propfix/internal/logging"
	"github.com/tomtom215/propfix/internal/metrics"
	"github.com/tomtom215/propfix/internal/models"
	"github.com/tomtom215/propfix/internal/propagate"
	"github.com/tomtom215/propfix/internal/repair"
	"github.com/tomtom215/propfix/internal/validation"
)

// DefaultPageSize is used when a request leaves PageSize at zero.
const DefaultPageSize = 500

// Request describes one restore job. JobID names the repair job whose
// backups are restored.
type Request struct {
	JobID  string              `validate:"required,jobid"`
	Policy Policy              `validate:"required,oneof=full_overwrite restore_wins keep_newer"`
	Filter models.BackupFilter `validate:"-"`

	DryRun             bool
	PageSize           int           `validate:"gte=0"`
	BatchSize          int
	MaxRetries         int           `validate:"gte=0,lte=100"`
	CallTimeout        time.Duration `validate:"gte=0"`
	MaxWritesPerSecond float64       `validate:"gte=0"`

	// Fresh ignores a saved checkpoint and starts from the first entry.
	Fresh bool
}

// RequestFromConfig builds a restore request for jobID. The write knobs
// are shared with repair.
func RequestFromConfig(rcfg config.RestoreConfig, wcfg config.RepairConfig, jobID string, filter models.BackupFilter) (Request, error) {
	policy, err := ParsePolicy(rcfg.ConflictResolution)
	if err != nil {
		return Request{}, err
	}
	return Request{
		JobID:              jobID,
		Policy:             policy,
		Filter:             filter,
		DryRun:             wcfg.DryRun,
		PageSize:           rcfg.PageSize,
		BatchSize:          wcfg.BatchSize,
		MaxRetries:         wcfg.MaxRetries,
		CallTimeout:        wcfg.CallTimeout,
		MaxWritesPerSecond: wcfg.MaxWritesPerSecond,
	}, nil
}

// Restorer runs restore jobs.
type Restorer struct {
	audit       audit.Store
	store       canonical.Store
	checkpoints checkpoint.Store
	propagator  propagate.Propagator
	now         repair.Clock
}

// NewRestorer wires a restorer. checkpoints and propagator may be nil.
func NewRestorer(auditStore audit.Store, store canonical.Store, checkpoints checkpoint.Store, propagator propagate.Propagator) *Restorer {
	return &Restorer{audit: auditStore, store: store, checkpoints: checkpoints, propagator: propagator, now: time.Now}
}

// WithClock replaces the clock used for result timestamps.
func (r *Restorer) WithClock(now repair.Clock) *Restorer {
	r.now = now
	return r
}

// entryPlan adapts a backup entry to the reconciler. Every attempt
// recomputes from the fresh row; the policy defines the conflict outcome.
type entryPlan struct {
	entry  *models.BackupEntry
	policy Policy
}

func (p entryPlan) EntityID() string { return p.entry.EntityID }
func (p entryPlan) ScopeID() int64   { return p.entry.ScopeID }

func (p entryPlan) Operations() []models.PendingOperation { return nil }

func (p entryPlan) Compute(fresh *models.EntityState, _ int) (*models.EntityState, bool) {
	return p.policy.Compute(p.entry, fresh)
}

// Run restores the job's backup entries page by page. Each page is split
// into runs of one scope; every run goes through the batch committer and
// advances the checkpoint once committed. A failed scope is recorded and
// the remaining scopes continue, but the checkpoint stops advancing so a
// resumed restore revisits it.
func (r *Restorer) Run(ctx context.Context, req Request) (*models.JobResult, error) {
	if err := validation.Validate(req); err != nil {
		return nil, fmt.Errorf("invalid restore request: %w", err)
	}
	if r.audit == nil {
		return nil, models.NewValidationError("restore requires an audit store")
	}
	pageSize := req.PageSize
	if pageSize == 0 {
		pageSize = DefaultPageSize
	}

	ctx = logging.ContextWithJobID(ctx, req.JobID)
	log := logging.Ctx(ctx)

	start, err := r.loadCheckpoint(ctx, req)
	if err != nil {
		return nil, err
	}
	log.Info().
		Str("policy", req.Policy.String()).
		Bool("dry_run", req.DryRun).
		Bool("resumed", start != nil).
		Msg("Restore job started")

	job := &models.JobResult{
		JobID:     req.JobID,
		Kind:      models.JobRestore,
		DryRun:    req.DryRun,
		StartedAt: r.now().UTC(),
	}
	run := &restoreRun{
		Restorer: r,
		req:      req,
		rec: repair.NewReconciler(repair.ReconcilerConfig{
			JobID:       req.JobID,
			Kind:        models.JobRestore,
			DryRun:      req.DryRun,
			MaxRetries:  req.MaxRetries,
			CallTimeout: req.CallTimeout,
		}, nil, r.now),
		com: repair.NewCommitter[*models.BackupEntry](r.store, r.propagator, repair.CommitterConfig{
			JobID:              req.JobID,
			Kind:               models.JobRestore,
			BatchSize:          req.BatchSize,
			DryRun:             req.DryRun,
			MaxWritesPerSecond: req.MaxWritesPerSecond,
		}),
		scopes: make(map[int64]*scopeRun),
	}

	pager := audit.NewPager(r.audit, req.JobID, req.Filter, pageSize, start)
	var runErr error
	for runErr == nil && pager.Next(ctx) {
		runErr = run.page(ctx, pager.Page())
	}
	if runErr == nil && pager.Err() != nil {
		runErr = models.Transport("fetch backups", pager.Err())
	}

	job.Scopes = run.finish()
	job.FinishedAt = r.now().UTC()
	job.Finalize()

	if runErr == nil && !run.frozen && !req.DryRun {
		r.clearCheckpoint(ctx, req.JobID)
	}

	totals := job.Totals()
	log.Info().
		Str("status", string(job.Status)).
		Int("processed", totals.Processed).
		Int("restored", totals.Updated).
		Int("skipped", totals.Skipped).
		Int("failed", totals.Failed).
		Int("commits", totals.Commits).
		Msg("Restore job finished")

	return job, runErr
}

func (r *Restorer) loadCheckpoint(ctx context.Context, req Request) (*models.Cursor, error) {
	if r.checkpoints == nil || req.DryRun {
		return nil, nil
	}
	if req.Fresh {
		if err := r.checkpoints.Delete(ctx, req.JobID); err != nil {
			return nil, err
		}
		return nil, nil
	}
	return r.checkpoints.Load(ctx, req.JobID)
}

func (r *Restorer) clearCheckpoint(ctx context.Context, jobID string) {
	if r.checkpoints == nil {
		return
	}
	if err := r.checkpoints.Delete(ctx, jobID); err != nil {
		logging.Ctx(ctx).Warn().Err(err).Msg("Failed to clear restore checkpoint")
	}
}

// restoreRun is the state of one Run call.
type restoreRun struct {
	*Restorer
	req Request
	rec *repair.Reconciler
	com *repair.Committer[*models.BackupEntry]

	order  []int64
	scopes map[int64]*scopeRun
	// frozen stops checkpointing after the first scope failure.
	frozen bool
}

type scopeRun struct {
	rc      *repair.RunContext
	elapsed time.Duration
	err     error
}

func (run *restoreRun) scope(id int64) *scopeRun {
	sr, ok := run.scopes[id]
	if !ok {
		sr = &scopeRun{rc: repair.NewRunContext(run.req.JobID, models.JobRestore, id)}
		run.scopes[id] = sr
		run.order = append(run.order, id)
	}
	return sr
}

// page applies one page, one same-scope run at a time. It returns an error
// only for cancellation.
func (run *restoreRun) page(ctx context.Context, entries []*models.BackupEntry) error {
	for lo := 0; lo < len(entries); {
		hi := lo + 1
		for hi < len(entries) && entries[hi].ScopeID == entries[lo].ScopeID {
			hi++
		}
		if err := run.scopeRun(ctx, entries[lo:hi]); err != nil {
			return err
		}
		lo = hi
	}
	return nil
}

func (run *restoreRun) scopeRun(ctx context.Context, entries []*models.BackupEntry) error {
	scopeID := entries[0].ScopeID
	sr := run.scope(scopeID)
	if sr.err != nil {
		return nil
	}
	sctx := logging.ContextWithScopeID(ctx, scopeID)

	pending := make([]*models.BackupEntry, 0, len(entries))
	dryRunEntries := 0
	for _, e := range entries {
		if !sr.rc.FirstVisit(e.EntityID) {
			continue
		}
		if e.DryRun {
			sr.rc.Record(repair.Result{EntityID: e.EntityID, Outcome: models.OutcomeDryRunEntry})
			dryRunEntries++
			continue
		}
		pending = append(pending, e)
	}
	if dryRunEntries > 0 {
		logging.Ctx(sctx).Warn().
			Int("entries", dryRunEntries).
			Msg("Skipping backup entries written by a dry run")
	}

	began := time.Now()
	commits, err := run.com.Run(sctx, pending,
		func(ctx context.Context, tx canonical.Tx, e *models.BackupEntry) repair.Result {
			return run.rec.Apply(ctx, tx, entryPlan{entry: e, policy: run.req.Policy})
		},
		func(_ *models.BackupEntry, res repair.Result) { sr.rc.Record(res) },
	)
	sr.rc.AddCommits(commits)
	sr.elapsed += time.Since(began)

	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return err
		}
		sr.err = err
		run.frozen = true
		logging.Ctx(sctx).Error().Err(err).Msg("Restore scope failed")
		return nil
	}

	if !run.frozen && !run.req.DryRun && run.checkpoints != nil {
		c := models.CursorOf(entries[len(entries)-1])
		if err := run.checkpoints.Save(ctx, run.req.JobID, c); err != nil {
			run.frozen = true
			logging.Ctx(sctx).Warn().Err(err).Msg("Failed to save restore checkpoint")
		}
	}
	return nil
}

func (run *restoreRun) finish() []models.RunResult {
	out := make([]models.RunResult, 0, len(run.order))
	for _, id := range run.order {
		sr := run.scopes[id]
		res, err := sr.rc.Finish(sr.err)
		metrics.RecordScope(models.JobRestore, sr.elapsed, err != nil)
		out = append(out, res)
	}
	return out
}
