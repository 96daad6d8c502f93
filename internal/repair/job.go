// Propfix - Event Log Property Repair and Restore
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/propfix

package repair

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/tomtom215/propfix/internal/audit"
	"github.com/tomtom215/propfix/internal/canonical"
	"github.com/tomtom215/propfix/internal/config"
	"github.com/tomtom215/propfix/internal/eventlog"
	"github.com/tomtom215/propfix/internal/logging"
	"github.com/tomtom215/propfix/internal/metrics"
	"github.com/tomtom215/propfix/internal/models"
	"github.com/tomtom215/propfix/internal/propagate"
	"github.com/tomtom215/propfix/internal/validation"
)

// Request describes one repair job.
type Request struct {
	JobID  string    `validate:"required,jobid"`
	Scopes []int64   `validate:"required,min=1,unique"`
	Start  time.Time `validate:"required"`

	WindowSeconds      int64
	BatchSize          int
	FetchBatchSize     int           `validate:"gte=0"`
	DryRun             bool
	BackupEnabled      bool
	MaxRetries         int           `validate:"gte=0,lte=100"`
	CallTimeout        time.Duration `validate:"gte=0"`
	Parallelism        int           `validate:"gte=0"`
	MaxWritesPerSecond float64       `validate:"gte=0"`
}

// RequestFromConfig builds a request for scopes starting at start. An empty
// jobID gets a fresh UUID.
func RequestFromConfig(cfg config.RepairConfig, jobID string, scopes []int64, start time.Time) Request {
	if jobID == "" {
		jobID = NewJobID()
	}
	return Request{
		JobID:              jobID,
		Scopes:             scopes,
		Start:              start,
		WindowSeconds:      cfg.WindowSeconds,
		BatchSize:          cfg.BatchSize,
		FetchBatchSize:     cfg.FetchBatchSize,
		DryRun:             cfg.DryRun,
		BackupEnabled:      cfg.BackupEnabled,
		MaxRetries:         cfg.MaxRetries,
		CallTimeout:        cfg.CallTimeout,
		Parallelism:        cfg.Parallelism,
		MaxWritesPerSecond: cfg.MaxWritesPerSecond,
	}
}

// NewJobID returns a random job id.
func NewJobID() string {
	return uuid.NewString()
}

// Repairer runs repair jobs.
type Repairer struct {
	source     eventlog.DiffSource
	store      canonical.Store
	audit      audit.Store
	propagator propagate.Propagator
	now        Clock
}

// NewRepairer wires a repairer. auditStore and propagator may be nil.
func NewRepairer(source eventlog.DiffSource, store canonical.Store, auditStore audit.Store, propagator propagate.Propagator) *Repairer {
	return &Repairer{source: source, store: store, audit: auditStore, propagator: propagator, now: time.Now}
}

// WithClock replaces the clock used for the window upper bound and backup
// timestamps.
func (r *Repairer) WithClock(now Clock) *Repairer {
	r.now = now
	return r
}

// Run validates req and repairs its scopes, in parallel up to
// req.Parallelism. A scope that fails is recorded in the result and does
// not stop the others. The returned error is non-nil only for an invalid
// request or when ctx was canceled.
func (r *Repairer) Run(ctx context.Context, req Request) (*models.JobResult, error) {
	if err := validation.Validate(req); err != nil {
		return nil, fmt.Errorf("invalid repair request: %w", err)
	}
	if req.BackupEnabled && r.audit == nil {
		return nil, models.NewValidationError("backups enabled without an audit store")
	}

	ctx = logging.ContextWithJobID(ctx, req.JobID)
	job := &models.JobResult{
		JobID:     req.JobID,
		Kind:      models.JobRepair,
		DryRun:    req.DryRun,
		Scopes:    make([]models.RunResult, len(req.Scopes)),
		StartedAt: r.now().UTC(),
	}
	logging.Ctx(ctx).Info().
		Int("scopes", len(req.Scopes)).
		Time("start", req.Start).
		Bool("dry_run", req.DryRun).
		Bool("backup_enabled", req.BackupEnabled).
		Msg("Repair job started")

	var g errgroup.Group
	g.SetLimit(max(1, req.Parallelism))
	for i, scopeID := range req.Scopes {
		g.Go(func() error {
			job.Scopes[i] = r.runScope(ctx, req, scopeID)
			return nil
		})
	}
	_ = g.Wait() // scope goroutines never return errors

	job.FinishedAt = r.now().UTC()
	job.Finalize()
	totals := job.Totals()
	logging.Ctx(ctx).Info().
		Str("status", string(job.Status)).
		Int("processed", totals.Processed).
		Int("updated", totals.Updated).
		Int("skipped", totals.Skipped).
		Int("failed", totals.Failed).
		Int("commits", totals.Commits).
		Dur("elapsed", job.FinishedAt.Sub(job.StartedAt)).
		Msg("Repair job finished")

	return job, ctx.Err()
}

func (r *Repairer) runScope(ctx context.Context, req Request, scopeID int64) models.RunResult {
	ctx = logging.ContextWithScopeID(ctx, scopeID)
	began := time.Now()

	rc := NewRunContext(req.JobID, models.JobRepair, scopeID)
	res, err := rc.Finish(r.repairScope(ctx, req, rc))
	metrics.RecordScope(models.JobRepair, time.Since(began), err != nil)

	var scopeErr *models.ScopeError
	if errors.As(err, &scopeErr) {
		logging.Ctx(ctx).Error().Err(scopeErr.Err).
			Int("processed", scopeErr.Partial.Processed).
			Int("updated", scopeErr.Partial.Updated).
			Msg("Scope failed")
	} else {
		logging.Ctx(ctx).Info().
			Int("processed", res.Processed).
			Int("updated", res.Updated).
			Int("skipped", res.Skipped).
			Int("commits", res.Commits).
			Msg("Scope finished")
	}
	return res
}

func (r *Repairer) repairScope(ctx context.Context, req Request, rc *RunContext) error {
	candidates, err := NewAccumulator(r.source, req.WindowSeconds, r.now).Accumulate(ctx, rc.ScopeID, req.Start)
	if err != nil {
		return fmt.Errorf("accumulate: %w", err)
	}
	diffs, err := NewComparator(r.store, req.FetchBatchSize, req.CallTimeout).Compare(ctx, candidates)
	if err != nil {
		return fmt.Errorf("compare: %w", err)
	}

	pending := diffs[:0]
	for _, d := range diffs {
		if rc.FirstVisit(d.EntityID) {
			pending = append(pending, d)
		}
	}

	rec := NewReconciler(ReconcilerConfig{
		JobID:         req.JobID,
		Kind:          models.JobRepair,
		DryRun:        req.DryRun,
		BackupEnabled: req.BackupEnabled,
		MaxRetries:    req.MaxRetries,
		CallTimeout:   req.CallTimeout,
	}, r.audit, r.now)
	com := NewCommitter[*models.EntityPropertyDiff](r.store, r.propagator, CommitterConfig{
		JobID:              req.JobID,
		Kind:               models.JobRepair,
		BatchSize:          req.BatchSize,
		DryRun:             req.DryRun,
		MaxWritesPerSecond: req.MaxWritesPerSecond,
	})

	commits, err := com.Run(ctx, pending,
		func(ctx context.Context, tx canonical.Tx, d *models.EntityPropertyDiff) Result {
			return rec.Apply(ctx, tx, PlanFor(d))
		},
		func(_ *models.EntityPropertyDiff, res Result) { rc.Record(res) },
	)
	rc.AddCommits(commits)
	return err
}
