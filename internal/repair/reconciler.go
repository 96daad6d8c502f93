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

	"github.com/tomtom215/propfix/internal/audit"
	"github.com/tomtom215/propfix/internal/canonical"
	"github.com/tomtom215/propfix/internal/logging"
	"github.com/tomtom215/propfix/internal/metrics"
	"github.com/tomtom215/propfix/internal/models"
)

// Plan computes the row to write for one entity from a fresh fetch. Repair
// diffs and restore entries both implement it.
type Plan interface {
	EntityID() string
	ScopeID() int64

	// Compute returns the row to write and whether it differs from fresh.
	// attempt is 0 on the first try and grows with each version conflict.
	Compute(fresh *models.EntityState, attempt int) (next *models.EntityState, changed bool)

	// Operations lists the pending operations recorded in the backup entry.
	Operations() []models.PendingOperation
}

// ReconcilerConfig controls one job's write path.
type ReconcilerConfig struct {
	JobID         string
	Kind          models.JobKind
	DryRun        bool
	BackupEnabled bool
	MaxRetries    int
	CallTimeout   time.Duration
}

// Reconciler applies plans with optimistic concurrency: fetch, compute,
// back up, then a write conditioned on the fetched version. A version
// conflict goes back to fetch until the retry budget is spent.
type Reconciler struct {
	cfg   ReconcilerConfig
	audit audit.Store
	now   Clock
}

// NewReconciler creates a reconciler. auditStore may be nil when backups
// are disabled.
func NewReconciler(cfg ReconcilerConfig, auditStore audit.Store, now Clock) *Reconciler {
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if now == nil {
		now = time.Now
	}
	return &Reconciler{cfg: cfg, audit: auditStore, now: now}
}

// Result is the terminal state of one apply.
type Result struct {
	EntityID string
	Outcome  models.Outcome
	// State is the row written, or that would have been written in dry-run.
	State    *models.EntityState
	Attempts int
	Err      error
}

type applyState int

const (
	stateFetch applyState = iota
	stateApply
	stateDone
)

// Apply runs the state machine for one plan inside tx. It never returns an
// error: failures are reported through Result.Outcome and Result.Err.
func (r *Reconciler) Apply(ctx context.Context, tx canonical.Tx, plan Plan) Result {
	id := plan.EntityID()
	res := Result{EntityID: id}
	log := logging.Ctx(ctx).With().Str("entity_id", id).Logger()

	var fresh *models.EntityState
	state := stateFetch
	for state != stateDone {
		switch state {
		case stateFetch:
			if res.Attempts > r.cfg.MaxRetries {
				res.Outcome = models.OutcomeConflict
				res.Err = fmt.Errorf("%w after %d attempts", models.ErrVersionConflict, res.Attempts)
				log.Warn().Int("attempts", res.Attempts).Msg("Retry budget exhausted, skipping entity")
				state = stateDone
				continue
			}
			st, err := r.fetch(ctx, tx, id)
			switch {
			case errors.Is(err, models.ErrNotFound):
				res.Outcome = models.OutcomeNotFound
				log.Warn().Msg("Entity vanished before apply")
				state = stateDone
			case err != nil:
				res.Outcome = models.OutcomeFailed
				res.Err = err
				log.Error().Err(err).Msg("Failed to fetch entity")
				state = stateDone
			default:
				fresh = st
				state = stateApply
			}

		case stateApply:
			attempt := res.Attempts
			res.Attempts++

			next, changed := plan.Compute(fresh, attempt)
			if !changed {
				res.Outcome = models.OutcomeUnchanged
				state = stateDone
				continue
			}
			next.ID, next.ScopeID = fresh.ID, fresh.ScopeID
			next.Version = fresh.Version + 1

			if r.cfg.BackupEnabled {
				r.backup(ctx, plan, fresh, next)
			}
			if r.cfg.DryRun {
				res.Outcome = models.OutcomeWouldUpdate
				res.State = next
				state = stateDone
				continue
			}

			n, err := r.write(ctx, tx, id, next, fresh.Version)
			switch {
			case err != nil:
				res.Outcome = models.OutcomeFailed
				res.Err = err
				log.Error().Err(err).Msg("Conditional write failed")
				state = stateDone
			case n == 0:
				metrics.RecordOCCRetry(r.cfg.Kind)
				log.Debug().Int64("expected_version", fresh.Version).Int("attempt", attempt).Msg("Version conflict, re-fetching")
				state = stateFetch
			default:
				res.Outcome = models.OutcomeUpdated
				res.State = next
				state = stateDone
			}
		}
	}

	metrics.RecordOutcome(r.cfg.Kind, res.Outcome)
	return res
}

func (r *Reconciler) fetch(ctx context.Context, tx canonical.Tx, id string) (*models.EntityState, error) {
	ctx, cancel := r.callContext(ctx)
	defer cancel()
	return tx.Fetch(ctx, id)
}

func (r *Reconciler) write(ctx context.Context, tx canonical.Tx, id string, next *models.EntityState, expected int64) (int64, error) {
	ctx, cancel := r.callContext(ctx)
	defer cancel()
	return tx.ConditionalUpdate(ctx, id, next.Properties, next.Metadata(), expected)
}

func (r *Reconciler) callContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if r.cfg.CallTimeout > 0 {
		return context.WithTimeout(ctx, r.cfg.CallTimeout)
	}
	return context.WithCancel(ctx)
}

// backup records the before/after pair. Failure is a transport error: it is
// logged and the write proceeds.
func (r *Reconciler) backup(ctx context.Context, plan Plan, before, after *models.EntityState) {
	if r.audit == nil {
		return
	}
	entry := &models.BackupEntry{
		JobID:             r.cfg.JobID,
		ScopeID:           plan.ScopeID(),
		EntityID:          plan.EntityID(),
		Before:            before.Clone(),
		After:             after.Clone(),
		PendingOperations: plan.Operations(),
		DryRun:            r.cfg.DryRun,
		CreatedAt:         r.now().UTC(),
	}

	ctx, cancel := r.callContext(ctx)
	defer cancel()
	inserted, err := r.audit.InsertBackup(ctx, entry)
	metrics.RecordAuditInsert(inserted, err)
	if err != nil {
		logging.Ctx(ctx).Warn().
			Err(models.Transport("insert backup", err)).
			Str("entity_id", entry.EntityID).
			Msg("Backup insert failed, continuing with write")
	}
}

// diffPlan adapts a repair diff to the reconciler. The first attempt uses
// the plain merge; retries against a row that moved past the diff's
// baseline use the three-way merge.
type diffPlan struct {
	d *models.EntityPropertyDiff
}

// PlanFor wraps a repair diff as a Plan.
func PlanFor(d *models.EntityPropertyDiff) Plan {
	return diffPlan{d: d}
}

func (p diffPlan) EntityID() string { return p.d.EntityID }
func (p diffPlan) ScopeID() int64   { return p.d.ScopeID }

func (p diffPlan) Operations() []models.PendingOperation { return p.d.Operations() }

func (p diffPlan) Compute(fresh *models.EntityState, attempt int) (*models.EntityState, bool) {
	if attempt == 0 || fresh.Version == p.d.BaseVersion || p.d.Baseline == nil {
		return PlainMerge(fresh, p.d)
	}
	next, changed, skipped := ThreeWayMerge(p.d.Baseline, fresh, p.d)
	metrics.RecordThreeWayMerge(len(skipped))
	return next, changed
}
