// Propfix - Event Log Property Repair and Restore
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/propfix

package repair

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/time/rate"

	"github.com/tomtom215/propfix/internal/canonical"
	"github.com/tomtom215/propfix/internal/logging"
	"github.com/tomtom215/propfix/internal/metrics"
	"github.com/tomtom215/propfix/internal/models"
	"github.com/tomtom215/propfix/internal/propagate"
)

// CommitterConfig controls chunking for one job.
type CommitterConfig struct {
	JobID     string
	Kind      models.JobKind
	BatchSize int
	DryRun    bool

	// MaxWritesPerSecond throttles item applies. Zero disables throttling.
	MaxWritesPerSecond float64
}

// ApplyFunc attempts one item inside the chunk transaction.
type ApplyFunc[T any] func(ctx context.Context, tx canonical.Tx, item T) Result

// Committer applies items in fixed-size chunks, one store transaction per
// chunk. Every item of a chunk is attempted even when others fail.
type Committer[T any] struct {
	store      canonical.Store
	propagator propagate.Propagator
	cfg        CommitterConfig
	limiter    *rate.Limiter
	now        Clock
}

// NewCommitter creates a committer. propagator may be nil.
func NewCommitter[T any](store canonical.Store, propagator propagate.Propagator, cfg CommitterConfig) *Committer[T] {
	c := &Committer[T]{store: store, propagator: propagator, cfg: cfg, now: time.Now}
	if cfg.MaxWritesPerSecond > 0 {
		burst := max(1, int(cfg.MaxWritesPerSecond))
		c.limiter = rate.NewLimiter(rate.Limit(cfg.MaxWritesPerSecond), burst)
	}
	return c
}

// Run applies items and returns the number of committed chunks. record is
// called for every item once its chunk has been committed or rolled back.
// Cancellation of ctx is only observed between chunks; a chunk that has
// begun always runs to its commit.
func (c *Committer[T]) Run(ctx context.Context, items []T, apply ApplyFunc[T], record func(T, Result)) (int, error) {
	if len(items) == 0 {
		return 0, nil
	}
	size := c.cfg.BatchSize
	if size <= 0 {
		size = len(items)
	}

	commits := 0
	for lo := 0; lo < len(items); lo += size {
		if err := ctx.Err(); err != nil {
			logging.Ctx(ctx).Info().Int("remaining", len(items)-lo).Msg("Run canceled at chunk boundary")
			return commits, err
		}
		hi := min(lo+size, len(items))
		committed, err := c.runChunk(context.WithoutCancel(ctx), items[lo:hi], apply, record)
		if committed {
			commits++
		}
		if err != nil {
			return commits, err
		}
	}
	return commits, nil
}

func (c *Committer[T]) runChunk(ctx context.Context, chunk []T, apply ApplyFunc[T], record func(T, Result)) (bool, error) {
	began := time.Now()
	tx, err := c.store.Begin(ctx)
	if err != nil {
		return false, fmt.Errorf("begin chunk: %w", err)
	}

	results := make([]Result, len(chunk))
	for i, item := range chunk {
		if c.limiter != nil {
			if err := c.limiter.Wait(ctx); err != nil {
				logging.Ctx(ctx).Warn().Err(err).Msg("Write limiter wait failed")
			}
		}
		results[i] = apply(ctx, tx, item)
	}

	if c.cfg.DryRun {
		err := tx.Rollback(ctx)
		metrics.RecordChunk(c.cfg.Kind, time.Since(began), true, err)
		if err != nil {
			logging.Ctx(ctx).Warn().Err(err).Msg("Dry-run rollback failed")
		}
		c.recordAll(chunk, results, record)
		return false, nil
	}

	err = tx.Commit(ctx)
	metrics.RecordChunk(c.cfg.Kind, time.Since(began), false, err)
	if err != nil {
		for i := range results {
			if results[i].Outcome == models.OutcomeUpdated {
				results[i].Outcome = models.OutcomeFailed
				results[i].Err = err
				results[i].State = nil
			}
		}
		c.recordAll(chunk, results, record)
		return false, fmt.Errorf("commit chunk of %d: %w", len(chunk), err)
	}

	c.recordAll(chunk, results, record)
	c.propagate(ctx, results)
	return true, nil
}

func (c *Committer[T]) recordAll(chunk []T, results []Result, record func(T, Result)) {
	if record == nil {
		return
	}
	for i, item := range chunk {
		record(item, results[i])
	}
}

// propagate hands committed rows downstream. Failures are logged only.
func (c *Committer[T]) propagate(ctx context.Context, results []Result) {
	if c.propagator == nil {
		return
	}
	committedAt := c.now().UTC()
	for _, r := range results {
		if r.Outcome != models.OutcomeUpdated || r.State == nil {
			continue
		}
		snap := propagate.Snapshot{JobID: c.cfg.JobID, Kind: c.cfg.Kind, State: r.State, CommittedAt: committedAt}
		if err := c.propagator.Publish(ctx, snap); err != nil {
			logging.Ctx(ctx).Warn().
				Err(models.Transport("publish snapshot", err)).
				Str("entity_id", r.EntityID).
				Msg("Propagation failed")
		}
	}
}
