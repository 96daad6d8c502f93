// Propfix - Event Log Property Repair and Restore
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/propfix

package repair

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/tomtom215/propfix/internal/canonical"
	"github.com/tomtom215/propfix/internal/models"
	"github.com/tomtom215/propfix/internal/propagate"
)

func seq(n int) []int {
	out := make([]int, n)
	for i := range out {
		out[i] = i
	}
	return out
}

func updatedApply(_ context.Context, _ canonical.Tx, i int) Result {
	return Result{EntityID: fmt.Sprint(i), Outcome: models.OutcomeUpdated}
}

func TestCommitter_ChunkCount(t *testing.T) {
	for _, n := range []int{0, 1, 5, 10} {
		for _, b := range []int{-1, 0, 1, 3, 5, 10, 20} {
			t.Run(fmt.Sprintf("n=%d/b=%d", n, b), func(t *testing.T) {
				store := canonical.NewMemoryStore()
				c := NewCommitter[int](store, nil, CommitterConfig{BatchSize: b})

				recorded := 0
				commits, err := c.Run(context.Background(), seq(n), updatedApply, func(int, Result) { recorded++ })
				if err != nil {
					t.Fatalf("Run: %v", err)
				}

				want := 0
				switch {
				case n == 0:
				case b <= 0:
					want = 1
				default:
					want = (n + b - 1) / b
				}
				if commits != want {
					t.Errorf("commits = %d, want %d", commits, want)
				}
				if store.Commits() != want {
					t.Errorf("store commits = %d, want %d", store.Commits(), want)
				}
				if recorded != n {
					t.Errorf("recorded = %d, want %d", recorded, n)
				}
			})
		}
	}
}

func TestCommitter_FailuresDoNotAbortChunk(t *testing.T) {
	store := canonical.NewMemoryStore()
	c := NewCommitter[int](store, nil, CommitterConfig{BatchSize: 10})

	var attempted []int
	apply := func(_ context.Context, _ canonical.Tx, i int) Result {
		attempted = append(attempted, i)
		if i%2 == 0 {
			return Result{Outcome: models.OutcomeFailed, Err: errBoom}
		}
		return Result{Outcome: models.OutcomeUpdated}
	}

	var rr models.RunResult
	commits, err := c.Run(context.Background(), seq(6), apply, func(_ int, r Result) { rr.Record(r.Outcome) })
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(attempted) != 6 {
		t.Errorf("attempted %d items, want 6", len(attempted))
	}
	if commits != 1 {
		t.Errorf("commits = %d, want 1", commits)
	}
	if rr.Updated != 3 || rr.Failed != 3 {
		t.Errorf("updated/failed = %d/%d, want 3/3", rr.Updated, rr.Failed)
	}
}

func TestCommitter_DryRunRollsBack(t *testing.T) {
	store := canonical.NewMemoryStore()
	store.Put(entity("E", 1, 1, "k", models.Int(1)))
	c := NewCommitter[int](store, nil, CommitterConfig{BatchSize: 2, DryRun: true})

	apply := func(ctx context.Context, tx canonical.Tx, _ int) Result {
		props := models.Properties{"k": models.Int(2)}
		if _, err := tx.ConditionalUpdate(ctx, "E", props, models.Metadata{}, 1); err != nil {
			return Result{Outcome: models.OutcomeFailed, Err: err}
		}
		return Result{Outcome: models.OutcomeWouldUpdate}
	}

	commits, err := c.Run(context.Background(), seq(3), apply, nil)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if commits != 0 {
		t.Errorf("commits = %d, want 0", commits)
	}
	if store.Rollbacks() != 2 {
		t.Errorf("rollbacks = %d, want 2", store.Rollbacks())
	}
	got, _ := store.Get("E")
	if got.Version != 1 {
		t.Errorf("version = %d, want 1 after rollback", got.Version)
	}
}

func TestCommitter_CancelAtChunkBoundary(t *testing.T) {
	store := canonical.NewMemoryStore()
	c := NewCommitter[int](store, nil, CommitterConfig{BatchSize: 2})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	attempted := 0
	apply := func(ctx context.Context, _ canonical.Tx, _ int) Result {
		attempted++
		if attempted == 1 {
			cancel()
		}
		if ctx.Err() != nil {
			return Result{Outcome: models.OutcomeFailed, Err: ctx.Err()}
		}
		return Result{Outcome: models.OutcomeUpdated}
	}

	commits, err := c.Run(ctx, seq(6), apply, nil)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
	if attempted != 2 {
		t.Errorf("attempted = %d, want the first chunk only", attempted)
	}
	if commits != 1 {
		t.Errorf("commits = %d, want 1", commits)
	}
}

func TestCommitter_Propagates(t *testing.T) {
	store := canonical.NewMemoryStore()
	prop := propagate.NewMemoryPropagator()
	c := NewCommitter[int](store, prop, CommitterConfig{JobID: "job-p", Kind: models.JobRepair, BatchSize: 2})

	apply := func(_ context.Context, _ canonical.Tx, i int) Result {
		id := fmt.Sprint(i)
		if i == 1 {
			return Result{EntityID: id, Outcome: models.OutcomeUnchanged}
		}
		return Result{EntityID: id, Outcome: models.OutcomeUpdated, State: entity(id, 1, 2)}
	}

	if _, err := c.Run(context.Background(), seq(3), apply, nil); err != nil {
		t.Fatalf("Run: %v", err)
	}
	snaps := prop.Snapshots()
	if len(snaps) != 2 {
		t.Fatalf("snapshots = %d, want 2", len(snaps))
	}
	if snaps[0].JobID != "job-p" || snaps[0].State.ID != "0" || snaps[1].State.ID != "2" {
		t.Errorf("snapshots = %+v", snaps)
	}
}

func TestCommitter_PublishFailureIsIgnored(t *testing.T) {
	store := canonical.NewMemoryStore()
	prop := propagate.NewMemoryPropagator()
	prop.FailWith(errBoom)
	c := NewCommitter[int](store, prop, CommitterConfig{BatchSize: 2})

	apply := func(_ context.Context, _ canonical.Tx, i int) Result {
		return Result{EntityID: fmt.Sprint(i), Outcome: models.OutcomeUpdated, State: entity(fmt.Sprint(i), 1, 1)}
	}
	var rr models.RunResult
	commits, err := c.Run(context.Background(), seq(3), apply, func(_ int, r Result) { rr.Record(r.Outcome) })
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if commits != 2 || rr.Updated != 3 {
		t.Errorf("commits/updated = %d/%d, want 2/3", commits, rr.Updated)
	}
}

func TestCommitter_CommitFailure(t *testing.T) {
	store := &faultyStore{MemoryStore: canonical.NewMemoryStore(), commitErr: errBoom}
	prop := propagate.NewMemoryPropagator()
	c := NewCommitter[int](store, prop, CommitterConfig{BatchSize: 2})

	apply := func(_ context.Context, _ canonical.Tx, i int) Result {
		return Result{EntityID: fmt.Sprint(i), Outcome: models.OutcomeUpdated, State: entity(fmt.Sprint(i), 1, 1)}
	}
	var rr models.RunResult
	commits, err := c.Run(context.Background(), seq(4), apply, func(_ int, r Result) { rr.Record(r.Outcome) })
	if !errors.Is(err, errBoom) {
		t.Fatalf("err = %v, want errBoom", err)
	}
	if commits != 0 {
		t.Errorf("commits = %d, want 0", commits)
	}
	if rr.Failed != 2 || rr.Updated != 0 {
		t.Errorf("failed/updated = %d/%d, want 2/0", rr.Failed, rr.Updated)
	}
	if len(prop.Snapshots()) != 0 {
		t.Error("rolled back rows were propagated")
	}
}

func TestCommitter_BeginFailure(t *testing.T) {
	store := &faultyStore{MemoryStore: canonical.NewMemoryStore(), beginErr: errBoom}
	c := NewCommitter[int](store, nil, CommitterConfig{BatchSize: 2})

	recorded := 0
	_, err := c.Run(context.Background(), seq(3), updatedApply, func(int, Result) { recorded++ })
	if !errors.Is(err, errBoom) {
		t.Fatalf("err = %v, want errBoom", err)
	}
	if recorded != 0 {
		t.Errorf("recorded = %d, want 0", recorded)
	}
}
