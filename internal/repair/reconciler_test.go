// Propfix - Event Log Property Repair and Restore
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/propfix

package repair

import (
	"context"
	"errors"
	"testing"

	"github.com/tomtom215/propfix/internal/audit"
	"github.com/tomtom215/propfix/internal/canonical"
	"github.com/tomtom215/propfix/internal/models"
)

func repairDiff(baseline *models.EntityState, set map[string]models.Value) *models.EntityPropertyDiff {
	d := models.NewEntityPropertyDiff(baseline.Clone())
	for k, v := range set {
		d.Set[k] = models.PropertyValue{Timestamp: at(10), Value: v}
	}
	return d
}

func applyOne(t *testing.T, store canonical.Store, rec *Reconciler, plan Plan) Result {
	t.Helper()
	ctx := context.Background()
	tx, err := store.Begin(ctx)
	if err != nil {
		t.Fatalf("Begin: %v", err)
	}
	res := rec.Apply(ctx, tx, plan)
	if err := tx.Commit(ctx); err != nil {
		t.Fatalf("Commit: %v", err)
	}
	return res
}

func TestReconciler_Update(t *testing.T) {
	store := canonical.NewMemoryStore()
	row := entity("E", 1, 5, "email", models.String("old@x.com"))
	store.Put(row)

	rec := NewReconciler(ReconcilerConfig{JobID: "job-1", Kind: models.JobRepair, MaxRetries: 3}, nil, fixedClock(at(100)))
	res := applyOne(t, store, rec, PlanFor(repairDiff(row, map[string]models.Value{"email": models.String("new@x.com")})))

	if res.Outcome != models.OutcomeUpdated || res.Attempts != 1 {
		t.Fatalf("result = %+v, want updated after 1 attempt", res)
	}
	got, _ := store.Get("E")
	if got.Version != 6 {
		t.Errorf("version = %d, want 6", got.Version)
	}
	if v, _ := got.Get("email"); !v.Equal(models.String("new@x.com")) {
		t.Errorf("email = %v", v)
	}
	if got.LastOperation["email"] != models.OpSet {
		t.Errorf("email tag = %q, want set", got.LastOperation["email"])
	}
	if res.State.Version != 6 {
		t.Errorf("result state version = %d, want 6", res.State.Version)
	}
}

func TestReconciler_ConflictThenThreeWayMerge(t *testing.T) {
	store := canonical.NewMemoryStore()
	row := entity("E", 1, 5, "name", models.String("Old"), "city", models.String("Paris"))
	store.Put(row)

	fired := false
	store.SetBeforeUpdateHook(func(id string) {
		if fired {
			return
		}
		fired = true
		store.Mutate(id, func(st *models.EntityState) {
			st.Put("name", models.String("Changed"), at(20), models.OpSet)
			st.Put("extra", models.Bool(true), at(20), models.OpSet)
		})
	})

	rec := NewReconciler(ReconcilerConfig{JobID: "job-1", Kind: models.JobRepair, MaxRetries: 3}, nil, nil)
	d := repairDiff(row, map[string]models.Value{"name": models.String("Repaired"), "city": models.String("Lyon")})
	res := applyOne(t, store, rec, PlanFor(d))

	if res.Outcome != models.OutcomeUpdated {
		t.Fatalf("outcome = %s, want updated (err %v)", res.Outcome, res.Err)
	}
	if res.Attempts != 2 {
		t.Errorf("attempts = %d, want 2", res.Attempts)
	}
	got, _ := store.Get("E")
	if got.Version != 7 {
		t.Errorf("version = %d, want 7", got.Version)
	}
	if v, _ := got.Get("name"); !v.Equal(models.String("Changed")) {
		t.Errorf("name = %v, want concurrent value kept", v)
	}
	if v, _ := got.Get("city"); !v.Equal(models.String("Lyon")) {
		t.Errorf("city = %v, want Lyon", v)
	}
	if _, ok := got.Get("extra"); !ok {
		t.Error("concurrently added key lost")
	}
}

func TestReconciler_RetriesExhausted(t *testing.T) {
	store := canonical.NewMemoryStore()
	row := entity("E", 1, 1, "city", models.String("Paris"))
	store.Put(row)

	n := int64(0)
	store.SetBeforeUpdateHook(func(id string) {
		n++
		store.Mutate(id, func(st *models.EntityState) {
			st.Put("touch", models.Int(n), at(30), models.OpSet)
		})
	})

	rec := NewReconciler(ReconcilerConfig{JobID: "job-1", Kind: models.JobRepair, MaxRetries: 1}, nil, nil)
	res := applyOne(t, store, rec, PlanFor(repairDiff(row, map[string]models.Value{"city": models.String("Lyon")})))

	if res.Outcome != models.OutcomeConflict {
		t.Fatalf("outcome = %s, want version_conflict", res.Outcome)
	}
	if !errors.Is(res.Err, models.ErrVersionConflict) {
		t.Errorf("err = %v, want ErrVersionConflict", res.Err)
	}
	if res.Attempts != 2 {
		t.Errorf("attempts = %d, want 2", res.Attempts)
	}
	got, _ := store.Get("E")
	if v, _ := got.Get("city"); !v.Equal(models.String("Paris")) {
		t.Errorf("city = %v, want untouched", v)
	}
}

func TestReconciler_NotFound(t *testing.T) {
	store := canonical.NewMemoryStore()
	row := entity("gone", 1, 1)
	rec := NewReconciler(ReconcilerConfig{MaxRetries: 3}, nil, nil)

	res := applyOne(t, store, rec, PlanFor(repairDiff(row, map[string]models.Value{"k": models.Int(1)})))
	if res.Outcome != models.OutcomeNotFound {
		t.Errorf("outcome = %s, want not_found", res.Outcome)
	}
	if res.Err != nil {
		t.Errorf("err = %v, want nil", res.Err)
	}
}

func TestReconciler_Unchanged(t *testing.T) {
	store := canonical.NewMemoryStore()
	row := entity("E", 1, 4, "k", models.Int(1))
	store.Put(row)
	rec := NewReconciler(ReconcilerConfig{MaxRetries: 3}, nil, nil)

	d := models.NewEntityPropertyDiff(row.Clone())
	d.Set["k"] = models.PropertyValue{Timestamp: at(-1000), Value: models.Int(1)}
	res := applyOne(t, store, rec, PlanFor(d))

	if res.Outcome != models.OutcomeUnchanged {
		t.Errorf("outcome = %s, want unchanged", res.Outcome)
	}
	if got, _ := store.Get("E"); got.Version != 4 {
		t.Errorf("version = %d, want 4", got.Version)
	}
}

func TestReconciler_DryRun(t *testing.T) {
	for _, backup := range []bool{false, true} {
		name := "without backup"
		if backup {
			name = "with backup"
		}
		t.Run(name, func(t *testing.T) {
			store := canonical.NewMemoryStore()
			row := entity("E", 3, 5, "email", models.String("old@x.com"))
			store.Put(row)
			backups := audit.NewMemoryStore()

			rec := NewReconciler(ReconcilerConfig{
				JobID:         "job-dry",
				Kind:          models.JobRepair,
				DryRun:        true,
				BackupEnabled: backup,
				MaxRetries:    3,
			}, backups, fixedClock(at(100)))
			res := applyOne(t, store, rec, PlanFor(repairDiff(row, map[string]models.Value{"email": models.String("new@x.com")})))

			if res.Outcome != models.OutcomeWouldUpdate {
				t.Fatalf("outcome = %s, want would_update", res.Outcome)
			}
			if res.State == nil || res.State.Version != 6 {
				t.Errorf("would-be state = %+v, want version 6", res.State)
			}
			if got, _ := store.Get("E"); got.Version != 5 {
				t.Errorf("dry-run wrote: version = %d", got.Version)
			}

			want := 0
			if backup {
				want = 1
			}
			if backups.Len() != want {
				t.Errorf("backups = %d, want %d", backups.Len(), want)
			}
			if backup {
				page, err := backups.FetchBackups(context.Background(), "job-dry", models.BackupFilter{}, nil, 10)
				if err != nil || len(page.Entries) != 1 {
					t.Fatalf("FetchBackups = %+v, %v", page, err)
				}
				if !page.Entries[0].DryRun {
					t.Error("dry-run backup entry not marked dry_run")
				}
			}
		})
	}
}

func TestReconciler_BackupEntry(t *testing.T) {
	store := canonical.NewMemoryStore()
	row := entity("E", 3, 5, "email", models.String("old@x.com"))
	store.Put(row)
	backups := audit.NewMemoryStore()

	rec := NewReconciler(ReconcilerConfig{JobID: "job-b", Kind: models.JobRepair, BackupEnabled: true, MaxRetries: 3}, backups, fixedClock(at(100)))
	applyOne(t, store, rec, PlanFor(repairDiff(row, map[string]models.Value{"email": models.String("new@x.com")})))

	page, err := backups.FetchBackups(context.Background(), "job-b", models.BackupFilter{}, nil, 10)
	if err != nil {
		t.Fatalf("FetchBackups: %v", err)
	}
	if len(page.Entries) != 1 {
		t.Fatalf("entries = %d, want 1", len(page.Entries))
	}
	e := page.Entries[0]
	if e.ScopeID != 3 || e.EntityID != "E" {
		t.Errorf("entry key = (%d, %s)", e.ScopeID, e.EntityID)
	}
	if e.Before.Version != 5 || e.After.Version != 6 {
		t.Errorf("before/after versions = %d/%d, want 5/6", e.Before.Version, e.After.Version)
	}
	if len(e.PendingOperations) != 1 || e.PendingOperations[0].Op != models.OpSet {
		t.Errorf("pending operations = %+v", e.PendingOperations)
	}
	if !e.CreatedAt.Equal(at(100)) {
		t.Errorf("created_at = %v, want %v", e.CreatedAt, at(100))
	}
}

func TestReconciler_AuditFailureDoesNotBlockWrite(t *testing.T) {
	store := canonical.NewMemoryStore()
	row := entity("E", 1, 5, "email", models.String("old@x.com"))
	store.Put(row)

	rec := NewReconciler(ReconcilerConfig{JobID: "job-1", BackupEnabled: true, MaxRetries: 3}, failingAudit{}, nil)
	res := applyOne(t, store, rec, PlanFor(repairDiff(row, map[string]models.Value{"email": models.String("new@x.com")})))

	if res.Outcome != models.OutcomeUpdated {
		t.Errorf("outcome = %s, want updated", res.Outcome)
	}
}

func TestReconciler_FetchError(t *testing.T) {
	mem := canonical.NewMemoryStore()
	row := entity("E", 1, 5, "email", models.String("old@x.com"))
	mem.Put(row)
	store := &faultyStore{MemoryStore: mem, fetchErr: errBoom}

	rec := NewReconciler(ReconcilerConfig{MaxRetries: 3}, nil, nil)
	res := applyOne(t, store, rec, PlanFor(repairDiff(row, map[string]models.Value{"email": models.String("new@x.com")})))

	if res.Outcome != models.OutcomeFailed {
		t.Errorf("outcome = %s, want failed", res.Outcome)
	}
	if !errors.Is(res.Err, errBoom) {
		t.Errorf("err = %v, want errBoom", res.Err)
	}
}
