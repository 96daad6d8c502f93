// Propfix - Event Log Property Repair and Restore
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/propfix

package repair

import (
	"context"
	"fmt"
	"testing"

	"github.com/tomtom215/propfix/internal/canonical"
	"github.com/tomtom215/propfix/internal/models"
)

func TestDiffAgainst_Rules(t *testing.T) {
	current := entity("u", 1, 3,
		"a", models.Int(1),
		"b", models.String("x"),
		"f", models.Bool(true),
		"g", models.String("gone"),
	)
	cand := models.NewCandidateDiff("u")
	cand.Set["a"] = models.PropertyValue{Timestamp: at(1), Value: models.Float(1.0)} // numerically equal
	cand.Set["b"] = models.PropertyValue{Timestamp: at(1), Value: models.String("y")}
	cand.Set["c"] = models.PropertyValue{Timestamp: at(1), Value: models.Int(9)} // absent
	cand.SetOnce["d"] = models.PropertyValue{Timestamp: at(1), Value: models.String("first")}
	cand.SetOnce["f"] = models.PropertyValue{Timestamp: at(1), Value: models.Bool(false)}
	cand.Unset["g"] = at(1)
	cand.Unset["h"] = at(1)

	d := DiffAgainst(current, cand)

	if got := models.SortedKeys(d.Set); fmt.Sprint(got) != "[b]" {
		t.Errorf("set keys = %v, want [b]", got)
	}
	if got := models.SortedKeys(d.SetOnce); fmt.Sprint(got) != "[d]" {
		t.Errorf("set_once keys = %v, want [d]", got)
	}
	if got := models.SortedKeys(d.Unset); fmt.Sprint(got) != "[g]" {
		t.Errorf("unset keys = %v, want [g]", got)
	}
	if d.BaseVersion != 3 || d.Baseline != current || d.ScopeID != 1 {
		t.Errorf("baseline not recorded: version=%d scope=%d", d.BaseVersion, d.ScopeID)
	}
}

func TestComparator_DropsMissingAndEmpty(t *testing.T) {
	store := canonical.NewMemoryStore()
	store.Put(
		entity("same", 1, 1, "k", models.String("v")),
		entity("diff", 1, 1, "k", models.String("old")),
	)

	mk := func(id string, v string) *models.CandidateDiff {
		c := models.NewCandidateDiff(id)
		c.Set["k"] = models.PropertyValue{Timestamp: at(1), Value: models.String(v)}
		return c
	}
	diffs, err := NewComparator(store, 10, 0).Compare(context.Background(),
		[]*models.CandidateDiff{mk("diff", "new"), mk("missing", "x"), mk("same", "v")})
	if err != nil {
		t.Fatal(err)
	}
	if len(diffs) != 1 || diffs[0].EntityID != "diff" {
		t.Fatalf("diffs = %v, want only 'diff'", diffs)
	}
}

func TestComparator_BatchesFetches(t *testing.T) {
	store := &countingStore{MemoryStore: canonical.NewMemoryStore()}
	var cands []*models.CandidateDiff
	for i := 0; i < 7; i++ {
		id := fmt.Sprintf("e%d", i)
		store.Put(entity(id, 1, 1, "k", models.Int(0)))
		c := models.NewCandidateDiff(id)
		c.Set["k"] = models.PropertyValue{Timestamp: at(1), Value: models.Int(1)}
		cands = append(cands, c)
	}

	diffs, err := NewComparator(store, 3, 0).Compare(context.Background(), cands)
	if err != nil {
		t.Fatal(err)
	}
	if len(diffs) != 7 {
		t.Errorf("diffs = %d, want 7", len(diffs))
	}
	if store.fetchCalls != 3 {
		t.Errorf("FetchMany calls = %d, want 3", store.fetchCalls)
	}
}

func TestComparator_NoOpCandidateShadowsOlderUnset(t *testing.T) {
	store := canonical.NewMemoryStore()
	store.Put(entity("u", 1, 1, "k", models.String("v")))

	// The log says: unset at 1, then set back to the current value at 2.
	c := models.NewCandidateDiff("u")
	c.Set["k"] = models.PropertyValue{Timestamp: at(2), Value: models.String("v")}
	c.Unset["k"] = at(1)

	diffs, err := NewComparator(store, 0, 0).Compare(context.Background(), []*models.CandidateDiff{c})
	if err != nil {
		t.Fatal(err)
	}
	if len(diffs) != 0 {
		t.Errorf("diffs = %d, want 0: state already matches the log", len(diffs))
	}
}

func TestComparator_LaterUnsetBeatsSetOnceOnAbsentKey(t *testing.T) {
	store := canonical.NewMemoryStore()
	store.Put(entity("u", 1, 1))

	c := models.NewCandidateDiff("u")
	c.SetOnce["k"] = models.PropertyValue{Timestamp: at(1), Value: models.String("v")}
	c.Unset["k"] = at(2)

	diffs, err := NewComparator(store, 0, 0).Compare(context.Background(), []*models.CandidateDiff{c})
	if err != nil {
		t.Fatal(err)
	}
	if len(diffs) != 0 {
		t.Errorf("diffs = %d, want 0: the key was unset after being set once", len(diffs))
	}
}

func TestComparator_SetOnceSurvivesNewerSetOnAbsentKey(t *testing.T) {
	store := canonical.NewMemoryStore()
	store.Put(entity("u", 7, 5, "other", models.String("x")))

	c := models.NewCandidateDiff("u")
	c.Set["plan"] = models.PropertyValue{Timestamp: at(10), Value: models.String("pro")}
	c.SetOnce["plan"] = models.PropertyValue{Timestamp: at(1), Value: models.String("free")}

	diffs, err := NewComparator(store, 0, 0).Compare(context.Background(), []*models.CandidateDiff{c})
	if err != nil {
		t.Fatal(err)
	}
	if len(diffs) != 1 {
		t.Fatalf("diffs = %d, want 1", len(diffs))
	}
	d := diffs[0]
	if len(d.Set) != 0 || len(d.Unset) != 0 {
		t.Errorf("set=%v unset=%v, want only set_once", d.Set, d.Unset)
	}
	if pv, ok := d.SetOnce["plan"]; !ok || !pv.Value.Equal(models.String("free")) {
		t.Errorf("set_once[plan] = %v, want \"free\"", d.SetOnce["plan"])
	}
}

func TestComparator_UnsetJudgedPerValuedOp(t *testing.T) {
	store := canonical.NewMemoryStore()
	store.Put(entity("u", 1, 1, "k", models.String("old")))

	// SET_ONCE predates the unset, SET follows it: only the SET survives.
	c := models.NewCandidateDiff("u")
	c.SetOnce["k"] = models.PropertyValue{Timestamp: at(1), Value: models.String("first")}
	c.Unset["k"] = at(2)
	c.Set["k"] = models.PropertyValue{Timestamp: at(3), Value: models.String("new")}

	diffs, err := NewComparator(store, 0, 0).Compare(context.Background(), []*models.CandidateDiff{c})
	if err != nil {
		t.Fatal(err)
	}
	if len(diffs) != 1 {
		t.Fatalf("diffs = %d, want 1", len(diffs))
	}
	if got := models.SortedKeys(diffs[0].Set); fmt.Sprint(got) != "[k]" {
		t.Errorf("set keys = %v, want [k]", got)
	}
	if len(diffs[0].SetOnce) != 0 || len(diffs[0].Unset) != 0 {
		t.Errorf("set_once=%v unset=%v, want empty", diffs[0].SetOnce, diffs[0].Unset)
	}
}

func TestComparator_FetchError(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := NewComparator(canonical.NewMemoryStore(), 0, 0).Compare(ctx, []*models.CandidateDiff{models.NewCandidateDiff("u")})
	if err == nil {
		t.Error("Compare() error = nil, want fetch error")
	}
}
