// Propfix - Event Log Property Repair and Restore
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/propfix

package eventlog

import (
	"context"
	"testing"
	"time"

	"github.com/tomtom215/propfix/internal/models"
)

var base = time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)

func at(minutes int) time.Time { return base.Add(time.Duration(minutes) * time.Minute) }

func ev(entity string, op models.OpKind, key string, v models.Value, minute int) Event {
	return Event{ScopeID: 1, EntityID: entity, Op: op, Key: key, Value: v, Timestamp: at(minute)}
}

func fixtureEvents() []Event {
	return []Event{
		ev("e1", models.OpSet, "email", models.String("a@x.com"), 1),
		ev("e1", models.OpSet, "email", models.String("c@x.com"), 9),
		ev("e1", models.OpSet, "email", models.String("b@x.com"), 5),
		ev("e1", models.OpSetOnce, "signup", models.String("web"), 7),
		ev("e1", models.OpSetOnce, "signup", models.String("ios"), 3),
		ev("e1", models.OpUnset, "plan", models.Null(), 2),
		ev("e1", models.OpUnset, "plan", models.Null(), 8),
		ev("e1", models.OpSet, "last_seen", models.Int(99), 4),
		ev("e2", models.OpSet, "name", models.Null(), 6),
		ev("e2", models.OpSet, "age", models.Int(40), 6),
		{ScopeID: 2, EntityID: "e9", Op: models.OpSet, Key: "age", Value: models.Int(1), Timestamp: at(1)},
	}
}

func TestAggregate_Rules(t *testing.T) {
	t.Parallel()

	diffs := Aggregate(fixtureEvents(), NewDenyList("last_seen"), 1, at(0), at(60))
	if len(diffs) != 2 {
		t.Fatalf("expected 2 entities, got %d", len(diffs))
	}
	e1, e2 := diffs[0], diffs[1]
	if e1.EntityID != "e1" || e2.EntityID != "e2" {
		t.Fatalf("diffs not ordered by entity: %s, %s", e1.EntityID, e2.EntityID)
	}

	if got := e1.Set["email"]; !got.Value.Equal(models.String("c@x.com")) || !got.Timestamp.Equal(at(9)) {
		t.Errorf("SET should keep latest value, got %v@%v", got.Value, got.Timestamp)
	}
	if got := e1.SetOnce["signup"]; !got.Value.Equal(models.String("ios")) || !got.Timestamp.Equal(at(3)) {
		t.Errorf("SET_ONCE should keep earliest value, got %v@%v", got.Value, got.Timestamp)
	}
	if got := e1.Unset["plan"]; !got.Equal(at(8)) {
		t.Errorf("UNSET should keep latest timestamp, got %v", got)
	}
	if _, ok := e1.Set["last_seen"]; ok {
		t.Error("denied key must be excluded")
	}
	if _, ok := e2.Set["name"]; ok {
		t.Error("null SET must be dropped")
	}
	if _, ok := e2.Set["age"]; !ok {
		t.Error("expected age SET for e2")
	}
}

func TestAggregate_WindowBoundsHalfOpen(t *testing.T) {
	t.Parallel()

	events := []Event{
		ev("e1", models.OpSet, "a", models.Int(1), 10),
		ev("e1", models.OpSet, "b", models.Int(2), 20),
	}
	diffs := Aggregate(events, nil, 1, at(10), at(20))
	if len(diffs) != 1 {
		t.Fatalf("expected one entity, got %d", len(diffs))
	}
	if _, ok := diffs[0].Set["a"]; !ok {
		t.Error("event at start must be included")
	}
	if _, ok := diffs[0].Set["b"]; ok {
		t.Error("event at end must be excluded")
	}
}

func TestAggregate_NullOnlyEntityDropped(t *testing.T) {
	t.Parallel()

	events := []Event{ev("e1", models.OpSetOnce, "a", models.Null(), 1)}
	if diffs := Aggregate(events, nil, 1, at(0), at(5)); len(diffs) != 0 {
		t.Errorf("entity with only null candidates should be dropped, got %d", len(diffs))
	}
}

func TestMemorySource_DiffForWindow(t *testing.T) {
	t.Parallel()

	src := NewMemorySource(NewDenyList("last_seen"))
	src.Append(fixtureEvents()...)

	diffs, err := src.DiffForWindow(context.Background(), 2, at(0), at(60))
	if err != nil {
		t.Fatalf("DiffForWindow: %v", err)
	}
	if len(diffs) != 1 || diffs[0].EntityID != "e9" {
		t.Fatalf("expected only scope 2 entity, got %+v", diffs)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := src.DiffForWindow(ctx, 1, at(0), at(60)); err == nil {
		t.Error("expected error for cancelled context")
	}
}

func TestConnString(t *testing.T) {
	t.Parallel()

	tests := []struct {
		cfg  Config
		want string
	}{
		{Config{Path: ":memory:"}, ""},
		{Config{Path: "/data/ev.duckdb", ReadOnly: true, Threads: 2}, "/data/ev.duckdb?access_mode=read_only&threads=2"},
		{Config{Path: "", ReadOnly: true, MaxMemory: "1GB"}, "?max_memory=1GB"},
	}
	for _, tt := range tests {
		if got := connString(tt.cfg); got != tt.want {
			t.Errorf("connString(%+v) = %q, want %q", tt.cfg, got, tt.want)
		}
	}
}
