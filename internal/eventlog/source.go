// Propfix - Event Log Property Repair and Restore
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/propfix

// Package eventlog extracts per-entity candidate changes from the append-only
// property event log.
//
// For a scope and a half-open range [start, end) a DiffSource returns, per
// entity, the latest value of every SET key, the earliest value of every
// SET_ONCE key and the latest timestamp of every UNSET key. Denied keys are
// excluded and null-valued SET/SET_ONCE events are dropped before
// aggregation, so only UNSET can remove a key.
package eventlog

import (
	"context"
	"sort"
	"time"

	"github.com/tomtom215/propfix/internal/models"
)

// DiffSource is the capability the repair pipeline consumes.
type DiffSource interface {
	DiffForWindow(ctx context.Context, scopeID int64, start, end time.Time) ([]*models.CandidateDiff, error)
}

// Event is one row of the property event log.
type Event struct {
	ScopeID   int64
	EntityID  string
	Op        models.OpKind
	Key       string
	Value     models.Value
	Timestamp time.Time
}

// DenyList holds property keys that are never repaired.
type DenyList map[string]struct{}

// NewDenyList builds a deny-list from keys.
func NewDenyList(keys ...string) DenyList {
	d := make(DenyList, len(keys))
	for _, k := range keys {
		d[k] = struct{}{}
	}
	return d
}

// Contains reports whether key is denied.
func (d DenyList) Contains(key string) bool {
	_, ok := d[key]
	return ok
}

// Keys returns the denied keys in sorted order.
func (d DenyList) Keys() []string {
	return models.SortedKeys(d)
}

// Aggregate folds events into candidate diffs using the extraction rules.
// Events outside the scope or range are ignored. When two events for the
// same key and operation carry the same timestamp the one seen first wins.
// The result is ordered by entity id.
func Aggregate(events []Event, deny DenyList, scopeID int64, start, end time.Time) []*models.CandidateDiff {
	byEntity := make(map[string]*models.CandidateDiff)
	for i := range events {
		ev := &events[i]
		if ev.ScopeID != scopeID || ev.Timestamp.Before(start) || !ev.Timestamp.Before(end) {
			continue
		}
		if deny.Contains(ev.Key) {
			continue
		}
		if ev.Op != models.OpUnset && ev.Value.IsNull() {
			continue
		}
		c, ok := byEntity[ev.EntityID]
		if !ok {
			c = models.NewCandidateDiff(ev.EntityID)
			byEntity[ev.EntityID] = c
		}
		addEvent(c, ev)
	}
	return sortedDiffs(byEntity)
}

func addEvent(c *models.CandidateDiff, ev *Event) {
	switch ev.Op {
	case models.OpSet:
		if cur, ok := c.Set[ev.Key]; !ok || ev.Timestamp.After(cur.Timestamp) {
			c.Set[ev.Key] = models.PropertyValue{Timestamp: ev.Timestamp, Value: ev.Value}
		}
	case models.OpSetOnce:
		if cur, ok := c.SetOnce[ev.Key]; !ok || ev.Timestamp.Before(cur.Timestamp) {
			c.SetOnce[ev.Key] = models.PropertyValue{Timestamp: ev.Timestamp, Value: ev.Value}
		}
	case models.OpUnset:
		if cur, ok := c.Unset[ev.Key]; !ok || ev.Timestamp.After(cur) {
			c.Unset[ev.Key] = ev.Timestamp
		}
	}
}

func sortedDiffs(byEntity map[string]*models.CandidateDiff) []*models.CandidateDiff {
	out := make([]*models.CandidateDiff, 0, len(byEntity))
	for _, c := range byEntity {
		if !c.Empty() {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].EntityID < out[j].EntityID })
	return out
}
