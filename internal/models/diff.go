// Propfix - Event Log Property Repair and Restore
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/propfix

package models

import (
	"sort"
	"time"
)

// OpKind is a property operation recorded in the event log.
type OpKind string

// Operation kinds. The string form is also the operation tag stored in
// properties_last_operation ("set" or "set_once").
const (
	OpSet     OpKind = "set"
	OpSetOnce OpKind = "set_once"
	OpUnset   OpKind = "unset"
)

// Valid reports whether o is a known operation kind.
func (o OpKind) Valid() bool {
	switch o {
	case OpSet, OpSetOnce, OpUnset:
		return true
	}
	return false
}

// PropertyValue is a candidate value with the event timestamp it came from.
// Value is Null only for UNSET candidates.
type PropertyValue struct {
	Timestamp time.Time `json:"timestamp"`
	Value     Value     `json:"value"`
}

// CandidateDiff is one entity's aggregated changes for a time range, as
// returned by a diff source.
type CandidateDiff struct {
	EntityID string
	Set      map[string]PropertyValue
	SetOnce  map[string]PropertyValue
	Unset    map[string]time.Time
}

// NewCandidateDiff returns an empty candidate diff for id.
func NewCandidateDiff(id string) *CandidateDiff {
	return &CandidateDiff{
		EntityID: id,
		Set:      map[string]PropertyValue{},
		SetOnce:  map[string]PropertyValue{},
		Unset:    map[string]time.Time{},
	}
}

// Empty reports whether c carries no candidates.
func (c *CandidateDiff) Empty() bool {
	return len(c.Set) == 0 && len(c.SetOnce) == 0 && len(c.Unset) == 0
}

// EntityPropertyDiff is the repair for one entity. Baseline is the canonical
// row observed when the diff was computed and BaseVersion its version.
// After filtering a key appears in at most one of Set, SetOnce and Unset.
type EntityPropertyDiff struct {
	EntityID    string
	ScopeID     int64
	BaseVersion int64
	Set         map[string]PropertyValue
	SetOnce     map[string]PropertyValue
	Unset       map[string]PropertyValue
	Baseline    *EntityState
}

// NewEntityPropertyDiff returns an empty diff based on baseline.
func NewEntityPropertyDiff(baseline *EntityState) *EntityPropertyDiff {
	return &EntityPropertyDiff{
		EntityID:    baseline.ID,
		ScopeID:     baseline.ScopeID,
		BaseVersion: baseline.Version,
		Set:         map[string]PropertyValue{},
		SetOnce:     map[string]PropertyValue{},
		Unset:       map[string]PropertyValue{},
		Baseline:    baseline,
	}
}

// IsEmpty reports whether the diff has no operations.
func (d *EntityPropertyDiff) IsEmpty() bool {
	return len(d.Set) == 0 && len(d.SetOnce) == 0 && len(d.Unset) == 0
}

// Len returns the number of operations in the diff.
func (d *EntityPropertyDiff) Len() int {
	return len(d.Set) + len(d.SetOnce) + len(d.Unset)
}

// PendingOperation is one operation of a diff, as recorded in the audit log.
type PendingOperation struct {
	Op        OpKind    `json:"op"`
	Key       string    `json:"key"`
	Value     Value     `json:"value"`
	Timestamp time.Time `json:"timestamp"`
}

// Operations lists the diff's operations ordered by timestamp, then key.
func (d *EntityPropertyDiff) Operations() []PendingOperation {
	ops := make([]PendingOperation, 0, d.Len())
	for k, pv := range d.Set {
		ops = append(ops, PendingOperation{Op: OpSet, Key: k, Value: pv.Value, Timestamp: pv.Timestamp})
	}
	for k, pv := range d.SetOnce {
		ops = append(ops, PendingOperation{Op: OpSetOnce, Key: k, Value: pv.Value, Timestamp: pv.Timestamp})
	}
	for k, pv := range d.Unset {
		ops = append(ops, PendingOperation{Op: OpUnset, Key: k, Value: Null(), Timestamp: pv.Timestamp})
	}
	sort.Slice(ops, func(i, j int) bool {
		if !ops[i].Timestamp.Equal(ops[j].Timestamp) {
			return ops[i].Timestamp.Before(ops[j].Timestamp)
		}
		return ops[i].Key < ops[j].Key
	})
	return ops
}
