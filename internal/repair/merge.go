// Propfix - Event Log Property Repair and Restore
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/propfix

package repair

import (
	"github.com/tomtom215/propfix/internal/models"
)

// PlainMerge applies d to a copy of current. SET overwrites, SET_ONCE writes
// only when the key is absent, UNSET removes the key and its metadata. An
// UNSET always counts as a change, even for a key that is already gone.
func PlainMerge(current *models.EntityState, d *models.EntityPropertyDiff) (next *models.EntityState, changed bool) {
	next = current.Clone()
	for k, pv := range d.Set {
		next.Put(k, pv.Value, pv.Timestamp, models.OpSet)
	}
	for k, pv := range d.SetOnce {
		if _, ok := next.Get(k); !ok {
			next.Put(k, pv.Value, pv.Timestamp, models.OpSetOnce)
		}
	}
	for k := range d.Unset {
		next.Remove(k)
		changed = true
	}
	if !changed {
		changed = !next.ContentEqual(current)
	}
	return next, changed
}

// ThreeWayMerge applies d to current for keys no one touched since the
// diff's baseline. A key whose presence or value differs between baseline
// and current is left to the concurrent writer and reported in skipped.
// Keys only in current are preserved.
func ThreeWayMerge(baseline, current *models.EntityState, d *models.EntityPropertyDiff) (next *models.EntityState, changed bool, skipped []string) {
	next = current.Clone()

	touched := func(k string) bool {
		if current.KeyEqual(baseline, k) {
			return false
		}
		skipped = append(skipped, k)
		return true
	}

	for _, k := range models.SortedKeys(d.Set) {
		if touched(k) {
			continue
		}
		pv := d.Set[k]
		next.Put(k, pv.Value, pv.Timestamp, models.OpSet)
	}
	for _, k := range models.SortedKeys(d.SetOnce) {
		if touched(k) {
			continue
		}
		if _, ok := current.Get(k); ok {
			continue
		}
		pv := d.SetOnce[k]
		next.Put(k, pv.Value, pv.Timestamp, models.OpSetOnce)
	}
	for _, k := range models.SortedKeys(d.Unset) {
		if touched(k) {
			continue
		}
		if _, ok := current.Get(k); !ok {
			continue
		}
		next.Remove(k)
	}

	return next, !next.ContentEqual(current), skipped
}
