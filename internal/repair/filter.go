// Propfix - Event Log Property Repair and Restore
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/propfix

package repair

import (
	"time"

	"github.com/tomtom215/propfix/internal/models"
)

// winner picks the operation that survives for one key. A nil timestamp
// means the operation has no candidate. SET always beats SET_ONCE. Against
// UNSET the later timestamp wins and an exact tie goes to the value.
func winner(set, setOnce, unset *time.Time) models.OpKind {
	valued := set
	op := models.OpSet
	if valued == nil {
		valued, op = setOnce, models.OpSetOnce
	}
	switch {
	case valued == nil:
		return models.OpUnset
	case unset != nil && unset.After(*valued):
		return models.OpUnset
	default:
		return op
	}
}

// Filter leaves every key of d in exactly one of Set, SetOnce and Unset.
func Filter(d *models.EntityPropertyDiff) {
	for _, key := range conflictingKeys(d.Set, d.SetOnce, d.Unset) {
		w := winner(tsOf(d.Set, key), tsOf(d.SetOnce, key), tsOf(d.Unset, key))
		if w != models.OpSet {
			delete(d.Set, key)
		}
		if w != models.OpSetOnce {
			delete(d.SetOnce, key)
		}
		if w != models.OpUnset {
			delete(d.Unset, key)
		}
	}
}

// resolveCandidates settles UNSET against each valued candidate on its own
// key: a SET or SET_ONCE older than the UNSET is dropped, and the UNSET is
// dropped if any valued candidate survives. SET and SET_ONCE are left for
// DiffAgainst to separate by key presence.
func resolveCandidates(c *models.CandidateDiff) {
	for key, uts := range c.Unset {
		if pv, ok := c.Set[key]; ok && uts.After(pv.Timestamp) {
			delete(c.Set, key)
		}
		if pv, ok := c.SetOnce[key]; ok && uts.After(pv.Timestamp) {
			delete(c.SetOnce, key)
		}
		_, hasSet := c.Set[key]
		_, hasOnce := c.SetOnce[key]
		if hasSet || hasOnce {
			delete(c.Unset, key)
		}
	}
}

func tsOf(m map[string]models.PropertyValue, key string) *time.Time {
	pv, ok := m[key]
	if !ok {
		return nil
	}
	return &pv.Timestamp
}

// conflictingKeys returns keys present in more than one map.
func conflictingKeys(maps ...map[string]models.PropertyValue) []string {
	seen := make(map[string]int)
	for _, m := range maps {
		for k := range m {
			seen[k]++
		}
	}
	var out []string
	for k, n := range seen {
		if n > 1 {
			out = append(out, k)
		}
	}
	return out
}
