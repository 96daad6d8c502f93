// Propfix - Event Log Property Repair and Restore
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/propfix

package restore

import (
	"fmt"
	"strings"

	"github.com/tomtom215/propfix/internal/models"
)

// Policy decides how a backup's before image is reconciled with the
// entity's current state.
type Policy string

// Restore policies.
const (
	// FullOverwrite replaces properties and metadata with the before image.
	FullOverwrite Policy = "full_overwrite"
	// RestoreWins forces every key of the before image back, leaving keys
	// the before image never had alone.
	RestoreWins Policy = "restore_wins"
	// KeepNewer restores a key only while it still holds the value the
	// repair wrote.
	KeepNewer Policy = "keep_newer"
)

// Policies lists the accepted policies.
var Policies = []Policy{FullOverwrite, RestoreWins, KeepNewer}

// ParsePolicy accepts a policy name in any case.
func ParsePolicy(s string) (Policy, error) {
	p := Policy(strings.ToLower(strings.TrimSpace(s)))
	for _, known := range Policies {
		if p == known {
			return p, nil
		}
	}
	return "", models.NewValidationError("unknown restore policy %q", s)
}

func (p Policy) String() string { return string(p) }

// Compute returns the row entry restores current to under p, and whether
// it differs from current.
func (p Policy) Compute(entry *models.BackupEntry, current *models.EntityState) (*models.EntityState, bool) {
	before := entry.Before
	if before == nil {
		before = models.NewEntityState(entry.EntityID, entry.ScopeID)
	}

	next := current.Clone()
	switch p {
	case FullOverwrite:
		meta := before.Metadata().Clone()
		next.Properties = before.Properties.Clone()
		next.LastUpdatedAt = meta.LastUpdatedAt
		next.LastOperation = meta.LastOperation

	case RestoreWins:
		for k := range before.Properties {
			next.CopyKey(before, k)
		}

	case KeepNewer:
		for _, k := range restorableKeys(before, entry.After) {
			if current.KeyEqual(entry.After, k) {
				next.CopyKey(before, k)
			}
		}

	default:
		panic(fmt.Sprintf("restore: unknown policy %q", string(p)))
	}
	return next, !next.ContentEqual(current)
}

// restorableKeys is every key present in before or after, so a key the
// repair added can be taken back out.
func restorableKeys(before, after *models.EntityState) []string {
	keys := make(map[string]struct{}, len(before.Properties))
	for k := range before.Properties {
		keys[k] = struct{}{}
	}
	if after != nil {
		for k := range after.Properties {
			keys[k] = struct{}{}
		}
	}
	return models.SortedKeys(keys)
}
