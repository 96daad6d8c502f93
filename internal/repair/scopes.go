// Propfix - Event Log Property Repair and Restore
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/propfix

package repair

import (
	"slices"

	"github.com/tomtom215/propfix/internal/config"
	"github.com/tomtom215/propfix/internal/models"
)

// MaxScopeRange bounds how many scopes a min/max range may expand to.
const MaxScopeRange = 1_000_000

// SelectScopes expands a scope selection into a sorted, de-duplicated list:
// the explicit ids, or [Min, Max] plus Include, minus Exclude in both cases.
func SelectScopes(sel config.ScopeConfig) ([]int64, error) {
	if err := sel.Validate(); err != nil {
		return nil, models.NewValidationError("%v", err)
	}

	var ids []int64
	if sel.Max != 0 {
		if sel.Max-sel.Min >= MaxScopeRange {
			return nil, models.NewValidationError("scope range [%d, %d] exceeds %d scopes", sel.Min, sel.Max, MaxScopeRange)
		}
		ids = make([]int64, 0, sel.Max-sel.Min+1+int64(len(sel.Include)))
		for id := sel.Min; id <= sel.Max; id++ {
			ids = append(ids, id)
		}
		ids = append(ids, sel.Include...)
	} else {
		ids = append(ids, sel.IDs...)
	}

	ids = slices.DeleteFunc(ids, func(id int64) bool {
		return slices.Contains(sel.Exclude, id)
	})
	slices.Sort(ids)
	ids = slices.Compact(ids)

	if len(ids) == 0 {
		return nil, models.NewValidationError("scope selection is empty")
	}
	return ids, nil
}
