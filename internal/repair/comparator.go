// Propfix - Event Log Property Repair and Restore
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/propfix

package repair

import (
	"context"
	"fmt"
	"time"

	"github.com/tomtom215/propfix/internal/canonical"
	"github.com/tomtom215/propfix/internal/logging"
	"github.com/tomtom215/propfix/internal/models"
)

// DefaultFetchBatchSize bounds the ids sent in one FetchMany call.
const DefaultFetchBatchSize = 500

// Comparator turns accumulated candidates into diffs against live canonical
// state, keeping only real differences.
type Comparator struct {
	store       canonical.Store
	batchSize   int
	callTimeout time.Duration
}

// NewComparator creates a comparator reading from store in batches.
func NewComparator(store canonical.Store, fetchBatchSize int, callTimeout time.Duration) *Comparator {
	if fetchBatchSize <= 0 {
		fetchBatchSize = DefaultFetchBatchSize
	}
	return &Comparator{store: store, batchSize: fetchBatchSize, callTimeout: callTimeout}
}

// Compare returns the non-empty diffs in candidate order. Candidates are
// consumed: their maps are modified in place.
func (c *Comparator) Compare(ctx context.Context, candidates []*models.CandidateDiff) ([]*models.EntityPropertyDiff, error) {
	out := make([]*models.EntityPropertyDiff, 0, len(candidates))
	missing := 0

	for lo := 0; lo < len(candidates); lo += c.batchSize {
		hi := min(lo+c.batchSize, len(candidates))
		batch := candidates[lo:hi]

		ids := make([]string, len(batch))
		for i, cand := range batch {
			ids[i] = cand.EntityID
		}
		rows, err := c.fetch(ctx, ids)
		if err != nil {
			return nil, fmt.Errorf("fetch canonical batch of %d: %w", len(ids), err)
		}

		for _, cand := range batch {
			current, ok := rows[cand.EntityID]
			if !ok {
				missing++
				logging.Ctx(ctx).Warn().Str("entity_id", cand.EntityID).Msg("No canonical record for entity with event log candidates")
				continue
			}
			resolveCandidates(cand)
			d := DiffAgainst(current, cand)
			Filter(d)
			if !d.IsEmpty() {
				out = append(out, d)
			}
		}
	}

	logging.Ctx(ctx).Debug().
		Int("candidates", len(candidates)).
		Int("diffs", len(out)).
		Int("missing", missing).
		Msg("Compared candidates against canonical state")
	return out, nil
}

func (c *Comparator) fetch(ctx context.Context, ids []string) (map[string]*models.EntityState, error) {
	if c.callTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.callTimeout)
		defer cancel()
	}
	return c.store.FetchMany(ctx, ids)
}

// DiffAgainst keeps the candidates that would change current: SET when the
// key exists with a different value, SET_ONCE when the key is absent, UNSET
// when the key exists. current becomes the diff's baseline.
func DiffAgainst(current *models.EntityState, cand *models.CandidateDiff) *models.EntityPropertyDiff {
	d := models.NewEntityPropertyDiff(current)
	for k, pv := range cand.Set {
		if v, ok := current.Get(k); ok && !v.Equal(pv.Value) {
			d.Set[k] = pv
		}
	}
	for k, pv := range cand.SetOnce {
		if _, ok := current.Get(k); !ok {
			d.SetOnce[k] = pv
		}
	}
	for k, ts := range cand.Unset {
		if _, ok := current.Get(k); ok {
			d.Unset[k] = models.PropertyValue{Timestamp: ts, Value: models.Null()}
		}
	}
	return d
}
