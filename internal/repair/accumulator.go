// Propfix - Event Log Property Repair and Restore
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/propfix

package repair

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/tomtom215/propfix/internal/eventlog"
	"github.com/tomtom215/propfix/internal/logging"
	"github.com/tomtom215/propfix/internal/metrics"
	"github.com/tomtom215/propfix/internal/models"
)

// Clock returns the current time. Tests inject a fake.
type Clock func() time.Time

// Accumulator reads [start, now) from a diff source in bounded sub-windows
// and merges the results into one candidate diff per entity.
type Accumulator struct {
	source eventlog.DiffSource
	window time.Duration
	now    Clock
}

// NewAccumulator creates an accumulator. windowSeconds <= 0 issues a single
// unwindowed query.
func NewAccumulator(source eventlog.DiffSource, windowSeconds int64, now Clock) *Accumulator {
	if now == nil {
		now = time.Now
	}
	return &Accumulator{
		source: source,
		window: time.Duration(windowSeconds) * time.Second,
		now:    now,
	}
}

// Accumulate returns the merged candidates for scopeID ordered by entity id.
// The upper bound is re-read from the clock before every sub-window, and the
// walk ends with the sub-window that reaches it.
func (a *Accumulator) Accumulate(ctx context.Context, scopeID int64, start time.Time) ([]*models.CandidateDiff, error) {
	merged := make(map[string]*models.CandidateDiff)
	windows := 0

	cur := start
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		now := a.now()
		if !cur.Before(now) {
			break
		}
		end := now
		if a.window > 0 && cur.Add(a.window).Before(now) {
			end = cur.Add(a.window)
		}

		began := time.Now()
		diffs, err := a.source.DiffForWindow(ctx, scopeID, cur, end)
		metrics.RecordDiffQuery(time.Since(began))
		if err != nil {
			return nil, fmt.Errorf("diff window [%s, %s): %w", cur.Format(time.RFC3339), end.Format(time.RFC3339), err)
		}
		for _, d := range diffs {
			mergeCandidates(merged, d)
		}
		windows++

		cur = end
		if end.Equal(now) {
			break
		}
	}

	out := make([]*models.CandidateDiff, 0, len(merged))
	for _, d := range merged {
		if !d.Empty() {
			out = append(out, d)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].EntityID < out[j].EntityID })

	metrics.RecordCandidates(len(out))
	logging.Ctx(ctx).Debug().
		Int("windows", windows).
		Int("entities", len(out)).
		Time("start", start).
		Time("end", cur).
		Msg("Accumulated event log candidates")
	return out, nil
}

// mergeCandidates folds src into the accumulated map. SET and UNSET keep the
// later timestamp, SET_ONCE the earlier one. Equal timestamps keep the value
// already accumulated. Candidates of different operations are kept side by
// side for the filter to resolve.
func mergeCandidates(acc map[string]*models.CandidateDiff, src *models.CandidateDiff) {
	dst, ok := acc[src.EntityID]
	if !ok {
		dst = models.NewCandidateDiff(src.EntityID)
		acc[src.EntityID] = dst
	}
	for k, pv := range src.Set {
		if cur, ok := dst.Set[k]; !ok || pv.Timestamp.After(cur.Timestamp) {
			dst.Set[k] = pv
		}
	}
	for k, pv := range src.SetOnce {
		if cur, ok := dst.SetOnce[k]; !ok || pv.Timestamp.Before(cur.Timestamp) {
			dst.SetOnce[k] = pv
		}
	}
	for k, ts := range src.Unset {
		if cur, ok := dst.Unset[k]; !ok || ts.After(cur) {
			dst.Unset[k] = ts
		}
	}
}
