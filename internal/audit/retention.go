// Propfix - Event Log Property Repair and Restore
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/propfix

package audit

import (
	"context"
	"time"

	"github.com/tomtom215/propfix/internal/logging"
	"github.com/tomtom215/propfix/internal/metrics"
)

// Retention periodically prunes entries older than a fixed horizon.
// It implements suture.Service.
type Retention struct {
	store    Store
	maxAge   time.Duration
	interval time.Duration
	now      func() time.Time
}

// NewRetention creates a pruning service. interval defaults to one hour.
func NewRetention(store Store, maxAge, interval time.Duration) *Retention {
	if interval <= 0 {
		interval = time.Hour
	}
	return &Retention{store: store, maxAge: maxAge, interval: interval, now: time.Now}
}

// PruneOnce deletes entries older than the horizon and returns the count.
func (r *Retention) PruneOnce(ctx context.Context) (int64, error) {
	cutoff := r.now().Add(-r.maxAge)
	n, err := r.store.Prune(ctx, cutoff)
	if err != nil {
		return 0, err
	}
	metrics.AuditPruned.Add(float64(n))
	return n, nil
}

// Serve runs PruneOnce every interval until ctx is canceled.
func (r *Retention) Serve(ctx context.Context) error {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			count, err := r.PruneOnce(ctx)
			if err != nil {
				logging.Error().Err(err).Msg("Backup retention cleanup error")
			} else if count > 0 {
				logging.Info().Int64("count", count).Msg("Cleaned up old backup entries")
			}
		}
	}
}

func (r *Retention) String() string {
	return "audit-retention"
}
