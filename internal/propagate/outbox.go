// Propfix - Event Log Property Repair and Restore
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/propfix

package propagate

import (
	"context"
	"errors"
	"fmt"

	"github.com/tomtom215/propfix/internal/logging"
	"github.com/tomtom215/propfix/internal/metrics"
	"github.com/tomtom215/propfix/internal/wal"
)

// Outbox publishes through next and parks failed snapshots in the WAL for
// the retry loop. A snapshot is only lost when both the publish and the
// WAL write fail.
type Outbox struct {
	next Propagator
	wal  *wal.BadgerWAL
}

// NewOutbox wraps next with a WAL fallback.
func NewOutbox(next Propagator, w *wal.BadgerWAL) *Outbox {
	return &Outbox{next: next, wal: w}
}

// Publish implements Propagator.
func (o *Outbox) Publish(ctx context.Context, snap Snapshot) error {
	err := o.next.Publish(ctx, snap)
	if err == nil {
		return nil
	}

	entryID, werr := o.wal.Write(ctx, snap)
	if werr != nil {
		return errors.Join(err, fmt.Errorf("queue in outbox: %w", werr))
	}
	metrics.RecordPublish(metrics.PublishQueued)
	logging.Ctx(ctx).Warn().
		Err(err).
		Str("entity_id", snap.State.ID).
		Str("wal_entry_id", entryID).
		Msg("Publish failed, queued for retry")
	return nil
}

// PublishEntry implements wal.Publisher by handing a queued snapshot back
// to the wrapped propagator.
func (o *Outbox) PublishEntry(ctx context.Context, entry *wal.Entry) error {
	var snap Snapshot
	if err := entry.UnmarshalPayload(&snap); err != nil {
		return fmt.Errorf("unmarshal outbox entry %s: %w", entry.ID, err)
	}
	return o.next.Publish(ctx, snap)
}

// RetryLoop returns the supervised loop that drains this outbox.
func (o *Outbox) RetryLoop() *wal.RetryLoop {
	return wal.NewRetryLoop(o.wal, o)
}

var (
	_ Propagator    = (*Outbox)(nil)
	_ wal.Publisher = (*Outbox)(nil)
)
