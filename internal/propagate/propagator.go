// Propfix - Event Log Property Repair and Restore
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/propfix

// Package propagate publishes committed entity snapshots downstream.
//
// Publishing is fire-and-forget from the caller's point of view: a failure
// is logged and counted but never rolls back or changes the outcome of the
// canonical write that produced the snapshot. With the outbox enabled, a
// failed publish is persisted to the write-ahead log and retried by a
// supervised background loop.
package propagate

import (
	"context"
	"sync"
	"time"

	"github.com/tomtom215/propfix/internal/models"
)

// Snapshot is the message published for one committed entity.
type Snapshot struct {
	JobID       string              `json:"job_id"`
	Kind        models.JobKind      `json:"kind"`
	State       *models.EntityState `json:"state"`
	CommittedAt time.Time           `json:"committed_at"`
}

// Propagator publishes snapshots.
type Propagator interface {
	Publish(ctx context.Context, snap Snapshot) error
}

// Noop discards every snapshot.
type Noop struct{}

// Publish implements Propagator.
func (Noop) Publish(context.Context, Snapshot) error { return nil }

// MemoryPropagator keeps published snapshots in memory. An optional failure
// makes every Publish return it.
type MemoryPropagator struct {
	mu        sync.Mutex
	snapshots []Snapshot
	fail      error
}

// NewMemoryPropagator creates an empty in-memory propagator.
func NewMemoryPropagator() *MemoryPropagator {
	return &MemoryPropagator{}
}

// FailWith makes subsequent publishes return err (nil restores success).
func (m *MemoryPropagator) FailWith(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fail = err
}

// Publish implements Propagator.
func (m *MemoryPropagator) Publish(ctx context.Context, snap Snapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail != nil {
		return m.fail
	}
	snap.State = snap.State.Clone()
	m.snapshots = append(m.snapshots, snap)
	return nil
}

// Snapshots returns a copy of everything published so far.
func (m *MemoryPropagator) Snapshots() []Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Snapshot(nil), m.snapshots...)
}

var (
	_ Propagator = Noop{}
	_ Propagator = (*MemoryPropagator)(nil)
)
