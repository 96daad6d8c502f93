// Propfix - Event Log Property Repair and Restore
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/propfix

// Package canonical provides access to the versioned canonical entity store.
//
// Writers never lock rows explicitly. Every write is a compare-and-swap on
// the version the writer last observed: ConditionalUpdate reports zero rows
// affected when another writer got there first.
package canonical

import (
	"context"

	"github.com/tomtom215/propfix/internal/models"
)

// Store is the canonical store.
type Store interface {
	// FetchMany reads the current rows for ids in bulk. Missing ids are
	// absent from the result.
	FetchMany(ctx context.Context, ids []string) (map[string]*models.EntityState, error)

	// Begin starts the transaction that one Batch Committer chunk runs in.
	Begin(ctx context.Context) (Tx, error)
}

// Tx is a chunk transaction. A failed Fetch or ConditionalUpdate affects
// only that call: the transaction stays usable for the remaining entities.
type Tx interface {
	// Fetch reads one row fresh. It returns models.ErrNotFound when absent.
	Fetch(ctx context.Context, id string) (*models.EntityState, error)

	// ConditionalUpdate replaces properties and metadata and bumps the
	// version by one, only if the stored version equals expectedVersion.
	// It returns the number of rows affected (0 or 1).
	ConditionalUpdate(ctx context.Context, id string, props models.Properties, meta models.Metadata, expectedVersion int64) (int64, error)

	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}
