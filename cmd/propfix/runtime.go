// Propfix - Event Log Property Repair and Restore
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/propfix

package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/tomtom215/propfix/internal/audit"
	"github.com/tomtom215/propfix/internal/canonical"
	"github.com/tomtom215/propfix/internal/checkpoint"
	"github.com/tomtom215/propfix/internal/config"
	"github.com/tomtom215/propfix/internal/eventlog"
	"github.com/tomtom215/propfix/internal/logging"
	"github.com/tomtom215/propfix/internal/propagate"
	"github.com/tomtom215/propfix/internal/wal"
)

// runtime holds the opened backends for one command. close releases them
// in reverse order of opening.
type runtime struct {
	cfg *config.Config

	store       canonical.Store
	postgres    *canonical.PostgresStore
	audit       audit.Store
	source      eventlog.DiffSource
	propagator  propagate.Propagator
	outbox      *propagate.Outbox
	checkpoints checkpoint.Store

	closers []func() error
}

func newRuntime(cfg *config.Config) *runtime {
	return &runtime{cfg: cfg, propagator: propagate.Noop{}}
}

func (rt *runtime) onClose(fn func() error) {
	rt.closers = append(rt.closers, fn)
}

func (rt *runtime) close() error {
	var errs []error
	for i := len(rt.closers) - 1; i >= 0; i-- {
		if err := rt.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	rt.closers = nil
	return errors.Join(errs...)
}

func (rt *runtime) openStore(ctx context.Context) error {
	db := rt.cfg.Database
	if db.Backend == "memory" {
		logging.Warn().Msg("Using in-memory canonical store; writes are discarded on exit")
		rt.store = canonical.NewMemoryStore()
		return nil
	}
	pg, err := canonical.OpenPostgres(ctx, canonical.PostgresConfig{
		DSN:               db.DSN(),
		Table:             db.Table,
		MaxConns:          db.MaxConns,
		MinConns:          db.MinConns,
		MaxConnLifetime:   db.MaxConnLifetime,
		MaxConnIdleTime:   db.MaxConnIdleTime,
		HealthCheckPeriod: db.HealthCheckPeriod,
	})
	if err != nil {
		return err
	}
	rt.store, rt.postgres = pg, pg
	rt.onClose(func() error { pg.Close(); return nil })
	return nil
}

func (rt *runtime) openAudit(ctx context.Context) error {
	if rt.cfg.Audit.Backend == "memory" {
		rt.audit = audit.NewMemoryStore()
		return nil
	}
	store, err := audit.OpenDuckDB(ctx, rt.cfg.Audit.Path)
	if err != nil {
		return err
	}
	rt.audit = store
	rt.onClose(store.Close)
	return nil
}

func (rt *runtime) openEventLog(ctx context.Context) error {
	el := rt.cfg.EventLog
	src, err := eventlog.OpenDuckDB(ctx, eventlog.Config{
		Path:       el.Path,
		MaxMemory:  el.MaxMemory,
		Threads:    el.Threads,
		Table:      el.Table,
		DeniedKeys: el.DeniedKeys,
		ReadOnly:   true,
	})
	if err != nil {
		return err
	}
	rt.source = src
	rt.onClose(src.Close)
	return nil
}

// openPropagation connects NATS when enabled and, with the WAL enabled,
// wraps it in the outbox.
func (rt *runtime) openPropagation() error {
	if !rt.cfg.NATS.Enabled {
		return nil
	}
	pub, err := propagate.NewNATSPublisher(propagate.NATSConfigFrom(rt.cfg.NATS), logging.NewWatermillAdapter())
	if err != nil {
		return err
	}
	rt.propagator = pub
	rt.onClose(pub.Close)

	if !rt.cfg.WAL.Enabled {
		return nil
	}
	w, err := wal.Open(wal.ConfigFrom(rt.cfg.WAL))
	if err != nil {
		return fmt.Errorf("open outbox: %w", err)
	}
	rt.onClose(w.Close)
	rt.outbox = propagate.NewOutbox(pub, w)
	rt.propagator = rt.outbox
	return nil
}

func (rt *runtime) openCheckpoints() error {
	if rt.cfg.Checkpoint.Path == "" {
		rt.checkpoints = checkpoint.NewMemoryStore()
		return nil
	}
	store, err := checkpoint.OpenBadger(rt.cfg.Checkpoint.Path)
	if err != nil {
		return err
	}
	rt.checkpoints = store
	rt.onClose(store.Close)
	return nil
}

// open runs each opener in turn, closing what was opened on failure.
func (rt *runtime) open(openers ...func() error) error {
	for _, fn := range openers {
		if err := fn(); err != nil {
			if cerr := rt.close(); cerr != nil {
				logging.Warn().Err(cerr).Msg("Cleanup after failed startup")
			}
			return err
		}
	}
	return nil
}
