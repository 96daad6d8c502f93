// Propfix - Event Log Property Repair and Restore
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/propfix

package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/tomtom215/propfix/internal/eventlog"
	"github.com/tomtom215/propfix/internal/logging"
)

func (a *app) schemaCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "schema",
		Short: "Create the canonical, event log and backup tables if missing",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.createSchema(cmd.Context())
		},
	}
}

func (a *app) createSchema(ctx context.Context) error {
	rt := newRuntime(a.cfg)
	defer func() {
		if err := rt.close(); err != nil {
			logging.Warn().Err(err).Msg("Error closing backends")
		}
	}()

	if err := rt.open(func() error { return rt.openStore(ctx) }, func() error { return rt.openAudit(ctx) }); err != nil {
		return err
	}
	if rt.postgres != nil {
		if err := rt.postgres.CreateTable(ctx); err != nil {
			return fmt.Errorf("create canonical table: %w", err)
		}
	}

	el := a.cfg.EventLog
	src, err := eventlog.OpenDuckDB(ctx, eventlog.Config{
		Path:      el.Path,
		MaxMemory: el.MaxMemory,
		Threads:   el.Threads,
		Table:     el.Table,
	})
	if err != nil {
		return err
	}
	defer func() { _ = src.Close() }()
	if err := src.CreateTable(ctx); err != nil {
		return fmt.Errorf("create event log table: %w", err)
	}

	logging.Info().Msg("Schema ready")
	_, err = fmt.Fprintln(a.out, "schema ready")
	return err
}
