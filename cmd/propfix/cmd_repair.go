// Propfix - Event Log Property Repair and Restore
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/propfix

package main

import (
	"context"
	"time"

	"github.com/spf13/cobra"

	"github.com/tomtom215/propfix/internal/config"
	"github.com/tomtom215/propfix/internal/logging"
	"github.com/tomtom215/propfix/internal/models"
	"github.com/tomtom215/propfix/internal/repair"
)

type repairFlags struct {
	jobID       string
	start       string
	scopes      []int64
	window      int64
	dryRun      bool
	noBackup    bool
	parallelism int
}

func (a *app) repairCmd() *cobra.Command {
	var f repairFlags
	cmd := &cobra.Command{
		Use:   "repair",
		Short: "Repair entity properties from the event log",
		Long: `Reads property operations recorded since --start for every selected
scope, compares them with the canonical store and rewrites the entities that
drifted. Each modified entity's before and after state is backed up under the
job id so the run can be undone with "propfix restore".`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			req, err := buildRepairRequest(a.cfg, cmd, f, time.Now())
			if err != nil {
				return err
			}
			ctx, cancel := signalContext(cmd.Context())
			defer cancel()
			return a.runRepair(ctx, req)
		},
	}
	cmd.Flags().StringVar(&f.jobID, "job-id", "", "job id (default: random UUID)")
	cmd.Flags().StringVar(&f.start, "start", "", "window start, RFC 3339 (default: now - repair.lookback)")
	cmd.Flags().Int64SliceVar(&f.scopes, "scopes", nil, "scope ids, overriding scopes.*")
	cmd.Flags().Int64Var(&f.window, "window-seconds", 0, "sub-window size in seconds, overriding repair.window_seconds")
	cmd.Flags().BoolVar(&f.dryRun, "dry-run", false, "compute and back up changes but roll back every write")
	cmd.Flags().BoolVar(&f.noBackup, "no-backup", false, "skip backup entries")
	cmd.Flags().IntVar(&f.parallelism, "parallelism", 0, "scopes repaired concurrently, overriding repair.parallelism")
	return cmd
}

// buildRepairRequest merges the configuration with the flags that were set.
func buildRepairRequest(cfg *config.Config, cmd *cobra.Command, f repairFlags, now time.Time) (repair.Request, error) {
	flags := cmd.Flags()

	var scopes []int64
	if flags.Changed("scopes") {
		scopes = f.scopes
	} else {
		selected, err := repair.SelectScopes(cfg.Scopes)
		if err != nil {
			return repair.Request{}, err
		}
		scopes = selected
	}

	start := now.Add(-cfg.Repair.Lookback)
	if f.start != "" {
		t, err := time.Parse(time.RFC3339, f.start)
		if err != nil {
			return repair.Request{}, models.NewValidationError("start must be RFC 3339: %v", err)
		}
		start = t
	}

	req := repair.RequestFromConfig(cfg.Repair, f.jobID, scopes, start)
	if flags.Changed("window-seconds") {
		req.WindowSeconds = f.window
	}
	if flags.Changed("dry-run") {
		req.DryRun = f.dryRun
	}
	if f.noBackup {
		req.BackupEnabled = false
	}
	if flags.Changed("parallelism") {
		req.Parallelism = f.parallelism
	}
	return req, nil
}

func (a *app) runRepair(ctx context.Context, req repair.Request) error {
	rt := newRuntime(a.cfg)
	defer func() {
		if err := rt.close(); err != nil {
			logging.Warn().Err(err).Msg("Error closing backends")
		}
	}()

	openers := []func() error{
		func() error { return rt.openStore(ctx) },
		func() error { return rt.openEventLog(ctx) },
		rt.openPropagation,
	}
	if req.BackupEnabled {
		openers = append(openers, func() error { return rt.openAudit(ctx) })
	}
	if err := rt.open(openers...); err != nil {
		return err
	}

	logging.Info().
		Str("job_id", req.JobID).
		Int("scopes", len(req.Scopes)).
		Time("start", req.Start).
		Bool("dry_run", req.DryRun).
		Bool("backup", req.BackupEnabled).
		Msg("Starting repair")

	repairer := repair.NewRepairer(rt.source, rt.store, rt.audit, rt.propagator)
	res, err := a.runSupervised(ctx, rt, "repair-job", func(ctx context.Context) (*models.JobResult, error) {
		return repairer.Run(ctx, req)
	})
	return finish(a.out, res, err)
}
