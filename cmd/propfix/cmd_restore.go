// Propfix - Event Log Property Repair and Restore
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/propfix

package main

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/tomtom215/propfix/internal/config"
	"github.com/tomtom215/propfix/internal/logging"
	"github.com/tomtom215/propfix/internal/models"
	"github.com/tomtom215/propfix/internal/restore"
)

type restoreFlags struct {
	policy   string
	entities []string
	scopes   []int64
	pageSize int
	dryRun   bool
	fresh    bool
}

func (a *app) restoreCmd() *cobra.Command {
	var f restoreFlags
	cmd := &cobra.Command{
		Use:   "restore JOB_ID",
		Short: "Restore entities from the backups of a repair job",
		Long: `Walks the backup entries recorded by JOB_ID in (scope, entity) order and
writes the "before" state back under the chosen policy:

  full_overwrite  replace the entity with the backup
  restore_wins    restore every key the repair touched
  keep_newer      restore only keys nobody changed since the repair

Progress is checkpointed after every committed batch; rerunning the same
command resumes where it stopped unless --fresh is given.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			req, err := buildRestoreRequest(a.cfg, cmd, args[0], f)
			if err != nil {
				return err
			}
			ctx, cancel := signalContext(cmd.Context())
			defer cancel()
			return a.runRestore(ctx, req)
		},
	}
	cmd.Flags().StringVar(&f.policy, "policy", "", "full_overwrite, restore_wins or keep_newer (default: restore.conflict_resolution)")
	cmd.Flags().StringSliceVar(&f.entities, "entity", nil, "restore only these entity ids")
	cmd.Flags().Int64SliceVar(&f.scopes, "scope", nil, "restore only these scopes")
	cmd.Flags().IntVar(&f.pageSize, "page-size", 0, "backup entries per page, overriding restore.page_size")
	cmd.Flags().BoolVar(&f.dryRun, "dry-run", false, "compute restores but roll back every write")
	cmd.Flags().BoolVar(&f.fresh, "fresh", false, "discard any saved checkpoint")
	return cmd
}

func buildRestoreRequest(cfg *config.Config, cmd *cobra.Command, jobID string, f restoreFlags) (restore.Request, error) {
	rcfg := cfg.Restore
	if f.policy != "" {
		rcfg.ConflictResolution = f.policy
	}
	filter := models.BackupFilter{EntityIDs: f.entities, ScopeIDs: f.scopes}
	req, err := restore.RequestFromConfig(rcfg, cfg.Repair, jobID, filter)
	if err != nil {
		return restore.Request{}, err
	}
	if cmd.Flags().Changed("page-size") {
		req.PageSize = f.pageSize
	}
	if cmd.Flags().Changed("dry-run") {
		req.DryRun = f.dryRun
	}
	req.Fresh = f.fresh
	return req, nil
}

func (a *app) runRestore(ctx context.Context, req restore.Request) error {
	rt := newRuntime(a.cfg)
	defer func() {
		if err := rt.close(); err != nil {
			logging.Warn().Err(err).Msg("Error closing backends")
		}
	}()

	err := rt.open(
		func() error { return rt.openStore(ctx) },
		func() error { return rt.openAudit(ctx) },
		rt.openCheckpoints,
		rt.openPropagation,
	)
	if err != nil {
		return err
	}

	logging.Info().
		Str("job_id", req.JobID).
		Str("policy", string(req.Policy)).
		Bool("dry_run", req.DryRun).
		Bool("fresh", req.Fresh).
		Msg("Starting restore")

	restorer := restore.NewRestorer(rt.audit, rt.store, rt.checkpoints, rt.propagator)
	res, err := a.runSupervised(ctx, rt, "restore-job", func(ctx context.Context) (*models.JobResult, error) {
		return restorer.Run(ctx, req)
	})
	return finish(a.out, res, err)
}
