// Propfix - Event Log Property Repair and Restore
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/propfix

package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/tomtom215/propfix/internal/audit"
	"github.com/tomtom215/propfix/internal/logging"
	"github.com/tomtom215/propfix/internal/models"
)

func (a *app) pruneCmd() *cobra.Command {
	var olderThan time.Duration
	cmd := &cobra.Command{
		Use:   "prune",
		Short: "Delete backup entries older than a retention horizon",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			maxAge := a.cfg.Audit.Retention
			if cmd.Flags().Changed("older-than") {
				maxAge = olderThan
			}
			if maxAge <= 0 {
				return models.NewValidationError("retention must be positive, got %s", maxAge)
			}

			rt := newRuntime(a.cfg)
			defer func() {
				if err := rt.close(); err != nil {
					logging.Warn().Err(err).Msg("Error closing backends")
				}
			}()
			if err := rt.open(func() error { return rt.openAudit(cmd.Context()) }); err != nil {
				return err
			}

			n, err := audit.NewRetention(rt.audit, maxAge, 0).PruneOnce(cmd.Context())
			if err != nil {
				return fmt.Errorf("prune backups: %w", err)
			}
			logging.Info().Int64("deleted", n).Dur("older_than", maxAge).Msg("Pruned backup entries")
			_, err = fmt.Fprintf(a.out, "deleted %d backup entries\n", n)
			return err
		},
	}
	cmd.Flags().DurationVar(&olderThan, "older-than", 0, "retention horizon (default: audit.retention)")
	return cmd
}
