// Propfix - Event Log Property Repair and Restore
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/propfix

package main

import (
	"context"
	"fmt"
	"io"

	"github.com/goccy/go-json"
	"github.com/spf13/cobra"

	"github.com/tomtom215/propfix/internal/audit"
	"github.com/tomtom215/propfix/internal/logging"
	"github.com/tomtom215/propfix/internal/models"
	"github.com/tomtom215/propfix/internal/validation"
)

// listRequest is one page request of "propfix backups".
type listRequest struct {
	JobID  string `validate:"required,jobid"`
	Cursor string `validate:"omitempty,cursor"`
	Limit  int    `validate:"gte=1,lte=10000"`
	Filter models.BackupFilter `validate:"-"`
}

func (a *app) backupsCmd() *cobra.Command {
	var (
		req      listRequest
		entities []string
		scopes   []int64
	)
	cmd := &cobra.Command{
		Use:   "backups JOB_ID",
		Short: "List the backup entries of a job, one JSON object per line",
		Long: `Prints up to --limit backup entries of JOB_ID as JSON lines. When more
entries exist, the last line is {"next_cursor": "..."}; pass it back with
--cursor to read the following page.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			req.JobID = args[0]
			req.Filter = models.BackupFilter{EntityIDs: entities, ScopeIDs: scopes}

			rt := newRuntime(a.cfg)
			defer func() {
				if err := rt.close(); err != nil {
					logging.Warn().Err(err).Msg("Error closing backends")
				}
			}()
			if err := rt.open(func() error { return rt.openAudit(cmd.Context()) }); err != nil {
				return err
			}
			return listBackups(cmd.Context(), rt.audit, req, a.out)
		},
	}
	cmd.Flags().IntVar(&req.Limit, "limit", 100, "entries per page")
	cmd.Flags().StringVar(&req.Cursor, "cursor", "", "resume after this cursor")
	cmd.Flags().StringSliceVar(&entities, "entity", nil, "only these entity ids")
	cmd.Flags().Int64SliceVar(&scopes, "scope", nil, "only these scopes")
	return cmd
}

func listBackups(ctx context.Context, store audit.Store, req listRequest, w io.Writer) error {
	if err := validation.Validate(req); err != nil {
		return fmt.Errorf("invalid backups request: %w", err)
	}
	after, err := models.DecodeCursor(req.Cursor)
	if err != nil {
		return err
	}

	page, err := store.FetchBackups(ctx, req.JobID, req.Filter, after, req.Limit)
	if err != nil {
		return err
	}

	enc := json.NewEncoder(w)
	for _, entry := range page.Entries {
		if err := enc.Encode(entry); err != nil {
			return fmt.Errorf("encode entry: %w", err)
		}
	}
	if page.Next != nil {
		return enc.Encode(map[string]string{"next_cursor": page.Next.Encode()})
	}
	return nil
}
