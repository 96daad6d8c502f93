// Propfix - Event Log Property Repair and Restore
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/propfix

// Command propfix repairs entity properties from the event log and restores
// them from the backups a repair leaves behind.
//
// # Commands
//
//	propfix repair   [--start T] [--scopes 1,2] [--dry-run] [--job-id ID]
//	propfix restore  JOB_ID [--policy keep_newer] [--fresh] [--dry-run]
//	propfix backups  JOB_ID [--limit N] [--cursor TOKEN]
//	propfix prune    [--older-than 720h]
//	propfix schema
//
// # Configuration
//
// Configuration is loaded with koanf from built-in defaults, then the file
// named by --config or CONFIG_PATH, then PROPFIX_* environment variables.
// Command-line flags override the loaded values for a single run.
//
// # Exit status
//
// 0 when the job succeeded, 1 on an error before or during the job, 2 when
// the job finished with a partial or total scope failure.
package main

import (
	"errors"
	"os"

	"github.com/tomtom215/propfix/internal/logging"
)

func main() {
	err := newRootCmd().Execute()
	if err == nil {
		return
	}
	var jobErr *jobStatusError
	if errors.As(err, &jobErr) {
		os.Exit(2)
	}
	logging.Error().Err(err).Msg("propfix failed")
	os.Exit(1)
}
