// Propfix - Event Log Property Repair and Restore
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/propfix

/*
Package supervisor runs the long-lived parts of a propfix process under a
suture supervisor tree.

The tree has three layers, each its own child supervisor so that a crash in
one layer is restarted without disturbing the others:

	propfix
	├── data-layer    WAL outbox retry loop, backup retention
	├── job-layer     the repair or restore job itself
	└── api-layer     Prometheus /metrics listener

A job runs exactly once. When it returns, its service reports
suture.ErrDoNotRestart and closes its Done channel; the CLI then cancels the
tree so the retry loop and listener shut down with it. Snapshots still
queued in the outbox at that point stay in the WAL and are replayed by the
retry loop on the next start.

Supervisor events are logged through sutureslog into the zerolog-backed
slog handler from internal/logging.
*/
package supervisor
