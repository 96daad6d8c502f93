// Propfix - Event Log Property Repair and Restore
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/propfix

package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/goccy/go-json"

	"github.com/tomtom215/propfix/internal/audit"
	"github.com/tomtom215/propfix/internal/logging"
	"github.com/tomtom215/propfix/internal/models"
	"github.com/tomtom215/propfix/internal/supervisor"
	"github.com/tomtom215/propfix/internal/supervisor/services"
)

// jobStatusError reports a job that ran to completion with failed scopes.
type jobStatusError struct {
	jobID  string
	status models.Status
}

func (e *jobStatusError) Error() string {
	return fmt.Sprintf("job %s finished with status %s", e.jobID, e.status)
}

// signalContext is canceled on SIGINT or SIGTERM.
func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}

// runSupervised runs job under the supervisor tree together with the
// outbox retry loop, backup retention and the metrics listener, whichever
// are configured. The tree is stopped as soon as the job returns. A job
// that has started is always waited for, even after the tree gives up on
// it, so its in-flight chunk finishes before the backends are closed.
func (a *app) runSupervised(ctx context.Context, rt *runtime, name string, job services.JobFunc) (*models.JobResult, error) {
	tree := supervisor.NewTree(logging.NewSlogLogger("supervisor"), a.treeConfig)

	if rt.outbox != nil {
		tree.AddDataService(rt.outbox.RetryLoop())
	}
	if rt.audit != nil && a.cfg.Audit.Retention > 0 {
		tree.AddDataService(audit.NewRetention(rt.audit, a.cfg.Audit.Retention, 0))
	}
	if a.cfg.Metrics.Listen != "" {
		srv := services.NewMetricsServer(a.cfg.Metrics.Listen)
		tree.AddAPIService(services.NewHTTPServerService("metrics-listener", srv, 0))
		logging.Info().Str("listen", a.cfg.Metrics.Listen).Msg("Metrics listener enabled")
	}

	svc := services.NewJobService(name, job)
	tree.AddJob(svc)

	treeCtx, stop := context.WithCancel(ctx)
	errCh := tree.ServeBackground(treeCtx)

	select {
	case <-svc.Done():
	case err := <-errCh:
		stop()
		if !svc.Started() {
			if err != nil && !errors.Is(err, context.Canceled) {
				return nil, fmt.Errorf("supervisor stopped: %w", err)
			}
			return nil, ctx.Err()
		}
		if err != nil && !errors.Is(err, context.Canceled) {
			logging.Warn().Err(err).Msg("Supervisor stopped before the job finished")
		}
		logging.Info().Str("job", name).Msg("Waiting for in-flight chunk to finish")
		<-svc.Done()
		return svc.Result()
	}

	stop()
	if err := <-errCh; err != nil && !errors.Is(err, context.Canceled) {
		logging.Warn().Err(err).Msg("Supervisor shutdown error")
	}
	return svc.Result()
}

// finish reports res when the job produced one, even alongside err, and
// returns err in preference to the status error.
func finish(w io.Writer, res *models.JobResult, err error) error {
	if res != nil {
		if rerr := report(w, res); rerr != nil && err == nil {
			err = rerr
		}
	}
	return err
}

// report prints the job result as JSON and converts a failed status into
// a jobStatusError.
func report(w io.Writer, res *models.JobResult) error {
	if res == nil {
		return nil
	}
	data, err := json.MarshalIndent(res, "", "  ")
	if err != nil {
		return fmt.Errorf("encode result: %w", err)
	}
	if _, err := fmt.Fprintln(w, string(data)); err != nil {
		return err
	}

	totals := res.Totals()
	logging.Info().
		Str("job_id", res.JobID).
		Str("kind", string(res.Kind)).
		Str("status", string(res.Status)).
		Int("processed", totals.Processed).
		Int("updated", totals.Updated).
		Int("skipped", totals.Skipped).
		Int("failed", totals.Failed).
		Int("commits", totals.Commits).
		Dur("elapsed", res.FinishedAt.Sub(res.StartedAt)).
		Msg("Job finished")

	if res.Status != models.StatusSuccess {
		return &jobStatusError{jobID: res.JobID, status: res.Status}
	}
	return nil
}
