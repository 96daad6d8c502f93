// Propfix - Event Log Property Repair and Restore
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/propfix

package wal

import (
	"context"
	"math"
	"time"

	"github.com/tomtom215/propfix/internal/logging"
	"github.com/tomtom215/propfix/internal/metrics"
)

// Publisher republishes a WAL entry. Implementations unmarshal
// Entry.Payload into their message type.
type Publisher interface {
	PublishEntry(ctx context.Context, entry *Entry) error
}

// PublisherFunc adapts a function to Publisher.
type PublisherFunc func(ctx context.Context, entry *Entry) error

// PublishEntry implements Publisher.
func (f PublisherFunc) PublishEntry(ctx context.Context, entry *Entry) error {
	return f(ctx, entry)
}

// Retry results, also used as metric labels.
const (
	resultSuccess    = "success"
	resultFailure    = "failure"
	resultExpired    = "expired"
	resultMaxRetries = "max_retries"
	resultBackoff    = "backoff"
)

// PassResult counts what one retry pass did.
type PassResult struct {
	Pending    int
	Published  int
	Failed     int
	Expired    int
	MaxRetried int
	Deferred   int
}

// RetryLoop republishes pending entries in the background. It implements
// suture.Service.
type RetryLoop struct {
	wal       *BadgerWAL
	publisher Publisher
	config    Config
	now       func() time.Time
}

// NewRetryLoop creates a retry loop over w.
func NewRetryLoop(w *BadgerWAL, publisher Publisher) *RetryLoop {
	return &RetryLoop{wal: w, publisher: publisher, config: w.Config(), now: time.Now}
}

// Serve replays pending entries, then retries every RetryInterval until
// ctx is canceled.
func (r *RetryLoop) Serve(ctx context.Context) error {
	logging.Info().
		Dur("interval", r.config.RetryInterval).
		Int("max_retries", r.config.MaxRetries).
		Msg("WAL retry loop started")

	r.RetryPending(ctx)

	ticker := time.NewTicker(r.config.RetryInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			logging.Info().Msg("WAL retry loop stopped")
			return ctx.Err()
		case <-ticker.C:
			r.RetryPending(ctx)
		}
	}
}

// String names the service in supervisor logs.
func (r *RetryLoop) String() string { return "wal-retry-loop" }

// RetryPending makes one pass over the pending entries.
func (r *RetryLoop) RetryPending(ctx context.Context) PassResult {
	var res PassResult
	entries, err := r.wal.Pending(ctx)
	if err != nil {
		logging.Error().Err(err).Msg("WAL retry: failed to get pending entries")
		return res
	}
	res.Pending = len(entries)

	for _, entry := range entries {
		if ctx.Err() != nil {
			break
		}
		switch r.processEntry(ctx, entry) {
		case resultSuccess:
			res.Published++
		case resultFailure:
			res.Failed++
		case resultExpired:
			res.Expired++
		case resultMaxRetries:
			res.MaxRetried++
		case resultBackoff:
			res.Deferred++
		}
	}

	if res.Published+res.Failed+res.Expired+res.MaxRetried > 0 {
		logging.Info().
			Int("published", res.Published).
			Int("failed", res.Failed).
			Int("expired", res.Expired).
			Int("max_retried", res.MaxRetried).
			Int("deferred", res.Deferred).
			Msg("WAL retry pass complete")
	}
	return res
}

func (r *RetryLoop) processEntry(ctx context.Context, entry *Entry) string {
	log := logging.Ctx(ctx).With().Str("entry_id", entry.ID).Logger()

	if r.now().Sub(entry.CreatedAt) > r.config.EntryTTL {
		r.drop(ctx, entry)
		metrics.RecordWALRetry(resultExpired)
		log.Warn().Time("created_at", entry.CreatedAt).Msg("WAL entry expired, dropping")
		return resultExpired
	}
	if entry.Attempts >= r.config.MaxRetries {
		r.drop(ctx, entry)
		metrics.RecordWALRetry(resultMaxRetries)
		log.Warn().Int("attempts", entry.Attempts).Str("last_error", entry.LastError).Msg("WAL entry exceeded max retries, dropping")
		return resultMaxRetries
	}
	if !entry.LastAttemptAt.IsZero() && r.now().Sub(entry.LastAttemptAt) < r.backoff(entry.Attempts) {
		return resultBackoff
	}

	timeout := r.config.PublishTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	pubCtx, cancel := context.WithTimeout(ctx, timeout)
	err := r.publisher.PublishEntry(pubCtx, entry)
	cancel()

	if err != nil {
		metrics.RecordWALRetry(resultFailure)
		log.Warn().Err(err).Int("attempt", entry.Attempts+1).Msg("WAL republish failed")
		if uerr := r.wal.UpdateAttempt(ctx, entry.ID, err.Error()); uerr != nil {
			log.Error().Err(uerr).Msg("WAL failed to record attempt")
		}
		return resultFailure
	}

	metrics.RecordWALRetry(resultSuccess)
	if err := r.wal.Confirm(ctx, entry.ID); err != nil {
		log.Error().Err(err).Msg("WAL failed to confirm entry")
	}
	return resultSuccess
}

func (r *RetryLoop) drop(ctx context.Context, entry *Entry) {
	if err := r.wal.Delete(ctx, entry.ID); err != nil {
		logging.Error().Err(err).Str("entry_id", entry.ID).Msg("WAL failed to delete entry")
	}
}

// backoff is RetryBackoff * 2^(attempts-1), capped at MaxBackoff.
func (r *RetryLoop) backoff(attempts int) time.Duration {
	maxBackoff := r.config.MaxBackoff
	if maxBackoff <= 0 {
		maxBackoff = 5 * time.Minute
	}
	if attempts <= 0 {
		return 0
	}
	if attempts > 50 {
		return maxBackoff
	}
	d := time.Duration(float64(r.config.RetryBackoff) * math.Pow(2, float64(attempts-1)))
	if d <= 0 || d > maxBackoff {
		return maxBackoff
	}
	return d
}
