// Propfix - Event Log Property Repair and Restore
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/propfix

// Package wal is a durable outbox for downstream publishes, backed by
// BadgerDB.
//
// A snapshot whose publish failed is written to the WAL instead of being
// retried inline, so a slow or unavailable broker never holds up a chunk.
// A supervised RetryLoop republishes pending entries with exponential
// backoff and removes them once confirmed.
//
// Entry lifecycle:
//
//	Write -> pending -> PublishEntry ok -> Confirm (deleted)
//	                 -> PublishEntry fails -> UpdateAttempt -> retried later
//	                 -> older than EntryTTL or MaxRetries reached -> Delete
//
// The loop replays everything still pending when it starts, which covers
// recovery after a crash.
package wal
