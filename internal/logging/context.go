// Propfix - Event Log Property Repair and Restore
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/propfix

package logging

import (
	"context"

	"github.com/rs/zerolog"
)

type contextKey string

const (
	jobIDKey   contextKey = "job_id"
	scopeIDKey contextKey = "scope_id"
	loggerKey  contextKey = "logger"
)

// ContextWithJobID returns a new context carrying the repair or restore job id.
func ContextWithJobID(ctx context.Context, jobID string) context.Context {
	return context.WithValue(ctx, jobIDKey, jobID)
}

// JobIDFromContext returns the job id stored in ctx, or "".
func JobIDFromContext(ctx context.Context) string {
	if id, ok := ctx.Value(jobIDKey).(string); ok {
		return id
	}
	return ""
}

// ContextWithScopeID returns a new context carrying the scope being processed.
func ContextWithScopeID(ctx context.Context, scopeID int64) context.Context {
	return context.WithValue(ctx, scopeIDKey, scopeID)
}

// ScopeIDFromContext returns the scope id stored in ctx.
func ScopeIDFromContext(ctx context.Context) (int64, bool) {
	id, ok := ctx.Value(scopeIDKey).(int64)
	return id, ok
}

// ContextWithLogger stores a logger in the context.
//
//nolint:gocritic // zerolog.Logger is designed to be passed by value
func ContextWithLogger(ctx context.Context, logger zerolog.Logger) context.Context {
	return context.WithValue(ctx, loggerKey, logger)
}

// LoggerFromContext retrieves a logger from context, falling back to the
// global logger.
func LoggerFromContext(ctx context.Context) zerolog.Logger {
	if logger, ok := ctx.Value(loggerKey).(zerolog.Logger); ok {
		return logger
	}
	return Logger()
}

// Ctx returns a logger with job_id and scope_id added from ctx when present.
//
//	logging.Ctx(ctx).Info().Int("updated", n).Msg("Scope finished")
//	// {"level":"info","job_id":"...","scope_id":42,"updated":3,"message":"Scope finished"}
func Ctx(ctx context.Context) *zerolog.Logger {
	l := CtxWith(ctx).Logger()
	return &l
}

// CtxWith returns a logger context builder with the context fields
// pre-populated, for callers that add more fields before building.
func CtxWith(ctx context.Context) zerolog.Context {
	logger := LoggerFromContext(ctx)
	logCtx := logger.With()
	if jobID := JobIDFromContext(ctx); jobID != "" {
		logCtx = logCtx.Str("job_id", jobID)
	}
	if scopeID, ok := ScopeIDFromContext(ctx); ok {
		logCtx = logCtx.Int64("scope_id", scopeID)
	}
	return logCtx
}

// WithComponent creates a child logger with a component field.
func WithComponent(component string) zerolog.Logger {
	return With().Str("component", component).Logger()
}
