// Propfix - Event Log Property Repair and Restore
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/propfix

package logging

import (
	"bytes"
	"errors"
	"log/slog"
	"strings"
	"testing"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/rs/zerolog"
)

func TestSlogHandler_WritesThroughZerolog(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	h := &SlogHandler{logger: NewTestLogger(&buf)}
	logger := slog.New(h).With("service", "wal-retry").WithGroup("event")

	logger.Warn("service restarted", "attempt", 3, "err", errors.New("boom"))

	out := buf.String()
	for _, want := range []string{
		`"level":"warn"`,
		`"service":"wal-retry"`,
		`"event.attempt":3`,
		`"event.err":"boom"`,
		"service restarted",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("expected %s in output, got: %s", want, out)
		}
	}
}

func TestSlogHandler_Enabled(t *testing.T) {
	t.Parallel()

	h := &SlogHandler{logger: zerolog.New(&bytes.Buffer{}).Level(zerolog.WarnLevel)}
	if h.Enabled(t.Context(), slog.LevelInfo) {
		t.Error("info should be disabled for a warn logger")
	}
	if !h.Enabled(t.Context(), slog.LevelError) {
		t.Error("error should be enabled for a warn logger")
	}
}

func TestWatermillAdapter(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	a := NewWatermillAdapterWithLogger(NewTestLogger(&buf))

	a.With(watermill.LogFields{"topic": "propfix.entities"}).
		Error("publish failed", errors.New("nats down"), watermill.LogFields{"uuid": "m1"})

	out := buf.String()
	for _, want := range []string{`"topic":"propfix.entities"`, `"uuid":"m1"`, `"error":"nats down"`, "publish failed"} {
		if !strings.Contains(out, want) {
			t.Errorf("expected %s in output, got: %s", want, out)
		}
	}
}
