// Propfix - Event Log Property Repair and Restore
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/propfix

package propagate

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/tomtom215/propfix/internal/wal"
)

func openOutboxWAL(t *testing.T) *wal.BadgerWAL {
	t.Helper()
	cfg := wal.DefaultConfig()
	cfg.Path = ""
	cfg.InMemory = true
	cfg.RetryInterval = 10 * time.Millisecond
	cfg.RetryBackoff = time.Millisecond
	w, err := wal.Open(cfg)
	if err != nil {
		t.Fatalf("open wal: %v", err)
	}
	t.Cleanup(func() { _ = w.Close() })
	return w
}

func TestOutbox_PublishSuccessSkipsWAL(t *testing.T) {
	w := openOutboxWAL(t)
	next := NewMemoryPropagator()
	o := NewOutbox(next, w)

	if err := o.Publish(context.Background(), testSnapshot("u1", 1)); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	if n, _ := w.Count(); n != 0 {
		t.Errorf("wal count = %d, want 0", n)
	}
	if len(next.Snapshots()) != 1 {
		t.Errorf("snapshots = %d, want 1", len(next.Snapshots()))
	}
}

func TestOutbox_QueuesAndRetries(t *testing.T) {
	ctx := context.Background()
	w := openOutboxWAL(t)
	next := NewMemoryPropagator()
	next.FailWith(errors.New("broker unavailable"))
	o := NewOutbox(next, w)

	if err := o.Publish(ctx, testSnapshot("u1", 3)); err != nil {
		t.Fatalf("Publish should swallow a queued failure: %v", err)
	}
	if n, _ := w.Count(); n != 1 {
		t.Fatalf("wal count = %d, want 1", n)
	}

	loop := o.RetryLoop()
	res := loop.RetryPending(ctx)
	if res.Failed != 1 || res.Published != 0 {
		t.Fatalf("first pass = %+v, want one failure", res)
	}

	next.FailWith(nil)
	time.Sleep(5 * time.Millisecond)
	res = loop.RetryPending(ctx)
	if res.Published != 1 {
		t.Fatalf("second pass = %+v, want one published", res)
	}
	if n, _ := w.Count(); n != 0 {
		t.Errorf("wal count after drain = %d, want 0", n)
	}

	snaps := next.Snapshots()
	if len(snaps) != 1 || snaps[0].State.ID != "u1" || snaps[0].State.Version != 3 {
		t.Errorf("snapshots = %+v", snaps)
	}
}

func TestOutbox_WALFailureReturnsBothErrors(t *testing.T) {
	w := openOutboxWAL(t)
	publishErr := errors.New("broker unavailable")
	next := NewMemoryPropagator()
	next.FailWith(publishErr)
	o := NewOutbox(next, w)

	if err := w.Close(); err != nil {
		t.Fatal(err)
	}
	err := o.Publish(context.Background(), testSnapshot("u1", 1))
	if !errors.Is(err, publishErr) {
		t.Errorf("err = %v, want publish error", err)
	}
	if !errors.Is(err, wal.ErrWALClosed) {
		t.Errorf("err = %v, want wal closed", err)
	}
}
