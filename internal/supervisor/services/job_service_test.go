// Propfix - Event Log Property Repair and Restore
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/propfix

package services

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/thejerf/suture/v4"

	"github.com/tomtom215/propfix/internal/models"
)

func TestJobService_RunsOnce(t *testing.T) {
	var runs atomic.Int32
	svc := NewJobService("repair-job", func(ctx context.Context) (*models.JobResult, error) {
		runs.Add(1)
		return &models.JobResult{JobID: "job-1", Kind: models.JobRepair}, nil
	})

	if svc.Started() {
		t.Fatal("Started before Serve")
	}
	for i := 0; i < 2; i++ {
		if err := svc.Serve(context.Background()); !errors.Is(err, suture.ErrDoNotRestart) {
			t.Fatalf("Serve = %v, want ErrDoNotRestart", err)
		}
	}
	if runs.Load() != 1 {
		t.Errorf("job ran %d times, want 1", runs.Load())
	}
	if !svc.Started() {
		t.Error("Started = false after Serve")
	}

	select {
	case <-svc.Done():
	default:
		t.Fatal("Done not closed")
	}
	res, err := svc.Result()
	if err != nil || res.JobID != "job-1" {
		t.Errorf("Result = %+v, %v", res, err)
	}
	if svc.String() != "repair-job" {
		t.Errorf("String = %q", svc.String())
	}
}

func TestJobService_ReportsError(t *testing.T) {
	boom := errors.New("scope failed")
	svc := NewJobService("restore-job", func(context.Context) (*models.JobResult, error) {
		return nil, boom
	})
	_ = svc.Serve(context.Background())
	if _, err := svc.Result(); !errors.Is(err, boom) {
		t.Errorf("err = %v, want %v", err, boom)
	}
}

func TestJobService_RecoversPanic(t *testing.T) {
	svc := NewJobService("panicky", func(context.Context) (*models.JobResult, error) {
		panic("nil map")
	})
	if err := svc.Serve(context.Background()); !errors.Is(err, suture.ErrDoNotRestart) {
		t.Fatalf("Serve = %v", err)
	}
	if _, err := svc.Result(); err == nil {
		t.Error("expected panic to surface as error")
	}
}

func TestJobService_UnderSupervisor(t *testing.T) {
	svc := NewJobService("job", func(ctx context.Context) (*models.JobResult, error) {
		return &models.JobResult{JobID: "job-2"}, nil
	})
	sup := suture.NewSimple("test")
	sup.Add(svc)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	errCh := sup.ServeBackground(ctx)

	select {
	case <-svc.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("job did not finish")
	}
	cancel()
	<-errCh

	if res, _ := svc.Result(); res == nil || res.JobID != "job-2" {
		t.Errorf("Result = %+v", res)
	}
}
