// Propfix - Event Log Property Repair and Restore
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/propfix

package services

import (
	"context"
	"fmt"
	"sync"

	"github.com/thejerf/suture/v4"

	"github.com/tomtom215/propfix/internal/logging"
	"github.com/tomtom215/propfix/internal/models"
)

// JobFunc runs one repair or restore job.
type JobFunc func(ctx context.Context) (*models.JobResult, error)

// JobService runs a job exactly once under supervision. A panic inside the
// job is recovered and reported as the job error; the job is never
// restarted.
type JobService struct {
	name string
	run  JobFunc

	once    sync.Once
	started chan struct{}
	done    chan struct{}
	result *models.JobResult
	err    error
}

// NewJobService wraps run.
func NewJobService(name string, run JobFunc) *JobService {
	return &JobService{name: name, run: run, started: make(chan struct{}), done: make(chan struct{})}
}

// Serve implements suture.Service.
func (s *JobService) Serve(ctx context.Context) error {
	s.once.Do(func() { s.execute(ctx) })
	return suture.ErrDoNotRestart
}

func (s *JobService) execute(ctx context.Context) {
	close(s.started)
	defer close(s.done)
	defer func() {
		if r := recover(); r != nil {
			s.err = fmt.Errorf("%s panicked: %v", s.name, r)
			logging.Error().Str("service", s.name).Interface("panic", r).Msg("Job panicked")
		}
	}()
	s.result, s.err = s.run(ctx)
}

// Started reports whether the supervisor has called Serve.
func (s *JobService) Started() bool {
	select {
	case <-s.started:
		return true
	default:
		return false
	}
}

// Done is closed when the job has finished.
func (s *JobService) Done() <-chan struct{} {
	return s.done
}

// Result returns the job result and error. Only valid after Done is closed.
func (s *JobService) Result() (*models.JobResult, error) {
	return s.result, s.err
}

func (s *JobService) String() string {
	return s.name
}
