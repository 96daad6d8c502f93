// Propfix - Event Log Property Repair and Restore
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/propfix

package eventlog

import (
	"context"
	"sync"
	"time"

	"github.com/tomtom215/propfix/internal/models"
)

// MemorySource is an in-memory event log for tests and fixtures. It is safe
// for concurrent use, including appends while a repair is reading.
type MemorySource struct {
	mu     sync.RWMutex
	events []Event
	deny   DenyList
}

// NewMemorySource creates an empty in-memory event log.
func NewMemorySource(deny DenyList) *MemorySource {
	return &MemorySource{deny: deny}
}

// Append adds events to the log.
func (s *MemorySource) Append(events ...Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, events...)
}

// DiffForWindow implements DiffSource.
func (s *MemorySource) DiffForWindow(ctx context.Context, scopeID int64, start, end time.Time) ([]*models.CandidateDiff, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return Aggregate(s.events, s.deny, scopeID, start, end), nil
}

var _ DiffSource = (*MemorySource)(nil)
