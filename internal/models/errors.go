// Propfix - Event Log Property Repair and Restore
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/propfix

package models

import (
	"errors"
	"fmt"
)

// Error taxonomy shared by every component. Callers classify with errors.Is.
var (
	// ErrNotFound is returned when an entity has no canonical record.
	// Terminal for that entity: it is skipped, never retried.
	ErrNotFound = errors.New("entity not found")

	// ErrVersionConflict is returned when a conditional write matched zero
	// rows because another writer bumped the version first.
	ErrVersionConflict = errors.New("version conflict")

	// ErrValidation marks malformed input. A job that fails validation
	// performs no writes.
	ErrValidation = errors.New("validation failed")

	// ErrTransport marks audit or propagation failures. They are logged and
	// never change the outcome of a canonical write.
	ErrTransport = errors.New("transport failure")
)

// ScopeError records an unrecoverable failure while processing one scope,
// with the counts accumulated before the failure. Sibling scopes keep running.
type ScopeError struct {
	ScopeID int64
	Partial RunResult
	Err     error
}

func (e *ScopeError) Error() string {
	return fmt.Sprintf("scope %d failed after %d processed (%d updated): %v",
		e.ScopeID, e.Partial.Processed, e.Partial.Updated, e.Err)
}

func (e *ScopeError) Unwrap() error { return e.Err }

// NewValidationError wraps a message in ErrValidation.
func NewValidationError(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

// Transport wraps err so that errors.Is(err, ErrTransport) holds.
func Transport(op string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w: %w", op, ErrTransport, err)
}
