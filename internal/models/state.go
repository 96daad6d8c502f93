// Propfix - Event Log Property Repair and Restore
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/propfix

package models

import "time"

// Properties is an entity's property bag.
type Properties map[string]Value

// Clone returns a shallow copy. Values are immutable so a shallow copy is
// independent of the original.
func (p Properties) Clone() Properties {
	out := make(Properties, len(p))
	for k, v := range p {
		out[k] = v
	}
	return out
}

// Equal reports whether p and o hold the same keys with equal values.
func (p Properties) Equal(o Properties) bool {
	if len(p) != len(o) {
		return false
	}
	for k, v := range p {
		ov, ok := o[k]
		if !ok || !v.Equal(ov) {
			return false
		}
	}
	return true
}

// Metadata is the per-key bookkeeping stored next to an entity's properties.
type Metadata struct {
	LastUpdatedAt map[string]time.Time `json:"properties_last_updated_at"`
	LastOperation map[string]OpKind    `json:"properties_last_operation"`
}

// Clone returns an independent copy of m.
func (m Metadata) Clone() Metadata {
	out := Metadata{
		LastUpdatedAt: make(map[string]time.Time, len(m.LastUpdatedAt)),
		LastOperation: make(map[string]OpKind, len(m.LastOperation)),
	}
	for k, v := range m.LastUpdatedAt {
		out.LastUpdatedAt[k] = v
	}
	for k, v := range m.LastOperation {
		out.LastOperation[k] = v
	}
	return out
}

// Equal compares metadata maps, using time.Equal for timestamps.
func (m Metadata) Equal(o Metadata) bool {
	if len(m.LastUpdatedAt) != len(o.LastUpdatedAt) || len(m.LastOperation) != len(o.LastOperation) {
		return false
	}
	for k, ts := range m.LastUpdatedAt {
		ots, ok := o.LastUpdatedAt[k]
		if !ok || !ts.Equal(ots) {
			return false
		}
	}
	for k, op := range m.LastOperation {
		if o.LastOperation[k] != op {
			return false
		}
	}
	return true
}

// EntityState is the canonical record for one entity. Version increases by
// exactly one for every successful conditional write.
type EntityState struct {
	ID            string               `json:"id"`
	ScopeID       int64                `json:"scope_id"`
	Properties    Properties           `json:"properties"`
	LastUpdatedAt map[string]time.Time `json:"properties_last_updated_at"`
	LastOperation map[string]OpKind    `json:"properties_last_operation"`
	Version       int64                `json:"version"`
}

// NewEntityState returns an empty state at version 0.
func NewEntityState(id string, scopeID int64) *EntityState {
	return &EntityState{
		ID:            id,
		ScopeID:       scopeID,
		Properties:    Properties{},
		LastUpdatedAt: map[string]time.Time{},
		LastOperation: map[string]OpKind{},
	}
}

// Clone returns a deep copy, or nil for a nil receiver.
func (s *EntityState) Clone() *EntityState {
	if s == nil {
		return nil
	}
	meta := s.Metadata().Clone()
	return &EntityState{
		ID:            s.ID,
		ScopeID:       s.ScopeID,
		Properties:    s.Properties.Clone(),
		LastUpdatedAt: meta.LastUpdatedAt,
		LastOperation: meta.LastOperation,
		Version:       s.Version,
	}
}

// Metadata returns the per-key metadata maps (not copied).
func (s *EntityState) Metadata() Metadata {
	return Metadata{LastUpdatedAt: s.LastUpdatedAt, LastOperation: s.LastOperation}
}

// Get returns the value of key and whether it is present.
func (s *EntityState) Get(key string) (Value, bool) {
	if s == nil {
		return Value{}, false
	}
	v, ok := s.Properties[key]
	return v, ok
}

// Put stores a property with its metadata.
func (s *EntityState) Put(key string, v Value, ts time.Time, op OpKind) {
	s.ensureMaps()
	s.Properties[key] = v
	s.LastUpdatedAt[key] = ts
	s.LastOperation[key] = op
}

// Remove deletes a property and its metadata.
func (s *EntityState) Remove(key string) {
	delete(s.Properties, key)
	delete(s.LastUpdatedAt, key)
	delete(s.LastOperation, key)
}

// CopyKey makes key in s match key in src, including metadata. When src
// lacks the key it is removed from s.
func (s *EntityState) CopyKey(src *EntityState, key string) {
	v, ok := src.Get(key)
	if !ok {
		s.Remove(key)
		return
	}
	s.ensureMaps()
	s.Properties[key] = v
	if ts, ok := src.LastUpdatedAt[key]; ok {
		s.LastUpdatedAt[key] = ts
	} else {
		delete(s.LastUpdatedAt, key)
	}
	if op, ok := src.LastOperation[key]; ok {
		s.LastOperation[key] = op
	} else {
		delete(s.LastOperation, key)
	}
}

// ContentEqual compares properties and metadata, ignoring id and version.
func (s *EntityState) ContentEqual(o *EntityState) bool {
	if s == nil || o == nil {
		return s == o
	}
	return s.Properties.Equal(o.Properties) && s.Metadata().Equal(o.Metadata())
}

// KeyEqual reports whether key has the same presence and value in s and o.
func (s *EntityState) KeyEqual(o *EntityState, key string) bool {
	a, aok := s.Get(key)
	b, bok := o.Get(key)
	if aok != bok {
		return false
	}
	return !aok || a.Equal(b)
}

func (s *EntityState) ensureMaps() {
	if s.Properties == nil {
		s.Properties = Properties{}
	}
	if s.LastUpdatedAt == nil {
		s.LastUpdatedAt = map[string]time.Time{}
	}
	if s.LastOperation == nil {
		s.LastOperation = map[string]OpKind{}
	}
}
