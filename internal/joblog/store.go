// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package joblog

import (
	"sync"

	"github.com/google/uuid"
)

// Observer is notified of store mutations while the store lock is held.
// Implementations must not block and must not call back into the store.
type Observer interface {
	Observe(Record)
	Reset()
}

// Store is the in-memory, append-only job log. It is safe for concurrent use.
type Store struct {
	mu        sync.RWMutex
	records   []Record
	observers []Observer
}

// NewStore creates an empty store with optional observers.
func NewStore(observers ...Observer) *Store {
	return &Store{observers: observers}
}

// Attach adds an observer. Records already in the store are replayed to it
// so its state matches the log from the start.
func (s *Store) Attach(o Observer) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, r := range s.records {
		o.Observe(r)
	}
	s.observers = append(s.observers, o)
}

// Append adds r to the log and returns it as stored. An empty ID is filled
// with a new UUID.
func (s *Store) Append(r Record) Record {
	if r.ID == "" {
		r.ID = uuid.NewString()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.records = append(s.records, r)
	for _, o := range s.observers {
		o.Observe(r)
	}
	return r
}

// All returns a copy of the records matching every filter, oldest first.
func (s *Store) All(filters ...Filter) []Record {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Record, 0, len(s.records))
	for _, r := range s.records {
		if Match(r, filters...) {
			out = append(out, r)
		}
	}
	return out
}

// Len returns the number of records.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}

// Clear removes every record and resets observers.
func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.records = nil
	for _, o := range s.observers {
		o.Reset()
	}
}

// Snapshot folds the matching records into usage statistics.
func (s *Store) Snapshot(filters ...Filter) Snapshot {
	return Aggregate(s.All(filters...))
}
