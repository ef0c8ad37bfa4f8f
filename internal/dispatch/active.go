// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package dispatch

import (
	"context"
	"errors"
	"sort"
	"sync"
)

// errJobCancelled is the context cause set by ActiveSet.Cancel.
var errJobCancelled = errors.New("job cancelled")

// Gauge tracks the number of active jobs. prometheus.Gauge satisfies it.
type Gauge interface {
	Inc()
	Dec()
}

type activeEntry struct {
	job    *Job
	cancel context.CancelCauseFunc
}

// ActiveSet maps in-flight job ids to their cancellation handles.
// A job id is present from the start of its pipeline until it terminates
// or is cancelled. All methods are safe for concurrent use.
type ActiveSet struct {
	mu      sync.Mutex
	running map[string]activeEntry
	gauge   Gauge
}

// NewActiveSet creates an empty set. gauge may be nil.
func NewActiveSet(gauge Gauge) *ActiveSet {
	return &ActiveSet{
		running: make(map[string]activeEntry),
		gauge:   gauge,
	}
}

// add registers a job. It reports false if the id is already present.
func (a *ActiveSet) add(job *Job, cancel context.CancelCauseFunc) bool {
	a.mu.Lock()
	defer a.mu.Unlock()

	if _, exists := a.running[job.ID]; exists {
		return false
	}
	a.running[job.ID] = activeEntry{job: job, cancel: cancel}
	if a.gauge != nil {
		a.gauge.Inc()
	}
	return true
}

// remove drops id without signalling it. Removing an absent id is a no-op.
func (a *ActiveSet) remove(id string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.removeLocked(id)
}

func (a *ActiveSet) removeLocked(id string) bool {
	if _, ok := a.running[id]; !ok {
		return false
	}
	delete(a.running, id)
	if a.gauge != nil {
		a.gauge.Dec()
	}
	return true
}

// Cancel signals the job's cancellation handle and removes it. It returns
// false for unknown or already terminated ids.
func (a *ActiveSet) Cancel(id string) bool {
	a.mu.Lock()
	entry, ok := a.running[id]
	if ok {
		a.removeLocked(id)
	}
	a.mu.Unlock()

	if !ok {
		return false
	}
	entry.cancel(errJobCancelled)
	return true
}

// CancelAll cancels every active job and returns how many were signalled.
func (a *ActiveSet) CancelAll() int {
	a.mu.Lock()
	entries := make([]activeEntry, 0, len(a.running))
	for id, e := range a.running {
		entries = append(entries, e)
		a.removeLocked(id)
	}
	a.mu.Unlock()

	for _, e := range entries {
		e.cancel(errJobCancelled)
	}
	return len(entries)
}

// Contains reports whether id is active.
func (a *ActiveSet) Contains(id string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	_, ok := a.running[id]
	return ok
}

// List returns a sorted snapshot of active job ids.
func (a *ActiveSet) List() []string {
	a.mu.Lock()
	defer a.mu.Unlock()

	ids := make([]string, 0, len(a.running))
	for id := range a.running {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Jobs returns a snapshot of every active job, oldest first.
func (a *ActiveSet) Jobs() []JobInfo {
	a.mu.Lock()
	infos := make([]JobInfo, 0, len(a.running))
	for _, e := range a.running {
		infos = append(infos, e.job.Info())
	}
	a.mu.Unlock()

	sort.Slice(infos, func(i, j int) bool {
		if !infos[i].StartedAt.Equal(infos[j].StartedAt) {
			return infos[i].StartedAt.Before(infos[j].StartedAt)
		}
		return infos[i].ID < infos[j].ID
	})
	return infos
}

// Len returns the number of active jobs.
func (a *ActiveSet) Len() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.running)
}
