// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package dispatch

import (
	"sync"
	"time"

	"github.com/jeranaias/rigrun-dispatch/internal/router"
)

// =============================================================================
// JOB STATE
// =============================================================================

// State is a step of the dispatch state machine.
type State string

const (
	StateClassifying          State = "classifying"
	StateSelecting            State = "selecting"
	StateCheckingAvailability State = "checking_availability"
	StateInvoking             State = "invoking"
	StateRetrying             State = "retrying"
	StateSucceeded            State = "succeeded"
	StateFailed               State = "failed"
)

// IsTerminal reports whether no further transitions can happen.
func (s State) IsTerminal() bool {
	return s == StateSucceeded || s == StateFailed
}

// =============================================================================
// JOB
// =============================================================================

// Job is a handle to one request's pipeline.
type Job struct {
	ID        string
	StartedAt time.Time

	mu       sync.RWMutex
	state    State
	category router.Category
	backend  string
	attempt  int

	done   chan struct{}
	result *Result
	err    error
}

// JobInfo is a point-in-time view of an in-flight job.
type JobInfo struct {
	ID        string          `json:"id"`
	State     State           `json:"state"`
	Category  router.Category `json:"category,omitempty"`
	Backend   string          `json:"backend,omitempty"`
	Attempt   int             `json:"attempt"`
	StartedAt time.Time       `json:"started_at"`
}

func newJob(id string, now time.Time) *Job {
	return &Job{
		ID:        id,
		StartedAt: now,
		state:     StateClassifying,
		done:      make(chan struct{}),
	}
}

// Done is closed when the job reaches a terminal state.
func (j *Job) Done() <-chan struct{} {
	return j.done
}

// Wait blocks until the job finishes and returns its outcome.
func (j *Job) Wait() (*Result, error) {
	<-j.done
	return j.result, j.err
}

// State returns the current state.
func (j *Job) State() State {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.state
}

// Info returns a snapshot of the job.
func (j *Job) Info() JobInfo {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return JobInfo{
		ID:        j.ID,
		State:     j.state,
		Category:  j.category,
		Backend:   j.backend,
		Attempt:   j.attempt,
		StartedAt: j.StartedAt,
	}
}

func (j *Job) setState(s State) {
	j.mu.Lock()
	j.state = s
	j.mu.Unlock()
}

func (j *Job) setCategory(c router.Category) {
	j.mu.Lock()
	j.category = c
	j.mu.Unlock()
}

func (j *Job) beginAttempt(attempt int, backendID string) {
	j.mu.Lock()
	j.state = StateInvoking
	j.attempt = attempt
	j.backend = backendID
	j.mu.Unlock()
}

// finish records the outcome and releases waiters. It must be called once.
func (j *Job) finish(res *Result, err error) {
	j.mu.Lock()
	if err != nil {
		j.state = StateFailed
	} else {
		j.state = StateSucceeded
	}
	j.result = res
	j.err = err
	j.mu.Unlock()
	close(j.done)
}
