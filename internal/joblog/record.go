// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package joblog

import (
	"time"

	"github.com/jeranaias/rigrun-dispatch/internal/router"
)

// UnroutedKey groups records that never reached a backend.
const UnroutedKey = "unrouted"

// Record is the immutable audit entry for one executed attempt.
type Record struct {
	ID        string          `json:"id"`
	JobID     string          `json:"job_id"`
	Attempt   int             `json:"attempt"`
	Timestamp time.Time       `json:"timestamp"`
	Prompt    string          `json:"prompt"`
	Category  router.Category `json:"category"`
	Tier      router.Tier     `json:"tier"`
	Backend   string          `json:"backend"`

	Success   bool   `json:"success"`
	ErrorKind string `json:"error_kind,omitempty"`
	Error     string `json:"error,omitempty"`

	Duration time.Duration `json:"duration_ns"`
	Tokens   int           `json:"tokens"`
	Cost     float64       `json:"cost"`

	Rationale string `json:"rationale"`
}

// DurationMs returns the duration in whole milliseconds.
func (r Record) DurationMs() int64 {
	return r.Duration.Milliseconds()
}

// BackendKey is the key the record is grouped under in per-backend views.
func (r Record) BackendKey() string {
	if r.Backend == "" {
		return UnroutedKey
	}
	return r.Backend
}

// =============================================================================
// FILTERS
// =============================================================================

// Filter selects records. A nil Filter matches everything.
type Filter func(Record) bool

// ByBackend matches records produced by the given backend.
func ByBackend(id string) Filter {
	return func(r Record) bool { return r.Backend == id }
}

// ByCategory matches records of the given task category.
func ByCategory(c router.Category) Filter {
	return func(r Record) bool { return r.Category == c }
}

// BySuccess matches successful (true) or failed (false) attempts.
func BySuccess(success bool) Filter {
	return func(r Record) bool { return r.Success == success }
}

// ByJob matches every attempt of one job.
func ByJob(jobID string) Filter {
	return func(r Record) bool { return r.JobID == jobID }
}

// Since matches records at or after t.
func Since(t time.Time) Filter {
	return func(r Record) bool { return !r.Timestamp.Before(t) }
}

// Until matches records strictly before t.
func Until(t time.Time) Filter {
	return func(r Record) bool { return r.Timestamp.Before(t) }
}

// Match reports whether r passes every filter.
func Match(r Record, filters ...Filter) bool {
	for _, f := range filters {
		if f != nil && !f(r) {
			return false
		}
	}
	return true
}
