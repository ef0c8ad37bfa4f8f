// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package dispatch

import (
	"io"

	"github.com/jeranaias/rigrun-dispatch/internal/joblog"
	"github.com/jeranaias/rigrun-dispatch/internal/registry"
)

// =============================================================================
// QUERY SURFACE
// =============================================================================

// JobLogs returns the job records matching every filter, oldest first.
func (d *Dispatcher) JobLogs(filters ...joblog.Filter) []joblog.Record {
	return d.store.All(filters...)
}

// UsageSnapshot folds the full job log into usage statistics.
func (d *Dispatcher) UsageSnapshot() joblog.Snapshot {
	return d.store.Snapshot()
}

// ClearJobLogs removes every job record.
func (d *Dispatcher) ClearJobLogs() {
	d.store.Clear()
	d.logger.Info().Msg("JOBLOG_CLEARED")
}

// ExportCSV writes the matching job records in the export format.
func (d *Dispatcher) ExportCSV(w io.Writer, filters ...joblog.Filter) error {
	return joblog.WriteCSV(w, d.store.All(filters...))
}

// ListActiveJobs returns the ids of in-flight jobs.
func (d *Dispatcher) ListActiveJobs() []string {
	return d.active.List()
}

// ActiveJobs returns a snapshot of in-flight jobs.
func (d *Dispatcher) ActiveJobs() []JobInfo {
	return d.active.Jobs()
}

// CancelJob cancels an in-flight job. It returns false when id is unknown or
// already finished.
func (d *Dispatcher) CancelJob(id string) bool {
	ok := d.active.Cancel(id)
	if ok {
		d.logger.Info().Str("job", id).Msg("JOB_CANCEL_REQUESTED")
	}
	return ok
}

// CancelAll cancels every in-flight job.
func (d *Dispatcher) CancelAll() int {
	return d.active.CancelAll()
}

// BackendAvailability returns the effective availability of every backend.
func (d *Dispatcher) BackendAvailability() map[string]bool {
	return d.registry.Availability()
}

// SetBackendAvailability is the administrative override for one backend.
func (d *Dispatcher) SetBackendAvailability(id string, available bool) error {
	if err := d.registry.SetAvailability(id, available); err != nil {
		return err
	}
	d.logger.Info().Str("backend", id).Bool("available", available).Msg("BACKEND_AVAILABILITY_SET")
	return nil
}

// Backends returns every backend with its current availability.
func (d *Dispatcher) Backends() []registry.Status {
	return d.registry.Statuses()
}
