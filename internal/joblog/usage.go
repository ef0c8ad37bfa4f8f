// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package joblog

import (
	"sort"
	"time"
)

// BackendUsage is the per-backend slice of a Snapshot.
type BackendUsage struct {
	Backend       string        `json:"backend"`
	Jobs          int           `json:"jobs"`
	Successes     int           `json:"successes"`
	Failures      int           `json:"failures"`
	Tokens        int           `json:"tokens"`
	Cost          float64       `json:"cost"`
	TotalDuration time.Duration `json:"-"`
	AvgDurationMs float64       `json:"avg_duration_ms"`
}

// Snapshot is usage statistics derived from a set of records.
type Snapshot struct {
	TotalJobs     int                     `json:"total_jobs"`
	Successes     int                     `json:"successes"`
	Failures      int                     `json:"failures"`
	SuccessRate   float64                 `json:"success_rate"`
	AvgDuration   time.Duration           `json:"-"`
	AvgDurationMs float64                 `json:"avg_duration_ms"`
	TotalCost     float64                 `json:"total_cost"`
	TotalTokens   int                     `json:"total_tokens"`
	ByBackend     map[string]BackendUsage `json:"by_backend"`
	ByCategory    map[string]int          `json:"by_category"`
}

// Aggregate folds records into a Snapshot. It has no side effects.
func Aggregate(records []Record) Snapshot {
	snap := Snapshot{
		ByBackend:  make(map[string]BackendUsage),
		ByCategory: make(map[string]int),
	}

	var totalDuration time.Duration
	for _, r := range records {
		snap.TotalJobs++
		if r.Success {
			snap.Successes++
		} else {
			snap.Failures++
		}
		snap.TotalCost += r.Cost
		snap.TotalTokens += r.Tokens
		totalDuration += r.Duration

		snap.ByCategory[string(r.Category)]++

		key := r.BackendKey()
		bu := snap.ByBackend[key]
		bu.Backend = key
		bu.Add(r)
		snap.ByBackend[key] = bu
	}

	if snap.TotalJobs > 0 {
		snap.SuccessRate = float64(snap.Successes) / float64(snap.TotalJobs)
		snap.AvgDuration = totalDuration / time.Duration(snap.TotalJobs)
		snap.AvgDurationMs = durationMs(totalDuration) / float64(snap.TotalJobs)
	}
	return snap
}

// Add folds one record into u.
func (u *BackendUsage) Add(r Record) {
	u.Jobs++
	if r.Success {
		u.Successes++
	} else {
		u.Failures++
	}
	u.Tokens += r.Tokens
	u.Cost += r.Cost
	u.TotalDuration += r.Duration
	u.AvgDurationMs = durationMs(u.TotalDuration) / float64(u.Jobs)
}

// SuccessRate returns successes/jobs, or 0 with no jobs.
func (u BackendUsage) SuccessRate() float64 {
	if u.Jobs == 0 {
		return 0
	}
	return float64(u.Successes) / float64(u.Jobs)
}

// BackendsByCost returns the per-backend entries sorted by cost descending,
// then by backend id.
func (s Snapshot) BackendsByCost() []BackendUsage {
	out := make([]BackendUsage, 0, len(s.ByBackend))
	for _, bu := range s.ByBackend {
		out = append(out, bu)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Cost != out[j].Cost {
			return out[i].Cost > out[j].Cost
		}
		return out[i].Backend < out[j].Backend
	})
	return out
}

func durationMs(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}
