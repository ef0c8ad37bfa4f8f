// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package telemetry

import (
	"fmt"
	"sort"
	"sync"

	"github.com/jeranaias/rigrun-dispatch/internal/joblog"
)

// Counters tracks per-backend running totals.
// All methods are safe for concurrent access.
type Counters struct {
	mu       sync.RWMutex
	backends map[string]*joblog.BackendUsage
}

// NewCounters creates an empty Counters.
func NewCounters() *Counters {
	return &Counters{backends: make(map[string]*joblog.BackendUsage)}
}

// Observe implements joblog.Observer.
func (c *Counters) Observe(r joblog.Record) {
	c.mu.Lock()
	defer c.mu.Unlock()

	key := r.BackendKey()
	bu, ok := c.backends[key]
	if !ok {
		bu = &joblog.BackendUsage{Backend: key}
		c.backends[key] = bu
	}
	bu.Add(r)
}

// Reset implements joblog.Observer.
func (c *Counters) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.backends = make(map[string]*joblog.BackendUsage)
}

// Backend returns the totals for one backend key.
func (c *Counters) Backend(key string) (joblog.BackendUsage, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	bu, ok := c.backends[key]
	if !ok {
		return joblog.BackendUsage{}, false
	}
	return *bu, true
}

// Snapshot returns a copy of every backend's totals.
func (c *Counters) Snapshot() map[string]joblog.BackendUsage {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make(map[string]joblog.BackendUsage, len(c.backends))
	for k, bu := range c.backends {
		out[k] = *bu
	}
	return out
}

// Summary returns a one-line human-readable summary.
func (c *Counters) Summary() string {
	snap := c.Snapshot()
	if len(snap) == 0 {
		return "No dispatch attempts recorded yet"
	}

	keys := make([]string, 0, len(snap))
	jobs, successes := 0, 0
	cost := 0.0
	for k, bu := range snap {
		keys = append(keys, k)
		jobs += bu.Jobs
		successes += bu.Successes
		cost += bu.Cost
	}
	sort.Strings(keys)

	return fmt.Sprintf("Dispatch: %d attempts (%.0f%% ok) across %d backends | Cost: %.6f",
		jobs, float64(successes)/float64(jobs)*100, len(keys), cost)
}
