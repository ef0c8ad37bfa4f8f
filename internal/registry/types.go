// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package registry

import (
	"fmt"
	"strings"
	"time"
)

// =============================================================================
// LATENCY CLASS
// =============================================================================

// LatencyClass is a coarse expected-latency bucket for a backend.
type LatencyClass string

const (
	LatencyLow    LatencyClass = "low"
	LatencyMedium LatencyClass = "medium"
	LatencyHigh   LatencyClass = "high"
)

// ParseLatencyClass converts a string to a LatencyClass.
func ParseLatencyClass(s string) (LatencyClass, error) {
	switch LatencyClass(strings.ToLower(strings.TrimSpace(s))) {
	case LatencyLow:
		return LatencyLow, nil
	case LatencyMedium, "":
		return LatencyMedium, nil
	case LatencyHigh:
		return LatencyHigh, nil
	default:
		return "", fmt.Errorf("unknown latency class %q (want low, medium or high)", s)
	}
}

// TypicalLatency returns a representative response time for the class.
// Stub backends use it as their simulated latency when none is configured.
func (l LatencyClass) TypicalLatency() time.Duration {
	switch l {
	case LatencyLow:
		return 40 * time.Millisecond
	case LatencyHigh:
		return 400 * time.Millisecond
	default:
		return 150 * time.Millisecond
	}
}

// =============================================================================
// DESCRIPTOR
// =============================================================================

// Descriptor describes one backend. It is never modified after registration.
type Descriptor struct {
	ID           string       `json:"id"`
	Name         string       `json:"name"`
	CostPerUnit  float64      `json:"cost_per_unit"`
	Latency      LatencyClass `json:"latency"`
	Premium      bool         `json:"premium"`
	Capabilities []string     `json:"capabilities,omitempty"`

	// SimulatedLatency overrides the latency class for stub invocations.
	SimulatedLatency time.Duration `json:"simulated_latency,omitempty"`
}

// HasCapability reports whether the backend advertises the given tag.
func (d Descriptor) HasCapability(tag string) bool {
	for _, c := range d.Capabilities {
		if strings.EqualFold(c, tag) {
			return true
		}
	}
	return false
}

// DisplayName returns Name, or ID when no name is set.
func (d Descriptor) DisplayName() string {
	if d.Name != "" {
		return d.Name
	}
	return d.ID
}

// clone returns a copy whose Capabilities slice is not shared.
func (d Descriptor) clone() Descriptor {
	if d.Capabilities != nil {
		caps := make([]string, len(d.Capabilities))
		copy(caps, d.Capabilities)
		d.Capabilities = caps
	}
	return d
}

// Status is a point-in-time view of a backend and its availability.
type Status struct {
	Descriptor
	Available bool `json:"available"`

	// CooldownUntil is set while the backend is cooling down after a failure.
	CooldownUntil *time.Time `json:"cooldown_until,omitempty"`
}

// =============================================================================
// CLOCK
// =============================================================================

// Clock is the time source used for cooldown bookkeeping.
type Clock interface {
	Now() time.Time
}

// SystemClock reads the wall clock.
type SystemClock struct{}

// Now returns time.Now().
func (SystemClock) Now() time.Time { return time.Now() }
