// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package router

import (
	"errors"
	"fmt"

	"github.com/jeranaias/rigrun-dispatch/internal/registry"
)

// ErrNoBackendAvailable is returned when no backend survives filtering.
var ErrNoBackendAvailable = errors.New("no backend available")

// Catalog is the registry view the selector reads.
type Catalog interface {
	Available() []registry.Descriptor
}

// DefaultPreferences returns the built-in category to backend table.
func DefaultPreferences() map[Category]string {
	return map[Category]string{
		CategoryDebugging:   registry.BackendDebugSpecialist,
		CategoryIntegration: registry.BackendIntegrationExpert,
		CategoryReasoning:   registry.BackendReasoningPro,
		CategoryVisual:      registry.BackendVisualDesigner,
		CategoryCompletion:  registry.BackendFastComplete,
		CategoryGeneration:  registry.BackendGeneralCoder,
	}
}

// Permitted reports whether a caller on tier may use backend d.
func Permitted(d registry.Descriptor, tier Tier) bool {
	return tier.AllowsPremium() || !d.Premium
}

// ============================================================================
// SELECTOR
// ============================================================================

// Selection is the outcome of a successful Select.
type Selection struct {
	Backend registry.Descriptor `json:"backend"`

	// Preferred is true when the category's preferred backend was chosen.
	Preferred bool `json:"preferred"`

	// Reason explains the choice for the routing rationale.
	Reason string `json:"reason"`
}

// Selector applies the category preference table. It is immutable after
// construction and safe for concurrent use.
type Selector struct {
	preferences map[Category]string
}

// NewSelector creates a selector. A nil or empty table uses DefaultPreferences.
func NewSelector(preferences map[Category]string) *Selector {
	if len(preferences) == 0 {
		preferences = DefaultPreferences()
	}
	prefs := make(map[Category]string, len(preferences))
	for k, v := range preferences {
		prefs[k] = v
	}
	return &Selector{preferences: prefs}
}

// Preferred returns the preferred backend id for a category.
func (s *Selector) Preferred(cat Category) (string, bool) {
	id, ok := s.preferences[cat]
	return id, ok
}

// Select picks a backend for cat on behalf of a caller on tier.
//
// Candidates are the catalog's available backends that the tier permits and
// that are not in exclude. The category's preferred backend wins if it is a
// candidate; otherwise the first candidate in registry order is used. A
// category with no table entry prefers the first candidate advertising the
// category as a capability.
func (s *Selector) Select(cat Category, tier Tier, catalog Catalog, exclude map[string]bool) (Selection, error) {
	available := catalog.Available()
	candidates := Filter(available, tier, exclude)
	if len(candidates) == 0 {
		return Selection{}, fmt.Errorf("%w: category=%s tier=%s", ErrNoBackendAvailable, cat, tier)
	}

	preferredID, hasPreference := s.preferences[cat]
	if hasPreference {
		for _, d := range candidates {
			if d.ID == preferredID {
				return Selection{
					Backend:   d,
					Preferred: true,
					Reason:    fmt.Sprintf("preferred backend for %s", cat),
				}, nil
			}
		}
		return Selection{
			Backend: candidates[0],
			Reason:  fmt.Sprintf("preferred backend %s %s, using registry default", preferredID, skipReason(preferredID, tier, available, exclude)),
		}, nil
	}

	for _, d := range candidates {
		if d.HasCapability(string(cat)) {
			return Selection{
				Backend: d,
				Reason:  fmt.Sprintf("first backend advertising %s", cat),
			}, nil
		}
	}
	return Selection{
		Backend: candidates[0],
		Reason:  fmt.Sprintf("no specialist for %s, using registry default", cat),
	}, nil
}

// skipReason explains why id is not among the candidates.
func skipReason(id string, tier Tier, available []registry.Descriptor, exclude map[string]bool) string {
	if exclude[id] {
		return "already tried"
	}
	for _, d := range available {
		if d.ID == id && !Permitted(d, tier) {
			return "not permitted for tier " + tier.String()
		}
	}
	return "unavailable"
}

// Filter returns the backends in descs that tier permits and exclude does
// not name, preserving order.
func Filter(descs []registry.Descriptor, tier Tier, exclude map[string]bool) []registry.Descriptor {
	out := make([]registry.Descriptor, 0, len(descs))
	for _, d := range descs {
		if exclude[d.ID] || !Permitted(d, tier) {
			continue
		}
		out = append(out, d)
	}
	return out
}
