// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package dispatch

import (
	"fmt"
	"strings"

	"github.com/jeranaias/rigrun-dispatch/internal/registry"
	"github.com/jeranaias/rigrun-dispatch/internal/router"
)

// choice is a resolved backend and the reason it was picked.
type choice struct {
	backend registry.Descriptor
	reason  string
}

// resolve picks the backend for the next attempt.
//
// Order:
//  1. the caller's preferred backend, if usable
//  2. on a first attempt without a caller preference, the category's
//     preferred backend, if usable
//  3. the caller's fallback list
//  4. the selector over the registry
//
// Backends in plan.exclude are never picked.
func (d *Dispatcher) resolve(job *Job, cat router.Category, tier router.Tier, plan *attemptPlan, retrying bool) (choice, error) {
	var notes []string

	if plan.preferred != "" {
		job.setState(StateCheckingAvailability)
		desc, why := d.usable(plan.preferred, tier, plan.exclude)
		if why == "" {
			return choice{backend: desc, reason: "caller preference " + desc.ID}, nil
		}
		notes = append(notes, fmt.Sprintf("preferred %s %s", plan.preferred, why))
	}

	if plan.preferred == "" && !retrying && len(plan.fallbacks) > 0 {
		if id, ok := d.selector.Preferred(cat); ok {
			job.setState(StateCheckingAvailability)
			desc, why := d.usable(id, tier, plan.exclude)
			if why == "" {
				return choice{backend: desc, reason: fmt.Sprintf("preferred backend for %s: %s", cat, desc.ID)}, nil
			}
			notes = append(notes, fmt.Sprintf("preferred backend %s %s", id, why))
		}
	}

	if len(plan.fallbacks) > 0 {
		job.setState(StateCheckingAvailability)
		for _, id := range plan.fallbacks {
			desc, why := d.usable(id, tier, plan.exclude)
			if why == "" {
				notes = append(notes, "caller fallback "+desc.ID)
				return choice{backend: desc, reason: strings.Join(notes, "; ")}, nil
			}
		}
		notes = append(notes, "no caller fallback usable")
	}

	job.setState(StateSelecting)
	sel, err := d.selector.Select(cat, tier, d.registry, plan.exclude)
	if err != nil {
		if len(notes) > 0 {
			return choice{}, fmt.Errorf("%s: %w", strings.Join(notes, "; "), err)
		}
		return choice{}, err
	}
	notes = append(notes, sel.Reason+": "+sel.Backend.ID)
	return choice{backend: sel.Backend, reason: strings.Join(notes, "; ")}, nil
}

// usable returns the descriptor for id and an empty string if the backend
// may be used now, or a short reason why not.
func (d *Dispatcher) usable(id string, tier router.Tier, exclude map[string]bool) (registry.Descriptor, string) {
	if exclude[id] {
		return registry.Descriptor{}, "already tried"
	}
	desc, ok := d.registry.Lookup(id)
	if !ok {
		return registry.Descriptor{}, "unknown"
	}
	if !router.Permitted(desc, tier) {
		return registry.Descriptor{}, "not permitted for tier " + tier.String()
	}
	if !d.registry.IsAvailable(id) {
		return registry.Descriptor{}, "unavailable"
	}
	return desc, ""
}
