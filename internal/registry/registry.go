// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package registry

import (
	"errors"
	"fmt"
	"sync"
	"time"
)

// DefaultCooldown is how long a failed backend stays unavailable.
const DefaultCooldown = 5 * time.Minute

// ErrUnknownBackend is returned for operations on an ID that is not registered.
var ErrUnknownBackend = errors.New("unknown backend")

// ChangeFunc is called after a backend's effective availability changes.
type ChangeFunc func(id string, available bool)

// Option configures a Registry.
type Option func(*Registry)

// WithClock replaces the time source used for cooldowns.
func WithClock(c Clock) Option {
	return func(r *Registry) {
		if c != nil {
			r.clock = c
		}
	}
}

// WithCooldown sets the cooldown applied by MarkFailed.
func WithCooldown(d time.Duration) Option {
	return func(r *Registry) {
		if d >= 0 {
			r.cooldown = d
		}
	}
}

// WithChangeFunc registers a callback for availability transitions.
func WithChangeFunc(fn ChangeFunc) Option {
	return func(r *Registry) {
		r.onChange = fn
	}
}

// Registry is the ordered backend catalogue plus availability state.
// It is safe for concurrent use.
type Registry struct {
	order    []string
	backends map[string]Descriptor

	mu      sync.Mutex
	enabled map[string]bool      // administrative flag
	rearm   map[string]time.Time // cooldown re-arm entries

	cooldown time.Duration
	clock    Clock
	onChange ChangeFunc
}

// New builds a registry from descriptors, preserving their order.
// Every backend starts available.
func New(descs []Descriptor, opts ...Option) (*Registry, error) {
	r := &Registry{
		order:    make([]string, 0, len(descs)),
		backends: make(map[string]Descriptor, len(descs)),
		enabled:  make(map[string]bool, len(descs)),
		rearm:    make(map[string]time.Time),
		cooldown: DefaultCooldown,
		clock:    SystemClock{},
	}
	for _, opt := range opts {
		opt(r)
	}

	for i, d := range descs {
		if d.ID == "" {
			return nil, fmt.Errorf("backend %d: empty id", i)
		}
		if _, dup := r.backends[d.ID]; dup {
			return nil, fmt.Errorf("backend %q: duplicate id", d.ID)
		}
		if d.CostPerUnit < 0 {
			return nil, fmt.Errorf("backend %q: negative cost per unit", d.ID)
		}
		if d.Latency == "" {
			d.Latency = LatencyMedium
		}
		r.order = append(r.order, d.ID)
		r.backends[d.ID] = d.clone()
		r.enabled[d.ID] = true
	}
	return r, nil
}

// Cooldown returns the configured cooldown window.
func (r *Registry) Cooldown() time.Duration {
	return r.cooldown
}

// Len returns the number of registered backends.
func (r *Registry) Len() int {
	return len(r.order)
}

// Lookup returns the descriptor for id.
func (r *Registry) Lookup(id string) (Descriptor, bool) {
	d, ok := r.backends[id]
	if !ok {
		return Descriptor{}, false
	}
	return d.clone(), true
}

// Descriptors returns every backend in registry order.
func (r *Registry) Descriptors() []Descriptor {
	out := make([]Descriptor, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.backends[id].clone())
	}
	return out
}

// IsAvailable reports whether id is registered and currently available.
// An expired cooldown is cleared as a side effect.
func (r *Registry) IsAvailable(id string) bool {
	r.mu.Lock()
	ok, rearmed := r.availableLocked(id, r.clock.Now())
	r.mu.Unlock()

	if rearmed {
		r.notify(id, true)
	}
	return ok
}

// Available returns the currently available backends in registry order.
func (r *Registry) Available() []Descriptor {
	var rearmed []string

	r.mu.Lock()
	now := r.clock.Now()
	out := make([]Descriptor, 0, len(r.order))
	for _, id := range r.order {
		ok, re := r.availableLocked(id, now)
		if re {
			rearmed = append(rearmed, id)
		}
		if ok {
			out = append(out, r.backends[id].clone())
		}
	}
	r.mu.Unlock()

	for _, id := range rearmed {
		r.notify(id, true)
	}
	return out
}

// MarkFailed takes id out of rotation for the cooldown window and returns
// the time at which it becomes eligible again. The re-arm entry is not tied
// to any request, so cancelling the request that failed does not affect it.
func (r *Registry) MarkFailed(id string) (time.Time, error) {
	if _, ok := r.backends[id]; !ok {
		return time.Time{}, fmt.Errorf("%w: %s", ErrUnknownBackend, id)
	}

	r.mu.Lock()
	until := r.clock.Now().Add(r.cooldown)
	wasAvailable, _ := r.availableLocked(id, r.clock.Now())
	if r.cooldown > 0 {
		r.rearm[id] = until
	}
	r.mu.Unlock()

	if wasAvailable && r.cooldown > 0 {
		r.notify(id, false)
	}
	return until, nil
}

// SetAvailability is the administrative override. Setting true clears any
// pending cooldown; setting false disables the backend until set true again.
func (r *Registry) SetAvailability(id string, available bool) error {
	if _, ok := r.backends[id]; !ok {
		return fmt.Errorf("%w: %s", ErrUnknownBackend, id)
	}

	r.mu.Lock()
	before, _ := r.availableLocked(id, r.clock.Now())
	r.enabled[id] = available
	delete(r.rearm, id)
	r.mu.Unlock()

	if before != available {
		r.notify(id, available)
	}
	return nil
}

// Availability returns the effective availability of every backend.
func (r *Registry) Availability() map[string]bool {
	var rearmed []string

	r.mu.Lock()
	now := r.clock.Now()
	out := make(map[string]bool, len(r.order))
	for _, id := range r.order {
		ok, re := r.availableLocked(id, now)
		if re {
			rearmed = append(rearmed, id)
		}
		out[id] = ok
	}
	r.mu.Unlock()

	for _, id := range rearmed {
		r.notify(id, true)
	}
	return out
}

// CooldownUntil returns the pending re-arm time for id, if any.
func (r *Registry) CooldownUntil(id string) (time.Time, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	until, ok := r.rearm[id]
	if !ok || !r.clock.Now().Before(until) {
		return time.Time{}, false
	}
	return until, true
}

// Statuses returns a snapshot of every backend with its availability.
func (r *Registry) Statuses() []Status {
	avail := r.Availability()

	out := make([]Status, 0, len(r.order))
	for _, id := range r.order {
		st := Status{Descriptor: r.backends[id].clone(), Available: avail[id]}
		if until, ok := r.CooldownUntil(id); ok {
			st.CooldownUntil = &until
		}
		out = append(out, st)
	}
	return out
}

// availableLocked evaluates availability at now. The second result is true
// when an expired re-arm entry was removed. Caller holds r.mu.
func (r *Registry) availableLocked(id string, now time.Time) (ok, rearmed bool) {
	if !r.enabled[id] {
		return false, false
	}
	until, cooling := r.rearm[id]
	if !cooling {
		return true, false
	}
	if now.Before(until) {
		return false, false
	}
	delete(r.rearm, id)
	return true, true
}

func (r *Registry) notify(id string, available bool) {
	if r.onChange != nil {
		r.onChange(id, available)
	}
}
