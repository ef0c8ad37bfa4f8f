// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package registry holds the catalogue of backends the dispatcher can route to.
//
// A Descriptor is immutable once registered. The only mutable state is the
// per-backend availability flag, which is guarded by a single mutex and
// re-armed lazily: a failed backend gets a re-arm timestamp and becomes
// available again on the first lookup after that timestamp passes.
//
// # Key Types
//
//   - Descriptor: identity, cost per token, latency class, premium flag, capabilities
//   - Registry: ordered catalogue plus availability and cooldown bookkeeping
//   - Clock: time source, replaceable in tests
//
// # Usage
//
//	reg, err := registry.New(registry.DefaultCatalog(),
//	    registry.WithCooldown(5*time.Minute))
//	if err != nil {
//	    return err
//	}
//	reg.MarkFailed("debug-specialist")
//	reg.IsAvailable("debug-specialist") // false until the cooldown elapses
package registry
