// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package router classifies prompts and selects a backend for them.
//
// Classification is a pure keyword match over normalized prompt text; the
// first matching rule wins. Selection filters the registry to backends that
// are available and permitted for the caller's tier, then applies a static
// category to backend preference table.
//
// # Key Types
//
//   - Category: task category produced by Classify
//   - Tier: caller subscription level (free, pro, enterprise)
//   - Selector: category/tier to backend policy
//   - Selection: the chosen backend plus a human-readable reason
//
// # Premium Gating
//
// Free-tier callers never receive a premium backend from Select. Permitted
// is the single check used for that rule so callers that pick backends by
// other means (explicit preference, fallback lists) apply the same policy.
//
// # Usage
//
//	cat := router.Classify("fix this nil pointer error")
//	sel, err := router.NewSelector(nil).Select(cat, router.TierPro, reg, nil)
//	if errors.Is(err, router.ErrNoBackendAvailable) {
//	    // nothing eligible
//	}
package router
