// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package router

import (
	"fmt"
	"strings"
)

// ============================================================================
// CATEGORY TYPE
// ============================================================================

// Category is the task category a prompt is classified into.
type Category string

const (
	// CategoryDebugging covers bug fixing, error analysis and optimization.
	CategoryDebugging Category = "debugging"
	// CategoryIntegration covers APIs, databases, backends and cloud wiring.
	CategoryIntegration Category = "integration"
	// CategoryReasoning covers explanations, trade-offs and recommendations.
	CategoryReasoning Category = "reasoning"
	// CategoryVisual covers UI, layout and design work.
	CategoryVisual Category = "visual"
	// CategoryCompletion covers short prompts and completion requests.
	CategoryCompletion Category = "completion"
	// CategoryGeneration is the default for everything else.
	CategoryGeneration Category = "generation"
)

// DefaultCategory is returned when no rule matches.
const DefaultCategory = CategoryGeneration

// AllCategories returns every category in classification rule order.
func AllCategories() []Category {
	return []Category{
		CategoryDebugging,
		CategoryIntegration,
		CategoryReasoning,
		CategoryVisual,
		CategoryCompletion,
		CategoryGeneration,
	}
}

// String returns the category name.
func (c Category) String() string {
	return string(c)
}

// ParseCategory converts a string to a Category.
func ParseCategory(s string) (Category, error) {
	c := Category(strings.ToLower(strings.TrimSpace(s)))
	for _, known := range AllCategories() {
		if c == known {
			return c, nil
		}
	}
	return "", fmt.Errorf("unknown category %q", s)
}

// ============================================================================
// TIER TYPE
// ============================================================================

// Tier is the caller's subscription level.
// Ordered by entitlement: Free < Pro < Enterprise
type Tier int

const (
	// TierFree may only use non-premium backends.
	TierFree Tier = iota
	// TierPro may use every backend.
	TierPro
	// TierEnterprise may use every backend.
	TierEnterprise
)

// String returns the wire name of the tier.
func (t Tier) String() string {
	switch t {
	case TierFree:
		return "free"
	case TierPro:
		return "pro"
	case TierEnterprise:
		return "enterprise"
	default:
		return fmt.Sprintf("Tier(%d)", int(t))
	}
}

// AllowsPremium reports whether the tier may use premium backends.
func (t Tier) AllowsPremium() bool {
	return t != TierFree
}

// IsValid reports whether t is one of the defined tiers.
func (t Tier) IsValid() bool {
	return t >= TierFree && t <= TierEnterprise
}

// ParseTier converts a string to a Tier. An empty string is TierFree.
func ParseTier(s string) (Tier, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "free":
		return TierFree, nil
	case "pro":
		return TierPro, nil
	case "enterprise":
		return TierEnterprise, nil
	default:
		return TierFree, fmt.Errorf("unknown tier %q (want free, pro or enterprise)", s)
	}
}

// MarshalText implements encoding.TextMarshaler.
func (t Tier) MarshalText() ([]byte, error) {
	if !t.IsValid() {
		return nil, fmt.Errorf("invalid tier %d", int(t))
	}
	return []byte(t.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (t *Tier) UnmarshalText(text []byte) error {
	parsed, err := ParseTier(string(text))
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}
