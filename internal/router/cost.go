// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package router

import (
	"strings"
)

// ============================================================================
// TOKEN ESTIMATION
// ============================================================================

// EstimateTokens approximates the token count of text.
// GPT-style: ~4 chars per token on average, blended with the word count.
func EstimateTokens(text string) int {
	words := len(strings.Fields(text))
	chars := len(text)

	n := (words + chars/4) / 2
	if n == 0 && words > 0 {
		return 1
	}
	return n
}

// ============================================================================
// COST
// ============================================================================

// Cost returns totalTokens multiplied by the backend's per-token cost.
func Cost(totalTokens int, costPerUnit float64) float64 {
	if totalTokens <= 0 {
		return 0
	}
	return float64(totalTokens) * costPerUnit
}
