// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package router

import (
	"strings"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"
)

// ShortPromptWords is the word count below which a prompt is treated as a
// completion request when no earlier rule matched.
const ShortPromptWords = 4

// ============================================================================
// CLASSIFICATION RULES
// ============================================================================

// rule maps a keyword group to a category. Keywords match as prefixes of
// prompt tokens, so "debug" matches "debugging" and "api" matches "apis".
type rule struct {
	category Category
	keywords []string
}

// rules are evaluated in order; the first match wins.
var rules = []rule{
	{CategoryDebugging, []string{
		"fix", "debug", "error", "bug", "optimize", "optimise", "crash",
		"broken", "exception", "traceback", "panic", "stacktrace",
	}},
	{CategoryIntegration, []string{
		"api", "database", "backend", "cloud", "endpoint", "integrat",
		"webhook", "sql", "schema", "deploy",
	}},
	{CategoryReasoning, []string{
		"why", "explain", "should", "recommend", "compare", "tradeoff",
		"pros", "versus",
	}},
	{CategoryVisual, []string{
		"design", "ui", "layout", "mockup", "css", "style", "wireframe",
		"color", "colour",
	}},
	{CategoryCompletion, []string{
		"complete", "autocomplete", "suggest", "finish",
	}},
}

// ============================================================================
// CLASSIFICATION FUNCTIONS
// ============================================================================

// Classify maps prompt text to a task category. It is deterministic and
// total: every input, including the empty string, yields exactly one category.
//
// Classification rules (in order of priority):
//  1. Debugging: fix, debug, error, bug, optimize, crash, ...
//  2. Integration: api, database, backend, cloud, endpoint, ...
//  3. Reasoning: why, explain, should, recommend, compare, ...
//  4. Visual: design, ui, layout, mockup, css, ...
//  5. Completion: complete, suggest, or fewer than ShortPromptWords words
//  6. Generation: everything else, including empty prompts
func Classify(prompt string) Category {
	tokens := tokenize(prompt)
	if len(tokens) == 0 {
		return DefaultCategory
	}

	for _, r := range rules {
		if matchesAny(tokens, r.keywords) {
			return r.category
		}
	}

	if len(tokens) < ShortPromptWords {
		return CategoryCompletion
	}
	return DefaultCategory
}

// MatchedKeyword returns the first keyword that drove the classification of
// prompt, or "" when the result came from a length rule or the default.
func MatchedKeyword(prompt string) string {
	tokens := tokenize(prompt)
	for _, r := range rules {
		for _, kw := range r.keywords {
			if hasPrefixToken(tokens, kw) {
				return kw
			}
		}
	}
	return ""
}

// tokenize normalizes prompt (NFKC, case folded) and splits it into
// letter/digit runs.
func tokenize(prompt string) []string {
	// A Caser holds state, so each call gets its own.
	normalized := cases.Fold().String(norm.NFKC.String(prompt))
	return strings.FieldsFunc(normalized, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

func matchesAny(tokens, keywords []string) bool {
	for _, kw := range keywords {
		if hasPrefixToken(tokens, kw) {
			return true
		}
	}
	return false
}

func hasPrefixToken(tokens []string, keyword string) bool {
	for _, tok := range tokens {
		if strings.HasPrefix(tok, keyword) {
			return true
		}
	}
	return false
}
