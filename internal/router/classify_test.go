// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package router

import (
	"strings"
	"testing"
)

// =============================================================================
// CLASSIFY TESTS
// =============================================================================

func TestClassify(t *testing.T) {
	tests := []struct {
		name   string
		prompt string
		want   Category
	}{
		// Debugging
		{"fix", "fix this bug", CategoryDebugging},
		{"debugging suffix", "I am debugging a flaky integration test again", CategoryDebugging},
		{"error beats api", "why does the API return an error", CategoryDebugging},
		{"optimize", "optimize this loop for large inputs please", CategoryDebugging},

		// Integration
		{"api", "build a REST API for orders and invoices", CategoryIntegration},
		{"database", "connect the service to a postgres database", CategoryIntegration},
		{"cloud", "move the workers to the cloud next quarter", CategoryIntegration},

		// Reasoning
		{"why", "why is the sky blue at noon", CategoryReasoning},
		{"explain", "explain how goroutines are scheduled", CategoryReasoning},
		{"should", "should I use channels or mutexes here", CategoryReasoning},

		// Visual
		{"design", "design a landing page for a coffee shop", CategoryVisual},
		{"ui", "make the UI of the settings page cleaner", CategoryVisual},
		{"mockup", "draw a mockup for the onboarding flow", CategoryVisual},

		// Completion
		{"short", "hello there", CategoryCompletion},
		{"complete", "complete the following function body for me", CategoryCompletion},
		{"suggest", "suggest three names for a new command line tool", CategoryCompletion},

		// Generation
		{"default", "write a haiku about autumn leaves falling", CategoryGeneration},
		{"empty", "", CategoryGeneration},
		{"whitespace", "   \t\n  ", CategoryGeneration},
		{"punctuation only", "?!... ---", CategoryGeneration},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Classify(tt.prompt); got != tt.want {
				t.Errorf("Classify(%q) = %s, want %s", tt.prompt, got, tt.want)
			}
		})
	}
}

func TestClassify_Normalization(t *testing.T) {
	tests := []struct {
		prompt string
		want   Category
	}{
		{"FIX THIS BUG", CategoryDebugging},
		// Fullwidth letters fold to ASCII under NFKC.
		{"ｆｉｘ the login flow now", CategoryDebugging},
		{"Explain: Why?", CategoryReasoning},
	}

	for _, tt := range tests {
		if got := Classify(tt.prompt); got != tt.want {
			t.Errorf("Classify(%q) = %s, want %s", tt.prompt, got, tt.want)
		}
	}
}

func TestClassify_TokenBoundaries(t *testing.T) {
	// "ui" must not match inside "build" or "quick".
	prompt := "build a quick script that renames files"
	if got := Classify(prompt); got != CategoryGeneration {
		t.Errorf("Classify(%q) = %s, want %s", prompt, got, CategoryGeneration)
	}
}

func TestClassify_DeterministicAndTotal(t *testing.T) {
	prompts := []string{
		"",
		"x",
		"fix",
		strings.Repeat("word ", 500),
		"日本語のテキスト",
		"emoji 🚀 prompt with several words",
		"\x00\x01 binary garbage \xff",
	}

	valid := make(map[Category]bool)
	for _, c := range AllCategories() {
		valid[c] = true
	}

	for _, p := range prompts {
		first := Classify(p)
		if !valid[first] {
			t.Errorf("Classify(%q) = %q, not a known category", p, first)
		}
		for i := 0; i < 5; i++ {
			if again := Classify(p); again != first {
				t.Errorf("Classify(%q) not deterministic: %s then %s", p, first, again)
			}
		}
	}
}

func TestMatchedKeyword(t *testing.T) {
	if got := MatchedKeyword("please debug this"); got != "debug" {
		t.Errorf("MatchedKeyword() = %q, want %q", got, "debug")
	}
	if got := MatchedKeyword("write a story about dragons"); got != "" {
		t.Errorf("MatchedKeyword() = %q, want empty", got)
	}
}

func TestParseCategory(t *testing.T) {
	if got, err := ParseCategory(" Visual "); err != nil || got != CategoryVisual {
		t.Errorf("ParseCategory(Visual) = %q, %v", got, err)
	}
	if _, err := ParseCategory("poetry"); err == nil {
		t.Error("ParseCategory(poetry) should fail")
	}
}

// =============================================================================
// TIER TESTS
// =============================================================================

func TestParseTier(t *testing.T) {
	tests := []struct {
		in      string
		want    Tier
		wantErr bool
	}{
		{"free", TierFree, false},
		{"", TierFree, false},
		{"PRO", TierPro, false},
		{"enterprise", TierEnterprise, false},
		{"platinum", TierFree, true},
	}

	for _, tt := range tests {
		got, err := ParseTier(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseTier(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			continue
		}
		if got != tt.want {
			t.Errorf("ParseTier(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestTier_TextRoundTrip(t *testing.T) {
	var tier Tier
	if err := tier.UnmarshalText([]byte("enterprise")); err != nil {
		t.Fatalf("UnmarshalText() error: %v", err)
	}
	text, err := tier.MarshalText()
	if err != nil {
		t.Fatalf("MarshalText() error: %v", err)
	}
	if string(text) != "enterprise" {
		t.Errorf("MarshalText() = %q, want enterprise", text)
	}
	if TierFree.AllowsPremium() {
		t.Error("TierFree.AllowsPremium() = true, want false")
	}
}
