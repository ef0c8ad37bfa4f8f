// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/jeranaias/rigrun-dispatch/internal/router"
)

// ClassifyOutput is the --json output of classify.
type ClassifyOutput struct {
	Prompt           string          `json:"prompt"`
	Category         router.Category `json:"category"`
	Rule             string          `json:"rule"`
	PreferredBackend string          `json:"preferredBackend,omitempty"`
	EstimatedTokens  int             `json:"estimatedTokens"`
}

func newClassifyCmd(g *globalOptions) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "classify <prompt...>",
		Short: "Show the task category a prompt maps to",
		Example: `  rigrun-dispatch classify "fix the login bug"
  rigrun-dispatch classify --json "design a settings page"`,
		Args: minArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			prompt := strings.Join(args, " ")
			out := classifyPrompt(prompt, router.NewSelector(g.cfg.CategoryPreferences()))

			w := cmd.OutOrStdout()
			if asJSON {
				return printJSON(w, out)
			}
			fmt.Fprintln(w, RenderField("Category", string(out.Category)))
			fmt.Fprintln(w, RenderField("Rule", out.Rule))
			if out.PreferredBackend != "" {
				fmt.Fprintln(w, RenderField("Preferred", out.PreferredBackend))
			}
			fmt.Fprintln(w, RenderField("Est. tokens", fmt.Sprintf("%d", out.EstimatedTokens)))
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Output in JSON format")
	return cmd
}

func classifyPrompt(prompt string, sel *router.Selector) ClassifyOutput {
	cat := router.Classify(prompt)

	rule := "default"
	if kw := router.MatchedKeyword(prompt); kw != "" {
		rule = fmt.Sprintf("keyword %q", kw)
	} else if cat == router.CategoryCompletion {
		rule = "short prompt"
	}

	out := ClassifyOutput{
		Prompt:          prompt,
		Category:        cat,
		Rule:            rule,
		EstimatedTokens: router.EstimateTokens(prompt),
	}
	if id, ok := sel.Preferred(cat); ok {
		out.PreferredBackend = id
	}
	return out
}
