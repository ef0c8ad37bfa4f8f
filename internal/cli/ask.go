// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/jeranaias/rigrun-dispatch/internal/dispatch"
	"github.com/jeranaias/rigrun-dispatch/internal/router"
)

type askOptions struct {
	tier      string
	prefer    string
	fallbacks []string
	retries   int
	timeout   time.Duration
	json      bool
	noArchive bool
}

// AskOutput is the --json output of ask.
type AskOutput struct {
	Result *dispatch.Result `json:"result,omitempty"`
	Error  *AskError        `json:"error,omitempty"`
}

// AskError describes a failed dispatch.
type AskError struct {
	Kind    dispatch.Kind `json:"kind"`
	Message string        `json:"message"`
}

func newAskCmd(g *globalOptions) *cobra.Command {
	o := &askOptions{}

	cmd := &cobra.Command{
		Use:   "ask <prompt...>",
		Short: "Dispatch one prompt and print the response",
		Example: `  rigrun-dispatch ask "fix this nil pointer panic"
  rigrun-dispatch ask --tier pro --prefer reasoning-pro "why is this slow?"
  rigrun-dispatch ask --fallback integration-expert --retries 2 "call the billing api"
  rigrun-dispatch ask --json "complete this line"`,
		Args: minArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAsk(cmd, g, o, strings.Join(args, " "))
		},
	}

	f := cmd.Flags()
	f.StringVarP(&o.tier, "tier", "t", "free", "Caller tier: free, pro, enterprise")
	f.StringVarP(&o.prefer, "prefer", "p", "", "Preferred backend id")
	f.StringSliceVarP(&o.fallbacks, "fallback", "f", nil, "Fallback backend ids, in order (repeatable)")
	f.IntVarP(&o.retries, "retries", "r", 0, "Retry budget (default from config)")
	f.DurationVar(&o.timeout, "timeout", 0, "Per-attempt timeout (default from config)")
	f.BoolVar(&o.json, "json", false, "Output in JSON format")
	f.BoolVar(&o.noArchive, "no-archive", false, "Do not write the job to the configured archive")
	return cmd
}

func runAsk(cmd *cobra.Command, g *globalOptions, o *askOptions, prompt string) error {
	tier, err := router.ParseTier(o.tier)
	if err != nil {
		return usageError{err: err}
	}
	if o.timeout < 0 {
		return usageErrorf("--timeout must not be negative")
	}

	req := dispatch.Request{
		Prompt:           prompt,
		Tier:             tier,
		PreferredBackend: o.prefer,
		FallbackBackends: o.fallbacks,
		Timeout:          o.timeout,
	}
	if cmd.Flags().Changed("retries") {
		req.MaxRetries = dispatch.Retries(o.retries)
	}

	rt, err := newRuntime(g.cfg, g.logger, !o.noArchive)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
	res, derr := rt.dispatcher.Dispatch(ctx, req)
	stop()

	closeCtx, cancel := context.WithTimeout(context.Background(), closeTimeout)
	defer cancel()
	if err := rt.Close(closeCtx); err != nil {
		g.logger.Warn().Err(err).Msg("ARCHIVE_FLUSH_FAILED")
	}

	if derr != nil && dispatch.KindOf(derr) == dispatch.KindInvalidRequest {
		return usageError{err: derr}
	}

	out := cmd.OutOrStdout()
	if o.json {
		payload := AskOutput{Result: res}
		if derr != nil {
			payload.Error = &AskError{Kind: dispatch.KindOf(derr), Message: derr.Error()}
		}
		if err := printJSON(out, payload); err != nil {
			return err
		}
	} else {
		renderAsk(out, res, derr)
	}

	if derr != nil {
		return dispatchFailure{err: derr}
	}
	return nil
}

func renderAsk(w io.Writer, res *dispatch.Result, derr error) {
	if res != nil && res.Response != nil {
		fmt.Fprintln(w, res.Response.Content)
		fmt.Fprintln(w)
	}
	if derr != nil {
		fmt.Fprintln(w, ErrorStyle.Render(string(dispatch.KindOf(derr))), derr)
		fmt.Fprintln(w)
	}
	if res == nil {
		return
	}

	rec := res.Record
	backendName := rec.Backend
	if backendName == "" {
		backendName = "(none)"
	}
	status := "ok"
	if !rec.Success {
		status = "failed"
	}

	fmt.Fprintln(w, RenderSeparator(50))
	fmt.Fprintln(w, RenderField("Job", res.JobID))
	fmt.Fprintln(w, RenderField("Category", string(res.Category)))
	fmt.Fprintln(w, RenderField("Backend", backendName)+" "+RenderStatus(status))
	fmt.Fprintln(w, RenderField("Attempts", fmt.Sprintf("%d", res.Attempts)))
	fmt.Fprintln(w, RenderField("Duration", rec.Duration.Round(time.Millisecond).String()))
	fmt.Fprintln(w, RenderField("Tokens", fmt.Sprintf("%d", rec.Tokens)))
	fmt.Fprintln(w, RenderField("Cost", fmt.Sprintf("%.4f", rec.Cost)))
	if res.Response != nil && res.Response.Metadata != nil && res.Response.Metadata.Confidence != nil {
		fmt.Fprintln(w, RenderField("Confidence", fmt.Sprintf("%.2f", *res.Response.Metadata.Confidence)))
	}
	fmt.Fprintln(w, DimStyle.Render(rec.Rationale))
}
