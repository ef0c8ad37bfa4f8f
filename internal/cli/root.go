// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/jeranaias/rigrun-dispatch/internal/config"
	"github.com/jeranaias/rigrun-dispatch/internal/logging"
	"github.com/jeranaias/rigrun-dispatch/internal/server"
)

// Exit codes.
const (
	ExitOK      = 0
	ExitError   = 1
	ExitUsage   = 2
	ExitFailure = 3 // a dispatch ran and failed
)

// globalOptions holds flags shared by every command and the values derived
// from them in PersistentPreRunE.
type globalOptions struct {
	configPath string
	logLevel   string
	logFormat  string

	cfg    *config.Config
	logger zerolog.Logger
}

// usageError marks errors caused by bad arguments.
type usageError struct{ err error }

func (e usageError) Error() string { return e.err.Error() }
func (e usageError) Unwrap() error { return e.err }

func usageErrorf(format string, args ...any) error {
	return usageError{err: fmt.Errorf(format, args...)}
}

// dispatchFailure marks a dispatch that ran and did not succeed. The
// outcome has already been printed.
type dispatchFailure struct{ err error }

func (e dispatchFailure) Error() string { return e.err.Error() }
func (e dispatchFailure) Unwrap() error { return e.err }

// NewRootCmd builds the command tree.
func NewRootCmd() *cobra.Command {
	opts := &globalOptions{}

	root := &cobra.Command{
		Use:   "rigrun-dispatch",
		Short: "Route prompts to the best available backend",
		Long: `rigrun-dispatch classifies prompts, picks a backend by category and
tier, retries across backends on failure and keeps a job log with usage
accounting.`,
		Version:       server.Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			configureStyles()
			return opts.load(cmd.ErrOrStderr())
		},
	}

	root.PersistentFlags().StringVarP(&opts.configPath, "config", "c", os.Getenv(config.EnvPrefix+"CONFIG"),
		"Config file (.toml, .json, .yaml)")
	root.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "Log level: trace, debug, info, warn, error")
	root.PersistentFlags().StringVar(&opts.logFormat, "log-format", "", "Log format: console, json")

	root.SetFlagErrorFunc(func(_ *cobra.Command, err error) error {
		return usageError{err: err}
	})

	root.AddCommand(
		newServeCmd(opts),
		newAskCmd(opts),
		newClassifyCmd(opts),
		newBackendsCmd(opts),
		newHistoryCmd(opts),
		newConfigCmd(opts),
	)
	return root
}

// load reads the config and builds the logger.
func (o *globalOptions) load(stderr io.Writer) error {
	cfg, err := config.Load(o.configPath)
	if err != nil {
		return err
	}
	if o.logLevel != "" {
		cfg.Logging.Level = o.logLevel
	}
	if o.logFormat != "" {
		cfg.Logging.Format = o.logFormat
	}

	logger, err := logging.New(logging.Options{
		Level:   cfg.Logging.Level,
		Format:  logging.Format(cfg.Logging.Format),
		Output:  stderr,
		NoColor: stderr != os.Stderr || !IsStderrTTY(),
	})
	if err != nil {
		return usageError{err: err}
	}

	o.cfg = cfg
	o.logger = logger
	return nil
}

// Execute runs the CLI and returns the process exit code.
func Execute() int {
	return run(NewRootCmd(), os.Args[1:], os.Stdout, os.Stderr)
}

func run(root *cobra.Command, args []string, stdout, stderr io.Writer) int {
	root.SetArgs(args)
	root.SetOut(stdout)
	root.SetErr(stderr)

	err := root.Execute()
	if err == nil {
		return ExitOK
	}

	var failure dispatchFailure
	if errors.As(err, &failure) {
		return ExitFailure
	}

	fmt.Fprintln(stderr, ErrorStyle.Render("Error:"), err)
	var usage usageError
	if errors.As(err, &usage) {
		return ExitUsage
	}
	return ExitError
}

// minArgs is cobra.MinimumNArgs reporting a usage error.
func minArgs(n int) cobra.PositionalArgs {
	return func(cmd *cobra.Command, args []string) error {
		if len(args) < n {
			return usageErrorf("%s requires at least %d argument(s), got %d", cmd.CommandPath(), n, len(args))
		}
		return nil
	}
}

// printJSON writes v as indented JSON.
func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
