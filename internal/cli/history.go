// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"bytes"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/jeranaias/rigrun-dispatch/internal/archive"
	"github.com/jeranaias/rigrun-dispatch/internal/config"
	"github.com/jeranaias/rigrun-dispatch/internal/joblog"
	"github.com/jeranaias/rigrun-dispatch/internal/util"
)

func newHistoryCmd(g *globalOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Query and maintain the SQLite job archive",
		Long: `Query and maintain the SQLite job archive configured by
archive.sqlite_path. The archive keeps one row per executed attempt.`,
	}
	cmd.AddCommand(
		newHistoryExportCmd(g),
		newHistoryUsageCmd(g),
		newHistoryPruneCmd(g),
	)
	return cmd
}

// openArchive opens the configured SQLite archive.
func openArchive(g *globalOptions) (*archive.SQLiteStore, error) {
	path := g.cfg.Archive.SQLitePath
	if path == "" {
		return nil, usageErrorf("no archive configured (set archive.sqlite_path or %sSQLITE_PATH)", config.EnvPrefix)
	}
	return archive.OpenSQLite(path)
}

// sinceCutoff converts a --since window to a cutoff. Zero means everything.
func sinceCutoff(window time.Duration) time.Time {
	if window <= 0 {
		return time.Time{}
	}
	return time.Now().Add(-window)
}

func newHistoryExportCmd(g *globalOptions) *cobra.Command {
	var (
		since  time.Duration
		output string
	)

	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export archived job records as CSV",
		Example: `  rigrun-dispatch history export > jobs.csv
  rigrun-dispatch history export --since 24h --output today.csv`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openArchive(g)
			if err != nil {
				return err
			}
			defer store.Close()

			records, err := store.Records(cmd.Context(), sinceCutoff(since))
			if err != nil {
				return err
			}

			if output == "" {
				return joblog.WriteCSV(cmd.OutOrStdout(), records)
			}

			var buf bytes.Buffer
			if err := joblog.WriteCSV(&buf, records); err != nil {
				return err
			}
			if err := util.AtomicWriteFile(output, buf.Bytes(), 0644); err != nil {
				return err
			}
			fmt.Fprintf(cmd.ErrOrStderr(), "Exported %d records to %s\n", len(records), output)
			return nil
		},
	}
	cmd.Flags().DurationVar(&since, "since", 0, "Only records newer than this window (e.g. 24h)")
	cmd.Flags().StringVarP(&output, "output", "o", "", "Write to file instead of stdout")
	return cmd
}

func newHistoryUsageCmd(g *globalOptions) *cobra.Command {
	var (
		since  time.Duration
		asJSON bool
	)

	cmd := &cobra.Command{
		Use:   "usage",
		Short: "Summarize archived usage per backend",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openArchive(g)
			if err != nil {
				return err
			}
			defer store.Close()

			records, err := store.Records(cmd.Context(), sinceCutoff(since))
			if err != nil {
				return err
			}
			snap := joblog.Aggregate(records)

			w := cmd.OutOrStdout()
			if asJSON {
				return printJSON(w, snap)
			}
			renderUsage(w, snap)
			return nil
		},
	}
	cmd.Flags().DurationVar(&since, "since", 0, "Only records newer than this window (e.g. 168h)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Output in JSON format")
	return cmd
}

func renderUsage(w io.Writer, snap joblog.Snapshot) {
	fmt.Fprintln(w, TitleStyle.Render("Usage"))
	fmt.Fprintln(w, RenderSeparator())
	fmt.Fprintln(w, RenderField("Attempts", fmt.Sprintf("%d", snap.TotalJobs)))
	fmt.Fprintln(w, RenderField("Success rate", fmt.Sprintf("%.1f%%", snap.SuccessRate*100)))
	fmt.Fprintln(w, RenderField("Avg duration", fmt.Sprintf("%.0fms", snap.AvgDurationMs)))
	fmt.Fprintln(w, RenderField("Tokens", fmt.Sprintf("%d", snap.TotalTokens)))
	fmt.Fprintln(w, RenderField("Cost", fmt.Sprintf("%.4f", snap.TotalCost)))
	if snap.TotalJobs == 0 {
		return
	}

	rows := make([][]string, 0, len(snap.ByBackend))
	for _, bu := range snap.BackendsByCost() {
		rows = append(rows, []string{
			bu.Backend,
			fmt.Sprintf("%d", bu.Jobs),
			fmt.Sprintf("%.1f%%", bu.SuccessRate()*100),
			fmt.Sprintf("%d", bu.Tokens),
			fmt.Sprintf("%.4f", bu.Cost),
			fmt.Sprintf("%.0fms", bu.AvgDurationMs),
		})
	}
	fmt.Fprintln(w, SectionStyle.Render("By backend"))
	fmt.Fprint(w, RenderTable([]string{"BACKEND", "ATTEMPTS", "SUCCESS", "TOKENS", "COST", "AVG"}, rows))
}

func newHistoryPruneCmd(g *globalOptions) *cobra.Command {
	var days int

	cmd := &cobra.Command{
		Use:   "prune",
		Short: "Delete archived records older than the retention",
		Example: `  rigrun-dispatch history prune
  rigrun-dispatch history prune --days 7`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !cmd.Flags().Changed("days") {
				days = g.cfg.Archive.RetentionDays
			}
			if days <= 0 {
				return usageErrorf("--days must be positive")
			}

			store, err := openArchive(g)
			if err != nil {
				return err
			}
			defer store.Close()

			pruner := archive.NewPruner(store, archive.RetentionDays(days), time.Now, g.logger)
			n, err := pruner.PruneOnce(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Pruned %d records older than %d days\n", n, days)
			return nil
		},
	}
	cmd.Flags().IntVar(&days, "days", 0, "Retention in days (default archive.retention_days)")
	return cmd
}
