// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/jeranaias/rigrun-dispatch/internal/registry"
)

func newBackendsCmd(g *globalOptions) *cobra.Command {
	var (
		asJSON    bool
		serverURL string
	)

	cmd := &cobra.Command{
		Use:   "backends",
		Short: "List the backend catalogue and availability",
		Long: `List the backend catalogue and availability.

Without --server the catalogue comes from the config file. With --server the
live status, including cooldowns, is fetched from a running serve instance.`,
		Example: `  rigrun-dispatch backends
  rigrun-dispatch backends --server http://127.0.0.1:8787 --json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var (
				statuses []registry.Status
				err      error
			)
			if serverURL != "" {
				statuses, err = fetchBackends(cmd, serverURL)
			} else {
				statuses, err = configuredBackends(g)
			}
			if err != nil {
				return err
			}

			w := cmd.OutOrStdout()
			if asJSON {
				return printJSON(w, map[string][]registry.Status{"backends": statuses})
			}
			renderBackends(w, statuses)
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Output in JSON format")
	cmd.Flags().StringVar(&serverURL, "server", "", "Base URL of a running rigrun-dispatch server")
	return cmd
}

func configuredBackends(g *globalOptions) ([]registry.Status, error) {
	descs, err := g.cfg.Descriptors()
	if err != nil {
		return nil, err
	}
	reg, err := registry.New(descs)
	if err != nil {
		return nil, err
	}
	for id, ok := range g.cfg.Availability() {
		if err := reg.SetAvailability(id, ok); err != nil {
			return nil, err
		}
	}
	return reg.Statuses(), nil
}

func fetchBackends(cmd *cobra.Command, base string) ([]registry.Status, error) {
	client := &http.Client{Timeout: 10 * time.Second}
	req, err := http.NewRequestWithContext(cmd.Context(), http.MethodGet, strings.TrimRight(base, "/")+"/v1/backends", nil)
	if err != nil {
		return nil, usageError{err: err}
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to reach server: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("server returned %s: %s", resp.Status, strings.TrimSpace(string(body)))
	}

	var payload struct {
		Backends []registry.Status `json:"backends"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("failed to decode server response: %w", err)
	}
	return payload.Backends, nil
}

func renderBackends(w io.Writer, statuses []registry.Status) {
	rows := make([][]string, 0, len(statuses))
	for _, s := range statuses {
		status := "available"
		switch {
		case s.CooldownUntil != nil:
			status = "cooldown"
		case !s.Available:
			status = "disabled"
		}

		premium := ""
		if s.Premium {
			premium = "yes"
		}
		until := ""
		if s.CooldownUntil != nil {
			until = s.CooldownUntil.Local().Format("15:04:05")
		}

		rows = append(rows, []string{
			RenderStatus(status),
			s.ID,
			s.DisplayName(),
			fmt.Sprintf("%.4f", s.CostPerUnit),
			string(s.Latency),
			premium,
			until,
		})
	}

	fmt.Fprintln(w, TitleStyle.Render("Backends"))
	fmt.Fprint(w, RenderTable([]string{"", "ID", "NAME", "COST/UNIT", "LATENCY", "PREMIUM", "UNTIL"}, rows))
}
