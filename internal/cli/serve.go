// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/spf13/cobra"

	"github.com/jeranaias/rigrun-dispatch/internal/archive"
	"github.com/jeranaias/rigrun-dispatch/internal/config"
	"github.com/jeranaias/rigrun-dispatch/internal/logging"
	"github.com/jeranaias/rigrun-dispatch/internal/server"
)

func newServeCmd(g *globalOptions) *cobra.Command {
	var (
		bind string
		port int
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the dispatch HTTP API",
		Long: `Run the dispatch HTTP API.

serve also forwards job records to the configured archive, logs a usage
summary on logging.snapshot_schedule, prunes the SQLite archive on
archive.prune_schedule and reloads backend availability when the config
file changes.`,
		Example: `  rigrun-dispatch serve
  rigrun-dispatch serve --config dispatch.toml --port 9000`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Flags().Changed("bind") {
				g.cfg.Server.Bind = bind
			}
			if cmd.Flags().Changed("port") {
				g.cfg.Server.Port = port
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			ln, err := net.Listen("tcp", g.cfg.Addr())
			if err != nil {
				return fmt.Errorf("listen %s: %w", g.cfg.Addr(), err)
			}
			return serve(ctx, g, ln)
		},
	}
	cmd.Flags().StringVar(&bind, "bind", config.DefaultBind, "Listen address")
	cmd.Flags().IntVar(&port, "port", config.DefaultPort, "Listen port")
	return cmd
}

// serve runs the server on ln until ctx is done, then shuts everything down
// in dependency order.
func serve(ctx context.Context, g *globalOptions, ln net.Listener) error {
	cfg, logger := g.cfg, g.logger

	rt, err := newRuntime(cfg, logger, true)
	if err != nil {
		ln.Close()
		return err
	}

	srv, err := server.New(rt.dispatcher, server.Options{
		Addr:           cfg.Addr(),
		Logger:         logging.Component(logger, "server"),
		RateLimit:      cfg.Server.RateLimit,
		RateBurst:      cfg.Server.RateBurst,
		TrustedProxies: cfg.Server.TrustedProxies,
		Gatherer:       rt.gatherer,
	})
	if err != nil {
		ln.Close()
		rt.Close(context.Background())
		return err
	}

	crons, err := startSchedules(rt)
	if err != nil {
		ln.Close()
		rt.Close(context.Background())
		return err
	}

	if g.configPath != "" {
		watcher, err := config.NewWatcher(g.configPath, config.DefaultWatchDebounce, func(next *config.Config) {
			rt.applyAvailability(next.Availability())
		}, logging.Component(logger, "config"))
		if err != nil {
			logger.Warn().Err(err).Msg("CONFIG_WATCH_DISABLED")
		} else {
			defer watcher.Close()
		}
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Serve(ln)
	}()

	var serveErr error
	select {
	case serveErr = <-errCh:
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout())
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn().Err(err).Msg("SERVER_SHUTDOWN_FAILED")
	}
	for _, c := range crons {
		<-c.Stop().Done()
	}
	if err := rt.Close(shutdownCtx); err != nil {
		logger.Warn().Err(err).Msg("ARCHIVE_FLUSH_FAILED")
	}
	logger.Info().Msg("SERVER_STOPPED")
	return serveErr
}

// startSchedules starts the usage summary job and, with a SQLite archive,
// the pruning job.
func startSchedules(rt *runtime) ([]*cron.Cron, error) {
	var crons []*cron.Cron

	snapshots := cron.New()
	if _, err := snapshots.AddFunc(rt.cfg.Logging.SnapshotSchedule, func() {
		snap := rt.store.Snapshot()
		rt.logger.Info().
			Int("attempts", snap.TotalJobs).
			Float64("success_rate", snap.SuccessRate).
			Float64("cost", snap.TotalCost).
			Int("active", len(rt.dispatcher.ListActiveJobs())).
			Str("summary", rt.counters.Summary()).
			Msg("USAGE_SNAPSHOT")
	}); err != nil {
		return nil, fmt.Errorf("invalid snapshot schedule: %w", err)
	}
	snapshots.Start()
	crons = append(crons, snapshots)

	if rt.sqlite != nil && rt.cfg.Archive.RetentionDays > 0 {
		pruner := archive.NewPruner(rt.sqlite, archive.RetentionDays(rt.cfg.Archive.RetentionDays),
			time.Now, logging.Component(rt.logger, "archive"))
		c, err := pruner.Schedule(rt.cfg.Archive.PruneSchedule)
		if err != nil {
			<-snapshots.Stop().Done()
			return nil, err
		}
		crons = append(crons, c)
	}
	return crons, nil
}
