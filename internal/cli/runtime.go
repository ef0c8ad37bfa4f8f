// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog"

	"github.com/jeranaias/rigrun-dispatch/internal/archive"
	"github.com/jeranaias/rigrun-dispatch/internal/backend"
	"github.com/jeranaias/rigrun-dispatch/internal/config"
	"github.com/jeranaias/rigrun-dispatch/internal/dispatch"
	"github.com/jeranaias/rigrun-dispatch/internal/joblog"
	"github.com/jeranaias/rigrun-dispatch/internal/logging"
	"github.com/jeranaias/rigrun-dispatch/internal/registry"
	"github.com/jeranaias/rigrun-dispatch/internal/router"
	"github.com/jeranaias/rigrun-dispatch/internal/telemetry"
)

// runtime is the wired dispatcher and its collaborators, built from config.
type runtime struct {
	cfg    *config.Config
	logger zerolog.Logger

	registry   *registry.Registry
	pool       *backend.Pool
	store      *joblog.Store
	counters   *telemetry.Counters
	metrics    *telemetry.Metrics
	gatherer   *prometheus.Registry
	dispatcher *dispatch.Dispatcher

	// Archive collaborators; nil when not configured.
	forwarder *archive.Forwarder
	sqlite    *archive.SQLiteStore
}

// newRuntime wires every component from cfg. When withArchive is false the
// archive sinks are not opened even if configured.
func newRuntime(cfg *config.Config, logger zerolog.Logger, withArchive bool) (*runtime, error) {
	descs, err := cfg.Descriptors()
	if err != nil {
		return nil, err
	}

	gatherer := prometheus.NewRegistry()
	gatherer.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metrics := telemetry.NewMetrics(gatherer)

	reg, err := registry.New(descs,
		registry.WithCooldown(cfg.Cooldown()),
		registry.WithChangeFunc(metrics.SetBackendAvailable),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to build registry: %w", err)
	}

	rt := &runtime{
		cfg:      cfg,
		logger:   logger,
		registry: reg,
		pool:     backend.NewStubPool(descs),
		counters: telemetry.NewCounters(),
		metrics:  metrics,
		gatherer: gatherer,
	}
	rt.store = joblog.NewStore(rt.counters, metrics)
	rt.applyAvailability(cfg.Availability())
	for _, d := range descs {
		metrics.SetBackendAvailable(d.ID, reg.IsAvailable(d.ID))
	}

	if withArchive && cfg.Archive.Enabled() {
		if err := rt.openArchive(); err != nil {
			return nil, err
		}
	}

	rt.dispatcher = dispatch.New(reg, rt.store, rt.pool,
		dispatch.WithLogger(logging.Component(logger, "dispatch")),
		dispatch.WithSelector(router.NewSelector(cfg.CategoryPreferences())),
		dispatch.WithDefaultTimeout(cfg.DefaultTimeout()),
		dispatch.WithDefaultMaxRetries(cfg.Dispatch.DefaultMaxRetries),
		dispatch.WithMaxPromptBytes(cfg.Dispatch.MaxPromptBytes),
		dispatch.WithActiveGauge(metrics.ActiveJobs),
	)
	return rt, nil
}

func (rt *runtime) openArchive() error {
	var sinks []archive.Sink
	closeAll := func() {
		for _, s := range sinks {
			s.Close()
		}
	}

	if path := rt.cfg.Archive.SQLitePath; path != "" {
		store, err := archive.OpenSQLite(path)
		if err != nil {
			return err
		}
		rt.sqlite = store
		sinks = append(sinks, store)
	}
	if addr := rt.cfg.Archive.RedisAddr; addr != "" {
		pub, err := archive.NewRedisPublisher(archive.RedisConfig{
			Addr:   addr,
			Stream: rt.cfg.Archive.RedisStream,
		})
		if err != nil {
			closeAll()
			return err
		}
		sinks = append(sinks, pub)
	}

	rt.forwarder = archive.NewForwarder(logging.Component(rt.logger, "archive"), rt.cfg.Archive.BufferSize, sinks...)
	rt.store.Attach(rt.forwarder)
	return nil
}

// applyAvailability pushes administrative flags into the registry. Unknown
// ids are logged and skipped.
func (rt *runtime) applyAvailability(avail map[string]bool) {
	for id, ok := range avail {
		if err := rt.registry.SetAvailability(id, ok); err != nil {
			rt.logger.Warn().Str("backend", id).Err(err).Msg("AVAILABILITY_IGNORED")
		}
	}
}

// Close cancels in-flight jobs, waits for them and flushes the archive.
func (rt *runtime) Close(ctx context.Context) error {
	if n := rt.dispatcher.CancelAll(); n > 0 {
		rt.logger.Info().Int("jobs", n).Msg("JOBS_CANCELLED")
	}
	if err := rt.dispatcher.Wait(ctx); err != nil {
		rt.logger.Warn().Err(err).Msg("JOBS_WAIT_TIMEOUT")
	}
	if rt.forwarder == nil {
		return nil
	}

	err := rt.forwarder.Close(ctx)
	written, dropped, failed := rt.forwarder.Stats()
	rt.logger.Debug().
		Int64("written", written).
		Int64("dropped", dropped).
		Int64("failed", failed).
		Msg("ARCHIVE_CLOSED")
	return err
}

// closeTimeout bounds Close for one-shot commands.
const closeTimeout = 10 * time.Second
