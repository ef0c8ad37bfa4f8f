// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package archive

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

// DefaultPruneSchedule runs retention pruning daily at 03:00.
const DefaultPruneSchedule = "0 3 * * *"

// Pruner deletes archived records older than the retention window.
type Pruner struct {
	store     *SQLiteStore
	retention time.Duration
	now       func() time.Time
	logger    zerolog.Logger
}

// NewPruner creates a pruner. now may be nil to use time.Now.
func NewPruner(store *SQLiteStore, retention time.Duration, now func() time.Time, logger zerolog.Logger) *Pruner {
	if now == nil {
		now = time.Now
	}
	return &Pruner{store: store, retention: retention, now: now, logger: logger}
}

// PruneOnce deletes records older than now minus the retention window.
// A non-positive retention keeps everything.
func (p *Pruner) PruneOnce(ctx context.Context) (int64, error) {
	if p.retention <= 0 {
		return 0, nil
	}
	cutoff := p.now().Add(-p.retention)
	n, err := p.store.PruneBefore(ctx, cutoff)
	if err != nil {
		p.logger.Error().Err(err).Msg("ARCHIVE_PRUNE_FAILED")
		return 0, err
	}
	p.logger.Info().Int64("removed", n).Time("cutoff", cutoff).Msg("ARCHIVE_PRUNED")
	return n, nil
}

// Run implements cron.Job.
func (p *Pruner) Run() {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()
	p.PruneOnce(ctx)
}

// Schedule starts a cron scheduler that runs the pruner on spec, a standard
// five-field cron expression. Stop the returned scheduler on shutdown.
func (p *Pruner) Schedule(spec string) (*cron.Cron, error) {
	sched, err := cron.ParseStandard(spec)
	if err != nil {
		return nil, fmt.Errorf("invalid prune schedule %q: %w", spec, err)
	}
	c := cron.New()
	c.Schedule(sched, p)
	c.Start()
	return c, nil
}

// RetentionDays converts a day count to a duration.
func RetentionDays(days int) time.Duration {
	return time.Duration(days) * 24 * time.Hour
}
