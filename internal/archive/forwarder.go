// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package archive

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/jeranaias/rigrun-dispatch/internal/joblog"
)

// DefaultBufferSize is the forwarder queue length when none is configured.
const DefaultBufferSize = 1024

// sinkWriteTimeout bounds one sink write.
const sinkWriteTimeout = 5 * time.Second

// Forwarder is a joblog.Observer that copies records to sinks from a
// background worker.
type Forwarder struct {
	sinks  []Sink
	logger zerolog.Logger

	mu     sync.RWMutex
	queue  chan joblog.Record
	closed bool
	done   chan struct{}

	written atomic.Int64
	dropped atomic.Int64
	failed  atomic.Int64
}

// NewForwarder starts a forwarder. bufferSize <= 0 uses DefaultBufferSize.
func NewForwarder(logger zerolog.Logger, bufferSize int, sinks ...Sink) *Forwarder {
	if bufferSize <= 0 {
		bufferSize = DefaultBufferSize
	}
	f := &Forwarder{
		sinks:  sinks,
		logger: logger,
		queue:  make(chan joblog.Record, bufferSize),
		done:   make(chan struct{}),
	}
	go f.run()
	return f
}

// Observe implements joblog.Observer. It never blocks: when the queue is
// full the record is dropped.
func (f *Forwarder) Observe(r joblog.Record) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	if f.closed {
		f.dropped.Add(1)
		return
	}
	select {
	case f.queue <- r:
	default:
		n := f.dropped.Add(1)
		f.logger.Warn().Str("record", r.ID).Int64("dropped_total", n).Msg("ARCHIVE_DROP")
	}
}

// Reset implements joblog.Observer. Archived history outlives an in-memory
// clear, so it does nothing.
func (f *Forwarder) Reset() {}

func (f *Forwarder) run() {
	defer close(f.done)

	for r := range f.queue {
		stored := false
		for _, s := range f.sinks {
			ctx, cancel := context.WithTimeout(context.Background(), sinkWriteTimeout)
			err := s.Write(ctx, r)
			cancel()
			if err != nil {
				f.failed.Add(1)
				f.logger.Warn().Err(err).Str("record", r.ID).Msg("ARCHIVE_WRITE_FAILED")
				continue
			}
			stored = true
		}
		if stored {
			f.written.Add(1)
		}
	}
}

// Stats returns how many records reached at least one sink, how many were
// dropped on a full queue, and how many sink writes failed.
func (f *Forwarder) Stats() (written, dropped, failed int64) {
	return f.written.Load(), f.dropped.Load(), f.failed.Load()
}

// Close stops accepting records and waits for the queue to drain or ctx to
// end. Sinks are closed once the worker has finished.
func (f *Forwarder) Close(ctx context.Context) error {
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return nil
	}
	f.closed = true
	close(f.queue)
	f.mu.Unlock()

	select {
	case <-f.done:
	case <-ctx.Done():
		return ctx.Err()
	}

	var firstErr error
	for _, s := range f.sinks {
		if err := s.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
