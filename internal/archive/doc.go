// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package archive persists job records outside the process.
//
// The in-memory job log is the source of truth for usage snapshots. The
// archive is a best-effort copy of it:
//
//	joblog.Store ──Observe──▶ Forwarder ──▶ SQLiteStore   (history, prune)
//	                          (buffered)  └─▶ RedisPublisher (XADD stream)
//
// Records are handed to sinks by a single worker goroutine. When the
// buffer is full new records are dropped and counted; dispatch never waits
// on a sink.
package archive
