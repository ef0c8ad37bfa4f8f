// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package joblog records every executed dispatch attempt and derives usage
// statistics from them.
//
// The Store is append-only: records are never modified once appended, and
// the only destructive operation is Clear. Observers attached to the store
// see every append and every clear while the store lock is held, which keeps
// derived running totals (see package telemetry) consistent with a fresh
// fold over the records.
//
// # Key Types
//
//   - Record: one executed attempt, success or failure
//   - Store: in-memory append-only sequence with filtering
//   - Snapshot: usage statistics produced by Aggregate
//
// # Export
//
// WriteCSV emits the reporting format: a header row followed by one line per
// record with the columns timestamp, backendUsed, taskCategory, durationMs,
// tokensUsed, cost, success.
package joblog
