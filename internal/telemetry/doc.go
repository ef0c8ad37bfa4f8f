// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package telemetry keeps running dispatch totals and exports them as
// Prometheus metrics.
//
// # Key Types
//
//   - Counters: per-backend running totals, a fast-path cache over the job log
//   - Metrics: Prometheus collectors fed from job log appends and registry changes
//
// Both types implement joblog.Observer and are attached to the job log store,
// so they see exactly the records the store holds. Counters reuse the same
// per-record arithmetic as joblog.Aggregate, which keeps them equal to a
// fresh fold over the log.
//
// # Usage
//
//	counters := telemetry.NewCounters()
//	metrics := telemetry.NewMetrics(prometheus.NewRegistry())
//	store := joblog.NewStore(counters, metrics)
package telemetry
