// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package cli implements the rigrun-dispatch command tree.
//
// # Commands
//
//   - serve: HTTP API, archive forwarding, scheduled jobs, config reload
//   - ask: dispatch one prompt and print the response and its job record
//   - classify: show the category and preferred backend for a prompt
//   - backends: catalogue and availability, from config or a live server
//   - history export|usage|prune: SQLite archive maintenance
//   - config show|init: effective configuration and default file
//
// Global flags --config, --log-level and --log-format apply to every
// command. Output is colored only when stdout is a terminal; NO_COLOR and
// FORCE_COLOR override detection.
//
// # Exit codes
//
//	0  success
//	1  error
//	2  usage error
//	3  dispatch ran and failed
package cli
