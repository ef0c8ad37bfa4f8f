// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package util holds the small helpers shared by the dispatcher, the stub
// backends and the CLI.
//
//   - TruncateRunes: UTF-8 safe truncation with an ellipsis
//   - AtomicWriteFile: crash-safe file writing with fsync
package util
