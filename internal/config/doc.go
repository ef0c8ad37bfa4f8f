// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package config provides configuration loading and management for
// rigrun-dispatch.
//
// Supports TOML, JSON and YAML configuration files, with sensible defaults,
// environment variable overrides, validation and hot reload.
//
// # Key Types
//
//   - Config: main configuration structure with all settings
//   - BackendConfig: one entry of the backend catalogue
//   - Watcher: reloads a config file when it changes on disk
//
// # Configuration Precedence
//
// Configuration is resolved from (in order of precedence):
//   - Environment variables (RIGRUN_DISPATCH_*)
//   - The file passed to Load (format chosen by extension)
//   - Built-in defaults
//
// # Usage
//
//	cfg, err := config.Load("dispatch.toml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	descs, err := cfg.Descriptors()
package config
