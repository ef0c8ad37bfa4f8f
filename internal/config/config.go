// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"

	"github.com/jeranaias/rigrun-dispatch/internal/registry"
	"github.com/jeranaias/rigrun-dispatch/internal/router"
	"github.com/jeranaias/rigrun-dispatch/internal/util"
)

// =============================================================================
// CONFIG STRUCTURES
// =============================================================================

// Config represents the complete rigrun-dispatch configuration.
type Config struct {
	Server   ServerConfig   `toml:"server" json:"server" yaml:"server"`
	Dispatch DispatchConfig `toml:"dispatch" json:"dispatch" yaml:"dispatch"`

	// Backends is the catalogue in registry order. The first entry is the
	// registry default.
	Backends []BackendConfig `toml:"backends" json:"backends" yaml:"backends"`

	// Preferences maps a task category to its preferred backend id.
	Preferences map[string]string `toml:"preferences" json:"preferences" yaml:"preferences"`

	Logging LoggingConfig `toml:"logging" json:"logging" yaml:"logging"`
	Archive ArchiveConfig `toml:"archive" json:"archive" yaml:"archive"`
}

// ServerConfig contains HTTP server settings.
type ServerConfig struct {
	Bind string `toml:"bind" json:"bind" yaml:"bind"`
	Port int    `toml:"port" json:"port" yaml:"port"`

	// RateLimit is requests per second per client; RateBurst is the bucket size.
	RateLimit float64 `toml:"rate_limit" json:"rate_limit" yaml:"rate_limit"`
	RateBurst int     `toml:"rate_burst" json:"rate_burst" yaml:"rate_burst"`

	// TrustedProxies may set X-Forwarded-For / X-Real-IP.
	TrustedProxies []string `toml:"trusted_proxies" json:"trusted_proxies" yaml:"trusted_proxies"`

	ShutdownTimeoutSecs int `toml:"shutdown_timeout_secs" json:"shutdown_timeout_secs" yaml:"shutdown_timeout_secs"`
}

// DispatchConfig contains dispatcher defaults.
type DispatchConfig struct {
	// DefaultTimeoutMs bounds each attempt when a request sets no timeout.
	DefaultTimeoutMs int `toml:"default_timeout_ms" json:"default_timeout_ms" yaml:"default_timeout_ms"`
	// DefaultMaxRetries is the retry budget when a request sets none.
	DefaultMaxRetries int `toml:"default_max_retries" json:"default_max_retries" yaml:"default_max_retries"`
	// CooldownSecs is how long a failed backend stays unavailable.
	CooldownSecs int `toml:"cooldown_secs" json:"cooldown_secs" yaml:"cooldown_secs"`
	// MaxPromptBytes rejects larger prompts.
	MaxPromptBytes int `toml:"max_prompt_bytes" json:"max_prompt_bytes" yaml:"max_prompt_bytes"`
}

// BackendConfig is one backend of the catalogue.
type BackendConfig struct {
	ID           string   `toml:"id" json:"id" yaml:"id"`
	Name         string   `toml:"name" json:"name" yaml:"name"`
	CostPerUnit  float64  `toml:"cost_per_unit" json:"cost_per_unit" yaml:"cost_per_unit"`
	Latency      string   `toml:"latency" json:"latency" yaml:"latency"`
	Premium      bool     `toml:"premium" json:"premium" yaml:"premium"`
	Capabilities []string `toml:"capabilities" json:"capabilities" yaml:"capabilities"`

	// Available is the administrative flag. Unset means available.
	Available *bool `toml:"available,omitempty" json:"available,omitempty" yaml:"available,omitempty"`

	// SimulatedLatencyMs overrides the stub latency derived from Latency.
	SimulatedLatencyMs int `toml:"simulated_latency_ms,omitempty" json:"simulated_latency_ms,omitempty" yaml:"simulated_latency_ms,omitempty"`
}

// IsAvailable reports the administrative flag.
func (b BackendConfig) IsAvailable() bool {
	return b.Available == nil || *b.Available
}

// LoggingConfig contains logger settings.
type LoggingConfig struct {
	// Level is trace, debug, info, warn or error.
	Level string `toml:"level" json:"level" yaml:"level"`
	// Format is console or json.
	Format string `toml:"format" json:"format" yaml:"format"`
	// SnapshotSchedule is the cron spec for the periodic usage summary log.
	SnapshotSchedule string `toml:"snapshot_schedule" json:"snapshot_schedule" yaml:"snapshot_schedule"`
}

// ArchiveConfig contains job history persistence settings. Empty
// SQLitePath and RedisAddr disable the respective sink.
type ArchiveConfig struct {
	SQLitePath    string `toml:"sqlite_path" json:"sqlite_path" yaml:"sqlite_path"`
	RedisAddr     string `toml:"redis_addr" json:"redis_addr" yaml:"redis_addr"`
	RedisStream   string `toml:"redis_stream" json:"redis_stream" yaml:"redis_stream"`
	PruneSchedule string `toml:"prune_schedule" json:"prune_schedule" yaml:"prune_schedule"`
	RetentionDays int    `toml:"retention_days" json:"retention_days" yaml:"retention_days"`
	BufferSize    int    `toml:"buffer_size" json:"buffer_size" yaml:"buffer_size"`
}

// Enabled reports whether any sink is configured.
func (a ArchiveConfig) Enabled() bool {
	return a.SQLitePath != "" || a.RedisAddr != ""
}

// =============================================================================
// DEFAULTS
// =============================================================================

const (
	DefaultBind                = "127.0.0.1"
	DefaultPort                = 8787
	DefaultRateLimit           = 20
	DefaultRateBurst           = 40
	DefaultShutdownTimeoutSecs = 10
	DefaultTimeoutMs           = 30000
	DefaultCooldownSecs        = 300
	DefaultMaxPromptBytes      = 64 * 1024
	DefaultLogLevel            = "info"
	DefaultLogFormat           = "console"
	DefaultSnapshotSchedule    = "@every 5m"
	DefaultRedisStream         = "rigrun:dispatch:records"
	DefaultPruneSchedule       = "0 3 * * *"
	DefaultRetentionDays       = 30
	DefaultBufferSize          = 1024
)

// Default returns the default configuration with the built-in catalogue.
func Default() *Config {
	cfg := &Config{
		Server: ServerConfig{
			Bind:                DefaultBind,
			Port:                DefaultPort,
			RateLimit:           DefaultRateLimit,
			RateBurst:           DefaultRateBurst,
			ShutdownTimeoutSecs: DefaultShutdownTimeoutSecs,
		},
		Dispatch: DispatchConfig{
			DefaultTimeoutMs: DefaultTimeoutMs,
			CooldownSecs:     DefaultCooldownSecs,
			MaxPromptBytes:   DefaultMaxPromptBytes,
		},
		Preferences: defaultPreferences(),
		Logging: LoggingConfig{
			Level:            DefaultLogLevel,
			Format:           DefaultLogFormat,
			SnapshotSchedule: DefaultSnapshotSchedule,
		},
		Archive: ArchiveConfig{
			RedisStream:   DefaultRedisStream,
			PruneSchedule: DefaultPruneSchedule,
			RetentionDays: DefaultRetentionDays,
			BufferSize:    DefaultBufferSize,
		},
	}
	for _, d := range registry.DefaultCatalog() {
		cfg.Backends = append(cfg.Backends, BackendConfig{
			ID:           d.ID,
			Name:         d.Name,
			CostPerUnit:  d.CostPerUnit,
			Latency:      string(d.Latency),
			Premium:      d.Premium,
			Capabilities: append([]string(nil), d.Capabilities...),
		})
	}
	return cfg
}

func defaultPreferences() map[string]string {
	out := make(map[string]string)
	for cat, id := range router.DefaultPreferences() {
		out[string(cat)] = id
	}
	return out
}

// fillDefaults fills in any missing values with defaults.
func fillDefaults(cfg *Config) {
	defaults := Default()

	// Server
	if cfg.Server.Bind == "" {
		cfg.Server.Bind = defaults.Server.Bind
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = defaults.Server.Port
	}
	if cfg.Server.RateLimit == 0 {
		cfg.Server.RateLimit = defaults.Server.RateLimit
	}
	if cfg.Server.RateBurst == 0 {
		cfg.Server.RateBurst = defaults.Server.RateBurst
	}
	if cfg.Server.ShutdownTimeoutSecs == 0 {
		cfg.Server.ShutdownTimeoutSecs = defaults.Server.ShutdownTimeoutSecs
	}

	// Dispatch
	if cfg.Dispatch.DefaultTimeoutMs == 0 {
		cfg.Dispatch.DefaultTimeoutMs = defaults.Dispatch.DefaultTimeoutMs
	}
	if cfg.Dispatch.CooldownSecs == 0 {
		cfg.Dispatch.CooldownSecs = defaults.Dispatch.CooldownSecs
	}
	if cfg.Dispatch.MaxPromptBytes == 0 {
		cfg.Dispatch.MaxPromptBytes = defaults.Dispatch.MaxPromptBytes
	}

	// Catalogue
	if len(cfg.Backends) == 0 {
		cfg.Backends = defaults.Backends
	}
	if len(cfg.Preferences) == 0 {
		cfg.Preferences = defaults.Preferences
	}

	// Logging
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = defaults.Logging.Level
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = defaults.Logging.Format
	}
	if cfg.Logging.SnapshotSchedule == "" {
		cfg.Logging.SnapshotSchedule = defaults.Logging.SnapshotSchedule
	}

	// Archive
	if cfg.Archive.RedisStream == "" {
		cfg.Archive.RedisStream = defaults.Archive.RedisStream
	}
	if cfg.Archive.PruneSchedule == "" {
		cfg.Archive.PruneSchedule = defaults.Archive.PruneSchedule
	}
	if cfg.Archive.RetentionDays == 0 {
		cfg.Archive.RetentionDays = defaults.Archive.RetentionDays
	}
	if cfg.Archive.BufferSize == 0 {
		cfg.Archive.BufferSize = defaults.Archive.BufferSize
	}
}

// =============================================================================
// LOAD FUNCTIONS
// =============================================================================

// Load reads the config file at path, fills defaults, applies environment
// overrides and validates the result. An empty path loads defaults plus
// environment overrides.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	if path != "" {
		if err := decodeFile(cfg, path); err != nil {
			return nil, err
		}
	}

	fillDefaults(cfg)
	cfg.ApplyEnvOverrides()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// decodeFile decodes path into cfg, choosing the format by extension.
// Unknown extensions are read as TOML.
func decodeFile(cfg *Config, path string) error {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("failed to read JSON file: %w", err)
		}
		if err := json.Unmarshal(data, cfg); err != nil {
			return fmt.Errorf("failed to decode JSON file %s: %w", path, err)
		}
	case ".yaml", ".yml":
		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("failed to read YAML file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return fmt.Errorf("failed to decode YAML file %s: %w", path, err)
		}
	default:
		md, err := toml.DecodeFile(path, cfg)
		if err != nil {
			return fmt.Errorf("failed to decode TOML file %s: %w", path, err)
		}
		if undecoded := md.Undecoded(); len(undecoded) > 0 {
			keys := make([]string, len(undecoded))
			for i, k := range undecoded {
				keys[i] = k.String()
			}
			fmt.Fprintf(os.Stderr, "Warning: unknown config keys in %s: %s\n", path, strings.Join(keys, ", "))
		}
	}
	return nil
}

// =============================================================================
// SAVE FUNCTIONS
// =============================================================================

// SaveTOML writes the configuration to path as TOML with a header comment.
// The write is atomic; the file is created with 0600 permissions.
func SaveTOML(cfg *Config, path string) error {
	var buf bytes.Buffer
	buf.WriteString("# rigrun-dispatch configuration file\n")
	buf.WriteString("# Generated by rigrun-dispatch - edit with care\n")
	buf.WriteString("#\n")
	buf.WriteString("# Environment variables RIGRUN_DISPATCH_* override values in this file.\n\n")

	if err := toml.NewEncoder(&buf).Encode(cfg); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	if err := util.AtomicWriteFile(path, buf.Bytes(), 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// =============================================================================
// VALIDATION
// =============================================================================

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidateErrors is a collection of validation errors.
type ValidateErrors []ValidationError

func (e ValidateErrors) Error() string {
	if len(e) == 0 {
		return "no validation errors"
	}
	msgs := make([]string, 0, len(e))
	for _, err := range e {
		msgs = append(msgs, err.Error())
	}
	return strings.Join(msgs, "; ")
}

// Validate validates the configuration and returns every problem found.
func (c *Config) Validate() error {
	var errs ValidateErrors
	add := func(field, format string, args ...any) {
		errs = append(errs, ValidationError{Field: field, Message: fmt.Sprintf(format, args...)})
	}

	// ==========================================================================
	// Server
	// ==========================================================================

	if c.Server.Port < 1 || c.Server.Port > 65535 {
		add("server.port", "port %d out of range 1-65535", c.Server.Port)
	}
	if c.Server.RateLimit < 0 {
		add("server.rate_limit", "must not be negative")
	}
	if c.Server.RateBurst < 0 {
		add("server.rate_burst", "must not be negative")
	}
	if c.Server.ShutdownTimeoutSecs < 0 {
		add("server.shutdown_timeout_secs", "must not be negative")
	}

	// ==========================================================================
	// Dispatch
	// ==========================================================================

	if c.Dispatch.DefaultTimeoutMs < 0 {
		add("dispatch.default_timeout_ms", "must not be negative")
	}
	if c.Dispatch.DefaultMaxRetries < 0 || c.Dispatch.DefaultMaxRetries > 10 {
		add("dispatch.default_max_retries", "must be between 0 and 10, got %d", c.Dispatch.DefaultMaxRetries)
	}
	if c.Dispatch.CooldownSecs < 0 {
		add("dispatch.cooldown_secs", "must not be negative")
	}
	if c.Dispatch.MaxPromptBytes < 0 {
		add("dispatch.max_prompt_bytes", "must not be negative")
	}

	// ==========================================================================
	// Catalogue
	// ==========================================================================

	if len(c.Backends) == 0 {
		add("backends", "at least one backend is required")
	}
	seen := make(map[string]bool, len(c.Backends))
	for i, b := range c.Backends {
		field := fmt.Sprintf("backends[%d]", i)
		switch {
		case strings.TrimSpace(b.ID) == "":
			add(field+".id", "must not be empty")
		case seen[b.ID]:
			add(field+".id", "duplicate backend id %q", b.ID)
		}
		seen[b.ID] = true

		if b.CostPerUnit < 0 {
			add(field+".cost_per_unit", "must not be negative")
		}
		if _, err := registry.ParseLatencyClass(b.Latency); err != nil {
			add(field+".latency", "%v", err)
		}
		if b.SimulatedLatencyMs < 0 {
			add(field+".simulated_latency_ms", "must not be negative")
		}
	}

	for _, cat := range sortedKeys(c.Preferences) {
		id := c.Preferences[cat]
		if _, err := router.ParseCategory(cat); err != nil {
			add("preferences."+cat, "unknown category")
		}
		if !seen[id] {
			add("preferences."+cat, "unknown backend %q", id)
		}
	}

	// ==========================================================================
	// Logging and archive
	// ==========================================================================

	if _, ok := validLogLevels[strings.ToLower(c.Logging.Level)]; !ok {
		add("logging.level", "invalid level '%s', must be one of: trace, debug, info, warn, error", c.Logging.Level)
	}
	if f := strings.ToLower(c.Logging.Format); f != "console" && f != "json" {
		add("logging.format", "invalid format '%s', must be one of: console, json", c.Logging.Format)
	}
	if _, err := cron.ParseStandard(c.Logging.SnapshotSchedule); err != nil {
		add("logging.snapshot_schedule", "invalid cron spec: %v", err)
	}
	if _, err := cron.ParseStandard(c.Archive.PruneSchedule); err != nil {
		add("archive.prune_schedule", "invalid cron spec: %v", err)
	}
	if c.Archive.RetentionDays < 0 {
		add("archive.retention_days", "must not be negative")
	}
	if c.Archive.BufferSize < 0 {
		add("archive.buffer_size", "must not be negative")
	}

	if len(errs) > 0 {
		return errs
	}
	return nil
}

var validLogLevels = map[string]struct{}{
	"trace": {}, "debug": {}, "info": {}, "warn": {}, "error": {},
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// =============================================================================
// ENVIRONMENT OVERRIDES
// =============================================================================

// EnvPrefix prefixes every environment override.
const EnvPrefix = "RIGRUN_DISPATCH_"

// ApplyEnvOverrides applies environment variable overrides to the config.
//
// Supported environment variables:
//   - RIGRUN_DISPATCH_PORT: overrides server.port
//   - RIGRUN_DISPATCH_LOG_LEVEL: overrides logging.level
//   - RIGRUN_DISPATCH_LOG_FORMAT: overrides logging.format
//   - RIGRUN_DISPATCH_SQLITE_PATH: overrides archive.sqlite_path
//   - RIGRUN_DISPATCH_REDIS_ADDR: overrides archive.redis_addr
//   - RIGRUN_DISPATCH_COOLDOWN_SECS: overrides dispatch.cooldown_secs
//   - RIGRUN_DISPATCH_DEFAULT_TIMEOUT_MS: overrides dispatch.default_timeout_ms
//   - RIGRUN_DISPATCH_MAX_RETRIES: overrides dispatch.default_max_retries
//
// Malformed integers are reported on stderr and ignored.
func (c *Config) ApplyEnvOverrides() {
	envInt("PORT", &c.Server.Port)
	envInt("COOLDOWN_SECS", &c.Dispatch.CooldownSecs)
	envInt("DEFAULT_TIMEOUT_MS", &c.Dispatch.DefaultTimeoutMs)
	envInt("MAX_RETRIES", &c.Dispatch.DefaultMaxRetries)

	if v := os.Getenv(EnvPrefix + "LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
	if v := os.Getenv(EnvPrefix + "LOG_FORMAT"); v != "" {
		c.Logging.Format = v
	}
	if v := os.Getenv(EnvPrefix + "SQLITE_PATH"); v != "" {
		c.Archive.SQLitePath = v
	}
	if v := os.Getenv(EnvPrefix + "REDIS_ADDR"); v != "" {
		c.Archive.RedisAddr = v
	}
}

func envInt(name string, dst *int) {
	v := os.Getenv(EnvPrefix + name)
	if v == "" {
		return
	}
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Warning: ignoring %s%s=%q: not an integer\n", EnvPrefix, name, v)
		return
	}
	*dst = n
}

// =============================================================================
// DERIVED VALUES
// =============================================================================

// Descriptors converts the catalogue to registry descriptors.
func (c *Config) Descriptors() ([]registry.Descriptor, error) {
	out := make([]registry.Descriptor, 0, len(c.Backends))
	for _, b := range c.Backends {
		lc, err := registry.ParseLatencyClass(b.Latency)
		if err != nil {
			return nil, fmt.Errorf("backend %s: %w", b.ID, err)
		}
		out = append(out, registry.Descriptor{
			ID:               b.ID,
			Name:             b.Name,
			CostPerUnit:      b.CostPerUnit,
			Latency:          lc,
			Premium:          b.Premium,
			Capabilities:     append([]string(nil), b.Capabilities...),
			SimulatedLatency: time.Duration(b.SimulatedLatencyMs) * time.Millisecond,
		})
	}
	return out, nil
}

// Availability returns the administrative flag of every backend.
func (c *Config) Availability() map[string]bool {
	out := make(map[string]bool, len(c.Backends))
	for _, b := range c.Backends {
		out[b.ID] = b.IsAvailable()
	}
	return out
}

// CategoryPreferences converts the preference table for router.NewSelector.
// Entries with unknown categories are skipped.
func (c *Config) CategoryPreferences() map[router.Category]string {
	out := make(map[router.Category]string, len(c.Preferences))
	for k, id := range c.Preferences {
		cat, err := router.ParseCategory(k)
		if err != nil {
			continue
		}
		out[cat] = id
	}
	return out
}

// Addr returns the listen address.
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Server.Bind, c.Server.Port)
}

// DefaultTimeout returns the default per-attempt timeout.
func (c *Config) DefaultTimeout() time.Duration {
	return time.Duration(c.Dispatch.DefaultTimeoutMs) * time.Millisecond
}

// Cooldown returns the backend cooldown window.
func (c *Config) Cooldown() time.Duration {
	return time.Duration(c.Dispatch.CooldownSecs) * time.Second
}

// ShutdownTimeout returns the graceful shutdown bound.
func (c *Config) ShutdownTimeout() time.Duration {
	return time.Duration(c.Server.ShutdownTimeoutSecs) * time.Second
}

// =============================================================================
// CLONE & STRING
// =============================================================================

// Clone returns a deep copy of the config.
func (c *Config) Clone() *Config {
	clone := *c
	clone.Server.TrustedProxies = append([]string(nil), c.Server.TrustedProxies...)
	clone.Backends = make([]BackendConfig, len(c.Backends))
	for i, b := range c.Backends {
		b.Capabilities = append([]string(nil), b.Capabilities...)
		if b.Available != nil {
			v := *b.Available
			b.Available = &v
		}
		clone.Backends[i] = b
	}
	clone.Preferences = make(map[string]string, len(c.Preferences))
	for k, v := range c.Preferences {
		clone.Preferences[k] = v
	}
	return &clone
}

// String returns the config as JSON with the Redis password redacted.
func (c *Config) String() string {
	safe := c.Clone()
	safe.Archive.RedisAddr = redactURL(safe.Archive.RedisAddr)
	data, _ := json.MarshalIndent(safe, "", "  ")
	return string(data)
}

func redactURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.User == nil {
		return raw
	}
	if _, ok := u.User.Password(); ok {
		u.User = url.UserPassword(u.User.Username(), "REDACTED")
	}
	return u.String()
}
