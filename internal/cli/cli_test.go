// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeranaias/rigrun-dispatch/internal/archive"
	"github.com/jeranaias/rigrun-dispatch/internal/config"
	"github.com/jeranaias/rigrun-dispatch/internal/dispatch"
	"github.com/jeranaias/rigrun-dispatch/internal/joblog"
	"github.com/jeranaias/rigrun-dispatch/internal/registry"
)

// =============================================================================
// TEST HELPERS
// =============================================================================

func init() {
	ForceColorsEnabled(false)
}

// writeConfig saves a default config, adjusted by mutate, to a temp file.
func writeConfig(t *testing.T, mutate func(*config.Config)) string {
	t.Helper()

	cfg := config.Default()
	cfg.Logging.Level = "error"
	for i := range cfg.Backends {
		cfg.Backends[i].SimulatedLatencyMs = 5
	}
	if mutate != nil {
		mutate(cfg)
	}
	path := filepath.Join(t.TempDir(), "dispatch.toml")
	require.NoError(t, config.SaveTOML(cfg, path))
	return path
}

// execute runs the CLI with args and returns the exit code and outputs.
func execute(t *testing.T, args ...string) (int, string, string) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	code := run(NewRootCmd(), args, &stdout, &stderr)
	return code, stdout.String(), stderr.String()
}

// =============================================================================
// CLASSIFY
// =============================================================================

func TestClassify_JSON(t *testing.T) {
	cfgPath := writeConfig(t, nil)

	code, out, errOut := execute(t, "--config", cfgPath, "classify", "--json", "fix", "this", "bug", "in", "the", "parser")
	require.Equal(t, ExitOK, code, errOut)

	var got ClassifyOutput
	require.NoError(t, json.Unmarshal([]byte(out), &got))
	assert.Equal(t, "debugging", string(got.Category))
	assert.Equal(t, `keyword "fix"`, got.Rule)
	assert.Equal(t, registry.BackendDebugSpecialist, got.PreferredBackend)
	assert.Positive(t, got.EstimatedTokens)
}

func TestClassify_Text(t *testing.T) {
	cfgPath := writeConfig(t, nil)

	code, out, _ := execute(t, "--config", cfgPath, "classify", "hi")
	require.Equal(t, ExitOK, code)
	assert.Contains(t, out, "completion")
	assert.Contains(t, out, "short prompt")
}

func TestClassify_RequiresPrompt(t *testing.T) {
	cfgPath := writeConfig(t, nil)

	code, _, errOut := execute(t, "--config", cfgPath, "classify")
	assert.Equal(t, ExitUsage, code)
	assert.Contains(t, errOut, "requires at least 1 argument")
}

// =============================================================================
// ASK
// =============================================================================

func TestAsk_JSONSuccess(t *testing.T) {
	cfgPath := writeConfig(t, nil)

	code, out, errOut := execute(t, "--config", cfgPath, "ask", "--json", "--tier", "pro", "fix this bug in the parser")
	require.Equal(t, ExitOK, code, errOut)

	var got AskOutput
	require.NoError(t, json.Unmarshal([]byte(out), &got))
	require.NotNil(t, got.Result)
	assert.Nil(t, got.Error)
	require.NotNil(t, got.Result.Response)
	assert.Equal(t, registry.BackendDebugSpecialist, got.Result.Response.BackendUsed)
	assert.True(t, got.Result.Record.Success)
	assert.Contains(t, got.Result.Record.Rationale, `keyword "fix"`)
}

func TestAsk_TextOutput(t *testing.T) {
	cfgPath := writeConfig(t, nil)

	code, out, errOut := execute(t, "--config", cfgPath, "ask", "--prefer", registry.BackendFastComplete, "write a function that sorts a list")
	require.Equal(t, ExitOK, code, errOut)
	assert.Contains(t, out, registry.BackendFastComplete)
	assert.Contains(t, out, "[OK]")
	assert.Contains(t, out, "attempt 1/1")
}

func TestAsk_NoBackendAvailable(t *testing.T) {
	cfgPath := writeConfig(t, func(cfg *config.Config) {
		off := false
		for i := range cfg.Backends {
			cfg.Backends[i].Available = &off
		}
	})

	code, out, _ := execute(t, "--config", cfgPath, "ask", "--json", "write a function")
	require.Equal(t, ExitFailure, code)

	var got AskOutput
	require.NoError(t, json.Unmarshal([]byte(out), &got))
	require.NotNil(t, got.Error)
	assert.Equal(t, dispatch.KindNoBackendAvailable, got.Error.Kind)
	require.NotNil(t, got.Result)
	assert.Empty(t, got.Result.Record.Backend)
}

func TestAsk_UsageErrors(t *testing.T) {
	cfgPath := writeConfig(t, nil)

	tests := []struct {
		name string
		args []string
	}{
		{"no prompt", []string{"ask"}},
		{"unknown tier", []string{"ask", "--tier", "gold", "hello"}},
		{"unknown flag", []string{"ask", "--bogus", "hello"}},
		{"negative retries", []string{"ask", "--retries", "-1", "hello"}},
		{"negative timeout", []string{"ask", "--timeout", "-1s", "hello"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, _, errOut := execute(t, append([]string{"--config", cfgPath}, tt.args...)...)
			assert.Equal(t, ExitUsage, code, errOut)
		})
	}
}

func TestInvalidConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.toml")
	require.NoError(t, os.WriteFile(path, []byte("[server]\nport = 70000\n"), 0600))

	code, _, errOut := execute(t, "--config", path, "classify", "hello")
	assert.Equal(t, ExitError, code)
	assert.Contains(t, errOut, "invalid config")
}

// =============================================================================
// HISTORY
// =============================================================================

func TestAskThenHistory(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "history.db")
	cfgPath := writeConfig(t, func(cfg *config.Config) {
		cfg.Archive.SQLitePath = dbPath
	})

	for _, prompt := range []string{"fix this bug", "design a settings page layout"} {
		code, _, errOut := execute(t, "--config", cfgPath, "ask", "--tier", "pro", prompt)
		require.Equal(t, ExitOK, code, errOut)
	}

	code, out, errOut := execute(t, "--config", cfgPath, "history", "export")
	require.Equal(t, ExitOK, code, errOut)
	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 3)
	assert.Equal(t, "timestamp,backendUsed,taskCategory,durationMs,tokensUsed,cost,success", lines[0])

	outFile := filepath.Join(t.TempDir(), "export.csv")
	code, _, errOut = execute(t, "--config", cfgPath, "history", "export", "--output", outFile)
	require.Equal(t, ExitOK, code, errOut)
	data, err := os.ReadFile(outFile)
	require.NoError(t, err)
	assert.Equal(t, out, string(data))

	code, out, errOut = execute(t, "--config", cfgPath, "history", "usage", "--json")
	require.Equal(t, ExitOK, code, errOut)
	var snap joblog.Snapshot
	require.NoError(t, json.Unmarshal([]byte(out), &snap))
	assert.Equal(t, 2, snap.TotalJobs)
	assert.Equal(t, 1, snap.ByCategory["debugging"])
	assert.Equal(t, 1, snap.ByCategory["visual"])

	code, out, errOut = execute(t, "--config", cfgPath, "history", "usage")
	require.Equal(t, ExitOK, code, errOut)
	assert.Contains(t, out, registry.BackendVisualDesigner)

	code, out, errOut = execute(t, "--config", cfgPath, "history", "prune", "--days", "1")
	require.Equal(t, ExitOK, code, errOut)
	assert.Contains(t, out, "Pruned 0 records")
}

func TestAsk_NoArchiveFlag(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "history.db")
	cfgPath := writeConfig(t, func(cfg *config.Config) {
		cfg.Archive.SQLitePath = dbPath
	})

	code, _, errOut := execute(t, "--config", cfgPath, "ask", "--no-archive", "fix this bug")
	require.Equal(t, ExitOK, code, errOut)

	_, err := os.Stat(dbPath)
	assert.True(t, os.IsNotExist(err), "archive must not be created")
}

func TestHistory_RequiresArchive(t *testing.T) {
	cfgPath := writeConfig(t, nil)

	code, _, errOut := execute(t, "--config", cfgPath, "history", "export")
	assert.Equal(t, ExitUsage, code)
	assert.Contains(t, errOut, "no archive configured")
}

// =============================================================================
// BACKENDS
// =============================================================================

func TestBackends_FromConfig(t *testing.T) {
	cfgPath := writeConfig(t, func(cfg *config.Config) {
		off := false
		cfg.Backends[0].Available = &off
	})

	code, out, errOut := execute(t, "--config", cfgPath, "backends", "--json")
	require.Equal(t, ExitOK, code, errOut)

	var got map[string][]registry.Status
	require.NoError(t, json.Unmarshal([]byte(out), &got))
	require.Len(t, got["backends"], len(registry.DefaultCatalog()))
	assert.False(t, got["backends"][0].Available)
	assert.True(t, got["backends"][1].Available)

	code, out, _ = execute(t, "--config", cfgPath, "backends")
	require.Equal(t, ExitOK, code)
	assert.Contains(t, out, "[OFF]")
	assert.Contains(t, out, registry.BackendReasoningPro)
}

func TestBackends_FromServer(t *testing.T) {
	until := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/backends", r.URL.Path)
		json.NewEncoder(w).Encode(map[string][]registry.Status{"backends": {
			{Descriptor: registry.Descriptor{ID: "remote-one", Latency: registry.LatencyLow}, Available: false, CooldownUntil: &until},
		}})
	}))
	defer ts.Close()
	cfgPath := writeConfig(t, nil)

	code, out, errOut := execute(t, "--config", cfgPath, "backends", "--server", ts.URL)
	require.Equal(t, ExitOK, code, errOut)
	assert.Contains(t, out, "remote-one")
	assert.Contains(t, out, "[COOL]")
}

func TestBackends_ServerError(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusInternalServerError)
	}))
	defer ts.Close()
	cfgPath := writeConfig(t, nil)

	code, _, errOut := execute(t, "--config", cfgPath, "backends", "--server", ts.URL)
	assert.Equal(t, ExitError, code)
	assert.Contains(t, errOut, "500")
}

// =============================================================================
// CONFIG
// =============================================================================

func TestConfigInitAndShow(t *testing.T) {
	path := filepath.Join(t.TempDir(), "new.toml")

	code, out, errOut := execute(t, "config", "init", path)
	require.Equal(t, ExitOK, code, errOut)
	assert.Contains(t, out, path)

	code, _, _ = execute(t, "config", "init", path)
	assert.Equal(t, ExitUsage, code, "existing file needs --force")

	code, _, errOut = execute(t, "config", "init", "--force", path)
	require.Equal(t, ExitOK, code, errOut)

	code, out, errOut = execute(t, "--config", path, "config", "show")
	require.Equal(t, ExitOK, code, errOut)
	var shown config.Config
	require.NoError(t, json.Unmarshal([]byte(out), &shown))
	assert.Equal(t, config.DefaultPort, shown.Server.Port)
	assert.Len(t, shown.Backends, len(registry.DefaultCatalog()))
}

// =============================================================================
// SERVE
// =============================================================================

func TestServe_DispatchAndShutdown(t *testing.T) {
	cfg := config.Default()
	cfg.Archive.SQLitePath = filepath.Join(t.TempDir(), "serve.db")
	for i := range cfg.Backends {
		cfg.Backends[i].SimulatedLatencyMs = 5
	}
	g := &globalOptions{cfg: cfg, logger: zerolog.Nop()}

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	base := "http://" + ln.Addr().String()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- serve(ctx, g, ln) }()

	require.Eventually(t, func() bool {
		resp, err := http.Get(base + "/health")
		if err != nil {
			return false
		}
		resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 5*time.Second, 20*time.Millisecond)

	resp, err := http.Post(base+"/v1/dispatch", "application/json", strings.NewReader(`{"prompt":"fix this bug"}`))
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = http.Get(base + "/metrics")
	require.NoError(t, err)
	var metrics bytes.Buffer
	metrics.ReadFrom(resp.Body)
	resp.Body.Close()
	assert.Contains(t, metrics.String(), "rigrun_dispatch_attempts_total")
	assert.Contains(t, metrics.String(), "go_goroutines")

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("serve did not stop")
	}

	store, err := archive.OpenSQLite(cfg.Archive.SQLitePath)
	require.NoError(t, err)
	defer store.Close()
	n, err := store.Count(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

// =============================================================================
// STYLES
// =============================================================================

func TestRenderTable_AlignsColumns(t *testing.T) {
	out := RenderTable([]string{"A", "B"}, [][]string{{"long-value", "x"}, {"s", "y"}})
	lines := strings.Split(strings.TrimRight(out, "\n"), "\n")
	require.Len(t, lines, 3)
	assert.Equal(t, strings.Index(lines[1], "x"), strings.Index(lines[2], "y"))
	assert.Equal(t, strings.Index(lines[0], "B"), strings.Index(lines[1], "x"))
}

func TestRenderStatus(t *testing.T) {
	assert.Contains(t, RenderStatus("available"), "[OK]")
	assert.Contains(t, RenderStatus("cooldown"), "[COOL]")
	assert.Contains(t, RenderStatus("disabled"), "[OFF]")
	assert.Contains(t, RenderStatus("failed"), "[FAIL]")
	assert.Contains(t, RenderStatus("weird"), "[WEIRD]")
}
