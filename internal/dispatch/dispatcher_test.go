// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package dispatch

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeranaias/rigrun-dispatch/internal/backend"
	"github.com/jeranaias/rigrun-dispatch/internal/joblog"
	"github.com/jeranaias/rigrun-dispatch/internal/registry"
	"github.com/jeranaias/rigrun-dispatch/internal/router"
	"github.com/jeranaias/rigrun-dispatch/internal/telemetry"
)

// =============================================================================
// TEST HARNESS
// =============================================================================

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type countingGauge struct{ n atomic.Int64 }

func (g *countingGauge) Inc() { g.n.Add(1) }
func (g *countingGauge) Dec() { g.n.Add(-1) }

type harness struct {
	clock    *fakeClock
	reg      *registry.Registry
	store    *joblog.Store
	counters *telemetry.Counters
	pool     *backend.Pool
	gauge    *countingGauge
	d        *Dispatcher
}

func newHarness(t *testing.T, opts ...Option) *harness {
	t.Helper()

	h := &harness{
		clock:    &fakeClock{now: time.Date(2025, 6, 1, 8, 0, 0, 0, time.UTC)},
		counters: telemetry.NewCounters(),
		pool:     backend.NewPool(),
		gauge:    &countingGauge{},
	}

	reg, err := registry.New(registry.DefaultCatalog(), registry.WithClock(h.clock))
	require.NoError(t, err)
	h.reg = reg
	h.store = joblog.NewStore(h.counters)

	for _, d := range registry.DefaultCatalog() {
		h.pool.Register(d.ID, &backend.Stub{})
	}

	opts = append([]Option{WithClock(h.clock), WithActiveGauge(h.gauge)}, opts...)
	h.d = New(h.reg, h.store, h.pool, opts...)
	return h
}

func (h *harness) fail(ids ...string) {
	for _, id := range ids {
		id := id
		h.pool.Register(id, &backend.Stub{Fault: func(backend.Call) error {
			return fmt.Errorf("upstream 503 from %s", id)
		}})
	}
}

func (h *harness) failAll() {
	for _, d := range registry.DefaultCatalog() {
		h.fail(d.ID)
	}
}

// =============================================================================
// SCENARIOS
// =============================================================================

func TestDispatch_RoutesDebuggingPrompt(t *testing.T) {
	h := newHarness(t)

	res, err := h.d.Dispatch(context.Background(), Request{Prompt: "fix this bug", Tier: router.TierPro})
	require.NoError(t, err)

	assert.Equal(t, router.CategoryDebugging, res.Category)
	require.NotNil(t, res.Response)
	assert.Equal(t, registry.BackendDebugSpecialist, res.Response.BackendUsed)
	assert.NotEmpty(t, res.Response.Content)

	records := h.d.JobLogs()
	require.Len(t, records, 1)
	rec := records[0]
	assert.True(t, rec.Success)
	assert.Equal(t, res.Record, rec)
	assert.Equal(t, registry.BackendDebugSpecialist, rec.Backend)
	assert.Equal(t, router.CategoryDebugging, rec.Category)
	assert.Equal(t, "fix this bug", rec.Prompt)
	assert.Equal(t, h.clock.Now(), rec.Timestamp)
	assert.Contains(t, rec.Rationale, `keyword "fix"`)

	assert.Empty(t, h.d.ListActiveJobs())
	assert.Zero(t, h.gauge.n.Load())
}

func TestDispatch_FallbackListBeatsRegistryDefault(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.d.SetBackendAvailability(registry.BackendReasoningPro, false))

	res, err := h.d.Dispatch(context.Background(), Request{
		Prompt:           "write a long story about a lighthouse keeper",
		Tier:             router.TierPro,
		PreferredBackend: registry.BackendReasoningPro,
		FallbackBackends: []string{registry.BackendIntegrationExpert, registry.BackendVisualDesigner},
	})
	require.NoError(t, err)

	assert.Equal(t, registry.BackendIntegrationExpert, res.Response.BackendUsed,
		"first available fallback must be used instead of the registry default")
	assert.Contains(t, res.Record.Rationale, "caller fallback integration-expert")
}

func TestDispatch_FallbackListBeatsRegistryDefaultWithoutPreference(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.d.SetBackendAvailability(registry.BackendDebugSpecialist, false))

	res, err := h.d.Dispatch(context.Background(), Request{
		Prompt:           "fix this bug",
		Tier:             router.TierPro,
		FallbackBackends: []string{registry.BackendFastComplete},
	})
	require.NoError(t, err)

	assert.Equal(t, registry.BackendFastComplete, res.Response.BackendUsed,
		"caller fallback must be used before the registry default")
	assert.Contains(t, res.Record.Rationale, "preferred backend debug-specialist unavailable")
	assert.Contains(t, res.Record.Rationale, "caller fallback fast-complete")
	assert.NotContains(t, res.Record.Rationale, "not permitted")
}

func TestDispatch_CategorySpecialistBeatsFallbackList(t *testing.T) {
	h := newHarness(t)

	res, err := h.d.Dispatch(context.Background(), Request{
		Prompt:           "fix this bug",
		Tier:             router.TierPro,
		FallbackBackends: []string{registry.BackendFastComplete},
	})
	require.NoError(t, err)
	assert.Equal(t, registry.BackendDebugSpecialist, res.Response.BackendUsed)
	assert.Contains(t, res.Record.Rationale, "preferred backend for debugging")
}

func TestDispatch_UnusableFallbacksReachRegistryDefault(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.d.SetBackendAvailability(registry.BackendDebugSpecialist, false))
	require.NoError(t, h.d.SetBackendAvailability(registry.BackendFastComplete, false))

	res, err := h.d.Dispatch(context.Background(), Request{
		Prompt:           "fix this bug",
		Tier:             router.TierFree,
		FallbackBackends: []string{registry.BackendFastComplete, registry.BackendReasoningPro},
	})
	require.NoError(t, err)
	assert.Equal(t, registry.BackendGeneralCoder, res.Response.BackendUsed)
	assert.Contains(t, res.Record.Rationale, "no caller fallback usable")
}

func TestDispatch_FallbackSkipsUnavailableEntries(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.d.SetBackendAvailability(registry.BackendReasoningPro, false))
	require.NoError(t, h.d.SetBackendAvailability(registry.BackendIntegrationExpert, false))

	res, err := h.d.Dispatch(context.Background(), Request{
		Prompt:           "write a long story about a lighthouse keeper",
		Tier:             router.TierPro,
		PreferredBackend: registry.BackendReasoningPro,
		FallbackBackends: []string{registry.BackendIntegrationExpert, registry.BackendVisualDesigner},
	})
	require.NoError(t, err)
	assert.Equal(t, registry.BackendVisualDesigner, res.Response.BackendUsed)
}

func TestDispatch_RetryBudgetExhausted(t *testing.T) {
	h := newHarness(t)
	h.failAll()

	res, err := h.d.Dispatch(context.Background(), Request{
		Prompt:     "fix this bug",
		Tier:       router.TierPro,
		MaxRetries: Retries(2),
	})
	require.Error(t, err)
	assert.Equal(t, KindRetryBudgetExhausted, KindOf(err))
	assert.ErrorIs(t, err, ErrRetryBudgetExhausted)
	assert.ErrorIs(t, err, ErrInvocationFailed, "the last cause stays in the chain")
	assert.Nil(t, res.Response)
	assert.Equal(t, 3, res.Attempts)

	records := h.d.JobLogs()
	require.Len(t, records, 3, "one record per executed attempt")

	seen := make(map[string]bool)
	for i, rec := range records {
		assert.False(t, rec.Success)
		assert.Equal(t, i+1, rec.Attempt)
		assert.Equal(t, res.JobID, rec.JobID)
		assert.Contains(t, rec.Error, "upstream 503")
		assert.False(t, seen[rec.Backend], "backend %s tried twice", rec.Backend)
		seen[rec.Backend] = true
		assert.False(t, h.reg.IsAvailable(rec.Backend), "failed backend %s must be cooling down", rec.Backend)
	}
	assert.Equal(t, string(KindInvocationFailed), records[0].ErrorKind)
	assert.Equal(t, string(KindInvocationFailed), records[1].ErrorKind)
	assert.Equal(t, string(KindRetryBudgetExhausted), records[2].ErrorKind)
	assert.Equal(t, records[2], res.Record)
	assert.Equal(t, registry.BackendDebugSpecialist, records[0].Backend)
}

func TestDispatch_CancelMidInvocation(t *testing.T) {
	h := newHarness(t)
	h.pool.Register(registry.BackendDebugSpecialist, &backend.Stub{Latency: 5 * time.Second})

	job, err := h.d.Start(context.Background(), Request{Prompt: "fix this bug", Tier: router.TierPro})
	require.NoError(t, err)

	require.Eventually(t, func() bool { return job.State() == StateInvoking },
		2*time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{job.ID}, h.d.ListActiveJobs())

	start := time.Now()
	require.True(t, h.d.CancelJob(job.ID))
	assert.NotContains(t, h.d.ListActiveJobs(), job.ID)

	res, err := job.Wait()
	require.Error(t, err)
	assert.Less(t, time.Since(start), time.Second, "cancellation must be observed promptly")
	assert.Equal(t, KindCancelled, KindOf(err))
	assert.Equal(t, StateFailed, job.State())

	records := h.d.JobLogs()
	require.Len(t, records, 1)
	assert.False(t, records[0].Success)
	assert.Equal(t, string(KindCancelled), records[0].ErrorKind)
	assert.Equal(t, records[0], res.Record)

	assert.False(t, h.d.CancelJob(job.ID), "second cancel is a no-op")
	assert.True(t, h.reg.IsAvailable(registry.BackendDebugSpecialist), "cancellation is not a backend fault")
	assert.Zero(t, h.gauge.n.Load())
}

func TestDispatch_Timeout(t *testing.T) {
	h := newHarness(t)
	h.pool.Register(registry.BackendDebugSpecialist, &backend.Stub{Latency: 500 * time.Millisecond})

	start := time.Now()
	res, err := h.d.Dispatch(context.Background(), Request{
		Prompt:  "fix this bug",
		Tier:    router.TierPro,
		Timeout: 100 * time.Millisecond,
	})
	elapsed := time.Since(start)

	require.Error(t, err)
	assert.Equal(t, KindInvocationTimeout, KindOf(err))
	assert.GreaterOrEqual(t, elapsed, 100*time.Millisecond)
	assert.Less(t, elapsed, 400*time.Millisecond)

	assert.Equal(t, string(KindInvocationTimeout), res.Record.ErrorKind)
	assert.False(t, h.reg.IsAvailable(registry.BackendDebugSpecialist))
}

func TestDispatch_TimeoutAbandonsUncooperativeBackend(t *testing.T) {
	h := newHarness(t)
	h.pool.Register(registry.BackendDebugSpecialist, backend.Func(func(ctx context.Context, call backend.Call) (*backend.Reply, error) {
		time.Sleep(500 * time.Millisecond)
		return backend.StubReply(call), nil
	}))

	start := time.Now()
	_, err := h.d.Dispatch(context.Background(), Request{
		Prompt:  "fix this bug",
		Tier:    router.TierPro,
		Timeout: 100 * time.Millisecond,
	})

	assert.Equal(t, KindInvocationTimeout, KindOf(err))
	assert.Less(t, time.Since(start), 400*time.Millisecond)
}

// =============================================================================
// RETRY AND COOLDOWN
// =============================================================================

func TestDispatch_NoRetryTerminatesAfterFirstAttempt(t *testing.T) {
	h := newHarness(t)
	h.fail(registry.BackendDebugSpecialist)

	res, err := h.d.Dispatch(context.Background(), Request{
		Prompt:     "fix this bug",
		Tier:       router.TierPro,
		MaxRetries: Retries(0),
	})
	require.Error(t, err)
	assert.Equal(t, KindInvocationFailed, KindOf(err))
	assert.Equal(t, 1, res.Attempts)
	assert.Equal(t, 1, h.store.Len())
	assert.Equal(t, string(KindInvocationFailed), res.Record.ErrorKind)
}

func TestDispatch_RetrySucceedsOnAnotherBackend(t *testing.T) {
	h := newHarness(t)
	h.fail(registry.BackendDebugSpecialist)

	res, err := h.d.Dispatch(context.Background(), Request{
		Prompt:     "fix this bug",
		Tier:       router.TierPro,
		MaxRetries: Retries(2),
	})
	require.NoError(t, err)

	assert.Equal(t, 2, res.Attempts)
	assert.Equal(t, registry.BackendGeneralCoder, res.Response.BackendUsed)

	records := h.d.JobLogs(joblog.ByJob(res.JobID))
	require.Len(t, records, 2)
	assert.False(t, records[0].Success)
	assert.True(t, records[1].Success)
	assert.Contains(t, records[1].Rationale, "attempt 2/3")
}

func TestDispatch_RetryPrefersRemainingFallbacks(t *testing.T) {
	h := newHarness(t)
	h.fail(registry.BackendDebugSpecialist)

	res, err := h.d.Dispatch(context.Background(), Request{
		Prompt:           "fix this bug",
		Tier:             router.TierPro,
		PreferredBackend: registry.BackendDebugSpecialist,
		FallbackBackends: []string{registry.BackendDebugSpecialist, registry.BackendFastComplete},
		MaxRetries:       Retries(1),
	})
	require.NoError(t, err)
	assert.Equal(t, registry.BackendFastComplete, res.Response.BackendUsed)
}

func TestDispatch_CooldownRearmsAfterWindow(t *testing.T) {
	h := newHarness(t)
	h.fail(registry.BackendDebugSpecialist)

	_, err := h.d.Dispatch(context.Background(), Request{Prompt: "fix this bug", Tier: router.TierPro})
	require.Error(t, err)

	assert.False(t, h.d.BackendAvailability()[registry.BackendDebugSpecialist])

	h.clock.Advance(registry.DefaultCooldown - time.Millisecond)
	assert.False(t, h.d.BackendAvailability()[registry.BackendDebugSpecialist])

	h.clock.Advance(time.Millisecond)
	assert.True(t, h.d.BackendAvailability()[registry.BackendDebugSpecialist])
}

func TestDispatch_CancelledCallerContextDoesNotAffectCooldown(t *testing.T) {
	h := newHarness(t)
	h.fail(registry.BackendDebugSpecialist)

	ctx, cancel := context.WithCancel(context.Background())
	_, err := h.d.Dispatch(ctx, Request{Prompt: "fix this bug", Tier: router.TierPro})
	require.Error(t, err)
	cancel()

	assert.False(t, h.reg.IsAvailable(registry.BackendDebugSpecialist))
	h.clock.Advance(registry.DefaultCooldown)
	assert.True(t, h.reg.IsAvailable(registry.BackendDebugSpecialist))
}

// =============================================================================
// SELECTION POLICY
// =============================================================================

func TestDispatch_NoBackendAvailable(t *testing.T) {
	h := newHarness(t)
	for _, d := range registry.DefaultCatalog() {
		require.NoError(t, h.d.SetBackendAvailability(d.ID, false))
	}

	res, err := h.d.Dispatch(context.Background(), Request{Prompt: "fix this bug", Tier: router.TierPro})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNoBackendAvailable)
	assert.ErrorIs(t, err, router.ErrNoBackendAvailable)

	records := h.d.JobLogs()
	require.Len(t, records, 1, "terminal failures are always logged")
	assert.Empty(t, records[0].Backend)
	assert.Zero(t, records[0].Cost)
	assert.Equal(t, string(KindNoBackendAvailable), res.Record.ErrorKind)
}

func TestDispatch_FreeTierNeverGetsPremium(t *testing.T) {
	h := newHarness(t)

	prompts := []string{
		"why should I prefer composition over inheritance",
		"design a mockup for the checkout page",
		"fix this bug",
		"hello",
	}
	for _, p := range prompts {
		res, err := h.d.Dispatch(context.Background(), Request{Prompt: p, Tier: router.TierFree})
		require.NoError(t, err, p)
		desc, _ := h.reg.Lookup(res.Response.BackendUsed)
		assert.False(t, desc.Premium, "free tier routed %q to premium %s", p, desc.ID)
	}
}

func TestDispatch_FreeTierPremiumPreferenceIgnored(t *testing.T) {
	h := newHarness(t)

	res, err := h.d.Dispatch(context.Background(), Request{
		Prompt:           "why is this slow",
		Tier:             router.TierFree,
		PreferredBackend: registry.BackendReasoningPro,
	})
	require.NoError(t, err)
	assert.NotEqual(t, registry.BackendReasoningPro, res.Response.BackendUsed)
	assert.Contains(t, res.Record.Rationale, "not permitted for tier free")
}

func TestDispatch_PreferredBackendWins(t *testing.T) {
	h := newHarness(t)

	res, err := h.d.Dispatch(context.Background(), Request{
		Prompt:           "fix this bug",
		Tier:             router.TierEnterprise,
		PreferredBackend: registry.BackendVisualDesigner,
	})
	require.NoError(t, err)
	assert.Equal(t, registry.BackendVisualDesigner, res.Response.BackendUsed)
}

// =============================================================================
// ACCOUNTING
// =============================================================================

func TestDispatch_CostIsTokensTimesUnit(t *testing.T) {
	h := newHarness(t)

	prompts := []string{"fix this bug", "explain channels", "design a page", "write a poem about rain and wind"}
	for _, p := range prompts {
		_, err := h.d.Dispatch(context.Background(), Request{Prompt: p, Tier: router.TierPro})
		require.NoError(t, err)
	}

	for _, rec := range h.d.JobLogs(joblog.BySuccess(true)) {
		desc, ok := h.reg.Lookup(rec.Backend)
		require.True(t, ok)
		assert.Greater(t, rec.Tokens, 0)
		assert.Equal(t, float64(rec.Tokens)*desc.CostPerUnit, rec.Cost)
	}
}

func TestDispatch_UsageSnapshotMatchesCounters(t *testing.T) {
	h := newHarness(t)
	h.fail(registry.BackendVisualDesigner)

	var wg sync.WaitGroup
	for i := 0; i < 40; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			prompts := []string{"fix this bug", "design a landing page", "explain why", "write a song for me now"}
			h.d.Dispatch(context.Background(), Request{
				Prompt:     prompts[i%len(prompts)],
				Tier:       router.TierPro,
				MaxRetries: Retries(1),
			})
		}(i)
	}
	wg.Wait()

	snap := h.d.UsageSnapshot()
	assert.GreaterOrEqual(t, snap.TotalJobs, 40)
	assert.Equal(t, float64(snap.Successes)/float64(snap.TotalJobs), snap.SuccessRate)

	fast := h.counters.Snapshot()
	assert.Equal(t, len(snap.ByBackend), len(fast))
	for key, bu := range snap.ByBackend {
		assert.Equal(t, bu.Jobs, fast[key].Jobs, key)
		assert.Equal(t, bu.Successes, fast[key].Successes, key)
		assert.Equal(t, bu.Tokens, fast[key].Tokens, key)
		assert.InDelta(t, bu.Cost, fast[key].Cost, 1e-12, key)
	}

	h.d.ClearJobLogs()
	assert.Zero(t, h.d.UsageSnapshot().TotalJobs)
	assert.Zero(t, h.d.UsageSnapshot().SuccessRate)
	assert.Empty(t, h.counters.Snapshot())
}

func TestDispatch_ExportCSV(t *testing.T) {
	h := newHarness(t)
	_, err := h.d.Dispatch(context.Background(), Request{Prompt: "fix this bug", Tier: router.TierPro})
	require.NoError(t, err)

	var sb strings.Builder
	require.NoError(t, h.d.ExportCSV(&sb))

	lines := strings.Split(strings.TrimSpace(sb.String()), "\n")
	require.Len(t, lines, 2)
	assert.Equal(t, "timestamp,backendUsed,taskCategory,durationMs,tokensUsed,cost,success", lines[0])
	assert.Contains(t, lines[1], ",debug-specialist,debugging,")
	assert.True(t, strings.HasSuffix(lines[1], ",true"))
}

// =============================================================================
// ERROR HANDLING
// =============================================================================

func TestDispatch_InvalidRequest(t *testing.T) {
	h := newHarness(t, WithMaxPromptBytes(16))

	tests := []struct {
		name string
		req  Request
	}{
		{"negative retries", Request{Prompt: "hi", MaxRetries: Retries(-1)}},
		{"too many retries", Request{Prompt: "hi", MaxRetries: Retries(MaxRetriesLimit + 1)}},
		{"negative timeout", Request{Prompt: "hi", Timeout: -time.Second}},
		{"bad tier", Request{Prompt: "hi", Tier: router.Tier(9)}},
		{"prompt too long", Request{Prompt: strings.Repeat("a", 17)}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := h.d.Dispatch(context.Background(), tt.req)
			assert.Nil(t, res)
			assert.ErrorIs(t, err, ErrInvalidRequest)
		})
	}
	assert.Zero(t, h.store.Len(), "rejected requests are not logged")
}

func TestDispatch_BackendPanicIsNormalized(t *testing.T) {
	h := newHarness(t)
	h.pool.Register(registry.BackendDebugSpecialist, backend.Func(func(context.Context, backend.Call) (*backend.Reply, error) {
		panic("nil map write")
	}))

	_, err := h.d.Dispatch(context.Background(), Request{Prompt: "fix this bug", Tier: router.TierPro})
	require.Error(t, err)
	assert.Equal(t, KindInvocationFailed, KindOf(err))
	assert.Contains(t, err.Error(), "nil map write")
}

func TestDispatch_MissingImplementation(t *testing.T) {
	h := newHarness(t)
	h.d = New(h.reg, h.store, backend.NewPool(), WithClock(h.clock))

	_, err := h.d.Dispatch(context.Background(), Request{Prompt: "fix this bug", Tier: router.TierPro})
	assert.Equal(t, KindInvocationFailed, KindOf(err))
}

func TestDispatch_DefaultOptions(t *testing.T) {
	h := newHarness(t, WithDefaultMaxRetries(1), WithDefaultTimeout(50*time.Millisecond))
	h.pool.Register(registry.BackendDebugSpecialist, &backend.Stub{Latency: time.Second})

	res, err := h.d.Dispatch(context.Background(), Request{Prompt: "fix this bug", Tier: router.TierPro})
	require.NoError(t, err, "default retry budget should reach a second backend")
	assert.Equal(t, 2, res.Attempts)
	assert.Equal(t, string(KindInvocationTimeout), h.d.JobLogs()[0].ErrorKind)
}

func TestDispatch_MetadataConfidenceInRange(t *testing.T) {
	h := newHarness(t)
	h.pool.Register(registry.BackendFastComplete, backend.Func(func(_ context.Context, call backend.Call) (*backend.Reply, error) {
		c := 1.7
		return &backend.Reply{Content: "x", Confidence: &c, Usage: backend.NewUsage(1, 1)}, nil
	}))

	res, err := h.d.Dispatch(context.Background(), Request{Prompt: "hello", Tier: router.TierFree})
	require.NoError(t, err)
	require.NotNil(t, res.Response.Metadata)
	assert.Equal(t, 1.0, *res.Response.Metadata.Confidence)
}

func TestDispatch_WaitForJobs(t *testing.T) {
	h := newHarness(t)
	h.pool.Register(registry.BackendGeneralCoder, &backend.Stub{Latency: 20 * time.Millisecond})

	for i := 0; i < 5; i++ {
		_, err := h.d.Start(context.Background(), Request{Prompt: "write a short story please", Tier: router.TierFree})
		require.NoError(t, err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, h.d.Wait(ctx))
	assert.Equal(t, 5, h.store.Len())
	assert.Empty(t, h.d.ListActiveJobs())
}

func TestKindOf(t *testing.T) {
	assert.Equal(t, Kind(""), KindOf(errors.New("plain")))
	assert.Equal(t, Kind(""), KindOf(nil))

	wrapped := fmt.Errorf("ctx: %w", &Error{Kind: KindInvocationTimeout, Backend: "b"})
	assert.Equal(t, KindInvocationTimeout, KindOf(wrapped))
	assert.ErrorIs(t, wrapped, ErrInvocationTimeout)
	assert.NotErrorIs(t, wrapped, ErrInvocationFailed)

	e := &Error{Kind: KindInvocationFailed, Backend: "b", Detail: "boom"}
	assert.Equal(t, "dispatch: InvocationFailed (backend b): boom", e.Error())
}
