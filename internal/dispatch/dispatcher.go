// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package dispatch

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/jeranaias/rigrun-dispatch/internal/backend"
	"github.com/jeranaias/rigrun-dispatch/internal/joblog"
	"github.com/jeranaias/rigrun-dispatch/internal/registry"
	"github.com/jeranaias/rigrun-dispatch/internal/router"
	"github.com/jeranaias/rigrun-dispatch/internal/util"
)

// =============================================================================
// CONSTANTS
// =============================================================================

const (
	// DefaultMaxPromptBytes is the prompt size limit when none is configured.
	DefaultMaxPromptBytes = 64 * 1024

	// promptLogRunes is how much of a prompt is written to logs.
	promptLogRunes = 60
)

// =============================================================================
// OPTIONS
// =============================================================================

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithLogger sets the logger.
func WithLogger(l zerolog.Logger) Option {
	return func(d *Dispatcher) { d.logger = l }
}

// WithSelector replaces the default category preference policy.
func WithSelector(s *router.Selector) Option {
	return func(d *Dispatcher) {
		if s != nil {
			d.selector = s
		}
	}
}

// WithClock sets the clock used for record timestamps.
func WithClock(c registry.Clock) Option {
	return func(d *Dispatcher) {
		if c != nil {
			d.clock = c
		}
	}
}

// WithDefaultTimeout sets the per-attempt timeout used when a request has
// none. Zero disables the default timeout.
func WithDefaultTimeout(t time.Duration) Option {
	return func(d *Dispatcher) {
		if t >= 0 {
			d.defaultTimeout = t
		}
	}
}

// WithDefaultMaxRetries sets the retry budget used when a request has none.
func WithDefaultMaxRetries(n int) Option {
	return func(d *Dispatcher) {
		if n >= 0 && n <= MaxRetriesLimit {
			d.defaultMaxRetries = n
		}
	}
}

// WithMaxPromptBytes sets the prompt size limit. Zero disables it.
func WithMaxPromptBytes(n int) Option {
	return func(d *Dispatcher) {
		if n >= 0 {
			d.maxPromptBytes = n
		}
	}
}

// WithActiveGauge reports the number of active jobs to g.
func WithActiveGauge(g Gauge) Option {
	return func(d *Dispatcher) { d.gauge = g }
}

// =============================================================================
// DISPATCHER
// =============================================================================

// Dispatcher routes requests to backends. Construct it with New; the zero
// value is not usable. It is safe for concurrent use.
type Dispatcher struct {
	registry *registry.Registry
	store    *joblog.Store
	backends backend.Resolver
	selector *router.Selector
	active   *ActiveSet
	clock    registry.Clock
	logger   zerolog.Logger
	gauge    Gauge

	defaultTimeout    time.Duration
	defaultMaxRetries int
	maxPromptBytes    int

	wg sync.WaitGroup
}

// New creates a dispatcher over the given registry, job log and backends.
func New(reg *registry.Registry, store *joblog.Store, backends backend.Resolver, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		registry:       reg,
		store:          store,
		backends:       backends,
		selector:       router.NewSelector(nil),
		clock:          registry.SystemClock{},
		logger:         zerolog.Nop(),
		maxPromptBytes: DefaultMaxPromptBytes,
	}
	for _, opt := range opts {
		opt(d)
	}
	d.active = NewActiveSet(d.gauge)
	return d
}

// Dispatch runs req to completion. On failure the returned Result still
// carries the terminal job record, unless the request was rejected.
func (d *Dispatcher) Dispatch(ctx context.Context, req Request) (*Result, error) {
	job, err := d.Start(ctx, req)
	if err != nil {
		return nil, err
	}
	return job.Wait()
}

// Start validates req and runs it in the background. The job is cancellable
// by id as soon as Start returns. The job's context is derived from ctx.
func (d *Dispatcher) Start(ctx context.Context, req Request) (*Job, error) {
	if verr := req.validate(d.maxPromptBytes); verr != nil {
		return nil, verr
	}

	job := newJob(uuid.NewString(), d.clock.Now())
	jobCtx, cancel := context.WithCancelCause(ctx)
	d.active.add(job, cancel)

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		defer cancel(nil)

		res, err := d.run(jobCtx, job, req)
		d.active.remove(job.ID)
		job.finish(res, err)
	}()

	return job, nil
}

// Wait blocks until every started job has finished or ctx is done.
func (d *Dispatcher) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// =============================================================================
// PIPELINE
// =============================================================================

// attemptPlan is the mutable state carried across attempts.
type attemptPlan struct {
	maxRetries int
	remaining  int
	timeout    time.Duration
	preferred  string
	fallbacks  []string
	exclude    map[string]bool
}

func (d *Dispatcher) plan(req Request) *attemptPlan {
	p := &attemptPlan{
		maxRetries: d.defaultMaxRetries,
		timeout:    d.defaultTimeout,
		preferred:  req.PreferredBackend,
		fallbacks:  append([]string(nil), req.FallbackBackends...),
		exclude:    make(map[string]bool),
	}
	if req.MaxRetries != nil {
		p.maxRetries = *req.MaxRetries
	}
	if req.Timeout > 0 {
		p.timeout = req.Timeout
	}
	p.remaining = p.maxRetries
	return p
}

// exhaust removes a failed backend from consideration for later attempts.
func (p *attemptPlan) exhaust(id string) {
	p.remaining--
	p.exclude[id] = true
	p.preferred = ""

	kept := p.fallbacks[:0]
	for _, fb := range p.fallbacks {
		if fb != id {
			kept = append(kept, fb)
		}
	}
	p.fallbacks = kept
}

func (d *Dispatcher) run(ctx context.Context, job *Job, req Request) (*Result, error) {
	category := router.Classify(req.Prompt)
	job.setCategory(category)
	plan := d.plan(req)

	log := d.logger.With().Str("job", job.ID).Str("category", string(category)).Logger()
	log.Debug().
		Str("tier", req.Tier.String()).
		Str("prompt", util.TruncateRunes(req.Prompt, promptLogRunes)).
		Int("max_retries", plan.maxRetries).
		Msg("DISPATCH_START")

	base := joblog.Record{
		JobID:    job.ID,
		Prompt:   req.Prompt,
		Category: category,
		Tier:     req.Tier,
	}
	result := &Result{JobID: job.ID, Category: category}

	for attempt := 1; ; attempt++ {
		result.Attempts = attempt
		rec := base
		rec.Attempt = attempt

		// A cancel between attempts ends the job without another invocation.
		if attempt > 1 && ctx.Err() != nil {
			derr := cancelled(ctx, "")
			rec.Timestamp = d.clock.Now()
			rec.Rationale = d.rationale(category, req.Prompt, attempt, plan, "cancelled before retry")
			result.Record = d.appendFailure(rec, derr, derr)
			return result, derr
		}

		choice, err := d.resolve(job, category, req.Tier, plan, attempt > 1)
		if err != nil {
			derr := &Error{Kind: KindNoBackendAvailable, Detail: err.Error(), Err: err}
			rec.Timestamp = d.clock.Now()
			rec.Rationale = d.rationale(category, req.Prompt, attempt, plan, err.Error())
			result.Record = d.appendFailure(rec, derr, derr)
			log.Warn().Int("attempt", attempt).Err(derr).Msg("DISPATCH_FAILED")
			return result, derr
		}

		job.beginAttempt(attempt, choice.backend.ID)
		rec.Backend = choice.backend.ID
		rec.Rationale = d.rationale(category, req.Prompt, attempt, plan, choice.reason)
		rec.Timestamp = d.clock.Now()

		log.Debug().
			Int("attempt", attempt).
			Str("backend", choice.backend.ID).
			Dur("timeout", plan.timeout).
			Msg("DISPATCH_ATTEMPT")

		call := backend.Call{
			JobID:    job.ID,
			Attempt:  attempt,
			Prompt:   req.Prompt,
			Category: category,
			Backend:  choice.backend,
		}
		start := time.Now()
		reply, ierr := d.invoke(ctx, call, plan.timeout)
		rec.Duration = time.Since(start)

		if ierr == nil {
			rec.Success = true
			rec.Tokens = reply.Usage.TotalTokens
			rec.Cost = router.Cost(reply.Usage.TotalTokens, choice.backend.CostPerUnit)
			result.Record = d.store.Append(rec)
			result.Response = newResponse(choice.backend.ID, reply)
			job.setState(StateSucceeded)

			log.Info().
				Int("attempt", attempt).
				Str("backend", choice.backend.ID).
				Int("tokens", rec.Tokens).
				Float64("cost", rec.Cost).
				Dur("duration", rec.Duration).
				Msg("DISPATCH_COMPLETE")
			return result, nil
		}

		terminal := d.onFailure(log, attempt, plan, choice.backend.ID, ierr)
		if terminal != nil {
			result.Record = d.appendFailure(rec, ierr, terminal)
			log.Warn().Int("attempt", attempt).Err(terminal).Msg("DISPATCH_FAILED")
			return result, terminal
		}

		d.appendFailure(rec, ierr, ierr)
		plan.exhaust(choice.backend.ID)
		job.setState(StateRetrying)
		log.Info().
			Int("attempt", attempt).
			Str("failed_backend", choice.backend.ID).
			Int("retries_left", plan.remaining).
			Msg("DISPATCH_RETRY")
	}
}

// onFailure applies the cooldown for a failed attempt and decides whether the
// job ends. It returns the terminal error, or nil to retry.
func (d *Dispatcher) onFailure(log zerolog.Logger, attempt int, plan *attemptPlan, backendID string, ierr *Error) *Error {
	if ierr.Kind == KindCancelled {
		return ierr
	}

	until, err := d.registry.MarkFailed(backendID)
	if err == nil {
		log.Warn().
			Str("backend", backendID).
			Str("kind", string(ierr.Kind)).
			Time("rearm_at", until).
			Msg("BACKEND_COOLDOWN")
	}

	if plan.remaining > 0 {
		return nil
	}
	if plan.maxRetries == 0 {
		return ierr
	}
	return &Error{
		Kind:    KindRetryBudgetExhausted,
		Backend: backendID,
		Detail:  fmt.Sprintf("%d attempts failed, last: %s", attempt, ierr.Detail),
		Err:     ierr,
	}
}

// appendFailure logs a failed attempt. cause is what the attempt itself hit;
// outcome is the kind recorded, which differs from cause on the terminal
// attempt of an exhausted budget.
func (d *Dispatcher) appendFailure(rec joblog.Record, cause, outcome *Error) joblog.Record {
	rec.Success = false
	rec.ErrorKind = string(outcome.Kind)
	rec.Error = cause.Detail
	if rec.Error == "" {
		rec.Error = cause.Error()
	}
	return d.store.Append(rec)
}

func (d *Dispatcher) rationale(cat router.Category, prompt string, attempt int, plan *attemptPlan, reason string) string {
	how := "default rule"
	if kw := router.MatchedKeyword(prompt); kw != "" {
		how = fmt.Sprintf("keyword %q", kw)
	} else if cat == router.CategoryCompletion {
		how = "short prompt"
	}
	return fmt.Sprintf("attempt %d/%d: classified %s by %s; %s",
		attempt, plan.maxRetries+1, cat, how, reason)
}
