// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package dispatch routes a request to a backend and owns its lifecycle.
//
// Each request runs through the states
//
//	Classifying -> Selecting -> CheckingAvailability -> Invoking
//	    -> Succeeded
//	    -> Retrying -> Selecting ...
//	    -> Failed
//
// as an explicit bounded loop. Every executed attempt is appended to the job
// log. A failed or timed-out attempt puts its backend into cooldown and, while
// retry budget remains, the next attempt excludes every backend already tried.
//
// # Key Types
//
//   - Dispatcher: the service; constructed with an injected registry, job log
//     and backend resolver
//   - Request / Response / Result: the caller-facing shapes
//   - Job: handle for an in-flight request, returned by Start
//   - ActiveSet: job id to cancellation handle, backing CancelJob
//   - Error: the only error type returned for dispatch failures, see Kind
//
// # Cancellation
//
// Every job runs under its own context. CancelJob cancels that context; the
// in-flight backend call observes it and the job resolves with KindCancelled.
// Timeouts race the backend call against a per-attempt deadline and resolve
// as soon as the deadline passes, whether or not the backend has returned.
//
// # Usage
//
//	d := dispatch.New(reg, store, backend.NewStubPool(reg.Descriptors()),
//	    dispatch.WithLogger(logger))
//	res, err := d.Dispatch(ctx, dispatch.Request{Prompt: "fix this bug", Tier: router.TierPro})
//	if dispatch.KindOf(err) == dispatch.KindRetryBudgetExhausted {
//	    // every attempt failed
//	}
package dispatch
