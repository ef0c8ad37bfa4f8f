// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package dispatch

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jeranaias/rigrun-dispatch/internal/backend"
)

// errAttemptTimeout is the context cause of an attempt deadline.
var errAttemptTimeout = errors.New("attempt deadline exceeded")

type invocation struct {
	reply *backend.Reply
	err   error
}

// invoke calls the backend under a per-attempt context and returns as soon
// as the backend replies, the deadline passes or ctx is cancelled. A backend
// that ignores cancellation is abandoned; its result is discarded.
func (d *Dispatcher) invoke(ctx context.Context, call backend.Call, timeout time.Duration) (*backend.Reply, *Error) {
	id := call.Backend.ID
	impl, ok := d.backends.Resolve(id)
	if !ok {
		return nil, &Error{Kind: KindInvocationFailed, Backend: id, Detail: "no implementation registered"}
	}

	var (
		attemptCtx context.Context
		cancel     context.CancelFunc
	)
	if timeout > 0 {
		attemptCtx, cancel = context.WithTimeoutCause(ctx, timeout, errAttemptTimeout)
	} else {
		attemptCtx, cancel = context.WithCancel(ctx)
	}
	defer cancel()

	done := make(chan invocation, 1)
	go func() {
		defer func() {
			if p := recover(); p != nil {
				done <- invocation{err: fmt.Errorf("backend panic: %v", p)}
			}
		}()
		reply, err := impl.Invoke(attemptCtx, call)
		done <- invocation{reply: reply, err: err}
	}()

	select {
	case out := <-done:
		if out.err == nil && out.reply != nil {
			return out.reply, nil
		}
		if out.err == nil {
			out.err = errors.New("backend returned no reply")
		}
		return nil, normalize(ctx, attemptCtx, id, timeout, out.err)

	case <-attemptCtx.Done():
		return nil, normalize(ctx, attemptCtx, id, timeout, context.Cause(attemptCtx))
	}
}

// normalize maps an attempt error to a dispatch Error. Job cancellation takes
// precedence over the attempt deadline, which takes precedence over the
// backend's own error.
func normalize(jobCtx, attemptCtx context.Context, id string, timeout time.Duration, err error) *Error {
	if jobCtx.Err() != nil {
		return cancelled(jobCtx, id)
	}
	if errors.Is(context.Cause(attemptCtx), errAttemptTimeout) {
		return &Error{
			Kind:    KindInvocationTimeout,
			Backend: id,
			Detail:  fmt.Sprintf("no reply within %v", timeout),
			Err:     context.DeadlineExceeded,
		}
	}
	return &Error{Kind: KindInvocationFailed, Backend: id, Detail: err.Error(), Err: err}
}

func cancelled(ctx context.Context, id string) *Error {
	cause := context.Cause(ctx)
	if cause == nil {
		cause = context.Canceled
	}
	return &Error{Kind: KindCancelled, Backend: id, Detail: cause.Error(), Err: cause}
}
