// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package dispatch

import (
	"errors"
	"fmt"
)

// Kind classifies a dispatch failure.
type Kind string

const (
	// KindNoBackendAvailable means no eligible backend remained after fallback.
	KindNoBackendAvailable Kind = "NoBackendAvailable"
	// KindInvocationTimeout means the backend did not reply before the deadline.
	KindInvocationTimeout Kind = "InvocationTimeout"
	// KindInvocationFailed means the backend call returned an error.
	KindInvocationFailed Kind = "InvocationFailed"
	// KindRetryBudgetExhausted means every permitted attempt failed.
	KindRetryBudgetExhausted Kind = "RetryBudgetExhausted"
	// KindCancelled means the job was cancelled by its caller.
	KindCancelled Kind = "Cancelled"
	// KindInvalidRequest means the request was rejected before execution.
	KindInvalidRequest Kind = "InvalidRequest"
)

// Error is the error type returned for every dispatch failure.
type Error struct {
	Kind    Kind
	Backend string

	// Detail preserves the original diagnostic message.
	Detail string

	// Err is the underlying cause, if any.
	Err error
}

// Sentinels for errors.Is. They match any *Error of the same Kind.
var (
	ErrNoBackendAvailable   = &Error{Kind: KindNoBackendAvailable}
	ErrInvocationTimeout    = &Error{Kind: KindInvocationTimeout}
	ErrInvocationFailed     = &Error{Kind: KindInvocationFailed}
	ErrRetryBudgetExhausted = &Error{Kind: KindRetryBudgetExhausted}
	ErrCancelled            = &Error{Kind: KindCancelled}
	ErrInvalidRequest       = &Error{Kind: KindInvalidRequest}
)

func (e *Error) Error() string {
	msg := "dispatch: " + string(e.Kind)
	if e.Backend != "" {
		msg += fmt.Sprintf(" (backend %s)", e.Backend)
	}
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	return msg
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports whether target is an *Error of the same Kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Kind == e.Kind
}

// KindOf returns the Kind of the outermost *Error in err's chain, or "".
func KindOf(err error) Kind {
	var de *Error
	if errors.As(err, &de) {
		return de.Kind
	}
	return ""
}

func invalidRequest(format string, args ...any) *Error {
	return &Error{Kind: KindInvalidRequest, Detail: fmt.Sprintf(format, args...)}
}
