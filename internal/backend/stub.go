// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package backend

import (
	"context"
	"fmt"
	"time"

	"github.com/jeranaias/rigrun-dispatch/internal/router"
	"github.com/jeranaias/rigrun-dispatch/internal/util"
)

// Confidence values reported by the stub.
const (
	specialistConfidence = 0.92
	generalConfidence    = 0.65
)

// Stub is a backend whose reply is derived only from the backend identity,
// the task category and the prompt. It sleeps for Latency while honoring
// cancellation, then optionally fails via Fault.
type Stub struct {
	Latency time.Duration

	// Fault, if set, is consulted after the simulated latency. A non-nil
	// result is returned as the invocation error.
	Fault func(call Call) error
}

// Invoke implements Backend.
func (s *Stub) Invoke(ctx context.Context, call Call) (*Reply, error) {
	if err := sleepCtx(ctx, s.Latency); err != nil {
		return nil, err
	}
	if s.Fault != nil {
		if err := s.Fault(call); err != nil {
			return nil, err
		}
	}
	return StubReply(call), nil
}

// StubReply builds the deterministic reply for call.
func StubReply(call Call) *Reply {
	content := fmt.Sprintf("[%s] %s response for: %s",
		call.Backend.DisplayName(),
		call.Category,
		util.TruncateRunes(call.Prompt, 120),
	)

	confidence := generalConfidence
	if call.Backend.HasCapability(string(call.Category)) {
		confidence = specialistConfidence
	}

	reply := &Reply{
		Content:    content,
		Usage:      NewUsage(router.EstimateTokens(call.Prompt), router.EstimateTokens(content)),
		Confidence: &confidence,
	}
	if call.Category == router.CategoryCompletion {
		reply.Suggestions = []string{
			call.Prompt + " ...",
			fmt.Sprintf("ask %s for a longer answer", call.Backend.ID),
		}
	}
	return reply
}

// sleepCtx waits for d or until ctx is done.
func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
