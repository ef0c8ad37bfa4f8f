// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package dispatch

import (
	"time"

	"github.com/jeranaias/rigrun-dispatch/internal/backend"
	"github.com/jeranaias/rigrun-dispatch/internal/joblog"
	"github.com/jeranaias/rigrun-dispatch/internal/router"
)

// MaxRetriesLimit caps the per-request retry budget.
const MaxRetriesLimit = 10

// Request is one caller request.
type Request struct {
	Prompt string
	Tier   router.Tier

	// PreferredBackend is tried first when set, usable and permitted.
	PreferredBackend string

	// FallbackBackends are tried in order when the chosen backend is
	// unusable, before reselecting from the registry.
	FallbackBackends []string

	// MaxRetries is the retry budget; nil uses the dispatcher default.
	MaxRetries *int

	// Timeout bounds each attempt; zero uses the dispatcher default.
	Timeout time.Duration
}

// Retries returns a pointer to n, for Request.MaxRetries.
func Retries(n int) *int {
	return &n
}

func (r Request) validate(maxPromptBytes int) *Error {
	if maxPromptBytes > 0 && len(r.Prompt) > maxPromptBytes {
		return invalidRequest("prompt is %d bytes, limit is %d", len(r.Prompt), maxPromptBytes)
	}
	if !r.Tier.IsValid() {
		return invalidRequest("invalid tier %d", int(r.Tier))
	}
	if r.MaxRetries != nil && (*r.MaxRetries < 0 || *r.MaxRetries > MaxRetriesLimit) {
		return invalidRequest("maxRetries must be between 0 and %d, got %d", MaxRetriesLimit, *r.MaxRetries)
	}
	if r.Timeout < 0 {
		return invalidRequest("timeout must not be negative")
	}
	return nil
}

// Metadata is optional reply metadata.
type Metadata struct {
	Confidence  *float64 `json:"confidence,omitempty"`
	Suggestions []string `json:"suggestions,omitempty"`
}

// Response is produced once per successful request.
type Response struct {
	Content     string        `json:"content"`
	BackendUsed string        `json:"backendUsed"`
	Usage       backend.Usage `json:"usage"`
	Metadata    *Metadata     `json:"metadata,omitempty"`
}

// Result is the terminal outcome of a request. Response is nil on failure.
// Record is the job log entry of the terminal attempt.
type Result struct {
	JobID    string          `json:"jobId"`
	Category router.Category `json:"category"`
	Attempts int             `json:"attempts"`
	Response *Response       `json:"response,omitempty"`
	Record   joblog.Record   `json:"record"`
}

func newResponse(backendID string, reply *backend.Reply) *Response {
	resp := &Response{
		Content:     reply.Content,
		BackendUsed: backendID,
		Usage:       reply.Usage,
	}
	if reply.Confidence != nil || len(reply.Suggestions) > 0 {
		resp.Metadata = &Metadata{
			Confidence:  clampConfidence(reply.Confidence),
			Suggestions: reply.Suggestions,
		}
	}
	return resp
}

func clampConfidence(c *float64) *float64 {
	if c == nil {
		return nil
	}
	v := *c
	if v < 0 {
		v = 0
	} else if v > 1 {
		v = 1
	}
	return &v
}
