// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package backend defines how the dispatcher invokes a backend and provides
// the deterministic stub implementation used in place of real inference.
package backend

import (
	"context"
	"sort"
	"sync"

	"github.com/jeranaias/rigrun-dispatch/internal/registry"
	"github.com/jeranaias/rigrun-dispatch/internal/router"
)

// =============================================================================
// CALL / REPLY
// =============================================================================

// Call is one invocation of a backend.
type Call struct {
	JobID    string
	Attempt  int
	Prompt   string
	Category router.Category
	Backend  registry.Descriptor
}

// Usage is the token accounting for a reply.
type Usage struct {
	PromptTokens     int `json:"promptTokens"`
	CompletionTokens int `json:"completionTokens"`
	TotalTokens      int `json:"totalTokens"`
}

// NewUsage builds a Usage with TotalTokens filled in.
func NewUsage(prompt, completion int) Usage {
	return Usage{
		PromptTokens:     prompt,
		CompletionTokens: completion,
		TotalTokens:      prompt + completion,
	}
}

// Reply is what a backend returns on success.
type Reply struct {
	Content     string
	Usage       Usage
	Confidence  *float64
	Suggestions []string
}

// =============================================================================
// BACKEND INTERFACE
// =============================================================================

// Backend produces a reply for a call. Implementations must return promptly
// with ctx.Err() once ctx is done.
type Backend interface {
	Invoke(ctx context.Context, call Call) (*Reply, error)
}

// Func adapts a function to the Backend interface.
type Func func(ctx context.Context, call Call) (*Reply, error)

// Invoke calls f.
func (f Func) Invoke(ctx context.Context, call Call) (*Reply, error) {
	return f(ctx, call)
}

// Resolver looks up the implementation for a backend id.
type Resolver interface {
	Resolve(id string) (Backend, bool)
}

// =============================================================================
// POOL
// =============================================================================

// Pool is a concurrency-safe Resolver keyed by backend id.
type Pool struct {
	mu       sync.RWMutex
	backends map[string]Backend
}

// NewPool creates an empty pool.
func NewPool() *Pool {
	return &Pool{backends: make(map[string]Backend)}
}

// NewStubPool registers a Stub for every descriptor, using each
// descriptor's simulated latency or its latency class default.
func NewStubPool(descs []registry.Descriptor) *Pool {
	p := NewPool()
	for _, d := range descs {
		latency := d.SimulatedLatency
		if latency == 0 {
			latency = d.Latency.TypicalLatency()
		}
		p.Register(d.ID, &Stub{Latency: latency})
	}
	return p
}

// Register sets the implementation for id, replacing any previous one.
func (p *Pool) Register(id string, b Backend) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.backends[id] = b
}

// Resolve returns the implementation for id.
func (p *Pool) Resolve(id string) (Backend, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	b, ok := p.backends[id]
	return b, ok
}

// IDs returns the registered ids, sorted.
func (p *Pool) IDs() []string {
	p.mu.RLock()
	defer p.mu.RUnlock()

	ids := make([]string, 0, len(p.backends))
	for id := range p.backends {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
