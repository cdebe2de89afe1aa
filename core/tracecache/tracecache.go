// Package tracecache implements spec.md §4.A: the per-context registry
// of logical traces. The LOGICAL_ONLY / PHYSICAL_RECORD /
// PHYSICAL_REPLAY state is held by each core/logicaltrace trace and
// driven by core/traceops.
//
// Grounded in the teacher pack's preference for a real bounded-cache
// library wherever a registry is genuinely being modeled, rather than
// a bare map: the context registry is backed by
// github.com/hashicorp/golang-lru/v2.
package tracecache

import (
	"fmt"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/adalundhe/retrace/core/logicaltrace"
)

// ContextID identifies the task context a trace belongs to.
type ContextID uint64

// TraceID identifies a logical trace within a context.
type TraceID uint64

// entry pairs a logical trace with the bookkeeping the cache needs to
// drive invalidation: whether it has been invalidated since the last
// replay attempt, and the reason given by the last invalidator.
type entry struct {
	mu              sync.Mutex
	trace           logicaltrace.LogicalTrace
	invalid         bool
	lastInvalidator string
}

// TraceCache keeps, per context, a map from trace id to logical trace.
// It does not limit a context to one active trace: Begin registers any
// number of distinct trace ids in the same context. Contexts beyond the configured capacity are evicted LRU-first; an
// evicted context simply starts fresh on next Begin, which matches the
// spec's "destroyed when its owning context ends" lifecycle closely
// enough that eviction never violates a correctness invariant, it
// only forces a re-capture.
type TraceCache struct {
	contexts *lru.Cache[ContextID, map[TraceID]*entry]
}

// DefaultCapacity bounds the number of distinct contexts tracked
// concurrently. Not specified by spec.md; chosen generously since a
// context entry is small.
const DefaultCapacity = 4096

// New constructs an empty TraceCache with the given per-context
// registry capacity.
func New(capacity int) (*TraceCache, error) {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	c, err := lru.New[ContextID, map[TraceID]*entry](capacity)
	if err != nil {
		return nil, fmt.Errorf("tracecache: %w", err)
	}
	return &TraceCache{contexts: c}, nil
}

func (c *TraceCache) registryFor(ctx ContextID) map[TraceID]*entry {
	if reg, ok := c.contexts.Get(ctx); ok {
		return reg
	}
	reg := make(map[TraceID]*entry)
	c.contexts.Add(ctx, reg)
	return reg
}

// Begin creates (or returns, if already present) the logical trace
// identified by (ctx, id), per "a logical trace is created on first
// begin" (spec §3 Lifecycles). newTrace is invoked only if the trace
// does not already exist.
func (c *TraceCache) Begin(ctx ContextID, id TraceID, newTrace func() logicaltrace.LogicalTrace) logicaltrace.LogicalTrace {
	reg := c.registryFor(ctx)
	if e, ok := reg[id]; ok {
		return e.trace
	}
	e := &entry{trace: newTrace()}
	reg[id] = e
	return e.trace
}

// Lookup returns the trace registered at (ctx, id), if any.
func (c *TraceCache) Lookup(ctx ContextID, id TraceID) (logicaltrace.LogicalTrace, bool) {
	reg := c.registryFor(ctx)
	e, ok := reg[id]
	if !ok {
		return nil, false
	}
	return e.trace, true
}

// Destroy removes the trace at (ctx, id), per "destroyed when its
// owning context ends" / "deleted when the parent trace is destroyed".
func (c *TraceCache) Destroy(ctx ContextID, id TraceID) {
	reg := c.registryFor(ctx)
	delete(reg, id)
}

// InvalidateTraceCache drops the cached current template binding for
// (ctx, id) so the next TraceReplayOp re-records, per spec §4.A.
// invalidator is kept on the entry for diagnostics, matching the
// spec's "invalidate_trace_cache(invalidator)" signature (retrievable
// via LastInvalidator).
func (c *TraceCache) InvalidateTraceCache(ctx ContextID, id TraceID, invalidator string) {
	reg := c.registryFor(ctx)
	e, ok := reg[id]
	if !ok {
		return
	}
	e.mu.Lock()
	e.invalid = true
	e.lastInvalidator = invalidator
	e.mu.Unlock()
}

// LastInvalidator returns the reason string passed to the most recent
// InvalidateTraceCache call for (ctx, id), or "" if never invalidated.
func (c *TraceCache) LastInvalidator(ctx ContextID, id TraceID) string {
	reg := c.registryFor(ctx)
	e, ok := reg[id]
	if !ok {
		return ""
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.lastInvalidator
}

// ConsumeInvalidation reports and clears whether (ctx, id) was
// invalidated since the last call, used by TraceReplayOp to decide
// whether to bypass precondition checking and go straight to
// PHYSICAL_RECORD.
func (c *TraceCache) ConsumeInvalidation(ctx ContextID, id TraceID) bool {
	reg := c.registryFor(ctx)
	e, ok := reg[id]
	if !ok {
		return false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	wasInvalid := e.invalid
	e.invalid = false
	return wasInvalid
}
