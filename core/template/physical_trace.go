package template

import (
	"context"
	"fmt"
	"sync"

	"github.com/dgraph-io/ristretto"

	"github.com/adalundhe/retrace/core/forest"
	"github.com/adalundhe/retrace/core/traceerr"
	"github.com/adalundhe/retrace/core/traceid"
	"github.com/adalundhe/retrace/core/tracecache"
)

const (
	defaultTemplateCacheCounters = 1e4
	defaultTemplateCacheCost     = 1 << 20
)

// PhysicalTrace owns the sequence of templates recorded for one
// logical trace over its lifetime, per spec §4.D: at most one template
// under construction at a time, plus previously-recorded generations
// kept around for replay. Non-replayable generations are never stored;
// stored generations that fall out of use are left to ristretto's
// cost-aware eviction rather than pinned forever.
//
// Satisfies core/traceops.PhysicalTrace structurally.
type PhysicalTrace struct {
	mu sync.Mutex

	traceID tracecache.TraceID
	rt      forest.EventRuntime
	fc      forest.RegionForest

	threshold          int
	nonreplayableCount int

	replayParallelism int
	mapperCacheSize   int

	templates        *ristretto.Cache
	nextTemplateID   uint64
	latestTemplateID uint64
	haveLatest       bool

	current  *Template // under construction (recording)
	replaying *Template // selected by CheckTemplatePreconditions, in flight

	activeEvents       *EventArray
	previousCompletion forest.EventID
}

// NewPhysicalTrace constructs a physical trace for traceID. threshold
// is the nonreplayable_threshold of spec §6/§9 (defaults to 2, see
// DESIGN.md's Open Question decision, normally sourced from
// core/config.Config.NonreplayableThreshold).
func NewPhysicalTrace(traceID tracecache.TraceID, rt forest.EventRuntime, fc forest.RegionForest, threshold, replayParallelism, mapperCacheSize int) (*PhysicalTrace, error) {
	cache, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: defaultTemplateCacheCounters,
		MaxCost:     defaultTemplateCacheCost,
		BufferItems: 64,
	})
	if err != nil {
		return nil, fmt.Errorf("template: physical trace: %w", err)
	}
	if threshold <= 0 {
		threshold = 2
	}
	return &PhysicalTrace{
		traceID:           traceID,
		rt:                rt,
		fc:                fc,
		threshold:         threshold,
		replayParallelism: replayParallelism,
		mapperCacheSize:   mapperCacheSize,
		templates:         cache,
	}, nil
}

// StartRecording begins a fresh template generation, replacing any
// previous under-construction template.
func (p *PhysicalTrace) StartRecording() *Template {
	p.mu.Lock()
	defer p.mu.Unlock()
	id := p.nextTemplateID
	p.nextTemplateID++
	tmpl := New(id, p.replayParallelism, p.mapperCacheSize)
	p.current = tmpl
	return tmpl
}

// CurrentTemplate returns the template currently under construction,
// or nil.
func (p *PhysicalTrace) CurrentTemplate() *Template {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.current
}

// ActiveReplayTemplate returns the template selected by the most
// recent successful CheckTemplatePreconditions call, or nil.
func (p *PhysicalTrace) ActiveReplayTemplate() *Template {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.replaying
}

// NonreplayableCount reports the current streak of non-replayable
// finalizations, reset on the next successful one (spec §6/§9).
func (p *PhysicalTrace) NonreplayableCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.nonreplayableCount
}

// ExceedsThreshold reports whether the nonreplayable streak has
// reached nonreplayable_threshold, signaling the caller should stop
// attempting to trace this logical trace (spec §6).
func (p *PhysicalTrace) ExceedsThreshold() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.nonreplayableCount >= p.threshold
}

// PreviousCompletion returns the fence event chained from the last
// completed replay iteration, for recurrent pipelining (spec §9).
func (p *PhysicalTrace) PreviousCompletion() forest.EventID {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.previousCompletion
}

// BeginReplayIteration registers the EventArray that tmpl's
// instructions run against, so CompleteReplayIteration can collect its
// completion events. Called by whatever drives ExecuteAll
// (cmd/tracectl, or a real scheduler) after CheckTemplatePreconditions
// selected tmpl and before CompleteReplayIteration; cmd/tracectl and the
// tests call it once ExecuteAll has returned.
func (p *PhysicalTrace) BeginReplayIteration(tmpl *Template, events *EventArray) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.replaying = tmpl
	p.activeEvents = events
}

// CheckTemplatePreconditions implements core/traceops.PhysicalTrace:
// it looks up the most recently finalized template generation and
// checks its recorded preconditions against live forest state.
func (p *PhysicalTrace) CheckTemplatePreconditions(ctx context.Context) (bool, error) {
	p.mu.Lock()
	haveLatest := p.haveLatest
	latestID := p.latestTemplateID
	fc := p.fc
	p.mu.Unlock()

	if !haveLatest {
		return false, nil
	}

	val, ok := p.templates.Get(latestID)
	if !ok {
		return false, nil
	}
	tmpl := val.(*Template)
	if !tmpl.IsReplayable() {
		return false, nil
	}

	satisfied, err := tmpl.CheckPreconditions(ctx, fc)
	if err != nil {
		return false, err
	}
	if satisfied {
		p.mu.Lock()
		p.replaying = tmpl
		p.mu.Unlock()
	}
	return satisfied, nil
}

// FixTrace closes the template under construction to further
// logical-trace bookkeeping. The substantive work (condition
// generation, the replayability check, and the optimizer) happens in
// Finalize, once the caller also knows whether a blocking call was
// observed during recording; that flag isn't available yet at
// capture-complete time (spec §4.D.2 step 1 vs. the logical trace's
// own fix, which runs first).
func (p *PhysicalTrace) FixTrace() error {
	return nil
}

// Finalize implements core/traceops.PhysicalTrace: it runs the current
// template through Finalize/Optimize, publishing the generation into
// the template store on success and counting the attempt against
// nonreplayable_threshold on failure (spec §4.D.2 / §6).
func (p *PhysicalTrace) Finalize(ctx context.Context, hasBlockingCall bool) error {
	p.mu.Lock()
	tmpl := p.current
	p.current = nil
	p.mu.Unlock()

	if tmpl == nil {
		return nil
	}

	err := tmpl.Finalize(hasBlockingCall)
	if err != nil {
		if kind, ok := traceerr.ClassifyKind(err); ok && kind == traceerr.KindNonReplayable {
			p.mu.Lock()
			p.nonreplayableCount++
			p.mu.Unlock()
		}
		return err
	}

	tmpl.Optimize()

	id := tmpl.TraceID()
	p.templates.Set(id, tmpl, 1)
	p.templates.Wait() // ristretto's Set is buffered; block until visible to the next Get.

	p.mu.Lock()
	p.latestTemplateID = id
	p.haveLatest = true
	p.nonreplayableCount = 0
	p.mu.Unlock()

	return nil
}

// CompleteReplayIteration implements core/traceops.PhysicalTrace: it
// merges every CompleteReplay instruction's bound event from the
// in-flight replay's EventArray into the fence the next iteration
// chains from, per spec §9's recurrent-pipelining behavior.
func (p *PhysicalTrace) CompleteReplayIteration(ctx context.Context) error {
	p.mu.Lock()
	tmpl := p.replaying
	events := p.activeEvents
	rt := p.rt
	p.mu.Unlock()

	if tmpl == nil || events == nil {
		return nil
	}

	slots := tmpl.CompletionSlots()
	completions := make([]forest.EventID, 0, len(slots))
	for _, slot := range slots {
		ev, ok := events.Get(slot)
		if !ok {
			return fmt.Errorf("template: replay completion slot %d never bound", slot)
		}
		completions = append(completions, ev)
	}

	var fence forest.EventID
	if len(completions) == 0 {
		fence, _ = events.Get(traceid.FenceCompletionSlot)
	} else {
		fence = rt.MergeEvents(completions)
	}

	p.mu.Lock()
	p.previousCompletion = fence
	p.replaying = nil
	p.activeEvents = nil
	p.mu.Unlock()
	return nil
}
