package template

import (
	"sync"

	"github.com/adalundhe/retrace/core/condition"
	"github.com/adalundhe/retrace/core/forest"
	"github.com/adalundhe/retrace/core/traceid"
)

// viewUse is one recorded touch of a (view, equivalence-set) pair
// during recording, in program order. generateConditions walks these
// to build the template's pre/post condition sets (spec §4.D.2).
type viewUse struct {
	view      condition.View
	eq        condition.EquivalenceSetID
	mask      traceid.FieldMask
	write     bool
	reduction bool
}

type viewEqKey struct {
	view condition.View
	eq   condition.EquivalenceSetID
}

// SummaryEntry records one (region-requirement, instance-set) pair a
// replayed template must re-announce to the scheduler via a
// TraceSummaryOp, per spec §4.D.1 record_summary_info.
type SummaryEntry struct {
	RegionReqIdx int
	InstanceSet  uint64
}

// Template is the compiled artifact of one trace capture: instruction
// sequence, slice partition, event-slot count, user-event slot set,
// mapper-output cache, condition sets, and replayability flag, per spec
// §3 "Template".
//
// One mutex guards recording-time mutation (event map, instruction
// list, view-use log); during replay the template is read-only except
// for the per-replay EventArray, whose slices are written to disjoint
// indices by construction of prepareParallelReplay (spec §5).
type Template struct {
	mu sync.Mutex

	traceID uint64

	eventMap  map[forest.EventID]traceid.EventSlot
	slotCount int

	instructions   []Instruction
	userEventSlots map[traceid.EventSlot]struct{}

	viewUsers []viewUse

	pre                *condition.Set
	post               *condition.Set
	preReductions      *condition.Set
	postReductions     *condition.Set
	consumedReductions *condition.Set
	preFillViews       map[condition.View]traceid.FieldMask
	postFillViews      map[condition.View]traceid.FieldMask

	summaryInfo        []SummaryEntry
	outstandingGCSlots []traceid.EventSlot

	mapperCache *CachedMapping

	replayParallelism int

	finalized  bool
	replayable bool

	// optimizer side tables, populated by Optimize.
	crossingEvents map[traceid.EventSlot]int
	slices         [][]int
	reducedEdges   []map[int]bool

	invalidation *invalidationFlag
}

// newSet is a local alias for condition.New, used throughout this
// package wherever a fresh condition set is needed.
func newSet() *condition.Set { return condition.New() }

// New constructs an empty template for traceID, ready to record. Slot 0
// is reserved for the fence completion event that Initialize binds, so
// recorded instructions are handed slots starting at 1.
func New(traceID uint64, replayParallelism int, mapperCacheSize int) *Template {
	if replayParallelism <= 0 {
		replayParallelism = 1
	}
	mc, _ := NewCachedMapping(mapperCacheSize)
	return &Template{
		traceID:           traceID,
		slotCount:         int(traceid.FenceCompletionSlot) + 1,
		eventMap:          make(map[forest.EventID]traceid.EventSlot),
		userEventSlots:    make(map[traceid.EventSlot]struct{}),
		pre:               condition.New(),
		post:              condition.New(),
		preReductions:     condition.New(),
		postReductions:    condition.New(),
		consumedReductions: condition.New(),
		preFillViews:      make(map[condition.View]traceid.FieldMask),
		postFillViews:     make(map[condition.View]traceid.FieldMask),
		mapperCache:       mc,
		replayParallelism: replayParallelism,
	}
}

// TraceID returns the owning trace's id.
func (t *Template) TraceID() uint64 { return t.traceID }

// IsFinalized reports whether Finalize has run.
func (t *Template) IsFinalized() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.finalized
}

// IsReplayable reports whether the template passed check_replayable.
func (t *Template) IsReplayable() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.replayable
}

// Instructions returns a snapshot of the current instruction list, for
// tests and diagnostics.
func (t *Template) Instructions() []Instruction {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]Instruction, len(t.instructions))
	copy(out, t.instructions)
	return out
}

// SlotCount returns the number of event slots reserved so far.
func (t *Template) SlotCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.slotCount
}

// Slices returns a snapshot of the replay-parallel slice partition
// computed by Optimize's prepareParallelReplay pass, for tests and
// diagnostics. Empty until Optimize has run.
func (t *Template) Slices() [][]int {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([][]int, len(t.slices))
	for i, s := range t.slices {
		out[i] = append([]int(nil), s...)
	}
	return out
}

// Pre/Post/PreReductions/PostReductions/ConsumedReductions expose the
// condition sets computed by Finalize, for tests and for
// CheckPreconditions.
func (t *Template) Pre() *condition.Set                { return t.pre }
func (t *Template) Post() *condition.Set                { return t.post }
func (t *Template) PreReductions() *condition.Set       { return t.preReductions }
func (t *Template) PostReductions() *condition.Set      { return t.postReductions }
func (t *Template) ConsumedReductions() *condition.Set  { return t.consumedReductions }

// CompletionSlots returns the slot of every CompleteReplay instruction
// recorded, in program order: the set of events a replay iteration's
// overall completion is merged from (see PhysicalTrace.CompleteReplayIteration).
func (t *Template) CompletionSlots() []traceid.EventSlot {
	t.mu.Lock()
	defer t.mu.Unlock()
	var out []traceid.EventSlot
	for _, instr := range t.instructions {
		if cr, ok := instr.(*CompleteReplay); ok {
			out = append(out, cr.Slot)
		}
	}
	return out
}

// SummaryInfo returns the captured (region-requirement, instance-set)
// pairs a replay must re-announce.
func (t *Template) SummaryInfo() []SummaryEntry {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]SummaryEntry, len(t.summaryInfo))
	copy(out, t.summaryInfo)
	return out
}
