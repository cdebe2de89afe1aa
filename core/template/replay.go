package template

import (
	"context"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/adalundhe/retrace/core/forest"
	"github.com/adalundhe/retrace/core/traceid"
)

// invalidationFlag wires a single forest.Subscribe callback (via arm)
// the first time a template is checked against live forest state, flagging the
// template invalidated on any region-tree mutation the forest cannot
// express as a template update (spec §4.A invalidate_trace_cache /
// §4.D.2's replay precondition).
type invalidationFlag struct {
	mu   sync.Mutex
	once sync.Once
	set  bool
}

func (f *invalidationFlag) arm(fc forest.RegionForest) {
	f.once.Do(func() {
		fc.Subscribe(func(reason string) {
			f.mu.Lock()
			f.set = true
			f.mu.Unlock()
		})
	})
}

func (f *invalidationFlag) isSet() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.set
}

// CheckPreconditions reports whether the template's recorded
// preconditions still hold against the live forest, per spec §4.D.2's
// evaluation of pre and pre_reductions/pre_fill_views against current
// runtime state. A template with nothing recorded in any of those
// three sets is trivially replayable; otherwise replayability is gated
// on no region-tree mutation having invalidated the template since its
// first CheckPreconditions call (the point where the subscription is
// made; earlier mutations are not seen), via the forest's coarse-grained Subscribe callback
// (spec §6 declines to give the template anything finer-grained than
// "mutated, here is why").
func (t *Template) CheckPreconditions(ctx context.Context, fc forest.RegionForest) (bool, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.invalidation == nil {
		t.invalidation = &invalidationFlag{}
	}
	t.invalidation.arm(fc)

	if t.pre.IsEmpty() && t.preReductions.IsEmpty() && len(t.preFillViews) == 0 {
		return true, nil
	}
	return !t.invalidation.isSet(), nil
}

// Initialize prepares a fresh EventArray for one replay iteration,
// binding slot 0 to fenceCompletion and minting new user events for
// every slot RecordCreateApUserEvent reserved during capture, per spec
// §4.D.4 "initialize". For recurrent pipelining (spec §9) the caller
// passes the previous iteration's completion event as fenceCompletion,
// chaining one replay's completion into the next iteration's fence.
func (t *Template) Initialize(rt forest.EventRuntime, fenceCompletion forest.EventID) *EventArray {
	t.mu.Lock()
	defer t.mu.Unlock()

	events := NewEventArray(t.slotCount)
	events.Set(traceid.FenceCompletionSlot, fenceCompletion)

	for slot := range t.userEventSlots {
		events.Set(slot, rt.CreateUserEvent())
	}

	return events
}

// ExecuteAll runs every replay slice concurrently, fanning out with
// errgroup the way the teacher's core/dag executor fans out a DAG
// layer with a WaitGroup and first-error capture. errgroup folds
// that pattern (wait group, error-once, context cancellation on first
// failure) into one call, per spec §5's "slices execute in parallel,
// disjoint event-array indices need no lock".
func (t *Template) ExecuteAll(ctx context.Context, rt forest.EventRuntime, fc forest.RegionForest, events *EventArray) error {
	t.mu.Lock()
	slices := t.slices
	instructions := t.instructions
	crossing := t.crossingEvents
	t.mu.Unlock()

	if len(slices) == 0 {
		return t.executeIndices(ctx, allIndices(len(instructions)), rt, fc, events, instructions, crossing)
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, indices := range slices {
		indices := indices
		g.Go(func() error {
			return t.executeIndices(gctx, indices, rt, fc, events, instructions, crossing)
		})
	}
	return g.Wait()
}

// ExecuteSlice runs one replay slice in isolation, used by tests and
// by callers that want to pipeline slice execution against their own
// scheduler rather than ExecuteAll's errgroup fan-out.
func (t *Template) ExecuteSlice(ctx context.Context, sliceIdx int, rt forest.EventRuntime, fc forest.RegionForest, events *EventArray) error {
	t.mu.Lock()
	if sliceIdx < 0 || sliceIdx >= len(t.slices) {
		t.mu.Unlock()
		return nil
	}
	indices := t.slices[sliceIdx]
	instructions := t.instructions
	crossing := t.crossingEvents
	t.mu.Unlock()

	return t.executeIndices(ctx, indices, rt, fc, events, instructions, crossing)
}

// executeIndices only calls WaitBound for a read whose producer's
// slice was recorded in crossing by prepareParallelReplay (spec
// §4.D.3.5's partition state). A same-slice read's producer already
// ran earlier in this same goroutine's indices, by construction of
// the topological order the slices were cut from, so ordinary
// sequential execution already gives it visibility; only a read
// crossing into another slice's goroutine needs the channel wait.
func (t *Template) executeIndices(ctx context.Context, indices []int, rt forest.EventRuntime, fc forest.RegionForest, events *EventArray, instructions []Instruction, crossing map[traceid.EventSlot]int) error {
	for _, idx := range indices {
		if err := ctx.Err(); err != nil {
			return err
		}
		instr := instructions[idx]
		for _, slot := range instr.Reads() {
			if _, crosses := crossing[slot]; !crosses {
				continue
			}
			if err := events.WaitBound(ctx, slot); err != nil {
				return err
			}
		}
		if err := instr.Execute(ctx, rt, fc, events); err != nil {
			return err
		}
	}
	return nil
}

func allIndices(n int) []int {
	out := make([]int, n)
	for i := range out {
		out[i] = i
	}
	return out
}
