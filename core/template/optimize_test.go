package template

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/adalundhe/retrace/core/forest"
	"github.com/adalundhe/retrace/core/traceid"
)

// linear chain A -> B -> C plus a redundant direct A -> C edge: the
// transitive reduction pass must drop the redundant edge, leaving the
// two-hop path as the only remaining one.
func TestTransitiveReduction_DropsRedundantDirectEdge(t *testing.T) {
	tmpl := New(1, 1, 0)
	// slot 0: A's output. slot 1: B, merges [0]. slot 2: C, merges [0,1].
	tmpl.slotCount = 3
	tmpl.instructions = []Instruction{
		&CreateUserEvent{Slot: 0},
		&MergeEvent{Out: 1, Ins: []traceid.EventSlot{0}},
		&MergeEvent{Out: 2, Ins: []traceid.EventSlot{0, 1}},
	}

	tmpl.transitiveReduction()

	// instruction 0 (producer of slot 0) should have an edge to 1
	// (direct consumer) but NOT a surviving direct edge to 2, since
	// 0 -> 1 -> 2 already connects them.
	require.Len(t, tmpl.reducedEdges, 3)
	assert.True(t, tmpl.reducedEdges[0][1])
	assert.False(t, tmpl.reducedEdges[0][2], "redundant direct edge 0->2 should have been removed")
	assert.True(t, tmpl.reducedEdges[1][2])

	// C's merge must actually drop the redundant input: it no longer
	// needs to merge in slot 0 directly since slot 1 already depends
	// on it, so replay's MergeEvents call for C merges one input, not
	// two.
	merge, ok := tmpl.instructions[2].(*MergeEvent)
	require.True(t, ok)
	assert.Equal(t, []traceid.EventSlot{1}, merge.Ins, "redundant input 0 should have been dropped from the merge")
}

func TestPropagateMerges_FlattensSingleInputMerge(t *testing.T) {
	tmpl := New(2, 1, 0)
	tmpl.slotCount = 3
	tmpl.instructions = []Instruction{
		&CreateUserEvent{Slot: 0},
		&MergeEvent{Out: 1, Ins: []traceid.EventSlot{0}},
		&TriggerEvent{User: 2, Pre: 1},
	}

	tmpl.propagateMerges()

	for _, instr := range tmpl.instructions {
		if trig, ok := instr.(*TriggerEvent); ok {
			assert.Equal(t, traceid.EventSlot(0), trig.Pre, "consumer should now read slot 0 directly")
		}
		_, isDroppedMerge := instr.(*MergeEvent)
		assert.False(t, isDroppedMerge, "single-input merge should have been eliminated")
	}
}

func TestPropagateCopies_DropsUnreadCopy(t *testing.T) {
	tmpl := New(3, 1, 0)
	tmpl.slotCount = 2
	tmpl.instructions = []Instruction{
		&CreateUserEvent{Slot: 0},
		&IssueCopy{Dst: 1, Pre: 0},
	}

	tmpl.propagateCopies()

	for _, instr := range tmpl.instructions {
		_, isCopy := instr.(*IssueCopy)
		assert.False(t, isCopy, "copy whose destination is never read should be dropped")
	}
}

func TestPropagateCopies_KeepsReadCopy(t *testing.T) {
	tmpl := New(4, 1, 0)
	tmpl.slotCount = 3
	tmpl.instructions = []Instruction{
		&CreateUserEvent{Slot: 0},
		&IssueCopy{Dst: 1, Pre: 0},
		&TriggerEvent{User: 2, Pre: 1},
	}

	tmpl.propagateCopies()

	found := false
	for _, instr := range tmpl.instructions {
		if _, ok := instr.(*IssueCopy); ok {
			found = true
		}
	}
	assert.True(t, found, "copy whose destination is read must survive")
}

func TestPrepareParallelReplay_PartitionsAcrossSlices(t *testing.T) {
	tmpl := New(5, 2, 0)
	tmpl.slotCount = 4
	tmpl.instructions = []Instruction{
		&CreateUserEvent{Slot: 0},
		&IssueFill{Dst: 1, Pre: 0},
		&IssueFill{Dst: 2, Pre: 0},
		&MergeEvent{Out: 3, Ins: []traceid.EventSlot{1, 2}},
	}

	tmpl.prepareParallelReplay()

	require.Len(t, tmpl.slices, 2)
	total := 0
	for _, s := range tmpl.slices {
		total += len(s)
	}
	assert.Equal(t, 4, total)

	// slot 1 and slot 2's producers may land in different slices than
	// the merge that reads them; if so, they are recorded as crossing.
	assert.NotNil(t, tmpl.crossingEvents)
}

func TestPushCompleteReplays_MovesCompletionsToSliceEnd(t *testing.T) {
	tmpl := New(6, 1, 0)
	op := traceid.TraceLocalID{OpIndex: 0}
	tmpl.instructions = []Instruction{
		&CompleteReplay{Op: op, Slot: 0},
		&CreateUserEvent{Slot: 1},
	}
	tmpl.slices = [][]int{{0, 1}}

	tmpl.pushCompleteReplays()

	last := tmpl.slices[0][len(tmpl.slices[0])-1]
	_, ok := tmpl.instructions[last].(*CompleteReplay)
	assert.True(t, ok, "CompleteReplay must be last in its slice")
}

func TestOptimize_RunsAllPassesWithoutPanicOnEmptyTemplate(t *testing.T) {
	tmpl := New(7, 2, 0)
	assert.NotPanics(t, func() { tmpl.Optimize() })
}

func TestOptimize_EndToEndFromRecordedCopyFillChain(t *testing.T) {
	sim := forest.NewSimulated()
	tmpl := New(8, 2, 0)

	tmpl.mu.Lock()
	termSlot := tmpl.reserveSlot()
	tmpl.instructions = append(tmpl.instructions, &GetTermEvent{Term: termSlot})
	fillSlot := tmpl.reserveSlot()
	tmpl.instructions = append(tmpl.instructions, &IssueFill{Dst: fillSlot, Pre: termSlot})
	copySlot := tmpl.reserveSlot()
	tmpl.instructions = append(tmpl.instructions, &IssueCopy{Dst: copySlot, Pre: fillSlot})
	completeSlot := copySlot
	tmpl.instructions = append(tmpl.instructions, &CompleteReplay{Slot: completeSlot})
	tmpl.mu.Unlock()

	require.NotPanics(t, func() { tmpl.Optimize() })
	require.NotEmpty(t, tmpl.slices)

	events := tmpl.Initialize(sim, forest.EventID{Opaque: 1})
	require.NoError(t, tmpl.ExecuteAll(context.Background(), sim, sim, events))
}
