package template

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/adalundhe/retrace/core/forest"
	"github.com/adalundhe/retrace/core/traceid"
)

// buildParallelFillTemplate records two independent fills (no shared
// dependency beyond the fence) plus a merge that awaits both, the
// shape spec scenario 2 asks for: parallel fill slicing with a
// crossing event at the merge.
func buildParallelFillTemplate(parallelism int) *Template {
	tmpl := New(1, parallelism, 0)
	tmpl.mu.Lock()
	fence := tmpl.reserveSlot() // extra slot, never read; New reserves slot 0 and Initialize binds it
	_ = fence
	term := tmpl.reserveSlot()
	tmpl.instructions = append(tmpl.instructions, &GetTermEvent{Term: term})
	fillA := tmpl.reserveSlot()
	tmpl.instructions = append(tmpl.instructions, &IssueFill{Dst: fillA, Pre: term})
	fillB := tmpl.reserveSlot()
	tmpl.instructions = append(tmpl.instructions, &IssueFill{Dst: fillB, Pre: term})
	merged := tmpl.reserveSlot()
	tmpl.instructions = append(tmpl.instructions, &MergeEvent{Out: merged, Ins: []traceid.EventSlot{fillA, fillB}})
	complete := tmpl.reserveSlot()
	tmpl.userEventSlots[complete] = struct{}{}
	tmpl.instructions = append(tmpl.instructions, &TriggerEvent{User: complete, Pre: merged})
	tmpl.instructions = append(tmpl.instructions, &CompleteReplay{Slot: merged})
	tmpl.mu.Unlock()
	return tmpl
}

func TestReplay_ParallelFillSlicingExecutesWithoutRace(t *testing.T) {
	sim := forest.NewSimulated()
	tmpl := buildParallelFillTemplate(2)
	tmpl.Optimize()
	require.Len(t, tmpl.slices, 2)

	events := tmpl.Initialize(sim, forest.EventID{Opaque: 100})
	err := tmpl.ExecuteAll(context.Background(), sim, sim, events)
	require.NoError(t, err)

	_, ok := events.Get(0)
	assert.True(t, ok, "fence completion slot must be bound")
}

func TestReplay_RecurrentChainingAcrossThreeIterations(t *testing.T) {
	sim := forest.NewSimulated()
	tmpl := buildParallelFillTemplate(2)
	tmpl.Optimize()

	fence := forest.EventID{Opaque: 1}
	for i := 0; i < 3; i++ {
		events := tmpl.Initialize(sim, fence)
		require.NoError(t, tmpl.ExecuteAll(context.Background(), sim, sim, events))

		slots := tmpl.CompletionSlots()
		require.NotEmpty(t, slots)
		ev, ok := events.Get(slots[0])
		require.True(t, ok)
		fence = ev
	}
}

func TestReplay_ExecuteSliceRunsOneSliceInIsolation(t *testing.T) {
	sim := forest.NewSimulated()
	tmpl := buildParallelFillTemplate(2)
	tmpl.Optimize()

	events := tmpl.Initialize(sim, forest.EventID{Opaque: 5})

	var wg sync.WaitGroup
	errs := make([]error, len(tmpl.slices))
	for i := range tmpl.slices {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = tmpl.ExecuteSlice(context.Background(), i, sim, sim, events)
		}(i)
	}
	wg.Wait()

	for _, err := range errs {
		assert.NoError(t, err)
	}
}

func TestReplay_ExecuteSliceOutOfRangeIsANoop(t *testing.T) {
	sim := forest.NewSimulated()
	tmpl := buildParallelFillTemplate(1)
	tmpl.Optimize()
	events := tmpl.Initialize(sim, forest.EventID{Opaque: 1})
	err := tmpl.ExecuteSlice(context.Background(), 99, sim, sim, events)
	assert.NoError(t, err)
}

// TestReplay_UserEventTriggerRoundTripsWithoutDoubleClose exercises the
// RecordCreateApUserEvent -> RecordTriggerEvent -> Finalize/Optimize ->
// Initialize/ExecuteAll path end to end. Initialize is the slot's sole
// minter (see RecordCreateApUserEvent); nothing in the instruction
// stream binds it a second time, so EventArray.Set never closes the
// slot's ready channel twice.
func TestReplay_UserEventTriggerRoundTripsWithoutDoubleClose(t *testing.T) {
	sim := forest.NewSimulated()
	tmpl := New(1, 1, 0)

	term := tmpl.RecordGetTermEvent(traceid.OperationHandle{ID: 1})
	user := tmpl.RecordCreateApUserEvent()
	tmpl.RecordTriggerEvent(user, term)

	require.NoError(t, tmpl.Finalize(false))
	tmpl.Optimize()

	events := tmpl.Initialize(sim, forest.EventID{Opaque: 1})
	require.NoError(t, tmpl.ExecuteAll(context.Background(), sim, sim, events))

	_, ok := events.Get(user)
	assert.True(t, ok, "user-event slot must be bound by Initialize")
}

func TestCheckPreconditions_EmptyPreIsTriviallyReplayable(t *testing.T) {
	sim := forest.NewSimulated()
	tmpl := New(2, 1, 0)
	ok, err := tmpl.CheckPreconditions(context.Background(), sim)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestCheckPreconditions_InvalidationFlipsToFalse(t *testing.T) {
	sim := forest.NewSimulated()
	tmpl := New(3, 1, 0)
	tmpl.pre.Insert(view(1), 1, traceid.FieldMaskFromBits(0))

	ok, err := tmpl.CheckPreconditions(context.Background(), sim)
	require.NoError(t, err)
	assert.True(t, ok)

	sim.Invalidate("partition changed")

	ok, err = tmpl.CheckPreconditions(context.Background(), sim)
	require.NoError(t, err)
	assert.False(t, ok)
}
