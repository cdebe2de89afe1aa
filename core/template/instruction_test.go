package template

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/adalundhe/retrace/core/forest"
	"github.com/adalundhe/retrace/core/traceid"
)

func TestEventArray_GetUnboundSlotFails(t *testing.T) {
	arr := NewEventArray(3)
	_, ok := arr.Get(1)
	assert.False(t, ok)
}

func TestEventArray_SetThenGet(t *testing.T) {
	arr := NewEventArray(2)
	ev := forest.EventID{Opaque: 42}
	arr.Set(1, ev)
	got, ok := arr.Get(1)
	require.True(t, ok)
	assert.Equal(t, ev, got)
}

func TestGetTermEvent_BindsSlotFromRuntime(t *testing.T) {
	sim := forest.NewSimulated()
	arr := NewEventArray(1)
	instr := &GetTermEvent{Op: traceid.OperationHandle{ID: 1}, Term: 0}
	require.NoError(t, instr.Execute(context.Background(), sim, sim, arr))
	_, ok := arr.Get(0)
	assert.True(t, ok)
}

func TestTriggerEvent_FailsOnUnboundRead(t *testing.T) {
	sim := forest.NewSimulated()
	arr := NewEventArray(2)
	instr := &TriggerEvent{User: 0, Pre: 1}
	err := instr.Execute(context.Background(), sim, sim, arr)
	assert.Error(t, err)
}

func TestMergeEvent_MergesBoundInputs(t *testing.T) {
	sim := forest.NewSimulated()
	arr := NewEventArray(3)
	arr.Set(0, forest.EventID{Opaque: 1})
	arr.Set(1, forest.EventID{Opaque: 2})
	instr := &MergeEvent{Out: 2, Ins: []traceid.EventSlot{0, 1}}
	require.NoError(t, instr.Execute(context.Background(), sim, sim, arr))
	_, ok := arr.Get(2)
	assert.True(t, ok)
}

func TestAssignFenceCompletion_CopiesSlotZero(t *testing.T) {
	arr := NewEventArray(2)
	fence := forest.EventID{Opaque: 7}
	arr.Set(traceid.FenceCompletionSlot, fence)
	instr := &AssignFenceCompletion{Slot: 1}
	require.NoError(t, instr.Execute(context.Background(), nil, nil, arr))
	got, ok := arr.Get(1)
	require.True(t, ok)
	assert.Equal(t, fence, got)
}

func TestIssueCopy_DelegatesToForestAndBindsDst(t *testing.T) {
	sim := forest.NewSimulated()
	arr := NewEventArray(2)
	arr.Set(0, forest.EventID{Opaque: 1})
	instr := &IssueCopy{Dst: 1, Pre: 0}
	require.NoError(t, instr.Execute(context.Background(), sim, sim, arr))
	_, ok := arr.Get(1)
	assert.True(t, ok)
	assert.Len(t, sim.AccessLog(), 2)
}

func TestIssueFill_DelegatesToForestAndBindsDst(t *testing.T) {
	sim := forest.NewSimulated()
	arr := NewEventArray(2)
	arr.Set(0, forest.EventID{Opaque: 1})
	instr := &IssueFill{Dst: 1, Pre: 0}
	require.NoError(t, instr.Execute(context.Background(), sim, sim, arr))
	_, ok := arr.Get(1)
	assert.True(t, ok)
	assert.Len(t, sim.AccessLog(), 1)
}
