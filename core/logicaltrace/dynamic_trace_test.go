package logicaltrace

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/adalundhe/retrace/core/traceerr"
	"github.com/adalundhe/retrace/core/traceid"
)

func handle(kind traceid.OpKind, id uint64, reqCount int) traceid.OperationHandle {
	return traceid.OperationHandle{ID: id, Gen: 1, Kind: kind, ReqCount: reqCount}
}

// Scenario 4 (spec §8): a replay that registers an operation whose
// region-requirement count differs from the captured run must be
// reported as a divergence, not silently accepted.
func TestDynamicTrace_DivergentRegionCountTriggersDivergence(t *testing.T) {
	tr := NewDynamicTrace(1)

	require.NoError(t, tr.RegisterOperation(handle(traceid.OpKindTask, 10, 2)))
	require.NoError(t, tr.RegisterOperation(handle(traceid.OpKindTask, 11, 1)))
	tr.FixTrace()

	tr.SetStateReplay()
	require.NoError(t, tr.RegisterOperation(handle(traceid.OpKindTask, 10, 2)))

	err := tr.RegisterOperation(handle(traceid.OpKindTask, 11, 3))
	require.Error(t, err)

	kind, ok := traceerr.ClassifyKind(err)
	require.True(t, ok)
	assert.Equal(t, traceerr.KindDivergence, kind)
	assert.True(t, traceerr.IsRecoverable(err))
}

// Scenario 5 (spec §8): when an internal op mediates a dependence
// between A and B during capture, but on a later capture no internal
// op is synthesized for the same structural signature, B must still
// carry a direct dependence on A promoted from internal_dependences.
func TestDynamicTrace_InternalOpElisionPromotesDirectDependence(t *testing.T) {
	tr := NewDynamicTrace(2)

	opA := handle(traceid.OpKindTask, 100, 1)
	require.NoError(t, tr.RegisterOperation(opA))
	posA := tr.OperationCount() - 1

	key := NewInternalOpKey(traceid.OpKindTask, 42, traceid.FieldMaskFromBits(0, 1))
	tr.RecordInternalDependence(key, posA, traceid.DependenceTrue, traceid.FieldMaskFromBits(0))

	opB := handle(traceid.OpKindTask, 101, 1)
	require.NoError(t, tr.RegisterOperation(opB))
	posB := tr.OperationCount() - 1

	deps := tr.Dependences(posB)
	require.Len(t, deps, 1)
	assert.Equal(t, posA, deps[0].OpIndex)
	assert.Equal(t, traceid.DependenceTrue, deps[0].DType)
}

func TestDynamicTrace_FixedReplayMismatchedKindDiverges(t *testing.T) {
	tr := NewDynamicTrace(3)
	require.NoError(t, tr.RegisterOperation(handle(traceid.OpKindTask, 1, 1)))
	tr.FixTrace()

	tr.SetStateReplay()
	err := tr.RegisterOperation(handle(traceid.OpKindFill, 1, 1))
	require.Error(t, err)
	kind, ok := traceerr.ClassifyKind(err)
	require.True(t, ok)
	assert.Equal(t, traceerr.KindDivergence, kind)
}

func TestDynamicTrace_ReplayCursorResetsEachIteration(t *testing.T) {
	tr := NewDynamicTrace(4)
	require.NoError(t, tr.RegisterOperation(handle(traceid.OpKindTask, 1, 1)))
	require.NoError(t, tr.RegisterOperation(handle(traceid.OpKindTask, 2, 1)))
	tr.FixTrace()

	for i := 0; i < 3; i++ {
		tr.SetStateReplay()
		require.NoError(t, tr.RegisterOperation(handle(traceid.OpKindTask, 1, 1)))
		require.NoError(t, tr.RegisterOperation(handle(traceid.OpKindTask, 2, 1)))
	}
}
