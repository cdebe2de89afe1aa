package traceid_test

import (
	"testing"

	"github.com/adalundhe/retrace/core/traceid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFieldMask_OrIsIdempotentUnion(t *testing.T) {
	a := traceid.FieldMaskFromBits(1, 3, 5)
	b := traceid.FieldMaskFromBits(3, 5, 7)

	merged := a.Or(b)

	assert.True(t, merged.Test(1))
	assert.True(t, merged.Test(3))
	assert.True(t, merged.Test(5))
	assert.True(t, merged.Test(7))
	assert.False(t, merged.Test(2))

	// insert(v,e,m1); insert(v,e,m2) == insert(v,e,m1|m2)
	combined := traceid.FieldMaskFromBits(1, 3, 5, 7)
	assert.True(t, merged.Equal(combined))
}

func TestFieldMask_DominatesRequiresAllBits(t *testing.T) {
	wide := traceid.FieldMaskFromBits(0, 1, 2, 3)
	narrow := traceid.FieldMaskFromBits(1, 2)

	assert.True(t, wide.Dominates(narrow))
	assert.False(t, narrow.Dominates(wide))
}

func TestFieldMask_SubRemovesBits(t *testing.T) {
	all := traceid.FieldMaskFromBits(0, 1, 2)
	remove := traceid.FieldMaskFromBits(1)

	result := all.Sub(remove)

	assert.True(t, result.Test(0))
	assert.False(t, result.Test(1))
	assert.True(t, result.Test(2))
}

func TestDependenceRecord_MergeCoalescesByMask(t *testing.T) {
	records := []traceid.DependenceRecord{}

	records = traceid.MergeDependenceRecords(records, traceid.DependenceRecord{
		OpIndex: 2, PrevReqIdx: 0, NextReqIdx: 1, DType: traceid.DependenceTrue,
		Mask: traceid.FieldMaskFromBits(0),
	})
	records = traceid.MergeDependenceRecords(records, traceid.DependenceRecord{
		OpIndex: 2, PrevReqIdx: 0, NextReqIdx: 1, DType: traceid.DependenceTrue,
		Mask: traceid.FieldMaskFromBits(1),
	})

	require.Len(t, records, 1)
	assert.True(t, records[0].Mask.Test(0))
	assert.True(t, records[0].Mask.Test(1))
}

func TestDependenceRecord_MergeKeepsDistinctTuplesSeparate(t *testing.T) {
	records := []traceid.DependenceRecord{}

	records = traceid.MergeDependenceRecords(records, traceid.DependenceRecord{
		OpIndex: 2, PrevReqIdx: 0, NextReqIdx: 1, DType: traceid.DependenceTrue,
	})
	records = traceid.MergeDependenceRecords(records, traceid.DependenceRecord{
		OpIndex: 2, PrevReqIdx: 0, NextReqIdx: 1, DType: traceid.DependenceAnti,
	})

	assert.Len(t, records, 2)
}

func TestOperationHandle_MatchesIgnoresGeneration(t *testing.T) {
	recorded := traceid.OperationHandle{ID: 1, Gen: 1, Kind: traceid.OpKindTask, ReqCount: 2}
	replayed := traceid.OperationHandle{ID: 99, Gen: 7, Kind: traceid.OpKindTask, ReqCount: 2}
	divergent := traceid.OperationHandle{ID: 99, Gen: 7, Kind: traceid.OpKindTask, ReqCount: 3}

	assert.True(t, recorded.Matches(replayed))
	assert.False(t, recorded.Matches(divergent))
}
