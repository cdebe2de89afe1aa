package condition_test

import (
	"testing"

	"github.com/adalundhe/retrace/core/condition"
	"github.com/adalundhe/retrace/core/traceid"
	"github.com/stretchr/testify/assert"
)

func v(id uint64) condition.View { return condition.View{ID: id, RegionTreeID: 1} }

func TestSet_InsertIsIdempotentUnderUnion(t *testing.T) {
	s1 := condition.New()
	s1.Insert(v(1), 10, traceid.FieldMaskFromBits(0))
	s1.Insert(v(1), 10, traceid.FieldMaskFromBits(1))

	s2 := condition.New()
	s2.Insert(v(1), 10, traceid.FieldMaskFromBits(0, 1))

	ok1, _ := s1.Dominates(v(1), 10, traceid.FieldMaskFromBits(0, 1))
	ok2, _ := s2.Dominates(v(1), 10, traceid.FieldMaskFromBits(0, 1))
	assert.True(t, ok1)
	assert.True(t, ok2)
}

func TestSet_InvalidateRemovesEmptyEntries(t *testing.T) {
	s := condition.New()
	s.Insert(v(1), 10, traceid.FieldMaskFromBits(0))
	s.Invalidate(v(1), 10, traceid.FieldMaskFromBits(0))

	assert.True(t, s.IsEmpty())
	assert.True(t, s.HasRefinements())
}

func TestSet_DominatesReportsResidual(t *testing.T) {
	s := condition.New()
	s.Insert(v(1), 10, traceid.FieldMaskFromBits(0))

	ok, residual := s.Dominates(v(1), 10, traceid.FieldMaskFromBits(0, 1))
	assert.False(t, ok)
	assert.True(t, residual.Test(1))
	assert.False(t, residual.Test(0))
}

func TestSet_SubsumedBy(t *testing.T) {
	pre := condition.New()
	pre.Insert(v(1), 10, traceid.FieldMaskFromBits(0, 1))

	post := condition.New()
	post.Insert(v(1), 10, traceid.FieldMaskFromBits(0, 1))

	assert.True(t, post.SubsumedBy(pre))

	post.Insert(v(1), 10, traceid.FieldMaskFromBits(2))
	assert.False(t, post.SubsumedBy(pre))
}

func TestSet_CloneIsIndependent(t *testing.T) {
	s := condition.New()
	s.Insert(v(1), 10, traceid.FieldMaskFromBits(0))

	clone := s.Clone()
	s.Insert(v(1), 10, traceid.FieldMaskFromBits(1))

	ok, _ := clone.Dominates(v(1), 10, traceid.FieldMaskFromBits(1))
	assert.False(t, ok)
}
