package traceerr_test

import (
	"testing"

	"github.com/adalundhe/retrace/core/traceerr"
	"github.com/stretchr/testify/assert"
)

func TestClassifyKind(t *testing.T) {
	div := &traceerr.DivergenceError{OpIndex: 3, Reason: "region count mismatch"}
	kind, ok := traceerr.ClassifyKind(div)
	assert.True(t, ok)
	assert.Equal(t, traceerr.KindDivergence, kind)
	assert.True(t, traceerr.IsRecoverable(div))
}

func TestClassifyKind_NonReplayable(t *testing.T) {
	err := &traceerr.NonReplayableError{TraceID: 1, Reason: "blocking call observed"}
	kind, ok := traceerr.ClassifyKind(err)
	assert.True(t, ok)
	assert.Equal(t, traceerr.KindNonReplayable, kind)
	assert.True(t, traceerr.IsRecoverable(err))
}

func TestClassifyKind_UnknownError(t *testing.T) {
	_, ok := traceerr.ClassifyKind(assertErr{})
	assert.False(t, ok)
}

func TestPanic_CarriesFatalError(t *testing.T) {
	defer func() {
		r := recover()
		err, ok := r.(*traceerr.FatalError)
		assert.True(t, ok)
		assert.Contains(t, err.Error(), "slot read before written")
	}()
	traceerr.Panic("slot read before written")
}

type assertErr struct{}

func (assertErr) Error() string { return "plain" }
