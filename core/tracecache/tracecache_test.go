package tracecache

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/adalundhe/retrace/core/logicaltrace"
)

func TestTraceCache_BeginIsIdempotentPerID(t *testing.T) {
	c, err := New(0)
	require.NoError(t, err)

	calls := 0
	newTrace := func() logicaltrace.LogicalTrace {
		calls++
		return logicaltrace.NewDynamicTrace(1)
	}

	tr1 := c.Begin(1, 100, newTrace)
	tr2 := c.Begin(1, 100, newTrace)

	assert.Same(t, tr1, tr2)
	assert.Equal(t, 1, calls)
}

func TestTraceCache_LookupMissingReturnsFalse(t *testing.T) {
	c, err := New(0)
	require.NoError(t, err)

	_, ok := c.Lookup(1, 999)
	assert.False(t, ok)
}

func TestTraceCache_DestroyRemovesTrace(t *testing.T) {
	c, err := New(0)
	require.NoError(t, err)

	c.Begin(1, 1, func() logicaltrace.LogicalTrace { return logicaltrace.NewDynamicTrace(1) })
	c.Destroy(1, 1)

	_, ok := c.Lookup(1, 1)
	assert.False(t, ok)
}

func TestTraceCache_InvalidateIsConsumedOnce(t *testing.T) {
	c, err := New(0)
	require.NoError(t, err)

	c.Begin(1, 1, func() logicaltrace.LogicalTrace { return logicaltrace.NewDynamicTrace(1) })
	c.InvalidateTraceCache(1, 1, "partition changed")

	assert.True(t, c.ConsumeInvalidation(1, 1))
	assert.False(t, c.ConsumeInvalidation(1, 1))
	assert.Equal(t, "partition changed", c.LastInvalidator(1, 1))
}

func TestTraceCache_LastInvalidatorEmptyBeforeAnyInvalidation(t *testing.T) {
	c, err := New(0)
	require.NoError(t, err)

	c.Begin(1, 1, func() logicaltrace.LogicalTrace { return logicaltrace.NewDynamicTrace(1) })
	assert.Equal(t, "", c.LastInvalidator(1, 1))
}

func TestTraceCache_SeparateContextsAreIndependent(t *testing.T) {
	c, err := New(0)
	require.NoError(t, err)

	c.Begin(1, 1, func() logicaltrace.LogicalTrace { return logicaltrace.NewDynamicTrace(1) })
	_, ok := c.Lookup(2, 1)
	assert.False(t, ok)
}
