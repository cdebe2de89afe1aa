package template

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/adalundhe/retrace/core/forest"
	"github.com/adalundhe/retrace/core/tracecache"
	"github.com/adalundhe/retrace/core/traceid"
)

func TestPhysicalTrace_RecordFinalizeThenCheckPreconditionsReplays(t *testing.T) {
	sim := forest.NewSimulated()
	pt, err := NewPhysicalTrace(tracecache.TraceID(1), sim, sim, 2, 2, 0)
	require.NoError(t, err)

	tmpl := pt.StartRecording()
	v := view(1)
	tmpl.RecordOpView(v, 1, traceid.FieldMaskFromBits(0), false)

	require.NoError(t, pt.Finalize(context.Background(), false))
	assert.Nil(t, pt.CurrentTemplate())

	ok, err := pt.CheckTemplatePreconditions(context.Background())
	require.NoError(t, err)
	assert.True(t, ok)
	assert.NotNil(t, pt.ActiveReplayTemplate())
}

func TestPhysicalTrace_NonreplayableStreakCountsAgainstThreshold(t *testing.T) {
	sim := forest.NewSimulated()
	pt, err := NewPhysicalTrace(tracecache.TraceID(2), sim, sim, 2, 1, 0)
	require.NoError(t, err)

	pt.StartRecording()
	err = pt.Finalize(context.Background(), true)
	require.Error(t, err)
	assert.Equal(t, 1, pt.NonreplayableCount())
	assert.False(t, pt.ExceedsThreshold())

	pt.StartRecording()
	err = pt.Finalize(context.Background(), true)
	require.Error(t, err)
	assert.Equal(t, 2, pt.NonreplayableCount())
	assert.True(t, pt.ExceedsThreshold())
}

func TestPhysicalTrace_SuccessfulFinalizeResetsNonreplayableStreak(t *testing.T) {
	sim := forest.NewSimulated()
	pt, err := NewPhysicalTrace(tracecache.TraceID(3), sim, sim, 2, 1, 0)
	require.NoError(t, err)

	pt.StartRecording()
	require.Error(t, pt.Finalize(context.Background(), true))
	assert.Equal(t, 1, pt.NonreplayableCount())

	pt.StartRecording()
	require.NoError(t, pt.Finalize(context.Background(), false))
	assert.Equal(t, 0, pt.NonreplayableCount())
}

func TestPhysicalTrace_CompleteReplayIterationMergesCompletions(t *testing.T) {
	sim := forest.NewSimulated()
	pt, err := NewPhysicalTrace(tracecache.TraceID(4), sim, sim, 2, 2, 0)
	require.NoError(t, err)

	tmpl := buildParallelFillTemplate(2)
	tmpl.Optimize()

	events := tmpl.Initialize(sim, forest.EventID{Opaque: 9})
	require.NoError(t, tmpl.ExecuteAll(context.Background(), sim, sim, events))

	pt.BeginReplayIteration(tmpl, events)
	require.NoError(t, pt.CompleteReplayIteration(context.Background()))

	completion := pt.PreviousCompletion()
	assert.NotZero(t, completion.Opaque)
}

func TestPhysicalTrace_FixTraceIsANoopWithNoCurrentTemplate(t *testing.T) {
	sim := forest.NewSimulated()
	pt, err := NewPhysicalTrace(tracecache.TraceID(5), sim, sim, 2, 1, 0)
	require.NoError(t, err)
	assert.NoError(t, pt.FixTrace())
}
