package traceevents_test

import (
	"sync"
	"testing"
	"time"

	"github.com/adalundhe/retrace/core/traceevents"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBus_DeliversToTypedAndWildcardSubscribers(t *testing.T) {
	bus := traceevents.NewBus(16)
	bus.Start()
	defer bus.Close()

	var mu sync.Mutex
	var typed, wild []traceevents.Event

	bus.Subscribe(func(e traceevents.Event) {
		mu.Lock()
		defer mu.Unlock()
		typed = append(typed, e)
	}, traceevents.KindTraceBegin)

	bus.Subscribe(func(e traceevents.Event) {
		mu.Lock()
		defer mu.Unlock()
		wild = append(wild, e)
	})

	bus.Publish(traceevents.Event{Kind: traceevents.KindTraceBegin, TraceID: 1, Timestamp: time.Now()})
	bus.Publish(traceevents.Event{Kind: traceevents.KindTraceComplete, TraceID: 1, Timestamp: time.Now()})

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(wild) == 2
	}, time.Second, time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Len(t, typed, 1)
	assert.Equal(t, traceevents.KindTraceBegin, typed[0].Kind)
}
