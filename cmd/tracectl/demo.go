package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/adalundhe/retrace/core/condition"
	"github.com/adalundhe/retrace/core/config"
	"github.com/adalundhe/retrace/core/forest"
	"github.com/adalundhe/retrace/core/logicaltrace"
	"github.com/adalundhe/retrace/core/template"
	"github.com/adalundhe/retrace/core/tracecache"
	"github.com/adalundhe/retrace/core/traceerr"
	"github.com/adalundhe/retrace/core/traceevents"
	"github.com/adalundhe/retrace/core/traceid"
	"github.com/adalundhe/retrace/core/traceops"
)

var (
	demoIterations  int
	demoParallelism int
	demoThreshold   int
)

var demoCmd = &cobra.Command{
	Use:   "demo",
	Short: "Run a begin/replay/capture/complete cycle against a simulated forest",
	Long:  `demo drives one logical trace through several iterations of a fill body, recording the first iteration and replaying every one after, printing per-iteration phase timings and a bottleneck breakdown at the end.`,
	RunE:  runDemo,
}

func init() {
	rootCmd.AddCommand(demoCmd)
	demoCmd.Flags().IntVar(&demoIterations, "iterations", 4, "Number of loop iterations to drive")
	demoCmd.Flags().IntVar(&demoParallelism, "parallelism", 2, "Replay slice count")
	demoCmd.Flags().IntVar(&demoThreshold, "threshold", 2, "Nonreplayable threshold passed to the physical trace")
}

// iterationTiming records how long one loop iteration spent in each
// trace-control phase, the shape of the teacher's boot_bench per-phase
// timing struct.
type iterationTiming struct {
	replayed bool
	replay   time.Duration
	body     time.Duration
	complete time.Duration
}

func runDemo(cmd *cobra.Command, args []string) error {
	cfg := config.DefaultConfig()
	cfg.ReplayParallelism = demoParallelism
	cfg.NonreplayableThreshold = demoThreshold

	fmt.Printf("=== tracectl demo ===\n")
	fmt.Printf("iterations: %d, parallelism: %d, threshold: %d\n\n", demoIterations, cfg.ReplayParallelism, cfg.NonreplayableThreshold)

	sim := forest.NewSimulated()
	cache, err := tracecache.New(0)
	if err != nil {
		return fmt.Errorf("tracectl: %w", err)
	}
	seq := traceops.NewSequencer()
	bus := traceevents.NewBus(0)
	bus.Start()
	bus.Subscribe(func(e traceevents.Event) {
		fmt.Printf("         [event] %s trace=%d\n", e.Kind, e.TraceID)
	})

	const ctxID tracecache.ContextID = 1
	const traceID tracecache.TraceID = 1

	pt, err := template.NewPhysicalTrace(traceID, sim, sim, cfg.ResolvedNonreplayableThreshold(), cfg.ResolvedReplayParallelism(), 0)
	if err != nil {
		return fmt.Errorf("tracectl: %w", err)
	}
	deps := traceops.Deps{Cache: cache, Sequencer: seq, Physical: pt, Events: bus}
	ctx := context.Background()

	begin := &traceops.TraceBeginOp{
		Ctx:     ctxID,
		TraceID: traceID,
		NewTrace: func() logicaltrace.LogicalTrace {
			return logicaltrace.NewDynamicTrace(uint64(traceID))
		},
	}
	if err := begin.Apply(ctx, deps); err != nil {
		return fmt.Errorf("trace-begin: %w", err)
	}

	fence := forest.EventID{Opaque: 1}
	timings := make([]iterationTiming, 0, demoIterations)
	totalStart := time.Now()

	for i := 0; i < demoIterations; i++ {
		iterStart := time.Now()
		fmt.Printf("iteration %d:\n", i)

		replayOp := &traceops.TraceReplayOp{Ctx: ctxID, TraceID: traceID, TracingRequested: true}
		if err := replayOp.Apply(ctx, deps); err != nil {
			return fmt.Errorf("trace-replay: %w", err)
		}
		replayPhase := time.Since(iterStart)

		trace, ok := cache.Lookup(ctxID, traceID)
		if !ok {
			traceerr.Panic("tracectl: trace vanished from cache mid-loop")
		}

		bodyStart := time.Now()
		var timing iterationTiming
		if trace.IsReplaying() {
			fence, err = runReplayedIteration(ctx, sim, pt, fence)
			if err != nil {
				return fmt.Errorf("iteration %d replay: %w", i, err)
			}
			timing.replayed = true
			fmt.Printf("  replayed body\n")
		} else {
			pt.StartRecording()
			if err := runRecordedIteration(ctx, sim, pt, trace, i); err != nil {
				return fmt.Errorf("iteration %d record: %w", i, err)
			}
			fmt.Printf("  recorded body\n")
		}
		timing.body = time.Since(bodyStart)

		capture := &traceops.TraceCaptureOp{Ctx: ctxID, TraceID: traceID}
		if err := capture.Apply(ctx, deps); err != nil {
			return fmt.Errorf("trace-capture-complete: %w", err)
		}

		completeStart := time.Now()
		complete := &traceops.TraceCompleteOp{Ctx: ctxID, TraceID: traceID, FencePos: i, HasBlocking: false}
		if err := complete.Apply(ctx, deps); err != nil {
			return fmt.Errorf("trace-complete: %w", err)
		}
		timing.complete = time.Since(completeStart)
		timing.replay = replayPhase

		timings = append(timings, timing)
	}

	totalTime := time.Since(totalStart)
	printSummary(timings, totalTime)

	traceops.DestroyTrace(deps, ctxID, traceID)
	return nil
}

// runRecordedIteration issues a fill against a single view directly
// through the current template's Record* API, standing in for what a
// real operation pipeline would emit through core/logicaltrace during
// capture.
func runRecordedIteration(ctx context.Context, sim *forest.Simulated, pt *template.PhysicalTrace, trace logicaltrace.LogicalTrace, opIndex int) error {
	tmpl := pt.CurrentTemplate()
	if tmpl == nil {
		traceerr.Panic("tracectl: no current template during a recording iteration")
	}

	op := traceid.OperationHandle{ID: uint64(opIndex + 1), Kind: traceid.OpKindFill, ReqCount: 1}
	if err := trace.RegisterOperation(op); err != nil {
		return err
	}

	v := condition.View{ID: 1, RegionTreeID: 1}
	mask := traceid.FieldMaskFromBits(0)
	tmpl.RecordOpView(v, condition.EquivalenceSetID(1), mask, true)

	if _, err := sim.IssueFill(ctx, forest.IndexSpaceExpression{Opaque: 1}, forest.FillSpec{DstView: v, Bytes: []byte{0}}, traceid.FenceCompletionSlot); err != nil {
		return err
	}
	dst := tmpl.RecordIssueFill(forest.IndexSpaceExpression{Opaque: 1}, forest.FillSpec{DstView: v, Bytes: []byte{0}}, traceid.FenceCompletionSlot, condition.EquivalenceSetID(1), mask)
	tmpl.RecordCompleteReplay(traceid.TraceLocalID{OpIndex: opIndex}, dst)
	return nil
}

// runReplayedIteration initializes and executes the active replay
// template, returning the fence to thread into the next iteration
// (spec §9's recurrent pipelining).
func runReplayedIteration(ctx context.Context, sim *forest.Simulated, pt *template.PhysicalTrace, fence forest.EventID) (forest.EventID, error) {
	tmpl := pt.ActiveReplayTemplate()
	if tmpl == nil {
		traceerr.Panic("tracectl: no active replay template during a replayed iteration")
	}

	events := tmpl.Initialize(sim, fence)
	if err := tmpl.ExecuteAll(ctx, sim, sim, events); err != nil {
		return fence, err
	}
	pt.BeginReplayIteration(tmpl, events)

	slots := tmpl.CompletionSlots()
	if len(slots) == 0 {
		return fence, nil
	}
	ev, ok := events.Get(slots[0])
	if !ok {
		traceerr.Panic("tracectl: completion slot never bound during replay")
	}
	return ev, nil
}

func printSummary(timings []iterationTiming, total time.Duration) {
	fmt.Println()
	fmt.Println("=== Summary ===")
	replayed := 0
	for _, t := range timings {
		if t.replayed {
			replayed++
		}
	}
	fmt.Printf("Iterations:  %d\n", len(timings))
	fmt.Printf("Replayed:    %d\n", replayed)
	fmt.Printf("Recorded:    %d\n", len(timings)-replayed)
	fmt.Printf("Total:       %v\n", total)
	fmt.Println()

	fmt.Println("=== Bottleneck Analysis ===")
	var replaySum, bodySum, completeSum time.Duration
	for _, t := range timings {
		replaySum += t.replay
		bodySum += t.body
		completeSum += t.complete
	}
	phases := []struct {
		name string
		dur  time.Duration
	}{
		{"trace-replay", replaySum},
		{"body", bodySum},
		{"trace-complete", completeSum},
	}
	var maxPhase string
	var maxDur time.Duration
	phaseTotal := replaySum + bodySum + completeSum
	for _, p := range phases {
		if p.dur > maxDur {
			maxDur = p.dur
			maxPhase = p.name
		}
		pct := 0.0
		if phaseTotal > 0 {
			pct = float64(p.dur) / float64(phaseTotal) * 100
		}
		bar := strings.Repeat("#", int(pct/2))
		fmt.Printf("%-15s %6.1f%% %s\n", p.name+":", pct, bar)
	}
	if phaseTotal > 0 {
		fmt.Printf("\nBottleneck: %s (%.1f%% of accounted time)\n", maxPhase, float64(maxDur)/float64(phaseTotal)*100)
	}
}
