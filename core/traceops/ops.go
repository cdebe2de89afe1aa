// Package traceops implements spec.md §4.C: the five fence-shaped
// trace-control operations that drive the LOGICAL_ONLY /
// PHYSICAL_RECORD / PHYSICAL_REPLAY state machine of core/tracecache
// and core/logicaltrace.
//
// Grounded in legion_trace.h's TraceBeginOp/TraceReplayOp/
// TraceCaptureOp/TraceCompleteOp/TraceSummaryOp fence-operation shape,
// translated to a small Op interface so a scheduler (core/forest,
// cmd/tracectl) can drive them without depending on their concrete
// types.
package traceops

import (
	"context"
	"fmt"

	"github.com/adalundhe/retrace/core/logicaltrace"
	"github.com/adalundhe/retrace/core/tracecache"
	"github.com/adalundhe/retrace/core/traceerr"
	"github.com/adalundhe/retrace/core/traceevents"
)

// OpKind enumerates the five trace-control operation shapes.
type OpKind int

const (
	OpKindBegin OpKind = iota
	OpKindReplay
	OpKindCaptureComplete
	OpKindComplete
	OpKindSummary
)

func (k OpKind) String() string {
	switch k {
	case OpKindBegin:
		return "trace-begin"
	case OpKindReplay:
		return "trace-replay"
	case OpKindCaptureComplete:
		return "trace-capture-complete"
	case OpKindComplete:
		return "trace-complete"
	case OpKindSummary:
		return "trace-summary"
	default:
		return "unknown"
	}
}

// PhysicalTrace is the narrow slice of core/template.PhysicalTrace
// behavior trace-control operations need to drive. Defined locally
// rather than imported so core/traceops has no dependency on
// core/template; core/template.PhysicalTrace satisfies this
// structurally ("accept interfaces, return structs").
type PhysicalTrace interface {
	// CheckTemplatePreconditions reports whether a previously recorded
	// template's preconditions are satisfied by current runtime state.
	CheckTemplatePreconditions(ctx context.Context) (bool, error)

	// FixTrace is called by TraceCaptureOp once the logical trace is
	// fixed, mirroring PhysicalTrace::fix_trace. The core/template
	// implementation does nothing here and finalizes the template in
	// Finalize.
	FixTrace() error

	// Finalize runs the four-step finalization spec §4.D.2 describes
	// for a recorded (non-replayed) iteration.
	Finalize(ctx context.Context, hasBlockingCall bool) error

	// CompleteReplayIteration collects the current template's
	// completion event and makes it the new fence, for a replayed
	// iteration.
	CompleteReplayIteration(ctx context.Context) error
}

// fixer is satisfied by both logicaltrace.StaticTrace and
// logicaltrace.DynamicTrace.
type fixer interface {
	Fix()
}

// Deps bundles everything an Op.Apply needs. Physical and Events may
// be nil: a trace that has no physical component yet (still
// LOGICAL_ONLY) legitimately has no PhysicalTrace to call into, and
// event publication is diagnostic, not load-bearing.
type Deps struct {
	Cache     *tracecache.TraceCache
	Sequencer *Sequencer
	Physical  PhysicalTrace
	Events    *traceevents.Bus
}

// Op is the common contract of the five trace-control operations.
type Op interface {
	Kind() OpKind
	Context() tracecache.ContextID
	Trace() tracecache.TraceID
	Apply(ctx context.Context, deps Deps) error
}

func (d Deps) publish(kind traceevents.Kind, traceID tracecache.TraceID, data map[string]any) {
	if d.Events == nil {
		return
	}
	d.Events.Publish(traceevents.Event{Kind: kind, TraceID: uint64(traceID), Data: data})
}

func lookupOrFatal(cache *tracecache.TraceCache, ctxID tracecache.ContextID, id tracecache.TraceID, op string) (logicaltrace.LogicalTrace, error) {
	trace, ok := cache.Lookup(ctxID, id)
	if !ok {
		traceerr.Panic(fmt.Sprintf("%s: no active trace %d in context %d", op, id, ctxID))
	}
	return trace, nil
}

// TraceBeginOp establishes the boundary for subsequent event slots and
// creates the logical trace on first use.
type TraceBeginOp struct {
	Ctx      tracecache.ContextID
	TraceID  tracecache.TraceID
	NewTrace func() logicaltrace.LogicalTrace
}

func (op *TraceBeginOp) Kind() OpKind                      { return OpKindBegin }
func (op *TraceBeginOp) Context() tracecache.ContextID     { return op.Ctx }
func (op *TraceBeginOp) Trace() tracecache.TraceID         { return op.TraceID }

func (op *TraceBeginOp) Apply(ctx context.Context, deps Deps) error {
	deps.Sequencer.checkAndAdvance(op.Ctx, op.TraceID, op.Kind())
	deps.Cache.Begin(op.Ctx, op.TraceID, op.NewTrace)
	deps.publish(traceevents.KindTraceBegin, op.TraceID, nil)
	return nil
}

// TraceReplayOp is inserted at each iteration's start. It decides,
// based on cached-template preconditions, whether the trace enters
// PHYSICAL_REPLAY, PHYSICAL_RECORD, or remains LOGICAL_ONLY.
type TraceReplayOp struct {
	Ctx              tracecache.ContextID
	TraceID          tracecache.TraceID
	TracingRequested bool
}

func (op *TraceReplayOp) Kind() OpKind                  { return OpKindReplay }
func (op *TraceReplayOp) Context() tracecache.ContextID { return op.Ctx }
func (op *TraceReplayOp) Trace() tracecache.TraceID     { return op.TraceID }

func (op *TraceReplayOp) Apply(ctx context.Context, deps Deps) error {
	deps.Sequencer.checkAndAdvance(op.Ctx, op.TraceID, op.Kind())

	trace, err := lookupOrFatal(deps.Cache, op.Ctx, op.TraceID, "trace-replay")
	if err != nil {
		return err
	}

	if !op.TracingRequested {
		return nil
	}

	invalidated := deps.Cache.ConsumeInvalidation(op.Ctx, op.TraceID)
	if !invalidated && deps.Physical != nil {
		satisfied, err := deps.Physical.CheckTemplatePreconditions(ctx)
		if err != nil {
			return err
		}
		if satisfied {
			trace.SetStateReplay()
			deps.publish(traceevents.KindReplayStarted, op.TraceID, nil)
			return nil
		}
	}

	trace.SetStateRecord()
	deps.publish(traceevents.KindTraceReplay, op.TraceID, nil)
	return nil
}

// TraceCaptureOp is emitted by the application when the captured
// window ends: it finalizes the dynamic or static trace's operation
// list, then fixes any under-construction template.
type TraceCaptureOp struct {
	Ctx     tracecache.ContextID
	TraceID tracecache.TraceID
}

func (op *TraceCaptureOp) Kind() OpKind                  { return OpKindCaptureComplete }
func (op *TraceCaptureOp) Context() tracecache.ContextID { return op.Ctx }
func (op *TraceCaptureOp) Trace() tracecache.TraceID     { return op.TraceID }

func (op *TraceCaptureOp) Apply(ctx context.Context, deps Deps) error {
	deps.Sequencer.checkAndAdvance(op.Ctx, op.TraceID, op.Kind())

	trace, err := lookupOrFatal(deps.Cache, op.Ctx, op.TraceID, "trace-capture-complete")
	if err != nil {
		return err
	}
	if f, ok := trace.(fixer); ok {
		f.Fix()
	}

	if deps.Physical != nil {
		if err := deps.Physical.FixTrace(); err != nil {
			return err
		}
	}

	trace.SetStateRecord()
	deps.publish(traceevents.KindTraceCaptureComplete, op.TraceID, nil)
	return nil
}

// TraceCompleteOp is emitted at an iteration boundary. On a replayed
// iteration it collects the template's completion event and becomes
// the new current fence; on a recorded iteration it finalizes the
// template.
type TraceCompleteOp struct {
	Ctx         tracecache.ContextID
	TraceID     tracecache.TraceID
	FencePos    int
	HasBlocking bool
}

func (op *TraceCompleteOp) Kind() OpKind                  { return OpKindComplete }
func (op *TraceCompleteOp) Context() tracecache.ContextID { return op.Ctx }
func (op *TraceCompleteOp) Trace() tracecache.TraceID     { return op.TraceID }

func (op *TraceCompleteOp) Apply(ctx context.Context, deps Deps) error {
	deps.Sequencer.checkAndAdvance(op.Ctx, op.TraceID, op.Kind())

	trace, err := lookupOrFatal(deps.Cache, op.Ctx, op.TraceID, "trace-complete")
	if err != nil {
		return err
	}

	if trace.IsReplaying() {
		trace.EndTraceExecution(op.FencePos)
		if deps.Physical != nil {
			if err := deps.Physical.CompleteReplayIteration(ctx); err != nil {
				return err
			}
		}
		deps.publish(traceevents.KindReplayCompleted, op.TraceID, nil)
		return nil
	}

	if trace.HasBlockingCall() || op.HasBlocking {
		trace.RecordBlockingCall()
	}
	if deps.Physical != nil {
		if err := deps.Physical.Finalize(ctx, trace.HasBlockingCall()); err != nil {
			return err
		}
	}
	trace.ClearBlockingCall()
	deps.publish(traceevents.KindTraceComplete, op.TraceID, nil)
	return nil
}

// TraceSummaryOp is produced once per (region-requirement,
// instance-set) pair a replayed template recorded, so downstream
// operations observe the same post-state they would have seen without
// replay.
type TraceSummaryOp struct {
	Ctx          tracecache.ContextID
	TraceID      tracecache.TraceID
	RegionReqIdx int
	InstanceSet  uint64
}

func (op *TraceSummaryOp) Kind() OpKind                  { return OpKindSummary }
func (op *TraceSummaryOp) Context() tracecache.ContextID { return op.Ctx }
func (op *TraceSummaryOp) Trace() tracecache.TraceID     { return op.TraceID }

func (op *TraceSummaryOp) Apply(ctx context.Context, deps Deps) error {
	deps.Sequencer.checkAndAdvance(op.Ctx, op.TraceID, op.Kind())

	if _, err := lookupOrFatal(deps.Cache, op.Ctx, op.TraceID, "trace-summary"); err != nil {
		return err
	}

	deps.publish(traceevents.KindTraceSummary, op.TraceID, map[string]any{
		"region_req":   op.RegionReqIdx,
		"instance_set": op.InstanceSet,
	})
	return nil
}

// DestroyTrace removes (ctx, id) from the cache and drops its
// sequencing state, per spec.md's "destroyed when its owning context
// ends" lifecycle. This isn't one of the five fence-shaped
// operations, since nothing downstream of it waits on an ordering
// invariant, but it still needs to clear the Sequencer's state so a
// reused trace id starts from seqUnstarted rather than wherever the
// destroyed trace left off.
func DestroyTrace(deps Deps, ctx tracecache.ContextID, id tracecache.TraceID) {
	deps.Cache.Destroy(ctx, id)
	deps.Sequencer.reset(ctx, id)
}
