// Package template implements spec.md §4.D: the compiled instruction
// graph, its six-pass optimizer, the condition/view model glue, the
// mapper-output cache, and the parallel replay interpreter.
//
// Grounded in spec §9's explicit design-notes steer away from the
// original's virtual-dispatch + downcast-helper hierarchy
// (`as_issue_copy` etc.) towards a tagged variant with a single
// Execute(ctx) dispatch: idiomatic Go favors a closed interface and a
// type switch over a class hierarchy here.
package template

import (
	"context"
	"fmt"

	"github.com/adalundhe/retrace/core/forest"
	"github.com/adalundhe/retrace/core/traceid"
)

// InstrKind tags each instruction variant, per spec §3's tagged-union
// instruction set.
type InstrKind int

const (
	KindGetTermEvent InstrKind = iota
	KindCreateUserEvent
	KindTriggerEvent
	KindMergeEvent
	KindAssignFenceCompletion
	KindIssueCopy
	KindIssueFill
	KindIssueIndirect
	KindSetOpSyncEvent
	KindCompleteReplay
)

func (k InstrKind) String() string {
	switch k {
	case KindGetTermEvent:
		return "get_term_event"
	case KindCreateUserEvent:
		return "create_user_event"
	case KindTriggerEvent:
		return "trigger_event"
	case KindMergeEvent:
		return "merge_event"
	case KindAssignFenceCompletion:
		return "assign_fence_completion"
	case KindIssueCopy:
		return "issue_copy"
	case KindIssueFill:
		return "issue_fill"
	case KindIssueIndirect:
		return "issue_indirect"
	case KindSetOpSyncEvent:
		return "set_op_sync_event"
	case KindCompleteReplay:
		return "complete_replay"
	default:
		return "unknown"
	}
}

// EventArray is the per-replay array of bound event identifiers,
// indexed densely by traceid.EventSlot. Slice writers own disjoint
// slots by construction (spec §5), so Set never races another Set;
// each slot also carries a close-once channel so a reader in a
// different slice can wait for the one goroutine that owns the slot
// to produce it, rather than assuming memory visibility across
// goroutines for free.
type EventArray struct {
	slots []forest.EventID
	bound []bool
	ready []chan struct{}
}

// NewEventArray preallocates an array of n slots.
func NewEventArray(n int) *EventArray {
	ready := make([]chan struct{}, n)
	for i := range ready {
		ready[i] = make(chan struct{})
	}
	return &EventArray{slots: make([]forest.EventID, n), bound: make([]bool, n), ready: ready}
}

// Set binds slot to ev. Called exactly once per slot: by Initialize for
// the fence slot and user-event slots, otherwise by the single
// instruction that produces it. A second Set on a slot panics.
func (a *EventArray) Set(slot traceid.EventSlot, ev forest.EventID) {
	a.slots[slot] = ev
	a.bound[slot] = true
	close(a.ready[slot])
}

// Get returns the event bound to slot, and whether it has been bound
// yet. Reading an unbound slot is the fatal invariant violation spec
// §7 calls out ("slot read before written"). Get does not wait; use
// WaitBound first when the reader may run concurrently with the
// slot's producer.
func (a *EventArray) Get(slot traceid.EventSlot) (forest.EventID, bool) {
	if int(slot) >= len(a.slots) {
		return forest.EventID{}, false
	}
	return a.slots[slot], a.bound[slot]
}

// WaitBound blocks until slot has been written or ctx is done,
// establishing the happens-before edge a cross-slice read needs
// before calling Get (spec §5's parallel slices only avoid a lock
// because each slot has exactly one writer; readers still need to
// observe that write).
func (a *EventArray) WaitBound(ctx context.Context, slot traceid.EventSlot) error {
	if int(slot) >= len(a.ready) {
		return nil
	}
	select {
	case <-a.ready[slot]:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Len reports the slot count.
func (a *EventArray) Len() int { return len(a.slots) }

// Instruction is the common contract of every variant in the tagged
// union. Reads/Writes expose the slot-level dataflow edges the
// optimizer passes operate on; Execute performs the variant's actual
// effect against a bound EventArray during replay.
type Instruction interface {
	Kind() InstrKind
	Reads() []traceid.EventSlot
	Writes() []traceid.EventSlot
	Execute(ctx context.Context, rt forest.EventRuntime, fc forest.RegionForest, events *EventArray) error
}

func resolve(events *EventArray, slot traceid.EventSlot) (forest.EventID, error) {
	ev, ok := events.Get(slot)
	if !ok {
		return forest.EventID{}, fmt.Errorf("event slot %d read before written", slot)
	}
	return ev, nil
}

// GetTermEvent reserves a slot for an operation's termination event.
type GetTermEvent struct {
	Op   traceid.OperationHandle
	Term traceid.EventSlot
}

func (i *GetTermEvent) Kind() InstrKind            { return KindGetTermEvent }
func (i *GetTermEvent) Reads() []traceid.EventSlot  { return nil }
func (i *GetTermEvent) Writes() []traceid.EventSlot { return []traceid.EventSlot{i.Term} }
func (i *GetTermEvent) Execute(ctx context.Context, rt forest.EventRuntime, _ forest.RegionForest, events *EventArray) error {
	events.Set(i.Term, rt.GetTermEvent(i.Op))
	return nil
}

// CreateUserEvent reserves a slot written by a user event, triggered
// later by a matching TriggerEvent (spec invariant: exactly one of
// each per slot).
type CreateUserEvent struct {
	Slot traceid.EventSlot
}

func (i *CreateUserEvent) Kind() InstrKind            { return KindCreateUserEvent }
func (i *CreateUserEvent) Reads() []traceid.EventSlot  { return nil }
func (i *CreateUserEvent) Writes() []traceid.EventSlot { return []traceid.EventSlot{i.Slot} }
func (i *CreateUserEvent) Execute(ctx context.Context, rt forest.EventRuntime, _ forest.RegionForest, events *EventArray) error {
	events.Set(i.Slot, rt.CreateUserEvent())
	return nil
}

// TriggerEvent triggers the user event at User once Pre has occurred.
type TriggerEvent struct {
	User traceid.EventSlot
	Pre  traceid.EventSlot
}

func (i *TriggerEvent) Kind() InstrKind            { return KindTriggerEvent }
func (i *TriggerEvent) Reads() []traceid.EventSlot  { return []traceid.EventSlot{i.User, i.Pre} }
func (i *TriggerEvent) Writes() []traceid.EventSlot { return nil }
func (i *TriggerEvent) Execute(ctx context.Context, rt forest.EventRuntime, _ forest.RegionForest, events *EventArray) error {
	u, err := resolve(events, i.User)
	if err != nil {
		return err
	}
	e, err := resolve(events, i.Pre)
	if err != nil {
		return err
	}
	rt.TriggerEvent(u, e)
	return nil
}

// MergeEvent merges Ins into a single event written at Out.
type MergeEvent struct {
	Out traceid.EventSlot
	Ins []traceid.EventSlot
}

func (i *MergeEvent) Kind() InstrKind            { return KindMergeEvent }
func (i *MergeEvent) Reads() []traceid.EventSlot  { return i.Ins }
func (i *MergeEvent) Writes() []traceid.EventSlot { return []traceid.EventSlot{i.Out} }
func (i *MergeEvent) Execute(ctx context.Context, rt forest.EventRuntime, _ forest.RegionForest, events *EventArray) error {
	ins := make([]forest.EventID, 0, len(i.Ins))
	for _, slot := range i.Ins {
		ev, err := resolve(events, slot)
		if err != nil {
			return err
		}
		ins = append(ins, ev)
	}
	events.Set(i.Out, rt.MergeEvents(ins))
	return nil
}

// AssignFenceCompletion writes Slot with the current fence completion
// (slot 0). Appears at most once per replay prologue (spec invariant).
type AssignFenceCompletion struct {
	Slot traceid.EventSlot
}

func (i *AssignFenceCompletion) Kind() InstrKind { return KindAssignFenceCompletion }
func (i *AssignFenceCompletion) Reads() []traceid.EventSlot {
	return []traceid.EventSlot{traceid.FenceCompletionSlot}
}
func (i *AssignFenceCompletion) Writes() []traceid.EventSlot { return []traceid.EventSlot{i.Slot} }
func (i *AssignFenceCompletion) Execute(ctx context.Context, _ forest.EventRuntime, _ forest.RegionForest, events *EventArray) error {
	ev, err := resolve(events, traceid.FenceCompletionSlot)
	if err != nil {
		return err
	}
	events.Set(i.Slot, ev)
	return nil
}

// IssueCopy issues a copy through the region-tree forest.
type IssueCopy struct {
	Dst  traceid.EventSlot
	Expr forest.IndexSpaceExpression
	Spec forest.CopySpec
	Pre  traceid.EventSlot
}

func (i *IssueCopy) Kind() InstrKind            { return KindIssueCopy }
func (i *IssueCopy) Reads() []traceid.EventSlot  { return []traceid.EventSlot{i.Pre} }
func (i *IssueCopy) Writes() []traceid.EventSlot { return []traceid.EventSlot{i.Dst} }
func (i *IssueCopy) Execute(ctx context.Context, _ forest.EventRuntime, fc forest.RegionForest, events *EventArray) error {
	ev, err := fc.IssueCopy(ctx, i.Expr, i.Spec, i.Pre)
	if err != nil {
		return err
	}
	events.Set(i.Dst, ev)
	return nil
}

// IssueFill issues a fill through the region-tree forest.
type IssueFill struct {
	Dst  traceid.EventSlot
	Expr forest.IndexSpaceExpression
	Spec forest.FillSpec
	Pre  traceid.EventSlot
}

func (i *IssueFill) Kind() InstrKind            { return KindIssueFill }
func (i *IssueFill) Reads() []traceid.EventSlot  { return []traceid.EventSlot{i.Pre} }
func (i *IssueFill) Writes() []traceid.EventSlot { return []traceid.EventSlot{i.Dst} }
func (i *IssueFill) Execute(ctx context.Context, _ forest.EventRuntime, fc forest.RegionForest, events *EventArray) error {
	ev, err := fc.IssueFill(ctx, i.Expr, i.Spec, i.Pre)
	if err != nil {
		return err
	}
	events.Set(i.Dst, ev)
	return nil
}

// IssueIndirect issues a gather/scatter copy through the forest.
type IssueIndirect struct {
	Dst  traceid.EventSlot
	Expr forest.IndexSpaceExpression
	Spec forest.CopySpec
	Pre  traceid.EventSlot
}

func (i *IssueIndirect) Kind() InstrKind            { return KindIssueIndirect }
func (i *IssueIndirect) Reads() []traceid.EventSlot  { return []traceid.EventSlot{i.Pre} }
func (i *IssueIndirect) Writes() []traceid.EventSlot { return []traceid.EventSlot{i.Dst} }
func (i *IssueIndirect) Execute(ctx context.Context, _ forest.EventRuntime, fc forest.RegionForest, events *EventArray) error {
	ev, err := fc.IssueIndirect(ctx, i.Expr, i.Spec, i.Pre)
	if err != nil {
		return err
	}
	events.Set(i.Dst, ev)
	return nil
}

// SetOpSyncEvent pairs an operation with its sync precondition slot.
// Pure bookkeeping: it has no event-runtime effect of its own, but
// still participates in the slot dataflow graph as a reader so the
// optimizer never elides its precondition's producer.
type SetOpSyncEvent struct {
	Op   traceid.TraceLocalID
	Sync traceid.EventSlot
}

func (i *SetOpSyncEvent) Kind() InstrKind            { return KindSetOpSyncEvent }
func (i *SetOpSyncEvent) Reads() []traceid.EventSlot  { return []traceid.EventSlot{i.Sync} }
func (i *SetOpSyncEvent) Writes() []traceid.EventSlot { return nil }
func (i *SetOpSyncEvent) Execute(context.Context, forest.EventRuntime, forest.RegionForest, *EventArray) error {
	return nil
}

// CompleteReplay marks the completion event of a trace-local
// operation. Appears exactly once per trace-local id per template
// (spec invariant).
type CompleteReplay struct {
	Op   traceid.TraceLocalID
	Slot traceid.EventSlot
}

func (i *CompleteReplay) Kind() InstrKind            { return KindCompleteReplay }
func (i *CompleteReplay) Reads() []traceid.EventSlot  { return []traceid.EventSlot{i.Slot} }
func (i *CompleteReplay) Writes() []traceid.EventSlot { return nil }
func (i *CompleteReplay) Execute(context.Context, forest.EventRuntime, forest.RegionForest, *EventArray) error {
	return nil
}
