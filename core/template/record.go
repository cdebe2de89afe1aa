package template

import (
	"github.com/adalundhe/retrace/core/condition"
	"github.com/adalundhe/retrace/core/forest"
	"github.com/adalundhe/retrace/core/traceid"
)

// ConvertEvent assigns a fresh slot to ev in first-seen order, or
// returns the existing one, per spec §4.D.1 "convert_event(e)". Must
// be called with t.mu held.
func (t *Template) convertEvent(ev forest.EventID) traceid.EventSlot {
	if slot, ok := t.eventMap[ev]; ok {
		return slot
	}
	slot := traceid.EventSlot(t.slotCount)
	t.slotCount++
	t.eventMap[ev] = slot
	return slot
}

// FindEvent returns the slot already assigned to ev, per spec §4.D.1
// "find_event(e)".
func (t *Template) FindEvent(ev forest.EventID) (traceid.EventSlot, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	slot, ok := t.eventMap[ev]
	return slot, ok
}

// reserveSlot mints a brand new slot not tied to any previously
// observed event identity (used for instructions whose output event
// doesn't exist until replay creates it, e.g. CreateUserEvent).
func (t *Template) reserveSlot() traceid.EventSlot {
	slot := traceid.EventSlot(t.slotCount)
	t.slotCount++
	return slot
}

// RecordGetTermEvent reserves a slot for op's termination event.
func (t *Template) RecordGetTermEvent(op traceid.OperationHandle) traceid.EventSlot {
	t.mu.Lock()
	defer t.mu.Unlock()
	slot := t.reserveSlot()
	t.instructions = append(t.instructions, &GetTermEvent{Op: op, Term: slot})
	return slot
}

// RecordCreateApUserEvent reserves a user-event slot, tracked so
// Initialize knows to mint a fresh user event there every replay. The
// slot has no producing instruction in the stream: like the fence
// slot, it's bound externally before a replay iteration's instructions
// run, not computed by one of them.
func (t *Template) RecordCreateApUserEvent() traceid.EventSlot {
	t.mu.Lock()
	defer t.mu.Unlock()
	slot := t.reserveSlot()
	t.userEventSlots[slot] = struct{}{}
	return slot
}

// RecordTriggerEvent pairs a previously created user-event slot with
// its trigger precondition.
func (t *Template) RecordTriggerEvent(user, pre traceid.EventSlot) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.instructions = append(t.instructions, &TriggerEvent{User: user, Pre: pre})
}

// RecordMergeEvents emits a MergeEvent over ins, reserving a fresh
// output slot.
func (t *Template) RecordMergeEvents(ins []traceid.EventSlot) traceid.EventSlot {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := t.reserveSlot()
	cp := append([]traceid.EventSlot(nil), ins...)
	t.instructions = append(t.instructions, &MergeEvent{Out: out, Ins: cp})
	return out
}

// RecordIssueCopy emits an IssueCopy instruction and accounts for the
// view touches it implies in the view-use log consumed by
// generateConditions.
func (t *Template) RecordIssueCopy(expr forest.IndexSpaceExpression, spec forest.CopySpec, pre traceid.EventSlot, srcEq, dstEq condition.EquivalenceSetID, srcMask, dstMask traceid.FieldMask) traceid.EventSlot {
	t.mu.Lock()
	defer t.mu.Unlock()
	dst := t.reserveSlot()
	t.instructions = append(t.instructions, &IssueCopy{Dst: dst, Expr: expr, Spec: spec, Pre: pre})
	t.viewUsers = append(t.viewUsers,
		viewUse{view: spec.SrcView, eq: srcEq, mask: srcMask, write: false},
		viewUse{view: spec.DstView, eq: dstEq, mask: dstMask, write: true, reduction: spec.Reduction},
	)
	return dst
}

// RecordIssueFill emits an IssueFill instruction.
func (t *Template) RecordIssueFill(expr forest.IndexSpaceExpression, spec forest.FillSpec, pre traceid.EventSlot, dstEq condition.EquivalenceSetID, dstMask traceid.FieldMask) traceid.EventSlot {
	t.mu.Lock()
	defer t.mu.Unlock()
	dst := t.reserveSlot()
	t.instructions = append(t.instructions, &IssueFill{Dst: dst, Expr: expr, Spec: spec, Pre: pre})
	t.viewUsers = append(t.viewUsers, viewUse{view: spec.DstView, eq: dstEq, mask: dstMask, write: true})
	t.recordFillViewLocked(spec.DstView, dstMask)
	return dst
}

// RecordIssueIndirect emits an IssueIndirect instruction.
func (t *Template) RecordIssueIndirect(expr forest.IndexSpaceExpression, spec forest.CopySpec, pre traceid.EventSlot, srcEq, dstEq condition.EquivalenceSetID, srcMask, dstMask traceid.FieldMask) traceid.EventSlot {
	t.mu.Lock()
	defer t.mu.Unlock()
	dst := t.reserveSlot()
	t.instructions = append(t.instructions, &IssueIndirect{Dst: dst, Expr: expr, Spec: spec, Pre: pre})
	t.viewUsers = append(t.viewUsers,
		viewUse{view: spec.SrcView, eq: srcEq, mask: srcMask, write: false},
		viewUse{view: spec.DstView, eq: dstEq, mask: dstMask, write: true, reduction: spec.Reduction},
	)
	return dst
}

// RecordSetOpSyncEvent pairs op with its sync precondition slot.
func (t *Template) RecordSetOpSyncEvent(op traceid.TraceLocalID, sync traceid.EventSlot) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.instructions = append(t.instructions, &SetOpSyncEvent{Op: op, Sync: sync})
}

// RecordCompleteReplay marks op's completion event as slot.
func (t *Template) RecordCompleteReplay(op traceid.TraceLocalID, slot traceid.EventSlot) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.instructions = append(t.instructions, &CompleteReplay{Op: op, Slot: slot})
}

// RecordMapperOutput freezes a mapper decision into the mapper-output
// cache, keyed by trace-local id (spec §4.D.1 / §4.D.5).
func (t *Template) RecordMapperOutput(loc traceid.TraceLocalID, out forest.MapTaskOutput) {
	t.mapperCache.Put(loc, out)
}

// GetMapperOutput short-circuits the mapper during replay, per spec
// §4.D.5.
func (t *Template) GetMapperOutput(loc traceid.TraceLocalID) (forest.MapTaskOutput, bool) {
	return t.mapperCache.Get(loc)
}

// RecordOpView records a read or write touch of (view, eq, mask) by
// the operation currently being recorded, feeding generateConditions.
func (t *Template) RecordOpView(v condition.View, eq condition.EquivalenceSetID, mask traceid.FieldMask, write bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.viewUsers = append(t.viewUsers, viewUse{view: v, eq: eq, mask: mask, write: write})
}

// RecordFillView records a fill's destination view touch directly
// (used when a fill is issued outside RecordIssueFill's bookkeeping,
// e.g. a fill folded in by the optimizer).
func (t *Template) RecordFillView(v condition.View, mask traceid.FieldMask) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.recordFillViewLocked(v, mask)
}

// recordFillViewLocked tracks a view's fill-mask footprint the same
// way generateConditionsLocked tracks pre/post: preFillViews is the
// mask the view's first fill needed, postFillViews accumulates every
// fill touch across the whole recording. checkReplayableLocked rejects
// a template whose fill footprint grew past what the first fill
// covered, the same non-replayable shape as the pre/post check on
// ordinary view touches. Must be called with t.mu held.
func (t *Template) recordFillViewLocked(v condition.View, mask traceid.FieldMask) {
	if _, ok := t.preFillViews[v]; !ok {
		t.preFillViews[v] = mask
	}
	t.postFillViews[v] = t.postFillViews[v].Or(mask)
}

// RecordSummaryInfo records one (region-requirement, instance-set)
// pair the template must re-announce via a summary op on replay.
func (t *Template) RecordSummaryInfo(regionReqIdx int, instanceSet uint64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.summaryInfo = append(t.summaryInfo, SummaryEntry{RegionReqIdx: regionReqIdx, InstanceSet: instanceSet})
}

// RecordOutstandingGCEvent tracks a slot whose event must remain live
// until a garbage-collection epoch passes, per spec §4.D.1
// record_outstanding_gc_event.
func (t *Template) RecordOutstandingGCEvent(slot traceid.EventSlot) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.outstandingGCSlots = append(t.outstandingGCSlots, slot)
}
