package logicaltrace

import (
	"fmt"

	"github.com/adalundhe/retrace/core/traceerr"
	"github.com/adalundhe/retrace/core/traceid"
)

// InternalOpKey identifies an internal operation (close, refinement,
// advance) for the purposes of internal_dependences, per spec §4.B.1
// and the §9 Open Question: keyed by (kind, canonical region path,
// field-mask fingerprint) rather than the runtime object identity the
// original source used, since a re-synthesized internal op that is
// structurally identical should still find its promoted dependences.
type InternalOpKey struct {
	Kind       traceid.OpKind
	RegionPath uint64
	MaskPrint  string
}

// NewInternalOpKey builds a key from a mask, computing its fingerprint.
func NewInternalOpKey(kind traceid.OpKind, regionPath uint64, mask traceid.FieldMask) InternalOpKey {
	return InternalOpKey{Kind: kind, RegionPath: regionPath, MaskPrint: mask.Fingerprint()}
}

// opInfo is the per-position metadata checked for divergence on
// replay: kind and region-requirement count must remain stable across
// replays of the same template (spec §8 universal invariant).
type opInfo struct {
	kind  traceid.OpKind
	count int
}

// DynamicTrace memoizes dependences accumulated by runtime dependence
// analysis rather than supplied by the application (spec §4.B
// "Dynamic trace"). Its first pass is LOGICAL_ONLY; it becomes fixed
// after the first full capture, after which subsequent invocations
// must match the captured op_info prefix or trigger trace-divergence.
type DynamicTrace struct {
	base

	id    uint64
	fixed bool

	opInfos      []opInfo
	replayCursor int

	// internalDependences holds, for each internal-op key, the
	// dependence records that should be promoted onto whichever real
	// operation later produces the same edge (spec §4.B.1).
	internalDependences map[InternalOpKey][]traceid.DependenceRecord
}

// NewDynamicTrace constructs an empty dynamic trace with the given id.
func NewDynamicTrace(id uint64) *DynamicTrace {
	return &DynamicTrace{
		base:                newBase(),
		id:                  id,
		internalDependences: make(map[InternalOpKey][]traceid.DependenceRecord),
	}
}

func (t *DynamicTrace) ID() uint64 { return t.id }

func (t *DynamicTrace) IsStatic() bool  { return false }
func (t *DynamicTrace) IsDynamic() bool { return true }
func (t *DynamicTrace) IsFixed() bool   { return t.fixed }

// HandlesRegionTree: a dynamic trace handles every region tree it
// observes, so this is always true.
func (t *DynamicTrace) HandlesRegionTree(uint64) bool { return true }

// SetStateReplay resets the replay cursor, mirroring StaticTrace.
func (t *DynamicTrace) SetStateReplay() {
	t.replayCursor = 0
	t.base.SetStateReplay()
}

// RegisterOperation appends (op, gen) during capture (or before the
// trace is fixed); during replay it strictly matches kind and region
// count against the captured op_info, per spec §4.B and the universal
// invariant in spec §8.
func (t *DynamicTrace) RegisterOperation(op traceid.OperationHandle) error {
	if t.fixed && t.IsReplaying() {
		pos := t.replayCursor
		if pos >= len(t.opInfos) {
			return &traceerr.DivergenceError{OpIndex: pos, Reason: "replay produced more operations than were captured"}
		}
		captured := t.opInfos[pos]
		if captured.kind != op.Kind || captured.count != op.ReqCount {
			return &traceerr.DivergenceError{
				OpIndex: pos,
				Reason: fmt.Sprintf("captured (kind=%s,count=%d) does not match replayed (kind=%s,count=%d)",
					captured.kind, captured.count, op.Kind, op.ReqCount),
			}
		}
		t.replayCursor++
		return nil
	}

	pos := t.appendOperation(op)
	t.opInfos = append(t.opInfos, opInfo{kind: op.Kind, count: op.ReqCount})

	// Promote any internal dependences whose key has this operation's
	// Kind (the key's RegionPath and MaskPrint take no part in the
	// match, and the records stay in place, so every later operation of
	// that Kind receives them too), covering the case where an internal op
	// that mediated a dependence during the original capture is
	// elided on a later (re-)capture before the trace is fixed, or
	// on the very first capture where the elision already happened.
	for key, records := range t.internalDependences {
		if key.Kind != op.Kind {
			continue
		}
		for _, rec := range records {
			t.ops[pos].dependences = traceid.MergeDependenceRecords(t.ops[pos].dependences, rec)
			delete(t.frontier, rec.OpIndex)
		}
	}
	return nil
}

func (t *DynamicTrace) RecordDependence(targetPos int, dtype traceid.DependenceType) {
	if t.IsReplaying() || len(t.ops) == 0 {
		return
	}
	source := len(t.ops) - 1
	t.recordDependenceOnto(source, targetPos, traceid.DependenceRecord{
		OpIndex: targetPos, PrevReqIdx: -1, NextReqIdx: -1, DType: dtype,
	})
}

func (t *DynamicTrace) RecordRegionDependence(targetPos, targetReqIdx, sourceReqIdx int, dtype traceid.DependenceType, validates bool, mask traceid.FieldMask) {
	if t.IsReplaying() || len(t.ops) == 0 {
		return
	}
	source := len(t.ops) - 1
	t.recordDependenceOnto(source, targetPos, traceid.DependenceRecord{
		OpIndex: targetPos, PrevReqIdx: targetReqIdx, NextReqIdx: sourceReqIdx,
		Validates: validates, DType: dtype, Mask: mask,
	})
}

func (t *DynamicTrace) RecordAliasedChildren(reqIndex, depth int, mask traceid.FieldMask) {
	if t.IsReplaying() || len(t.ops) == 0 {
		return
	}
	cur := len(t.ops) - 1
	t.ops[cur].aliased = append(t.ops[cur].aliased, traceid.AliasChildren{
		ReqIndex: reqIndex, Depth: depth, Mask: mask,
	})
}

// RecordInternalDependence remembers that internal op `key` mediates a
// dependence from the operation at targetPos onto every real operation
// later registered with the same Kind as key (RegionPath and MaskPrint
// are not compared), per spec §4.B.1: "if a future run generates no I, correctness is
// preserved."
func (t *DynamicTrace) RecordInternalDependence(key InternalOpKey, targetPos int, dtype traceid.DependenceType, mask traceid.FieldMask) {
	rec := traceid.DependenceRecord{OpIndex: targetPos, PrevReqIdx: -1, NextReqIdx: -1, DType: dtype, Mask: mask}
	t.internalDependences[key] = traceid.MergeDependenceRecords(t.internalDependences[key], rec)
}

// EndTraceCapture finalizes the dynamic trace's operation list,
// called by TraceCaptureOp (core/traceops) once the captured window
// ends.
func (t *DynamicTrace) EndTraceCapture() {
	t.fixed = true
}

// FixTrace is an alias matching spec.md's naming for the same
// operation, kept distinct from EndTraceCapture for readability at
// call sites that talk about "fixing" rather than "ending capture".
func (t *DynamicTrace) FixTrace() {
	t.EndTraceCapture()
}

// Fix satisfies the same fixer interface StaticTrace.Fix satisfies, so
// core/traceops.TraceCaptureOp can finalize either flavor of trace
// without a type switch.
func (t *DynamicTrace) Fix() {
	t.EndTraceCapture()
}
