package logicaltrace

import (
	"fmt"

	"github.com/adalundhe/retrace/core/traceerr"
	"github.com/adalundhe/retrace/core/traceid"
)

// StaticDependence is what the application supplies ahead of time for
// a static trace: "n operations back" rather than an absolute
// position, since the absolute position isn't known until the trace
// has actually grown that far (spec §9 "Static-dependence translation").
type StaticDependence struct {
	PositionsBack int
	PrevReqIdx    int
	NextReqIdx    int
	Validates     bool
	DType         traceid.DependenceType
	Mask          traceid.FieldMask
}

// StaticTrace is a trace where the application supplies the full
// dependence list per operation up front (spec §4.B "Static trace").
// It only handles the region trees it was constructed over.
type StaticTrace struct {
	base

	trees map[uint64]struct{}

	// staticDeps holds the application-supplied list per registered
	// operation, indexed in registration order.
	staticDeps [][]StaticDependence

	// translated caches the StaticDependence -> DependenceRecord
	// translation per (op position, dependence index), computed lazily
	// on first access since PositionsBack can't be resolved to an
	// absolute index until the referenced operation has actually been
	// registered.
	translated map[int][]traceid.DependenceRecord

	fixed        bool
	replayCursor int
}

// NewStaticTrace constructs a StaticTrace scoped to the given region
// trees.
func NewStaticTrace(trees []uint64) *StaticTrace {
	treeSet := make(map[uint64]struct{}, len(trees))
	for _, t := range trees {
		treeSet[t] = struct{}{}
	}
	return &StaticTrace{
		base:       newBase(),
		trees:      treeSet,
		translated: make(map[int][]traceid.DependenceRecord),
	}
}

func (t *StaticTrace) IsStatic() bool  { return true }
func (t *StaticTrace) IsDynamic() bool { return false }
func (t *StaticTrace) IsFixed() bool   { return t.fixed }

func (t *StaticTrace) HandlesRegionTree(tree uint64) bool {
	_, ok := t.trees[tree]
	return ok
}

// SetStaticDependences registers the application-supplied dependence
// list for the operation about to be registered at the next position.
// Must be called before RegisterOperation for that operation.
func (t *StaticTrace) SetStaticDependences(deps []StaticDependence) {
	t.staticDeps = append(t.staticDeps, deps)
}

// RegisterOperation appends during capture, or strictly matches
// op_info during replay.
func (t *StaticTrace) RegisterOperation(op traceid.OperationHandle) error {
	if t.IsReplaying() {
		pos := t.replayCursor
		if pos >= len(t.ops) {
			return &traceerr.DivergenceError{OpIndex: pos, Reason: "replay produced more operations than were captured"}
		}
		captured := t.ops[pos].handle
		if !captured.Matches(op) {
			return &traceerr.DivergenceError{
				OpIndex: pos,
				Reason:  fmt.Sprintf("captured %s does not match replayed %s", captured, op),
			}
		}
		t.replayCursor++
		t.translateIfNeeded(pos)
		return nil
	}

	pos := t.appendOperation(op)
	if pos < len(t.staticDeps) {
		t.translateIfNeeded(pos)
	}
	return nil
}

// translateIfNeeded lazily resolves StaticDependence.PositionsBack into
// absolute DependenceRecord entries the first time position pos is
// accessed, per spec §9.
func (t *StaticTrace) translateIfNeeded(pos int) {
	if _, ok := t.translated[pos]; ok {
		return
	}
	if pos >= len(t.staticDeps) {
		t.translated[pos] = nil
		return
	}
	var records []traceid.DependenceRecord
	for _, dep := range t.staticDeps[pos] {
		targetPos := pos - dep.PositionsBack
		if targetPos < 0 {
			continue
		}
		rec := traceid.DependenceRecord{
			OpIndex:    targetPos,
			PrevReqIdx: dep.PrevReqIdx,
			NextReqIdx: dep.NextReqIdx,
			Validates:  dep.Validates,
			DType:      dep.DType,
			Mask:       dep.Mask,
		}
		records = traceid.MergeDependenceRecords(records, rec)
	}
	t.translated[pos] = records
	t.ops[pos].dependences = records
	for _, rec := range records {
		delete(t.frontier, rec.OpIndex)
	}
}

func (t *StaticTrace) RecordDependence(targetPos int, dtype traceid.DependenceType) {
	if t.IsReplaying() {
		return
	}
	source := len(t.ops) - 1
	t.recordDependenceOnto(source, targetPos, traceid.DependenceRecord{
		OpIndex: targetPos, PrevReqIdx: -1, NextReqIdx: -1, DType: dtype,
	})
}

func (t *StaticTrace) RecordRegionDependence(targetPos, targetReqIdx, sourceReqIdx int, dtype traceid.DependenceType, validates bool, mask traceid.FieldMask) {
	if t.IsReplaying() {
		return
	}
	source := len(t.ops) - 1
	t.recordDependenceOnto(source, targetPos, traceid.DependenceRecord{
		OpIndex: targetPos, PrevReqIdx: targetReqIdx, NextReqIdx: sourceReqIdx,
		Validates: validates, DType: dtype, Mask: mask,
	})
}

func (t *StaticTrace) RecordAliasedChildren(reqIndex, depth int, mask traceid.FieldMask) {
	if t.IsReplaying() || len(t.ops) == 0 {
		return
	}
	cur := len(t.ops) - 1
	t.ops[cur].aliased = append(t.ops[cur].aliased, traceid.AliasChildren{
		ReqIndex: reqIndex, Depth: depth, Mask: mask,
	})
}

// Fix marks the static trace as no longer accepting new operations,
// called once by a TraceCaptureOp (core/traceops).
func (t *StaticTrace) Fix() {
	t.fixed = true
}

// SetStateReplay resets the replay cursor in addition to the base
// state transition, so each new replay iteration re-walks op_info from
// the start.
func (t *StaticTrace) SetStateReplay() {
	t.replayCursor = 0
	t.base.SetStateReplay()
}
