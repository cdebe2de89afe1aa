package logicaltrace

import (
	"github.com/adalundhe/retrace/core/traceid"
)

// opEntry is one position in the trace's operation list: the captured
// handle plus the dependence records and alias-children entries
// accumulated against it.
type opEntry struct {
	handle        traceid.OperationHandle
	dependences   []traceid.DependenceRecord
	aliased       []traceid.AliasChildren
}

// LogicalTrace is the common contract of spec.md §4.B, implemented by
// StaticTrace and DynamicTrace. It has no internal lock: spec §5
// states a logical trace is serialized by the outer operation
// pipeline, one analysis thread at a time per context.
type LogicalTrace interface {
	// IsStatic / IsDynamic distinguish the two flavors without a type
	// assertion at every call site.
	IsStatic() bool
	IsDynamic() bool

	// IsFixed reports whether the trace has completed its first full
	// capture and now requires prefix matching.
	IsFixed() bool

	// HandlesRegionTree reports whether this trace was constructed to
	// cover the given region tree (meaningful for StaticTrace; a
	// DynamicTrace handles every tree it observes).
	HandlesRegionTree(tree uint64) bool

	// RegisterOperation appends (op, gen) to the operation list during
	// capture, or strictly matches it against op_info[p] during
	// replay, returning a traceerr.DivergenceError on mismatch.
	RegisterOperation(op traceid.OperationHandle) error

	// RecordDependence appends a non-region-specific dependence from
	// source (the operation just registered) onto target's position.
	// No-op during replay.
	RecordDependence(targetPos int, dtype traceid.DependenceType)

	// RecordRegionDependence appends a region-specific dependence. No-
	// op during replay.
	RecordRegionDependence(targetPos, targetReqIdx, sourceReqIdx int, dtype traceid.DependenceType, validates bool, mask traceid.FieldMask)

	// RecordAliasedChildren stores an AliasChildren entry against the
	// operation currently being registered; on replay, the stored
	// entries are re-applied to the operation's region-tree path
	// vector by the caller.
	RecordAliasedChildren(reqIndex, depth int, mask traceid.FieldMask)

	// AliasedChildren returns the stored entries for the operation at
	// pos, used to replay tree traversals that split differently
	// across runs.
	AliasedChildren(pos int) []traceid.AliasChildren

	// Dependences returns the dependence list recorded for the
	// operation at pos.
	Dependences(pos int) []traceid.DependenceRecord

	// EndTraceExecution walks the frontier set of last-writer
	// operations and registers each as a dependence on fence, during
	// replay.
	EndTraceExecution(fencePos int)

	// State machine controls, spec §4.A.
	State() State
	SetStateRecord()
	SetStateReplay()
	IsRecording() bool
	IsReplaying() bool

	// Blocking-call sticky flag.
	ClearBlockingCall()
	RecordBlockingCall()
	HasBlockingCall() bool

	// OperationCount returns the number of operations registered so
	// far (or, once fixed, the number captured).
	OperationCount() int
}
