// Package traceid holds the data-model primitives shared by every
// component of the trace/replay subsystem: operation handles, field
// masks, dependence records, alias-children entries, trace-local ids
// and event slots. Nothing in this package owns a lock; all types are
// plain values or thin wrappers meant to be copied freely.
package traceid

import "fmt"

// OpKind classifies an operation handle for divergence checking during
// replay (register_operation strict match in spec §4.B).
type OpKind int

const (
	OpKindUnknown OpKind = iota
	OpKindTask
	OpKindCopy
	OpKindFill
	OpKindFence
	OpKindInternal
	OpKindMapping
)

func (k OpKind) String() string {
	switch k {
	case OpKindTask:
		return "task"
	case OpKindCopy:
		return "copy"
	case OpKindFill:
		return "fill"
	case OpKindFence:
		return "fence"
	case OpKindInternal:
		return "internal"
	case OpKindMapping:
		return "mapping"
	default:
		return "unknown"
	}
}

// Generation disambiguates reuse of an operation handle slot.
type Generation uint64

// OperationHandle is an opaque identifier for a runtime operation, per
// spec §3 "Operation handle". It is qualified by a monotonically
// increasing generation to disambiguate object reuse.
type OperationHandle struct {
	ID         uint64
	Gen        Generation
	Kind       OpKind
	ReqCount   int
}

// String renders a debug-friendly identity, not used for equality.
func (h OperationHandle) String() string {
	return fmt.Sprintf("op#%d/%d[%s,reqs=%d]", h.ID, h.Gen, h.Kind, h.ReqCount)
}

// Matches reports whether two handles describe the same operation for
// the purposes of replay divergence checking: same kind and region
// requirement count. Generation and ID are allowed to differ, since a
// replayed iteration produces a fresh handle every time.
func (h OperationHandle) Matches(other OperationHandle) bool {
	return h.Kind == other.Kind && h.ReqCount == other.ReqCount
}

// TraceLocalID is a template-local identity for an operation reached
// during recording, stable across replays even though the underlying
// operation handle changes each iteration. Point distinguishes leaf
// points of index-space launches (spec §3 "Trace local id").
type TraceLocalID struct {
	OpIndex int
	Point   uint64
}

func (t TraceLocalID) String() string {
	return fmt.Sprintf("tlid(%d,%d)", t.OpIndex, t.Point)
}

// EventSlot is an unsigned index into a per-template event array.
// Slot 0 is reserved for fence completion, re-bound each replay.
type EventSlot uint32

// FenceCompletionSlot is the reserved slot 0.
const FenceCompletionSlot EventSlot = 0

// NoSlot marks "no precondition"/"no event" where an instruction field
// is optional.
const NoSlot EventSlot = ^EventSlot(0)
