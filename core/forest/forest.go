// Package forest declares the external-collaborator surface that
// spec.md §6 treats as out of scope: the region-tree forest, the
// mapper, and the event runtime. The trace/template subsystem only
// ever holds non-owning references to views and equivalence sets
// borrowed from the forest (spec §9 "Ownership"); this package exists
// so the rest of the module can be built and tested against a small,
// honest interface instead of reaching into a real distributed
// runtime.
//
// A Simulated* implementation is provided for tests and cmd/tracectl;
// it is not part of the specified subsystem.
package forest

import (
	"context"

	"github.com/adalundhe/retrace/core/condition"
	"github.com/adalundhe/retrace/core/traceid"
)

// IndexSpaceExpression is an opaque reference to an index-space
// expression; the template never interprets it, only threads it
// through to IssueCopy/IssueFill.
type IndexSpaceExpression struct {
	Opaque uint64
}

// CopySpec describes a copy's field-level source/destination vectors.
type CopySpec struct {
	SrcFields []int
	DstFields []int
	SrcView   condition.View
	DstView   condition.View
	Reduction bool
}

// FillSpec describes a fill's destination fields and payload bytes.
type FillSpec struct {
	DstFields []int
	DstView   condition.View
	Bytes     []byte
}

// TaskDescriptor is the opaque task context handed to the mapper.
type TaskDescriptor struct {
	Op        traceid.OperationHandle
	TraceLoc  traceid.TraceLocalID
	Variants  []string
}

// MapTaskOutput freezes a mapper's decision: chosen variant, priority,
// post-map flag, target processors and physical instances (spec
// §4.D.1 record_mapper_output).
type MapTaskOutput struct {
	Variant         string
	Priority        int
	PostMap         bool
	TargetProcs     []string
	ChosenInstances []condition.View
}

// EventID is an opaque, comparable event identifier. The template
// never inspects internal fields, only compares for equality and
// passes events back to the event runtime (spec §6).
type EventID struct {
	Opaque uint64
}

// RegionForest is consumed to resolve region requirements into current
// valid (view, equivalence-set, mask) triples, and to issue copies and
// fills against an index-space expression (spec §6).
type RegionForest interface {
	condition.Forest

	IssueCopy(ctx context.Context, expr IndexSpaceExpression, spec CopySpec, pre traceid.EventSlot) (EventID, error)
	IssueFill(ctx context.Context, expr IndexSpaceExpression, spec FillSpec, pre traceid.EventSlot) (EventID, error)
	IssueIndirect(ctx context.Context, expr IndexSpaceExpression, spec CopySpec, pre traceid.EventSlot) (EventID, error)

	// Subscribe registers an invalidator that is notified when the region tree mutates
	// in a way a template cannot express (new partitions, instance
	// migration), per spec §4.A invalidate_trace_cache.
	Subscribe(invalidator func(reason string))
}

// Mapper is consumed only during recording; nothing during replay
// (spec §6 "Consumed from the mapper").
type Mapper interface {
	MapTask(ctx context.Context, task TaskDescriptor) (MapTaskOutput, error)
}

// EventRuntime is consumed from the event framework (spec §6
// "Consumed from the event runtime"). Every replay rebinds a fresh
// array of real events onto the same dense slot numbering recorded
// during capture.
type EventRuntime interface {
	CreateUserEvent() EventID
	TriggerEvent(u, e EventID)
	MergeEvents(set []EventID) EventID
	GetTermEvent(op traceid.OperationHandle) EventID
}
