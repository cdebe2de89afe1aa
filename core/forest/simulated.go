package forest

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/adalundhe/retrace/core/condition"
	"github.com/adalundhe/retrace/core/traceid"
)

// Simulated is an in-memory stand-in for the region-tree forest, the
// mapper and the event runtime, used by tests and cmd/tracectl. It is
// not part of the specified subsystem (spec §6 treats all three as
// external collaborators); it exists so the rest of the module can be
// exercised without a real distributed runtime, the way the teacher
// pack's mockDispatcher exercises core/dag without a real agent.
type Simulated struct {
	mu sync.Mutex

	nextEvent  uint64
	views      map[int][]condition.ViewCondition // keyed by region requirement index
	mapperOut  MapTaskOutput
	invalidate []func(reason string)

	// accessLog records (view, writer?) pairs in the order IssueCopy/
	// IssueFill observed them, exposed through AccessLog; the
	// instruction tests check that copies and fills append to it.
	accessLog []Access
}

// Access is one recorded touch of a view by an issued instruction.
type Access struct {
	View  condition.View
	Write bool
	Pre   traceid.EventSlot
}

// NewSimulated returns a ready-to-use Simulated forest/mapper/event
// runtime triple.
func NewSimulated() *Simulated {
	return &Simulated{
		views: make(map[int][]condition.ViewCondition),
		mapperOut: MapTaskOutput{
			Variant:     "default",
			TargetProcs: []string{"proc0"},
		},
	}
}

// SetViews registers the (view, eq, mask) triples CurrentValidViews
// should return for a given region requirement index.
func (s *Simulated) SetViews(reqIndex int, views []condition.ViewCondition) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.views[reqIndex] = views
}

// CurrentValidViews implements condition.Forest.
func (s *Simulated) CurrentValidViews(_ context.Context, req condition.RegionRequirement, _ condition.VersionInfo) ([]condition.ViewCondition, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]condition.ViewCondition(nil), s.views[req.Index]...), nil
}

// IssueCopy implements RegionForest.
func (s *Simulated) IssueCopy(_ context.Context, _ IndexSpaceExpression, spec CopySpec, pre traceid.EventSlot) (EventID, error) {
	s.record(spec.SrcView, false, pre)
	s.record(spec.DstView, true, pre)
	return s.newEvent(), nil
}

// IssueFill implements RegionForest.
func (s *Simulated) IssueFill(_ context.Context, _ IndexSpaceExpression, spec FillSpec, pre traceid.EventSlot) (EventID, error) {
	s.record(spec.DstView, true, pre)
	return s.newEvent(), nil
}

// IssueIndirect implements RegionForest.
func (s *Simulated) IssueIndirect(ctx context.Context, expr IndexSpaceExpression, spec CopySpec, pre traceid.EventSlot) (EventID, error) {
	return s.IssueCopy(ctx, expr, spec, pre)
}

// Subscribe implements RegionForest.
func (s *Simulated) Subscribe(invalidator func(reason string)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.invalidate = append(s.invalidate, invalidator)
}

// Invalidate notifies every subscriber that the tree mutated, as a
// real forest would when a new partition or instance migration makes
// a template inexpressible.
func (s *Simulated) Invalidate(reason string) {
	s.mu.Lock()
	handlers := append([]func(string){}, s.invalidate...)
	s.mu.Unlock()
	for _, h := range handlers {
		h(reason)
	}
}

// MapTask implements Mapper.
func (s *Simulated) MapTask(_ context.Context, _ TaskDescriptor) (MapTaskOutput, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.mapperOut, nil
}

// SetMapperOutput overrides the canned mapper decision.
func (s *Simulated) SetMapperOutput(out MapTaskOutput) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.mapperOut = out
}

// CreateUserEvent implements EventRuntime.
func (s *Simulated) CreateUserEvent() EventID { return s.newEvent() }

// TriggerEvent implements EventRuntime; the simulated runtime has no
// internal event graph to update, it only needs equality semantics.
func (s *Simulated) TriggerEvent(_, _ EventID) {}

// MergeEvents implements EventRuntime by minting a fresh id standing
// in for the merged event.
func (s *Simulated) MergeEvents(_ []EventID) EventID { return s.newEvent() }

// GetTermEvent implements EventRuntime.
func (s *Simulated) GetTermEvent(_ traceid.OperationHandle) EventID { return s.newEvent() }

func (s *Simulated) newEvent() EventID {
	return EventID{Opaque: atomic.AddUint64(&s.nextEvent, 1)}
}

func (s *Simulated) record(v condition.View, write bool, pre traceid.EventSlot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.accessLog = append(s.accessLog, Access{View: v, Write: write, Pre: pre})
}

// AccessLog returns a snapshot of every recorded view access, in the
// order IssueCopy/IssueFill observed them.
func (s *Simulated) AccessLog() []Access {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Access(nil), s.accessLog...)
}
