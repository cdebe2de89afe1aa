package traceops

import (
	"sync"

	"github.com/adalundhe/retrace/core/tracecache"
	"github.com/adalundhe/retrace/core/traceerr"
)

// seqState tracks where a given (context, trace) pair sits in the
// Begin ≺ Replay ≺ ops ≺ Complete ≺ Summary* ordering invariant of
// spec.md §4.C. Replay/Complete/Summary recur per iteration once a
// trace has been begun; Begin itself must happen exactly once.
type seqState int

const (
	seqUnstarted seqState = iota
	seqBegun
	seqInIteration
	seqAfterComplete
)

type seqKey struct {
	ctx tracecache.ContextID
	id  tracecache.TraceID
}

// Sequencer enforces the ordering invariant across trace-control
// operations. A violation is an internal scheduling bug, not a
// recoverable fault, so it raises a fatal invariant violation per
// spec §7 rather than returning an error.
type Sequencer struct {
	mu     sync.Mutex
	states map[seqKey]seqState
}

// NewSequencer constructs an empty Sequencer.
func NewSequencer() *Sequencer {
	return &Sequencer{states: make(map[seqKey]seqState)}
}

// checkAndAdvance validates that kind is legal given the current state
// for (ctx, id), advances the state, and panics via traceerr.Panic on
// an out-of-order call.
func (s *Sequencer) checkAndAdvance(ctx tracecache.ContextID, id tracecache.TraceID, kind OpKind) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := seqKey{ctx: ctx, id: id}
	cur := s.states[key]

	next, ok := transition(cur, kind)
	if !ok {
		traceerr.Panic("trace-control operation out of order: " + kind.String() + " in state " + cur.String())
	}
	s.states[key] = next
}

// reset drops sequencing state for (ctx, id), used when a trace is
// destroyed so a reused trace id starts clean.
func (s *Sequencer) reset(ctx tracecache.ContextID, id tracecache.TraceID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.states, seqKey{ctx: ctx, id: id})
}

func transition(cur seqState, kind OpKind) (seqState, bool) {
	switch kind {
	case OpKindBegin:
		if cur == seqUnstarted {
			return seqBegun, true
		}
	case OpKindReplay:
		if cur == seqBegun || cur == seqAfterComplete {
			return seqInIteration, true
		}
	case OpKindCaptureComplete:
		if cur == seqInIteration {
			return seqInIteration, true
		}
	case OpKindComplete:
		if cur == seqInIteration {
			return seqAfterComplete, true
		}
	case OpKindSummary:
		if cur == seqAfterComplete {
			return seqAfterComplete, true
		}
	}
	return cur, false
}

func (s seqState) String() string {
	switch s {
	case seqUnstarted:
		return "unstarted"
	case seqBegun:
		return "begun"
	case seqInIteration:
		return "in-iteration"
	case seqAfterComplete:
		return "after-complete"
	default:
		return "unknown"
	}
}
