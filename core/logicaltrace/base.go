package logicaltrace

import "github.com/adalundhe/retrace/core/traceid"

// base holds the fields common to StaticTrace and DynamicTrace:
// the operation list, frontier set and state machine. It is embedded,
// not exported, since the public contract is the LogicalTrace
// interface (spec §9: "keep HOW, replace WHAT", the teacher pack
// favors small embeddable structs over deep inheritance chains).
type base struct {
	ops          []opEntry
	state        State
	blockingCall bool
	frontier     map[int]struct{} // positions with no registered successor yet
}

func newBase() base {
	return base{
		frontier: make(map[int]struct{}),
	}
}

func (b *base) State() State         { return b.state }
func (b *base) SetStateRecord()      { b.state = PhysicalRecord }
func (b *base) SetStateReplay()      { b.state = PhysicalReplay }
func (b *base) IsRecording() bool    { return b.state == PhysicalRecord }
func (b *base) IsReplaying() bool    { return b.state == PhysicalReplay }
func (b *base) ClearBlockingCall()   { b.blockingCall = false }
func (b *base) RecordBlockingCall()  { b.blockingCall = true }
func (b *base) HasBlockingCall() bool { return b.blockingCall }
func (b *base) OperationCount() int  { return len(b.ops) }

func (b *base) AliasedChildren(pos int) []traceid.AliasChildren {
	if pos < 0 || pos >= len(b.ops) {
		return nil
	}
	return b.ops[pos].aliased
}

func (b *base) Dependences(pos int) []traceid.DependenceRecord {
	if pos < 0 || pos >= len(b.ops) {
		return nil
	}
	return b.ops[pos].dependences
}

// appendOperation appends a fresh entry during capture and marks it as
// the new frontier member, since until something depends on it, it is
// a candidate last-writer.
func (b *base) appendOperation(handle traceid.OperationHandle) int {
	pos := len(b.ops)
	b.ops = append(b.ops, opEntry{handle: handle})
	b.frontier[pos] = struct{}{}
	return pos
}

// recordDependenceOnto removes target from the frontier (it now has a
// registered successor) and appends the dependence record to the
// current (source) operation's list.
func (b *base) recordDependenceOnto(sourcePos, targetPos int, rec traceid.DependenceRecord) {
	delete(b.frontier, targetPos)
	if sourcePos < 0 || sourcePos >= len(b.ops) {
		return
	}
	b.ops[sourcePos].dependences = traceid.MergeDependenceRecords(b.ops[sourcePos].dependences, rec)
}

// frontierPositions returns the current frontier set in ascending
// order, used by EndTraceExecution.
func (b *base) frontierPositions() []int {
	out := make([]int, 0, len(b.frontier))
	for pos := range b.frontier {
		out = append(out, pos)
	}
	// simple insertion sort: frontier sets are small in practice and
	// this keeps EndTraceExecution deterministic without pulling in
	// sort for a handful of ints.
	for i := 1; i < len(out); i++ {
		for j := i; j > 0 && out[j-1] > out[j]; j-- {
			out[j-1], out[j] = out[j], out[j-1]
		}
	}
	return out
}

// EndTraceExecution walks the frontier and registers each member as a
// dependence on fencePos, per spec §4.B.
func (b *base) EndTraceExecution(fencePos int) {
	for _, pos := range b.frontierPositions() {
		rec := traceid.DependenceRecord{
			OpIndex:    pos,
			PrevReqIdx: -1,
			NextReqIdx: -1,
			DType:      traceid.DependenceTrue,
		}
		if fencePos >= 0 && fencePos < len(b.ops) {
			b.ops[fencePos].dependences = traceid.MergeDependenceRecords(b.ops[fencePos].dependences, rec)
		}
	}
	b.frontier = make(map[int]struct{})
}
