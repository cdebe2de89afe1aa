package condition

import "github.com/adalundhe/retrace/core/traceid"

// eqEntry maps an equivalence set to the fields of it that are valid.
type eqEntry map[EquivalenceSetID]traceid.FieldMask

// Set is a mapping View -> { EquivalenceSet -> FieldMask }, per spec
// §4.E. Two such maps form a template's pre and post condition sets.
// Set carries no lock: it is owned by a single Template during
// recording and is read-only thereafter (see core/template).
type Set struct {
	entries map[View]eqEntry

	// refined tracks whether any (view, eq) pair was invalidated since
	// capture, backing HasRefinements.
	refined bool
}

// New returns an empty condition set.
func New() *Set {
	return &Set{entries: make(map[View]eqEntry)}
}

// Insert ORs mask into the (view, eq) entry, per spec §4.E. Repeated
// inserts of the same (view, eq) are idempotent under union:
// insert(v,e,m1); insert(v,e,m2) == insert(v,e,m1|m2).
func (s *Set) Insert(v View, eq EquivalenceSetID, mask traceid.FieldMask) {
	byEq, ok := s.entries[v]
	if !ok {
		byEq = make(eqEntry)
		s.entries[v] = byEq
	}
	existing := byEq[eq]
	byEq[eq] = existing.Or(mask)
}

// Invalidate subtracts mask from the (view, eq) entry; empty entries
// are removed. Marks the set as refined for HasRefinements.
func (s *Set) Invalidate(v View, eq EquivalenceSetID, mask traceid.FieldMask) {
	byEq, ok := s.entries[v]
	if !ok {
		return
	}
	existing, ok := byEq[eq]
	if !ok {
		return
	}
	s.refined = true
	remaining := existing.Sub(mask)
	if remaining.IsEmpty() {
		delete(byEq, eq)
		if len(byEq) == 0 {
			delete(s.entries, v)
		}
		return
	}
	byEq[eq] = remaining
}

// Dominates reports whether every (view, eq, field) in the argument is
// present in s; maskOut receives the non-dominated residual, useful
// for precondition-failure diagnostics.
func (s *Set) Dominates(v View, eq EquivalenceSetID, mask traceid.FieldMask) (bool, traceid.FieldMask) {
	byEq, ok := s.entries[v]
	if !ok {
		return mask.IsEmpty(), mask.Clone()
	}
	have, ok := byEq[eq]
	if !ok {
		return mask.IsEmpty(), mask.Clone()
	}
	if have.Dominates(mask) {
		return true, traceid.NewFieldMask(0)
	}
	return false, mask.Sub(have)
}

// SubsumedBy reports whether every (view, eq, mask) triple in s is
// dominated by other, the replayability condition of spec §4.D.2:
// "post.subsumed_by(pre)".
func (s *Set) SubsumedBy(other *Set) bool {
	for v, byEq := range s.entries {
		for eq, mask := range byEq {
			if mask.IsEmpty() {
				continue
			}
			if ok, _ := other.Dominates(v, eq, mask); !ok {
				return false
			}
		}
	}
	return true
}

// HasRefinements reports whether any equivalence set has been refined
// (invalidated) since the template's capture, used as a quick-reject
// in precondition checks.
func (s *Set) HasRefinements() bool {
	return s.refined
}

// Triples iterates every (view, eq, mask) entry currently in the set.
// Used by TraceConditionSet when installing pre/postconditions on the
// forest, and by tests.
func (s *Set) Triples(fn func(View, EquivalenceSetID, traceid.FieldMask)) {
	for v, byEq := range s.entries {
		for eq, mask := range byEq {
			fn(v, eq, mask)
		}
	}
}

// IsEmpty reports whether the set has no entries.
func (s *Set) IsEmpty() bool {
	return len(s.entries) == 0
}

// Clone returns a deep copy, used when capturing post-conditions as a
// snapshot distinct from the live pre-condition set being mutated.
func (s *Set) Clone() *Set {
	out := New()
	out.refined = s.refined
	for v, byEq := range s.entries {
		clone := make(eqEntry, len(byEq))
		for eq, mask := range byEq {
			clone[eq] = mask.Clone()
		}
		out.entries[v] = clone
	}
	return out
}
