package traceid

// DependenceType enumerates the relationship between two region
// requirements that touch the same data (spec §3 "Dependence record").
type DependenceType int

const (
	DependenceTrue DependenceType = iota
	DependenceAnti
	DependenceAtomic
	DependenceSimultaneous
	DependenceNone
)

func (d DependenceType) String() string {
	switch d {
	case DependenceTrue:
		return "true"
	case DependenceAnti:
		return "anti"
	case DependenceAtomic:
		return "atomic"
	case DependenceSimultaneous:
		return "simultaneous"
	default:
		return "no-dependence"
	}
}

// DependenceRecord is (op_index, prev_req_idx, next_req_idx,
// validates?, dtype, field_mask) per spec §3. prev/next are -1 when
// the dependence is not region-specific.
type DependenceRecord struct {
	OpIndex    int
	PrevReqIdx int
	NextReqIdx int
	Validates  bool
	DType      DependenceType
	Mask       FieldMask
}

// sameKey reports whether two records share everything but the mask,
// the precondition for merging (spec §3: "Two records with identical
// tuple except mask may be merged by OR-ing masks").
func (d DependenceRecord) sameKey(other DependenceRecord) bool {
	return d.OpIndex == other.OpIndex &&
		d.PrevReqIdx == other.PrevReqIdx &&
		d.NextReqIdx == other.NextReqIdx &&
		d.Validates == other.Validates &&
		d.DType == other.DType
}

// Merge ORs other's mask into d if the rest of the tuple matches,
// returning the merged record and true. If the tuples differ, Merge
// returns d unchanged and false so the caller appends other as a
// distinct record instead.
func (d DependenceRecord) Merge(other DependenceRecord) (DependenceRecord, bool) {
	if !d.sameKey(other) {
		return d, false
	}
	d.Mask = d.Mask.Or(other.Mask)
	return d, true
}

// MergeDependenceRecords appends rec to records, merging it into an
// existing matching entry by OR-ing masks rather than appending a
// duplicate tuple.
func MergeDependenceRecords(records []DependenceRecord, rec DependenceRecord) []DependenceRecord {
	for i, existing := range records {
		if merged, ok := existing.Merge(rec); ok {
			records[i] = merged
			return records
		}
	}
	return append(records, rec)
}

// AliasChildren marks a pair of region requirements of a single
// operation that alias at a given tree depth but do not interfere
// (spec §3 "Alias children").
type AliasChildren struct {
	ReqIndex int
	Depth    int
	Mask     FieldMask
}
