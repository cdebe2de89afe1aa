package traceid

import (
	"strconv"
	"strings"

	"github.com/bits-and-blooms/bitset"
)

// FieldMask is a bitset over the field space of a region. It wraps
// bits-and-blooms/bitset rather than a hand-rolled uint64 mask so
// region trees with more than 64 fields are representable, matching
// the teacher pack's own choice of a real bitset library wherever a
// "mask over N things" appears.
type FieldMask struct {
	bits *bitset.BitSet
}

// NewFieldMask returns an empty mask sized to hold at least n fields.
func NewFieldMask(n uint) FieldMask {
	return FieldMask{bits: bitset.New(n)}
}

// FieldMaskFromBits builds a mask from explicit field indices.
func FieldMaskFromBits(fields ...uint) FieldMask {
	m := NewFieldMask(0)
	for _, f := range fields {
		m.Set(f)
	}
	return m
}

func (m *FieldMask) ensure() {
	if m.bits == nil {
		m.bits = bitset.New(0)
	}
}

// Set marks field as present in the mask.
func (m *FieldMask) Set(field uint) {
	m.ensure()
	m.bits.Set(field)
}

// Clear removes field from the mask.
func (m *FieldMask) Clear(field uint) {
	m.ensure()
	m.bits.Clear(field)
}

// Test reports whether field is present.
func (m FieldMask) Test(field uint) bool {
	if m.bits == nil {
		return false
	}
	return m.bits.Test(field)
}

// IsEmpty reports whether no field is set.
func (m FieldMask) IsEmpty() bool {
	return m.bits == nil || m.bits.None()
}

// Count returns the number of set fields.
func (m FieldMask) Count() uint {
	if m.bits == nil {
		return 0
	}
	return m.bits.Count()
}

// Or returns the union of m and other, used when two dependence
// records merge (spec §3 "Two records with identical tuple except
// mask may be merged by OR-ing masks").
func (m FieldMask) Or(other FieldMask) FieldMask {
	if m.bits == nil {
		return other.Clone()
	}
	if other.bits == nil {
		return m.Clone()
	}
	return FieldMask{bits: m.bits.Union(other.bits)}
}

// And returns the intersection of m and other.
func (m FieldMask) And(other FieldMask) FieldMask {
	if m.bits == nil || other.bits == nil {
		return NewFieldMask(0)
	}
	return FieldMask{bits: m.bits.Intersection(other.bits)}
}

// Sub returns the fields in m that are not in other, used by
// condition.Set.Invalidate to subtract a mask from an entry.
func (m FieldMask) Sub(other FieldMask) FieldMask {
	if m.bits == nil {
		return NewFieldMask(0)
	}
	if other.bits == nil {
		return m.Clone()
	}
	return FieldMask{bits: m.bits.SymmetricDifference(other.bits).Intersection(m.bits)}
}

// Dominates reports whether every field set in other is also set in m.
func (m FieldMask) Dominates(other FieldMask) bool {
	if other.bits == nil || other.bits.None() {
		return true
	}
	if m.bits == nil {
		return false
	}
	return other.bits.Difference(m.bits).None()
}

// Equal reports whether m and other have identical set fields.
func (m FieldMask) Equal(other FieldMask) bool {
	switch {
	case m.bits == nil && other.bits == nil:
		return true
	case m.bits == nil:
		return other.bits.None()
	case other.bits == nil:
		return m.bits.None()
	default:
		return m.bits.SymmetricDifference(other.bits).None()
	}
}

// Clone returns an independent copy of the mask.
func (m FieldMask) Clone() FieldMask {
	if m.bits == nil {
		return FieldMask{}
	}
	return FieldMask{bits: m.bits.Clone()}
}

// String renders the mask as a compact bit list, for debugging.
func (m FieldMask) String() string {
	if m.bits == nil {
		return "{}"
	}
	return m.bits.String()
}

// Fingerprint renders the set bits as a comparable string key, used
// where a FieldMask needs to participate in a map key (bitset.BitSet
// itself is not comparable). Two masks with the same set bits produce
// the same fingerprint regardless of how they were constructed.
func (m FieldMask) Fingerprint() string {
	if m.bits == nil {
		return ""
	}
	var sb strings.Builder
	for i, ok := m.bits.NextSet(0); ok; i, ok = m.bits.NextSet(i + 1) {
		sb.WriteString(strconv.FormatUint(uint64(i), 10))
		sb.WriteByte(',')
	}
	return sb.String()
}
