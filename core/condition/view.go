// Package condition implements the view/equivalence-set model of
// spec.md §4.E: an abstraction over who reads and who writes which
// fields of which instance view over which sub-extent, used to
// validate replay preconditions and postconditions.
package condition

import "fmt"

// RegionTreeID identifies the region tree a view belongs to.
type RegionTreeID uint64

// View is an abstract identifier of a physical data placement (an
// instance view). It carries a region-tree id and can be queried for
// field ownership by the forest.
type View struct {
	ID           uint64
	RegionTreeID RegionTreeID
}

func (v View) String() string {
	return fmt.Sprintf("view#%d@tree%d", v.ID, v.RegionTreeID)
}

// EquivalenceSetID is an opaque identifier grouping sub-extents of a
// region by uniform valid-data state.
type EquivalenceSetID uint64
