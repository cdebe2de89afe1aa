package condition

import (
	"context"

	"github.com/adalundhe/retrace/core/traceid"
)

// RegionRequirement identifies which region and fields an operation
// touches; opaque beyond what the forest needs to resolve current
// valid views.
type RegionRequirement struct {
	Index        int
	RegionTreeID RegionTreeID
	Fields       traceid.FieldMask
}

// VersionInfo is an opaque, forest-owned token describing the version
// state a region requirement was resolved against. The template
// treats it as a black box it stores and later hands back.
type VersionInfo struct {
	Opaque uint64
}

// ViewCondition is one (view, equivalence-set, mask) triple as
// returned by the forest for a region requirement (spec §6 "Consumed
// from the region-tree forest").
type ViewCondition struct {
	View  View
	Eq    EquivalenceSetID
	Mask  traceid.FieldMask
	Write bool
}

// Forest is the slice of the region-tree forest that the view/
// condition model needs: resolving a region requirement's currently
// valid views. Declared here (rather than imported from core/forest)
// so this package stays a leaf with no dependency on the external
// collaborator package; core/forest's RegionForest implementation
// satisfies this interface structurally.
type Forest interface {
	CurrentValidViews(ctx context.Context, req RegionRequirement, version VersionInfo) ([]ViewCondition, error)
}

// TraceConditionSet layers make_ready/require/ensure over a Set, per
// spec §4.E: it fetches current version info from the forest, caches
// it, and installs the cached views/version_infos as pre- or post-
// conditions.
type TraceConditionSet struct {
	forest Forest
	req    RegionRequirement

	ready   bool
	version VersionInfo
	views   []ViewCondition
}

// NewTraceConditionSet builds a condition set bound to one region
// requirement, lazily resolved against the forest on first MakeReady.
func NewTraceConditionSet(forest Forest, req RegionRequirement) *TraceConditionSet {
	return &TraceConditionSet{forest: forest, req: req}
}

// MakeReady fetches and caches the current version info and views
// from the forest. Subsequent calls with the same version are no-ops;
// a call with a different version queries the forest again.
func (t *TraceConditionSet) MakeReady(ctx context.Context, version VersionInfo) error {
	if t.ready && t.version == version {
		return nil
	}
	views, err := t.forest.CurrentValidViews(ctx, t.req, version)
	if err != nil {
		return err
	}
	t.version = version
	t.views = views
	t.ready = true
	return nil
}

// Require installs the cached views/version_infos as preconditions the
// scheduler must respect before op runs, merging them into pre.
func (t *TraceConditionSet) Require(pre *Set) {
	for _, vc := range t.views {
		pre.Insert(vc.View, vc.Eq, vc.Mask)
	}
}

// Ensure installs the cached views/version_infos as postconditions on
// the invalidator, merging them into post.
func (t *TraceConditionSet) Ensure(post *Set) {
	for _, vc := range t.views {
		post.Insert(vc.View, vc.Eq, vc.Mask)
	}
}

// Invalidate drops the cached resolution, forcing the next MakeReady
// to re-query the forest.
func (t *TraceConditionSet) Invalidate() {
	t.ready = false
	t.views = nil
}
